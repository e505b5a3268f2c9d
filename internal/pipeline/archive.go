package pipeline

import (
	"fmt"
	"io"
	"time"

	"github.com/klauspost/compress/zip"
)

// archiveWriter appends conversion entries to a ZIP stream. It is used by a
// single goroutine.
type archiveWriter struct {
	zw       *zip.Writer
	modified time.Time
	used     map[string]int
}

func newArchiveWriter(w io.Writer, modified time.Time) *archiveWriter {
	return &archiveWriter{
		zw:       zip.NewWriter(w),
		modified: modified,
		used:     make(map[string]int),
	}
}

// uniqueBase returns base, or base-N when an earlier file claimed it.
func (a *archiveWriter) uniqueBase(base string) string {
	a.used[base]++
	n := a.used[base]
	if n == 1 {
		return base
	}
	candidate := fmt.Sprintf("%s-%d", base, n)
	for a.used[candidate] > 0 {
		n++
		candidate = fmt.Sprintf("%s-%d", base, n)
	}
	a.used[candidate]++
	return candidate
}

// add writes {base}.png (when present) and {base}.json and returns the entry
// names.
func (a *archiveWriter) add(base string, png, meta []byte) ([]string, error) {
	base = a.uniqueBase(base)

	var names []string
	if png != nil {
		name := base + ".png"
		// PNG is already deflated.
		if err := a.write(name, png, zip.Store); err != nil {
			return names, err
		}
		names = append(names, name)
	}
	if meta != nil {
		name := base + ".json"
		if err := a.write(name, meta, zip.Deflate); err != nil {
			return names, err
		}
		names = append(names, name)
	}
	return names, nil
}

func (a *archiveWriter) write(name string, data []byte, method uint16) error {
	w, err := a.zw.CreateHeader(&zip.FileHeader{
		Name:     name,
		Method:   method,
		Modified: a.modified,
	})
	if err != nil {
		return fmt.Errorf("create entry %s: %w", name, err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write entry %s: %w", name, err)
	}
	return nil
}

func (a *archiveWriter) close() error {
	if err := a.zw.Close(); err != nil {
		return fmt.Errorf("finalize zip: %w", err)
	}
	return nil
}
