// Package fitstest assembles small FITS files in memory for tests.
package fitstest

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
	"strings"
)

const (
	blockSize = 2880
	cardSize  = 80
)

// Card is a header record. A nil Value writes a commentary card when the key
// is COMMENT or HISTORY and an undefined-value card otherwise.
type Card struct {
	Key     string
	Value   any
	Comment string
}

// Image returns a single-HDU FITS file holding a width x height array. data
// is in FITS order (row 0 first) and is encoded with the given BITPIX.
func Image(bitpix, width, height int, data []float64, cards ...Card) []byte {
	var buf bytes.Buffer

	header := []Card{
		{Key: "SIMPLE", Value: true, Comment: "conforms to FITS standard"},
		{Key: "BITPIX", Value: bitpix},
		{Key: "NAXIS", Value: 2},
		{Key: "NAXIS1", Value: width},
		{Key: "NAXIS2", Value: height},
	}
	header = append(header, cards...)
	for _, c := range header {
		buf.WriteString(formatCard(c))
	}
	buf.WriteString(pad("END", cardSize))
	padBlock(&buf, ' ')

	for _, v := range data {
		writeSample(&buf, bitpix, v)
	}
	padBlock(&buf, 0)

	return buf.Bytes()
}

// Gradient returns width*height samples increasing along both axes.
func Gradient(width, height int) []float64 {
	out := make([]float64, width*height)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			out[y*width+x] = float64(x*3 + y*7 + (x*y)%11)
		}
	}
	return out
}

func formatCard(c Card) string {
	key := strings.ToUpper(c.Key)
	if key == "COMMENT" || key == "HISTORY" {
		return pad(fmt.Sprintf("%-8s%s", key, c.Comment), cardSize)
	}

	var value string
	switch v := c.Value.(type) {
	case nil:
		value = strings.Repeat(" ", 20)
	case bool:
		value = fmt.Sprintf("%20s", map[bool]string{true: "T", false: "F"}[v])
	case int:
		value = fmt.Sprintf("%20d", v)
	case float64:
		s := strconv.FormatFloat(v, 'G', -1, 64)
		if !strings.ContainsAny(s, ".E") {
			s += ".0"
		}
		value = fmt.Sprintf("%20s", s)
	case string:
		quoted := "'" + fmt.Sprintf("%-8s", strings.ReplaceAll(v, "'", "''")) + "'"
		value = fmt.Sprintf("%-20s", quoted)
	default:
		value = fmt.Sprintf("%20v", v)
	}

	line := fmt.Sprintf("%-8s= %s", key, value)
	if c.Comment != "" {
		line += " / " + c.Comment
	}
	return pad(line, cardSize)
}

func writeSample(buf *bytes.Buffer, bitpix int, v float64) {
	var b [8]byte
	switch bitpix {
	case 8:
		buf.WriteByte(byte(v))
	case 16:
		binary.BigEndian.PutUint16(b[:2], uint16(int16(v)))
		buf.Write(b[:2])
	case 32:
		binary.BigEndian.PutUint32(b[:4], uint32(int32(v)))
		buf.Write(b[:4])
	case 64:
		binary.BigEndian.PutUint64(b[:], uint64(int64(v)))
		buf.Write(b[:])
	case -32:
		binary.BigEndian.PutUint32(b[:4], math.Float32bits(float32(v)))
		buf.Write(b[:4])
	case -64:
		binary.BigEndian.PutUint64(b[:], math.Float64bits(v))
		buf.Write(b[:])
	default:
		panic(fmt.Sprintf("fitstest: unsupported BITPIX %d", bitpix))
	}
}

func pad(s string, n int) string {
	if len(s) >= n {
		return s[:n]
	}
	return s + strings.Repeat(" ", n-len(s))
}

func padBlock(buf *bytes.Buffer, fill byte) {
	rem := buf.Len() % blockSize
	if rem == 0 {
		return
	}
	buf.Write(bytes.Repeat([]byte{fill}, blockSize-rem))
}
