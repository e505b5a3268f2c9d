package domain

// Per-file outcomes of a batch conversion.
const (
	OutcomeSuccess      = "success"
	OutcomeRenderFailed = "render_failed"
	OutcomeError        = "error"
)

type FileStatus struct {
	FileName string   `json:"file_name"`
	Outcome  string   `json:"outcome"`
	Detail   string   `json:"detail,omitempty"`
	Entries  []string `json:"entries,omitempty"`
}

type Summary struct {
	Total        int `json:"total"`
	Succeeded    int `json:"succeeded"`
	RenderFailed int `json:"render_failed"`
	Failed       int `json:"failed"`
}

func Summarize(files []FileStatus) Summary {
	s := Summary{Total: len(files)}
	for _, f := range files {
		switch f.Outcome {
		case OutcomeSuccess:
			s.Succeeded++
		case OutcomeRenderFailed:
			s.RenderFailed++
		default:
			s.Failed++
		}
	}
	return s
}

// JobStatus maps a finished batch onto the job lifecycle: every file
// succeeded, some did, or none produced anything.
func (s Summary) JobStatus() string {
	switch {
	case s.Total > 0 && s.Succeeded == s.Total:
		return JobStatusSucceeded
	case s.Succeeded > 0 || s.RenderFailed > 0:
		return JobStatusPartial
	default:
		return JobStatusFailed
	}
}
