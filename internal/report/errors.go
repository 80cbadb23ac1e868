package report

// RenderError wraps a failure while producing a report document. No partial
// document is returned alongside it; the caller may retry.
type RenderError struct {
	Op  string
	Err error
}

func (e *RenderError) Error() string {
	return "render " + e.Op + ": " + e.Err.Error()
}

func (e *RenderError) Unwrap() error { return e.Err }
