package locstats

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformedRow marks a log row with too few columns or an unparseable value.
	ErrMalformedRow = errors.New("malformed row")
	// ErrUnknownVertexReference marks a privileged vertex missing from the transform table.
	ErrUnknownVertexReference = errors.New("unknown vertex reference")
	// ErrEmptyRun marks a retained run with no usable records.
	ErrEmptyRun = errors.New("empty run")
	// ErrUnclassifiedVertex marks a vertex id no segment rule covers.
	ErrUnclassifiedVertex = errors.New("unclassified vertex")
	// ErrInvalidSegmentConfig marks malformed or non-covering segment boundaries.
	ErrInvalidSegmentConfig = errors.New("invalid segment configuration")
	// ErrInvalidConfig marks any other configuration defect.
	ErrInvalidConfig = errors.New("invalid configuration")
)

// RowError locates a parse failure in a log file. Line is 1-based and
// counts the header.
type RowError struct {
	Path   string
	Line   int
	Column int
	Err    error
}

func (e *RowError) Error() string {
	if e.Column >= 0 {
		return fmt.Sprintf("%s:%d: column %d: %v", e.Path, e.Line, e.Column, e.Err)
	}
	return fmt.Sprintf("%s:%d: %v", e.Path, e.Line, e.Err)
}

func (e *RowError) Unwrap() error { return e.Err }

// RunError attaches run and record context to an engine error. Record is
// the 0-based index of the offending record, or -1 when the failure is not
// tied to one record.
type RunError struct {
	RunIndex int
	Path     string
	Record   int
	Err      error
}

func (e *RunError) Error() string {
	msg := fmt.Sprintf("run %d", e.RunIndex)
	if e.Path != "" {
		msg += " (" + e.Path + ")"
	}
	if e.Record >= 0 {
		msg += fmt.Sprintf(" record %d", e.Record)
	}
	return msg + ": " + e.Err.Error()
}

func (e *RunError) Unwrap() error { return e.Err }
