package scan

import (
	"errors"
	"fmt"
	"strings"

	"github.com/roman-kulish/emscan/internal/instrument"
	"github.com/roman-kulish/emscan/internal/instrument/testset"
	"github.com/roman-kulish/emscan/internal/motion"
	"github.com/roman-kulish/emscan/internal/sweep"
)

const (
	KindConnection  Kind = "connection"
	KindOutOfBounds Kind = "out_of_bounds"
	KindCommand     Kind = "command"
	KindMissingData Kind = "missing_data"
	KindValidation  Kind = "validation"
	KindOutput      Kind = "output"
)

var (
	// ErrBusy is returned by Start while a run is in progress.
	ErrBusy = errors.New("scan already in progress")

	// ErrAborted is returned by Run when the run was aborted on request.
	ErrAborted = errors.New("scan aborted")
)

// Kind classifies a fault.
type Kind string

func (k Kind) String() string {
	return string(k)
}

// Fault is an error that stopped, or prevented, a run.
type Fault struct {
	Kind Kind
	Op   string
	Err  error
}

func (f *Fault) Error() string {
	return fmt.Sprintf("%s fault: %s: %v", f.Kind, f.Op, f.Err)
}

func (f *Fault) Unwrap() error {
	return f.Err
}

// newFault wraps err, classifying it by the error types of the hardware and
// data packages.
func newFault(op string, err error) *Fault {
	var f *Fault
	if errors.As(err, &f) {
		return f
	}
	return &Fault{Kind: classify(err), Op: op, Err: err}
}

func classify(err error) Kind {
	var (
		motionConn *motion.ConnectionError
		instConn   *instrument.ConnectionError
		oob        *motion.OutOfBoundsError
		missing    *sweep.MissingDataError
		invalid    ValidationErrors
		port       *testset.InvalidPortError
	)

	switch {
	case errors.As(err, &oob):
		return KindOutOfBounds
	case errors.As(err, &motionConn), errors.As(err, &instConn),
		errors.Is(err, motion.ErrNotConnected), errors.Is(err, testset.ErrNotConnected):
		return KindConnection
	case errors.As(err, &missing), errors.Is(err, sweep.ErrMalformedSweep):
		return KindMissingData
	case errors.As(err, &invalid):
		return KindValidation
	case errors.As(err, &port):
		return KindCommand
	default:
		return KindCommand
	}
}

// FieldError is a single rejected input.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e FieldError) Error() string {
	return e.Field + ": " + e.Message
}

// ValidationErrors collects every rejected input of a run plan.
type ValidationErrors []FieldError

func (v ValidationErrors) Error() string {
	msgs := make([]string, len(v))
	for i, e := range v {
		msgs[i] = e.Error()
	}
	return "invalid scan plan: " + strings.Join(msgs, "; ")
}

// Has reports whether field was rejected.
func (v ValidationErrors) Has(field string) bool {
	for _, e := range v {
		if e.Field == field {
			return true
		}
	}
	return false
}

func (v *ValidationErrors) add(field, format string, args ...any) {
	*v = append(*v, FieldError{Field: field, Message: fmt.Sprintf(format, args...)})
}
