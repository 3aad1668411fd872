package export

import (
	"errors"
	"fmt"
)

// ErrExportInFlight is returned when an export is requested while
// another one is still running. The orchestrator never queues; the
// caller decides whether to retry.
var ErrExportInFlight = errors.New("export: another export is in flight")

// CaptureError is a hard failure during the capturing stage. The whole
// export aborts; no file is written.
type CaptureError struct {
	Selector string
	Err      error
}

func (e *CaptureError) Error() string {
	return fmt.Sprintf("capture %q: %v", e.Selector, e.Err)
}

func (e *CaptureError) Unwrap() error { return e.Err }

// AssemblyError is a hard failure while building or serializing the
// output document. Same abort behavior as CaptureError.
type AssemblyError struct {
	Stage string
	Err   error
}

func (e *AssemblyError) Error() string {
	return fmt.Sprintf("assembly (%s): %v", e.Stage, e.Err)
}

func (e *AssemblyError) Unwrap() error { return e.Err }
