package oracle

import (
	"errors"
	"fmt"
)

// ErrMalformedOutput marks a query whose replies never parsed into the schema.
var ErrMalformedOutput = errors.New("malformed model output")

// MalformedError carries the last unparsable reply for a query.
type MalformedError struct {
	Attempts int
	Raw      string // Last reply text
	Err      error  // Last parse error
}

func (e *MalformedError) Error() string {
	return fmt.Sprintf("malformed model output after %d attempts: %v", e.Attempts, e.Err)
}

func (e *MalformedError) Unwrap() []error {
	return []error{ErrMalformedOutput, e.Err}
}
