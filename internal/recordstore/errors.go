package recordstore

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrNotFound matches any StoreError for a missing type or record.
var ErrNotFound = errors.New("not found")

// StoreError is a non-success response or transport failure from the record store.
type StoreError struct {
	Op      string // e.g. "list requirements"
	Status  int    // HTTP status; 0 for transport failures
	Message string // user-facing detail
	Err     error  // underlying transport error, if any
}

func (e *StoreError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: status %d: %s", e.Op, e.Status, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

func (e *StoreError) Unwrap() error { return e.Err }

// Is reports 404 errors as ErrNotFound.
func (e *StoreError) Is(target error) bool {
	return target == ErrNotFound && e.Status == http.StatusNotFound
}

func notFound(op, format string, args ...interface{}) *StoreError {
	return &StoreError{Op: op, Status: http.StatusNotFound, Message: fmt.Sprintf(format, args...)}
}

func badRequest(op, format string, args ...interface{}) *StoreError {
	return &StoreError{Op: op, Status: http.StatusBadRequest, Message: fmt.Sprintf(format, args...)}
}
