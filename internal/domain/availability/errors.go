package availability

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound                 = errors.New("not found")
	ErrNoPractitionerAssociated = errors.New("service has no practitioner associated")
)

// StorageError reports a failed read from the underlying store. It is never
// retried here.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("availability storage: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// storageErr wraps err as a StorageError unless it already is one or is a
// domain sentinel.
func storageErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *StorageError
	if errors.As(err, &se) || errors.Is(err, ErrNotFound) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}

// IsNoPractitioner reports whether err means the service cannot be booked
// because nobody delivers it.
func IsNoPractitioner(err error) bool {
	return errors.Is(err, ErrNoPractitionerAssociated)
}
