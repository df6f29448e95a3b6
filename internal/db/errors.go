package db

import (
	"errors"

	"github.com/rotisserie/eris"
)

// ErrStorage is the root of every connection or transaction failure against
// the primary or target store. Match it with errors.Is.
var ErrStorage = eris.New("storage error")

// StorageError wraps a failed storage operation.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return "db: " + e.Op + ": " + e.Err.Error()
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrStorage) true for any StorageError.
func (e *StorageError) Is(target error) bool {
	return target == ErrStorage
}

// Storage wraps err as a StorageError for op. A nil err stays nil.
func Storage(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *StorageError
	if errors.As(err, &se) {
		return eris.Wrap(err, op)
	}
	return &StorageError{Op: op, Err: err}
}
