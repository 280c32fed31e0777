package store

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrNotFound is returned when a looked-up record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrInvalidRecord is returned for records that violate the data model.
	ErrInvalidRecord = errors.New("invalid record")
	// ErrSchemaTooNew means the database was written by a newer schema.
	ErrSchemaTooNew = errors.New("database schema is newer than this build supports")
)

// StorageError reports that the underlying medium failed: the database could
// not be opened, a write was rejected, quota ran out, or the schema is unusable.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage error [%s]: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// IsStorageError reports whether err is or wraps a *StorageError.
func IsStorageError(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}

// IsNotFound reports whether err wraps ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func storageErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Err: err}
}
