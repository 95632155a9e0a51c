package fileutils

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidFilename is returned for names that are empty or not in sanitized form.
	ErrInvalidFilename = errors.New("invalid filename")

	// ErrTraversal is returned when a resolved path leaves the upload directory.
	ErrTraversal = errors.New("path escapes upload directory")

	ErrNotFound = errors.New("file not found")

	// ErrInsufficientStorage is wrapped by a StorageError when the upload
	// directory's filesystem cannot hold the file.
	ErrInsufficientStorage = errors.New("insufficient storage")
)

// StorageError reports a failed filesystem operation on a stored file.
type StorageError struct {
	Op   string
	Name string
	Err  error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Name, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}
