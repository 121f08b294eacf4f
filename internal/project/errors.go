package project

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by Resolve.
var (
	// ErrInterpreterNotFound means the configured Python interpreter does not exist.
	ErrInterpreterNotFound = errors.New("python interpreter not found")

	// ErrConfigNotFound means the pelican configuration file does not exist.
	ErrConfigNotFound = errors.New("pelican configuration not found")

	// ErrInvalidLocator means the locator is neither a directory nor a file.
	ErrInvalidLocator = errors.New("invalid project locator")
)

// FileError reports a project file that could not be read or parsed.
type FileError struct {
	Path string
	Err  error
}

func (e *FileError) Error() string {
	return fmt.Sprintf("project file %s: %v", e.Path, e.Err)
}

func (e *FileError) Unwrap() error {
	return e.Err
}
