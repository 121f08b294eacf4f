package site

import "errors"

// Sentinel errors.
var (
	// ErrSiteNotFound is returned for an id that is not registered.
	ErrSiteNotFound = errors.New("site not found")

	// ErrFormatNotSupported is returned by Render for a format the site's
	// worker has no reader for.
	ErrFormatNotSupported = errors.New("format not supported")

	// ErrProjectLocked is returned by Register when another registration,
	// in this or another process, holds the project.
	ErrProjectLocked = errors.New("project is in use by another pelicide instance")
)
