package archive

import "errors"

var (
	// ErrArchiveTooLarge indicates the built archive exceeds the transport size ceiling.
	ErrArchiveTooLarge = errors.New("archive exceeds transport size limit")
	// ErrNoEntries indicates none of the source files could be added to the archive.
	ErrNoEntries = errors.New("archive has no entries")
)
