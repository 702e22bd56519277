package archive

import (
	"errors"
	"fmt"
)

var (
	// ErrBadMagic is returned for files that are not archives.
	ErrBadMagic = errors.New("not an archive")
	// ErrUnsupportedVersion is returned for archives of an unknown format version.
	ErrUnsupportedVersion = errors.New("unsupported archive version")
	// ErrUnsupportedCodec is returned for an unknown compression codec.
	ErrUnsupportedCodec = errors.New("unsupported codec")
	// ErrInvalidRange is returned when an archive range is empty or starts below 1.
	ErrInvalidRange = errors.New("invalid revision range")
	// ErrIncomplete is returned when the source ends before the requested range.
	ErrIncomplete = errors.New("source does not cover range")
	// ErrDiscontiguous is returned when revisions or archives leave a gap.
	ErrDiscontiguous = errors.New("discontiguous revisions")
	// ErrCorrupt is returned when archive contents disagree with its header.
	ErrCorrupt = errors.New("archive corrupt")
	// ErrUnsigned is returned when a verifier is configured and the archive
	// carries no signature.
	ErrUnsigned = errors.New("archive is not signed")
	// ErrNotArchived is returned by CompactAfterArchive when no verified
	// archive covers the history from revision 1.
	ErrNotArchived = errors.New("history is not archived")
)

// VerifyError reports an archive that failed verification.
type VerifyError struct {
	Path   string
	parent error
}

func errVerify(path string, parent error) error {
	if parent == nil {
		return nil
	}

	return &VerifyError{Path: path, parent: parent}
}

// Error implements error interface.
func (e *VerifyError) Error() string {
	return fmt.Sprintf("archive %s: %s", e.Path, e.parent)
}

// Unwrap returns the reason verification failed.
func (e *VerifyError) Unwrap() error {
	return e.parent
}
