package attachment

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrAttachmentNotFound is returned when reading an attachment that is not persisted.
	ErrAttachmentNotFound = errors.New("attachment not found")
	// ErrUnknownAttachment is returned for names outside the class catalogue.
	ErrUnknownAttachment = errors.New("unknown attachment")
	// ErrStoreUnavailable is returned when no blob store is bound to the document.
	ErrStoreUnavailable = errors.New("attachment store unavailable")
	// ErrInvalidName is wrapped by DeclarationError for malformed attachment names.
	ErrInvalidName = errors.New("invalid attachment name")
)

// DeclarationError reports a failed attachment declaration.
type DeclarationError struct {
	Class  string
	Name   string
	Reason string
	Err    error
}

func (e *DeclarationError) Error() string {
	msg := fmt.Sprintf("declare attachment %q on %s: %s", e.Name, e.Class, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *DeclarationError) Unwrap() error { return e.Err }

// StoreError wraps a blob store failure during save, read or destroy.
type StoreError struct {
	Op         string
	Attachment string
	BlobID     string
	Err        error
}

func (e *StoreError) Error() string {
	if e.BlobID == "" {
		return fmt.Sprintf("attachment %s: %s: %v", e.Attachment, e.Op, e.Err)
	}
	return fmt.Sprintf("attachment %s: %s %s: %v", e.Attachment, e.Op, e.BlobID, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// DestroyError aggregates per-attachment delete failures from one destroy.
type DestroyError struct {
	Document string
	Errs     []error
}

func (e *DestroyError) Error() string {
	parts := make([]string, 0, len(e.Errs))
	for _, err := range e.Errs {
		parts = append(parts, err.Error())
	}
	return fmt.Sprintf("destroy %s: %d attachment delete(s) failed: %s", e.Document, len(e.Errs), strings.Join(parts, "; "))
}

func (e *DestroyError) Unwrap() []error { return e.Errs }
