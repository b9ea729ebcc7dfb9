package attachment

import (
	"fmt"
	"io"
)

// State is the lifecycle state of one attachment on one document instance.
type State int

const (
	StateEmpty State = iota
	StatePendingUpload
	StatePersisted
	StatePendingDelete
)

func (s State) String() string {
	switch s {
	case StateEmpty:
		return "empty"
	case StatePendingUpload:
		return "pending_upload"
	case StatePersisted:
		return "persisted"
	case StatePendingDelete:
		return "pending_delete"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

type pendingOp int

const (
	opNone pendingOp = iota
	opUpload
	opDelete
)

// slot holds only the unsaved intent for an attachment. Whether a slot with
// no pending work is Persisted or Empty follows from the document's
// <name>_id field, so the two can never disagree.
type slot struct {
	op           pendingOp
	source       io.Reader
	declaredType string
}

func (s *slot) state(persistedID string) State {
	switch s.op {
	case opUpload:
		return StatePendingUpload
	case opDelete:
		return StatePendingDelete
	}
	if persistedID != "" {
		return StatePersisted
	}
	return StateEmpty
}

// assign applies a caller assignment. src == nil means "assign nil".
//
//	Empty          + stream -> PendingUpload
//	Persisted      + stream -> PendingUpload (old id stays on the fields until save)
//	PendingUpload  + stream -> PendingUpload (source replaced)
//	PendingDelete  + stream -> PendingUpload
//	Persisted      + nil    -> PendingDelete
//	PendingUpload  + nil    -> PendingDelete if a persisted blob is being replaced, else Empty
//	Empty, PendingDelete + nil -> unchanged
func (s *slot) assign(src io.Reader, declaredType, persistedID string) {
	if src != nil {
		s.op = opUpload
		s.source = src
		s.declaredType = declaredType
		return
	}
	s.source = nil
	s.declaredType = ""
	if persistedID != "" {
		s.op = opDelete
		return
	}
	s.op = opNone
}

// uploaded records a successful put; the fields now carry the new blob.
func (s *slot) uploaded() {
	s.op = opNone
	s.source = nil
	s.declaredType = ""
}

// deleted records a successful delete; the fields are now null.
func (s *slot) deleted() {
	s.op = opNone
}

// rewind moves a seekable source back to its first byte.
func rewind(r io.Reader) error {
	seeker, ok := r.(io.Seeker)
	if !ok {
		return nil
	}
	if _, err := seeker.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("rewind source: %w", err)
	}
	return nil
}
