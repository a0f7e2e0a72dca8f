// Package cache implements the message cache (spec.md §3 "Cache
// entries", §4.B): the four independently-locked sub-stores tracking
// in-flight commands, interrogations and parameter activations, and the
// per-point state machine each entry moves through.
package cache

import (
	"errors"
	"sync"

	"github.com/fkie-cad/mtuhub/asdu"
	"github.com/fkie-cad/mtuhub/message"
)

// MsgStatus is a cache entry's position in its state machine (spec.md
// §3): WAITING_FOR_SEND → SENT_NO_ACK → RECEIVED_ACK → RECEIVED_TERM on
// the success path, RECEIVED_NEG_ACK terminal, IN_RTU_PROGRESS auxiliary
// for long-running global operations.
type MsgStatus int

const (
	WaitingForSend MsgStatus = iota
	SentNoAck
	ReceivedAck
	ReceivedTerm
	ReceivedNegAck
	InRTUProgress
)

func (s MsgStatus) String() string {
	switch s {
	case WaitingForSend:
		return "WAITING_FOR_SEND"
	case SentNoAck:
		return "SENT_NO_ACK"
	case ReceivedAck:
		return "RECEIVED_ACK"
	case ReceivedTerm:
		return "RECEIVED_TERM"
	case ReceivedNegAck:
		return "RECEIVED_NEG_ACK"
	case InRTUProgress:
		return "IN_RTU_PROGRESS"
	default:
		return "UNKNOWN"
	}
}

// Terminal reports whether no further transition is expected for this
// status; a terminal entry is a candidate for removal.
func (s MsgStatus) Terminal() bool {
	return s == ReceivedTerm || s == ReceivedNegAck
}

// ErrCollision is returned by InsertNewActive when the target already has
// a non-terminal entry (spec.md §3 invariant 1, §7 "Collision").
var ErrCollision = errors.New("cache: collision with active entry")

// Entry binds a message to its current state (spec.md §3 "Cache
// entries").
type Entry struct {
	Msg    message.IECMsg
	Status MsgStatus
}

// DPKey identifies a data point cache slot: (COA, IOA).
type DPKey struct {
	COA asdu.CommonAddr
	IOA asdu.InfoObjAddr
}

// dpStore is the shape shared by the per-data-point and per-parameter
// sub-stores (spec.md §4.B): an active map rejecting a second insertion,
// and an archived map for the window between ACT_CON and ACT_TERM.
type dpStore struct {
	mu       sync.Mutex
	active   map[DPKey]*Entry
	archived map[DPKey]*Entry
}

func newDPStore() *dpStore {
	return &dpStore{
		active:   make(map[DPKey]*Entry),
		archived: make(map[DPKey]*Entry),
	}
}

// LookupIfActive returns the active entry for key, if any.
func (s *dpStore) LookupIfActive(key DPKey) (*Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.active[key]
	return e, ok
}

// IsActive reports whether key has a non-terminal active entry.
func (s *dpStore) IsActive(key DPKey) bool {
	_, ok := s.LookupIfActive(key)
	return ok
}

// InsertNewActive rejects a second insertion at the same key (spec.md
// §3 invariant 1).
func (s *dpStore) InsertNewActive(key DPKey, e *Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.active[key]; exists {
		return ErrCollision
	}
	s.active[key] = e
	return nil
}

// PopActive removes and returns the active entry for key, if any.
func (s *dpStore) PopActive(key DPKey) (*Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.active[key]
	if ok {
		delete(s.active, key)
	}
	return e, ok
}

// MarkConfirmed transitions the active entry to ReceivedAck in place.
func (s *dpStore) MarkConfirmed(key DPKey) (*Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.active[key]
	if ok {
		e.Status = ReceivedAck
	}
	return e, ok
}

// ArchiveAsConfirmed moves the active entry to the archived map, used for
// the state between ACT_CON and ACT_TERM (spec.md §4.B).
func (s *dpStore) ArchiveAsConfirmed(key DPKey) (*Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.active[key]
	if !ok {
		return nil, false
	}
	e.Status = ReceivedAck
	s.archived[key] = e
	delete(s.active, key)
	return e, true
}

// MarkTerminated removes the archived entry outright (activation
// termination received).
func (s *dpStore) MarkTerminated(key DPKey) (*Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.archived[key]
	if ok {
		e.Status = ReceivedTerm
		delete(s.archived, key)
	}
	return e, ok
}

// MarkNegativelyAcked pops the active entry and marks it terminal
// (spec.md §3 invariant 4: negative ACT_CON always removes the entry).
func (s *dpStore) MarkNegativelyAcked(key DPKey) (*Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.active[key]
	if ok {
		e.Status = ReceivedNegAck
		delete(s.active, key)
	}
	return e, ok
}

// RemoveArchived deletes an archived entry without requiring termination
// — used when a command is superseded.
func (s *dpStore) RemoveArchived(key DPKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.archived, key)
}

// RemoveActive deletes an active entry unconditionally.
func (s *dpStore) RemoveActive(key DPKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.active, key)
}

// cleanForRTU removes every non-terminal entry (active or archived)
// belonging to coa and returns their reference numbers (spec.md §4.B
// "clean-for-rtu").
func (s *dpStore) cleanForRTU(coa asdu.CommonAddr) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var refs []string
	for k, e := range s.active {
		if k.COA == coa {
			refs = append(refs, e.Msg.Head().ReferenceNr)
			delete(s.active, k)
		}
	}
	for k, e := range s.archived {
		if k.COA == coa {
			refs = append(refs, e.Msg.Head().ReferenceNr)
			delete(s.archived, k)
		}
	}
	return refs
}

func (s *dpStore) snapshot() map[DPKey]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[DPKey]string, len(s.active))
	for k, e := range s.active {
		out[k] = e.Status.String()
	}
	return out
}
