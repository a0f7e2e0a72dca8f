package cache

import (
	"sync"

	"github.com/fkie-cad/mtuhub/asdu"
	"github.com/fkie-cad/mtuhub/message"
)

// InterrogationEntry stores the originating interrogation command plus
// the IOA→value accumulation that builds up as the RTU answers
// (spec.md §3 "per-interrogation store").
type InterrogationEntry struct {
	Cmd    message.IECMsg
	Status MsgStatus
	Values message.ValMap
	Times  message.TsMap
}

// interrogationStore is keyed by COA alone: one in-flight interrogation
// per RTU at a time.
type interrogationStore struct {
	mu      sync.Mutex
	entries map[asdu.CommonAddr]*InterrogationEntry
}

func newInterrogationStore() *interrogationStore {
	return &interrogationStore{entries: make(map[asdu.CommonAddr]*InterrogationEntry)}
}

// InsertNewActive starts tracking a new interrogation for coa.
func (s *interrogationStore) InsertNewActive(coa asdu.CommonAddr, e *InterrogationEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.entries[coa]; exists {
		return ErrCollision
	}
	s.entries[coa] = e
	return nil
}

// Lookup returns the in-flight interrogation entry for coa, if any.
func (s *interrogationStore) Lookup(coa asdu.CommonAddr) (*InterrogationEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[coa]
	return e, ok
}

// IsReceivedAck reports whether coa's interrogation has reached
// RECEIVED_ACK — the gate spec.md §3 invariant 3 requires before any
// INTERROGATED_BY_STATION data point is accepted.
func (s *interrogationStore) IsReceivedAck(coa asdu.CommonAddr) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[coa]
	return ok && e.Status == ReceivedAck
}

// MarkConfirmed transitions coa's interrogation to RECEIVED_ACK.
func (s *interrogationStore) MarkConfirmed(coa asdu.CommonAddr) (*InterrogationEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[coa]
	if ok {
		e.Status = ReceivedAck
	}
	return e, ok
}

// Accumulate records val for ioa in coa's interrogation accumulator; the
// entry's Times map is not touched. Duplicate IOA values overwrite,
// last-write-wins (spec.md §4.B).
func (s *interrogationStore) Accumulate(coa asdu.CommonAddr, ioa asdu.InfoObjAddr, val interface{}) (*InterrogationEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[coa]
	if !ok {
		return nil, false
	}
	if e.Values == nil {
		e.Values = make(message.ValMap)
	}
	e.Values[ioa] = val
	return e, true
}

// MarkNegativelyAcked pops the entry (negative ACT_CON refuses the whole
// interrogation).
func (s *interrogationStore) MarkNegativelyAcked(coa asdu.CommonAddr) (*InterrogationEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[coa]
	if ok {
		delete(s.entries, coa)
	}
	return e, ok
}

// Clear removes coa's interrogation entry on ACT_TERM.
func (s *interrogationStore) Clear(coa asdu.CommonAddr) (*InterrogationEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[coa]
	if ok {
		delete(s.entries, coa)
	}
	return e, ok
}

func (s *interrogationStore) cleanForRTU(coa asdu.CommonAddr) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[coa]
	if !ok {
		return nil
	}
	delete(s.entries, coa)
	return []string{e.Cmd.Head().ReferenceNr}
}
