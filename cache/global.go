package cache

import (
	"sync"

	"github.com/fkie-cad/mtuhub/asdu"
)

// GlobalKey identifies a global-store cache slot: (COA, type-id). For
// GLOBAL_COA fan-out, COA is the queue's GlobalCommonAddr placeholder
// until fan-out resolves it into one entry per contributing RTU.
type GlobalKey struct {
	COA    asdu.CommonAddr
	TypeID asdu.TypeID
}

// globalStore is the per-global sub-store (spec.md §4.B): ordinary
// single-RTU entries for global-compatible type-ids, plus GLOBAL_COA
// fan-out bookkeeping and the clock-sync exception that tolerates
// overlapping ACT_CON without an intervening ACT_TERM.
type globalStore struct {
	mu     sync.Mutex
	active map[GlobalKey]*Entry
	// fanout tracks, per type-id, which RTUs a GLOBAL_COA command is still
	// outstanding against. Present only while a fan-out is in progress.
	fanout map[asdu.TypeID]map[asdu.CommonAddr]bool
}

func newGlobalStore() *globalStore {
	return &globalStore{
		active: make(map[GlobalKey]*Entry),
		fanout: make(map[asdu.TypeID]map[asdu.CommonAddr]bool),
	}
}

// toleratesOverlap is the clock-sync special case (spec.md §3 "Cache
// entries"): clock-sync may receive multiple ACT_CON without a preceding
// ACT_TERM, so a fresh ACT_CON must not be rejected as a collision.
func toleratesOverlap(typeID asdu.TypeID) bool {
	return typeID == asdu.C_CS_NA_1
}

// InsertNewActive inserts an ordinary (non-fan-out) global entry.
func (s *globalStore) InsertNewActive(key GlobalKey, e *Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, exists := s.active[key]; exists {
		if toleratesOverlap(key.TypeID) && existing.Status == ReceivedAck {
			s.active[key] = e
			return nil
		}
		return ErrCollision
	}
	s.active[key] = e
	return nil
}

func (s *globalStore) LookupIfActive(key GlobalKey) (*Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.active[key]
	return e, ok
}

func (s *globalStore) PopActive(key GlobalKey) (*Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.active[key]
	if ok {
		delete(s.active, key)
	}
	return e, ok
}

// MarkConfirmed transitions the entry in place; for clock-sync this may
// be called repeatedly across multiple ACT_CON.
func (s *globalStore) MarkConfirmed(key GlobalKey) (*Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.active[key]
	if ok {
		e.Status = ReceivedAck
	}
	return e, ok
}

// MarkTerminated pops the entry on activation termination.
func (s *globalStore) MarkTerminated(key GlobalKey) (*Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.active[key]
	if ok {
		e.Status = ReceivedTerm
		delete(s.active, key)
	}
	return e, ok
}

func (s *globalStore) MarkNegativelyAcked(key GlobalKey) (*Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.active[key]
	if ok {
		e.Status = ReceivedNegAck
		delete(s.active, key)
	}
	return e, ok
}

// StartFanout registers a GLOBAL_COA command as in-progress against the
// given RTUs (spec.md §4.B "single queue entry is created"). The queue
// entry itself lives at GlobalKey{GlobalCommonAddr, typeID}.
func (s *globalStore) StartFanout(typeID asdu.TypeID, queued *Entry, rtus []asdu.CommonAddr) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := GlobalKey{COA: asdu.GlobalCommonAddr, TypeID: typeID}
	if _, exists := s.active[key]; exists {
		return ErrCollision
	}
	s.active[key] = queued
	set := make(map[asdu.CommonAddr]bool, len(rtus))
	for _, coa := range rtus {
		set[coa] = true
	}
	s.fanout[typeID] = set
	return nil
}

// ActivateForRTU records that rtuCOA has answered the fan-out with its
// own outbound APDU, creating its individual entry and releasing the
// shared queue entry on the first such activation (spec.md §4.B: "the
// queue entry is released when the first RTU activation occurs").
func (s *globalStore) ActivateForRTU(typeID asdu.TypeID, rtuCOA asdu.CommonAddr, e *Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	queueKey := GlobalKey{COA: asdu.GlobalCommonAddr, TypeID: typeID}
	if _, stillQueued := s.active[queueKey]; stillQueued {
		delete(s.active, queueKey)
	}
	s.active[GlobalKey{COA: rtuCOA, TypeID: typeID}] = e
}

// CompleteFanoutRTU marks rtuCOA's contribution to a GLOBAL_COA fan-out
// as terminated. The group completes — and fanout bookkeeping is
// dropped — once every contributing RTU has terminated (spec.md §4.B:
// "the group completes when the last RTU acknowledges termination").
func (s *globalStore) CompleteFanoutRTU(typeID asdu.TypeID, rtuCOA asdu.CommonAddr) (groupDone bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.fanout[typeID]
	if !ok {
		return true
	}
	delete(set, rtuCOA)
	if len(set) == 0 {
		delete(s.fanout, typeID)
		return true
	}
	return false
}

// IsFanoutInProgress reports whether a GLOBAL_COA command for typeID is
// still awaiting contributions.
func (s *globalStore) IsFanoutInProgress(typeID asdu.TypeID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.fanout[typeID]
	return ok
}

func (s *globalStore) cleanForRTU(coa asdu.CommonAddr) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var refs []string
	for k, e := range s.active {
		if k.COA == coa {
			refs = append(refs, e.Msg.Head().ReferenceNr)
			delete(s.active, k)
		}
	}
	for typeID, set := range s.fanout {
		if set[coa] {
			delete(set, coa)
			if len(set) == 0 {
				delete(s.fanout, typeID)
			}
		}
	}
	return refs
}
