package cache

import (
	"testing"

	"github.com/fkie-cad/mtuhub/asdu"
	"github.com/fkie-cad/mtuhub/message"
)

func TestDataPointAtMostOneActive(t *testing.T) {
	c := New()
	key := DPKey{COA: 163, IOA: 35110}
	msg := message.ProcessInfoControl{Header: message.Header{ReferenceNr: "A_1"}, COA: 163}

	if err := c.DataPoints.InsertNewActive(key, &Entry{Msg: msg, Status: WaitingForSend}); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	if err := c.DataPoints.InsertNewActive(key, &Entry{Msg: msg, Status: WaitingForSend}); err != ErrCollision {
		t.Fatalf("want ErrCollision, got %v", err)
	}
}

func TestArchiveAndTerminate(t *testing.T) {
	c := New()
	key := DPKey{COA: 163, IOA: 35110}
	msg := message.ProcessInfoControl{Header: message.Header{ReferenceNr: "A_1"}, COA: 163}
	_ = c.DataPoints.InsertNewActive(key, &Entry{Msg: msg, Status: WaitingForSend})

	if _, ok := c.DataPoints.ArchiveAsConfirmed(key); !ok {
		t.Fatal("expected archive to succeed")
	}
	if c.DataPoints.IsActive(key) {
		t.Fatal("active entry should have moved to archived")
	}
	if _, ok := c.DataPoints.MarkTerminated(key); !ok {
		t.Fatal("expected terminate to succeed")
	}
	if _, ok := c.DataPoints.LookupIfActive(key); ok {
		t.Fatal("entry should be gone after terminate")
	}
}

// TestCleanForRTU exercises scenario S3 (spec.md §8): an RTU disconnects
// with two outstanding commands; both should be reported abandoned and
// removed.
func TestCleanForRTU(t *testing.T) {
	c := New()
	k1 := DPKey{COA: 163, IOA: 35110}
	k2 := DPKey{COA: 163, IOA: 35120}
	_ = c.DataPoints.InsertNewActive(k1, &Entry{
		Msg:    message.ProcessInfoControl{Header: message.Header{ReferenceNr: "A_1"}},
		Status: SentNoAck,
	})
	_ = c.DataPoints.InsertNewActive(k2, &Entry{
		Msg:    message.ProcessInfoControl{Header: message.Header{ReferenceNr: "A_2"}},
		Status: SentNoAck,
	})

	refs := c.CleanForRTU(163)
	if len(refs) != 2 {
		t.Fatalf("want 2 abandoned refs, got %v", refs)
	}
	if c.DataPoints.IsActive(k1) || c.DataPoints.IsActive(k2) {
		t.Fatal("entries should be removed after CleanForRTU")
	}
}

func TestGlobalStoreClockSyncToleratesOverlap(t *testing.T) {
	s := newGlobalStore()
	key := GlobalKey{COA: 163, TypeID: asdu.C_CS_NA_1}
	msg := message.SysInfoControl{Header: message.Header{ReferenceNr: "MTU_1"}}

	if err := s.InsertNewActive(key, &Entry{Msg: msg, Status: SentNoAck}); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	if _, ok := s.MarkConfirmed(key); !ok {
		t.Fatal("expected confirm to succeed")
	}
	// A second ACT_CON for clock-sync must not collide even though no
	// ACT_TERM was observed in between (spec.md §3 "Cache entries").
	if err := s.InsertNewActive(key, &Entry{Msg: msg, Status: SentNoAck}); err != nil {
		t.Fatalf("clock-sync should tolerate overlapping activation, got %v", err)
	}
}

func TestGlobalStoreNonClockSyncRejectsOverlap(t *testing.T) {
	s := newGlobalStore()
	key := GlobalKey{COA: 163, TypeID: asdu.C_IC_NA_1}
	msg := message.SysInfoControl{Header: message.Header{ReferenceNr: "MTU_1"}}

	_ = s.InsertNewActive(key, &Entry{Msg: msg, Status: SentNoAck})
	s.MarkConfirmed(key)
	if err := s.InsertNewActive(key, &Entry{Msg: msg, Status: SentNoAck}); err != ErrCollision {
		t.Fatalf("want ErrCollision for non-clock-sync overlap, got %v", err)
	}
}

func TestInterrogationGatesDataPointAcceptance(t *testing.T) {
	s := newInterrogationStore()
	coa := asdu.CommonAddr(163)
	msg := message.SysInfoControl{Header: message.Header{ReferenceNr: "MTU_42"}}

	if s.IsReceivedAck(coa) {
		t.Fatal("should not be received-ack before insert")
	}
	_ = s.InsertNewActive(coa, &InterrogationEntry{Cmd: msg, Status: SentNoAck})
	if s.IsReceivedAck(coa) {
		t.Fatal("should not be received-ack before confirmation")
	}
	s.MarkConfirmed(coa)
	if !s.IsReceivedAck(coa) {
		t.Fatal("should be received-ack after confirmation")
	}

	s.Accumulate(coa, 1, 42)
	s.Accumulate(coa, 1, 43) // last-write-wins
	e, _ := s.Lookup(coa)
	if e.Values[1] != 43 {
		t.Fatalf("want last-write-wins value 43, got %v", e.Values[1])
	}
}
