package manager

import (
	"sync"
	"testing"
	"time"

	"github.com/fkie-cad/mtuhub/asdu"
	"github.com/fkie-cad/mtuhub/cache"
	"github.com/fkie-cad/mtuhub/clog"
	"github.com/fkie-cad/mtuhub/identity"
	"github.com/fkie-cad/mtuhub/message"
	"github.com/fkie-cad/mtuhub/translator"
)

type fakePublisher struct {
	mu   sync.Mutex
	msgs []message.IECMsg
}

func (f *fakePublisher) Publish(msg message.IECMsg) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, msg)
}

func (f *fakePublisher) snapshot() []message.IECMsg {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]message.IECMsg, len(f.msgs))
	copy(out, f.msgs)
	return out
}

type fakeDrainer struct {
	mu      sync.Mutex
	drained []cache.DPKey
}

func (f *fakeDrainer) DrainReleased(coa asdu.CommonAddr, ioa asdu.InfoObjAddr) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.drained = append(f.drained, cache.DPKey{COA: coa, IOA: ioa})
}

func newTestManager(window time.Duration) (*Manager, *fakePublisher, *fakeDrainer, *cache.Cache) {
	c := cache.New()
	refgen := identity.New()
	tr := translator.New(c, translator.DefaultPolicy(), refgen, clog.NewLogger("manager-test"))
	pub := &fakePublisher{}
	drainer := &fakeDrainer{}
	m := New(tr, c, pub, drainer, refgen, clog.NewLogger("manager-test"), window)
	return m, pub, drainer, c
}

// TestPeriodicAggregationGroupsByTypeID grounds scenario S5: seven
// periodic arrivals split across two type-ids flush as exactly two
// PeriodicUpdate messages.
func TestPeriodicAggregationGroupsByTypeID(t *testing.T) {
	m, pub, _, _ := newTestManager(10 * time.Millisecond)
	coa := asdu.CommonAddr(163)

	send := func(typeID asdu.TypeID, ioa asdu.InfoObjAddr, val interface{}) {
		m.OnReceiveAPDU(translator.APDU{
			TypeID: typeID,
			COT:    asdu.CauseOfTransmission{Cause: asdu.Periodic},
			COA:    coa,
			IOAs:   []asdu.InfoObjAddr{ioa},
			Values: map[asdu.InfoObjAddr]interface{}{ioa: val},
		}, coa, false)
	}

	send(13, 1, 1.0)
	send(13, 2, 2.0)
	send(13, 3, 3.0)
	send(13, 4, 4.0)
	send(9, 1, 10)
	send(9, 2, 20)
	send(9, 3, 30)

	time.Sleep(50 * time.Millisecond)

	msgs := pub.snapshot()
	var updates []message.PeriodicUpdate
	for _, msg := range msgs {
		if pu, ok := msg.(message.PeriodicUpdate); ok {
			updates = append(updates, pu)
		}
	}
	if len(updates) != 2 {
		t.Fatalf("want 2 PeriodicUpdate messages, got %d: %+v", len(updates), updates)
	}
	for _, pu := range updates {
		switch pu.TypeID {
		case 13:
			if len(pu.ValMap) != 4 {
				t.Fatalf("want 4 points for type 13, got %d", len(pu.ValMap))
			}
		case 9:
			if len(pu.ValMap) != 3 {
				t.Fatalf("want 3 points for type 9, got %d", len(pu.ValMap))
			}
		default:
			t.Fatalf("unexpected type-id in batch: %v", pu.TypeID)
		}
	}
}

// TestDisconnectCancelsOutstandingCommands grounds scenario S3 and
// invariant 3: an RTU disconnect publishes ConnectionStatusChange(false)
// then DisconnectCancelMsgsChange carrying exactly the cancelled refs.
func TestDisconnectCancelsOutstandingCommands(t *testing.T) {
	m, pub, _, c := newTestManager(DefaultAggregationWindow)
	coa := asdu.CommonAddr(163)
	_ = c.DataPoints.InsertNewActive(cache.DPKey{COA: coa, IOA: 35110}, &cache.Entry{
		Msg:    message.ProcessInfoControl{Header: message.Header{ReferenceNr: "A_1"}, COA: coa},
		Status: cache.SentNoAck,
	})
	_ = c.DataPoints.InsertNewActive(cache.DPKey{COA: coa, IOA: 35120}, &cache.Entry{
		Msg:    message.ProcessInfoControl{Header: message.Header{ReferenceNr: "A_2"}, COA: coa},
		Status: cache.SentNoAck,
	})

	m.OnConnectionChange(coa, false, "10.0.0.5", 2404)

	msgs := pub.snapshot()
	if len(msgs) != 2 {
		t.Fatalf("want 2 published messages, got %d", len(msgs))
	}
	statusChange, ok := msgs[0].(message.ConnectionStatusChange)
	if !ok || statusChange.Connected {
		t.Fatalf("want ConnectionStatusChange(connected=false) first, got %+v", msgs[0])
	}
	cancelled, ok := msgs[1].(message.DisconnectCancelMsgsChange)
	if !ok {
		t.Fatalf("want DisconnectCancelMsgsChange second, got %T", msgs[1])
	}
	if len(cancelled.CancelledRefNrs) != 2 {
		t.Fatalf("want 2 cancelled refs, got %v", cancelled.CancelledRefNrs)
	}
	if c.DataPoints.IsActive(cache.DPKey{COA: coa, IOA: 35110}) || c.DataPoints.IsActive(cache.DPKey{COA: coa, IOA: 35120}) {
		t.Fatal("entries for disconnected RTU should be removed")
	}
}

// TestConnectionUpEmitsOnlyStatusChange grounds spec.md §4.D: "If it
// comes up, only the status change is emitted."
func TestConnectionUpEmitsOnlyStatusChange(t *testing.T) {
	m, pub, _, _ := newTestManager(DefaultAggregationWindow)
	m.OnConnectionChange(163, true, "10.0.0.5", 2404)

	msgs := pub.snapshot()
	if len(msgs) != 1 {
		t.Fatalf("want exactly 1 published message, got %d", len(msgs))
	}
	if _, ok := msgs[0].(message.ConnectionStatusChange); !ok {
		t.Fatalf("want ConnectionStatusChange, got %T", msgs[0])
	}
}
