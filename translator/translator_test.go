package translator

import (
	"testing"

	"github.com/fkie-cad/mtuhub/asdu"
	"github.com/fkie-cad/mtuhub/cache"
	"github.com/fkie-cad/mtuhub/clog"
	"github.com/fkie-cad/mtuhub/message"
)

// fakeRefGen never stamps MTU-prefixed reference numbers as hub-initiated
// unless told to, so tests can pick either path explicitly.
type fakeRefGen struct {
	n          int
	hubDefault bool
}

func (f *fakeRefGen) NextMTURef() string {
	f.n++
	return "MTU_" + string(rune('0'+f.n))
}

func (f *fakeRefGen) IsHubInitiated(ref string) bool {
	return f.hubDefault
}

func newTestTranslator(policy Policy) (*Translator, *cache.Cache) {
	c := cache.New()
	tr := New(c, policy, &fakeRefGen{}, clog.NewLogger("translator-test"))
	return tr, c
}

// TestOutboundSubscriberCommandProducesConfirmation grounds scenario S1
// (spec.md §8): a subscriber-issued single write gets an immediate
// SUCCESSFUL_SEND confirmation preserving its own reference number.
func TestOutboundSubscriberCommandProducesConfirmation(t *testing.T) {
	tr, c := newTestTranslator(DefaultPolicy())
	coa := asdu.CommonAddr(163)
	ioa := asdu.InfoObjAddr(35110)
	queued := &cache.Entry{
		Msg:    message.ProcessInfoControl{Header: message.Header{ReferenceNr: "SUB_1"}, COA: coa, TypeID: asdu.C_SC_NA_1},
		Status: cache.WaitingForSend,
	}
	if err := c.DataPoints.InsertNewActive(cache.DPKey{COA: coa, IOA: ioa}, queued); err != nil {
		t.Fatalf("seed queued entry: %v", err)
	}

	apdu := APDU{TypeID: asdu.C_SC_NA_1, COT: asdu.CauseOfTransmission{Cause: asdu.Activation}, COA: coa, IOAs: []asdu.InfoObjAddr{ioa}}
	msg, err := tr.OnSendAPDU(apdu, coa)
	if err != nil {
		t.Fatalf("OnSendAPDU: %v", err)
	}
	conf, ok := msg.(message.Confirmation)
	if !ok {
		t.Fatalf("want Confirmation, got %T", msg)
	}
	if conf.ReferenceNr != "SUB_1" {
		t.Fatalf("want reference preserved, got %q", conf.ReferenceNr)
	}
	if conf.Status != message.StatusSuccessfulSend {
		t.Fatalf("want SUCCESSFUL_SEND, got %v", conf.Status)
	}
	if !c.DataPoints.IsActive(cache.DPKey{COA: coa, IOA: ioa}) {
		t.Fatal("entry should remain active after SENT_NO_ACK transition")
	}
}

// TestOutboundResendDecrementsMaxTries grounds spec.md:82 step 3:
// re-sending a still-active entry must decrement its retry budget and
// transition it to SENT_NO_ACK, not just the latter.
func TestOutboundResendDecrementsMaxTries(t *testing.T) {
	tr, c := newTestTranslator(DefaultPolicy())
	coa := asdu.CommonAddr(163)
	ioa := asdu.InfoObjAddr(35110)
	queued := &cache.Entry{
		Msg:    message.ProcessInfoControl{Header: message.Header{ReferenceNr: "SUB_1", MaxTries: 3}, COA: coa, TypeID: asdu.C_SC_NA_1},
		Status: cache.SentNoAck,
	}
	if err := c.DataPoints.InsertNewActive(cache.DPKey{COA: coa, IOA: ioa}, queued); err != nil {
		t.Fatalf("seed queued entry: %v", err)
	}

	apdu := APDU{TypeID: asdu.C_SC_NA_1, COT: asdu.CauseOfTransmission{Cause: asdu.Activation}, COA: coa, IOAs: []asdu.InfoObjAddr{ioa}}
	if _, err := tr.OnSendAPDU(apdu, coa); err != nil {
		t.Fatalf("OnSendAPDU: %v", err)
	}

	entry, ok := c.DataPoints.LookupIfActive(cache.DPKey{COA: coa, IOA: ioa})
	if !ok {
		t.Fatal("entry should remain active after resend")
	}
	if got := entry.Msg.Head().MaxTries; got != 2 {
		t.Fatalf("want MaxTries decremented to 2, got %d", got)
	}
}

// TestInboundInterrogationAggregatesDataPoints grounds scenario S4: after
// an interrogation reaches RECEIVED_ACK, every reported data point
// produces a process-info-monitoring message carrying the interrogation's
// own reference number.
func TestInboundInterrogationAggregatesDataPoints(t *testing.T) {
	tr, c := newTestTranslator(DefaultPolicy())
	coa := asdu.CommonAddr(163)
	if err := c.Global.InsertNewActive(cache.GlobalKey{COA: coa, TypeID: asdu.C_IC_NA_1}, &cache.Entry{
		Msg:    message.SysInfoControl{Header: message.Header{ReferenceNr: "MTU_1"}, COA: coa, TypeID: asdu.C_IC_NA_1},
		Status: cache.SentNoAck,
	}); err != nil {
		t.Fatalf("seed global entry: %v", err)
	}
	_ = c.Interrogation.InsertNewActive(coa, &cache.InterrogationEntry{
		Cmd:    message.SysInfoControl{Header: message.Header{ReferenceNr: "MTU_1"}, COA: coa, TypeID: asdu.C_IC_NA_1},
		Status: cache.SentNoAck,
	})

	confApdu := APDU{TypeID: asdu.C_IC_NA_1, COT: asdu.CauseOfTransmission{Cause: asdu.ActivationCon}, COA: coa, IOAs: []asdu.InfoObjAddr{0}}
	if _, _, err := tr.OnReceiveAPDU(confApdu, coa, false); err != nil {
		t.Fatalf("ACT_CON: %v", err)
	}
	if !c.Interrogation.IsReceivedAck(coa) {
		t.Fatal("interrogation should be RECEIVED_ACK after positive ACT_CON")
	}

	gateApdu := APDU{TypeID: asdu.M_SP_NA_1, COT: asdu.CauseOfTransmission{Cause: asdu.InterrogatedByStation}, COA: coa, IOAs: []asdu.InfoObjAddr{35110}}
	if _, _, err := tr.OnReceiveAPDU(gateApdu, coa, false); err != nil {
		t.Fatalf("gate check: %v", err)
	}

	dp := DataPoint{COA: coa, IOA: 35110, TypeID: asdu.M_SP_NA_1, Value: 1, Quality: Quality{Good: true}}
	msg, err := tr.OnReceiveDataPoint(dp, asdu.CauseOfTransmission{Cause: asdu.InterrogatedByStation})
	if err != nil {
		t.Fatalf("OnReceiveDataPoint: %v", err)
	}
	pim, ok := msg.(message.ProcessInfoMonitoring)
	if !ok {
		t.Fatalf("want ProcessInfoMonitoring, got %T", msg)
	}
	if pim.ReferenceNr != "MTU_1" {
		t.Fatalf("want interrogation's own reference, got %q", pim.ReferenceNr)
	}
	if pim.ValMap[35110] != 1 {
		t.Fatalf("want accumulated value 1, got %v", pim.ValMap[35110])
	}
}

// TestInterrogationClearedOnActivationTerm grounds scenario S4's other
// half: a completed general interrogation must free its per-RTU slot in
// the interrogation store, or a second interrogation of the same COA
// collides forever.
func TestInterrogationClearedOnActivationTerm(t *testing.T) {
	tr, c := newTestTranslator(DefaultPolicy())
	coa := asdu.CommonAddr(163)
	entry := &cache.Entry{
		Msg:    message.SysInfoControl{Header: message.Header{ReferenceNr: "MTU_1"}, COA: coa, TypeID: asdu.C_IC_NA_1},
		Status: cache.ReceivedAck,
	}
	if err := c.Global.InsertNewActive(cache.GlobalKey{COA: coa, TypeID: asdu.C_IC_NA_1}, entry); err != nil {
		t.Fatalf("seed global entry: %v", err)
	}
	if err := c.Interrogation.InsertNewActive(coa, &cache.InterrogationEntry{
		Cmd:    message.SysInfoControl{Header: message.Header{ReferenceNr: "MTU_1"}, COA: coa, TypeID: asdu.C_IC_NA_1},
		Status: cache.ReceivedAck,
	}); err != nil {
		t.Fatalf("seed interrogation entry: %v", err)
	}

	termApdu := APDU{TypeID: asdu.C_IC_NA_1, COT: asdu.CauseOfTransmission{Cause: asdu.ActivationTerm}, COA: coa, IOAs: []asdu.InfoObjAddr{0}}
	if _, _, err := tr.OnReceiveAPDU(termApdu, coa, false); err != nil {
		t.Fatalf("ACT_TERM: %v", err)
	}

	if _, ok := c.Interrogation.Lookup(coa); ok {
		t.Fatal("interrogation entry must be cleared after ACT_TERM")
	}

	// A second interrogation of the same COA must not collide.
	if err := c.Interrogation.InsertNewActive(coa, &cache.InterrogationEntry{
		Cmd:    message.SysInfoControl{Header: message.Header{ReferenceNr: "MTU_2"}, COA: coa, TypeID: asdu.C_IC_NA_1},
		Status: cache.SentNoAck,
	}); err != nil {
		t.Fatalf("want second interrogation to succeed, got %v", err)
	}
}

// TestInterrogationClearedOnNegativeActivationCon grounds the failure
// half of scenario S4: a refused general interrogation never reaches
// ACT_TERM, so the interrogation store must clear on negative ACT_CON
// instead.
func TestInterrogationClearedOnNegativeActivationCon(t *testing.T) {
	tr, c := newTestTranslator(DefaultPolicy())
	coa := asdu.CommonAddr(163)
	entry := &cache.Entry{
		Msg:    message.SysInfoControl{Header: message.Header{ReferenceNr: "MTU_1"}, COA: coa, TypeID: asdu.C_IC_NA_1},
		Status: cache.SentNoAck,
	}
	if err := c.Global.InsertNewActive(cache.GlobalKey{COA: coa, TypeID: asdu.C_IC_NA_1}, entry); err != nil {
		t.Fatalf("seed global entry: %v", err)
	}
	if err := c.Interrogation.InsertNewActive(coa, &cache.InterrogationEntry{
		Cmd:    message.SysInfoControl{Header: message.Header{ReferenceNr: "MTU_1"}, COA: coa, TypeID: asdu.C_IC_NA_1},
		Status: cache.SentNoAck,
	}); err != nil {
		t.Fatalf("seed interrogation entry: %v", err)
	}

	negApdu := APDU{TypeID: asdu.C_IC_NA_1, COT: asdu.CauseOfTransmission{Cause: asdu.ActivationCon, IsNegative: true}, COA: coa, IOAs: []asdu.InfoObjAddr{0}}
	if _, _, err := tr.OnReceiveAPDU(negApdu, coa, false); err != nil {
		t.Fatalf("negative ACT_CON: %v", err)
	}

	if _, ok := c.Interrogation.Lookup(coa); ok {
		t.Fatal("interrogation entry must be cleared after a refused interrogation")
	}
}

// TestInboundInterrogationGateRejectsBeforeAck grounds invariant 3: a data
// point arriving before the interrogation reaches RECEIVED_ACK is
// unexpected.
func TestInboundInterrogationGateRejectsBeforeAck(t *testing.T) {
	tr, c := newTestTranslator(DefaultPolicy())
	coa := asdu.CommonAddr(163)
	_ = c.Interrogation.InsertNewActive(coa, &cache.InterrogationEntry{
		Cmd:    message.SysInfoControl{Header: message.Header{ReferenceNr: "MTU_1"}},
		Status: cache.SentNoAck,
	})

	dp := DataPoint{COA: coa, IOA: 35110, TypeID: asdu.M_SP_NA_1, Value: 1, Quality: Quality{Good: true}}
	if _, err := tr.OnReceiveDataPoint(dp, asdu.CauseOfTransmission{Cause: asdu.InterrogatedByStation}); err != ErrUnexpectedAPDU {
		t.Fatalf("want ErrUnexpectedAPDU, got %v", err)
	}
}

// TestInboundNegativeActivationConRemovesEntry grounds scenario S6 and
// invariant 4: a negative ACT_CON always removes the cache entry and is
// reported as a FAIL confirmation with reason NEGATIVE.
func TestInboundNegativeActivationConRemovesEntry(t *testing.T) {
	tr, c := newTestTranslator(DefaultPolicy())
	coa := asdu.CommonAddr(163)
	ioa := asdu.InfoObjAddr(35110)
	key := cache.DPKey{COA: coa, IOA: ioa}
	_ = c.DataPoints.InsertNewActive(key, &cache.Entry{
		Msg:    message.ProcessInfoControl{Header: message.Header{ReferenceNr: "SUB_1"}, COA: coa},
		Status: cache.SentNoAck,
	})

	apdu := APDU{TypeID: asdu.C_SC_NA_1, COT: asdu.CauseOfTransmission{Cause: asdu.ActivationCon, IsNegative: true}, COA: coa, IOAs: []asdu.InfoObjAddr{ioa}}
	msg, deferred, err := tr.OnReceiveAPDU(apdu, coa, false)
	if err != nil {
		t.Fatalf("OnReceiveAPDU: %v", err)
	}
	if deferred {
		t.Fatal("negative ACT_CON must not be deferred")
	}
	conf, ok := msg.(message.Confirmation)
	if !ok {
		t.Fatalf("want Confirmation, got %T", msg)
	}
	if conf.Status != message.StatusFail || conf.Reason != message.ReasonNegative {
		t.Fatalf("want FAIL/NEGATIVE, got %v/%v", conf.Status, conf.Reason)
	}
	if c.DataPoints.IsActive(key) {
		t.Fatal("entry must be removed after negative ACT_CON")
	}
}

// TestClockSyncActivationTermToleratesAbsence grounds the spec.md §9 Open
// Question 1 decision: ACT_TERM is optional for clock-sync, so its
// absence from the global store must not surface as an error.
func TestClockSyncActivationTermToleratesAbsence(t *testing.T) {
	tr, _ := newTestTranslator(DefaultPolicy())
	coa := asdu.CommonAddr(163)
	apdu := APDU{TypeID: asdu.C_CS_NA_1, COT: asdu.CauseOfTransmission{Cause: asdu.ActivationTerm}, COA: asdu.GlobalCommonAddr}
	msg, deferred, err := tr.OnReceiveAPDU(apdu, coa, false)
	if err != nil {
		t.Fatalf("want no error for missing clock-sync ACT_TERM, got %v", err)
	}
	if msg != nil || deferred {
		t.Fatalf("want silent no-op, got msg=%v deferred=%v", msg, deferred)
	}
}

// TestCombineIOsUnsupported grounds Open Question 2: enabling CombineIOs
// must surface ErrCombineIOsUnsupported rather than silently misbehave.
func TestCombineIOsUnsupported(t *testing.T) {
	policy := DefaultPolicy()
	policy.CombineIOs = true
	tr, c := newTestTranslator(policy)
	coa := asdu.CommonAddr(163)
	ioa := asdu.InfoObjAddr(1)
	_ = c.DataPoints.InsertNewActive(cache.DPKey{COA: coa, IOA: ioa}, &cache.Entry{
		Msg:    message.ReadDatapoint{Header: message.Header{ReferenceNr: "SUB_1"}, COA: coa, IOA: ioa},
		Status: cache.SentNoAck,
	})
	apdu := APDU{TypeID: asdu.M_SP_NA_1, COT: asdu.CauseOfTransmission{Cause: asdu.Request}, COA: coa, IOAs: []asdu.InfoObjAddr{ioa}, Values: map[asdu.InfoObjAddr]interface{}{ioa: 1}}
	if _, _, err := tr.OnReceiveAPDU(apdu, coa, false); err != ErrCombineIOsUnsupported {
		t.Fatalf("want ErrCombineIOsUnsupported, got %v", err)
	}
}

// TestPeriodicDeferredWhenCombining grounds spec.md §4.D's boundary: the
// translator itself never aggregates periodic updates, only signals
// deferral for the manager's batcher.
func TestPeriodicDeferredWhenCombining(t *testing.T) {
	tr, _ := newTestTranslator(DefaultPolicy())
	coa := asdu.CommonAddr(163)
	apdu := APDU{TypeID: asdu.M_ME_NC_1, COT: asdu.CauseOfTransmission{Cause: asdu.Periodic}, COA: coa, IOAs: []asdu.InfoObjAddr{1}, Values: map[asdu.InfoObjAddr]interface{}{1: 3.14}}
	msg, deferred, err := tr.OnReceiveAPDU(apdu, coa, false)
	if err != nil {
		t.Fatalf("OnReceiveAPDU: %v", err)
	}
	if !deferred || msg != nil {
		t.Fatalf("want deferred=true, msg=nil; got deferred=%v msg=%v", deferred, msg)
	}
}
