// Package translator implements the protocol translator (spec.md §4.C):
// the stateful mapping between raw IEC-104 APDUs and application
// messages, driven by a Policy and updating the message cache as it
// goes.
package translator

import (
	"github.com/fkie-cad/mtuhub/asdu"
	"github.com/fkie-cad/mtuhub/cache"
	"github.com/fkie-cad/mtuhub/clog"
	"github.com/fkie-cad/mtuhub/message"
)

// Translator is stateful only through the Cache it is given; it holds no
// private mutable fields beyond the logger, so it is safe to share
// across the manager's goroutines as long as the cache itself is.
type Translator struct {
	cache  *cache.Cache
	policy Policy
	refgen RefGen
	log    clog.Clog
}

// New builds a Translator over the given cache, policy and
// reference-number generator.
func New(c *cache.Cache, policy Policy, refgen RefGen, log clog.Clog) *Translator {
	return &Translator{cache: c, policy: policy, refgen: refgen, log: log}
}

// classify picks the sub-store an APDU's type-id belongs to (spec.md
// §4.C outbound path step 2).
type storeClass int

const (
	classDataPoint storeClass = iota
	classGlobal
	classParameter
)

func (t *Translator) classify(typeID asdu.TypeID) storeClass {
	switch {
	case typeID.GlobalCompatible():
		return classGlobal
	case typeID == asdu.P_AC_NA_1:
		return classParameter
	default:
		return classDataPoint
	}
}

func (t *Translator) validate(apdu APDU) error {
	if apdu.TypeID == 0 {
		return ErrUnsupportedType
	}
	if apdu.COA == asdu.GlobalCommonAddr && !apdu.TypeID.GlobalCompatible() {
		return ErrInvalidAPDU
	}
	return nil
}

// OnSendAPDU is invoked synchronously after every outbound APDU the
// codec emits (spec.md §4.C "Outbound path", §6). rtuCOA disambiguates a
// GLOBAL_COA command fanning out to a specific RTU.
func (t *Translator) OnSendAPDU(apdu APDU, rtuCOA asdu.CommonAddr) (message.IECMsg, error) {
	if err := t.validate(apdu); err != nil {
		t.log.Warn("dropping outbound apdu: %v (%+v)", err, apdu)
		return nil, err
	}

	var entry *cache.Entry
	switch t.classify(apdu.TypeID) {
	case classGlobal:
		key := cache.GlobalKey{COA: rtuCOA, TypeID: apdu.TypeID}
		existing, ok := t.cache.Global.LookupIfActive(key)
		if ok {
			existing.Status = cache.SentNoAck
			existing.Msg = decrementMaxTries(existing.Msg)
			entry = existing
		} else {
			entry = &cache.Entry{
				Msg:    message.SysInfoControl{Header: message.Header{ID: message.MsgSysInfoControl, ReferenceNr: t.refgen.NextMTURef()}, COA: rtuCOA, TypeID: apdu.TypeID},
				Status: cache.SentNoAck,
			}
			if err := t.cache.Global.InsertNewActive(key, entry); err != nil {
				return nil, err
			}
		}
	case classParameter:
		ioa := firstIOA(apdu)
		key := cache.DPKey{COA: rtuCOA, IOA: ioa}
		existing, ok := t.cache.Parameters.LookupIfActive(key)
		if ok {
			existing.Status = cache.SentNoAck
			existing.Msg = decrementMaxTries(existing.Msg)
			entry = existing
		} else {
			entry = &cache.Entry{
				Msg:    message.ParameterActivate{Header: message.Header{ID: message.MsgParameterActivate, ReferenceNr: t.refgen.NextMTURef()}, COA: rtuCOA, IOA: ioa, Activate: apdu.COT.Cause == asdu.Activation},
				Status: cache.SentNoAck,
			}
			if err := t.cache.Parameters.InsertNewActive(key, entry); err != nil {
				return nil, err
			}
		}
	default:
		ioa := firstIOA(apdu)
		key := cache.DPKey{COA: rtuCOA, IOA: ioa}
		existing, ok := t.cache.DataPoints.LookupIfActive(key)
		if ok {
			existing.Status = cache.SentNoAck
			existing.Msg = decrementMaxTries(existing.Msg)
			entry = existing
		} else {
			entry = &cache.Entry{
				Msg: message.ProcessInfoControl{
					Header: message.Header{ID: message.MsgProcessInfoControl, ReferenceNr: t.refgen.NextMTURef()},
					COA:    rtuCOA, TypeID: apdu.TypeID, ValMap: apdu.Values,
				},
				Status: cache.SentNoAck,
			}
			if err := t.cache.DataPoints.InsertNewActive(key, entry); err != nil {
				return nil, err
			}
		}
		t.updateDatapointValues(apdu)
	}

	ref := entry.Msg.Head().ReferenceNr
	if t.refgen.IsHubInitiated(ref) {
		// The APDU was initiated by the hub itself, not a subscriber:
		// return the generated message as-is (spec.md §4.C step 4).
		return entry.Msg, nil
	}
	return message.NewConfirmation(entry.Msg, message.StatusSuccessfulSend, ""), nil
}

// decrementMaxTries re-sends an already-queued entry's retry budget
// (spec.md:82 step 3: re-sending transitions an entry to SENT_NO_ACK and
// decrements max-tries). msg's concrete type is always one of the three
// the default/classParameter/classGlobal branches above construct.
func decrementMaxTries(msg message.IECMsg) message.IECMsg {
	switch m := msg.(type) {
	case message.ProcessInfoControl:
		if m.Header.MaxTries > 0 {
			m.Header.MaxTries--
		}
		return m
	case message.ParameterActivate:
		if m.Header.MaxTries > 0 {
			m.Header.MaxTries--
		}
		return m
	case message.SysInfoControl:
		if m.Header.MaxTries > 0 {
			m.Header.MaxTries--
		}
		return m
	default:
		return msg
	}
}

func firstIOA(apdu APDU) asdu.InfoObjAddr {
	if len(apdu.IOAs) == 0 {
		return asdu.InfoObjAddrIrrelevant
	}
	return apdu.IOAs[0]
}

func (t *Translator) updateDatapointValues(apdu APDU) {
	// No-op. The command server owns the Codec handle and calls
	// UpdateDatapoint itself before each send; the translator keeps no
	// data point values of its own.
}

// OnReceiveAPDU is invoked for every decoded inbound APDU (spec.md §4.C
// "Inbound path", §6). It returns deferred=true when the message is
// periodic traffic the subscription manager's aggregator must batch
// instead of publishing immediately (spec.md §4.D).
func (t *Translator) OnReceiveAPDU(apdu APDU, rtuCOA asdu.CommonAddr, rawCallback bool) (msg message.IECMsg, deferred bool, err error) {
	if err := t.validate(apdu); err != nil {
		return nil, false, err
	}

	cot := apdu.COT
	switch cot.Cause {
	case asdu.ActivationCon, asdu.DeactivationCon:
		return t.onActivationCon(apdu, rtuCOA, cot)
	case asdu.ActivationTerm:
		return t.onActivationTerm(apdu, rtuCOA, cot)
	case asdu.InterrogatedByStation:
		if !t.cache.Interrogation.IsReceivedAck(rtuCOA) {
			return nil, false, ErrUnexpectedAPDU
		}
		// Per-IOA publication happens through OnReceiveDataPoint.
		return nil, false, nil
	case asdu.Request:
		return t.onReadReply(apdu, rtuCOA)
	case asdu.Periodic:
		if t.policy.CombinePeriodicIOs {
			return nil, true, nil
		}
		return message.PeriodicUpdate{
			Header: message.Header{ID: message.MsgPeriodicUpdate, ReferenceNr: t.refgen.NextMTURef()},
			COA:    rtuCOA, TypeID: apdu.TypeID, ValMap: apdu.Values,
		}, false, nil
	case asdu.Spontaneous:
		return message.ProcessInfoMonitoring{
			Header: message.Header{ID: message.MsgProcessInfoMonitoring, ReferenceNr: t.refgen.NextMTURef()},
			COA:    rtuCOA, TypeID: apdu.TypeID, COT: cot, ValMap: apdu.Values,
		}, false, nil
	case asdu.UnknownTypeID, asdu.UnknownCOT, asdu.UnknownCA, asdu.UnknownIOA:
		if t.policy.IgnoreUnknownCOTDPCallbacks {
			t.log.Debug("dropping apdu with unrecognized cot/type: %+v", apdu)
			return nil, false, nil
		}
		return nil, false, ErrUnsupportedType
	default:
		if rawCallback && !(t.policy.SFrames || t.policy.UFrames) {
			return nil, false, nil
		}
		if t.policy.IgnoreUnknownCOTDPCallbacks {
			return nil, false, nil
		}
		return nil, false, ErrUnsupportedType
	}
}

func (t *Translator) onActivationCon(apdu APDU, rtuCOA asdu.CommonAddr, cot asdu.CauseOfTransmission) (message.IECMsg, bool, error) {
	class := t.classify(apdu.TypeID)
	var (
		entry *cache.Entry
		ok    bool
	)
	switch class {
	case classGlobal:
		key := cache.GlobalKey{COA: rtuCOA, TypeID: apdu.TypeID}
		if cot.IsNegative {
			entry, ok = t.cache.Global.MarkNegativelyAcked(key)
		} else {
			entry, ok = t.cache.Global.MarkConfirmed(key)
		}
	default: // classParameter or classDataPoint, archived identically
		store := t.cache.DataPoints
		if class == classParameter {
			store = t.cache.Parameters
		}
		key := cache.DPKey{COA: rtuCOA, IOA: firstIOA(apdu)}
		if cot.IsNegative {
			entry, ok = store.MarkNegativelyAcked(key)
		} else {
			entry, ok = store.ArchiveAsConfirmed(key)
		}
	}
	if !ok {
		return nil, false, ErrUnexpectedAPDU
	}
	if cot.IsNegative && apdu.TypeID == asdu.C_IC_NA_1 {
		// A refused general interrogation never reaches ACT_TERM, so the
		// per-interrogation store must be cleared here instead.
		t.cache.Interrogation.MarkNegativelyAcked(rtuCOA)
	}
	if !cot.IsNegative && apdu.TypeID == asdu.C_IC_NA_1 {
		// A confirmed general interrogation moves its per-RTU entry to
		// RECEIVED_ACK, which admits INTERROGATED_BY_STATION data points.
		t.cache.Interrogation.MarkConfirmed(rtuCOA)
	}
	if !t.policy.Acks {
		// Policy off = silence (spec.md §8 "Laws"): cache transitions
		// still occurred above, but nothing is published.
		return nil, false, nil
	}
	if cot.IsNegative {
		return message.NewConfirmation(entry.Msg, message.StatusFail, message.ReasonNegative), false, nil
	}
	return message.NewConfirmation(entry.Msg, message.StatusPositiveConfirm, ""), false, nil
}

func (t *Translator) onActivationTerm(apdu APDU, rtuCOA asdu.CommonAddr, cot asdu.CauseOfTransmission) (message.IECMsg, bool, error) {
	class := t.classify(apdu.TypeID)
	var (
		entry *cache.Entry
		ok    bool
	)
	switch class {
	case classGlobal:
		key := cache.GlobalKey{COA: rtuCOA, TypeID: apdu.TypeID}
		entry, ok = t.cache.Global.MarkTerminated(key)
		if !ok && apdu.TypeID == asdu.C_CS_NA_1 {
			// Clock-sync may legally skip ACT_TERM (spec.md §3 invariant
			// 5, §9 Open Question 1): absence here is not an error.
			return nil, false, nil
		}
	default:
		store := t.cache.DataPoints
		if class == classParameter {
			store = t.cache.Parameters
		}
		key := cache.DPKey{COA: rtuCOA, IOA: firstIOA(apdu)}
		entry, ok = store.MarkTerminated(key)
	}
	if !ok {
		return nil, false, ErrUnexpectedAPDU
	}
	if apdu.TypeID == asdu.C_IC_NA_1 {
		// A completed general interrogation frees its per-RTU slot in the
		// interrogation store (spec.md §8 scenario S4), or every
		// subsequent interrogation of the same COA collides forever.
		t.cache.Interrogation.Clear(rtuCOA)
	}
	if !t.policy.Acks {
		return nil, false, nil
	}
	return message.NewConfirmation(entry.Msg, message.StatusSuccessfulTerm, ""), false, nil
}

func (t *Translator) onReadReply(apdu APDU, rtuCOA asdu.CommonAddr) (message.IECMsg, bool, error) {
	if t.policy.CombineIOs {
		return nil, false, ErrCombineIOsUnsupported
	}
	ioa := firstIOA(apdu)
	key := cache.DPKey{COA: rtuCOA, IOA: ioa}
	entry, ok := t.cache.DataPoints.PopActive(key)
	if !ok {
		return nil, false, ErrUnexpectedAPDU
	}
	return message.ProcessInfoMonitoring{
		Header: message.Header{ID: message.MsgProcessInfoMonitoring, ReferenceNr: entry.Msg.Head().ReferenceNr},
		COA:    rtuCOA, TypeID: apdu.TypeID, ValMap: apdu.Values,
	}, false, nil
}

// OnReceiveDataPoint is invoked per IOA in a multi-point ASDU after
// OnReceiveAPDU has decided the ASDU is relevant (spec.md §4.C "Inbound
// data-point"). It is the only path that publishes data accumulated
// during an interrogation, keyed to the interrogation's own reference
// number (spec.md §8 invariant 4).
func (t *Translator) OnReceiveDataPoint(p DataPoint, cot asdu.CauseOfTransmission) (message.IECMsg, error) {
	if !p.Quality.Good && !t.policy.IgnoreQuality {
		return nil, nil
	}

	if cot.Cause == asdu.InterrogatedByStation {
		if !t.cache.Interrogation.IsReceivedAck(p.COA) {
			return nil, ErrUnexpectedAPDU
		}
		entry, ok := t.cache.Interrogation.Accumulate(p.COA, p.IOA, p.Value)
		if !ok {
			return nil, ErrUnexpectedAPDU
		}
		return message.ProcessInfoMonitoring{
			Header: message.Header{ID: message.MsgProcessInfoMonitoring, ReferenceNr: entry.Cmd.Head().ReferenceNr},
			COA:    p.COA, TypeID: p.TypeID, COT: cot,
			ValMap: message.ValMap{p.IOA: p.Value},
		}, nil
	}

	return nil, nil
}
