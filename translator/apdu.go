package translator

import (
	"time"

	"github.com/fkie-cad/mtuhub/asdu"
)

// APDU is the narrow, codec-agnostic shape the translator needs from an
// IEC-104 frame (spec.md §4.A: "Construction from an APDU requires only
// (type-id, COT, COA, ioas[], positive-bit)"). The real framing and
// binary encoding live in the codec collaborator, out of scope here
// (spec.md §1, §6).
type APDU struct {
	TypeID asdu.TypeID
	COT    asdu.CauseOfTransmission
	COA    asdu.CommonAddr
	IOAs   []asdu.InfoObjAddr
	Values map[asdu.InfoObjAddr]interface{}
}

// DataPoint is what on_receive_datapoint delivers per IOA in a
// multi-point ASDU (spec.md §6): address, value, quality and timestamp.
type DataPoint struct {
	COA       asdu.CommonAddr
	IOA       asdu.InfoObjAddr
	TypeID    asdu.TypeID
	Value     interface{}
	Quality   Quality
	Timestamp time.Time
}

// Quality is a coarse good/bad flag standing in for the IEC-104 quality
// descriptor bits; the translator only ever asks "is it good enough to
// publish", which the policy's IgnoreQuality flag can override.
type Quality struct {
	Good bool
}

// Codec is the outbound half of the collaborator boundary (spec.md §6):
// send(coa, ioa, cot), send_sys_info, send_parameter_activate,
// update_datapoint. The core treats it as ordered FIFO per RTU.
type Codec interface {
	Send(apdu APDU) error
	SendSysInfo(typeID asdu.TypeID, coa asdu.CommonAddr, cot asdu.CauseOfTransmission) error
	SendParameterActivate(coa asdu.CommonAddr, ioa asdu.InfoObjAddr, cot asdu.CauseOfTransmission) error
	UpdateDatapoint(coa asdu.CommonAddr, ioa asdu.InfoObjAddr, value interface{})
}

// RefGen mints hub-initiated reference numbers and recognizes them back
// (spec.md §3 "Reference numbers", §9 "Global counters"). Implemented by
// package identity.
type RefGen interface {
	NextMTURef() string
	IsHubInitiated(ref string) bool
}
