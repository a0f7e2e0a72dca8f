// Package message defines the application-facing message model (spec.md
// §3, §4.A): a sum type over monitoring updates, control commands,
// confirmations, interrogation/status snapshots and connection-lifecycle
// events, all sharing a common header and a wire form keyed by "id" so a
// decoder can dispatch without knowing the concrete type up front.
package message

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/fkie-cad/mtuhub/asdu"
)

// MsgID tags every message's concrete type on the wire.
type MsgID uint8

// Message category identifiers (spec.md §3 "Message categories").
const (
	_ MsgID = iota
	MsgSubscriptionInit
	MsgSubscriptionInitReply
	MsgProcessInfoMonitoring
	MsgProcessInfoControl
	MsgReadDatapoint
	MsgSysInfoControl
	MsgSysInfoMonitoring
	MsgParameterActivate
	MsgParameterLoad
	MsgPeriodicUpdate
	MsgConfirmation
	MsgTotalInterroReq
	MsgTotalInterroReply
	MsgRTUStatusReq
	MsgRTUStatusReply
	MsgMtuCacheReq
	MsgMtuCacheReply
	MsgConnectionStatusChange
	MsgDisconnectCancelMsgsChange
	MsgUnknownMessage
)

var msgIDNames = map[MsgID]string{
	MsgSubscriptionInit:           "SubscriptionInit",
	MsgSubscriptionInitReply:      "SubscriptionInitReply",
	MsgProcessInfoMonitoring:      "ProcessInfoMonitoring",
	MsgProcessInfoControl:         "ProcessInfoControl",
	MsgReadDatapoint:              "ReadDatapoint",
	MsgSysInfoControl:             "SysInfoControl",
	MsgSysInfoMonitoring:          "SysInfoMonitoring",
	MsgParameterActivate:          "ParameterActivate",
	MsgParameterLoad:              "ParameterLoad",
	MsgPeriodicUpdate:             "PeriodicUpdate",
	MsgConfirmation:               "Confirmation",
	MsgTotalInterroReq:            "TotalInterroReq",
	MsgTotalInterroReply:          "TotalInterroReply",
	MsgRTUStatusReq:               "RTUStatusReq",
	MsgRTUStatusReply:             "RTUStatusReply",
	MsgMtuCacheReq:                "MtuCacheReq",
	MsgMtuCacheReply:              "MtuCacheReply",
	MsgConnectionStatusChange:     "ConnectionStatusChange",
	MsgDisconnectCancelMsgsChange: "DisconnectCancelMsgsChange",
	MsgUnknownMessage:             "UnknownMessage",
}

func (id MsgID) String() string {
	if s, ok := msgIDNames[id]; ok {
		return s
	}
	return fmt.Sprintf("MsgID(%d)", uint8(id))
}

// ConfirmationStatus is the user-visible status carried by a Confirmation
// (spec.md §7).
type ConfirmationStatus string

// Status values, verbatim from spec.md §7.
const (
	StatusWaitingForSend      ConfirmationStatus = "WAITING_FOR_SEND"
	StatusSuccessfulSend      ConfirmationStatus = "SUCCESSFUL_SEND"
	StatusSuccessfulTerm      ConfirmationStatus = "SUCCESSFUL_TERM"
	StatusPositiveConfirm     ConfirmationStatus = "POSITIVE_CONFIRMATION"
	StatusFail                ConfirmationStatus = "FAIL"
	StatusQueued              ConfirmationStatus = "QUEUED"
	StatusClientQueued        ConfirmationStatus = "CLIENT_QUEUED"
	StatusFinalRespRcvd       ConfirmationStatus = "FINAL_RESP_RCVD"
)

// FailReason qualifies a StatusFail Confirmation (spec.md §7).
type FailReason string

const (
	ReasonNegative        FailReason = "NEGATIVE"
	ReasonNetwork         FailReason = "NETWORK"
	ReasonCOA             FailReason = "COA"
	ReasonIOA             FailReason = "IOA"
	ReasonCollision       FailReason = "COLLISION"
	ReasonRTUSide         FailReason = "RTU_SIDE"
	ReasonTypeUnsupported FailReason = "TYPE_UNSUPPORTED"
)

// Header is the common envelope every message carries: an id for wire
// dispatch, a globally-unique reference number, and a retry budget.
type Header struct {
	ID          MsgID  `json:"id"`
	ReferenceNr string `json:"reference_nr"`
	MaxTries    int    `json:"max_tries,omitempty"`
}

// Head returns the message's own header; embedding Header in a concrete
// type promotes this method for free, which is what satisfies IECMsg.
func (h Header) Head() Header { return h }

// IECMsg is implemented by every concrete message type.
type IECMsg interface {
	Head() Header
}

// ValMap maps an information object address to its decoded value.
// encoding/json marshals and unmarshals integer-keyed maps to and from
// quoted decimal object keys automatically, which is exactly spec.md
// §3's "value-map keys are decoded as integers even when transported as
// strings."
type ValMap map[asdu.InfoObjAddr]interface{}

// TsMap maps an information object address to the RTU-reported timestamp
// for its value.
type TsMap map[asdu.InfoObjAddr]time.Time

// SubscriptionInitMsg is the mandatory first message on a new command
// channel connection (spec.md §4.G, §6).
type SubscriptionInitMsg struct {
	Header
	Type string `json:"type"`
}

// SubscriptionInitReply answers SubscriptionInitMsg with the assigned
// reference-number prefix. CorrelationID is a process-local identifier
// stamped onto the handshake purely for log correlation between the
// subscriber's and the hub's logs; it is never a message reference
// number and plays no part in routing.
type SubscriptionInitReply struct {
	Header
	Prefix        string `json:"prefix"`
	CorrelationID string `json:"correlation_id"`
}

// ProcessInfoMonitoring carries control-direction data flowing upstream
// (spontaneous reports, interrogation answers, read replies).
type ProcessInfoMonitoring struct {
	Header
	COA    asdu.CommonAddr          `json:"coa"`
	TypeID asdu.TypeID              `json:"type_id"`
	COT    asdu.CauseOfTransmission `json:"-"`
	ValMap ValMap                   `json:"val_map"`
	TsMap  TsMap                    `json:"ts_map,omitempty"`
}

// ProcessInfoControl is an application-issued write/command request.
type ProcessInfoControl struct {
	Header
	COA              asdu.CommonAddr `json:"coa"`
	TypeID           asdu.TypeID     `json:"type_id"`
	ValMap           ValMap          `json:"val_map"`
	QueueOnCollision bool            `json:"queue_on_collision"`
}

// ReadDatapoint is an application-issued explicit read of a single point.
type ReadDatapoint struct {
	Header
	COA              asdu.CommonAddr   `json:"coa"`
	IOA              asdu.InfoObjAddr  `json:"ioa"`
	QueueOnCollision bool              `json:"queue_on_collision"`
}

// SysInfoControl requests a whole-station system operation: general
// interrogation or clock synchronization (spec.md §4.E).
type SysInfoControl struct {
	Header
	COA    asdu.CommonAddr `json:"coa"`
	TypeID asdu.TypeID     `json:"type_id"`
}

// SysInfoMonitoring reports a system-direction event from an RTU.
type SysInfoMonitoring struct {
	Header
	COA    asdu.CommonAddr          `json:"coa"`
	TypeID asdu.TypeID              `json:"type_id"`
	COT    asdu.CauseOfTransmission `json:"-"`
}

// ParameterActivate (de)activates a previously loaded parameter.
type ParameterActivate struct {
	Header
	COA      asdu.CommonAddr  `json:"coa"`
	IOA      asdu.InfoObjAddr `json:"ioa"`
	Activate bool             `json:"activate"`
}

// ParameterLoad loads a new parameter value ahead of activation. Present
// in the original source's message model but folded into prose by the
// distillation (SPEC_FULL.md §4.A.1).
type ParameterLoad struct {
	Header
	COA    asdu.CommonAddr  `json:"coa"`
	IOA    asdu.InfoObjAddr `json:"ioa"`
	TypeID asdu.TypeID      `json:"type_id"`
	Value  interface{}      `json:"value"`
}

// PeriodicUpdate is the aggregator's output: every periodic data point
// seen for one (COA, type-id) inside one batching window (spec.md §4.D).
type PeriodicUpdate struct {
	Header
	COA    asdu.CommonAddr `json:"coa"`
	TypeID asdu.TypeID     `json:"type_id"`
	ValMap ValMap          `json:"val_map"`
	TsMap  TsMap           `json:"ts_map,omitempty"`
}

// Confirmation reports the outcome of a prior command, preserving its
// reference number (spec.md §4.E, §7).
type Confirmation struct {
	Header
	Status             ConfirmationStatus `json:"status"`
	Reason             FailReason         `json:"reason,omitempty"`
	CollisionDP        string             `json:"collision_dp,omitempty"`
	CollisionReference string             `json:"collision_reference,omitempty"`
	COA                asdu.CommonAddr    `json:"coa,omitempty"`
	IOA                asdu.InfoObjAddr   `json:"ioa,omitempty"`
	StillSending       []asdu.InfoObjAddr `json:"still_sending,omitempty"`
}

// NewConfirmation builds a Confirmation preserving msg's reference number
// and retry budget, the pattern every handler in commandserver/translator
// follows (spec.md §4.E: "Each reply preserves the request's
// reference_nr").
func NewConfirmation(msg IECMsg, status ConfirmationStatus, reason FailReason) Confirmation {
	h := msg.Head()
	return Confirmation{
		Header: Header{ID: MsgConfirmation, ReferenceNr: h.ReferenceNr, MaxTries: h.MaxTries},
		Status: status,
		Reason: reason,
	}
}

// TotalInterroReq asks for a full snapshot of RTU connection status and
// the hub's last-seen data point values.
type TotalInterroReq struct {
	Header
}

// TotalInterroReply answers TotalInterroReq.
type TotalInterroReply struct {
	Header
	RTUStatus     map[asdu.CommonAddr]bool                      `json:"rtu_status"`
	MTUDatapoints map[asdu.CommonAddr]map[asdu.InfoObjAddr]interface{} `json:"mtu_datapoints"`
}

// RTUStatusReq asks only for RTU connection status.
type RTUStatusReq struct {
	Header
}

// RTUStatusReply answers RTUStatusReq.
type RTUStatusReply struct {
	Header
	RTUStatus map[asdu.CommonAddr]bool `json:"rtu_status"`
}

// MtuCacheReq asks for a snapshot of the message cache's active entries,
// for debugging/introspection.
type MtuCacheReq struct {
	Header
}

// MtuCacheReply answers MtuCacheReq with an opaque, JSON-serializable
// snapshot (the cache decides its own shape; see cache.Snapshot).
type MtuCacheReply struct {
	Header
	Cache interface{} `json:"cache"`
}

// ConnectionStatusChange is emitted whenever an RTU link transitions up
// or down (spec.md §4.D).
type ConnectionStatusChange struct {
	Header
	COA       asdu.CommonAddr `json:"coa"`
	Connected bool            `json:"connected"`
	IP        string          `json:"ip,omitempty"`
	Port      int             `json:"port,omitempty"`
}

// DisconnectCancelMsgsChange reports every reference number abandoned by
// an RTU disconnection, in a single bulk message (spec.md §4.D, §7).
type DisconnectCancelMsgsChange struct {
	Header
	COA            asdu.CommonAddr `json:"coa"`
	CancelledRefNrs []string       `json:"cancelled_ref_nrs"`
}

// UnknownMessage is the sentinel reply to a request whose id the server
// does not recognize (spec.md §6).
type UnknownMessage struct {
	Header
}

// MarshalJSON implementations below ensure ID is always stamped with the
// type's own MsgID even if a caller built the struct literal without
// setting Header.ID explicitly.

func (m SubscriptionInitMsg) MarshalJSON() ([]byte, error) {
	m.ID = MsgSubscriptionInit
	type alias SubscriptionInitMsg
	return json.Marshal(alias(m))
}

func (m SubscriptionInitReply) MarshalJSON() ([]byte, error) {
	m.ID = MsgSubscriptionInitReply
	type alias SubscriptionInitReply
	return json.Marshal(alias(m))
}

func (m ProcessInfoMonitoring) MarshalJSON() ([]byte, error) {
	m.ID = MsgProcessInfoMonitoring
	type alias ProcessInfoMonitoring
	return json.Marshal(alias(m))
}

func (m ProcessInfoControl) MarshalJSON() ([]byte, error) {
	m.ID = MsgProcessInfoControl
	type alias ProcessInfoControl
	return json.Marshal(alias(m))
}

func (m ReadDatapoint) MarshalJSON() ([]byte, error) {
	m.ID = MsgReadDatapoint
	type alias ReadDatapoint
	return json.Marshal(alias(m))
}

func (m SysInfoControl) MarshalJSON() ([]byte, error) {
	m.ID = MsgSysInfoControl
	type alias SysInfoControl
	return json.Marshal(alias(m))
}

func (m SysInfoMonitoring) MarshalJSON() ([]byte, error) {
	m.ID = MsgSysInfoMonitoring
	type alias SysInfoMonitoring
	return json.Marshal(alias(m))
}

func (m ParameterActivate) MarshalJSON() ([]byte, error) {
	m.ID = MsgParameterActivate
	type alias ParameterActivate
	return json.Marshal(alias(m))
}

func (m ParameterLoad) MarshalJSON() ([]byte, error) {
	m.ID = MsgParameterLoad
	type alias ParameterLoad
	return json.Marshal(alias(m))
}

func (m PeriodicUpdate) MarshalJSON() ([]byte, error) {
	m.ID = MsgPeriodicUpdate
	type alias PeriodicUpdate
	return json.Marshal(alias(m))
}

func (m Confirmation) MarshalJSON() ([]byte, error) {
	m.ID = MsgConfirmation
	type alias Confirmation
	return json.Marshal(alias(m))
}

func (m TotalInterroReq) MarshalJSON() ([]byte, error) {
	m.ID = MsgTotalInterroReq
	type alias TotalInterroReq
	return json.Marshal(alias(m))
}

func (m TotalInterroReply) MarshalJSON() ([]byte, error) {
	m.ID = MsgTotalInterroReply
	type alias TotalInterroReply
	return json.Marshal(alias(m))
}

func (m RTUStatusReq) MarshalJSON() ([]byte, error) {
	m.ID = MsgRTUStatusReq
	type alias RTUStatusReq
	return json.Marshal(alias(m))
}

func (m RTUStatusReply) MarshalJSON() ([]byte, error) {
	m.ID = MsgRTUStatusReply
	type alias RTUStatusReply
	return json.Marshal(alias(m))
}

func (m MtuCacheReq) MarshalJSON() ([]byte, error) {
	m.ID = MsgMtuCacheReq
	type alias MtuCacheReq
	return json.Marshal(alias(m))
}

func (m MtuCacheReply) MarshalJSON() ([]byte, error) {
	m.ID = MsgMtuCacheReply
	type alias MtuCacheReply
	return json.Marshal(alias(m))
}

func (m ConnectionStatusChange) MarshalJSON() ([]byte, error) {
	m.ID = MsgConnectionStatusChange
	type alias ConnectionStatusChange
	return json.Marshal(alias(m))
}

func (m DisconnectCancelMsgsChange) MarshalJSON() ([]byte, error) {
	m.ID = MsgDisconnectCancelMsgsChange
	type alias DisconnectCancelMsgsChange
	return json.Marshal(alias(m))
}

func (m UnknownMessage) MarshalJSON() ([]byte, error) {
	m.ID = MsgUnknownMessage
	type alias UnknownMessage
	return json.Marshal(alias(m))
}
