package message

import (
	"encoding/json"
	"fmt"
)

// ErrUnknownMessage is returned by Decode when the wire id does not match
// any registered message type (spec.md §6: "unknown ids are rejected
// with the UnknownMessage sentinel reply").
var ErrUnknownMessage = fmt.Errorf("message: unknown id")

// Decode dispatches a JSON-encoded frame to its concrete IECMsg based on
// its "id" field, the registry-keyed decode spec.md §4.A and §9 call for
// in place of the source's dynamic class dispatch.
func Decode(data []byte) (IECMsg, error) {
	var stub Header
	if err := json.Unmarshal(data, &stub); err != nil {
		return nil, fmt.Errorf("message: decode header: %w", err)
	}

	var (
		msg IECMsg
		err error
	)
	switch stub.ID {
	case MsgSubscriptionInit:
		var m SubscriptionInitMsg
		err = json.Unmarshal(data, &m)
		msg = m
	case MsgSubscriptionInitReply:
		var m SubscriptionInitReply
		err = json.Unmarshal(data, &m)
		msg = m
	case MsgProcessInfoMonitoring:
		var m ProcessInfoMonitoring
		err = json.Unmarshal(data, &m)
		msg = m
	case MsgProcessInfoControl:
		var m ProcessInfoControl
		err = json.Unmarshal(data, &m)
		msg = m
	case MsgReadDatapoint:
		var m ReadDatapoint
		err = json.Unmarshal(data, &m)
		msg = m
	case MsgSysInfoControl:
		var m SysInfoControl
		err = json.Unmarshal(data, &m)
		msg = m
	case MsgSysInfoMonitoring:
		var m SysInfoMonitoring
		err = json.Unmarshal(data, &m)
		msg = m
	case MsgParameterActivate:
		var m ParameterActivate
		err = json.Unmarshal(data, &m)
		msg = m
	case MsgParameterLoad:
		var m ParameterLoad
		err = json.Unmarshal(data, &m)
		msg = m
	case MsgPeriodicUpdate:
		var m PeriodicUpdate
		err = json.Unmarshal(data, &m)
		msg = m
	case MsgConfirmation:
		var m Confirmation
		err = json.Unmarshal(data, &m)
		msg = m
	case MsgTotalInterroReq:
		var m TotalInterroReq
		err = json.Unmarshal(data, &m)
		msg = m
	case MsgTotalInterroReply:
		var m TotalInterroReply
		err = json.Unmarshal(data, &m)
		msg = m
	case MsgRTUStatusReq:
		var m RTUStatusReq
		err = json.Unmarshal(data, &m)
		msg = m
	case MsgRTUStatusReply:
		var m RTUStatusReply
		err = json.Unmarshal(data, &m)
		msg = m
	case MsgMtuCacheReq:
		var m MtuCacheReq
		err = json.Unmarshal(data, &m)
		msg = m
	case MsgMtuCacheReply:
		var m MtuCacheReply
		err = json.Unmarshal(data, &m)
		msg = m
	case MsgConnectionStatusChange:
		var m ConnectionStatusChange
		err = json.Unmarshal(data, &m)
		msg = m
	case MsgDisconnectCancelMsgsChange:
		var m DisconnectCancelMsgsChange
		err = json.Unmarshal(data, &m)
		msg = m
	case MsgUnknownMessage:
		var m UnknownMessage
		err = json.Unmarshal(data, &m)
		msg = m
	default:
		return nil, ErrUnknownMessage
	}
	if err != nil {
		return nil, fmt.Errorf("message: decode %s: %w", stub.ID, err)
	}
	return msg, nil
}

// Encode serializes any registered IECMsg to its wire form.
func Encode(msg IECMsg) ([]byte, error) {
	return json.Marshal(msg)
}
