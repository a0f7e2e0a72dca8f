// Copyright 2020 thinkgos (thinkgo@aliyun.com).  All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

// Package asdu carries the IEC-60870-5-104 addressing and causal
// vocabulary the hub needs to talk about RTU traffic: type identifiers,
// causes of transmission, common addresses and information object
// addresses. It deliberately stops there — framing and the binary
// encode/decode of an ASDU belong to the codec collaborator, which is
// out of scope for this hub (see spec.md §1, §6).
package asdu

import (
	"strconv"
)

// TypeID is the ASDU type identification. See companion standard 101,
// subclass 7.2.1. <1..127> is the standard-definition range; this hub
// only models the subset its message model (§3, §4.A) cares about.
type TypeID uint8

// The standard ASDU type identification.
// M for monitored information, C for control information, P for
// parameter, F for file transfer.
const (
	_ TypeID = iota // 0: not defined
	// Process information in the monitoring direction <1..44>
	M_SP_NA_1 // 1: single-point information
	M_SP_TA_1 // 2: single-point information with time tag
	M_DP_NA_1 // 3: double-point information
	M_DP_TA_1 // 4: double-point information with time tag
	M_ST_NA_1 // 5: step position information
	M_ST_TA_1 // 6: step position information with time tag
	M_BO_NA_1 // 7: bitstring of 32 bit
	M_BO_TA_1 // 8: bitstring of 32 bit with time tag
	M_ME_NA_1 // 9: measured value, normalized value
	M_ME_TA_1 // 10: measured value, normalized value with time tag
	M_ME_NB_1 // 11: measured value, scaled value
	M_ME_TB_1 // 12: measured value, scaled value with time tag
	M_ME_NC_1 // 13: measured value, short floating point number
	M_ME_TC_1 // 14: measured value, short floating point number with time tag
	M_IT_NA_1 // 15: integrated totals
	M_IT_TA_1 // 16: integrated totals with time tag
	M_EP_TA_1 // 17: event of protection equipment with time tag
	M_EP_TB_1 // 18: packed start events of protection equipment with time tag
	M_EP_TC_1 // 19: packed output circuit information of protection equipment with time tag
	M_PS_NA_1 // 20: packed single-point information with status change detection
	M_ME_ND_1 // 21: measured value, normalized value without quality descriptor
	_         // 22: reserved
	_         // 23: reserved
	_         // 24: reserved
	_         // 25: reserved
	_         // 26: reserved
	_         // 27: reserved
	_         // 28: reserved
	_         // 29: reserved
	M_SP_TB_1 // 30: single-point information with time tag CP56Time2a
	M_DP_TB_1 // 31: double-point information with time tag CP56Time2a
	M_ST_TB_1 // 32: step position information with time tag CP56Time2a
	M_BO_TB_1 // 33: bitstring of 32 bits with time tag CP56Time2a
	M_ME_TD_1 // 34: measured value, normalized value with time tag CP56Time2a
	M_ME_TE_1 // 35: measured value, scaled value with time tag CP56Time2a
	M_ME_TF_1 // 36: measured value, short floating point number with time tag CP56Time2a
	M_IT_TB_1 // 37: integrated totals with time tag CP56Time2a
	M_EP_TD_1 // 38: event of protection equipment with time tag CP56Time2a
	M_EP_TE_1 // 39: packed start events of protection equipment with time tag CP56Time2a
	M_EP_TF_1 // 40: packed output circuit information of protection equipment with time tag CP56Time2a
	S_IT_TC_1 // 41: integrated totals containing time-tagged security statistics
	_         // 42: reserved
	_         // 43: reserved
	_         // 44: reserved
	// Process information in the control direction <45..69>
	C_SC_NA_1 // 45: single command
	C_DC_NA_1 // 46: double command
	C_RC_NA_1 // 47: regulating step command
	C_SE_NA_1 // 48: set-point command, normalized value
	C_SE_NB_1 // 49: set-point command, scaled value
	C_SE_NC_1 // 50: set-point command, short floating point number
	C_BO_NA_1 // 51: bitstring of 32 bits
	_         // 52: reserved
	_         // 53: reserved
	_         // 54: reserved
	_         // 55: reserved
	_         // 56: reserved
	_         // 57: reserved
	C_SC_TA_1 // 58: single command with time tag CP56Time2a
	C_DC_TA_1 // 59: double command with time tag CP56Time2a
	C_RC_TA_1 // 60: regulating step command with time tag CP56Time2a
	C_SE_TA_1 // 61: set-point command with time tag CP56Time2a, normalized value
	C_SE_TB_1 // 62: set-point command with time tag CP56Time2a, scaled value
	C_SE_TC_1 // 63: set-point command with time tag CP56Time2a, short floating point number
	C_BO_TA_1 // 64: bitstring of 32-bit with time tag CP56Time2a
	_         // 65: reserved
	_         // 66: reserved
	_         // 67: reserved
	_         // 68: reserved
	_         // 69: reserved
	// System commands in the monitoring direction <70>, <71..99> unmodeled
	M_EI_NA_1 // 70: end of initialization
)

// System commands in the control direction <100..107> and parameter
// commands <110..113>. Given separately from the iota block above
// because the monitoring-direction authentication extensions at
// <71..99> are not modeled.
const (
	C_IC_NA_1 TypeID = iota + 100 // 100: interrogation command
	C_CI_NA_1                     // 101: counter interrogation command
	C_RD_NA_1                     // 102: read command
	C_CS_NA_1                     // 103: clock synchronization command
	C_TS_NA_1                     // 104: test command
	C_RP_NA_1                     // 105: reset process command
	C_CD_NA_1                     // 106: delay acquisition command
	C_TS_TA_1                     // 107: test command with time tag CP56Time2a
)

const (
	P_ME_NA_1 TypeID = iota + 110 // 110: parameter of measured value, normalized value
	P_ME_NB_1                     // 111: parameter of measured value, scaled value
	P_ME_NC_1                     // 112: parameter of measured value, short floating point number
	P_AC_NA_1                     // 113: parameter activation
)

var typeIDNames = map[TypeID]string{
	M_SP_NA_1: "M_SP_NA_1", M_SP_TA_1: "M_SP_TA_1", M_DP_NA_1: "M_DP_NA_1",
	M_DP_TA_1: "M_DP_TA_1", M_ST_NA_1: "M_ST_NA_1", M_ST_TA_1: "M_ST_TA_1",
	M_BO_NA_1: "M_BO_NA_1", M_BO_TA_1: "M_BO_TA_1", M_ME_NA_1: "M_ME_NA_1",
	M_ME_TA_1: "M_ME_TA_1", M_ME_NB_1: "M_ME_NB_1", M_ME_TB_1: "M_ME_TB_1",
	M_ME_NC_1: "M_ME_NC_1", M_ME_TC_1: "M_ME_TC_1", M_IT_NA_1: "M_IT_NA_1",
	M_IT_TA_1: "M_IT_TA_1", M_EP_TA_1: "M_EP_TA_1", M_EP_TB_1: "M_EP_TB_1",
	M_EP_TC_1: "M_EP_TC_1", M_PS_NA_1: "M_PS_NA_1", M_ME_ND_1: "M_ME_ND_1",
	M_SP_TB_1: "M_SP_TB_1", M_DP_TB_1: "M_DP_TB_1", M_ST_TB_1: "M_ST_TB_1",
	M_BO_TB_1: "M_BO_TB_1", M_ME_TD_1: "M_ME_TD_1", M_ME_TE_1: "M_ME_TE_1",
	M_ME_TF_1: "M_ME_TF_1", M_IT_TB_1: "M_IT_TB_1", M_EP_TD_1: "M_EP_TD_1",
	M_EP_TE_1: "M_EP_TE_1", M_EP_TF_1: "M_EP_TF_1", S_IT_TC_1: "S_IT_TC_1",
	C_SC_NA_1: "C_SC_NA_1", C_DC_NA_1: "C_DC_NA_1", C_RC_NA_1: "C_RC_NA_1",
	C_SE_NA_1: "C_SE_NA_1", C_SE_NB_1: "C_SE_NB_1", C_SE_NC_1: "C_SE_NC_1",
	C_BO_NA_1: "C_BO_NA_1", C_SC_TA_1: "C_SC_TA_1", C_DC_TA_1: "C_DC_TA_1",
	C_RC_TA_1: "C_RC_TA_1", C_SE_TA_1: "C_SE_TA_1", C_SE_TB_1: "C_SE_TB_1",
	C_SE_TC_1: "C_SE_TC_1", C_BO_TA_1: "C_BO_TA_1", M_EI_NA_1: "M_EI_NA_1",
	C_IC_NA_1: "C_IC_NA_1", C_CI_NA_1: "C_CI_NA_1", C_RD_NA_1: "C_RD_NA_1",
	C_CS_NA_1: "C_CS_NA_1", C_TS_NA_1: "C_TS_NA_1", C_RP_NA_1: "C_RP_NA_1",
	C_CD_NA_1: "C_CD_NA_1", C_TS_TA_1: "C_TS_TA_1", P_ME_NA_1: "P_ME_NA_1",
	P_ME_NB_1: "P_ME_NB_1", P_ME_NC_1: "P_ME_NC_1", P_AC_NA_1: "P_AC_NA_1",
}

func (sf TypeID) String() string {
	if s, ok := typeIDNames[sf]; ok {
		return "TID<" + s + ">"
	}
	return "TID<" + strconv.Itoa(int(sf)) + ">"
}

// IsMonitoring reports whether the type-id belongs to the monitoring
// (RTU-to-hub) direction, range 1..44 or 70.
func (sf TypeID) IsMonitoring() bool {
	return (sf >= 1 && sf <= 44) || sf == M_EI_NA_1
}

// IsControl reports whether the type-id belongs to the control
// (hub-to-RTU) direction, range 45..69.
func (sf TypeID) IsControl() bool {
	return sf >= 45 && sf <= 69
}

// IsSystem reports whether the type-id is a system command, range
// 100..107.
func (sf TypeID) IsSystem() bool {
	return sf >= 100 && sf <= 107
}

// IsParameter reports whether the type-id is a parameter command, range
// 110..113.
func (sf TypeID) IsParameter() bool {
	return sf >= 110 && sf <= 113
}

// GlobalCompatible reports whether GLOBAL_COA is a legal common address
// for this type-id (spec.md §3): general interrogation, clock sync,
// counter interrogation and reset-process.
func (sf TypeID) GlobalCompatible() bool {
	switch sf {
	case C_IC_NA_1, C_CS_NA_1, C_CI_NA_1, C_RP_NA_1:
		return true
	default:
		return false
	}
}

// Cause is the cause of transmission, bit5-bit0 of the COT octet.
// See companion standard 101, subclass 7.2.3.
type Cause byte

// Cause of transmission values, <0> undefined, <1..47> standard
// definition, <48..63> dedicated range.
const (
	Unused                  Cause = iota // unused
	Periodic                             // periodic, cyclic
	Background                           // background scan
	Spontaneous                          // spontaneous
	Initialized                          // initialized
	Request                              // request or requested
	Activation                           // activation
	ActivationCon                        // activation confirmation
	Deactivation                         // deactivation
	DeactivationCon                      // deactivation confirmation
	ActivationTerm                       // activation termination
	ReturnInfoRemote                     // return information caused by a remote command
	ReturnInfoLocal                      // return information caused by a local command
	FileTransfer                         // file transfer
	Authentication                       // authentication
	SessionKey                           // maintenance of authentication session key
	UserRoleAndUpdateKey                 // maintenance of user role and update key
	_                                    // reserved
	_                                    // reserved
	_                                    // reserved
	InterrogatedByStation                // interrogated by station interrogation
	InterrogatedByGroup1                 // interrogated by group 1 interrogation
	InterrogatedByGroup2                 // interrogated by group 2 interrogation
	InterrogatedByGroup3                 // interrogated by group 3 interrogation
	InterrogatedByGroup4                 // interrogated by group 4 interrogation
	InterrogatedByGroup5                 // interrogated by group 5 interrogation
	InterrogatedByGroup6                 // interrogated by group 6 interrogation
	InterrogatedByGroup7                 // interrogated by group 7 interrogation
	InterrogatedByGroup8                 // interrogated by group 8 interrogation
	InterrogatedByGroup9                 // interrogated by group 9 interrogation
	InterrogatedByGroup10                // interrogated by group 10 interrogation
	InterrogatedByGroup11                // interrogated by group 11 interrogation
	InterrogatedByGroup12                // interrogated by group 12 interrogation
	InterrogatedByGroup13                // interrogated by group 13 interrogation
	InterrogatedByGroup14                // interrogated by group 14 interrogation
	InterrogatedByGroup15                // interrogated by group 15 interrogation
	InterrogatedByGroup16                // interrogated by group 16 interrogation
	RequestByGeneralCounter              // requested by general counter request
	RequestByGroup1Counter               // requested by group 1 counter request
	RequestByGroup2Counter               // requested by group 2 counter request
	RequestByGroup3Counter               // requested by group 3 counter request
	RequestByGroup4Counter               // requested by group 4 counter request
	_                                    // reserved
	_                                    // reserved
	UnknownTypeID                        // unknown type identification
	UnknownCOT                           // unknown cause of transmission
	UnknownCA                            // unknown common address of ASDU
	UnknownIOA                           // unknown information object address
)

var causeNames = [...]string{
	"Unused0", "Periodic", "Background", "Spontaneous", "Initialized",
	"Request", "Activation", "ActivationCon", "Deactivation",
	"DeactivationCon", "ActivationTerm", "ReturnInfoRemote",
	"ReturnInfoLocal", "FileTransfer", "Authentication", "SessionKey",
	"UserRoleAndUpdateKey", "Reserved17", "Reserved18", "Reserved19",
	"InterrogatedByStation", "InterrogatedByGroup1", "InterrogatedByGroup2",
	"InterrogatedByGroup3", "InterrogatedByGroup4", "InterrogatedByGroup5",
	"InterrogatedByGroup6", "InterrogatedByGroup7", "InterrogatedByGroup8",
	"InterrogatedByGroup9", "InterrogatedByGroup10", "InterrogatedByGroup11",
	"InterrogatedByGroup12", "InterrogatedByGroup13", "InterrogatedByGroup14",
	"InterrogatedByGroup15", "InterrogatedByGroup16", "RequestByGeneralCounter",
	"RequestByGroup1Counter", "RequestByGroup2Counter", "RequestByGroup3Counter",
	"RequestByGroup4Counter", "Reserved42", "Reserved43", "UnknownTypeID",
	"UnknownCOT", "UnknownCA", "UnknownIOA",
}

func (sf Cause) String() string {
	if int(sf) < len(causeNames) {
		return causeNames[sf]
	}
	return "Special" + strconv.Itoa(int(sf))
}

// CauseOfTransmission is the cause of transmission octet. See companion
// standard 101, subclass 7.2.3.
type CauseOfTransmission struct {
	IsTest     bool
	IsNegative bool
	Cause      Cause
}

func (sf CauseOfTransmission) String() string {
	s := "COT<" + sf.Cause.String()
	switch {
	case sf.IsNegative && sf.IsTest:
		s += ",neg,test"
	case sf.IsNegative:
		s += ",neg"
	case sf.IsTest:
		s += ",test"
	}
	return s + ">"
}

// CommonAddr addresses an RTU. See companion standard 101, subclass
// 7.2.4. Width (1 or 2 octets) is a codec concern; the hub only needs
// the logical value and the reserved GLOBAL_COA.
type CommonAddr uint16

const (
	// InvalidCommonAddr is the invalid common address.
	InvalidCommonAddr CommonAddr = 0
	// GlobalCommonAddr addresses every RTU simultaneously. Legal only for
	// type-ids where TypeID.GlobalCompatible is true.
	GlobalCommonAddr CommonAddr = 65535
)

// InfoObjAddr is the information object address, unique within its COA.
// See companion standard 101, subclass 7.2.5.
type InfoObjAddr uint

// InfoObjAddrIrrelevant marks that the information object address does
// not apply to this APDU (e.g. whole-station commands).
const InfoObjAddrIrrelevant InfoObjAddr = 0
