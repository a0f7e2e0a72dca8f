package translator

// Policy is the SubscriptionPolicy value type (spec.md §4.C "Policy"):
// seven immutable booleans governing how the translator turns raw
// IEC-104 traffic into application messages. A policy change requires
// reconstructing the Translator (spec.md §9 "Policy as configuration")
// — there is no setter.
type Policy struct {
	// SFrames and UFrames govern raw S-/U-format frame callbacks. With
	// both off, OnReceiveAPDU drops such a callback at once; with either
	// on, it falls through to the IgnoreUnknownCOTDPCallbacks check
	// (dropped, or ErrUnsupportedType). The two flags are not told apart,
	// and no message type exists for flow-control frames, so none is ever
	// published. Default off.
	SFrames bool
	// UFrames: see SFrames. Default off.
	UFrames bool
	// Acks forwards ACT_CON/DEACT_CON to subscribers. Default on.
	Acks bool
	// CombineIOs accumulates multi-IOA replies before publishing. Default
	// off, and — per spec.md §9 Open Question 2 — not implemented: see
	// ErrCombineIOsUnsupported.
	CombineIOs bool
	// CombinePeriodicIOs aggregates periodic updates over a bounded
	// window (owned by the subscription manager, spec.md §4.D). Default
	// on.
	CombinePeriodicIOs bool
	// IndependentClockSync is carried in the policy but not read by the
	// translator: OnSendAPDU returns a hub-initiated clock-sync for
	// publication whatever its value. Default off.
	IndependentClockSync bool
	// IgnoreUnknownCOTDPCallbacks drops data-point updates whose COT is
	// unrecognized instead of reporting them. Default on.
	IgnoreUnknownCOTDPCallbacks bool
	// IgnoreQuality treats any quality as good, never suppressing
	// publication on quality grounds. Default on.
	IgnoreQuality bool
}

// DefaultPolicy matches the defaults spec.md §4.C documents for each
// flag.
func DefaultPolicy() Policy {
	return Policy{
		SFrames:                     false,
		UFrames:                     false,
		Acks:                        true,
		CombineIOs:                  false,
		CombinePeriodicIOs:          true,
		IndependentClockSync:        false,
		IgnoreUnknownCOTDPCallbacks: true,
		IgnoreQuality:               true,
	}
}
