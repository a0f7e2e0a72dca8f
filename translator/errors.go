package translator

import "errors"

// Error kinds from spec.md §7 "Protocol-unsupported" / "Protocol-invalid".
var (
	// ErrUnsupportedType is returned when a type-id is not in the
	// supported set, or its COT is not legal in the direction attempted.
	ErrUnsupportedType = errors.New("translator: unsupported type-id or cause")
	// ErrInvalidAPDU is returned when an APDU's shape violates IEC-104:
	// GLOBAL_COA on a non-compatible type. IOA cardinality is not checked.
	ErrInvalidAPDU = errors.New("translator: invalid apdu")
	// ErrUnexpectedAPDU is returned for an APDU that cannot be explained
	// by any cache state (e.g. INTERROGATED_BY_STATION with no matching
	// interrogation in RECEIVED_ACK).
	ErrUnexpectedAPDU = errors.New("translator: unexpected apdu")
	// ErrCombineIOsUnsupported is returned when Policy.CombineIOs is set;
	// spec.md §9 Open Question 2 notes the source's own implementation
	// is incomplete, and implementers may omit it behind a clear error.
	ErrCombineIOsUnsupported = errors.New("translator: combine_IOs is not implemented")
)
