// Package identity mints and recognizes message reference numbers
// (spec.md §3 "Reference numbers", §4.G, §9 "Global counters"): hub-
// initiated numbers carry the "MTU_" prefix and a process-wide counter,
// subscriber-initiated numbers carry a per-subscription-type prefix
// handed out at SubscriptionInit and are never minted by the hub.
package identity

import (
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// HubPrefix is the reference-number prefix for every message the hub
// originates on its own initiative (periodic updates, spontaneous
// reports, connection-lifecycle events, independently-issued clock
// syncs) rather than in reply to a subscriber command.
const HubPrefix = "MTU"

// Generator mints reference numbers and tells hub-initiated ones apart
// from subscriber-initiated ones (translator.RefGen, commandserver's
// prefix handshake). The zero value is not usable; use New.
type Generator struct {
	counter uint64

	mu     sync.Mutex
	counts map[string]int
}

// New builds a reference-number Generator starting its hub counter at
// zero.
func New() *Generator {
	return &Generator{counts: make(map[string]int)}
}

// NextMTURef mints the next hub-initiated reference number. The counter
// is the spec's mtu_msg_cnt (spec.md §9 Open Question 3): incremented
// exactly once per call via an atomic add, so concurrent callers never
// observe or mint the same number twice.
func (g *Generator) NextMTURef() string {
	n := atomic.AddUint64(&g.counter, 1)
	return HubPrefix + "_" + strconv.FormatUint(n, 10)
}

// IsHubInitiated reports whether ref was minted by NextMTURef.
func (g *Generator) IsHubInitiated(ref string) bool {
	return strings.HasPrefix(ref, HubPrefix+"_")
}

// Count returns the number of hub-initiated reference numbers minted so
// far, the read side of mtu_msg_cnt (spec.md §9 "Global counters").
func (g *Generator) Count() uint64 {
	return atomic.LoadUint64(&g.counter)
}

// SubscriptionPrefix derives the reference-number prefix handed to a
// newly connected subscriber (spec.md §4.G): the first subscriber of a
// given type gets the bare type string, every subsequent one of the same
// type gets "<type>_<n>". This guarantees prefix uniqueness within a
// hub's lifetime without any global coordination; a hub restart resets
// the counters, so subscribers must rehandshake on reconnect.
func (g *Generator) SubscriptionPrefix(subscriptionType string) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := g.counts[subscriptionType]
	g.counts[subscriptionType] = n + 1
	if n == 0 {
		return subscriptionType
	}
	return subscriptionType + "_" + strconv.Itoa(n)
}

// CorrelationID mints a process-local identifier stamped onto
// SubscriptionInitReply for log correlation only; it is never a message
// reference number and plays no part in routing or retry bookkeeping.
func CorrelationID() string {
	return uuid.New().String()
}
