package cache

import (
	"fmt"

	"github.com/fkie-cad/mtuhub/asdu"
)

// Cache is the message cache (spec.md §3, §4.B): four independently
// locked sub-stores. Every operation holds at most one sub-store's lock
// at a time (CleanForRTU and Snapshot visit the sub-stores one after
// another), which is what rules out deadlock across the cache
// (spec.md §4.B, §5 "no task holds a cache lock across an I/O call").
type Cache struct {
	DataPoints    *dpStore
	Parameters    *dpStore
	Global        *globalStore
	Interrogation *interrogationStore
}

// New builds an empty cache.
func New() *Cache {
	return &Cache{
		DataPoints:    newDPStore(),
		Parameters:    newDPStore(),
		Global:        newGlobalStore(),
		Interrogation: newInterrogationStore(),
	}
}

// CleanForRTU iterates every sub-store, removes every non-terminal entry
// whose COA matches, and returns the list of abandoned reference numbers
// (spec.md §4.B, used on RTU disconnection to produce a cancellation
// message per §4.D and §8 invariant 3).
func (c *Cache) CleanForRTU(coa asdu.CommonAddr) []string {
	var refs []string
	refs = append(refs, c.DataPoints.cleanForRTU(coa)...)
	refs = append(refs, c.Parameters.cleanForRTU(coa)...)
	refs = append(refs, c.Global.cleanForRTU(coa)...)
	refs = append(refs, c.Interrogation.cleanForRTU(coa)...)
	return refs
}

// Snapshot is a JSON-friendly view of cache occupancy, used by the
// MtuCacheReq/Reply pair (spec.md §4.E) for introspection. It is not an
// authoritative store (spec.md §1 Non-goals) — just a point-in-time
// view of what is currently active.
type Snapshot struct {
	DataPoints map[string]string `json:"data_points"`
	Parameters map[string]string `json:"parameters"`
}

// Snapshot renders the cache's current occupancy for MtuCacheReply.
func (c *Cache) Snapshot() Snapshot {
	snap := Snapshot{
		DataPoints: make(map[string]string),
		Parameters: make(map[string]string),
	}
	for k, v := range c.DataPoints.snapshot() {
		snap.DataPoints[dpKeyString(k)] = v
	}
	for k, v := range c.Parameters.snapshot() {
		snap.Parameters[dpKeyString(k)] = v
	}
	return snap
}

func dpKeyString(k DPKey) string {
	return fmt.Sprintf("%d:%d", k.COA, k.IOA)
}
