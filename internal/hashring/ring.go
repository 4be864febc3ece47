/*
 * MIT License
 *
 * Copyright (c) 2026 ringcache contributors
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in all
 * copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 *
 *
 */

// Package hashring implements the weighted consistent-hash ring: a modular
// position space populated with per-server angles, remapped as backends are
// added, removed or reweighted by load telemetry.
package hashring

import (
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/ringfleet/ringcache/internal/ids"
	"github.com/ringfleet/ringcache/internal/ringerr"
)

// maxDrawAttempts bounds how many times addAngle retries a colliding draw
// before giving up with RingSaturated.
const maxDrawAttempts = 64

// angle is a single (position, serverId) pair placed on the ring.
type angle struct {
	position uint32
	server   ids.ServerID
}

// Snapshot is a deep, read-only copy of anglesByServer taken at a point in
// time. Positions are listed sorted for reproducible comparisons in tests.
type Snapshot struct {
	Timestamp time.Time
	Servers   map[ids.ServerID][]uint32
}

// Ring is the weighted consistent-hash ring described in spec §4.1. All
// exported methods are safe for concurrent use; a single RWMutex serializes
// mutation against lookup so findServerId always sees an atomic view.
type Ring struct {
	mu sync.RWMutex

	size     uint32
	hashFn   HashFunc
	rnd      *rand.Rand
	angles   []angle                 // sorted ascending by position
	byServer map[ids.ServerID][]uint32 // sorted ascending positions owned by id
	history  []Snapshot
}

// New creates an empty ring of the given size (must be a power of two, at
// least 2^14 per spec; New enforces neither, and the config layer validates
// only the 2^14 floor) using the given hash function and a
// deterministic seed so that position draws are reproducible across runs.
func New(size uint32, hashFn HashFunc, seed int64) *Ring {
	return &Ring{
		size:     size,
		hashFn:   hashFn,
		rnd:      rand.New(rand.NewSource(seed)),
		byServer: make(map[ids.ServerID][]uint32),
	}
}

// AddServer registers id with zero angles. It is idempotent: calling it
// again for an id already known is a no-op.
func (r *Ring) AddServer(id ids.ServerID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byServer[id]; !ok {
		r.byServer[id] = nil
	}
}

// HasServer reports whether id is registered on the ring, with or without
// angles.
func (r *Ring) HasServer(id ids.ServerID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.byServer[id]
	return ok
}

// Servers returns the ids of every server currently registered on the ring,
// including ones with zero angles.
func (r *Ring) Servers() []ids.ServerID {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]ids.ServerID, 0, len(r.byServer))
	for id := range r.byServer {
		out = append(out, id)
	}
	return out
}

// AngleCount returns the number of angles currently owned by id.
func (r *Ring) AngleCount(id ids.ServerID) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.byServer[id])
}

// FindServerID computes pos = H(resourceName) mod M and returns the server
// owning the smallest angle position >= pos, wrapping to the smallest
// position on the ring if none qualifies. Returns RingEmpty if no angle
// exists.
func (r *Ring) FindServerID(resourceName string) (ids.ServerID, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.angles) == 0 {
		return 0, ringerr.New(ringerr.RingEmpty, "no angles on the ring")
	}

	pos := r.hashFn.hash(resourceName) % r.size

	idx := sort.Search(len(r.angles), func(i int) bool {
		return r.angles[i].position >= pos
	})
	if idx == len(r.angles) {
		idx = 0
	}

	return r.angles[idx].server, nil
}

// AddAngle draws n fresh, collision-free positions for id and adds them to
// the ring. A draw colliding with any existing position is retried, up to
// maxDrawAttempts times per angle, after which AddAngle returns
// RingSaturated and leaves any angles already added in place.
func (r *Ring) AddAngle(id ids.ServerID, n int) error {
	if n <= 0 {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	occupied := make(map[uint32]struct{}, len(r.angles)+n)
	for _, a := range r.angles {
		occupied[a.position] = struct{}{}
	}

	var err error
	for i := 0; i < n; i++ {
		pos, ok := r.drawPosition(occupied)
		if !ok {
			err = ringerr.New(ringerr.RingSaturated, "exhausted position draws for a new angle")
			break
		}

		occupied[pos] = struct{}{}
		r.angles = append(r.angles, angle{position: pos, server: id})
		r.byServer[id] = append(r.byServer[id], pos)
	}

	r.resort()
	owned := r.byServer[id]
	sort.Slice(owned, func(i, j int) bool { return owned[i] < owned[j] })
	return err
}

func (r *Ring) drawPosition(occupied map[uint32]struct{}) (uint32, bool) {
	for attempt := 0; attempt < maxDrawAttempts; attempt++ {
		pos := uint32(r.rnd.Int63n(int64(r.size)))
		if _, taken := occupied[pos]; !taken {
			return pos, true
		}
	}
	return 0, false
}

// RemoveAngle removes up to n angles owned by id. If id owns fewer than n,
// all of its angles are removed. The removal order is deterministic: the
// angles whose positions sort last are removed first, so that repeating
// RemoveAngle(id, k) with no other mutation between calls always removes
// the same k angles.
func (r *Ring) RemoveAngle(id ids.ServerID, n int) {
	if n <= 0 {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	owned := r.byServer[id]
	if len(owned) == 0 {
		return
	}

	sorted := append([]uint32(nil), owned...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	if n > len(sorted) {
		n = len(sorted)
	}
	toRemove := make(map[uint32]struct{}, n)
	for _, pos := range sorted[len(sorted)-n:] {
		toRemove[pos] = struct{}{}
	}

	newAngles := r.angles[:0:0]
	for _, a := range r.angles {
		if a.server == id {
			if _, drop := toRemove[a.position]; drop {
				continue
			}
		}
		newAngles = append(newAngles, a)
	}
	r.angles = newAngles

	remaining := owned[:0:0]
	for _, pos := range owned {
		if _, drop := toRemove[pos]; !drop {
			remaining = append(remaining, pos)
		}
	}
	r.byServer[id] = remaining

	r.resort()
}

// resort re-establishes the angles-sorted-by-position invariant after a
// mutation. The ring is small enough (a handful of angles per server) that
// a full re-sort per mutation is simpler and just as correct as an
// insertion-sort fast path, and it keeps findServerId's binary search valid
// without any separate bookkeeping.
func (r *Ring) resort() {
	sort.Slice(r.angles, func(i, j int) bool {
		return r.angles[i].position < r.angles[j].position
	})
}

// RecordSnapshot appends a deep copy of the current anglesByServer mapping
// to the ring's history, timestamped at now. The stored copy is immune to
// later mutation (P6).
func (r *Ring) RecordSnapshot(now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.history = append(r.history, Snapshot{
		Timestamp: now,
		Servers:   deepCopyByServer(r.byServer),
	})
}

// History returns a deep copy of every snapshot recorded so far, oldest
// first.
func (r *Ring) History() []Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Snapshot, len(r.history))
	for i, s := range r.history {
		out[i] = Snapshot{Timestamp: s.Timestamp, Servers: deepCopyByServer(s.Servers)}
	}
	return out
}

// CurrentByServer returns a deep copy of the live anglesByServer mapping,
// for callers that want a read without also recording it to history.
func (r *Ring) CurrentByServer() map[ids.ServerID][]uint32 {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return deepCopyByServer(r.byServer)
}

func deepCopyByServer(in map[ids.ServerID][]uint32) map[ids.ServerID][]uint32 {
	out := make(map[ids.ServerID][]uint32, len(in))
	for id, positions := range in {
		cp := make([]uint32, len(positions))
		copy(cp, positions)
		out[id] = cp
	}
	return out
}
