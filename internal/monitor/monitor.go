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

// Package monitor polls cache backends for their capacity factor and keeps
// the per-server telemetry history the autoscaler and dispatcher read from.
package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/ringfleet/ringcache/internal/ids"
	"github.com/ringfleet/ringcache/internal/ringerr"
)

// CFSample is one (timestamp, capacity factor) observation.
type CFSample struct {
	Timestamp time.Time
	Value     float64
}

// Info is the externally visible, deep-copied view of one server's
// telemetry, as produced by Snapshot.
type Info struct {
	ID               ids.ServerID
	Port             ids.Port
	Active           bool
	StartTime        time.Time
	DeactivationTime time.Time
	Deactivated      bool
	CurrentCF        float64
	HasCF            bool
	Records          []CFSample
}

// Config holds the monitor's tunables, all sourced from the top-level
// configuration (spec §6).
type Config struct {
	PollTimeout time.Duration
	RecordTTL   time.Duration
}

type entry struct {
	mu sync.RWMutex

	id               ids.ServerID
	port             ids.Port
	startTime        time.Time
	active           bool
	deactivationTime time.Time
	deactivated      bool

	currentCF float64
	hasCF     bool
	records   []CFSample
}

func (e *entry) snapshot() Info {
	e.mu.RLock()
	defer e.mu.RUnlock()

	records := make([]CFSample, len(e.records))
	copy(records, e.records)

	return Info{
		ID:               e.id,
		Port:             e.port,
		Active:           e.active,
		StartTime:        e.startTime,
		DeactivationTime: e.deactivationTime,
		Deactivated:      e.deactivated,
		CurrentCF:        e.currentCF,
		HasCF:            e.hasCF,
		Records:          records,
	}
}

// recordSample publishes a new capacity factor sample and its matching
// history append under the same lock, so a reader never observes one
// without the other.
func (e *entry) recordSample(now time.Time, value float64, ttl time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.currentCF = value
	e.hasCF = true
	e.records = append(e.records, CFSample{Timestamp: now, Value: value})

	if ttl > 0 {
		cutoff := now.Add(-ttl)
		i := 0
		for i < len(e.records) && e.records[i].Timestamp.Before(cutoff) {
			i++
		}
		if i > 0 {
			e.records = append([]CFSample(nil), e.records[i:]...)
		}
	}
}

func (e *entry) deactivate(now time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.active {
		return
	}
	e.active = false
	e.deactivationTime = now
	e.deactivated = true
}

func (e *entry) isActive() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.active
}

func (e *entry) cfOrZero() (float64, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.currentCF, e.hasCF
}

// Monitor is the ServerMonitor of spec §4.2.
type Monitor struct {
	cfg    Config
	client *http.Client
	log    logrus.FieldLogger

	mu     sync.RWMutex
	table  map[ids.ServerID]*entry
	counts map[int64]int
}

// New builds a Monitor. client may be nil, in which case a client carrying
// cfg.PollTimeout as its overall timeout is created.
func New(cfg Config, client *http.Client, log logrus.FieldLogger) *Monitor {
	if client == nil {
		client = &http.Client{Timeout: cfg.PollTimeout}
	}
	return &Monitor{
		cfg:    cfg,
		client: client,
		log:    log,
		table:  make(map[ids.ServerID]*entry),
		counts: make(map[int64]int),
	}
}

// AddServer inserts a new, active ServerInfo for id. It fails with
// DuplicateId if id is already known to the monitor.
func (m *Monitor) AddServer(id ids.ServerID, port ids.Port, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.table[id]; ok {
		return ringerr.New(ringerr.DuplicateId, fmt.Sprintf("server %d already tracked", id))
	}

	m.table[id] = &entry{
		id:        id,
		port:      port,
		startTime: now,
		active:    true,
	}
	return nil
}

// DeactivateServer marks id inactive. It is idempotent: calling it again on
// an already-inactive server has no effect. Unknown ids are silently
// ignored — the monitor never deletes history, so an id that "disappeared"
// from the manager is still a legitimate deactivate target.
func (m *Monitor) DeactivateServer(id ids.ServerID, now time.Time) {
	m.mu.RLock()
	e, ok := m.table[id]
	m.mu.RUnlock()

	if !ok {
		return
	}
	e.deactivate(now)
}

// PingAll polls every active server's capacity-factor endpoint concurrently,
// one outbound request per backend. A failing poll is logged and dropped —
// it never mutates that server's currentCapacityFactor and never fails the
// group.
func (m *Monitor) PingAll(ctx context.Context) {
	m.mu.RLock()
	active := make([]*entry, 0, len(m.table))
	for _, e := range m.table {
		if e.isActive() {
			active = append(active, e)
		}
	}
	m.mu.RUnlock()

	g, gctx := errgroup.WithContext(ctx)
	for _, e := range active {
		e := e
		g.Go(func() error {
			m.pingOne(gctx, e)
			return nil
		})
	}
	_ = g.Wait()
}

func (m *Monitor) pingOne(ctx context.Context, e *entry) {
	reqCtx, cancel := context.WithTimeout(ctx, m.cfg.PollTimeout)
	defer cancel()

	url := fmt.Sprintf("http://127.0.0.1:%d/capacity-factor", e.port)
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		m.logTelemetryError(e.id, err)
		return
	}

	resp, err := m.client.Do(req)
	if err != nil {
		m.logTelemetryError(e.id, err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		m.logTelemetryError(e.id, fmt.Errorf("unexpected status %d", resp.StatusCode))
		return
	}

	var body struct {
		CapacityFactor float64 `json:"capacity_factor"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		m.logTelemetryError(e.id, err)
		return
	}

	e.recordSample(time.Now(), body.CapacityFactor, m.cfg.RecordTTL)
}

func (m *Monitor) logTelemetryError(id ids.ServerID, cause error) {
	err := ringerr.Wrap(ringerr.TelemetryError, fmt.Sprintf("poll of server %d failed", id), cause)
	if m.log != nil {
		m.log.WithFields(logrus.Fields{"server_id": id, "error": err.Error()}).Warn("telemetry poll dropped")
	}
}

// UpdateServerCount records the active-server count for the given second.
// The first write for a given second wins; later calls for the same second
// are no-ops.
func (m *Monitor) UpdateServerCount(second int64, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.counts[second]; ok {
		return
	}
	m.counts[second] = n
}

// AverageCapacityFactor returns the mean of currentCapacityFactor over
// active servers whose value is strictly greater than zero, or 0 if none
// qualify.
func (m *Monitor) AverageCapacityFactor() float64 {
	m.mu.RLock()
	entries := make([]*entry, 0, len(m.table))
	for _, e := range m.table {
		entries = append(entries, e)
	}
	m.mu.RUnlock()

	var sum float64
	var n int
	for _, e := range entries {
		if !e.isActive() {
			continue
		}
		cf, ok := e.cfOrZero()
		if ok && cf > 0 {
			sum += cf
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// Snapshot returns a deep copy of the whole server table.
func (m *Monitor) Snapshot() map[ids.ServerID]Info {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[ids.ServerID]Info, len(m.table))
	for id, e := range m.table {
		out[id] = e.snapshot()
	}
	return out
}
