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

// Package autoscaler implements the CacheServerManager: it owns the backend
// population, starts and stops backend workers to drive the monitor's
// average capacity factor toward a target, and exposes the server table the
// dispatcher redistributes against.
package autoscaler

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/ringfleet/ringcache/internal/backendworker"
	"github.com/ringfleet/ringcache/internal/ids"
	"github.com/ringfleet/ringcache/internal/monitor"
	"github.com/ringfleet/ringcache/internal/ringerr"
)

// Config holds the manager's tunables, all sourced from the top-level
// configuration (spec §6).
type Config struct {
	TargetCF             float64
	GrowthRate           float64
	ModulationInterval   time.Duration
	InitialBackendCount  int
	PortRangeLo          int
	PortRangeHi          int
	BackendReadyTimeout  time.Duration
	ShutdownGraceTimeout time.Duration
}

// backendHandle tracks one running worker and how to stop it.
type backendHandle struct {
	port   ids.Port
	cancel context.CancelFunc
	done   chan struct{}
}

// Manager is the CacheServerManager of spec §4.3.
type Manager struct {
	cfg     Config
	monitor *monitor.Monitor
	log     logrus.FieldLogger

	idCounter atomic.Uint64
	freePorts *freePortSet

	mu      sync.Mutex
	servers map[ids.ServerID]*backendHandle

	baseMu sync.Mutex
	base   context.Context

	wg sync.WaitGroup
}

// New constructs a Manager bound to mon. It does not start any backends;
// call Start for that. Backends launched before Start (e.g. from the
// control port) are bound to context.Background(), not to whatever call
// spawned them — see workerBase.
func New(cfg Config, mon *monitor.Monitor, log logrus.FieldLogger) *Manager {
	return &Manager{
		cfg:       cfg,
		monitor:   mon,
		log:       log,
		freePorts: newFreePortSet(cfg.PortRangeLo, cfg.PortRangeHi),
		servers:   make(map[ids.ServerID]*backendHandle),
		base:      context.Background(),
	}
}

// workerBase returns the context a newly started backend worker's lifetime
// is derived from. It is never the context of the call that triggered the
// start: once Start has run it is Start's own long-lived ctx, for the
// initial/modulation backends and for on-demand starts from the control port
// alike, and before that it is context.Background(). An HTTP handler's
// request context is cancelled the instant the handler returns, and a
// backend must outlive its own creation request.
func (m *Manager) workerBase() context.Context {
	m.baseMu.Lock()
	defer m.baseMu.Unlock()
	return m.base
}

// Start launches cfg.InitialBackendCount backends and runs the modulation
// loop until ctx is cancelled. It returns once the loop has exited and every
// backend it owns has been stopped.
func (m *Manager) Start(ctx context.Context) error {
	m.baseMu.Lock()
	m.base = ctx
	m.baseMu.Unlock()

	for i := 0; i < m.cfg.InitialBackendCount; i++ {
		if _, _, err := m.startBackend(ctx); err != nil {
			if m.log != nil {
				m.log.WithError(err).Warn("initial backend failed to start")
			}
		}
	}

	ticker := time.NewTicker(m.cfg.ModulationInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return m.stopAll()
		case <-ticker.C:
			m.modulationTick(ctx)
		}
	}
}

// ActiveCount reports how many backends the manager currently owns.
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.servers)
}

// modulationTick runs one iteration of the control loop described in
// spec §4.3: measure, compute a signed delta, and start or stop that many
// backends. NoFreePort and BackendStartTimeout errors are logged and
// retried next tick rather than failing the loop.
func (m *Manager) modulationTick(ctx context.Context) {
	avg := m.monitor.AverageCapacityFactor()
	diff := avg - m.cfg.TargetCF
	delta := int(math.Round(diff * m.cfg.GrowthRate))

	switch {
	case delta > 0:
		for i := 0; i < delta; i++ {
			if _, _, err := m.startBackend(ctx); err != nil {
				if m.log != nil {
					m.log.WithError(err).Warn("modulation start-backend failed")
				}
				break
			}
		}
	case delta < 0:
		n := -delta
		if active := m.ActiveCount(); n > active-1 {
			// Ring-never-empty-equivalent floor: never scale the fleet to
			// zero from the modulation loop itself.
			n = active - 1
		}
		for i := 0; i < n; i++ {
			id, ok := m.pickVictim()
			if !ok {
				break
			}
			if err := m.stopBackend(ctx, id); err != nil && m.log != nil {
				m.log.WithError(err).Warn("modulation stop-backend failed")
			}
		}
	}

	m.monitor.UpdateServerCount(time.Now().Unix(), m.ActiveCount())
}

// startBackend allocates a port, launches a worker bound to it, waits for
// readiness, and registers it with the monitor. ctx only bounds the
// readiness wait — the worker's own lifetime comes from workerBase, so it
// survives past the call that started it.
func (m *Manager) startBackend(ctx context.Context) (ids.ServerID, ids.Port, error) {
	port, ok := m.freePorts.take()
	if !ok {
		return 0, 0, ringerr.New(ringerr.NoFreePort, "no free port in selectable range")
	}

	id := ids.ServerID(m.idCounter.Add(1))

	workerCtx, cancel := context.WithCancel(m.workerBase())
	w := backendworker.New(id, port, m.log)

	done := make(chan struct{})
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer close(done)
		if err := w.Start(workerCtx); err != nil && m.log != nil {
			m.log.WithError(err).WithField("server_id", id).Warn("backend worker exited with error")
		}
	}()

	select {
	case <-w.Ready():
	case <-time.After(m.cfg.BackendReadyTimeout):
		cancel()
		m.freePorts.release(port)
		return 0, 0, ringerr.New(ringerr.BackendStartTimeout, fmt.Sprintf("server %d did not become ready", id))
	case <-ctx.Done():
		cancel()
		m.freePorts.release(port)
		return 0, 0, ctx.Err()
	}

	if err := m.monitor.AddServer(id, port, time.Now()); err != nil {
		cancel()
		m.freePorts.release(port)
		return 0, 0, err
	}

	m.mu.Lock()
	m.servers[id] = &backendHandle{port: port, cancel: cancel, done: done}
	m.mu.Unlock()

	return id, port, nil
}

// stopBackend cancels id's worker context, waits up to
// cfg.ShutdownGraceTimeout for the worker to confirm exit, then returns its
// port to the pool and deactivates it in the monitor. If the grace period
// runs out it stops waiting and returns BackendStopTimeout after releasing
// the port; the worker is not terminated by any means beyond that
// cancellation.
func (m *Manager) stopBackend(ctx context.Context, id ids.ServerID) error {
	m.mu.Lock()
	h, ok := m.servers[id]
	if ok {
		delete(m.servers, id)
	}
	m.mu.Unlock()

	if !ok {
		return ringerr.New(ringerr.UnknownServer, fmt.Sprintf("server %d not tracked by manager", id))
	}

	h.cancel()

	var stopErr error
	select {
	case <-h.done:
	case <-time.After(m.cfg.ShutdownGraceTimeout):
		stopErr = ringerr.New(ringerr.BackendStopTimeout, fmt.Sprintf("server %d did not confirm shutdown in time", id))
	}

	m.freePorts.release(h.port)
	m.monitor.DeactivateServer(id, time.Now())
	return stopErr
}

// pickVictim chooses uniformly at random among the currently active
// servers, per spec §4.3's stop-backend selection rule.
func (m *Manager) pickVictim() (ids.ServerID, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.servers) == 0 {
		return 0, false
	}

	candidates := make([]ids.ServerID, 0, len(m.servers))
	for id := range m.servers {
		candidates = append(candidates, id)
	}
	return candidates[rand.Intn(len(candidates))], true
}

// StartOne starts a single backend on demand, for the manager control
// port's POST /cache-servers handler.
func (m *Manager) StartOne(ctx context.Context) (ids.ServerID, ids.Port, error) {
	return m.startBackend(ctx)
}

// StopOne stops a single backend on demand, for the manager control port's
// DELETE /cache-servers/{id} handler.
func (m *Manager) StopOne(ctx context.Context, id ids.ServerID) error {
	return m.stopBackend(ctx, id)
}

// stopAll terminates every backend the manager owns, in parallel, and waits
// for them all to confirm exit before returning.
func (m *Manager) stopAll() error {
	m.mu.Lock()
	all := make([]ids.ServerID, 0, len(m.servers))
	for id := range m.servers {
		all = append(all, id)
	}
	m.mu.Unlock()

	g := new(errgroup.Group)
	for _, id := range all {
		id := id
		g.Go(func() error {
			return m.stopBackend(context.Background(), id)
		})
	}
	err := g.Wait()
	m.wg.Wait()
	return err
}
