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

// Package dispatcher is the client-facing HTTP listener: it maps each
// inbound request's resource key to a backend via the hash ring, forwards
// the request, and runs the redistribution loop that keeps the ring's
// weights in step with the monitor's telemetry.
package dispatcher

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ringfleet/ringcache/internal/hashring"
	"github.com/ringfleet/ringcache/internal/ids"
	"github.com/ringfleet/ringcache/internal/monitor"
	"github.com/ringfleet/ringcache/internal/ringerr"
)

// Cutoffs is the four-element load-band vector of spec §4.4, ordered
// c0 < c1 < c2 < c3.
type Cutoffs [4]float64

// Config holds the dispatcher's tunables, all sourced from the top-level
// configuration (spec §6).
type Config struct {
	RedistributionInterval time.Duration
	InitialAngles          int
	Cutoffs                Cutoffs
}

// Dispatcher is the Dispatcher of spec §4.4.
type Dispatcher struct {
	cfg     Config
	ring    *hashring.Ring
	monitor *monitor.Monitor
	log     logrus.FieldLogger
	client  *http.Client

	snapshot atomic.Pointer[map[ids.ServerID]monitor.Info]
}

// New builds a Dispatcher over an existing ring and monitor. The monitor is
// expected to be shared with the autoscaler that populates it; the ring is
// populated by the dispatcher's own Refresh.
func New(cfg Config, ring *hashring.Ring, mon *monitor.Monitor, log logrus.FieldLogger) *Dispatcher {
	d := &Dispatcher{
		cfg:     cfg,
		ring:    ring,
		monitor: mon,
		log:     log,
		client:  &http.Client{Timeout: 5 * time.Second},
	}
	empty := map[ids.ServerID]monitor.Info{}
	d.snapshot.Store(&empty)
	return d
}

// Run executes the redistribution loop until ctx is cancelled, refreshing
// the ring and the cached server-info snapshot every
// cfg.RedistributionInterval.
func (d *Dispatcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.cfg.RedistributionInterval)
	defer ticker.Stop()

	d.Refresh(time.Now())

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			d.Refresh(time.Now())
		}
	}
}

// Refresh pulls the monitor's current table, reconciles the ring against it
// (spec §4.4 redistribution loop steps 2-5), and republishes the cached
// server-info snapshot the request handler reads from. Run calls this on
// its own cadence; it is exported so operators and tests can force an
// out-of-band reconciliation.
func (d *Dispatcher) Refresh(now time.Time) {
	snap := d.monitor.Snapshot()

	for id := range snap {
		if !d.ring.HasServer(id) {
			d.ring.AddServer(id)
			if err := d.ring.AddAngle(id, d.cfg.InitialAngles); err != nil && d.log != nil {
				d.log.WithError(err).WithField("server_id", id).Warn("could not seed angles for new server")
			}
		}
	}

	for _, id := range d.ring.Servers() {
		info, known := snap[id]
		if known && info.Active {
			continue
		}
		d.safeRemoveAngle(id, d.ring.AngleCount(id))
	}

	for id, info := range snap {
		if !info.Active || !info.HasCF {
			continue
		}
		d.applyLoadBand(id, info.CurrentCF)
	}

	d.ring.RecordSnapshot(now)
	d.snapshot.Store(&snap)
}

// applyLoadBand implements the five-band reweighting rule of spec §4.4
// step 4 against the configured cutoff vector.
func (d *Dispatcher) applyLoadBand(id ids.ServerID, cf float64) {
	c := d.cfg.Cutoffs
	switch {
	case cf < c[0]:
		_ = d.ring.AddAngle(id, 3)
	case cf < c[1]:
		_ = d.ring.AddAngle(id, 1)
	case cf <= c[2]:
		// mid band: no change
	case cf <= c[3]:
		d.safeRemoveAngle(id, 1)
	default:
		d.safeRemoveAngle(id, 3)
	}
}

// safeRemoveAngle removes up to n angles from id unless doing so would
// leave the ring with zero total angles, in which case it removes only
// enough to leave exactly one — the ring-never-empty guarantee of
// spec §4.4 (a single overloaded server beats dropping all traffic).
func (d *Dispatcher) safeRemoveAngle(id ids.ServerID, n int) {
	if n <= 0 {
		return
	}

	total := 0
	for _, sid := range d.ring.Servers() {
		total += d.ring.AngleCount(sid)
	}

	if total-n < 1 {
		n = total - 1
		if n <= 0 {
			return
		}
	}
	d.ring.RemoveAngle(id, n)
}

// Handler builds the dispatcher client port's HTTP surface: any method and
// path are accepted, the final path segment is the resource key.
func (d *Dispatcher) Handler() http.Handler {
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.NoRoute(d.handleRequest)
	return engine
}

func (d *Dispatcher) handleRequest(c *gin.Context) {
	reqID := uuid.NewString()
	log := d.log
	if log != nil {
		log = log.WithField("request_id", reqID)
	}

	key := resourceKey(c.Request.URL.Path)
	if key == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing resource key"})
		return
	}

	serverID, err := d.ring.FindServerID(key)
	if err != nil {
		if log != nil {
			log.WithError(err).Warn("no backend available for request")
		}
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no backend available"})
		return
	}

	info, ok := d.lookup(serverID)
	if !ok {
		d.Refresh(time.Now())
		info, ok = d.lookup(serverID)
		if !ok {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "backend not found"})
			return
		}
	}

	d.proxy(c, info.Port, log)
}

func (d *Dispatcher) lookup(id ids.ServerID) (monitor.Info, bool) {
	table := *d.snapshot.Load()
	info, ok := table[id]
	return info, ok
}

// proxy forwards the request to the resolved backend, preserving the
// original path and query, and maps transport failures to 502 per spec §7.
func (d *Dispatcher) proxy(c *gin.Context, port ids.Port, log logrus.FieldLogger) {
	target := &url.URL{Scheme: "http", Host: fmt.Sprintf("127.0.0.1:%d", port)}

	rp := httputil.NewSingleHostReverseProxy(target)
	rp.Transport = &http.Transport{ResponseHeaderTimeout: d.client.Timeout}
	rp.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		wrapped := ringerr.Wrap(ringerr.UpstreamIOError, "forwarding request to backend", err)
		if log != nil {
			log.WithError(wrapped).Warn("upstream forwarding failed")
		}
		w.WriteHeader(http.StatusBadGateway)
	}

	rp.ServeHTTP(c.Writer, c.Request)
}

// resourceKey extracts the final non-empty path segment, spec §4.4 step 1.
func resourceKey(path string) string {
	trimmed := strings.TrimRight(path, "/")
	idx := strings.LastIndex(trimmed, "/")
	if idx < 0 {
		return trimmed
	}
	return trimmed[idx+1:]
}
