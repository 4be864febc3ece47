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

// Package backendworker implements the external contract spec §6 places on
// a cache backend: a loopback HTTP listener that answers capacity-factor
// telemetry and serves opaque resource requests. Its internal request
// handling is deliberately synthetic — spec §1 puts real cache semantics out
// of scope — so the manager and dispatcher have something concrete to
// start, poll and forward to.
package backendworker

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/ringfleet/ringcache/internal/ids"
)

// Worker is one simulated cache backend process.
type Worker struct {
	id   ids.ServerID
	port ids.Port
	log  logrus.FieldLogger

	ready    chan struct{}
	listener net.Listener
	srv      *http.Server

	cf atomicFloat
	rnd *rand.Rand
}

// atomicFloat stores a float64 behind an atomic.Uint64, since the standard
// library has no atomic.Float64.
type atomicFloat struct{ bits atomic.Uint64 }

func (f *atomicFloat) store(v float64) { f.bits.Store(math.Float64bits(v)) }
func (f *atomicFloat) load() float64   { return math.Float64frombits(f.bits.Load()) }

// New constructs a worker for id bound to port. It does not start listening
// until Start is called.
func New(id ids.ServerID, port ids.Port, log logrus.FieldLogger) *Worker {
	w := &Worker{
		id:    id,
		port:  port,
		log:   log,
		ready: make(chan struct{}),
		rnd:   rand.New(rand.NewSource(int64(id)*2654435761 + int64(port))),
	}
	w.cf.store(0.1)
	return w
}

// Ready returns a channel closed once the worker's listener is bound and
// accepting connections — the readiness signal spec §9 calls for in place
// of busy-polling a port field.
func (w *Worker) Ready() <-chan struct{} {
	return w.ready
}

// Port returns the backend's bound port.
func (w *Worker) Port() ids.Port {
	return w.port
}

// Start binds the listener, signals readiness, and serves until ctx is
// cancelled or Stop is called. It blocks until the server has stopped
// accepting new connections; callers typically run it in its own goroutine.
func (w *Worker) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", w.port))
	if err != nil {
		return err
	}
	w.listener = ln

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.GET("/capacity-factor", w.handleCapacityFactor)
	engine.NoRoute(w.handleResource)

	w.srv = &http.Server{Handler: engine}

	stopFluctuation := w.startFluctuation(ctx)
	defer stopFluctuation()

	close(w.ready)

	errCh := make(chan error, 1)
	go func() { errCh <- w.srv.Serve(ln) }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = w.srv.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

// Stop gracefully shuts the worker's HTTP server down within ctx's deadline.
func (w *Worker) Stop(ctx context.Context) error {
	if w.srv == nil {
		return nil
	}
	return w.srv.Shutdown(ctx)
}

func (w *Worker) handleCapacityFactor(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"capacity_factor": w.cf.load()})
}

func (w *Worker) handleResource(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"server_id": w.id,
		"resource":  lastSegment(c.Request.URL.Path),
	})
}

func lastSegment(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[i+1:]
		}
	}
	return path
}

// startFluctuation runs a background random walk over the worker's
// reported capacity factor so the manager and dispatcher have a real signal
// to react to end to end, instead of a constant. It returns a stop func.
func (w *Worker) startFluctuation(ctx context.Context) func() {
	done := make(chan struct{})
	go func() {
		t := time.NewTicker(750 * time.Millisecond)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-done:
				return
			case <-t.C:
				delta := (w.rnd.Float64() - 0.5) * 0.2
				next := w.cf.load() + delta
				if next < 0 {
					next = 0
				}
				if next > 2 {
					next = 2
				}
				w.cf.store(next)
			}
		}
	}()
	return func() { close(done) }
}
