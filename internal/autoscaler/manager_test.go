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

package autoscaler_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/ringfleet/ringcache/internal/autoscaler"
	"github.com/ringfleet/ringcache/internal/ids"
	"github.com/ringfleet/ringcache/internal/monitor"
)

func portOf(rawURL string) ids.Port {
	u, err := url.Parse(rawURL)
	Expect(err).NotTo(HaveOccurred())
	p, err := strconv.Atoi(u.Port())
	Expect(err).NotTo(HaveOccurred())
	return ids.Port(p)
}

func testConfig(lo, hi int) autoscaler.Config {
	return autoscaler.Config{
		TargetCF:             0.5,
		GrowthRate:           5.0,
		ModulationInterval:   50 * time.Millisecond,
		InitialBackendCount:  0,
		PortRangeLo:          lo,
		PortRangeHi:          hi,
		BackendReadyTimeout:  2 * time.Second,
		ShutdownGraceTimeout: 2 * time.Second,
	}
}

var _ = Describe("Manager", func() {
	var mon *monitor.Monitor

	BeforeEach(func() {
		mon = monitor.New(monitor.Config{PollTimeout: 500 * time.Millisecond, RecordTTL: 10 * time.Second}, nil, nil)
	})

	It("starts a backend, registers it with the monitor, then stops and recycles its port", func() {
		m := autoscaler.New(testConfig(39100, 39103), mon, nil)
		ctx := context.Background()

		id, port, err := m.StartOne(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(m.ActiveCount()).To(Equal(1))

		snap := mon.Snapshot()
		Expect(snap).To(HaveKey(id))
		Expect(snap[id].Port).To(Equal(port))
		Expect(snap[id].Active).To(BeTrue())

		Expect(m.StopOne(ctx, id)).To(Succeed())
		Expect(m.ActiveCount()).To(Equal(0))
		Expect(mon.Snapshot()[id].Active).To(BeFalse())

		// the freed port is now the lowest free port again, so starting a
		// new backend must reuse it (P5: port recycling).
		_, reusedPort, err := m.StartOne(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(reusedPort).To(Equal(port))
	})

	It("fails with NoFreePort once the selectable range is exhausted", func() {
		m := autoscaler.New(testConfig(39110, 39111), mon, nil)
		ctx := context.Background()

		_, _, err := m.StartOne(ctx)
		Expect(err).NotTo(HaveOccurred())

		_, _, err = m.StartOne(ctx)
		Expect(err).To(HaveOccurred())
	})

	It("stops every owned backend on Start's context cancellation", func() {
		cfg := testConfig(39160, 39170)
		cfg.InitialBackendCount = 3
		cfg.ModulationInterval = 20 * time.Millisecond
		m := autoscaler.New(cfg, mon, nil)

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- m.Start(ctx) }()

		Eventually(m.ActiveCount, 2*time.Second).Should(Equal(3))

		cancel()
		Eventually(done, 3*time.Second).Should(Receive(BeNil()))
		Expect(m.ActiveCount()).To(Equal(0))
	})

	It("keeps a backend alive after the POST /cache-servers request that created it completes", func() {
		m := autoscaler.New(testConfig(39180, 39183), mon, nil)
		srv := httptest.NewServer(m.Handler())
		defer srv.Close()

		resp, err := http.Post(srv.URL+"/cache-servers", "application/json", nil)
		Expect(err).NotTo(HaveOccurred())
		defer resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusOK))

		var created struct {
			ID   ids.ServerID `json:"id"`
			Port ids.Port     `json:"port"`
		}
		Expect(json.NewDecoder(resp.Body).Decode(&created)).To(Succeed())

		// the handler's request context is cancelled the moment the POST
		// above returns; the backend must not be torn down along with it.
		Consistently(m.ActiveCount, 300*time.Millisecond, 50*time.Millisecond).Should(Equal(1))
		Expect(mon.Snapshot()[created.ID].Active).To(BeTrue())
	})

	It("maps DELETE of an unknown server id to 404, not a generic failure", func() {
		m := autoscaler.New(testConfig(39190, 39193), mon, nil)
		srv := httptest.NewServer(m.Handler())
		defer srv.Close()

		req, err := http.NewRequest(http.MethodDelete, srv.URL+"/cache-servers/999", nil)
		Expect(err).NotTo(HaveOccurred())
		resp, err := http.DefaultClient.Do(req)
		Expect(err).NotTo(HaveOccurred())
		defer resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
	})
})
