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

package dispatcher_test

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/ringfleet/ringcache/internal/dispatcher"
	"github.com/ringfleet/ringcache/internal/hashring"
	"github.com/ringfleet/ringcache/internal/ids"
	"github.com/ringfleet/ringcache/internal/monitor"
)

func portFromURL(rawURL string) ids.Port {
	u, err := url.Parse(rawURL)
	Expect(err).NotTo(HaveOccurred())
	p, err := strconv.Atoi(u.Port())
	Expect(err).NotTo(HaveOccurred())
	return ids.Port(p)
}

func testCfg() dispatcher.Config {
	return dispatcher.Config{
		RedistributionInterval: time.Hour, // tests drive Refresh manually
		InitialAngles:          10,
		Cutoffs:                dispatcher.Cutoffs{0.25, 0.5, 0.75, 1.5},
	}
}

var _ = Describe("Dispatcher", func() {
	var (
		ring *hashring.Ring
		mon  *monitor.Monitor
	)

	BeforeEach(func() {
		ring = hashring.New(1<<16, hashring.FNV1A32, 42)
		mon = monitor.New(monitor.Config{PollTimeout: 500 * time.Millisecond, RecordTTL: 10 * time.Second}, nil, nil)
	})

	It("forwards a request to the ring's chosen backend (single-server ring)", func() {
		backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, "hello from backend")
		}))
		defer backend.Close()

		Expect(mon.AddServer(1, portFromURL(backend.URL), time.Now())).To(Succeed())

		d := dispatcher.New(testCfg(), ring, mon, nil)
		d.Refresh(time.Now())

		srv := httptest.NewServer(d.Handler())
		defer srv.Close()

		for _, key := range []string{"foo", "bar"} {
			resp, err := http.Get(srv.URL + "/api/" + key)
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			resp.Body.Close()
		}
	})

	It("returns 400 when the resource key is missing", func() {
		d := dispatcher.New(testCfg(), ring, mon, nil)
		srv := httptest.NewServer(d.Handler())
		defer srv.Close()

		resp, err := http.Get(srv.URL + "/")
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
	})

	It("returns 503 when the ring has no backends", func() {
		d := dispatcher.New(testCfg(), ring, mon, nil)
		srv := httptest.NewServer(d.Handler())
		defer srv.Close()

		resp, err := http.Get(srv.URL + "/api/foo")
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.StatusCode).To(Equal(http.StatusServiceUnavailable))
	})

	It("maps a mid-request upstream failure to 502 without affecting later keys", func() {
		flaky := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			hj, ok := w.(http.Hijacker)
			Expect(ok).To(BeTrue())
			conn, _, err := hj.Hijack()
			Expect(err).NotTo(HaveOccurred())
			conn.Close()
		}))
		defer flaky.Close()

		healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, "ok")
		}))
		defer healthy.Close()

		Expect(mon.AddServer(1, portFromURL(flaky.URL), time.Now())).To(Succeed())

		d := dispatcher.New(testCfg(), ring, mon, nil)
		d.Refresh(time.Now())

		srv := httptest.NewServer(d.Handler())
		defer srv.Close()

		resp, err := http.Get(srv.URL + "/api/foo")
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.StatusCode).To(Equal(http.StatusBadGateway))
		resp.Body.Close()

		Expect(mon.AddServer(2, portFromURL(healthy.URL), time.Now())).To(Succeed())
		d.Refresh(time.Now())

		other := ""
		for i := 0; i < 1000 && other == ""; i++ {
			k := fmt.Sprintf("key-%d", i)
			if owner, err := ring.FindServerID(k); err == nil && owner == 2 {
				other = k
			}
		}
		Expect(other).NotTo(BeEmpty())

		resp, err = http.Get(srv.URL + "/api/" + other)
		Expect(err).NotTo(HaveOccurred())
		defer resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusOK))
	})

	It("adds a new server's angles on redistribution and removes a disappeared one's", func() {
		backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, "ok")
		}))
		defer backend.Close()

		Expect(mon.AddServer(1, portFromURL(backend.URL), time.Now())).To(Succeed())
		// a second live server, so removing server 1's angles does not hit
		// the ring-never-empty floor covered by the next spec.
		Expect(mon.AddServer(2, portFromURL(backend.URL), time.Now())).To(Succeed())

		d := dispatcher.New(testCfg(), ring, mon, nil)
		d.Refresh(time.Now())
		Expect(ring.HasServer(1)).To(BeTrue())
		Expect(ring.AngleCount(1)).To(Equal(10))

		mon.DeactivateServer(1, time.Now())
		d.Refresh(time.Now())
		Expect(ring.AngleCount(1)).To(Equal(0))
	})

	It("never drains the ring to zero angles when the only server deactivates", func() {
		backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, "ok")
		}))
		defer backend.Close()

		Expect(mon.AddServer(1, portFromURL(backend.URL), time.Now())).To(Succeed())

		d := dispatcher.New(testCfg(), ring, mon, nil)
		ring.AddServer(1)
		Expect(ring.AddAngle(1, 1)).To(Succeed())

		mon.DeactivateServer(1, time.Now())
		d.Refresh(time.Now())

		Expect(ring.AngleCount(1)).To(Equal(1))
	})
})
