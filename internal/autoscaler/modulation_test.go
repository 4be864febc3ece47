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

// White-box specs for the modulation tick: they live in package autoscaler
// (not autoscaler_test) because they prime the monitor's capacity factor
// directly rather than standing up real backend workers, and call the
// unexported tick function the same way the real control loop does.
package autoscaler

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

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

var _ = Describe("modulationTick", func() {
	var mon *monitor.Monitor

	BeforeEach(func() {
		mon = monitor.New(monitor.Config{PollTimeout: 500 * time.Millisecond, RecordTTL: 10 * time.Second}, nil, nil)
	})

	It("scales up by round((avg-targetCf)*growthRate) when avg exceeds targetCf", func() {
		m := New(Config{
			TargetCF: 0.5, GrowthRate: 5.0,
			PortRangeLo: 39200, PortRangeHi: 39220,
			BackendReadyTimeout: 2 * time.Second, ShutdownGraceTimeout: 2 * time.Second,
		}, mon, nil)
		ctx := context.Background()

		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `{"capacity_factor": 0.8}`)
		}))
		defer srv.Close()

		Expect(mon.AddServer(9001, portFromURL(srv.URL), time.Now())).To(Succeed())
		mon.PingAll(ctx)
		Expect(mon.AverageCapacityFactor()).To(Equal(0.8))

		before := m.ActiveCount()
		m.modulationTick(ctx)
		Expect(m.ActiveCount() - before).To(Equal(2))
	})

	It("never scales below one backend from the modulation loop", func() {
		m := New(Config{
			TargetCF: 0.5, GrowthRate: 5.0,
			PortRangeLo: 39230, PortRangeHi: 39240,
			BackendReadyTimeout: 2 * time.Second, ShutdownGraceTimeout: 2 * time.Second,
		}, mon, nil)
		ctx := context.Background()

		_, _, err := m.startBackend(ctx)
		Expect(err).NotTo(HaveOccurred())

		m.modulationTick(ctx)
		Expect(m.ActiveCount()).To(Equal(1))
	})
})
