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

package autoscaler

import (
	"sort"
	"sync"

	"github.com/ringfleet/ringcache/internal/ids"
	"github.com/ringfleet/ringcache/internal/syncutil"
)

// freePortSet is the ordered set of ports available for allocation. A
// retired server's port returns here; a start-backend draw always takes the
// lowest free port, so the selectable range fills up predictably. Storage is
// a syncutil.Map; mu only serializes take()'s snapshot-then-delete so two
// concurrent draws never hand out the same port.
type freePortSet struct {
	mu    sync.Mutex
	ports syncutil.Map[ids.Port, struct{}]
}

func newFreePortSet(lo, hi int) *freePortSet {
	s := &freePortSet{}
	for p := lo; p < hi; p++ {
		s.ports.Store(ids.Port(p), struct{}{})
	}
	return s
}

// take removes and returns the lowest free port. ok is false if the range
// is exhausted.
func (s *freePortSet) take() (ids.Port, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := s.ports.Snapshot()
	if len(snap) == 0 {
		return 0, false
	}

	all := make([]ids.Port, 0, len(snap))
	for p := range snap {
		all = append(all, p)
	}
	sort.Slice(all, func(i, j int) bool { return all[i] < all[j] })

	p := all[0]
	s.ports.Delete(p)
	return p, true
}

// release returns a port to the set.
func (s *freePortSet) release(p ids.Port) {
	s.ports.Store(p, struct{}{})
}

func (s *freePortSet) len() int {
	return s.ports.Len()
}
