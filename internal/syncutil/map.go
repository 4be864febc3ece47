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

// Package syncutil holds small generic concurrency helpers. Its one user is
// the autoscaler package's free-port set.
package syncutil

import "sync"

// Map is a type-safe wrapper over sync.Map. It backs the autoscaler's
// free-port set as a Map[ids.Port, struct{}]; the monitor's server table and
// the manager's backend handle table are plain mutex-guarded maps instead.
type Map[K comparable, V any] struct {
	m sync.Map
}

// Load returns the value stored for key, if any.
func (s *Map[K, V]) Load(key K) (V, bool) {
	v, ok := s.m.Load(key)
	if !ok {
		var zero V
		return zero, false
	}
	return v.(V), true
}

// Store sets the value for key, replacing any previous value.
func (s *Map[K, V]) Store(key K, value V) {
	s.m.Store(key, value)
}

// LoadAndDelete removes key and returns its value, if it was present.
func (s *Map[K, V]) LoadAndDelete(key K) (V, bool) {
	v, ok := s.m.LoadAndDelete(key)
	if !ok {
		var zero V
		return zero, false
	}
	return v.(V), true
}

// Delete removes key. It is a no-op if key is absent.
func (s *Map[K, V]) Delete(key K) {
	s.m.Delete(key)
}

// Range calls f for every entry. Iteration stops early if f returns false.
// The order is unspecified, as with sync.Map.Range.
func (s *Map[K, V]) Range(f func(key K, value V) bool) {
	s.m.Range(func(k, v any) bool {
		return f(k.(K), v.(V))
	})
}

// Len returns the current number of entries. It is O(n) — intended for
// control-loop bookkeeping, not hot-path use.
func (s *Map[K, V]) Len() int {
	n := 0
	s.m.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// Snapshot returns a deep copy of the map's contents as a plain Go map,
// safe for a caller to read or mutate without affecting the original.
func (s *Map[K, V]) Snapshot() map[K]V {
	out := make(map[K]V)
	s.m.Range(func(k, v any) bool {
		out[k.(K)] = v.(V)
		return true
	})
	return out
}
