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

// Package ringerr carries the small set of error kinds the core control
// loops raise. It follows the shape of a numeric-code error registry with
// parent chaining, trimmed to the handful of codes this system needs.
package ringerr

import "fmt"

// Code identifies a kind of error raised by the ring, monitor, manager or
// dispatcher. Codes are stable and safe to compare with errors.Is.
type Code uint8

const (
	// RingEmpty is returned by findServerId when no angle exists.
	RingEmpty Code = iota + 1
	// RingSaturated is returned by addAngle when no free position could be
	// drawn within the bounded number of attempts.
	RingSaturated
	// DuplicateId is returned by the monitor when addServer is called for an
	// id it already tracks, whether that server is active or deactivated.
	DuplicateId
	// UnknownServer is returned when an operation references a server id
	// the manager has no record of.
	UnknownServer
	// NoFreePort is returned by the manager when the selectable port range
	// is exhausted.
	NoFreePort
	// BackendStartTimeout is returned when a newly launched backend does not
	// signal readiness within the configured bound.
	BackendStartTimeout
	// BackendStopTimeout is returned when a backend does not confirm exit
	// within the configured shutdown grace period.
	BackendStopTimeout
	// UpstreamIOError wraps a transport failure while forwarding a request
	// to a resolved backend.
	UpstreamIOError
	// TelemetryError wraps a transport or decode failure while polling a
	// backend's capacity factor.
	TelemetryError
)

func (c Code) String() string {
	switch c {
	case RingEmpty:
		return "RingEmpty"
	case RingSaturated:
		return "RingSaturated"
	case DuplicateId:
		return "DuplicateId"
	case UnknownServer:
		return "UnknownServer"
	case NoFreePort:
		return "NoFreePort"
	case BackendStartTimeout:
		return "BackendStartTimeout"
	case BackendStopTimeout:
		return "BackendStopTimeout"
	case UpstreamIOError:
		return "UpstreamIOError"
	case TelemetryError:
		return "TelemetryError"
	default:
		return "Unknown"
	}
}

// Error is the concrete error type raised by this module's packages. It
// carries a stable Code plus an optional parent error for context.
type Error struct {
	code   Code
	msg    string
	parent error
}

// New builds an Error for code with an explanatory message.
func New(code Code, msg string) *Error {
	return &Error{code: code, msg: msg}
}

// Wrap builds an Error for code that chains parent as its cause.
func Wrap(code Code, msg string, parent error) *Error {
	return &Error{code: code, msg: msg, parent: parent}
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.parent != nil {
		return fmt.Sprintf("%s: %s: %v", e.code, e.msg, e.parent)
	}
	return fmt.Sprintf("%s: %s", e.code, e.msg)
}

// Unwrap exposes the parent error to errors.Is/errors.As chains.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.parent
}

// Code returns the error's stable kind.
func (e *Error) Code() Code {
	if e == nil {
		return 0
	}
	return e.code
}

// Is allows errors.Is(err, ringerr.Sentinel(ringerr.RingEmpty)) style
// comparisons by treating target as a sentinel-coded Error.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || e == nil {
		return false
	}
	return e.code == t.code
}

// Sentinel returns a comparable, parent-less Error for a code, suitable for
// use with errors.Is as the target.
func Sentinel(code Code) *Error {
	return &Error{code: code}
}
