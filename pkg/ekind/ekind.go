/*
 * Copyright 2024 Plume Design Inc.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at https://mozilla.org/MPL/2.0/.
 */

// Package ekind implements the error taxonomy every engine component
// reports through: a small, closed set of Kinds that callers switch on to
// decide how to recover, each optionally wrapping an underlying cause.
package ekind

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind discriminates the handful of ways a component can fail. See
// spec §7 for the recovery policy attached to each.
type Kind int

// The error kinds used throughout the engine.
const (
	// NotFound is a lookup miss. Callers always recover, either by
	// creating the missing record or by ignoring the event.
	NotFound Kind = iota
	// Malformed is a frame/IE/parse error. The frame is dropped and the
	// error logged at debug.
	Malformed
	// Unsupported means the driver can't execute the requested
	// operation. Logged at info; the state machine records a fallback.
	Unsupported
	// QueueFull is returned by the driver-sink when its bounded queue
	// overflows. Logged at warn with a counter increment.
	QueueFull
	// Invariant is an internal consistency violation. Logged at warn;
	// the affected record is reset.
	Invariant
	// Fatal only occurs on out-of-memory or catastrophic driver init
	// failure, and propagates all the way up to process init.
	Fatal
)

var kindNames = map[Kind]string{
	NotFound:    "not_found",
	Malformed:   "malformed",
	Unsupported: "unsupported",
	QueueFull:   "queue_full",
	Invariant:   "invariant",
	Fatal:       "fatal",
}

// String implements fmt.Stringer.
func (k Kind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return "unknown"
}

// Error is the concrete error type returned by engine components. It
// carries the Kind alongside the component that raised it and an
// optional wrapped cause, so callers can both type-switch on Kind and
// unwrap to the original error with errors.Unwrap/errors.As.
type Error struct {
	Kind      Kind
	Component string
	Msg       string
	cause     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %s: %v", e.Component, e.Kind, e.Msg, e.cause)
	}
	return fmt.Sprintf("%s: %s: %s", e.Component, e.Kind, e.Msg)
}

// Unwrap allows errors.Is/errors.As to see through to the cause.
func (e *Error) Unwrap() error {
	return e.cause
}

// New builds an *Error with no wrapped cause.
func New(component string, kind Kind, msg string) *Error {
	return &Error{Component: component, Kind: kind, Msg: msg}
}

// Newf is New with fmt.Sprintf-style formatting.
func Newf(component string, kind Kind, format string, args ...interface{}) *Error {
	return New(component, kind, fmt.Sprintf(format, args...))
}

// Wrap attaches a Kind and component to an existing error, preserving it
// as the Unwrap()-able cause.
func Wrap(component string, kind Kind, cause error, msg string) *Error {
	return &Error{Component: component, Kind: kind, Msg: msg, cause: cause}
}

// Is reports whether err is an *Error of the given Kind, unwrapping
// through Unwrap chains (via errors.As) along the way.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}
