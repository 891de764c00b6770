/*
 * Copyright 2024 Plume Design Inc.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at https://mozilla.org/MPL/2.0/.
 */

package driversink

import (
	"context"

	"go.uber.org/zap"

	"github.com/plume-design/opensync-sub024/pkg/metrics"
	"github.com/plume-design/opensync-sub024/pkg/wireid"
)

// DefaultQueueCapacity bounds the number of pending events the sink will
// buffer before it starts dropping (spec §5: "The queue has a bounded
// capacity; overflow drops the event with a WARN and a counter
// increment").
const DefaultQueueCapacity = 4096

// Sink receives driver callbacks on any goroutine and serializes them
// onto a single channel for a single dispatcher goroutine to drain. A Go
// channel send is itself safe for concurrent callers, so no additional
// mutex is needed around Enqueue; it is the one place in the engine
// that's safe to call off the main loop.
type Sink struct {
	queue chan Event
	slog  *zap.SugaredLogger
}

// New constructs a Sink with the given queue capacity. A non-positive
// capacity uses DefaultQueueCapacity.
func New(slog *zap.SugaredLogger, capacity int) *Sink {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	return &Sink{
		queue: make(chan Event, capacity),
		slog:  slog,
	}
}

// Enqueue normalizes and submits ev. It never blocks: if the queue is
// full, the event is dropped, a WARN is logged, and the QueueFull
// counter is incremented. Safe to call from any goroutine.
func (s *Sink) Enqueue(ev Event) {
	select {
	case s.queue <- ev:
	default:
		metrics.QueueFullEvents.Inc()
		if s.slog != nil {
			s.slog.Warnw("driver event queue full, dropping event", "kind", ev.Kind())
		}
	}
}

// Run drains the queue on the calling goroutine, invoking handle for
// each event in arrival order, until ctx is canceled. This is the
// engine's single dispatcher; all state mutation happens here.
func (s *Sink) Run(ctx context.Context, handle func(Event)) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-s.queue:
			handle(ev)
		}
	}
}

// Driver is the normalized callback contract an engine implementation
// must satisfy, per spec §6. Enumeration methods invoke report to
// deliver each currently-known entity; pull triggers (RequestXState)
// must eventually cause the driver to call back through the Sink with a
// *Changed event for that entity.
type Driver interface {
	// PhyList enumerates currently known radios.
	PhyList(report func(wireid.PhyID, PhyState)) error
	// VifList enumerates currently known vifs on phy.
	VifList(phy wireid.PhyID, report func(wireid.VifID, VifState)) error
	// StaList enumerates currently known stations on vif.
	StaList(phy wireid.PhyID, vif wireid.VifID, report func(wireid.MacAddr)) error

	// RequestPhyState asks the driver to (eventually) report the
	// current state of phy via a PhyChanged event.
	RequestPhyState(phy wireid.PhyID) error
	// RequestVifState asks the driver to (eventually) report the
	// current state of vif via a VifChanged event.
	RequestVifState(phy wireid.PhyID, vif wireid.VifID) error
	// RequestStaState asks the driver to (eventually) report the
	// current state of mac via a StaChanged event.
	RequestStaState(phy wireid.PhyID, vif wireid.VifID, mac wireid.MacAddr) error

	// RequestConfig applies a desired configuration tree, as produced
	// by the Xphy-CSA mutator (component H) or any other config source.
	RequestConfig(conf interface{}) error

	// RequestStaDeauth asks the driver to deauthenticate a station.
	RequestStaDeauth(phy wireid.PhyID, vif wireid.VifID, mac wireid.MacAddr, reason uint16) error

	// PushFrameTx transmits a raw 802.11 frame (e.g. a BTM request) on vif.
	PushFrameTx(phy wireid.PhyID, vif wireid.VifID, frame []byte) error

	// ReportStaAssocIEs asks the driver for a station's cached
	// association IEs and returns them directly.
	ReportStaAssocIEs(phy wireid.PhyID, vif wireid.VifID, mac wireid.MacAddr) ([]byte, error)
}
