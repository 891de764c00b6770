/*
 * Copyright 2024 Plume Design Inc.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at https://mozilla.org/MPL/2.0/.
 */

// Package metrics holds the Prometheus counters and gauges the steering
// engine exposes (spec §7 "User-visible failures are reported as
// counters"), served by cmd/steerd over promhttp.HandlerFor the same way
// ap.wifid and ap.networkd expose their own /metrics endpoints.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Counters and gauges named directly after the spec's §7 list.
var (
	SteeringSuccess = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "steering_success_cnt",
		Help: "Number of successful band/client steering attempts.",
	})
	SteeringFail = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "steering_fail_cnt",
		Help: "Number of failed band/client steering attempts.",
	})
	StickyKicks = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sticky_kick_cnt",
		Help: "Number of sticky-client kicks issued.",
	})
	SteeringKicks = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "steering_kick_cnt",
		Help: "Number of steering kicks issued.",
	})
	BTMRetriesExhausted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "btm_retries_exhausted",
		Help: "Number of BTM requests that exhausted their retry budget.",
	})
	RRMReportsDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "rrm_reports_dropped",
		Help: "Number of RRM beacon reports dropped because they failed to parse.",
	})
	QueueFullEvents = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "driver_sink_queue_full_total",
		Help: "Number of driver events dropped because the dispatcher queue was full.",
	})
	FramesDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "frames_dropped_total",
		Help: "Number of 802.11 frames dropped by kind, by reason.",
	}, []string{"frame_kind", "reason"})
	ConnectedStations = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "connected_stations",
		Help: "Number of stations currently in the CONNECTED state.",
	})
	XphyCSAApplied = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "xphy_csa_applied_total",
		Help: "Number of times the cross-PHY CSA override was applied.",
	})
)

// Register adds every metric defined in this package to reg. Calling it
// more than once against the same registry panics, matching
// prometheus.MustRegister's own behavior.
func Register(reg *prometheus.Registry) {
	reg.MustRegister(
		SteeringSuccess,
		SteeringFail,
		StickyKicks,
		SteeringKicks,
		BTMRetriesExhausted,
		RRMReportsDropped,
		QueueFullEvents,
		FramesDropped,
		ConnectedStations,
		XphyCSAApplied,
	)
}
