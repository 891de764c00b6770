/*
 * Copyright 2024 Plume Design Inc.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at https://mozilla.org/MPL/2.0/.
 */

// Package capcache is the Capability & Cache Store (spec §4.E): derived,
// per-station caches built from assoc IEs, probe activity, and RRM/WNM
// frames — supported-channel provenance, RRM beacon reports with a 10s
// TTL, an SNR stream with hysteresis-gated threshold crossing, and MBO
// state.
package capcache

import (
	"time"

	"github.com/plume-design/opensync-sub024/pkg/wireid"
)

// ChannelSource identifies which signal contributed a supported-channel
// entry, per spec §4.E: "each source is flagged so consumers can inspect
// provenance".
type ChannelSource int

// Channel-set sources.
const (
	SourceCurrentOperating ChannelSource = iota
	SourceOpClass
	SourceChannelList
	SourceProbeFreq
)

// String implements fmt.Stringer.
func (s ChannelSource) String() string {
	switch s {
	case SourceCurrentOperating:
		return "current_operating"
	case SourceOpClass:
		return "op_class"
	case SourceChannelList:
		return "channel_list"
	case SourceProbeFreq:
		return "probe_freq"
	default:
		return "unknown"
	}
}

// channelEntry is one supported-channel observation, carrying its own
// ageout clock independent of the others.
type channelEntry struct {
	source   ChannelSource
	lastSeen time.Time
}

// Support is the tri-state result of Store.Supports.
type Support int

// Support values (spec §4.E: "{Supported, NotSupported, Maybe}").
const (
	Maybe Support = iota
	Supported
	NotSupported
)

// RRMBeaconReport is a cached RRM beacon measurement, per Data Model §3.
type RRMBeaconReport struct {
	OpClass   uint8
	Channel   uint8
	RCPI      uint8
	RSNI      uint8
	Timestamp time.Time
}

// rrmTTL is the fixed cache lifetime for a beacon report (spec §3/§4.E:
// "TTL 10 s").
const rrmTTL = 10 * time.Second

// rrmGCPeriod is the per-station sweep interval (spec §3: "a periodic
// garbage-collector sweeps every 30 s per station").
const rrmGCPeriod = 30 * time.Second

// RogueSNRFloor is the absolute SNR floor below which a sample is
// treated as a sensor glitch and discarded before hysteresis
// evaluation, rather than being allowed to trigger a threshold
// crossing (ported from the reference client's
// BM_CLIENT_ROGUE_SNR_LEVEL).
const RogueSNRFloor = 5

// MBOState is the per-station MBO-capability derivation (spec §4.E).
type MBOState struct {
	Capable        bool
	CellCapability CellCapability
}

// CellCapability mirrors frame.CellCapability without importing the
// frame package, so capcache stays usable without pulling in the parser.
type CellCapability int

// Values matching the MBO Cellular Data Capabilities attribute (spec
// §4.D): 1 = available, 2 = not-available, 3 = not-capable.
const (
	CellCapUnset       CellCapability = 0
	CellCapAvailable   CellCapability = 1
	CellCapUnavailable CellCapability = 2
	CellCapIncapable   CellCapability = 3
)

// snrObserver tracks one registered threshold watch and its hysteresis
// dead-band state.
type snrObserver struct {
	mac          wireid.MacAddr
	vifBssid     wireid.MacAddr
	thresholdDB  int
	hysteresisDB int
	haveState    bool
	above        bool
	callback     func(SNRCrossing)
}

// SNRCrossing is delivered to a threshold observer when a sample moves
// past the threshold beyond the configured hysteresis dead-band.
type SNRCrossing struct {
	Mac      wireid.MacAddr
	VifBssid wireid.MacAddr
	ValueDB  int
	Above    bool
}

type stationState struct {
	channels map[int]*channelEntry          // freq MHz -> entry
	rrm      map[wireid.MacAddr]RRMBeaconReport // bssid -> report
	mbo      MBOState
}
