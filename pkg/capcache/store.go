/*
 * Copyright 2024 Plume Design Inc.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at https://mozilla.org/MPL/2.0/.
 */

package capcache

import (
	"time"

	"github.com/plume-design/opensync-sub024/pkg/notify"
	"github.com/plume-design/opensync-sub024/pkg/wireid"
)

// MBOChange is published whenever a station's MBO state changes (spec
// §4.E: "observers are notified on change").
type MBOChange struct {
	Mac   wireid.MacAddr
	State MBOState
}

// Store holds every derived per-station cache. Like the rest of the
// engine it is driven only from the single dispatcher goroutine.
type Store struct {
	stations map[wireid.MacAddr]*stationState

	mboBus      *notify.Bus[MBOChange]
	snrNextID   notify.Handle
	snrWatchers map[notify.Handle]*snrObserver
}

// New constructs an empty Store.
func New() *Store {
	return &Store{
		stations:    make(map[wireid.MacAddr]*stationState),
		mboBus:      notify.New[MBOChange](),
		snrWatchers: make(map[notify.Handle]*snrObserver),
	}
}

func (s *Store) station(mac wireid.MacAddr) *stationState {
	st, ok := s.stations[mac]
	if !ok {
		st = &stationState{
			channels: make(map[int]*channelEntry),
			rrm:      make(map[wireid.MacAddr]RRMBeaconReport),
		}
		s.stations[mac] = st
	}
	return st
}

// Forget drops every cache entry for mac, e.g. when the state cache
// reclaims the station on ageout.
func (s *Store) Forget(mac wireid.MacAddr) {
	delete(s.stations, mac)
	for id, w := range s.snrWatchers {
		if w.mac == mac {
			delete(s.snrWatchers, id)
		}
	}
}

// AddSupportedChannel records that mac was observed to support freqMHz
// via source, refreshing its ageout clock.
func (s *Store) AddSupportedChannel(mac wireid.MacAddr, freqMHz int, source ChannelSource, now time.Time) {
	st := s.station(mac)
	st.channels[freqMHz] = &channelEntry{source: source, lastSeen: now}
}

// PruneChannels drops any supported-channel entry for mac older than
// ageout (equal to the station's own ageout, per spec §4.E).
func (s *Store) PruneChannels(mac wireid.MacAddr, now time.Time, ageout time.Duration) {
	st, ok := s.stations[mac]
	if !ok {
		return
	}
	for freq, entry := range st.channels {
		if now.Sub(entry.lastSeen) >= ageout {
			delete(st.channels, freq)
		}
	}
}

// Supports reports whether mac is known to support freqMHz, per spec
// §4.E's supports(sta, freq) operation.
func (s *Store) Supports(mac wireid.MacAddr, freqMHz int) Support {
	st, ok := s.stations[mac]
	if !ok {
		return Maybe
	}
	if _, ok := st.channels[freqMHz]; ok {
		return Supported
	}
	if len(st.channels) == 0 {
		return Maybe
	}
	return NotSupported
}

// UpsertRRMBeaconReport caches a parsed beacon report for (mac, bssid),
// refreshing its 10s TTL.
func (s *Store) UpsertRRMBeaconReport(mac, bssid wireid.MacAddr, report RRMBeaconReport) {
	st := s.station(mac)
	st.rrm[bssid] = report
}

// RRMBeaconReports returns every beacon report for mac still within its
// 10s TTL as of now.
func (s *Store) RRMBeaconReports(mac wireid.MacAddr, now time.Time) map[wireid.MacAddr]RRMBeaconReport {
	st, ok := s.stations[mac]
	if !ok {
		return nil
	}
	out := make(map[wireid.MacAddr]RRMBeaconReport)
	for bssid, r := range st.rrm {
		if now.Sub(r.Timestamp) < rrmTTL {
			out[bssid] = r
		}
	}
	return out
}

// GCRRMReports evicts every expired beacon report for mac. The engine
// calls it for every client on each Engine.Tick; nothing schedules it on
// an RRMGCPeriod timer.
func (s *Store) GCRRMReports(mac wireid.MacAddr, now time.Time) int {
	st, ok := s.stations[mac]
	if !ok {
		return 0
	}
	dropped := 0
	for bssid, r := range st.rrm {
		if now.Sub(r.Timestamp) >= rrmTTL {
			delete(st.rrm, bssid)
			dropped++
		}
	}
	return dropped
}

// RRMGCPeriod is the fixed per-station sweep interval, exported for
// callers that schedule the timer.
const RRMGCPeriod = rrmGCPeriod

// SetMBOState updates mac's MBO derivation, publishing MBOChange to
// observers only when the state actually differs from what was cached.
func (s *Store) SetMBOState(mac wireid.MacAddr, state MBOState) {
	st := s.station(mac)
	if st.mbo == state {
		return
	}
	st.mbo = state
	s.mboBus.Publish(MBOChange{Mac: mac, State: state})
}

// MBOState returns mac's cached MBO derivation.
func (s *Store) MBOState(mac wireid.MacAddr) MBOState {
	st, ok := s.stations[mac]
	if !ok {
		return MBOState{}
	}
	return st.mbo
}

// ObserveMBO registers an observer for MBO state changes across every
// station.
func (s *Store) ObserveMBO(callback func(MBOChange)) notify.Handle {
	return s.mboBus.Register(nil, callback)
}

// UnobserveMBO removes a previously registered MBO observer.
func (s *Store) UnobserveMBO(h notify.Handle) {
	s.mboBus.Unregister(h)
}

// RegisterSNRThreshold watches (mac, vifBssid) for SNR samples crossing
// thresholdDB, with hysteresisDB of dead-band on either side of the
// threshold to prevent chatter at the boundary (spec §4.E: "threshold-
// change detection with configurable hysteresis in dB").
func (s *Store) RegisterSNRThreshold(mac, vifBssid wireid.MacAddr, thresholdDB, hysteresisDB int, callback func(SNRCrossing)) notify.Handle {
	s.snrNextID++
	id := s.snrNextID
	s.snrWatchers[id] = &snrObserver{
		mac:          mac,
		vifBssid:     vifBssid,
		thresholdDB:  thresholdDB,
		hysteresisDB: hysteresisDB,
		callback:     callback,
	}
	return id
}

// UnregisterSNRThreshold removes a previously registered SNR watch.
func (s *Store) UnregisterSNRThreshold(h notify.Handle) {
	delete(s.snrWatchers, h)
}

// RecordSNR delivers a new SNR sample for (mac, vifBssid), evaluating
// every matching threshold watch's hysteresis dead-band and firing
// SNRCrossing callbacks for watches that actually cross.
func (s *Store) RecordSNR(mac, vifBssid wireid.MacAddr, valueDB int) {
	if valueDB < RogueSNRFloor {
		return
	}
	for _, w := range s.snrWatchers {
		if w.mac != mac || w.vifBssid != vifBssid {
			continue
		}
		if !w.haveState {
			w.haveState = true
			w.above = valueDB >= w.thresholdDB
			continue
		}
		switch {
		case w.above && valueDB < w.thresholdDB-w.hysteresisDB:
			w.above = false
			w.callback(SNRCrossing{Mac: mac, VifBssid: vifBssid, ValueDB: valueDB, Above: false})
		case !w.above && valueDB >= w.thresholdDB+w.hysteresisDB:
			w.above = true
			w.callback(SNRCrossing{Mac: mac, VifBssid: vifBssid, ValueDB: valueDB, Above: true})
		}
	}
}
