/*
 * Copyright 2024 Plume Design Inc.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at https://mozilla.org/MPL/2.0/.
 */

// Package stassoc is the Station-Assoc Tracker (spec §4.C): it
// aggregates per-link connect/disconnect events into logical,
// MLO-aware station entries on top of the state cache, and notifies
// observers of CONNECTED/RECONNECTED/DISCONNECTED transitions in
// per-station order.
package stassoc

import (
	"time"

	"go.uber.org/zap"

	"github.com/plume-design/opensync-sub024/pkg/notify"
	"github.com/plume-design/opensync-sub024/pkg/statecache"
	"github.com/plume-design/opensync-sub024/pkg/wireid"
)

// EventKind discriminates the three transitions a logical station can
// be observed making.
type EventKind int

// Event kinds, per spec §4.C.
const (
	// Connected fires on first active_link appearance.
	Connected EventKind = iota
	// Reconnected fires on subsequent active_link changes of an
	// already-connected station (an MLO link added or removed while at
	// least one other link stays up).
	Reconnected
	// Disconnected fires when active_links transitions to empty.
	Disconnected
)

// String implements fmt.Stringer.
func (k EventKind) String() string {
	switch k {
	case Connected:
		return "connected"
	case Reconnected:
		return "reconnected"
	case Disconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// Event is delivered to observers on every logical-station transition.
// Station is a borrowed reference into the state cache, valid only for
// the duration of the callback.
type Event struct {
	Kind    EventKind
	Key     wireid.MacAddr // station.Mac: the mld addr for MLO, the sole link mac for legacy
	Station *statecache.Station
}

// Tracker aggregates per-link driver events into logical stations. It
// is not safe for concurrent use; like every other component, it is
// only ever driven from the single dispatcher goroutine.
type Tracker struct {
	cache *statecache.Cache
	bus   *notify.Bus[Event]
	slog  *zap.SugaredLogger

	// linkOwner maps (vif, remote mac) to the logical station key that
	// link currently belongs to, so a disconnect (which the driver
	// reports with only vif+mac, no local_mld_addr) can be routed back
	// to the right logical station even when that station's key is an
	// mld address distinct from every individual link's remote mac.
	linkOwner map[wireid.VifID]map[wireid.MacAddr]wireid.MacAddr
}

// New constructs a Tracker over cache.
func New(cache *statecache.Cache, slog *zap.SugaredLogger) *Tracker {
	return &Tracker{
		cache:     cache,
		bus:       notify.New[Event](),
		slog:      slog,
		linkOwner: make(map[wireid.VifID]map[wireid.MacAddr]wireid.MacAddr),
	}
}

func stationKey(mac, localMLDAddr wireid.MacAddr) wireid.MacAddr {
	if !localMLDAddr.IsZero() {
		return localMLDAddr
	}
	return mac
}

// OnConnected records a new or changed active link. If localMLDAddr is
// the zero address, mac is treated as a legacy, single-link station; a
// nonzero localMLDAddr groups the link into (or starts) an MLO logical
// station keyed by that address.
func (t *Tracker) OnConnected(phy wireid.PhyID, vif wireid.VifID, mac, localMLDAddr, bssid wireid.MacAddr, assocIEs []byte, now time.Time) {
	key := stationKey(mac, localMLDAddr)

	prevConnected := false
	if sta, err := t.cache.LookupStation(key); err == nil {
		prevConnected = sta.IsConnected()
	}

	sta := t.cache.AddActiveLink(key, statecache.Link{
		LocalStaAddr:  bssid,
		RemoteStaAddr: mac,
		Vif:           vif,
		Connected:     true,
		LastConnectNs: now,
		AssocIEs:      assocIEs,
	}, now)
	sta.LocalMLDAddr = localMLDAddr
	if assocIEs != nil {
		sta.AssocIEsBytes = assocIEs
	}

	t.recordLinkOwner(vif, mac, key)

	kind := Connected
	if prevConnected {
		kind = Reconnected
	}
	t.bus.Publish(Event{Kind: kind, Key: key, Station: sta})
}

// OnDisconnected moves the (vif, mac) link to stale_links and emits
// Reconnected (other links remain up) or Disconnected (none remain).
func (t *Tracker) OnDisconnected(phy wireid.PhyID, vif wireid.VifID, mac wireid.MacAddr, reason uint16, now time.Time) {
	key := t.resolveLinkOwner(vif, mac)

	if err := t.cache.MoveLinkToStale(key, vif); err != nil {
		if t.slog != nil {
			t.slog.Debugw("disconnect for unknown station", "mac", mac, "vif", vif, "err", err)
		}
		return
	}
	t.forgetLinkOwner(vif, mac)

	sta, err := t.cache.LookupStation(key)
	if err != nil {
		return
	}
	if len(sta.ActiveLinks) == 0 {
		t.bus.Publish(Event{Kind: Disconnected, Key: key, Station: sta})
		return
	}
	t.bus.Publish(Event{Kind: Reconnected, Key: key, Station: sta})
}

func (t *Tracker) recordLinkOwner(vif wireid.VifID, mac, key wireid.MacAddr) {
	m, ok := t.linkOwner[vif]
	if !ok {
		m = make(map[wireid.MacAddr]wireid.MacAddr)
		t.linkOwner[vif] = m
	}
	m[mac] = key
}

func (t *Tracker) resolveLinkOwner(vif wireid.VifID, mac wireid.MacAddr) wireid.MacAddr {
	if m, ok := t.linkOwner[vif]; ok {
		if key, ok := m[mac]; ok {
			return key
		}
	}
	return mac
}

func (t *Tracker) forgetLinkOwner(vif wireid.VifID, mac wireid.MacAddr) {
	if m, ok := t.linkOwner[vif]; ok {
		delete(m, mac)
		if len(m) == 0 {
			delete(t.linkOwner, vif)
		}
	}
}

// Observe registers an observer filtered by station key (mld addr for
// MLO stations, mac for legacy ones). Per spec §4.I, registration
// synchronously replays a synthetic Connected event for every currently
// connected station the filter matches, before returning.
func (t *Tracker) Observe(filter func(wireid.MacAddr) bool, callback func(Event)) notify.Handle {
	for _, sta := range t.cache.Stations() {
		if sta.IsConnected() && (filter == nil || filter(sta.Mac)) {
			callback(Event{Kind: Connected, Key: sta.Mac, Station: sta})
		}
	}
	return t.bus.Register(func(ev Event) bool {
		return filter == nil || filter(ev.Key)
	}, callback)
}

// Unregister removes a previously registered observer.
func (t *Tracker) Unregister(h notify.Handle) {
	t.bus.Unregister(h)
}
