/*
 * Copyright 2024 Plume Design Inc.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at https://mozilla.org/MPL/2.0/.
 */

package statecache

import (
	"time"

	lru "github.com/hashicorp/golang-lru"
	"go.uber.org/zap"

	"github.com/plume-design/opensync-sub024/pkg/driversink"
	"github.com/plume-design/opensync-sub024/pkg/ekind"
	"github.com/plume-design/opensync-sub024/pkg/wireid"
)

const component = "statecache"

// maxTrackedStations bounds the fallback LRU guard against unbounded
// growth if ageout timers are ever starved (e.g. the main loop falls
// behind); the authoritative station map has no such limit on its own.
const maxTrackedStations = 16384

// Cache is the authoritative in-memory store of phys, vifs, and
// stations. It is only ever touched from the single dispatcher
// goroutine (spec §5), so it holds no internal locks.
type Cache struct {
	phys map[wireid.PhyID]*Phy
	vifs map[wireid.VifID]*Vif
	stas map[wireid.MacAddr]*Station

	// vifPhy and staVif let Remove* cascade without a linear scan.
	vifPhy map[wireid.VifID]wireid.PhyID
	staVif map[wireid.VifID]map[wireid.MacAddr]bool

	// recentlySeen bounds c.stas to maxTrackedStations: every
	// GetOrCreateStation touch refreshes a station's recency, and an
	// eviction here (via onEvicted below) is mirrored into c.stas/staVif
	// directly, so a main loop that falls behind on ageout still can't
	// grow the station map without bound.
	recentlySeen *lru.Cache // wireid.MacAddr -> struct{}

	slog *zap.SugaredLogger
}

// New constructs an empty Cache.
func New(slog *zap.SugaredLogger) *Cache {
	c := &Cache{
		phys:   make(map[wireid.PhyID]*Phy),
		vifs:   make(map[wireid.VifID]*Vif),
		stas:   make(map[wireid.MacAddr]*Station),
		vifPhy: make(map[wireid.VifID]wireid.PhyID),
		staVif: make(map[wireid.VifID]map[wireid.MacAddr]bool),
		slog:   slog,
	}
	// onEvicted must not call back into recentlySeen itself: golang-lru's
	// Add holds its own lock while invoking onEvicted, and it isn't
	// reentrant.
	recent, err := lru.NewWithEvict(maxTrackedStations, func(key interface{}, _ interface{}) {
		mac, ok := key.(wireid.MacAddr)
		if !ok {
			return
		}
		delete(c.stas, mac)
		c.unindexStationLocked(mac)
	})
	if err != nil {
		// Only returns an error for a non-positive size, which
		// maxTrackedStations never is.
		panic(err)
	}
	c.recentlySeen = recent
	return c
}

// UpsertPhy creates or updates a Phy record. Upserts preserve the
// existing record identity and only overwrite the attributes carried in
// state.
func (c *Cache) UpsertPhy(id wireid.PhyID, state driversink.PhyState) *Phy {
	p, ok := c.phys[id]
	if !ok {
		p = &Phy{ID: id}
		c.phys[id] = p
	}
	p.Channels = state.Channels
	p.Capabilities = state.Capabilities
	return p
}

// RemovePhy removes a Phy and cascades to its vifs (and their stations).
func (c *Cache) RemovePhy(id wireid.PhyID) error {
	if _, ok := c.phys[id]; !ok {
		return ekind.Newf(component, ekind.NotFound, "phy %s", id)
	}
	for vifID, phyID := range c.vifPhy {
		if phyID == id {
			_ = c.RemoveVif(phyID, vifID)
		}
	}
	delete(c.phys, id)
	return nil
}

// LookupPhy returns a borrowed reference to a Phy, valid only until the
// next mutation of the cache.
func (c *Cache) LookupPhy(id wireid.PhyID) (*Phy, error) {
	p, ok := c.phys[id]
	if !ok {
		return nil, ekind.Newf(component, ekind.NotFound, "phy %s", id)
	}
	return p, nil
}

// UpsertVif creates or updates a Vif record under phy.
func (c *Cache) UpsertVif(phy wireid.PhyID, id wireid.VifID, state driversink.VifState) *Vif {
	v, ok := c.vifs[id]
	if !ok {
		v = &Vif{ID: id, Phy: phy}
		c.vifs[id] = v
		c.vifPhy[id] = phy
	}
	v.Type = state.Type
	v.Status = state.Status
	v.Bssid = state.Bssid
	v.Channel = state.Channel
	v.SSID = state.SSID
	v.Security = state.Security
	v.LinkStatus = state.LinkStatus
	v.LinkedBssid = state.LinkedBssid
	v.LinkedChannel = state.LinkedChannel
	return v
}

// RemoveVif removes a Vif and cascades to any stations whose only active
// or stale link was on it.
func (c *Cache) RemoveVif(phy wireid.PhyID, id wireid.VifID) error {
	if _, ok := c.vifs[id]; !ok {
		return ekind.Newf(component, ekind.NotFound, "vif %s", id)
	}
	for mac := range c.staVif[id] {
		if sta, ok := c.stas[mac]; ok {
			sta.ActiveLinks = removeLinksOnVif(sta.ActiveLinks, id)
			sta.StaleLinks = removeLinksOnVif(sta.StaleLinks, id)
			if len(sta.ActiveLinks) == 0 && len(sta.StaleLinks) == 0 {
				c.removeStationLocked(mac)
			}
		}
	}
	delete(c.vifs, id)
	delete(c.vifPhy, id)
	return nil
}

func removeLinksOnVif(links []Link, vif wireid.VifID) []Link {
	out := links[:0]
	for _, l := range links {
		if l.Vif != vif {
			out = append(out, l)
		}
	}
	return out
}

// LookupVif returns a borrowed reference to a Vif.
func (c *Cache) LookupVif(id wireid.VifID) (*Vif, error) {
	v, ok := c.vifs[id]
	if !ok {
		return nil, ekind.Newf(component, ekind.NotFound, "vif %s", id)
	}
	return v, nil
}

// GetOrCreateStation returns the Station record for mac, creating one
// (per Data Model: "Created on first observation (connect or probe)") if
// it doesn't yet exist.
func (c *Cache) GetOrCreateStation(mac wireid.MacAddr, now time.Time) *Station {
	sta, ok := c.stas[mac]
	if !ok {
		sta = &Station{Mac: mac, FirstSeen: now}
		c.stas[mac] = sta
	}
	c.recentlySeen.Add(mac, struct{}{})
	sta.LastActivityAt = now
	return sta
}

// LookupStation returns a borrowed reference to a Station.
func (c *Cache) LookupStation(mac wireid.MacAddr) (*Station, error) {
	sta, ok := c.stas[mac]
	if !ok {
		return nil, ekind.Newf(component, ekind.NotFound, "station %s", mac)
	}
	return sta, nil
}

// AddActiveLink records a new active link for mac, creating the station
// if necessary. It marks the station EverConnected, which raises its
// ageout from 10 minutes to 7 days (Data Model §3).
func (c *Cache) AddActiveLink(mac wireid.MacAddr, link Link, now time.Time) *Station {
	sta := c.GetOrCreateStation(mac, now)
	sta.ActiveLinks = append(sta.ActiveLinks, link)
	sta.EverConnected = true
	sta.LastActivityAt = now
	c.indexLink(mac, link.Vif)
	return sta
}

// MoveLinkToStale moves mac's active link(s) on vif into StaleLinks,
// e.g. when a driver reports the underlying connection dropped without
// a full station removal (MLO link down while the station itself stays
// associated over other links).
func (c *Cache) MoveLinkToStale(mac wireid.MacAddr, vif wireid.VifID) error {
	sta, ok := c.stas[mac]
	if !ok {
		return ekind.Newf(component, ekind.NotFound, "station %s", mac)
	}
	kept := sta.ActiveLinks[:0]
	for _, l := range sta.ActiveLinks {
		if l.Vif == vif {
			sta.StaleLinks = append(sta.StaleLinks, l)
		} else {
			kept = append(kept, l)
		}
	}
	sta.ActiveLinks = kept
	return nil
}

// RemoveLink drops mac's link on vif entirely (active or stale) and
// drops the per-vif index entry. It does not remove the station itself;
// a station with zero links is still tracked until SweepExpired reclaims
// it, so that a rapid reconnect doesn't lose AssocIEsBytes/CellStatus
// history.
func (c *Cache) RemoveLink(mac wireid.MacAddr, vif wireid.VifID) error {
	sta, ok := c.stas[mac]
	if !ok {
		return ekind.Newf(component, ekind.NotFound, "station %s", mac)
	}
	sta.ActiveLinks = removeLinksOnVif(sta.ActiveLinks, vif)
	sta.StaleLinks = removeLinksOnVif(sta.StaleLinks, vif)
	c.unindexLink(mac, vif)
	return nil
}

// RemoveStation deletes mac's record outright, e.g. on an explicit
// forget/reset rather than a driver disconnect.
func (c *Cache) RemoveStation(mac wireid.MacAddr) error {
	if _, ok := c.stas[mac]; !ok {
		return ekind.Newf(component, ekind.NotFound, "station %s", mac)
	}
	c.removeStationLocked(mac)
	return nil
}

func (c *Cache) removeStationLocked(mac wireid.MacAddr) {
	delete(c.stas, mac)
	c.unindexStationLocked(mac)
	c.recentlySeen.Remove(mac)
}

// unindexStationLocked drops mac from every staVif membership set. It
// does not touch c.stas or c.recentlySeen, so it's safe to call from
// recentlySeen's own eviction callback.
func (c *Cache) unindexStationLocked(mac wireid.MacAddr) {
	for vif, members := range c.staVif {
		delete(members, mac)
		if len(members) == 0 {
			delete(c.staVif, vif)
		}
	}
}

func (c *Cache) indexLink(mac wireid.MacAddr, vif wireid.VifID) {
	members, ok := c.staVif[vif]
	if !ok {
		members = make(map[wireid.MacAddr]bool)
		c.staVif[vif] = members
	}
	members[mac] = true
}

func (c *Cache) unindexLink(mac wireid.MacAddr, vif wireid.VifID) {
	if members, ok := c.staVif[vif]; ok {
		delete(members, mac)
		if len(members) == 0 {
			delete(c.staVif, vif)
		}
	}
}

// SweepExpired removes every station with no active links whose ageout
// window (AgeoutFor) has elapsed since its last activity, per the
// periodic GC policy in Data Model §3. It returns the removed MACs for
// callers that need to fan the removal out to other components (e.g.
// the station-assoc tracker's observers).
func (c *Cache) SweepExpired(now time.Time) []wireid.MacAddr {
	var removed []wireid.MacAddr
	for mac, sta := range c.stas {
		if len(sta.ActiveLinks) > 0 {
			continue
		}
		if now.Sub(sta.LastActivityAt) >= AgeoutFor(sta) {
			removed = append(removed, mac)
		}
	}
	for _, mac := range removed {
		c.removeStationLocked(mac)
	}
	return removed
}

// Stations returns a snapshot slice of every tracked station. The
// returned pointers remain borrowed references into the cache.
func (c *Cache) Stations() []*Station {
	out := make([]*Station, 0, len(c.stas))
	for _, sta := range c.stas {
		out = append(out, sta)
	}
	return out
}
