/*
 * Copyright 2024 Plume Design Inc.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at https://mozilla.org/MPL/2.0/.
 */

// Package statecache is the State Cache (spec §4.B): the single
// authoritative in-memory map of phys, vifs, stations, and their
// last-known attributes. Every other component holds weak references —
// a stable key plus a lookup through this package — rather than
// pointers, so a station, link, or vif can be torn down from exactly
// one place without leaving dangling references elsewhere (Design Notes:
// replace the source's cyclic container_of back-references with an
// arena keyed by stable ids).
package statecache

import (
	"time"

	"github.com/plume-design/opensync-sub024/pkg/driversink"
	"github.com/plume-design/opensync-sub024/pkg/wireid"
)

// Phy is a radio, as described in Data Model §3.
type Phy struct {
	ID           wireid.PhyID
	Channels     []wireid.Channel
	Capabilities map[string]bool
}

// Vif is a virtual interface, as described in Data Model §3.
type Vif struct {
	ID     wireid.VifID
	Phy    wireid.PhyID
	Type   driversink.VifType
	Status string // "enabled" or "disabled"
	Bssid  wireid.MacAddr

	// AP-mode fields.
	Channel  wireid.Channel
	SSID     string
	Security string

	// STA-mode fields.
	LinkStatus    driversink.LinkStatus
	LinkedBssid   wireid.MacAddr
	LinkedChannel wireid.Channel
}

// Link is one local-vif/remote-station association, as described in
// Data Model §3.
type Link struct {
	LocalStaAddr  wireid.MacAddr // == vif bssid
	RemoteStaAddr wireid.MacAddr // per-link client MAC
	Vif           wireid.VifID
	Connected     bool
	LastConnectNs time.Time
	LastProbeNs   time.Time
	AssocIEs      []byte
}

// CellStatus is the MBO cellular-data-capability classification of a
// station, as signaled by assoc IEs / WNM notifications.
type CellStatus int

// Cellular status values.
const (
	CellUnknown CellStatus = iota
	CellAvailable
	CellNotAvailable
)

// Station is the authoritative record for one logical client device
// (Data Model §3). A legacy (non-MLO) station always has exactly one
// active link whose RemoteStaAddr equals Mac; an MLO station has one or
// more active links with distinct local/remote MAC pairs sharing a
// LocalMLDAddr.
type Station struct {
	Mac            wireid.MacAddr
	ActiveLinks    []Link
	StaleLinks     []Link
	AssocIEsBytes  []byte
	CellStatus     CellStatus
	LocalMLDAddr   wireid.MacAddr // zero if not MLO

	FirstSeen      time.Time
	EverConnected  bool
	LastActivityAt time.Time
}

// IsMLO reports whether s has a nonzero LocalMLDAddr, per the Data
// Model invariant: a station is either MLO (>=1 active_link with
// distinct local/remote addrs under a shared MLD addr) or legacy
// (exactly one active_link whose remote addr equals Mac).
func (s *Station) IsMLO() bool {
	return !s.LocalMLDAddr.IsZero()
}

// IsConnected reports whether s currently has at least one active link,
// the universal invariant from spec §8: |active_links| >= 1 <-> connected.
func (s *Station) IsConnected() bool {
	return len(s.ActiveLinks) > 0
}

// AgeoutFor returns the ageout duration for s given its connection
// history: 7 days if it was ever connected, 10 minutes if only probed.
func AgeoutFor(s *Station) time.Duration {
	if s.EverConnected {
		return 7 * 24 * time.Hour
	}
	return 10 * time.Minute
}
