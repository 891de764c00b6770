/*
 * Copyright 2024 Plume Design Inc.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at https://mozilla.org/MPL/2.0/.
 */

// Package driversink is the Driver Abstraction Sink (spec §4.A): it
// receives phy/vif/sta add/change/remove and frame-rx callbacks from an
// unspecified driver on arbitrary goroutines, normalizes them into a
// closed set of Event variants, and enqueues them onto a single bounded
// channel so a single dispatcher goroutine can process them in FIFO
// order. A single global order is a stronger guarantee than the spec
// requires (per-vif ordering); it's the simplest structure that provides
// it.
package driversink

import "github.com/plume-design/opensync-sub024/pkg/wireid"

// Kind discriminates the Event variants, replacing the function-pointer
// dispatch table the original driver used with a plain switch.
type Kind int

// Event kinds, one per driver callback named in spec §4.A.
const (
	KindPhyAdded Kind = iota
	KindPhyChanged
	KindPhyRemoved
	KindVifAdded
	KindVifChanged
	KindVifRemoved
	KindStaConnected
	KindStaChanged
	KindStaDisconnected
	KindFrameRx
	KindProbeReq
	KindStaSNR
	KindCSAToPhy
)

// Event is implemented by every concrete event struct below. Kind()
// lets a dispatcher switch exhaustively without a type assertion chain.
type Event interface {
	Kind() Kind
}

// PhyState is the driver-reported attribute set for a radio.
type PhyState struct {
	Channels     []wireid.Channel
	Capabilities map[string]bool
}

// PhyAdded fires when the driver reports a new radio.
type PhyAdded struct {
	Phy   wireid.PhyID
	State PhyState
}

// Kind implements Event.
func (PhyAdded) Kind() Kind { return KindPhyAdded }

// PhyChanged fires when a radio's attributes change.
type PhyChanged struct {
	Phy   wireid.PhyID
	State PhyState
}

// Kind implements Event.
func (PhyChanged) Kind() Kind { return KindPhyChanged }

// PhyRemoved fires when a radio disappears. Any dependent vifs are
// implicitly torn down first by the state cache.
type PhyRemoved struct {
	Phy wireid.PhyID
}

// Kind implements Event.
func (PhyRemoved) Kind() Kind { return KindPhyRemoved }

// VifType is the 802.11 role of a virtual interface.
type VifType int

// Vif roles.
const (
	VifUndefined VifType = iota
	VifAP
	VifAPVLAN
	VifSTA
)

// LinkStatus is the STA-mode uplink connection status.
type LinkStatus int

// STA-mode link statuses.
const (
	LinkUnknown LinkStatus = iota
	LinkDisconnected
	LinkConnecting
	LinkConnected
)

// VifState is the driver-reported attribute set for a virtual interface.
type VifState struct {
	Type   VifType
	Status string // "enabled" or "disabled"
	Bssid  wireid.MacAddr

	// AP-mode fields.
	Channel  wireid.Channel
	SSID     string
	Security string

	// STA-mode fields.
	LinkStatus    LinkStatus
	LinkedBssid   wireid.MacAddr
	LinkedChannel wireid.Channel
}

// VifAdded fires when the driver reports a new virtual interface.
type VifAdded struct {
	Phy   wireid.PhyID
	Vif   wireid.VifID
	State VifState
}

// Kind implements Event.
func (VifAdded) Kind() Kind { return KindVifAdded }

// VifChanged fires when a vif's attributes change.
type VifChanged struct {
	Phy   wireid.PhyID
	Vif   wireid.VifID
	State VifState
}

// Kind implements Event.
func (VifChanged) Kind() Kind { return KindVifChanged }

// VifRemoved fires when a vif disappears. Any dependent stations are
// implicitly torn down first by the state cache.
type VifRemoved struct {
	Phy wireid.PhyID
	Vif wireid.VifID
}

// Kind implements Event.
func (VifRemoved) Kind() Kind { return KindVifRemoved }

// StaConnected fires when a link between a local vif and a remote
// station comes up.
type StaConnected struct {
	Phy          wireid.PhyID
	Vif          wireid.VifID
	Mac          wireid.MacAddr
	LocalMLDAddr wireid.MacAddr // zero if the driver has no MLO info
	AssocIEs     []byte
}

// Kind implements Event.
func (StaConnected) Kind() Kind { return KindStaConnected }

// StaChanged fires on a driver-reported change to an already-connected
// station (new assoc IEs, signature, etc).
type StaChanged struct {
	Phy      wireid.PhyID
	Vif      wireid.VifID
	Mac      wireid.MacAddr
	AssocIEs []byte
}

// Kind implements Event.
func (StaChanged) Kind() Kind { return KindStaChanged }

// StaDisconnected fires when a link goes down.
type StaDisconnected struct {
	Phy    wireid.PhyID
	Vif    wireid.VifID
	Mac    wireid.MacAddr
	Reason uint16
}

// Kind implements Event.
func (StaDisconnected) Kind() Kind { return KindStaDisconnected }

// FrameRx carries a raw 802.11 frame captured on a vif, for the frame
// parser (component D) to decode.
type FrameRx struct {
	Phy   wireid.PhyID
	Vif   wireid.VifID
	Bytes []byte
}

// Kind implements Event.
func (FrameRx) Kind() Kind { return KindFrameRx }

// ProbeReq is a lightweight probe-request notification the driver may
// deliver out-of-band from full frame capture (e.g. hostapd's own probe
// hooks), carrying just what the steering state machine needs.
type ProbeReq struct {
	Phy       wireid.PhyID
	Vif       wireid.VifID
	Mac       wireid.MacAddr
	SNR       int
	SSIDNull  bool
	Blocked   bool
}

// Kind implements Event.
func (ProbeReq) Kind() Kind { return KindProbeReq }

// StaSNR carries a post-association per-link SNR sample delivered by
// the driver (spec §4.E: "SNR stream: per-link SNR samples delivered
// by driver; observers register (sta_mac, vif_bssid)"), distinct from
// ProbeReq.SNR, which is a pre-association probe-request sample.
type StaSNR struct {
	Phy wireid.PhyID
	Vif wireid.VifID
	Mac wireid.MacAddr
	SNR int
}

// Kind implements Event.
func (StaSNR) Kind() Kind { return KindStaSNR }

// CSAToPhy fires when the driver observes a channel-switch intent
// targeting a radio other than the one currently hosting the STA-mode
// uplink vif. It arms the Xphy-CSA config mutator (component H).
type CSAToPhy struct {
	FromVif wireid.VifID
	FromPhy wireid.PhyID
	ToPhy   wireid.PhyID
	Channel wireid.Channel
}

// Kind implements Event.
func (CSAToPhy) Kind() Kind { return KindCSAToPhy }
