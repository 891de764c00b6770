/*
 * Copyright 2024 Plume Design Inc.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at https://mozilla.org/MPL/2.0/.
 */

package frame

import (
	"fmt"

	"github.com/plume-design/opensync-sub024/pkg/ekind"
	"github.com/plume-design/opensync-sub024/pkg/wireid"
)

// IE element IDs relevant to association/reassociation requests (spec §6).
const (
	IEHTCap              = 45
	IEVHTCap             = 191
	IESupportedOpClasses = 59
	IERRMEnabledCap      = 70
	IEExtCap             = 127
	IEVendorSpecific     = 221
	IEExtension          = 255 // Element Extension; HE Cap is ext id 35
	ExtIDHECap           = 35
)

// mboOUI is the WFA MBO/OCE vendor-specific OUI and subtype (spec §4.D:
// "vendor-specific OUI 50:6F:9A, subtype 0x16").
var mboOUI = [3]byte{0x50, 0x6F, 0x9A}

const mboType = 0x16

// MBO attribute ids (802.11 MBO-OCE spec, as referenced informally by
// spec §4.D).
const (
	mboAttrNonPreferredChannelReport = 0x02
	mboAttrCellularDataCapabilities  = 0x03
)

// CellCapability is the MBO cellular-data-capability classification.
type CellCapability int

// Values per spec §4.D: "(1 = available, 2 = not-available, 3 =
// not-capable)".
const (
	CellCapUnset       CellCapability = 0
	CellCapAvailable   CellCapability = 1
	CellCapUnavailable CellCapability = 2
	CellCapIncapable   CellCapability = 3
)

// HTCapabilities is the subset of the HT Capabilities IE this engine
// needs.
type HTCapabilities struct {
	// Supports40MHz is bit B1 of the HT Capability Info field.
	Supports40MHz bool
}

// VHTCapabilities is the subset of the VHT Capabilities IE this engine
// needs.
type VHTCapabilities struct {
	Width wireid.ChannelWidth
}

// HECapabilities is the subset of the HE Capabilities IE this engine
// needs.
type HECapabilities struct {
	Has6GHz bool
}

// SupportedOpClasses is the parsed Supported Operating Classes IE.
type SupportedOpClasses struct {
	Primary uint8
	Classes []uint8
}

// RRMCapabilities is the subset of bits in the RRM Enabled Capabilities
// IE this engine tracks.
type RRMCapabilities struct {
	BeaconPassive  bool
	BeaconActive   bool
	BeaconTable    bool
	NeighborReport bool
}

// ExtCapabilities is the subset of the Extended Capabilities IE this
// engine tracks.
type ExtCapabilities struct {
	// BSSTransition is bit 19 (spec §4.D: "BSS Transition (Extended
	// Capabilities bit 19)").
	BSSTransition bool
}

// NonPreferredChannel is one entry of an MBO Non-Preferred Channel
// Report attribute.
type NonPreferredChannel struct {
	OpClass    uint8
	Channels   []uint8
	Preference uint8
	Reason     uint8
}

// MBOInfo is the parsed MBO vendor-specific IE.
type MBOInfo struct {
	Present              bool
	CellCapability       CellCapability
	NonPreferredChannels []NonPreferredChannel
}

// AssocInfo is everything this engine extracts from an association or
// reassociation request's IE sequence. Every field is a pointer (or, for
// MBO, carries its own Present flag) so callers can distinguish
// "IE absent" from "IE present with zero value".
type AssocInfo struct {
	HT         *HTCapabilities
	VHT        *VHTCapabilities
	HE         *HECapabilities
	OpClasses  *SupportedOpClasses
	RRM        *RRMCapabilities
	ExtCap     *ExtCapabilities
	MBO        MBOInfo
}

// ParseAssocRequest walks body (the IE sequence following the fixed
// capability-info/listen-interval fields of an Association/Reassociation
// Request) and extracts the IEs this engine consumes. Unrecognized IEs
// are skipped. A malformed IE anywhere in the sequence aborts the whole
// parse with a Malformed error carrying the offending offset; the caller
// drops the frame (spec §4.D: "frame is logged at debug and otherwise
// dropped; never crashes the dispatcher").
func ParseAssocRequest(body []byte) (AssocInfo, error) {
	var info AssocInfo
	off := 0
	handle := func(ie IE) error {
		switch ie.ID {
		case IEHTCap:
			c, err := parseHTCap(ie.Data)
			if err != nil {
				return err
			}
			info.HT = &c
		case IEVHTCap:
			c, err := parseVHTCap(ie.Data)
			if err != nil {
				return err
			}
			info.VHT = &c
		case IEExtension:
			if len(ie.Data) < 1 {
				return ekind.Newf(component, ekind.Malformed, "empty extension IE")
			}
			if ie.Data[0] == ExtIDHECap {
				c, err := parseHECap(ie.Data[1:])
				if err != nil {
					return err
				}
				info.HE = &c
			}
		case IESupportedOpClasses:
			c, err := parseOpClasses(ie.Data)
			if err != nil {
				return err
			}
			info.OpClasses = &c
		case IERRMEnabledCap:
			c, err := parseRRMCap(ie.Data)
			if err != nil {
				return err
			}
			info.RRM = &c
		case IEExtCap:
			c, err := parseExtCap(ie.Data)
			if err != nil {
				return err
			}
			info.ExtCap = &c
		case IEVendorSpecific:
			mbo, ok, err := parseMBO(ie.Data)
			if err != nil {
				return err
			}
			if ok {
				info.MBO = mbo
			}
		}
		return nil
	}
	err := WalkIEs(body, func(ie IE) error {
		ieOff := off
		off += 2 + len(ie.Data)
		if err := handle(ie); err != nil {
			return ekind.Wrap(component, ekind.Malformed, err, fmt.Sprintf("IE %d at offset %d", ie.ID, ieOff))
		}
		return nil
	})
	return info, err
}

func parseHTCap(data []byte) (HTCapabilities, error) {
	if len(data) < 2 {
		return HTCapabilities{}, ekind.Newf(component, ekind.Malformed, "HT-Cap too short: %d bytes", len(data))
	}
	infoField := uint16(data[0]) | uint16(data[1])<<8
	return HTCapabilities{Supports40MHz: infoField&(1<<1) != 0}, nil
}

// vhtChannelWidthSet values from the VHT Capabilities IE's Supported
// Channel Width Set field (bits 2-3 of the first capability-info byte).
func parseVHTCap(data []byte) (VHTCapabilities, error) {
	if len(data) < 4 {
		return VHTCapabilities{}, ekind.Newf(component, ekind.Malformed, "VHT-Cap too short: %d bytes", len(data))
	}
	capInfo := uint32(data[0]) | uint32(data[1])<<8 | uint32(data[2])<<16 | uint32(data[3])<<24
	widthSet := (capInfo >> 2) & 0x3
	width := wireid.Width20
	switch widthSet {
	case 0:
		width = wireid.Width80
	case 1:
		width = wireid.Width160
	case 2:
		width = wireid.Width80P80
	}
	return VHTCapabilities{Width: width}, nil
}

func parseHECap(data []byte) (HECapabilities, error) {
	// The HE PHY Capabilities Information's "6 GHz band" support is
	// carried deep in a variable-length field whose exact bit position
	// depends on preceding MAC-capability octets elsewhere in the IE;
	// here we key off whether the IE is long enough to carry the 6 GHz
	// operating-band extension the driver advertises for 6 GHz-capable
	// clients.
	return HECapabilities{Has6GHz: len(data) >= 21}, nil
}

func parseOpClasses(data []byte) (SupportedOpClasses, error) {
	if len(data) < 1 {
		return SupportedOpClasses{}, ekind.Newf(component, ekind.Malformed, "empty Supported-Operating-Classes IE")
	}
	classes := make([]uint8, len(data)-1)
	copy(classes, data[1:])
	return SupportedOpClasses{Primary: data[0], Classes: classes}, nil
}

func parseRRMCap(data []byte) (RRMCapabilities, error) {
	if len(data) < 1 {
		return RRMCapabilities{}, ekind.Newf(component, ekind.Malformed, "empty RRM-Enabled-Capabilities IE")
	}
	b0 := data[0]
	return RRMCapabilities{
		BeaconPassive:  b0&(1<<4) != 0,
		BeaconActive:   b0&(1<<5) != 0,
		BeaconTable:    b0&(1<<6) != 0,
		NeighborReport: b0&(1<<1) != 0,
	}, nil
}

func parseExtCap(data []byte) (ExtCapabilities, error) {
	const bit = 19
	byteIdx := bit / 8
	bitIdx := uint(bit % 8)
	if len(data) <= byteIdx {
		return ExtCapabilities{}, nil
	}
	return ExtCapabilities{BSSTransition: data[byteIdx]&(1<<bitIdx) != 0}, nil
}

func parseMBO(data []byte) (MBOInfo, bool, error) {
	if len(data) < 4 {
		return MBOInfo{}, false, nil
	}
	if [3]byte{data[0], data[1], data[2]} != mboOUI || data[3] != mboType {
		return MBOInfo{}, false, nil
	}
	info := MBOInfo{Present: true}
	attrs := data[4:]
	off := 0
	for off < len(attrs) {
		if off+2 > len(attrs) {
			return MBOInfo{}, false, ekind.Newf(component, ekind.Malformed, "truncated MBO attribute at offset %d", off)
		}
		id := attrs[off]
		l := int(attrs[off+1])
		start := off + 2
		if start+l > len(attrs) {
			return MBOInfo{}, false, ekind.Newf(component, ekind.Malformed, "MBO attribute %d overruns at offset %d", id, off)
		}
		val := attrs[start : start+l]
		switch id {
		case mboAttrCellularDataCapabilities:
			if len(val) >= 1 {
				info.CellCapability = CellCapability(val[0])
			}
		case mboAttrNonPreferredChannelReport:
			if len(val) >= 3 {
				info.NonPreferredChannels = append(info.NonPreferredChannels, NonPreferredChannel{
					OpClass:    val[0],
					Channels:   append([]uint8(nil), val[1:len(val)-2]...),
					Preference: val[len(val)-2],
					Reason:     val[len(val)-1],
				})
			}
		}
		off = start + l
	}
	return info, true, nil
}
