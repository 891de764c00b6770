/*
 * Copyright 2024 Plume Design Inc.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at https://mozilla.org/MPL/2.0/.
 */

// Package frame parses raw 802.11 management frames (spec §4.D):
// association/reassociation request IEs, WNM notification requests,
// RRM beacon measurement reports, and BTM request/response bodies. It
// never panics; every malformed input returns an *ekind.Error of Kind
// Malformed carrying the byte offset at which parsing gave up, so a
// caller can log and drop the frame without risking the dispatcher.
package frame

import (
	"encoding/binary"

	"github.com/plume-design/opensync-sub024/pkg/ekind"
	"github.com/plume-design/opensync-sub024/pkg/wireid"
)

const component = "frame"

// mgmtHeaderLen is the fixed 802.11 management frame header size (spec
// §6: "24 bytes fixed").
const mgmtHeaderLen = 24

// FrameControl is the decoded type/subtype pair from the first two
// header octets (little-endian).
type FrameControl struct {
	Type    uint8
	Subtype uint8
}

// Management frame type/subtype values this parser cares about.
const (
	TypeManagement = 0
	SubtypeAssocReq   = 0x0
	SubtypeReassocReq = 0x2
	SubtypeAction     = 0xD
)

// MgmtHeader is the decoded fixed part of a management frame.
type MgmtHeader struct {
	FC    FrameControl
	DA    wireid.MacAddr
	SA    wireid.MacAddr
	BSSID wireid.MacAddr
}

// ParseMgmtHeader decodes the 24-byte fixed header from buf and returns
// it along with the remaining frame body.
func ParseMgmtHeader(buf []byte) (MgmtHeader, []byte, error) {
	if len(buf) < mgmtHeaderLen {
		return MgmtHeader{}, nil, ekind.Newf(component, ekind.Malformed, "short frame: %d bytes, need %d", len(buf), mgmtHeaderLen)
	}
	fc := binary.LittleEndian.Uint16(buf[0:2])
	var h MgmtHeader
	h.FC = FrameControl{
		Type:    uint8((fc >> 2) & 0x3),
		Subtype: uint8((fc >> 4) & 0xF),
	}
	copy(h.DA[:], buf[4:10])
	copy(h.SA[:], buf[10:16])
	copy(h.BSSID[:], buf[16:22])
	return h, buf[mgmtHeaderLen:], nil
}

// IE is one (id, data) pair from an information-element sequence.
type IE struct {
	ID   uint8
	Data []byte
}

// WalkIEs iterates the (id u8, len u8, data[len])* sequence in body,
// calling fn for each element in order. It stops and returns a
// Malformed error carrying the offset if a length field would run past
// the end of body. fn may return a non-nil error to stop the walk
// early; that error is returned from WalkIEs unchanged.
func WalkIEs(body []byte, fn func(IE) error) error {
	off := 0
	for off < len(body) {
		if off+2 > len(body) {
			return ekind.Newf(component, ekind.Malformed, "truncated IE header at offset %d", off)
		}
		id := body[off]
		l := int(body[off+1])
		start := off + 2
		if start+l > len(body) {
			return ekind.Newf(component, ekind.Malformed, "IE %d length %d overruns body at offset %d", id, l, off)
		}
		if err := fn(IE{ID: id, Data: body[start : start+l]}); err != nil {
			return err
		}
		off = start + l
	}
	return nil
}
