/*
 * Copyright 2024 Plume Design Inc.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at https://mozilla.org/MPL/2.0/.
 */

package frame

import (
	"github.com/plume-design/opensync-sub024/pkg/ekind"
	"github.com/plume-design/opensync-sub024/pkg/wireid"
)

// Action frame categories (spec §6).
const (
	CategoryRRM = 5
	CategoryWNM = 10
)

// WNM category actions.
const (
	ActionBTMRequest            = 7
	ActionWNMNotificationRequest = 26
)

// RRM category actions.
const (
	ActionMeasurementReport = 1
)

// MeasurementReportElementID is the element ID of a Measurement Report
// element (spec §6: "measurement report element 39").
const MeasurementReportElementID = 39

// BeaconReportMeasurementType identifies a beacon-report measurement
// within a Measurement Report element.
const BeaconReportMeasurementType = 5

// Action is the decoded (category, action) discriminator common to
// every Action frame, plus the remaining body past those two octets.
type Action struct {
	Category uint8
	Action   uint8
	Body     []byte
}

// ParseAction decodes the category/action header of an Action frame
// body (the bytes immediately following the management header).
func ParseAction(body []byte) (Action, error) {
	if len(body) < 2 {
		return Action{}, ekind.Newf(component, ekind.Malformed, "action frame too short: %d bytes", len(body))
	}
	return Action{Category: body[0], Action: body[1], Body: body[2:]}, nil
}

// BTMRequest is the decoded content of a WNM BSS Transition Management
// Request (category=10, action=7), per spec §6.
type BTMRequest struct {
	DialogToken           uint8
	Pref                  bool
	Abridged              bool
	DisassocImminent      bool
	BSSTerm               bool
	ESSDisassocImminent   bool
	DisassocTimer         uint16 // TBTTs
	ValidInterval         uint8
	// Candidates holds the raw Neighbor Report elements that follow the
	// fixed fields, one slice per element including its own id/len header.
	Candidates [][]byte
}

// Request Mode bit positions (802.11v).
const (
	btmBitPref                = 0
	btmBitAbridged            = 1
	btmBitDisassocImminent    = 2
	btmBitBSSTerm             = 3
	btmBitESSDisassocImminent = 4
)

// ParseBTMRequest decodes body (the bytes following category/action) of
// a BSS Transition Management Request.
func ParseBTMRequest(body []byte) (BTMRequest, error) {
	if len(body) < 5 {
		return BTMRequest{}, ekind.Newf(component, ekind.Malformed, "BTM request too short: %d bytes", len(body))
	}
	mode := body[1]
	req := BTMRequest{
		DialogToken:         body[0],
		Pref:                mode&(1<<btmBitPref) != 0,
		Abridged:            mode&(1<<btmBitAbridged) != 0,
		DisassocImminent:    mode&(1<<btmBitDisassocImminent) != 0,
		BSSTerm:             mode&(1<<btmBitBSSTerm) != 0,
		ESSDisassocImminent: mode&(1<<btmBitESSDisassocImminent) != 0,
		DisassocTimer:       uint16(body[2]) | uint16(body[3])<<8,
		ValidInterval:       body[4],
	}
	off := 5
	if req.BSSTerm {
		off += 12 // BSS Termination Duration
	}
	if req.ESSDisassocImminent {
		if off >= len(body) {
			return BTMRequest{}, ekind.Newf(component, ekind.Malformed, "BTM request missing ESS URL length at offset %d", off)
		}
		urlLen := int(body[off])
		off += 1 + urlLen
	}
	for off < len(body) {
		if off+2 > len(body) {
			return BTMRequest{}, ekind.Newf(component, ekind.Malformed, "truncated candidate element at offset %d", off)
		}
		l := int(body[off+1])
		end := off + 2 + l
		if end > len(body) {
			return BTMRequest{}, ekind.Newf(component, ekind.Malformed, "candidate element overruns at offset %d", off)
		}
		req.Candidates = append(req.Candidates, body[off:end])
		off = end
	}
	return req, nil
}

// BTMResponse is the decoded content of a WNM BSS Transition Management
// Response.
type BTMResponse struct {
	DialogToken uint8
	StatusCode  uint8
}

// BTM response status codes this engine distinguishes (802.11v).
const (
	BTMStatusAccept = 0
)

// ParseBTMResponse decodes body (the bytes following category/action)
// of a BSS Transition Management Response.
func ParseBTMResponse(body []byte) (BTMResponse, error) {
	if len(body) < 2 {
		return BTMResponse{}, ekind.Newf(component, ekind.Malformed, "BTM response too short: %d bytes", len(body))
	}
	return BTMResponse{DialogToken: body[0], StatusCode: body[1]}, nil
}

// WNM Notification Request type-byte values (spec §6).
const (
	WNMNotifyFirmwareUpdate   = 0x00
	WNMNotifyBeaconProtection = 0x02
	WNMNotifyVendorSpecific   = 0xDD
)

// WNMNotificationRequest is the decoded content of a WNM Notification
// Request (category=10, action=26).
type WNMNotificationRequest struct {
	DialogToken uint8
	Type        uint8
	Subelements []byte
}

// ParseWNMNotificationRequest decodes body (the bytes following
// category/action).
func ParseWNMNotificationRequest(body []byte) (WNMNotificationRequest, error) {
	if len(body) < 2 {
		return WNMNotificationRequest{}, ekind.Newf(component, ekind.Malformed, "WNM notification request too short: %d bytes", len(body))
	}
	return WNMNotificationRequest{
		DialogToken: body[0],
		Type:        body[1],
		Subelements: body[2:],
	}, nil
}

// BeaconReport is a decoded RRM beacon-report subelement, yielding the
// fields the capability cache needs (spec §6).
type BeaconReport struct {
	OpClass uint8
	Channel uint8
	RCPI    uint8
	RSNI    uint8
	BSSID   wireid.MacAddr
}

// rrmBeaconReportFixedLen is the length of the fixed fields of a beacon
// report measurement (op class, channel, start time, duration, frame
// info, RCPI, RSNI, BSSID, antenna id, parent TSF), before any
// subelements.
const rrmBeaconReportFixedLen = 1 + 1 + 8 + 2 + 1 + 1 + 1 + 6 + 1 + 4

// ParseRRMBeaconReport decodes body (the bytes following category/action
// of a Measurement Report action frame) for a single Measurement Report
// element containing a beacon-report measurement. Only the first
// beacon-typed Measurement Report element is returned.
func ParseRRMBeaconReport(body []byte) (BeaconReport, error) {
	if len(body) < 1 {
		return BeaconReport{}, ekind.Newf(component, ekind.Malformed, "empty measurement report body")
	}
	// Skip the Dialog Token.
	body = body[1:]
	var report BeaconReport
	found := false
	err := WalkIEs(body, func(ie IE) error {
		if found || ie.ID != MeasurementReportElementID {
			return nil
		}
		if len(ie.Data) < 3 {
			return ekind.Newf(component, ekind.Malformed, "measurement report element too short")
		}
		measType := ie.Data[2]
		if measType != BeaconReportMeasurementType {
			return nil
		}
		fields := ie.Data[3:]
		if len(fields) < rrmBeaconReportFixedLen {
			return ekind.Newf(component, ekind.Malformed, "beacon report fields too short: %d bytes", len(fields))
		}
		report.OpClass = fields[0]
		report.Channel = fields[1]
		report.RCPI = fields[13]
		report.RSNI = fields[14]
		copy(report.BSSID[:], fields[15:21])
		found = true
		return nil
	})
	if err != nil {
		return BeaconReport{}, err
	}
	if !found {
		return BeaconReport{}, ekind.Newf(component, ekind.NotFound, "no beacon-report measurement in report")
	}
	return report, nil
}
