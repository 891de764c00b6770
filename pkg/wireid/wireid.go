/*
 * Copyright 2024 Plume Design Inc.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at https://mozilla.org/MPL/2.0/.
 */

// Package wireid defines the stable identifiers and primitive wire types
// shared by every component of the steering engine: radio (Phy) and
// virtual-interface (Vif) names, station MAC addresses, and channel
// descriptions. These are plain, comparable values so they can be used
// directly as map keys and passed across component boundaries without
// handing out pointers into the state cache.
package wireid

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
)

// PhyID is the stable name of a radio, e.g. "wlan0".
type PhyID string

// VifID is the stable name of a virtual interface, e.g. "wlan0.2".
type VifID string

// MacAddr is a 6-octet hardware address. It is a fixed-size array so it can
// be used as a map key, unlike net.HardwareAddr.
type MacAddr [6]byte

// ParseMac parses a colon- or dash-separated MAC address string.
func ParseMac(s string) (MacAddr, error) {
	var m MacAddr
	s = strings.NewReplacer("-", ":").Replace(s)
	parts := strings.Split(s, ":")
	if len(parts) != 6 {
		return m, fmt.Errorf("wireid: malformed mac address %q", s)
	}
	for i, p := range parts {
		b, err := hex.DecodeString(p)
		if err != nil || len(b) != 1 {
			return m, fmt.Errorf("wireid: malformed mac octet %q in %q", p, s)
		}
		m[i] = b[0]
	}
	return m, nil
}

// MustParseMac is ParseMac, panicking on error. Intended for literals in
// tests and static tables.
func MustParseMac(s string) MacAddr {
	m, err := ParseMac(s)
	if err != nil {
		panic(err)
	}
	return m
}

// String renders the canonical lower-case colon-separated form.
func (m MacAddr) String() string {
	return fmt.Sprintf("%02x:%02x:%02x:%02x:%02x:%02x",
		m[0], m[1], m[2], m[3], m[4], m[5])
}

// IsZero reports whether m is the all-zero address.
func (m MacAddr) IsZero() bool {
	return m == MacAddr{}
}

// ChannelWidth is the bandwidth of an operating channel.
type ChannelWidth int

// Supported channel widths.
const (
	Width20 ChannelWidth = 20
	Width40 ChannelWidth = 40
	Width80 ChannelWidth = 80
	Width160 ChannelWidth = 160
	Width80P80 ChannelWidth = 8080 // 80+80 MHz, non-contiguous
)

// String implements fmt.Stringer.
func (w ChannelWidth) String() string {
	if w == Width80P80 {
		return "80+80"
	}
	return strconv.Itoa(int(w)) + "MHz"
}

// Channel describes an 802.11 operating channel, as reported by the driver
// or derived from parsed IEs.
type Channel struct {
	ControlFreqMHz int
	CenterFreq0MHz int
	CenterFreq1MHz int // zero unless Width is 80+80
	Width          ChannelWidth
}

// IsZero reports whether c is the zero value (no channel assigned).
func (c Channel) IsZero() bool {
	return c == Channel{}
}

// String renders a compact human-readable form, e.g. "5180/80".
func (c Channel) String() string {
	if c.Width == Width80P80 {
		return fmt.Sprintf("%d/%d+%d", c.ControlFreqMHz, c.CenterFreq0MHz, c.CenterFreq1MHz)
	}
	return fmt.Sprintf("%d/%d", c.ControlFreqMHz, c.Width)
}

// FreqToChannelNum converts a 2.4/5/6 GHz control frequency (MHz) to the
// 802.11 channel number hostapd and driver tooling expect. Returns 0 if the
// frequency doesn't fall into a known band.
func FreqToChannelNum(freqMHz int) int {
	switch {
	case freqMHz == 2484:
		return 14
	case freqMHz >= 2412 && freqMHz <= 2472:
		return (freqMHz-2412)/5 + 1
	case freqMHz >= 5000 && freqMHz < 5895:
		return (freqMHz - 5000) / 5
	case freqMHz >= 5955 && freqMHz <= 7115:
		// 6 GHz band (802.11ax/be)
		return (freqMHz-5955)/5 + 1
	default:
		return 0
	}
}

// Band names, matching the three 802.11 bands the channel-selection and
// steering policy distinguish between.
const (
	Band24GHz = "2.4GHz"
	Band5GHz  = "5GHz"
	Band6GHz  = "6GHz"
)

// Band classifies a control frequency into one of the named bands. Returns
// "" if the frequency is unrecognized.
func Band(freqMHz int) string {
	switch {
	case freqMHz >= 2412 && freqMHz <= 2484:
		return Band24GHz
	case freqMHz >= 5000 && freqMHz < 5895:
		return Band5GHz
	case freqMHz >= 5955 && freqMHz <= 7115:
		return Band6GHz
	default:
		return ""
	}
}
