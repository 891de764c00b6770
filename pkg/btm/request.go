/*
 * Copyright 2024 Plume Design Inc.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at https://mozilla.org/MPL/2.0/.
 */

// Package btm is the BTM Request Engine (spec §4.G): it builds 802.11v
// BSS Transition Management requests with candidate lists and MBO
// attributes, tracks their prepared/queued/sent/responded lifecycle, and
// retries on timeout up to a configured limit.
package btm

import (
	"time"

	"github.com/satori/uuid"

	"github.com/plume-design/opensync-sub024/pkg/capcache"
	"github.com/plume-design/opensync-sub024/pkg/wireid"
)

// State is a request's position in its lifecycle (spec §3: "state ∈
// {prepared, queued, sent, responded, completed, failed, dropped}").
type State int

// States.
const (
	Prepared State = iota
	Queued
	Sent
	Responded
	Completed
	Failed
	Dropped
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case Prepared:
		return "prepared"
	case Queued:
		return "queued"
	case Sent:
		return "sent"
	case Responded:
		return "responded"
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	case Dropped:
		return "dropped"
	default:
		return "unknown"
	}
}

// CellPreference is the MBO cellular-preference attribute embedded in a
// request targeting an MBO-capable station (spec §4.G).
type CellPreference int

// Values.
const (
	CellPrefNone CellPreference = iota
	CellPrefRecommendCell
	CellPrefAvoidCell
)

// Defaults grounded on the reference BM client's BTM constants.
const (
	DefaultValidInterval  = 255 // TBTTs
	DefaultAbridged       = true
	DefaultPref           = true
	DefaultDisassocImminent = true
	DefaultBSSTermination = false
	DefaultNeighborBSSInfo = 0x8F // reachable, secure, key scope
	DefaultMaxCandidates  = 3
	DefaultMaxRetries     = 3
	DefaultRetryInterval  = 10 * time.Second
)

// Candidate is one neighbor BSSID offered in a BTM request's candidate
// list.
type Candidate struct {
	BSSID   wireid.MacAddr
	OpClass uint8
	Channel uint8
	// BSSInfo is the raw BSS Transition Candidate Preference / Neighbor
	// Report BSSID Information field (default 0x8F per spec §4.G).
	BSSInfo uint32
}

// MBOAttrs carries the MBO attributes embedded when the target is
// MBO-capable (spec §4.G).
type MBOAttrs struct {
	Present        bool
	Reason         string // "low_rssi"
	CellPreference CellPreference
}

// Request is one BTM request's full lifecycle state.
type Request struct {
	// ID correlates log lines and retry attempts for one logical request
	// across its lifecycle; it never appears on the wire (the 802.11
	// dialog token, a single octet, does that job there).
	ID        uuid.UUID
	TargetMac wireid.MacAddr
	// Phy/Vif identify the link this request was sent over, so a Tick-
	// driven retry can resend on the same link and a fallback deauth on
	// exhaustion targets the right vif (spec §4.G retry policy).
	Phy              wireid.PhyID
	Vif              wireid.VifID
	Candidates       []Candidate
	DisassocImminent bool
	DisassocTimerTBTTs uint16
	Abridged         bool
	MBO              MBOAttrs

	// FallbackReason is the 802.11 deauth reason code to use if this
	// request's retry budget is exhausted without a response (spec
	// §4.G: "on exhaustion, fall through to disassoc/deauth if
	// configured").
	FallbackReason uint16

	State    State
	Attempt  int
	ArmedAt  time.Time
	NextRetryAt time.Time
	StatusCode uint8
}

// BuildCandidates selects up to DefaultMaxCandidates neighbor BSSIDs for
// mac from beacon reports cached in store (sorted by RCPI, descending),
// falling back to staticNeighbors when the cache has nothing.
func BuildCandidates(store *capcache.Store, mac wireid.MacAddr, now time.Time, staticNeighbors []Candidate) []Candidate {
	reports := store.RRMBeaconReports(mac, now)
	if len(reports) == 0 {
		return capAt(staticNeighbors, DefaultMaxCandidates)
	}
	cands := make([]Candidate, 0, len(reports))
	for bssid, r := range reports {
		cands = append(cands, Candidate{
			BSSID:   bssid,
			OpClass: r.OpClass,
			Channel: r.Channel,
			BSSInfo: DefaultNeighborBSSInfo,
		})
	}
	// Sort by RCPI descending. The RCPI value isn't retained on
	// Candidate, so re-derive from the source map during the sort.
	rcpi := make(map[wireid.MacAddr]uint8, len(reports))
	for bssid, r := range reports {
		rcpi[bssid] = r.RCPI
	}
	sortByRCPIDesc(cands, rcpi)
	return capAt(cands, DefaultMaxCandidates)
}

func sortByRCPIDesc(cands []Candidate, rcpi map[wireid.MacAddr]uint8) {
	for i := 1; i < len(cands); i++ {
		for j := i; j > 0 && rcpi[cands[j-1].BSSID] < rcpi[cands[j].BSSID]; j-- {
			cands[j-1], cands[j] = cands[j], cands[j-1]
		}
	}
}

func capAt(c []Candidate, max int) []Candidate {
	if len(c) > max {
		return c[:max]
	}
	return c
}

// New constructs a prepared Request for mac with the given candidates
// and MBO attributes, applying the spec's documented defaults for the
// fixed fields.
func New(mac wireid.MacAddr, candidates []Candidate, hardKick bool, mboCapable bool) *Request {
	mbo := MBOAttrs{}
	if mboCapable {
		mbo.Present = true
		mbo.Reason = "low_rssi"
		if hardKick {
			mbo.CellPreference = CellPrefRecommendCell
		} else {
			mbo.CellPreference = CellPrefAvoidCell
		}
	}
	return &Request{
		ID:                 uuid.Must(uuid.NewV4()),
		TargetMac:          mac,
		Candidates:         candidates,
		DisassocImminent:   DefaultDisassocImminent,
		Abridged:           DefaultAbridged,
		DisassocTimerTBTTs: disassocTimerFromInterval(0),
		MBO:                mbo,
		State:              Prepared,
	}
}

// disassocTimerFromInterval computes the disassoc_timer (in TBTTs) that
// yields roughly a 5-second delay given bcnIntervalMs (spec §8 scenario
// 4: "disassoc_timer computed from bcn_interval=200ms so that actual
// disassoc is ~5s later"). A zero interval defaults to 100ms (standard
// beacon interval), matching common driver defaults.
func disassocTimerFromInterval(bcnIntervalMs int) uint16 {
	if bcnIntervalMs <= 0 {
		bcnIntervalMs = 100
	}
	tbtts := (5000 + bcnIntervalMs - 1) / bcnIntervalMs
	return uint16(tbtts)
}

// Queue moves a prepared request to Queued.
func (r *Request) Queue() {
	if r.State == Prepared {
		r.State = Queued
	}
}

// Send marks the request sent and arms the retry timer for
// retryInterval from now.
func (r *Request) Send(now time.Time, retryInterval time.Duration) {
	if r.State != Queued && r.State != Sent {
		return
	}
	r.State = Sent
	r.ArmedAt = now
	r.Attempt++
	r.NextRetryAt = now.Add(retryInterval)
}

// OnResponse records a response frame's status code, transitioning to
// Responded then Completed (status==0 accept) or Failed.
func (r *Request) OnResponse(statusCode uint8, now time.Time) {
	if r.State != Sent {
		return
	}
	r.State = Responded
	r.StatusCode = statusCode
	if statusCode == 0 {
		r.State = Completed
	} else {
		r.State = Failed
	}
}

// MaybeRetry reports whether a retry is due at now, consuming the
// attempt if so; returns false once maxRetries is exhausted, leaving the
// request in Sent (the caller falls through to disassoc/deauth per spec
// §4.G: "on exhaustion, fall through to disassoc/deauth if configured").
func (r *Request) MaybeRetry(now time.Time, maxRetries int, retryInterval time.Duration) bool {
	if r.State != Sent || now.Before(r.NextRetryAt) {
		return false
	}
	if r.Attempt >= maxRetries {
		return false
	}
	r.Send(now, retryInterval)
	return true
}

// RetriesExhausted reports whether this request has used up its retry
// budget without a response.
func (r *Request) RetriesExhausted(maxRetries int) bool {
	return r.State == Sent && r.Attempt >= maxRetries
}

// Drop cancels any pending retries and marks the request Dropped (spec
// §5: "BTM requests expose drop() which cancels retries and removes
// response correlation").
func (r *Request) Drop() {
	r.State = Dropped
	r.NextRetryAt = time.Time{}
}
