/*
 * Copyright 2024 Plume Design Inc.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at https://mozilla.org/MPL/2.0/.
 */

// Package steer is the per-client Steering State Machine (spec §4.F):
// probe rejection, auth blocking, HWM/LWM SNR-crossing kicks, backoff,
// and the debounce/guard timers that keep kicks from firing in bursts.
package steer

import (
	"math"
	"time"

	"github.com/plume-design/opensync-sub024/pkg/wireid"
)

// State is a client's steering lifecycle stage (spec §4.F).
type State int

// States, initial = Disconnected.
const (
	Disconnected State = iota
	Connected
	Steering
	Backoff
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connected:
		return "connected"
	case Steering:
		return "steering"
	case Backoff:
		return "backoff"
	default:
		return "unknown"
	}
}

// RejectMode governs which probe requests count toward num_rejects.
type RejectMode int

// Reject modes (spec §4.F).
const (
	RejectNone RejectMode = iota
	RejectProbeAll
	RejectProbeNull
	RejectProbeDirect
	RejectAuthBlocked
)

// KickType selects the mechanism used to move a connected client (spec
// §4.F/§3).
type KickType int

// Kick types.
const (
	KickNone KickType = iota
	KickDisassoc
	KickDeauth
	KickBTM
	KickRRMBR
	KickBTMDisassoc
	KickBTMDeauth
	KickRRMDisassoc
	KickRRMDeauth
)

// KickClass distinguishes the two independently-debounced kick
// pathways, per spec §4.F: steering_kick (HWM crossing, 2.4G->5G style
// band steering) and sticky_kick (LWM crossing, "don't stay on a weak
// link").
type KickClass int

// Kick classes.
const (
	ClassSteering KickClass = iota
	ClassSticky
)

// Defaults grounded on the reference implementation's BM client (RSSI
// hysteresis, probe-request threshold counts/values, BTM retries). The
// rogue-SNR floor itself (BM_CLIENT_ROGUE_SNR_LEVEL) lives in
// capcache.RogueSNRFloor, next to the RecordSNR call it gates.
const (
	DefaultHysteresisDB       = 2
	DefaultPreqSNRThresholdDB = 0
	DefaultPreqTimeCount      = 3
	DefaultBTMRetries         = 3
)

// Config is the per-client policy configuration (spec §4.F).
type Config struct {
	HWMdBm               int
	LWMdBm               int
	MaxRejects           int
	MaxRejectsPeriod     time.Duration
	BackoffPeriod        time.Duration
	BackoffExpBase       float64
	KickType             KickType
	PreAssocAuthBlock    bool
	RejectMode           RejectMode
	PreqSNRThreshold     int
	PreqTimeThreshold    int // consecutive below-threshold observations required
	SteeringKickDebounce time.Duration
	StickyKickDebounce   time.Duration
	KickGuardTime        time.Duration
	SettlingBackoffTime  time.Duration
	KickUponIdle         bool

	// HysteresisDB is the dead-band applied around HWMdBm/LWMdBm by the
	// capcache SNR watch registered for this client (spec §4.E; default
	// DefaultHysteresisDB if left zero).
	HysteresisDB int

	// SuccessThreshold bounds how long after the reject that pushed a
	// client into STEERING a reconnect on a different band still counts
	// as steering_success (spec §4.F row: "within success_threshold").
	// Zero disables the bound (always within threshold).
	SuccessThreshold time.Duration

	// SteeringKickReason/StickyKickReason are the 802.11 deauth reason
	// codes used when a kick falls back to deauth, per-class (ported
	// from bm_client.h's kick_reason/sc_kick_reason/sticky_kick_reason
	// operator-configurable fields).
	SteeringKickReason uint16
	StickyKickReason   uint16
}

// IfnameStats is one entry of a client's per-(ifname, radio_type) vector
// (spec §4.F: "up to 16 ... pairs belonging to up to 4 groups of 4
// ifnames"). Group is 0-3; BSAllowed governs whether the client may be
// steered onto that ifname's band.
type IfnameStats struct {
	Ifname     string
	RadioType  string
	Group      int
	BSAllowed  bool
	ConnectCnt int
	RejectCnt  int
}

// MaxIfnames and MaxGroups bound the per-client ifname vector (spec
// §4.F).
const (
	MaxIfnames = 16
	MaxGroups  = 4
)

// KickRequest is emitted by the state machine when policy decides a
// connected client should be moved or dropped; the engine is
// responsible for actually executing it (BTM request, deauth, etc).
type KickRequest struct {
	Mac   wireid.MacAddr
	Class KickClass
	Type  KickType
}

// Client is a per-(mac) steering control block (spec §3: SteeringClient;
// "group" scoping from the original's multi-radio-group model collapses
// to the per-ifname vector below).
type Client struct {
	Mac   wireid.MacAddr
	State State
	Cfg   Config

	NumRejects        int
	rejectWindowStart time.Time

	// lastRejectAtGroup records, per ifname group, the time of the most
	// recent blocked probe (spec §4.F row: "sta_connected on target
	// band" — ported from the reference client's per-band
	// times.probe[band].last_blocked array). OnConnected consults the
	// groups other than the one it just connected on to decide whether
	// the client was actually being steered away from them.
	lastRejectAtGroup map[int]time.Time

	backoffCount  int
	backoffExpiry time.Time

	lastKick map[KickClass]time.Time
	lastAnyKick time.Time
	lastTransitionAt time.Time

	preAssocBelowCount int
	AuthBlocked        bool

	Ifnames []IfnameStats

	// idlePendingKick holds a sticky kick deferred until the client goes
	// idle (spec §4.F: "if activity=idle or kick_upon_idle=false, kick
	// immediately; else defer until idle event").
	idlePendingKick *KickRequest
}

// NewClient constructs a Client in the initial Disconnected state.
func NewClient(mac wireid.MacAddr, cfg Config) *Client {
	return &Client{
		Mac:               mac,
		State:             Disconnected,
		Cfg:               cfg,
		lastKick:          make(map[KickClass]time.Time),
		lastRejectAtGroup: make(map[int]time.Time),
	}
}

// AddIfname registers an (ifname, radio_type) pair in group, bounded by
// MaxIfnames/MaxGroups. Extra additions beyond the bound are ignored.
func (c *Client) AddIfname(ifname, radioType string, group int, bsAllowed bool) {
	if len(c.Ifnames) >= MaxIfnames || group >= MaxGroups {
		return
	}
	c.Ifnames = append(c.Ifnames, IfnameStats{Ifname: ifname, RadioType: radioType, Group: group, BSAllowed: bsAllowed})
}

// ifnameGroup returns the group an ifname was registered under via
// AddIfname, or -1 if it isn't known.
func (c *Client) ifnameGroup(ifname string) int {
	for _, s := range c.Ifnames {
		if s.Ifname == ifname {
			return s.Group
		}
	}
	return -1
}

func (c *Client) transition(to State, now time.Time) {
	c.State = to
	c.lastTransitionAt = now
}

// OnProbeReq handles a probe-request observation on ifname. blocked
// indicates the probe matched the driver's block list (spec §4.F row 1:
// "probe_req, blocked=true, reject_mode matches"). connectedElsewhere
// suppresses the reject-counting transition, since a station already
// connected to this BSS set shouldn't be pushed into STEERING by its
// own probes.
func (c *Client) OnProbeReq(ifname string, blocked bool, connectedElsewhere bool, now time.Time) {
	if c.State != Disconnected && c.State != Steering {
		return
	}
	if !blocked || c.Cfg.RejectMode == RejectNone || connectedElsewhere {
		return
	}
	if c.Cfg.MaxRejects <= 0 {
		// max_rejects = 0 disables reject-driven transitions.
		return
	}
	if group := c.ifnameGroup(ifname); group >= 0 {
		c.lastRejectAtGroup[group] = now
	}
	if c.NumRejects == 0 || now.Sub(c.rejectWindowStart) > c.Cfg.MaxRejectsPeriod {
		c.rejectWindowStart = now
		c.NumRejects = 0
	}
	c.NumRejects++
	c.transition(Steering, now)

	if c.Cfg.MaxRejects > 0 && c.NumRejects >= c.Cfg.MaxRejects {
		c.enterBackoff(now)
	}
}

func (c *Client) enterBackoff(now time.Time) {
	if c.Cfg.BackoffPeriod <= 0 {
		// Boundary (spec §8): backoff_period = 0 disables backoff.
		c.NumRejects = 0
		c.transition(Disconnected, now)
		return
	}
	period := time.Duration(float64(c.Cfg.BackoffPeriod) * math.Pow(c.Cfg.BackoffExpBase, float64(c.backoffCount)))
	c.backoffCount++
	c.backoffExpiry = now.Add(period)
	c.transition(Backoff, now)
}

// OnBackoffExpired clears the reject count and returns to Disconnected.
// The caller is responsible for only invoking this once now has reached
// c.backoffExpiry.
func (c *Client) OnBackoffExpired(now time.Time) {
	if c.State != Backoff {
		return
	}
	c.NumRejects = 0
	c.backoffExpiry = time.Time{}
	c.transition(Disconnected, now)
}

// BackoffExpiry reports when the current backoff timer fires; the zero
// value means no backoff is armed.
func (c *Client) BackoffExpiry() time.Time {
	return c.backoffExpiry
}

// OnConnected records a successful association, resetting reject
// tracking. ifname is the vif the client associated on. The returned
// bool reports whether this connect qualifies as steering_success
// (spec §4.F row: "STEERING -> CONNECTED, sta_connected on target band,
// within success_threshold"): the client must have been in STEERING,
// the connect must land on a different ifname group than the one that
// was rejecting it, and that reject must have happened within
// Cfg.SuccessThreshold of now.
func (c *Client) OnConnected(ifname string, now time.Time) bool {
	wasSteering := c.State == Steering
	success := false
	if wasSteering {
		targetGroup := c.ifnameGroup(ifname)
		for group, rejectedAt := range c.lastRejectAtGroup {
			if group == targetGroup {
				continue
			}
			if c.Cfg.SuccessThreshold <= 0 || now.Sub(rejectedAt) <= c.Cfg.SuccessThreshold {
				success = true
				break
			}
		}
	}
	c.NumRejects = 0
	for i := range c.Ifnames {
		if c.Ifnames[i].Ifname == ifname {
			c.Ifnames[i].ConnectCnt++
		}
	}
	c.transition(Connected, now)
	return success
}

// OnDisconnected records a disconnect. The transition time it records
// starts the SettlingBackoffTime window that guardOK enforces.
func (c *Client) OnDisconnected(now time.Time) {
	c.idlePendingKick = nil
	c.transition(Disconnected, now)
}

// guardOK reports whether enough time has elapsed since any kick
// (kick_guard_time) and since a kick of this specific class
// (per-class debounce) to allow a new kick.
func (c *Client) guardOK(class KickClass, now time.Time) bool {
	if c.Cfg.KickGuardTime > 0 && now.Sub(c.lastAnyKick) < c.Cfg.KickGuardTime {
		return false
	}
	debounce := c.Cfg.SteeringKickDebounce
	if class == ClassSticky {
		debounce = c.Cfg.StickyKickDebounce
	}
	if debounce > 0 {
		if last, ok := c.lastKick[class]; ok && now.Sub(last) < debounce {
			return false
		}
	}
	if c.Cfg.SettlingBackoffTime > 0 && now.Sub(c.lastTransitionAt) < c.Cfg.SettlingBackoffTime {
		return false
	}
	return true
}

func (c *Client) recordKick(class KickClass, now time.Time) {
	c.lastKick[class] = now
	c.lastAnyKick = now
}

// OnHWMCrossing handles an SNR crossing above the high-water mark (spec
// §4.F row: "SNR crossing HWM ... with guard expired"), requesting a
// steering_kick. Returns nil if policy or guards suppress the kick.
func (c *Client) OnHWMCrossing(now time.Time) *KickRequest {
	if c.State != Connected || c.Cfg.HWMdBm == 0 {
		return nil
	}
	if !c.guardOK(ClassSteering, now) {
		return nil
	}
	c.recordKick(ClassSteering, now)
	return &KickRequest{Mac: c.Mac, Class: ClassSteering, Type: c.Cfg.KickType}
}

// OnLWMCrossing handles an SNR crossing below the low-water mark,
// requesting a sticky_kick, deferred to idle if the client is currently
// active and kick_upon_idle is configured.
func (c *Client) OnLWMCrossing(idle bool, now time.Time) *KickRequest {
	if c.State != Connected || c.Cfg.LWMdBm == 0 {
		return nil
	}
	if !c.guardOK(ClassSticky, now) {
		return nil
	}
	req := &KickRequest{Mac: c.Mac, Class: ClassSticky, Type: c.Cfg.KickType}
	if !idle && c.Cfg.KickUponIdle {
		c.idlePendingKick = req
		return nil
	}
	c.recordKick(ClassSticky, now)
	return req
}

// OnIdle fires a sticky kick that was deferred by OnLWMCrossing, if any.
func (c *Client) OnIdle(now time.Time) *KickRequest {
	if c.idlePendingKick == nil {
		return nil
	}
	req := c.idlePendingKick
	c.idlePendingKick = nil
	c.recordKick(req.Class, now)
	return req
}

// OnPreAssocSNR feeds a pre-association probe SNR sample into the
// auth-block gate: once PreqTimeThreshold consecutive samples fall
// below PreqSNRThreshold, AuthBlocked is set (spec §4.F: "blackhole auth
// attempts until threshold is met for preq_time_th consecutive
// observations").
func (c *Client) OnPreAssocSNR(snrDB int, now time.Time) {
	if !c.Cfg.PreAssocAuthBlock {
		return
	}
	if snrDB < c.Cfg.PreqSNRThreshold {
		c.preAssocBelowCount++
	} else {
		c.preAssocBelowCount = 0
		c.AuthBlocked = false
		return
	}
	if c.Cfg.PreqTimeThreshold > 0 && c.preAssocBelowCount >= c.Cfg.PreqTimeThreshold {
		c.AuthBlocked = true
	}
}
