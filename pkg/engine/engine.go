/*
 * Copyright 2024 Plume Design Inc.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at https://mozilla.org/MPL/2.0/.
 */

// Package engine is the single context object that owns every other
// subsystem (spec §9 Design Notes: "Global singletons ... Make these
// explicit: a single context object owns all subsystems; process-level
// init/teardown takes/releases it"). It wires the Driver Abstraction
// Sink through the State Cache, Station-Assoc Tracker, Frame Parser,
// Capability Store, Steering State Machine, BTM Request Engine, and the
// Xphy-CSA Config Mutator, entirely on the single dispatcher goroutine.
package engine

import (
	"context"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/plume-design/opensync-sub024/pkg/btm"
	"github.com/plume-design/opensync-sub024/pkg/capcache"
	"github.com/plume-design/opensync-sub024/pkg/driversink"
	"github.com/plume-design/opensync-sub024/pkg/ekind"
	"github.com/plume-design/opensync-sub024/pkg/frame"
	"github.com/plume-design/opensync-sub024/pkg/metrics"
	"github.com/plume-design/opensync-sub024/pkg/notify"
	"github.com/plume-design/opensync-sub024/pkg/settings"
	"github.com/plume-design/opensync-sub024/pkg/stassoc"
	"github.com/plume-design/opensync-sub024/pkg/statecache"
	"github.com/plume-design/opensync-sub024/pkg/steer"
	"github.com/plume-design/opensync-sub024/pkg/wireid"
	"github.com/plume-design/opensync-sub024/pkg/xphycsa"
)

// Clock abstracts time.Now so tests can inject a controlled clock; the
// production Engine uses time.Now directly.
type Clock func() time.Time

// Engine owns every engine subsystem and is the sole mutator of their
// state; it is driven entirely from Run's dispatcher loop.
type Engine struct {
	Sink     *driversink.Sink
	Cache    *statecache.Cache
	Tracker  *stassoc.Tracker
	Caps     *capcache.Store
	Settings *settings.Registry

	driver driversink.Driver
	slog   *zap.SugaredLogger
	now    Clock

	defaultSteerCfg steer.Config
	clients         map[wireid.MacAddr]*steer.Client
	btmRequests     map[wireid.MacAddr]*btm.Request
	snrWatches      map[wireid.MacAddr]snrWatch

	xphyOverride *xphycsa.Override

	gcPeriod time.Duration
}

// snrWatch holds the capcache.Store handles for one link's HWM/LWM
// threshold watches, so a reconnect (which may move the link to a new
// vif/bssid) can unregister the stale pair before registering a fresh
// one.
type snrWatch struct {
	hwm, lwm notify.Handle
}

// New constructs an Engine wired over driver, with a bounded driver-sink
// queue and the given default per-client steering policy.
func New(driver driversink.Driver, slog *zap.SugaredLogger, defaultSteerCfg steer.Config) *Engine {
	e := &Engine{
		Sink:            driversink.New(slog, driversink.DefaultQueueCapacity),
		Cache:           statecache.New(slog),
		Tracker:         nil, // set below; needs Cache
		Caps:            capcache.New(),
		Settings:        settings.NewRegistry(),
		driver:          driver,
		slog:            slog,
		now:             time.Now,
		defaultSteerCfg: defaultSteerCfg,
		clients:         make(map[wireid.MacAddr]*steer.Client),
		btmRequests:     make(map[wireid.MacAddr]*btm.Request),
		snrWatches:      make(map[wireid.MacAddr]snrWatch),
		xphyOverride:    &xphycsa.Override{},
		gcPeriod:        capcache.RRMGCPeriod,
	}
	e.registerSettings()
	return e
}

// registerSettings exposes the steering policy's dynamic knobs on
// e.Settings, mirroring the teacher's apcfg Int/Duration/Bool pattern.
// A change lands in e.defaultSteerCfg and applies to every client
// created afterward; a client already in e.clients keeps its own
// snapshot, same as the rest of the engine's per-client state.
func (e *Engine) registerSettings() {
	e.Settings.Int("max_rejects", e.defaultSteerCfg.MaxRejects, true, func(_, val string) error {
		n, err := strconv.Atoi(val)
		if err != nil {
			return err
		}
		e.defaultSteerCfg.MaxRejects = n
		return nil
	})
	e.Settings.Duration("backoff_period", e.defaultSteerCfg.BackoffPeriod, true, func(_, val string) error {
		d, err := time.ParseDuration(val)
		if err != nil {
			return err
		}
		e.defaultSteerCfg.BackoffPeriod = d
		return nil
	})
	e.Settings.Int("hwm_dbm", e.defaultSteerCfg.HWMdBm, true, func(_, val string) error {
		n, err := strconv.Atoi(val)
		if err != nil {
			return err
		}
		e.defaultSteerCfg.HWMdBm = n
		return nil
	})
	e.Settings.Int("lwm_dbm", e.defaultSteerCfg.LWMdBm, true, func(_, val string) error {
		n, err := strconv.Atoi(val)
		if err != nil {
			return err
		}
		e.defaultSteerCfg.LWMdBm = n
		return nil
	})
	e.Settings.Duration("kick_guard_time", e.defaultSteerCfg.KickGuardTime, true, func(_, val string) error {
		d, err := time.ParseDuration(val)
		if err != nil {
			return err
		}
		e.defaultSteerCfg.KickGuardTime = d
		return nil
	})
	e.Settings.Bool("pre_assoc_auth_block", e.defaultSteerCfg.PreAssocAuthBlock, true, func(_, val string) error {
		b, err := strconv.ParseBool(val)
		if err != nil {
			return err
		}
		e.defaultSteerCfg.PreAssocAuthBlock = b
		return nil
	})
}

func (e *Engine) tracker() *stassoc.Tracker {
	if e.Tracker == nil {
		e.Tracker = stassoc.New(e.Cache, e.slog)
	}
	return e.Tracker
}

// Run drains the driver-sink queue until ctx is canceled, dispatching
// every event through the engine's components. It runs no timers of its
// own: RRM-cache GC, station ageout and backoff expiry happen only when
// the caller invokes Tick.
func (e *Engine) Run(ctx context.Context) {
	e.tracker()
	e.Sink.Run(ctx, e.handle)
}

// Tick runs the periodic maintenance sweep (station ageout, RRM GC,
// backoff expiry, deferred-idle kicks, BTM retry/fallback) once; callers
// schedule it on their own ticker (spec §5: "Timer callbacks ... run
// inline on the main loop").
func (e *Engine) Tick() {
	now := e.now()
	for _, mac := range e.Cache.SweepExpired(now) {
		e.Caps.Forget(mac)
		e.unregisterSNRWatch(mac)
		delete(e.clients, mac)
		delete(e.btmRequests, mac)
	}
	for mac, c := range e.clients {
		if c.State == steer.Backoff && !c.BackoffExpiry().IsZero() && !now.Before(c.BackoffExpiry()) {
			c.OnBackoffExpired(now)
		}
		if c.State == steer.Connected {
			if req := c.OnIdle(now); req != nil {
				e.dispatchKick(mac, mac, req, now)
			}
		}
		e.Caps.GCRRMReports(mac, now)
	}
	e.tickBTMRequests(now)
	metrics.ConnectedStations.Set(float64(e.countConnected()))
}

// tickBTMRequests walks every in-flight BTM request, resending on its
// retry schedule and falling through to deauth once btm_retries is
// exhausted (spec §4.G: "Retry policy: up to btm_retries ... at
// retry_interval seconds; on exhaustion, fall through to disassoc/
// deauth if configured"). Terminal requests (Completed/Failed/Dropped)
// are dropped from the tracking map here, since OnResponse has no
// opportunity to do so itself.
func (e *Engine) tickBTMRequests(now time.Time) {
	for mac, req := range e.btmRequests {
		switch req.State {
		case btm.Completed, btm.Failed, btm.Dropped:
			delete(e.btmRequests, mac)
			continue
		}
		if req.State != btm.Sent {
			continue
		}
		if req.MaybeRetry(now, btm.DefaultMaxRetries, btm.DefaultRetryInterval) {
			if e.driver != nil {
				_ = e.driver.PushFrameTx(req.Phy, req.Vif, nil)
			}
			continue
		}
		if !req.RetriesExhausted(btm.DefaultMaxRetries) {
			continue
		}
		metrics.BTMRetriesExhausted.Inc()
		metrics.SteeringFail.Inc()
		if e.driver != nil {
			if err := e.driver.RequestStaDeauth(req.Phy, req.Vif, mac, req.FallbackReason); err != nil && e.slog != nil {
				e.slog.Warnw("fallback deauth after BTM exhaustion failed", "mac", mac, "err", err)
			}
		}
		req.Drop()
		delete(e.btmRequests, mac)
	}
}

func (e *Engine) countConnected() int {
	n := 0
	for _, sta := range e.Cache.Stations() {
		if sta.IsConnected() {
			n++
		}
	}
	return n
}

func (e *Engine) clientFor(mac wireid.MacAddr) *steer.Client {
	c, ok := e.clients[mac]
	if !ok {
		c = steer.NewClient(mac, e.defaultSteerCfg)
		e.clients[mac] = c
	}
	return c
}

// handle is the engine's single dispatch point; every Event variant
// flows through here on the dispatcher goroutine (spec §2: "Control
// flow: A -> B -> C -> (D feeds E and F) -> F drives G").
func (e *Engine) handle(ev driversink.Event) {
	now := e.now()
	switch v := ev.(type) {
	case driversink.PhyAdded:
		e.Cache.UpsertPhy(v.Phy, v.State)
	case driversink.PhyChanged:
		e.Cache.UpsertPhy(v.Phy, v.State)
	case driversink.PhyRemoved:
		_ = e.Cache.RemovePhy(v.Phy)

	case driversink.VifAdded:
		e.Cache.UpsertVif(v.Phy, v.Vif, v.State)
	case driversink.VifChanged:
		e.Cache.UpsertVif(v.Phy, v.Vif, v.State)
	case driversink.VifRemoved:
		_ = e.Cache.RemoveVif(v.Phy, v.Vif)

	case driversink.StaConnected:
		e.onStaConnected(v, now)
	case driversink.StaChanged:
		e.onStaChanged(v, now)
	case driversink.StaDisconnected:
		e.onStaDisconnected(v, now)

	case driversink.FrameRx:
		e.onFrameRx(v, now)
	case driversink.ProbeReq:
		e.onProbeReq(v, now)
	case driversink.StaSNR:
		e.onStaSNR(v, now)
	case driversink.CSAToPhy:
		e.onCSAToPhy(v)
	}
}

func (e *Engine) onStaConnected(v driversink.StaConnected, now time.Time) {
	vif, err := e.Cache.LookupVif(v.Vif)
	var bssid wireid.MacAddr
	if err == nil {
		bssid = vif.Bssid
	}
	e.tracker().OnConnected(v.Phy, v.Vif, v.Mac, v.LocalMLDAddr, bssid, v.AssocIEs, now)

	if len(v.AssocIEs) > 0 {
		e.ingestAssocIEs(v.Mac, v.AssocIEs)
	}
	ifname := string(v.Vif)
	c := e.clientFor(e.stationKey(v.Mac))
	if c.OnConnected(ifname, now) {
		metrics.SteeringSuccess.Inc()
	}
	e.registerSNRWatch(e.stationKey(v.Mac), v.Mac, bssid, c.Cfg)
}

func (e *Engine) onStaChanged(v driversink.StaChanged, now time.Time) {
	if sta, err := e.Cache.LookupStation(v.Mac); err == nil {
		sta.LastActivityAt = now
		if len(v.AssocIEs) > 0 {
			sta.AssocIEsBytes = v.AssocIEs
			e.ingestAssocIEs(v.Mac, v.AssocIEs)
		}
	}
}

func (e *Engine) onStaDisconnected(v driversink.StaDisconnected, now time.Time) {
	e.tracker().OnDisconnected(v.Phy, v.Vif, v.Mac, v.Reason, now)
	if c, ok := e.clients[e.stationKey(v.Mac)]; ok {
		c.OnDisconnected(now)
	}
}

// stationKey resolves mac to the logical station key (mld addr if known,
// else mac itself), matching stassoc's own key derivation. A per-link
// MAC of an MLO station is found through that station's active or stale
// links.
func (e *Engine) stationKey(mac wireid.MacAddr) wireid.MacAddr {
	if sta, err := e.Cache.LookupStation(mac); err == nil {
		return sta.Mac
	}
	for _, sta := range e.Cache.Stations() {
		for _, links := range [][]statecache.Link{sta.ActiveLinks, sta.StaleLinks} {
			for _, l := range links {
				if l.RemoteStaAddr == mac {
					return sta.Mac
				}
			}
		}
	}
	return mac
}

func (e *Engine) ingestAssocIEs(mac wireid.MacAddr, ies []byte) {
	info, err := frame.ParseAssocRequest(ies)
	if err != nil {
		metrics.FramesDropped.WithLabelValues("assoc_req", "malformed").Inc()
		if e.slog != nil {
			e.slog.Debugw("malformed assoc IEs", "mac", mac, "err", err)
		}
		return
	}
	if info.MBO.Present {
		e.Caps.SetMBOState(mac, capcache.MBOState{
			Capable:        true,
			CellCapability: capcache.CellCapability(info.MBO.CellCapability),
		})
	}
}

func (e *Engine) onFrameRx(v driversink.FrameRx, now time.Time) {
	hdr, body, err := frame.ParseMgmtHeader(v.Bytes)
	if err != nil {
		metrics.FramesDropped.WithLabelValues("mgmt", "malformed").Inc()
		return
	}
	switch hdr.FC.Subtype {
	case frame.SubtypeAssocReq, frame.SubtypeReassocReq:
		e.ingestAssocIEs(hdr.SA, body)
	case frame.SubtypeAction:
		e.onAction(hdr, body, now)
	}
}

func (e *Engine) onAction(hdr frame.MgmtHeader, body []byte, now time.Time) {
	a, err := frame.ParseAction(body)
	if err != nil {
		metrics.FramesDropped.WithLabelValues("action", "malformed").Inc()
		return
	}
	switch {
	case a.Category == frame.CategoryWNM && a.Action == frame.ActionWNMNotificationRequest:
		req, err := frame.ParseWNMNotificationRequest(a.Body)
		if err != nil {
			metrics.FramesDropped.WithLabelValues("wnm_notify", "malformed").Inc()
			return
		}
		_ = req // subelement-level MBO cell-capability updates are driver-specific; left to ingestAssocIEs/StaChanged.

	case a.Category == frame.CategoryRRM && a.Action == frame.ActionMeasurementReport:
		report, err := frame.ParseRRMBeaconReport(a.Body)
		if err != nil {
			metrics.RRMReportsDropped.Inc()
			return
		}
		e.Caps.UpsertRRMBeaconReport(hdr.SA, report.BSSID, capcache.RRMBeaconReport{
			OpClass:   report.OpClass,
			Channel:   report.Channel,
			RCPI:      report.RCPI,
			RSNI:      report.RSNI,
			Timestamp: now,
		})

	case a.Category == frame.CategoryWNM && a.Action == frame.ActionBTMRequest:
		// BTM requests are produced by this engine, not consumed; a
		// request arriving from a peer AP is outside scope.

	default:
		if req, ok := e.btmRequests[hdr.SA]; ok && a.Category == frame.CategoryWNM {
			if resp, err := frame.ParseBTMResponse(a.Body); err == nil {
				req.OnResponse(resp.StatusCode, now)
				if req.State == btm.Failed {
					metrics.SteeringFail.Inc()
				}
			}
		}
	}
}

func (e *Engine) onProbeReq(v driversink.ProbeReq, now time.Time) {
	key := e.stationKey(v.Mac)
	c := e.clientFor(key)
	connectedElsewhere := false
	if sta, err := e.Cache.LookupStation(key); err == nil {
		connectedElsewhere = sta.IsConnected()
	}
	c.OnProbeReq(string(v.Vif), v.Blocked, connectedElsewhere, now)
	c.OnPreAssocSNR(v.SNR, now)
}

// onStaSNR feeds a post-association per-link SNR sample into the
// capability store, which evaluates it against every HWM/LWM watch
// registered on (mac, vifBssid) and fires the crossing callbacks
// registerSNRWatch wired up (spec §4.E/§4.F: "SNR crossing HWM/LWM").
func (e *Engine) onStaSNR(v driversink.StaSNR, now time.Time) {
	vif, err := e.Cache.LookupVif(v.Vif)
	if err != nil {
		return
	}
	e.Caps.RecordSNR(v.Mac, vif.Bssid, v.SNR)
}

// registerSNRWatch (re)registers a client's HWM/LWM threshold watches on
// (rawMac, bssid), replacing any stale pair left over from a prior link
// (e.g. a reconnect that moved the station to a different vif/bssid).
// key is the aggregated station key used to resolve the steer.Client;
// rawMac is the per-link MAC capcache is keyed by.
func (e *Engine) registerSNRWatch(key, rawMac, bssid wireid.MacAddr, cfg steer.Config) {
	e.unregisterSNRWatch(rawMac)
	hysteresis := cfg.HysteresisDB
	if hysteresis == 0 {
		hysteresis = steer.DefaultHysteresisDB
	}
	hwm := e.Caps.RegisterSNRThreshold(rawMac, bssid, cfg.HWMdBm, hysteresis, func(crossing capcache.SNRCrossing) {
		if !crossing.Above {
			return
		}
		c := e.clientFor(key)
		if req := c.OnHWMCrossing(e.now()); req != nil {
			e.dispatchKick(key, rawMac, req, e.now())
		}
	})
	lwm := e.Caps.RegisterSNRThreshold(rawMac, bssid, cfg.LWMdBm, hysteresis, func(crossing capcache.SNRCrossing) {
		if crossing.Above {
			return
		}
		c := e.clientFor(key)
		if req := c.OnLWMCrossing(false, e.now()); req != nil {
			e.dispatchKick(key, rawMac, req, e.now())
		}
	})
	e.snrWatches[rawMac] = snrWatch{hwm: hwm, lwm: lwm}
}

// unregisterSNRWatch removes any HWM/LWM watches previously registered
// for rawMac via registerSNRWatch.
func (e *Engine) unregisterSNRWatch(rawMac wireid.MacAddr) {
	w, ok := e.snrWatches[rawMac]
	if !ok {
		return
	}
	e.Caps.UnregisterSNRThreshold(w.hwm)
	e.Caps.UnregisterSNRThreshold(w.lwm)
	delete(e.snrWatches, rawMac)
}

// resolveLink finds the (phy, vif) a kick for key should be sent over,
// preferring the link whose remote MAC is preferRemote (the link that
// triggered the crossing) and falling back to the station's first
// active link otherwise.
func (e *Engine) resolveLink(key, preferRemote wireid.MacAddr) (wireid.PhyID, wireid.VifID, bool) {
	sta, err := e.Cache.LookupStation(key)
	if err != nil || len(sta.ActiveLinks) == 0 {
		return "", "", false
	}
	link := sta.ActiveLinks[0]
	for _, l := range sta.ActiveLinks {
		if l.RemoteStaAddr == preferRemote {
			link = l
			break
		}
	}
	vif, err := e.Cache.LookupVif(link.Vif)
	if err != nil {
		return "", "", false
	}
	return vif.Phy, link.Vif, true
}

// dispatchKick resolves the link a KickRequest should be sent over and
// executes it via RequestKick, building the BTM candidate list and
// MBO/deauth-reason parameters from the engine's own caches.
func (e *Engine) dispatchKick(key, rawMac wireid.MacAddr, req *steer.KickRequest, now time.Time) {
	phy, vif, ok := e.resolveLink(key, rawMac)
	if !ok {
		return
	}
	c := e.clientFor(key)
	reason := c.Cfg.SteeringKickReason
	if req.Class == steer.ClassSticky {
		reason = c.Cfg.StickyKickReason
	}
	candidates := btm.BuildCandidates(e.Caps, rawMac, now, nil)
	mboCapable := e.Caps.MBOState(rawMac).Capable
	if err := e.RequestKick(*req, phy, vif, candidates, mboCapable, reason); err != nil && e.slog != nil {
		e.slog.Warnw("kick dispatch failed", "mac", req.Mac, "err", err)
	}
}

func (e *Engine) onCSAToPhy(v driversink.CSAToPhy) {
	e.xphyOverride.Active = true
	e.xphyOverride.TargetPhy = v.ToPhy
	e.xphyOverride.TargetChannel = v.Channel
}

// ApplyXphyCSA runs the Xphy-CSA mutator against cfg using the engine's
// currently armed override, pushing the result to the driver via
// RequestConfig when a change was made.
func (e *Engine) ApplyXphyCSA(cfg *xphycsa.DesiredConfig) xphycsa.Result {
	res := xphycsa.Apply(cfg, e.xphyOverride)
	if res == xphycsa.Applied {
		metrics.XphyCSAApplied.Inc()
		if e.driver != nil {
			if err := e.driver.RequestConfig(cfg); err != nil && e.slog != nil {
				e.slog.Warnw("xphy-csa RequestConfig failed", "err", err)
			}
		}
	}
	return res
}

// RequestKick executes a KickRequest from the steering state machine.
// BTM kick types always send a BTM request; the station's BTM support is
// not checked here. The fallback to deauth happens only in
// tickBTMRequests, once the request's retries are exhausted. Every other
// kick type is sent as a deauth.
func (e *Engine) RequestKick(req steer.KickRequest, phy wireid.PhyID, vif wireid.VifID, candidates []btm.Candidate, mboCapable bool, reasonDeauth uint16) error {
	switch req.Type {
	case steer.KickBTM, steer.KickBTMDisassoc, steer.KickBTMDeauth:
		breq := btm.New(req.Mac, candidates, true, mboCapable)
		breq.Phy = phy
		breq.Vif = vif
		breq.FallbackReason = reasonDeauth
		e.btmRequests[req.Mac] = breq
		breq.Queue()
		breq.Send(e.now(), btm.DefaultRetryInterval)
		if e.driver == nil {
			return ekind.Newf("engine", ekind.Unsupported, "no driver configured for BTM tx")
		}
		return e.driver.PushFrameTx(phy, vif, nil)
	default:
		if req.Class == steer.ClassSticky {
			metrics.StickyKicks.Inc()
		} else {
			metrics.SteeringKicks.Inc()
		}
		if e.driver == nil {
			return ekind.Newf("engine", ekind.Unsupported, "no driver configured for deauth")
		}
		return e.driver.RequestStaDeauth(phy, vif, req.Mac, reasonDeauth)
	}
}

// Close releases any resources the engine owns. The driver-sink and
// caches hold no OS resources directly; this exists for symmetry with
// New and for future expansion (e.g. a diagnostic listener).
func (e *Engine) Close() error {
	return nil
}
