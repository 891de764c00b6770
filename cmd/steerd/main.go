/*
 * Copyright 2024 Plume Design Inc.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at https://mozilla.org/MPL/2.0/.
 */

// Command steerd is the connection-quality and band-steering daemon: it
// brings up the engine, exposes Prometheus metrics and the diagnostic
// command socket, and runs until a termination signal arrives.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/plume-design/opensync-sub024/pkg/diag"
	"github.com/plume-design/opensync-sub024/pkg/driversink"
	"github.com/plume-design/opensync-sub024/pkg/engine"
	"github.com/plume-design/opensync-sub024/pkg/metrics"
	"github.com/plume-design/opensync-sub024/pkg/steer"
	"github.com/plume-design/opensync-sub024/pkg/wireid"
)

const pname = "steerd"

var (
	metricsAddr = flag.String("metrics-addr", ":9420", "address to serve /metrics on")
	diagAddr    = flag.String("diag-addr", ":9421", "address to serve the diagnostic command socket on")
	logLevel    = flag.String("log-level", "info", "zap log level (debug, info, warn, error)")
	tickPeriod  = flag.Duration("tick-period", 5*time.Second, "engine maintenance sweep period")

	hwmDBm            = flag.Int("hwm-dbm", -65, "high-water-mark SNR for steering kicks")
	lwmDBm            = flag.Int("lwm-dbm", -80, "low-water-mark SNR for sticky kicks")
	maxRejects        = flag.Int("max-rejects", 5, "probe rejects before entering backoff")
	maxRejectsPeriod  = flag.Duration("max-rejects-period", 30*time.Second, "window over which rejects accumulate")
	backoffPeriod     = flag.Duration("backoff-period", 120*time.Second, "base backoff duration")
	kickGuardTime     = flag.Duration("kick-guard-time", 30*time.Second, "minimum spacing between any two kicks")
	settlingBackoff   = flag.Duration("settling-backoff-time", 0, "suppress crossing events for this long after a transition")
	steeringDebounce  = flag.Duration("steering-kick-debounce", 60*time.Second, "minimum spacing between steering kicks")
	stickyDebounce    = flag.Duration("sticky-kick-debounce", 60*time.Second, "minimum spacing between sticky kicks")
	preAssocAuthBlock = flag.Bool("pre-assoc-auth-block", false, "blackhole auth attempts from chronically weak clients")
	configFile        = flag.String("config", "", "optional YAML file overlaying the steering policy flags above")
)

func buildLogger(level string) *zap.SugaredLogger {
	cfg := zap.NewProductionConfig()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	logger, err := cfg.Build()
	if err != nil {
		logger = zap.NewNop()
	}
	return logger.Sugar()
}

// noopDriver satisfies driversink.Driver for a steerd instance launched
// without a concrete driver backend wired in (e.g. local smoke-testing of
// the engine against the diagnostic socket alone). A production
// deployment supplies a real Driver that bridges to the platform's
// wireless stack; see spec's External Interfaces section.
type noopDriver struct {
	slog *zap.SugaredLogger
}

func (d *noopDriver) PhyList(report func(wireid.PhyID, driversink.PhyState)) error { return nil }
func (d *noopDriver) VifList(phy wireid.PhyID, report func(wireid.VifID, driversink.VifState)) error {
	return nil
}
func (d *noopDriver) StaList(phy wireid.PhyID, vif wireid.VifID, report func(wireid.MacAddr)) error {
	return nil
}
func (d *noopDriver) RequestPhyState(phy wireid.PhyID) error { return nil }
func (d *noopDriver) RequestVifState(phy wireid.PhyID, vif wireid.VifID) error {
	return nil
}
func (d *noopDriver) RequestStaState(phy wireid.PhyID, vif wireid.VifID, mac wireid.MacAddr) error {
	return nil
}
func (d *noopDriver) RequestConfig(conf interface{}) error {
	d.slog.Debugw("no driver backend configured, dropping config request")
	return nil
}
func (d *noopDriver) RequestStaDeauth(phy wireid.PhyID, vif wireid.VifID, mac wireid.MacAddr, reason uint16) error {
	d.slog.Infow("no driver backend configured, dropping deauth request", "mac", mac)
	return nil
}
func (d *noopDriver) PushFrameTx(phy wireid.PhyID, vif wireid.VifID, frame []byte) error {
	return nil
}
func (d *noopDriver) ReportStaAssocIEs(phy wireid.PhyID, vif wireid.VifID, mac wireid.MacAddr) ([]byte, error) {
	return nil, nil
}

func main() {
	flag.Parse()

	slog := buildLogger(*logLevel)
	defer slog.Sync()
	slog.Infow("starting", "component", pname)

	cfg := steer.Config{
		HWMdBm:               *hwmDBm,
		LWMdBm:               *lwmDBm,
		MaxRejects:           *maxRejects,
		MaxRejectsPeriod:     *maxRejectsPeriod,
		BackoffPeriod:        *backoffPeriod,
		BackoffExpBase:       2,
		KickType:             steer.KickBTM,
		PreAssocAuthBlock:    *preAssocAuthBlock,
		RejectMode:           steer.RejectProbeAll,
		PreqSNRThreshold:     steer.DefaultPreqSNRThresholdDB,
		PreqTimeThreshold:    steer.DefaultPreqTimeCount,
		HysteresisDB:         steer.DefaultHysteresisDB,
		SteeringKickDebounce: *steeringDebounce,
		StickyKickDebounce:   *stickyDebounce,
		KickGuardTime:        *kickGuardTime,
		SettlingBackoffTime:  *settlingBackoff,
		KickUponIdle:         true,
	}

	cfg, err := applyFileConfig(*configFile, cfg)
	if err != nil {
		slog.Fatalw("failed to load config file", "path", *configFile, "err", err)
	}

	drv := &noopDriver{slog: slog}
	eng := engine.New(drv, slog, cfg)
	defer eng.Close()

	reg := prometheus.NewRegistry()
	metrics.Register(reg)

	ctx, cancel := context.WithCancel(context.Background())

	// g collects every long-running goroutine's exit error, in place of a
	// bare sync.WaitGroup; none of these return a fatal error during
	// ordinary shutdown (they return nil once ctx is canceled), so g is
	// used purely for join/wait semantics here.
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		eng.Run(gctx)
		return nil
	})

	g.Go(func() error {
		ticker := time.NewTicker(*tickPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				eng.Tick()
			}
		}
	})

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	metricsSrv := &http.Server{Addr: *metricsAddr, Handler: mux}
	g.Go(func() error {
		slog.Infow("serving metrics", "addr", *metricsAddr)
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Errorw("metrics server failed", "err", err)
		}
		return nil
	})

	diagSrv := diag.New(slog, *diagAddr, diag.Info{Name: pname, Version: buildVersion})
	g.Go(func() error {
		if err := diagSrv.Run(gctx); err != nil {
			slog.Errorw("diag server failed", "err", err)
		}
		return nil
	})

	sig := make(chan os.Signal, 3)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	s := <-sig
	slog.Infow("received signal, shutting down", "signal", s.String())

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = metricsSrv.Shutdown(shutdownCtx)

	_ = g.Wait()
	slog.Infow("stopped")
}

// buildVersion is overridden at link time via -ldflags.
var buildVersion = "dev"
