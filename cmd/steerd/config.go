/*
 * Copyright 2024 Plume Design Inc.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at https://mozilla.org/MPL/2.0/.
 */

package main

import (
	"time"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"

	"github.com/plume-design/opensync-sub024/pkg/steer"
)

// AppFs is the filesystem config files are read through; tests swap it
// for an in-memory afero.Fs so config-loading logic can be exercised
// without touching disk.
var AppFs afero.Fs = afero.NewOsFs()

// fileConfig is the on-disk YAML representation of the per-client
// steering policy, letting an operator override the flag defaults
// without a restart-by-recompile. Zero/absent fields in the file leave
// the flag-derived default in place.
type fileConfig struct {
	HWMdBm               *int           `yaml:"hwm_dbm"`
	LWMdBm               *int           `yaml:"lwm_dbm"`
	MaxRejects           *int           `yaml:"max_rejects"`
	MaxRejectsPeriod     *time.Duration `yaml:"max_rejects_period"`
	BackoffPeriod        *time.Duration `yaml:"backoff_period"`
	KickGuardTime        *time.Duration `yaml:"kick_guard_time"`
	SettlingBackoffTime  *time.Duration `yaml:"settling_backoff_time"`
	SteeringKickDebounce *time.Duration `yaml:"steering_kick_debounce"`
	StickyKickDebounce   *time.Duration `yaml:"sticky_kick_debounce"`
	PreAssocAuthBlock    *bool          `yaml:"pre_assoc_auth_block"`
}

// applyFileConfig reads a YAML config file at path through AppFs and
// overlays any fields it sets onto base, returning the merged result.
// A missing file is not an error; base is returned unchanged.
func applyFileConfig(path string, base steer.Config) (steer.Config, error) {
	if path == "" {
		return base, nil
	}
	exists, err := afero.Exists(AppFs, path)
	if err != nil {
		return base, err
	}
	if !exists {
		return base, nil
	}
	data, err := afero.ReadFile(AppFs, path)
	if err != nil {
		return base, err
	}
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return base, err
	}

	cfg := base
	if fc.HWMdBm != nil {
		cfg.HWMdBm = *fc.HWMdBm
	}
	if fc.LWMdBm != nil {
		cfg.LWMdBm = *fc.LWMdBm
	}
	if fc.MaxRejects != nil {
		cfg.MaxRejects = *fc.MaxRejects
	}
	if fc.MaxRejectsPeriod != nil {
		cfg.MaxRejectsPeriod = *fc.MaxRejectsPeriod
	}
	if fc.BackoffPeriod != nil {
		cfg.BackoffPeriod = *fc.BackoffPeriod
	}
	if fc.KickGuardTime != nil {
		cfg.KickGuardTime = *fc.KickGuardTime
	}
	if fc.SettlingBackoffTime != nil {
		cfg.SettlingBackoffTime = *fc.SettlingBackoffTime
	}
	if fc.SteeringKickDebounce != nil {
		cfg.SteeringKickDebounce = *fc.SteeringKickDebounce
	}
	if fc.StickyKickDebounce != nil {
		cfg.StickyKickDebounce = *fc.StickyKickDebounce
	}
	if fc.PreAssocAuthBlock != nil {
		cfg.PreAssocAuthBlock = *fc.PreAssocAuthBlock
	}
	return cfg, nil
}
