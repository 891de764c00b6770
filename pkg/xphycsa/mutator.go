/*
 * Copyright 2024 Plume Design Inc.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at https://mozilla.org/MPL/2.0/.
 */

// Package xphycsa is the Xphy-CSA Config Mutator (spec §4.H): when a
// channel-switch intent targets a frequency the current radio can't
// reach, it re-homes the STA-mode uplink vif to a sibling radio that
// can, rewriting the desired configuration tree accordingly. The exact
// five-step policy below is grounded on the reference ow_xphy_csa_conf
// implementation.
package xphycsa

import "github.com/plume-design/opensync-sub024/pkg/wireid"

// Result is the outcome of applying an Override to a DesiredConfig, one
// variant per step of the policy in spec §4.H.
type Result int

// Results, named after the reference implementation's outcome enum.
const (
	// Inactive: no override armed, no change made.
	Inactive Result = iota
	// MultiVSTA: more than one STA vif is enabled across phys; can't
	// safely re-home.
	MultiVSTA
	// NoCSAVSTA: the target phy has no STA vif at all.
	NoCSAVSTA
	// NoCurVSTA: the target STA vif is already enabled; the override is
	// disarmed as satisfied.
	NoCurVSTA
	// Disarm: preconditions were not met on a later pass; override is
	// cleared without reconfiguration.
	Disarm
	// Applied: the STA vif was re-homed and AP vifs on the target phy
	// were rewritten to the override channel.
	Applied
)

// String implements fmt.Stringer.
func (r Result) String() string {
	switch r {
	case Inactive:
		return "inactive"
	case MultiVSTA:
		return "multi_vsta"
	case NoCSAVSTA:
		return "no_csa_vsta"
	case NoCurVSTA:
		return "no_cur_vsta"
	case Disarm:
		return "disarm"
	case Applied:
		return "applied"
	default:
		return "unknown"
	}
}

// VifConfig is one vif's entry in a desired-configuration tree.
type VifConfig struct {
	ID      wireid.VifID
	Phy     wireid.PhyID
	IsSTA   bool
	Enabled bool
	Channel wireid.Channel
	// Networks is the STA vif's configured network/credential list, to
	// be copied verbatim to the target STA vif on re-home.
	Networks []string
}

// PhyConfig is one phy's entry in a desired-configuration tree.
type PhyConfig struct {
	ID   wireid.PhyID
	Vifs []*VifConfig
}

// DesiredConfig is the configuration tree the mutator rewrites in place
// (spec §4.H: "a desired-configuration tree (Phy → Vifs)").
type DesiredConfig struct {
	Phys []*PhyConfig
}

// Override is armed by the engine on a csa_to_phy driver event and
// disarmed after successful application or when preconditions fail
// (spec §4.H).
type Override struct {
	Active       bool
	TargetPhy    wireid.PhyID
	TargetChannel wireid.Channel
}

func (c *DesiredConfig) staVifs() []*VifConfig {
	var out []*VifConfig
	for _, p := range c.Phys {
		for _, v := range p.Vifs {
			if v.IsSTA {
				out = append(out, v)
			}
		}
	}
	return out
}

func (c *DesiredConfig) enabledSTAVifs() []*VifConfig {
	var out []*VifConfig
	for _, v := range c.staVifs() {
		if v.Enabled {
			out = append(out, v)
		}
	}
	return out
}

func (c *DesiredConfig) staVifOnPhy(phy wireid.PhyID) *VifConfig {
	for _, v := range c.staVifs() {
		if v.Phy == phy {
			return v
		}
	}
	return nil
}

// Apply runs the five-step policy from spec §4.H against cfg, mutating
// it in place when the policy decides to re-home, and returns the
// outcome. When the policy disarms the override it clears ov.Active in
// place.
func Apply(cfg *DesiredConfig, ov *Override) Result {
	// Step 1: inactive override -> no change.
	if !ov.Active {
		return Inactive
	}

	// Step 2: more than one STA vif enabled across phys -> skip.
	if len(cfg.enabledSTAVifs()) > 1 {
		return MultiVSTA
	}

	// Step 3: target phy has no STA vif -> skip.
	targetVif := cfg.staVifOnPhy(ov.TargetPhy)
	if targetVif == nil {
		return NoCSAVSTA
	}

	// Step 4: target STA vif already enabled -> disarm, idempotent.
	if targetVif.Enabled {
		ov.Active = false
		return NoCurVSTA
	}

	// Step 5: re-home.
	current := currentEnabledSTAVif(cfg)
	if current == nil {
		ov.Active = false
		return Disarm
	}

	current.Enabled = false
	targetVif.Enabled = true
	targetVif.Networks = append([]string(nil), current.Networks...)

	for _, p := range cfg.Phys {
		if p.ID != ov.TargetPhy {
			continue
		}
		for _, v := range p.Vifs {
			if !v.IsSTA {
				v.Channel = ov.TargetChannel
			}
		}
	}

	return Applied
}

func currentEnabledSTAVif(cfg *DesiredConfig) *VifConfig {
	for _, v := range cfg.staVifs() {
		if v.Enabled {
			return v
		}
	}
	return nil
}
