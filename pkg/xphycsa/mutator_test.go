package xphycsa

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plume-design/opensync-sub024/pkg/wireid"
)

func twoPhyConfig() *DesiredConfig {
	staP1 := &VifConfig{ID: "v1p1", Phy: "p1", IsSTA: true, Enabled: true, Networks: []string{"net-a"}}
	staP2 := &VifConfig{ID: "v1p2", Phy: "p2", IsSTA: true, Enabled: false}
	apP2 := &VifConfig{ID: "ap1p2", Phy: "p2", IsSTA: false, Enabled: true}
	return &DesiredConfig{
		Phys: []*PhyConfig{
			{ID: "p1", Vifs: []*VifConfig{staP1}},
			{ID: "p2", Vifs: []*VifConfig{staP2, apP2}},
		},
	}
}

func TestApplyInactiveNoChange(t *testing.T) {
	cfg := twoPhyConfig()
	ov := &Override{Active: false, TargetPhy: "p2"}
	res := Apply(cfg, ov)
	assert.Equal(t, Inactive, res)
}

func TestApplyReHomes(t *testing.T) {
	cfg := twoPhyConfig()
	targetChan := wireid.Channel{ControlFreqMHz: 5200}
	ov := &Override{Active: true, TargetPhy: "p2", TargetChannel: targetChan}

	res := Apply(cfg, ov)
	require.Equal(t, Applied, res)

	staP1 := cfg.Phys[0].Vifs[0]
	staP2 := cfg.Phys[1].Vifs[0]
	apP2 := cfg.Phys[1].Vifs[1]
	assert.False(t, staP1.Enabled)
	assert.True(t, staP2.Enabled)
	assert.Equal(t, []string{"net-a"}, staP2.Networks)
	assert.Equal(t, targetChan, apP2.Channel)
}

func TestApplyIsIdempotent(t *testing.T) {
	cfg := twoPhyConfig()
	ov := &Override{Active: true, TargetPhy: "p2", TargetChannel: wireid.Channel{ControlFreqMHz: 5200}}

	first := Apply(cfg, ov)
	require.Equal(t, Applied, first)

	second := Apply(cfg, ov)
	assert.Equal(t, NoCurVSTA, second)
	assert.False(t, ov.Active)
}

func TestApplySkipsWhenMultipleSTAVifsEnabled(t *testing.T) {
	cfg := twoPhyConfig()
	cfg.Phys[1].Vifs[0].Enabled = true // both p1 and p2 STA vifs now enabled
	ov := &Override{Active: true, TargetPhy: "p2"}
	res := Apply(cfg, ov)
	assert.Equal(t, MultiVSTA, res)
}

func TestApplySkipsWhenTargetPhyHasNoSTAVif(t *testing.T) {
	cfg := twoPhyConfig()
	ov := &Override{Active: true, TargetPhy: "p3"}
	res := Apply(cfg, ov)
	assert.Equal(t, NoCSAVSTA, res)
}
