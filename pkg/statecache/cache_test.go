package statecache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plume-design/opensync-sub024/pkg/driversink"
	"github.com/plume-design/opensync-sub024/pkg/wireid"
)

func TestUpsertPhyPreservesIdentity(t *testing.T) {
	c := New(nil)
	p1 := c.UpsertPhy("wlan0", driversink.PhyState{Channels: []wireid.Channel{{ControlFreqMHz: 2412}}})
	p2 := c.UpsertPhy("wlan0", driversink.PhyState{Channels: []wireid.Channel{{ControlFreqMHz: 2437}}})
	assert.Same(t, p1, p2)
	assert.Equal(t, 2437, p2.Channels[0].ControlFreqMHz)
}

func TestRemovePhyCascadesToVifsAndStations(t *testing.T) {
	c := New(nil)
	c.UpsertPhy("wlan0", driversink.PhyState{})
	c.UpsertVif("wlan0", "wlan0.0", driversink.VifState{Type: driversink.VifAP})
	mac := wireid.MustParseMac("aa:bb:cc:dd:ee:ff")
	c.AddActiveLink(mac, Link{Vif: "wlan0.0", RemoteStaAddr: mac}, time.Now())

	require.NoError(t, c.RemovePhy("wlan0"))

	_, err := c.LookupPhy("wlan0")
	assert.Error(t, err)
	_, err = c.LookupVif("wlan0.0")
	assert.Error(t, err)
	_, err = c.LookupStation(mac)
	assert.Error(t, err)
}

func TestRemoveVifCascadesOnlyWhenNoLinksRemain(t *testing.T) {
	c := New(nil)
	c.UpsertVif("wlan0", "wlan0.0", driversink.VifState{})
	c.UpsertVif("wlan0", "wlan0.1", driversink.VifState{})
	mac := wireid.MustParseMac("11:22:33:44:55:66")
	c.AddActiveLink(mac, Link{Vif: "wlan0.0", RemoteStaAddr: mac}, time.Now())
	c.AddActiveLink(mac, Link{Vif: "wlan0.1", RemoteStaAddr: mac}, time.Now())

	require.NoError(t, c.RemoveVif("wlan0", "wlan0.0"))
	sta, err := c.LookupStation(mac)
	require.NoError(t, err)
	assert.Len(t, sta.ActiveLinks, 1)

	require.NoError(t, c.RemoveVif("wlan0", "wlan0.1"))
	_, err = c.LookupStation(mac)
	assert.Error(t, err)
}

func TestMoveLinkToStale(t *testing.T) {
	c := New(nil)
	mac := wireid.MustParseMac("aa:aa:aa:aa:aa:aa")
	c.AddActiveLink(mac, Link{Vif: "wlan0.0", RemoteStaAddr: mac}, time.Now())

	require.NoError(t, c.MoveLinkToStale(mac, "wlan0.0"))
	sta, err := c.LookupStation(mac)
	require.NoError(t, err)
	assert.Empty(t, sta.ActiveLinks)
	assert.Len(t, sta.StaleLinks, 1)
	assert.False(t, sta.IsConnected())
}

func TestSweepExpiredRespectsAgeout(t *testing.T) {
	c := New(nil)
	mac := wireid.MustParseMac("bb:bb:bb:bb:bb:bb")
	sta := c.GetOrCreateStation(mac, time.Now().Add(-time.Hour))
	sta.EverConnected = false // probe-only station: 10 minute ageout

	removed := c.SweepExpired(time.Now())
	require.Len(t, removed, 1)
	assert.Equal(t, mac, removed[0])
	_, err := c.LookupStation(mac)
	assert.Error(t, err)
}

func TestSweepExpiredSkipsConnectedStations(t *testing.T) {
	c := New(nil)
	mac := wireid.MustParseMac("cc:cc:cc:cc:cc:cc")
	c.AddActiveLink(mac, Link{Vif: "wlan0.0", RemoteStaAddr: mac}, time.Now().Add(-8*24*time.Hour))

	removed := c.SweepExpired(time.Now())
	assert.Empty(t, removed)
	_, err := c.LookupStation(mac)
	assert.NoError(t, err)
}

func TestSweepExpiredReclaimsAfterDisconnectWindow(t *testing.T) {
	c := New(nil)
	mac := wireid.MustParseMac("dd:dd:dd:dd:dd:dd")
	c.AddActiveLink(mac, Link{Vif: "wlan0.0", RemoteStaAddr: mac}, time.Now().Add(-10*24*time.Hour))
	require.NoError(t, c.RemoveLink(mac, "wlan0.0"))

	sta, _ := c.LookupStation(mac)
	sta.LastActivityAt = time.Now().Add(-8 * 24 * time.Hour)

	removed := c.SweepExpired(time.Now())
	assert.Equal(t, []wireid.MacAddr{mac}, removed)
}

func TestLookupNotFound(t *testing.T) {
	c := New(nil)
	_, err := c.LookupPhy("missing")
	assert.Error(t, err)
	_, err = c.LookupVif("missing")
	assert.Error(t, err)
	_, err = c.LookupStation(wireid.MustParseMac("00:00:00:00:00:00"))
	assert.Error(t, err)
}

func TestRecentlySeenEvictsStationsBeyondMaxTracked(t *testing.T) {
	c := New(nil)
	now := time.Now()

	var first wireid.MacAddr
	for i := 0; i < maxTrackedStations+1; i++ {
		mac := wireid.MacAddr{0xaa, byte(i >> 24), byte(i >> 16), byte(i >> 8), byte(i), 0x01}
		if i == 0 {
			first = mac
		}
		c.GetOrCreateStation(mac, now)
	}

	_, err := c.LookupStation(first)
	assert.Error(t, err, "the oldest station should have been evicted once maxTrackedStations was exceeded")
	assert.LessOrEqual(t, len(c.stas), maxTrackedStations)
}
