package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plume-design/opensync-sub024/pkg/btm"
	"github.com/plume-design/opensync-sub024/pkg/driversink"
	"github.com/plume-design/opensync-sub024/pkg/steer"
	"github.com/plume-design/opensync-sub024/pkg/wireid"
)

type fakeDriver struct {
	deauths      []wireid.MacAddr
	configs      []interface{}
	framesTx     int
}

func (f *fakeDriver) PhyList(report func(wireid.PhyID, driversink.PhyState)) error { return nil }
func (f *fakeDriver) VifList(phy wireid.PhyID, report func(wireid.VifID, driversink.VifState)) error {
	return nil
}
func (f *fakeDriver) StaList(phy wireid.PhyID, vif wireid.VifID, report func(wireid.MacAddr)) error {
	return nil
}
func (f *fakeDriver) RequestPhyState(phy wireid.PhyID) error                              { return nil }
func (f *fakeDriver) RequestVifState(phy wireid.PhyID, vif wireid.VifID) error             { return nil }
func (f *fakeDriver) RequestStaState(phy wireid.PhyID, vif wireid.VifID, mac wireid.MacAddr) error {
	return nil
}
func (f *fakeDriver) RequestConfig(conf interface{}) error {
	f.configs = append(f.configs, conf)
	return nil
}
func (f *fakeDriver) RequestStaDeauth(phy wireid.PhyID, vif wireid.VifID, mac wireid.MacAddr, reason uint16) error {
	f.deauths = append(f.deauths, mac)
	return nil
}
func (f *fakeDriver) PushFrameTx(phy wireid.PhyID, vif wireid.VifID, frame []byte) error {
	f.framesTx++
	return nil
}
func (f *fakeDriver) ReportStaAssocIEs(phy wireid.PhyID, vif wireid.VifID, mac wireid.MacAddr) ([]byte, error) {
	return nil, nil
}

var testMac = wireid.MustParseMac("aa:bb:cc:dd:ee:01")

func testEngine() (*Engine, *fakeDriver) {
	drv := &fakeDriver{}
	e := New(drv, nil, steer.Config{
		HWMdBm:     40,
		LWMdBm:     20,
		MaxRejects: 3,
		KickType:   steer.KickDeauth,
	})
	return e, drv
}

func TestOnStaConnectedCreatesStationAndClient(t *testing.T) {
	e, _ := testEngine()
	now := time.Now()
	e.now = func() time.Time { return now }

	e.handle(driversink.VifAdded{Phy: "p1", Vif: "v1", State: driversink.VifState{Bssid: wireid.MustParseMac("00:11:22:33:44:55")}})
	e.handle(driversink.StaConnected{Phy: "p1", Vif: "v1", Mac: testMac})

	sta, err := e.Cache.LookupStation(testMac)
	require.NoError(t, err)
	assert.True(t, sta.IsConnected())

	c := e.clientFor(testMac)
	assert.Equal(t, steer.Connected, c.State)
}

func TestOnStaDisconnectedTransitionsClient(t *testing.T) {
	e, _ := testEngine()
	now := time.Now()
	e.now = func() time.Time { return now }

	e.handle(driversink.StaConnected{Phy: "p1", Vif: "v1", Mac: testMac})
	e.handle(driversink.StaDisconnected{Phy: "p1", Vif: "v1", Mac: testMac, Reason: 2})

	sta, err := e.Cache.LookupStation(testMac)
	require.NoError(t, err)
	assert.False(t, sta.IsConnected())

	c := e.clientFor(testMac)
	assert.Equal(t, steer.Disconnected, c.State)
}

func TestTickSweepsExpiredStations(t *testing.T) {
	e, _ := testEngine()
	now := time.Now()
	e.now = func() time.Time { return now }

	e.handle(driversink.StaConnected{Phy: "p1", Vif: "v1", Mac: testMac})
	e.handle(driversink.StaDisconnected{Phy: "p1", Vif: "v1", Mac: testMac})

	later := now.Add(8 * 24 * time.Hour) // station was EverConnected, so ageout is 7 days
	e.now = func() time.Time { return later }
	e.Tick()

	_, err := e.Cache.LookupStation(testMac)
	assert.Error(t, err)
}

func TestOnFrameRxMalformedIncrementsDroppedNotPanic(t *testing.T) {
	e, _ := testEngine()
	assert.NotPanics(t, func() {
		e.handle(driversink.FrameRx{Phy: "p1", Vif: "v1", Bytes: []byte{0x01, 0x02}})
	})
}

func TestOnCSAToPhyArmsOverride(t *testing.T) {
	e, _ := testEngine()
	e.handle(driversink.CSAToPhy{FromPhy: "p1", ToPhy: "p2", Channel: wireid.Channel{ControlFreqMHz: 5200}})
	assert.True(t, e.xphyOverride.Active)
	assert.Equal(t, wireid.PhyID("p2"), e.xphyOverride.TargetPhy)
}

func TestRequestKickDeauthCallsDriver(t *testing.T) {
	e, drv := testEngine()
	req := steer.KickRequest{Mac: testMac, Class: steer.ClassSteering, Type: steer.KickDeauth}
	err := e.RequestKick(req, "p1", "v1", nil, false, 2)
	require.NoError(t, err)
	assert.Contains(t, drv.deauths, testMac)
}

func TestRequestKickBTMQueuesRequest(t *testing.T) {
	e, drv := testEngine()
	req := steer.KickRequest{Mac: testMac, Class: steer.ClassSteering, Type: steer.KickBTM}
	err := e.RequestKick(req, "p1", "v1", nil, true, 2)
	require.NoError(t, err)
	assert.Equal(t, 1, drv.framesTx)
	_, ok := e.btmRequests[testMac]
	assert.True(t, ok)
}

func TestStaSNRCrossingHWMTriggersKick(t *testing.T) {
	e, drv := testEngine()
	now := time.Now()
	e.now = func() time.Time { return now }

	bssid := wireid.MustParseMac("00:11:22:33:44:55")
	e.handle(driversink.VifAdded{Phy: "p1", Vif: "v1", State: driversink.VifState{Bssid: bssid}})
	e.handle(driversink.StaConnected{Phy: "p1", Vif: "v1", Mac: testMac})

	// First sample only primes the watcher's initial state (below HWM,
	// no crossing yet); the second crosses upward.
	e.handle(driversink.StaSNR{Phy: "p1", Vif: "v1", Mac: testMac, SNR: 10})
	e.handle(driversink.StaSNR{Phy: "p1", Vif: "v1", Mac: testMac, SNR: 50})

	assert.Contains(t, drv.deauths, testMac)
}

func TestStaSNRCrossingLWMTriggersStickyKick(t *testing.T) {
	e, drv := testEngine()
	now := time.Now()
	e.now = func() time.Time { return now }

	bssid := wireid.MustParseMac("00:11:22:33:44:55")
	e.handle(driversink.VifAdded{Phy: "p1", Vif: "v1", State: driversink.VifState{Bssid: bssid}})
	e.handle(driversink.StaConnected{Phy: "p1", Vif: "v1", Mac: testMac})

	e.handle(driversink.StaSNR{Phy: "p1", Vif: "v1", Mac: testMac, SNR: 50}) // primes above
	e.handle(driversink.StaSNR{Phy: "p1", Vif: "v1", Mac: testMac, SNR: 10}) // crosses below LWM

	// KickUponIdle defaults to false in testEngine's config, so the
	// sticky kick fires immediately rather than deferring to OnIdle.
	assert.Contains(t, drv.deauths, testMac)
}

func TestTickBTMRequestRetriesThenFallsBackToDeauth(t *testing.T) {
	e, drv := testEngine()
	now := time.Now()
	e.now = func() time.Time { return now }

	req := steer.KickRequest{Mac: testMac, Class: steer.ClassSteering, Type: steer.KickBTM}
	require.NoError(t, e.RequestKick(req, "p1", "v1", nil, true, 7))
	breq := e.btmRequests[testMac]
	require.NotNil(t, breq)

	for i := 0; i < 3; i++ {
		now = now.Add(btm.DefaultRetryInterval)
		e.now = func() time.Time { return now }
		e.Tick()
	}
	require.Contains(t, drv.deauths, testMac, "retry budget exhausted should fall through to deauth")
	_, stillTracked := e.btmRequests[testMac]
	assert.False(t, stillTracked, "exhausted request should be dropped from tracking")
}

func TestSettingsUpdateChangesDefaultSteerCfg(t *testing.T) {
	e, _ := testEngine()
	require.NoError(t, e.Settings.Update("max_rejects", "9"))
	assert.Equal(t, 9, e.defaultSteerCfg.MaxRejects)

	c := e.clientFor(testMac)
	assert.Equal(t, 9, c.Cfg.MaxRejects)
}
