package stassoc

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plume-design/opensync-sub024/pkg/statecache"
	"github.com/plume-design/opensync-sub024/pkg/wireid"
)

func macN(n byte) wireid.MacAddr {
	return wireid.MacAddr{0xaa, 0xbb, 0xcc, 0xdd, 0xee, n}
}

func TestSingleLinkConnectDisconnect(t *testing.T) {
	tr := New(statecache.New(nil), nil)
	var events []EventKind
	tr.Observe(nil, func(ev Event) { events = append(events, ev.Kind) })

	mac := macN(1)
	now := time.Now()
	tr.OnConnected("p1", "v1", mac, wireid.MacAddr{}, mac, nil, now)
	tr.OnDisconnected("p1", "v1", mac, 0, now.Add(5*time.Second))

	require.Equal(t, []EventKind{Connected, Disconnected}, events)

	sta, err := tr.cache.LookupStation(mac)
	require.NoError(t, err)
	assert.True(t, sta.EverConnected)
	assert.Empty(t, sta.ActiveLinks)
	assert.Len(t, sta.StaleLinks, 1)
}

func TestMLOAggregation(t *testing.T) {
	tr := New(statecache.New(nil), nil)
	var events []EventKind
	mld := macN(0xf0)
	tr.Observe(func(k wireid.MacAddr) bool { return k == mld }, func(ev Event) { events = append(events, ev.Kind) })

	remote1 := macN(1)
	remote2 := macN(2)
	now := time.Now()

	tr.OnConnected("p1", "v1", remote1, mld, remote1, nil, now)
	tr.OnConnected("p1", "v2", remote2, mld, remote2, nil, now)

	require.Equal(t, []EventKind{Connected, Reconnected}, events)

	sta, err := tr.cache.LookupStation(mld)
	require.NoError(t, err)
	assert.Len(t, sta.ActiveLinks, 2)
	assert.True(t, sta.IsMLO())

	tr.OnDisconnected("p1", "v2", remote2, 0, now.Add(time.Second))
	require.Equal(t, []EventKind{Connected, Reconnected, Reconnected}, events)
	assert.Len(t, sta.ActiveLinks, 1)

	tr.OnDisconnected("p1", "v1", remote1, 0, now.Add(2*time.Second))
	require.Equal(t, []EventKind{Connected, Reconnected, Reconnected, Disconnected}, events)
	assert.Empty(t, sta.ActiveLinks)
}

func TestObserveReplaysSyntheticConnectedOnRegister(t *testing.T) {
	tr := New(statecache.New(nil), nil)
	mac := macN(3)
	tr.OnConnected("p1", "v1", mac, wireid.MacAddr{}, mac, nil, time.Now())

	var replayed []EventKind
	tr.Observe(func(k wireid.MacAddr) bool { return k == mac }, func(ev Event) {
		replayed = append(replayed, ev.Kind)
	})
	assert.Equal(t, []EventKind{Connected}, replayed)
}

func TestUnregisterStopsDelivery(t *testing.T) {
	tr := New(statecache.New(nil), nil)
	var count int
	h := tr.Observe(nil, func(ev Event) { count++ })
	tr.Unregister(h)

	mac := macN(4)
	tr.OnConnected("p1", "v1", mac, wireid.MacAddr{}, mac, nil, time.Now())
	assert.Equal(t, 0, count)
}
