package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/dzbrowse/dzbrowse/internal/dayz"
	"github.com/dzbrowse/dzbrowse/internal/store"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

func newTestServers(t *testing.T) *store.Servers {
	t.Helper()

	conn, errOpen := store.Open(t.Context(), "", true)
	require.NoError(t, errOpen)
	t.Cleanup(func() { _ = conn.Close() })

	return store.NewServers(conn)
}

func testRecord(name string, address string, queryPort int) dayz.Server {
	now := time.Now()

	return dayz.Server{
		Name:        name,
		Address:     address,
		GamePort:    queryPort - 1,
		QueryPort:   queryPort,
		MapName:     "Chernarus",
		Perspective: "1PP",
		Type:        dayz.Community,
		Players:     10,
		MaxPlayers:  60,
		Ping:        dayz.PingUnmeasured,
		Online:      true,
		Mods:        []dayz.Mod{{ID: "1559212036", Name: "CF"}},
		LastSeen:    now,
		LastUpdated: now,
	}
}

func TestOpenUnwritablePath(t *testing.T) {
	_, errOpen := store.Open(t.Context(), "/nonexistent/dir/dzbrowse.db", true)
	require.ErrorIs(t, errOpen, store.ErrDBConnect)
}

func TestUpsertNaturalKey(t *testing.T) {
	servers := newTestServers(t)
	ctx := context.Background()

	record := testRecord("First Name", "1.2.3.4", 2303)
	for i := range 3 {
		record.Name = []string{"First Name", "Second Name", "Third Name"}[i]
		record.Players = i
		written, errUpsert := servers.UpsertBatch(ctx, []dayz.Server{record})
		require.NoError(t, errUpsert)
		require.Equal(t, 1, written)
	}

	stats, errStats := servers.Stats(ctx)
	require.NoError(t, errStats)
	require.Equal(t, 1, stats.Total)

	stored, errGet := servers.Get(ctx, "1.2.3.4", 2303)
	require.NoError(t, errGet)
	require.Equal(t, "Third Name", stored.Name)
	require.Equal(t, 2, stored.Players)
	require.Len(t, stored.Mods, 1)
}

func TestUpsertPreservesMeasuredPing(t *testing.T) {
	servers := newTestServers(t)
	ctx := context.Background()

	record := testRecord("Pinged", "1.2.3.4", 2303)
	_, errUpsert := servers.UpsertBatch(ctx, []dayz.Server{record})
	require.NoError(t, errUpsert)

	updated, errLive := servers.UpdateLiveStatus(ctx, "1.2.3.4", 2303, 42, 12, 60)
	require.NoError(t, errLive)
	require.Equal(t, 42, updated.Ping)
	require.True(t, updated.Online)

	// A rediscovery pass must not reset the measured ping to the sentinel.
	record.Ping = dayz.PingUnmeasured
	_, errAgain := servers.UpsertBatch(ctx, []dayz.Server{record})
	require.NoError(t, errAgain)

	stored, errGet := servers.Get(ctx, "1.2.3.4", 2303)
	require.NoError(t, errGet)
	require.Equal(t, 42, stored.Ping)
}

func TestUpdateLiveStatusUnknownServer(t *testing.T) {
	servers := newTestServers(t)

	_, err := servers.UpdateLiveStatus(context.Background(), "9.9.9.9", 1234, 50, 1, 10)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestMarkOffline(t *testing.T) {
	servers := newTestServers(t)
	ctx := context.Background()

	_, errUpsert := servers.UpsertBatch(ctx, []dayz.Server{testRecord("Down", "1.2.3.4", 2303)})
	require.NoError(t, errUpsert)

	require.NoError(t, servers.MarkOffline(ctx, "1.2.3.4", 2303))

	stored, errGet := servers.Get(ctx, "1.2.3.4", 2303)
	require.NoError(t, errGet)
	require.False(t, stored.Online)
	require.Equal(t, dayz.PingOffline, stored.Ping)
	require.Equal(t, "Down", stored.Name)
}

func TestSweepStale(t *testing.T) {
	servers := newTestServers(t)
	ctx := context.Background()

	fresh := testRecord("Fresh", "1.1.1.1", 2303)
	stale := testRecord("Stale", "2.2.2.2", 2303)
	stale.LastSeen = time.Now().Add(-3 * time.Hour)
	ancient := testRecord("Ancient", "3.3.3.3", 2303)
	ancient.LastSeen = time.Now().Add(-25 * time.Hour)

	_, errUpsert := servers.UpsertBatch(ctx, []dayz.Server{fresh, stale, ancient})
	require.NoError(t, errUpsert)

	marked, deleted, errSweep := servers.SweepStale(ctx, 2*time.Hour, 24*time.Hour)
	require.NoError(t, errSweep)
	require.EqualValues(t, 2, marked)
	require.EqualValues(t, 1, deleted)

	stored, errGet := servers.Get(ctx, "2.2.2.2", 2303)
	require.NoError(t, errGet)
	require.False(t, stored.Online)
	require.Equal(t, dayz.PingOffline, stored.Ping)

	_, errGone := servers.Get(ctx, "3.3.3.3", 2303)
	require.ErrorIs(t, errGone, store.ErrNotFound)
}

func TestSearchOrdering(t *testing.T) {
	servers := newTestServers(t)
	ctx := context.Background()

	slow := testRecord("Slow Cherno", "1.1.1.1", 2303)
	fast := testRecord("Fast Cherno", "2.2.2.2", 2303)
	offline := testRecord("Hidden Cherno", "3.3.3.3", 2303)
	offline.Online = false
	other := testRecord("Namalsk Nights", "4.4.4.4", 2303)
	other.MapName = "Namalsk"
	other.Type = dayz.Official

	_, errUpsert := servers.UpsertBatch(ctx, []dayz.Server{slow, fast, offline, other})
	require.NoError(t, errUpsert)

	_, errSlow := servers.UpdateLiveStatus(ctx, "1.1.1.1", 2303, 150, 5, 60)
	require.NoError(t, errSlow)
	_, errFast := servers.UpdateLiveStatus(ctx, "2.2.2.2", 2303, 20, 5, 60)
	require.NoError(t, errFast)

	// Name match, case insensitive, offline rows excluded, ping ascending.
	results, errSearch := servers.Search(ctx, "CHERNO", "")
	require.NoError(t, errSearch)
	require.Len(t, results, 2)
	require.Equal(t, "Fast Cherno", results[0].Name)
	require.Equal(t, "Slow Cherno", results[1].Name)

	// Map substring with type filter.
	official, errOfficial := servers.Search(ctx, "namalsk", dayz.Official)
	require.NoError(t, errOfficial)
	require.Len(t, official, 1)
	require.Equal(t, "Namalsk Nights", official[0].Name)
}

func TestTopAndStats(t *testing.T) {
	servers := newTestServers(t)
	ctx := context.Background()

	busy := testRecord("Busy", "1.1.1.1", 2303)
	busy.Players = 60
	quiet := testRecord("Quiet", "2.2.2.2", 2303)
	quiet.Players = 2
	quiet.Type = dayz.Official

	_, errUpsert := servers.UpsertBatch(ctx, []dayz.Server{busy, quiet})
	require.NoError(t, errUpsert)

	top, errTop := servers.Top(ctx, 1, 0)
	require.NoError(t, errTop)
	require.Len(t, top, 1)
	require.Equal(t, "Busy", top[0].Name)

	stats, errStats := servers.Stats(ctx)
	require.NoError(t, errStats)
	require.Equal(t, 2, stats.Total)
	require.Equal(t, 2, stats.Online)
	require.Equal(t, 1, stats.ByType[dayz.Official])
	require.Equal(t, 1, stats.ByType[dayz.Community])
}
