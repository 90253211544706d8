package pipeline_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dzbrowse/dzbrowse/internal/battlemetrics"
	"github.com/dzbrowse/dzbrowse/internal/config"
	"github.com/dzbrowse/dzbrowse/internal/dayz"
	"github.com/dzbrowse/dzbrowse/internal/events"
	"github.com/dzbrowse/dzbrowse/internal/pipeline"
	"github.com/dzbrowse/dzbrowse/internal/steamweb"
	"github.com/dzbrowse/dzbrowse/internal/store"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

var errDirectoryDown = errors.New("directory down")

type fakeDirectory struct {
	servers []battlemetrics.RawServer
	err     error
}

func (f *fakeDirectory) Fetch(_ context.Context, _ int, _ map[string]string) ([]battlemetrics.RawServer, error) {
	return f.servers, f.err
}

type fakeBulk struct {
	servers []steamweb.BulkServer
}

func (f *fakeBulk) FetchBulk(_ context.Context, _ int) []steamweb.BulkServer {
	return f.servers
}

type fakeProber struct {
	mu      sync.Mutex
	batches [][]dayz.Server
}

func (f *fakeProber) Run(_ context.Context, candidates []dayz.Server) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches = append(f.batches, candidates)

	return nil
}

func testConfig() config.Config {
	return config.Config{
		FetchLimit:        200,
		EnrichLimit:       2000,
		FreshnessMinutes:  15,
		OfflineAfterHours: 2,
		DeleteAfterHours:  24,
	}
}

func newTestPipeline(t *testing.T, directory pipeline.Directory, bulk pipeline.BulkDirectory,
	prober pipeline.Prober, broadcaster *events.Broadcaster,
) (*pipeline.Pipeline, *store.Servers) {
	t.Helper()

	database, errOpen := store.Open(t.Context(), "", true)
	require.NoError(t, errOpen)
	t.Cleanup(func() { database.Close() })

	servers := store.NewServers(database)

	return pipeline.New(directory, bulk, prober, servers, nil, broadcaster, testConfig()), servers
}

func rawServer(id string, name string, address string, players int) battlemetrics.RawServer {
	return battlemetrics.RawServer{
		ID: id, Name: name, Address: address, GamePort: 2302, QueryPort: 2303,
		Players: players, MaxPlayers: 60, Status: "online", MapName: "Chernarus",
	}
}

func TestRefreshEventOrdering(t *testing.T) {
	broadcaster := events.NewBroadcaster()
	all := make(chan events.Event, 64)
	broadcaster.ListenFor(events.Any, all)

	directory := &fakeDirectory{servers: []battlemetrics.RawServer{
		rawServer("1", "DayZ US 1", "1.2.3.4", 40),
	}}
	prober := &fakeProber{}

	pipe, _ := newTestPipeline(t, directory, &fakeBulk{}, prober, broadcaster)
	require.NoError(t, pipe.Refresh(t.Context(), pipeline.Filters{}))
	close(all)

	var sequence []events.EventType
	for event := range all {
		sequence = append(sequence, event.Type)
	}

	// BatchReady lands before probing starts and the cycle ends at 100%.
	require.Contains(t, sequence, events.BatchReady)
	require.Equal(t, events.Progress, sequence[len(sequence)-1])

	require.Len(t, prober.batches, 1)
	require.Len(t, prober.batches[0], 1)
}

func TestRefreshFallbackToBulk(t *testing.T) {
	broadcaster := events.NewBroadcaster()
	directory := &fakeDirectory{err: errDirectoryDown}
	bulk := &fakeBulk{servers: []steamweb.BulkServer{
		{Addr: "5.6.7.8:2302", Name: "DayZ EU 2", Map: "chernarusplus", GameType: "3pp", Players: 20, MaxPlayers: 60},
	}}

	pipe, servers := newTestPipeline(t, directory, bulk, &fakeProber{}, broadcaster)
	require.NoError(t, pipe.Refresh(t.Context(), pipeline.Filters{}))

	stored, errGet := servers.Get(t.Context(), "5.6.7.8", 2303)
	require.NoError(t, errGet)
	require.Equal(t, "DayZ EU 2", stored.Name)
	require.Equal(t, "3PP", stored.Perspective)
}

func TestRefreshAllSourcesDown(t *testing.T) {
	broadcaster := events.NewBroadcaster()
	failures := make(chan events.Event, 4)
	broadcaster.ListenFor(events.Error, failures)

	directory := &fakeDirectory{err: errDirectoryDown}
	pipe, servers := newTestPipeline(t, directory, &fakeBulk{}, &fakeProber{}, broadcaster)

	// Pre-existing data must survive the failed cycle untouched.
	_, errSeed := servers.UpsertBatch(t.Context(), []dayz.Server{{
		Name: "Survivor", Address: "9.9.9.9", GamePort: 2302, QueryPort: 2303,
		Type: dayz.Community, Ping: dayz.PingUnmeasured, Online: true,
		LastSeen: time.Now(), LastUpdated: time.Now(),
	}})
	require.NoError(t, errSeed)

	errRefresh := pipe.Refresh(t.Context(), pipeline.Filters{})
	require.ErrorIs(t, errRefresh, pipeline.ErrRefresh)
	require.ErrorIs(t, errRefresh, errDirectoryDown)
	require.Len(t, failures, 1)

	stored, errGet := servers.Get(t.Context(), "9.9.9.9", 2303)
	require.NoError(t, errGet)
	require.Equal(t, "Survivor", stored.Name)
}

func TestRefreshUpsertFailureSurfaced(t *testing.T) {
	broadcaster := events.NewBroadcaster()
	failures := make(chan events.Event, 4)
	broadcaster.ListenFor(events.Error, failures)

	database, errOpen := store.Open(t.Context(), "", true)
	require.NoError(t, errOpen)
	servers := store.NewServers(database)

	directory := &fakeDirectory{servers: []battlemetrics.RawServer{
		rawServer("1", "DayZ US 1", "1.2.3.4", 40),
	}}
	pipe := pipeline.New(directory, &fakeBulk{}, &fakeProber{}, servers, nil, broadcaster, testConfig())

	// A dead database fails the batch write; the failure must reach the
	// event boundary, not just the returned error.
	require.NoError(t, database.Close())

	errRefresh := pipe.Refresh(t.Context(), pipeline.Filters{})
	require.ErrorIs(t, errRefresh, pipeline.ErrRefresh)
	require.ErrorIs(t, errRefresh, store.ErrBatchWrite)
	require.Len(t, failures, 1)
}

func TestRefreshIfStaleSkipsFreshData(t *testing.T) {
	broadcaster := events.NewBroadcaster()
	directory := &fakeDirectory{servers: []battlemetrics.RawServer{
		rawServer("1", "DayZ US 1", "1.2.3.4", 40),
	}}
	prober := &fakeProber{}

	pipe, _ := newTestPipeline(t, directory, &fakeBulk{}, prober, broadcaster)

	require.NoError(t, pipe.Refresh(t.Context(), pipeline.Filters{}))
	require.NoError(t, pipe.RefreshIfStale(t.Context(), pipeline.Filters{}))

	// The second cycle never ran, so the prober saw exactly one batch.
	require.Len(t, prober.batches, 1)
}

func TestSearchMemoized(t *testing.T) {
	broadcaster := events.NewBroadcaster()
	directory := &fakeDirectory{servers: []battlemetrics.RawServer{
		rawServer("1", "Cherno Nights", "1.2.3.4", 40),
		rawServer("2", "Banov Adventures", "5.6.7.8", 10),
	}}

	pipe, servers := newTestPipeline(t, directory, &fakeBulk{}, &fakeProber{}, broadcaster)
	require.NoError(t, pipe.Refresh(t.Context(), pipeline.Filters{}))

	first, errFirst := pipe.Search(t.Context(), "cherno", "")
	require.NoError(t, errFirst)
	require.Len(t, first, 1)

	// A direct store write bypasses invalidation, proving the second read
	// came from the cache.
	require.NoError(t, servers.MarkOffline(t.Context(), "1.2.3.4", 2303))
	second, errSecond := pipe.Search(t.Context(), "cherno", "")
	require.NoError(t, errSecond)
	require.Equal(t, first, second)

	// A refresh purges the cache.
	require.NoError(t, pipe.Refresh(t.Context(), pipeline.Filters{}))
	third, errThird := pipe.Search(t.Context(), "banov", "")
	require.NoError(t, errThird)
	require.Len(t, third, 1)
}

func TestTriggerRefreshSupersedes(t *testing.T) {
	broadcaster := events.NewBroadcaster()
	directory := &fakeDirectory{servers: []battlemetrics.RawServer{
		rawServer("1", "DayZ US 1", "1.2.3.4", 40),
	}}

	pipe, _ := newTestPipeline(t, directory, &fakeBulk{}, &fakeProber{}, broadcaster)

	first := pipe.TriggerRefresh(t.Context(), pipeline.Filters{})
	second := pipe.TriggerRefresh(t.Context(), pipeline.Filters{})

	// Both channels resolve; the superseded cycle either finished before
	// cancellation or reports the cancellation.
	<-first
	require.NoError(t, <-second)
}
