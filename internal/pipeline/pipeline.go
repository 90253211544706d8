// Package pipeline orchestrates one refresh cycle: directory fetch,
// enrichment, reconciliation, persistence, liveness probing and the stale
// sweep, narrating progress over the event broadcaster throughout.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/dzbrowse/dzbrowse/internal/battlemetrics"
	"github.com/dzbrowse/dzbrowse/internal/config"
	"github.com/dzbrowse/dzbrowse/internal/dayz"
	"github.com/dzbrowse/dzbrowse/internal/events"
	"github.com/dzbrowse/dzbrowse/internal/reconcile"
	"github.com/dzbrowse/dzbrowse/internal/steamweb"
	"github.com/dzbrowse/dzbrowse/internal/store"
	lru "github.com/hashicorp/golang-lru/v2"
)

var ErrRefresh = errors.New("refresh cycle failed")

const searchCacheSize = 128

// Directory is the primary server source.
type Directory interface {
	Fetch(ctx context.Context, limit int, filters map[string]string) ([]battlemetrics.RawServer, error)
}

// BulkDirectory is the secondary source, used both for map enrichment and
// as the fallback discovery path.
type BulkDirectory interface {
	FetchBulk(ctx context.Context, limit int) []steamweb.BulkServer
}

// Prober measures live status for a reconciled batch.
type Prober interface {
	Run(ctx context.Context, candidates []dayz.Server) error
}

// Filters narrow a refresh or a local search. SearchTerm and Region are
// forwarded to the primary directory; ServerType is applied locally after
// classification since the directory knows nothing about our buckets.
type Filters struct {
	SearchTerm string
	Region     string
	ServerType dayz.ServerType
}

func (f Filters) directoryParams() map[string]string {
	params := map[string]string{}
	if f.SearchTerm != "" {
		params["search"] = f.SearchTerm
	}
	if f.Region != "" {
		params["countries"] = strings.ToUpper(f.Region)
	}

	return params
}

type Pipeline struct {
	directory   Directory
	bulk        BulkDirectory
	prober      Prober
	servers     *store.Servers
	countries   reconcile.CountryResolver
	broadcaster *events.Broadcaster

	confMu sync.RWMutex
	conf   config.Config

	searches *lru.Cache[string, []dayz.Server]

	refreshMu     sync.Mutex
	cancelCurrent context.CancelFunc
}

func New(directory Directory, bulk BulkDirectory, prober Prober, servers *store.Servers,
	countries reconcile.CountryResolver, broadcaster *events.Broadcaster, conf config.Config,
) *Pipeline {
	searches, errCache := lru.New[string, []dayz.Server](searchCacheSize)
	if errCache != nil {
		// Only reachable with a non positive size.
		panic(errCache)
	}

	return &Pipeline{
		directory:   directory,
		bulk:        bulk,
		prober:      prober,
		servers:     servers,
		countries:   countries,
		broadcaster: broadcaster,
		conf:        conf,
		searches:    searches,
	}
}

// SetConfig swaps in a reloaded configuration for subsequent cycles. A
// cycle already in flight keeps the values it started with.
func (p *Pipeline) SetConfig(conf config.Config) {
	p.confMu.Lock()
	defer p.confMu.Unlock()
	p.conf = conf
}

func (p *Pipeline) config() config.Config {
	p.confMu.RLock()
	defer p.confMu.RUnlock()

	return p.conf
}

// Refresh runs one full cycle. On total source failure nothing is written
// and the previously stored data stays servable.
func (p *Pipeline) Refresh(ctx context.Context, filters Filters) error {
	conf := p.config()
	now := time.Now()
	started := now

	p.progress(5, "Fetching server directory")

	primary, errPrimary := p.directory.Fetch(ctx, conf.FetchLimit, filters.directoryParams())
	if errPrimary != nil {
		slog.Warn("Primary directory fetch failed", slog.String("error", errPrimary.Error()))
	}

	p.progress(30, "Fetching bulk server listing")
	bulk := p.bulk.FetchBulk(ctx, conf.EnrichLimit)

	var records []dayz.Server
	switch {
	case len(primary) > 0:
		records = reconcile.Merge(primary, steamweb.MapNames(bulk), p.countries, now)
	case len(bulk) > 0:
		slog.Info("Primary directory empty, falling back to bulk listing")
		records = reconcile.FromSteam(bulk, p.countries, now)
	default:
		refreshCycles.WithLabelValues(outcomeFailed).Inc()
		p.broadcaster.Send(events.Event{
			Type: events.Error,
			Data: events.ErrorEvent{Message: "All server sources failed, keeping stored data"},
		})

		if errPrimary != nil {
			return errors.Join(errPrimary, ErrRefresh)
		}

		return ErrRefresh
	}

	p.progress(70, fmt.Sprintf("Reconciled %s servers", humanize.Comma(int64(len(records)))))

	written, errUpsert := p.servers.UpsertBatch(ctx, records)
	if errUpsert != nil {
		refreshCycles.WithLabelValues(outcomeFailed).Inc()
		p.broadcaster.Send(events.Event{
			Type: events.Error,
			Data: events.ErrorEvent{Message: "Failed to write server batch, keeping stored data"},
		})

		return errors.Join(errUpsert, ErrRefresh)
	}
	p.searches.Purge()

	// The upsert keeps previously measured pings; carry them back onto the
	// batch so the prober can tell a never-measured server from one with a
	// stale but plausible value.
	if stored, errStored := p.servers.Search(ctx, "", ""); errStored == nil {
		prior := make(map[string]int, len(stored))
		for _, row := range stored {
			prior[row.Addr()] = row.Ping
		}
		for i := range records {
			if ping, found := prior[records[i].Addr()]; found {
				records[i].Ping = ping
			}
		}
	}

	p.broadcaster.Send(events.Event{
		Type: events.BatchReady,
		Data: events.BatchReadyEvent{Servers: records},
	})
	p.progress(75, "Measuring server liveness")

	if errProbe := p.prober.Run(ctx, records); errProbe != nil {
		refreshCycles.WithLabelValues(outcomeFailed).Inc()

		return errors.Join(errProbe, ErrRefresh)
	}
	p.searches.Purge()

	marked, deleted, errSweep := p.servers.SweepStale(ctx, conf.OfflineAfter(), conf.DeleteAfter())
	if errSweep != nil {
		slog.Error("Stale sweep failed", slog.String("error", errSweep.Error()))
	} else if marked > 0 || deleted > 0 {
		slog.Info("Swept stale servers", slog.Int64("offline", marked), slog.Int64("deleted", deleted))
	}

	refreshCycles.WithLabelValues(outcomeOK).Inc()
	knownServers.Set(float64(written))
	refreshDuration.Observe(time.Since(started).Seconds())

	p.progress(100, fmt.Sprintf("Loaded %s servers in %s",
		humanize.Comma(int64(written)), time.Since(started).Round(time.Millisecond)))

	return nil
}

// RefreshIfStale refreshes only when the stored data has aged past the
// freshness window. Manual refreshes should call Refresh directly.
func (p *Pipeline) RefreshIfStale(ctx context.Context, filters Filters) error {
	lastRefreshed, errLast := p.servers.LastRefreshed(ctx)
	if errLast == nil && time.Since(lastRefreshed) < p.config().Freshness() {
		slog.Debug("Stored data still fresh, skipping refresh",
			slog.Time("last_refreshed", lastRefreshed))
		p.progress(100, "Stored data is fresh")

		return nil
	}

	return p.Refresh(ctx, filters)
}

// TriggerRefresh starts a refresh in the background, superseding any cycle
// already running. The returned channel yields the cycle's result once.
func (p *Pipeline) TriggerRefresh(ctx context.Context, filters Filters) <-chan error {
	p.refreshMu.Lock()
	if p.cancelCurrent != nil {
		p.cancelCurrent()
	}
	runCtx, cancel := context.WithCancel(ctx)
	p.cancelCurrent = cancel
	p.refreshMu.Unlock()

	done := make(chan error, 1)
	go func() {
		defer cancel()
		done <- p.Refresh(runCtx, filters)
	}()

	return done
}

// Search queries the stored online servers, memoizing results until the
// next write. The cache exists because interactive consumers re-issue the
// same query on every keystroke refresh.
func (p *Pipeline) Search(ctx context.Context, query string, serverType dayz.ServerType) ([]dayz.Server, error) {
	key := strings.ToLower(query) + "|" + string(serverType)
	if cached, found := p.searches.Get(key); found {
		searchCacheHits.Inc()

		return cached, nil
	}

	results, errSearch := p.servers.Search(ctx, query, serverType)
	if errSearch != nil {
		return nil, errSearch
	}
	p.searches.Add(key, results)

	return results, nil
}

// Top returns the most populated online servers.
func (p *Pipeline) Top(ctx context.Context, limit int) ([]dayz.Server, error) {
	return p.servers.Top(ctx, limit, 0)
}

func (p *Pipeline) Stats(ctx context.Context) (store.Stats, error) {
	return p.servers.Stats(ctx)
}

func (p *Pipeline) progress(percent int, message string) {
	p.broadcaster.Send(events.Event{
		Type: events.Progress,
		Data: events.ProgressEvent{Percent: percent, Message: message},
	})
}
