package probe

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dzbrowse/dzbrowse/internal/dayz"
	"github.com/dzbrowse/dzbrowse/internal/events"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

var errPingImplausible = errors.New("implausibly slow response")

// LiveStore is the slice of the store the prober writes through.
type LiveStore interface {
	UpdateLiveStatus(ctx context.Context, address string, queryPort int,
		ping int, players int, maxPlayers int) (dayz.Server, error)
	MarkOffline(ctx context.Context, address string, queryPort int) error
}

// Opts tune the batch prober. Zero values fall back to the defaults below.
type Opts struct {
	// Workers bounds concurrent in flight probes.
	Workers int64
	// FastTimeout and FastDelay apply until ReadyRatio of the batch has
	// completed, after which the slow tier takes over and trades latency
	// for fewer false offline verdicts.
	FastTimeout time.Duration
	SlowTimeout time.Duration
	FastDelay   time.Duration
	SlowDelay   time.Duration
	// ReadyRatio is the completed fraction at which the one time Ready
	// event fires.
	ReadyRatio float64
	// IdlePing is the estimate recorded for empty servers, which are not
	// worth a probe round trip.
	IdlePing int
	// MaxPlausiblePing bounds believable measurements; anything above it
	// is treated as a failed probe.
	MaxPlausiblePing int
}

func DefaultOpts() Opts {
	return Opts{
		Workers:          20,
		FastTimeout:      1500 * time.Millisecond,
		SlowTimeout:      3 * time.Second,
		FastDelay:        30 * time.Millisecond,
		SlowDelay:        100 * time.Millisecond,
		ReadyRatio:       0.6,
		IdlePing:         150,
		MaxPlausiblePing: 2000,
	}
}

func (o Opts) withDefaults() Opts {
	defaults := DefaultOpts()
	if o.Workers <= 0 {
		o.Workers = defaults.Workers
	}
	if o.FastTimeout <= 0 {
		o.FastTimeout = defaults.FastTimeout
	}
	if o.SlowTimeout <= 0 {
		o.SlowTimeout = defaults.SlowTimeout
	}
	if o.FastDelay <= 0 {
		o.FastDelay = defaults.FastDelay
	}
	if o.SlowDelay <= 0 {
		o.SlowDelay = defaults.SlowDelay
	}
	if o.ReadyRatio <= 0 {
		o.ReadyRatio = defaults.ReadyRatio
	}
	if o.IdlePing <= 0 {
		o.IdlePing = defaults.IdlePing
	}
	if o.MaxPlausiblePing <= 0 {
		o.MaxPlausiblePing = defaults.MaxPlausiblePing
	}

	return o
}

// Batch probes a reconciled server set with bounded concurrency, writing
// each verdict through the store and emitting a ServerUpdate per row. The
// batch is ordered populated first so the servers people actually join are
// measured earliest.
type Batch struct {
	pinger      Pinger
	live        LiveStore
	broadcaster *events.Broadcaster
	opts        Opts
}

func NewBatch(pinger Pinger, live LiveStore, broadcaster *events.Broadcaster, opts Opts) *Batch {
	return &Batch{
		pinger:      pinger,
		live:        live,
		broadcaster: broadcaster,
		opts:        opts.withDefaults(),
	}
}

// Run probes every candidate and blocks until the batch completes or the
// context is cancelled. Per server failures are absorbed; only
// cancellation is returned as an error.
func (b *Batch) Run(ctx context.Context, candidates []dayz.Server) error {
	total := len(candidates)
	if total == 0 {
		return nil
	}

	ordered := make([]dayz.Server, total)
	copy(ordered, candidates)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Players != ordered[j].Players {
			return ordered[i].Players > ordered[j].Players
		}

		return ordered[i].Addr() < ordered[j].Addr()
	})

	run := &batchRun{
		batch:       b,
		total:       total,
		fastLimiter: rate.NewLimiter(rate.Every(b.opts.FastDelay), 1),
		slowLimiter: rate.NewLimiter(rate.Every(b.opts.SlowDelay), 1),
	}

	waiters := semaphore.NewWeighted(b.opts.Workers)
	group, groupCtx := errgroup.WithContext(ctx)

	for _, candidate := range ordered {
		if errAcquire := waiters.Acquire(groupCtx, 1); errAcquire != nil {
			break
		}

		group.Go(func() error {
			defer waiters.Release(1)
			run.probeOne(groupCtx, candidate)

			return nil
		})
	}

	if errWait := group.Wait(); errWait != nil {
		return errWait
	}

	return ctx.Err()
}

// batchRun is the per invocation state so a Batch can be reused.
type batchRun struct {
	batch       *Batch
	total       int
	completed   atomic.Int64
	readyOnce   sync.Once
	fastLimiter *rate.Limiter
	slowLimiter *rate.Limiter
}

func (r *batchRun) probeOne(ctx context.Context, candidate dayz.Server) {
	opts := r.batch.opts

	if candidate.Players == 0 {
		// Empty servers keep their directory status and get a flat
		// estimate; probing them would spend most of the batch budget on
		// servers nobody is on.
		r.record(ctx, candidate, opts.IdlePing, candidate.Players, candidate.MaxPlayers)
		r.finish()
		probesTotal.WithLabelValues(outcomeSkipped).Inc()

		return
	}

	limiter, timeout := r.fastLimiter, opts.FastTimeout
	if r.ratio() >= opts.ReadyRatio {
		limiter, timeout = r.slowLimiter, opts.SlowTimeout
	}

	if errWait := limiter.Wait(ctx); errWait != nil {
		r.finish()

		return
	}

	probesInFlight.Inc()
	started := time.Now()
	result, errPing := r.batch.pinger.Ping(ctx, candidate.Addr(), timeout)
	probeDuration.Observe(time.Since(started).Seconds())
	probesInFlight.Dec()

	if errPing != nil {
		r.handleFailure(ctx, candidate, errPing)
		r.finish()

		return
	}

	// A response that slow is indistinguishable from a dead server, and
	// recording it would leave a row claiming unreachable yet online.
	if result.PingMS > opts.MaxPlausiblePing {
		r.handleFailure(ctx, candidate, errPingImplausible)
		r.finish()

		return
	}

	r.record(ctx, candidate, result.PingMS, result.Players, result.MaxPlayers)
	r.finish()
	probesTotal.WithLabelValues(outcomeOK).Inc()
}

func (r *batchRun) record(ctx context.Context, candidate dayz.Server, ping int, players int, maxPlayers int) {
	updated, errUpdate := r.batch.live.UpdateLiveStatus(ctx,
		candidate.Address, candidate.QueryPort, ping, players, maxPlayers)
	if errUpdate != nil {
		slog.Warn("Failed to write live status",
			slog.String("address", candidate.Addr()), slog.String("error", errUpdate.Error()))

		return
	}

	r.batch.broadcaster.Send(events.Event{
		Type: events.ServerUpdate,
		Data: events.ServerUpdateEvent{Server: updated},
	})
}

// handleFailure prefers a stale but plausible measurement over flapping a
// server offline on one dropped packet. Servers with no prior measurement,
// or already carrying the offline sentinel, get marked offline.
func (r *batchRun) handleFailure(ctx context.Context, candidate dayz.Server, errPing error) {
	probesTotal.WithLabelValues(outcomeFailed).Inc()

	if candidate.Ping > 0 && candidate.Ping != dayz.PingOffline {
		slog.Debug("Probe failed, keeping previous measurement",
			slog.String("address", candidate.Addr()), slog.String("error", errPing.Error()))

		return
	}

	if errOffline := r.batch.live.MarkOffline(ctx, candidate.Address, candidate.QueryPort); errOffline != nil {
		if !errors.Is(errOffline, context.Canceled) {
			slog.Warn("Failed to mark server offline",
				slog.String("address", candidate.Addr()), slog.String("error", errOffline.Error()))
		}
	}
}

func (r *batchRun) ratio() float64 {
	return float64(r.completed.Load()) / float64(r.total)
}

func (r *batchRun) finish() {
	done := int(r.completed.Add(1))
	ratio := float64(done) / float64(r.total)

	if ratio >= r.batch.opts.ReadyRatio {
		r.readyOnce.Do(func() {
			r.batch.broadcaster.Send(events.Event{
				Type: events.Ready,
				Data: events.ReadyEvent{Completed: done, Total: r.total},
			})
		})
	}

	percent := 80 + int(ratio*15)
	message := "Pinging servers"
	if ratio >= r.batch.opts.ReadyRatio {
		message = "Background loading remaining servers"
	}
	r.batch.broadcaster.Send(events.Event{
		Type: events.Progress,
		Data: events.ProgressEvent{Percent: percent, Message: message},
	})
}
