package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/dzbrowse/dzbrowse/internal/config"
	"github.com/dzbrowse/dzbrowse/internal/events"
	"github.com/dzbrowse/dzbrowse/internal/pipeline"
)

// App is the main application container. It owns the refresh schedule and
// renders pipeline events to the terminal; everything else happens inside
// the pipeline.
type App struct {
	config        config.Config
	pipeline      *pipeline.Pipeline
	broadcaster   *events.Broadcaster
	configUpdates chan config.Config
	once          bool
}

func NewApp(conf config.Config, pipe *pipeline.Pipeline, broadcaster *events.Broadcaster,
	configUpdates chan config.Config, once bool,
) *App {
	return &App{
		config:        conf,
		pipeline:      pipe,
		broadcaster:   broadcaster,
		configUpdates: configUpdates,
		once:          once,
	}
}

// Start runs the initial refresh and, unless configured for a single shot,
// keeps the stored data fresh until the context ends.
func (app *App) Start(ctx context.Context, filters pipeline.Filters) error {
	eventChan := make(chan events.Event, 256)
	app.broadcaster.ListenFor(events.Progress, eventChan)
	app.broadcaster.ListenFor(events.Ready, eventChan)
	app.broadcaster.ListenFor(events.Error, eventChan)
	go app.eventPrinter(ctx, eventChan)

	// A manually started run always refreshes, freshness only gates the
	// automatic cycles after it.
	if errRefresh := app.pipeline.Refresh(ctx, filters); errRefresh != nil {
		if app.once {
			return errRefresh
		}
		slog.Error("Initial refresh failed", slog.String("error", errRefresh.Error()))
	}

	if app.once {
		return nil
	}

	ticker := time.NewTicker(time.Duration(app.config.AutoRefreshMinutes) * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if errRefresh := app.pipeline.RefreshIfStale(ctx, filters); errRefresh != nil {
				slog.Error("Scheduled refresh failed", slog.String("error", errRefresh.Error()))
			}
		case conf := <-app.configUpdates:
			slog.Info("Applying reloaded configuration")
			app.config = conf
			app.pipeline.SetConfig(conf)
			ticker.Reset(time.Duration(conf.AutoRefreshMinutes) * time.Minute)
		case <-ctx.Done():
			if errCtx := ctx.Err(); !errors.Is(errCtx, context.Canceled) {
				return errCtx
			}

			return nil
		}
	}
}

// eventPrinter renders pipeline narration to the terminal. Log output goes
// to the log file so the two never interleave.
func (app *App) eventPrinter(ctx context.Context, eventChan <-chan events.Event) {
	lastPercent := -1

	for {
		select {
		case event := <-eventChan:
			switch payload := event.Data.(type) {
			case events.ProgressEvent:
				// The prober reports after every single server; only
				// whole-percent changes are worth a line.
				if payload.Percent == lastPercent {
					continue
				}
				lastPercent = payload.Percent
				fmt.Printf("[%3d%%] %s\n", payload.Percent, payload.Message) //nolint:forbidigo
			case events.ReadyEvent:
				fmt.Printf("Ready to play: %d of %d servers measured\n", //nolint:forbidigo
					payload.Completed, payload.Total)
			case events.ErrorEvent:
				fmt.Fprintf(os.Stderr, "error: %s\n", payload.Message)
			}
		case <-ctx.Done():
			return
		}
	}
}
