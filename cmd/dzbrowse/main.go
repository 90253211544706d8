package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path"
	"runtime"
	"syscall"
	"time"

	"github.com/adrg/xdg"
	"github.com/charmbracelet/fang"
	"github.com/dustin/go-humanize"
	"github.com/dzbrowse/dzbrowse/internal/battlemetrics"
	"github.com/dzbrowse/dzbrowse/internal/cache"
	"github.com/dzbrowse/dzbrowse/internal/config"
	"github.com/dzbrowse/dzbrowse/internal/dayz"
	"github.com/dzbrowse/dzbrowse/internal/events"
	"github.com/dzbrowse/dzbrowse/internal/geoip"
	"github.com/dzbrowse/dzbrowse/internal/network"
	"github.com/dzbrowse/dzbrowse/internal/pipeline"
	"github.com/dzbrowse/dzbrowse/internal/probe"
	"github.com/dzbrowse/dzbrowse/internal/steamweb"
	"github.com/dzbrowse/dzbrowse/internal/store"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	_ "modernc.org/sqlite"
)

var (
	BuildVersion   = "master"
	BuildCommit    = "00000000"
	BuildDate      = time.Now().Format("2006-01-02T15:04:05Z")
	BuildGoVersion = runtime.Version()

	cfgFile    string
	runOnce    bool
	searchTerm string
	region     string
	serverType string
	topLimit   int
	rootCmd    = &cobra.Command{
		Use:   "dzbrowse",
		Short: "DayZ server aggregation pipeline",
		Long:  `dzbrowse - Aggregates, reconciles and live-probes the DayZ server directory`,
		RunE:  run,
	}

	versionCmd = &cobra.Command{
		Use:               "version",
		Short:             "Print version information",
		Args:              cobra.NoArgs,
		ValidArgsFunction: cobra.NoFileCompletions,
		Run:               version,
	}

	searchCmd = &cobra.Command{
		Use:   "search <query>",
		Short: "Search stored online servers by name or map",
		Args:  cobra.ExactArgs(1),
		RunE:  search,
	}

	topCmd = &cobra.Command{
		Use:   "top",
		Short: "Show the most populated online servers",
		Args:  cobra.NoArgs,
		RunE:  top,
	}

	statsCmd = &cobra.Command{
		Use:   "stats",
		Short: "Show aggregate server counts",
		Args:  cobra.NoArgs,
		RunE:  stats,
	}

	sweepCmd = &cobra.Command{
		Use:   "sweep",
		Short: "Mark stale servers offline and delete expired rows",
		Args:  cobra.NoArgs,
		RunE:  sweep,
	}
)

var errApp = errors.New("application error")

func main() {
	configPath := config.Path(config.DefaultConfigName)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", configPath, "Config file path")
	rootCmd.Flags().BoolVar(&runOnce, "once", false, "Run a single refresh cycle and exit")
	rootCmd.Flags().StringVar(&searchTerm, "search", "", "Directory search term for the refresh")
	rootCmd.Flags().StringVar(&region, "region", "", "Two letter country code filter for the refresh")
	searchCmd.Flags().StringVar(&serverType, "type", "", "Restrict to a server type (official, community, private)")
	topCmd.Flags().IntVar(&topLimit, "limit", 25, "How many servers to show")
	rootCmd.AddCommand(versionCmd, searchCmd, topCmd, statsCmd, sweepCmd)

	if err := fang.Execute(context.Background(), rootCmd); err != nil {
		slog.Error("Exited with error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func version(_ *cobra.Command, _ []string) {
	fmt.Printf("dzbrowse - DayZ server pipeline\n\n") //nolint:forbidigo
	fmt.Printf("  Version: %s\n", BuildVersion)       //nolint:forbidigo
	fmt.Printf("  Commit:  %s\n", BuildCommit)        //nolint:forbidigo
	fmt.Printf("  Built:   %s\n", BuildDate)          //nolint:forbidigo
	fmt.Printf("  Runtime: %s\n\n", BuildGoVersion)   //nolint:forbidigo
}

// run is the main entry point: refresh the server set and keep it fresh
// until interrupted, or just once with --once.
func run(_ *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := os.MkdirAll(path.Join(xdg.ConfigHome, config.ConfigDirName), 0o750); err != nil {
		return errors.Join(err, errApp)
	}

	configUpdates := make(chan config.Config)
	loader := config.NewLoader(configUpdates)
	userConfig, errConfig := loader.Read()
	if errConfig != nil {
		return errors.Join(errConfig, errApp)
	}

	logFile, errLogger := config.LoggerInit(config.DefaultLogName, slog.LevelDebug)
	if errLogger != nil {
		return errors.Join(errLogger, errApp)
	}
	defer func(closer io.Closer) {
		if err := closer.Close(); err != nil {
			slog.Error("Failed to close log file", slog.String("error", err.Error()))
		}
	}(logFile)

	slog.Info("Starting dzbrowse", slog.String("version", BuildVersion),
		slog.String("commit", BuildCommit), slog.String("date", BuildDate),
		slog.String("go", runtime.Version()))

	snapshots, errCache := cache.New()
	if errCache != nil {
		return errors.Join(errCache, errApp)
	}

	database, errDB := store.Open(ctx, config.Path(config.DefaultDBName), true)
	if errDB != nil {
		return errors.Join(errDB, errApp)
	}
	defer func() {
		if err := database.Close(); err != nil {
			slog.Error("Error closing database", slog.String("error", err.Error()))
		}
	}()

	countries, errGeoIP := geoip.Open(userConfig.GeoIPPath)
	if errGeoIP != nil {
		slog.Warn("GeoIP database unavailable, country fill disabled",
			slog.String("error", errGeoIP.Error()))
	}
	defer countries.Close()

	httpClient := network.NewClient(config.DefaultHTTPTimeout)
	directory := battlemetrics.New(userConfig.BattleMetricsURL, httpClient, userConfig.PageSize)
	bulk := steamweb.New(userConfig.SteamAPIURL, userConfig.SteamAPIKey, httpClient, snapshots)

	broadcaster := events.NewBroadcaster()
	servers := store.NewServers(database)
	prober := probe.NewBatch(probe.A2SPinger{}, servers, broadcaster, probe.Opts{
		Workers: int64(userConfig.ProbeWorkers),
	})

	pipe := pipeline.New(directory, bulk, prober, servers, countries, broadcaster, userConfig)

	if userConfig.MetricsListen != "" {
		go serveMetrics(ctx, userConfig.MetricsListen)
	}

	app := NewApp(userConfig, pipe, broadcaster, configUpdates, runOnce)

	return app.Start(ctx, pipeline.Filters{SearchTerm: searchTerm, Region: region})
}

func serveMetrics(ctx context.Context, listen string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{Addr: listen, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("Metrics server shutdown failed", slog.String("error", err.Error()))
		}
	}()

	slog.Info("Serving metrics", slog.String("listen", listen))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Metrics server failed", slog.String("error", err.Error()))
	}
}

// openServers is the shared setup for the read-only subcommands.
func openServers(ctx context.Context) (*store.Servers, func(), error) {
	database, errDB := store.Open(ctx, config.Path(config.DefaultDBName), true)
	if errDB != nil {
		return nil, nil, errors.Join(errDB, errApp)
	}

	return store.NewServers(database), func() {
		if err := database.Close(); err != nil {
			slog.Error("Error closing database", slog.String("error", err.Error()))
		}
	}, nil
}

func search(cmd *cobra.Command, args []string) error {
	servers, closer, errOpen := openServers(cmd.Context())
	if errOpen != nil {
		return errOpen
	}
	defer closer()

	results, errSearch := servers.Search(cmd.Context(), args[0], dayz.ServerType(serverType))
	if errSearch != nil {
		return errors.Join(errSearch, errApp)
	}

	printServers(results)

	return nil
}

func top(cmd *cobra.Command, _ []string) error {
	servers, closer, errOpen := openServers(cmd.Context())
	if errOpen != nil {
		return errOpen
	}
	defer closer()

	results, errTop := servers.Top(cmd.Context(), topLimit, 0)
	if errTop != nil {
		return errors.Join(errTop, errApp)
	}

	printServers(results)

	return nil
}

func stats(cmd *cobra.Command, _ []string) error {
	servers, closer, errOpen := openServers(cmd.Context())
	if errOpen != nil {
		return errOpen
	}
	defer closer()

	counts, errStats := servers.Stats(cmd.Context())
	if errStats != nil {
		return errors.Join(errStats, errApp)
	}

	lastRefreshed, errLast := servers.LastRefreshed(cmd.Context())
	if errLast != nil {
		return errors.Join(errLast, errApp)
	}

	fmt.Printf("Servers:   %s (%s online)\n", //nolint:forbidigo
		humanize.Comma(int64(counts.Total)), humanize.Comma(int64(counts.Online)))
	for _, bucket := range []dayz.ServerType{dayz.Official, dayz.Community, dayz.Private} {
		fmt.Printf("  %-10s %s\n", string(bucket)+":", //nolint:forbidigo
			humanize.Comma(int64(counts.ByType[bucket])))
	}
	if !lastRefreshed.IsZero() {
		fmt.Printf("Refreshed: %s\n", humanize.Time(lastRefreshed)) //nolint:forbidigo
	}

	return nil
}

func sweep(cmd *cobra.Command, _ []string) error {
	loader := config.NewLoader(make(chan config.Config))
	userConfig, errConfig := loader.Read()
	if errConfig != nil {
		return errors.Join(errConfig, errApp)
	}

	servers, closer, errOpen := openServers(cmd.Context())
	if errOpen != nil {
		return errOpen
	}
	defer closer()

	marked, deleted, errSweep := servers.SweepStale(cmd.Context(),
		userConfig.OfflineAfter(), userConfig.DeleteAfter())
	if errSweep != nil {
		return errors.Join(errSweep, errApp)
	}

	fmt.Printf("Marked offline: %d\nDeleted: %d\n", marked, deleted) //nolint:forbidigo

	return nil
}

func printServers(results []dayz.Server) {
	for _, server := range results {
		ping := "-"
		if server.Ping >= 0 {
			ping = fmt.Sprintf("%dms", server.Ping)
		}
		fmt.Printf("%-60.60s %-14s %-10s %3d/%-3d %6s %s\n", //nolint:forbidigo
			server.Name, server.MapName, string(server.Type),
			server.Players, server.MaxPlayers, ping, server.Addr())
	}
}
