package config

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"path"
	"time"

	"github.com/adrg/xdg"
)

var (
	errConfigRead = errors.New("failed to read config file")
	errLoggerInit = errors.New("failed to initialize logger")
)

const (
	ConfigDirName      = "dzbrowse"
	DefaultConfigName  = "dzbrowse"
	DefaultDBName      = "dzbrowse.db"
	DefaultLogName     = "dzbrowse.log"
	CacheDirName       = "cache"
	EnvPrefix          = "dzbrowse"
	DefaultHTTPTimeout = 30 * time.Second
)

type Config struct {
	// BattleMetricsURL is the primary directory service. It is the richer of
	// the two sources (mods, country, rank) but only supports cursor
	// pagination, so fetches are strictly sequential.
	BattleMetricsURL string `mapstructure:"battlemetrics_url"`
	// SteamAPIURL is the secondary, popularity-ranked directory used both as
	// a fallback discovery path and for authoritative map names.
	SteamAPIURL string `mapstructure:"steam_api_url"`
	SteamAPIKey string `mapstructure:"steam_api_key"`
	// FetchLimit caps how many servers one refresh pulls from the primary
	// directory.
	FetchLimit int `mapstructure:"fetch_limit"`
	PageSize   int `mapstructure:"page_size"`
	// EnrichLimit caps the bulk listing pulled from the secondary directory.
	EnrichLimit  int `mapstructure:"enrich_limit"`
	ProbeWorkers int `mapstructure:"probe_workers"`
	// GeoIPPath points at an optional MaxMind country database used to fill
	// in countries the directory omits. Empty disables the lookup.
	GeoIPPath string `mapstructure:"geoip_path"`
	// FreshnessMinutes is how recent the stored data must be for an
	// automatic refresh to be skipped. Manual refreshes always run.
	FreshnessMinutes   int `mapstructure:"freshness_minutes"`
	AutoRefreshMinutes int `mapstructure:"auto_refresh_minutes"`
	// OfflineAfterHours and DeleteAfterHours drive the two-phase stale
	// sweep. The delete window must be the longer of the two.
	OfflineAfterHours int `mapstructure:"offline_after_hours"`
	DeleteAfterHours  int `mapstructure:"delete_after_hours"`
	// MetricsListen, when set to a host:port, serves prometheus metrics.
	MetricsListen string `mapstructure:"metrics_listen"`
}

func (c Config) Freshness() time.Duration {
	return time.Duration(c.FreshnessMinutes) * time.Minute
}

func (c Config) OfflineAfter() time.Duration {
	return time.Duration(c.OfflineAfterHours) * time.Hour
}

func (c Config) DeleteAfter() time.Duration {
	return time.Duration(c.DeleteAfterHours) * time.Hour
}

// Path generates a path pointing to the filename under this apps defined $XDG_CONFIG_HOME.
func Path(name string) string {
	fullPath, errFullPath := xdg.ConfigFile(path.Join(ConfigDirName, name))
	if errFullPath != nil {
		panic(errFullPath)
	}

	return fullPath
}

func PathCache(name string) string {
	cacheDir, found := os.LookupEnv("CACHE_DIR")
	if found && cacheDir != "" {
		return cacheDir
	}

	return path.Join(xdg.CacheHome, ConfigDirName, name)
}

// LoggerInit sets up the slog global handler to use a log file so the
// terminal stays free for pipeline progress output.
func LoggerInit(logName string, level slog.Level) (io.Closer, error) {
	logFile, errLogFile := os.Create(path.Join(xdg.ConfigHome, ConfigDirName, logName))
	if errLogFile != nil {
		return nil, errors.Join(errLogFile, errLoggerInit)
	}

	logger := slog.New(slog.NewTextHandler(logFile, &slog.HandlerOptions{
		AddSource: false,
		Level:     level,
	}))

	slog.SetDefault(logger)

	return logFile, nil
}
