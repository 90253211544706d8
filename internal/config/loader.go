package config

import (
	"errors"
	"log/slog"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Loader handles setting up viper, loading configuration from files, and broadcasting configuration changes.
type Loader struct {
	*viper.Viper
	changes chan<- Config
}

func NewLoader(changes chan<- Config) *Loader {
	loader := Loader{changes: changes, Viper: viper.New()}
	loader.SetDefault("battlemetrics_url", "https://api.battlemetrics.com")
	loader.SetDefault("steam_api_url", "https://api.steampowered.com")
	loader.SetDefault("steam_api_key", "")
	loader.SetDefault("fetch_limit", 200)
	loader.SetDefault("page_size", 100)
	loader.SetDefault("enrich_limit", 2000)
	loader.SetDefault("probe_workers", 20)
	loader.SetDefault("geoip_path", "")
	loader.SetDefault("freshness_minutes", 15)
	loader.SetDefault("auto_refresh_minutes", 15)
	loader.SetDefault("offline_after_hours", 2)
	loader.SetDefault("delete_after_hours", 24)
	loader.SetDefault("metrics_listen", "")
	loader.SetConfigName(DefaultConfigName)
	loader.SetConfigType("yaml")
	loader.SetEnvPrefix(EnvPrefix)
	loader.AddConfigPath(Path(""))
	loader.AddConfigPath(".")
	loader.AutomaticEnv()
	loader.WatchConfig()
	loader.OnConfigChange(loader.onConfigChange)

	return &loader
}

func (cl *Loader) Path() string {
	return cl.ConfigFileUsed()
}

func (cl *Loader) onConfigChange(in fsnotify.Event) {
	if in.Op != fsnotify.Write && in.Op != fsnotify.Rename {
		return
	}

	slog.Debug("External config reload triggered")
	config, err := cl.Read()
	if err != nil {
		slog.Error("Error reading config", slog.String("error", err.Error()))

		return
	}

	cl.changes <- config
}

// Read loads the config file if one exists, otherwise the defaults stand.
func (cl *Loader) Read() (Config, error) {
	if err := cl.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return Config{}, errors.Join(err, errConfigRead)
		}
	}

	var config Config
	if err := cl.Unmarshal(&config); err != nil {
		return Config{}, errors.Join(err, errConfigRead)
	}

	if config.DeleteAfterHours <= config.OfflineAfterHours {
		return Config{}, errConfigRead
	}

	return config, nil
}
