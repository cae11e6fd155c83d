// Package config loads aqe-server's configuration from defaults, environment
// variables (prefix AQE) and an optional $HOME/.aqe/config.yaml via viper.
// Command-line flags are not read here; cmd/aqe-server applies them after Load.
package config

import (
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// Config is the resolved server configuration, mirroring the original
// Flask app's config.py one field at a time.
type Config struct {
	DBPath                string  `mapstructure:"db_path"`
	Port                  int     `mapstructure:"port"`
	Host                  string  `mapstructure:"host"`
	CacheSize             int     `mapstructure:"cache_size"`
	DefaultErrorTolerance float64 `mapstructure:"default_error_tolerance"`
	CORSOrigins           string  `mapstructure:"cors_origins"`
	Debug                 bool    `mapstructure:"debug"`
}

// Defaults match config.py's os.environ.get(..., default) fallbacks.
func Defaults() Config {
	return Config{
		DBPath:                "aqe.sqlite",
		Port:                  8080,
		Host:                  "0.0.0.0",
		CacheSize:             256,
		DefaultErrorTolerance: 0.05,
		CORSOrigins:           "*",
		Debug:                 false,
	}
}

// Load reads configuration from (in increasing priority) the built-in
// defaults, $HOME/.aqe/config.yaml if present, and AQE_-prefixed environment
// variables. cfgFile, when non-empty, overrides the default config path.
func Load(cfgFile string) (Config, error) {
	cfg := Defaults()

	v := viper.New()
	v.SetDefault("db_path", cfg.DBPath)
	v.SetDefault("port", cfg.Port)
	v.SetDefault("host", cfg.Host)
	v.SetDefault("cache_size", cfg.CacheSize)
	v.SetDefault("default_error_tolerance", cfg.DefaultErrorTolerance)
	v.SetDefault("cors_origins", cfg.CORSOrigins)
	v.SetDefault("debug", cfg.Debug)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(filepath.Join(home, ".aqe"))
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("AQE")
	v.AutomaticEnv()

	// A missing config file is not an error - it's optional, same as the
	// original Flask app's reliance on plain environment variables.
	_ = v.ReadInConfig()

	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
