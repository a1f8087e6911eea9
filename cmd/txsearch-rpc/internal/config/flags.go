package config

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
)

// Flags are the command line overrides applied on top of the TOML file.
type Flags struct {
	ConfigPath    string
	Endpoint      string
	AdminEndpoint string
	LogLevel      string
}

func (f *Flags) Register(set *pflag.FlagSet) {
	set.StringVar(&f.ConfigPath, "config-path", "txsearch-rpc.toml", "path to the TOML config file")
	set.StringVar(&f.Endpoint, "endpoint", "", "override the HTTP endpoint from the config file")
	set.StringVar(&f.AdminEndpoint, "admin-endpoint", "", "override the admin endpoint from the config file")
	set.StringVar(&f.LogLevel, "log-level", "", "override the log level from the config file")
}

// Apply folds the overrides into an already validated Config.
func (f *Flags) Apply(cfg *Config) error {
	if f.Endpoint != "" {
		cfg.Endpoint = f.Endpoint
	}
	if f.AdminEndpoint != "" {
		cfg.AdminEndpoint = f.AdminEndpoint
	}
	if f.LogLevel != "" {
		level, err := logrus.ParseLevel(f.LogLevel)
		if err != nil {
			return fmt.Errorf("could not parse log-level %q: %w", f.LogLevel, err)
		}
		cfg.LogLevel = level
	}
	return nil
}
