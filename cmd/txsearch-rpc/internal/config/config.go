package config

import (
	"fmt"
	"os"
	"time"

	"github.com/pelletier/go-toml"
	"github.com/sirupsen/logrus"
)

const (
	// OneDayOfLedgers is (roughly) a 24 hour window of ledgers.
	OneDayOfLedgers = 17280

	defaultEndpoint         = "localhost:8000"
	defaultIngestionTimeout = 50 * time.Minute
	defaultRetentionWindow  = 7 * OneDayOfLedgers
	defaultCheckpointFreq   = 64
)

// Network configures one ledger network served by the daemon: where its
// database lives and, when ingestion is enabled, how to obtain its ledgers.
type Network struct {
	Name              string `toml:"name"`
	NetworkPassphrase string `toml:"network_passphrase"`
	SQLiteDBPath      string `toml:"db_path"`

	// LedgerRetentionWindow is how many of the latest ledgers are kept in the
	// database. Anything older is trimmed on ingestion.
	LedgerRetentionWindow uint32 `toml:"ledger_retention_window"`

	Ingest                 bool     `toml:"ingest"`
	StellarCoreBinaryPath  string   `toml:"stellar_core_binary_path"`
	CaptiveCoreConfigPath  string   `toml:"captive_core_config_path"`
	CaptiveCoreStoragePath string   `toml:"captive_core_storage_path"`
	CaptiveCoreHTTPPort    uint     `toml:"captive_core_http_port"`
	HistoryArchiveURLs     []string `toml:"history_archive_urls"`
	CheckpointFrequency    uint32   `toml:"checkpoint_frequency"`
}

type Config struct {
	Endpoint      string `toml:"endpoint"`
	AdminEndpoint string `toml:"admin_endpoint"`

	// BasePath is the URL path prefix used when rendering paging links.
	BasePath string `toml:"base_path"`

	LogLevel  logrus.Level  `toml:"-"`
	LogLevelS string        `toml:"log_level"`
	LogFormat string        `toml:"log_format"`
	Timeout   time.Duration `toml:"-"`
	TimeoutS  string        `toml:"ingestion_timeout"`

	Networks []Network `toml:"networks"`
}

// Read loads and validates a TOML config file.
func Read(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("could not read config file: %w", err)
	}
	cfg := &Config{}
	if err := toml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("could not parse config file %q: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate fills in defaults and rejects configurations the daemon could not
// start from.
func (cfg *Config) Validate() error {
	if cfg.Endpoint == "" {
		cfg.Endpoint = defaultEndpoint
	}
	if cfg.BasePath == "" {
		cfg.BasePath = "/transactions"
	}

	cfg.LogLevel = logrus.InfoLevel
	if cfg.LogLevelS != "" {
		level, err := logrus.ParseLevel(cfg.LogLevelS)
		if err != nil {
			return fmt.Errorf("could not parse log_level %q: %w", cfg.LogLevelS, err)
		}
		cfg.LogLevel = level
	}
	switch cfg.LogFormat {
	case "", "text", "json":
	default:
		return fmt.Errorf("invalid log_format %q, expected text or json", cfg.LogFormat)
	}

	cfg.Timeout = defaultIngestionTimeout
	if cfg.TimeoutS != "" {
		timeout, err := time.ParseDuration(cfg.TimeoutS)
		if err != nil {
			return fmt.Errorf("could not parse ingestion_timeout %q: %w", cfg.TimeoutS, err)
		}
		cfg.Timeout = timeout
	}

	if len(cfg.Networks) == 0 {
		return fmt.Errorf("at least one [[networks]] entry is required")
	}
	seen := map[string]bool{}
	for i := range cfg.Networks {
		net := &cfg.Networks[i]
		if net.Name == "" {
			return fmt.Errorf("networks[%d]: name is required", i)
		}
		if seen[net.Name] {
			return fmt.Errorf("networks[%d]: duplicate network name %q", i, net.Name)
		}
		seen[net.Name] = true
		if net.SQLiteDBPath == "" {
			return fmt.Errorf("network %q: db_path is required", net.Name)
		}
		if net.LedgerRetentionWindow == 0 {
			net.LedgerRetentionWindow = defaultRetentionWindow
		}
		if net.Ingest {
			if net.NetworkPassphrase == "" {
				return fmt.Errorf("network %q: network_passphrase is required to ingest", net.Name)
			}
			if net.StellarCoreBinaryPath == "" {
				return fmt.Errorf("network %q: stellar_core_binary_path is required to ingest", net.Name)
			}
			if net.CaptiveCoreConfigPath == "" {
				return fmt.Errorf("network %q: captive_core_config_path is required to ingest", net.Name)
			}
			if len(net.HistoryArchiveURLs) == 0 {
				return fmt.Errorf("network %q: history_archive_urls are required to ingest", net.Name)
			}
			if net.CheckpointFrequency == 0 {
				net.CheckpointFrequency = defaultCheckpointFreq
			}
		}
	}
	return nil
}
