package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"

	"github.com/Synternet/bondingcurve-indexer/internal/chain"
	"github.com/Synternet/bondingcurve-indexer/internal/indexer"
	"github.com/Synternet/bondingcurve-indexer/internal/lock"
	"github.com/Synternet/bondingcurve-indexer/internal/refprice"
)

type Config struct {
	Chain    ChainConfig    `yaml:"chain"`
	Indexer  IndexerConfig  `yaml:"indexer"`
	Prices   PricesConfig   `yaml:"prices"`
	NATS     NATSConfig     `yaml:"nats"`
	Redis    RedisConfig    `yaml:"redis"`
	Database DatabaseConfig `yaml:"database"`
	HTTP     HTTPConfig     `yaml:"http"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type ChainConfig struct {
	RPCURL      string        `yaml:"rpc_url"`
	Factory     string        `yaml:"factory"`
	CallTimeout time.Duration `yaml:"call_timeout"`
}

type IndexerConfig struct {
	Retention          time.Duration `yaml:"retention"`
	VolumeWindow       time.Duration `yaml:"volume_window"`
	ChunkSize          uint64        `yaml:"chunk_size"`
	Workers            int           `yaml:"workers"`
	RunTimeout         time.Duration `yaml:"run_timeout"`
	MaxChangeStaleness time.Duration `yaml:"max_change_staleness"`
	Schedule           string        `yaml:"schedule"` // cron spec, seconds field optional; empty disables
}

type PricesConfig struct {
	CoinGeckoURL string        `yaml:"coingecko_url"` // empty disables
	CoinID       string        `yaml:"coin_id"`
	Timeout      time.Duration `yaml:"timeout"`
	Subject      string        `yaml:"subject"` // NATS price feed subject; empty disables
	MaxAge       time.Duration `yaml:"max_age"`
	Static       float64       `yaml:"static"` // last resort fallback; 0 disables
}

type NATSConfig struct {
	URL        string `yaml:"url"` // comma separated; empty disables publishing
	Creds      string `yaml:"creds"`
	NKey       string `yaml:"nkey"`
	JWT        string `yaml:"jwt"`
	AccNKey    string `yaml:"acc_nkey"`
	CACert     string `yaml:"ca_cert"`
	ClientCert string `yaml:"client_cert"`
	ClientKey  string `yaml:"client_key"`
	Prefix     string `yaml:"prefix"`
	Name       string `yaml:"name"`
	Socket     string `yaml:"socket"` // unix socket mirror; empty disables
}

type RedisConfig struct {
	Addr     string        `yaml:"addr"` // empty disables the distributed run lease
	Username string        `yaml:"username"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	Prefix   string        `yaml:"prefix"`
	LockTTL  time.Duration `yaml:"lock_ttl"`
}

func (r RedisConfig) LockKey() string {
	return r.Prefix + "run-lock"
}

type DatabaseConfig struct {
	Host     string `yaml:"host"` // file path when Name is "sqlite"
	Port     uint   `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
	SSLMode  string `yaml:"sslmode"`
}

func (d DatabaseConfig) SQLite() bool {
	return d.Name == "sqlite"
}

type HTTPConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug|info|warn|error
	Format string `yaml:"format"` // json|text
}

func Default() Config {
	idx := indexer.DefaultConfig()
	return Config{
		Chain: ChainConfig{
			RPCURL:      "https://mainnet.hashio.io/api",
			CallTimeout: chain.DefaultCallTimeout,
		},
		Indexer: IndexerConfig{
			Retention:          idx.Retention,
			VolumeWindow:       idx.VolumeWindow,
			ChunkSize:          idx.ChunkSize,
			Workers:            idx.Workers,
			RunTimeout:         idx.RunTimeout,
			MaxChangeStaleness: idx.MaxChangeStaleness,
		},
		Prices: PricesConfig{
			CoinGeckoURL: refprice.DefaultCoinGeckoURL,
			CoinID:       refprice.DefaultCoinID,
			Timeout:      refprice.DefaultTimeout,
			MaxAge:       refprice.DefaultMaxAge,
		},
		NATS: NATSConfig{
			Prefix: "synternet",
			Name:   "bondingcurve",
		},
		Redis: RedisConfig{
			Prefix:  "bondingcurve:",
			LockTTL: lock.DefaultTTL,
		},
		Database: DatabaseConfig{
			Host:    "postgres",
			Port:    5432,
			User:    "bondingcurve_user",
			Name:    "bondingcurve",
			SSLMode: "disable",
		},
		HTTP: HTTPConfig{
			Addr:            ":8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    6 * time.Minute,
			ShutdownTimeout: 10 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads a YAML file on top of the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if err := LoadInto(path, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadInto overwrites the fields of cfg that are present in the YAML file.
func LoadInto(path string, cfg *Config) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err = yaml.Unmarshal(b, cfg); err != nil {
		return fmt.Errorf("failed parsing %s: %w", path, err)
	}
	return nil
}

func (c Config) Validate() error {
	var errs []error
	if c.Chain.RPCURL == "" {
		errs = append(errs, errors.New("chain.rpc_url is required"))
	}
	if c.Chain.Factory != "" && !common.IsHexAddress(c.Chain.Factory) {
		errs = append(errs, fmt.Errorf("chain.factory %q is not an address", c.Chain.Factory))
	}
	if c.Indexer.Workers < 0 {
		errs = append(errs, fmt.Errorf("indexer.workers must not be negative, got %d", c.Indexer.Workers))
	}
	if c.Indexer.Retention < 0 || c.Indexer.VolumeWindow < 0 || c.Indexer.RunTimeout < 0 || c.Indexer.MaxChangeStaleness < 0 {
		errs = append(errs, errors.New("indexer durations must not be negative"))
	}
	if c.Database.Name == "" {
		errs = append(errs, errors.New("database.name is required"))
	}
	if _, err := ParseLevel(c.Logging.Level); err != nil {
		errs = append(errs, err)
	}
	switch c.Logging.Format {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("logging.format must be json or text, got %q", c.Logging.Format))
	}
	return errors.Join(errs...)
}

// FactoryAddress returns the configured factory, the zero address when unset.
func (c Config) FactoryAddress() common.Address {
	if c.Chain.Factory == "" {
		return common.Address{}
	}
	return common.HexToAddress(c.Chain.Factory)
}

func (c Config) IndexerConfig() indexer.Config {
	cfg := indexer.DefaultConfig()
	cfg.Retention = c.Indexer.Retention
	cfg.VolumeWindow = c.Indexer.VolumeWindow
	cfg.ChunkSize = c.Indexer.ChunkSize
	cfg.Workers = c.Indexer.Workers
	cfg.RunTimeout = c.Indexer.RunTimeout
	cfg.MaxChangeStaleness = c.Indexer.MaxChangeStaleness
	return cfg
}

// NATSURLs splits the comma separated server list.
func (c Config) NATSURLs() []string {
	var ret []string
	for _, u := range strings.Split(c.NATS.URL, ",") {
		if u = strings.TrimSpace(u); u != "" {
			ret = append(ret, u)
		}
	}
	return ret
}

func ParseLevel(level string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return slog.LevelInfo, fmt.Errorf("logging.level: %w", err)
	}
	return l, nil
}

// NewLogger builds the process logger. verbose forces debug level.
func (c LoggingConfig) NewLogger(w io.Writer, verbose bool) *slog.Logger {
	level, _ := ParseLevel(c.Level)
	if verbose {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
