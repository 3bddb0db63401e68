package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"gorm.io/gorm"

	"github.com/Synternet/bondingcurve-indexer/internal/config"
	"github.com/Synternet/bondingcurve-indexer/internal/repository"
	"github.com/Synternet/bondingcurve-indexer/internal/repository/pg"
	"github.com/Synternet/bondingcurve-indexer/internal/repository/sqlite"
)

var (
	cfg = config.Default()

	flagConfigFile *string
	flagVerbose    *bool

	logger         *slog.Logger
	natsConnection *nats.Conn
	database       *repository.Repository
)

var rootCmd = &cobra.Command{
	Use:   "bondingcurve-indexer",
	Short: "Bonding-curve token snapshot indexer for EVM chains",
	Long: `Discovers tokens registered with a bonding-curve factory, prices them from pool state,
aggregates 24h trading volume from pool events and keeps a retention-pruned snapshot history.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if *flagConfigFile != "" {
			if err := loadConfigFile(cmd.Flags(), *flagConfigFile); err != nil {
				return err
			}
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}

		logger = cfg.Logging.NewLogger(os.Stderr, *flagVerbose)
		slog.SetDefault(logger)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if natsConnection != nil {
			natsConnection.Close()
		}
		if database != nil {
			database.Close()
		}
	},
}

// loadConfigFile applies the YAML file beneath flags that were set explicitly on the command line.
func loadConfigFile(flags *pflag.FlagSet, path string) error {
	restore := map[string]func() error{}
	flags.Visit(func(f *pflag.Flag) {
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			values := sv.GetSlice()
			restore[f.Name] = func() error { return sv.Replace(values) }
			return
		}
		value := f.Value.String()
		restore[f.Name] = func() error { return flags.Set(f.Name, value) }
	})
	if err := config.LoadInto(path, &cfg); err != nil {
		return fmt.Errorf("failed loading config: %w", err)
	}
	for name, apply := range restore {
		if err := apply(); err != nil {
			return fmt.Errorf("failed re-applying --%s: %w", name, err)
		}
	}
	return nil
}

// openDatabase connects the snapshot store. A `sqlite` database name selects SQLite with the host as file path.
func openDatabase() (*repository.Repository, error) {
	if database != nil {
		return database, nil
	}
	var (
		db  *gorm.DB
		err error
	)
	dbc := cfg.Database
	if dbc.SQLite() {
		db, err = sqlite.New(dbc.Host)
	} else {
		db, err = pg.New(dbc.Host, dbc.Port, dbc.User, dbc.Password, dbc.Name, dbc.SSLMode)
	}
	if err != nil {
		return nil, fmt.Errorf("failed connecting to database: %w", err)
	}
	repo, err := repository.New(db, logger)
	if err != nil {
		return nil, err
	}
	database = repo
	return repo, nil
}

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func envDuration(name string, def time.Duration) time.Duration {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		slog.Warn("Invalid duration in environment, switching to default", "env", name, "error", err, "default", def)
		return def
	}
	return d
}

func envUint(name string, def uint64) uint64 {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		slog.Warn("Invalid number in environment, switching to default", "env", name, "error", err, "default", def)
		return def
	}
	return n
}

func init() {
	const (
		CONFIG_FILE  = "CONFIG_FILE"
		LOG_LEVEL    = "LOG_LEVEL"
		LOG_FORMAT   = "LOG_FORMAT"
		RPC_URL      = "RPC_URL"
		FACTORY      = "FACTORY_ADDRESS"
		CALL_TIMEOUT = "CALL_TIMEOUT"

		NATS_URL         = "NATS_URL"
		NATS_CREDS       = "NATS_CREDS"
		NATS_NKEY        = "NATS_NKEY"
		NATS_JWT         = "NATS_JWT"
		NATS_ACC_NKEY    = "NATS_ACC_NKEY"
		CA_CERT          = "CA_CERT"
		CLIENT_CERT      = "CLIENT_CERT"
		CLIENT_KEY       = "CLIENT_KEY"
		PUBLISHER_PREFIX = "PREFIX"
		PUBLISHER_NAME   = "PUBLISHER_NAME"
		SOCKET_ADDR      = "SOCKET_ADDR"

		REDIS_ADDR     = "REDIS_ADDR"
		REDIS_USER     = "REDIS_USER"
		REDIS_PASSWORD = "REDIS_PASSWORD"
		REDIS_DB       = "REDIS_DB"
		REDIS_PREFIX   = "REDIS_PREFIX"
		LOCK_TTL       = "LOCK_TTL"

		DB_HOST     = "DB_HOST"
		DB_PORT     = "DB_PORT"
		DB_USER     = "DB_USER"
		DB_PASSWORD = "DB_PASSW"
		DB_NAME     = "DB_NAME"
		DB_SSLMODE  = "DB_SSLMODE"
	)
	def := config.Default()
	setDefault(LOG_LEVEL, def.Logging.Level)
	setDefault(LOG_FORMAT, def.Logging.Format)
	setDefault(RPC_URL, def.Chain.RPCURL)
	setDefault(PUBLISHER_PREFIX, def.NATS.Prefix)
	setDefault(PUBLISHER_NAME, def.NATS.Name)
	setDefault(REDIS_PREFIX, def.Redis.Prefix)
	setDefault(DB_HOST, def.Database.Host)
	setDefault(DB_USER, def.Database.User)
	setDefault(DB_NAME, def.Database.Name)
	setDefault(DB_SSLMODE, def.Database.SSLMode)

	f := rootCmd.PersistentFlags()
	flagConfigFile = f.String("config", os.Getenv(CONFIG_FILE), "YAML configuration file; explicit flags take precedence over its values")
	_, verbosePresent := os.LookupEnv("VERBOSE")
	flagVerbose = f.BoolP("verbose", "v", verbosePresent, "Verbose output")
	f.StringVar(&cfg.Logging.Level, "log-level", os.Getenv(LOG_LEVEL), "Log level: debug, info, warn or error")
	f.StringVar(&cfg.Logging.Format, "log-format", os.Getenv(LOG_FORMAT), "Log format: json or text")

	f.StringVar(&cfg.Chain.RPCURL, "rpc-url", os.Getenv(RPC_URL), "EVM JSON-RPC endpoint")
	f.StringVar(&cfg.Chain.Factory, "factory", os.Getenv(FACTORY), "Bonding-curve factory contract address")
	f.DurationVar(&cfg.Chain.CallTimeout, "call-timeout", envDuration(CALL_TIMEOUT, def.Chain.CallTimeout), "Timeout of a single chain call")

	f.StringVarP(&cfg.NATS.URL, "nats-url", "n", os.Getenv(NATS_URL), "NATS server URLs (separated by comma); empty disables publishing")
	f.StringVarP(&cfg.NATS.Creds, "nats-creds", "c", os.Getenv(NATS_CREDS), "NATS User Credentials File (combined JWT and NKey file) ")
	f.StringVarP(&cfg.NATS.JWT, "nats-jwt", "w", os.Getenv(NATS_JWT), "NATS JWT")
	f.StringVarP(&cfg.NATS.NKey, "nats-nkey", "k", os.Getenv(NATS_NKEY), "NATS NKey")
	f.StringVar(&cfg.NATS.AccNKey, "nats-acc-nkey", os.Getenv(NATS_ACC_NKEY), "NATS account NKey (seed)")
	f.StringVar(&cfg.NATS.CACert, "ca-cert", os.Getenv(CA_CERT), "NATS CA certificate file")
	f.StringVar(&cfg.NATS.ClientCert, "client-cert", os.Getenv(CLIENT_CERT), "NATS TLS client certificate file")
	f.StringVar(&cfg.NATS.ClientKey, "client-key", os.Getenv(CLIENT_KEY), "NATS Private key file for client certificate")
	f.StringVar(&cfg.NATS.Prefix, "prefix", os.Getenv(PUBLISHER_PREFIX), "NATS topic prefix name as in {prefix}.{name}.>")
	f.StringVar(&cfg.NATS.Name, "publisher-name", os.Getenv(PUBLISHER_NAME), "NATS publisher name as in {prefix}.{name}.>")
	f.StringVar(&cfg.NATS.Socket, "socket", os.Getenv(SOCKET_ADDR), "Unix socket to mirror published snapshots to")

	f.StringVar(&cfg.Redis.Addr, "redis-addr", os.Getenv(REDIS_ADDR), "Redis address for the distributed run lease; empty keeps the lease in-process")
	f.StringVar(&cfg.Redis.Username, "redis-user", os.Getenv(REDIS_USER), "Redis user")
	f.StringVar(&cfg.Redis.Password, "redis-password", os.Getenv(REDIS_PASSWORD), "Redis password")
	f.IntVar(&cfg.Redis.DB, "redis-db", int(envUint(REDIS_DB, 0)), "Redis database")
	f.StringVar(&cfg.Redis.Prefix, "redis-prefix", os.Getenv(REDIS_PREFIX), "Redis key prefix")
	f.DurationVar(&cfg.Redis.LockTTL, "lock-ttl", envDuration(LOCK_TTL, def.Redis.LockTTL), "Run lease time to live")

	f.StringVar(&cfg.Database.Host, "db-host", os.Getenv(DB_HOST), "Database Host (filepath in case of `sqlite` `db-name`)")
	f.UintVar(&cfg.Database.Port, "db-port", uint(envUint(DB_PORT, uint64(def.Database.Port))), "Database Port")
	f.StringVar(&cfg.Database.User, "db-user", os.Getenv(DB_USER), "Database User")
	f.StringVar(&cfg.Database.Name, "db-name", os.Getenv(DB_NAME), "Database Name (specify `sqlite` for SQLite database)")
	f.StringVar(&cfg.Database.Password, "db-passw", os.Getenv(DB_PASSWORD), "Database Password")
	f.StringVar(&cfg.Database.SSLMode, "db-sslmode", os.Getenv(DB_SSLMODE), "Database SSL mode")
}
