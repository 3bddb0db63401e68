package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/Synternet/bondingcurve-indexer/internal/chain"
	"github.com/Synternet/bondingcurve-indexer/internal/contracts"
	indexerimpl "github.com/Synternet/bondingcurve-indexer/internal/indexer"
	"github.com/Synternet/bondingcurve-indexer/internal/lock"
	"github.com/Synternet/bondingcurve-indexer/internal/publisher"
	"github.com/Synternet/bondingcurve-indexer/internal/refprice"
)

// app is the wired indexer with everything it owns.
type app struct {
	chain     *chain.Client
	indexer   *indexerimpl.Indexer
	publisher *publisher.Publisher
	feed      *refprice.NATSFeed
	redis     redis.UniversalClient
}

type appOptions struct {
	publish  bool
	registry prometheus.Registerer
}

func newApp(ctx context.Context, opts appOptions) (*app, error) {
	repo, err := openDatabase()
	if err != nil {
		return nil, err
	}

	client, err := chain.Dial(ctx, cfg.Chain.RPCURL, cfg.Chain.CallTimeout, logger)
	if err != nil {
		return nil, err
	}
	ret := &app{chain: client}

	views, err := contracts.New(client, cfg.FactoryAddress())
	if err != nil {
		ret.Close()
		return nil, err
	}
	if cfg.Chain.Factory == "" {
		logger.Warn("No factory configured, runs will fail until --factory is set")
	}

	if natsConnection == nil {
		natsConnection, err = connectNats("Bonding Curve Indexer", cfg.NATS, cfg.NATSURLs())
		if err != nil {
			ret.Close()
			return nil, err
		}
	}

	var sources []refprice.Source
	if cfg.Prices.Subject != "" && natsConnection != nil {
		ret.feed = refprice.NewNATSFeed(cfg.Prices.MaxAge, logger)
		if err := ret.feed.Subscribe(natsConnection, cfg.Prices.Subject); err != nil {
			ret.Close()
			return nil, fmt.Errorf("failed subscribing to price feed: %w", err)
		}
		sources = append(sources, ret.feed)
	}
	if cfg.Prices.CoinGeckoURL != "" {
		sources = append(sources, refprice.NewCoinGecko(cfg.Prices.CoinGeckoURL, cfg.Prices.CoinID, cfg.Prices.Timeout, logger))
	}
	if cfg.Prices.Static > 0 {
		sources = append(sources, refprice.Static(cfg.Prices.Static))
	}

	guard := lock.Chained{lock.NewLocal()}
	if cfg.Redis.Addr != "" {
		ret.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Username: cfg.Redis.Username,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		guard = append(guard, lock.NewRedis(ret.redis, cfg.Redis.LockKey(), cfg.Redis.LockTTL, logger))
	}

	indexerOpts := []indexerimpl.Option{
		indexerimpl.WithLogger(logger),
		indexerimpl.WithGuard(guard),
		indexerimpl.WithRegisterer(opts.registry),
	}
	if opts.publish {
		pubOpts := []publisher.Option{
			publisher.WithLogger(logger),
			publisher.WithNats(natsConnection),
			publisher.WithPrefix(cfg.NATS.Prefix),
			publisher.WithName(cfg.NATS.Name),
			publisher.WithRegisterer(opts.registry),
		}
		if cfg.NATS.Socket != "" {
			socket, err := publisher.NewSocket(cfg.NATS.Socket)
			if err != nil {
				ret.Close()
				return nil, err
			}
			pubOpts = append(pubOpts, publisher.WithSocket(socket))
		}
		ret.publisher = publisher.New(pubOpts...)
		indexerOpts = append(indexerOpts, indexerimpl.WithPublisher(ret.publisher))
	}

	ret.indexer = indexerimpl.New(client, views, repo, refprice.Chain(sources...), cfg.IndexerConfig(), indexerOpts...)
	return ret, nil
}

func (a *app) addStatusCallbacks(s *publisher.Server) {
	s.AddStatusCallback("rpc", a.chain.GetStatus)
	if a.publisher != nil {
		s.AddStatusCallback("publisher", a.publisher.GetStatus)
	}
	if a.feed != nil {
		s.AddStatusCallback("prices", a.feed.GetStatus)
	}
}

func (a *app) Close() error {
	var errArr []error
	if a.feed != nil {
		errArr = append(errArr, a.feed.Close())
	}
	if a.publisher != nil {
		errArr = append(errArr, a.publisher.Close())
	}
	if a.redis != nil {
		errArr = append(errArr, a.redis.Close())
	}
	if a.chain != nil {
		errArr = append(errArr, a.chain.Close())
	}
	return errors.Join(errArr...)
}

func mustApp(ctx context.Context, opts appOptions) *app {
	a, err := newApp(ctx, opts)
	if err != nil {
		logger.Error("Startup failed", "err", err)
		os.Exit(1)
	}
	return a
}

func init() {
	const (
		RETENTION            = "RETENTION"
		VOLUME_WINDOW        = "VOLUME_WINDOW"
		CHUNK_SIZE           = "CHUNK_SIZE"
		WORKERS              = "WORKERS"
		RUN_TIMEOUT          = "RUN_TIMEOUT"
		MAX_CHANGE_STALENESS = "MAX_CHANGE_STALENESS"
		COINGECKO_URL        = "COINGECKO_URL"
		COINGECKO_COIN       = "COINGECKO_COIN_ID"
		PRICE_TIMEOUT        = "PRICE_TIMEOUT"
		PRICES_SUBJECT       = "PRICES_SUBJECT"
		PRICE_MAX_AGE        = "PRICE_MAX_AGE"
	)
	def := cfg
	setDefault(COINGECKO_URL, def.Prices.CoinGeckoURL)
	setDefault(COINGECKO_COIN, def.Prices.CoinID)

	f := rootCmd.PersistentFlags()
	f.DurationVar(&cfg.Indexer.Retention, "retention", envDuration(RETENTION, def.Indexer.Retention), "Snapshot retention window")
	f.DurationVar(&cfg.Indexer.VolumeWindow, "volume-window", envDuration(VOLUME_WINDOW, def.Indexer.VolumeWindow), "Trailing window of the volume aggregation")
	f.Uint64Var(&cfg.Indexer.ChunkSize, "chunk-size", envUint(CHUNK_SIZE, def.Indexer.ChunkSize), "Blocks per event log query")
	f.IntVar(&cfg.Indexer.Workers, "workers", int(envUint(WORKERS, uint64(def.Indexer.Workers))), "Tokens processed concurrently within a run")
	f.DurationVar(&cfg.Indexer.RunTimeout, "run-timeout", envDuration(RUN_TIMEOUT, def.Indexer.RunTimeout), "Upper bound of a whole run")
	f.DurationVar(&cfg.Indexer.MaxChangeStaleness, "max-change-staleness", envDuration(MAX_CHANGE_STALENESS, def.Indexer.MaxChangeStaleness), "How far before now-24h a comparison snapshot may be; 0 disables the bound")

	f.StringVar(&cfg.Prices.CoinGeckoURL, "coingecko-url", os.Getenv(COINGECKO_URL), "CoinGecko API base URL; empty disables")
	f.StringVar(&cfg.Prices.CoinID, "coingecko-coin", os.Getenv(COINGECKO_COIN), "CoinGecko id of the native asset")
	f.DurationVar(&cfg.Prices.Timeout, "price-timeout", envDuration(PRICE_TIMEOUT, def.Prices.Timeout), "Reference price request timeout")
	f.StringVar(&cfg.Prices.Subject, "prices-subject", os.Getenv(PRICES_SUBJECT), "Subject for prices feed to subscribe to")
	f.DurationVar(&cfg.Prices.MaxAge, "price-max-age", envDuration(PRICE_MAX_AGE, def.Prices.MaxAge), "Age after which a price feed quote is stale")
	f.Float64Var(&cfg.Prices.Static, "static-price", 0, "Fallback native asset USD price used when every other source is unavailable")
}
