package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/Synternet/bondingcurve-indexer/internal/chain"
	"github.com/Synternet/bondingcurve-indexer/internal/contracts"
	"github.com/Synternet/bondingcurve-indexer/internal/lock"
	"github.com/Synternet/bondingcurve-indexer/internal/refprice"
	"github.com/Synternet/bondingcurve-indexer/internal/retry"
	"github.com/Synternet/bondingcurve-indexer/pkg/indexer"
	"github.com/Synternet/bondingcurve-indexer/pkg/repository"
	"github.com/Synternet/bondingcurve-indexer/pkg/types"
)

var _ indexer.Indexer = (*Indexer)(nil)

var (
	// ErrRunInProgress is returned when another run holds the run guard.
	ErrRunInProgress = errors.New("run in progress")
	// ErrNoFactory is returned when no factory contract is configured.
	ErrNoFactory = contracts.ErrNoFactory
)

const (
	DefaultRetention          = 72 * time.Hour
	DefaultVolumeWindow       = 24 * time.Hour
	DefaultRunTimeout         = 5 * time.Minute
	DefaultMaxChangeStaleness = 24 * time.Hour
	DefaultWorkers            = 1
	DefaultListLimit          = 100
)

type Config struct {
	Retention    time.Duration
	VolumeWindow time.Duration
	ChunkSize    uint64
	Workers      int
	RunTimeout   time.Duration
	// MaxChangeStaleness bounds how far before now-24h the comparison snapshot may be. 0 disables the bound.
	MaxChangeStaleness time.Duration
	NativeDecimals     uint8
}

func DefaultConfig() Config {
	return Config{
		Retention:          DefaultRetention,
		VolumeWindow:       DefaultVolumeWindow,
		ChunkSize:          DefaultChunkSize,
		Workers:            DefaultWorkers,
		RunTimeout:         DefaultRunTimeout,
		MaxChangeStaleness: DefaultMaxChangeStaleness,
		NativeDecimals:     contracts.NativeDecimals,
	}
}

func (c Config) normalize() Config {
	def := DefaultConfig()
	if c.Retention <= 0 {
		c.Retention = def.Retention
	}
	if c.VolumeWindow <= 0 {
		c.VolumeWindow = def.VolumeWindow
	}
	if c.ChunkSize == 0 {
		c.ChunkSize = def.ChunkSize
	}
	if c.Workers <= 0 {
		c.Workers = def.Workers
	}
	if c.RunTimeout <= 0 {
		c.RunTimeout = def.RunTimeout
	}
	if c.MaxChangeStaleness < 0 {
		c.MaxChangeStaleness = 0
	}
	if c.NativeDecimals == 0 {
		c.NativeDecimals = def.NativeDecimals
	}
	return c
}

type ChainReader interface {
	BlockReader
	LogReader
	HeadBlock(ctx context.Context) (chain.Block, error)
}

type ContractReader interface {
	TradeDecoder
	Tokens(ctx context.Context) ([]common.Address, error)
	TokenCount(ctx context.Context) (uint64, error)
	TokenAt(ctx context.Context, index uint64) (common.Address, error)
	PoolFor(ctx context.Context, token common.Address) (common.Address, bool, error)
	Decimals(ctx context.Context, token common.Address) (uint8, error)
	TokenMeta(ctx context.Context, token common.Address) (contracts.TokenMeta, error)
	UnitSellPrice(ctx context.Context, pool common.Address, decimals uint8) (*big.Int, error)
	Reserves(ctx context.Context, pool common.Address) (*big.Int, *big.Int, error)
}

// SnapshotPublisher receives every persisted snapshot and every run summary.
type SnapshotPublisher interface {
	PublishSnapshot(msg types.SnapshotMessage) error
	PublishRun(resp types.RunResponse) error
}

type Option func(*Indexer)

func WithLogger(logger *slog.Logger) Option {
	return func(d *Indexer) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithGuard replaces the in-process run guard.
func WithGuard(guard lock.Guard) Option {
	return func(d *Indexer) {
		if guard != nil {
			d.guard = guard
		}
	}
}

func WithPublisher(publisher SnapshotPublisher) Option {
	return func(d *Indexer) {
		d.publisher = publisher
	}
}

func WithRegisterer(reg prometheus.Registerer) Option {
	return func(d *Indexer) {
		d.registerer = reg
	}
}

func WithRetrier(retrier *retry.Retrier) Option {
	return func(d *Indexer) {
		d.retrier = retrier
	}
}

func WithClock(now func() time.Time) Option {
	return func(d *Indexer) {
		d.now = now
	}
}

// Indexer produces per-token valuation snapshots on demand.
type Indexer struct {
	logger     *slog.Logger
	cfg        Config
	chain      ChainReader
	contracts  ContractReader
	repo       repository.Repository
	prices     refprice.Source
	guard      lock.Guard
	publisher  SnapshotPublisher
	registerer prometheus.Registerer
	retrier    *retry.Retrier
	now        func() time.Time

	locator    *Locator
	aggregator *Aggregator
	telemetry  *telemetry

	runCounter     atomic.Uint64
	errCounter     atomic.Uint64
	publishErrors  atomic.Uint64
	lastRunMu      sync.RWMutex
	lastRun        *types.RunResult
	lastRunFailure string
}

func New(chainReader ChainReader, contractReader ContractReader, repo repository.Repository, prices refprice.Source, cfg Config, opts ...Option) *Indexer {
	ret := &Indexer{
		logger:    slog.Default(),
		cfg:       cfg.normalize(),
		chain:     chainReader,
		contracts: contractReader,
		repo:      repo,
		prices:    prices,
		guard:     lock.NewLocal(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(ret)
	}
	if ret.prices == nil {
		ret.prices = refprice.Chain()
	}
	ret.logger = ret.logger.With("module", "indexer")
	ret.locator = NewLocator(chainReader, ret.retrier, ret.logger)
	ret.aggregator = NewAggregator(chainReader, contractReader, ret.cfg.ChunkSize, ret.cfg.NativeDecimals, ret.logger)
	ret.telemetry = newTelemetry(ret.registerer)
	return ret
}

func (d *Indexer) Retention() time.Duration {
	return d.cfg.Retention
}

func (d *Indexer) LastRun() (types.RunResult, bool) {
	d.lastRunMu.RLock()
	defer d.lastRunMu.RUnlock()
	if d.lastRun == nil {
		return types.RunResult{}, false
	}
	return *d.lastRun, true
}

func (d *Indexer) GetStatus() map[string]any {
	status := map[string]any{
		"runs":           d.runCounter.Load(),
		"errors":         d.errCounter.Load(),
		"publish_errors": d.publishErrors.Load(),
		"workers":        d.cfg.Workers,
		"chunk_size":     d.cfg.ChunkSize,
		"retention":      d.cfg.Retention.String(),
	}
	d.lastRunMu.RLock()
	defer d.lastRunMu.RUnlock()
	if d.lastRun != nil {
		status["last_run"] = map[string]any{
			"id":          d.lastRun.RunID,
			"finished_at": d.lastRun.FinishedAt,
			"count":       d.lastRun.Count(),
			"skipped":     len(d.lastRun.Skipped),
			"failed":      len(d.lastRun.Failed),
			"pruned":      d.lastRun.Pruned,
			"degraded":    d.lastRun.Degraded,
			"head_block":  d.lastRun.HeadBlock,
		}
	}
	if d.lastRunFailure != "" {
		status["last_run_error"] = d.lastRunFailure
	}
	return status
}

// runContext is the state shared by every token of one run.
type runContext struct {
	id          string
	head        chain.Block
	price       refprice.Price
	windowStart uint64
	windowErr   error
}

type tokenResult struct {
	snapshot *types.SnapshotMessage
	skipped  *types.TokenOutcome
	failed   *types.TokenOutcome
}

// RunOnce snapshots every registered token in registration order and prunes expired rows.
// Token-level failures are reported in the result; only guard, discovery and head lookup failures fail the run.
func (d *Indexer) RunOnce(ctx context.Context) (types.RunResult, error) {
	runID := uuid.NewString()
	release, err := d.guard.Acquire(ctx, runID)
	if err != nil {
		if errors.Is(err, lock.ErrBusy) {
			d.telemetry.runsCounter.WithLabelValues("busy").Inc()
			return types.RunResult{}, ErrRunInProgress
		}
		return types.RunResult{}, fmt.Errorf("run guard: %w", err)
	}
	defer release()

	ctx, cancel := context.WithTimeout(ctx, d.cfg.RunTimeout)
	defer cancel()

	d.runCounter.Add(1)
	result, err := d.run(ctx, runID)
	d.telemetry.runDuration.Observe(result.FinishedAt.Sub(result.StartedAt).Seconds())
	if err != nil {
		d.errCounter.Add(1)
		d.telemetry.runsCounter.WithLabelValues("failed").Inc()
		d.lastRunMu.Lock()
		d.lastRunFailure = err.Error()
		d.lastRunMu.Unlock()
		d.logger.Error("Run failed", "run", runID, "err", err)
		return result, err
	}

	outcome := "ok"
	if result.Degraded {
		outcome = "degraded"
	}
	d.telemetry.runsCounter.WithLabelValues(outcome).Inc()
	d.lastRunMu.Lock()
	d.lastRun = &result
	d.lastRunFailure = ""
	d.lastRunMu.Unlock()

	if d.publisher != nil {
		if err := d.publisher.PublishRun(types.NewRunResponse(result)); err != nil {
			d.publishErrors.Add(1)
			d.logger.Warn("Failed publishing run summary", "run", runID, "err", err)
		}
	}

	d.logger.Info("Run finished",
		"run", runID,
		"count", result.Count(),
		"skipped", len(result.Skipped),
		"failed", len(result.Failed),
		"pruned", result.Pruned,
		"degraded", result.Degraded,
		"duration", result.FinishedAt.Sub(result.StartedAt),
	)
	return result, nil
}

func (d *Indexer) run(ctx context.Context, runID string) (types.RunResult, error) {
	result := types.RunResult{
		RunID:     runID,
		StartedAt: d.now().UTC(),
		Snapshots: []repository.Snapshot{},
		Skipped:   []types.TokenOutcome{},
		Failed:    []types.TokenOutcome{},
	}
	finish := func() {
		result.FinishedAt = d.now().UTC()
	}

	tokens, err := d.contracts.Tokens(ctx)
	if err != nil {
		finish()
		return result, fmt.Errorf("discover tokens: %w", err)
	}

	head, err := retry.DoWithData(d.locator.retrier, ctx, d.chain.HeadBlock)
	if err != nil {
		finish()
		return result, fmt.Errorf("head block: %w", err)
	}
	d.telemetry.blockHeight.Set(float64(head.Height))

	rc := &runContext{
		id:    runID,
		head:  head,
		price: d.prices.NativeAssetUSD(ctx),
	}
	d.telemetry.referencePrice.Set(rc.price.USD)
	if !rc.price.Known {
		d.logger.Warn("Reference price unavailable, USD values will be 0", "run", runID)
	}
	rc.windowStart, rc.windowErr = d.locator.Locate(ctx, head.Time.Add(-d.cfg.VolumeWindow), head.Height)
	if rc.windowErr != nil {
		d.logger.Warn("Volume window start unavailable, volumes degraded", "run", runID, "err", rc.windowErr)
	}

	result.ReferencePriceUSD = rc.price.USD
	result.ReferencePriceKnown = rc.price.Known
	result.HeadBlock = head.Height
	result.WindowStart = rc.windowStart

	d.logger.Info("Run started", "run", runID, "tokens", len(tokens), "head", head.Height, "window_start", rc.windowStart, "reference_usd", rc.price.USD)

	results := make([]tokenResult, len(tokens))
	pool := pond.NewPool(d.cfg.Workers)
	defer pool.StopAndWait()
	group := pool.NewGroupContext(ctx)
	for i, token := range tokens {
		group.Submit(func() {
			started := time.Now()
			results[i] = d.processToken(ctx, rc, token)
			d.telemetry.tokenDuration.Observe(time.Since(started).Seconds())
		})
	}
	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, pond.ErrGroupStopped) {
		d.logger.Warn("Token processing group finished with error", "run", runID, "err", err)
	}

	for i, r := range results {
		switch {
		case r.snapshot != nil:
			result.Snapshots = append(result.Snapshots, r.snapshot.Snapshot)
			if r.snapshot.Snapshot.VolumeDegraded {
				result.Degraded = true
			}
			d.publish(*r.snapshot)
		case r.skipped != nil:
			result.Skipped = append(result.Skipped, *r.skipped)
		case r.failed != nil:
			result.Failed = append(result.Failed, *r.failed)
		default:
			// The group was cancelled before this token ran.
			result.Failed = append(result.Failed, types.TokenOutcome{
				Token:  strings.ToLower(tokens[i].Hex()),
				State:  types.StateDiscovered,
				Reason: fmt.Sprintf("not processed: %v", ctx.Err()),
			})
		}
	}
	d.telemetry.snapshotsCounter.Add(float64(len(result.Snapshots)))
	d.telemetry.skippedCounter.Add(float64(len(result.Skipped)))
	if len(result.Failed) > 0 {
		result.Degraded = true
	}

	pruned, err := d.prune()
	result.Pruned = pruned
	if err != nil {
		result.PruneError = err.Error()
		d.logger.Error("Prune failed", "run", runID, "err", err)
	}

	finish()
	return result, nil
}

// processToken walks one token through pool resolution, pricing, volume and persistence.
func (d *Indexer) processToken(ctx context.Context, rc *runContext, token common.Address) tokenResult {
	tokenHex := strings.ToLower(token.Hex())
	logger := d.logger.With("run", rc.id, "token", tokenHex)
	fail := func(state string, err error) tokenResult {
		d.telemetry.failedCounter.WithLabelValues(state).Inc()
		logger.Warn("Token failed", "state", state, "err", err)
		return tokenResult{failed: &types.TokenOutcome{Token: tokenHex, State: state, Reason: err.Error()}}
	}

	pool, found, err := d.contracts.PoolFor(ctx, token)
	if err != nil {
		return fail(types.StateDiscovered, err)
	}
	if !found {
		logger.Debug("Token has no pool")
		return tokenResult{skipped: &types.TokenOutcome{Token: tokenHex, State: types.StateNoPool}}
	}

	meta, err := d.contracts.TokenMeta(ctx, token)
	if err != nil {
		return fail(types.StatePoolResolved, fmt.Errorf("decimals: %w", err))
	}
	rawPrice, err := d.contracts.UnitSellPrice(ctx, pool, meta.Decimals)
	if err != nil {
		return fail(types.StatePoolResolved, fmt.Errorf("sell price: %w", err))
	}
	priceNative := contracts.ToFloat(rawPrice, d.cfg.NativeDecimals)

	snapshot := repository.Snapshot{
		Token:               tokenHex,
		Pool:                strings.ToLower(pool.Hex()),
		RunID:               rc.id,
		PriceNative:         priceNative,
		PriceUSD:            priceNative * rc.price.USD,
		ReferencePriceUSD:   rc.price.USD,
		ReferencePriceKnown: rc.price.Known,
		BlockNumber:         rc.head.Height,
		BlockTime:           rc.head.Time,
	}

	if reservesNative, reservesToken, err := d.contracts.Reserves(ctx, pool); err != nil {
		logger.Debug("Reserves unavailable", "pool", snapshot.Pool, "err", err)
	} else {
		rn := contracts.ToFloat(reservesNative, d.cfg.NativeDecimals)
		rt := contracts.ToFloat(reservesToken, meta.Decimals)
		snapshot.ReservesNative, snapshot.ReservesToken = &rn, &rt
	}

	if rc.windowErr != nil {
		snapshot.VolumeDegraded = true
	} else {
		volume, err := d.aggregator.Aggregate(ctx, pool, rc.windowStart, rc.head.Height, rc.price.USD)
		if err != nil {
			logger.Warn("Volume unavailable", "err", err)
			snapshot.VolumeDegraded = true
		} else {
			snapshot.Volume24hUSD = volume.USD
			snapshot.VolumeDegraded = volume.Degraded
			d.telemetry.skippedChunks.Add(float64(volume.SkippedChunks))
			d.telemetry.skippedLogs.Add(float64(volume.SkippedLogs))
		}
	}

	snapshot.CreatedAt = d.now().UTC()
	if snapshot.BlockTime.After(snapshot.CreatedAt) {
		snapshot.CreatedAt = snapshot.BlockTime
	}
	if err := d.repo.SaveSnapshot(snapshot); err != nil {
		return fail(types.StatePersistence, err)
	}

	msg := types.SnapshotMessage{Snapshot: snapshot, Symbol: meta.Symbol}
	if meta.SupplyKnown() {
		supply := contracts.ToFloat(meta.TotalSupply, meta.Decimals)
		marketCap := supply * snapshot.PriceUSD
		msg.TotalSupply, msg.MarketCapUSD = &supply, &marketCap
	}
	logger.Debug("Snapshot persisted", "price_usd", snapshot.PriceUSD, "volume_usd", snapshot.Volume24hUSD, "degraded", snapshot.VolumeDegraded)
	return tokenResult{snapshot: &msg}
}

func (d *Indexer) publish(msg types.SnapshotMessage) {
	if d.publisher == nil {
		return
	}
	if err := d.publisher.PublishSnapshot(msg); err != nil {
		d.publishErrors.Add(1)
		d.logger.Warn("Failed publishing snapshot", "token", msg.Token, "err", err)
	}
}

// Prune deletes snapshots older than the retention window.
func (d *Indexer) Prune(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return d.prune()
}

func (d *Indexer) prune() (int64, error) {
	cutoff := d.now().UTC().Add(-d.cfg.Retention)
	deleted, err := d.repo.PruneSnapshots(cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	d.telemetry.prunedCounter.Add(float64(deleted))
	return deleted, nil
}
