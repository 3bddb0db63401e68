package indexer

import (
	"context"
	"errors"
	"math"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Synternet/bondingcurve-indexer/internal/chain"
	"github.com/Synternet/bondingcurve-indexer/internal/contracts"
	"github.com/Synternet/bondingcurve-indexer/internal/lock"
	"github.com/Synternet/bondingcurve-indexer/internal/refprice"
	"github.com/Synternet/bondingcurve-indexer/pkg/repository"
	"github.com/Synternet/bondingcurve-indexer/pkg/types"
)

type recordingPublisher struct {
	mu        sync.Mutex
	snapshots []types.SnapshotMessage
	runs      []types.RunResponse
	err       error
}

func (p *recordingPublisher) PublishSnapshot(msg types.SnapshotMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.snapshots = append(p.snapshots, msg)
	return p.err
}

func (p *recordingPublisher) PublishRun(resp types.RunResponse) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.runs = append(p.runs, resp)
	return p.err
}

type fixture struct {
	chain     *fakeChain
	contracts *fakeContracts
	repo      *memRepo
	publisher *recordingPublisher
	now       time.Time
}

// newFixture registers tokenA (pool quoting 0.00005 native), tokenB (no pool) and tokenC
// (pool whose token views revert).
func newFixture(t *testing.T) *fixture {
	t.Helper()
	now := TimestampBase
	c := newFakeChain(10_000, now.Add(-5*time.Second))
	k := newFakeContracts(t)
	k.tokens = []common.Address{tokenA, tokenB, tokenC}
	k.pools[tokenA] = poolA
	k.pools[tokenC] = poolC
	k.decimals[tokenA] = 18
	k.names[tokenA] = "ALPHA"
	k.supply[tokenA] = ether("1000000")
	k.prices[poolA] = ether("0.00005")
	k.reserves[poolA] = [2]*big.Int{ether("12.5"), ether("250000")}
	k.prices[poolC] = ether("1")
	c.logs = []ethtypes.Log{
		boughtLog(poolA, 9_000, ether("10"), ether("1")),
		soldLog(poolA, 9_500, ether("1"), ether("30")),
	}
	return &fixture{
		chain:     c,
		contracts: k,
		repo:      newMemRepo(),
		publisher: &recordingPublisher{},
		now:       now,
	}
}

func (f *fixture) indexer(prices refprice.Source, opts ...Option) *Indexer {
	opts = append([]Option{
		WithClock(func() time.Time { return f.now }),
		WithRetrier(fastRetrier()),
		WithPublisher(f.publisher),
	}, opts...)
	return New(f.chain, f.contracts, f.repo, prices, DefaultConfig(), opts...)
}

func TestRunOnce_EndToEnd(t *testing.T) {
	f := newFixture(t)
	f.contracts.tokens = []common.Address{tokenA, tokenB}
	reg := prometheus.NewRegistry()
	d := f.indexer(refprice.Static(0.05), WithRegisterer(reg))

	result, err := d.RunOnce(context.Background())
	require.NoError(t, err)

	require.Equal(t, 1, result.Count())
	resp := types.NewRunResponse(result)
	assert.True(t, resp.Success)
	assert.Equal(t, 1, resp.Count)
	assert.Equal(t, []types.TokenOutcome{{Token: hexLower(tokenB), State: types.StateNoPool}}, result.Skipped)
	assert.Empty(t, result.Failed)
	assert.False(t, result.Degraded)
	assert.Equal(t, uint64(10_000), result.HeadBlock)

	s := result.Snapshots[0]
	assert.Equal(t, hexLower(tokenA), s.Token)
	assert.Equal(t, hexLower(poolA), s.Pool)
	assert.Equal(t, result.RunID, s.RunID)
	assert.InDelta(t, 0.0000025, s.PriceUSD, 1e-15)
	assert.InDelta(t, 0.00005, s.PriceNative, 1e-18)
	assert.Equal(t, 0.05, s.ReferencePriceUSD)
	assert.True(t, s.ReferencePriceKnown)
	require.NotNil(t, s.ReservesNative)
	require.NotNil(t, s.ReservesToken)
	assert.Equal(t, 12.5, *s.ReservesNative)
	assert.Equal(t, 250000.0, *s.ReservesToken)
	assert.InDelta(t, 40*0.05, s.Volume24hUSD, 1e-9)
	assert.False(t, s.VolumeDegraded)
	assert.Equal(t, uint64(10_000), s.BlockNumber)
	assert.False(t, s.BlockTime.After(s.CreatedAt))

	stored, ok := f.repo.LatestSnapshot(hexLower(tokenA))
	require.True(t, ok)
	assert.Equal(t, s, stored)
	_, ok = f.repo.LatestSnapshot(hexLower(tokenB))
	assert.False(t, ok)

	require.Len(t, f.publisher.snapshots, 1)
	msg := f.publisher.snapshots[0]
	assert.Equal(t, "ALPHA", msg.Symbol)
	require.NotNil(t, msg.MarketCapUSD)
	assert.InDelta(t, 2.5, *msg.MarketCapUSD, 1e-9)
	require.Len(t, f.publisher.runs, 1)
	assert.Equal(t, result.RunID, f.publisher.runs[0].RunID)

	assert.Equal(t, 1.0, testutil.ToFloat64(d.telemetry.snapshotsCounter))
	assert.Equal(t, 1.0, testutil.ToFloat64(d.telemetry.runsCounter.WithLabelValues("ok")))

	last, ok := d.LastRun()
	require.True(t, ok)
	assert.Equal(t, result.RunID, last.RunID)
}

func TestRunOnce_PartialFailureIsolation(t *testing.T) {
	f := newFixture(t)
	d := f.indexer(refprice.Static(0.05))

	result, err := d.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, result.Count())
	assert.Equal(t, hexLower(tokenA), result.Snapshots[0].Token)
	require.Len(t, result.Skipped, 1)
	assert.Equal(t, hexLower(tokenB), result.Skipped[0].Token)
	require.Len(t, result.Failed, 1)
	assert.Equal(t, hexLower(tokenC), result.Failed[0].Token)
	assert.Equal(t, types.StatePoolResolved, result.Failed[0].State)
	assert.Contains(t, result.Failed[0].Reason, "decimals")
	assert.True(t, result.Degraded)

	count, err := f.repo.CountSnapshots()
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestRunOnce_PriceIdentity(t *testing.T) {
	f := newFixture(t)
	tokens := []common.Address{}
	for i, price := range []string{"0.00005", "1", "0.123456789", "1234.5", "0.000000001"} {
		token := common.BigToAddress(big.NewInt(int64(0x1000 + i)))
		pool := common.BigToAddress(big.NewInt(int64(0x2000 + i)))
		tokens = append(tokens, token)
		f.contracts.pools[token] = pool
		f.contracts.decimals[token] = 18
		f.contracts.prices[pool] = ether(price)
	}
	f.contracts.tokens = tokens

	for _, ref := range []float64{0.05, 0.0731, 12.34} {
		result, err := f.indexer(refprice.Static(ref)).RunOnce(context.Background())
		require.NoError(t, err)
		require.Equal(t, len(tokens), result.Count())
		for _, s := range result.Snapshots {
			want := s.PriceNative * s.ReferencePriceUSD
			assert.LessOrEqual(t, math.Abs(s.PriceUSD-want), 1e-9*math.Abs(want), "token %s", s.Token)
		}
	}
}

func TestRunOnce_ReferencePriceUnknown(t *testing.T) {
	f := newFixture(t)
	d := f.indexer(refprice.Chain())

	result, err := d.RunOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, result.Count())
	assert.False(t, result.ReferencePriceKnown)

	s := result.Snapshots[0]
	assert.False(t, s.ReferencePriceKnown)
	assert.Zero(t, s.PriceUSD)
	assert.Zero(t, s.Volume24hUSD)
	assert.InDelta(t, 0.00005, s.PriceNative, 1e-18)
}

func TestRunOnce_PersistenceFailure(t *testing.T) {
	f := newFixture(t)
	second := common.HexToAddress("0x000000000000000000000000000000000000d001")
	f.contracts.tokens = []common.Address{tokenA, second}
	f.contracts.pools[second] = poolA
	f.contracts.decimals[second] = 18
	f.repo.failFor[hexLower(tokenA)] = errors.New("disk full")
	f.repo.rows = []repository.Snapshot{{Token: "0xold", RunID: "old", CreatedAt: f.now.Add(-73 * time.Hour)}}

	result, err := f.indexer(refprice.Static(0.05)).RunOnce(context.Background())
	require.NoError(t, err)

	require.Len(t, result.Failed, 1)
	assert.Equal(t, types.StatePersistence, result.Failed[0].State)
	assert.Equal(t, hexLower(tokenA), result.Failed[0].Token)
	require.Equal(t, 1, result.Count())
	assert.Equal(t, hexLower(second), result.Snapshots[0].Token)
	assert.Equal(t, int64(1), result.Pruned, "prune runs after a failed write")
}

func TestRunOnce_Prune(t *testing.T) {
	f := newFixture(t)
	f.contracts.tokens = nil
	for _, age := range []time.Duration{0, 24 * time.Hour, 72 * time.Hour, 72*time.Hour + time.Second, 100 * time.Hour} {
		f.repo.rows = append(f.repo.rows, repository.Snapshot{Token: "0x1", RunID: age.String(), CreatedAt: f.now.Add(-age)})
	}
	d := f.indexer(refprice.Static(1))

	result, err := d.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), result.Pruned)
	assert.Empty(t, result.PruneError)

	result, err = d.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, result.Pruned)

	f.repo.pruneErr = errors.New("locked")
	result, err = d.RunOnce(context.Background())
	require.NoError(t, err, "prune failure is not fatal")
	assert.Contains(t, result.PruneError, "locked")
}

func TestRunOnce_RunLevelErrors(t *testing.T) {
	t.Run("busy", func(t *testing.T) {
		f := newFixture(t)
		guard := lock.NewLocal()
		release, err := guard.Acquire(context.Background(), "other")
		require.NoError(t, err)
		defer release()

		_, err = f.indexer(refprice.Static(1), WithGuard(guard)).RunOnce(context.Background())
		assert.ErrorIs(t, err, ErrRunInProgress)
		assert.Empty(t, f.repo.rows)
	})

	t.Run("no factory", func(t *testing.T) {
		f := newFixture(t)
		f.contracts.tokensErr = contracts.ErrNoFactory
		_, err := f.indexer(refprice.Static(1)).RunOnce(context.Background())
		assert.ErrorIs(t, err, ErrNoFactory)
	})

	t.Run("head unavailable", func(t *testing.T) {
		f := newFixture(t)
		f.chain.headErr = chain.ErrChainUnavailable
		d := f.indexer(refprice.Static(1))
		_, err := d.RunOnce(context.Background())
		assert.ErrorIs(t, err, chain.ErrChainUnavailable)
		assert.Contains(t, d.GetStatus(), "last_run_error")
	})
}

func TestRunOnce_VolumeDegraded(t *testing.T) {
	f := newFixture(t)
	f.contracts.tokens = []common.Address{tokenA}
	// Every locator probe fails: volume is degraded but price is still persisted.
	for h := uint64(0); h <= f.chain.head; h++ {
		f.chain.blockFailures[h] = 100
	}

	result, err := f.indexer(refprice.Static(0.05)).RunOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, result.Count())
	assert.True(t, result.Snapshots[0].VolumeDegraded)
	assert.Zero(t, result.Snapshots[0].Volume24hUSD)
	assert.True(t, result.Degraded)
}

func TestRunOnce_Workers(t *testing.T) {
	f := newFixture(t)
	tokens := []common.Address{}
	for i := 0; i < 12; i++ {
		token := common.BigToAddress(big.NewInt(int64(0x3000 + i)))
		tokens = append(tokens, token)
		if i%3 == 0 {
			continue
		}
		f.contracts.pools[token] = poolA
		f.contracts.decimals[token] = 18
	}
	f.contracts.tokens = tokens
	cfg := DefaultConfig()
	cfg.Workers = 4

	d := New(f.chain, f.contracts, f.repo, refprice.Static(1), cfg, WithClock(func() time.Time { return f.now }), WithRetrier(fastRetrier()))
	result, err := d.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 8, result.Count())
	assert.Len(t, result.Skipped, 4)

	// Output keeps registration order regardless of completion order.
	j := 0
	for i, token := range tokens {
		if i%3 == 0 {
			continue
		}
		assert.Equal(t, hexLower(token), result.Snapshots[j].Token)
		j++
	}
}
