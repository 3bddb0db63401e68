package indexer

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/Synternet/bondingcurve-indexer/internal/chain"
	"github.com/Synternet/bondingcurve-indexer/internal/contracts"
	"github.com/Synternet/bondingcurve-indexer/internal/retry"
	"github.com/Synternet/bondingcurve-indexer/pkg/repository"
)

var (
	TimestampBase = time.Unix(1706716320, 0).UTC()

	factory = common.HexToAddress("0x00000000000000000000000000000000000f0001")
	tokenA  = common.HexToAddress("0x000000000000000000000000000000000000a001")
	tokenB  = common.HexToAddress("0x000000000000000000000000000000000000b001")
	tokenC  = common.HexToAddress("0x000000000000000000000000000000000000c001")
	poolA   = common.HexToAddress("0x000000000000000000000000000000000000a002")
	poolC   = common.HexToAddress("0x000000000000000000000000000000000000c002")
	trader  = common.HexToAddress("0x0000000000000000000000000000000000007777")

	boughtTopic = crypto.Keccak256Hash([]byte("Bought(address,uint256,uint256)"))
	soldTopic   = crypto.Keccak256Hash([]byte("Sold(address,uint256,uint256)"))
)

func hexLower(a common.Address) string {
	return fmt.Sprintf("0x%x", a.Bytes())
}

// ether converts a decimal string into 18-decimals base units.
func ether(v string) *big.Int {
	return decimal.RequireFromString(v).Shift(18).BigInt()
}

func fastRetrier() *retry.Retrier {
	return NewChainRetrier(retry.WithInitialInterval(time.Millisecond), retry.WithMaxInterval(2*time.Millisecond))
}

func word(v *big.Int) []byte {
	return common.LeftPadBytes(v.Bytes(), 32)
}

func boughtLog(pool common.Address, block uint64, nativeIn, tokensOut *big.Int) ethtypes.Log {
	return ethtypes.Log{
		Address:     pool,
		Topics:      []common.Hash{boughtTopic, common.BytesToHash(trader.Bytes())},
		Data:        append(word(nativeIn), word(tokensOut)...),
		BlockNumber: block,
	}
}

func soldLog(pool common.Address, block uint64, tokensIn, nativeOut *big.Int) ethtypes.Log {
	return ethtypes.Log{
		Address:     pool,
		Topics:      []common.Hash{soldTopic, common.BytesToHash(trader.Bytes())},
		Data:        append(word(tokensIn), word(nativeOut)...),
		BlockNumber: block,
	}
}

// fakeChain is a scripted chain whose block h is produced every blockTime seconds, ending at headTime.
type fakeChain struct {
	mu        sync.Mutex
	head      uint64
	headTime  time.Time
	blockTime time.Duration

	logs []ethtypes.Log
	// blockFailures fails BlockAt for a height the given number of times.
	blockFailures map[uint64]int
	// logFailures fails LogsInRange for a chunk start the given number of times.
	logFailures map[uint64]int
	headErr     error

	blockCalls int
	logCalls   map[BlockRange]int
}

func newFakeChain(head uint64, headTime time.Time) *fakeChain {
	return &fakeChain{
		head:          head,
		headTime:      headTime,
		blockTime:     2 * time.Second,
		blockFailures: map[uint64]int{},
		logFailures:   map[uint64]int{},
		logCalls:      map[BlockRange]int{},
	}
}

func (f *fakeChain) timeOf(height uint64) time.Time {
	return f.headTime.Add(-time.Duration(f.head-height) * f.blockTime)
}

func (f *fakeChain) HeadBlock(context.Context) (chain.Block, error) {
	if f.headErr != nil {
		return chain.Block{}, f.headErr
	}
	return chain.Block{Height: f.head, Time: f.headTime}, nil
}

func (f *fakeChain) BlockAt(_ context.Context, height uint64) (chain.Block, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.blockCalls++
	if n := f.blockFailures[height]; n > 0 {
		f.blockFailures[height] = n - 1
		return chain.Block{}, fmt.Errorf("%w: block %d", chain.ErrChainUnavailable, height)
	}
	if height > f.head {
		return chain.Block{}, fmt.Errorf("%w: block %d not found", chain.ErrChainUnavailable, height)
	}
	return chain.Block{Height: height, Time: f.timeOf(height)}, nil
}

func (f *fakeChain) LogsInRange(_ context.Context, address common.Address, topics [][]common.Hash, from, to uint64) ([]ethtypes.Log, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logCalls[BlockRange{From: from, To: to}]++
	if n := f.logFailures[from]; n > 0 {
		f.logFailures[from] = n - 1
		return nil, fmt.Errorf("%w: range %d-%d too large", chain.ErrChainUnavailable, from, to)
	}
	ret := []ethtypes.Log{}
	for _, l := range f.logs {
		if l.Address != address || l.BlockNumber < from || l.BlockNumber > to {
			continue
		}
		if len(topics) > 0 && len(topics[0]) > 0 && (len(l.Topics) == 0 || l.Topics[0] != topics[0][0]) {
			continue
		}
		ret = append(ret, l)
	}
	return ret, nil
}

// fakeContracts serves factory, pool and token views from maps. Event decoding uses the real ABI.
type fakeContracts struct {
	views *contracts.Views

	tokens    []common.Address
	tokensErr error
	pools     map[common.Address]common.Address
	poolErr   map[common.Address]error
	decimals  map[common.Address]uint8
	names     map[common.Address]string
	supply    map[common.Address]*big.Int
	prices    map[common.Address]*big.Int
	reserves  map[common.Address][2]*big.Int
	metaErr   error
}

func newFakeContracts(t *testing.T) *fakeContracts {
	t.Helper()
	views, err := contracts.New(nil, factory)
	require.NoError(t, err)
	return &fakeContracts{
		views:    views,
		pools:    map[common.Address]common.Address{},
		poolErr:  map[common.Address]error{},
		decimals: map[common.Address]uint8{},
		names:    map[common.Address]string{},
		supply:   map[common.Address]*big.Int{},
		prices:   map[common.Address]*big.Int{},
		reserves: map[common.Address][2]*big.Int{},
	}
}

func (f *fakeContracts) TradeTopics() (common.Hash, common.Hash) {
	return f.views.TradeTopics()
}

func (f *fakeContracts) DecodeTrade(l ethtypes.Log) (contracts.TradeEvent, error) {
	return f.views.DecodeTrade(l)
}

func (f *fakeContracts) Tokens(context.Context) ([]common.Address, error) {
	if f.tokensErr != nil {
		return nil, f.tokensErr
	}
	return f.tokens, nil
}

func (f *fakeContracts) TokenCount(context.Context) (uint64, error) {
	if f.tokensErr != nil {
		return 0, f.tokensErr
	}
	return uint64(len(f.tokens)), nil
}

func (f *fakeContracts) TokenAt(_ context.Context, index uint64) (common.Address, error) {
	if index >= uint64(len(f.tokens)) {
		return common.Address{}, fmt.Errorf("%w: allTokens(%d)", contracts.ErrContractCall, index)
	}
	return f.tokens[index], nil
}

func (f *fakeContracts) PoolFor(_ context.Context, token common.Address) (common.Address, bool, error) {
	if err := f.poolErr[token]; err != nil {
		return common.Address{}, false, err
	}
	pool, ok := f.pools[token]
	return pool, ok, nil
}

func (f *fakeContracts) Decimals(_ context.Context, token common.Address) (uint8, error) {
	d, ok := f.decimals[token]
	if !ok {
		return 0, fmt.Errorf("%w: decimals on %s", contracts.ErrContractCall, token.Hex())
	}
	return d, nil
}

func (f *fakeContracts) TokenMeta(ctx context.Context, token common.Address) (contracts.TokenMeta, error) {
	if f.metaErr != nil {
		return contracts.TokenMeta{}, f.metaErr
	}
	d, err := f.Decimals(ctx, token)
	if err != nil {
		return contracts.TokenMeta{}, err
	}
	return contracts.TokenMeta{Name: f.names[token], Symbol: f.names[token], Decimals: d, TotalSupply: f.supply[token]}, nil
}

func (f *fakeContracts) UnitSellPrice(_ context.Context, pool common.Address, _ uint8) (*big.Int, error) {
	p, ok := f.prices[pool]
	if !ok {
		return nil, fmt.Errorf("%w: getPriceForSell on %s", contracts.ErrContractCall, pool.Hex())
	}
	return p, nil
}

func (f *fakeContracts) Reserves(_ context.Context, pool common.Address) (*big.Int, *big.Int, error) {
	r, ok := f.reserves[pool]
	if !ok {
		return nil, nil, fmt.Errorf("%w: reserves on %s", contracts.ErrContractCall, pool.Hex())
	}
	return r[0], r[1], nil
}

// memRepo is an in-memory snapshot store.
type memRepo struct {
	mu       sync.Mutex
	rows     []repository.Snapshot
	failFor  map[string]error
	pruneErr error
}

var _ repository.Repository = (*memRepo)(nil)

func newMemRepo() *memRepo {
	return &memRepo{failFor: map[string]error{}}
}

func (r *memRepo) SaveSnapshot(s repository.Snapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.failFor[s.Token]; err != nil {
		return err
	}
	for _, row := range r.rows {
		if row.Token == s.Token && row.RunID == s.RunID {
			return nil
		}
	}
	r.rows = append(r.rows, s)
	return nil
}

func (r *memRepo) sorted(token string, keep func(repository.Snapshot) bool) []repository.Snapshot {
	ret := []repository.Snapshot{}
	for _, row := range r.rows {
		if (token == "" || row.Token == token) && keep(row) {
			ret = append(ret, row)
		}
	}
	sort.SliceStable(ret, func(i, j int) bool { return ret[i].CreatedAt.Before(ret[j].CreatedAt) })
	return ret
}

func (r *memRepo) LatestSnapshot(token string) (repository.Snapshot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rows := r.sorted(token, func(repository.Snapshot) bool { return true })
	if len(rows) == 0 {
		return repository.Snapshot{}, false
	}
	return rows[len(rows)-1], true
}

func (r *memRepo) SnapshotAtOrBefore(token string, cutoff time.Time) (repository.Snapshot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rows := r.sorted(token, func(s repository.Snapshot) bool { return !s.CreatedAt.After(cutoff) })
	if len(rows) == 0 {
		return repository.Snapshot{}, false
	}
	return rows[len(rows)-1], true
}

func (r *memRepo) SnapshotsRange(min, max time.Time, token string) ([]repository.Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sorted(token, func(s repository.Snapshot) bool {
		return !s.CreatedAt.Before(min) && !s.CreatedAt.After(max)
	}), nil
}

func (r *memRepo) CountSnapshots() (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return int64(len(r.rows)), nil
}

func (r *memRepo) PruneSnapshots(olderThan time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pruneErr != nil {
		return 0, r.pruneErr
	}
	kept := r.rows[:0]
	var deleted int64
	for _, row := range r.rows {
		if row.CreatedAt.Before(olderThan) {
			deleted++
			continue
		}
		kept = append(kept, row)
	}
	r.rows = kept
	return deleted, nil
}

func (r *memRepo) Close() error {
	return nil
}
