package publisher

import (
	"context"
	"sync"
	"time"

	"github.com/Synternet/bondingcurve-indexer/pkg/indexer"
	"github.com/Synternet/bondingcurve-indexer/pkg/repository"
	"github.com/Synternet/bondingcurve-indexer/pkg/types"
)

var TimestampBase = time.Unix(1706716320, 0).UTC()

var _ indexer.Indexer = (*fakeIndexer)(nil)

type fakeIndexer struct {
	mu sync.Mutex

	runErr    error
	result    types.RunResult
	runs      int
	runCtxErr error
	block     chan struct{}

	tokens    []types.TokenInfo
	tokensErr error
	detail    types.TokenDetail
	detailErr error
	gotToken  string
	gotLimit  int
	gotTokens []string
}

func (f *fakeIndexer) RunOnce(ctx context.Context) (types.RunResult, error) {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs++
	f.runCtxErr = ctx.Err()
	return f.result, f.runErr
}

func (f *fakeIndexer) runCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.runs
}

func (f *fakeIndexer) TokenMetrics(_ context.Context, tokens []string) []types.TokenMetrics {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gotTokens = tokens
	ret := make([]types.TokenMetrics, len(tokens))
	for i, token := range tokens {
		ret[i] = types.TokenMetrics{Token: token, Error: types.MetricsErrNoPool}
	}
	return ret
}

func (f *fakeIndexer) ListTokens(_ context.Context, limit int) ([]types.TokenInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gotLimit = limit
	return f.tokens, f.tokensErr
}

func (f *fakeIndexer) TokenDetail(_ context.Context, token string) (types.TokenDetail, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gotToken = token
	return f.detail, f.detailErr
}

func (f *fakeIndexer) Prune(context.Context) (int64, error) {
	return 0, nil
}

func (f *fakeIndexer) LastRun() (types.RunResult, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.result, f.runs > 0
}

func (f *fakeIndexer) GetStatus() map[string]any {
	return map[string]any{"runs": f.runCount()}
}

func (f *fakeIndexer) Retention() time.Duration {
	return 72 * time.Hour
}

func sampleResult() types.RunResult {
	return types.RunResult{
		RunID:      "run-1",
		StartedAt:  TimestampBase,
		FinishedAt: TimestampBase.Add(time.Second),
		Snapshots: []repository.Snapshot{
			{Token: "0xa", RunID: "run-1", PriceUSD: 0.0000025, CreatedAt: TimestampBase},
		},
		Skipped: []types.TokenOutcome{{Token: "0xb", State: types.StateNoPool}},
		Pruned:  3,
	}
}
