package indexer

import (
	"context"
	"time"

	"github.com/Synternet/bondingcurve-indexer/pkg/types"
)

type Indexer interface {
	// RunOnce snapshots every registered token, prunes expired rows and returns the run summary.
	// Only one run executes at a time; a concurrent call fails fast.
	RunOnce(ctx context.Context) (types.RunResult, error)

	// TokenMetrics computes live price, 24h change, market cap and 24h volume for the given tokens.
	// Every token is evaluated independently; failures are reported per entry.
	TokenMetrics(ctx context.Context, tokens []string) []types.TokenMetrics

	// ListTokens enumerates up to limit registered tokens with their metadata.
	ListTokens(ctx context.Context, limit int) ([]types.TokenInfo, error)

	// TokenDetail reads one token's metadata and its latest stored snapshot.
	TokenDetail(ctx context.Context, token string) (types.TokenDetail, error)

	// Prune deletes snapshots older than the retention window.
	Prune(ctx context.Context) (int64, error)

	// LastRun returns the summary of the latest finished run, if any.
	LastRun() (types.RunResult, bool)

	// GetStatus used for telemetry and will return a map of status variables
	GetStatus() map[string]any
	Retention() time.Duration
}
