package types

import (
	"encoding/json"
	"time"

	"github.com/Synternet/bondingcurve-indexer/pkg/repository"
)

// Token processing states reported for tokens that did not produce a snapshot.
// A failed token carries the last state it reached.
const (
	StateNoPool       = "no-pool"
	StateDiscovered   = "discovered"
	StatePoolResolved = "pool-resolved"
	StatePersistence  = "persistence"
)

type TokenOutcome struct {
	Token  string `json:"token"`
	State  string `json:"state"`
	Reason string `json:"reason,omitempty"`
}

// RunResult summarises one snapshot run.
type RunResult struct {
	RunID      string    `json:"run_id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	Snapshots []repository.Snapshot `json:"snapshots"`
	Skipped   []TokenOutcome        `json:"skipped"`
	Failed    []TokenOutcome        `json:"failed"`

	Pruned     int64  `json:"pruned"`
	PruneError string `json:"prune_error,omitempty"`

	ReferencePriceUSD   float64 `json:"reference_price_usd"`
	ReferencePriceKnown bool    `json:"reference_price_known"`

	HeadBlock   uint64 `json:"head_block"`
	WindowStart uint64 `json:"window_start"`
	Degraded    bool   `json:"degraded"`
}

func (r RunResult) Count() int {
	return len(r.Snapshots)
}

// SnapshotMessage is the published form of a persisted snapshot. Market cap is derived, never stored.
type SnapshotMessage struct {
	repository.Snapshot
	Symbol       string   `json:"symbol,omitempty"`
	TotalSupply  *float64 `json:"total_supply,omitempty"`
	MarketCapUSD *float64 `json:"market_cap_usd,omitempty"`
}

// RunResponse is the HTTP and NATS summary of a run.
type RunResponse struct {
	Success   bool           `json:"success"`
	Count     int            `json:"count"`
	Timestamp time.Time      `json:"timestamp"`
	RunID     string         `json:"runId"`
	Skipped   []TokenOutcome `json:"skipped"`
	Failed    []TokenOutcome `json:"failed"`
	Pruned    int64          `json:"pruned"`
	Degraded  bool           `json:"degraded"`
}

func NewRunResponse(r RunResult) RunResponse {
	skipped, failed := r.Skipped, r.Failed
	if skipped == nil {
		skipped = []TokenOutcome{}
	}
	if failed == nil {
		failed = []TokenOutcome{}
	}
	return RunResponse{
		Success:   true,
		Count:     r.Count(),
		Timestamp: r.FinishedAt,
		RunID:     r.RunID,
		Skipped:   skipped,
		Failed:    failed,
		Pruned:    r.Pruned,
		Degraded:  r.Degraded,
	}
}

// Metrics entry errors.
const (
	MetricsErrNoPool = "no pool"
	MetricsErrFailed = "failed"
)

// TokenMetrics is the on-demand valuation of one token. When Error is set only token, error and details are encoded.
type TokenMetrics struct {
	Token          string
	Pool           string
	CurrentPrice   float64
	PriceChange24h *float64
	MarketCap      float64
	Volume24hUSD   float64
	VolumeDegraded bool
	SnapshotAt     time.Time

	Error   string
	Details string
}

func (m TokenMetrics) MarshalJSON() ([]byte, error) {
	if m.Error != "" {
		return json.Marshal(struct {
			Token   string `json:"token"`
			Error   string `json:"error"`
			Details string `json:"details,omitempty"`
		}{m.Token, m.Error, m.Details})
	}
	return json.Marshal(struct {
		Token          string    `json:"token"`
		Pool           string    `json:"pool"`
		CurrentPrice   float64   `json:"currentPrice"`
		PriceChange24h *float64  `json:"priceChange24h"`
		MarketCap      float64   `json:"marketCap"`
		Volume24hUSD   float64   `json:"volume24hUsd"`
		VolumeDegraded bool      `json:"volumeDegraded"`
		SnapshotAt     time.Time `json:"snapshotAt"`
	}{m.Token, m.Pool, m.CurrentPrice, m.PriceChange24h, m.MarketCap, m.Volume24hUSD, m.VolumeDegraded, m.SnapshotAt})
}

type TokenInfo struct {
	Address     string `json:"address"`
	Name        string `json:"name"`
	Symbol      string `json:"symbol"`
	Decimals    uint8  `json:"decimals"`
	Pool        string `json:"pool,omitempty"`
	TotalSupply string `json:"totalSupply,omitempty"`
}

// TokenDetail is a token's on-chain metadata with the most recent snapshot stored for it.
type TokenDetail struct {
	TokenInfo
	LatestSnapshot *repository.Snapshot `json:"latest_snapshot,omitempty"`
}
