package indexer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/Synternet/bondingcurve-indexer/internal/chain"
	"github.com/Synternet/bondingcurve-indexer/internal/contracts"
	"github.com/Synternet/bondingcurve-indexer/internal/refprice"
	"github.com/Synternet/bondingcurve-indexer/internal/retry"
	"github.com/Synternet/bondingcurve-indexer/pkg/types"
)

const changeWindow = 24 * time.Hour

// NormalizeTokens lower-cases and trims addresses, dropping empties and duplicates while preserving order.
func NormalizeTokens(tokens []string) []string {
	seen := make(map[string]struct{}, len(tokens))
	ret := make([]string, 0, len(tokens))
	for _, t := range tokens {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		ret = append(ret, t)
	}
	return ret
}

// metricsWindow holds what every token of one metrics request shares.
type metricsWindow struct {
	price refprice.Price
	now   time.Time
	head  chain.Block
	start uint64
	err   error
}

// TokenMetrics computes live valuations. Each token is evaluated independently.
func (d *Indexer) TokenMetrics(ctx context.Context, tokens []string) []types.TokenMetrics {
	tokens = NormalizeTokens(tokens)
	if len(tokens) == 0 {
		return []types.TokenMetrics{}
	}

	w := metricsWindow{
		price: d.prices.NativeAssetUSD(ctx),
		now:   d.now().UTC(),
	}
	w.head, w.err = retry.DoWithData(d.locator.retrier, ctx, d.chain.HeadBlock)
	if w.err == nil {
		w.start, w.err = d.locator.Locate(ctx, w.head.Time.Add(-d.cfg.VolumeWindow), w.head.Height)
	}
	if w.err != nil {
		d.logger.Warn("Volume window unavailable for metrics", "err", w.err)
	}

	ret := make([]types.TokenMetrics, 0, len(tokens))
	for _, token := range tokens {
		ret = append(ret, d.tokenMetrics(ctx, &w, token))
	}
	return ret
}

func (d *Indexer) tokenMetrics(ctx context.Context, w *metricsWindow, token string) types.TokenMetrics {
	failed := func(err error) types.TokenMetrics {
		d.logger.Debug("Token metrics failed", "token", token, "err", err)
		return types.TokenMetrics{Token: token, Error: types.MetricsErrFailed, Details: err.Error()}
	}
	if !common.IsHexAddress(token) {
		return failed(fmt.Errorf("invalid address %q", token))
	}
	address := common.HexToAddress(token)

	pool, found, err := d.contracts.PoolFor(ctx, address)
	if errors.Is(err, contracts.ErrNoFactory) || (err == nil && !found) {
		return types.TokenMetrics{Token: token, Error: types.MetricsErrNoPool}
	}
	if err != nil {
		return failed(err)
	}

	meta, err := d.contracts.TokenMeta(ctx, address)
	if err != nil {
		return failed(err)
	}
	rawPrice, err := d.contracts.UnitSellPrice(ctx, pool, meta.Decimals)
	if err != nil {
		return failed(err)
	}

	current := contracts.ToFloat(rawPrice, d.cfg.NativeDecimals) * w.price.USD
	ret := types.TokenMetrics{
		Token:          token,
		Pool:           strings.ToLower(pool.Hex()),
		CurrentPrice:   current,
		PriceChange24h: d.priceChange(token, current, w),
		SnapshotAt:     w.now,
	}
	if meta.SupplyKnown() {
		ret.MarketCap = contracts.ToFloat(meta.TotalSupply, meta.Decimals) * current
	}

	if w.err != nil {
		ret.VolumeDegraded = true
		return ret
	}
	volume, err := d.aggregator.Aggregate(ctx, pool, w.start, w.head.Height, w.price.USD)
	if err != nil {
		d.logger.Warn("Volume unavailable", "token", token, "err", err)
		ret.VolumeDegraded = true
		return ret
	}
	ret.Volume24hUSD = volume.USD
	ret.VolumeDegraded = volume.Degraded
	return ret
}

// priceChange compares the live price with the latest snapshot at or before now-24h.
// It is nil when the live price is unknown or no usable comparison snapshot exists.
func (d *Indexer) priceChange(token string, current float64, w *metricsWindow) *float64 {
	if !w.price.Known {
		return nil
	}
	cutoff := w.now.Add(-changeWindow)
	old, ok := d.repo.SnapshotAtOrBefore(token, cutoff)
	if !ok || old.PriceUSD <= 0 {
		return nil
	}
	if d.cfg.MaxChangeStaleness > 0 && old.CreatedAt.Before(cutoff.Add(-d.cfg.MaxChangeStaleness)) {
		d.logger.Debug("Comparison snapshot too old", "token", token, "created_at", old.CreatedAt, "cutoff", cutoff)
		return nil
	}
	change := (current - old.PriceUSD) / old.PriceUSD * 100
	return &change
}
