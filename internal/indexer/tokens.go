package indexer

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/Synternet/bondingcurve-indexer/internal/chain"
	"github.com/Synternet/bondingcurve-indexer/internal/contracts"
	"github.com/Synternet/bondingcurve-indexer/pkg/types"
)

var (
	ErrInvalidToken  = errors.New("invalid token address")
	ErrTokenNotFound = errors.New("token not found")
)

// ListTokens enumerates up to limit registered tokens. Tokens whose metadata cannot be read are skipped.
func (d *Indexer) ListTokens(ctx context.Context, limit int) ([]types.TokenInfo, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	count, err := d.contracts.TokenCount(ctx)
	if err != nil {
		return nil, fmt.Errorf("token count: %w", err)
	}
	n := min(count, uint64(limit))

	ret := make([]types.TokenInfo, 0, n)
	for i := uint64(0); i < n; i++ {
		address, err := d.contracts.TokenAt(ctx, i)
		if err != nil {
			d.logger.Debug("Skipping token", "index", i, "err", err)
			continue
		}
		info, err := d.tokenInfo(ctx, address)
		if err != nil {
			d.logger.Debug("Skipping token", "index", i, "token", address.Hex(), "err", err)
			continue
		}
		ret = append(ret, info)
	}
	return ret, nil
}

// TokenDetail reads one token's metadata from chain together with its latest stored snapshot.
// Any address exposing decimals() resolves, registered with the factory or not.
func (d *Indexer) TokenDetail(ctx context.Context, token string) (types.TokenDetail, error) {
	token = strings.TrimSpace(token)
	if !common.IsHexAddress(token) {
		return types.TokenDetail{}, fmt.Errorf("%w: %q", ErrInvalidToken, token)
	}
	info, err := d.tokenInfo(ctx, common.HexToAddress(token))
	switch {
	case errors.Is(err, chain.ErrChainUnavailable):
		return types.TokenDetail{}, err
	case err != nil:
		return types.TokenDetail{}, fmt.Errorf("%w: %v", ErrTokenNotFound, err)
	}

	ret := types.TokenDetail{TokenInfo: info}
	if latest, found := d.repo.LatestSnapshot(info.Address); found {
		ret.LatestSnapshot = &latest
	}
	return ret, nil
}

func (d *Indexer) tokenInfo(ctx context.Context, address common.Address) (types.TokenInfo, error) {
	meta, err := d.contracts.TokenMeta(ctx, address)
	if err != nil {
		return types.TokenInfo{}, err
	}
	info := types.TokenInfo{
		Address:  strings.ToLower(address.Hex()),
		Name:     meta.Name,
		Symbol:   meta.Symbol,
		Decimals: meta.Decimals,
	}
	if meta.SupplyKnown() {
		info.TotalSupply = contracts.ToDecimal(meta.TotalSupply, meta.Decimals).String()
	}
	if pool, found, err := d.contracts.PoolFor(ctx, address); err == nil && found {
		info.Pool = strings.ToLower(pool.Hex())
	}
	return info, nil
}
