package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Synternet/bondingcurve-indexer/internal/chain"
	"github.com/Synternet/bondingcurve-indexer/internal/retry"
)

type BlockReader interface {
	BlockAt(ctx context.Context, height uint64) (chain.Block, error)
}

// Locator maps a chain timestamp to a block height.
type Locator struct {
	logger  *slog.Logger
	blocks  BlockReader
	retrier *retry.Retrier
}

// NewChainRetrier retries only transport failures.
func NewChainRetrier(opts ...retry.Option) *retry.Retrier {
	opts = append([]retry.Option{
		retry.WithRetryable(func(err error) bool { return errors.Is(err, chain.ErrChainUnavailable) }),
	}, opts...)
	return retry.New(opts...)
}

func NewLocator(blocks BlockReader, retrier *retry.Retrier, logger *slog.Logger) *Locator {
	if retrier == nil {
		retrier = NewChainRetrier()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Locator{
		logger:  logger,
		blocks:  blocks,
		retrier: retrier,
	}
}

// Locate returns the smallest height in [0, head] whose block time is at or after target.
// Block times are assumed non-decreasing. When no block qualifies, 0 is returned.
func (l *Locator) Locate(ctx context.Context, target time.Time, head uint64) (uint64, error) {
	lo, hi := uint64(0), head
	ans, found, steps := uint64(0), false, 0
	for lo <= hi {
		mid := lo + (hi-lo)/2
		block, err := retry.DoWithData(l.retrier, ctx, func(ctx context.Context) (chain.Block, error) {
			return l.blocks.BlockAt(ctx, mid)
		})
		steps++
		if err != nil {
			return 0, fmt.Errorf("locate %s: block %d: %w", target.Format(time.RFC3339), mid, err)
		}
		if block.Time.Before(target) {
			lo = mid + 1
			continue
		}
		ans, found = mid, true
		if mid == 0 {
			break
		}
		hi = mid - 1
	}
	if !found {
		l.logger.Debug("No block at or after target, falling back to genesis", "target", target, "head", head)
	}
	l.logger.Debug("Located block", "target", target, "height", ans, "steps", steps)
	return ans, nil
}
