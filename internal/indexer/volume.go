package indexer

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/Synternet/bondingcurve-indexer/internal/contracts"
)

const DefaultChunkSize = 2500

// BlockRange is an inclusive height range.
type BlockRange struct {
	From uint64
	To   uint64
}

// PlanChunks splits [start, end] into contiguous, non-overlapping inclusive ranges of at most size blocks.
func PlanChunks(start, end, size uint64) []BlockRange {
	if size == 0 {
		size = DefaultChunkSize
	}
	if start > end {
		return nil
	}
	ranges := make([]BlockRange, 0, (end-start)/size+1)
	for from := start; ; {
		to := from + size - 1
		if to > end || to < from {
			to = end
		}
		ranges = append(ranges, BlockRange{From: from, To: to})
		if to == end {
			return ranges
		}
		from = to + 1
	}
}

type LogReader interface {
	LogsInRange(ctx context.Context, address common.Address, topics [][]common.Hash, from, to uint64) ([]ethtypes.Log, error)
}

type TradeDecoder interface {
	TradeTopics() (buy common.Hash, sell common.Hash)
	DecodeTrade(log ethtypes.Log) (contracts.TradeEvent, error)
}

// Volume is the native-asset trade volume of a pool over a block window.
type Volume struct {
	Native        decimal.Decimal
	USD           float64
	Trades        int
	Chunks        int
	SkippedChunks int
	SkippedLogs   int
	Degraded      bool
}

// Aggregator sums Bought and Sold native amounts of a pool.
type Aggregator struct {
	logger         *slog.Logger
	logs           LogReader
	decoder        TradeDecoder
	chunkSize      uint64
	nativeDecimals uint8
}

func NewAggregator(logs LogReader, decoder TradeDecoder, chunkSize uint64, nativeDecimals uint8, logger *slog.Logger) *Aggregator {
	if chunkSize == 0 {
		chunkSize = DefaultChunkSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregator{
		logger:         logger,
		logs:           logs,
		decoder:        decoder,
		chunkSize:      chunkSize,
		nativeDecimals: nativeDecimals,
	}
}

// Aggregate scans [start, end] chunk by chunk in height order. A chunk that fails twice is skipped
// and the result is marked degraded. Only context cancellation fails the whole aggregation.
func (a *Aggregator) Aggregate(ctx context.Context, pool common.Address, start, end uint64, refUSD float64) (Volume, error) {
	chunks := PlanChunks(start, end, a.chunkSize)
	volume := Volume{Native: decimal.Zero, Chunks: len(chunks)}

	for _, chunk := range chunks {
		logs, err := a.fetchChunk(ctx, pool, chunk)
		if err != nil {
			if ctx.Err() != nil {
				return Volume{}, fmt.Errorf("aggregate %s: %w", pool.Hex(), ctx.Err())
			}
			a.logger.Debug("Chunk fetch failed, retrying once", "pool", pool.Hex(), "from", chunk.From, "to", chunk.To, "err", err)
			logs, err = a.fetchChunk(ctx, pool, chunk)
		}
		if err != nil {
			if ctx.Err() != nil {
				return Volume{}, fmt.Errorf("aggregate %s: %w", pool.Hex(), ctx.Err())
			}
			a.logger.Warn("Skipping chunk", "pool", pool.Hex(), "from", chunk.From, "to", chunk.To, "err", err)
			volume.SkippedChunks++
			continue
		}

		for _, l := range logs {
			trade, err := a.decoder.DecodeTrade(l)
			if err != nil {
				a.logger.Debug("Skipping undecodable log", "pool", pool.Hex(), "block", l.BlockNumber, "tx", l.TxHash.Hex(), "err", err)
				volume.SkippedLogs++
				continue
			}
			volume.Native = volume.Native.Add(contracts.ToDecimal(trade.NativeAmount, a.nativeDecimals))
			volume.Trades++
		}
	}

	volume.USD = volume.Native.Mul(decimal.NewFromFloat(refUSD)).InexactFloat64()
	volume.Degraded = volume.SkippedChunks > 0
	return volume, nil
}

// fetchChunk queries Bought and Sold logs of one chunk concurrently.
func (a *Aggregator) fetchChunk(ctx context.Context, pool common.Address, chunk BlockRange) ([]ethtypes.Log, error) {
	buyTopic, sellTopic := a.decoder.TradeTopics()
	var bought, sold []ethtypes.Log

	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		var err error
		bought, err = a.logs.LogsInRange(gctx, pool, [][]common.Hash{{buyTopic}}, chunk.From, chunk.To)
		return err
	})
	group.Go(func() error {
		var err error
		sold, err = a.logs.LogsInRange(gctx, pool, [][]common.Hash{{sellTopic}}, chunk.From, chunk.To)
		return err
	})
	if err := group.Wait(); err != nil {
		return nil, err
	}
	return append(bought, sold...), nil
}
