package chain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
)

const DefaultCallTimeout = 10 * time.Second

var (
	// ErrChainUnavailable marks RPC, network and timeout failures. Callers decide whether to retry.
	ErrChainUnavailable = errors.New("chain unavailable")
	// ErrExecutionReverted marks eth_call failures reported by the EVM rather than the transport.
	ErrExecutionReverted = errors.New("execution reverted")
)

// Block carries the subset of block header fields the indexer needs.
type Block struct {
	Height uint64
	Time   time.Time
}

type rpcBlock struct {
	Number    *hexutil.Uint64 `json:"number"`
	Timestamp hexutil.Uint64  `json:"timestamp"`
}

// Client is a thin JSON-RPC wrapper. It has no business logic and never retries.
type Client struct {
	logger  *slog.Logger
	raw     *rpc.Client
	eth     *ethclient.Client
	timeout time.Duration

	callCounter atomic.Uint64
	errCounter  atomic.Uint64
}

// Dial connects to an EVM JSON-RPC endpoint (http(s), ws(s) or ipc).
func Dial(ctx context.Context, url string, timeout time.Duration, logger *slog.Logger) (*Client, error) {
	dialCtx, cancel := context.WithTimeout(ctx, withDefault(timeout))
	defer cancel()
	raw, err := rpc.DialContext(dialCtx, url)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", ErrChainUnavailable, url, err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("Using chain RPC", "url", url, "timeout", withDefault(timeout))
	return NewWithRPC(raw, timeout, logger), nil
}

// NewWithRPC wraps an already connected rpc client.
func NewWithRPC(raw *rpc.Client, timeout time.Duration, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		logger:  logger.With("module", "chain"),
		raw:     raw,
		eth:     ethclient.NewClient(raw),
		timeout: withDefault(timeout),
	}
}

func withDefault(timeout time.Duration) time.Duration {
	if timeout <= 0 {
		return DefaultCallTimeout
	}
	return timeout
}

func (c *Client) Close() error {
	c.logger.Info("Chain.Close")
	c.raw.Close()
	return nil
}

func (c *Client) unavailable(op string, err error) error {
	c.errCounter.Add(1)
	return fmt.Errorf("%w: %s: %v", ErrChainUnavailable, op, err)
}

// CurrentHeight returns the latest block number known to the node.
func (c *Client) CurrentHeight(ctx context.Context) (uint64, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	c.callCounter.Add(1)

	height, err := c.eth.BlockNumber(ctx)
	if err != nil {
		return 0, c.unavailable("eth_blockNumber", err)
	}
	return height, nil
}

// BlockAt returns the height and timestamp of the block at height.
func (c *Client) BlockAt(ctx context.Context, height uint64) (Block, error) {
	return c.block(ctx, hexutil.EncodeUint64(height))
}

// HeadBlock returns the latest block in a single round trip.
func (c *Client) HeadBlock(ctx context.Context) (Block, error) {
	return c.block(ctx, "latest")
}

func (c *Client) block(ctx context.Context, tag string) (Block, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	c.callCounter.Add(1)

	var head *rpcBlock
	if err := c.raw.CallContext(ctx, &head, "eth_getBlockByNumber", tag, false); err != nil {
		return Block{}, c.unavailable("eth_getBlockByNumber "+tag, err)
	}
	if head == nil || head.Number == nil {
		return Block{}, c.unavailable("eth_getBlockByNumber "+tag, ethereum.NotFound)
	}
	return Block{
		Height: uint64(*head.Number),
		Time:   time.Unix(int64(head.Timestamp), 0).UTC(),
	}, nil
}

// LogsInRange returns logs emitted by address within [from, to] matching topics.
// An empty result is legitimate.
func (c *Client) LogsInRange(ctx context.Context, address common.Address, topics [][]common.Hash, from, to uint64) ([]types.Log, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	c.callCounter.Add(1)

	logs, err := c.eth.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: []common.Address{address},
		Topics:    topics,
	})
	if err != nil {
		return nil, c.unavailable(fmt.Sprintf("eth_getLogs %s [%d, %d]", address.Hex(), from, to), err)
	}
	return logs, nil
}

// CallContract executes a read-only call against the latest state.
func (c *Client) CallContract(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	c.callCounter.Add(1)

	out, err := c.eth.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		if isRevert(err) {
			return nil, fmt.Errorf("%w: eth_call %s: %v", ErrExecutionReverted, to.Hex(), err)
		}
		return nil, c.unavailable("eth_call "+to.Hex(), err)
	}
	return out, nil
}

func isRevert(err error) bool {
	var dataErr rpc.DataError
	if errors.As(err, &dataErr) && dataErr.ErrorData() != nil {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "revert")
}

func (c *Client) GetStatus() map[string]any {
	return map[string]any{
		"chain": map[string]any{
			"calls":  c.callCounter.Load(),
			"errors": c.errCounter.Load(),
		},
	}
}
