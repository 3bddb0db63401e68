package contracts

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

var (
	ErrUnknownEvent = errors.New("unknown event")
	ErrMalformedLog = errors.New("malformed log")
)

type TradeKind int

const (
	TradeBuy TradeKind = iota + 1
	TradeSell
)

func (k TradeKind) String() string {
	switch k {
	case TradeBuy:
		return "buy"
	case TradeSell:
		return "sell"
	default:
		return "unknown"
	}
}

// TradeEvent is a decoded Bought or Sold log. NativeAmount is the native asset
// moved by the trade: paid in for a buy, paid out for a sell.
type TradeEvent struct {
	Kind         TradeKind
	NativeAmount *big.Int
	BlockNumber  uint64
	TxHash       common.Hash
	Index        uint
}

// TradeTopics returns the topic0 hashes of the Bought and Sold events.
func (v *Views) TradeTopics() (buy common.Hash, sell common.Hash) {
	return v.poolABI.Events["Bought"].ID, v.poolABI.Events["Sold"].ID
}

// DecodeTrade decodes a Bought or Sold log. Logs emitted with the trader either
// indexed or inlined in data are both accepted.
func (v *Views) DecodeTrade(log types.Log) (TradeEvent, error) {
	if len(log.Topics) == 0 {
		return TradeEvent{}, fmt.Errorf("%w: no topics", ErrMalformedLog)
	}

	var (
		event  abi.Event
		kind   TradeKind
		amount string
	)
	buy, sell := v.TradeTopics()
	switch log.Topics[0] {
	case buy:
		event, kind, amount = v.poolABI.Events["Bought"], TradeBuy, "hbarIn"
	case sell:
		event, kind, amount = v.poolABI.Events["Sold"], TradeSell, "hbarOut"
	default:
		return TradeEvent{}, fmt.Errorf("%w: topic %s", ErrUnknownEvent, log.Topics[0].Hex())
	}

	args := event.Inputs.NonIndexed()
	if len(log.Topics) == 1 {
		args = make(abi.Arguments, len(event.Inputs))
		for i, in := range event.Inputs {
			in.Indexed = false
			args[i] = in
		}
	}
	if len(log.Data) != 32*len(args) {
		return TradeEvent{}, fmt.Errorf("%w: %s data is %d bytes, want %d", ErrMalformedLog, event.Name, len(log.Data), 32*len(args))
	}

	values := make(map[string]any, len(args))
	if err := args.UnpackIntoMap(values, log.Data); err != nil {
		return TradeEvent{}, fmt.Errorf("%w: %s: %v", ErrMalformedLog, event.Name, err)
	}
	native, ok := values[amount].(*big.Int)
	if !ok || native == nil {
		return TradeEvent{}, fmt.Errorf("%w: %s: missing %s", ErrMalformedLog, event.Name, amount)
	}

	return TradeEvent{
		Kind:         kind,
		NativeAmount: native,
		BlockNumber:  log.BlockNumber,
		TxHash:       log.TxHash,
		Index:        log.Index,
	}, nil
}
