package contracts

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

var (
	// ErrContractCall marks views that reverted, returned nothing or returned undecodable data.
	ErrContractCall = errors.New("contract call failed")
	// ErrNoFactory is returned by registry reads when no factory address is configured.
	ErrNoFactory = errors.New("factory address not configured")
)

// Caller executes read-only contract calls. *chain.Client implements it.
type Caller interface {
	CallContract(ctx context.Context, to common.Address, data []byte) ([]byte, error)
}

type TokenMeta struct {
	Name        string
	Symbol      string
	Decimals    uint8
	TotalSupply *big.Int
}

// SupplyKnown reports whether totalSupply could be read.
func (m TokenMeta) SupplyKnown() bool {
	return m.TotalSupply != nil
}

// Views are typed accessors over the Factory, Pool and Token contracts.
type Views struct {
	caller  Caller
	factory common.Address

	factoryABI abi.ABI
	poolABI    abi.ABI
	tokenABI   abi.ABI
}

func New(caller Caller, factory common.Address) (*Views, error) {
	factoryABI, err := abi.JSON(strings.NewReader(factoryABIJSON))
	if err != nil {
		return nil, fmt.Errorf("factory ABI: %w", err)
	}
	poolABI, err := abi.JSON(strings.NewReader(poolABIJSON))
	if err != nil {
		return nil, fmt.Errorf("pool ABI: %w", err)
	}
	tokenABI, err := abi.JSON(strings.NewReader(tokenABIJSON))
	if err != nil {
		return nil, fmt.Errorf("token ABI: %w", err)
	}
	return &Views{
		caller:     caller,
		factory:    factory,
		factoryABI: factoryABI,
		poolABI:    poolABI,
		tokenABI:   tokenABI,
	}, nil
}

func (v *Views) Factory() common.Address {
	return v.factory
}

// call packs method, executes it and unpacks the outputs. Every failure wraps ErrContractCall;
// transport failures additionally keep the chain error in the chain.
func (v *Views) call(ctx context.Context, parsed *abi.ABI, to common.Address, method string, args ...any) ([]any, error) {
	data, err := parsed.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: pack %s: %v", ErrContractCall, method, err)
	}
	out, err := v.caller.CallContract(ctx, to, data)
	if err != nil {
		return nil, fmt.Errorf("%w: %s on %s: %w", ErrContractCall, method, to.Hex(), err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: %s on %s: empty return data", ErrContractCall, method, to.Hex())
	}
	values, err := parsed.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("%w: unpack %s on %s: %v", ErrContractCall, method, to.Hex(), err)
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("%w: %s on %s: no outputs", ErrContractCall, method, to.Hex())
	}
	return values, nil
}

func asBig(method string, value any) (*big.Int, error) {
	v, ok := value.(*big.Int)
	if !ok || v == nil {
		return nil, fmt.Errorf("%w: %s: unexpected output %T", ErrContractCall, method, value)
	}
	return v, nil
}

func asAddress(method string, value any) (common.Address, error) {
	v, ok := value.(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("%w: %s: unexpected output %T", ErrContractCall, method, value)
	}
	return v, nil
}

func asString(method string, value any) (string, error) {
	v, ok := value.(string)
	if !ok {
		return "", fmt.Errorf("%w: %s: unexpected output %T", ErrContractCall, method, value)
	}
	return v, nil
}

// TokenCount returns the number of tokens registered in the factory.
func (v *Views) TokenCount(ctx context.Context) (uint64, error) {
	if v.factory == (common.Address{}) {
		return 0, ErrNoFactory
	}
	values, err := v.call(ctx, &v.factoryABI, v.factory, "allTokensLength")
	if err != nil {
		return 0, err
	}
	count, err := asBig("allTokensLength", values[0])
	if err != nil {
		return 0, err
	}
	if !count.IsUint64() {
		return 0, fmt.Errorf("%w: allTokensLength overflow: %s", ErrContractCall, count)
	}
	return count.Uint64(), nil
}

// TokenAt returns the token registered at index.
func (v *Views) TokenAt(ctx context.Context, index uint64) (common.Address, error) {
	if v.factory == (common.Address{}) {
		return common.Address{}, ErrNoFactory
	}
	values, err := v.call(ctx, &v.factoryABI, v.factory, "allTokens", new(big.Int).SetUint64(index))
	if err != nil {
		return common.Address{}, err
	}
	return asAddress("allTokens", values[0])
}

// Tokens enumerates the registry in registration order.
func (v *Views) Tokens(ctx context.Context) ([]common.Address, error) {
	count, err := v.TokenCount(ctx)
	if err != nil {
		return nil, err
	}
	tokens := make([]common.Address, 0, count)
	for i := uint64(0); i < count; i++ {
		token, err := v.TokenAt(ctx, i)
		if err != nil {
			return nil, fmt.Errorf("token #%d: %w", i, err)
		}
		tokens = append(tokens, token)
	}
	return tokens, nil
}

// PoolFor resolves the trading pool of a token. A zero address from the factory
// is reported as found=false, not as an error.
func (v *Views) PoolFor(ctx context.Context, token common.Address) (common.Address, bool, error) {
	if v.factory == (common.Address{}) {
		return common.Address{}, false, ErrNoFactory
	}
	values, err := v.call(ctx, &v.factoryABI, v.factory, "getPool", token)
	if err != nil {
		return common.Address{}, false, err
	}
	pool, err := asAddress("getPool", values[0])
	if err != nil {
		return common.Address{}, false, err
	}
	if pool == (common.Address{}) {
		return common.Address{}, false, nil
	}
	return pool, true, nil
}

// UnitSellPrice quotes the native amount received for selling exactly one whole token.
func (v *Views) UnitSellPrice(ctx context.Context, pool common.Address, decimals uint8) (*big.Int, error) {
	values, err := v.call(ctx, &v.poolABI, pool, "getPriceForSell", UnitAmount(decimals))
	if err != nil {
		return nil, err
	}
	return asBig("getPriceForSell", values[0])
}

// Reserves returns the pool's native and token reserves.
func (v *Views) Reserves(ctx context.Context, pool common.Address) (*big.Int, *big.Int, error) {
	values, err := v.call(ctx, &v.poolABI, pool, "reserves")
	if err != nil {
		return nil, nil, err
	}
	if len(values) < 2 {
		return nil, nil, fmt.Errorf("%w: reserves: %d outputs", ErrContractCall, len(values))
	}
	native, err := asBig("reserves", values[0])
	if err != nil {
		return nil, nil, err
	}
	tokens, err := asBig("reserves", values[1])
	if err != nil {
		return nil, nil, err
	}
	return native, tokens, nil
}

func (v *Views) Decimals(ctx context.Context, token common.Address) (uint8, error) {
	values, err := v.call(ctx, &v.tokenABI, token, "decimals")
	if err != nil {
		return 0, err
	}
	decimals, ok := values[0].(uint8)
	if !ok {
		return 0, fmt.Errorf("%w: decimals: unexpected output %T", ErrContractCall, values[0])
	}
	return decimals, nil
}

func (v *Views) TotalSupply(ctx context.Context, token common.Address) (*big.Int, error) {
	values, err := v.call(ctx, &v.tokenABI, token, "totalSupply")
	if err != nil {
		return nil, err
	}
	return asBig("totalSupply", values[0])
}

func (v *Views) stringView(ctx context.Context, token common.Address, method string) (string, error) {
	values, err := v.call(ctx, &v.tokenABI, token, method)
	if err != nil {
		return "", err
	}
	return asString(method, values[0])
}

// TokenMeta reads name, symbol, decimals and total supply. Only decimals is
// required; the other fields are left empty when their views fail.
func (v *Views) TokenMeta(ctx context.Context, token common.Address) (TokenMeta, error) {
	decimals, err := v.Decimals(ctx, token)
	if err != nil {
		return TokenMeta{}, err
	}
	meta := TokenMeta{Decimals: decimals}
	if name, err := v.stringView(ctx, token, "name"); err == nil {
		meta.Name = name
	}
	if symbol, err := v.stringView(ctx, token, "symbol"); err == nil {
		meta.Symbol = symbol
	}
	if supply, err := v.TotalSupply(ctx, token); err == nil {
		meta.TotalSupply = supply
	}
	return meta, nil
}
