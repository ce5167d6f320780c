package liquidity

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/poolkeeper/internal/chain"
	"github.com/alanyoungcy/poolkeeper/internal/domain"
)

const uniswapV3ABIJSON = `[
	{"name":"getPool","type":"function","stateMutability":"view","inputs":[{"name":"tokenA","type":"address"},{"name":"tokenB","type":"address"},{"name":"fee","type":"uint24"}],"outputs":[{"name":"pool","type":"address"}]},
	{"name":"quoteExactInputSingle","type":"function","stateMutability":"nonpayable","inputs":[{"name":"params","type":"tuple","components":[{"name":"tokenIn","type":"address"},{"name":"tokenOut","type":"address"},{"name":"amountIn","type":"uint256"},{"name":"fee","type":"uint24"},{"name":"sqrtPriceLimitX96","type":"uint160"}]}],"outputs":[{"name":"amountOut","type":"uint256"},{"name":"sqrtPriceX96After","type":"uint160"},{"name":"initializedTicksCrossed","type":"uint32"},{"name":"gasEstimate","type":"uint256"}]},
	{"name":"exactInputSingle","type":"function","stateMutability":"payable","inputs":[{"name":"params","type":"tuple","components":[{"name":"tokenIn","type":"address"},{"name":"tokenOut","type":"address"},{"name":"fee","type":"uint24"},{"name":"recipient","type":"address"},{"name":"deadline","type":"uint256"},{"name":"amountIn","type":"uint256"},{"name":"amountOutMinimum","type":"uint256"},{"name":"sqrtPriceLimitX96","type":"uint160"}]}],"outputs":[{"name":"amountOut","type":"uint256"}]}
]`

var uniswapV3ABI abi.ABI

func init() {
	var err error
	uniswapV3ABI, err = abi.JSON(strings.NewReader(uniswapV3ABIJSON))
	if err != nil {
		panic(fmt.Sprintf("liquidity: parse uniswap v3 abi: %v", err))
	}
}

// feeTiers are probed in this order during pool discovery; the first tier
// with a deployed pool wins.
var feeTiers = []uint32{500, 3000, 10_000}

// UniswapV3 adapts the Uniswap V3 factory/quoter/router trio.
type UniswapV3 struct {
	client    *chain.Client
	factory   common.Address
	quoter    common.Address
	router    common.Address
	recipient common.Address

	// feeByPair remembers the discovered fee tier per ordered pair within
	// the process lifetime; rediscovery per call would triple the probe
	// traffic for nothing.
	feeByPair map[[2]common.Address]uint32
}

// NewUniswapV3 creates the adapter.
func NewUniswapV3(client *chain.Client, factory, quoter, router, recipient common.Address) *UniswapV3 {
	return &UniswapV3{
		client:    client,
		factory:   factory,
		quoter:    quoter,
		router:    router,
		recipient: recipient,
		feeByPair: make(map[[2]common.Address]uint32),
	}
}

// Source returns the adapter's tag.
func (u *UniswapV3) Source() domain.LiquiditySource { return domain.SourceUniswapV3 }

// PoolExists probes the factory across the standard fee tiers. V3 has no
// stable/volatile split, so hints are ignored and the variant is always
// VariantNone.
func (u *UniswapV3) PoolExists(ctx context.Context, tokenA, tokenB common.Address, _ domain.PoolVariant) (domain.PoolInfo, error) {
	for _, fee := range feeTiers {
		addr, err := u.getPool(ctx, tokenA, tokenB, fee)
		if err != nil {
			return domain.PoolInfo{}, err
		}
		if addr != (common.Address{}) {
			u.feeByPair[[2]common.Address{tokenA, tokenB}] = fee
			return domain.PoolInfo{Exists: true, Address: addr}, nil
		}
	}
	return domain.PoolInfo{}, nil
}

// GetQuote asks the quoter for the expected output through the discovered
// fee tier.
func (u *UniswapV3) GetQuote(ctx context.Context, amountIn *big.Int, tokenIn, tokenOut common.Address, hint domain.PoolVariant) (domain.Quote, error) {
	fee, ok := u.feeByPair[[2]common.Address{tokenIn, tokenOut}]
	if !ok {
		info, err := u.PoolExists(ctx, tokenIn, tokenOut, hint)
		if err != nil {
			return domain.Quote{}, err
		}
		if !info.Exists {
			return domain.Quote{}, fmt.Errorf("uniswapv3: %s/%s: %w", tokenIn.Hex(), tokenOut.Hex(), domain.ErrPoolNotFound)
		}
		fee = u.feeByPair[[2]common.Address{tokenIn, tokenOut}]
	}

	params := struct {
		TokenIn           common.Address `abi:"tokenIn"`
		TokenOut          common.Address `abi:"tokenOut"`
		AmountIn          *big.Int       `abi:"amountIn"`
		Fee               *big.Int       `abi:"fee"`
		SqrtPriceLimitX96 *big.Int       `abi:"sqrtPriceLimitX96"`
	}{tokenIn, tokenOut, amountIn, big.NewInt(int64(fee)), new(big.Int)}

	data, err := uniswapV3ABI.Pack("quoteExactInputSingle", params)
	if err != nil {
		return domain.Quote{}, fmt.Errorf("uniswapv3: pack quote: %w", err)
	}
	// The quoter is state-mutating on-chain but designed to be eth_called.
	raw, err := u.client.Call(ctx, u.quoter, data)
	if err != nil {
		return domain.Quote{}, fmt.Errorf("uniswapv3: quote: %w", err)
	}
	out, err := uniswapV3ABI.Unpack("quoteExactInputSingle", raw)
	if err != nil {
		return domain.Quote{}, fmt.Errorf("uniswapv3: unpack quote: %w", err)
	}
	amountOut := out[0].(*big.Int)
	if amountOut.Sign() == 0 {
		return domain.Quote{}, fmt.Errorf("uniswapv3: %s/%s: %w", tokenIn.Hex(), tokenOut.Hex(), domain.ErrNoLiquidity)
	}

	return domain.Quote{
		Source:    domain.SourceUniswapV3,
		TokenIn:   tokenIn,
		TokenOut:  tokenOut,
		AmountIn:  new(big.Int).Set(amountIn),
		AmountOut: amountOut,
		Route:     []common.Address{tokenIn, tokenOut},
	}, nil
}

// BuildSwap packs an exactInputSingle call for the quoted pair.
func (u *UniswapV3) BuildSwap(ctx context.Context, q domain.Quote, minOut *big.Int, deadline time.Time) (domain.SwapInstruction, error) {
	fee, ok := u.feeByPair[[2]common.Address{q.TokenIn, q.TokenOut}]
	if !ok {
		return domain.SwapInstruction{}, fmt.Errorf("uniswapv3: no discovered pool for %s/%s", q.TokenIn.Hex(), q.TokenOut.Hex())
	}

	params := struct {
		TokenIn           common.Address `abi:"tokenIn"`
		TokenOut          common.Address `abi:"tokenOut"`
		Fee               *big.Int       `abi:"fee"`
		Recipient         common.Address `abi:"recipient"`
		Deadline          *big.Int       `abi:"deadline"`
		AmountIn          *big.Int       `abi:"amountIn"`
		AmountOutMinimum  *big.Int       `abi:"amountOutMinimum"`
		SqrtPriceLimitX96 *big.Int       `abi:"sqrtPriceLimitX96"`
	}{q.TokenIn, q.TokenOut, big.NewInt(int64(fee)), u.recipient, big.NewInt(deadline.Unix()), q.AmountIn, minOut, new(big.Int)}

	data, err := uniswapV3ABI.Pack("exactInputSingle", params)
	if err != nil {
		return domain.SwapInstruction{}, fmt.Errorf("uniswapv3: pack swap: %w", err)
	}
	return domain.SwapInstruction{
		Source:   domain.SourceUniswapV3,
		To:       u.router,
		Calldata: data,
		Value:    new(big.Int),
		MinOut:   minOut,
		Deadline: deadline,
	}, nil
}

func (u *UniswapV3) getPool(ctx context.Context, tokenA, tokenB common.Address, fee uint32) (common.Address, error) {
	data, err := uniswapV3ABI.Pack("getPool", tokenA, tokenB, big.NewInt(int64(fee)))
	if err != nil {
		return common.Address{}, fmt.Errorf("uniswapv3: pack getPool: %w", err)
	}
	raw, err := u.client.Call(ctx, u.factory, data)
	if err != nil {
		return common.Address{}, fmt.Errorf("uniswapv3: getPool: %w", err)
	}
	out, err := uniswapV3ABI.Unpack("getPool", raw)
	if err != nil {
		return common.Address{}, fmt.Errorf("uniswapv3: unpack getPool: %w", err)
	}
	return out[0].(common.Address), nil
}

// Compile-time interface check.
var _ Adapter = (*UniswapV3)(nil)
