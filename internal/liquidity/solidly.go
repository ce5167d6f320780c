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

const solidlyABIJSON = `[
	{"name":"pairFor","type":"function","stateMutability":"view","inputs":[{"name":"tokenA","type":"address"},{"name":"tokenB","type":"address"},{"name":"stable","type":"bool"}],"outputs":[{"name":"pair","type":"address"}]},
	{"name":"getAmountOut","type":"function","stateMutability":"view","inputs":[{"name":"amountIn","type":"uint256"},{"name":"tokenIn","type":"address"},{"name":"tokenOut","type":"address"}],"outputs":[{"name":"amount","type":"uint256"},{"name":"stable","type":"bool"}]},
	{"name":"getAmountsOut","type":"function","stateMutability":"view","inputs":[{"name":"amountIn","type":"uint256"},{"name":"routes","type":"tuple[]","components":[{"name":"from","type":"address"},{"name":"to","type":"address"},{"name":"stable","type":"bool"}]}],"outputs":[{"name":"amounts","type":"uint256[]"}]},
	{"name":"swapExactTokensForTokens","type":"function","stateMutability":"nonpayable","inputs":[{"name":"amountIn","type":"uint256"},{"name":"amountOutMin","type":"uint256"},{"name":"routes","type":"tuple[]","components":[{"name":"from","type":"address"},{"name":"to","type":"address"},{"name":"stable","type":"bool"}]},{"name":"to","type":"address"},{"name":"deadline","type":"uint256"}],"outputs":[{"name":"amounts","type":"uint256[]"}]}
]`

var solidlyABI abi.ABI

func init() {
	var err error
	solidlyABI, err = abi.JSON(strings.NewReader(solidlyABIJSON))
	if err != nil {
		panic(fmt.Sprintf("liquidity: parse solidly abi: %v", err))
	}
}

// solidlyRoute matches the router's Route tuple layout.
type solidlyRoute struct {
	From   common.Address `abi:"from"`
	To     common.Address `abi:"to"`
	Stable bool           `abi:"stable"`
}

// PairProber abstracts the on-chain pair lookups so the variant-selection
// logic is testable without a node.
type PairProber interface {
	// PairFor returns the pair address for the token pair and variant, or
	// the zero address when no such pair is deployed.
	PairFor(ctx context.Context, tokenA, tokenB common.Address, stable bool) (common.Address, error)
}

// Solidly adapts a Solidly-style router hosting both stable and volatile
// pool variants for the same token pair.
//
// Variant auto-detection with no hint probes the VOLATILE pool first and
// commits to it when it exists, even when a stable pool also exists. This
// tie-break is deterministic but arbitrary; it is not a liquidity-optimal
// choice.
type Solidly struct {
	client    *chain.Client
	prober    PairProber
	router    common.Address
	recipient common.Address
}

// NewSolidly creates the adapter. prober may be nil, in which case on-chain
// pairFor probes through client are used.
func NewSolidly(client *chain.Client, router, recipient common.Address, prober PairProber) *Solidly {
	s := &Solidly{
		client:    client,
		router:    router,
		recipient: recipient,
	}
	if prober == nil {
		s.prober = &routerProber{client: client, router: router}
	} else {
		s.prober = prober
	}
	return s
}

// Source returns the adapter's tag.
func (s *Solidly) Source() domain.LiquiditySource { return domain.SourceSolidly }

// PoolExists probes for a pair. With a hint only that variant is checked;
// without one the volatile variant is probed first and wins ties.
func (s *Solidly) PoolExists(ctx context.Context, tokenA, tokenB common.Address, hint domain.PoolVariant) (domain.PoolInfo, error) {
	order := []domain.PoolVariant{domain.VariantVolatile, domain.VariantStable}
	if hint != domain.VariantNone {
		order = []domain.PoolVariant{hint}
	}

	for _, variant := range order {
		addr, err := s.prober.PairFor(ctx, tokenA, tokenB, variant == domain.VariantStable)
		if err != nil {
			return domain.PoolInfo{}, fmt.Errorf("solidly: probe %s pair: %w", variant, err)
		}
		if addr != (common.Address{}) {
			return domain.PoolInfo{Exists: true, Variant: variant, Address: addr}, nil
		}
	}
	return domain.PoolInfo{}, nil
}

// GetQuote quotes a single-hop swap through the discovered pair variant.
func (s *Solidly) GetQuote(ctx context.Context, amountIn *big.Int, tokenIn, tokenOut common.Address, hint domain.PoolVariant) (domain.Quote, error) {
	info, err := s.PoolExists(ctx, tokenIn, tokenOut, hint)
	if err != nil {
		return domain.Quote{}, err
	}
	if !info.Exists {
		return domain.Quote{}, fmt.Errorf("solidly: %s/%s: %w", tokenIn.Hex(), tokenOut.Hex(), domain.ErrPoolNotFound)
	}

	routes := []solidlyRoute{{From: tokenIn, To: tokenOut, Stable: info.Variant == domain.VariantStable}}
	data, err := solidlyABI.Pack("getAmountsOut", amountIn, routes)
	if err != nil {
		return domain.Quote{}, fmt.Errorf("solidly: pack getAmountsOut: %w", err)
	}
	raw, err := s.client.Call(ctx, s.router, data)
	if err != nil {
		return domain.Quote{}, fmt.Errorf("solidly: getAmountsOut: %w", err)
	}
	out, err := solidlyABI.Unpack("getAmountsOut", raw)
	if err != nil {
		return domain.Quote{}, fmt.Errorf("solidly: unpack getAmountsOut: %w", err)
	}
	amounts := out[0].([]*big.Int)
	if len(amounts) < 2 || amounts[len(amounts)-1].Sign() == 0 {
		return domain.Quote{}, fmt.Errorf("solidly: %s/%s: %w", tokenIn.Hex(), tokenOut.Hex(), domain.ErrNoLiquidity)
	}

	return domain.Quote{
		Source:    domain.SourceSolidly,
		TokenIn:   tokenIn,
		TokenOut:  tokenOut,
		AmountIn:  new(big.Int).Set(amountIn),
		AmountOut: amounts[len(amounts)-1],
		Variant:   info.Variant,
		Route:     []common.Address{tokenIn, tokenOut},
	}, nil
}

// BuildSwap packs a swapExactTokensForTokens call for the quoted route.
func (s *Solidly) BuildSwap(ctx context.Context, q domain.Quote, minOut *big.Int, deadline time.Time) (domain.SwapInstruction, error) {
	routes := []solidlyRoute{{From: q.TokenIn, To: q.TokenOut, Stable: q.Variant == domain.VariantStable}}
	data, err := solidlyABI.Pack("swapExactTokensForTokens",
		q.AmountIn, minOut, routes, s.recipient, big.NewInt(deadline.Unix()))
	if err != nil {
		return domain.SwapInstruction{}, fmt.Errorf("solidly: pack swap: %w", err)
	}
	return domain.SwapInstruction{
		Source:   domain.SourceSolidly,
		To:       s.router,
		Calldata: data,
		Value:    new(big.Int),
		MinOut:   minOut,
		Deadline: deadline,
	}, nil
}

// routerProber probes pairs through the router's pairFor view.
type routerProber struct {
	client *chain.Client
	router common.Address
}

func (p *routerProber) PairFor(ctx context.Context, tokenA, tokenB common.Address, stable bool) (common.Address, error) {
	data, err := solidlyABI.Pack("pairFor", tokenA, tokenB, stable)
	if err != nil {
		return common.Address{}, fmt.Errorf("pack pairFor: %w", err)
	}
	raw, err := p.client.Call(ctx, p.router, data)
	if err != nil {
		return common.Address{}, err
	}
	out, err := solidlyABI.Unpack("pairFor", raw)
	if err != nil {
		return common.Address{}, fmt.Errorf("unpack pairFor: %w", err)
	}
	return out[0].(common.Address), nil
}

// Compile-time interface check.
var _ Adapter = (*Solidly)(nil)
