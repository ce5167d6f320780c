package pricing

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"testing"

	"github.com/alanyoungcy/poolkeeper/internal/domain"
)

type stubSource struct {
	name  string
	price *big.Int
	err   error
	calls int
}

func (s *stubSource) Name() string { return s.name }

func (s *stubSource) FetchPrice(ctx context.Context, ticker string) (*big.Int, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return new(big.Int).Set(s.price), nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func wad(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), domain.Wad)
}

func marketSpec() domain.PriceSpec {
	return domain.PriceSpec{
		Sources: []domain.PriceSource{
			{Kind: domain.PriceCoinGecko, Ticker: "ethereum"},
			{Kind: domain.PriceCoinbase, Ticker: "ETH-USD"},
		},
	}
}

func TestResolve_FirstSourceWins(t *testing.T) {
	a := &stubSource{name: "coingecko", price: wad(1000)}
	b := &stubSource{name: "coinbase", price: wad(2000)}
	r := NewResolver(a, b, nil, 0, testLogger())

	got, err := r.Resolve(context.Background(), marketSpec(), Context{})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got.Cmp(wad(1000)) != 0 {
		t.Fatalf("Resolve = %v, want primary source's 1000", got)
	}
	if b.calls != 0 {
		t.Fatalf("fallback source called %d times, want 0", b.calls)
	}
}

func TestResolve_FallsBackInOrder(t *testing.T) {
	a := &stubSource{name: "coingecko", err: errors.New("rate limited")}
	b := &stubSource{name: "coinbase", price: wad(2000)}
	r := NewResolver(a, b, nil, 0, testLogger())

	got, err := r.Resolve(context.Background(), marketSpec(), Context{})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	// The result must equal B's value exactly, not a blend.
	if got.Cmp(wad(2000)) != 0 {
		t.Fatalf("Resolve = %v, want fallback's 2000", got)
	}
	if a.calls != 1 || b.calls != 1 {
		t.Fatalf("calls = (%d, %d), want (1, 1)", a.calls, b.calls)
	}
}

func TestResolve_AllSourcesFail(t *testing.T) {
	a := &stubSource{name: "coingecko", err: errors.New("down")}
	b := &stubSource{name: "coinbase", err: errors.New("down")}
	r := NewResolver(a, b, nil, 0, testLogger())

	_, err := r.Resolve(context.Background(), marketSpec(), Context{})
	if !errors.Is(err, domain.ErrPriceUnavailable) {
		t.Fatalf("Resolve error = %v, want ErrPriceUnavailable", err)
	}
}

func TestResolve_Inversion(t *testing.T) {
	a := &stubSource{name: "coingecko", price: wad(4)}
	r := NewResolver(a, nil, nil, 0, testLogger())

	spec := domain.PriceSpec{
		Sources: []domain.PriceSource{{Kind: domain.PriceCoinGecko, Ticker: "x"}},
		Invert:  true,
	}
	got, err := r.Resolve(context.Background(), spec, Context{})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	want := new(big.Int).Quo(domain.Wad, big.NewInt(4)) // 0.25
	if got.Cmp(want) != 0 {
		t.Fatalf("inverted price = %v, want %v", got, want)
	}
}

func TestResolve_FixedAndPoolSources(t *testing.T) {
	r := NewResolver(nil, nil, nil, 0, testLogger())
	snap := &domain.PoolSnapshot{
		LUP: wad(100),
		Buckets: []domain.Bucket{
			{Index: 1, Price: wad(120), Deposit: wad(1)},
			{Index: 2, Price: wad(90), Deposit: wad(5)},
		},
	}

	tests := []struct {
		src  domain.PriceSource
		want *big.Int
	}{
		{domain.PriceSource{Kind: domain.PriceFixed, Fixed: wad(42)}, wad(42)},
		{domain.PriceSource{Kind: domain.PricePoolLUP}, wad(100)},
		{domain.PriceSource{Kind: domain.PricePoolHPB}, wad(120)},
	}
	for _, tt := range tests {
		spec := domain.PriceSpec{Sources: []domain.PriceSource{tt.src}}
		got, err := r.Resolve(context.Background(), spec, Context{Snapshot: snap})
		if err != nil {
			t.Fatalf("Resolve(%s): %v", tt.src.Kind, err)
		}
		if got.Cmp(tt.want) != 0 {
			t.Fatalf("Resolve(%s) = %v, want %v", tt.src.Kind, got, tt.want)
		}
	}
}

func TestResolvePair_RatioOfLegs(t *testing.T) {
	a := &stubSource{name: "coingecko", price: wad(3000)} // collateral leg
	r := NewResolver(a, nil, nil, 0, testLogger())

	spec := domain.PairPriceSpec{
		Collateral: domain.PriceSpec{Sources: []domain.PriceSource{{Kind: domain.PriceCoinGecko, Ticker: "ethereum"}}},
		Quote:      domain.PriceSpec{Sources: []domain.PriceSource{{Kind: domain.PriceFixed, Fixed: wad(1500)}}},
	}
	got, err := r.ResolvePair(context.Background(), spec, Context{})
	if err != nil {
		t.Fatalf("ResolvePair: %v", err)
	}
	if got.Cmp(wad(2)) != 0 {
		t.Fatalf("pair price = %v, want 2 (3000/1500)", got)
	}
}

