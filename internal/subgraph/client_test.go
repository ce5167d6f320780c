package subgraph

import (
	"context"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/poolkeeper/internal/domain"
)

func snapshotServer(t *testing.T, poolJSON string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":{"pool":` + poolJSON + `}}`))
	}))
}

func TestFetchSnapshot_NullLupStaysNil(t *testing.T) {
	srv := snapshotServer(t, `{
		"lup": null,
		"hpb": "2000000000000000000",
		"loans": [{
			"borrower": "0x0000000000000000000000000000000000000001",
			"thresholdPrice": "1100000000000000000",
			"liquidationBond": "50000000000000000",
			"neutralPrice": "1200000000000000000",
			"debt": "100000000000000000000"
		}],
		"liquidationAuctions": [],
		"buckets": []
	}`)
	defer srv.Close()

	c := NewClient(srv.URL, "")
	snap, err := c.FetchSnapshot(context.Background(), common.Address{0x01})
	if err != nil {
		t.Fatalf("FetchSnapshot: %v", err)
	}

	// A null lup means the indexer has not priced the pool yet; it must not
	// be mistaken for a zero price.
	if snap.LUP != nil {
		t.Fatalf("LUP = %v, want nil", snap.LUP)
	}
	if snap.HPB == nil || snap.HPB.Cmp(big.NewInt(2e18)) != 0 {
		t.Fatalf("HPB = %v, want 2e18", snap.HPB)
	}
	if len(snap.Loans) != 1 {
		t.Fatalf("loans = %d, want 1", len(snap.Loans))
	}
	wantDebt := new(big.Int).Mul(big.NewInt(100), big.NewInt(1e18))
	if snap.Loans[0].Debt == nil || snap.Loans[0].Debt.Cmp(wantDebt) != 0 {
		t.Fatalf("loan debt = %v, want %v", snap.Loans[0].Debt, wantDebt)
	}
}

func TestFetchSnapshot_ZeroLupIsZeroNotNil(t *testing.T) {
	srv := snapshotServer(t, `{
		"lup": "0",
		"hpb": "0",
		"loans": [],
		"liquidationAuctions": [],
		"buckets": []
	}`)
	defer srv.Close()

	c := NewClient(srv.URL, "")
	snap, err := c.FetchSnapshot(context.Background(), common.Address{0x01})
	if err != nil {
		t.Fatalf("FetchSnapshot: %v", err)
	}
	if snap.LUP == nil || snap.LUP.Sign() != 0 {
		t.Fatalf("LUP = %v, want zero", snap.LUP)
	}
}

func TestFetchSnapshot_MalformedKickTimeSkipsAuction(t *testing.T) {
	srv := snapshotServer(t, `{
		"lup": "1000000000000000000",
		"hpb": "2000000000000000000",
		"loans": [],
		"liquidationAuctions": [
			{
				"borrower": "0x0000000000000000000000000000000000000002",
				"kicker": "0x0000000000000000000000000000000000000009",
				"collateralRemaining": "0",
				"debtRemaining": "1000000000000000000",
				"neutralPrice": "1200000000000000000",
				"kickTime": "not-a-timestamp",
				"settled": false,
				"bondClaimable": "0"
			},
			{
				"borrower": "0x0000000000000000000000000000000000000003",
				"kicker": "0x0000000000000000000000000000000000000009",
				"collateralRemaining": "0",
				"debtRemaining": "1000000000000000000",
				"neutralPrice": "1200000000000000000",
				"kickTime": "1755000000",
				"settled": false,
				"bondClaimable": "0"
			}
		],
		"buckets": []
	}`)
	defer srv.Close()

	c := NewClient(srv.URL, "")
	snap, err := c.FetchSnapshot(context.Background(), common.Address{0x01})
	if err != nil {
		t.Fatalf("FetchSnapshot: %v", err)
	}

	if len(snap.Auctions) != 1 {
		t.Fatalf("auctions = %d, want 1 (malformed kickTime dropped)", len(snap.Auctions))
	}
	got := snap.Auctions[0]
	if got.Borrower != (common.Address{0x03}) {
		t.Fatalf("kept auction borrower = %s, want 0x03", got.Borrower.Hex())
	}
	if got.KickTime.Unix() != 1755000000 {
		t.Fatalf("kick time = %d, want 1755000000", got.KickTime.Unix())
	}
}

func TestFetchSnapshot_MissingPool(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":{"pool":null}}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "")
	_, err := c.FetchSnapshot(context.Background(), common.Address{0x01})
	if err == nil {
		t.Fatalf("FetchSnapshot: expected error for unknown pool")
	}
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("error = %v, want ErrNotFound", err)
	}
}

func TestParseWad(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want *big.Int
	}{
		{"empty is unset", "", nil},
		{"malformed is unset", "12.5", nil},
		{"literal zero", "0", big.NewInt(0)},
		{"decimal value", "1000000000000000000", big.NewInt(1e18)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseWad(tt.in)
			if tt.want == nil {
				if got != nil {
					t.Fatalf("parseWad(%q) = %v, want nil", tt.in, got)
				}
				return
			}
			if got == nil || got.Cmp(tt.want) != 0 {
				t.Fatalf("parseWad(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}
