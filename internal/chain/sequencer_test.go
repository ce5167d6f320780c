package chain

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"sort"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

type fakeSigner struct {
	addr common.Address
}

func (f *fakeSigner) Address() common.Address { return f.addr }

func (f *fakeSigner) SignTx(tx *types.Transaction) (*types.Transaction, error) {
	return tx, nil
}

// fakeChain records broadcast order and can inject per-broadcast errors.
type fakeChain struct {
	mu          sync.Mutex
	chainNonce  uint64
	nonceCalls  int
	broadcasts  []uint64
	failWith    []error // consumed one per broadcast attempt
}

func (f *fakeChain) PendingNonce(ctx context.Context, addr common.Address) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nonceCalls++
	return f.chainNonce, nil
}

func (f *fakeChain) Broadcast(ctx context.Context, tx *types.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.failWith) > 0 {
		err := f.failWith[0]
		f.failWith = f.failWith[1:]
		if err != nil {
			return err
		}
	}
	f.broadcasts = append(f.broadcasts, tx.Nonce())
	return nil
}

func (f *fakeChain) WaitMined(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	return &types.Receipt{Status: types.ReceiptStatusSuccessful, TxHash: hash}, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func nonceTx(nonce uint64) *types.Transaction {
	to := common.HexToAddress("0x1")
	return types.NewTx(&types.LegacyTx{Nonce: nonce, To: &to, Gas: 21000, GasPrice: big.NewInt(1)})
}

func TestSequencer_AssignsContiguousNonces(t *testing.T) {
	fc := &fakeChain{chainNonce: 7}
	seq := NewSequencer(fc, &fakeSigner{}, false, testLogger())

	const n = 25
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := seq.Submit(context.Background(), "op", func(ctx context.Context, nonce uint64) (*types.Transaction, error) {
				return nonceTx(nonce), nil
			})
			if err != nil {
				t.Errorf("Submit: %v", err)
			}
		}()
	}
	wg.Wait()

	if len(fc.broadcasts) != n {
		t.Fatalf("broadcast count = %d, want %d", len(fc.broadcasts), n)
	}
	// Broadcast order must be exactly the assigned nonce order: strictly
	// increasing with no gaps or repeats, starting at the chain nonce.
	for i, nonce := range fc.broadcasts {
		if nonce != 7+uint64(i) {
			t.Fatalf("broadcast[%d] nonce = %d, want %d", i, nonce, 7+uint64(i))
		}
	}
	if fc.nonceCalls != 1 {
		t.Fatalf("pending nonce fetched %d times, want 1", fc.nonceCalls)
	}
}

func TestSequencer_NoncesUniqueAcrossBuilders(t *testing.T) {
	fc := &fakeChain{}
	seq := NewSequencer(fc, &fakeSigner{}, false, testLogger())

	var mu sync.Mutex
	seen := map[uint64]int{}

	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = seq.Submit(context.Background(), "op", func(ctx context.Context, nonce uint64) (*types.Transaction, error) {
				mu.Lock()
				seen[nonce]++
				mu.Unlock()
				return nonceTx(nonce), nil
			})
		}()
	}
	wg.Wait()

	nonces := make([]uint64, 0, len(seen))
	for nonce, count := range seen {
		if count != 1 {
			t.Fatalf("nonce %d assigned %d times", nonce, count)
		}
		nonces = append(nonces, nonce)
	}
	sort.Slice(nonces, func(i, j int) bool { return nonces[i] < nonces[j] })
	for i, nonce := range nonces {
		if nonce != uint64(i) {
			t.Fatalf("nonce sequence has gap: got %d at position %d", nonce, i)
		}
	}
}

func TestSequencer_ResyncsOnceOnNonceMismatch(t *testing.T) {
	fc := &fakeChain{
		chainNonce: 3,
		failWith:   []error{errors.New("nonce too low")},
	}
	seq := NewSequencer(fc, &fakeSigner{}, false, testLogger())

	// The first broadcast attempt fails with a nonce mismatch; the
	// sequencer must re-fetch the chain nonce and retry the same logical
	// operation exactly once.
	_, err := seq.Submit(context.Background(), "op", func(ctx context.Context, nonce uint64) (*types.Transaction, error) {
		return nonceTx(nonce), nil
	})
	if err != nil {
		t.Fatalf("Submit after resync: %v", err)
	}

	if len(fc.broadcasts) != 1 {
		t.Fatalf("broadcasts = %d, want 1", len(fc.broadcasts))
	}
	if fc.broadcasts[0] != 3 {
		t.Fatalf("retried nonce = %d, want 3", fc.broadcasts[0])
	}
	// One prime fetch plus one resync fetch.
	if fc.nonceCalls != 2 {
		t.Fatalf("pending nonce fetched %d times, want 2", fc.nonceCalls)
	}
}

func TestSequencer_DoesNotRetryOtherFailures(t *testing.T) {
	fc := &fakeChain{
		failWith: []error{errors.New("insufficient funds for gas * price + value")},
	}
	seq := NewSequencer(fc, &fakeSigner{}, false, testLogger())

	_, err := seq.Submit(context.Background(), "op", func(ctx context.Context, nonce uint64) (*types.Transaction, error) {
		return nonceTx(nonce), nil
	})
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if len(fc.broadcasts) != 0 {
		t.Fatalf("broadcasts = %d, want 0", len(fc.broadcasts))
	}

	// The failed submission must not have consumed a nonce: the next
	// operation gets the same nonce.
	_, err = seq.Submit(context.Background(), "op2", func(ctx context.Context, nonce uint64) (*types.Transaction, error) {
		return nonceTx(nonce), nil
	})
	if err != nil {
		t.Fatalf("second Submit: %v", err)
	}
	if fc.broadcasts[0] != 0 {
		t.Fatalf("nonce after failed broadcast = %d, want 0", fc.broadcasts[0])
	}
}

func TestSequencer_DryRunSkipsQueue(t *testing.T) {
	fc := &fakeChain{}
	seq := NewSequencer(fc, &fakeSigner{}, true, testLogger())

	built := false
	receipt, err := seq.Submit(context.Background(), "op", func(ctx context.Context, nonce uint64) (*types.Transaction, error) {
		built = true
		return nonceTx(nonce), nil
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if receipt != nil {
		t.Fatalf("receipt = %v, want nil", receipt)
	}
	if built {
		t.Fatal("dry run must not build a transaction")
	}
	if fc.nonceCalls != 0 || len(fc.broadcasts) != 0 {
		t.Fatalf("dry run touched the chain: nonceCalls=%d broadcasts=%d", fc.nonceCalls, len(fc.broadcasts))
	}
}

func TestIsNonceMismatch(t *testing.T) {
	tests := []struct {
		err  string
		want bool
	}{
		{"nonce too low", true},
		{"Nonce too HIGH: expected 4", true},
		{"invalid nonce for sender", true},
		{"execution reverted", false},
		{"insufficient funds", false},
	}
	for _, tt := range tests {
		if got := isNonceMismatch(errors.New(tt.err)); got != tt.want {
			t.Fatalf("isNonceMismatch(%q) = %v, want %v", tt.err, got, tt.want)
		}
	}
}
