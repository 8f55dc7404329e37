package gateway

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
)

// InMemory is a deterministic gateway for tests and local operation: a flat
// balance table per address, fixed fee and decimals, and injectable
// submission failures.
type InMemory struct {
	mu        sync.Mutex
	balances  map[string]uint64
	fee       uint64
	decimals  uint8
	submitErr error
	seq       uint64
}

func NewInMemory() *InMemory {
	return &InMemory{
		balances: make(map[string]uint64),
		fee:      10_000,
		decimals: 8,
	}
}

// Fund credits an address, for test setup.
func (g *InMemory) Fund(address string, amount uint64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.balances[address] += amount
}

// FailSubmissionsWith makes every following SubmitTransaction return err.
// Pass nil to restore normal behavior.
func (g *InMemory) FailSubmissionsWith(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.submitErr = err
}

func (g *InMemory) GenerateAddress(_ context.Context, blockchain, seed string) (string, error) {
	sum := sha256.Sum256([]byte(blockchain + ":" + seed))
	return hex.EncodeToString(sum[:20]), nil
}

func (g *InMemory) Balance(_ context.Context, address string) (uint64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.balances[address], nil
}

func (g *InMemory) Decimals(context.Context, string) (uint8, error) {
	return g.decimals, nil
}

func (g *InMemory) TransactionFee(context.Context, string) (uint64, error) {
	return g.fee, nil
}

func (g *InMemory) SubmitTransaction(_ context.Context, from string, transfer TransferDetails) (SubmittedTransaction, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.submitErr != nil {
		return SubmittedTransaction{}, g.submitErr
	}
	total := transfer.Amount + transfer.Fee
	if g.balances[from] < total {
		return SubmittedTransaction{}, fmt.Errorf("%w: address %s holds %d, needs %d", ErrInsufficientFunds, from, g.balances[from], total)
	}
	g.balances[from] -= total
	g.balances[transfer.To] += transfer.Amount
	g.seq++
	sum := sha256.Sum256(fmt.Appendf(nil, "%s:%s:%d:%d", from, transfer.To, transfer.Amount, g.seq))
	return SubmittedTransaction{
		Hash:    hex.EncodeToString(sum[:]),
		Details: map[string]string{"memo": transfer.Memo},
	}, nil
}
