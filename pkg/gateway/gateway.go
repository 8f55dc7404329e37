// Package gateway defines the abstract contract for moving value on an
// underlying ledger. Only the Transfer executor consumes it; the station
// never talks to a chain directly.
package gateway

import (
	"context"
	"errors"
)

// ErrInsufficientFunds is returned by submission when the source address
// cannot cover amount plus fee.
var ErrInsufficientFunds = errors.New("insufficient funds")

// TransferDetails is one value movement to submit.
type TransferDetails struct {
	To     string
	Amount uint64
	Fee    uint64
	Memo   string
}

// SubmittedTransaction is the ledger's receipt for an accepted submission.
type SubmittedTransaction struct {
	Hash    string
	Details map[string]string
}

// Gateway is the blockchain submission contract. Submission failure is a
// returned error the executor converts to a terminal Failed status, never
// a silent retry loop.
type Gateway interface {
	// GenerateAddress derives a fresh deposit address for an account.
	GenerateAddress(ctx context.Context, blockchain, seed string) (string, error)
	// Balance reports the spendable balance of an address.
	Balance(ctx context.Context, address string) (uint64, error)
	// Decimals reports the asset's decimal places.
	Decimals(ctx context.Context, blockchain string) (uint8, error)
	// TransactionFee reports the current fee in the asset's smallest unit.
	TransactionFee(ctx context.Context, blockchain string) (uint64, error)
	// SubmitTransaction submits a transfer from the given address.
	SubmitTransaction(ctx context.Context, from string, transfer TransferDetails) (SubmittedTransaction, error)
}
