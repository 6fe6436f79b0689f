// Package deposit moves the locked fungible asset in and out of escrow custody.
package deposit

import (
	"context"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

var (
	// ErrInsufficientBalance is returned when the payer holds less than the amount.
	ErrInsufficientBalance = errors.New("deposit: insufficient balance")
	// ErrInsufficientAllowance is returned when custody was not approved for the amount.
	ErrInsufficientAllowance = errors.New("deposit: insufficient allowance")
	// ErrInvalidAmount rejects non-positive transfers.
	ErrInvalidAmount = errors.New("deposit: amount must be positive")
	// ErrCustodyTransfer rejects transfers where custody pays or receives itself.
	ErrCustodyTransfer = errors.New("deposit: custody cannot transfer to itself")
)

// Asset is the deposit token as seen by the escrow.
type Asset interface {
	// TransferIn pulls amount from into custody.
	TransferIn(ctx context.Context, from common.Address, amount *big.Int) error
	// TransferOut pays amount from custody to to.
	TransferOut(ctx context.Context, to common.Address, amount *big.Int) error
	// BalanceOf reports the token balance of who.
	BalanceOf(ctx context.Context, who common.Address) (*big.Int, error)
}

// Reclaimer is implemented by assets that can pull a payout back into custody
// without an allowance. The escrow uses it to reverse a withdrawal it could
// not record.
type Reclaimer interface {
	Reclaim(ctx context.Context, from common.Address, amount *big.Int) error
}
