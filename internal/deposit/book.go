package deposit

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sasha-s/go-deadlock"
)

// Account is the persisted balance and custody allowance of one holder.
type Account struct {
	Owner     common.Address
	Balance   *big.Int
	Allowance *big.Int
}

// AccountStore persists accounts written through a Book.
type AccountStore interface {
	SaveAccounts(ctx context.Context, accounts []Account) error
	LoadAccounts(ctx context.Context) ([]Account, error)
}

// Book is an in-process ERC-20 style ledger where the escrow custody address
// spends holder allowances.
type Book struct {
	mu       deadlock.Mutex
	custody  common.Address
	accounts map[common.Address]*Account
	store    AccountStore
}

// NewBook creates a book holding escrowed funds at custody; store may be nil.
func NewBook(custody common.Address, store AccountStore) *Book {
	return &Book{
		custody:  custody,
		accounts: make(map[common.Address]*Account),
		store:    store,
	}
}

// Custody returns the address escrowed funds are held at.
func (b *Book) Custody() common.Address {
	return b.custody
}

// Load restores accounts from the backing store.
func (b *Book) Load(ctx context.Context) error {
	if b.store == nil {
		return nil
	}
	accounts, err := b.store.LoadAccounts(ctx)
	if err != nil {
		return fmt.Errorf("load accounts: %w", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, a := range accounts {
		b.accounts[a.Owner] = &Account{
			Owner:     a.Owner,
			Balance:   new(big.Int).Set(a.Balance),
			Allowance: new(big.Int).Set(a.Allowance),
		}
	}
	return nil
}

func (b *Book) account(who common.Address) Account {
	if a, ok := b.accounts[who]; ok {
		return Account{Owner: who, Balance: new(big.Int).Set(a.Balance), Allowance: new(big.Int).Set(a.Allowance)}
	}
	return Account{Owner: who, Balance: new(big.Int), Allowance: new(big.Int)}
}

// commit persists the changed accounts before making them visible.
func (b *Book) commit(ctx context.Context, changed ...Account) error {
	if b.store != nil {
		if err := b.store.SaveAccounts(ctx, changed); err != nil {
			return fmt.Errorf("save accounts: %w", err)
		}
	}
	for _, a := range changed {
		acc := a
		b.accounts[a.Owner] = &acc
	}
	return nil
}

// Mint credits amount to who. Used for faucets and tests.
func (b *Book) Mint(ctx context.Context, who common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	a := b.account(who)
	a.Balance.Add(a.Balance, amount)
	return b.commit(ctx, a)
}

// Approve sets the amount custody may pull from owner.
func (b *Book) Approve(ctx context.Context, owner common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	a := b.account(owner)
	a.Allowance.Set(amount)
	return b.commit(ctx, a)
}

// Allowance returns what custody may still pull from owner.
func (b *Book) Allowance(owner common.Address) *big.Int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.account(owner).Allowance
}

// TransferIn implements Asset.
func (b *Book) TransferIn(ctx context.Context, from common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if from == b.custody {
		return ErrCustodyTransfer
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	payer := b.account(from)
	if payer.Allowance.Cmp(amount) < 0 {
		return ErrInsufficientAllowance
	}
	if payer.Balance.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	payer.Allowance.Sub(payer.Allowance, amount)
	payer.Balance.Sub(payer.Balance, amount)

	custody := b.account(b.custody)
	custody.Balance.Add(custody.Balance, amount)
	return b.commit(ctx, payer, custody)
}

// TransferOut implements Asset.
func (b *Book) TransferOut(ctx context.Context, to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if to == b.custody {
		return ErrCustodyTransfer
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	custody := b.account(b.custody)
	if custody.Balance.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	custody.Balance.Sub(custody.Balance, amount)

	payee := b.account(to)
	payee.Balance.Add(payee.Balance, amount)
	return b.commit(ctx, custody, payee)
}

// Reclaim implements Reclaimer. The holder's allowance is left untouched.
func (b *Book) Reclaim(ctx context.Context, from common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if from == b.custody {
		return ErrCustodyTransfer
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	holder := b.account(from)
	if holder.Balance.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	holder.Balance.Sub(holder.Balance, amount)

	custody := b.account(b.custody)
	custody.Balance.Add(custody.Balance, amount)
	return b.commit(ctx, holder, custody)
}

// BalanceOf implements Asset.
func (b *Book) BalanceOf(ctx context.Context, who common.Address) (*big.Int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.account(who).Balance, nil
}

var (
	_ Asset     = (*Book)(nil)
	_ Reclaimer = (*Book)(nil)
)
