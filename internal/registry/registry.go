// Package registry tracks ownership of position tokens.
package registry

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sasha-s/go-deadlock"
)

var (
	// ErrZeroOwner rejects minting to or transferring to the zero address.
	ErrZeroOwner = errors.New("registry: zero owner")
	// ErrNotMinted is returned for unknown or burned tokens.
	ErrNotMinted = errors.New("registry: token does not exist")
	// ErrWrongOwner is returned when a transfer names the wrong current owner.
	ErrWrongOwner = errors.New("registry: sender is not owner")
	// ErrNotBurned is returned when restoring a token that is still live.
	ErrNotBurned = errors.New("registry: token is not burned")
)

// Registry is the non-fungible position registry consumed by the escrow.
type Registry interface {
	Mint(ctx context.Context, owner common.Address) (uint64, error)
	Burn(ctx context.Context, id uint64) error
	OwnerOf(ctx context.Context, id uint64) (common.Address, error)
	BalanceOf(ctx context.Context, owner common.Address) (uint64, error)
}

// Restorer is implemented by registries that can revive a burned token. The
// escrow uses it to reverse a burn it could not record.
type Restorer interface {
	Restore(ctx context.Context, id uint64, owner common.Address) error
}

// Token is the persisted ownership record of one id.
type Token struct {
	ID     uint64
	Owner  common.Address
	Burned bool
}

// TokenStore persists token records written through the registry.
type TokenStore interface {
	SaveToken(ctx context.Context, tok Token) error
	LoadTokens(ctx context.Context) ([]Token, error)
}

// Memory is an in-process registry. Ids start at 1 and are never reused.
type Memory struct {
	mu     deadlock.Mutex
	nextID uint64
	tokens map[uint64]*Token
	counts map[common.Address]uint64
	store  TokenStore
}

// NewMemory builds a registry; store may be nil.
func NewMemory(store TokenStore) *Memory {
	return &Memory{
		nextID: 1,
		tokens: make(map[uint64]*Token),
		counts: make(map[common.Address]uint64),
		store:  store,
	}
}

// Load restores tokens from the backing store.
func (m *Memory) Load(ctx context.Context) error {
	if m.store == nil {
		return nil
	}
	toks, err := m.store.LoadTokens(ctx)
	if err != nil {
		return fmt.Errorf("load tokens: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range toks {
		tok := t
		m.tokens[tok.ID] = &tok
		if !tok.Burned {
			m.counts[tok.Owner]++
		}
		if tok.ID >= m.nextID {
			m.nextID = tok.ID + 1
		}
	}
	return nil
}

func (m *Memory) save(ctx context.Context, tok Token) error {
	if m.store == nil {
		return nil
	}
	if err := m.store.SaveToken(ctx, tok); err != nil {
		return fmt.Errorf("save token %d: %w", tok.ID, err)
	}
	return nil
}

// Mint implements Registry.
func (m *Memory) Mint(ctx context.Context, owner common.Address) (uint64, error) {
	if owner == (common.Address{}) {
		return 0, ErrZeroOwner
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	tok := Token{ID: m.nextID, Owner: owner}
	if err := m.save(ctx, tok); err != nil {
		return 0, err
	}
	m.nextID++
	m.tokens[tok.ID] = &tok
	m.counts[owner]++
	return tok.ID, nil
}

// Burn implements Registry.
func (m *Memory) Burn(ctx context.Context, id uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tok, ok := m.tokens[id]
	if !ok || tok.Burned {
		return ErrNotMinted
	}
	burned := Token{ID: id, Owner: tok.Owner, Burned: true}
	if err := m.save(ctx, burned); err != nil {
		return err
	}
	tok.Burned = true
	m.counts[tok.Owner]--
	return nil
}

// Restore implements Restorer.
func (m *Memory) Restore(ctx context.Context, id uint64, owner common.Address) error {
	if owner == (common.Address{}) {
		return ErrZeroOwner
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	tok, ok := m.tokens[id]
	if !ok {
		return ErrNotMinted
	}
	if !tok.Burned {
		return ErrNotBurned
	}
	if err := m.save(ctx, Token{ID: id, Owner: owner}); err != nil {
		return err
	}
	tok.Owner = owner
	tok.Burned = false
	m.counts[owner]++
	return nil
}

// Transfer moves a live token between owners.
func (m *Memory) Transfer(ctx context.Context, from, to common.Address, id uint64) error {
	if to == (common.Address{}) {
		return ErrZeroOwner
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	tok, ok := m.tokens[id]
	if !ok || tok.Burned {
		return ErrNotMinted
	}
	if tok.Owner != from {
		return ErrWrongOwner
	}
	if err := m.save(ctx, Token{ID: id, Owner: to}); err != nil {
		return err
	}
	tok.Owner = to
	m.counts[from]--
	m.counts[to]++
	return nil
}

// OwnerOf implements Registry. Unknown and burned tokens report the zero address.
func (m *Memory) OwnerOf(ctx context.Context, id uint64) (common.Address, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	tok, ok := m.tokens[id]
	if !ok || tok.Burned {
		return common.Address{}, nil
	}
	return tok.Owner, nil
}

// BalanceOf implements Registry.
func (m *Memory) BalanceOf(ctx context.Context, owner common.Address) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts[owner], nil
}

// Exists reports whether id is minted and not burned.
func (m *Memory) Exists(id uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	tok, ok := m.tokens[id]
	return ok && !tok.Burned
}

var (
	_ Registry = (*Memory)(nil)
	_ Restorer = (*Memory)(nil)
)
