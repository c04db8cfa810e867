package ledger

import (
	"context"
	"sync"
)

// KYCLevel is the verification tier an account has cleared.
type KYCLevel uint8

const (
	KYCLevel1 KYCLevel = iota + 1
	KYCLevel2
	KYCLevel3
	KYCLevel4
)

// KYCProvider exposes read-only membership lookups.
type KYCProvider interface {
	// GetKYCLevel returns the account's level, or false if the account has
	// not passed KYC.
	GetKYCLevel(ctx context.Context, account AccountID) (KYCLevel, bool)
}

// MemoryKYCProvider is an in-memory KYCProvider.
type MemoryKYCProvider struct {
	mu     sync.Mutex
	levels map[AccountID]KYCLevel
}

func NewMemoryKYCProvider() *MemoryKYCProvider {
	return &MemoryKYCProvider{levels: make(map[AccountID]KYCLevel)}
}

// SetLevel registers or updates an account's KYC level.
func (p *MemoryKYCProvider) SetLevel(account AccountID, level KYCLevel) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.levels[account] = level
}

// Remove drops an account from the member list.
func (p *MemoryKYCProvider) Remove(account AccountID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.levels, account)
}

func (p *MemoryKYCProvider) GetKYCLevel(_ context.Context, account AccountID) (KYCLevel, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	level, ok := p.levels[account]
	return level, ok
}
