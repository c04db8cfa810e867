package ledger

import (
	"context"
	"errors"
	"sync"

	"carbon-ledger/registry-backend/pkg/safemath"
)

// AccountID identifies an account on the ledger.
type AccountID string

// AssetID identifies a fungible asset class.
type AssetID uint64

var (
	ErrAssetExists   = errors.New("asset id already registered")
	ErrAssetNotFound = errors.New("asset not found")
	ErrBalanceLow    = errors.New("balance too low")
)

// AssetLedger is the fungible asset collaborator consumed by the credit engines.
// Every call is atomic: it either fully applies or returns an error with no change.
type AssetLedger interface {
	CreateAsset(ctx context.Context, id AssetID, admin AccountID, isSufficient bool, minBalance uint64) error
	SetMetadata(ctx context.Context, id AssetID, name, symbol string, decimals uint8) error
	Mint(ctx context.Context, id AssetID, to AccountID, amount uint64) error
	BurnFrom(ctx context.Context, id AssetID, from AccountID, amount uint64) error
	Transfer(ctx context.Context, id AssetID, from, to AccountID, amount uint64) error
	Balance(ctx context.Context, id AssetID, who AccountID) uint64
}

// Snapshot is an opaque point-in-time capture of collaborator state.
type Snapshot interface{}

// Snapshotter is implemented by collaborators that can roll back to a prior
// snapshot. The engines use it to undo external side effects when a later step
// of an operation fails.
type Snapshotter interface {
	Snapshot() Snapshot
	Restore(s Snapshot)
}

type assetMeta struct {
	admin        AccountID
	name         string
	symbol       string
	decimals     uint8
	isSufficient bool
	minBalance   uint64
}

// MemoryAssetLedger is an in-memory AssetLedger.
type MemoryAssetLedger struct {
	mu       sync.Mutex
	assets   map[AssetID]assetMeta
	balances map[AssetID]map[AccountID]uint64
}

func NewMemoryAssetLedger() *MemoryAssetLedger {
	return &MemoryAssetLedger{
		assets:   make(map[AssetID]assetMeta),
		balances: make(map[AssetID]map[AccountID]uint64),
	}
}

func (l *MemoryAssetLedger) CreateAsset(_ context.Context, id AssetID, admin AccountID, isSufficient bool, minBalance uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.assets[id]; ok {
		return ErrAssetExists
	}
	l.assets[id] = assetMeta{admin: admin, isSufficient: isSufficient, minBalance: minBalance}
	l.balances[id] = make(map[AccountID]uint64)
	return nil
}

func (l *MemoryAssetLedger) SetMetadata(_ context.Context, id AssetID, name, symbol string, decimals uint8) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	meta, ok := l.assets[id]
	if !ok {
		return ErrAssetNotFound
	}
	meta.name = name
	meta.symbol = symbol
	meta.decimals = decimals
	l.assets[id] = meta
	return nil
}

func (l *MemoryAssetLedger) Mint(_ context.Context, id AssetID, to AccountID, amount uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	accounts, ok := l.balances[id]
	if !ok {
		return ErrAssetNotFound
	}
	updated, err := safemath.CheckedAdd(accounts[to], amount)
	if err != nil {
		return err
	}
	accounts[to] = updated
	return nil
}

func (l *MemoryAssetLedger) BurnFrom(_ context.Context, id AssetID, from AccountID, amount uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	accounts, ok := l.balances[id]
	if !ok {
		return ErrAssetNotFound
	}
	if accounts[from] < amount {
		return ErrBalanceLow
	}
	accounts[from] -= amount
	if accounts[from] == 0 {
		delete(accounts, from)
	}
	return nil
}

func (l *MemoryAssetLedger) Transfer(_ context.Context, id AssetID, from, to AccountID, amount uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	accounts, ok := l.balances[id]
	if !ok {
		return ErrAssetNotFound
	}
	if accounts[from] < amount {
		return ErrBalanceLow
	}
	credited, err := safemath.CheckedAdd(accounts[to], amount)
	if err != nil {
		return err
	}
	accounts[from] -= amount
	if accounts[from] == 0 {
		delete(accounts, from)
	}
	accounts[to] = credited
	return nil
}

func (l *MemoryAssetLedger) Balance(_ context.Context, id AssetID, who AccountID) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[id][who]
}

// HasAsset reports whether the asset id has been registered.
func (l *MemoryAssetLedger) HasAsset(id AssetID) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.assets[id]
	return ok
}

type assetSnapshot struct {
	assets   map[AssetID]assetMeta
	balances map[AssetID]map[AccountID]uint64
}

func (l *MemoryAssetLedger) Snapshot() Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	snap := assetSnapshot{
		assets:   make(map[AssetID]assetMeta, len(l.assets)),
		balances: make(map[AssetID]map[AccountID]uint64, len(l.balances)),
	}
	for id, meta := range l.assets {
		snap.assets[id] = meta
	}
	for id, accounts := range l.balances {
		cp := make(map[AccountID]uint64, len(accounts))
		for who, bal := range accounts {
			cp[who] = bal
		}
		snap.balances[id] = cp
	}
	return snap
}

func (l *MemoryAssetLedger) Restore(s Snapshot) {
	snap, ok := s.(assetSnapshot)
	if !ok {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.assets = snap.assets
	l.balances = snap.balances
}
