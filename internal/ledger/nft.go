package ledger

import (
	"context"
	"errors"
	"sync"
)

// ItemID identifies a single item within an NFT collection.
type ItemID uint64

var (
	ErrCollectionExists   = errors.New("collection already exists")
	ErrCollectionNotFound = errors.New("collection not found")
	ErrItemExists         = errors.New("item id already minted")
)

// NFTHandler is the non-fungible collaborator used to issue retirement receipts.
// Collections are keyed by the asset id of the credits they document.
type NFTHandler interface {
	CreateCollection(ctx context.Context, collection AssetID, owner, admin AccountID) error
	MintItem(ctx context.Context, collection AssetID, item ItemID, to AccountID) error
}

type nftCollection struct {
	owner AccountID
	admin AccountID
	items map[ItemID]AccountID
}

// MemoryNFTHandler is an in-memory NFTHandler.
type MemoryNFTHandler struct {
	mu          sync.Mutex
	collections map[AssetID]*nftCollection
}

func NewMemoryNFTHandler() *MemoryNFTHandler {
	return &MemoryNFTHandler{collections: make(map[AssetID]*nftCollection)}
}

func (h *MemoryNFTHandler) CreateCollection(_ context.Context, collection AssetID, owner, admin AccountID) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.collections[collection]; ok {
		return ErrCollectionExists
	}
	h.collections[collection] = &nftCollection{owner: owner, admin: admin, items: make(map[ItemID]AccountID)}
	return nil
}

func (h *MemoryNFTHandler) MintItem(_ context.Context, collection AssetID, item ItemID, to AccountID) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	col, ok := h.collections[collection]
	if !ok {
		return ErrCollectionNotFound
	}
	if _, ok := col.items[item]; ok {
		return ErrItemExists
	}
	col.items[item] = to
	return nil
}

// ItemOwner returns the owner of an item, if minted.
func (h *MemoryNFTHandler) ItemOwner(collection AssetID, item ItemID) (AccountID, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	col, ok := h.collections[collection]
	if !ok {
		return "", false
	}
	owner, ok := col.items[item]
	return owner, ok
}

// ItemCount returns the number of items minted in a collection.
func (h *MemoryNFTHandler) ItemCount(collection AssetID) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	col, ok := h.collections[collection]
	if !ok {
		return 0
	}
	return len(col.items)
}

type nftSnapshot struct {
	collections map[AssetID]*nftCollection
}

func (h *MemoryNFTHandler) Snapshot() Snapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	snap := nftSnapshot{collections: make(map[AssetID]*nftCollection, len(h.collections))}
	for id, col := range h.collections {
		items := make(map[ItemID]AccountID, len(col.items))
		for item, owner := range col.items {
			items[item] = owner
		}
		snap.collections[id] = &nftCollection{owner: col.owner, admin: col.admin, items: items}
	}
	return snap
}

func (h *MemoryNFTHandler) Restore(s Snapshot) {
	snap, ok := s.(nftSnapshot)
	if !ok {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.collections = snap.collections
}
