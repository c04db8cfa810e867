package credits

import (
	"context"
	"sync"

	"carbon-ledger/registry-backend/internal/ledger"
)

// StoredProject pairs a project with its id for listings.
type StoredProject struct {
	ID      ProjectID
	Project *Project
}

// Store is the persistence boundary of the credits engine. Reads return deep
// copies; UpdateProject hands the callback a copy and commits it only when
// the callback returns nil, so a failed operation leaves no trace.
type Store interface {
	CreateProject(ctx context.Context, id ProjectID, project *Project) error
	GetProject(ctx context.Context, id ProjectID) (*Project, error)
	PutProject(ctx context.Context, id ProjectID, project *Project) error
	DeleteProject(ctx context.Context, id ProjectID) error
	UpdateProject(ctx context.Context, id ProjectID, fn func(*Project) error) (*Project, error)
	ListProjects(ctx context.Context) ([]StoredProject, error)

	LookupAsset(ctx context.Context, assetID ledger.AssetID) (ProjectID, GroupID, bool, error)
	PutAssetLookup(ctx context.Context, assetID ledger.AssetID, projectID ProjectID, groupID GroupID) error

	NextAssetID(ctx context.Context) (ledger.AssetID, error)
	SetNextAssetID(ctx context.Context, id ledger.AssetID) error
	NextItemID(ctx context.Context, assetID ledger.AssetID) (ledger.ItemID, bool, error)
	SetNextItemID(ctx context.Context, assetID ledger.AssetID, itemID ledger.ItemID) error

	PutRetirement(ctx context.Context, assetID ledger.AssetID, itemID ledger.ItemID, data RetiredCreditsData) error
	GetRetirement(ctx context.Context, assetID ledger.AssetID, itemID ledger.ItemID) (RetiredCreditsData, error)

	AuthorizedAccounts(ctx context.Context) ([]ledger.AccountID, error)
	SetAuthorizedAccounts(ctx context.Context, accounts []ledger.AccountID) error
}

// MemoryStore keeps all engine state in process. It is the deterministic
// state machine backing tests and single-node runs.
type MemoryStore struct {
	mu          sync.Mutex
	projects    map[ProjectID]*Project
	assetLookup map[ledger.AssetID][2]uint64
	nextAssetID ledger.AssetID
	nextItemIDs map[ledger.AssetID]ledger.ItemID
	retirements map[ledger.AssetID]map[ledger.ItemID]RetiredCreditsData
	authorized  []ledger.AccountID
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		projects:    make(map[ProjectID]*Project),
		assetLookup: make(map[ledger.AssetID][2]uint64),
		nextItemIDs: make(map[ledger.AssetID]ledger.ItemID),
		retirements: make(map[ledger.AssetID]map[ledger.ItemID]RetiredCreditsData),
	}
}

func (s *MemoryStore) CreateProject(_ context.Context, id ProjectID, project *Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.projects[id]; ok {
		return ErrProjectIDInUse
	}
	s.projects[id] = project.Clone()
	return nil
}

func (s *MemoryStore) GetProject(_ context.Context, id ProjectID) (*Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	project, ok := s.projects[id]
	if !ok {
		return nil, ErrProjectNotFound
	}
	return project.Clone(), nil
}

func (s *MemoryStore) PutProject(_ context.Context, id ProjectID, project *Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.projects[id] = project.Clone()
	return nil
}

func (s *MemoryStore) DeleteProject(_ context.Context, id ProjectID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.projects[id]; !ok {
		return ErrProjectNotFound
	}
	delete(s.projects, id)
	return nil
}

func (s *MemoryStore) UpdateProject(_ context.Context, id ProjectID, fn func(*Project) error) (*Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	project, ok := s.projects[id]
	if !ok {
		return nil, ErrProjectNotFound
	}
	scratch := project.Clone()
	if err := fn(scratch); err != nil {
		return nil, err
	}
	s.projects[id] = scratch
	return scratch.Clone(), nil
}

func (s *MemoryStore) ListProjects(_ context.Context) ([]StoredProject, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]StoredProject, 0, len(s.projects))
	for id, project := range s.projects {
		out = append(out, StoredProject{ID: id, Project: project.Clone()})
	}
	return out, nil
}

func (s *MemoryStore) LookupAsset(_ context.Context, assetID ledger.AssetID) (ProjectID, GroupID, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.assetLookup[assetID]
	if !ok {
		return 0, 0, false, nil
	}
	return ProjectID(entry[0]), GroupID(entry[1]), true, nil
}

func (s *MemoryStore) PutAssetLookup(_ context.Context, assetID ledger.AssetID, projectID ProjectID, groupID GroupID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.assetLookup[assetID] = [2]uint64{uint64(projectID), uint64(groupID)}
	return nil
}

func (s *MemoryStore) NextAssetID(_ context.Context) (ledger.AssetID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextAssetID, nil
}

func (s *MemoryStore) SetNextAssetID(_ context.Context, id ledger.AssetID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextAssetID = id
	return nil
}

func (s *MemoryStore) NextItemID(_ context.Context, assetID ledger.AssetID) (ledger.ItemID, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	itemID, ok := s.nextItemIDs[assetID]
	return itemID, ok, nil
}

func (s *MemoryStore) SetNextItemID(_ context.Context, assetID ledger.AssetID, itemID ledger.ItemID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextItemIDs[assetID] = itemID
	return nil
}

func (s *MemoryStore) PutRetirement(_ context.Context, assetID ledger.AssetID, itemID ledger.ItemID, data RetiredCreditsData) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	byItem, ok := s.retirements[assetID]
	if !ok {
		byItem = make(map[ledger.ItemID]RetiredCreditsData)
		s.retirements[assetID] = byItem
	}
	data.RetireData = append([]BatchRetireData(nil), data.RetireData...)
	byItem[itemID] = data
	return nil
}

func (s *MemoryStore) GetRetirement(_ context.Context, assetID ledger.AssetID, itemID ledger.ItemID) (RetiredCreditsData, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.retirements[assetID][itemID]
	if !ok {
		return RetiredCreditsData{}, ErrRetirementNotFound
	}
	data.RetireData = append([]BatchRetireData(nil), data.RetireData...)
	return data, nil
}

func (s *MemoryStore) AuthorizedAccounts(_ context.Context) ([]ledger.AccountID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ledger.AccountID(nil), s.authorized...), nil
}

func (s *MemoryStore) SetAuthorizedAccounts(_ context.Context, accounts []ledger.AccountID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.authorized = append([]ledger.AccountID(nil), accounts...)
	return nil
}

type storeSnapshot struct {
	projects    map[ProjectID]*Project
	assetLookup map[ledger.AssetID][2]uint64
	nextAssetID ledger.AssetID
	nextItemIDs map[ledger.AssetID]ledger.ItemID
	retirements map[ledger.AssetID]map[ledger.ItemID]RetiredCreditsData
	authorized  []ledger.AccountID
}

// Snapshot captures the full store state; used by the pool engine to roll
// back forwarded retirements when a multi-project retirement fails midway.
func (s *MemoryStore) Snapshot() ledger.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := storeSnapshot{
		projects:    make(map[ProjectID]*Project, len(s.projects)),
		assetLookup: make(map[ledger.AssetID][2]uint64, len(s.assetLookup)),
		nextAssetID: s.nextAssetID,
		nextItemIDs: make(map[ledger.AssetID]ledger.ItemID, len(s.nextItemIDs)),
		retirements: make(map[ledger.AssetID]map[ledger.ItemID]RetiredCreditsData, len(s.retirements)),
		authorized:  append([]ledger.AccountID(nil), s.authorized...),
	}
	for id, project := range s.projects {
		snap.projects[id] = project.Clone()
	}
	for id, entry := range s.assetLookup {
		snap.assetLookup[id] = entry
	}
	for id, item := range s.nextItemIDs {
		snap.nextItemIDs[id] = item
	}
	for asset, byItem := range s.retirements {
		cp := make(map[ledger.ItemID]RetiredCreditsData, len(byItem))
		for item, data := range byItem {
			data.RetireData = append([]BatchRetireData(nil), data.RetireData...)
			cp[item] = data
		}
		snap.retirements[asset] = cp
	}
	return snap
}

func (s *MemoryStore) Restore(snapshot ledger.Snapshot) {
	snap, ok := snapshot.(storeSnapshot)
	if !ok {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.projects = snap.projects
	s.assetLookup = snap.assetLookup
	s.nextAssetID = snap.nextAssetID
	s.nextItemIDs = snap.nextItemIDs
	s.retirements = snap.retirements
	s.authorized = snap.authorized
}
