package pool

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"carbon-ledger/registry-backend/internal/credits"
	"carbon-ledger/registry-backend/internal/database"
	"carbon-ledger/registry-backend/internal/events"
	"carbon-ledger/registry-backend/internal/ledger"
	"carbon-ledger/registry-backend/pkg/safemath"
)

// ModuleAccount custodies the project tokens deposited into every pool and
// administers the pool share assets.
const ModuleAccount ledger.AccountID = "acct/carbon-pools"

// CreditsEngine is the slice of the credits service the pool engine needs.
// Pool operations hold the mutex from Locker end to end, so the forwarded
// retire calls use the locked entry point.
type CreditsEngine interface {
	Locker() *sync.Mutex
	GetProjectDetails(ctx context.Context, projectID credits.ProjectID) (*credits.Project, bool)
	DefaultGroup(ctx context.Context, projectID credits.ProjectID) (credits.GroupID, *credits.BatchGroup, bool)
	CalculateIssuanceYear(ctx context.Context, projectID credits.ProjectID, groupID credits.GroupID) (credits.IssuanceYear, bool)
	RetireLocked(ctx context.Context, caller ledger.AccountID, projectID credits.ProjectID, groupID credits.GroupID, amount uint64, reason string) error
}

// Service aggregates project credits into fungible pool shares and forwards
// pool retirements to the underlying projects, oldest vintage year first.
// Operations serialize on the registry's own operation mutex, so a pool
// retirement and a direct mint or retire can never interleave.
type Service struct {
	guard  *sync.Mutex
	store  Store
	tx     database.TxRunner
	assets ledger.AssetLedger
	engine CreditsEngine
	sink   events.Sink
	limits Limits
	admin  ledger.AccountID
	logger *zap.Logger
	// rollbackTargets are every piece of external state a pool retirement
	// can touch: the asset ledger, the NFT handler and, in memory mode, the
	// credits and pool stores.
	rollbackTargets []ledger.Snapshotter
}

func NewService(
	store Store,
	tx database.TxRunner,
	assets ledger.AssetLedger,
	engine CreditsEngine,
	sink events.Sink,
	limits Limits,
	admin ledger.AccountID,
	logger *zap.Logger,
	rollbackTargets ...ledger.Snapshotter,
) *Service {
	return &Service{
		guard:           engine.Locker(),
		store:           store,
		tx:              tx,
		assets:          assets,
		engine:          engine,
		sink:            sink,
		limits:          limits,
		admin:           admin,
		logger:          logger,
		rollbackTargets: rollbackTargets,
	}
}

func (s *Service) snapshotAll() []ledger.Snapshot {
	snaps := make([]ledger.Snapshot, len(s.rollbackTargets))
	for i, target := range s.rollbackTargets {
		snaps[i] = target.Snapshot()
	}
	return snaps
}

func (s *Service) restoreAll(snaps []ledger.Snapshot) {
	for i, target := range s.rollbackTargets {
		target.Restore(snaps[i])
	}
}

// Create registers a new pool and its share asset. The share asset carries
// the given symbol with zero decimals and a minimum balance of one; the
// caller becomes the pool admin.
func (s *Service) Create(ctx context.Context, caller ledger.AccountID, poolID PoolID, config PoolConfig, maxLimit *uint32, assetSymbol string) error {
	s.guard.Lock()
	defer s.guard.Unlock()

	if poolID < s.limits.MinPoolID {
		return ErrPoolIDBelowMinimum
	}
	if len(assetSymbol) > s.limits.MaxAssetSymbolLength {
		return ErrSymbolTooLong
	}
	if len(config.RegistryList) > s.limits.MaxRegistryListCount {
		return ErrRegistryNotPermitted
	}
	if len(config.ProjectIDList) > s.limits.MaxProjectIDList {
		return ErrTooManyProjects
	}

	limit := uint32(s.limits.MaxProjectIDList)
	if maxLimit != nil {
		if *maxLimit > uint32(s.limits.MaxProjectIDList) {
			return ErrMaxLimitTooHigh
		}
		limit = *maxLimit
	}

	snaps := s.snapshotAll()

	if err := s.assets.CreateAsset(ctx, ledger.AssetID(poolID), ModuleAccount, true, 1); err != nil {
		s.restoreAll(snaps)
		return fmt.Errorf("create pool asset: %w", err)
	}
	if err := s.assets.SetMetadata(ctx, ledger.AssetID(poolID), assetSymbol, assetSymbol, 0); err != nil {
		s.restoreAll(snaps)
		return fmt.Errorf("set pool asset metadata: %w", err)
	}

	pool := &Pool{
		Admin:    caller,
		Config:   config,
		MaxLimit: limit,
		Credits:  make(CreditsMap),
	}
	if err := s.store.CreatePool(ctx, poolID, pool); err != nil {
		s.restoreAll(snaps)
		return err
	}

	s.logger.Info("pool created",
		zap.Uint64("pool_id", uint64(poolID)),
		zap.String("admin", string(caller)))
	s.sink.Publish(events.PoolCreated{PoolID: uint64(poolID), Admin: caller})
	return nil
}

// checkConfig applies the pool's registry and project allowlists.
func checkConfig(pool *Pool, projectID credits.ProjectID, project *credits.Project) error {
	if len(pool.Config.RegistryList) > 0 {
		// Projects registered with multiple registries are vetted on their
		// primary entry, mirroring how the allowlist is curated.
		if len(project.RegistryDetails) == 0 {
			return ErrProjectNotFound
		}
		permitted := false
		for _, name := range pool.Config.RegistryList {
			if name == project.RegistryDetails[0].RegName {
				permitted = true
				break
			}
		}
		if !permitted {
			return ErrRegistryNotPermitted
		}
	}
	if len(pool.Config.ProjectIDList) > 0 {
		whitelisted := false
		for _, id := range pool.Config.ProjectIDList {
			if id == projectID {
				whitelisted = true
				break
			}
		}
		if !whitelisted {
			return ErrProjectNotWhitelisted
		}
	}
	return nil
}

// Deposit moves project credits into the pool's custody and mints pool
// shares 1:1 to the depositor. The deposit is recorded under the issuance
// year of the project's oldest batch so pool retirement can stay
// oldest-first.
func (s *Service) Deposit(ctx context.Context, caller ledger.AccountID, poolID PoolID, projectID credits.ProjectID, amount uint64) error {
	s.guard.Lock()
	defer s.guard.Unlock()

	if amount == 0 {
		return ErrInvalidAmount
	}
	pool, err := s.store.GetPool(ctx, poolID)
	if err != nil {
		return err
	}
	project, ok := s.engine.GetProjectDetails(ctx, projectID)
	if !ok {
		return ErrProjectNotFound
	}
	if err := checkConfig(pool, projectID, project); err != nil {
		return err
	}

	groupID, group, ok := s.engine.DefaultGroup(ctx, projectID)
	if !ok || group.AssetID == 0 {
		return ErrProjectNotFound
	}
	issuanceYear, ok := s.engine.CalculateIssuanceYear(ctx, projectID, groupID)
	if !ok {
		return ErrIssuanceYear
	}

	byProject, yearExists := pool.Credits[issuanceYear]
	if !yearExists {
		if len(pool.Credits) >= s.limits.MaxIssuanceYearCount {
			return ErrTooManyYears
		}
		byProject = make(map[credits.ProjectID]uint64)
	}
	existing, projectExists := byProject[projectID]
	if !projectExists && len(byProject) >= int(pool.MaxLimit) {
		return ErrTooManyProjects
	}
	updated, err := safemath.CheckedAdd(existing, amount)
	if err != nil {
		return err
	}

	snaps := s.snapshotAll()

	if err := s.assets.Transfer(ctx, group.AssetID, caller, ModuleAccount, amount); err != nil {
		s.restoreAll(snaps)
		return fmt.Errorf("transfer credits to pool: %w", err)
	}
	if err := s.assets.Mint(ctx, ledger.AssetID(poolID), caller, amount); err != nil {
		s.restoreAll(snaps)
		return fmt.Errorf("mint pool shares: %w", err)
	}

	byProject[projectID] = updated
	pool.Credits[issuanceYear] = byProject
	if err := s.store.PutPool(ctx, poolID, pool); err != nil {
		s.restoreAll(snaps)
		return err
	}

	s.logger.Info("pool deposit",
		zap.Uint64("pool_id", uint64(poolID)),
		zap.Uint64("project_id", uint64(projectID)),
		zap.Uint16("issuance_year", issuanceYear),
		zap.Uint64("amount", amount))
	s.sink.Publish(events.PoolDeposit{
		PoolID:    uint64(poolID),
		ProjectID: uint64(projectID),
		Account:   caller,
		Amount:    amount,
	})
	return nil
}

// Retire burns pool shares from the caller and retires the underlying
// project credits oldest vintage year first, the pool's custodial account
// acting as the retiring holder. If any forwarded retirement fails the whole
// operation rolls back.
func (s *Service) Retire(ctx context.Context, caller ledger.AccountID, poolID PoolID, amount uint64) error {
	s.guard.Lock()
	defer s.guard.Unlock()

	if amount == 0 {
		return ErrInvalidAmount
	}
	pool, err := s.store.GetPool(ctx, poolID)
	if err != nil {
		return err
	}

	snaps := s.snapshotAll()

	// The share burn, every forwarded retirement and the pool record commit
	// as one unit of work; collaborator state restores from the snapshots.
	err = s.tx.InTransaction(ctx, func(ctx context.Context) error {
		if err := s.assets.BurnFrom(ctx, ledger.AssetID(poolID), caller, amount); err != nil {
			return fmt.Errorf("burn pool shares: %w", err)
		}

		remaining := amount
		for _, year := range pool.Credits.years() {
			byProject := pool.Credits[year]
			for _, projectID := range projectIDs(byProject) {
				if remaining == 0 {
					break
				}
				available := byProject[projectID]
				actual := safemath.Min(available, remaining)
				if actual == 0 {
					continue
				}

				groupID, _, ok := s.engine.DefaultGroup(ctx, projectID)
				if !ok {
					return ErrProjectNotFound
				}
				if err := s.engine.RetireLocked(ctx, ModuleAccount, projectID, groupID, actual, ""); err != nil {
					return fmt.Errorf("retire project %d credits: %w", projectID, err)
				}

				if available == actual {
					delete(byProject, projectID)
				} else {
					byProject[projectID] = available - actual
				}
				remaining -= actual
			}
			if len(byProject) == 0 {
				delete(pool.Credits, year)
			}
			if remaining == 0 {
				break
			}
		}
		if remaining != 0 {
			return ErrInsufficientPoolCredits
		}

		return s.store.PutPool(ctx, poolID, pool)
	})
	if err != nil {
		s.restoreAll(snaps)
		return err
	}

	s.logger.Info("pool retired",
		zap.Uint64("pool_id", uint64(poolID)),
		zap.Uint64("amount", amount),
		zap.String("account", string(caller)))
	s.sink.Publish(events.PoolRetired{PoolID: uint64(poolID), Account: caller, Amount: amount})
	return nil
}

// GetPool returns a copy of the pool, if present.
func (s *Service) GetPool(ctx context.Context, poolID PoolID) (*Pool, error) {
	return s.store.GetPool(ctx, poolID)
}

// ForceSetPoolStorage overwrites a pool record. Privileged escape hatch.
func (s *Service) ForceSetPoolStorage(ctx context.Context, caller ledger.AccountID, poolID PoolID, pool *Pool) error {
	s.guard.Lock()
	defer s.guard.Unlock()

	if caller != s.admin {
		return credits.ErrNotAuthorised
	}
	if err := s.store.PutPool(ctx, poolID, pool); err != nil {
		return err
	}
	s.logger.Warn("pool storage force-set", zap.Uint64("pool_id", uint64(poolID)))
	return nil
}
