package credits

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"carbon-ledger/registry-backend/internal/database"
	"carbon-ledger/registry-backend/internal/events"
	"carbon-ledger/registry-backend/internal/ledger"
)

// ModuleAccount is the engine's own ledger account. It administers the
// fungible assets and NFT collections created for batch groups.
const ModuleAccount ledger.AccountID = "acct/carbon-credits"

// EscrowAccount custodies freshly minted credits listed to the marketplace.
const EscrowAccount ledger.AccountID = "acct/carbon-credits-escrow"

// Service is the project registry and mint/retire engine. All public
// operations are serialized: one runs to completion before the next begins,
// and each either commits every mutation or none.
type Service struct {
	mu     sync.Mutex
	store  Store
	tx     database.TxRunner
	assets ledger.AssetLedger
	nfts   ledger.NFTHandler
	kyc    ledger.KYCProvider
	sink   events.Sink
	limits Limits
	admin  ledger.AccountID
	logger *zap.Logger
	now    func() time.Time
}

func NewService(
	store Store,
	tx database.TxRunner,
	assets ledger.AssetLedger,
	nfts ledger.NFTHandler,
	kyc ledger.KYCProvider,
	sink events.Sink,
	limits Limits,
	admin ledger.AccountID,
	logger *zap.Logger,
) *Service {
	return &Service{
		store:  store,
		tx:     tx,
		assets: assets,
		nfts:   nfts,
		kyc:    kyc,
		sink:   sink,
		limits: limits,
		admin:  admin,
		logger: logger,
		now:    time.Now,
	}
}

// SetClock overrides the service clock; used by tests.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// Locker exposes the mutex serializing registry operations. An engine that
// composes a multi-step flow on top of this service holds it for the whole
// flow, so no other operation can interleave with its forwarded calls.
func (s *Service) Locker() *sync.Mutex {
	return &s.mu
}

// checkKYC verifies the account has cleared any KYC level.
func (s *Service) checkKYC(ctx context.Context, account ledger.AccountID) error {
	if _, ok := s.kyc.GetKYCLevel(ctx, account); !ok {
		return ErrKYCAuthorisationFailed
	}
	return nil
}

// checkForceOrigin verifies the caller may perform privileged maintenance.
func (s *Service) checkForceOrigin(caller ledger.AccountID) error {
	if caller != s.admin {
		return ErrNotAuthorised
	}
	return nil
}

// checkAuthorized verifies the caller is the force origin or on the
// authorized-account allowlist.
func (s *Service) checkAuthorized(ctx context.Context, caller ledger.AccountID) error {
	if caller == s.admin {
		return nil
	}
	accounts, err := s.store.AuthorizedAccounts(ctx)
	if err != nil {
		return err
	}
	for _, account := range accounts {
		if account == caller {
			return nil
		}
	}
	return ErrNotAuthorised
}

// CreateProject registers a new, unapproved project under a caller-chosen id.
func (s *Service) CreateProject(ctx context.Context, caller ledger.AccountID, projectID ProjectID, params CreateParams) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkKYC(ctx, caller); err != nil {
		return err
	}
	if projectID < s.limits.MinProjectID {
		return ErrInvalidProjectID
	}
	if err := s.limits.validateParams(&params); err != nil {
		return err
	}
	groups, err := s.limits.buildGroupMap(params.BatchGroups)
	if err != nil {
		return err
	}

	project := &Project{
		Originator:      caller,
		Name:            params.Name,
		Description:     params.Description,
		Location:        params.Location,
		Images:          params.Images,
		Videos:          params.Videos,
		Documents:       params.Documents,
		RegistryDetails: params.RegistryDetails,
		SDGDetails:      params.SDGDetails,
		Royalties:       params.Royalties,
		BatchGroups:     groups,
		ProjectType:     params.ProjectType,
		Created:         s.now(),
		Approved:        ApprovalPending,
	}
	if err := s.store.CreateProject(ctx, projectID, project); err != nil {
		return err
	}

	s.logger.Info("project created",
		zap.Uint64("project_id", uint64(projectID)),
		zap.String("originator", string(caller)),
		zap.Int("groups", len(groups)))
	s.sink.Publish(events.ProjectCreated{ProjectID: uint64(projectID)})
	return nil
}

// ResubmitProject replaces a pending or rejected project's details. Only the
// originator may resubmit, and the project returns to pending review.
func (s *Service) ResubmitProject(ctx context.Context, caller ledger.AccountID, projectID ProjectID, params CreateParams) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkKYC(ctx, caller); err != nil {
		return err
	}
	if err := s.limits.validateParams(&params); err != nil {
		return err
	}

	_, err := s.store.UpdateProject(ctx, projectID, func(project *Project) error {
		if project.Originator != caller {
			return ErrNotAuthorised
		}
		if project.Approved.IsApproved() {
			return ErrCannotModifyApprovedProject
		}
		groups, err := s.limits.buildGroupMap(params.BatchGroups)
		if err != nil {
			return err
		}
		now := s.now()
		project.Name = params.Name
		project.Description = params.Description
		project.Location = params.Location
		project.Images = params.Images
		project.Videos = params.Videos
		project.Documents = params.Documents
		project.RegistryDetails = params.RegistryDetails
		project.SDGDetails = params.SDGDetails
		project.Royalties = params.Royalties
		project.BatchGroups = groups
		project.ProjectType = params.ProjectType
		project.Updated = &now
		project.Approved = ApprovalPending
		return nil
	})
	if err != nil {
		return err
	}

	s.sink.Publish(events.ProjectResubmitted{ProjectID: uint64(projectID)})
	return nil
}

// UpdateProject lets the originator refresh descriptive fields of an
// approved project. Batch-group data is immutable once approved.
func (s *Service) UpdateProject(ctx context.Context, caller ledger.AccountID, projectID ProjectID, params CreateParams) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkKYC(ctx, caller); err != nil {
		return err
	}
	if err := s.limits.validateParams(&params); err != nil {
		return err
	}

	_, err := s.store.UpdateProject(ctx, projectID, func(project *Project) error {
		if !project.Approved.IsApproved() {
			return ErrCannotUpdateUnapprovedProject
		}
		if project.Originator != caller {
			return ErrNotAuthorised
		}
		now := s.now()
		project.Name = params.Name
		project.Description = params.Description
		project.Location = params.Location
		project.Images = params.Images
		project.Videos = params.Videos
		project.Documents = params.Documents
		project.RegistryDetails = params.RegistryDetails
		project.SDGDetails = params.SDGDetails
		project.Royalties = params.Royalties
		project.ProjectType = params.ProjectType
		project.Updated = &now
		return nil
	})
	if err != nil {
		return err
	}

	s.sink.Publish(events.ProjectUpdated{ProjectID: uint64(projectID)})
	return nil
}

// ApproveProject decides a pending project's review. Approval is one-way: a
// processed project cannot be re-decided, though rejected projects can be
// resubmitted by the originator.
func (s *Service) ApproveProject(ctx context.Context, caller ledger.AccountID, projectID ProjectID, approve bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkAuthorized(ctx, caller); err != nil {
		return err
	}

	_, err := s.store.UpdateProject(ctx, projectID, func(project *Project) error {
		if project.Approved != ApprovalPending {
			return ErrApprovalAlreadyProcessed
		}
		if approve {
			project.Approved = ApprovalApproved
		} else {
			project.Approved = ApprovalRejected
		}
		return nil
	})
	if err != nil {
		return err
	}

	if approve {
		s.logger.Info("project approved", zap.Uint64("project_id", uint64(projectID)))
		s.sink.Publish(events.ProjectApproved{ProjectID: uint64(projectID)})
	} else {
		s.logger.Info("project rejected", zap.Uint64("project_id", uint64(projectID)))
		s.sink.Publish(events.ProjectRejected{ProjectID: uint64(projectID)})
	}
	return nil
}

// AddBatchGroup appends a new group of fresh batches to an approved project.
func (s *Service) AddBatchGroup(ctx context.Context, caller ledger.AccountID, projectID ProjectID, group BatchGroup) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var groupID GroupID
	_, err := s.store.UpdateProject(ctx, projectID, func(project *Project) error {
		if !project.Approved.IsApproved() {
			return ErrCannotUpdateUnapprovedProject
		}
		if project.Originator != caller {
			return ErrNotAuthorised
		}
		if len(project.BatchGroups) >= s.limits.MaxGroupCount {
			return ErrTooManyGroups
		}
		normalized, err := s.limits.normalizeGroup(&group)
		if err != nil {
			return err
		}
		groupID = GroupID(len(project.BatchGroups))
		project.BatchGroups[groupID] = normalized
		return nil
	})
	if err != nil {
		return err
	}

	s.sink.Publish(events.BatchGroupAdded{ProjectID: uint64(projectID), GroupID: uint64(groupID)})
	return nil
}

// ForceAddAuthorizedAccount adds an account to the approval allowlist.
func (s *Service) ForceAddAuthorizedAccount(ctx context.Context, caller, account ledger.AccountID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkForceOrigin(caller); err != nil {
		return err
	}
	accounts, err := s.store.AuthorizedAccounts(ctx)
	if err != nil {
		return err
	}
	for _, existing := range accounts {
		if existing == account {
			return ErrAuthorizedAccountExists
		}
	}
	if len(accounts) >= s.limits.MaxAuthorizedAccounts {
		return ErrTooManyAuthorizedAccounts
	}
	if err := s.store.SetAuthorizedAccounts(ctx, append(accounts, account)); err != nil {
		return err
	}

	s.sink.Publish(events.AuthorizedAccountAdded{Account: account})
	return nil
}

// ForceRemoveAuthorizedAccount removes an account from the allowlist. It is
// a no-op, without an event, when the account is not listed.
func (s *Service) ForceRemoveAuthorizedAccount(ctx context.Context, caller, account ledger.AccountID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkForceOrigin(caller); err != nil {
		return err
	}
	accounts, err := s.store.AuthorizedAccounts(ctx)
	if err != nil {
		return err
	}
	for i, existing := range accounts {
		if existing == account {
			accounts = append(accounts[:i], accounts[i+1:]...)
			if err := s.store.SetAuthorizedAccounts(ctx, accounts); err != nil {
				return err
			}
			s.sink.Publish(events.AuthorizedAccountRemoved{Account: account})
			return nil
		}
	}
	return nil
}

// ListAuthorizedAccounts returns the current allowlist.
func (s *Service) ListAuthorizedAccounts(ctx context.Context) ([]ledger.AccountID, error) {
	return s.store.AuthorizedAccounts(ctx)
}

// GetProjectDetails returns a copy of the project, if present. Consumed by
// the exchange layer to validate KYC-gated transfers.
func (s *Service) GetProjectDetails(ctx context.Context, projectID ProjectID) (*Project, bool) {
	project, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return nil, false
	}
	return project, true
}

// GetRetirement returns the receipt behind an NFT item.
func (s *Service) GetRetirement(ctx context.Context, assetID ledger.AssetID, itemID ledger.ItemID) (RetiredCreditsData, error) {
	return s.store.GetRetirement(ctx, assetID, itemID)
}

// LookupAsset resolves an asset id to the project and group it backs.
func (s *Service) LookupAsset(ctx context.Context, assetID ledger.AssetID) (ProjectID, GroupID, bool) {
	projectID, groupID, ok, err := s.store.LookupAsset(ctx, assetID)
	if err != nil {
		return 0, 0, false
	}
	return projectID, groupID, ok
}

// ListProjects returns every stored project.
func (s *Service) ListProjects(ctx context.Context) ([]StoredProject, error) {
	return s.store.ListProjects(ctx)
}

// ForceSetProjectStorage overwrites a project record. Privileged escape
// hatch; no validation beyond the origin check.
func (s *Service) ForceSetProjectStorage(ctx context.Context, caller ledger.AccountID, projectID ProjectID, project *Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkForceOrigin(caller); err != nil {
		return err
	}
	if err := s.store.PutProject(ctx, projectID, project); err != nil {
		return err
	}
	s.logger.Warn("project storage force-set", zap.Uint64("project_id", uint64(projectID)))
	return nil
}

// ForceRemoveProject deletes a project record outright.
func (s *Service) ForceRemoveProject(ctx context.Context, caller ledger.AccountID, projectID ProjectID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkForceOrigin(caller); err != nil {
		return err
	}
	if err := s.store.DeleteProject(ctx, projectID); err != nil {
		return err
	}
	s.logger.Warn("project force-removed", zap.Uint64("project_id", uint64(projectID)))
	return nil
}

// ForceApproveAndMintCredits approves a pending project and mints credits
// from one of its groups in a single privileged call. The recipient must
// have cleared KYC and, unless it is the originator, be on the authorized
// allowlist. Approval and mint commit or abort together.
func (s *Service) ForceApproveAndMintCredits(ctx context.Context, caller, recipient ledger.AccountID, projectID ProjectID, groupID GroupID, amount uint64, listToMarketplace bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkForceOrigin(caller); err != nil {
		return err
	}
	if err := s.checkKYC(ctx, recipient); err != nil {
		return err
	}

	rb := snapshotAll(s.store)
	err := s.tx.InTransaction(ctx, func(ctx context.Context) error {
		_, err := s.store.UpdateProject(ctx, projectID, func(project *Project) error {
			if project.Approved != ApprovalPending {
				return ErrApprovalAlreadyProcessed
			}
			project.Approved = ApprovalApproved
			return nil
		})
		if err != nil {
			return err
		}
		return s.mintLocked(ctx, recipient, projectID, groupID, amount, listToMarketplace)
	})
	if err != nil {
		rb.restore()
		return err
	}

	s.logger.Info("project force-approved and minted",
		zap.Uint64("project_id", uint64(projectID)),
		zap.Uint64("amount", amount),
		zap.String("recipient", string(recipient)))
	s.sink.Publish(events.ProjectApproved{ProjectID: uint64(projectID)})
	return nil
}

// ForceSetRetirement overwrites a retirement receipt. Privileged escape
// hatch; no validation beyond the origin check.
func (s *Service) ForceSetRetirement(ctx context.Context, caller ledger.AccountID, assetID ledger.AssetID, itemID ledger.ItemID, data RetiredCreditsData) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkForceOrigin(caller); err != nil {
		return err
	}
	if err := s.store.PutRetirement(ctx, assetID, itemID, data); err != nil {
		return err
	}
	s.logger.Warn("retirement receipt force-set",
		zap.Uint64("asset_id", uint64(assetID)),
		zap.Uint64("item_id", uint64(itemID)))
	return nil
}

// ForceSetNextAssetID resets the asset id counter.
func (s *Service) ForceSetNextAssetID(ctx context.Context, caller ledger.AccountID, next ledger.AssetID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkForceOrigin(caller); err != nil {
		return err
	}
	return s.store.SetNextAssetID(ctx, next)
}

// ForceSetNextItemID resets the receipt counter for an asset's collection.
func (s *Service) ForceSetNextItemID(ctx context.Context, caller ledger.AccountID, assetID ledger.AssetID, next ledger.ItemID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkForceOrigin(caller); err != nil {
		return err
	}
	return s.store.SetNextItemID(ctx, assetID, next)
}

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}
