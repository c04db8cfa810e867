package credits

import (
	"context"
	"strconv"

	"go.uber.org/zap"

	"carbon-ledger/registry-backend/internal/events"
	"carbon-ledger/registry-backend/internal/ledger"
	"carbon-ledger/registry-backend/pkg/safemath"
)

// rollback captures collaborator state ahead of external side effects so a
// failed operation can put everything back.
type rollback struct {
	targets []ledger.Snapshotter
	states  []ledger.Snapshot
}

func snapshotAll(candidates ...interface{}) *rollback {
	rb := &rollback{}
	for _, candidate := range candidates {
		if target, ok := candidate.(ledger.Snapshotter); ok {
			rb.targets = append(rb.targets, target)
			rb.states = append(rb.states, target.Snapshot())
		}
	}
	return rb
}

func (rb *rollback) restore() {
	for i, target := range rb.targets {
		target.Restore(rb.states[i])
	}
}

// mintWalk consumes mintable capacity oldest vintage first. It mutates the
// batches in place and returns ErrAmountGreaterThanSupply if the batches
// cannot cover the full amount.
func mintWalk(batches []Batch, amount uint64) error {
	remaining := amount
	for i := range batches {
		available, err := safemath.CheckedSub(batches[i].TotalSupply, batches[i].Minted)
		if err != nil {
			return err
		}
		actual := safemath.Min(available, remaining)
		batches[i].Minted, err = safemath.CheckedAdd(batches[i].Minted, actual)
		if err != nil {
			return err
		}
		remaining -= actual
		if remaining == 0 {
			break
		}
	}
	if remaining != 0 {
		return ErrAmountGreaterThanSupply
	}
	return nil
}

// retireWalk consumes minted-but-unretired capacity oldest vintage first,
// returning the per-batch breakdown for the receipt.
func retireWalk(batches []Batch, amount uint64) ([]BatchRetireData, error) {
	remaining := amount
	var breakdown []BatchRetireData
	for i := range batches {
		available, err := safemath.CheckedSub(batches[i].Minted, batches[i].Retired)
		if err != nil {
			return nil, err
		}
		actual := safemath.Min(available, remaining)
		if actual == 0 {
			continue
		}
		batches[i].Retired, err = safemath.CheckedAdd(batches[i].Retired, actual)
		if err != nil {
			return nil, err
		}
		breakdown = append(breakdown, BatchRetireData{
			Name:         batches[i].Name,
			UUID:         batches[i].UUID,
			IssuanceYear: batches[i].IssuanceYear,
			Count:        actual,
		})
		remaining -= actual
		if remaining == 0 {
			break
		}
	}
	if remaining != 0 {
		return nil, ErrAmountGreaterThanSupply
	}
	return breakdown, nil
}

// Mint converts registry-certified supply into circulating tokens, consuming
// the oldest vintage batches first. The group's backing asset is registered
// lazily on the first mint. The whole operation commits or aborts as one.
func (s *Service) Mint(ctx context.Context, caller ledger.AccountID, projectID ProjectID, groupID GroupID, amount uint64, listToMarketplace bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mintLocked(ctx, caller, projectID, groupID, amount, listToMarketplace)
}

func (s *Service) mintLocked(ctx context.Context, caller ledger.AccountID, projectID ProjectID, groupID GroupID, amount uint64, listToMarketplace bool) error {
	if amount == 0 {
		return nil
	}

	project, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return err
	}
	if !project.Approved.IsApproved() {
		return ErrProjectNotApproved
	}
	if project.Originator != caller {
		if err := s.checkAuthorized(ctx, caller); err != nil {
			return err
		}
	}
	group, ok := project.BatchGroups[groupID]
	if !ok {
		return ErrGroupNotFound
	}

	projected, err := safemath.CheckedAdd(group.Minted, amount)
	if err != nil {
		return err
	}
	if projected > group.TotalSupply {
		return ErrAmountGreaterThanSupply
	}

	// Stage the batch walk on the project copy before any side effect.
	if err := mintWalk(group.Batches, amount); err != nil {
		return err
	}
	group.Minted = projected
	if group.Minted > group.TotalSupply || project.TotalMinted() > project.TotalSupply() {
		return ErrAmountGreaterThanSupply
	}

	recipient := caller
	if listToMarketplace {
		recipient = EscrowAccount
	}

	rb := snapshotAll(s.assets)
	newAsset := false
	if group.AssetID == 0 {
		assetID, err := s.allocateAsset(ctx, projectID)
		if err != nil {
			rb.restore()
			return err
		}
		group.AssetID = assetID
		newAsset = true
	}

	if err := s.assets.Mint(ctx, group.AssetID, recipient, amount); err != nil {
		rb.restore()
		return wrap("mint asset", err)
	}

	err = s.tx.InTransaction(ctx, func(ctx context.Context) error {
		if newAsset {
			if err := s.store.PutAssetLookup(ctx, group.AssetID, projectID, groupID); err != nil {
				return err
			}
			next, err := safemath.CheckedAdd(uint64(group.AssetID), 1)
			if err != nil {
				return err
			}
			if err := s.store.SetNextAssetID(ctx, ledger.AssetID(next)); err != nil {
				return err
			}
		}
		return s.store.PutProject(ctx, projectID, project)
	})
	if err != nil {
		rb.restore()
		return err
	}

	s.logger.Info("credits minted",
		zap.Uint64("project_id", uint64(projectID)),
		zap.Uint64("group_id", uint64(groupID)),
		zap.Uint64("amount", amount),
		zap.String("recipient", string(recipient)))
	s.sink.Publish(events.CarbonCreditsMinted{
		ProjectID: uint64(projectID),
		GroupID:   uint64(groupID),
		Recipient: recipient,
		Amount:    amount,
	})
	return nil
}

// allocateAsset reserves the next asset id and registers the asset with the
// external ledger, named after the project id with zero decimals.
func (s *Service) allocateAsset(ctx context.Context, projectID ProjectID) (ledger.AssetID, error) {
	assetID, err := s.store.NextAssetID(ctx)
	if err != nil {
		return 0, err
	}
	if assetID == 0 {
		assetID = ledger.AssetID(s.limits.FirstAssetID)
	}
	if err := s.assets.CreateAsset(ctx, assetID, ModuleAccount, true, 1); err != nil {
		return 0, wrap("create asset", err)
	}
	name := strconv.FormatUint(uint64(projectID), 10)
	if err := s.assets.SetMetadata(ctx, assetID, name, name, 0); err != nil {
		return 0, wrap("set asset metadata", err)
	}
	return assetID, nil
}

// Retire burns circulating tokens, consumes minted capacity oldest vintage
// first, and issues an NFT receipt carrying the per-batch breakdown. Any
// failure aborts the whole operation with no state change.
func (s *Service) Retire(ctx context.Context, caller ledger.AccountID, projectID ProjectID, groupID GroupID, amount uint64, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.RetireLocked(ctx, caller, projectID, groupID, amount, reason)
}

// RetireLocked is Retire for engines composing a larger flow that already
// holds the mutex from Locker.
func (s *Service) RetireLocked(ctx context.Context, caller ledger.AccountID, projectID ProjectID, groupID GroupID, amount uint64, reason string) error {
	if amount == 0 {
		return nil
	}
	if err := s.checkKYC(ctx, caller); err != nil {
		return err
	}
	if len(reason) > s.limits.MaxShortStringLength {
		return ErrRetirementReasonOutOfBounds
	}

	project, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return err
	}
	if !project.Approved.IsApproved() {
		return ErrProjectNotApproved
	}
	group, ok := project.BatchGroups[groupID]
	if !ok {
		return ErrGroupNotFound
	}

	retired, err := safemath.CheckedAdd(group.Retired, amount)
	if err != nil {
		return ErrAmountGreaterThanSupply
	}
	if retired > group.Minted {
		return ErrAmountGreaterThanSupply
	}

	// Stage the batch walk before touching the ledger.
	breakdown, err := retireWalk(group.Batches, amount)
	if err != nil {
		return err
	}
	group.Retired = retired
	if group.Minted > group.TotalSupply || group.Retired > group.Minted {
		return ErrAmountGreaterThanSupply
	}

	itemID, haveCollection, err := s.store.NextItemID(ctx, group.AssetID)
	if err != nil {
		return err
	}
	if !haveCollection {
		itemID = 0
	}

	rb := snapshotAll(s.assets, s.nfts)

	if err := s.assets.BurnFrom(ctx, group.AssetID, caller, amount); err != nil {
		rb.restore()
		return wrap("burn asset", err)
	}
	if !haveCollection {
		if err := s.nfts.CreateCollection(ctx, group.AssetID, ModuleAccount, ModuleAccount); err != nil {
			rb.restore()
			return wrap("create receipt collection", err)
		}
	}
	if err := s.nfts.MintItem(ctx, group.AssetID, itemID, caller); err != nil {
		rb.restore()
		return wrap("mint receipt", err)
	}

	receipt := RetiredCreditsData{
		Account:    caller,
		RetireData: breakdown,
		Timestamp:  s.now(),
		Count:      amount,
		Reason:     reason,
	}

	nextItem, err := safemath.CheckedAdd(uint64(itemID), 1)
	if err != nil {
		rb.restore()
		return err
	}
	// The receipt, the item counter and the project counters commit together.
	err = s.tx.InTransaction(ctx, func(ctx context.Context) error {
		if err := s.store.SetNextItemID(ctx, group.AssetID, ledger.ItemID(nextItem)); err != nil {
			return err
		}
		if err := s.store.PutRetirement(ctx, group.AssetID, itemID, receipt); err != nil {
			return err
		}
		return s.store.PutProject(ctx, projectID, project)
	})
	if err != nil {
		rb.restore()
		return err
	}

	eventData := make([]events.RetiredBatch, len(breakdown))
	for i, entry := range breakdown {
		eventData[i] = events.RetiredBatch{
			Name:         entry.Name,
			UUID:         entry.UUID,
			IssuanceYear: entry.IssuanceYear,
			Count:        entry.Count,
		}
	}
	s.logger.Info("credits retired",
		zap.Uint64("project_id", uint64(projectID)),
		zap.Uint64("group_id", uint64(groupID)),
		zap.Uint64("amount", amount),
		zap.Uint64("item_id", uint64(itemID)),
		zap.String("account", string(caller)))
	s.sink.Publish(events.CarbonCreditsRetired{
		ProjectID:  uint64(projectID),
		GroupID:    uint64(groupID),
		AssetID:    group.AssetID,
		Account:    caller,
		Amount:     amount,
		RetireData: eventData,
		Reason:     reason,
	})
	return nil
}
