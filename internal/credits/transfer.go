package credits

import (
	"context"

	"carbon-ledger/registry-backend/internal/ledger"
)

// IsTransferAllowed is the policy hook the spot exchange consults before
// moving a carbon-backed asset. Transfers of assets this engine does not back
// are always allowed, as are transfers to the project originator; any other
// recipient must have cleared KYC.
func (s *Service) IsTransferAllowed(ctx context.Context, sender, recipient ledger.AccountID, assetID ledger.AssetID, amount uint64) error {
	projectID, _, ok := s.LookupAsset(ctx, assetID)
	if !ok {
		return nil
	}
	project, found := s.GetProjectDetails(ctx, projectID)
	if !found {
		return ErrKYCAuthorisationFailed
	}
	if recipient == project.Originator {
		return nil
	}
	if _, ok := s.kyc.GetKYCLevel(ctx, recipient); !ok {
		return ErrKYCAuthorisationFailed
	}
	return nil
}

// CalculateIssuanceYear reports the vintage year of a group's oldest batch.
// Batches are stored sorted ascending, so this is the year mint and retire
// consume first; the pool engine uses it to bucket deposits.
func (s *Service) CalculateIssuanceYear(ctx context.Context, projectID ProjectID, groupID GroupID) (IssuanceYear, bool) {
	project, ok := s.GetProjectDetails(ctx, projectID)
	if !ok {
		return 0, false
	}
	group, ok := project.BatchGroups[groupID]
	if !ok || len(group.Batches) == 0 {
		return 0, false
	}
	return group.Batches[0].IssuanceYear, true
}

// DefaultGroup returns the project's lowest-numbered batch group. Pool
// deposits and single-group retirement flows target this group.
func (s *Service) DefaultGroup(ctx context.Context, projectID ProjectID) (GroupID, *BatchGroup, bool) {
	project, ok := s.GetProjectDetails(ctx, projectID)
	if !ok {
		return 0, nil, false
	}
	ids := project.GroupIDs()
	if len(ids) == 0 {
		return 0, nil, false
	}
	return ids[0], project.BatchGroups[ids[0]], true
}
