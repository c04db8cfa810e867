package credits

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"carbon-ledger/registry-backend/internal/events"
	"carbon-ledger/registry-backend/internal/ledger"
)

func TestCreateProject(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	params := createParams(groupOf("g",
		batch("b-2021", 2021, 30),
		batch("b-2019", 2019, 70),
	))
	require.NoError(t, env.service.CreateProject(ctx, testOriginator, 1000, params))

	project, ok := env.service.GetProjectDetails(ctx, 1000)
	require.True(t, ok)
	assert.Equal(t, testOriginator, project.Originator)
	assert.Equal(t, ApprovalPending, project.Approved)
	assert.False(t, project.Created.IsZero())

	group, ok := project.BatchGroups[0]
	require.True(t, ok)
	assert.Equal(t, uint64(100), group.TotalSupply)
	assert.Zero(t, group.Minted)
	assert.Zero(t, group.AssetID)
	// Batches come back sorted ascending by vintage year.
	require.Len(t, group.Batches, 2)
	assert.Equal(t, IssuanceYear(2019), group.Batches[0].IssuanceYear)
	assert.Equal(t, IssuanceYear(2021), group.Batches[1].IssuanceYear)

	event, ok := env.sink.Last().(events.ProjectCreated)
	require.True(t, ok)
	assert.Equal(t, uint64(1000), event.ProjectID)
}

func TestCreateProjectGuards(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	params := createParams(groupOf("g", batch("b", 2020, 100)))

	assert.ErrorIs(t, env.service.CreateProject(ctx, "acct/anonymous", 1000, params),
		ErrKYCAuthorisationFailed)
	assert.ErrorIs(t, env.service.CreateProject(ctx, testOriginator, 999, params),
		ErrInvalidProjectID)

	require.NoError(t, env.service.CreateProject(ctx, testOriginator, 1000, params))
	assert.ErrorIs(t, env.service.CreateProject(ctx, testOriginator, 1000, params),
		ErrProjectIDInUse)

	assert.ErrorIs(t, env.service.CreateProject(ctx, testOriginator, 1001, createParams()),
		ErrProjectWithoutCredits)
	assert.ErrorIs(t, env.service.CreateProject(ctx, testOriginator, 1001,
		createParams(groupOf("g", Batch{Name: "b", IssuanceYear: 2020, TotalSupply: 10, Minted: 5}))),
		ErrProjectWithoutCredits)
}

func TestApproveProjectOneWay(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	params := createParams(groupOf("g", batch("b", 2020, 100)))
	require.NoError(t, env.service.CreateProject(ctx, testOriginator, 1000, params))

	assert.ErrorIs(t, env.service.ApproveProject(ctx, testBuyer, 1000, true), ErrNotAuthorised)

	require.NoError(t, env.service.ApproveProject(ctx, testAdmin, 1000, true))
	project, ok := env.service.GetProjectDetails(ctx, 1000)
	require.True(t, ok)
	assert.Equal(t, ApprovalApproved, project.Approved)

	// The decision cannot be revisited in either direction.
	assert.ErrorIs(t, env.service.ApproveProject(ctx, testAdmin, 1000, true), ErrApprovalAlreadyProcessed)
	assert.ErrorIs(t, env.service.ApproveProject(ctx, testAdmin, 1000, false), ErrApprovalAlreadyProcessed)
}

func TestRejectThenResubmit(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	params := createParams(groupOf("g", batch("b", 2020, 100)))
	require.NoError(t, env.service.CreateProject(ctx, testOriginator, 1000, params))
	require.NoError(t, env.service.ApproveProject(ctx, testAdmin, 1000, false))

	project, ok := env.service.GetProjectDetails(ctx, 1000)
	require.True(t, ok)
	assert.True(t, project.Approved.IsRejected())

	// Only the originator may resubmit.
	assert.ErrorIs(t, env.service.ResubmitProject(ctx, testBuyer, 1000, params), ErrNotAuthorised)

	resubmitted := createParams(groupOf("g2", batch("b2", 2021, 250)))
	resubmitted.Name = "Mangrove Restoration v2"
	require.NoError(t, env.service.ResubmitProject(ctx, testOriginator, 1000, resubmitted))

	project, ok = env.service.GetProjectDetails(ctx, 1000)
	require.True(t, ok)
	assert.Equal(t, ApprovalPending, project.Approved)
	assert.Equal(t, "Mangrove Restoration v2", project.Name)
	assert.NotNil(t, project.Updated)
	assert.Equal(t, uint64(250), project.BatchGroups[0].TotalSupply)

	require.NoError(t, env.service.ApproveProject(ctx, testAdmin, 1000, true))
}

func TestResubmitApprovedProjectFails(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	params := createParams(groupOf("g", batch("b", 2020, 100)))
	require.NoError(t, env.service.CreateProject(ctx, testOriginator, 1000, params))
	require.NoError(t, env.service.ApproveProject(ctx, testAdmin, 1000, true))

	assert.ErrorIs(t, env.service.ResubmitProject(ctx, testOriginator, 1000, params),
		ErrCannotModifyApprovedProject)
}

func TestUpdateProjectDescriptiveFieldsOnly(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	params := createParams(groupOf("g", batch("b", 2020, 100)))
	require.NoError(t, env.service.CreateProject(ctx, testOriginator, 1000, params))

	assert.ErrorIs(t, env.service.UpdateProject(ctx, testOriginator, 1000, params),
		ErrCannotUpdateUnapprovedProject)

	require.NoError(t, env.service.ApproveProject(ctx, testAdmin, 1000, true))
	require.NoError(t, env.service.Mint(ctx, testOriginator, 1000, 0, 10, false))

	updated := createParams(groupOf("other", batch("x", 1999, 1)))
	updated.Description = "expanded replanting scope"
	require.NoError(t, env.service.UpdateProject(ctx, testOriginator, 1000, updated))

	project, ok := env.service.GetProjectDetails(ctx, 1000)
	require.True(t, ok)
	assert.Equal(t, "expanded replanting scope", project.Description)
	// Accounting state survives the update untouched.
	group := project.BatchGroups[0]
	assert.Equal(t, "g", group.Name)
	assert.Equal(t, uint64(10), group.Minted)

	assert.ErrorIs(t, env.service.UpdateProject(ctx, testBuyer, 1000, updated), ErrNotAuthorised)
}

func TestAddBatchGroup(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	params := createParams(groupOf("g0", batch("b", 2020, 100)))
	require.NoError(t, env.service.CreateProject(ctx, testOriginator, 1000, params))

	extra := groupOf("g1", batch("c-2022", 2022, 50), batch("c-2018", 2018, 25))
	assert.ErrorIs(t, env.service.AddBatchGroup(ctx, testOriginator, 1000, extra),
		ErrCannotUpdateUnapprovedProject)

	require.NoError(t, env.service.ApproveProject(ctx, testAdmin, 1000, true))
	assert.ErrorIs(t, env.service.AddBatchGroup(ctx, testBuyer, 1000, extra), ErrNotAuthorised)

	require.NoError(t, env.service.AddBatchGroup(ctx, testOriginator, 1000, extra))

	project, ok := env.service.GetProjectDetails(ctx, 1000)
	require.True(t, ok)
	require.Len(t, project.BatchGroups, 2)
	group := project.BatchGroups[1]
	assert.Equal(t, uint64(75), group.TotalSupply)
	assert.Zero(t, group.Minted)
	assert.Equal(t, IssuanceYear(2018), group.Batches[0].IssuanceYear)

	// The new group mints on its own asset.
	require.NoError(t, env.service.Mint(ctx, testOriginator, 1000, 1, 20, false))
	assert.Equal(t, ledger.AssetID(1000), env.mustGroup(t, 1000, 1).AssetID)
}

func TestAuthorizedAccountLifecycle(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	assert.ErrorIs(t, env.service.ForceAddAuthorizedAccount(ctx, testBuyer, testBuyer), ErrNotAuthorised)

	require.NoError(t, env.service.ForceAddAuthorizedAccount(ctx, testAdmin, testBuyer))
	assert.ErrorIs(t, env.service.ForceAddAuthorizedAccount(ctx, testAdmin, testBuyer),
		ErrAuthorizedAccountExists)

	accounts, err := env.service.ListAuthorizedAccounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, []ledger.AccountID{testBuyer}, accounts)

	// An authorized account can decide approvals.
	params := createParams(groupOf("g", batch("b", 2020, 100)))
	require.NoError(t, env.service.CreateProject(ctx, testOriginator, 1000, params))
	require.NoError(t, env.service.ApproveProject(ctx, testBuyer, 1000, true))

	require.NoError(t, env.service.ForceRemoveAuthorizedAccount(ctx, testAdmin, testBuyer))
	// Removing an absent account is a silent no-op.
	require.NoError(t, env.service.ForceRemoveAuthorizedAccount(ctx, testAdmin, testBuyer))

	accounts, err = env.service.ListAuthorizedAccounts(ctx)
	require.NoError(t, err)
	assert.Empty(t, accounts)
}

func TestAuthorizedAccountCapBounded(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	for i := 0; i < DefaultLimits().MaxAuthorizedAccounts; i++ {
		account := ledger.AccountID("acct/reviewer-" + string(rune('a'+i)))
		require.NoError(t, env.service.ForceAddAuthorizedAccount(ctx, testAdmin, account))
	}
	assert.ErrorIs(t, env.service.ForceAddAuthorizedAccount(ctx, testAdmin, "acct/one-too-many"),
		ErrTooManyAuthorizedAccounts)
}

func TestForceProjectMaintenance(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	params := createParams(groupOf("g", batch("b", 2020, 100)))
	require.NoError(t, env.service.CreateProject(ctx, testOriginator, 1000, params))

	project, ok := env.service.GetProjectDetails(ctx, 1000)
	require.True(t, ok)
	project.Approved = ApprovalApproved

	assert.ErrorIs(t, env.service.ForceSetProjectStorage(ctx, testBuyer, 1000, project), ErrNotAuthorised)
	require.NoError(t, env.service.ForceSetProjectStorage(ctx, testAdmin, 1000, project))

	stored, ok := env.service.GetProjectDetails(ctx, 1000)
	require.True(t, ok)
	assert.True(t, stored.Approved.IsApproved())

	assert.ErrorIs(t, env.service.ForceRemoveProject(ctx, testBuyer, 1000), ErrNotAuthorised)
	require.NoError(t, env.service.ForceRemoveProject(ctx, testAdmin, 1000))
	_, ok = env.service.GetProjectDetails(ctx, 1000)
	assert.False(t, ok)
}

func TestIsTransferAllowed(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.createApprovedProject(t, 1000, groupOf("g", batch("b", 2020, 100)))
	require.NoError(t, env.service.Mint(ctx, testOriginator, 1000, 0, 50, false))
	group := env.mustGroup(t, 1000, 0)

	// KYC-cleared recipients may receive credits.
	assert.NoError(t, env.service.IsTransferAllowed(ctx, testOriginator, testBuyer, group.AssetID, 10))

	// Unverified recipients may not, unless they originated the project.
	assert.ErrorIs(t, env.service.IsTransferAllowed(ctx, testOriginator, "acct/anonymous", group.AssetID, 10),
		ErrKYCAuthorisationFailed)

	env.kyc.Remove(testOriginator)
	assert.NoError(t, env.service.IsTransferAllowed(ctx, testBuyer, testOriginator, group.AssetID, 10))

	// Assets outside the registry are not gated.
	assert.NoError(t, env.service.IsTransferAllowed(ctx, testOriginator, "acct/anonymous", 555, 10))
}

func TestCalculateIssuanceYearAndDefaultGroup(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.createApprovedProject(t, 1000,
		groupOf("g0", batch("b-2020", 2020, 50), batch("b-2017", 2017, 50)),
		groupOf("g1", batch("b-2022", 2022, 50)),
	)

	groupID, group, ok := env.service.DefaultGroup(ctx, 1000)
	require.True(t, ok)
	assert.Equal(t, GroupID(0), groupID)
	assert.Equal(t, "g0", group.Name)

	year, ok := env.service.CalculateIssuanceYear(ctx, 1000, 0)
	require.True(t, ok)
	assert.Equal(t, IssuanceYear(2017), year)

	year, ok = env.service.CalculateIssuanceYear(ctx, 1000, 1)
	require.True(t, ok)
	assert.Equal(t, IssuanceYear(2022), year)

	_, ok = env.service.CalculateIssuanceYear(ctx, 1000, 9)
	assert.False(t, ok)
}

func TestForceApproveAndMintCredits(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	require.NoError(t, env.service.CreateProject(ctx, testOriginator, 1000,
		createParams(groupOf("g", batch("b", 2020, 100)))))

	assert.ErrorIs(t, env.service.ForceApproveAndMintCredits(ctx, testOriginator, testOriginator, 1000, 0, 40, false),
		ErrNotAuthorised)

	require.NoError(t, env.service.ForceApproveAndMintCredits(ctx, testAdmin, testOriginator, 1000, 0, 40, false))

	project, ok := env.service.GetProjectDetails(ctx, 1000)
	require.True(t, ok)
	assert.Equal(t, ApprovalApproved, project.Approved)
	group := env.mustGroup(t, 1000, 0)
	assert.Equal(t, uint64(40), group.Minted)
	assert.Equal(t, uint64(40), env.assets.Balance(ctx, group.AssetID, testOriginator))

	// The project is no longer pending, so a second call is rejected.
	assert.ErrorIs(t, env.service.ForceApproveAndMintCredits(ctx, testAdmin, testOriginator, 1000, 0, 10, false),
		ErrApprovalAlreadyProcessed)
}

func TestForceApproveAndMintRollsBackApprovalOnMintFailure(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	require.NoError(t, env.service.CreateProject(ctx, testOriginator, 1000,
		createParams(groupOf("g", batch("b", 2020, 100)))))

	assert.ErrorIs(t, env.service.ForceApproveAndMintCredits(ctx, testAdmin, testOriginator, 1000, 0, 101, false),
		ErrAmountGreaterThanSupply)

	// The approval does not survive the failed mint.
	project, ok := env.service.GetProjectDetails(ctx, 1000)
	require.True(t, ok)
	assert.Equal(t, ApprovalPending, project.Approved)
	assert.Zero(t, env.mustGroup(t, 1000, 0).Minted)
}

func TestForceSetRetirement(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	data := RetiredCreditsData{
		Account: testBuyer,
		RetireData: []BatchRetireData{
			{Name: "b", UUID: "b-uuid", IssuanceYear: 2020, Count: 12},
		},
		Count: 12,
	}
	assert.ErrorIs(t, env.service.ForceSetRetirement(ctx, testBuyer, 500, 7, data), ErrNotAuthorised)

	require.NoError(t, env.service.ForceSetRetirement(ctx, testAdmin, 500, 7, data))
	stored, err := env.service.GetRetirement(ctx, 500, 7)
	require.NoError(t, err)
	assert.Equal(t, testBuyer, stored.Account)
	assert.Equal(t, uint64(12), stored.Count)
	require.Len(t, stored.RetireData, 1)
	assert.Equal(t, IssuanceYear(2020), stored.RetireData[0].IssuanceYear)
}
