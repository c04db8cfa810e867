package pool

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"carbon-ledger/registry-backend/internal/credits"
	"carbon-ledger/registry-backend/internal/database"
	"carbon-ledger/registry-backend/internal/events"
	"carbon-ledger/registry-backend/internal/ledger"
)

const (
	testAdmin     ledger.AccountID = "acct/registry-admin"
	testDepositor ledger.AccountID = "acct/alice"
)

// txRecorder counts units of work the way the gorm runner scopes them:
// a call with no transaction on the context begins one, a nested call joins.
type txRecorder struct {
	begun  int
	joined int
}

func (r *txRecorder) InTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := database.TxFrom(ctx); ok {
		r.joined++
		return fn(ctx)
	}
	r.begun++
	return fn(database.WithTx(ctx, nil))
}

type testEnv struct {
	pools        *Service
	credits      *credits.Service
	poolStore    *MemoryStore
	creditsStore *credits.MemoryStore
	assets       *ledger.MemoryAssetLedger
	nfts         *ledger.MemoryNFTHandler
	kyc          *ledger.MemoryKYCProvider
	sink         *events.MemorySink
	tx           *txRecorder
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		poolStore:    NewMemoryStore(),
		creditsStore: credits.NewMemoryStore(),
		assets:       ledger.NewMemoryAssetLedger(),
		nfts:         ledger.NewMemoryNFTHandler(),
		kyc:          ledger.NewMemoryKYCProvider(),
		sink:         events.NewMemorySink(),
		tx:           &txRecorder{},
	}
	env.kyc.SetLevel(testAdmin, ledger.KYCLevel4)
	env.kyc.SetLevel(testDepositor, ledger.KYCLevel1)
	env.kyc.SetLevel(ModuleAccount, ledger.KYCLevel4)

	logger := zap.NewNop()
	env.credits = credits.NewService(env.creditsStore, env.tx, env.assets, env.nfts, env.kyc,
		env.sink, credits.DefaultLimits(), testAdmin, logger)
	env.pools = NewService(env.poolStore, env.tx, env.assets, env.credits, env.sink,
		DefaultLimits(), testAdmin, logger,
		env.assets, env.nfts, env.creditsStore, env.poolStore)
	return env
}

// newMintedProject registers an approved single-group project and mints its
// full supply to the depositor, returning the backing asset id.
func (e *testEnv) newMintedProject(t *testing.T, id credits.ProjectID, year credits.IssuanceYear, supply uint64) ledger.AssetID {
	t.Helper()
	ctx := context.Background()
	params := credits.CreateParams{
		Name:     "Project",
		Location: "Somewhere",
		RegistryDetails: []credits.RegistryDetails{
			{RegName: credits.RegistryVerra, Name: "Project", ID: "VCS-100"},
		},
		BatchGroups: []credits.BatchGroup{
			{Name: "g", Batches: []credits.Batch{
				{Name: "b", UUID: "b-uuid", IssuanceYear: year, TotalSupply: supply},
			}},
		},
	}
	require.NoError(t, e.credits.CreateProject(ctx, testDepositor, id, params))
	require.NoError(t, e.credits.ApproveProject(ctx, testAdmin, id, true))
	require.NoError(t, e.credits.Mint(ctx, testDepositor, id, 0, supply, false))

	_, group, ok := e.credits.DefaultGroup(ctx, id)
	require.True(t, ok)
	return group.AssetID
}

func (e *testEnv) createPool(t *testing.T, id PoolID, config PoolConfig) {
	t.Helper()
	require.NoError(t, e.pools.Create(context.Background(), testAdmin, id, config, nil, "POOL"))
}

func TestCreatePool(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	assert.ErrorIs(t, env.pools.Create(ctx, testAdmin, 5, PoolConfig{}, nil, "POOL"),
		ErrPoolIDBelowMinimum)
	assert.ErrorIs(t, env.pools.Create(ctx, testAdmin, 10000, PoolConfig{}, nil, "WAYTOOLONGSYMBOL"),
		ErrSymbolTooLong)

	tooHigh := uint32(99)
	assert.ErrorIs(t, env.pools.Create(ctx, testAdmin, 10000, PoolConfig{}, &tooHigh, "POOL"),
		ErrMaxLimitTooHigh)

	require.NoError(t, env.pools.Create(ctx, testAdmin, 10000, PoolConfig{}, nil, "POOL"))
	assert.ErrorIs(t, env.pools.Create(ctx, testAdmin, 10000, PoolConfig{}, nil, "POOL"),
		ErrPoolIDInUse)

	// The share asset is registered under the pool id.
	assert.True(t, env.assets.HasAsset(10000))

	pool, err := env.pools.GetPool(ctx, 10000)
	require.NoError(t, err)
	assert.Equal(t, testAdmin, pool.Admin)
	assert.Empty(t, pool.Credits)
}

func TestCreatePoolRollsBackAssetOnStoreConflict(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	// Occupy the share asset id so asset creation fails.
	require.NoError(t, env.assets.CreateAsset(ctx, 10000, "acct/other", true, 1))
	err := env.pools.Create(ctx, testAdmin, 10000, PoolConfig{}, nil, "POOL")
	assert.ErrorIs(t, err, ledger.ErrAssetExists)
	_, err = env.pools.GetPool(ctx, 10000)
	assert.ErrorIs(t, err, ErrInvalidPoolID)
}

func TestDepositMintsSharesAndTagsVintage(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	assetID := env.newMintedProject(t, 1000, 2020, 100)
	env.createPool(t, 10000, PoolConfig{})

	require.NoError(t, env.pools.Deposit(ctx, testDepositor, 10000, 1000, 40))

	// Credits moved into custody, shares minted 1:1.
	assert.Equal(t, uint64(60), env.assets.Balance(ctx, assetID, testDepositor))
	assert.Equal(t, uint64(40), env.assets.Balance(ctx, assetID, ModuleAccount))
	assert.Equal(t, uint64(40), env.assets.Balance(ctx, 10000, testDepositor))

	pool, err := env.pools.GetPool(ctx, 10000)
	require.NoError(t, err)
	assert.Equal(t, uint64(40), pool.Credits[2020][1000])

	// A second deposit accumulates under the same vintage entry.
	require.NoError(t, env.pools.Deposit(ctx, testDepositor, 10000, 1000, 10))
	pool, err = env.pools.GetPool(ctx, 10000)
	require.NoError(t, err)
	assert.Equal(t, uint64(50), pool.Credits[2020][1000])
}

func TestDepositGuards(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.newMintedProject(t, 1000, 2020, 100)
	env.createPool(t, 10000, PoolConfig{})

	assert.ErrorIs(t, env.pools.Deposit(ctx, testDepositor, 10000, 1000, 0), ErrInvalidAmount)
	assert.ErrorIs(t, env.pools.Deposit(ctx, testDepositor, 99999, 1000, 10), ErrInvalidPoolID)
	assert.ErrorIs(t, env.pools.Deposit(ctx, testDepositor, 10000, 4242, 10), ErrProjectNotFound)

	// More than the depositor holds.
	err := env.pools.Deposit(ctx, testDepositor, 10000, 1000, 500)
	assert.ErrorIs(t, err, ledger.ErrBalanceLow)
	assert.Zero(t, env.assets.Balance(ctx, 10000, testDepositor))
}

func TestDepositAllowlists(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.newMintedProject(t, 1000, 2020, 100)

	env.createPool(t, 10000, PoolConfig{
		RegistryList: []credits.RegistryName{credits.RegistryGoldStandard},
	})
	assert.ErrorIs(t, env.pools.Deposit(ctx, testDepositor, 10000, 1000, 10),
		ErrRegistryNotPermitted)

	env.createPool(t, 10001, PoolConfig{
		ProjectIDList: []credits.ProjectID{4242},
	})
	assert.ErrorIs(t, env.pools.Deposit(ctx, testDepositor, 10001, 1000, 10),
		ErrProjectNotWhitelisted)

	env.createPool(t, 10002, PoolConfig{
		RegistryList:  []credits.RegistryName{credits.RegistryVerra},
		ProjectIDList: []credits.ProjectID{1000},
	})
	require.NoError(t, env.pools.Deposit(ctx, testDepositor, 10002, 1000, 10))
}

func TestPoolRetireForwardsToProjects(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	assetID := env.newMintedProject(t, 1000, 2020, 100)
	env.createPool(t, 10000, PoolConfig{})
	require.NoError(t, env.pools.Deposit(ctx, testDepositor, 10000, 1000, 40))

	require.NoError(t, env.pools.Retire(ctx, testDepositor, 10000, 25))

	// Shares burned, custody reduced, project counters advanced.
	assert.Equal(t, uint64(15), env.assets.Balance(ctx, 10000, testDepositor))
	assert.Equal(t, uint64(15), env.assets.Balance(ctx, assetID, ModuleAccount))
	project, ok := env.credits.GetProjectDetails(ctx, 1000)
	require.True(t, ok)
	assert.Equal(t, uint64(25), project.BatchGroups[0].Retired)

	pool, err := env.pools.GetPool(ctx, 10000)
	require.NoError(t, err)
	assert.Equal(t, uint64(15), pool.Credits[2020][1000])

	// The receipt names the pool's custodial account as the retiring holder.
	receipt, err := env.credits.GetRetirement(ctx, assetID, 0)
	require.NoError(t, err)
	assert.Equal(t, ModuleAccount, receipt.Account)
	owner, ok := env.nfts.ItemOwner(assetID, 0)
	require.True(t, ok)
	assert.Equal(t, ModuleAccount, owner)
}

func TestPoolRetireRemovesExhaustedEntries(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.newMintedProject(t, 1000, 2020, 100)
	env.createPool(t, 10000, PoolConfig{})
	require.NoError(t, env.pools.Deposit(ctx, testDepositor, 10000, 1000, 40))

	require.NoError(t, env.pools.Retire(ctx, testDepositor, 10000, 40))

	pool, err := env.pools.GetPool(ctx, 10000)
	require.NoError(t, err)
	assert.Empty(t, pool.Credits)
}

func TestPoolRetireOldestYearFirst(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.newMintedProject(t, 1000, 2021, 100)
	env.newMintedProject(t, 1001, 2019, 100)
	env.createPool(t, 10000, PoolConfig{})
	require.NoError(t, env.pools.Deposit(ctx, testDepositor, 10000, 1000, 30))
	require.NoError(t, env.pools.Deposit(ctx, testDepositor, 10000, 1001, 30))

	// 40 = all 30 of the 2019 project plus 10 of the 2021 project.
	require.NoError(t, env.pools.Retire(ctx, testDepositor, 10000, 40))

	older, ok := env.credits.GetProjectDetails(ctx, 1001)
	require.True(t, ok)
	assert.Equal(t, uint64(30), older.BatchGroups[0].Retired)
	newer, ok := env.credits.GetProjectDetails(ctx, 1000)
	require.True(t, ok)
	assert.Equal(t, uint64(10), newer.BatchGroups[0].Retired)

	pool, err := env.pools.GetPool(ctx, 10000)
	require.NoError(t, err)
	_, has2019 := pool.Credits[2019]
	assert.False(t, has2019)
	assert.Equal(t, uint64(20), pool.Credits[2021][1000])
}

func TestPoolRetireInsufficientSharesFails(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.newMintedProject(t, 1000, 2020, 100)
	env.createPool(t, 10000, PoolConfig{})
	require.NoError(t, env.pools.Deposit(ctx, testDepositor, 10000, 1000, 40))

	err := env.pools.Retire(ctx, testDepositor, 10000, 41)
	assert.ErrorIs(t, err, ledger.ErrBalanceLow)
	assert.Equal(t, uint64(40), env.assets.Balance(ctx, 10000, testDepositor))
}

func TestPoolRetireRollsBackPartialProgress(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	assetID := env.newMintedProject(t, 1000, 2020, 100)
	env.createPool(t, 10000, PoolConfig{})
	require.NoError(t, env.pools.Deposit(ctx, testDepositor, 10000, 1000, 40))

	// Corrupt the pool ledger so it claims less than the outstanding shares.
	pool, err := env.pools.GetPool(ctx, 10000)
	require.NoError(t, err)
	pool.Credits = CreditsMap{2020: {1000: 10}}
	require.NoError(t, env.pools.ForceSetPoolStorage(ctx, testAdmin, 10000, pool))

	// The walk retires 10 from the project, then finds nothing left to cover
	// the remaining 30. Everything must roll back, including the committed
	// project retirement and the burned shares.
	err = env.pools.Retire(ctx, testDepositor, 10000, 40)
	assert.ErrorIs(t, err, ErrInsufficientPoolCredits)

	assert.Equal(t, uint64(40), env.assets.Balance(ctx, 10000, testDepositor))
	project, ok := env.credits.GetProjectDetails(ctx, 1000)
	require.True(t, ok)
	assert.Zero(t, project.BatchGroups[0].Retired)
	assert.Zero(t, env.nfts.ItemCount(assetID))

	pool, err = env.pools.GetPool(ctx, 10000)
	require.NoError(t, err)
	assert.Equal(t, uint64(10), pool.Credits[2020][1000])
}

func TestPoolRetireRunsAsOneUnitOfWork(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.newMintedProject(t, 1000, 2019, 100)
	env.newMintedProject(t, 1001, 2020, 100)
	env.createPool(t, 10000, PoolConfig{})
	require.NoError(t, env.pools.Deposit(ctx, testDepositor, 10000, 1000, 30))
	require.NoError(t, env.pools.Deposit(ctx, testDepositor, 10000, 1001, 30))

	env.tx.begun = 0
	env.tx.joined = 0
	require.NoError(t, env.pools.Retire(ctx, testDepositor, 10000, 40))

	// One unit of work for the whole retirement; both forwarded project
	// retirements commit inside it rather than opening their own.
	assert.Equal(t, 1, env.tx.begun)
	assert.Equal(t, 2, env.tx.joined)
}

func TestPoolOperationsSerializeWithRegistry(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.newMintedProject(t, 1000, 2020, 100)
	env.createPool(t, 10000, PoolConfig{})

	guard := env.credits.Locker()
	guard.Lock()
	done := make(chan error, 1)
	go func() {
		done <- env.pools.Deposit(ctx, testDepositor, 10000, 1000, 40)
	}()
	select {
	case <-done:
		t.Fatal("deposit ran while a registry operation held the lock")
	case <-time.After(50 * time.Millisecond):
	}
	guard.Unlock()
	require.NoError(t, <-done)

	pool, err := env.pools.GetPool(ctx, 10000)
	require.NoError(t, err)
	assert.Equal(t, uint64(40), pool.Credits[2020][1000])
}

func TestForceSetPoolStorageRequiresAdmin(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.createPool(t, 10000, PoolConfig{})

	pool, err := env.pools.GetPool(ctx, 10000)
	require.NoError(t, err)
	assert.ErrorIs(t, env.pools.ForceSetPoolStorage(ctx, testDepositor, 10000, pool),
		credits.ErrNotAuthorised)
}
