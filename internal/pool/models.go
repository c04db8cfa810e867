package pool

import (
	"errors"
	"sort"

	"carbon-ledger/registry-backend/internal/credits"
	"carbon-ledger/registry-backend/internal/ledger"
)

// PoolID identifies a pool. The pool's share asset uses the same numeric id,
// so pool ids occupy a range disjoint from project asset ids.
type PoolID uint64

var (
	// ErrPoolIDInUse is returned when creating a pool with a taken id.
	ErrPoolIDInUse = errors.New("pool id already in use")
	// ErrPoolIDBelowMinimum is returned for ids under the configured floor.
	ErrPoolIDBelowMinimum = errors.New("pool id below expected minimum")
	// ErrInvalidPoolID is returned when the pool does not exist.
	ErrInvalidPoolID = errors.New("pool not found")
	// ErrMaxLimitTooHigh is returned when the requested project cap exceeds policy.
	ErrMaxLimitTooHigh = errors.New("max limit greater than permitted")
	// ErrProjectNotFound is returned when the deposited project is unknown.
	ErrProjectNotFound = errors.New("project not found")
	// ErrRegistryNotPermitted is returned when the project's registry fails
	// the pool's registry allowlist.
	ErrRegistryNotPermitted = errors.New("registry not permitted in pool")
	// ErrProjectNotWhitelisted is returned when the project fails the pool's
	// project allowlist.
	ErrProjectNotWhitelisted = errors.New("project id not whitelisted")
	// ErrIssuanceYear is returned when the deposit's vintage year cannot be
	// determined.
	ErrIssuanceYear = errors.New("cannot determine credit issuance year")
	// ErrInvalidAmount is returned for zero amounts.
	ErrInvalidAmount = errors.New("amount must be greater than zero")
	// ErrTooManyProjects is returned when the per-pool project capacity is hit.
	ErrTooManyProjects = errors.New("too many projects in pool")
	// ErrTooManyYears is returned when the issuance year capacity is hit.
	ErrTooManyYears = errors.New("too many issuance years in pool")
	// ErrSymbolTooLong is returned for oversized share asset symbols.
	ErrSymbolTooLong = errors.New("asset symbol exceeds permitted length")
	// ErrInsufficientPoolCredits is returned when the pool's recorded credits
	// cannot cover a retirement.
	ErrInsufficientPoolCredits = errors.New("pool credits cannot cover amount")
)

// PoolConfig restricts which credits a pool accepts. Nil lists accept all.
type PoolConfig struct {
	RegistryList  []credits.RegistryName `json:"registry_list,omitempty"`
	ProjectIDList []credits.ProjectID    `json:"project_id_list,omitempty"`
}

// CreditsMap is the pool's sparse 2D ledger: vintage year first (for
// oldest-first retirement), then project id.
type CreditsMap map[credits.IssuanceYear]map[credits.ProjectID]uint64

func (m CreditsMap) clone() CreditsMap {
	cp := make(CreditsMap, len(m))
	for year, byProject := range m {
		inner := make(map[credits.ProjectID]uint64, len(byProject))
		for projectID, amount := range byProject {
			inner[projectID] = amount
		}
		cp[year] = inner
	}
	return cp
}

// years returns the map's vintage years ascending.
func (m CreditsMap) years() []credits.IssuanceYear {
	out := make([]credits.IssuanceYear, 0, len(m))
	for year := range m {
		out = append(out, year)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// projectIDs returns a year's project ids ascending.
func projectIDs(byProject map[credits.ProjectID]uint64) []credits.ProjectID {
	out := make([]credits.ProjectID, 0, len(byProject))
	for id := range byProject {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Pool aggregates deposited project credits behind one fungible share token.
type Pool struct {
	Admin    ledger.AccountID `json:"admin"`
	Config   PoolConfig       `json:"config"`
	MaxLimit uint32           `json:"max_limit"`
	Credits  CreditsMap       `json:"credits"`
}

// Clone returns a deep copy of the pool.
func (p *Pool) Clone() *Pool {
	cp := *p
	cp.Config.RegistryList = append([]credits.RegistryName(nil), p.Config.RegistryList...)
	cp.Config.ProjectIDList = append([]credits.ProjectID(nil), p.Config.ProjectIDList...)
	cp.Credits = p.Credits.clone()
	return &cp
}

// Limits are the pool engine's policy caps.
type Limits struct {
	MinPoolID            PoolID
	MaxRegistryListCount int
	MaxProjectIDList     int
	MaxIssuanceYearCount int
	MaxAssetSymbolLength int
}

func DefaultLimits() Limits {
	return Limits{
		MinPoolID:            10000,
		MaxRegistryListCount: 4,
		MaxProjectIDList:     10,
		MaxIssuanceYearCount: 20,
		MaxAssetSymbolLength: 10,
	}
}
