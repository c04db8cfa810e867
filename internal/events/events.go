package events

import (
	"sync"

	"carbon-ledger/registry-backend/internal/ledger"
)

// Event is a record of a completed state transition. Events are emitted only
// after an operation has fully committed.
type Event interface {
	Kind() string
}

type ProjectCreated struct {
	ProjectID uint64 `json:"project_id"`
}

type ProjectResubmitted struct {
	ProjectID uint64 `json:"project_id"`
}

type ProjectApproved struct {
	ProjectID uint64 `json:"project_id"`
}

type ProjectRejected struct {
	ProjectID uint64 `json:"project_id"`
}

type ProjectUpdated struct {
	ProjectID uint64 `json:"project_id"`
}

type BatchGroupAdded struct {
	ProjectID uint64 `json:"project_id"`
	GroupID   uint64 `json:"group_id"`
}

type AuthorizedAccountAdded struct {
	Account ledger.AccountID `json:"account"`
}

type AuthorizedAccountRemoved struct {
	Account ledger.AccountID `json:"account"`
}

type CarbonCreditsMinted struct {
	ProjectID uint64           `json:"project_id"`
	GroupID   uint64           `json:"group_id"`
	Recipient ledger.AccountID `json:"recipient"`
	Amount    uint64           `json:"amount"`
}

type RetiredBatch struct {
	Name         string `json:"name"`
	UUID         string `json:"uuid"`
	IssuanceYear uint16 `json:"issuance_year"`
	Count        uint64 `json:"count"`
}

type CarbonCreditsRetired struct {
	ProjectID  uint64           `json:"project_id"`
	GroupID    uint64           `json:"group_id"`
	AssetID    ledger.AssetID   `json:"asset_id"`
	Account    ledger.AccountID `json:"account"`
	Amount     uint64           `json:"amount"`
	RetireData []RetiredBatch   `json:"retire_data"`
	Reason     string           `json:"reason,omitempty"`
}

type PoolCreated struct {
	PoolID uint64           `json:"pool_id"`
	Admin  ledger.AccountID `json:"admin"`
}

type PoolDeposit struct {
	PoolID    uint64           `json:"pool_id"`
	ProjectID uint64           `json:"project_id"`
	Account   ledger.AccountID `json:"account"`
	Amount    uint64           `json:"amount"`
}

type PoolRetired struct {
	PoolID  uint64           `json:"pool_id"`
	Account ledger.AccountID `json:"account"`
	Amount  uint64           `json:"amount"`
}

func (ProjectCreated) Kind() string           { return "project.created" }
func (ProjectResubmitted) Kind() string       { return "project.resubmitted" }
func (ProjectApproved) Kind() string          { return "project.approved" }
func (ProjectRejected) Kind() string          { return "project.rejected" }
func (ProjectUpdated) Kind() string           { return "project.updated" }
func (BatchGroupAdded) Kind() string          { return "project.batch_group_added" }
func (AuthorizedAccountAdded) Kind() string   { return "authorized_account.added" }
func (AuthorizedAccountRemoved) Kind() string { return "authorized_account.removed" }
func (CarbonCreditsMinted) Kind() string      { return "credits.minted" }
func (CarbonCreditsRetired) Kind() string     { return "credits.retired" }
func (PoolCreated) Kind() string              { return "pool.created" }
func (PoolDeposit) Kind() string              { return "pool.deposit" }
func (PoolRetired) Kind() string              { return "pool.retired" }

// Sink receives committed events. Implementations must not fail the calling
// operation; delivery problems are the sink's to log.
type Sink interface {
	Publish(event Event)
}

// MemorySink collects events in order, for tests and local runs.
type MemorySink struct {
	mu     sync.Mutex
	events []Event
}

func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

func (s *MemorySink) Publish(event Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
}

// Events returns a copy of everything published so far.
func (s *MemorySink) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}

// Last returns the most recent event, or nil.
func (s *MemorySink) Last() Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.events) == 0 {
		return nil
	}
	return s.events[len(s.events)-1]
}
