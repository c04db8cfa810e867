package credits

import (
	"sort"
	"time"

	"carbon-ledger/registry-backend/internal/ledger"
)

// ProjectID identifies a project. Ids are chosen by the originator at
// creation time and must be at or above the configured minimum.
type ProjectID uint64

// GroupID identifies a batch group within a project. Group ids are assigned
// sequentially starting at zero when the project is created.
type GroupID uint64

// IssuanceYear is the vintage year a batch of credits was certified.
type IssuanceYear = uint16

// RegistryName is one of the originating registries recognised on-platform.
type RegistryName string

const (
	RegistryVerra                  RegistryName = "Verra"
	RegistryGoldStandard           RegistryName = "GoldStandard"
	RegistryAmericanCarbonRegistry RegistryName = "AmericanCarbonRegistry"
	RegistryClimateActionReserve   RegistryName = "ClimateActionReserve"
)

// RegistryDetails records how the project appears in its originating
// registry. This can differ from the originator's own name and description.
type RegistryDetails struct {
	RegName RegistryName `json:"reg_name"`
	Name    string       `json:"name"`
	ID      string       `json:"id"`
	Summary string       `json:"summary"`
}

// SDGType is a UN sustainable development goal addressed by a project.
type SDGType string

const (
	SDGNoPoverty                           SDGType = "NoPoverty"
	SDGZeroHunger                          SDGType = "ZeroHunger"
	SDGGoodHealthAndWellBeing              SDGType = "GoodHealthAndWellBeing"
	SDGQualityEducation                    SDGType = "QualityEducation"
	SDGGenderEquality                      SDGType = "GenderEquality"
	SDGCleanWaterAndSanitation             SDGType = "CleanWaterAndSanitation"
	SDGAffordableAndCleanEnergy            SDGType = "AffordableAndCleanEnergy"
	SDGDecentWorkAndEconomicGrowth         SDGType = "DecentWorkAndEconomicGrowth"
	SDGIndustryInnovationAndInfrastructure SDGType = "IndustryInnovationAndInfrastructure"
	SDGReducedInequalities                 SDGType = "ReducedInequalities"
	SDGSustainableCitiesAndCommunities     SDGType = "SustainableCitiesAndCommunities"
	SDGResponsibleConsumptionAndProduction SDGType = "ResponsibleConsumptionAndProduction"
	SDGClimateAction                       SDGType = "ClimateAction"
	SDGLifeBelowWater                      SDGType = "LifeBelowWater"
	SDGLifeOnLand                          SDGType = "LifeOnLand"
	SDGPeaceJusticeAndStrongInstitutions   SDGType = "PeaceJusticeAndStrongInstitutions"
	SDGPartnershipsForTheGoals             SDGType = "PartnershipsForTheGoals"
)

// SDGDetails describes how the project addresses one SDG.
type SDGDetails struct {
	SDGType     SDGType `json:"sdg_type"`
	Description string  `json:"description"`
	References  string  `json:"references"`
}

// Royalty is a recipient paid a share of fees when project tokens trade.
type Royalty struct {
	Account       ledger.AccountID `json:"account"`
	PercentOfFees uint8            `json:"percent_of_fees"`
}

// ProjectType categorises the environmental activity of a project.
type ProjectType string

const (
	TypeAgricultureForestryLandUse ProjectType = "AGRICULTURE_FORESTRY_AND_OTHER_LAND_USE"
	TypeChemicalIndustry           ProjectType = "CHEMICAL_INDUSTRY"
	TypeEnergyDemand               ProjectType = "ENERGY_DEMAND"
	TypeEnergyDistribution         ProjectType = "ENERGY_DISTRIBUTION"
	TypeEnergyIndustries           ProjectType = "ENERGY_INDUSTRIES"
	TypeFugitiveEmissionsFromFuels ProjectType = "FUGITIVE_EMISSIONS_FROM_FUELS"
	TypeFugitiveEmissionsCarbons   ProjectType = "FUGITIVE_EMISSIONS_FROM_CARBONS"
	TypeLivestock                  ProjectType = "LIVESTOCK"
	TypeManufacturingIndustries    ProjectType = "MANUFACTURING_INDUSTRIES"
	TypeMetalProduction            ProjectType = "METAL_PRODUCTION"
	TypeMiningMineralProduction    ProjectType = "MINING_MINERAL_PRODUCTION"
	TypeTransport                  ProjectType = "TRANSPORT"
	TypeWasteHandling              ProjectType = "WASTE_HANDLING"
)

// ApprovalStatus is the review state of a project. Only approved projects can
// mint credits; rejected projects can be resubmitted by the originator.
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalRejected ApprovalStatus = "rejected"
)

func (s ApprovalStatus) IsApproved() bool { return s == ApprovalApproved }
func (s ApprovalStatus) IsRejected() bool { return s == ApprovalRejected }

// Batch is a vintage-tagged tranche of credits as attested by the
// originating registry. Name, UUID, IssuanceYear and TotalSupply are fixed at
// creation; Minted and Retired are advanced only by the mint/retire engine.
//
// Invariants: Retired <= Minted <= TotalSupply.
type Batch struct {
	Name         string       `json:"name"`
	UUID         string       `json:"uuid"`
	IssuanceYear IssuanceYear `json:"issuance_year"`
	StartDate    uint16       `json:"start_date"`
	EndDate      uint16       `json:"end_date"`
	TotalSupply  uint64       `json:"total_supply"`
	Minted       uint64       `json:"minted"`
	Retired      uint64       `json:"retired"`
}

// BatchGroup is a named collection of batches backed by one fungible asset.
// The group counters always equal the sums of the batch counters. Batches are
// kept sorted ascending by issuance year; mint and retire consume the oldest
// vintage first.
type BatchGroup struct {
	Name        string         `json:"name"`
	UUID        string         `json:"uuid"`
	AssetID     ledger.AssetID `json:"asset_id"`
	TotalSupply uint64         `json:"total_supply"`
	Minted      uint64         `json:"minted"`
	Retired     uint64         `json:"retired"`
	Batches     []Batch        `json:"batches"`
}

func (g *BatchGroup) clone() *BatchGroup {
	cp := *g
	cp.Batches = make([]Batch, len(g.Batches))
	copy(cp.Batches, g.Batches)
	return &cp
}

// sortBatches orders batches ascending by issuance year. The sort is stable
// so batches sharing a year keep their submission order.
func sortBatches(batches []Batch) {
	sort.SliceStable(batches, func(i, j int) bool {
		return batches[i].IssuanceYear < batches[j].IssuanceYear
	})
}

// Project is the originator-owned unit of approval and accounting.
type Project struct {
	Originator      ledger.AccountID       `json:"originator"`
	Name            string                 `json:"name"`
	Description     string                 `json:"description"`
	Location        string                 `json:"location"`
	Images          []string               `json:"images,omitempty"`
	Videos          []string               `json:"videos,omitempty"`
	Documents       []string               `json:"documents,omitempty"`
	RegistryDetails []RegistryDetails      `json:"registry_details"`
	SDGDetails      []SDGDetails           `json:"sdg_details"`
	Royalties       []Royalty              `json:"royalties,omitempty"`
	BatchGroups     map[GroupID]*BatchGroup `json:"batch_groups"`
	ProjectType     ProjectType            `json:"project_type,omitempty"`
	Created         time.Time              `json:"created"`
	Updated         *time.Time             `json:"updated,omitempty"`
	Approved        ApprovalStatus         `json:"approved"`
}

// Clone returns a deep copy of the project. Engine operations mutate a clone
// and commit it only when every step has succeeded.
func (p *Project) Clone() *Project {
	cp := *p
	cp.Images = append([]string(nil), p.Images...)
	cp.Videos = append([]string(nil), p.Videos...)
	cp.Documents = append([]string(nil), p.Documents...)
	cp.RegistryDetails = append([]RegistryDetails(nil), p.RegistryDetails...)
	cp.SDGDetails = append([]SDGDetails(nil), p.SDGDetails...)
	cp.Royalties = append([]Royalty(nil), p.Royalties...)
	cp.BatchGroups = make(map[GroupID]*BatchGroup, len(p.BatchGroups))
	for id, group := range p.BatchGroups {
		cp.BatchGroups[id] = group.clone()
	}
	if p.Updated != nil {
		updated := *p.Updated
		cp.Updated = &updated
	}
	return &cp
}

// GroupIDs returns the project's group ids in ascending order.
func (p *Project) GroupIDs() []GroupID {
	ids := make([]GroupID, 0, len(p.BatchGroups))
	for id := range p.BatchGroups {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// TotalSupply is the credit supply across all groups.
func (p *Project) TotalSupply() uint64 {
	var total uint64
	for _, group := range p.BatchGroups {
		total += group.TotalSupply
	}
	return total
}

// TotalMinted is the minted count across all groups.
func (p *Project) TotalMinted() uint64 {
	var total uint64
	for _, group := range p.BatchGroups {
		total += group.Minted
	}
	return total
}

// TotalRetired is the retired count across all groups.
func (p *Project) TotalRetired() uint64 {
	var total uint64
	for _, group := range p.BatchGroups {
		total += group.Retired
	}
	return total
}

// BatchRetireData records how much one batch contributed to a retirement.
type BatchRetireData struct {
	Name         string       `json:"name"`
	UUID         string       `json:"uuid"`
	IssuanceYear IssuanceYear `json:"issuance_year"`
	Count        uint64       `json:"count"`
}

// RetiredCreditsData is the immutable receipt of one retirement event. Each
// receipt corresponds to exactly one minted NFT item.
type RetiredCreditsData struct {
	Account    ledger.AccountID  `json:"account"`
	RetireData []BatchRetireData `json:"retire_data"`
	Timestamp  time.Time         `json:"timestamp"`
	Count      uint64            `json:"count"`
	Reason     string            `json:"reason,omitempty"`
}
