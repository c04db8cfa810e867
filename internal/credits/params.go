package credits

import (
	"github.com/google/uuid"

	"carbon-ledger/registry-backend/pkg/safemath"
)

// Limits are the policy caps applied to bounded fields and collections.
// They guard resource growth, not memory safety.
type Limits struct {
	MaxAuthorizedAccounts  int
	MaxShortStringLength   int
	MaxLongStringLength    int
	MaxIpfsReferenceLength int
	MaxDocumentCount       int
	MaxGroupCount          int
	MaxGroupSize           int
	MaxSDGCount            int
	MaxRegistryCount       int
	MaxRoyaltyRecipients   int
	MinProjectID           ProjectID
	// FirstAssetID seeds the asset id counter for lazily created group assets.
	FirstAssetID uint64
}

// DefaultLimits mirrors the runtime configuration the engine ships with.
func DefaultLimits() Limits {
	return Limits{
		MaxAuthorizedAccounts:  10,
		MaxShortStringLength:   64,
		MaxLongStringLength:    1024,
		MaxIpfsReferenceLength: 128,
		MaxDocumentCount:       10,
		MaxGroupCount:          10,
		MaxGroupSize:           10,
		MaxSDGCount:            17,
		MaxRegistryCount:       5,
		MaxRoyaltyRecipients:   10,
		MinProjectID:           1000,
		FirstAssetID:           1000,
	}
}

// CreateParams carries the originator's input for project creation and
// resubmission. Batch groups arrive with zero minted/retired counters; group
// ids are assigned in submission order.
type CreateParams struct {
	Name            string            `json:"name"`
	Description     string            `json:"description"`
	Location        string            `json:"location"`
	Images          []string          `json:"images,omitempty"`
	Videos          []string          `json:"videos,omitempty"`
	Documents       []string          `json:"documents,omitempty"`
	RegistryDetails []RegistryDetails `json:"registry_details"`
	SDGDetails      []SDGDetails      `json:"sdg_details"`
	Royalties       []Royalty         `json:"royalties,omitempty"`
	BatchGroups     []BatchGroup      `json:"batch_groups"`
	ProjectType     ProjectType       `json:"project_type,omitempty"`
}

func (l Limits) checkShort(s string) error {
	if len(s) > l.MaxShortStringLength {
		return ErrStringTooLong
	}
	return nil
}

func (l Limits) checkLong(s string) error {
	if len(s) > l.MaxLongStringLength {
		return ErrStringTooLong
	}
	return nil
}

func (l Limits) checkLinks(links []string) error {
	if len(links) > l.MaxDocumentCount {
		return ErrTooManyDocuments
	}
	for _, link := range links {
		if len(link) > l.MaxIpfsReferenceLength {
			return ErrStringTooLong
		}
	}
	return nil
}

// validateParams enforces the bounded-length constraints of CreateParams.
func (l Limits) validateParams(params *CreateParams) error {
	if err := l.checkShort(params.Name); err != nil {
		return err
	}
	if err := l.checkLong(params.Description); err != nil {
		return err
	}
	if err := l.checkLong(params.Location); err != nil {
		return err
	}
	for _, links := range [][]string{params.Images, params.Videos, params.Documents} {
		if err := l.checkLinks(links); err != nil {
			return err
		}
	}
	if len(params.RegistryDetails) > l.MaxRegistryCount {
		return ErrTooManyRegistries
	}
	if len(params.SDGDetails) > l.MaxSDGCount {
		return ErrTooManySDGs
	}
	if len(params.Royalties) > l.MaxRoyaltyRecipients {
		return ErrTooManyRoyaltyRecipients
	}
	if len(params.BatchGroups) > l.MaxGroupCount {
		return ErrTooManyGroups
	}
	return nil
}

// normalizeGroup validates a submitted batch group and prepares it for
// storage: every batch needs nonzero supply and untouched counters, batches
// are sorted oldest vintage first, and the group supply is recomputed as the
// batch sum.
func (l Limits) normalizeGroup(group *BatchGroup) (*BatchGroup, error) {
	if len(group.Batches) == 0 {
		return nil, ErrProjectWithoutCredits
	}
	if len(group.Batches) > l.MaxGroupSize {
		return nil, ErrTooManyBatches
	}
	if err := l.checkShort(group.Name); err != nil {
		return nil, err
	}

	var totalSupply uint64
	for _, batch := range group.Batches {
		if err := l.checkShort(batch.Name); err != nil {
			return nil, err
		}
		if batch.TotalSupply == 0 || batch.Minted != 0 || batch.Retired != 0 {
			return nil, ErrProjectWithoutCredits
		}
		var err error
		totalSupply, err = safemath.CheckedAdd(totalSupply, batch.TotalSupply)
		if err != nil {
			return nil, err
		}
	}
	if totalSupply == 0 {
		return nil, ErrProjectWithoutCredits
	}

	normalized := group.clone()
	sortBatches(normalized.Batches)
	normalized.TotalSupply = totalSupply
	normalized.Minted = 0
	normalized.Retired = 0
	normalized.AssetID = 0
	// Submissions without registry-assigned identifiers get fresh ones.
	if normalized.UUID == "" {
		normalized.UUID = uuid.NewString()
	}
	for i := range normalized.Batches {
		if normalized.Batches[i].UUID == "" {
			normalized.Batches[i].UUID = uuid.NewString()
		}
	}
	return normalized, nil
}

// buildGroupMap validates all submitted groups and assigns sequential ids.
func (l Limits) buildGroupMap(groups []BatchGroup) (map[GroupID]*BatchGroup, error) {
	if len(groups) == 0 {
		return nil, ErrProjectWithoutCredits
	}
	out := make(map[GroupID]*BatchGroup, len(groups))
	for i := range groups {
		normalized, err := l.normalizeGroup(&groups[i])
		if err != nil {
			return nil, err
		}
		out[GroupID(i)] = normalized
	}
	return out, nil
}
