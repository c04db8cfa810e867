package credits

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"carbon-ledger/registry-backend/internal/database"
	"carbon-ledger/registry-backend/internal/ledger"
)

// projectRecord stores a project as a JSONB document. The nested batch-group
// structure maps poorly onto relational rows and is always read and written
// whole, so a document column keeps the store faithful to the engine's
// copy-and-commit semantics.
type projectRecord struct {
	ID        uint64         `gorm:"primaryKey"`
	Data      datatypes.JSON `gorm:"type:jsonb;not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (projectRecord) TableName() string { return "projects" }

type assetLookupRecord struct {
	AssetID   uint64 `gorm:"primaryKey"`
	ProjectID uint64 `gorm:"not null"`
	GroupID   uint64 `gorm:"not null"`
}

func (assetLookupRecord) TableName() string { return "asset_lookup" }

type counterRecord struct {
	Name  string `gorm:"primaryKey"`
	Value uint64 `gorm:"not null"`
}

func (counterRecord) TableName() string { return "counters" }

type itemCounterRecord struct {
	AssetID  uint64 `gorm:"primaryKey"`
	NextItem uint64 `gorm:"not null"`
}

func (itemCounterRecord) TableName() string { return "item_counters" }

type retirementRecord struct {
	AssetID   uint64         `gorm:"primaryKey"`
	ItemID    uint64         `gorm:"primaryKey"`
	Data      datatypes.JSON `gorm:"type:jsonb;not null"`
	CreatedAt time.Time
}

func (retirementRecord) TableName() string { return "retirements" }

type authorizedAccountRecord struct {
	Position int    `gorm:"primaryKey;autoIncrement:false"`
	Account  string `gorm:"not null"`
}

func (authorizedAccountRecord) TableName() string { return "authorized_accounts" }

const nextAssetCounter = "next_asset_id"

// PostgresStore persists engine state in Postgres. Project and retirement
// documents live in JSONB columns; counters and lookups in plain tables.
type PostgresStore struct {
	db *gorm.DB
}

func NewPostgresStore(db *gorm.DB) (*PostgresStore, error) {
	err := db.AutoMigrate(
		&projectRecord{},
		&assetLookupRecord{},
		&counterRecord{},
		&itemCounterRecord{},
		&retirementRecord{},
		&authorizedAccountRecord{},
	)
	if err != nil {
		return nil, fmt.Errorf("migrate credits schema: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

// conn returns the transaction bound to the context when the operation runs
// inside a unit of work, or a plain connection otherwise.
func (s *PostgresStore) conn(ctx context.Context) *gorm.DB {
	if tx, ok := database.TxFrom(ctx); ok {
		return tx
	}
	return s.db.WithContext(ctx)
}

func marshalProject(project *Project) (datatypes.JSON, error) {
	data, err := json.Marshal(project)
	if err != nil {
		return nil, fmt.Errorf("encode project: %w", err)
	}
	return data, nil
}

func unmarshalProject(data []byte) (*Project, error) {
	var project Project
	if err := json.Unmarshal(data, &project); err != nil {
		return nil, fmt.Errorf("decode project: %w", err)
	}
	return &project, nil
}

func (s *PostgresStore) CreateProject(ctx context.Context, id ProjectID, project *Project) error {
	data, err := marshalProject(project)
	if err != nil {
		return err
	}
	err = s.conn(ctx).Create(&projectRecord{ID: uint64(id), Data: data}).Error
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrProjectIDInUse
		}
		return err
	}
	return nil
}

func (s *PostgresStore) GetProject(ctx context.Context, id ProjectID) (*Project, error) {
	var record projectRecord
	err := s.conn(ctx).First(&record, "id = ?", uint64(id)).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrProjectNotFound
		}
		return nil, err
	}
	return unmarshalProject(record.Data)
}

func (s *PostgresStore) PutProject(ctx context.Context, id ProjectID, project *Project) error {
	data, err := marshalProject(project)
	if err != nil {
		return err
	}
	record := projectRecord{ID: uint64(id), Data: data}
	return s.conn(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"data", "updated_at"}),
	}).Create(&record).Error
}

func (s *PostgresStore) DeleteProject(ctx context.Context, id ProjectID) error {
	result := s.conn(ctx).Delete(&projectRecord{}, "id = ?", uint64(id))
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrProjectNotFound
	}
	return nil
}

func (s *PostgresStore) UpdateProject(ctx context.Context, id ProjectID, fn func(*Project) error) (*Project, error) {
	var updated *Project
	err := s.conn(ctx).Transaction(func(tx *gorm.DB) error {
		var record projectRecord
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&record, "id = ?", uint64(id)).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrProjectNotFound
			}
			return err
		}
		project, err := unmarshalProject(record.Data)
		if err != nil {
			return err
		}
		if err := fn(project); err != nil {
			return err
		}
		data, err := marshalProject(project)
		if err != nil {
			return err
		}
		updated = project
		return tx.Model(&projectRecord{}).Where("id = ?", uint64(id)).Update("data", data).Error
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *PostgresStore) ListProjects(ctx context.Context) ([]StoredProject, error) {
	var records []projectRecord
	if err := s.conn(ctx).Order("id").Find(&records).Error; err != nil {
		return nil, err
	}
	out := make([]StoredProject, 0, len(records))
	for _, record := range records {
		project, err := unmarshalProject(record.Data)
		if err != nil {
			return nil, err
		}
		out = append(out, StoredProject{ID: ProjectID(record.ID), Project: project})
	}
	return out, nil
}

func (s *PostgresStore) LookupAsset(ctx context.Context, assetID ledger.AssetID) (ProjectID, GroupID, bool, error) {
	var record assetLookupRecord
	err := s.conn(ctx).First(&record, "asset_id = ?", uint64(assetID)).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, 0, false, nil
		}
		return 0, 0, false, err
	}
	return ProjectID(record.ProjectID), GroupID(record.GroupID), true, nil
}

func (s *PostgresStore) PutAssetLookup(ctx context.Context, assetID ledger.AssetID, projectID ProjectID, groupID GroupID) error {
	record := assetLookupRecord{AssetID: uint64(assetID), ProjectID: uint64(projectID), GroupID: uint64(groupID)}
	return s.conn(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "asset_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"project_id", "group_id"}),
	}).Create(&record).Error
}

func (s *PostgresStore) NextAssetID(ctx context.Context) (ledger.AssetID, error) {
	var record counterRecord
	err := s.conn(ctx).First(&record, "name = ?", nextAssetCounter).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, nil
		}
		return 0, err
	}
	return ledger.AssetID(record.Value), nil
}

func (s *PostgresStore) SetNextAssetID(ctx context.Context, id ledger.AssetID) error {
	record := counterRecord{Name: nextAssetCounter, Value: uint64(id)}
	return s.conn(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"value"}),
	}).Create(&record).Error
}

func (s *PostgresStore) NextItemID(ctx context.Context, assetID ledger.AssetID) (ledger.ItemID, bool, error) {
	var record itemCounterRecord
	err := s.conn(ctx).First(&record, "asset_id = ?", uint64(assetID)).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return ledger.ItemID(record.NextItem), true, nil
}

func (s *PostgresStore) SetNextItemID(ctx context.Context, assetID ledger.AssetID, itemID ledger.ItemID) error {
	record := itemCounterRecord{AssetID: uint64(assetID), NextItem: uint64(itemID)}
	return s.conn(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "asset_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"next_item"}),
	}).Create(&record).Error
}

func (s *PostgresStore) PutRetirement(ctx context.Context, assetID ledger.AssetID, itemID ledger.ItemID, data RetiredCreditsData) error {
	encoded, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode retirement: %w", err)
	}
	record := retirementRecord{AssetID: uint64(assetID), ItemID: uint64(itemID), Data: encoded}
	return s.conn(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "asset_id"}, {Name: "item_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"data"}),
	}).Create(&record).Error
}

func (s *PostgresStore) GetRetirement(ctx context.Context, assetID ledger.AssetID, itemID ledger.ItemID) (RetiredCreditsData, error) {
	var record retirementRecord
	err := s.conn(ctx).First(&record, "asset_id = ? AND item_id = ?", uint64(assetID), uint64(itemID)).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return RetiredCreditsData{}, ErrRetirementNotFound
		}
		return RetiredCreditsData{}, err
	}
	var data RetiredCreditsData
	if err := json.Unmarshal(record.Data, &data); err != nil {
		return RetiredCreditsData{}, fmt.Errorf("decode retirement: %w", err)
	}
	return data, nil
}

func (s *PostgresStore) AuthorizedAccounts(ctx context.Context) ([]ledger.AccountID, error) {
	var records []authorizedAccountRecord
	if err := s.conn(ctx).Order("position").Find(&records).Error; err != nil {
		return nil, err
	}
	accounts := make([]ledger.AccountID, 0, len(records))
	for _, record := range records {
		accounts = append(accounts, ledger.AccountID(record.Account))
	}
	return accounts, nil
}

func (s *PostgresStore) SetAuthorizedAccounts(ctx context.Context, accounts []ledger.AccountID) error {
	return s.conn(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("1 = 1").Delete(&authorizedAccountRecord{}).Error; err != nil {
			return err
		}
		for i, account := range accounts {
			record := authorizedAccountRecord{Position: i, Account: string(account)}
			if err := tx.Create(&record).Error; err != nil {
				return err
			}
		}
		return nil
	})
}
