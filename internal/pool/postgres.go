package pool

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
)

// poolRecord stores a pool as a JSONB document, mirroring the credits store.
type poolRecord struct {
	ID        uint64         `gorm:"primaryKey"`
	Data      datatypes.JSON `gorm:"type:jsonb;not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (poolRecord) TableName() string { return "pools" }

// PostgresStore persists pools in Postgres.
type PostgresStore struct {
	db *gorm.DB
}

func NewPostgresStore(db *gorm.DB) (*PostgresStore, error) {
	if err := db.AutoMigrate(&poolRecord{}); err != nil {
		return nil, fmt.Errorf("migrate pool schema: %w", err)
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

func marshalPool(pool *Pool) (datatypes.JSON, error) {
	data, err := json.Marshal(pool)
	if err != nil {
		return nil, fmt.Errorf("encode pool: %w", err)
	}
	return data, nil
}

func (s *PostgresStore) CreatePool(ctx context.Context, id PoolID, pool *Pool) error {
	data, err := marshalPool(pool)
	if err != nil {
		return err
	}
	err = s.conn(ctx).Create(&poolRecord{ID: uint64(id), Data: data}).Error
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrPoolIDInUse
		}
		return err
	}
	return nil
}

func (s *PostgresStore) GetPool(ctx context.Context, id PoolID) (*Pool, error) {
	var record poolRecord
	err := s.conn(ctx).First(&record, "id = ?", uint64(id)).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvalidPoolID
		}
		return nil, err
	}
	var pool Pool
	if err := json.Unmarshal(record.Data, &pool); err != nil {
		return nil, fmt.Errorf("decode pool: %w", err)
	}
	return &pool, nil
}

func (s *PostgresStore) PutPool(ctx context.Context, id PoolID, pool *Pool) error {
	data, err := marshalPool(pool)
	if err != nil {
		return err
	}
	record := poolRecord{ID: uint64(id), Data: data}
	return s.conn(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"data", "updated_at"}),
	}).Create(&record).Error
}

func (s *PostgresStore) ListPools(ctx context.Context) ([]StoredPool, error) {
	var records []poolRecord
	if err := s.conn(ctx).Order("id").Find(&records).Error; err != nil {
		return nil, err
	}
	out := make([]StoredPool, 0, len(records))
	for _, record := range records {
		var pool Pool
		if err := json.Unmarshal(record.Data, &pool); err != nil {
			return nil, fmt.Errorf("decode pool: %w", err)
		}
		out = append(out, StoredPool{ID: PoolID(record.ID), Pool: &pool})
	}
	return out, nil
}
