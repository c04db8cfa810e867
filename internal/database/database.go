package database

import (
	"context"

	"gorm.io/gorm"
)

type txKey struct{}

// WithTx binds a transaction handle into the context so every store write
// issued during the same operation lands in one transaction.
func WithTx(ctx context.Context, tx *gorm.DB) context.Context {
	return context.WithValue(ctx, txKey{}, tx)
}

// TxFrom returns the transaction bound to the context, if any.
func TxFrom(ctx context.Context) (*gorm.DB, bool) {
	tx, ok := ctx.Value(txKey{}).(*gorm.DB)
	return tx, ok
}

// TxRunner runs a function as one atomic unit of work. A nested call joins
// the transaction already bound to the context instead of opening a new one,
// so an engine forwarding work to another engine shares its transaction.
type TxRunner interface {
	InTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// GormTxRunner commits every store write issued inside fn together, or none
// of them if fn returns an error.
type GormTxRunner struct {
	db *gorm.DB
}

func NewGormTxRunner(db *gorm.DB) *GormTxRunner {
	return &GormTxRunner{db: db}
}

func (r *GormTxRunner) InTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := TxFrom(ctx); ok {
		return fn(ctx)
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(WithTx(ctx, tx))
	})
}

// Passthrough is the memory-mode runner. The in-memory stores roll back
// through snapshots, so there is no transaction to open.
type Passthrough struct{}

func (Passthrough) InTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}
