package persistence

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/finlake/finsync/internal/infrastructure/config"
)

// Warehouse writes provider records into the raw tables. Every batch is an
// independent atomic write: a failure mid-import keeps all previously written
// batches.
type Warehouse struct {
	db  *gorm.DB
	cfg config.WarehouseConfig
}

// NewWarehouse creates a warehouse sink.
func NewWarehouse(db *gorm.DB, cfg config.WarehouseConfig) *Warehouse {
	if cfg.BatchSizeRows <= 0 {
		cfg.BatchSizeRows = 1000
	}
	if cfg.BatchSizeHeavy <= 0 {
		cfg.BatchSizeHeavy = 500
	}
	return &Warehouse{db: db, cfg: cfg}
}

// BatchSize returns the standard insert batch size.
func (w *Warehouse) BatchSize() int { return w.cfg.BatchSizeRows }

// HeavyBatchSize returns the reduced batch size for wide rows such as
// transaction lines.
func (w *Warehouse) HeavyBatchSize() int { return w.cfg.BatchSizeHeavy }

// HeartbeatEvery returns how many batches to write between lock heartbeats.
func (w *Warehouse) HeartbeatEvery() int { return w.cfg.HeartbeatEveryBatches }

// Upsert writes one slice of rows, updating on natural-key conflict. rows must
// be a slice of one of the warehouse models.
func (w *Warehouse) Upsert(ctx context.Context, rows interface{}) error {
	return w.upsert(ctx, rows, w.cfg.BatchSizeRows)
}

// UpsertHeavy is Upsert with the reduced batch size.
func (w *Warehouse) UpsertHeavy(ctx context.Context, rows interface{}) error {
	return w.upsert(ctx, rows, w.cfg.BatchSizeHeavy)
}

func (w *Warehouse) upsert(ctx context.Context, rows interface{}, batchSize int) error {
	err := w.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		CreateInBatches(rows, batchSize).Error
	if err != nil {
		return fmt.Errorf("failed to upsert warehouse rows: %w", err)
	}
	return nil
}

// Replace drops all rows of one model within an organization scope and
// reinserts the given set in a single transaction. Used for small reference
// tables where the provider returns the full set every time.
func (w *Warehouse) Replace(ctx context.Context, model interface{}, orgID int64, rows interface{}) error {
	err := w.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("org_id = ?", orgID).Delete(model).Error; err != nil {
			return err
		}
		return tx.CreateInBatches(rows, w.cfg.BatchSizeRows).Error
	})
	if err != nil {
		return fmt.Errorf("failed to replace warehouse rows for org %d: %w", orgID, err)
	}
	return nil
}

// CountRows counts rows of one model within an organization scope.
func (w *Warehouse) CountRows(ctx context.Context, model interface{}, orgID int64) (int64, error) {
	var count int64
	err := w.db.WithContext(ctx).Model(model).Where("org_id = ?", orgID).Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count warehouse rows for org %d: %w", orgID, err)
	}
	return count, nil
}
