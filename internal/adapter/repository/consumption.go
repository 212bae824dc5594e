package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/berfenger/smartboiler2mqtt/internal/core/domain"
	"github.com/berfenger/smartboiler2mqtt/internal/core/port"
)

const (
	consumptionRowID = 1

	upsertConsumptionSQL = `
		INSERT INTO consumption_total (id, total_wh, last_raw_wh, has_baseline, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			total_wh=excluded.total_wh,
			last_raw_wh=excluded.last_raw_wh,
			has_baseline=excluded.has_baseline,
			updated_at=excluded.updated_at
	`

	selectConsumptionSQL = `
		SELECT total_wh, last_raw_wh, has_baseline, updated_at
		FROM consumption_total WHERE id=?
	`
)

type ConsumptionRepository struct {
	db *sql.DB
}

// ensure interface compliance
var _ port.ConsumptionStore = (*ConsumptionRepository)(nil)

func NewConsumptionRepository(db *sql.DB) *ConsumptionRepository {
	return &ConsumptionRepository{db: db}
}

func (r *ConsumptionRepository) Load(ctx context.Context) (domain.ConsumptionRecord, bool, error) {
	var (
		record    domain.ConsumptionRecord
		totalWh   int64
		lastRawWh int64
	)
	err := r.db.QueryRowContext(ctx, selectConsumptionSQL, consumptionRowID).
		Scan(&totalWh, &lastRawWh, &record.HasBaseline, &record.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ConsumptionRecord{}, false, nil
	}
	if err != nil {
		return domain.ConsumptionRecord{}, false, fmt.Errorf("load consumption total: %w", err)
	}
	if totalWh < 0 || lastRawWh < 0 {
		return domain.ConsumptionRecord{}, false, fmt.Errorf("load consumption total: negative value stored")
	}
	record.TotalWh = uint64(totalWh)
	record.LastRawWh = uint32(lastRawWh)
	return record, true, nil
}

// Save overwrites the stored total. The upsert is a single statement so a
// crash leaves either the old or the new row.
func (r *ConsumptionRepository) Save(ctx context.Context, record domain.ConsumptionRecord) error {
	updatedAt := record.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}
	_, err := r.db.ExecContext(ctx, upsertConsumptionSQL,
		consumptionRowID,
		int64(record.TotalWh),
		int64(record.LastRawWh),
		record.HasBaseline,
		updatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("save consumption total: %w", err)
	}
	return nil
}
