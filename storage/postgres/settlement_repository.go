package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/cloudx-io/rentauction/core"
	"github.com/cloudx-io/rentauction/settlement"
)

var _ settlement.RecordStore = (*SettlementRepository)(nil)

// SettlementRepository keeps the latest settlement record per property.
type SettlementRepository struct {
	conn
}

func NewSettlementRepository(pool *pgxpool.Pool) *SettlementRepository {
	return &SettlementRepository{conn: conn{pool: pool}}
}

func (r *SettlementRepository) SaveRecord(ctx context.Context, rec core.SettlementRecord) error {
	const query = `
INSERT INTO settlement_records (
	property_id, id, winning_bid_id, payer, amount, currency, settled_amount, settled_currency,
	status, receipt, failure_reason, attempts, proof, created_at, updated_at
) VALUES ($1, $2, $3, $4, $5::numeric, $6, $7::numeric, $8, $9, $10, $11, $12, $13, $14, $15)
ON CONFLICT (property_id) DO UPDATE SET
	id = EXCLUDED.id,
	winning_bid_id = EXCLUDED.winning_bid_id,
	payer = EXCLUDED.payer,
	amount = EXCLUDED.amount,
	currency = EXCLUDED.currency,
	settled_amount = EXCLUDED.settled_amount,
	settled_currency = EXCLUDED.settled_currency,
	status = EXCLUDED.status,
	receipt = EXCLUDED.receipt,
	failure_reason = EXCLUDED.failure_reason,
	attempts = EXCLUDED.attempts,
	proof = EXCLUDED.proof,
	updated_at = EXCLUDED.updated_at`

	_, err := r.exec(ctx, query,
		rec.PropertyID, rec.ID, rec.WinningBidID, rec.Payer,
		rec.Amount.String(), string(rec.Currency),
		rec.SettledAmount.String(), string(rec.SettledCurrency),
		string(rec.Status), rec.Receipt, rec.FailureReason, rec.Attempts, rec.Proof,
		rec.CreatedAt, rec.UpdatedAt)
	if err != nil {
		if isForeignKeyViolation(err) {
			return fmt.Errorf("%w: %s", core.ErrPropertyNotFound, rec.PropertyID)
		}
		return fmt.Errorf("upsert settlement record: %w", err)
	}
	return nil
}

const recordColumns = `id, property_id, winning_bid_id, payer, amount::text, currency, settled_amount::text, settled_currency,
	status, receipt, failure_reason, attempts, proof, created_at, updated_at`

func (r *SettlementRepository) LoadRecord(ctx context.Context, propertyID string) (core.SettlementRecord, error) {
	query := `SELECT ` + recordColumns + ` FROM settlement_records WHERE property_id = $1`

	rec, err := scanRecord(r.queryRow(ctx, query, propertyID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return core.SettlementRecord{}, fmt.Errorf("%w: %s", core.ErrRecordNotFound, propertyID)
		}
		return core.SettlementRecord{}, fmt.Errorf("load settlement record: %w", err)
	}
	return rec, nil
}

// PendingRecords returns every record still PENDING, oldest first.
func (r *SettlementRepository) PendingRecords(ctx context.Context) ([]core.SettlementRecord, error) {
	query := `SELECT ` + recordColumns + ` FROM settlement_records WHERE status = $1 ORDER BY created_at, property_id`

	rows, err := r.query(ctx, query, string(core.SettlementPending))
	if err != nil {
		return nil, fmt.Errorf("query pending settlements: %w", err)
	}
	defer rows.Close()

	var out []core.SettlementRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan pending settlement: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pending settlements: %w", err)
	}
	return out, nil
}

func scanRecord(row pgx.Row) (core.SettlementRecord, error) {
	var (
		rec                   core.SettlementRecord
		amount, settledAmount string
		currency, settledCur  string
		status                string
	)
	err := row.Scan(
		&rec.ID, &rec.PropertyID, &rec.WinningBidID, &rec.Payer, &amount, &currency,
		&settledAmount, &settledCur, &status, &rec.Receipt, &rec.FailureReason,
		&rec.Attempts, &rec.Proof, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return core.SettlementRecord{}, err
	}

	if rec.Amount, err = decimal.NewFromString(amount); err != nil {
		return core.SettlementRecord{}, fmt.Errorf("parse amount %q: %w", amount, err)
	}
	if rec.SettledAmount, err = decimal.NewFromString(settledAmount); err != nil {
		return core.SettlementRecord{}, fmt.Errorf("parse settled amount %q: %w", settledAmount, err)
	}
	rec.Currency = core.Currency(currency)
	rec.SettledCurrency = core.Currency(settledCur)
	rec.Status = core.SettlementStatus(status)
	rec.CreatedAt = rec.CreatedAt.UTC()
	rec.UpdatedAt = rec.UpdatedAt.UTC()
	return rec, nil
}
