package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cloudx-io/rentauction/core"
)

var _ core.WeightsSource = (*CriteriaRepository)(nil)

// CriteriaRepository stores tenants' per-property ratings.
type CriteriaRepository struct {
	conn
}

func NewCriteriaRepository(pool *pgxpool.Pool) *CriteriaRepository {
	return &CriteriaRepository{conn: conn{pool: pool}}
}

// SaveCriteria replaces the tenant's ratings for a property.
func (r *CriteriaRepository) SaveCriteria(ctx context.Context, tenantID, propertyID string, weights core.CriteriaWeights) error {
	if err := weights.Validate(); err != nil {
		return err
	}

	const deleteQuery = `DELETE FROM criteria_ratings WHERE tenant_id = $1 AND property_id = $2`
	const insertQuery = `
INSERT INTO criteria_ratings (tenant_id, property_id, criterion, rating)
VALUES ($1, $2, $3, $4)`

	return withTx(ctx, r.pool, func(txCtx context.Context) error {
		if _, err := r.exec(txCtx, deleteQuery, tenantID, propertyID); err != nil {
			return fmt.Errorf("delete criteria: %w", err)
		}
		for _, c := range core.Criteria {
			if _, err := r.exec(txCtx, insertQuery, tenantID, propertyID, string(c), weights[c]); err != nil {
				if isForeignKeyViolation(err) {
					return fmt.Errorf("%w: %s", core.ErrPropertyNotFound, propertyID)
				}
				return fmt.Errorf("insert criterion %s: %w", c, err)
			}
		}
		return nil
	})
}

// CriteriaWeights implements core.WeightsSource.
func (r *CriteriaRepository) CriteriaWeights(ctx context.Context, tenantID, propertyID string) (core.CriteriaWeights, bool, error) {
	const query = `SELECT criterion, rating FROM criteria_ratings WHERE tenant_id = $1 AND property_id = $2`

	rows, err := r.query(ctx, query, tenantID, propertyID)
	if err != nil {
		return nil, false, fmt.Errorf("query criteria: %w", err)
	}
	defer rows.Close()

	weights := make(core.CriteriaWeights)
	for rows.Next() {
		var (
			criterion string
			rating    int
		)
		if err := rows.Scan(&criterion, &rating); err != nil {
			return nil, false, fmt.Errorf("scan criterion: %w", err)
		}
		weights[core.Criterion(criterion)] = rating
	}
	if err := rows.Err(); err != nil {
		return nil, false, fmt.Errorf("iterate criteria: %w", err)
	}
	if len(weights) == 0 {
		return nil, false, nil
	}
	return weights, true, nil
}
