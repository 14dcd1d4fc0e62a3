package migrations_test

import (
	"context"
	"testing"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"

	"github.com/cloudx-io/rentauction/migrations"
	"github.com/cloudx-io/rentauction/storage/postgres/pgtest"
)

func TestApplyIsIdempotent(t *testing.T) {
	pool := pgtest.NewPool(t)
	ctx := context.Background()

	// NewPool already applied everything once
	assert.Nil(t, migrations.Apply(ctx, pool))

	var applied int
	assert.Nil(t, pool.QueryRow(ctx, `SELECT COUNT(*) FROM schema_migrations`).Scan(&applied))
	check.Equal(t, 2, applied)

	var exists bool
	assert.Nil(t, pool.QueryRow(ctx, `SELECT to_regclass('public.settlement_records') IS NOT NULL`).Scan(&exists))
	check.True(t, exists)
}
