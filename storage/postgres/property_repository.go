package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/cloudx-io/rentauction/core"
	"github.com/cloudx-io/rentauction/ledger"
)

var _ ledger.Journal = (*PropertyRepository)(nil)

// Listing is a persisted property with its accepted bids in sequence order.
type Listing struct {
	Property core.Property
	Bids     []core.Bid
}

// PropertyRepository is the ledger's journal. Amounts travel as text so
// NUMERIC columns round-trip through decimal.Decimal without float loss.
type PropertyRepository struct {
	conn
}

func NewPropertyRepository(pool *pgxpool.Pool) *PropertyRepository {
	return &PropertyRepository{conn: conn{pool: pool}}
}

func (r *PropertyRepository) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return withTx(ctx, r.pool, fn)
}

func (r *PropertyRepository) SaveProperty(ctx context.Context, p core.Property) error {
	const query = `
INSERT INTO properties (id, landlord_id, name, address, base_price, currency, window_state, opened_at, closes_at, listed_at)
VALUES ($1, $2, $3, $4, $5::numeric, $6, $7, $8, $9, $10)`

	_, err := r.exec(ctx, query,
		p.ID, p.LandlordID, p.Name, p.Address, p.BasePrice.String(), string(p.Currency),
		string(p.Window.State), nullTime(p.Window.OpenedAt), nullTime(p.Window.ClosesAt), p.ListedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", core.ErrPropertyExists, p.ID)
		}
		return fmt.Errorf("insert property: %w", err)
	}
	return nil
}

// AppendBid stores the bid and the window it produced in one transaction.
func (r *PropertyRepository) AppendBid(ctx context.Context, bid core.Bid, window core.Window) error {
	const insertBid = `
INSERT INTO bids (id, property_id, bidder, wallet, amount, currency, seq, placed_at)
VALUES ($1, $2, $3, $4, $5::numeric, $6, $7, $8)`

	return r.WithTx(ctx, func(txCtx context.Context) error {
		_, err := r.exec(txCtx, insertBid,
			bid.ID, bid.PropertyID, bid.Bidder, bid.Wallet, bid.Amount.String(),
			string(bid.Currency), int64(bid.Seq), bid.PlacedAt)
		if err != nil {
			if isForeignKeyViolation(err) {
				return fmt.Errorf("%w: %s", core.ErrPropertyNotFound, bid.PropertyID)
			}
			if isUniqueViolation(err) {
				return fmt.Errorf("bid %d for %s already stored", bid.Seq, bid.PropertyID)
			}
			return fmt.Errorf("insert bid: %w", err)
		}
		return r.SaveWindow(txCtx, bid.PropertyID, window)
	})
}

func (r *PropertyRepository) SaveWindow(ctx context.Context, propertyID string, w core.Window) error {
	const query = `UPDATE properties SET window_state = $2, opened_at = $3, closes_at = $4 WHERE id = $1`

	tag, err := r.exec(ctx, query, propertyID, string(w.State), nullTime(w.OpenedAt), nullTime(w.ClosesAt))
	if err != nil {
		return fmt.Errorf("update window: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", core.ErrPropertyNotFound, propertyID)
	}
	return nil
}

// GetProperty returns a single listing without its bids.
func (r *PropertyRepository) GetProperty(ctx context.Context, id string) (core.Property, error) {
	const query = `
SELECT id, landlord_id, name, address, base_price::text, currency, window_state, opened_at, closes_at, listed_at
FROM properties WHERE id = $1`

	p, err := scanProperty(r.queryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return core.Property{}, fmt.Errorf("%w: %s", core.ErrPropertyNotFound, id)
		}
		return core.Property{}, fmt.Errorf("get property: %w", err)
	}
	return p, nil
}

// LoadAll returns every listing with its bids, ordered by property ID.
func (r *PropertyRepository) LoadAll(ctx context.Context) ([]Listing, error) {
	const propertiesQuery = `
SELECT id, landlord_id, name, address, base_price::text, currency, window_state, opened_at, closes_at, listed_at
FROM properties ORDER BY id`
	const bidsQuery = `
SELECT id, property_id, bidder, wallet, amount::text, currency, seq, placed_at
FROM bids ORDER BY property_id, seq`

	var listings []Listing
	err := r.WithTx(ctx, func(txCtx context.Context) error {
		rows, err := r.query(txCtx, propertiesQuery)
		if err != nil {
			return fmt.Errorf("query properties: %w", err)
		}
		index := make(map[string]int)
		for rows.Next() {
			p, err := scanProperty(rows)
			if err != nil {
				rows.Close()
				return fmt.Errorf("scan property: %w", err)
			}
			index[p.ID] = len(listings)
			listings = append(listings, Listing{Property: p})
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return fmt.Errorf("iterate properties: %w", err)
		}

		rows, err = r.query(txCtx, bidsQuery)
		if err != nil {
			return fmt.Errorf("query bids: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			bid, err := scanBid(rows)
			if err != nil {
				return fmt.Errorf("scan bid: %w", err)
			}
			if i, ok := index[bid.PropertyID]; ok {
				listings[i].Bids = append(listings[i].Bids, bid)
			}
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return listings, nil
}

func scanProperty(row pgx.Row) (core.Property, error) {
	var (
		p                  core.Property
		basePrice          string
		currency, state    string
		openedAt, closesAt *time.Time
	)
	if err := row.Scan(&p.ID, &p.LandlordID, &p.Name, &p.Address, &basePrice, &currency, &state, &openedAt, &closesAt, &p.ListedAt); err != nil {
		return core.Property{}, err
	}
	price, err := decimal.NewFromString(basePrice)
	if err != nil {
		return core.Property{}, fmt.Errorf("parse base price %q: %w", basePrice, err)
	}
	p.BasePrice = price
	p.Currency = core.Currency(currency)
	p.Window.State = core.WindowState(state)
	if openedAt != nil {
		p.Window.OpenedAt = openedAt.UTC()
	}
	if closesAt != nil {
		p.Window.ClosesAt = closesAt.UTC()
	}
	p.ListedAt = p.ListedAt.UTC()
	return p, nil
}

func scanBid(row pgx.Row) (core.Bid, error) {
	var (
		b        core.Bid
		amount   string
		currency string
		seq      int64
	)
	if err := row.Scan(&b.ID, &b.PropertyID, &b.Bidder, &b.Wallet, &amount, &currency, &seq, &b.PlacedAt); err != nil {
		return core.Bid{}, err
	}
	value, err := decimal.NewFromString(amount)
	if err != nil {
		return core.Bid{}, fmt.Errorf("parse bid amount %q: %w", amount, err)
	}
	b.Amount = value
	b.Currency = core.Currency(currency)
	b.Seq = uint64(seq)
	b.PlacedAt = b.PlacedAt.UTC()
	return b, nil
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
