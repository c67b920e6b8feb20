package repo

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	domain "github.com/allinbloomus-wq/allinbloom/internal/entity"
	"github.com/allinbloomus-wq/allinbloom/internal/usecase"
)

// MySQLCatalogRepo reads the bouquet catalog and the store-wide settings row.
// Checkout never trusts client prices for catalog items, so this read happens
// on every checkout.
type MySQLCatalogRepo struct{ db *sql.DB }

func NewMySQLCatalogRepo(db *sql.DB) *MySQLCatalogRepo { return &MySQLCatalogRepo{db: db} }

var (
	_ usecase.CatalogReader  = (*MySQLCatalogRepo)(nil)
	_ usecase.SettingsReader = (*MySQLCatalogRepo)(nil)
)

func (r *MySQLCatalogRepo) ActiveByIDs(ctx context.Context, ids []string) (map[string]domain.Bouquet, error) {
	if len(ids) == 0 {
		return map[string]domain.Bouquet{}, nil
	}

	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := r.db.QueryContext(ctx, `
SELECT id, name, price_cents, currency, flower_type, bouquet_type, colors,
       is_mixed, allow_flower_qty, discount_percent, discount_note, image
FROM bouquets
WHERE is_active=1 AND id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]domain.Bouquet, len(ids))
	for rows.Next() {
		var b domain.Bouquet
		if err := rows.Scan(
			&b.ID, &b.Name, &b.PriceCents, &b.Currency, &b.FlowerType, &b.BouquetType, &b.Colors,
			&b.IsMixed, &b.AllowFlowerQty, &b.DiscountPercent, &b.DiscountNote, &b.Image,
		); err != nil {
			return nil, err
		}
		b.IsActive = true
		out[b.ID] = b
	}
	return out, rows.Err()
}

// StoreSettings loads the single settings row. A missing row means discounts
// are simply off, never an error.
func (r *MySQLCatalogRepo) StoreSettings(ctx context.Context) (domain.StoreSettings, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT global_discount_percent, global_discount_note,
       category_discount_percent, category_discount_note,
       category_flower_type, category_mixed, category_color,
       category_min_price_cents, category_max_price_cents,
       first_order_discount_percent, first_order_discount_note
FROM store_settings LIMIT 1`)

	var s domain.StoreSettings
	var minCents, maxCents sql.NullInt64
	err := row.Scan(
		&s.GlobalDiscountPercent, &s.GlobalDiscountNote,
		&s.CategoryDiscountPercent, &s.CategoryDiscountNote,
		&s.CategoryFlowerType, &s.CategoryMixed, &s.CategoryColor,
		&minCents, &maxCents,
		&s.FirstOrderDiscountPercent, &s.FirstOrderDiscountNote,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.StoreSettings{}, nil
	}
	if err != nil {
		return domain.StoreSettings{}, err
	}
	if minCents.Valid {
		v := minCents.Int64
		s.CategoryMinPriceCents = &v
	}
	if maxCents.Valid {
		v := maxCents.Int64
		s.CategoryMaxPriceCents = &v
	}
	return s, nil
}
