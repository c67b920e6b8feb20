package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	domain "github.com/allinbloomus-wq/allinbloom/internal/entity"
	"github.com/allinbloomus-wq/allinbloom/internal/usecase"
)

// MySQLOrderRepo persists the order aggregate. Every status transition is a
// single conditional UPDATE; the affected-row count is the concurrency
// arbiter, no row locks held across provider calls.
type MySQLOrderRepo struct{ db *sql.DB }

func NewMySQLOrderRepo(db *sql.DB) *MySQLOrderRepo { return &MySQLOrderRepo{db: db} }

var _ usecase.OrderRepo = (*MySQLOrderRepo)(nil)

func (r *MySQLOrderRepo) Create(ctx context.Context, o *domain.Order) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := insertOrderTx(ctx, tx, o); err != nil {
		return err
	}
	return tx.Commit()
}

// insertOrderTx writes the order row plus its item snapshots inside the given
// transaction. Shared with the customer directory's first-order claim, which
// inserts under its own lock-holding transaction.
func insertOrderTx(ctx context.Context, tx *sql.Tx, o *domain.Order) error {
	_, err := tx.ExecContext(ctx, `
INSERT INTO orders (
  id, email, phone, total_cents, currency, status,
  stripe_session_id, paypal_order_id, paypal_capture_id,
  delivery_address, delivery_line1, delivery_line2, delivery_city,
  delivery_state, delivery_postal_code, delivery_country, delivery_floor,
  delivery_miles, delivery_fee_cents,
  order_comment, first_order_discount_percent,
  is_deleted, created_at, updated_at
) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,0,NOW(),NOW())`,
		o.ID, o.Email, o.Phone, o.TotalCents, o.Currency, string(o.Status),
		o.StripeSessionID, o.PayPalOrderID, o.PayPalCaptureID,
		o.DeliveryAddress, o.DeliveryLine1, o.DeliveryLine2, o.DeliveryCity,
		o.DeliveryState, o.DeliveryPostalCode, o.DeliveryCountry, o.DeliveryFloor,
		o.DeliveryMiles, o.DeliveryFeeCents,
		o.OrderComment, o.FirstOrderDiscountPercent,
	)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}

	for _, it := range o.Items {
		_, err = tx.ExecContext(ctx, `
INSERT INTO order_items (id, order_id, name, price_cents, quantity, image, details)
VALUES (?,?,?,?,?,?,?)`,
			it.ID, o.ID, it.Name, it.PriceCents, it.Quantity, it.Image, it.Details,
		)
		if err != nil {
			return fmt.Errorf("insert order item: %w", err)
		}
	}
	return nil
}

const orderColumns = `
id, email, phone, total_cents, currency, status,
stripe_session_id, paypal_order_id, paypal_capture_id,
delivery_address, delivery_line1, delivery_line2, delivery_city,
delivery_state, delivery_postal_code, delivery_country, delivery_floor,
delivery_miles, delivery_fee_cents,
order_comment, first_order_discount_percent,
is_deleted, deleted_at, created_at`

func (r *MySQLOrderRepo) GetByID(ctx context.Context, id string) (*domain.Order, error) {
	return r.getOne(ctx, `SELECT `+orderColumns+` FROM orders WHERE id=? AND is_deleted=0`, id)
}

func (r *MySQLOrderRepo) GetByStripeSessionID(ctx context.Context, sessionID string) (*domain.Order, error) {
	return r.getOne(ctx, `SELECT `+orderColumns+` FROM orders WHERE stripe_session_id=? AND is_deleted=0`, sessionID)
}

func (r *MySQLOrderRepo) GetByPayPalOrderID(ctx context.Context, paypalOrderID string) (*domain.Order, error) {
	return r.getOne(ctx, `SELECT `+orderColumns+` FROM orders WHERE paypal_order_id=? AND is_deleted=0`, paypalOrderID)
}

func (r *MySQLOrderRepo) getOne(ctx context.Context, query string, arg any) (*domain.Order, error) {
	row := r.db.QueryRowContext(ctx, query, arg)

	var o domain.Order
	var status string
	var deletedAt sql.NullTime
	err := row.Scan(
		&o.ID, &o.Email, &o.Phone, &o.TotalCents, &o.Currency, &status,
		&o.StripeSessionID, &o.PayPalOrderID, &o.PayPalCaptureID,
		&o.DeliveryAddress, &o.DeliveryLine1, &o.DeliveryLine2, &o.DeliveryCity,
		&o.DeliveryState, &o.DeliveryPostalCode, &o.DeliveryCountry, &o.DeliveryFloor,
		&o.DeliveryMiles, &o.DeliveryFeeCents,
		&o.OrderComment, &o.FirstOrderDiscountPercent,
		&o.IsDeleted, &deletedAt, &o.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	o.Status = domain.Status(status)
	if deletedAt.Valid {
		t := deletedAt.Time
		o.DeletedAt = &t
	}

	items, err := r.loadItems(ctx, o.ID)
	if err != nil {
		return nil, err
	}
	o.Items = items
	return &o, nil
}

func (r *MySQLOrderRepo) loadItems(ctx context.Context, orderID string) ([]domain.OrderItem, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT id, order_id, name, price_cents, quantity, image, details
FROM order_items WHERE order_id=? ORDER BY id`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []domain.OrderItem
	for rows.Next() {
		var it domain.OrderItem
		if err := rows.Scan(&it.ID, &it.OrderID, &it.Name, &it.PriceCents, &it.Quantity, &it.Image, &it.Details); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func (r *MySQLOrderRepo) SetStripeSessionID(ctx context.Context, orderID, sessionID string) error {
	_, err := r.db.ExecContext(ctx, `
UPDATE orders SET stripe_session_id=?, updated_at=NOW()
WHERE id=? AND stripe_session_id=''`, sessionID, orderID)
	return err
}

func (r *MySQLOrderRepo) SetPayPalIDs(ctx context.Context, orderID, paypalOrderID, captureID string) error {
	_, err := r.db.ExecContext(ctx, `
UPDATE orders SET
  paypal_order_id   = IF(paypal_order_id='', ?, paypal_order_id),
  paypal_capture_id = IF(paypal_capture_id='', ?, paypal_capture_id),
  updated_at        = NOW()
WHERE id=?`, paypalOrderID, captureID, orderID)
	return err
}

// MarkPaid wins only against rows not already PAID. Correlation ids learned
// during reconciliation bind in the same statement, first writer wins.
func (r *MySQLOrderRepo) MarkPaid(ctx context.Context, orderID string, corr usecase.CorrelationIDs) (bool, error) {
	return r.transition(ctx, orderID, string(domain.StatusPaid), `status != 'PAID'`, corr)
}

func (r *MySQLOrderRepo) MarkFailed(ctx context.Context, orderID string, corr usecase.CorrelationIDs) (bool, error) {
	return r.transition(ctx, orderID, string(domain.StatusFailed), `status != 'PAID'`, corr)
}

func (r *MySQLOrderRepo) MarkCanceled(ctx context.Context, orderID string) (bool, error) {
	return r.transition(ctx, orderID, string(domain.StatusCanceled), `status = 'PENDING'`, usecase.CorrelationIDs{})
}

func (r *MySQLOrderRepo) transition(ctx context.Context, orderID, toStatus, guard string, corr usecase.CorrelationIDs) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
UPDATE orders SET
  status            = ?,
  stripe_session_id = IF(stripe_session_id='', ?, stripe_session_id),
  paypal_order_id   = IF(paypal_order_id='', ?, paypal_order_id),
  paypal_capture_id = IF(paypal_capture_id='', ?, paypal_capture_id),
  updated_at        = NOW()
WHERE id=? AND is_deleted=0 AND `+guard,
		toStatus, corr.StripeSessionID, corr.PayPalOrderID, corr.PayPalCaptureID, orderID,
	)
	if err != nil {
		return false, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	// rows == 0 → lost the race or guard mismatch; caller treats as no-op
	return rows > 0, nil
}

func (r *MySQLOrderRepo) ExpirePending(ctx context.Context, withSessionBefore, withoutSessionBefore time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
UPDATE orders SET status='FAILED', updated_at=NOW()
WHERE status='PENDING' AND is_deleted=0 AND (
  ((stripe_session_id <> '' OR paypal_order_id <> '') AND created_at < ?)
  OR
  (stripe_session_id = '' AND paypal_order_id = '' AND created_at < ?)
)`, withSessionBefore.UTC(), withoutSessionBefore.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
