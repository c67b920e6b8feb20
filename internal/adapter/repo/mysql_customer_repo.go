package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"

	domain "github.com/allinbloomus-wq/allinbloom/internal/entity"
	"github.com/allinbloomus-wq/allinbloom/internal/usecase"
)

// MySQLCustomerRepo serializes the first-order-discount decision with a row
// lock on the customer record: two concurrent checkouts from the same email
// queue behind SELECT ... FOR UPDATE, so the second always sees the first
// checkout's inserted order.
type MySQLCustomerRepo struct{ db *sql.DB }

func NewMySQLCustomerRepo(db *sql.DB) *MySQLCustomerRepo { return &MySQLCustomerRepo{db: db} }

var _ usecase.CustomerDirectory = (*MySQLCustomerRepo)(nil)

func (r *MySQLCustomerRepo) FindOrIdentify(ctx context.Context, email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return "", fmt.Errorf("empty email")
	}

	var id string
	err := r.db.QueryRowContext(ctx, `SELECT id FROM customers WHERE email=?`, email).Scan(&id)
	if err == nil {
		return id, nil
	}
	if err != sql.ErrNoRows {
		return "", err
	}

	id = uuid.NewString()
	_, err = r.db.ExecContext(ctx, `
INSERT INTO customers (id, email, created_at) VALUES (?,?,NOW())
ON DUPLICATE KEY UPDATE id=id`, id, email)
	if err != nil {
		return "", err
	}
	// Re-read: a concurrent insert may have won the duplicate-key race.
	if err := r.db.QueryRowContext(ctx, `SELECT id FROM customers WHERE email=?`, email).Scan(&id); err != nil {
		return "", err
	}
	return id, nil
}

func (r *MySQLCustomerRepo) ClaimFirstOrder(ctx context.Context, email string, decide func(priorPaid int, hasOpenDiscount bool) (*domain.Order, error)) error {
	email = strings.ToLower(strings.TrimSpace(email))

	// The customer row must exist before it can be locked.
	if _, err := r.FindOrIdentify(ctx, email); err != nil {
		return err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var lockedID string
	if err := tx.QueryRowContext(ctx, `
SELECT id FROM customers WHERE email=? FOR UPDATE`, email).Scan(&lockedID); err != nil {
		return fmt.Errorf("lock customer: %w", err)
	}

	var priorPaid int
	if err := tx.QueryRowContext(ctx, `
SELECT COUNT(*) FROM orders
WHERE email=? AND status='PAID' AND is_deleted=0`, email).Scan(&priorPaid); err != nil {
		return fmt.Errorf("count paid orders: %w", err)
	}

	var hasOpenDiscount bool
	if err := tx.QueryRowContext(ctx, `
SELECT EXISTS(
  SELECT 1 FROM orders
  WHERE email=? AND status IN ('PENDING','PAID')
    AND first_order_discount_percent > 0 AND is_deleted=0
)`, email).Scan(&hasOpenDiscount); err != nil {
		return fmt.Errorf("check open discount: %w", err)
	}

	order, err := decide(priorPaid, hasOpenDiscount)
	if err != nil {
		return err
	}
	if order == nil {
		return tx.Commit()
	}

	if err := insertOrderTx(ctx, tx, order); err != nil {
		return err
	}
	return tx.Commit()
}
