package repo

import (
	"context"
	"database/sql"
	"errors"

	"github.com/go-sql-driver/mysql"
	"github.com/google/uuid"

	domain "github.com/allinbloomus-wq/allinbloom/internal/entity"
	"github.com/allinbloomus-wq/allinbloom/internal/usecase"
)

const mysqlErrDuplicateEntry = 1062

// MySQLWebhookEventRepo is the dedup marker store. The UNIQUE(provider,
// event_id) key does the real work; a duplicate insert is the expected signal
// that another delivery already finished, not an error.
type MySQLWebhookEventRepo struct{ db *sql.DB }

func NewMySQLWebhookEventRepo(db *sql.DB) *MySQLWebhookEventRepo {
	return &MySQLWebhookEventRepo{db: db}
}

var _ usecase.WebhookEventRepo = (*MySQLWebhookEventRepo)(nil)

func (r *MySQLWebhookEventRepo) IsProcessed(ctx context.Context, provider domain.Provider, eventID string) (bool, error) {
	var one int
	err := r.db.QueryRowContext(ctx, `
SELECT 1 FROM webhook_events WHERE provider=? AND event_id=?`,
		string(provider), eventID,
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (r *MySQLWebhookEventRepo) MarkProcessed(ctx context.Context, provider domain.Provider, eventID string) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO webhook_events (id, provider, event_id, created_at)
VALUES (?,?,?,NOW())`,
		uuid.NewString(), string(provider), eventID,
	)
	var me *mysql.MySQLError
	if errors.As(err, &me) && me.Number == mysqlErrDuplicateEntry {
		return nil
	}
	return err
}
