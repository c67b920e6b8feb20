package repo

import (
	"context"
	"database/sql"

	"github.com/allinbloomus-wq/allinbloom/internal/usecase"
)

// MySQLAdvisoryLocker wraps GET_LOCK/RELEASE_LOCK. The lock lives on one
// pooled connection, which must stay pinned until release.
type MySQLAdvisoryLocker struct{ db *sql.DB }

func NewMySQLAdvisoryLocker(db *sql.DB) *MySQLAdvisoryLocker {
	return &MySQLAdvisoryLocker{db: db}
}

var _ usecase.AdvisoryLocker = (*MySQLAdvisoryLocker)(nil)

func (l *MySQLAdvisoryLocker) TryLock(ctx context.Context, name string) (func(), bool, error) {
	conn, err := l.db.Conn(ctx)
	if err != nil {
		return nil, false, err
	}

	var got sql.NullInt64
	if err := conn.QueryRowContext(ctx, `SELECT GET_LOCK(?, 0)`, name).Scan(&got); err != nil {
		conn.Close()
		return nil, false, err
	}
	if !got.Valid || got.Int64 != 1 {
		conn.Close()
		return nil, false, nil
	}

	release := func() {
		var released sql.NullInt64
		_ = conn.QueryRowContext(context.Background(), `SELECT RELEASE_LOCK(?)`, name).Scan(&released)
		conn.Close()
	}
	return release, true, nil
}
