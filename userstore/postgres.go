package userstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/statlane/authsession"
)

// DBTX is the subset of database/sql used by the repository. Both *sql.DB
// and *sql.Tx satisfy it.
type DBTX interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type PostgresRepository struct {
	db DBTX
}

var _ authsession.UserLookup = (*PostgresRepository)(nil)

func NewPostgresRepository(db DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// UserByID implements [authsession.UserLookup].
func (r *PostgresRepository) UserByID(ctx context.Context, id int64) (*authsession.User, error) {
	query :=
		`SELECT id, nickname FROM users
		 WHERE id = $1
		 `

	u := &authsession.User{}
	err := r.db.QueryRowContext(ctx, query, id).Scan(&u.ID, &u.Nickname)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, authsession.ErrUserNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}

	return u, nil
}
