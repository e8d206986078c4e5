package directory

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresDirectory reads the chat database's users, groups and
// group_members tables.
type PostgresDirectory struct {
	db *pgxpool.Pool
}

func NewPostgresDirectory(db *pgxpool.Pool) *PostgresDirectory {
	return &PostgresDirectory{db: db}
}

func (d *PostgresDirectory) User(ctx context.Context, id string) (*User, error) {
	if d.db == nil {
		return nil, fmt.Errorf("db not configured")
	}
	u := User{ID: id}
	var name, username *string
	err := d.db.QueryRow(ctx, `SELECT name, username FROM users WHERE id::text = $1`, id).Scan(&name, &username)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("looking up user %s: %w", id, err)
	}
	u.Name = deref(name)
	u.Username = deref(username)
	return &u, nil
}

func (d *PostgresDirectory) Group(ctx context.Context, id string) (*Group, error) {
	if d.db == nil {
		return nil, fmt.Errorf("db not configured")
	}
	g := Group{ID: id}
	var name *string
	err := d.db.QueryRow(ctx, `SELECT name FROM groups WHERE id::text = $1`, id).Scan(&name)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("looking up group %s: %w", id, err)
	}
	g.Name = deref(name)
	return &g, nil
}

func (d *PostgresDirectory) GroupsForUser(ctx context.Context, userID string) ([]string, error) {
	if d.db == nil {
		return nil, fmt.Errorf("db not configured")
	}
	rows, err := d.db.Query(ctx,
		`SELECT group_id::text FROM group_members WHERE user_id::text = $1 ORDER BY group_id`, userID)
	if err != nil {
		return nil, fmt.Errorf("listing groups for %s: %w", userID, err)
	}
	groups, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("scanning groups for %s: %w", userID, err)
	}
	return groups, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
