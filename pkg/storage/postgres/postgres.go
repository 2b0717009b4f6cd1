package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"fruitlog/pkg/storage"
)

const schema = `
	CREATE TABLE IF NOT EXISTS fruit_logs (
		id         SERIAL PRIMARY KEY,
		date       VARCHAR(10) NOT NULL,
		fruit      VARCHAR(100) NOT NULL,
		origin     VARCHAR(100),
		rating     INTEGER NOT NULL,
		store      VARCHAR(100),
		region     VARCHAR(100),
		created_at TIMESTAMP NOT NULL DEFAULT (NOW() AT TIME ZONE 'utc')
	)
`

type Store struct {
	db *pgxpool.Pool
}

func New(ctx context.Context, conStr string) (*Store, error) {
	db, err := pgxpool.Connect(ctx, conStr)
	if err != nil {
		return nil, err
	}
	s := Store{
		db: db,
	}

	return &s, nil
}

func (s *Store) Init(ctx context.Context) error {
	_, err := s.db.Exec(ctx, schema)
	if err != nil {
		return fmt.Errorf("create %s table: %w", storage.TableName, err)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

func (s *Store) Close() {
	s.db.Close()
}

// Logs returns every log ordered by date descending, newest id first within a date.
func (s *Store) Logs(ctx context.Context) ([]storage.Log, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, date, fruit, COALESCE(origin, ''), rating, COALESCE(store, ''), COALESCE(region, ''), created_at
		FROM fruit_logs
		ORDER BY date DESC, id DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := []storage.Log{}
	for rows.Next() {
		var l storage.Log
		err := rows.Scan(
			&l.ID,
			&l.Date,
			&l.Fruit,
			&l.Origin,
			&l.Rating,
			&l.Store,
			&l.Region,
			&l.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		l.CreatedAt = l.CreatedAt.UTC()
		logs = append(logs, l)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return logs, nil
}

// AddLog inserts a log within a transaction. The id and created_at columns
// are filled in by the database and returned on the log.
func (s *Store) AddLog(ctx context.Context, l storage.Log) (storage.Log, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return storage.Log{}, err
	}
	defer tx.Rollback(ctx)

	err = tx.QueryRow(ctx, `
		INSERT INTO fruit_logs (date, fruit, origin, rating, store, region)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at
	`,
		l.Date,
		l.Fruit,
		l.Origin,
		l.Rating,
		l.Store,
		l.Region,
	).Scan(&l.ID, &l.CreatedAt)
	if err != nil {
		return storage.Log{}, classify(err)
	}
	l.CreatedAt = l.CreatedAt.UTC()

	if err := tx.Commit(ctx); err != nil {
		return storage.Log{}, classify(err)
	}

	return l, nil
}

// DeleteLog removes a log by id. The row is locked and checked before the
// delete so a missing id yields storage.ErrLogNotFound.
func (s *Store) DeleteLog(ctx context.Context, id int64) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var found int64
	err = tx.QueryRow(ctx, `SELECT id FROM fruit_logs WHERE id = $1 FOR UPDATE`, id).Scan(&found)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return storage.ErrLogNotFound
		}
		return err
	}

	if _, err := tx.Exec(ctx, `DELETE FROM fruit_logs WHERE id = $1`, id); err != nil {
		return classify(err)
	}

	return tx.Commit(ctx)
}

// classify maps integrity (23xxx) and data (22xxx) SQLSTATE classes to
// storage.ErrConstraint.
func classify(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && (strings.HasPrefix(pgErr.Code, "23") || strings.HasPrefix(pgErr.Code, "22")) {
		return fmt.Errorf("%w: %s", storage.ErrConstraint, pgErr.Message)
	}
	return err
}
