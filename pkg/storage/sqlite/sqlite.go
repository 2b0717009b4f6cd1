// Package sqlite provides the file-based storage backend used when no
// database server is configured.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"fruitlog/pkg/storage"
)

// DefaultPath is the database file opened when DATABASE_URL is not set.
const DefaultPath = "fruity_local.db"

const schema = `
CREATE TABLE IF NOT EXISTS fruit_logs (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	date       VARCHAR(10) NOT NULL,
	fruit      VARCHAR(100) NOT NULL,
	origin     VARCHAR(100),
	rating     INTEGER NOT NULL,
	store      VARCHAR(100),
	region     VARCHAR(100),
	created_at DATETIME
)`

type Store struct {
	db *sql.DB
}

// timeLayout is how created_at is written, the layout SQLAlchemy uses for
// DATETIME columns, so databases stay readable by both.
const timeLayout = "2006-01-02 15:04:05.000000"

var parseLayouts = []string{
	timeLayout,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999-07:00",
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// timestamp scans created_at whichever way a row stored it: parsed by the
// driver, as text, as unix millis or NULL.
type timestamp struct {
	time.Time
}

func (ts *timestamp) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		ts.Time = time.Time{}
	case time.Time:
		ts.Time = v.UTC()
	case int64:
		ts.Time = fromMillis(v)
	case []byte:
		return ts.parse(string(v))
	case string:
		return ts.parse(v)
	default:
		return fmt.Errorf("unsupported created_at value %T", src)
	}
	return nil
}

func (ts *timestamp) parse(s string) error {
	for _, layout := range parseLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			ts.Time = t.UTC()
			return nil
		}
	}
	return fmt.Errorf("unsupported created_at value %q", s)
}

// New opens the database file at path. The schema is created by Init.
func New(ctx context.Context, path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}

	db, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// SQLite has a single writer; one connection also keeps ":memory:" databases shared.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: %v", storage.ErrConnectDB, err)
	}

	return &Store{db: db}, nil
}

func dsn(path string) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + "_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
}

func (s *Store) Init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create %s table: %w", storage.TableName, err)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Close() {
	s.db.Close()
}

// Logs returns every log ordered by date descending.
func (s *Store) Logs(ctx context.Context) ([]storage.Log, error) {
	rows, err := s.db.QueryContext(ctx, `
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
		var (
			l         storage.Log
			createdAt timestamp
		)
		err := rows.Scan(
			&l.ID,
			&l.Date,
			&l.Fruit,
			&l.Origin,
			&l.Rating,
			&l.Store,
			&l.Region,
			&createdAt,
		)
		if err != nil {
			return nil, err
		}
		l.CreatedAt = createdAt.Time
		logs = append(logs, l)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return logs, nil
}

// AddLog inserts l in its own transaction and returns it with id and
// created_at assigned.
func (s *Store) AddLog(ctx context.Context, l storage.Log) (storage.Log, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storage.Log{}, err
	}
	defer tx.Rollback()

	l.CreatedAt = time.Now().UTC().Truncate(time.Microsecond)
	res, err := tx.ExecContext(ctx, `
		INSERT INTO fruit_logs (date, fruit, origin, rating, store, region, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		l.Date,
		l.Fruit,
		l.Origin,
		l.Rating,
		l.Store,
		l.Region,
		l.CreatedAt.Format(timeLayout),
	)
	if err != nil {
		return storage.Log{}, classify(err)
	}

	l.ID, err = res.LastInsertId()
	if err != nil {
		return storage.Log{}, err
	}

	if err := tx.Commit(); err != nil {
		return storage.Log{}, classify(err)
	}

	return l, nil
}

// DeleteLog removes the log with the given id, failing with
// storage.ErrLogNotFound before any delete is issued if it does not exist.
func (s *Store) DeleteLog(ctx context.Context, id int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var found int64
	err = tx.QueryRowContext(ctx, `SELECT id FROM fruit_logs WHERE id = ?`, id).Scan(&found)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.ErrLogNotFound
		}
		return err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM fruit_logs WHERE id = ?`, id); err != nil {
		return classify(err)
	}

	return tx.Commit()
}

func classify(err error) error {
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) && sqliteErr.Code()&0xff == sqlite3lib.SQLITE_CONSTRAINT {
		return fmt.Errorf("%w: %v", storage.ErrConstraint, err)
	}
	return err
}
