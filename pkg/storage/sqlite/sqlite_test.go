package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"fruitlog/pkg/storage"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	ctx := context.Background()
	db, err := New(ctx, filepath.Join(t.TempDir(), "fruit_test.db"))
	if err != nil {
		t.Fatalf("unexpected error opening sqlite store: %v", err)
	}
	t.Cleanup(db.Close)

	if err := db.Init(ctx); err != nil {
		t.Fatalf("unexpected error creating schema: %v", err)
	}

	return db
}

func countLogs(t *testing.T, db *Store) int {
	t.Helper()

	var n int
	if err := db.db.QueryRow(`SELECT COUNT(*) FROM fruit_logs`).Scan(&n); err != nil {
		t.Fatalf("unexpected error counting logs: %v", err)
	}
	return n
}

func TestStore_Init(t *testing.T) {
	db := newTestStore(t)

	if err := db.Init(context.Background()); err != nil {
		t.Fatalf("second Init returned error: %v", err)
	}

	rows, err := db.db.Query(`SELECT name FROM pragma_table_info('fruit_logs') ORDER BY cid`)
	if err != nil {
		t.Fatalf("unexpected error reading table info: %v", err)
	}
	defer rows.Close()

	var columns []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			t.Fatalf("unexpected error scanning column: %v", err)
		}
		columns = append(columns, name)
	}

	want := []string{"id", "date", "fruit", "origin", "rating", "store", "region", "created_at"}
	if !reflect.DeepEqual(columns, want) {
		t.Errorf("want columns %v, got %v", want, columns)
	}
}

func TestStore_AddLog(t *testing.T) {
	db := newTestStore(t)

	in := storage.Log{Date: "2024-06-15", Fruit: "Strawberry", Origin: "Quebec", Rating: 5, Store: "Metro", Region: "Quebec"}
	got, err := db.AddLog(context.Background(), in)
	if err != nil {
		t.Fatalf("unexpected error while adding log: %v", err)
	}
	if got.ID == 0 {
		t.Error("want non-zero id")
	}
	if got.CreatedAt.IsZero() {
		t.Error("want created_at to be set")
	}

	logs, err := db.Logs(context.Background())
	if err != nil {
		t.Fatalf("Logs returned error: %v", err)
	}
	if len(logs) != 1 {
		t.Fatalf("want 1 log, got %d", len(logs))
	}
	if !reflect.DeepEqual(logs[0], got) {
		t.Errorf("want log\n%+v\ngot log\n%+v", got, logs[0])
	}
}

func TestStore_AddLogEmptyFields(t *testing.T) {
	db := newTestStore(t)

	got, err := db.AddLog(context.Background(), storage.Log{Date: "", Fruit: "", Rating: 0})
	if err != nil {
		t.Fatalf("unexpected error while adding log with empty fields: %v", err)
	}
	if got.ID == 0 {
		t.Error("want id to be assigned")
	}
	if n := countLogs(t, db); n != 1 {
		t.Errorf("want 1 row, got %d", n)
	}
}

func Test_classify(t *testing.T) {
	db := newTestStore(t)

	insert := `INSERT INTO fruit_logs (id, date, fruit, rating) VALUES (7, '2024-06-15', 'Kiwi', 5)`
	if _, err := db.db.Exec(insert); err != nil {
		t.Fatalf("unexpected error inserting raw row: %v", err)
	}
	_, err := db.db.Exec(insert)
	if err == nil {
		t.Fatal("want duplicate id to fail")
	}
	if !errors.Is(classify(err), storage.ErrConstraint) {
		t.Errorf("want error %v, got %v", storage.ErrConstraint, classify(err))
	}

	if errors.Is(classify(errors.New("disk I/O error")), storage.ErrConstraint) {
		t.Error("want non-sqlite error left unclassified")
	}
}

// A table as SQLAlchemy creates it for the same model, with created_at
// written as DATETIME text.
const sqlalchemySchema = `
CREATE TABLE fruit_logs (
	id INTEGER NOT NULL,
	date VARCHAR(10) NOT NULL,
	fruit VARCHAR(100) NOT NULL,
	origin VARCHAR(100),
	rating INTEGER NOT NULL,
	store VARCHAR(100),
	region VARCHAR(100),
	created_at DATETIME,
	PRIMARY KEY (id)
)`

func TestStore_LogsExistingDatabase(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "fruity_local.db")

	db, err := New(ctx, path)
	if err != nil {
		t.Fatalf("unexpected error opening sqlite store: %v", err)
	}
	t.Cleanup(db.Close)

	stmts := []string{
		sqlalchemySchema,
		`INSERT INTO fruit_logs (date, fruit, origin, rating, store, region, created_at)
			VALUES ('2024-06-15', 'Mango', 'Peru', 5, 'IGA', 'Quebec', '2024-06-15 10:00:00.000000')`,
		`INSERT INTO fruit_logs (date, fruit, rating, created_at) VALUES ('2024-06-14', 'Kiwi', 3, NULL)`,
		`INSERT INTO fruit_logs (date, fruit, rating, created_at) VALUES ('2024-06-13', 'Plum', 2, 1718445600000)`,
	}
	for _, stmt := range stmts {
		if _, err := db.db.Exec(stmt); err != nil {
			t.Fatalf("unexpected error preparing database: %v", err)
		}
	}

	if err := db.Init(ctx); err != nil {
		t.Fatalf("unexpected error from Init on existing table: %v", err)
	}

	added, err := db.AddLog(ctx, storage.Log{Date: "2024-06-16", Fruit: "Pear", Rating: 4, Region: storage.DefaultRegion})
	if err != nil {
		t.Fatalf("unexpected error while adding log: %v", err)
	}

	logs, err := db.Logs(ctx)
	if err != nil {
		t.Fatalf("Logs returned error: %v", err)
	}
	if len(logs) != 4 {
		t.Fatalf("want 4 logs, got %d", len(logs))
	}

	wantTimes := []time.Time{
		added.CreatedAt,
		time.Date(2024, 6, 15, 10, 0, 0, 0, time.UTC),
		{},
		time.UnixMilli(1718445600000).UTC(),
	}
	for i, l := range logs {
		if !l.CreatedAt.Equal(wantTimes[i]) {
			t.Errorf("log %d (%s): want created_at %v, got %v", l.ID, l.Fruit, wantTimes[i], l.CreatedAt)
		}
	}

	var raw string
	if err := db.db.QueryRow(`SELECT CAST(created_at AS TEXT) FROM fruit_logs WHERE id = ?`, added.ID).Scan(&raw); err != nil {
		t.Fatalf("unexpected error reading raw created_at: %v", err)
	}
	if want := added.CreatedAt.Format(timeLayout); raw != want {
		t.Errorf("want created_at stored as %q, got %q", want, raw)
	}
}

func TestStore_Logs(t *testing.T) {
	db := newTestStore(t)

	logs, err := db.Logs(context.Background())
	if err != nil {
		t.Fatalf("Logs returned error: %v", err)
	}
	if logs == nil || len(logs) != 0 {
		t.Errorf("want empty non-nil slice, got %#v", logs)
	}

	for _, date := range []string{"2024-01-01", "2024-06-15", "2023-12-31"} {
		_, err := db.AddLog(context.Background(), storage.Log{Date: date, Fruit: "Apple", Rating: 3, Region: storage.DefaultRegion})
		if err != nil {
			t.Fatalf("unexpected error while adding log: %v", err)
		}
	}

	logs, err = db.Logs(context.Background())
	if err != nil {
		t.Fatalf("Logs returned error: %v", err)
	}
	var gotDates []string
	for _, l := range logs {
		gotDates = append(gotDates, l.Date)
	}
	wantDates := []string{"2024-06-15", "2024-01-01", "2023-12-31"}
	if !reflect.DeepEqual(gotDates, wantDates) {
		t.Errorf("want dates %v, got %v", wantDates, gotDates)
	}
}

func TestStore_LogsNullColumns(t *testing.T) {
	db := newTestStore(t)

	_, err := db.db.Exec(`INSERT INTO fruit_logs (date, fruit, rating, created_at) VALUES ('2024-02-02', 'Kiwi', 2, 0)`)
	if err != nil {
		t.Fatalf("unexpected error inserting raw row: %v", err)
	}

	logs, err := db.Logs(context.Background())
	if err != nil {
		t.Fatalf("Logs returned error: %v", err)
	}
	if len(logs) != 1 {
		t.Fatalf("want 1 log, got %d", len(logs))
	}
	if logs[0].Origin != "" || logs[0].Store != "" || logs[0].Region != "" {
		t.Errorf("want NULL columns read as empty strings, got %+v", logs[0])
	}
}

func TestStore_DeleteLog(t *testing.T) {
	db := newTestStore(t)

	first, err := db.AddLog(context.Background(), storage.Log{Date: "2024-01-01", Fruit: "Apple", Rating: 3})
	if err != nil {
		t.Fatalf("unexpected error while adding log: %v", err)
	}
	second, err := db.AddLog(context.Background(), storage.Log{Date: "2024-01-02", Fruit: "Pear", Rating: 4})
	if err != nil {
		t.Fatalf("unexpected error while adding log: %v", err)
	}

	if err := db.DeleteLog(context.Background(), second.ID); err != nil {
		t.Fatalf("unexpected error deleting log: %v", err)
	}

	logs, err := db.Logs(context.Background())
	if err != nil {
		t.Fatalf("Logs returned error: %v", err)
	}
	if len(logs) != 1 || logs[0].ID != first.ID {
		t.Errorf("want only log %d left, got %+v", first.ID, logs)
	}

	third, err := db.AddLog(context.Background(), storage.Log{Date: "2024-01-03", Fruit: "Plum", Rating: 2})
	if err != nil {
		t.Fatalf("unexpected error while adding log: %v", err)
	}
	if third.ID == second.ID {
		t.Errorf("id %d reused after delete", second.ID)
	}
}

func TestStore_DeleteLogNotExist(t *testing.T) {
	db := newTestStore(t)

	err := db.DeleteLog(context.Background(), 99999)
	if !errors.Is(err, storage.ErrLogNotFound) {
		t.Errorf("want error %v, got %v", storage.ErrLogNotFound, err)
	}
}

func TestNew_EmptyPath(t *testing.T) {
	if _, err := New(context.Background(), " "); err == nil {
		t.Error("want error for empty path")
	}
}
