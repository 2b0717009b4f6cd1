package memdb

import (
	"context"
	"sync"
	"time"

	"fruitlog/pkg/storage"
)

type Store struct {
	mu     sync.Mutex
	logs   map[int64]storage.Log
	lastID int64
}

func New() *Store {
	db := Store{
		logs: make(map[int64]storage.Log),
	}

	return &db
}

func (db *Store) Init(ctx context.Context) error {
	return nil
}

func (db *Store) Ping(ctx context.Context) error {
	return nil
}

func (db *Store) Close() {}

func (db *Store) Logs(ctx context.Context) ([]storage.Log, error) {
	db.mu.Lock()
	logs := make([]storage.Log, 0, len(db.logs))
	for _, v := range db.logs {
		logs = append(logs, v)
	}
	db.mu.Unlock()

	storage.SortLogs(logs)
	return logs, nil
}

// AddLog stores l under the next free id. Ids of deleted logs are never handed out again.
func (db *Store) AddLog(ctx context.Context, l storage.Log) (storage.Log, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	db.lastID++
	l.ID = db.lastID
	l.CreatedAt = time.Now().UTC()
	db.logs[l.ID] = l

	return l, nil
}

func (db *Store) DeleteLog(ctx context.Context, id int64) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if _, ok := db.logs[id]; !ok {
		return storage.ErrLogNotFound
	}
	delete(db.logs, id)

	return nil
}
