package storage

import (
	"context"
	"errors"
	"sort"
	"time"
)

// DefaultRegion is stored when a log is created without a region.
const DefaultRegion = "Quebec"

// TableName is the table (or collection) every backend keeps logs in.
const TableName = "fruit_logs"

var (
	ErrConnectDB       = errors.New("unable to establish DB connection")
	ErrDBNotResponding = errors.New("DB not responding")

	ErrLogNotFound = errors.New("log not found")
	ErrConstraint  = errors.New("constraint violation")
)

// Log is a single fruit-tasting record.
//
// CreatedAt is assigned by the backend on insertion and is not part of the
// JSON representation.
type Log struct {
	ID        int64     `json:"id"`
	Date      string    `json:"date"`
	Fruit     string    `json:"fruit"`
	Origin    string    `json:"origin"`
	Rating    int       `json:"rating"`
	Store     string    `json:"store"`
	Region    string    `json:"userRegion"`
	CreatedAt time.Time `json:"-"`
}

type Storage interface {
	Init(ctx context.Context) error
	Logs(ctx context.Context) ([]Log, error)
	AddLog(ctx context.Context, l Log) (Log, error)
	DeleteLog(ctx context.Context, id int64) error
	Ping(ctx context.Context) error
	Close()
}

// SortLogs orders logs the way Logs must return them: date descending,
// newest id first within a date.
func SortLogs(logs []Log) {
	sort.Slice(logs, func(i, j int) bool {
		if logs[i].Date != logs[j].Date {
			return logs[i].Date > logs[j].Date
		}
		return logs[i].ID > logs[j].ID
	})
}
