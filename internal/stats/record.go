package stats

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by a Store when the record being updated no longer exists.
var ErrNotFound = errors.New("statistics record not found")

// Today is the daily window, anchored to the local midnight it started at.
type Today struct {
	Total int64     `json:"total"`
	Date  time.Time `json:"date"`
}

// Record is the single visit counter document shared by the whole process.
type Record struct {
	ID    string `json:"id,omitempty"`
	Total int64  `json:"total"`
	Today Today  `json:"today"`
	Week  int64  `json:"week"`
	Month int64  `json:"month"`
}

// Store persists the statistics record.
//
// ReadStatistics returns nil, nil when nothing has been stored yet. When more
// than one record exists the first one found is returned.
type Store interface {
	ReadStatistics(ctx context.Context) (*Record, error)
	CreateStatistics(ctx context.Context, rec Record) (Record, error)
	UpdateStatistics(ctx context.Context, rec Record) (Record, error)
}

func zeroRecord(midnight time.Time) Record {
	return Record{Today: Today{Date: midnight}}
}
