package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/odyssey-erp/consolbatch/internal/ledger"
)

// ErrNotFound indicates no entry has been written for a key.
var ErrNotFound = errors.New("store: entry not found")

// Key addresses one stage result of one unit for one period. Keys written by
// different units never overlap, so concurrent writers need no coordination.
type Key struct {
	Unit   string
	Period string
	Stage  string
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%s/%s", k.Period, k.Unit, k.Stage)
}

// Entry is the persisted result of a stage.
type Entry struct {
	Unit      string        `json:"unit"`
	Period    string        `json:"period"`
	Stage     string        `json:"stage"`
	Currency  string        `json:"currency"`
	Lines     []ledger.Line `json:"lines"`
	WrittenAt time.Time     `json:"written_at"`
}

// Store is the consolidated data store shared by every stage.
type Store interface {
	Put(ctx context.Context, key Key, entry Entry) error
	Get(ctx context.Context, key Key) (Entry, error)
}
