package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// JournalEntry records one settlement dispatch outcome.
type JournalEntry struct {
	Timestamp string  `json:"ts"`
	OrderID   string  `json:"order_id"`
	Kind      string  `json:"kind"` // "static" | "dynamic"
	Direction string  `json:"direction"`
	Amount    float64 `json:"amount"`
	Price     float64 `json:"price"`
	Tx        string  `json:"tx,omitempty"`
	Err       string  `json:"err,omitempty"`
}

// Journal is an append-only record of dispatch outcomes, one JSON object
// per line. Best-effort: journal write failures never block settlement.
type Journal interface {
	Record(e JournalEntry)
}

type NopJournal struct{}

func NewNopJournal() NopJournal          { return NopJournal{} }
func (NopJournal) Record(_ JournalEntry) {}

type FileJournal struct {
	mu sync.Mutex
	f  *os.File
}

func NewFileJournal(path string) (*FileJournal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	return &FileJournal{f: f}, nil
}

func (j *FileJournal) Record(e JournalEntry) {
	if e.Timestamp == "" {
		e.Timestamp = time.Now().Format(time.RFC3339)
	}
	data, err := json.Marshal(e)
	if err != nil {
		return
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	fmt.Fprintln(j.f, string(data))
}

func (j *FileJournal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.f.Close()
}

var _ Journal = NopJournal{}
var _ Journal = (*FileJournal)(nil)
