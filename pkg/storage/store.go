package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/EmoBanana/veiled/pkg/order"
)

// StateStore persists the agent's durable state: ledger cursor, processed
// count, the pending static-order set, and the decryption skip list.
// Single writer (the engine loop); every mutation is followed by a Save
// before the next tick begins.
type StateStore interface {
	Load() (*order.AgentState, error)
	Save(state *order.AgentState) error
	Close() error
}

// FileStore keeps the state in one JSON file, written atomically
// (temp file + rename). The default store.
type FileStore struct {
	path string
}

func NewFileStore(path string) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}
	return &FileStore{path: path}, nil
}

// Load reads the state file. A missing file is a first run and yields the
// zero state.
func (s *FileStore) Load() (*order.AgentState, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return order.NewAgentState(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read state file: %w", err)
	}
	var state order.AgentState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("parse state file: %w", err)
	}
	if state.SkippedBlobs == nil {
		state.SkippedBlobs = make(map[string]int)
	}
	return &state, nil
}

func (s *FileStore) Save(state *order.AgentState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write state file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace state file: %w", err)
	}
	return nil
}

func (s *FileStore) Close() error { return nil }

// MemoryStore holds the state in memory. Tests only.
type MemoryStore struct {
	mu    sync.Mutex
	state []byte
	saves int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Load() (*order.AgentState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == nil {
		return order.NewAgentState(), nil
	}
	var state order.AgentState
	if err := json.Unmarshal(s.state, &state); err != nil {
		return nil, err
	}
	if state.SkippedBlobs == nil {
		state.SkippedBlobs = make(map[string]int)
	}
	return &state, nil
}

func (s *MemoryStore) Save(state *order.AgentState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = data
	s.saves++
	return nil
}

// Saves reports how many times Save ran (write-after-mutate assertions).
func (s *MemoryStore) Saves() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}

func (s *MemoryStore) Close() error { return nil }

var _ StateStore = (*FileStore)(nil)
var _ StateStore = (*MemoryStore)(nil)
