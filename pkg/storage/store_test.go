package storage

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/EmoBanana/veiled/pkg/order"
)

func sampleState() *order.AgentState {
	return &order.AgentState{
		Cursor:         &order.Cursor{Block: 120, Index: 3},
		ProcessedCount: 7,
		PendingOrders: []order.StaticOrder{
			{
				OrderID: "0x01",
				BlobRef: "blob-1",
				Payload: &order.OrderPayload{TargetPrice: 2950, Amount: 0.5, Direction: order.Buy},
			},
			{
				OrderID: "0x03",
				BlobRef: "blob-3",
				Payload: &order.OrderPayload{TargetPrice: 3100, Amount: 1, Direction: order.Sell},
			},
		},
		SkippedBlobs: map[string]int{"0x02": 2},
	}
}

func assertStateEqual(t *testing.T, got, want *order.AgentState) {
	t.Helper()
	if (got.Cursor == nil) != (want.Cursor == nil) {
		t.Fatalf("cursor presence mismatch: got %v, want %v", got.Cursor, want.Cursor)
	}
	if got.Cursor != nil && *got.Cursor != *want.Cursor {
		t.Errorf("cursor = %+v, want %+v", *got.Cursor, *want.Cursor)
	}
	if got.ProcessedCount != want.ProcessedCount {
		t.Errorf("processedCount = %d, want %d", got.ProcessedCount, want.ProcessedCount)
	}
	if len(got.PendingOrders) != len(want.PendingOrders) {
		t.Fatalf("pending orders = %d, want %d", len(got.PendingOrders), len(want.PendingOrders))
	}
	byID := make(map[string]order.StaticOrder)
	for _, o := range got.PendingOrders {
		byID[o.OrderID] = o
	}
	for _, w := range want.PendingOrders {
		g, ok := byID[w.OrderID]
		if !ok {
			t.Errorf("pending order %s missing", w.OrderID)
			continue
		}
		if g.BlobRef != w.BlobRef || g.Processed != w.Processed {
			t.Errorf("order %s = %+v, want %+v", w.OrderID, g, w)
		}
		if g.Payload == nil || g.Payload.TargetPrice != w.Payload.TargetPrice {
			t.Errorf("order %s payload mismatch", w.OrderID)
		}
	}
	if len(got.SkippedBlobs) != len(want.SkippedBlobs) {
		t.Fatalf("skip list = %v, want %v", got.SkippedBlobs, want.SkippedBlobs)
	}
	for id, n := range want.SkippedBlobs {
		if got.SkippedBlobs[id] != n {
			t.Errorf("skip[%s] = %d, want %d", id, got.SkippedBlobs[id], n)
		}
	}
}

func TestFileStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent_state.json")
	s, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}

	// Missing file is the zero state
	state, err := s.Load()
	if err != nil {
		t.Fatalf("Load empty: %v", err)
	}
	if state.Cursor != nil || state.ProcessedCount != 0 || len(state.PendingOrders) != 0 {
		t.Errorf("zero state not empty: %+v", state)
	}

	want := sampleState()
	if err := s.Save(want); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := s.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	assertStateEqual(t, got, want)

	// No leftover temp file after the atomic rename
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Error("temp file left behind")
	}
}

func TestFileStoreWireShape(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent_state.json")
	s, _ := NewFileStore(path)
	if err := s.Save(sampleState()); err != nil {
		t.Fatalf("Save: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read state file: %v", err)
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("state file is not JSON: %v", err)
	}
	for _, key := range []string{"cursor", "processedCount", "pendingOrders"} {
		if _, ok := raw[key]; !ok {
			t.Errorf("state file missing %q", key)
		}
	}
}

func TestPebbleStoreRoundTrip(t *testing.T) {
	s, err := NewPebbleStore(filepath.Join(t.TempDir(), "db"))
	if err != nil {
		t.Fatalf("NewPebbleStore: %v", err)
	}
	defer s.Close()

	// Fresh DB is the zero state
	state, err := s.Load()
	if err != nil {
		t.Fatalf("Load empty: %v", err)
	}
	if state.Cursor != nil || len(state.PendingOrders) != 0 {
		t.Errorf("zero state not empty: %+v", state)
	}

	want := sampleState()
	if err := s.Save(want); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := s.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	assertStateEqual(t, got, want)

	// A shrinking pending set must not resurrect old orders
	want.PendingOrders = want.PendingOrders[:1]
	want.ProcessedCount = 8
	if err := s.Save(want); err != nil {
		t.Fatalf("Save shrunk: %v", err)
	}
	got, err = s.Load()
	if err != nil {
		t.Fatalf("Load shrunk: %v", err)
	}
	assertStateEqual(t, got, want)
}

func TestFileJournalAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settlements.log")
	j, err := NewFileJournal(path)
	if err != nil {
		t.Fatalf("NewFileJournal: %v", err)
	}

	j.Record(JournalEntry{OrderID: "0x01", Kind: "static", Direction: "buy", Amount: 0.5, Price: 2950, Tx: "0xaaa"})
	j.Record(JournalEntry{OrderID: "dyn-1", Kind: "dynamic", Direction: "sell", Amount: 1, Price: 3100, Err: "reverted"})
	j.Close()

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	defer f.Close()

	var lines []JournalEntry
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var e JournalEntry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			t.Fatalf("journal line not JSON: %v", err)
		}
		lines = append(lines, e)
	}
	if len(lines) != 2 {
		t.Fatalf("journal lines = %d, want 2", len(lines))
	}
	if lines[0].OrderID != "0x01" || lines[0].Tx != "0xaaa" || lines[0].Timestamp == "" {
		t.Errorf("first entry = %+v", lines[0])
	}
	if lines[1].Kind != "dynamic" || lines[1].Err != "reverted" {
		t.Errorf("second entry = %+v", lines[1])
	}
}
