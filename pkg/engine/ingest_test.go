package engine

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/EmoBanana/veiled/pkg/order"
)

func anchorEvent(id, blobRef string, block uint64, index uint) order.AnchorEvent {
	return order.AnchorEvent{
		OrderID: id,
		BlobRef: blobRef,
		At:      order.Cursor{Block: block, Index: index},
	}
}

func plaintext(t *testing.T, dir order.Side, target, amount float64) []byte {
	t.Helper()
	data, err := json.Marshal(order.OrderPayload{
		TargetPrice: target,
		Amount:      amount,
		Direction:   dir,
	})
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return data
}

func TestPollOnceIngestsAndAdvancesCursor(t *testing.T) {
	env := newTestEnv(t)
	env.ledger.events = []order.AnchorEvent{
		anchorEvent("0x01", "b1", 10, 0),
		anchorEvent("0x02", "b2", 10, 1),
		anchorEvent("0x03", "b3", 12, 0),
	}
	for _, ref := range []string{"b1", "b2", "b3"} {
		env.blobs.blobs[ref] = []byte("cipher-" + ref)
	}
	// 0x02 stays undecryptable.
	env.decrypter.plaintexts["0x01"] = plaintext(t, order.Buy, 2950, 1)
	env.decrypter.plaintexts["0x03"] = plaintext(t, order.Sell, 3050, 2)

	var pending []string
	env.eng.ingestor.OnPending = func(o order.StaticOrder) { pending = append(pending, o.OrderID) }

	env.eng.ingestor.PollOnce(context.Background())

	if n := env.eng.registry.NumStatic(); n != 3 {
		t.Fatalf("registry holds %d orders, want 3", n)
	}
	if len(pending) != 2 {
		t.Fatalf("pending notifications = %v, want 0x01 and 0x03", pending)
	}

	// The failed decrypt never blocks the cursor.
	cur := env.eng.cursor()
	if cur == nil || cur.Block != 12 || cur.Index != 0 {
		t.Errorf("cursor = %+v, want block 12 index 0", cur)
	}

	// Only decrypted, unprocessed orders persist as pending.
	state, err := env.store.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(state.PendingOrders) != 2 {
		t.Errorf("persisted pending = %d, want 2", len(state.PendingOrders))
	}
}

func TestPollOnceIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	env.ledger.events = []order.AnchorEvent{anchorEvent("0x01", "b1", 10, 0)}
	env.blobs.blobs["b1"] = []byte("cipher")
	env.decrypter.plaintexts["0x01"] = plaintext(t, order.Buy, 2950, 1)

	env.eng.ingestor.PollOnce(context.Background())

	// Rewind the cursor to simulate a crash before the cursor flush, then
	// poll the same events again.
	env.eng.setCursor(order.Cursor{Block: 9, Index: 0})
	env.eng.ingestor.PollOnce(context.Background())

	if n := env.eng.registry.NumStatic(); n != 1 {
		t.Errorf("registry holds %d orders, want 1 after re-read", n)
	}
	if env.decrypter.calls != 1 {
		t.Errorf("decrypt calls = %d, re-read must not re-decrypt", env.decrypter.calls)
	}
}

func TestDecryptRetriesAreBounded(t *testing.T) {
	env := newTestEnv(t)
	env.ledger.events = []order.AnchorEvent{anchorEvent("0x01", "b1", 10, 0)}
	env.blobs.blobs["b1"] = []byte("cipher")
	// No plaintext registered: every decrypt is denied.

	for i := 0; i < 5; i++ {
		env.eng.ingestor.PollOnce(context.Background())
	}

	if env.decrypter.calls != 3 {
		t.Fatalf("decrypt calls = %d, want exactly maxAttempts (3)", env.decrypter.calls)
	}

	// Even a now-working decrypter never resurrects a permanently skipped
	// blob.
	env.decrypter.plaintexts["0x01"] = plaintext(t, order.Buy, 2950, 1)
	env.eng.ingestor.PollOnce(context.Background())
	if env.decrypter.calls != 3 {
		t.Errorf("decrypt calls = %d, skipped blob must stay skipped", env.decrypter.calls)
	}

	// The skip counter survives restarts.
	state, err := env.store.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if state.SkippedBlobs["0x01"] != 3 {
		t.Errorf("persisted skip count = %d, want 3", state.SkippedBlobs["0x01"])
	}
}

func TestDecryptRecoversBeforeLimit(t *testing.T) {
	env := newTestEnv(t)
	env.ledger.events = []order.AnchorEvent{anchorEvent("0x01", "b1", 10, 0)}
	env.blobs.blobs["b1"] = []byte("cipher")

	// First poll fails twice (ingest attempt plus one retry).
	env.eng.ingestor.PollOnce(context.Background())
	if env.decrypter.calls != 2 {
		t.Fatalf("decrypt calls = %d, want 2 after first poll", env.decrypter.calls)
	}

	// Service recovers before the attempt limit.
	env.decrypter.plaintexts["0x01"] = plaintext(t, order.Buy, 2950, 1)
	env.eng.ingestor.PollOnce(context.Background())

	pending := env.eng.registry.PendingStatic()
	if len(pending) != 1 || pending[0].OrderID != "0x01" {
		t.Fatalf("pending = %+v, want the recovered order", pending)
	}
	if env.eng.skipCount("0x01") != 0 {
		t.Error("skip counter should clear on success")
	}
}

func TestPollFailureLeavesCursorUntouched(t *testing.T) {
	env := newTestEnv(t)
	env.eng.setCursor(order.Cursor{Block: 7, Index: 1})
	env.ledger.pollErr = context.DeadlineExceeded

	env.eng.ingestor.PollOnce(context.Background())

	cur := env.eng.cursor()
	if cur == nil || cur.Block != 7 || cur.Index != 1 {
		t.Errorf("cursor = %+v, want unchanged block 7 index 1", cur)
	}
}
