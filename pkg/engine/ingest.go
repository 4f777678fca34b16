package engine

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/EmoBanana/veiled/pkg/order"
)

// Ingestor discovers anchored orders from the ledger: poll events after the
// cursor, fetch the referenced blob, decrypt, insert. Runs on the engine
// loop, on its own slower timer.
type Ingestor struct {
	ledger    Ledger
	blobs     BlobFetcher
	decrypter Decrypter
	registry  *Registry
	eng       *Engine

	pageSize    int
	maxAttempts int
	log         *zap.SugaredLogger

	// OnPending fires when an order's payload decrypts, i.e. it enters the
	// pending set.
	OnPending func(o order.StaticOrder)
}

// PollOnce processes one page of ledger events. The cursor advances
// event-by-event with a synchronous save after each: a crash mid-page
// reprocesses at most the unflushed tail, which is safe because insertion
// is idempotent on OrderID. A failed fetch or decryption never blocks the
// cursor; the blob is retried on later polls up to maxAttempts, then
// permanently skipped.
func (in *Ingestor) PollOnce(ctx context.Context) {
	events, err := in.ledger.OrdersAfter(ctx, in.eng.cursor(), in.pageSize)
	if err != nil {
		in.log.Warnw("ledger_poll_failed", "err", err)
		return
	}

	for _, ev := range events {
		in.ingestEvent(ctx, ev)
		in.eng.setCursor(ev.At)
		in.eng.persist()
	}

	// Retry blobs that failed before, without rewinding the cursor.
	for _, o := range in.registry.UndecryptedStatic() {
		if in.eng.skipCount(o.OrderID) >= in.maxAttempts {
			continue
		}
		if in.tryDecrypt(ctx, o.OrderID, o.BlobRef) {
			in.eng.persist()
		}
	}
}

func (in *Ingestor) ingestEvent(ctx context.Context, ev order.AnchorEvent) {
	if in.registry.HasStatic(ev.OrderID) {
		return // re-read event, insertion is idempotent
	}
	if in.eng.skipCount(ev.OrderID) >= in.maxAttempts {
		return // permanently skipped across restarts
	}

	in.registry.AddStatic(order.StaticOrder{
		OrderID: ev.OrderID,
		BlobRef: ev.BlobRef,
	})
	in.log.Infow("order_anchored", "order_id", ev.OrderID, "blob", ev.BlobRef,
		"block", ev.At.Block, "log_index", ev.At.Index)

	in.tryDecrypt(ctx, ev.OrderID, ev.BlobRef)
}

// tryDecrypt fetches and decrypts one blob. Returns true when the payload
// was attached; on failure the skip counter advances.
func (in *Ingestor) tryDecrypt(ctx context.Context, orderID, blobRef string) bool {
	blob, err := in.blobs.Fetch(ctx, blobRef)
	if err != nil {
		in.skip(orderID, "blob_fetch_failed", err)
		return false
	}

	plain, err := in.decrypter.Decrypt(ctx, orderID, blob)
	if err != nil {
		in.skip(orderID, "decrypt_failed", err)
		return false
	}

	var payload order.OrderPayload
	if err := json.Unmarshal(plain, &payload); err != nil {
		in.skip(orderID, "payload_malformed", err)
		return false
	}

	in.registry.SetStaticPayload(orderID, &payload)
	in.eng.clearSkip(orderID)
	in.log.Infow("order_decrypted", "order_id", orderID,
		"direction", payload.Direction.String(), "target", payload.TargetPrice,
		"amount", payload.Amount)

	if in.OnPending != nil {
		if o, ok := in.staticCopy(orderID); ok {
			in.OnPending(o)
		}
	}
	return true
}

func (in *Ingestor) staticCopy(id string) (order.StaticOrder, bool) {
	for _, o := range in.registry.AllStatic() {
		if o.OrderID == id {
			return o, true
		}
	}
	return order.StaticOrder{}, false
}

func (in *Ingestor) skip(orderID, event string, err error) {
	attempts := in.eng.addSkip(orderID)
	in.log.Warnw(event, "order_id", orderID, "attempts", attempts,
		"permanently_skipped", attempts >= in.maxAttempts, "err", err)
}
