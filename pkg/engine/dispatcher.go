package engine

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/EmoBanana/veiled/pkg/order"
	"github.com/EmoBanana/veiled/pkg/storage"
)

// ErrCancelled marks an order whose on-chain cancellation flag was set
// between ingestion and dispatch. The order is skipped, not failed.
var ErrCancelled = errors.New("order cancelled on ledger")

// Dispatcher turns a triggered order into exactly one settlement call per
// Dispatch invocation and journals the outcome. Static and dynamic orders
// share it; only the parameter construction differs.
type Dispatcher struct {
	settler     Settler
	ledger      Ledger
	journal     storage.Journal
	slippageBps int64
	log         *zap.SugaredLogger
}

func NewDispatcher(settler Settler, ledger Ledger, journal storage.Journal, slippageBps int64, log *zap.SugaredLogger) *Dispatcher {
	return &Dispatcher{
		settler:     settler,
		ledger:      ledger,
		journal:     journal,
		slippageBps: slippageBps,
		log:         log,
	}
}

// DispatchStatic settles a triggered ledger-sourced order. Cancellation is
// re-checked immediately before the settlement call; a cancel observed here
// returns ErrCancelled and no swap is attempted.
func (d *Dispatcher) DispatchStatic(ctx context.Context, o order.StaticOrder, price float64) (string, error) {
	cancelled, err := d.ledger.IsCancelled(ctx, o.OrderID)
	if err != nil {
		// Cannot prove the order is live; treat as a failed attempt rather
		// than risk executing a cancelled order.
		d.record("static", o.OrderID, o.Payload, price, "", err)
		return "", err
	}
	if cancelled {
		return "", ErrCancelled
	}

	limit := d.limitPrice(o.Payload.TargetPrice, o.Payload.Direction)
	txRef, err := d.settler.Settle(ctx, o.Payload.Direction, o.Payload.Amount, limit, o.Payload.Owner)
	d.record("static", o.OrderID, o.Payload, price, txRef, err)
	if err != nil {
		return "", err
	}
	d.log.Infow("settlement_dispatched",
		"kind", "static", "order_id", o.OrderID,
		"direction", o.Payload.Direction.String(), "amount", o.Payload.Amount,
		"price", price, "tx", txRef)
	return txRef, nil
}

// DispatchDynamic settles a triggered trailing order. The slippage bound is
// taken from the order's current target, the boundary it just crossed.
func (d *Dispatcher) DispatchDynamic(ctx context.Context, o order.DynamicOrder, price float64) (string, error) {
	limit := d.limitPrice(o.CurrentTarget, o.Direction)
	txRef, err := d.settler.Settle(ctx, o.Direction, o.Amount, limit, o.Owner)
	d.record("dynamic", o.ID, &order.OrderPayload{Direction: o.Direction, Amount: o.Amount}, price, txRef, err)
	if err != nil {
		return "", err
	}
	d.log.Infow("settlement_dispatched",
		"kind", "dynamic", "order_id", o.ID,
		"direction", o.Direction.String(), "amount", o.Amount,
		"price", price, "tx", txRef)
	return txRef, nil
}

// limitPrice caps slippage in the unfavorable direction: above target for
// buys, below for sells.
func (d *Dispatcher) limitPrice(target float64, dir order.Side) float64 {
	slip := float64(d.slippageBps) / 10_000
	if dir == order.Buy {
		return target * (1 + slip)
	}
	return target * (1 - slip)
}

func (d *Dispatcher) record(kind, id string, p *order.OrderPayload, price float64, txRef string, err error) {
	e := storage.JournalEntry{
		Timestamp: time.Now().Format(time.RFC3339),
		OrderID:   id,
		Kind:      kind,
		Direction: p.Direction.String(),
		Amount:    p.Amount,
		Price:     price,
		Tx:        txRef,
	}
	if err != nil {
		e.Err = err.Error()
	}
	d.journal.Record(e)
}
