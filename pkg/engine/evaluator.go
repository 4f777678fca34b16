package engine

import (
	"github.com/EmoBanana/veiled/pkg/order"
)

// Trigger evaluation is pure: (price, order) → bool, plus the trailing
// ratchet update. The engine runs these once per tick over the registry.

// EvalStatic reports whether a static order triggers at price: buy when the
// price has fallen to the target, sell when it has risen to it. Inclusive
// on the boundary.
func EvalStatic(price float64, o *order.StaticOrder) bool {
	if o.Processed || o.Payload == nil {
		return false
	}
	if o.Payload.Direction == order.Buy {
		return price <= o.Payload.TargetPrice
	}
	return price >= o.Payload.TargetPrice
}

// Ratchet advances a dynamic order's extreme price toward the favorable
// direction and recomputes the derived target. The extreme never moves
// back: max for buy, min for sell. A zero extreme means the order was
// created before any tick and seeds from the first observed price.
func Ratchet(price float64, o *order.DynamicOrder) {
	if o.ExtremePrice == 0 {
		o.ExtremePrice = price
	} else if o.Direction == order.Buy {
		if price > o.ExtremePrice {
			o.ExtremePrice = price
		}
	} else {
		if price < o.ExtremePrice {
			o.ExtremePrice = price
		}
	}
	o.CurrentTarget = DynamicTarget(o.ExtremePrice, o.TrailingOffset, o.Direction)
}

// DynamicTarget is the derived trigger boundary: extreme-offset for buy,
// extreme+offset for sell.
func DynamicTarget(extreme, offset float64, dir order.Side) float64 {
	if dir == order.Buy {
		return extreme - offset
	}
	return extreme + offset
}

// EvalDynamic reports whether a dynamic order triggers at price. Must run
// AFTER Ratchet for the same price: comparing against a stale target would
// miss same-tick triggers.
func EvalDynamic(price float64, o *order.DynamicOrder) bool {
	if o.Status != order.StatusActive {
		return false
	}
	if o.Direction == order.Buy {
		return price <= o.CurrentTarget
	}
	return price >= o.CurrentTarget
}
