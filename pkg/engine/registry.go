package engine

import (
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/EmoBanana/veiled/pkg/order"
)

// Registry is the in-memory order map for both order kinds, the source of
// truth consulted each tick. The engine loop is the only mutator; the lock
// exists for the gateway's read-only snapshots.
type Registry struct {
	mu      sync.RWMutex
	static  map[string]*order.StaticOrder
	dynamic map[string]*order.DynamicOrder
}

func NewRegistry() *Registry {
	return &Registry{
		static:  make(map[string]*order.StaticOrder),
		dynamic: make(map[string]*order.DynamicOrder),
	}
}

// ------------------------------
// Static orders
// ------------------------------

// AddStatic inserts a static order, idempotent on OrderID. Returns false if
// the id was already present (re-ingested ledger event, safe to ignore).
func (r *Registry) AddStatic(o order.StaticOrder) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.static[o.OrderID]; exists {
		return false
	}
	cp := o
	r.static[o.OrderID] = &cp
	return true
}

func (r *Registry) HasStatic(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.static[id]
	return ok
}

// SetStaticPayload attaches the decrypted payload to an order.
func (r *Registry) SetStaticPayload(id string, p *order.OrderPayload) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.static[id]
	if !ok {
		return false
	}
	o.Payload = p
	return true
}

// MarkStaticProcessed flags an order terminal. Orders are never deleted;
// the flag is what makes restarts idempotent.
func (r *Registry) MarkStaticProcessed(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.static[id]
	if !ok {
		return false
	}
	o.Processed = true
	return true
}

// IncStaticAttempts bumps the failed-dispatch counter and returns the new
// count.
func (r *Registry) IncStaticAttempts(id string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.static[id]
	if !ok {
		return 0
	}
	o.Attempts++
	return o.Attempts
}

// TriggeredStatic returns copies of every static order triggering at price.
func (r *Registry) TriggeredStatic(price float64) []order.StaticOrder {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []order.StaticOrder
	for _, o := range r.static {
		if EvalStatic(price, o) {
			out = append(out, *o)
		}
	}
	return out
}

// PendingStatic returns copies of the unprocessed, payload-bearing orders,
// which is exactly the persisted pending set.
func (r *Registry) PendingStatic() []order.StaticOrder {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]order.StaticOrder, 0)
	for _, o := range r.static {
		if !o.Processed && o.Payload != nil {
			out = append(out, *o)
		}
	}
	return out
}

// UndecryptedStatic returns copies of orders still waiting for a successful
// decryption (payload nil, not processed).
func (r *Registry) UndecryptedStatic() []order.StaticOrder {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []order.StaticOrder
	for _, o := range r.static {
		if !o.Processed && o.Payload == nil {
			out = append(out, *o)
		}
	}
	return out
}

// AllStatic returns copies of every static order, for the REST surface.
func (r *Registry) AllStatic() []order.StaticOrder {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]order.StaticOrder, 0, len(r.static))
	for _, o := range r.static {
		out = append(out, *o)
	}
	return out
}

// ------------------------------
// Dynamic orders
// ------------------------------

func (r *Registry) AddDynamic(o order.DynamicOrder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := o
	r.dynamic[o.ID] = &cp
}

func (r *Registry) GetDynamic(id string) (order.DynamicOrder, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	o, ok := r.dynamic[id]
	if !ok {
		return order.DynamicOrder{}, false
	}
	return *o, true
}

// UpdateDynamic applies fn to an order, enforcing session ownership: no
// cross-session mutation.
func (r *Registry) UpdateDynamic(sessionID, id string, fn func(o *order.DynamicOrder)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.dynamic[id]
	if !ok {
		return fmt.Errorf("dynamic order %s not found", id)
	}
	if o.SessionID != sessionID {
		return fmt.Errorf("dynamic order %s not owned by session", id)
	}
	fn(o)
	return nil
}

// RemoveDynamic removes an order owned by the session. Used for client
// cancels; takes effect before the next tick's evaluation.
func (r *Registry) RemoveDynamic(sessionID, id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.dynamic[id]
	if !ok || o.SessionID != sessionID {
		return false
	}
	delete(r.dynamic, id)
	return true
}

// DropDynamic removes an order unconditionally (terminal states).
func (r *Registry) DropDynamic(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.dynamic, id)
}

// SetDynamicStatus updates an order's lifecycle state.
func (r *Registry) SetDynamicStatus(id string, status order.DynStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if o, ok := r.dynamic[id]; ok {
		o.Status = status
	}
}

// IncDynamicAttempts bumps the failed-dispatch counter and returns the new
// count.
func (r *Registry) IncDynamicAttempts(id string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.dynamic[id]
	if !ok {
		return 0
	}
	o.Attempts++
	return o.Attempts
}

// RatchetAndTrigger applies the trailing update to every active dynamic
// order at price, marks hits triggered, and returns copies of the hits.
// Ratchet-then-compare per order is mandatory; reordering would miss
// same-tick triggers.
func (r *Registry) RatchetAndTrigger(price float64) []order.DynamicOrder {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []order.DynamicOrder
	for _, o := range r.dynamic {
		if o.Status != order.StatusActive {
			continue
		}
		Ratchet(price, o)
		if EvalDynamic(price, o) {
			o.Status = order.StatusTriggered
			out = append(out, *o)
		}
	}
	return out
}

// RetargetSession resets the trailing offset of every active order in a
// session owned by owner so the current target equals the requested price
// at the current extreme. The target stays a pure function of
// (extreme, offset). Orders whose extreme has not been seeded by a tick
// yet, and targets on the wrong side of the extreme (a non-positive
// offset), are left untouched.
func (r *Registry) RetargetSession(sessionID string, target float64, owner common.Address) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, o := range r.dynamic {
		if o.SessionID != sessionID || o.Status != order.StatusActive || o.Owner != owner {
			continue
		}
		if o.ExtremePrice == 0 {
			continue
		}
		var offset float64
		if o.Direction == order.Buy {
			offset = o.ExtremePrice - target
		} else {
			offset = target - o.ExtremePrice
		}
		if offset <= 0 {
			continue
		}
		o.TrailingOffset = offset
		o.CurrentTarget = DynamicTarget(o.ExtremePrice, o.TrailingOffset, o.Direction)
		n++
	}
	return n
}

// DynamicBySession returns copies of a session's orders.
func (r *Registry) DynamicBySession(sessionID string) []order.DynamicOrder {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []order.DynamicOrder
	for _, o := range r.dynamic {
		if o.SessionID == sessionID {
			out = append(out, *o)
		}
	}
	return out
}

func (r *Registry) NumStatic() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.static)
}

func (r *Registry) NumDynamic() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.dynamic)
}
