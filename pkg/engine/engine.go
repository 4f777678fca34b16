package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/EmoBanana/veiled/pkg/order"
	"github.com/EmoBanana/veiled/pkg/storage"
	"github.com/EmoBanana/veiled/pkg/util"
)

// Config carries the engine's timers and retry policies.
type Config struct {
	TickInterval   time.Duration
	IngestInterval time.Duration
	IngestPageSize int
	// MaxSettleAttempts applies uniformly to static and dynamic orders:
	// after this many failed dispatches the order is terminal.
	MaxSettleAttempts  int
	MaxDecryptAttempts int
	SlippageBps        int64
}

// Deps are the engine's external collaborators.
type Deps struct {
	Oracle    PriceOracle
	Ledger    Ledger
	Settler   Settler
	Blobs     BlobFetcher
	Decrypter Decrypter
	Store     storage.StateStore
	Journal   storage.Journal
	Clock     util.Clock
	Log       *zap.SugaredLogger
}

// Engine multiplexes three activities onto one goroutine: the tick timer
// (price → evaluate → broadcast → dispatch → persist), the slower ingestion
// timer, and the gateway command channel. One loop means no shared-memory
// races by construction; dispatches within a tick run sequentially so
// processed transitions stay race-free without locks.
type Engine struct {
	cfg        Config
	registry   *Registry
	oracle     PriceOracle
	dispatcher *Dispatcher
	ingestor   *Ingestor
	store      storage.StateStore
	clock      util.Clock
	log        *zap.SugaredLogger

	commands chan Command

	mu        sync.RWMutex
	state     *order.AgentState
	lastPrice float64

	// Callback hooks, wired by main so the engine never imports the
	// gateway. A sessionID of "" means broadcast.
	OnTick             func(price float64)
	OnStaticPending    func(o order.StaticOrder)
	OnStaticExecuted   func(o order.StaticOrder, txRef string, executedAt time.Time)
	OnOrderError       func(sessionID, errMsg string)
	OnDynamicCreated   func(sessionID, orderID string)
	OnDynamicTriggered func(sessionID string, price float64)
	OnDynamicExecuted  func(sessionID, txRef string)
	OnDynamicFailed    func(sessionID, errMsg string)
}

func New(cfg Config, deps Deps) *Engine {
	e := &Engine{
		cfg:      cfg,
		registry: NewRegistry(),
		oracle:   deps.Oracle,
		store:    deps.Store,
		clock:    deps.Clock,
		log:      deps.Log,
		commands: make(chan Command, 256),
		state:    order.NewAgentState(),
	}
	e.dispatcher = NewDispatcher(deps.Settler, deps.Ledger, deps.Journal, cfg.SlippageBps, deps.Log)
	e.ingestor = &Ingestor{
		ledger:      deps.Ledger,
		blobs:       deps.Blobs,
		decrypter:   deps.Decrypter,
		registry:    e.registry,
		eng:         e,
		pageSize:    cfg.IngestPageSize,
		maxAttempts: cfg.MaxDecryptAttempts,
		log:         deps.Log,
	}
	e.ingestor.OnPending = func(o order.StaticOrder) {
		if e.OnStaticPending != nil {
			e.OnStaticPending(o)
		}
	}
	return e
}

// Registry exposes the order registry for the gateway's read-only surface.
func (e *Engine) Registry() *Registry {
	return e.registry
}

// Submit queues a gateway command for the engine loop. Never blocks; a full
// queue drops the command, which a client observes as a silently ignored
// message.
func (e *Engine) Submit(cmd Command) {
	select {
	case e.commands <- cmd:
	default:
		e.log.Warnw("command_queue_full")
	}
}

// Status is the REST snapshot of the engine.
type Status struct {
	Price          float64       `json:"price"`
	StaticOrders   int           `json:"staticOrders"`
	DynamicOrders  int           `json:"dynamicOrders"`
	ProcessedCount int           `json:"processedCount"`
	Cursor         *order.Cursor `json:"cursor"`
}

func (e *Engine) Status() Status {
	e.mu.RLock()
	defer e.mu.RUnlock()
	var cur *order.Cursor
	if e.state.Cursor != nil {
		cp := *e.state.Cursor
		cur = &cp
	}
	return Status{
		Price:          e.lastPrice,
		StaticOrders:   e.registry.NumStatic(),
		DynamicOrders:  e.registry.NumDynamic(),
		ProcessedCount: e.state.ProcessedCount,
		Cursor:         cur,
	}
}

// Run loads the persisted state, seeds the registry, then drives the loop
// until ctx is cancelled. Timers start only after the state is loaded so
// the cursor and the tick loop's order set agree before the first tick.
func (e *Engine) Run(ctx context.Context) error {
	state, err := e.store.Load()
	if err != nil {
		return fmt.Errorf("load state: %w", err)
	}
	e.mu.Lock()
	*e.state = *state
	if e.state.SkippedBlobs == nil {
		e.state.SkippedBlobs = make(map[string]int)
	}
	e.mu.Unlock()

	for _, o := range state.PendingOrders {
		e.registry.AddStatic(o)
	}
	e.log.Infow("engine_started",
		"pending_orders", len(state.PendingOrders),
		"processed_count", state.ProcessedCount,
		"cursor", state.Cursor,
		"tick_interval", e.cfg.TickInterval,
		"ingest_interval", e.cfg.IngestInterval)

	tick := e.clock.NewTicker(e.cfg.TickInterval)
	defer tick.Stop()
	ingest := e.clock.NewTicker(e.cfg.IngestInterval)
	defer ingest.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tick.Chan():
			e.tick(ctx)
		case <-ingest.Chan():
			e.ingestor.PollOnce(ctx)
		case cmd := <-e.commands:
			e.apply(cmd)
		}
	}
}

// tick runs one evaluation round: one price fetch, reused for evaluation
// and broadcast so clients never see a price inconsistent with what was
// evaluated. Broadcast precedes dispatch so a hanging settlement call never
// delays the price fan-out.
func (e *Engine) tick(ctx context.Context) {
	price, err := e.oracle.CurrentPrice(ctx)
	if err != nil {
		e.log.Warnw("price_unavailable", "err", err)
		return
	}
	e.mu.Lock()
	e.lastPrice = price
	e.mu.Unlock()

	staticHits := e.registry.TriggeredStatic(price)
	dynamicHits := e.registry.RatchetAndTrigger(price)

	if e.OnTick != nil {
		e.OnTick(price)
	}

	for _, o := range staticHits {
		e.settleStatic(ctx, o, price)
	}
	for _, o := range dynamicHits {
		if e.OnDynamicTriggered != nil {
			e.OnDynamicTriggered(o.SessionID, price)
		}
		e.settleDynamic(ctx, o, price)
	}

	e.persist()
}

func (e *Engine) settleStatic(ctx context.Context, o order.StaticOrder, price float64) {
	// Signature gate: a payload claiming an owner it was not signed by is
	// permanently skipped, never dispatched.
	if !order.VerifyPayloadSignature(o.Payload) {
		e.registry.MarkStaticProcessed(o.OrderID)
		e.addProcessed()
		e.log.Warnw("order_signature_invalid", "order_id", o.OrderID,
			"claimed_owner", o.Payload.Owner.Hex())
		return
	}

	txRef, err := e.dispatcher.DispatchStatic(ctx, o, price)
	if errors.Is(err, ErrCancelled) {
		e.registry.MarkStaticProcessed(o.OrderID)
		e.addProcessed()
		e.log.Infow("order_cancelled_on_ledger", "order_id", o.OrderID)
		return
	}
	if err != nil {
		attempts := e.registry.IncStaticAttempts(o.OrderID)
		e.log.Warnw("settlement_failed", "kind", "static", "order_id", o.OrderID,
			"attempt", attempts, "max", e.cfg.MaxSettleAttempts, "err", err)
		if attempts >= e.cfg.MaxSettleAttempts {
			e.registry.MarkStaticProcessed(o.OrderID)
			e.addProcessed()
			if e.OnOrderError != nil {
				e.OnOrderError("", fmt.Sprintf("order %s failed after %d attempts: %v",
					o.OrderID, attempts, err))
			}
		}
		return
	}

	e.registry.MarkStaticProcessed(o.OrderID)
	e.addProcessed()
	if e.OnStaticExecuted != nil {
		e.OnStaticExecuted(o, txRef, e.clock.Now())
	}
}

func (e *Engine) settleDynamic(ctx context.Context, o order.DynamicOrder, price float64) {
	txRef, err := e.dispatcher.DispatchDynamic(ctx, o, price)
	if err != nil {
		attempts := e.registry.IncDynamicAttempts(o.ID)
		e.log.Warnw("settlement_failed", "kind", "dynamic", "order_id", o.ID,
			"attempt", attempts, "max", e.cfg.MaxSettleAttempts, "err", err)
		if attempts >= e.cfg.MaxSettleAttempts {
			e.registry.SetDynamicStatus(o.ID, order.StatusFailed)
			e.registry.DropDynamic(o.ID)
			if e.OnDynamicFailed != nil {
				e.OnDynamicFailed(o.SessionID, err.Error())
			}
			return
		}
		// Stays active: re-evaluated next tick under the uniform retry
		// policy.
		e.registry.SetDynamicStatus(o.ID, order.StatusActive)
		return
	}

	e.registry.SetDynamicStatus(o.ID, order.StatusExecuted)
	e.registry.DropDynamic(o.ID)
	if e.OnDynamicExecuted != nil {
		e.OnDynamicExecuted(o.SessionID, txRef)
	}
}

func (e *Engine) apply(cmd Command) {
	switch c := cmd.(type) {
	case CreateDynamicCmd:
		if c.Amount <= 0 || c.TrailingOffset <= 0 {
			if e.OnOrderError != nil {
				e.OnOrderError(c.SessionID, "amount and trailingOffset must be positive")
			}
			return
		}
		e.mu.RLock()
		last := e.lastPrice
		e.mu.RUnlock()
		o := order.DynamicOrder{
			ID:             uuid.NewString(),
			Direction:      c.Direction,
			TrailingOffset: c.TrailingOffset,
			Amount:         c.Amount,
			Owner:          c.Owner,
			ExtremePrice:   last, // 0 before the first tick; seeded on ratchet
			Status:         order.StatusActive,
			SessionID:      c.SessionID,
		}
		if last > 0 {
			o.CurrentTarget = DynamicTarget(last, c.TrailingOffset, c.Direction)
		}
		e.registry.AddDynamic(o)
		e.log.Infow("dynamic_order_created", "order_id", o.ID,
			"direction", o.Direction.String(), "offset", o.TrailingOffset,
			"amount", o.Amount)
		if e.OnDynamicCreated != nil {
			e.OnDynamicCreated(c.SessionID, o.ID)
		}

	case UpdateDynamicCmd:
		err := e.registry.UpdateDynamic(c.SessionID, c.OrderID, func(o *order.DynamicOrder) {
			if c.NewAmount != nil && *c.NewAmount > 0 {
				o.Amount = *c.NewAmount
			}
			if c.NewTrailingOffset != nil && *c.NewTrailingOffset > 0 {
				o.TrailingOffset = *c.NewTrailingOffset
			}
			if c.NewTarget != nil && o.ExtremePrice > 0 {
				// Retune the offset so the derived target matches the
				// request at the current extreme; the target itself is
				// never set directly. Needs a seeded extreme, and the
				// request must land on the favorable side of it, else
				// the offset would come out non-positive.
				var offset float64
				if o.Direction == order.Buy {
					offset = o.ExtremePrice - *c.NewTarget
				} else {
					offset = *c.NewTarget - o.ExtremePrice
				}
				if offset > 0 {
					o.TrailingOffset = offset
				}
			}
			if o.ExtremePrice > 0 {
				o.CurrentTarget = DynamicTarget(o.ExtremePrice, o.TrailingOffset, o.Direction)
			}
		})
		if err != nil {
			e.log.Debugw("dynamic_update_ignored", "order_id", c.OrderID, "err", err)
		}

	case CancelDynamicCmd:
		if e.registry.RemoveDynamic(c.SessionID, c.OrderID) {
			e.log.Infow("dynamic_order_cancelled", "order_id", c.OrderID)
		}

	case RetargetSessionCmd:
		n := e.registry.RetargetSession(c.SessionID, c.Price, c.Owner)
		e.log.Infow("session_retargeted", "session", c.SessionID,
			"target", c.Price, "orders", n)

	case NopCmd:
		// Unknown inbound message shapes land here. Deliberately ignored.
	}
}

// addProcessed bumps the persisted processed counter.
func (e *Engine) addProcessed() {
	e.mu.Lock()
	e.state.ProcessedCount++
	e.mu.Unlock()
}

func (e *Engine) cursor() *order.Cursor {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.state.Cursor == nil {
		return nil
	}
	cp := *e.state.Cursor
	return &cp
}

func (e *Engine) setCursor(c order.Cursor) {
	e.mu.Lock()
	e.state.Cursor = &c
	e.mu.Unlock()
}

func (e *Engine) skipCount(orderID string) int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state.SkippedBlobs[orderID]
}

func (e *Engine) addSkip(orderID string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state.SkippedBlobs[orderID]++
	return e.state.SkippedBlobs[orderID]
}

func (e *Engine) clearSkip(orderID string) {
	e.mu.Lock()
	delete(e.state.SkippedBlobs, orderID)
	e.mu.Unlock()
}

// persist writes the current state through the store: the pending set is
// recomputed from the registry, never tracked independently.
func (e *Engine) persist() {
	e.mu.Lock()
	e.state.PendingOrders = e.registry.PendingStatic()
	err := e.store.Save(e.state)
	e.mu.Unlock()
	if err != nil {
		e.log.Errorw("state_save_failed", "err", err)
	}
}
