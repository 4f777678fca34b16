package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/EmoBanana/veiled/pkg/crypto"
	"github.com/EmoBanana/veiled/pkg/engine"
	"github.com/EmoBanana/veiled/pkg/order"
)

const anchorTimeout = 15 * time.Second

// BlobStorer uploads an encrypted payload and returns its reference.
type BlobStorer interface {
	Store(ctx context.Context, data []byte) (string, error)
}

// Anchorer commits an order reference to the ledger.
type Anchorer interface {
	Anchor(ctx context.Context, orderID, blobRef string) (string, error)
}

// Server handles the REST API and WebSocket sessions. All writes flow into
// the engine as commands; reads come from the engine's snapshot surface.
type Server struct {
	engine *engine.Engine
	blobs  BlobStorer
	ledger Anchorer
	router *mux.Router
	hub    *Hub
	log    *zap.SugaredLogger

	// anchored maps order IDs this process anchored to the session that
	// submitted them, so ORDER_PENDING can be routed back. Orders anchored
	// by other writers, or before a restart, fall back to broadcast.
	mu       sync.Mutex
	anchored map[string]string
}

// NewServer creates a new gateway server wired to the engine.
func NewServer(eng *engine.Engine, blobs BlobStorer, ledger Anchorer, log *zap.SugaredLogger) *Server {
	s := &Server{
		engine:   eng,
		blobs:    blobs,
		ledger:   ledger,
		router:   mux.NewRouter(),
		hub:      NewHub(log),
		log:      log,
		anchored: make(map[string]string),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/status", s.handleGetStatus).Methods("GET")
	api.HandleFunc("/orders", s.handleGetOrders).Methods("GET")

	// WebSocket endpoint
	s.router.HandleFunc("/ws", s.handleWebSocket)

	// Health check
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Start starts the gateway server
func (s *Server) Start(addr string) error {
	go s.hub.Run()

	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"http://localhost:3000", "http://localhost:3001"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})

	handler := c.Handler(s.router)

	s.log.Infow("gateway_started", "addr", addr)
	return http.ListenAndServe(addr, handler)
}

// ==============================
// REST Handlers
// ==============================

func (s *Server) handleGetStatus(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, s.engine.Status())
}

// StaticOrderInfo is the redacted REST view of a ledger order. Payload
// fields appear only once decrypted; signatures are never exposed.
type StaticOrderInfo struct {
	OrderID       string   `json:"orderId"`
	BlobReference string   `json:"blobReference"`
	Processed     bool     `json:"processed"`
	Direction     string   `json:"direction,omitempty"`
	TargetPrice   *float64 `json:"targetPrice,omitempty"`
	Amount        *float64 `json:"amount,omitempty"`
	Owner         string   `json:"owner,omitempty"`
}

func (s *Server) handleGetOrders(w http.ResponseWriter, r *http.Request) {
	statics := s.engine.Registry().AllStatic()

	response := make([]StaticOrderInfo, 0, len(statics))
	for _, o := range statics {
		info := StaticOrderInfo{
			OrderID:       o.OrderID,
			BlobReference: o.BlobRef,
			Processed:     o.Processed,
		}
		if o.Payload != nil {
			target, amount := o.Payload.TargetPrice, o.Payload.Amount
			info.Direction = o.Payload.Direction.String()
			info.TargetPrice = &target
			info.Amount = &amount
			info.Owner = o.Payload.Owner.Hex()
		}
		response = append(response, info)
	}

	respondJSON(w, response)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]string{"status": "ok"})
}

// ==============================
// Inbound Commands
// ==============================

// dispatchCommand routes one decoded session message. Anchoring runs off
// the read pump; everything else is a non-blocking engine submit.
func (s *Server) dispatchCommand(sessionID string, cmd Command) {
	switch c := cmd.(type) {
	case CreateOrder:
		go s.createOrder(sessionID, c.EncryptedPayload)

	case CreateDynamic:
		s.engine.Submit(engine.CreateDynamicCmd{
			SessionID:      sessionID,
			Direction:      c.Direction,
			Amount:         c.Amount,
			TrailingOffset: c.TrailingOffset,
			Owner:          c.Owner,
		})

	case UpdateDynamic:
		s.engine.Submit(engine.UpdateDynamicCmd{
			SessionID:         sessionID,
			OrderID:           c.OrderID,
			NewTarget:         c.NewTarget,
			NewAmount:         c.NewAmount,
			NewTrailingOffset: c.NewTrailingOffset,
		})

	case CancelDynamic:
		s.engine.Submit(engine.CancelDynamicCmd{
			SessionID: sessionID,
			OrderID:   c.OrderID,
		})

	case StrategyUpdate:
		s.applyStrategyUpdate(sessionID, c)
	}
}

// createOrder stores the encrypted payload and anchors its reference. The
// order ID is the keccak hash of the ciphertext, so resubmitting the same
// blob anchors the same ID and ingestion dedupes it.
func (s *Server) createOrder(sessionID string, payload []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), anchorTimeout)
	defer cancel()

	orderID := ethcrypto.Keccak256Hash(payload).Hex()

	ref, err := s.blobs.Store(ctx, payload)
	if err != nil {
		s.log.Warnw("blob_store_failed", "order_id", orderID, "err", err)
		s.hub.SendTo(sessionID, OrderError{Type: TypeOrderError, Error: "failed to store order"})
		return
	}

	txRef, err := s.ledger.Anchor(ctx, orderID, ref)
	if err != nil {
		s.log.Warnw("anchor_failed", "order_id", orderID, "blob", ref, "err", err)
		s.hub.SendTo(sessionID, OrderError{Type: TypeOrderError, Error: "failed to anchor order"})
		return
	}

	s.mu.Lock()
	s.anchored[orderID] = sessionID
	s.mu.Unlock()

	s.log.Infow("order_submitted", "order_id", orderID, "blob", ref,
		"session_id", sessionID, "tx", txRef)
}

// verifyStrategyUpdate checks the legacy retarget message: both addresses
// must be present, and the signature over the canonical digest must recover
// to the claimed session signer. Returns the user the digest binds, which
// scopes the retarget to that user's orders.
func verifyStrategyUpdate(c StrategyUpdate) (common.Address, bool) {
	if c.SessionSigner == (common.Address{}) || c.User == (common.Address{}) {
		return common.Address{}, false
	}
	digest := order.StrategyDigest("STRATEGY_UPDATE", c.Nonce, c.Price, c.User)
	recovered, err := crypto.RecoverAddress(digest, c.Signature)
	if err != nil || recovered != c.SessionSigner {
		return common.Address{}, false
	}
	return c.User, true
}

// applyStrategyUpdate verifies the legacy retarget signature before the
// command reaches the engine. Unverifiable updates are dropped without a
// response.
func (s *Server) applyStrategyUpdate(sessionID string, c StrategyUpdate) {
	owner, ok := verifyStrategyUpdate(c)
	if !ok {
		s.log.Warnw("strategy_update_rejected", "session_id", sessionID,
			"claimed", c.SessionSigner.Hex())
		return
	}

	s.engine.Submit(engine.RetargetSessionCmd{SessionID: sessionID, Price: c.Price, Owner: owner})
}

// sessionClosed cancels the session's trailing orders; they live only as
// long as the connection that created them.
func (s *Server) sessionClosed(sessionID string) {
	for _, o := range s.engine.Registry().DynamicBySession(sessionID) {
		s.engine.Submit(engine.CancelDynamicCmd{SessionID: sessionID, OrderID: o.ID})
	}
}

// ==============================
// Broadcast Methods (engine hooks, wired in main)
// ==============================

// BroadcastPrice fans the tick price out to every session.
func (s *Server) BroadcastPrice(price float64) {
	s.hub.Broadcast(PriceUpdate{Type: TypePriceUpdate, Price: price})
}

// NotifyStaticPending routes ORDER_PENDING to the session that anchored the
// order, falling back to broadcast for orders anchored elsewhere.
func (s *Server) NotifyStaticPending(o order.StaticOrder) {
	if o.Payload == nil {
		return
	}
	msg := OrderPending{
		Type:        TypeOrderPending,
		OrderID:     o.OrderID,
		Direction:   o.Payload.Direction.String(),
		Amount:      o.Payload.Amount,
		TargetPrice: o.Payload.TargetPrice,
	}
	s.routeOrderMsg(o.OrderID, msg)
}

// NotifyStaticExecuted routes ORDER_EXECUTED for a settled ledger order.
func (s *Server) NotifyStaticExecuted(o order.StaticOrder, txRef string, executedAt time.Time) {
	msg := OrderExecuted{
		Type:       TypeOrderExecuted,
		OrderID:    o.OrderID,
		TxRef:      txRef,
		ExecutedAt: executedAt.Format(time.RFC3339),
	}
	if o.Payload != nil {
		msg.Direction = o.Payload.Direction.String()
		msg.Amount = o.Payload.Amount
		msg.TargetPrice = o.Payload.TargetPrice
	}
	s.routeOrderMsg(o.OrderID, msg)
}

// NotifyOrderError sends ORDER_ERROR to one session, or every session when
// the session ID is empty.
func (s *Server) NotifyOrderError(sessionID, errMsg string) {
	msg := OrderError{Type: TypeOrderError, Error: errMsg}
	if sessionID == "" {
		s.hub.Broadcast(msg)
		return
	}
	s.hub.SendTo(sessionID, msg)
}

func (s *Server) NotifyDynamicCreated(sessionID, orderID string) {
	s.hub.SendTo(sessionID, DynamicOrderCreated{Type: TypeDynamicOrderCreated, OrderID: orderID})
}

func (s *Server) NotifyDynamicTriggered(sessionID string, price float64) {
	s.hub.SendTo(sessionID, DynamicOrderTriggered{Type: TypeDynamicOrderTriggered, Price: price})
}

func (s *Server) NotifyDynamicExecuted(sessionID, txRef string) {
	s.hub.SendTo(sessionID, DynamicOrderExecuted{Type: TypeDynamicOrderExecuted, TxRef: txRef})
}

func (s *Server) NotifyDynamicFailed(sessionID, errMsg string) {
	s.hub.SendTo(sessionID, DynamicOrderFailed{Type: TypeDynamicOrderFailed, Error: errMsg})
}

// routeOrderMsg prefers the anchoring session when this process knows it.
func (s *Server) routeOrderMsg(orderID string, msg any) {
	s.mu.Lock()
	sessionID, ok := s.anchored[orderID]
	s.mu.Unlock()
	if ok {
		s.hub.SendTo(sessionID, msg)
		return
	}
	s.hub.Broadcast(msg)
}

// ==============================
// Helper Functions
// ==============================

func respondJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}
