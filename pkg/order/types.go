package order

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Side is the order direction. Serialized as "buy"/"sell" on every boundary
// (wire protocol, state file, decrypted payloads).
type Side int

const (
	Buy Side = iota
	Sell
)

func (s Side) String() string {
	if s == Sell {
		return "sell"
	}
	return "buy"
}

func (s Side) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

func (s *Side) UnmarshalJSON(b []byte) error {
	switch string(b) {
	case `"buy"`:
		*s = Buy
	case `"sell"`:
		*s = Sell
	default:
		return fmt.Errorf("invalid side %s", string(b))
	}
	return nil
}

// ParseSide parses "buy"/"sell" (exact, lowercase).
func ParseSide(s string) (Side, error) {
	switch s {
	case "buy":
		return Buy, nil
	case "sell":
		return Sell, nil
	}
	return Buy, fmt.Errorf("invalid side %q", s)
}

// PriceTick is the per-tick market price. Transient, never persisted.
type PriceTick struct {
	Price float64
	At    time.Time
}

// OrderPayload is the decrypted content of an anchored order blob.
// Signature, when present, must recover to Owner over the canonical digest
// of the remaining fields.
type OrderPayload struct {
	TargetPrice float64        `json:"targetPrice"`
	Amount      float64        `json:"amount"`
	Direction   Side           `json:"direction"`
	Owner       common.Address `json:"ownerAddress"`
	Signature   hexutil.Bytes  `json:"signature,omitempty"`
}

// StaticOrder is a durable order discovered from the anchoring ledger.
// Payload stays nil until the blob decrypts. Never deleted; Processed makes
// restarts idempotent.
type StaticOrder struct {
	OrderID   string        `json:"orderId"` // 0x-hex bytes32 from the ledger event
	BlobRef   string        `json:"blobReference"`
	Payload   *OrderPayload `json:"payload"`
	Processed bool          `json:"processed"`
	Attempts  int           `json:"attempts,omitempty"` // failed settlement dispatches so far
}

// DynStatus is a dynamic order's lifecycle state. Triggered is transient
// between evaluation and dispatch completion.
type DynStatus string

const (
	StatusActive    DynStatus = "active"
	StatusTriggered DynStatus = "triggered"
	StatusExecuted  DynStatus = "executed"
	StatusFailed    DynStatus = "failed"
)

// DynamicOrder is an ephemeral trailing order owned by one gateway session.
//
// Ratchet invariant: for Buy, ExtremePrice only increases across ticks; for
// Sell it only decreases. CurrentTarget is always derived as
// Extreme-Offset (buy) / Extreme+Offset (sell), never set directly.
type DynamicOrder struct {
	ID             string         `json:"id"`
	Direction      Side           `json:"direction"`
	TrailingOffset float64        `json:"trailingOffset"`
	Amount         float64        `json:"amount"`
	Owner          common.Address `json:"owner"`
	ExtremePrice   float64        `json:"extremePrice"`
	CurrentTarget  float64        `json:"currentTarget"`
	Status         DynStatus      `json:"status"`
	SessionID      string         `json:"-"`
	Attempts       int            `json:"-"`
}

// Cursor is a position in the ledger's event stream: the last fully
// processed (block, log index) pair. Opaque outside pkg/chain.
type Cursor struct {
	Block uint64 `json:"block"`
	Index uint   `json:"index"`
}

// Before reports whether c points strictly before other in the stream.
func (c Cursor) Before(other Cursor) bool {
	if c.Block != other.Block {
		return c.Block < other.Block
	}
	return c.Index < other.Index
}

// AnchorEvent is one order-creation event read from the ledger.
type AnchorEvent struct {
	OrderID string
	BlobRef string
	At      Cursor
}

// AgentState is the persisted engine state. PendingOrders is a cache of the
// registry filter Processed==false && Payload!=nil, not independent state.
// SkippedBlobs counts decryption failures per order id so restarts do not
// retry permanently skipped blobs.
type AgentState struct {
	Cursor         *Cursor        `json:"cursor"`
	ProcessedCount int            `json:"processedCount"`
	PendingOrders  []StaticOrder  `json:"pendingOrders"`
	SkippedBlobs   map[string]int `json:"skippedBlobs,omitempty"`
}

// NewAgentState returns the zero state of a first run.
func NewAgentState() *AgentState {
	return &AgentState{SkippedBlobs: make(map[string]int)}
}
