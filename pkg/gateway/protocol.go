package gateway

import (
	"encoding/json"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/EmoBanana/veiled/pkg/order"
)

// Wire protocol: every message is a JSON object with a "type" tag, except
// the legacy freeform STRATEGY_UPDATE which carries an "intent" field
// instead. Inbound messages decode once, at this boundary, into a closed
// variant set; anything unknown or malformed becomes Nop and is silently
// ignored rather than answered, to tolerate heterogeneous legacy clients.

// Server to client message types.
const (
	TypePriceUpdate           = "PRICE_UPDATE"
	TypeOrderPending          = "ORDER_PENDING"
	TypeOrderExecuted         = "ORDER_EXECUTED"
	TypeOrderError            = "ORDER_ERROR"
	TypeDynamicOrderCreated   = "DYNAMIC_ORDER_CREATED"
	TypeDynamicOrderTriggered = "DYNAMIC_ORDER_TRIGGERED"
	TypeDynamicOrderExecuted  = "DYNAMIC_ORDER_EXECUTED"
	TypeDynamicOrderFailed    = "DYNAMIC_ORDER_FAILED"
)

type PriceUpdate struct {
	Type  string  `json:"type"`
	Price float64 `json:"price"`
}

type OrderPending struct {
	Type        string  `json:"type"`
	OrderID     string  `json:"orderId"`
	Direction   string  `json:"direction"`
	Amount      float64 `json:"amount"`
	TargetPrice float64 `json:"targetPrice"`
}

type OrderExecuted struct {
	Type        string  `json:"type"`
	OrderID     string  `json:"orderId"`
	TxRef       string  `json:"txRef"`
	Direction   string  `json:"direction"`
	Amount      float64 `json:"amount"`
	TargetPrice float64 `json:"targetPrice"`
	ExecutedAt  string  `json:"executedAt"`
}

type OrderError struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

type DynamicOrderCreated struct {
	Type    string `json:"type"`
	OrderID string `json:"orderId"`
}

type DynamicOrderTriggered struct {
	Type  string  `json:"type"`
	Price float64 `json:"price"`
}

type DynamicOrderExecuted struct {
	Type  string `json:"type"`
	TxRef string `json:"txRef"`
}

type DynamicOrderFailed struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

// Inbound commands, the closed variant set.

type Command interface {
	isCommand()
}

// CreateOrder requests encrypt+anchor of a new static order.
type CreateOrder struct {
	EncryptedPayload []byte
}

// CreateDynamic opens a trailing order in this session.
type CreateDynamic struct {
	Direction      order.Side
	Amount         float64
	TrailingOffset float64
	Owner          common.Address
}

// UpdateDynamic adjusts a trailing order. Nil fields stay unchanged.
type UpdateDynamic struct {
	OrderID           string
	NewTarget         *float64
	NewAmount         *float64
	NewTrailingOffset *float64
}

// CancelDynamic removes a trailing order from the active set.
type CancelDynamic struct {
	OrderID string
}

// StrategyUpdate is the legacy freeform retarget message. The gateway
// verifies the signature before anything is applied.
type StrategyUpdate struct {
	Price         float64
	Nonce         uint64
	User          common.Address
	SessionSigner common.Address
	Signature     []byte
}

// Nop is what every unknown or malformed message decodes to.
type Nop struct{}

func (CreateOrder) isCommand()    {}
func (CreateDynamic) isCommand()  {}
func (UpdateDynamic) isCommand()  {}
func (CancelDynamic) isCommand()  {}
func (StrategyUpdate) isCommand() {}
func (Nop) isCommand()            {}

// DecodeCommand maps one raw inbound message to exactly one variant.
func DecodeCommand(raw []byte) Command {
	var env struct {
		Type   string `json:"type"`
		Intent string `json:"intent"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return Nop{}
	}

	switch env.Type {
	case "CREATE_ORDER":
		var m struct {
			EncryptedPayload []byte `json:"encryptedPayload"`
		}
		if err := json.Unmarshal(raw, &m); err != nil || len(m.EncryptedPayload) == 0 {
			return Nop{}
		}
		return CreateOrder{EncryptedPayload: m.EncryptedPayload}

	case "CREATE_DYNAMIC_ORDER":
		var m struct {
			Order struct {
				Direction      string         `json:"direction"`
				Amount         float64        `json:"amount"`
				TrailingOffset float64        `json:"trailingOffset"`
				Owner          common.Address `json:"owner"`
			} `json:"order"`
		}
		if err := json.Unmarshal(raw, &m); err != nil {
			return Nop{}
		}
		dir, err := order.ParseSide(m.Order.Direction)
		if err != nil {
			return Nop{}
		}
		return CreateDynamic{
			Direction:      dir,
			Amount:         m.Order.Amount,
			TrailingOffset: m.Order.TrailingOffset,
			Owner:          m.Order.Owner,
		}

	case "UPDATE_DYNAMIC_ORDER":
		var m struct {
			OrderID           string   `json:"orderId"`
			NewTarget         *float64 `json:"newTarget"`
			NewAmount         *float64 `json:"newAmount"`
			NewTrailingOffset *float64 `json:"newTrailingOffset"`
		}
		if err := json.Unmarshal(raw, &m); err != nil || m.OrderID == "" {
			return Nop{}
		}
		return UpdateDynamic{
			OrderID:           m.OrderID,
			NewTarget:         m.NewTarget,
			NewAmount:         m.NewAmount,
			NewTrailingOffset: m.NewTrailingOffset,
		}

	case "CANCEL_DYNAMIC_ORDER":
		var m struct {
			OrderID string `json:"orderId"`
		}
		if err := json.Unmarshal(raw, &m); err != nil || m.OrderID == "" {
			return Nop{}
		}
		return CancelDynamic{OrderID: m.OrderID}
	}

	if env.Intent == "STRATEGY_UPDATE" {
		var m struct {
			Price         float64        `json:"price"`
			Nonce         uint64         `json:"nonce"`
			User          common.Address `json:"user"`
			SessionSigner common.Address `json:"sessionSigner"`
			Signature     string         `json:"signature"`
		}
		if err := json.Unmarshal(raw, &m); err != nil || m.Signature == "" {
			return Nop{}
		}
		sig, err := hexutil.Decode(m.Signature)
		if err != nil {
			return Nop{}
		}
		return StrategyUpdate{
			Price:         m.Price,
			Nonce:         m.Nonce,
			User:          m.User,
			SessionSigner: m.SessionSigner,
			Signature:     sig,
		}
	}

	return Nop{}
}
