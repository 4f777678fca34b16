package engine

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/EmoBanana/veiled/pkg/order"
)

// Commands are the closed variant set a gateway session can apply to the
// engine. The gateway decodes wire messages into exactly one of these;
// unknown message shapes become NopCmd. The engine applies commands on its
// single loop, so an applied command is visible to the next tick's
// evaluation.
type Command interface {
	isCommand()
}

// CreateDynamicCmd opens a trailing order owned by the session.
type CreateDynamicCmd struct {
	SessionID      string
	Direction      order.Side
	Amount         float64
	TrailingOffset float64
	Owner          common.Address
}

// UpdateDynamicCmd adjusts an existing trailing order. Nil fields are left
// unchanged. NewTarget retunes the trailing offset so the derived target
// equals the requested price at the current extreme.
type UpdateDynamicCmd struct {
	SessionID         string
	OrderID           string
	NewTarget         *float64
	NewAmount         *float64
	NewTrailingOffset *float64
}

// CancelDynamicCmd removes an order from the active set before the next
// tick. A cancel racing an in-flight dispatch may still execute.
type CancelDynamicCmd struct {
	SessionID string
	OrderID   string
}

// RetargetSessionCmd is the verified legacy STRATEGY_UPDATE: retune every
// active order in the session owned by Owner so its target equals the
// requested price. Owner is the user address recovered delegation binds to,
// so a session cannot retarget orders it holds for someone else.
type RetargetSessionCmd struct {
	SessionID string
	Price     float64
	Owner     common.Address
}

// NopCmd is what unknown or malformed inbound messages decode to. Applied
// as a no-op, never answered.
type NopCmd struct{}

func (CreateDynamicCmd) isCommand()   {}
func (UpdateDynamicCmd) isCommand()   {}
func (CancelDynamicCmd) isCommand()   {}
func (RetargetSessionCmd) isCommand() {}
func (NopCmd) isCommand()             {}
