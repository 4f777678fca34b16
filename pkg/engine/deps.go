package engine

import (
	"context"

	"github.com/ethereum/go-ethereum/common"

	"github.com/EmoBanana/veiled/pkg/order"
)

// Collaborator boundaries. The chain, oracle, and privacy packages satisfy
// these; tests use hand-rolled fakes.

// PriceOracle yields the current market price or fails when every source is
// exhausted.
type PriceOracle interface {
	CurrentPrice(ctx context.Context) (float64, error)
}

// Ledger is the order-anchoring event log plus per-order cancellation flag.
type Ledger interface {
	OrdersAfter(ctx context.Context, cursor *order.Cursor, limit int) ([]order.AnchorEvent, error)
	IsCancelled(ctx context.Context, orderID string) (bool, error)
}

// Settler performs one swap per call, routing proceeds to the beneficiary.
type Settler interface {
	Settle(ctx context.Context, direction order.Side, exactAmount, priceLimit float64, beneficiary common.Address) (string, error)
}

// BlobFetcher downloads encrypted order blobs by reference.
type BlobFetcher interface {
	Fetch(ctx context.Context, ref string) ([]byte, error)
}

// Decrypter is the external threshold-decryption capability.
type Decrypter interface {
	Decrypt(ctx context.Context, orderID string, blob []byte) ([]byte, error)
}
