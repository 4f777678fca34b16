package chain

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/EmoBanana/veiled/pkg/order"
)

const ledgerABIJSON = `[
	{"type":"event","name":"OrderAnchored","anonymous":false,"inputs":[
		{"name":"orderId","type":"bytes32","indexed":true},
		{"name":"blobRef","type":"string","indexed":false}]},
	{"type":"function","name":"anchor","stateMutability":"nonpayable","inputs":[
		{"name":"orderId","type":"bytes32"},
		{"name":"blobRef","type":"string"}],"outputs":[]},
	{"type":"function","name":"isCancelled","stateMutability":"view","inputs":[
		{"name":"orderId","type":"bytes32"}],"outputs":[{"name":"","type":"bool"}]}
]`

// Ledger is the order-anchoring contract: an append-only event log of
// encrypted order references, plus a cancellation flag per order.
type Ledger struct {
	client *Client
	addr   common.Address
	abi    abi.ABI
}

func NewLedger(client *Client, addr string) (*Ledger, error) {
	parsed, err := abi.JSON(strings.NewReader(ledgerABIJSON))
	if err != nil {
		return nil, fmt.Errorf("parse ledger abi: %w", err)
	}
	return &Ledger{
		client: client,
		addr:   common.HexToAddress(addr),
		abi:    parsed,
	}, nil
}

// OrdersAfter returns up to limit OrderAnchored events strictly after the
// cursor, in stream order. A nil cursor means from the beginning.
func (l *Ledger) OrdersAfter(ctx context.Context, cursor *order.Cursor, limit int) ([]order.AnchorEvent, error) {
	from := big.NewInt(0)
	if cursor != nil {
		// Re-scan the cursor block: later logs in it may be unprocessed.
		from = new(big.Int).SetUint64(cursor.Block)
	}

	logs, err := l.client.eth.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: from,
		Addresses: []common.Address{l.addr},
		Topics:    [][]common.Hash{{l.abi.Events["OrderAnchored"].ID}},
	})
	if err != nil {
		return nil, fmt.Errorf("filter anchor events: %w", err)
	}

	events := make([]order.AnchorEvent, 0, limit)
	for _, lg := range logs {
		at := order.Cursor{Block: lg.BlockNumber, Index: lg.Index}
		if cursor != nil && !cursor.Before(at) {
			continue // at or before the cursor, already processed
		}
		if lg.Removed || len(lg.Topics) < 2 {
			continue
		}
		vals, err := l.abi.Unpack("OrderAnchored", lg.Data)
		if err != nil {
			return nil, fmt.Errorf("unpack anchor event: %w", err)
		}
		blobRef, ok := vals[0].(string)
		if !ok {
			continue
		}
		events = append(events, order.AnchorEvent{
			OrderID: lg.Topics[1].Hex(),
			BlobRef: blobRef,
			At:      at,
		})
		if len(events) >= limit {
			break
		}
	}
	return events, nil
}

// Anchor publishes an order reference to the ledger. Returns the tx hash.
func (l *Ledger) Anchor(ctx context.Context, orderID, blobRef string) (string, error) {
	data, err := l.abi.Pack("anchor", common.HexToHash(orderID), blobRef)
	if err != nil {
		return "", fmt.Errorf("pack anchor: %w", err)
	}
	return l.client.sendTx(ctx, l.addr, data)
}

// IsCancelled re-checks an order's on-chain cancellation flag. Called once
// per dispatch attempt for ledger-sourced orders.
func (l *Ledger) IsCancelled(ctx context.Context, orderID string) (bool, error) {
	data, err := l.abi.Pack("isCancelled", common.HexToHash(orderID))
	if err != nil {
		return false, fmt.Errorf("pack isCancelled: %w", err)
	}
	out, err := l.client.eth.CallContract(ctx, ethereum.CallMsg{To: &l.addr, Data: data}, nil)
	if err != nil {
		return false, fmt.Errorf("call isCancelled: %w", err)
	}
	vals, err := l.abi.Unpack("isCancelled", out)
	if err != nil {
		return false, fmt.Errorf("unpack isCancelled: %w", err)
	}
	cancelled, ok := vals[0].(bool)
	if !ok {
		return false, fmt.Errorf("unexpected isCancelled output")
	}
	return cancelled, nil
}
