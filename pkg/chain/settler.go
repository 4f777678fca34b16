package chain

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/EmoBanana/veiled/pkg/order"
)

const settlementABIJSON = `[
	{"type":"function","name":"settle","stateMutability":"nonpayable","inputs":[
		{"name":"poolKey","type":"tuple","components":[
			{"name":"base","type":"address"},
			{"name":"quote","type":"address"},
			{"name":"fee","type":"uint24"}]},
		{"name":"params","type":"tuple","components":[
			{"name":"direction","type":"uint8"},
			{"name":"exactAmount","type":"uint256"},
			{"name":"priceLimit","type":"uint256"}]},
		{"name":"beneficiary","type":"address"}],"outputs":[]}
]`

const poolKeyABIJSON = `[
	{"type":"function","name":"token0","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]},
	{"type":"function","name":"token1","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]},
	{"type":"function","name":"fee","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint24"}]}
]`

type poolKey struct {
	Base  common.Address
	Quote common.Address
	Fee   *big.Int
}

type swapParams struct {
	Direction   uint8
	ExactAmount *big.Int
	PriceLimit  *big.Int
}

// Settler dispatches swaps against the settlement contract. Only the agent
// key may call settle; proceeds route to the beneficiary, not the caller.
type Settler struct {
	client  *Client
	addr    common.Address
	abi     abi.ABI
	poolABI abi.ABI

	mu  sync.Mutex
	key *poolKey // lazily read from the pool contract, then cached
}

func NewSettler(client *Client, addr string) (*Settler, error) {
	parsed, err := abi.JSON(strings.NewReader(settlementABIJSON))
	if err != nil {
		return nil, fmt.Errorf("parse settlement abi: %w", err)
	}
	poolParsed, err := abi.JSON(strings.NewReader(poolKeyABIJSON))
	if err != nil {
		return nil, fmt.Errorf("parse pool abi: %w", err)
	}
	return &Settler{
		client:  client,
		addr:    common.HexToAddress(addr),
		abi:     parsed,
		poolABI: poolParsed,
	}, nil
}

// Settle performs one swap: direction maps to the swap side, exactAmount is
// the exact-input quantity in the owed currency, priceLimit caps slippage in
// the unfavorable direction. Returns the settlement tx hash.
func (s *Settler) Settle(ctx context.Context, direction order.Side, exactAmount, priceLimit float64, beneficiary common.Address) (string, error) {
	key, err := s.loadPoolKey(ctx)
	if err != nil {
		return "", err
	}
	params := swapParams{
		Direction:   uint8(direction),
		ExactAmount: toFixed(exactAmount),
		PriceLimit:  toFixed(priceLimit),
	}
	data, err := s.abi.Pack("settle", key, params, beneficiary)
	if err != nil {
		return "", fmt.Errorf("pack settle: %w", err)
	}
	return s.client.sendTx(ctx, s.addr, data)
}

// loadPoolKey reads token0/token1/fee from the pool contract once and
// caches the result. A devnet without a pool gets a zero key, which the
// settlement contract treats as its default pool.
func (s *Settler) loadPoolKey(ctx context.Context) (poolKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.key != nil {
		return *s.key, nil
	}
	if s.client.poolAddr == (common.Address{}) {
		s.key = &poolKey{Fee: big.NewInt(0)}
		return *s.key, nil
	}

	key := poolKey{Fee: big.NewInt(0)}
	for _, read := range []struct {
		method string
		into   func([]interface{}) bool
	}{
		{"token0", func(v []interface{}) bool { a, ok := v[0].(common.Address); key.Base = a; return ok }},
		{"token1", func(v []interface{}) bool { a, ok := v[0].(common.Address); key.Quote = a; return ok }},
		{"fee", func(v []interface{}) bool { f, ok := v[0].(*big.Int); key.Fee = f; return ok }},
	} {
		data, err := s.poolABI.Pack(read.method)
		if err != nil {
			return poolKey{}, fmt.Errorf("pack %s: %w", read.method, err)
		}
		out, err := s.client.eth.CallContract(ctx, ethereum.CallMsg{To: &s.client.poolAddr, Data: data}, nil)
		if err != nil {
			return poolKey{}, fmt.Errorf("call %s: %w", read.method, err)
		}
		vals, err := s.poolABI.Unpack(read.method, out)
		if err != nil || !read.into(vals) {
			return poolKey{}, fmt.Errorf("unpack %s: %v", read.method, err)
		}
	}
	s.key = &key
	return key, nil
}
