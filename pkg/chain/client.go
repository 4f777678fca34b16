package chain

import (
	"context"
	"fmt"
	"math"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/EmoBanana/veiled/pkg/crypto"
)

// Amounts and prices cross the contract boundary as 1e8 fixed-point.
const fixedPointScale = 1e8

// settlement gas is dominated by the inner swap; a fixed limit avoids an
// estimate round-trip per dispatch.
const settleGasLimit = 500_000

const pairABIJSON = `[
	{"type":"function","name":"getReserves","stateMutability":"view","inputs":[],"outputs":[
		{"name":"reserve0","type":"uint112"},
		{"name":"reserve1","type":"uint112"},
		{"name":"blockTimestampLast","type":"uint32"}]}
]`

// Client wraps the RPC connection plus the agent identity used to sign
// transactions. Ledger and Settler build on it.
type Client struct {
	eth     *ethclient.Client
	signer  *crypto.Signer
	chainID *big.Int

	poolAddr common.Address
	pairABI  abi.ABI
}

// Dial connects to the RPC endpoint. poolAddr may be empty when no on-chain
// price source is configured.
func Dial(ctx context.Context, rpcURL string, signer *crypto.Signer, chainID int64, poolAddr string) (*Client, error) {
	eth, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial rpc %s: %w", rpcURL, err)
	}
	pairABI, err := abi.JSON(strings.NewReader(pairABIJSON))
	if err != nil {
		return nil, fmt.Errorf("parse pair abi: %w", err)
	}
	c := &Client{
		eth:     eth,
		signer:  signer,
		chainID: big.NewInt(chainID),
		pairABI: pairABI,
	}
	if poolAddr != "" {
		c.poolAddr = common.HexToAddress(poolAddr)
	}
	return c, nil
}

func (c *Client) Close() {
	c.eth.Close()
}

// PoolPrice reads the pool reserves and returns quote/base. Implements
// oracle.PoolReader.
func (c *Client) PoolPrice(ctx context.Context) (float64, error) {
	if c.poolAddr == (common.Address{}) {
		return 0, fmt.Errorf("no pool configured")
	}
	data, err := c.pairABI.Pack("getReserves")
	if err != nil {
		return 0, fmt.Errorf("pack getReserves: %w", err)
	}
	out, err := c.eth.CallContract(ctx, ethereum.CallMsg{To: &c.poolAddr, Data: data}, nil)
	if err != nil {
		return 0, fmt.Errorf("call getReserves: %w", err)
	}
	vals, err := c.pairABI.Unpack("getReserves", out)
	if err != nil {
		return 0, fmt.Errorf("unpack getReserves: %w", err)
	}
	reserve0, ok0 := vals[0].(*big.Int)
	reserve1, ok1 := vals[1].(*big.Int)
	if !ok0 || !ok1 || reserve0.Sign() == 0 {
		return 0, fmt.Errorf("empty reserves")
	}
	r0, _ := new(big.Float).SetInt(reserve0).Float64()
	r1, _ := new(big.Float).SetInt(reserve1).Float64()
	return r1 / r0, nil
}

// sendTx packs, signs with the agent key, and submits one transaction.
// Returns the transaction hash.
func (c *Client) sendTx(ctx context.Context, to common.Address, data []byte) (string, error) {
	from := c.signer.Address()
	nonce, err := c.eth.PendingNonceAt(ctx, from)
	if err != nil {
		return "", fmt.Errorf("pending nonce: %w", err)
	}
	gasPrice, err := c.eth.SuggestGasPrice(ctx)
	if err != nil {
		return "", fmt.Errorf("suggest gas price: %w", err)
	}
	tx := types.NewTransaction(nonce, to, big.NewInt(0), settleGasLimit, gasPrice, data)
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(c.chainID), c.signer.PrivateKey())
	if err != nil {
		return "", fmt.Errorf("sign tx: %w", err)
	}
	if err := c.eth.SendTransaction(ctx, signed); err != nil {
		return "", fmt.Errorf("send tx: %w", err)
	}
	return signed.Hash().Hex(), nil
}

// toFixed converts a float amount/price to 1e8 fixed-point.
func toFixed(v float64) *big.Int {
	return big.NewInt(int64(math.Round(v * fixedPointScale)))
}
