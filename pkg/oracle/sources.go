package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// PoolReader reads the spot price from on-chain pool reserves. Implemented
// by chain.Client; cheapest and most authoritative source when configured.
type PoolReader interface {
	PoolPrice(ctx context.Context) (float64, error)
}

// PoolSource reads the price directly from pool reserves.
type PoolSource struct {
	Reader PoolReader
}

func (s *PoolSource) Name() string { return "pool" }

func (s *PoolSource) Fetch(ctx context.Context) (float64, error) {
	return s.Reader.PoolPrice(ctx)
}

// priceBody is the JSON shape both HTTP sources expect: {"price": <number>}
// or {"price": "<decimal string>"}.
type priceBody struct {
	Price json.RawMessage `json:"price"`
}

func parsePriceBody(data []byte) (float64, error) {
	var body priceBody
	if err := json.Unmarshal(data, &body); err != nil {
		return 0, fmt.Errorf("decode price body: %w", err)
	}
	if len(body.Price) == 0 {
		return 0, fmt.Errorf("missing price field")
	}
	var f float64
	if err := json.Unmarshal(body.Price, &f); err == nil {
		return f, nil
	}
	var s string
	if err := json.Unmarshal(body.Price, &s); err != nil {
		return 0, fmt.Errorf("unparseable price %s", body.Price)
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("unparseable price %q: %w", s, err)
	}
	return f, nil
}

// HTTPSource fetches {"price": ...} from a fixed URL. Covers both the
// external price feed and the public market API; only the name differs.
type HTTPSource struct {
	SourceName string
	URL        string
	Client     *http.Client
}

func NewFeedSource(url string) *HTTPSource {
	return &HTTPSource{SourceName: "feed", URL: url, Client: &http.Client{Timeout: 5 * time.Second}}
}

func NewMarketSource(url string) *HTTPSource {
	return &HTTPSource{SourceName: "market", URL: url, Client: &http.Client{Timeout: 5 * time.Second}}
}

func (s *HTTPSource) Name() string { return s.SourceName }

func (s *HTTPSource) Fetch(ctx context.Context) (float64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.URL, nil)
	if err != nil {
		return 0, err
	}
	resp, err := s.Client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return 0, err
	}
	return parsePriceBody(data)
}

// StaticSource is the last-resort fixed price. Never fails.
type StaticSource struct {
	Price float64
}

func (s *StaticSource) Name() string { return "static" }

func (s *StaticSource) Fetch(_ context.Context) (float64, error) {
	return s.Price, nil
}

// RandomWalkSource generates a bounded random walk around a base price.
// Dev mode only: stands in for live endpoints on a local devnet.
type RandomWalkSource struct {
	mu    sync.Mutex
	price float64
	step  float64
	rng   *rand.Rand
}

func NewRandomWalkSource(base, step float64) *RandomWalkSource {
	return &RandomWalkSource{
		price: base,
		step:  step,
		rng:   rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (s *RandomWalkSource) Name() string { return "sim" }

func (s *RandomWalkSource) Fetch(_ context.Context) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.price += (s.rng.Float64()*2 - 1) * s.step
	if s.price < s.step {
		s.price = s.step
	}
	return s.price, nil
}
