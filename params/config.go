package params

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Chain groups everything the agent needs to talk to the settlement chain:
// RPC endpoint, the agent's signing key, and the contract addresses.
type Chain struct {
	RPCURL         string
	AgentKey       string // hex secp256k1 private key, no 0x prefix required
	SettlementAddr string
	LedgerAddr     string // order-anchoring contract; doubles as the ledger package id
	PoolAddr       string // optional: pool used for on-chain price reads
	ChainID        int64
}

// Privacy groups the external blob-storage and threshold-decryption services.
type Privacy struct {
	BlobURL    string
	DecryptURL string
	SessionTTL time.Duration
}

// Engine groups the trigger loop's timers and retry policies.
type Engine struct {
	TickInterval   time.Duration
	IngestInterval time.Duration
	IngestPageSize int
	SlippageBps    int64
	// MaxSettleAttempts bounds settlement retries for BOTH order kinds.
	// After this many failed dispatches an order is terminal.
	MaxSettleAttempts int
	// MaxDecryptAttempts bounds decryption retries per anchored blob.
	// After this many failures the blob is permanently skipped.
	MaxDecryptAttempts int
}

// Oracle groups the price source chain. Sources with an empty value are
// skipped at construction; StaticPrice=0 disables the last-resort source.
type Oracle struct {
	FeedURL      string
	MarketAPIURL string
	StaticPrice  float64
	Simulate     bool // dev mode: random-walk source instead of live endpoints
}

type Config struct {
	Chain   Chain
	Privacy Privacy
	Engine  Engine
	Oracle  Oracle

	APIAddr     string
	StatePath   string
	StateStore  string // "file" | "pebble"
	JournalPath string
	LogFile     string
}

func Default() Config {
	return Config{
		Chain: Chain{
			ChainID: 1337,
		},
		Privacy: Privacy{
			SessionTTL: 60 * time.Minute,
		},
		Engine: Engine{
			TickInterval:       3 * time.Second,
			IngestInterval:     10 * time.Second,
			IngestPageSize:     50,
			SlippageBps:        100,
			MaxSettleAttempts:  3,
			MaxDecryptAttempts: 3,
		},
		APIAddr:     ":8080",
		StatePath:   "data/agent_state.json",
		StateStore:  "file",
		JournalPath: "data/settlements.log",
		LogFile:     "data/agent.log",
	}
}

// Load reads configuration from a .env file (if present) and environment
// variables. Priority: ENV > .env file > defaults.
func Load(envPath string) Config {
	cfg := Default()

	// Optional .env; missing file is fine.
	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	cfg.Chain.RPCURL = getEnv("RPC_URL", cfg.Chain.RPCURL)
	cfg.Chain.AgentKey = getEnv("AGENT_KEY", cfg.Chain.AgentKey)
	cfg.Chain.SettlementAddr = getEnv("SETTLEMENT_ADDR", cfg.Chain.SettlementAddr)
	cfg.Chain.LedgerAddr = getEnv("LEDGER_ADDR", cfg.Chain.LedgerAddr)
	cfg.Chain.PoolAddr = getEnv("POOL_ADDR", cfg.Chain.PoolAddr)
	if v := os.Getenv("CHAIN_ID"); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Chain.ChainID = id
		}
	}

	cfg.Privacy.BlobURL = getEnv("BLOB_URL", cfg.Privacy.BlobURL)
	cfg.Privacy.DecryptURL = getEnv("DECRYPT_URL", cfg.Privacy.DecryptURL)
	if v := os.Getenv("SESSION_TTL_MIN"); v != "" {
		if m, err := strconv.Atoi(v); err == nil {
			cfg.Privacy.SessionTTL = time.Duration(m) * time.Minute
		}
	}

	if v := os.Getenv("TICK_INTERVAL_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil {
			cfg.Engine.TickInterval = time.Duration(ms) * time.Millisecond
		}
	}
	if v := os.Getenv("INGEST_INTERVAL_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil {
			cfg.Engine.IngestInterval = time.Duration(ms) * time.Millisecond
		}
	}
	if v := os.Getenv("INGEST_PAGE_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Engine.IngestPageSize = n
		}
	}
	if v := os.Getenv("SLIPPAGE_BPS"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n >= 0 {
			cfg.Engine.SlippageBps = n
		}
	}
	if v := os.Getenv("MAX_SETTLE_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Engine.MaxSettleAttempts = n
		}
	}
	if v := os.Getenv("MAX_DECRYPT_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Engine.MaxDecryptAttempts = n
		}
	}

	cfg.Oracle.FeedURL = getEnv("FEED_URL", cfg.Oracle.FeedURL)
	cfg.Oracle.MarketAPIURL = getEnv("MARKET_API_URL", cfg.Oracle.MarketAPIURL)
	if v := os.Getenv("STATIC_PRICE"); v != "" {
		if p, err := strconv.ParseFloat(v, 64); err == nil && p >= 0 {
			cfg.Oracle.StaticPrice = p
		}
	}
	cfg.Oracle.Simulate = os.Getenv("ORACLE_SIM") == "true"

	cfg.APIAddr = getEnv("API_ADDR", cfg.APIAddr)
	cfg.StatePath = getEnv("STATE_PATH", cfg.StatePath)
	cfg.StateStore = getEnv("STATE_STORE", cfg.StateStore)
	cfg.JournalPath = getEnv("JOURNAL_PATH", cfg.JournalPath)
	cfg.LogFile = getEnv("LOG_FILE", cfg.LogFile)

	return cfg
}

// Validate returns an error naming every missing required value. The agent
// must not start without its chain identity and the privacy endpoints.
func (c Config) Validate() error {
	var missing []string
	if c.Chain.RPCURL == "" {
		missing = append(missing, "RPC_URL")
	}
	if c.Chain.AgentKey == "" {
		missing = append(missing, "AGENT_KEY")
	}
	if c.Chain.SettlementAddr == "" {
		missing = append(missing, "SETTLEMENT_ADDR")
	}
	if c.Chain.LedgerAddr == "" {
		missing = append(missing, "LEDGER_ADDR")
	}
	if c.Privacy.BlobURL == "" {
		missing = append(missing, "BLOB_URL")
	}
	if c.Privacy.DecryptURL == "" {
		missing = append(missing, "DECRYPT_URL")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required config: %s", strings.Join(missing, ", "))
	}
	if c.StateStore != "file" && c.StateStore != "pebble" {
		return fmt.Errorf("STATE_STORE must be \"file\" or \"pebble\", got %q", c.StateStore)
	}
	return nil
}

// getEnv returns environment variable value or default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
