package params

import (
	"strings"
	"testing"
	"time"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("RPC_URL", "http://localhost:8545")
	t.Setenv("AGENT_KEY", "ab"+strings.Repeat("cd", 31))
	t.Setenv("SETTLEMENT_ADDR", "0x1111111111111111111111111111111111111111")
	t.Setenv("LEDGER_ADDR", "0x2222222222222222222222222222222222222222")
	t.Setenv("BLOB_URL", "http://localhost:7070")
	t.Setenv("DECRYPT_URL", "http://localhost:7071")
}

func TestLoadDefaults(t *testing.T) {
	setRequired(t)
	cfg := Load("")

	if cfg.Engine.TickInterval != 3*time.Second {
		t.Errorf("tick interval = %v, want 3s", cfg.Engine.TickInterval)
	}
	if cfg.Engine.MaxSettleAttempts != 3 || cfg.Engine.MaxDecryptAttempts != 3 {
		t.Errorf("retry limits = %d/%d, want 3/3",
			cfg.Engine.MaxSettleAttempts, cfg.Engine.MaxDecryptAttempts)
	}
	if cfg.StateStore != "file" {
		t.Errorf("state store = %q, want file", cfg.StateStore)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	setRequired(t)
	t.Setenv("TICK_INTERVAL_MS", "500")
	t.Setenv("SLIPPAGE_BPS", "25")
	t.Setenv("STATE_STORE", "pebble")
	t.Setenv("ORACLE_SIM", "true")

	cfg := Load("")

	if cfg.Engine.TickInterval != 500*time.Millisecond {
		t.Errorf("tick interval = %v, want 500ms", cfg.Engine.TickInterval)
	}
	if cfg.Engine.SlippageBps != 25 {
		t.Errorf("slippage = %d, want 25", cfg.Engine.SlippageBps)
	}
	if cfg.StateStore != "pebble" {
		t.Errorf("state store = %q, want pebble", cfg.StateStore)
	}
	if !cfg.Oracle.Simulate {
		t.Error("ORACLE_SIM=true should enable simulation")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestValidateNamesEveryMissingKey(t *testing.T) {
	cfg := Default()
	err := cfg.Validate()
	if err == nil {
		t.Fatal("empty config must not validate")
	}
	for _, key := range []string{"RPC_URL", "AGENT_KEY", "SETTLEMENT_ADDR", "LEDGER_ADDR", "BLOB_URL", "DECRYPT_URL"} {
		if !strings.Contains(err.Error(), key) {
			t.Errorf("error %q does not name %s", err, key)
		}
	}
}

func TestValidateRejectsUnknownStateStore(t *testing.T) {
	setRequired(t)
	t.Setenv("STATE_STORE", "cassandra")
	cfg := Load("")
	if err := cfg.Validate(); err == nil {
		t.Error("unknown state store must not validate")
	}
}
