package config

import (
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"CHAIN_RPC_URL", "MASTER_PRIVATE_KEY", "MASTER_ADDRESS", "ESCROW_ADDRESS",
		"REGISTRY_ADDRESS", "BLOCK_CONFIRMATIONS", "MIN_REPUTATION",
		"EXPIRATION_CHECK_INTERVAL_SECONDS", "CAPABILITY_CACHE_MS",
		"AUTHORIZATION_DEFAULT_VALIDITY_SECONDS", "NONCE_RETENTION_SECONDS",
		"DATA_DIR", "HTTP_ADDR", "GRPC_ADDR", "NATS_URL", "JWT_SIGNING_KEY", "CHAIN_ID",
	} {
		t.Setenv(k, "")
	}
}

func TestLoadFailsWithoutRequiredVars(t *testing.T) {
	clearEnv(t)
	if _, err := Load(); err == nil {
		t.Fatal("expected Load to fail when required environment variables are unset")
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("CHAIN_RPC_URL", "http://localhost:8545")
	t.Setenv("MASTER_PRIVATE_KEY", "0xabc")
	t.Setenv("MASTER_ADDRESS", "0xmaster")
	t.Setenv("ESCROW_ADDRESS", "0xescrow")
	t.Setenv("REGISTRY_ADDRESS", "0xregistry")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.ChainID != 31337 {
		t.Errorf("expected default chain id 31337, got %d", cfg.ChainID)
	}
	if cfg.BlockConfirmations != 2 {
		t.Errorf("expected default block confirmations 2, got %d", cfg.BlockConfirmations)
	}
	if cfg.MinReputation != 50 {
		t.Errorf("expected default min reputation 50, got %d", cfg.MinReputation)
	}
	if cfg.AuthorizationDefaultValidity != time.Hour {
		t.Errorf("expected default authorization validity 1h, got %v", cfg.AuthorizationDefaultValidity)
	}
	if cfg.HTTPAddr != ":8080" {
		t.Errorf("expected default http addr :8080, got %s", cfg.HTTPAddr)
	}
}

func TestLoadHonorsOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("CHAIN_RPC_URL", "http://localhost:8545")
	t.Setenv("MASTER_PRIVATE_KEY", "0xabc")
	t.Setenv("MASTER_ADDRESS", "0xmaster")
	t.Setenv("ESCROW_ADDRESS", "0xescrow")
	t.Setenv("REGISTRY_ADDRESS", "0xregistry")
	t.Setenv("CHAIN_ID", "1")
	t.Setenv("MIN_REPUTATION", "80")
	t.Setenv("HTTP_ADDR", ":9999")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.ChainID != 1 {
		t.Errorf("expected overridden chain id 1, got %d", cfg.ChainID)
	}
	if cfg.MinReputation != 80 {
		t.Errorf("expected overridden min reputation 80, got %d", cfg.MinReputation)
	}
	if cfg.HTTPAddr != ":9999" {
		t.Errorf("expected overridden http addr :9999, got %s", cfg.HTTPAddr)
	}
}
