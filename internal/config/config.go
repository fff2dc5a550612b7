// Package config parses the closed set of environment variables named in
// spec §6 into a typed, validated Config, following the plain os.Getenv
// style the teacher uses in its service main() functions rather than
// reaching for a config library — none of the example repos import one.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/Ranish-Garg/econos-master-agent/internal/task"
)

// Config is the process-wide configuration surface.
type Config struct {
	ChainRPCURL        string
	ChainID            uint64
	BlockConfirmations int
	MasterPrivateKey   string
	MasterAddress      string
	EscrowAddress      string
	RegistryAddress    string

	MinReputation int

	ExpirationCheckInterval      time.Duration
	CapabilityCacheInterval      time.Duration
	AuthorizationDefaultValidity time.Duration
	NonceRetention               time.Duration

	DataDir  string
	HTTPAddr string
	GRPCAddr string
	NATSURL  string

	JWTSigningKey string
}

// Load reads the environment and returns a validated Config, or a
// task.ErrConfigMissing-shaped error for any required key that is absent.
func Load() (*Config, error) {
	c := &Config{
		ChainRPCURL:                  os.Getenv("CHAIN_RPC_URL"),
		MasterPrivateKey:             os.Getenv("MASTER_PRIVATE_KEY"),
		MasterAddress:                os.Getenv("MASTER_ADDRESS"),
		EscrowAddress:                os.Getenv("ESCROW_ADDRESS"),
		RegistryAddress:              os.Getenv("REGISTRY_ADDRESS"),
		BlockConfirmations:           intOrDefault("BLOCK_CONFIRMATIONS", 2),
		MinReputation:                intOrDefault("MIN_REPUTATION", 50),
		ExpirationCheckInterval:      durationOrDefault("EXPIRATION_CHECK_INTERVAL_SECONDS", 60*time.Second),
		CapabilityCacheInterval:      time.Duration(intOrDefault("CAPABILITY_CACHE_MS", 60000)) * time.Millisecond,
		AuthorizationDefaultValidity: durationOrDefault("AUTHORIZATION_DEFAULT_VALIDITY_SECONDS", 3600*time.Second),
		NonceRetention:               durationOrDefault("NONCE_RETENTION_SECONDS", 86400*time.Second),
		DataDir:                      stringOrDefault("DATA_DIR", "./data"),
		HTTPAddr:                     stringOrDefault("HTTP_ADDR", ":8080"),
		GRPCAddr:                     stringOrDefault("GRPC_ADDR", ":9090"),
		NATSURL:                      os.Getenv("NATS_URL"),
		JWTSigningKey:                stringOrDefault("JWT_SIGNING_KEY", "dev-signing-key-not-for-production"),
	}

	chainID, err := strconv.ParseUint(stringOrDefault("CHAIN_ID", "31337"), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("CHAIN_ID: %w", err)
	}
	c.ChainID = chainID

	for _, required := range []struct {
		name, val string
	}{
		{"CHAIN_RPC_URL", c.ChainRPCURL},
		{"MASTER_PRIVATE_KEY", c.MasterPrivateKey},
		{"MASTER_ADDRESS", c.MasterAddress},
		{"ESCROW_ADDRESS", c.EscrowAddress},
		{"REGISTRY_ADDRESS", c.RegistryAddress},
	} {
		if required.val == "" {
			return nil, task.ErrConfigMissing(required.name)
		}
	}

	return c, nil
}

func stringOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func intOrDefault(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func durationOrDefault(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return time.Duration(n) * time.Second
		}
	}
	return def
}
