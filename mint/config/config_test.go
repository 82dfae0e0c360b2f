package config

import (
	"testing"
	"time"
)

func clearMintEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"MINT_SEED_MNEMONIC", "MINT_SEED_MNEMONIC_FILE", "MINT_DB_BACKEND",
		"MINT_PORT", "MINT_DB_PATH", "MINT_NAME", "MINT_DESCRIPTION",
		"MINT_MINTING_MAX_AMOUNT", "MINT_MELTING_MAX_AMOUNT",
		"MINT_ENABLE_ADMIN_SERVER", "MINT_ADMIN_PORT",
		"MINT_OFFER_TTL_SECONDS", "MINT_QUOTE_RETENTION_SECONDS",
		"MINT_IDEMPOTENT_MINT", "MINT_LOG_LEVEL", "MINT_LOG_FILE",
	} {
		t.Setenv(k, "")
	}
}

func TestFromEnvRequiresSeedMnemonic(t *testing.T) {
	clearMintEnv(t)
	if _, err := FromEnv(); err == nil {
		t.Fatalf("expected an error without MINT_SEED_MNEMONIC")
	}
}

func TestFromEnvAppliesDefaults(t *testing.T) {
	clearMintEnv(t)
	t.Setenv("MINT_SEED_MNEMONIC", "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about")

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}
	if cfg.DBBackend != BackendSqlite {
		t.Fatalf("DBBackend = %v, want sqlite default", cfg.DBBackend)
	}
	if cfg.Port != "3338" {
		t.Fatalf("Port = %s, want 3338 default", cfg.Port)
	}
	if cfg.OfferTTL != 2*24*time.Hour {
		t.Fatalf("OfferTTL = %v, want 48h default", cfg.OfferTTL)
	}
	if cfg.QuoteRetention != 24*time.Hour {
		t.Fatalf("QuoteRetention = %v, want 24h default", cfg.QuoteRetention)
	}
	if !cfg.IdempotentMint {
		t.Fatalf("IdempotentMint default should be true (spec.md §9)")
	}
}

func TestFromEnvRejectsInvalidBackend(t *testing.T) {
	clearMintEnv(t)
	t.Setenv("MINT_SEED_MNEMONIC", "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about")
	t.Setenv("MINT_DB_BACKEND", "postgres")

	if _, err := FromEnv(); err == nil {
		t.Fatalf("expected an error for an unsupported MINT_DB_BACKEND")
	}
}

func TestFromEnvParsesOverrides(t *testing.T) {
	clearMintEnv(t)
	t.Setenv("MINT_SEED_MNEMONIC", "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about")
	t.Setenv("MINT_DB_BACKEND", "memory")
	t.Setenv("MINT_OFFER_TTL_SECONDS", "3600")
	t.Setenv("MINT_IDEMPOTENT_MINT", "false")
	t.Setenv("MINT_LOG_LEVEL", "debug")

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}
	if cfg.DBBackend != BackendMemory {
		t.Fatalf("DBBackend = %v, want memory", cfg.DBBackend)
	}
	if cfg.OfferTTL != time.Hour {
		t.Fatalf("OfferTTL = %v, want 1h", cfg.OfferTTL)
	}
	if cfg.IdempotentMint {
		t.Fatalf("IdempotentMint override to false should stick")
	}
}
