// Package config reads the mint's environment-variable configuration,
// exactly as cmd/mint/mint.go's configFromEnv does: no config file, no
// viper, direct os.Getenv/os.LookupEnv parsing with defaults. Loading
// an optional .env file (godotenv.Load) is the entrypoint's job, not
// this package's — it only ever reads from the process environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BitcreditProtocol/crsatmint/mint/mlog"
)

type DBBackend string

const (
	BackendSqlite DBBackend = "sqlite"
	BackendMemory DBBackend = "memory"
)

type Config struct {
	Port      string
	DBPath    string
	DBBackend DBBackend

	SeedMnemonic string

	MintName        string
	MintDescription string

	MintingMaxAmount uint64
	MeltingMaxAmount uint64

	EnableAdminServer bool
	AdminPort         string

	OfferTTL       time.Duration
	QuoteRetention time.Duration
	IdempotentMint bool

	LogLevel mlog.Level
	LogFile  string
}

// FromEnv parses the mint's configuration from the process
// environment, applying the same defaults cmd/mint/mint.go's
// configFromEnv does for its own settings.
func FromEnv() (*Config, error) {
	mnemonic := os.Getenv("MINT_SEED_MNEMONIC")
	if mnemonic == "" {
		if path := os.Getenv("MINT_SEED_MNEMONIC_FILE"); path != "" {
			data, err := os.ReadFile(path)
			if err != nil {
				return nil, fmt.Errorf("reading MINT_SEED_MNEMONIC_FILE: %w", err)
			}
			mnemonic = strings.TrimSpace(string(data))
		}
	}
	if mnemonic == "" {
		return nil, fmt.Errorf("MINT_SEED_MNEMONIC or MINT_SEED_MNEMONIC_FILE must be set")
	}

	dbBackend := DBBackend(strings.ToLower(os.Getenv("MINT_DB_BACKEND")))
	switch dbBackend {
	case "":
		dbBackend = BackendSqlite
	case BackendSqlite, BackendMemory:
	default:
		return nil, fmt.Errorf("invalid MINT_DB_BACKEND: %s", dbBackend)
	}

	mintingMax, err := parseUint64Env("MINT_MINTING_MAX_AMOUNT", 0)
	if err != nil {
		return nil, err
	}
	meltingMax, err := parseUint64Env("MINT_MELTING_MAX_AMOUNT", 0)
	if err != nil {
		return nil, err
	}

	offerTTL, err := parseSecondsEnv("MINT_OFFER_TTL_SECONDS", 2*24*time.Hour)
	if err != nil {
		return nil, err
	}
	quoteRetention, err := parseSecondsEnv("MINT_QUOTE_RETENTION_SECONDS", 24*time.Hour)
	if err != nil {
		return nil, err
	}

	idempotentMint := true
	if v, ok := os.LookupEnv("MINT_IDEMPOTENT_MINT"); ok && v != "" {
		idempotentMint = strings.EqualFold(v, "true")
	}

	enableAdminServer := false
	if strings.EqualFold(os.Getenv("MINT_ENABLE_ADMIN_SERVER"), "true") {
		enableAdminServer = true
	}

	logLevel := mlog.Info
	switch strings.ToLower(os.Getenv("MINT_LOG_LEVEL")) {
	case "debug":
		logLevel = mlog.Debug
	case "disable":
		logLevel = mlog.Disable
	}

	return &Config{
		Port:              envOr("MINT_PORT", "3338"),
		DBPath:            os.Getenv("MINT_DB_PATH"),
		DBBackend:         dbBackend,
		SeedMnemonic:      mnemonic,
		MintName:          os.Getenv("MINT_NAME"),
		MintDescription:   os.Getenv("MINT_DESCRIPTION"),
		MintingMaxAmount:  mintingMax,
		MeltingMaxAmount:  meltingMax,
		EnableAdminServer: enableAdminServer,
		AdminPort:         envOr("MINT_ADMIN_PORT", "3339"),
		OfferTTL:          offerTTL,
		QuoteRetention:    quoteRetention,
		IdempotentMint:    idempotentMint,
		LogLevel:          logLevel,
		LogFile:           os.Getenv("MINT_LOG_FILE"),
	}, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func parseUint64Env(key string, fallback uint64) (uint64, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback, nil
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func parseSecondsEnv(key string, fallback time.Duration) (time.Duration, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback, nil
	}
	secs, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return time.Duration(secs) * time.Second, nil
}
