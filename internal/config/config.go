package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/layer-3/keyward/internal/aead"
	"github.com/shopspring/decimal"
)

// Chain describes the ledger the service talks to
type Chain struct {
	Name    string
	ChainID int64
	RPCURL  string
}

var (
	ChainMainnet = Chain{Name: "abstract", ChainID: 2741, RPCURL: "https://api.mainnet.abs.xyz"}
	ChainTestnet = Chain{Name: "abstract-testnet", ChainID: 11124, RPCURL: "https://api.testnet.abs.xyz"}
)

const (
	defaultValidatorAddress = "0x34ca1501FAE231cC2ebc995CE013Dbe882d7d081"
	defaultNFTAddress       = "0xC4822AbB9F05646A9Ce44EFa6dDcda0Bf45595AA"
	devJWTSecret            = "placeholder_jwt_secret"
)

// Config holds process configuration read from the environment
type Config struct {
	Port         string
	Env          string
	LogLevel     string
	ClientOrigin string

	JWTSecret string
	TokenTTL  time.Duration

	DatabaseURL string
	RedisURL    string

	Chain            Chain
	ValidatorAddress common.Address
	NFTAddress       common.Address

	SIWEDomain    string
	SIWEStatement string
	SIWEURI       string
	SIWEChainID   int64
	NonceExpiry   time.Duration

	EncryptionKey []byte

	SessionTTL      time.Duration
	SessionFeeLimit decimal.Decimal

	CacheTTL           time.Duration
	CacheSweepInterval time.Duration
	ShutdownTimeout    time.Duration
}

// IsProd reports whether the service runs in production mode
func (c *Config) IsProd() bool {
	return c.Env == "production"
}

// Load reads the configuration and validates it
func Load() (*Config, error) {
	cfg := &Config{
		Port:         EnvString("PORT", "3000"),
		Env:          EnvString("APP_ENV", "development"),
		LogLevel:     EnvString("LOG_LEVEL", "info"),
		ClientOrigin: EnvString("CLIENT_ORIGIN", "http://localhost:3001"),

		JWTSecret: EnvString("JWT_SECRET", devJWTSecret),
		TokenTTL:  EnvDuration("TOKEN_TTL", 24*time.Hour),

		DatabaseURL: EnvString("DATABASE_URL", "data/keyward.db"),
		RedisURL:    EnvString("REDIS_URL", ""),

		SIWEDomain:    EnvString("SIWE_DOMAIN", "yourapp.io"),
		SIWEStatement: EnvString("SIWE_STATEMENT", "Sign in with Ethereum"),
		SIWEURI:       EnvString("SIWE_URI", "https://yourapp.io"),
		SIWEChainID:   EnvInt64("SIWE_CHAIN_ID", 1),
		NonceExpiry:   EnvDuration("NONCE_EXPIRY", 5*time.Minute),

		EncryptionKey: []byte(EnvString("DB_ENCRYPTION_KEY", "")),

		SessionTTL: EnvDuration("SESSION_TTL", 24*time.Hour),

		CacheTTL:           EnvDuration("CACHE_TTL", 30*time.Minute),
		CacheSweepInterval: EnvDuration("CACHE_SWEEP_INTERVAL", time.Minute),
		ShutdownTimeout:    EnvDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
	}

	switch strings.ToLower(EnvString("CHAIN", "testnet")) {
	case "mainnet":
		cfg.Chain = ChainMainnet
	case "testnet":
		cfg.Chain = ChainTestnet
	default:
		return nil, fmt.Errorf("invalid CHAIN: want mainnet or testnet")
	}
	cfg.Chain.RPCURL = EnvString("RPC_URL", cfg.Chain.RPCURL)

	var err error
	if cfg.SessionFeeLimit, err = decimal.NewFromString(EnvString("SESSION_FEE_LIMIT_ETH", "1")); err != nil {
		return nil, fmt.Errorf("invalid SESSION_FEE_LIMIT_ETH: %w", err)
	}
	if cfg.ValidatorAddress, err = envAddress("SESSION_VALIDATOR_ADDRESS", defaultValidatorAddress); err != nil {
		return nil, err
	}
	if cfg.NFTAddress, err = envAddress("NFT_CONTRACT_ADDRESS", defaultNFTAddress); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks settings that must be right before anything starts
func (c *Config) Validate() error {
	if len(c.EncryptionKey) != aead.KeySize {
		return fmt.Errorf("DB_ENCRYPTION_KEY must be exactly %d bytes, got %d", aead.KeySize, len(c.EncryptionKey))
	}
	if c.IsProd() && c.JWTSecret == devJWTSecret {
		return errors.New("JWT_SECRET must be set in production")
	}
	if !c.SessionFeeLimit.IsPositive() {
		return errors.New("SESSION_FEE_LIMIT_ETH must be positive")
	}
	if c.CacheSweepInterval > c.CacheTTL {
		return errors.New("CACHE_SWEEP_INTERVAL must not exceed CACHE_TTL")
	}
	return nil
}

func envAddress(key, def string) (common.Address, error) {
	v := EnvString(key, def)
	if !common.IsHexAddress(v) {
		return common.Address{}, fmt.Errorf("%s is not a valid address", key)
	}
	return common.HexToAddress(v), nil
}
