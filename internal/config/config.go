// Package config loads registrard settings from the environment with an
// optional TOML file layered on top.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v6"

	"blindbid.org/internal/auction"
	"blindbid.org/internal/chain"
)

const (
	envPrefix = "BLINDBID_"

	// EngineLabel seeds the default engine identity.
	EngineLabel = "registrar.auction-engine"
)

type Config struct {
	ConfigFile string `env:"CONFIG_FILE" toml:"-"`

	App struct {
		LogLevel string `env:"LOG_LEVEL" envDefault:"info" toml:"log_level"`
	} `toml:"app"`

	HTTP struct {
		Addr          string `env:"HTTP_ADDR" envDefault:":8080" toml:"addr"`
		MaxBodyBytes  int64  `env:"HTTP_MAX_BODY_BYTES" envDefault:"1048576" toml:"max_body_bytes"`
		RateBurst     int    `env:"HTTP_RATE_BURST" envDefault:"50" toml:"rate_burst"`
		RatePerSecond int    `env:"HTTP_RATE_PER_SECOND" envDefault:"25" toml:"rate_per_second"`
	} `toml:"http"`

	GRPC struct {
		Addr string `env:"GRPC_ADDR" envDefault:":9090" toml:"addr"`
	} `toml:"grpc"`

	Postgres struct {
		DSN     string `env:"PG_DSN" toml:"dsn"`
		Migrate bool   `env:"PG_MIGRATE" toml:"migrate"`
	} `toml:"postgres"`

	Auth struct {
		JWTSecret string        `env:"JWT_SECRET" toml:"jwt_secret"`
		DevTokens bool          `env:"DEV_TOKENS" toml:"dev_tokens"`
		TokenTTL  time.Duration `env:"TOKEN_TTL" envDefault:"1h" toml:"token_ttl"`
	} `toml:"auth"`

	Chain struct {
		StartHeight   uint64        `env:"START_HEIGHT" toml:"start_height"`
		BlockInterval time.Duration `env:"BLOCK_INTERVAL" envDefault:"2s" toml:"block_interval"`
	} `toml:"chain"`

	Auction struct {
		Admin        string           `env:"ADMIN" toml:"admin"`
		Engine       string           `env:"ENGINE_IDENTITY" toml:"engine"`
		CommitLength chain.BlockCount `env:"COMMIT_LENGTH" envDefault:"3" toml:"commit_length"`
		RevealLength chain.BlockCount `env:"REVEAL_LENGTH" envDefault:"3" toml:"reveal_length"`
		ClaimLength  chain.BlockCount `env:"CLAIM_LENGTH" envDefault:"3" toml:"claim_length"`
		ExpiryLength chain.BlockCount `env:"EXPIRY_LENGTH" envDefault:"30" toml:"expiry_length"`
	} `toml:"auction"`

	Stream struct {
		Enabled bool `env:"STREAM_ENABLED" envDefault:"true" toml:"enabled"`
	} `toml:"stream"`
}

// Load reads BLINDBID_* variables, then overlays the TOML file named by
// BLINDBID_CONFIG_FILE when set, and validates the result.
func Load() (Config, error) {
	return load(env.Options{Prefix: envPrefix})
}

func load(opts env.Options) (Config, error) {
	var c Config
	if err := env.Parse(&c, opts); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if c.ConfigFile != "" {
		if _, err := toml.DecodeFile(c.ConfigFile, &c); err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", c.ConfigFile, err)
		}
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func (c Config) Validate() error {
	var errs []error
	if _, err := c.AdminIdentity(); err != nil {
		errs = append(errs, fmt.Errorf("auction.admin: %w", err))
	}
	if _, err := c.EngineIdentity(); err != nil {
		errs = append(errs, fmt.Errorf("auction.engine: %w", err))
	}
	if err := c.AuctionConfig().Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.Auction.ExpiryLength == 0 {
		errs = append(errs, errors.New("auction.expiry_length must be > 0"))
	}
	if c.Chain.BlockInterval <= 0 {
		errs = append(errs, errors.New("chain.block_interval must be > 0"))
	}
	return errors.Join(errs...)
}

func (c Config) AdminIdentity() (chain.Identity, error) {
	return chain.ParseIdentity(c.Auction.Admin)
}

// EngineIdentity returns the configured engine identity, or one derived from
// EngineLabel when unset.
func (c Config) EngineIdentity() (chain.Identity, error) {
	if c.Auction.Engine == "" {
		return chain.DeriveIdentity(EngineLabel), nil
	}
	return chain.ParseIdentity(c.Auction.Engine)
}

func (c Config) AuctionConfig() auction.Config {
	return auction.Config{
		CommitLength: c.Auction.CommitLength,
		RevealLength: c.Auction.RevealLength,
		ClaimLength:  c.Auction.ClaimLength,
	}
}
