// Package config defines the service configuration and its validation.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Roles select which components a process runs.
const (
	RoleAPI    = "api"
	RoleWorker = "worker"
	RoleAll    = "all"
)

// Config is the root configuration. Fields come from a TOML file and are
// then overridden by environment variables.
type Config struct {
	Role       string           `toml:"role"`
	Server     ServerConfig     `toml:"server"`
	Solana     SolanaConfig     `toml:"solana"`
	Oracle     OracleConfig     `toml:"oracle"`
	Game       GameConfig       `toml:"game"`
	Engine     EngineConfig     `toml:"engine"`
	Scheduler  SchedulerConfig  `toml:"scheduler"`
	Watcher    WatcherConfig    `toml:"watcher"`
	Storage    StorageConfig    `toml:"storage"`
	Redis      RedisConfig      `toml:"redis"`
	ClickHouse ClickHouseConfig `toml:"clickhouse"`
	Archive    ArchiveConfig    `toml:"archive"`
	Secrets    SecretsConfig    `toml:"secrets"`
}

// ServerConfig holds the HTTP API settings.
type ServerConfig struct {
	Addr         string   `toml:"addr"`
	ReadTimeout  duration `toml:"read_timeout"`
	WriteTimeout duration `toml:"write_timeout"`
	CORSOrigins  []string `toml:"cors_origins"`
}

// SolanaConfig holds the cluster endpoints and the master wallet.
type SolanaConfig struct {
	RPCURL string `toml:"rpc_url"`
	WSURL  string `toml:"ws_url"`

	// MasterKey is the base58 secret key of the fee payer and mint authority.
	MasterKey        string `toml:"master_key"`
	InitiateLamports int64  `toml:"initiate_lamports"`
	Commitment       string `toml:"commitment"`

	CreateUnitPrice   uint64 `toml:"create_unit_price"`
	SettleUnitPrice   uint64 `toml:"settle_unit_price"`
	TransferUnitPrice uint64 `toml:"transfer_unit_price"`

	RPCTimeout    duration `toml:"rpc_timeout"`
	RPCMaxRetries int      `toml:"rpc_max_retries"`
	RPCRetryDelay duration `toml:"rpc_retry_delay"`
}

// OracleConfig holds the price sources.
type OracleConfig struct {
	JupiterHost  string   `toml:"jupiter_host"`
	CoinGeckoURL string   `toml:"coingecko_url"`
	USDCacheTTL  duration `toml:"usd_cache_ttl"`
}

// GameConfig holds the game economics.
type GameConfig struct {
	Duration      duration `toml:"duration"`
	StartingPrice int64    `toml:"starting_price"`
	NetworkFee    int64    `toml:"network_fee"`
	FeeBps        int64    `toml:"fee_bps"`
	TaxCeiling    float64  `toml:"tax_ceiling"`
}

// EngineConfig holds the retry policy for ledger calls.
type EngineConfig struct {
	MaxAttempts    int      `toml:"max_attempts"`
	InitialBackoff duration `toml:"initial_backoff"`
	MaxBackoff     duration `toml:"max_backoff"`
}

type SchedulerConfig struct {
	Tick         duration `toml:"tick"`
	ReleaseDelay duration `toml:"release_delay"`
}

type WatcherConfig struct {
	PollInterval       duration `toml:"poll_interval"`
	SignaturePageLimit int      `toml:"signature_page_limit"`
}

// StorageConfig selects the record store. An empty PostgresDSN keeps
// everything in memory.
type StorageConfig struct {
	PostgresDSN   string `toml:"postgres_dsn"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig enables cross-process locks and the shared price cache.
type RedisConfig struct {
	URL     string   `toml:"url"`
	Prefix  string   `toml:"prefix"`
	LockTTL duration `toml:"lock_ttl"`
}

// ClickHouseConfig enables the analytics event sink.
type ClickHouseConfig struct {
	DSN string `toml:"dsn"`
}

// ArchiveConfig enables settlement snapshots in S3.
type ArchiveConfig struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
	Prefix         string `toml:"prefix"`
}

// Enabled reports whether snapshots are archived.
func (a ArchiveConfig) Enabled() bool {
	return a.Bucket != ""
}

// SecretsConfig holds the key that seals game keypairs.
type SecretsConfig struct {
	Passphrase string `toml:"passphrase"`
	Iterations int    `toml:"iterations"`
}

type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns the configuration used when nothing overrides it.
func Defaults() Config {
	return Config{
		Role: RoleAll,
		Server: ServerConfig{
			Addr:         ":8080",
			ReadTimeout:  duration{15 * time.Second},
			WriteTimeout: duration{60 * time.Second},
			CORSOrigins:  []string{"*"},
		},
		Solana: SolanaConfig{
			RPCURL:            "https://api.devnet.solana.com",
			WSURL:             "wss://api.devnet.solana.com",
			InitiateLamports:  100_000_000,
			Commitment:        "confirmed",
			CreateUnitPrice:   1_000_000,
			SettleUnitPrice:   1_000_000,
			TransferUnitPrice: 500_000,
			RPCTimeout:        duration{30 * time.Second},
			RPCMaxRetries:     3,
			RPCRetryDelay:     duration{time.Second},
		},
		Oracle: OracleConfig{
			JupiterHost:  "https://quote-api.jup.ag",
			CoinGeckoURL: "https://api.coingecko.com/api/v3/simple/price?ids=solana&vs_currencies=usd",
			USDCacheTTL:  duration{30 * time.Second},
		},
		Game: GameConfig{
			Duration:      duration{60 * time.Minute},
			StartingPrice: 1_000_000,
			NetworkFee:    5000,
			FeeBps:        100,
			TaxCeiling:    0.99,
		},
		Engine: EngineConfig{
			MaxAttempts:    5,
			InitialBackoff: duration{100 * time.Millisecond},
			MaxBackoff:     duration{2 * time.Second},
		},
		Scheduler: SchedulerConfig{
			Tick:         duration{time.Second},
			ReleaseDelay: duration{100 * time.Millisecond},
		},
		Watcher: WatcherConfig{
			PollInterval:       duration{time.Second},
			SignaturePageLimit: 1000,
		},
		Storage: StorageConfig{
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Prefix:  "overunder:",
			LockTTL: duration{2 * time.Minute},
		},
		Archive: ArchiveConfig{
			Region:         "us-east-1",
			ForcePathStyle: true,
			Prefix:         "overunder/",
		},
		Secrets: SecretsConfig{
			Iterations: 210_000,
		},
	}
}

var validCommitments = map[string]bool{
	"processed": true,
	"confirmed": true,
	"finalized": true,
}

// RunsAPI reports whether the HTTP API is part of this process.
func (c *Config) RunsAPI() bool {
	return c.Role == RoleAPI || c.Role == RoleAll
}

// RunsWorkers reports whether watchers and the scheduler are part of this process.
func (c *Config) RunsWorkers() bool {
	return c.Role == RoleWorker || c.Role == RoleAll
}

// Validate checks the configuration and reports every problem at once.
func (c *Config) Validate() error {
	var errs []string

	switch c.Role {
	case RoleAPI, RoleWorker, RoleAll:
	default:
		errs = append(errs, fmt.Sprintf("unknown role %q (valid: api, worker, all)", c.Role))
	}

	if c.RunsAPI() && c.Server.Addr == "" {
		errs = append(errs, "server: addr must not be empty")
	}

	if err := checkURL(c.Solana.RPCURL, "http", "https"); err != nil {
		errs = append(errs, "solana: rpc_url "+err.Error())
	}
	if c.RunsWorkers() {
		if err := checkURL(c.Solana.WSURL, "ws", "wss"); err != nil {
			errs = append(errs, "solana: ws_url "+err.Error())
		}
	}
	if c.Solana.MasterKey == "" {
		errs = append(errs, "solana: master_key is required")
	}
	if c.Solana.InitiateLamports <= 0 {
		errs = append(errs, "solana: initiate_lamports must be positive")
	}
	if !validCommitments[c.Solana.Commitment] {
		errs = append(errs, fmt.Sprintf("solana: unknown commitment %q", c.Solana.Commitment))
	}

	if c.Oracle.JupiterHost == "" {
		errs = append(errs, "oracle: jupiter_host must not be empty")
	}

	if c.Game.Duration.Duration <= 0 {
		errs = append(errs, "game: duration must be positive")
	}
	if c.Game.StartingPrice <= 0 {
		errs = append(errs, "game: starting_price must be positive")
	}
	if c.Game.NetworkFee < 0 {
		errs = append(errs, "game: network_fee must not be negative")
	}
	if c.Game.FeeBps < 0 || c.Game.FeeBps >= 10_000 {
		errs = append(errs, "game: fee_bps must be in [0, 10000)")
	}
	if c.Game.TaxCeiling < 0 || c.Game.TaxCeiling > 1 {
		errs = append(errs, "game: tax_ceiling must be in [0, 1]")
	}

	if c.Engine.MaxAttempts < 1 {
		errs = append(errs, "engine: max_attempts must be at least 1")
	}
	if c.Engine.MaxBackoff.Duration < c.Engine.InitialBackoff.Duration {
		errs = append(errs, "engine: max_backoff must not be below initial_backoff")
	}

	if c.Scheduler.Tick.Duration <= 0 {
		errs = append(errs, "scheduler: tick must be positive")
	}
	if c.Watcher.PollInterval.Duration <= 0 {
		errs = append(errs, "watcher: poll_interval must be positive")
	}

	if c.Redis.URL != "" && c.Redis.LockTTL.Duration <= 0 {
		errs = append(errs, "redis: lock_ttl must be positive")
	}

	if c.Archive.Enabled() && c.Archive.Region == "" {
		errs = append(errs, "archive: region is required when bucket is set")
	}

	if c.Secrets.Passphrase == "" {
		errs = append(errs, "secrets: passphrase is required")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func checkURL(raw string, schemes ...string) error {
	if raw == "" {
		return fmt.Errorf("must not be empty")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("is invalid: %v", err)
	}
	for _, s := range schemes {
		if u.Scheme == s {
			return nil
		}
	}
	return fmt.Errorf("must use %s", strings.Join(schemes, " or "))
}
