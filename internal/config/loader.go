package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads the TOML file at path over the defaults, loads .env if present
// and applies environment overrides. An empty path skips the file. The
// result is not validated.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}

	applyEnvOverrides(&cfg)
	return &cfg, nil
}

// applyEnvOverrides reads OVERUNDER_* variables. The unprefixed names of the
// earlier deployment are read first, so a prefixed variable wins.
func applyEnvOverrides(cfg *Config) {
	setStr(&cfg.Role, "ROLE")
	setStr(&cfg.Role, "OVERUNDER_ROLE")

	setStr(&cfg.Server.Addr, "OVERUNDER_SERVER_ADDR")
	setDuration(&cfg.Server.ReadTimeout, "OVERUNDER_SERVER_READ_TIMEOUT")
	setDuration(&cfg.Server.WriteTimeout, "OVERUNDER_SERVER_WRITE_TIMEOUT")
	setStringSlice(&cfg.Server.CORSOrigins, "OVERUNDER_SERVER_CORS_ORIGINS")

	setStr(&cfg.Solana.RPCURL, "SOLANA_RPC_URL")
	setStr(&cfg.Solana.RPCURL, "OVERUNDER_SOLANA_RPC_URL")
	setStr(&cfg.Solana.WSURL, "SOLANA_WS_URL")
	setStr(&cfg.Solana.WSURL, "OVERUNDER_SOLANA_WS_URL")
	setStr(&cfg.Solana.MasterKey, "OVERUNDER_SOLANA_MASTER_KEY")
	setInt64(&cfg.Solana.InitiateLamports, "SOLANA_INITIATE_LAMPORTS")
	setInt64(&cfg.Solana.InitiateLamports, "OVERUNDER_SOLANA_INITIATE_LAMPORTS")
	setStr(&cfg.Solana.Commitment, "OVERUNDER_SOLANA_COMMITMENT")
	setUint64(&cfg.Solana.CreateUnitPrice, "OVERUNDER_SOLANA_CREATE_UNIT_PRICE")
	setUint64(&cfg.Solana.SettleUnitPrice, "OVERUNDER_SOLANA_SETTLE_UNIT_PRICE")
	setUint64(&cfg.Solana.TransferUnitPrice, "OVERUNDER_SOLANA_TRANSFER_UNIT_PRICE")
	setDuration(&cfg.Solana.RPCTimeout, "OVERUNDER_SOLANA_RPC_TIMEOUT")
	setInt(&cfg.Solana.RPCMaxRetries, "OVERUNDER_SOLANA_RPC_MAX_RETRIES")
	setDuration(&cfg.Solana.RPCRetryDelay, "OVERUNDER_SOLANA_RPC_RETRY_DELAY")

	setStr(&cfg.Oracle.JupiterHost, "JUPITER_HOST")
	setStr(&cfg.Oracle.JupiterHost, "OVERUNDER_ORACLE_JUPITER_HOST")
	setStr(&cfg.Oracle.CoinGeckoURL, "OVERUNDER_ORACLE_COINGECKO_URL")
	setDuration(&cfg.Oracle.USDCacheTTL, "OVERUNDER_ORACLE_USD_CACHE_TTL")

	setDuration(&cfg.Game.Duration, "OVERUNDER_GAME_DURATION")
	setInt64(&cfg.Game.StartingPrice, "OVERUNDER_GAME_STARTING_PRICE")
	setInt64(&cfg.Game.NetworkFee, "OVERUNDER_GAME_NETWORK_FEE")
	setInt64(&cfg.Game.FeeBps, "OVERUNDER_GAME_FEE_BPS")
	setFloat64(&cfg.Game.TaxCeiling, "OVERUNDER_GAME_TAX_CEILING")

	setInt(&cfg.Engine.MaxAttempts, "OVERUNDER_ENGINE_MAX_ATTEMPTS")
	setDuration(&cfg.Engine.InitialBackoff, "OVERUNDER_ENGINE_INITIAL_BACKOFF")
	setDuration(&cfg.Engine.MaxBackoff, "OVERUNDER_ENGINE_MAX_BACKOFF")

	setDuration(&cfg.Scheduler.Tick, "OVERUNDER_SCHEDULER_TICK")
	setDuration(&cfg.Scheduler.ReleaseDelay, "OVERUNDER_SCHEDULER_RELEASE_DELAY")

	setDuration(&cfg.Watcher.PollInterval, "OVERUNDER_WATCHER_POLL_INTERVAL")
	setInt(&cfg.Watcher.SignaturePageLimit, "OVERUNDER_WATCHER_SIGNATURE_PAGE_LIMIT")

	setStr(&cfg.Storage.PostgresDSN, "DATABASE_URL")
	setStr(&cfg.Storage.PostgresDSN, "OVERUNDER_STORAGE_POSTGRES_DSN")
	setBool(&cfg.Storage.RunMigrations, "OVERUNDER_STORAGE_RUN_MIGRATIONS")

	setStr(&cfg.Redis.URL, "REDIS_URL")
	setStr(&cfg.Redis.URL, "OVERUNDER_REDIS_URL")
	setStr(&cfg.Redis.Prefix, "OVERUNDER_REDIS_PREFIX")
	setDuration(&cfg.Redis.LockTTL, "OVERUNDER_REDIS_LOCK_TTL")

	setStr(&cfg.ClickHouse.DSN, "OVERUNDER_CLICKHOUSE_DSN")

	setStr(&cfg.Archive.Endpoint, "OVERUNDER_ARCHIVE_ENDPOINT")
	setStr(&cfg.Archive.Region, "OVERUNDER_ARCHIVE_REGION")
	setStr(&cfg.Archive.Bucket, "OVERUNDER_ARCHIVE_BUCKET")
	setStr(&cfg.Archive.AccessKey, "OVERUNDER_ARCHIVE_ACCESS_KEY")
	setStr(&cfg.Archive.SecretKey, "OVERUNDER_ARCHIVE_SECRET_KEY")
	setBool(&cfg.Archive.UseSSL, "OVERUNDER_ARCHIVE_USE_SSL")
	setBool(&cfg.Archive.ForcePathStyle, "OVERUNDER_ARCHIVE_FORCE_PATH_STYLE")
	setStr(&cfg.Archive.Prefix, "OVERUNDER_ARCHIVE_PREFIX")

	setStr(&cfg.Secrets.Passphrase, "OVERUNDER_SECRETS_PASSPHRASE")
	setInt(&cfg.Secrets.Iterations, "OVERUNDER_SECRETS_ITERATIONS")
}

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setUint64(dst *uint64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
