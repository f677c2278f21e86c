package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	cfg := Defaults()
	cfg.Solana.MasterKey = "master"
	cfg.Secrets.Passphrase = "passphrase"
	return cfg
}

func TestDefaults_Valid(t *testing.T) {
	cfg := validConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, RoleAll, cfg.Role)
	assert.Equal(t, 60*time.Minute, cfg.Game.Duration.Duration)
	assert.Equal(t, int64(1_000_000), cfg.Game.StartingPrice)
	assert.Equal(t, int64(5000), cfg.Game.NetworkFee)
	assert.Equal(t, int64(100), cfg.Game.FeeBps)
	assert.Equal(t, 0.99, cfg.Game.TaxCeiling)
	assert.Equal(t, int64(100_000_000), cfg.Solana.InitiateLamports)
	assert.Equal(t, 5, cfg.Engine.MaxAttempts)
}

func TestValidate_CollectsEveryProblem(t *testing.T) {
	cfg := Defaults()
	cfg.Role = "batch"
	cfg.Solana.RPCURL = "ftp://example"
	cfg.Game.FeeBps = 10_000
	cfg.Engine.MaxAttempts = 0

	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{
		`unknown role "batch"`,
		"rpc_url must use http or https",
		"master_key is required",
		"fee_bps",
		"max_attempts",
		"passphrase is required",
	} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestValidate_APIRoleSkipsWebSocket(t *testing.T) {
	cfg := validConfig()
	cfg.Role = RoleAPI
	cfg.Solana.WSURL = ""
	require.NoError(t, cfg.Validate())
	assert.True(t, cfg.RunsAPI())
	assert.False(t, cfg.RunsWorkers())

	cfg.Role = RoleWorker
	assert.ErrorContains(t, cfg.Validate(), "ws_url must not be empty")
}

func TestLoad_FileThenEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	path := filepath.Join(dir, "overunder.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
role = "worker"

[game]
duration = "30m"
fee_bps = 50

[solana]
rpc_url = "http://file-rpc"
`), 0o600))

	t.Setenv("SOLANA_RPC_URL", "http://legacy-rpc")
	t.Setenv("DATABASE_URL", "postgres://u:p@db/overunder")
	t.Setenv("OVERUNDER_GAME_FEE_BPS", "75")
	t.Setenv("OVERUNDER_SERVER_CORS_ORIGINS", " https://a.example , ,https://b.example")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, RoleWorker, cfg.Role)
	assert.Equal(t, 30*time.Minute, cfg.Game.Duration.Duration)
	assert.Equal(t, int64(75), cfg.Game.FeeBps)
	assert.Equal(t, "http://legacy-rpc", cfg.Solana.RPCURL)
	assert.Equal(t, "postgres://u:p@db/overunder", cfg.Storage.PostgresDSN)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.CORSOrigins)
	assert.Equal(t, int64(5000), cfg.Game.NetworkFee, "untouched values keep defaults")
}

func TestLoad_PrefixedVariableWins(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("ROLE", "api")
	t.Setenv("OVERUNDER_ROLE", "worker")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, RoleWorker, cfg.Role)
}

func TestLoad_DotEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("OVERUNDER_SECRETS_PASSPHRASE=from-dotenv\n"), 0o600))
	t.Setenv("OVERUNDER_SECRETS_PASSPHRASE", "")
	os.Unsetenv("OVERUNDER_SECRETS_PASSPHRASE")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "from-dotenv", cfg.Secrets.Passphrase)
}

func TestLoad_BadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.toml")
	require.NoError(t, os.WriteFile(path, []byte("[game\nduration = "), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestRedacted(t *testing.T) {
	cfg := validConfig()
	cfg.Storage.PostgresDSN = "postgres://user:hunter2@db:5432/overunder"
	cfg.Redis.URL = "redis://localhost:6379/0"
	cfg.ClickHouse.DSN = "not a url"
	cfg.Archive.SecretKey = "s3-secret"

	r := cfg.Redacted()

	assert.Equal(t, "***", r.Solana.MasterKey)
	assert.Equal(t, "***", r.Secrets.Passphrase)
	assert.Equal(t, "***", r.Archive.SecretKey)
	assert.Empty(t, r.Archive.AccessKey)
	assert.Equal(t, "postgres://user:***@db:5432/overunder", r.Storage.PostgresDSN)
	assert.Equal(t, "redis://localhost:6379/0", r.Redis.URL)
	assert.Equal(t, "***", r.ClickHouse.DSN)

	assert.Equal(t, "master", cfg.Solana.MasterKey, "original untouched")
}
