package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(body), 0o600))
	return dir
}

func TestLoadConfig_FileAndDefaults(t *testing.T) {
	dir := writeConfig(t, `
ledger:
  owner: owner-1
  platform: platform-1
  fee-rate-bps: 300
database:
  driver: sqlite
  sqlite:
    path: /tmp/ledger.db
transfer:
  bank:
    accounts:
      - principal: alice
        balance: 1000
`)

	cfg, err := LoadConfig(dir)
	require.NoError(t, err)

	assert.Equal(t, "owner-1", cfg.Ledger.Owner)
	assert.Equal(t, 300, cfg.Ledger.FeeRateBps)
	assert.Equal(t, "full", cfg.Ledger.RefundPolicy)
	assert.Equal(t, DriverSQLite, cfg.Database.Driver)
	assert.Equal(t, "/tmp/ledger.db", cfg.Database.SQLite.Path)
	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, 64, cfg.Ledger.Limits.Reference)
	assert.Equal(t, []Account{{Principal: "alice", Balance: 1000}}, cfg.Transfer.Bank.Accounts)
}

func TestLoadConfig_EnvOverride(t *testing.T) {
	dir := writeConfig(t, `
ledger:
  owner: owner-1
  platform: platform-1
`)
	t.Setenv("LEDGER_FEE_RATE_BPS", "125")
	t.Setenv("DATABASE_DRIVER", "bolt")
	t.Setenv("OUTBOX_MAX_PUBLISH_ATTEMPTS", "7")

	cfg, err := LoadConfig(dir)
	require.NoError(t, err)

	assert.Equal(t, 125, cfg.Ledger.FeeRateBps)
	assert.Equal(t, DriverBolt, cfg.Database.Driver)
	assert.Equal(t, 7, cfg.Outbox.MaxPublishAttempts)
}

func TestLoadConfig_MissingFileUsesEnv(t *testing.T) {
	t.Setenv("LEDGER_OWNER", "owner-env")
	t.Setenv("LEDGER_PLATFORM", "platform-env")

	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "owner-env", cfg.Ledger.Owner)
	assert.Equal(t, DriverMemory, cfg.Database.Driver)
}

func TestLoadConfig_Invalid(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		errMsg string
	}{
		{
			name:   "missing owner",
			body:   "ledger:\n  platform: p\n",
			errMsg: "ledger.owner is required",
		},
		{
			name:   "fee rate above ceiling",
			body:   "ledger:\n  owner: o\n  platform: p\n  fee-rate-bps: 1001\n",
			errMsg: "fee-rate-bps",
		},
		{
			name:   "unknown driver",
			body:   "ledger:\n  owner: o\n  platform: p\ndatabase:\n  driver: mongo\n",
			errMsg: "unknown database driver",
		},
		{
			name:   "dynamodb lease shorter than transfers",
			body:   "ledger:\n  owner: o\n  platform: p\ndatabase:\n  driver: dynamodb\n  dynamodb:\n    lock-lease-ms: 100\ntransfer:\n  agent:\n    timeout-ms: 10000\n",
			errMsg: "lock-lease-ms (100) must exceed 4 x transfer.agent.timeout-ms (10000)",
		},
		{
			name:   "dynamodb lease equal to transfer budget",
			body:   "ledger:\n  owner: o\n  platform: p\ndatabase:\n  driver: dynamodb\n  dynamodb:\n    lock-lease-ms: 40000\n",
			errMsg: "must exceed",
		},
		{
			name:   "agent without timeout",
			body:   "ledger:\n  owner: o\n  platform: p\ntransfer:\n  driver: agent\n  agent:\n    timeout-ms: 0\n",
			errMsg: "transfer.agent.timeout-ms must be positive",
		},
		{
			name:   "unknown refund policy",
			body:   "ledger:\n  owner: o\n  platform: p\n  refund-policy: half\n",
			errMsg: "unknown refund policy",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tt.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestLoadConfig_DynamoDBLeaseFromEnv(t *testing.T) {
	t.Setenv("LEDGER_OWNER", "o")
	t.Setenv("LEDGER_PLATFORM", "p")
	t.Setenv("DATABASE_DRIVER", "dynamodb")
	t.Setenv("TRANSFER_AGENT_TIMEOUT_MS", "10000")

	t.Setenv("DATABASE_DYNAMODB_LOCK_LEASE_MS", "100")
	_, err := LoadConfig(t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "lock-lease-ms")

	t.Setenv("DATABASE_DYNAMODB_LOCK_LEASE_MS", "40001")
	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, 40001, cfg.Database.DynamoDB.LockLeaseMs)
}

func TestLoadConfig_DynamoDBDefaultsAreValid(t *testing.T) {
	t.Setenv("LEDGER_OWNER", "o")
	t.Setenv("LEDGER_PLATFORM", "p")
	t.Setenv("DATABASE_DRIVER", "dynamodb")
	t.Setenv("TRANSFER_DRIVER", "agent")

	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)
	assert.Greater(t, cfg.Database.DynamoDB.LockLeaseMs, LeaseTransferCalls*cfg.Transfer.Agent.TimeoutMs)
}
