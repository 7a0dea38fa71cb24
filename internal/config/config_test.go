package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfig_FileAndDefaults(t *testing.T) {
	path := writeConfig(t, `
jwt:
  secret: s3cret
database:
  host: db.internal
  replica:
    host: replica.internal
invitation:
  accept_url: https://portal.example/accept
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "s3cret", cfg.JWT.Secret)
	assert.Equal(t, 72*time.Hour, cfg.Invitation.TTL)
	assert.Equal(t, "https://portal.example/accept", cfg.Invitation.AcceptURL)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 50, cfg.Outbox.BatchSize)
	assert.Equal(t, 5*time.Minute, cfg.Outbox.ClaimLease)

	broker := cfg.Redis.ToBrokerConfig()
	assert.Equal(t, time.Minute, broker.ClaimIdle)
	assert.EqualValues(t, 5, broker.MaxDeliveries)

	primary := cfg.Database.ToPrimary()
	assert.Equal(t, "db.internal", primary.Host)
	replica := cfg.Database.ToReplica()
	require.NotNil(t, replica)
	assert.Equal(t, "replica.internal", replica.Host)
	assert.Equal(t, primary.Name, replica.Name)
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	path := writeConfig(t, "jwt:\n  secret: from-file\n")
	t.Setenv("JWT_SECRET", "from-env")
	t.Setenv("INVITATION_TTL", "24h")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.JWT.Secret)
	assert.Equal(t, 24*time.Hour, cfg.Invitation.TTL)
	assert.Nil(t, cfg.Database.ToReplica())
}

func TestLoadConfig_RejectsInvalidTTL(t *testing.T) {
	path := writeConfig(t, "invitation:\n  ttl: 0s\n")
	_, err := LoadConfig(path)
	assert.ErrorContains(t, err, "invitation.ttl")
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig("/nonexistent/config.yml")
	assert.Error(t, err)
}

func TestToWorkerConfig(t *testing.T) {
	c := OutboxConfig{BatchSize: 10, PollInterval: time.Second, RetryAttempts: 2, RetryDelay: time.Minute, MaxRetries: 4, ClaimLease: 2 * time.Minute}
	w := c.ToWorkerConfig()
	assert.Equal(t, 10, w.BatchSize)
	assert.Equal(t, 4, w.MaxRetries)
	assert.Equal(t, 2*time.Minute, w.ClaimLease)
}
