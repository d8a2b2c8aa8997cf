package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9090
  host: "0.0.0.0"
  host_name: "https://morpheus.test"
  click_host_name: "https://clk.test"

postgres:
  dsn: "postgres://morpheus:pw@localhost:5432/morpheus?sslmode=disable"
  max_open_conns: 25
  max_idle_conns: 5

redis:
  addr: "localhost:6379"
  db: 2

auth:
  auth_key: "admin-secret"
  user_auth_key: "user-secret"
  webhook_auth_key: "webhook-secret"

mandrill:
  key: "md-key"
  timeout_seconds: 45

messagebird:
  key: "mb-key"

send:
  us_send_number: "+12025550123"
  tc_registered_originator: "Morpheus"
  test_output: "/tmp/morpheus-test"

worker:
  concurrency: 10
  update_aggregation_view: true
  delete_old_messages: true
  retention_days: 180
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "https://morpheus.test", cfg.Server.HostName)
	assert.Equal(t, "https://clk.test", cfg.Server.ClickHostName)

	assert.Equal(t, 25, cfg.Postgres.MaxOpenConns)
	assert.Equal(t, 2, cfg.Redis.DB)

	assert.Equal(t, "admin-secret", cfg.Auth.AuthKey)
	assert.Equal(t, "user-secret", cfg.Auth.UserAuthKey)
	assert.Equal(t, "webhook-secret", cfg.Auth.WebhookAuthKey)

	assert.Equal(t, "md-key", cfg.Mandrill.Key)
	assert.Equal(t, 45, cfg.Mandrill.TimeoutSeconds)

	assert.Equal(t, "+12025550123", cfg.Send.USSendNumber)
	assert.Equal(t, "/tmp/morpheus-test", cfg.Send.TestOutput)

	assert.Equal(t, 10, cfg.Worker.Concurrency)
	assert.True(t, cfg.Worker.UpdateAggregationView)
	assert.Equal(t, 180, cfg.Worker.RetentionDays)
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "{}"))
	require.NoError(t, err)

	assert.Equal(t, 8000, cfg.Server.Port)
	assert.Equal(t, "localhost", cfg.Server.Host)
	assert.NotEmpty(t, cfg.Server.HostName)
	assert.NotEmpty(t, cfg.Server.ClickHostName)
	assert.NotZero(t, cfg.Worker.RetentionDays)
	assert.NotZero(t, cfg.Worker.AggregationDays)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoadFromEnvOverrides(t *testing.T) {
	path := writeConfig(t, `
postgres:
  dsn: "postgres://file-dsn"
auth:
  auth_key: "file-key"
`)

	t.Setenv("PG_DSN", "postgres://env-dsn")
	t.Setenv("AUTH_KEY", "env-key")

	cfg, err := LoadFromEnv(path)
	require.NoError(t, err)

	assert.Equal(t, "postgres://env-dsn", cfg.Postgres.DSN)
	assert.Equal(t, "env-key", cfg.Auth.AuthKey)
}

func TestTimeoutHelpers(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
mandrill:
  timeout_seconds: 20
worker:
  job_timeout_seconds: 60
`))
	require.NoError(t, err)

	assert.Equal(t, "20s", cfg.Mandrill.Timeout().String())
	assert.Equal(t, "1m0s", cfg.Worker.JobTimeout().String())
}
