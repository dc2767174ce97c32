package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "/thanks", cfg.Server.ResultPath)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "payment.settled", cfg.Kafka.Topic.PaymentSettled)
	assert.Equal(t, 10*time.Second, cfg.Gateway.VerifyTimeout)
	assert.Equal(t, 1, cfg.Log.MaxSizeMB)
	assert.Equal(t, 5, cfg.Log.MaxBackups)
}

func TestLoad_FileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := `
server:
  port: 9090
gateway:
  secret_key: from-file
  verify_timeout: 3s
sheets:
  enabled: true
  spreadsheets:
    school: sheet-123
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))
	t.Setenv("AUTOPAY_GATEWAY_SECRET_KEY", "from-env")
	t.Setenv("AUTOPAY_SERVER_ADMIN_TOKEN", "admin")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "from-env", cfg.Gateway.SecretKey)
	assert.Equal(t, "from-env", cfg.Gateway.WebhookHash)
	assert.Equal(t, "admin", cfg.Server.AdminToken)
	assert.Equal(t, 3*time.Second, cfg.Gateway.VerifyTimeout)
	assert.Equal(t, "sheet-123", cfg.Sheets.Spreadsheets["school"])
}

func TestValidate(t *testing.T) {
	cfg := &Config{Database: DatabaseConfig{Driver: "oracle"}}
	assert.Error(t, cfg.Validate())

	cfg = &Config{Database: DatabaseConfig{Driver: "mysql"}, Kafka: KafkaConfig{Enabled: true}}
	assert.Error(t, cfg.Validate())

	cfg = &Config{Database: DatabaseConfig{Driver: "postgres"}, Sheets: SheetsConfig{Enabled: true}}
	assert.Error(t, cfg.Validate())

	cfg = &Config{Database: DatabaseConfig{Driver: "postgres"}}
	assert.NoError(t, cfg.Validate())
}
