package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv(keyDatabaseURL, "postgres://localhost/orderhook")
	t.Setenv(keyStripeSecretKey, "sk_test_123")
	t.Setenv(keyStripeWebhookSecret, "whsec_123")
	t.Setenv(keyOrdersDatabaseID, "orders")
	t.Setenv(keyOrdersCollectionID, "orders")
}

func TestBuild_Defaults(t *testing.T) {
	setRequired(t)

	cfg, err := build(newViper())
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, 5*time.Minute, cfg.WebhookTolerance)
	assert.Equal(t, 5*time.Second, cfg.StorageTimeout)
	assert.Equal(t, 10*time.Second, cfg.ProviderTimeout)
	assert.True(t, cfg.ProvisionOnStart)
	assert.Equal(t, slog.LevelInfo, cfg.LogLevel)
	assert.Nil(t, cfg.CORSOrigins)
}

func TestBuild_ReportsEveryMissingKey(t *testing.T) {
	for _, key := range required {
		t.Setenv(key, "")
	}
	t.Setenv(keyStripeSecretKey, "sk_test_123")

	_, err := build(newViper())
	var missing *MissingError
	require.ErrorAs(t, err, &missing)
	assert.ElementsMatch(t, []string{
		keyDatabaseURL, keyStripeWebhookSecret, keyOrdersDatabaseID, keyOrdersCollectionID,
	}, missing.Keys)
}

func TestBuild_Overrides(t *testing.T) {
	setRequired(t)
	t.Setenv(keyCORSOrigins, "http://a.test, http://b.test,")
	t.Setenv(keyWebhookTolerance, "90s")
	t.Setenv(keyLogLevel, "debug")
	t.Setenv(keyLogFormat, "JSON")
	t.Setenv(keyProvisionOnStart, "false")

	cfg, err := build(newViper())
	require.NoError(t, err)
	assert.Equal(t, []string{"http://a.test", "http://b.test"}, cfg.CORSOrigins)
	assert.Equal(t, 90*time.Second, cfg.WebhookTolerance)
	assert.Equal(t, slog.LevelDebug, cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.False(t, cfg.ProvisionOnStart)
}

func TestBuild_RejectsBadValues(t *testing.T) {
	setRequired(t)
	t.Setenv(keyStorageTimeout, "0s")
	t.Setenv(keyLogFormat, "xml")

	_, err := build(newViper())
	require.Error(t, err)
	assert.Contains(t, err.Error(), keyStorageTimeout)
	assert.Contains(t, err.Error(), keyLogFormat)
}

func TestLoad_ReadsDotEnvWithoutOverridingEnvironment(t *testing.T) {
	dir := t.TempDir()
	nested := filepath.Join(dir, "a", "b")
	require.NoError(t, os.MkdirAll(nested, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte(
		"DATABASE_URL=postgres://file/db\n"+
			"STRIPE_SECRET_KEY=sk_file\n"+
			"STRIPE_WEBHOOK_SECRET=whsec_file\n"+
			"ORDERS_DATABASE_ID=orders\n"+
			"ORDERS_COLLECTION_ID=orders\n"+
			"PORT=9000\n"), 0o600))

	for _, key := range required {
		t.Setenv(key, "")
	}
	t.Setenv(keyPort, "9100")

	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(nested))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "postgres://file/db", cfg.DatabaseURL)
	assert.Equal(t, "whsec_file", cfg.StripeWebhookSecret)
	assert.Equal(t, "9100", cfg.Port)
}
