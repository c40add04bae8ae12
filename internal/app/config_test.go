package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("APP_ENV", "")
	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, "INV", cfg.InvoicePrefix)
	require.Equal(t, "RCP", cfg.ReceiptPrefix)
	require.Equal(t, "INR", cfg.Currency)
	require.Equal(t, 30*time.Minute, cfg.GenerationLockTTL)
	require.Equal(t, 100, cfg.OutboxBatchSize)
	require.Equal(t, "*/5 * * * *", cfg.OutboxRelayCron)
	require.False(t, cfg.IsProduction())
}

func TestLoadConfigRejectsBadValues(t *testing.T) {
	t.Setenv("BILLING_CURRENCY", "RUPEE")
	t.Setenv("OUTBOX_BATCH_SIZE", "0")
	_, err := LoadConfig()
	require.ErrorContains(t, err, "BILLING_CURRENCY")
	require.ErrorContains(t, err, "outbox batch size")
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("BILLING_RECEIPT_PREFIX", "REC")
	t.Setenv("GENERATION_LOCK_TTL", "5m")
	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.True(t, cfg.IsProduction())
	require.Equal(t, "REC", cfg.ReceiptPrefix)
	require.Equal(t, 5*time.Minute, cfg.GenerationLockTTL)
}
