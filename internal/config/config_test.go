package config

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Port)
	assert.Equal(t, 60*time.Second, cfg.Reservation.TTL)
	assert.Equal(t, 1000, cfg.Notification.BatchSize)
	assert.Equal(t, 3, cfg.Notification.MaxRetries)
	assert.False(t, cfg.Kafka.Enabled)

	vip, err := cfg.VIPThreshold()
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(1000).Equal(vip))
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("RESERVATION_TTL", "90s")
	t.Setenv("KAFKA_ENABLED", "true")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("VIP_SPEND_THRESHOLD", "2500.50")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 90*time.Second, cfg.Reservation.TTL)
	assert.True(t, cfg.Kafka.Enabled)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)

	vip, err := cfg.VIPThreshold()
	require.NoError(t, err)
	assert.Equal(t, "2500.5", vip.String())
}

func TestLoad_Invalid(t *testing.T) {
	cases := map[string]string{
		"RESERVATION_TTL":         "0s",
		"NOTIFICATION_BATCH_SIZE": "0",
		"VIP_SPEND_THRESHOLD":     "lots",
	}
	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, value)
			_, err := Load()
			assert.Error(t, err)
		})
	}
}
