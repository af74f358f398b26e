package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestInitDefaultsWithMissingEnvFile(t *testing.T) {
	require.NoError(t, Init("does-not-exist.env"))
	require.Equal(t, 2626, Keys.Port)
	require.Equal(t, ":2626", Keys.ListenAddress())
	require.Equal(t, "/tmp/wals", Keys.WALPath)
	require.Equal(t, 3600*time.Second, Keys.ChannelTimeout)
	require.Equal(t, 0, Keys.QueuePoolCapacity)
	require.Equal(t, time.Millisecond, Keys.SweepInterval)
}

func TestInitReadsEnvOverrides(t *testing.T) {
	t.Setenv("MORA_PORT", "9000")
	t.Setenv("MORA_WAL_PATH", "/tmp/mora-data")
	t.Setenv("MORA_CHANNEL_TIMEOUT_IN_MSEC", "100")
	t.Setenv("MORA_QUEUE_POOL_CAPACITY", "10")
	t.Setenv("MORA_SWEEP_INTERVAL_MS", "5")
	t.Setenv("MORA_MAINTENANCE_INTERVAL_S", "30")

	require.NoError(t, Init("does-not-exist.env"))
	require.Equal(t, 9000, Keys.Port)
	require.Equal(t, ":9000", Keys.ListenAddress())
	require.Equal(t, "/tmp/mora-data", Keys.WALPath)
	require.Equal(t, 100*time.Millisecond, Keys.ChannelTimeout)
	require.Equal(t, 10, Keys.QueuePoolCapacity)
	require.Equal(t, 5*time.Millisecond, Keys.SweepInterval)
	require.Equal(t, 30*time.Second, Keys.MaintenanceInterval)
}

func TestInitRejectsInvalidDuration(t *testing.T) {
	t.Setenv("MORA_SWEEP_INTERVAL_MS", "not-a-number")
	err := Init("does-not-exist.env")
	require.Error(t, err)
}

func TestInitRejectsInvalidPort(t *testing.T) {
	t.Setenv("MORA_PORT", "not-a-port")
	err := Init("does-not-exist.env")
	require.Error(t, err)
}
