package moraserver

import (
	"context"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/edoardocostantinidev/mora/internal/config"
	"github.com/stretchr/testify/require"
)

func TestServerStartServesHealthAndShutsDownCleanly(t *testing.T) {
	config.Keys = config.Default()
	config.Keys.WALPath = t.TempDir()
	config.Keys.Port = 0
	config.Keys.SweepInterval = 5 * time.Millisecond
	config.Keys.MaintenanceInterval = time.Hour

	s := New()
	require.NoError(t, s.Load())
	require.NoError(t, s.Listen())
	_, port, err := net.SplitHostPort(s.Addr())
	require.NoError(t, err)
	addr := net.JoinHostPort("127.0.0.1", port)

	errCh := make(chan error, 1)
	go func() { errCh <- s.Start() }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + addr + "/api/health")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))

	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after Shutdown")
	}
}
