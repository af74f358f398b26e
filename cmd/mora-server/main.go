// Command mora-server runs a single mora node: HTTP API, channel-expiry
// sweeper, and maintenance scheduler over a WAL-backed queue pool.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	cclog "github.com/ClusterCockpit/cc-lib/v2/ccLogger"
	"github.com/edoardocostantinidev/mora/internal/config"
	"github.com/edoardocostantinidev/mora/internal/moraserver"
)

func main() {
	envFile := flag.String("env-file", ".env", "path to an optional .env file with MORA_* overrides")
	logLevel := flag.String("log-level", "", "override the configured log level")
	flag.Parse()

	if err := config.Init(*envFile); err != nil {
		cclog.Fatalf("mora-server: %v", err)
	}
	if *logLevel != "" {
		config.Keys.LogLevel = *logLevel
	}
	cclog.Init(config.Keys.LogLevel, true)

	srv := moraserver.New()
	if err := srv.Load(); err != nil {
		cclog.Fatalf("mora-server: loading storage: %v", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			cclog.Fatalf("mora-server: %v", err)
		}
	case <-sigs:
		cclog.Info("mora-server: shutting down")
		if err := srv.Shutdown(context.Background()); err != nil {
			cclog.Errorf("mora-server: shutdown: %v", err)
		}
	}
}
