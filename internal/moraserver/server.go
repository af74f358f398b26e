// Package moraserver wires the storage, queue, and channel layers behind
// an HTTP server, a 1ms channel-expiry sweeper, and a low-frequency
// maintenance scheduler, and coordinates their graceful shutdown.
package moraserver

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	cclog "github.com/ClusterCockpit/cc-lib/v2/ccLogger"
	"github.com/edoardocostantinidev/mora/internal/api"
	"github.com/edoardocostantinidev/mora/internal/channelmgr"
	"github.com/edoardocostantinidev/mora/internal/config"
	"github.com/edoardocostantinidev/mora/internal/queuepool"
	"github.com/edoardocostantinidev/mora/internal/walstore"
	"github.com/go-co-op/gocron/v2"
)

// Server owns every long-running component of a mora node: the WAL-backed
// queue pool, the channel manager, the HTTP API, the channel-expiry
// sweeper, and the maintenance scheduler.
type Server struct {
	pool    *queuepool.Pool
	mgr     *channelmgr.Manager
	tracker *api.ConnTracker

	httpServer *http.Server
	listener   net.Listener
	scheduler  gocron.Scheduler

	sweeperDone chan struct{}
	wg          sync.WaitGroup
}

// New builds a Server rooted at config.Keys.WALPath and listening on
// config.Keys.Port. Call Load before Start.
func New() *Server {
	pool := queuepool.New(walstore.New(config.Keys.WALPath), config.Keys.QueuePoolCapacity)
	mgr := channelmgr.New(pool, config.Keys.ChannelTimeout)
	tracker := api.NewConnTracker()

	router := api.NewRouter(pool, mgr, tracker)
	return &Server{
		pool:    pool,
		mgr:     mgr,
		tracker: tracker,
		httpServer: &http.Server{
			Addr:         config.Keys.ListenAddress(),
			Handler:      api.NewHandler(router),
			ReadTimeout:  20 * time.Second,
			WriteTimeout: 20 * time.Second,
			ConnState:    tracker.Hook,
		},
		sweeperDone: make(chan struct{}),
	}
}

// Load replays the WAL and reconstructs every queue's in-memory state.
// Must be called before Start.
func (s *Server) Load() error {
	return s.pool.Load()
}

// Listen binds the HTTP listening socket without starting to serve,
// letting callers discover the actual address before Start blocks -
// useful when ListenAddress ends in ":0".
func (s *Server) Listen() error {
	if s.listener != nil {
		return nil
	}
	listener, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("moraserver: binding %s: %w", s.httpServer.Addr, err)
	}
	s.listener = listener
	return nil
}

// Addr returns the actual address the server is listening on. Only valid
// after Listen or Start has been called.
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.httpServer.Addr
	}
	return s.listener.Addr().String()
}

// Start begins serving HTTP, the channel sweeper, and the maintenance
// scheduler. It blocks until the listener fails or Shutdown closes it.
func (s *Server) Start() error {
	if err := s.Listen(); err != nil {
		return err
	}

	var err error
	s.scheduler, err = newMaintenanceScheduler()
	if err != nil {
		return err
	}
	if err := registerCompactionSweep(s.scheduler, s.pool, gocron.DurationJob(config.Keys.MaintenanceInterval)); err != nil {
		return err
	}
	if err := registerStatsLogger(s.scheduler, s.pool, gocron.DurationJob(config.Keys.MaintenanceInterval)); err != nil {
		return err
	}
	s.scheduler.Start()

	s.wg.Add(1)
	go s.runSweeper()

	cclog.Infof("moraserver: listening on %s", s.Addr())
	if err := s.httpServer.Serve(s.listener); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("moraserver: serve: %w", err)
	}
	return nil
}

// runSweeper ticks the channel manager's inactivity sweep once per
// SweepInterval until Shutdown signals it to stop.
func (s *Server) runSweeper() {
	defer s.wg.Done()
	ticker := time.NewTicker(config.Keys.SweepInterval)
	defer ticker.Stop()
	deltaMs := config.Keys.SweepInterval.Milliseconds()
	if deltaMs == 0 {
		deltaMs = 1
	}

	for {
		select {
		case <-ticker.C:
			if expired := s.mgr.Tick(deltaMs); len(expired) > 0 {
				cclog.Debugf("moraserver: swept %d expired channels", len(expired))
			}
		case <-s.sweeperDone:
			return
		}
	}
}

// Shutdown stops the HTTP server gracefully, then stops the sweeper and
// the maintenance scheduler. It waits for all three to finish.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)

	close(s.sweeperDone)
	s.wg.Wait()

	if s.scheduler != nil {
		if sErr := s.scheduler.Shutdown(); sErr != nil && err == nil {
			err = sErr
		}
	}
	return err
}
