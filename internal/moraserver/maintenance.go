package moraserver

import (
	"fmt"

	cclog "github.com/ClusterCockpit/cc-lib/v2/ccLogger"
	"github.com/edoardocostantinidev/mora/internal/queuepool"
	"github.com/go-co-op/gocron/v2"
)

// newMaintenanceScheduler builds the low-frequency gocron scheduler that
// sweeps every queue for compaction and logs a periodic occupancy summary.
// It runs independently of the 1ms channel-expiry sweeper, which needs a
// tighter tick than gocron is meant to provide.
func newMaintenanceScheduler() (gocron.Scheduler, error) {
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("moraserver: creating scheduler: %w", err)
	}
	return s, nil
}

// registerCompactionSweep runs CompactContainer for every queue on a fixed
// interval, catching any queue whose tombstone ratio crept over threshold
// between writes without ever being forced by a delete burst.
func registerCompactionSweep(s gocron.Scheduler, pool *queuepool.Pool, d gocron.JobDefinition) error {
	_, err := s.NewJob(d, gocron.NewTask(func() {
		for _, id := range pool.ListQueues(nil) {
			if err := pool.CompactQueue(id); err != nil {
				cclog.Warnf("moraserver: compaction sweep failed for queue %q: %v", id, err)
			}
		}
	}))
	if err != nil {
		return fmt.Errorf("moraserver: registering compaction sweep: %w", err)
	}
	return nil
}

// registerStatsLogger logs the number of queues and their aggregate
// pending-item count on a fixed interval, a cheap substitute for a metrics
// exporter until mora grows one of its own.
func registerStatsLogger(s gocron.Scheduler, pool *queuepool.Pool, d gocron.JobDefinition) error {
	_, err := s.NewJob(d, gocron.NewTask(func() {
		ids := pool.ListQueues(nil)
		total := 0
		for _, id := range ids {
			n, err := pool.Len(id)
			if err != nil {
				continue
			}
			total += n
		}
		cclog.Infof("moraserver: %d queues, %d pending items", len(ids), total)
	}))
	if err != nil {
		return fmt.Errorf("moraserver: registering stats logger: %w", err)
	}
	return nil
}
