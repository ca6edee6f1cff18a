package ws

import (
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/mudassirishfaq94/chat-app/globals"
	"github.com/mudassirishfaq94/chat-app/metrics"
	"github.com/mudassirishfaq94/chat-app/presence"
	"github.com/robfig/cron/v3"
)

// StatsJob periodically publishes presence statistics as gauges and to the log.
type StatsJob struct {
	registry *presence.Registry
	cron     *cron.Cron
	logger   hclog.Logger
}

// StartStats schedules the stats job with a cron spec such as "@every 1m" and starts it.
func StartStats(registry *presence.Registry, schedule string) (*StatsJob, error) {
	j := &StatsJob{
		registry: registry,
		cron:     cron.New(cron.WithLocation(time.UTC), cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger))),
		logger:   globals.AppLogger.Named("stats"),
	}
	if _, err := j.cron.AddFunc(schedule, j.Run); err != nil {
		return nil, err
	}
	j.cron.Start()
	j.Run()
	return j, nil
}

// Run publishes the current statistics once.
func (j *StatsJob) Run() {
	stats := j.registry.Stats()
	metrics.RoomsActive.Set(float64(stats.Rooms))
	metrics.ConnectionsActive.Set(float64(stats.Connections))
	j.logger.Debug("presence stats", "rooms", stats.Rooms, "connections", stats.Connections)
}

// Stop stops the schedule and waits for a running job to finish.
func (j *StatsJob) Stop() {
	<-j.cron.Stop().Done()
}
