// scheddb daemon
// Canonical traffic-schedule database with Redis-relayed rectification
package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/redis/go-redis/v9"

	"github.com/fleetmesh/scheddb/internal/logger"
	"github.com/fleetmesh/scheddb/internal/metrics"
	"github.com/fleetmesh/scheddb/internal/server"
	"github.com/fleetmesh/scheddb/pkg/relay"
	"github.com/fleetmesh/scheddb/pkg/schedule"
)

type config struct {
	RedisAddr     string        `env:"SCHEDDB_REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword string        `env:"SCHEDDB_REDIS_PASSWORD"`
	Namespace     string        `env:"SCHEDDB_NAMESPACE" envDefault:"default"`
	ObsPort       int           `env:"SCHEDDB_OBS_PORT" envDefault:"9090"`
	ScanInterval  time.Duration `env:"SCHEDDB_SCAN_INTERVAL" envDefault:"2s"`
	StatsInterval time.Duration `env:"SCHEDDB_STATS_INTERVAL" envDefault:"10s"`
	LogLevel      string        `env:"SCHEDDB_LOG_LEVEL" envDefault:"info"`
	LogPretty     bool          `env:"SCHEDDB_LOG_PRETTY" envDefault:"false"`
}

func main() {
	var cfg config
	if err := env.Parse(&cfg); err != nil {
		logger.GetGlobalLogger().Fatal("invalid configuration").Err(err).Send()
	}

	logger.InitGlobalLogger(logger.Config{Level: cfg.LogLevel, Pretty: cfg.LogPretty})
	log := logger.GetGlobalLogger()
	log.LogServerStart(cfg.ObsPort, cfg.RedisAddr, cfg.Namespace)

	m := metrics.NewMetrics()

	db := schedule.NewDatabase(
		schedule.WithLogger(log.ScheduleLogger()),
		schedule.WithQueryObserver(m.RecordQuery),
	)

	bus, err := relay.NewBus(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	}, cfg.Namespace, log.BusLogger())
	if err != nil {
		log.Fatal("failed to create bus").Err(err).Send()
	}
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := bus.Ping(ctx); err != nil {
		log.Fatal("redis unreachable").Err(err).Str("addr", cfg.RedisAddr).Send()
	}

	consumer := relay.NewConsumer(bus, db, log.BusLogger(),
		relay.WithChangeObserver(m.RecordChangeApplied),
		relay.WithRejectionObserver(m.RecordChangeRejected))
	monitor := relay.NewMonitor(db, bus, cfg.ScanInterval, log.BusLogger(),
		relay.WithRequestObserver(m.RecordRetransmitRequests))
	obs := server.NewObservabilityServer(cfg.ObsPort, log)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := consumer.Run(ctx); err != nil && ctx.Err() == nil {
			log.Error("change consumer stopped").Err(err).Send()
			cancel()
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := monitor.Run(ctx); err != nil && ctx.Err() == nil {
			log.Error("gap monitor stopped").Err(err).Send()
			cancel()
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := obs.Start(); err != nil {
			log.Error("observability server stopped").Err(err).Send()
			cancel()
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		statsLoop(ctx, db, m, cfg.StatsInterval)
	}()

	<-consumer.Ready()
	log.LogServerReady()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	select {
	case <-sigChan:
	case <-ctx.Done():
	}

	log.LogServerShutdown()
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := obs.Shutdown(shutdownCtx); err != nil {
		log.Error("observability shutdown failed").Err(err).Send()
	}
	wg.Wait()
}

// statsLoop keeps the schedule-level gauges current.
func statsLoop(ctx context.Context, db *schedule.Database, m *metrics.Metrics, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			openGaps := 0
			for _, inc := range db.Inconsistencies() {
				openGaps += len(inc.Ranges)
			}
			m.UpdateScheduleStats(
				len(db.ParticipantIDs()),
				uint64(db.LatestVersion()),
				openGaps,
			)
		}
	}
}
