package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/iota-uz/iota-fleet/modules/assignments/handlers"
	"github.com/iota-uz/iota-fleet/modules/assignments/infrastructure/dispatch"
	"github.com/iota-uz/iota-fleet/pkg/configuration"
	"github.com/iota-uz/iota-fleet/pkg/eventbus"
	"github.com/iota-uz/iota-fleet/pkg/logging"
	"github.com/iota-uz/iota-fleet/pkg/metrics"
	"github.com/iota-uz/iota-fleet/pkg/outbox"
	mqttdispatcher "github.com/iota-uz/iota-fleet/pkg/outbox/dispatchers/mqtt"
)

func newRelayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "relay",
		Short: "Run the outbox relay and cleaner until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			conf := configuration.Use()
			logger := conf.Logger()

			if conf.OpenTelemetry.Enabled {
				cleanup := logging.SetupTracing(cmd.Context(), conf.OpenTelemetry.ServiceName, conf.OpenTelemetry.TempoURL)
				defer cleanup()
				logger.Info("OpenTelemetry tracing enabled, exporting to Tempo at " + conf.OpenTelemetry.TempoURL)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			pool, err := connectDB(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			dispatcher, closeDispatcher, err := buildDispatcher(conf, logger)
			if err != nil {
				return err
			}
			defer closeDispatcher()

			srv := startOpsServer(conf, pool, logger)
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = srv.Shutdown(shutdownCtx)
			}()

			var wg sync.WaitGroup
			runOutboxWorkers(ctx, &wg, conf, pool, dispatcher, logger)
			<-ctx.Done()
			wg.Wait()
			logger.Info("outbox: relay stopped")
			return nil
		},
	}
}

// buildDispatcher fans relayed messages out to the in-process bus and, when
// a broker is configured, to MQTT.
func buildDispatcher(conf *configuration.Configuration, logger *logrus.Logger) (outbox.Dispatcher, func(), error) {
	bus := eventbus.NewEventPublisher(logger)
	handlers.RegisterOutboxEventHandlers(bus, logger)
	dispatchers := []outbox.Dispatcher{dispatch.NewEventBusDispatcher(bus)}

	closeFn := func() {}
	if conf.MQTT.Enabled() {
		d, err := mqttdispatcher.Connect(mqttdispatcher.Options{
			Broker:      conf.MQTT.Broker,
			ClientID:    conf.MQTT.ClientID,
			TopicPrefix: conf.MQTT.TopicPrefix,
			QoS:         byte(conf.MQTT.QoS),
		})
		if err != nil {
			return nil, nil, err
		}
		dispatchers = append(dispatchers, d)
		closeFn = d.Close
	}
	return outbox.Chain(dispatchers...), closeFn, nil
}

func startOpsServer(conf *configuration.Configuration, pool *pgxpool.Pool, logger *logrus.Logger) *http.Server {
	metricsPath := ""
	if conf.Prometheus.Enabled {
		metricsPath = conf.Prometheus.Path
	}
	srv := &http.Server{
		Addr: conf.Prometheus.Addr,
		Handler: metrics.NewOpsRouter(metricsPath, func(r *http.Request) error {
			return pool.Ping(r.Context())
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Error("ops server stopped")
		}
	}()
	return srv
}

func runOutboxWorkers(
	ctx context.Context,
	wg *sync.WaitGroup,
	conf *configuration.Configuration,
	pool *pgxpool.Pool,
	dispatcher outbox.Dispatcher,
	logger *logrus.Logger,
) {
	outboxLog := logger.WithField("component", "outbox")

	relayTables, relayTablesErr := outbox.ParseIdentifierList(conf.Outbox.RelayTables)
	if relayTablesErr != nil {
		outboxLog.WithError(relayTablesErr).Warn("outbox: invalid OUTBOX_RELAY_TABLES; relay disabled")
		relayTables = nil
	}

	var cleanerTables []pgx.Identifier
	if conf.Outbox.CleanerTables == "" {
		cleanerTables = relayTables
	} else {
		var cleanerTablesErr error
		cleanerTables, cleanerTablesErr = outbox.ParseIdentifierList(conf.Outbox.CleanerTables)
		if cleanerTablesErr != nil {
			outboxLog.WithError(cleanerTablesErr).Warn("outbox: invalid OUTBOX_CLEANER_TABLES; cleaner disabled")
			cleanerTables = nil
		}
	}

	if conf.Outbox.RelayEnabled {
		for _, table := range relayTables {
			relay, err := outbox.NewRelay(pool, table, dispatcher, outbox.RelayOptions{
				PollInterval:    conf.Outbox.RelayPollInterval,
				BatchSize:       conf.Outbox.RelayBatchSize,
				LockTTL:         conf.Outbox.RelayLockTTL,
				MaxAttempts:     conf.Outbox.RelayMaxAttempts,
				SingleActive:    conf.Outbox.RelaySingleActive,
				LastErrorMaxLen: conf.Outbox.LastErrorMaxBytes,
				DispatchTimeout: conf.Outbox.RelayDispatchTimeout,
				Logger:          outboxLog.WithField("table", outbox.TableLabel(table)),
			})
			if err != nil {
				outboxLog.WithError(err).Warn("outbox: failed to create relay")
				continue
			}
			wg.Add(1)
			go func(r *outbox.Relay) {
				defer wg.Done()
				if err := r.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
					outboxLog.WithError(err).Error("outbox: relay stopped")
				}
			}(relay)
		}
	}

	if !conf.Outbox.CleanerEnabled {
		return
	}
	if len(cleanerTables) == 0 {
		outboxLog.Info("outbox: cleaner enabled but no tables configured")
		return
	}
	for _, table := range cleanerTables {
		cleaner, err := outbox.NewCleaner(pool, table, outbox.CleanerOptions{
			Enabled:               true,
			Interval:              conf.Outbox.CleanerInterval,
			Retention:             conf.Outbox.CleanerRetention,
			DeadRetention:         conf.Outbox.CleanerDeadRetention,
			DeadAttemptsThreshold: conf.Outbox.RelayMaxAttempts,
			Logger:                outboxLog.WithField("table", outbox.TableLabel(table)),
		})
		if err != nil {
			outboxLog.WithError(err).Warn("outbox: failed to create cleaner")
			continue
		}
		wg.Add(1)
		go func(c *outbox.Cleaner) {
			defer wg.Done()
			if err := c.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				outboxLog.WithError(err).Error("outbox: cleaner stopped")
			}
		}(cleaner)
	}
}
