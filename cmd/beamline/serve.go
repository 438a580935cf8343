package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nerrad567/beamline-core/internal/api"
	"github.com/nerrad567/beamline-core/internal/broker"
	"github.com/nerrad567/beamline-core/internal/catalogue"
	"github.com/nerrad567/beamline-core/internal/control"
	"github.com/nerrad567/beamline-core/internal/infrastructure/config"
	"github.com/nerrad567/beamline-core/internal/infrastructure/database"
	"github.com/nerrad567/beamline-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/beamline-core/internal/infrastructure/logging"
	"github.com/nerrad567/beamline-core/internal/infrastructure/metrics"
	"github.com/nerrad567/beamline-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/beamline-core/internal/journal"
	"github.com/nerrad567/beamline-core/internal/processing"
	"github.com/nerrad567/beamline-core/internal/registry"
	"github.com/nerrad567/beamline-core/migrations"
)

// collectorName is the registry name the result collector is published under.
const collectorName = "zocalo"

const healthCheckTimeout = 5 * time.Second

func serveCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the beamline core until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			return run(ctx, *configPath)
		},
	}
}

// run wires every component and blocks until ctx is cancelled. Deferred
// closes run in reverse start order.
func run(ctx context.Context, configPath string) error {
	log := logging.Default()
	log.Info("starting beamline core",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log = logging.New(cfg.Logging, version)
	log.Info("configuration loaded",
		"path", configPath,
		"beamline", cfg.Beamline.Name,
		"prefix", cfg.Beamline.AddressPrefix(),
		"environment", cfg.Processing.Environment,
	)

	db, err := database.Open(cfg.Database)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	if migrateErr := db.Migrate(ctx, migrations.FS); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database ready", "path", db.Path())

	mqttClient, err := mqtt.Connect(cfg.MQTT)
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	mqttClient.SetLogger(log.With("component", "mqtt"))
	mqttClient.SetOnConnect(func() { log.Info("MQTT connected") })
	mqttClient.SetOnDisconnect(func(err error) { log.Warn("MQTT disconnected", "error", err) })
	log.Info("MQTT connected", "broker", mqtt.BrokerURL(cfg.MQTT), "client_id", cfg.MQTT.Broker.ClientID)

	influxClient, err := connectInflux(cfg.InfluxDB, log)
	if err != nil {
		return err
	}
	if influxClient != nil {
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
	}

	procMetrics := metrics.New(nil)
	if regErr := procMetrics.Register(); regErr != nil {
		return fmt.Errorf("registering metrics: %w", regErr)
	}

	journalRepo := journal.NewSQLiteRepository(db.DB)
	recorder := journal.NewRecorder(journalRepo)
	recorder.SetLogger(log.With("component", "journal"))

	resources := registry.New(
		registry.WithPrefix(cfg.Beamline.AddressPrefix()),
		registry.WithConnectTimeout(cfg.Beamline.ConnectTimeout),
	)
	resources.SetLogger(log.With("component", "registry"))
	defer func() {
		if closeErr := resources.Close(); closeErr != nil {
			log.Error("error closing resources", "error", closeErr)
		}
	}()

	collector := processing.NewCollector(collectorName, cfg.Processing.ResultTimeout)
	collector.SetLogger(log.With("component", "collector"))

	trigger := newTrigger(cfg.Processing)
	trigger.SetLogger(log.With("component", "trigger"))

	busFactory := control.BusFactory(mqttClient)
	named := catalogue.New(resources, busFactory, cfg.Beamline)

	srv, err := api.New(api.Deps{
		Config:    cfg.API,
		WS:        cfg.WebSocket,
		Logger:    log.With("component", "api"),
		Registry:  resources,
		Catalogue: named,
		Factory:   busFactory,
		Trigger:   trigger,
		Collector: collector,
		Journal:   journalRepo,
		Metrics:   procMetrics,
		Bus:       mqttClient,
		Version:   version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}

	// Observers and sinks go in before the results subscription so the
	// first delivery already sees all of them.
	hub := srv.Hub()
	for _, o := range []processing.NotificationObserver{collector, procMetrics, recorder, hub} {
		trigger.AddObserver(o)
	}
	for _, s := range []processing.ResultSink{procMetrics, recorder, hub} {
		collector.AddSink(s)
	}
	if influxClient != nil {
		sink := influxdb.NewSink(influxClient, cfg.Beamline.Name)
		trigger.AddObserver(sink)
		collector.AddSink(sink)
	}

	if err := startCollector(ctx, collector, cfg.Processing, mqttClient, resources); err != nil {
		return err
	}
	log.Info("result collector ready", "topic", cfg.Processing.ResultsTopic, "timeout", cfg.Processing.ResultTimeout)
	log.Info("resource catalogue loaded", "resources", len(named.Entries()), "prefix", cfg.Beamline.AddressPrefix())

	if startErr := srv.Start(ctx); startErr != nil {
		return fmt.Errorf("starting API server: %w", startErr)
	}
	defer func() {
		if closeErr := srv.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("initialisation complete, waiting for shutdown signal")

	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")
	return nil
}

// connectInflux returns nil, nil when InfluxDB is disabled.
func connectInflux(cfg config.InfluxDBConfig, log *logging.Logger) (*influxdb.Client, error) {
	client, err := influxdb.Connect(cfg)
	if errors.Is(err, influxdb.ErrDisabled) {
		log.Info("InfluxDB disabled")
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("connecting to InfluxDB: %w", err)
	}
	client.SetOnError(func(err error) {
		log.Error("InfluxDB write error", "error", err)
	})
	log.Info("InfluxDB connected", "url", cfg.URL, "org", cfg.Org, "bucket", cfg.Bucket)
	return client, nil
}

// startCollector subscribes the collector to the results topic and
// publishes it in the registry so clients reach it like any other resource.
func startCollector(ctx context.Context, collector *processing.Collector, cfg config.ProcessingConfig, source processing.Subscriber, resources *registry.Registry) error {
	if err := collector.Subscribe(source, cfg.ResultsTopic); err != nil {
		return fmt.Errorf("subscribing to results: %w", err)
	}

	_, err := resources.GetOrCreate(ctx, collectorName, registry.Options{
		Factory: func(string, string) (control.Handle, error) { return collector, nil },
	})
	if err != nil {
		return fmt.Errorf("registering collector: %w", err)
	}
	return nil
}

func newTrigger(cfg config.ProcessingConfig) *processing.Trigger {
	opener := broker.NewOpener()
	opener.SetClientPrefix("beamline-notify")
	return processing.NewTrigger(cfg.Environment, config.EnvironmentFile{Path: cfg.EnvironmentsFile}, opener)
}

func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if err := mqttClient.HealthCheck(ctx); err != nil {
		return fmt.Errorf("mqtt: %w", err)
	}
	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}
	return nil
}
