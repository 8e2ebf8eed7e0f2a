package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/homegateway/internal/actor"
	"github.com/nerrad567/homegateway/internal/alarm"
	"github.com/nerrad567/homegateway/internal/api"
	"github.com/nerrad567/homegateway/internal/appliance"
	"github.com/nerrad567/homegateway/internal/climate"
	"github.com/nerrad567/homegateway/internal/delayqueue"
	"github.com/nerrad567/homegateway/internal/device"
	"github.com/nerrad567/homegateway/internal/dispatcher"
	"github.com/nerrad567/homegateway/internal/door"
	"github.com/nerrad567/homegateway/internal/infrastructure/config"
	"github.com/nerrad567/homegateway/internal/infrastructure/database"
	"github.com/nerrad567/homegateway/internal/infrastructure/influxdb"
	"github.com/nerrad567/homegateway/internal/infrastructure/logging"
	"github.com/nerrad567/homegateway/internal/infrastructure/mqtt"
	"github.com/nerrad567/homegateway/internal/light"
	"github.com/nerrad567/homegateway/internal/notify"
	"github.com/nerrad567/homegateway/internal/reminder"
	"github.com/nerrad567/homegateway/internal/supervisor"
	"github.com/nerrad567/homegateway/internal/trigger"
	"github.com/nerrad567/homegateway/internal/workflow"
)

// shutdownTimeout bounds how long stopping actors may take.
const shutdownTimeout = 15 * time.Second

// historyPruneSchedule runs state history retention once a night.
const historyPruneSchedule = "@daily"

// run is the actual application logic, separated from main for testability.
// Returning an error allows main to handle exit codes consistently.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//   - configPath: Path to the YAML configuration file
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context, configPath string) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting home gateway",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	log = logging.New(cfg.Logging, version)
	defer log.Close() //nolint:errcheck // nothing left to report it to
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	loc, err := time.LoadLocation(cfg.Site.Timezone)
	if err != nil {
		return fmt.Errorf("loading site timezone: %w", err)
	}

	db, err := database.Open(databaseConfig(cfg))
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	log.Info("database connected", "path", cfg.Database.Path)

	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

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
	mqttClient.SetLogger(log.Component("mqtt"))
	mqttClient.SetOnConnect(func() {
		log.Info("MQTT reconnected")
	})
	mqttClient.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

	// A nil client drops writes, so telemetry stays optional.
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB, influxdb.WithSiteTag(cfg.Site.ID))
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			stats := influxClient.Stats()
			log.Info("closing InfluxDB connection", "points_queued", stats.Queued, "batches_failed", stats.Failed)
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	} else {
		log.Info("InfluxDB disabled")
	}

	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	// Actors outlive the signal context so the supervisor can drain them
	// in order during shutdown.
	runtimeCtx, stopRuntime := context.WithCancel(context.WithoutCancel(ctx))
	defer stopRuntime()

	hub := api.NewHub(cfg.WebSocket, log.Component("websocket"))
	go hub.Run(runtimeCtx)

	sys := actor.NewSystem(runtimeCtx, log.Component("actor"))

	gw, err := newGateway(runtimeCtx, cfg, loc, db, mqttClient, influxClient, hub, sys, log)
	if err != nil {
		return err
	}

	sup, err := supervisor.New(supervisorConfig(cfg, log), gw.children()...)
	if err != nil {
		return fmt.Errorf("creating supervisor: %w", err)
	}
	sup.SetLogger(log.Component("supervisor"))
	if err := sup.Start(runtimeCtx); err != nil {
		return fmt.Errorf("starting supervisor: %w", err)
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		log.Info("stopping actors")
		if stopErr := sup.Stop(stopCtx); stopErr != nil {
			log.Error("error stopping supervisor", "error", stopErr)
		}
		if stopErr := sys.Shutdown(stopCtx); stopErr != nil {
			log.Error("error stopping actor system", "error", stopErr)
		}
	}()

	// The dispatcher is supervised; subscribing after Start means the
	// first retained messages find it registered.
	topics := mqttClient.Topics()
	if err := mqttClient.Subscribe(topics.AllDevices(), byte(cfg.MQTT.QoS), dispatcher.MQTTHandler(sys)); err != nil { //nolint:gosec // G115: QoS validated to 0..2
		return fmt.Errorf("subscribing to %s: %w", topics.AllDevices(), err)
	}
	log.Info("subscribed to device bus", "topic", topics.AllDevices())

	server, err := api.New(api.Deps{
		Config:     cfg.API,
		WS:         cfg.WebSocket,
		Security:   cfg.Security,
		Logger:     log.Component("api"),
		System:     sys,
		Hub:        hub,
		History:    gw.states,
		Supervisor: sup,
		Dispatcher: gw.dispatcher,
		Broker:     mqttClient,
		Workflows:  gw.workflows,
		Location:   loc,
		AskTimeout: cfg.Runtime.AskTimeout,
		Version:    version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := server.Start(gctx); err != nil {
			return fmt.Errorf("starting API server: %w", err)
		}
		<-gctx.Done()
		return server.Close()
	})
	g.Go(func() error { return ignoreCanceled(gw.reminderConsumer.Run(gctx)) })
	g.Go(func() error { return ignoreCanceled(gw.alarmConsumer.Run(gctx)) })
	g.Go(func() error { return gw.recurring.Run(gctx) })
	g.Go(func() error { return gw.maintenance(gctx) })
	if cfg.Workflows.Watch {
		g.Go(func() error {
			if err := gw.workflows.Watch(gctx); err != nil {
				// Hot reload is a convenience; definitions stay loaded.
				log.Warn("workflow watch stopped", "error", err)
			}
			return nil
		})
	}

	log.Info("initialisation complete, waiting for shutdown signal")

	if err := g.Wait(); err != nil {
		return err
	}

	log.Info("shutdown signal received, cleaning up")
	// Deferred calls run in reverse: actors, InfluxDB, MQTT, database.
	return nil
}

// gateway holds the long-lived components wired by run.
type gateway struct {
	cfg *config.Config
	log *logging.Logger
	sys *actor.System
	db  *database.DB
	loc *time.Location

	store      *device.Store
	states     *device.SQLiteStateRepository
	directory  *device.Directory
	dispatcher *dispatcher.Dispatcher
	workflows  *workflow.Registry
	engine     *workflow.Engine
	notifier   *notify.Service
	climate    *climate.Latest

	mqtt      *mqtt.Client
	telemetry *influxdb.Client
	hub       *api.Hub

	reminderQueue    *delayqueue.Queue[reminder.Job]
	alarmQueue       *delayqueue.Queue[alarm.Job]
	reminderConsumer *delayqueue.Consumer[reminder.Job]
	alarmConsumer    *delayqueue.Consumer[alarm.Job]
	recurring        *reminder.Recurring
}

// newGateway builds stores, queues and services. No actor is spawned here;
// that is left to the supervisor.
func newGateway(
	ctx context.Context,
	cfg *config.Config,
	loc *time.Location,
	db *database.DB,
	mqttClient *mqtt.Client,
	influxClient *influxdb.Client,
	hub *api.Hub,
	sys *actor.System,
	log *logging.Logger,
) (*gateway, error) {
	gw := &gateway{
		cfg:       cfg,
		log:       log,
		sys:       sys,
		db:        db,
		loc:       loc,
		store:     device.NewStore(db),
		states:    device.NewSQLiteStateRepository(db),
		directory: device.NewDirectory(db),
		climate:   climate.NewLatest(),
		mqtt:      mqttClient,
		telemetry: influxClient,
		hub:       hub,
	}

	gw.directory.SetLogger(log.Component("directory"))
	if err := gw.directory.Load(ctx); err != nil {
		return nil, fmt.Errorf("loading device directory: %w", err)
	}
	log.Info("device directory loaded", "devices", gw.directory.Len())

	gw.notifier = notify.New(mqttClient, cfg.MQTT.NotifyTopic, hub)
	gw.notifier.SetLogger(log.Component("notify"))

	gw.dispatcher = dispatcher.New(sys, mqttClient.Topics(), gw.store, gw.directory)
	gw.dispatcher.SetLogger(log.Component("dispatcher"))

	gw.workflows = workflow.NewRegistry(cfg.Workflows.Dir)
	gw.workflows.SetLogger(log.Component("workflows"))
	n, err := gw.workflows.Load()
	if err != nil {
		return nil, fmt.Errorf("loading workflows: %w", err)
	}
	log.Info("workflows loaded", "dir", cfg.Workflows.Dir, "count", n)
	if cfg.Alarm.Workflow != "" {
		if _, err := gw.workflows.Get(cfg.Alarm.Workflow); err != nil {
			log.Warn("alarm workflow not loaded yet", "workflow", cfg.Alarm.Workflow, "error", err)
		}
	}

	gw.engine = workflow.NewEngine(sys, gw.notifier, hub, cfg.Runtime.AskTimeout)
	gw.engine.SetLogger(log.Component("workflow"))

	gw.reminderQueue, err = delayqueue.New[reminder.Job](ctx, db.DB, reminder.QueueName)
	if err != nil {
		return nil, fmt.Errorf("creating reminder queue: %w", err)
	}
	gw.alarmQueue, err = delayqueue.New[alarm.Job](ctx, db.DB, alarm.QueueName)
	if err != nil {
		return nil, fmt.Errorf("creating alarm queue: %w", err)
	}

	queueLog := log.Component("delayqueue")
	gw.reminderConsumer = reminder.NewConsumer(sys, gw.reminderQueue, cfg.Queue.VisibilityTimeout, cfg.Queue.PollInterval, queueLog)
	gw.alarmConsumer = alarm.NewConsumer(sys, gw.alarmQueue, cfg.Queue.VisibilityTimeout, cfg.Queue.PollInterval, queueLog)

	entries := make([]reminder.Entry, 0, len(cfg.Reminders))
	for _, r := range cfg.Reminders {
		entries = append(entries, reminder.Entry{Schedule: r.Schedule, Message: r.Message})
	}
	gw.recurring, err = reminder.NewRecurring(sys, entries, loc, log.Component("reminder"))
	if err != nil {
		return nil, fmt.Errorf("scheduling reminders: %w", err)
	}

	return gw, nil
}

// children lists supervised actors in start order. State owners start
// before the pools that feed them, and the dispatcher starts last so it
// never routes into a gap.
func (gw *gateway) children() []supervisor.ChildSpec {
	cfg := gw.cfg
	workers := cfg.Runtime.DeviceWorkers

	doorDeps := door.Deps{
		System:      gw.sys,
		Readings:    gw.store,
		States:      gw.states,
		Telemetry:   gw.telemetry,
		Hub:         gw.hub,
		Notifier:    gw.notifier,
		Doors:       doorSettings(cfg.Devices.Doors),
		QuietWindow: cfg.Devices.DoorQuietWindow,
		Logger:      gw.log.Component("door"),
	}
	applianceDeps := appliance.Deps{
		System:     gw.sys,
		Readings:   gw.store,
		States:     gw.states,
		Telemetry:  gw.telemetry,
		Hub:        gw.hub,
		Notifier:   gw.notifier,
		Appliances: applianceSettings(cfg.Devices.Appliances),
		Logger:     gw.log.Component("appliance"),
	}
	lightDeps := light.Deps{
		System:    gw.sys,
		Store:     gw.store,
		Publisher: gw.mqtt,
		Names:     gw.directory,
		Topics:    gw.mqtt.Topics(),
		Hub:       gw.hub,
		Logger:    gw.log.Component("light"),
	}
	triggerDeps := trigger.Deps{
		System:    gw.sys,
		Workflows: gw.workflows,
		Switches:  triggerSettings(cfg.Devices.Switches),
		Presence:  triggerSettings(cfg.Devices.Presence),
		Logger:    gw.log.Component("trigger"),
	}
	alarmCfg := alarm.Config{
		System:    gw.sys,
		KV:        gw.db,
		Queue:     gw.alarmQueue,
		Workflows: gw.workflows,
		Workflow:  cfg.Alarm.Workflow,
		Lead:      cfg.Alarm.Lead,
		Logger:    gw.log.Component("alarm"),
	}

	return []supervisor.ChildSpec{
		child(door.DerivedName, func() (*actor.Ref[door.Msg], error) { return door.StartDerived(doorDeps) }),
		child(door.ArmedName, func() (*actor.Ref[door.Msg], error) { return door.StartArmed(doorDeps) }),
		child(appliance.StateName, func() (*actor.Ref[device.Message], error) { return appliance.StartState(applianceDeps) }),
		child(reminder.Name, func() (*actor.Ref[reminder.Msg], error) {
			return reminder.Start(gw.sys, gw.reminderQueue, gw.notifier, gw.log.Component("reminder"))
		}),
		child(alarm.Name, func() (*actor.Ref[alarm.Msg], error) { return alarm.Start(alarmCfg) }),
		child(door.SensorPoolName, func() (*actor.Ref[device.Message], error) { return door.StartSensorPool(doorDeps, workers) }),
		child(appliance.PoolName, func() (*actor.Ref[device.Message], error) {
			return appliance.StartPlugPool(applianceDeps, workers)
		}),
		child(light.PoolName, func() (*actor.Ref[device.Message], error) { return light.StartPool(lightDeps, workers) }),
		child(climate.PoolName, func() (*actor.Ref[device.Message], error) {
			return climate.StartPool(gw.sys, workers, gw.telemetry, gw.climate)
		}),
		child(trigger.SwitchPoolName, func() (*actor.Ref[device.Message], error) {
			return trigger.StartSwitchPool(triggerDeps, workers)
		}),
		child(trigger.PresencePoolName, func() (*actor.Ref[device.Message], error) {
			return trigger.StartPresencePool(triggerDeps, workers)
		}),
		child(workflow.PoolName, func() (*actor.Ref[workflow.Job], error) {
			return gw.engine.Start(cfg.Runtime.WorkflowWorkers)
		}),
		child(dispatcher.Name, func() (*actor.Ref[dispatcher.Message], error) {
			return gw.dispatcher.Start(cfg.Runtime.DispatcherWorkers)
		}),
	}
}

// maintenance prunes state history on a schedule until ctx ends.
func (gw *gateway) maintenance(ctx context.Context) error {
	days := gw.cfg.Database.HistoryRetentionDays
	if days <= 0 {
		return nil
	}
	retention := time.Duration(days) * 24 * time.Hour

	c := cron.New(cron.WithLocation(gw.loc))
	if _, err := c.AddFunc(historyPruneSchedule, func() {
		n, err := gw.states.PruneHistory(ctx, retention)
		if err != nil {
			gw.log.Error("pruning state history failed", "error", err)
			return
		}
		gw.log.Info("state history pruned", "rows", n, "retention_days", days)
	}); err != nil {
		return fmt.Errorf("scheduling history pruning: %w", err)
	}

	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	return nil
}

// child adapts a typed start function to a supervisor child spec.
func child[M any](name string, start func() (*actor.Ref[M], error)) supervisor.ChildSpec {
	return supervisor.ChildSpec{
		Name: name,
		Start: func(context.Context) (actor.Process, error) {
			ref, err := start()
			if err != nil {
				return nil, err
			}
			return ref, nil
		},
	}
}

func supervisorConfig(cfg *config.Config, log *logging.Logger) supervisor.Config {
	return supervisor.Config{
		RestartDelay:       cfg.Supervisor.RestartDelay,
		MaxRestartDelay:    cfg.Supervisor.MaxRestartDelay,
		StableThreshold:    cfg.Supervisor.StableThreshold,
		MaxRestartAttempts: cfg.Supervisor.MaxRestartAttempts,
		OnRestart: func(name string, attempt int, cause error) {
			log.Warn("restarting actor", "target", name, "attempt", attempt, "cause", cause)
		},
	}
}

func doorSettings(in map[string]config.DoorConfig) map[string]door.Settings {
	out := make(map[string]door.Settings, len(in))
	for ieee, d := range in {
		out[ieee] = door.Settings{Name: d.Name, OpenTimeout: d.OpenTimeout}
	}
	return out
}

func applianceSettings(in map[string]config.ApplianceConfig) map[string]appliance.Settings {
	out := make(map[string]appliance.Settings, len(in))
	for ieee, a := range in {
		out[ieee] = appliance.Settings{
			Name:         a.Name,
			OnThreshold:  a.OnThreshold,
			OffThreshold: a.OffThreshold,
			Window:       a.Window,
		}
	}
	return out
}

func triggerSettings(in map[string]config.TriggerConfig) map[string]trigger.Settings {
	out := make(map[string]trigger.Settings, len(in))
	for ieee, t := range in {
		out[ieee] = trigger.Settings{Name: t.Name, Actions: t.Actions}
	}
	return out
}

// healthCheck verifies all infrastructure connections are healthy.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - db: Database connection to check
//   - mqttClient: MQTT client to check
//   - influxClient: InfluxDB client to check (may be nil if disabled)
//
// Returns:
//   - error: First health check failure, or nil if all healthy
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
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

// ignoreCanceled treats a consumer stopping for shutdown as success.
func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
