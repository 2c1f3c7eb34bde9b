package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"Plugweave/internal/api"
	"Plugweave/internal/config"
	"Plugweave/internal/discovery"
	"Plugweave/internal/engine"
	"Plugweave/internal/observability/alerting"
	"Plugweave/internal/observability/metrics"
	"Plugweave/internal/outcome"
	"Plugweave/pkg/logger"
	"Plugweave/pkg/plugin"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatalf("plugweaved failed: %v", err)
	}
}

func run(ctx context.Context) error {
	configPath := os.Getenv("PLUGWEAVE_CONFIG")
	if configPath == "" {
		configPath = filepath.Join("configs", "plugweave.json")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if err := logger.Init(logger.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		OutputPaths: cfg.Logging.OutputPaths,
		Audit:       logger.AuditConfig{Enabled: cfg.Logging.AuditPath != "", Path: cfg.Logging.AuditPath},
	}); err != nil {
		return err
	}

	store, err := newIndexStore(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.L().Warn("close index store", "error", err)
		}
	}()

	queue, err := newOutcomeQueue(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := queue.Close(); err != nil {
			logger.L().Warn("close outcome queue", "error", err)
		}
	}()

	engineOpts := []engine.Option{
		engine.WithOutcomeProducer(queue),
		engine.WithQueryLimit(cfg.Engine.QueryLimit),
	}
	if dispatcher := newAlertDispatcher(cfg); dispatcher != nil {
		engineOpts = append(engineOpts, engine.WithAlertDispatcher(dispatcher))
	}
	eng, err := engine.New(ctx, store, engineOpts...)
	if err != nil {
		return err
	}

	if cfg.Plugins.ManifestPath != "" {
		manifest, err := plugin.LoadManifest(cfg.Plugins.ManifestPath)
		if err != nil {
			return err
		}
		if err := eng.LoadManifest(ctx, manifest); err != nil {
			return err
		}
	}

	recorder, err := outcome.NewRecorder(eng.Index(), queue,
		outcome.WithWorkerCount(cfg.Outcome.Workers))
	if err != nil {
		return err
	}

	recorderCtx, recorderCancel := context.WithCancel(ctx)
	defer recorderCancel()
	go func() {
		if err := recorder.Start(recorderCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.L().Error("outcome recorder exited", "error", err)
		}
	}()

	go func() {
		if err := metrics.StartServer(ctx, cfg.Server.MetricsAddress); err != nil && !errors.Is(err, context.Canceled) {
			logger.L().Error("metrics server exited", "error", err)
		}
	}()

	server := api.NewServer(cfg.Server.Address, eng)
	logger.L().Info("plugweaved started",
		"address", cfg.Server.Address,
		"metrics_address", cfg.Server.MetricsAddress,
		"index_driver", cfg.Index.Driver,
		"outcome_driver", cfg.Outcome.Driver)

	if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func newIndexStore(cfg *config.Config) (discovery.Store, error) {
	switch cfg.Index.Driver {
	case "", "memory":
		return discovery.NewMemoryStore(), nil
	case "mysql":
		return discovery.NewMySQLStore(cfg.Index.DSN)
	default:
		return nil, fmt.Errorf("unknown index driver: %s", cfg.Index.Driver)
	}
}

func newAlertDispatcher(cfg *config.Config) alerting.Dispatcher {
	var notifiers []alerting.Notifier
	if cfg.Alerting.WebhookURL != "" {
		notifiers = append(notifiers, &alerting.WebhookNotifier{
			Sender: alerting.NewHTTPWebhookSender(cfg.Alerting.WebhookURL),
		})
	}
	if cfg.Alerting.SlackWebhookURL != "" && cfg.Alerting.SlackChannel != "" {
		notifiers = append(notifiers, &alerting.SlackNotifier{
			Sender:    alerting.NewSlackWebhookSender(cfg.Alerting.SlackWebhookURL),
			ChannelID: cfg.Alerting.SlackChannel,
		})
	}
	if len(notifiers) == 0 {
		return nil
	}
	return alerting.NewFanout(notifiers...)
}

func newOutcomeQueue(cfg *config.Config) (outcome.Queue, error) {
	switch cfg.Outcome.Driver {
	case "", "memory":
		return outcome.NewMemoryQueue(cfg.Outcome.Buffer), nil
	case "redis":
		return outcome.NewRedisQueue(outcome.RedisQueueConfig{
			Address:   cfg.Outcome.Redis.Address,
			Password:  cfg.Outcome.Redis.Password,
			DB:        cfg.Outcome.Redis.DB,
			Queue:     cfg.Outcome.Redis.Queue,
			BlockWait: 5 * time.Second,
		})
	case "rabbitmq":
		return outcome.NewRabbitMQQueue(outcome.RabbitMQConfig{
			URL:      cfg.Outcome.RabbitMQ.URL,
			Queue:    cfg.Outcome.RabbitMQ.Queue,
			Prefetch: cfg.Outcome.RabbitMQ.Prefetch,
			Durable:  cfg.Outcome.RabbitMQ.Durable,
		})
	default:
		return nil, fmt.Errorf("unknown outcome queue driver: %s", cfg.Outcome.Driver)
	}
}
