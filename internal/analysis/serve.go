// Package analysis assembles the long-running lampwatch processes: the
// detection service, the motion listener and ledger initialization.
package analysis

import (
	"context"
	"fmt"
	"io"

	"golang.org/x/sync/errgroup"

	"github.com/lampwatch/lampwatch/internal/api"
	"github.com/lampwatch/lampwatch/internal/conf"
	"github.com/lampwatch/lampwatch/internal/datastore"
	"github.com/lampwatch/lampwatch/internal/detection"
	"github.com/lampwatch/lampwatch/internal/errors"
	"github.com/lampwatch/lampwatch/internal/httpclient"
	"github.com/lampwatch/lampwatch/internal/imagestore"
	"github.com/lampwatch/lampwatch/internal/logger"
	"github.com/lampwatch/lampwatch/internal/mqtt"
	"github.com/lampwatch/lampwatch/internal/notification"
	"github.com/lampwatch/lampwatch/internal/observability"
	"github.com/lampwatch/lampwatch/internal/pipeline"
	"github.com/lampwatch/lampwatch/internal/vision"
)

// GetLogger returns the analysis package logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("analysis")
}

// Serve runs the detection API and the MQTT supervisor until ctx is done.
// Only an unusable image directory or ledger stops it from starting; a
// missing broker or detector is reported through /health instead.
func Serve(ctx context.Context, settings *conf.Settings) error {
	log := GetLogger()

	m, err := observability.NewMetrics()
	if err != nil {
		return err
	}

	images, err := imagestore.New(settings.Storage.Path)
	if err != nil {
		return fmt.Errorf("failed to prepare image directory %s: %w", settings.Storage.Path, err)
	}
	defer closeQuietly(images, "image store")

	store := datastore.New(settings.Database)
	if err := store.Open(); err != nil {
		return fmt.Errorf("failed to open detection ledger: %w", err)
	}
	defer closeQuietly(store, "ledger")

	detector, closeDetector := loadDetector(settings.Detector)
	defer closeDetector()

	var (
		actuator   pipeline.Publisher
		mqttClient mqtt.Client
	)
	if settings.MQTT.Enabled {
		mqttClient = mqtt.NewClient(mqtt.ConfigFromSettings(settings.MQTT, ""), m.MQTT)
		connectBroker(ctx, mqttClient, settings.MQTT.Broker)
		defer mqttClient.Disconnect()
		actuator = mqttClient
	} else {
		log.Info("MQTT actuation disabled")
	}

	var notifier notification.Notifier
	if n, err := notification.New(settings.Notification); err != nil {
		log.Warn("push notifications disabled", logger.Error(err))
	} else if n != nil {
		notifier = n
	}

	hub := api.NewHub(m.HTTP)
	runner, err := pipeline.New(pipeline.Deps{
		Detector: detector,
		Images:   images,
		Ledger:   store,
		Actuator: actuator,
		Notifier: notifier,
		Metrics:  m.Pipeline,
		OnResult: hub.Broadcast,
	}, pipeline.Options{
		LampTopic:         settings.MQTT.LampTopic,
		NotifyTitle:       settings.Notification.Title,
		NotifyTimeout:     settings.Notification.Timeout,
		ActuationDisabled: !settings.MQTT.Enabled,
	})
	if err != nil {
		return err
	}

	fetcher := httpclient.New(&httpclient.Config{DefaultTimeout: settings.WebServer.FetchTimeout})
	defer fetcher.Close()

	opts := []api.ServerOption{
		api.WithRunner(runner),
		api.WithFetcher(fetcher),
		api.WithHistory(store),
		api.WithImages(images),
		api.WithReadiness(detector),
		api.WithMetrics(m),
		api.WithHub(hub),
	}
	if mqttClient != nil {
		opts = append(opts, api.WithBroker(mqttClient))
	}
	server, err := api.New(settings, opts...)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Run(gctx)
	})
	if mqttClient != nil {
		g.Go(func() error {
			mqttClient.Supervise(gctx)
			return nil
		})
	}
	return g.Wait()
}

// connectBroker makes one bounded connection attempt. Failure is not fatal:
// the supervisor keeps retrying and actuation fails fast meanwhile.
func connectBroker(ctx context.Context, client mqtt.Client, broker string) {
	if err := client.Connect(ctx); err != nil {
		GetLogger().Warn("MQTT broker unreachable, lamp actuation unavailable until it reconnects",
			logger.String("broker", broker),
			logger.Error(err))
		return
	}
	GetLogger().Info("connected to MQTT broker", logger.String("broker", broker))
}

func loadDetector(settings conf.DetectorSettings) (detection.Detector, func()) {
	engine, err := vision.New(vision.ParamsFromSettings(settings))
	if err != nil {
		GetLogger().Error("HOG people detector failed to initialize", logger.Error(err))
		return offlineDetector{cause: err}, func() {}
	}
	return engine, func() { _ = engine.Close() }
}

// offlineDetector stands in for an engine that failed to load so the
// service still answers /health with DOWN.
type offlineDetector struct {
	cause error
}

func (d offlineDetector) Ready() error {
	return d.cause
}

func (d offlineDetector) Decode([]byte) (detection.Frame, error) {
	return nil, d.fault()
}

func (d offlineDetector) Detect(detection.Frame) (detection.Result, error) {
	return detection.Result{}, d.fault()
}

func (d offlineDetector) fault() error {
	return errors.New(d.cause).
		Component("analysis").
		Category(errors.CategoryDetection).
		Build()
}

func closeQuietly(c io.Closer, what string) {
	if err := c.Close(); err != nil {
		GetLogger().Warn("close failed", logger.String("resource", what), logger.Error(err))
	}
}
