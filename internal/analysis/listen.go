package analysis

import (
	"context"
	"net/http"

	"golang.org/x/sync/errgroup"

	"github.com/lampwatch/lampwatch/internal/conf"
	"github.com/lampwatch/lampwatch/internal/httpclient"
	"github.com/lampwatch/lampwatch/internal/listener"
	"github.com/lampwatch/lampwatch/internal/logger"
	"github.com/lampwatch/lampwatch/internal/mqtt"
	"github.com/lampwatch/lampwatch/internal/privacy"
)

// Listen subscribes to motion events and forwards camera snapshots to the
// detection service until ctx is done. The motion subscription is restored
// whenever the broker connection comes back.
func Listen(ctx context.Context, settings *conf.Settings) error {
	cfg := settings.Listener
	client := mqtt.NewClient(mqtt.ConfigFromSettings(settings.MQTT, cfg.ClientID), nil)
	connectBroker(ctx, client, settings.MQTT.Broker)
	defer client.Disconnect()

	httpc := httpclient.New(&httpclient.Config{DefaultTimeout: cfg.DetectorTimeout})
	defer httpc.Close()
	httpc.SetAfterResponseHook(traceResponse)

	GetLogger().Info("motion listener starting",
		logger.String("topic", cfg.MotionTopic),
		logger.String("camera_url", privacy.SanitizeURL(cfg.CameraURL)),
		logger.String("detector_url", privacy.SanitizeURL(cfg.DetectorURL)),
		logger.Duration("cooldown", cfg.Cooldown))

	l := listener.New(cfg, client, httpc)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return l.Run(gctx)
	})
	g.Go(func() error {
		client.Supervise(gctx)
		return nil
	})
	return g.Wait()
}

// traceResponse logs every outbound request at debug level.
func traceResponse(req *http.Request, resp *http.Response, err error) {
	fields := []logger.Field{
		logger.String("method", req.Method),
		logger.String("url", privacy.SanitizeURL(req.URL.String())),
	}
	if resp != nil {
		fields = append(fields, logger.Int("status", resp.StatusCode))
	}
	if err != nil {
		fields = append(fields, logger.Error(privacy.WrapError(err)))
	}
	GetLogger().Debug("outbound request", fields...)
}
