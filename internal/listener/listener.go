// Package listener turns motion events from the broker into detection
// requests: it fetches a camera snapshot and uploads it to the detection API.
package listener

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/antonholmquist/jason"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/lampwatch/lampwatch/internal/conf"
	"github.com/lampwatch/lampwatch/internal/errors"
	"github.com/lampwatch/lampwatch/internal/httpclient"
	"github.com/lampwatch/lampwatch/internal/logger"
	"github.com/lampwatch/lampwatch/internal/mqtt"
	"github.com/lampwatch/lampwatch/internal/privacy"
)

const (
	componentName    = "listener"
	snapshotFilename = "motion_snapshot.jpg"
	snapshotType     = "image/jpeg"
)

// Subscriber registers a handler for a topic.
type Subscriber interface {
	Subscribe(topic string, handler mqtt.MessageHandler) error
}

// HTTPDoer is the outbound HTTP surface the listener needs.
type HTTPDoer interface {
	FetchBytes(ctx context.Context, url string) ([]byte, error)
	PostMultipart(ctx context.Context, url string, part httpclient.FilePart) (int, []byte, error)
}

// Motion is the decoded value of a motion event.
type Motion int

const (
	MotionInvalid Motion = iota
	MotionStarted
	MotionStopped
)

// Report summarizes the detection service reply to one capture cycle.
type Report struct {
	Status        string
	HumanDetected bool
}

// Listener handles motion events. Create it with New and start it with Run.
type Listener struct {
	cfg     conf.ListenerSettings
	sub     Subscriber
	http    HTTPDoer
	limiter *rate.Limiter
	group   singleflight.Group
	log     logger.Logger

	mu      sync.Mutex
	ctx     context.Context
	stopped bool
	running sync.WaitGroup
}

// New creates a listener. A zero cooldown disables rate limiting.
func New(cfg conf.ListenerSettings, sub Subscriber, client HTTPDoer) *Listener {
	l := &Listener{
		cfg:  cfg,
		sub:  sub,
		http: client,
		log:  GetLogger(),
		ctx:  context.Background(),
	}
	if cfg.Cooldown > 0 {
		l.limiter = rate.NewLimiter(rate.Every(cfg.Cooldown), 1)
	}
	return l
}

// Run subscribes to the motion topic and blocks until ctx is done, then waits
// for in-flight capture cycles.
func (l *Listener) Run(ctx context.Context) error {
	l.mu.Lock()
	l.ctx = ctx
	l.mu.Unlock()

	if err := l.sub.Subscribe(l.cfg.MotionTopic, l.HandleMessage); err != nil {
		return err
	}
	l.log.Info("listening for motion events", logger.String("topic", l.cfg.MotionTopic))

	<-ctx.Done()
	l.mu.Lock()
	l.stopped = true
	l.mu.Unlock()
	l.running.Wait()
	return nil
}

// HandleMessage is the broker callback. Capture cycles run on their own
// goroutine so the callback never blocks the broker client.
func (l *Listener) HandleMessage(topic string, payload []byte) {
	motion, err := ParseMotion(payload)
	if err != nil {
		l.log.Warn("could not decode motion payload",
			logger.String("topic", topic),
			logger.String("payload", string(payload)),
			logger.Error(err))
		return
	}

	switch motion {
	case MotionStopped:
		l.log.Debug("no motion, ignoring", logger.String("topic", topic))
		return
	case MotionInvalid:
		l.log.Warn("invalid payload", logger.String("topic", topic), logger.String("payload", string(payload)))
		return
	}

	if l.limiter != nil && !l.limiter.Allow() {
		l.log.Debug("motion event within cooldown, skipping", logger.Duration("cooldown", l.cfg.Cooldown))
		return
	}

	// Add under mu so it never races the Wait in Run.
	l.mu.Lock()
	ctx := l.ctx
	if l.stopped || ctx.Err() != nil {
		l.mu.Unlock()
		return
	}
	l.running.Add(1)
	l.mu.Unlock()

	l.log.Info("motion detected, capturing snapshot", logger.String("camera", privacy.SanitizeURL(l.cfg.CameraURL)))
	go func() {
		defer l.running.Done()
		_, _ = l.Capture(ctx)
	}()
}

// Capture runs one capture cycle. Concurrent calls share the cycle already in
// flight instead of starting another.
func (l *Listener) Capture(ctx context.Context) (*Report, error) {
	v, err, shared := l.group.Do(l.cfg.CameraURL, func() (any, error) {
		return l.capture(ctx)
	})
	if shared {
		l.log.Debug("joined capture cycle in progress")
	}
	if err != nil {
		return nil, err
	}
	return v.(*Report), nil
}

func (l *Listener) capture(ctx context.Context) (*Report, error) {
	start := time.Now()

	camCtx, cancel := context.WithTimeout(ctx, l.cfg.CameraTimeout)
	image, err := l.http.FetchBytes(camCtx, l.cfg.CameraURL)
	cancel()
	if err != nil {
		l.log.Warn("failed to fetch snapshot from camera",
			logger.String("camera", privacy.SanitizeURL(l.cfg.CameraURL)),
			logger.Error(privacy.WrapError(err)))
		return nil, err
	}

	detCtx, cancel := context.WithTimeout(ctx, l.cfg.DetectorTimeout)
	defer cancel()
	status, body, err := l.http.PostMultipart(detCtx, l.cfg.DetectorURL, httpclient.FilePart{
		Field:       "file",
		Filename:    snapshotFilename,
		ContentType: snapshotType,
		Data:        image,
	})
	if err != nil {
		l.log.Warn("failed to reach detection service",
			logger.String("detector", privacy.SanitizeURL(l.cfg.DetectorURL)),
			logger.Error(err))
		return nil, err
	}
	if status < 200 || status > 299 {
		err := errors.Newf("detection service returned %d %s", status, http.StatusText(status)).
			Component(componentName).
			Category(errors.CategoryNetwork).
			Context("detector", l.cfg.DetectorURL).
			Context("status_code", status).
			Build()
		l.log.Warn("detection service error", logger.Int("status", status), logger.String("body", truncate(body, 200)))
		return nil, err
	}

	report, err := ParseReport(body)
	if err != nil {
		l.log.Warn("unexpected detection service reply", logger.Error(err))
		return nil, err
	}

	l.log.Info("detection service replied",
		logger.String("status", report.Status),
		logger.Bool("human_detected", report.HumanDetected),
		logger.Int("snapshot_bytes", len(image)),
		logger.Duration("elapsed", time.Since(start)))
	return report, nil
}

// ParseMotion decodes {"status_motion": 1|0}. Well-formed JSON without a
// numeric 1 or 0 in status_motion yields MotionInvalid and no error.
func ParseMotion(payload []byte) (Motion, error) {
	obj, err := jason.NewObjectFromBytes(payload)
	if err != nil {
		return MotionInvalid, errors.New(err).
			Component(componentName).
			Category(errors.CategoryValidation).
			Build()
	}
	v, err := obj.GetFloat64("status_motion")
	if err != nil {
		return MotionInvalid, nil
	}
	switch v {
	case 1:
		return MotionStarted, nil
	case 0:
		return MotionStopped, nil
	default:
		return MotionInvalid, nil
	}
}

// ParseReport reads status and human_detected from a pipeline reply. Missing
// fields keep their zero value.
func ParseReport(body []byte) (*Report, error) {
	obj, err := jason.NewObjectFromBytes(body)
	if err != nil {
		return nil, errors.New(fmt.Errorf("decoding reply: %w", err)).
			Component(componentName).
			Category(errors.CategoryValidation).
			Build()
	}
	r := &Report{}
	r.Status, _ = obj.GetString("status")
	r.HumanDetected, _ = obj.GetBoolean("human_detected")
	return r, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

// GetLogger returns the listener module logger.
func GetLogger() logger.Logger {
	return logger.Global().Module(componentName)
}
