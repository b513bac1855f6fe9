// Package pipeline runs one image through decode, detection, persistence and
// lamp actuation. Only a decode failure aborts a run; every later fault is
// absorbed, logged, counted and reported in the result.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lampwatch/lampwatch/internal/datastore"
	"github.com/lampwatch/lampwatch/internal/detection"
	"github.com/lampwatch/lampwatch/internal/errors"
	"github.com/lampwatch/lampwatch/internal/logger"
	"github.com/lampwatch/lampwatch/internal/notification"
	"github.com/lampwatch/lampwatch/internal/observability/metrics"
)

const componentName = "pipeline"

// DefaultLampTopic is the topic lamp commands are published on.
const DefaultLampTopic = "lamp"

// ImageSaver persists raw image bytes and returns the stored name.
type ImageSaver interface {
	Save(raw []byte, detected bool) (string, error)
}

// Ledger is the part of the datastore the pipeline writes to.
type Ledger interface {
	AppendEvent(imageRef *string, personCount int) (*datastore.HistoryEntry, error)
	AppendLampState(status datastore.LampState) error
}

// Publisher sends an actuation message and waits for the broker acknowledgement.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
}

// Deps are the collaborators of a Pipeline. Detector, Images and Ledger are
// required. A nil Actuator makes every actuation fail; a nil Notifier
// disables notifications.
type Deps struct {
	Detector detection.Detector
	Images   ImageSaver
	Ledger   Ledger
	Actuator Publisher
	Notifier notification.Notifier
	Metrics  *metrics.PipelineMetrics
	// OnResult is called with every finished result, e.g. to feed live clients.
	OnResult func(*Result)
}

// Options tune a Pipeline.
type Options struct {
	LampTopic         string
	NotifyTitle       string
	NotifyTimeout     time.Duration
	ActuationDisabled bool
}

// Pipeline is safe for concurrent use; it keeps no state between runs.
type Pipeline struct {
	deps Deps
	opts Options
	log  logger.Logger
}

// New validates deps and returns a Pipeline.
func New(deps Deps, opts Options) (*Pipeline, error) {
	if deps.Detector == nil || deps.Images == nil || deps.Ledger == nil {
		return nil, errors.Newf("pipeline requires a detector, an image store and a ledger").
			Component(componentName).
			Category(errors.CategoryConfiguration).
			Build()
	}
	if opts.LampTopic == "" {
		opts.LampTopic = DefaultLampTopic
	}
	if opts.NotifyTitle == "" {
		opts.NotifyTitle = "Human detected"
	}
	if opts.NotifyTimeout <= 0 {
		opts.NotifyTimeout = 10 * time.Second
	}
	return &Pipeline{deps: deps, opts: opts, log: GetLogger()}, nil
}

// Run processes raw image bytes. It returns an image-decode error, and no
// side effects happen, when raw cannot be decoded; otherwise it always
// returns a result. Persistence and actuation run under a context detached
// from ctx so a caller going away never leaves a half-recorded run.
func (p *Pipeline) Run(ctx context.Context, raw []byte) (*Result, error) {
	start := time.Now()

	frame, err := p.decode(raw)
	if err != nil {
		p.deps.Metrics.RecordRun(metrics.VerdictRejected, 0, time.Since(start))
		return nil, err
	}
	defer func() { _ = frame.Close() }()

	ctx = context.WithoutCancel(ctx)
	res := &Result{Status: StatusSuccess, Detections: []detection.Object{}}

	found := p.detect(frame, res)
	detected := found.Detected()
	res.HumanDetected = detected
	res.PersonCount = found.PersonCount()
	if detected {
		res.Detections = found.Objects
	}

	res.ImageFilename = p.saveImage(raw, detected, res)
	p.appendEvent(res)

	var actuationErr error
	if detected {
		actuationErr = p.actuate(ctx, res)
		p.notify(ctx, res)
	}
	res.Message = summary(res.PersonCount, actuationErr)

	verdict := metrics.VerdictNotDetected
	if detected {
		verdict = metrics.VerdictDetected
	}
	p.deps.Metrics.RecordRun(verdict, res.PersonCount, time.Since(start))

	p.log.Info("pipeline run finished",
		logger.Bool("human_detected", detected),
		logger.Int("person_count", res.PersonCount),
		logger.Int("faults", res.FaultCount()),
		logger.Duration("elapsed", time.Since(start)))

	if p.deps.OnResult != nil {
		p.deps.OnResult(res)
	}
	return res, nil
}

func (p *Pipeline) decode(raw []byte) (detection.Frame, error) {
	if len(raw) == 0 {
		return nil, errors.Newf("empty image").
			Component(componentName).
			Category(errors.CategoryImageDecode).
			Build()
	}
	frame, err := p.deps.Detector.Decode(raw)
	if err != nil {
		if !errors.IsCategory(err, errors.CategoryImageDecode) {
			err = errors.New(err).
				Component(componentName).
				Category(errors.CategoryImageDecode).
				Build()
		}
		p.log.Info("image rejected", logger.Int("size", len(raw)), logger.Error(err))
		return nil, err
	}
	return frame, nil
}

// detect converts a detection fault into an empty result.
func (p *Pipeline) detect(frame detection.Frame, res *Result) detection.Result {
	found, err := p.deps.Detector.Detect(frame)
	if err != nil {
		p.absorb(res, StepDetect, metrics.FaultDetection, err)
		return detection.Result{}
	}
	res.record(StepDetect, nil)
	return found
}

func (p *Pipeline) saveImage(raw []byte, detected bool, res *Result) *string {
	name, err := p.deps.Images.Save(raw, detected)
	if err != nil {
		p.absorb(res, StepSaveImage, metrics.FaultImageStore, err)
		return nil
	}
	res.record(StepSaveImage, nil)
	return &name
}

func (p *Pipeline) appendEvent(res *Result) {
	if _, err := p.deps.Ledger.AppendEvent(res.ImageFilename, res.PersonCount); err != nil {
		p.absorb(res, StepAppendEvent, metrics.FaultLedgerEvent, err)
		return
	}
	res.record(StepAppendEvent, nil)
}

// actuate publishes the lamp command and, on success, records the new lamp
// state. It returns the publish error, if any.
func (p *Pipeline) actuate(ctx context.Context, res *Result) error {
	err := p.publish(ctx, datastore.LampOn)
	if err != nil {
		res.MQTTStatus = fmt.Sprintf("Failed to publish lamp command: %s", reason(err))
		p.absorb(res, StepActuate, metrics.FaultActuation, err)
		return err
	}
	res.MQTTStatus = fmt.Sprintf("Lamp command '%s' published to topic '%s'", datastore.LampOn, p.opts.LampTopic)
	res.record(StepActuate, nil)

	// Lamp state appends are not retried.
	if err := p.deps.Ledger.AppendLampState(datastore.LampOn); err != nil {
		res.record(StepAppendLampState, err)
		p.deps.Metrics.RecordFault(metrics.FaultLedgerLamp)
		p.log.Error("lamp state not recorded after successful publish",
			logger.String("topic", p.opts.LampTopic),
			logger.Error(err))
		return nil
	}
	res.record(StepAppendLampState, nil)
	return nil
}

func (p *Pipeline) publish(ctx context.Context, state datastore.LampState) error {
	if p.opts.ActuationDisabled || p.deps.Actuator == nil {
		return errors.Newf("MQTT actuation is disabled").
			Component(componentName).
			Category(errors.CategoryMQTTConnection).
			Build()
	}
	payload, err := json.Marshal(LampCommand{Status: state})
	if err != nil {
		return errors.New(err).
			Component(componentName).
			Category(errors.CategoryMQTTPublish).
			Build()
	}
	return p.deps.Actuator.Publish(ctx, p.opts.LampTopic, payload)
}

func (p *Pipeline) notify(ctx context.Context, res *Result) {
	if p.deps.Notifier == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, p.opts.NotifyTimeout)
	defer cancel()

	if err := p.deps.Notifier.Notify(ctx, p.opts.NotifyTitle, summary(res.PersonCount, nil)); err != nil {
		p.absorb(res, StepNotify, metrics.FaultNotification, err)
		return
	}
	res.record(StepNotify, nil)
}

func (p *Pipeline) absorb(res *Result, step Step, kind string, err error) {
	res.record(step, err)
	p.deps.Metrics.RecordFault(kind)
	p.log.Warn("pipeline step failed",
		logger.String("step", string(step)),
		logger.String("category", string(errors.CategoryOf(err))),
		logger.Error(err))
}

// summary is the human readable message of a run.
func summary(personCount int, actuationErr error) string {
	msg := "No human detected."
	if personCount > 0 {
		msg = fmt.Sprintf("Human detected. Total %d person(s) found.", personCount)
	}
	if actuationErr != nil {
		msg += " Lamp actuation failed: " + reason(actuationErr)
	}
	return msg
}

// reason is the innermost message of err, without wrapping prefixes added by
// enhanced errors.
func reason(err error) string {
	var ee *errors.EnhancedError
	if errors.As(err, &ee) && ee.Err != nil {
		return ee.Err.Error()
	}
	return err.Error()
}

// GetLogger returns the pipeline module logger.
func GetLogger() logger.Logger {
	return logger.Global().Module(componentName)
}
