package pipeline

import (
	"github.com/lampwatch/lampwatch/internal/datastore"
	"github.com/lampwatch/lampwatch/internal/detection"
	"github.com/lampwatch/lampwatch/internal/errors"
)

// StatusSuccess is the status of every completed run.
const StatusSuccess = "success"

// Step names a pipeline stage in a StepOutcome.
type Step string

const (
	StepDetect          Step = "detect"
	StepSaveImage       Step = "save_image"
	StepAppendEvent     Step = "append_event"
	StepActuate         Step = "actuate"
	StepAppendLampState Step = "append_lamp_state"
	StepNotify          Step = "notify"
)

// StepOutcome is the result of one executed stage.
type StepOutcome struct {
	Step  Step                 `json:"step"`
	OK    bool                 `json:"ok"`
	Fault errors.ErrorCategory `json:"fault,omitempty"`
	Err   string               `json:"error,omitempty"`
}

// Result is the response of a completed run.
type Result struct {
	Status        string             `json:"status"`
	HumanDetected bool               `json:"human_detected"`
	PersonCount   int                `json:"person_count"`
	Detections    []detection.Object `json:"detections"`
	ImageFilename *string            `json:"image_filename"`
	Message       string             `json:"message"`
	MQTTStatus    string             `json:"mqtt_status,omitempty"`
	Steps         []StepOutcome      `json:"-"`
}

func (r *Result) record(step Step, err error) {
	out := StepOutcome{Step: step, OK: err == nil}
	if err != nil {
		out.Fault = errors.CategoryOf(err)
		out.Err = err.Error()
	}
	r.Steps = append(r.Steps, out)
}

// Outcome returns the outcome of step and whether it ran.
func (r *Result) Outcome(step Step) (StepOutcome, bool) {
	for _, s := range r.Steps {
		if s.Step == step {
			return s, true
		}
	}
	return StepOutcome{}, false
}

// FaultCount is the number of failed stages.
func (r *Result) FaultCount() int {
	n := 0
	for _, s := range r.Steps {
		if !s.OK {
			n++
		}
	}
	return n
}

// LampCommand is the actuation payload, e.g. {"status":"on"}.
type LampCommand struct {
	Status datastore.LampState `json:"status"`
}
