// Package vision runs the HOG people detector over encoded images using OpenCV.
package vision

import (
	"fmt"
	"image"
	"sync/atomic"

	"gocv.io/x/gocv"

	"github.com/lampwatch/lampwatch/internal/conf"
	"github.com/lampwatch/lampwatch/internal/detection"
	"github.com/lampwatch/lampwatch/internal/errors"
	"github.com/lampwatch/lampwatch/internal/logger"
	"github.com/lampwatch/lampwatch/internal/vision/hog"
)

const componentName = "vision"

// Params are the multi-scale detection parameters passed to OpenCV.
type Params struct {
	WinStride         image.Point
	Padding           image.Point
	Scale             float64
	HitThreshold      float64
	FinalThreshold    float64
	MeanshiftGrouping bool
}

// DefaultParams favor sensitivity: a negative hit threshold keeps weak windows.
func DefaultParams() Params {
	return Params{
		WinStride:      image.Pt(4, 4),
		Padding:        image.Pt(8, 8),
		Scale:          1.05,
		HitThreshold:   -0.2,
		FinalThreshold: 2.0,
	}
}

// ParamsFromSettings maps the detector configuration section.
func ParamsFromSettings(s conf.DetectorSettings) Params {
	return Params{
		WinStride:         image.Pt(s.WinStride.X, s.WinStride.Y),
		Padding:           image.Pt(s.Padding.X, s.Padding.Y),
		Scale:             s.Scale,
		HitThreshold:      s.HitThreshold,
		FinalThreshold:    s.FinalThreshold,
		MeanshiftGrouping: s.MeanshiftGrouping,
	}
}

// Engine is the OpenCV backed detection.Detector. Detection is read-only on
// the HOG model, so one Engine serves concurrent requests.
type Engine struct {
	params     Params
	hog        gocv.HOGDescriptor
	svm        []float32
	descriptor *hog.Descriptor
	log        logger.Logger
	closed     atomic.Bool
}

// New loads the default people detector into a HOG descriptor.
func New(params Params) (*Engine, error) {
	detector := gocv.HOGDefaultPeopleDetector()
	defer detector.Close()

	coeffs, err := detector.DataPtrFloat32()
	if err != nil {
		return nil, errors.New(err).
			Component(componentName).
			Category(errors.CategoryDetection).
			Context("operation", "load_people_detector").
			Build()
	}
	if len(coeffs) != hog.DescriptorSize+1 {
		return nil, errors.Newf("people detector has %d coefficients, want %d", len(coeffs), hog.DescriptorSize+1).
			Component(componentName).
			Category(errors.CategoryDetection).
			Build()
	}

	h := gocv.NewHOGDescriptor()
	h.SetSVMDetector(detector)

	e := &Engine{
		params:     params,
		hog:        h,
		svm:        append([]float32(nil), coeffs...),
		descriptor: hog.New(),
		log:        GetLogger(),
	}
	e.log.Info("HOG people detector ready",
		logger.Any("win_stride", []int{params.WinStride.X, params.WinStride.Y}),
		logger.Any("padding", []int{params.Padding.X, params.Padding.Y}),
		logger.Float64("scale", params.Scale),
		logger.Float64("hit_threshold", params.HitThreshold),
		logger.Float64("final_threshold", params.FinalThreshold))
	return e, nil
}

// Ready reports whether the engine can serve detections.
func (e *Engine) Ready() error {
	if e == nil || e.closed.Load() {
		return errors.NewStd("HOG object failed to initialize.")
	}
	return nil
}

// Close releases the OpenCV descriptor.
func (e *Engine) Close() error {
	if e.closed.Swap(true) {
		return nil
	}
	return e.hog.Close()
}

type matFrame struct {
	mat gocv.Mat
}

func (f *matFrame) Bounds() image.Rectangle {
	return image.Rect(0, 0, f.mat.Cols(), f.mat.Rows())
}

func (f *matFrame) Close() error {
	return f.mat.Close()
}

// Decode turns encoded bytes into a BGR frame.
func (e *Engine) Decode(raw []byte) (detection.Frame, error) {
	if len(raw) == 0 {
		return nil, decodeError(errors.NewStd("empty image buffer"), 0)
	}
	mat, err := gocv.IMDecode(raw, gocv.IMReadColor)
	if err != nil {
		return nil, decodeError(err, len(raw))
	}
	if mat.Empty() {
		_ = mat.Close()
		return nil, decodeError(errors.NewStd("Could not decode image"), len(raw))
	}
	return &matFrame{mat: mat}, nil
}

func decodeError(err error, size int) error {
	return errors.New(err).
		Component(componentName).
		Category(errors.CategoryImageDecode).
		Context("size_bytes", size).
		Build()
}

// Detect runs the multi-scale scan. Boxes are clamped to the frame and reported
// in scan order; each carries the SVM margin of its window as confidence.
func (e *Engine) Detect(frame detection.Frame) (result detection.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = detection.Result{}
			err = errors.Newf("HOG analysis panicked: %v", r).
				Component(componentName).
				Category(errors.CategoryDetection).
				Build()
		}
	}()

	if err := e.Ready(); err != nil {
		return detection.Result{}, detectionError(err, "ready")
	}
	f, ok := frame.(*matFrame)
	if !ok || f == nil || f.mat.Empty() {
		return detection.Result{}, detectionError(fmt.Errorf("unsupported frame %T", frame), "frame")
	}

	gray := gocv.NewMat()
	defer gray.Close()
	if err := gocv.CvtColor(f.mat, &gray, gocv.ColorBGRToGray); err != nil {
		return detection.Result{}, detectionError(err, "grayscale")
	}

	rects := e.hog.DetectMultiScaleWithParams(gray,
		e.params.HitThreshold,
		e.params.WinStride,
		e.params.Padding,
		e.params.Scale,
		e.params.FinalThreshold,
		e.params.MeanshiftGrouping)

	bounds := f.Bounds()
	result.Objects = make([]detection.Object, 0, len(rects))
	for _, r := range rects {
		box := detection.BoxFromRect(r, bounds)
		confidence, err := e.score(gray, box)
		if err != nil {
			e.log.Debug("window rescoring failed", logger.Any("box", box), logger.Error(err))
		}
		result.Objects = append(result.Objects, detection.Object{Box: box, Confidence: confidence})
	}
	return result, nil
}

// score resizes the box to the detection window and evaluates the linear SVM.
func (e *Engine) score(gray gocv.Mat, box detection.Box) (float64, error) {
	if box.Width == 0 || box.Height == 0 {
		return 0, errors.NewStd("empty box")
	}
	region := gray.Region(box.Rect())
	defer region.Close()

	window := gocv.NewMat()
	defer window.Close()
	gocv.Resize(region, &window, image.Pt(hog.WindowWidth, hog.WindowHeight), 0, 0, gocv.InterpolationLinear)
	if window.Empty() {
		return 0, errors.NewStd("resize produced an empty window")
	}

	img, err := hog.GrayFromBytes(window.ToBytes(), hog.WindowWidth, hog.WindowHeight)
	if err != nil {
		return 0, err
	}
	desc, err := e.descriptor.Compute(img)
	if err != nil {
		return 0, err
	}
	return hog.Score(desc, e.svm)
}

func detectionError(err error, stage string) error {
	return errors.New(err).
		Component(componentName).
		Category(errors.CategoryDetection).
		Context("stage", stage).
		Build()
}

var _ detection.Detector = (*Engine)(nil)
