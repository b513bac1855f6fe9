// Package detection holds the detector-independent result types shared by the
// vision engine, the pipeline and the HTTP layer.
package detection

import (
	"encoding/json"
	"image"
)

// Box is an axis-aligned bounding box in pixel coordinates. All fields are >= 0.
type Box struct {
	X      int
	Y      int
	Width  int
	Height int
}

// BoxFromRect converts an image.Rectangle, clamping it to bounds.
func BoxFromRect(r, bounds image.Rectangle) Box {
	r = r.Intersect(bounds)
	if r.Empty() {
		return Box{}
	}
	return Box{X: r.Min.X, Y: r.Min.Y, Width: r.Dx(), Height: r.Dy()}
}

// Rect returns the box as an image.Rectangle.
func (b Box) Rect() image.Rectangle {
	return image.Rect(b.X, b.Y, b.X+b.Width, b.Y+b.Height)
}

// MarshalJSON encodes the box as [x, y, w, h].
func (b Box) MarshalJSON() ([]byte, error) {
	return json.Marshal([4]int{b.X, b.Y, b.Width, b.Height})
}

// UnmarshalJSON decodes [x, y, w, h].
func (b *Box) UnmarshalJSON(data []byte) error {
	var v [4]int
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*b = Box{X: v[0], Y: v[1], Width: v[2], Height: v[3]}
	return nil
}

// Object is one detected person. Confidence is the linear SVM margin and may be negative.
type Object struct {
	Box        Box     `json:"box"`
	Confidence float64 `json:"confidence"`
}

// Result is the outcome of running the detector over one image.
type Result struct {
	Objects []Object
}

// Detected reports whether at least one person was found.
func (r Result) Detected() bool {
	return len(r.Objects) > 0
}

// PersonCount is the number of detected objects.
func (r Result) PersonCount() int {
	return len(r.Objects)
}

// Frame is a decoded image owned by the engine that produced it.
type Frame interface {
	Bounds() image.Rectangle
	Close() error
}

// Detector decodes and analyzes images.
type Detector interface {
	// Decode fails with an image-decode category error when raw is not a supported encoding.
	Decode(raw []byte) (Frame, error)
	// Detect fails with a detection category error on any internal fault.
	Detect(frame Frame) (Result, error)
	// Ready reports whether the detector initialized successfully.
	Ready() error
}
