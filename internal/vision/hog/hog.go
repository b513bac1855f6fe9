// Package hog computes Histogram of Oriented Gradients descriptors for the
// 64x128 pedestrian detection window and scores them against a linear SVM.
//
// The layout follows OpenCV's default HOGDescriptor: 8x8 cells, 16x16 blocks
// with an 8 pixel stride, 9 unsigned orientation bins, gamma correction,
// Gaussian block weighting and L2-Hys normalization. Blocks and the cells
// inside them are stored column-major, which makes the descriptor compatible
// with the coefficients of the default people detector.
package hog

import (
	"fmt"
	"image"
	"math"
)

const (
	WindowWidth  = 64
	WindowHeight = 128
	CellSize     = 8
	BlockSize    = 16
	BlockStride  = 8
	Bins         = 9

	cellsPerBlockSide = BlockSize / CellSize
	cellsPerBlock     = cellsPerBlockSide * cellsPerBlockSide
	blocksX           = (WindowWidth-BlockSize)/BlockStride + 1
	blocksY           = (WindowHeight-BlockSize)/BlockStride + 1
	blockHistSize     = cellsPerBlock * Bins

	// DescriptorSize is the length of a window descriptor (3780).
	DescriptorSize = blocksX * blocksY * blockHistSize

	l2HysThreshold = 0.2
	winSigma       = float64(BlockSize+BlockSize) / 8
)

// Descriptor computes window descriptors. It is immutable and safe for concurrent use.
type Descriptor struct {
	gammaCorrection bool
	blockWeights    [BlockSize * BlockSize]float32
}

// New returns a Descriptor with OpenCV default parameters.
func New() *Descriptor {
	d := &Descriptor{gammaCorrection: true}

	scale := 1 / (2 * winSigma * winSigma)
	center := float64(BlockSize) / 2
	for y := range BlockSize {
		for x := range BlockSize {
			dx, dy := float64(x)-center, float64(y)-center
			d.blockWeights[y*BlockSize+x] = float32(math.Exp(-(dx*dx + dy*dy) * scale))
		}
	}
	return d
}

type gradient struct {
	bin    [2]int
	weight [2]float32
}

// Compute returns the descriptor of img, which must be exactly WindowWidth x WindowHeight.
func (d *Descriptor) Compute(img *image.Gray) ([]float32, error) {
	if img == nil {
		return nil, fmt.Errorf("hog: nil image")
	}
	b := img.Bounds()
	if b.Dx() != WindowWidth || b.Dy() != WindowHeight {
		return nil, fmt.Errorf("hog: window must be %dx%d, got %dx%d", WindowWidth, WindowHeight, b.Dx(), b.Dy())
	}

	grads := d.gradients(img)
	desc := make([]float32, DescriptorSize)

	for bx := range blocksX {
		for by := range blocksY {
			offset := (bx*blocksY + by) * blockHistSize
			hist := desc[offset : offset+blockHistSize]
			d.accumulateBlock(hist, grads, bx*BlockStride, by*BlockStride)
			normalizeL2Hys(hist)
		}
	}
	return desc, nil
}

// gradients computes per-pixel orientation bins with linear interpolation
// between neighboring bin centers.
func (d *Descriptor) gradients(img *image.Gray) []gradient {
	b := img.Bounds()
	var lut [256]float32
	for i := range lut {
		if d.gammaCorrection {
			lut[i] = float32(math.Sqrt(float64(i)))
		} else {
			lut[i] = float32(i)
		}
	}

	at := func(x, y int) float32 {
		x = reflect101(x, WindowWidth)
		y = reflect101(y, WindowHeight)
		return lut[img.Pix[img.PixOffset(b.Min.X+x, b.Min.Y+y)]]
	}

	out := make([]gradient, WindowWidth*WindowHeight)
	binWidth := math.Pi / Bins
	for y := range WindowHeight {
		for x := range WindowWidth {
			dx := float64(at(x+1, y) - at(x-1, y))
			dy := float64(at(x, y+1) - at(x, y-1))
			mag := math.Hypot(dx, dy)

			angle := math.Atan2(dy, dx)
			if angle < 0 {
				angle += math.Pi
			}
			pos := angle/binWidth - 0.5
			lo := int(math.Floor(pos))
			frac := pos - float64(lo)
			if lo < 0 {
				lo += Bins
			} else if lo >= Bins {
				lo -= Bins
			}
			hi := lo + 1
			if hi >= Bins {
				hi = 0
			}

			out[y*WindowWidth+x] = gradient{
				bin:    [2]int{lo, hi},
				weight: [2]float32{float32(mag * (1 - frac)), float32(mag * frac)},
			}
		}
	}
	return out
}

// accumulateBlock adds the Gaussian weighted gradients of one block to hist,
// spreading each pixel bilinearly over the surrounding cells.
func (d *Descriptor) accumulateBlock(hist []float32, grads []gradient, x0, y0 int) {
	for py := range BlockSize {
		cy := (float64(py)+0.5)/CellSize - 0.5
		cy0 := int(math.Floor(cy))
		fy := float32(cy - float64(cy0))

		for px := range BlockSize {
			cx := (float64(px)+0.5)/CellSize - 0.5
			cx0 := int(math.Floor(cx))
			fx := float32(cx - float64(cx0))

			g := grads[(y0+py)*WindowWidth+x0+px]
			w := d.blockWeights[py*BlockSize+px]

			for _, c := range [4]struct {
				x, y int
				w    float32
			}{
				{cx0, cy0, (1 - fx) * (1 - fy)},
				{cx0 + 1, cy0, fx * (1 - fy)},
				{cx0, cy0 + 1, (1 - fx) * fy},
				{cx0 + 1, cy0 + 1, fx * fy},
			} {
				if c.x < 0 || c.x >= cellsPerBlockSide || c.y < 0 || c.y >= cellsPerBlockSide || c.w == 0 {
					continue
				}
				base := (c.x*cellsPerBlockSide + c.y) * Bins
				hist[base+g.bin[0]] += g.weight[0] * w * c.w
				hist[base+g.bin[1]] += g.weight[1] * w * c.w
			}
		}
	}
}

// normalizeL2Hys applies L2 normalization, clipping at l2HysThreshold and renormalizing.
func normalizeL2Hys(hist []float32) {
	var sum float64
	for _, v := range hist {
		sum += float64(v) * float64(v)
	}
	scale := float32(1 / (math.Sqrt(sum) + float64(len(hist))*0.1))

	sum = 0
	for i, v := range hist {
		v = min(v*scale, l2HysThreshold)
		hist[i] = v
		sum += float64(v) * float64(v)
	}

	scale = float32(1 / (math.Sqrt(sum) + 1e-3))
	for i := range hist {
		hist[i] *= scale
	}
}

func reflect101(i, n int) int {
	if n == 1 {
		return 0
	}
	for i < 0 || i >= n {
		if i < 0 {
			i = -i
		} else {
			i = 2*n - i - 2
		}
	}
	return i
}

// Score returns the linear SVM margin: desc · w + bias, where the detector
// holds DescriptorSize weights followed by the bias term.
func Score(desc, detector []float32) (float64, error) {
	if len(desc) != DescriptorSize {
		return 0, fmt.Errorf("hog: descriptor has %d values, want %d", len(desc), DescriptorSize)
	}
	switch len(detector) {
	case DescriptorSize + 1, DescriptorSize:
	default:
		return 0, fmt.Errorf("hog: detector has %d coefficients, want %d", len(detector), DescriptorSize+1)
	}

	var s float64
	for i, v := range desc {
		s += float64(v) * float64(detector[i])
	}
	if len(detector) == DescriptorSize+1 {
		s += float64(detector[DescriptorSize])
	}
	return s, nil
}

// GrayFromBytes wraps a tightly packed 8-bit grayscale buffer.
func GrayFromBytes(pix []byte, width, height int) (*image.Gray, error) {
	if len(pix) != width*height {
		return nil, fmt.Errorf("hog: buffer has %d bytes, want %d", len(pix), width*height)
	}
	return &image.Gray{Pix: pix, Stride: width, Rect: image.Rect(0, 0, width, height)}, nil
}
