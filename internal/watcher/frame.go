package watcher

import (
	"errors"
	"image"
	"image/color"
	"time"

	"github.com/alfredjeanlab/homewatch/internal/model"
)

// Frame is a single captured camera image.
type Frame struct {
	Image      image.Image
	JPEG       []byte // encoded form served as the snapshot
	Width      int
	Height     int
	CapturedAt time.Time
}

// ErrSizeMismatch is returned by DiffMask when the two frames differ in size.
var ErrSizeMismatch = errors.New("frame size mismatch")

// Mask marks the pixels that changed between two frames.
type Mask struct {
	Width  int
	Height int
	Pix    []bool // row-major, len = Width*Height
}

// Count returns the number of changed pixels.
func (m *Mask) Count() int {
	n := 0
	for _, v := range m.Pix {
		if v {
			n++
		}
	}
	return n
}

// Preprocess converts img to grayscale and smooths it with a box blur.
func Preprocess(img image.Image, blurRadius int) *image.Gray {
	return BoxBlur(Grayscale(img), blurRadius)
}

// Grayscale returns a luminance copy of img with its origin at (0,0).
func Grayscale(img image.Image) *image.Gray {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	out := image.NewGray(image.Rect(0, 0, w, h))

	switch src := img.(type) {
	case *image.Gray:
		for y := 0; y < h; y++ {
			i := src.PixOffset(b.Min.X, b.Min.Y+y)
			copy(out.Pix[y*out.Stride:y*out.Stride+w], src.Pix[i:i+w])
		}
	case *image.YCbCr:
		// The Y plane is already luma.
		for y := 0; y < h; y++ {
			i := src.YOffset(b.Min.X, b.Min.Y+y)
			copy(out.Pix[y*out.Stride:y*out.Stride+w], src.Y[i:i+w])
		}
	default:
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				g := color.GrayModel.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.Gray)
				out.Pix[y*out.Stride+x] = g.Y
			}
		}
	}
	return out
}

// BoxBlur averages each pixel over a (2r+1)x(2r+1) window, shrinking the
// window at the edges. A radius of 0 returns an unmodified copy.
func BoxBlur(src *image.Gray, radius int) *image.Gray {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	out := image.NewGray(image.Rect(0, 0, w, h))
	if radius <= 0 || w == 0 || h == 0 {
		for y := 0; y < h; y++ {
			i := src.PixOffset(b.Min.X, b.Min.Y+y)
			copy(out.Pix[y*out.Stride:y*out.Stride+w], src.Pix[i:i+w])
		}
		return out
	}

	// Separable: horizontal pass into tmp, vertical pass into out.
	tmp := make([]uint8, w*h)
	prefix := make([]int, max(w, h)+1)
	for y := 0; y < h; y++ {
		row := src.Pix[src.PixOffset(b.Min.X, b.Min.Y+y):]
		for x := 0; x < w; x++ {
			prefix[x+1] = prefix[x] + int(row[x])
		}
		for x := 0; x < w; x++ {
			lo, hi := max(0, x-radius), min(w-1, x+radius)
			tmp[y*w+x] = uint8((prefix[hi+1] - prefix[lo]) / (hi - lo + 1))
		}
	}
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			prefix[y+1] = prefix[y] + int(tmp[y*w+x])
		}
		for y := 0; y < h; y++ {
			lo, hi := max(0, y-radius), min(h-1, y+radius)
			out.Pix[y*out.Stride+x] = uint8((prefix[hi+1] - prefix[lo]) / (hi - lo + 1))
		}
	}
	return out
}

// DiffMask marks every pixel whose absolute difference between baseline
// and current exceeds threshold.
func DiffMask(baseline, current *image.Gray, threshold int) (*Mask, error) {
	bb, cb := baseline.Bounds(), current.Bounds()
	if bb.Dx() != cb.Dx() || bb.Dy() != cb.Dy() {
		return nil, ErrSizeMismatch
	}
	w, h := bb.Dx(), bb.Dy()
	m := &Mask{Width: w, Height: h, Pix: make([]bool, w*h)}
	for y := 0; y < h; y++ {
		bi := baseline.PixOffset(bb.Min.X, bb.Min.Y+y)
		ci := current.PixOffset(cb.Min.X, cb.Min.Y+y)
		for x := 0; x < w; x++ {
			d := int(baseline.Pix[bi+x]) - int(current.Pix[ci+x])
			if d < 0 {
				d = -d
			}
			m.Pix[y*w+x] = d > threshold
		}
	}
	return m, nil
}

// ChangedArea returns the total size of the 4-connected changed regions
// holding at least minRegion pixels. Smaller regions are treated as noise.
func ChangedArea(m *Mask, minRegion int) int {
	w, h := m.Width, m.Height
	seen := make([]bool, len(m.Pix))
	var stack []int
	total := 0

	for start, changed := range m.Pix {
		if !changed || seen[start] {
			continue
		}
		size := 0
		seen[start] = true
		stack = append(stack[:0], start)
		for len(stack) > 0 {
			i := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			size++

			x, y := i%w, i/w
			for _, n := range [4]int{
				neighbor(x-1, y, w, h),
				neighbor(x+1, y, w, h),
				neighbor(x, y-1, w, h),
				neighbor(x, y+1, w, h),
			} {
				if n >= 0 && m.Pix[n] && !seen[n] {
					seen[n] = true
					stack = append(stack, n)
				}
			}
		}
		if size >= minRegion {
			total += size
		}
	}
	return total
}

func neighbor(x, y, w, h int) int {
	if x < 0 || y < 0 || x >= w || y >= h {
		return -1
	}
	return y*w + x
}

// severityFor grades motion by the fraction of the frame that changed.
func severityFor(area, width, height int) model.Severity {
	total := width * height
	if total <= 0 {
		return model.SeverityLow
	}
	switch frac := float64(area) / float64(total); {
	case frac < 0.05:
		return model.SeverityLow
	case frac < 0.20:
		return model.SeverityMedium
	default:
		return model.SeverityHigh
	}
}
