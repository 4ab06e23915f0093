// Package geometry maps a guide rectangle drawn over the displayed video
// into the pixel space of the video source.
package geometry

import (
	"errors"
	"fmt"
	"image"
	"math"
)

var (
	// ErrGeometryNotReady is returned while the video has no intrinsic size
	// or is not laid out on screen yet. Callers skip the frame silently.
	ErrGeometryNotReady = errors.New("video geometry not ready")

	// ErrInvalidRegion is returned for a guide with a negative or NaN extent
	ErrInvalidRegion = errors.New("invalid guide region")
)

// Size is the intrinsic pixel size of a video source
type Size struct {
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// Rect is an axis-aligned rectangle
type Rect struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// Layout is the display geometry reported by the display layer. A nil Guide
// selects the whole frame.
type Layout struct {
	Video Rect  `json:"video"`
	Guide *Rect `json:"guide,omitempty"`
}

// SizeOf returns the size of an image's bounds
func SizeOf(img image.Image) Size {
	if img == nil {
		return Size{}
	}
	b := img.Bounds()
	return Size{W: float64(b.Dx()), H: float64(b.Dy())}
}

// Full returns the rectangle covering the whole source
func (s Size) Full() Rect {
	return Rect{W: s.W, H: s.H}
}

func (s Size) ready() bool {
	return s.W > 0 && s.H > 0 && !math.IsNaN(s.W) && !math.IsNaN(s.H)
}

func (r Rect) hasNaN() bool {
	return math.IsNaN(r.X) || math.IsNaN(r.Y) || math.IsNaN(r.W) || math.IsNaN(r.H)
}

// Pixels rounds the rectangle to integer pixel coordinates
func (r Rect) Pixels() image.Rectangle {
	x0 := int(math.Round(r.X))
	y0 := int(math.Round(r.Y))
	x1 := int(math.Round(r.X + r.W))
	y1 := int(math.Round(r.Y + r.H))
	return image.Rect(x0, y0, x1, y1)
}

// String implements fmt.Stringer
func (r Rect) String() string {
	return fmt.Sprintf("(%.1f,%.1f %.1fx%.1f)", r.X, r.Y, r.W, r.H)
}

// MapRegion converts a guide rectangle in display coordinates into a
// rectangle in the source's intrinsic pixel coordinates.
//
// The display is assumed to stretch the source to the video rectangle, so
// each axis is scaled independently. A nil guide maps to the whole frame.
// The result is not clipped to the frame.
func MapRegion(intrinsic Size, video Rect, guide *Rect) (Rect, error) {
	if !intrinsic.ready() {
		return Rect{}, ErrGeometryNotReady
	}
	if guide == nil {
		return intrinsic.Full(), nil
	}
	if video.hasNaN() || video.W <= 0 || video.H <= 0 {
		return Rect{}, ErrGeometryNotReady
	}
	if guide.hasNaN() || guide.W < 0 || guide.H < 0 {
		return Rect{}, fmt.Errorf("%w: %s", ErrInvalidRegion, guide)
	}

	sx := intrinsic.W / video.W
	sy := intrinsic.H / video.H

	return Rect{
		X: (guide.X - video.X) * sx,
		Y: (guide.Y - video.Y) * sy,
		W: guide.W * sx,
		H: guide.H * sy,
	}, nil
}

// MapLayout is MapRegion applied to a Layout
func MapLayout(intrinsic Size, layout Layout) (Rect, error) {
	return MapRegion(intrinsic, layout.Video, layout.Guide)
}
