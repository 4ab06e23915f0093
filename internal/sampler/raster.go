package sampler

import (
	"image"

	"golang.org/x/image/draw"
)

// RasterSize is the edge length of the image the classifier accepts
const RasterSize = 28

// Rasterize scales the src region of img into a fresh RasterSize×RasterSize RGBA image
func Rasterize(img image.Image, src image.Rectangle) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, RasterSize, RasterSize))
	draw.BiLinear.Scale(dst, dst.Bounds(), img, src, draw.Src, nil)
	return dst
}

// sourceRect converts a mapped region into a pixel rectangle inside bounds
func sourceRect(region image.Rectangle, bounds image.Rectangle) image.Rectangle {
	return region.Add(bounds.Min).Intersect(bounds)
}
