package processor

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"
	"math"
	"os"

	"golang.org/x/image/draw"
)

// Output widths of the encoded thumbnails
const (
	PlateCropWidth   = 150
	VehicleCropWidth = 256

	// PlateMargin grows the plate box by 10% on each side
	PlateMargin = 0.20

	jpegQuality = 90
)

// BoundingBox represents coordinates of a region
type BoundingBox struct {
	X      int
	Y      int
	Width  int
	Height int
}

// Rect converts the box to an image.Rectangle.
func (b BoundingBox) Rect() image.Rectangle {
	return image.Rect(b.X, b.Y, b.X+b.Width, b.Y+b.Height)
}

// Empty reports whether the box has no area.
func (b BoundingBox) Empty() bool {
	return b.Width <= 0 || b.Height <= 0
}

// BoxAround returns the tightest box containing every point.
func BoxAround(points []Point) BoundingBox {
	if len(points) == 0 {
		return BoundingBox{}
	}
	minX, minY := points[0].X, points[0].Y
	maxX, maxY := minX, minY
	for _, p := range points[1:] {
		minX = min(minX, p.X)
		minY = min(minY, p.Y)
		maxX = max(maxX, p.X)
		maxY = max(maxY, p.Y)
	}
	return BoundingBox{X: minX, Y: minY, Width: maxX - minX, Height: maxY - minY}
}

// Expand grows the box by ratio of its size, split evenly between both sides.
func (b BoundingBox) Expand(ratio float64) BoundingBox {
	mx := int(math.Round(float64(b.Width) * ratio / 2))
	my := int(math.Round(float64(b.Height) * ratio / 2))
	return BoundingBox{
		X:      b.X - mx,
		Y:      b.Y - my,
		Width:  b.Width + 2*mx,
		Height: b.Height + 2*my,
	}
}

// Clamp restricts the box to an image of the given size.
func (b BoundingBox) Clamp(width, height int) BoundingBox {
	x0 := max(b.X, 0)
	y0 := max(b.Y, 0)
	x1 := min(b.X+b.Width, width)
	y1 := min(b.Y+b.Height, height)
	if x1 < x0 {
		x1 = x0
	}
	if y1 < y0 {
		y1 = y0
	}
	return BoundingBox{X: x0, Y: y0, Width: x1 - x0, Height: y1 - y0}
}

// PlateRegion returns the expanded and clamped box around every plate corner
// of resp. ok is false when no usable region exists.
func PlateRegion(resp *PlateResponse, width, height int) (BoundingBox, bool) {
	var points []Point
	for _, r := range resp.Results {
		points = append(points, r.Coordinates...)
	}
	if len(points) == 0 {
		return BoundingBox{}, false
	}
	box := BoxAround(points).Expand(PlateMargin).Clamp(width, height)
	return box, !box.Empty()
}

func loadImage(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open image %s: %w", path, err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("failed to decode image %s: %w", path, err)
	}
	return img, nil
}

// encodeThumbnail crops src to region (the whole image when region is
// empty), scales it to width keeping the aspect ratio and returns the
// base64 JPEG.
func encodeThumbnail(src image.Image, region BoundingBox, width int) (string, error) {
	bounds := src.Bounds()
	if !region.Empty() {
		bounds = region.Rect().Add(src.Bounds().Min).Intersect(src.Bounds())
	}
	if bounds.Dx() <= 0 || bounds.Dy() <= 0 {
		return "", fmt.Errorf("empty crop region %v", bounds)
	}

	height := int(float64(bounds.Dy()) * float64(width) / float64(bounds.Dx()))
	if height < 1 {
		height = 1
	}

	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, bounds, draw.Src, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return "", fmt.Errorf("failed to encode jpeg: %w", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}
