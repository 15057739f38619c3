package processor

import (
	"image"
	"testing"

	qt "github.com/frankban/quicktest"
)

func TestNormalizePlate(t *testing.T) {
	c := qt.New(t)
	for _, tc := range []struct {
		in, want string
	}{
		{"abc123", "ABC123"},
		{" AB-C 12\n3 ", "ABC123"},
		{"é.?!", ""},
		{"", ""},
	} {
		c.Check(NormalizePlate(tc.in), qt.Equals, tc.want, qt.Commentf("input %q", tc.in))
	}
}

func TestRectCornersFeedBoxAround(t *testing.T) {
	c := qt.New(t)
	pts := RectCorners(image.Rect(10, 20, 110, 70))
	c.Check(pts, qt.DeepEquals, []Point{{10, 20}, {110, 20}, {110, 70}, {10, 70}})
	c.Check(BoxAround(pts), qt.Equals, BoundingBox{X: 10, Y: 20, Width: 100, Height: 50})
}
