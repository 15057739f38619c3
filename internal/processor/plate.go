package processor

import (
	"image"
	"strings"
)

// PlateAlphabet is the set of characters a plate number may contain.
const PlateAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// NormalizePlate upper-cases text and drops everything outside PlateAlphabet.
func NormalizePlate(text string) string {
	var b strings.Builder
	for _, ch := range strings.ToUpper(text) {
		if strings.ContainsRune(PlateAlphabet, ch) {
			b.WriteRune(ch)
		}
	}
	return b.String()
}

// RectCorners lists the corners of rect clockwise from the top left.
func RectCorners(rect image.Rectangle) []Point {
	return []Point{
		{X: rect.Min.X, Y: rect.Min.Y},
		{X: rect.Max.X, Y: rect.Min.Y},
		{X: rect.Max.X, Y: rect.Max.Y},
		{X: rect.Min.X, Y: rect.Max.Y},
	}
}
