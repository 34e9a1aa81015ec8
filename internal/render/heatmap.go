package render

import (
	colorful "github.com/lucasb-eyer/go-colorful"
)

// hueSpan is the fraction of the colour wheel used by the heatmap: near
// returns are blue (0.66) and far returns red (0).
const hueSpan = 0.66

// RGB is a colour with components in [0, 1].
type RGB struct {
	R, G, B float64
}

// Heatmap maps a distance to a colour. Distances are clamped to
// [0, maxDistanceMM]; zero is blue and maxDistanceMM or beyond is red. A
// non-positive maxDistanceMM paints everything as far.
func Heatmap(distanceMM, maxDistanceMM float64) RGB {
	norm := 1.0
	if maxDistanceMM > 0 {
		d := distanceMM
		if !(d > 0) {
			d = 0
		}
		if d > maxDistanceMM {
			d = maxDistanceMM
		}
		norm = d / maxDistanceMM
	}
	hue := (1 - norm) * hueSpan
	c := colorful.Hsv(hue*360, 1, 1).Clamped()
	return RGB{R: c.R, G: c.G, B: c.B}
}

// AgeAlpha is the opacity of the frame age steps behind the newest in a
// history of the given capacity. The newest frame is opaque and the
// opacity falls linearly to zero at capacity.
func AgeAlpha(age, capacity int) float64 {
	if capacity <= 0 || age < 0 {
		return 0
	}
	return 1 - float64(age)/float64(capacity)
}
