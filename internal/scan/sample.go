// Package scan holds the planar scan model shared by acquisition and rendering:
// raw polar samples, decoded points, frames and the bounded frame history.
package scan

import "math"

// RawSample is one polar reading as delivered by a rangefinder driver.
type RawSample struct {
	// Quality is the driver's signal-quality indicator. Decoding ignores it.
	Quality uint8
	// AngleDeg is the sensor-relative bearing in degrees, 0-360.
	AngleDeg float64
	// DistanceMM is the measured range in millimetres. 0 means no return.
	DistanceMM float64
	// StartFlag marks the first sample of a new revolution. Only drivers use it
	// to delimit scans.
	StartFlag bool
}

// Point is a planar coordinate in millimetres. DistanceMM keeps the source
// range for color mapping.
type Point struct {
	X, Y       float64
	DistanceMM float64
}

// Decode projects one raw sample onto the sensor plane. Samples without a
// return (distance <= 0) yield ok == false.
func Decode(s RawSample) (p Point, ok bool) {
	if !(s.DistanceMM > 0) {
		return Point{}, false
	}
	rad := s.AngleDeg * math.Pi / 180
	return Point{
		X:          s.DistanceMM * math.Cos(rad),
		Y:          s.DistanceMM * math.Sin(rad),
		DistanceMM: s.DistanceMM,
	}, true
}

// DecodeAll appends the decoded points of samples to dst, in acquisition
// order, dropping samples without a return.
func DecodeAll(dst []Point, samples []RawSample) []Point {
	for _, s := range samples {
		if p, ok := Decode(s); ok {
			dst = append(dst, p)
		}
	}
	return dst
}
