package scan

import (
	"sort"

	"gonum.org/v1/gonum/stat"
)

// Summary describes the range distribution of one frame.
type Summary struct {
	Points   int     `json:"points"`
	MinMM    float64 `json:"min_mm"`
	MaxMM    float64 `json:"max_mm"`
	MeanMM   float64 `json:"mean_mm"`
	MedianMM float64 `json:"median_mm"`
}

// Summarize computes range statistics for f. A nil or empty frame yields the
// zero Summary.
func Summarize(f *Frame) Summary {
	if f == nil || len(f.Points) == 0 {
		return Summary{}
	}
	ranges := make([]float64, len(f.Points))
	for i, p := range f.Points {
		ranges[i] = p.DistanceMM
	}
	sort.Float64s(ranges)
	return Summary{
		Points:   len(ranges),
		MinMM:    ranges[0],
		MaxMM:    ranges[len(ranges)-1],
		MeanMM:   stat.Mean(ranges, nil),
		MedianMM: stat.Quantile(0.5, stat.Empirical, ranges, nil),
	}
}
