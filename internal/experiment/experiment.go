// Package experiment compares outcome samples from adaptive and static
// practice arms.
package experiment

import (
	"errors"
	"fmt"
	"math"
)

// MinSamples is the smallest arm size accepted.
const MinSamples = 2

// z95 is the two-sided 95% normal quantile.
const z95 = 1.96

// ErrTooFewSamples is returned when an arm has fewer than MinSamples values.
var ErrTooFewSamples = errors.New("too few samples")

// Comparison is the result of CompareAdaptiveVsStatic. All numbers are
// rounded to four places.
type Comparison struct {
	AdaptiveMean float64 `json:"adaptive_mean"`
	StaticMean   float64 `json:"static_mean"`
	Uplift       float64 `json:"uplift"`
	CI95Low      float64 `json:"ci95_low"`
	CI95High     float64 `json:"ci95_high"`
	Significant  bool    `json:"significant"`
}

// CompareAdaptiveVsStatic reports the mean uplift of adaptive over static
// with a Welch-style normal 95% interval. The uplift is significant when
// the whole interval lies above zero.
func CompareAdaptiveVsStatic(adaptive, static []float64) (Comparison, error) {
	if len(adaptive) < MinSamples || len(static) < MinSamples {
		return Comparison{}, fmt.Errorf("%w: need at least %d per arm, got %d adaptive and %d static",
			ErrTooFewSamples, MinSamples, len(adaptive), len(static))
	}

	ma, ms := mean(adaptive), mean(static)
	uplift := ma - ms
	se := math.Sqrt(sampleVariance(adaptive, ma)/float64(len(adaptive)) +
		sampleVariance(static, ms)/float64(len(static)))
	margin := z95 * se
	low, high := uplift-margin, uplift+margin

	return Comparison{
		AdaptiveMean: round4(ma),
		StaticMean:   round4(ms),
		Uplift:       round4(uplift),
		CI95Low:      round4(low),
		CI95High:     round4(high),
		Significant:  low > 0,
	}, nil
}

func mean(values []float64) float64 {
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func sampleVariance(values []float64, center float64) float64 {
	if len(values) <= 1 {
		return 0
	}
	var ss float64
	for _, v := range values {
		ss += (v - center) * (v - center)
	}
	return ss / float64(len(values)-1)
}

func round4(v float64) float64 {
	return math.RoundToEven(v*1e4) / 1e4
}
