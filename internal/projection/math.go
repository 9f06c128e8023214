package projection

import "math"

// round is half-to-even at the given decimal places.
func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.RoundToEven(v*p) / p
}

// roundedMean is the mean rounded to three places, or 0 for no values.
func roundedMean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return round(sum/float64(len(values)), 3)
}

// rate is part/whole rounded to three places, 0 when whole is 0.
func rate(part, whole int) float64 {
	if whole == 0 {
		return 0
	}
	return round(float64(part)/float64(whole), 3)
}
