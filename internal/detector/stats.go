package detector

import (
	"github.com/luminex/warden/internal/domain"
)

// Intervals returns the inter-arrival gaps between consecutive actions in
// milliseconds. len(result) == len(actions)-1.
func Intervals(actions []domain.ActionRecord) []float64 {
	if len(actions) < 2 {
		return nil
	}
	intervals := make([]float64, 0, len(actions)-1)
	for i := 1; i < len(actions); i++ {
		gap := actions[i].Timestamp.Sub(actions[i-1].Timestamp)
		intervals = append(intervals, float64(gap.Microseconds())/1000.0)
	}
	return intervals
}

// Mean returns the arithmetic mean of the values, 0 for an empty slice.
func Mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// Variance returns the population variance of the values.
func Variance(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	mean := Mean(values)
	sum := 0.0
	for _, v := range values {
		d := v - mean
		sum += d * d
	}
	return sum / float64(len(values))
}

// MinMax returns the smallest and largest value. Zeroes for an empty slice.
func MinMax(values []float64) (min, max float64) {
	if len(values) == 0 {
		return 0, 0
	}
	min, max = values[0], values[0]
	for _, v := range values[1:] {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	return min, max
}

// IsPerfect reports whether the payload marks the action as a perfect
// outcome.
func IsPerfect(payload map[string]interface{}) bool {
	if payload == nil {
		return false
	}
	v, ok := payload["perfect"].(bool)
	return ok && v
}

// IsMiss reports whether the payload explicitly marks the action as
// incorrect. Anything else counts as a hit for accuracy purposes.
func IsMiss(payload map[string]interface{}) bool {
	if payload == nil {
		return false
	}
	v, ok := payload["correct"].(bool)
	return ok && !v
}

// Accuracy returns the fraction of actions not explicitly marked incorrect,
// together with the sample count.
func Accuracy(actions []domain.ActionRecord) (accuracy float64, samples int) {
	samples = len(actions)
	if samples == 0 {
		return 0, 0
	}
	hits := 0
	for _, a := range actions {
		if !IsMiss(a.Payload) {
			hits++
		}
	}
	return float64(hits) / float64(samples), samples
}
