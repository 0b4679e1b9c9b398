package vector

import (
	"math"

	"github.com/hyperjump/reqai/pkg/utils"
)

// Cosine returns dot(a, b) / (|a| |b|). It is 0 when either vector has zero
// magnitude or the lengths differ, and never NaN.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	magA := utils.Magnitude(a)
	magB := utils.Magnitude(b)
	if magA == 0 || magB == 0 {
		return 0
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	sim := dot / (magA * magB)
	if math.IsNaN(sim) || math.IsInf(sim, 0) {
		return 0
	}
	return math.Max(-1, math.Min(1, sim))
}
