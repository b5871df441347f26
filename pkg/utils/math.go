package utils

import "math"

// Normalized returns a copy of x scaled to unit L2 norm.
// A zero vector is returned as an unscaled copy.
func Normalized(x []float32) []float32 {
	out := make([]float32, len(x))
	copy(out, x)
	var sum float64
	for _, v := range out {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return out
	}
	norm := float32(1.0 / math.Sqrt(sum))
	for i := range out {
		out[i] *= norm
	}
	return out
}
