// Package similarity scores embedding vectors against each other.
package similarity

import "math"

// Sentinel is returned whenever two vectors cannot be compared. It is lower
// than any valid cosine similarity, so rejected pairs always rank last.
const Sentinel = -2.0

// Dot computes the dot product of two equal-length vectors.
func Dot(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

// Norm computes the L2 norm of a vector.
func Norm(v []float32) float64 {
	return math.Sqrt(Dot(v, v))
}

// Cosine returns the cosine similarity of a and b in [-1, 1].
//
// Absent vectors, vectors of different lengths and zero vectors yield
// Sentinel instead of an error, and a NaN or infinite intermediate never
// leaks into the result.
func Cosine(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return Sentinel
	}

	normA := Norm(a)
	normB := Norm(b)
	if normA == 0 || normB == 0 {
		return Sentinel
	}

	score := Dot(a, b) / (normA * normB)
	if math.IsNaN(score) || math.IsInf(score, 0) {
		return Sentinel
	}

	// Parallel vectors land a few ULPs off ±1 after the square roots
	if score > 1-snapTolerance {
		return 1
	}
	if score < -1+snapTolerance {
		return -1
	}
	return score
}

// snapTolerance is the distance from ±1 within which a score is rounded
// to exactly ±1, a handful of float64 ULPs.
const snapTolerance = 1e-15

// Comparable reports whether a score came from a real comparison.
func Comparable(score float64) bool {
	return score > Sentinel
}
