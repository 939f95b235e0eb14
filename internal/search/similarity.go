// Package search ranks stored chunks against a query by cosine similarity.
package search

import "math"

// Cosine returns the cosine similarity of a and b: dot(a,b) / (|a|*|b|).
// Returns 0 when the vectors differ in length or either norm is zero.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
