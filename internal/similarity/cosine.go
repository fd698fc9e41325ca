// Package similarity holds the vector math shared by the in-memory store
// and the MMR re-ranker.
package similarity

import "math"

// Cosine returns the cosine similarity of a and b, or 0 when either has
// zero norm. Vectors of different length are compared over the shorter.
func Cosine(a, b []float64) float64 {
	n := min(len(a), len(b))
	var dot, na, nb float64
	for i := 0; i < n; i++ {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
