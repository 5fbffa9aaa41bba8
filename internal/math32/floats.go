// Package math32 provides float32 vector kernels shared by the quantizers,
// the VLAD aggregator and the index.
//
// All kernels accumulate left to right so results are bit-reproducible
// across platforms for identical inputs.
package math32

import "math"

// Dot calculates the dot product of two vectors.
func Dot(a, b []float32) float32 {
	var ret float32
	for i := range a {
		ret += a[i] * b[i]
	}

	return ret
}

// SquaredL2 calculates the squared L2 distance.
func SquaredL2(a, b []float32) float32 {
	var distance float32
	for i := range a {
		d := a[i] - b[i]
		distance += d * d
	}

	return distance
}

// ScaleInPlace multiplies all elements of a by scalar.
func ScaleInPlace(a []float32, scalar float32) {
	for i := range a {
		a[i] *= scalar
	}
}

// Sub writes a - b into dst. dst may alias a.
func Sub(dst, a, b []float32) {
	for i := range dst {
		dst[i] = a[i] - b[i]
	}
}

// AddSub accumulates (a - b) into dst.
func AddSub(dst, a, b []float32) {
	for i := range dst {
		dst[i] += a[i] - b[i]
	}
}

// Norm returns the L2 norm of v.
func Norm(v []float32) float32 {
	return float32(math.Sqrt(float64(Dot(v, v))))
}

// NormalizeL2InPlace L2-normalizes v in place.
// Returns false if v has zero L2 norm.
func NormalizeL2InPlace(v []float32) bool {
	n := Norm(v)
	if n == 0 {
		return false
	}
	ScaleInPlace(v, 1/n)
	return true
}

// PowerNormalizeInPlace applies signed power normalization sign(x)*|x|^alpha.
func PowerNormalizeInPlace(v []float32, alpha float64) {
	for i, x := range v {
		if x == 0 {
			continue
		}
		p := float32(math.Pow(math.Abs(float64(x)), alpha))
		if x < 0 {
			p = -p
		}
		v[i] = p
	}
}

// NearestIndex returns the index of the row in centroids (flat, rows of dim)
// closest to vec, together with the squared distance. Ties resolve to the
// lowest index. It returns -1 only when centroids holds no full row; rows
// whose distance overflows or is NaN still yield row 0.
func NearestIndex(vec, centroids []float32, dim int) (int, float32) {
	if dim <= 0 || len(centroids) < dim {
		return -1, float32(math.Inf(1))
	}
	best := 0
	bestDist := SquaredL2(vec, centroids[:dim])
	for i, off := 1, dim; off+dim <= len(centroids); i, off = i+1, off+dim {
		d := SquaredL2(vec, centroids[off:off+dim])
		if d < bestDist || (bestDist != bestDist && d == d) {
			bestDist = d
			best = i
		}
	}
	return best, bestDist
}

// IsFinite reports whether every component of v is neither NaN nor infinite.
func IsFinite(v []float32) bool {
	for _, x := range v {
		if math.IsNaN(float64(x)) || math.IsInf(float64(x), 0) {
			return false
		}
	}
	return true
}

// PqAdcLookup sums table[m*k + codes[m]] over the m sub-codes.
func PqAdcLookup(table []float32, codes []byte, k int) float32 {
	var sum float32
	for m, c := range codes {
		sum += table[m*k+int(c)]
	}
	return sum
}
