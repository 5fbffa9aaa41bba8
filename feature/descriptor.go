package feature

import (
	"math"

	"github.com/hupe1980/visualindex/internal/math32"
)

// DescriptorSize is the length of an upright SURF descriptor.
const DescriptorSize = 64

// describe computes the upright SURF descriptor of kp: a 20s square window
// split into 4x4 sub-regions, each summarising 5x5 Haar responses as
// (Σdx, Σdy, Σ|dx|, Σ|dy|). It returns false when the window has no gradient.
func describe(ii *integral, kp keypoint) ([]float32, bool) {
	s := kp.scale
	haar := max(2, int(math.Round(2*s)))
	sigma := 3.3 * s
	inv2s2 := 1 / (2 * sigma * sigma)

	desc := make([]float32, DescriptorSize)
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			var dx, dy, adx, ady float64
			for k := 0; k < 5; k++ {
				v := float64(i*5+k) - 9.5
				for l := 0; l < 5; l++ {
					u := float64(j*5+l) - 9.5

					px := int(math.Round(kp.x + u*s))
					py := int(math.Round(kp.y + v*s))
					w := math.Exp(-(u*u + v*v) * s * s * inv2s2)

					rx := w * ii.haarX(py, px, haar)
					ry := w * ii.haarY(py, px, haar)
					dx += rx
					dy += ry
					adx += math.Abs(rx)
					ady += math.Abs(ry)
				}
			}
			o := (i*4 + j) * 4
			desc[o] = float32(dx)
			desc[o+1] = float32(dy)
			desc[o+2] = float32(adx)
			desc[o+3] = float32(ady)
		}
	}

	if !math32.NormalizeL2InPlace(desc) {
		return nil, false
	}
	return desc, true
}
