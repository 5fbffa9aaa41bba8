package feature

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// responseLayer holds determinant-of-Hessian responses for one box filter
// size, sampled every step pixels.
type responseLayer struct {
	width, height int
	step          int
	filter        int
	responses     []float32
	laplacian     []bool
}

func (l *responseLayer) at(r, c int) float32 {
	return l.responses[r*l.width+c]
}

// filterSize returns the box filter side for an octave and interval:
// 9, 15, 21, 27 in the first octave, with the increment doubling per octave.
func filterSize(octave, interval int) int {
	return 3 * ((1<<(octave+1))*(interval+1) + 1)
}

func buildLayer(ii *integral, step, filter int) *responseLayer {
	l := &responseLayer{
		width:  ii.width / step,
		height: ii.height / step,
		step:   step,
		filter: filter,
	}
	l.responses = make([]float32, l.width*l.height)
	l.laplacian = make([]bool, l.width*l.height)

	b := (filter - 1) / 2
	lobe := filter / 3
	inv := 1.0 / float64(filter*filter)

	for ar := 0; ar < l.height; ar++ {
		r := ar * step
		for ac := 0; ac < l.width; ac++ {
			c := ac * step

			dxx := ii.box(r-lobe+1, c-b, 2*lobe-1, filter) -
				3*ii.box(r-lobe+1, c-lobe/2, 2*lobe-1, lobe)
			dyy := ii.box(r-b, c-lobe+1, filter, 2*lobe-1) -
				3*ii.box(r-lobe/2, c-lobe+1, lobe, 2*lobe-1)
			dxy := ii.box(r-lobe, c+1, lobe, lobe) +
				ii.box(r+1, c-lobe, lobe, lobe) -
				ii.box(r-lobe, c-lobe, lobe, lobe) -
				ii.box(r+1, c+1, lobe, lobe)

			dxx *= inv
			dyy *= inv
			dxy *= inv

			i := ar*l.width + ac
			l.responses[i] = float32(dxx*dyy - 0.81*dxy*dxy)
			l.laplacian[i] = dxx+dyy >= 0
		}
	}
	return l
}

// keypoint is an interpolated scale-space extremum.
type keypoint struct {
	x, y      float64
	scale     float64
	response  float32
	laplacian bool
}

// detect runs the fast-Hessian detector over all octaves.
func (e *Extractor) detect(ii *integral) []keypoint {
	var kps []keypoint

	for o := 0; o < e.opts.Octaves; o++ {
		step := e.opts.InitSample << o
		if ii.width/step < 3 || ii.height/step < 3 {
			break
		}

		layers := make([]*responseLayer, e.opts.Intervals)
		for i := range layers {
			layers[i] = buildLayer(ii, step, filterSize(o, i))
		}

		for i := 1; i < len(layers)-1; i++ {
			kps = e.extrema(kps, layers[i-1], layers[i], layers[i+1])
		}
	}
	return kps
}

func (e *Extractor) extrema(kps []keypoint, b, m, t *responseLayer) []keypoint {
	border := (t.filter + 1) / (2 * t.step)
	threshold := float32(e.opts.Threshold)

	for r := border + 1; r < t.height-border-1; r++ {
		for c := border + 1; c < t.width-border-1; c++ {
			v := m.at(r, c)
			if v < threshold || !isMaximum(v, r, c, b, m, t) {
				continue
			}
			if kp, ok := interpolate(r, c, b, m, t); ok {
				kps = append(kps, kp)
			}
		}
	}
	return kps
}

func isMaximum(v float32, r, c int, b, m, t *responseLayer) bool {
	for dr := -1; dr <= 1; dr++ {
		for dc := -1; dc <= 1; dc++ {
			if t.at(r+dr, c+dc) >= v || b.at(r+dr, c+dc) >= v {
				return false
			}
			if (dr != 0 || dc != 0) && m.at(r+dr, c+dc) >= v {
				return false
			}
		}
	}
	return true
}

// interpolate fits a 3D quadratic around (r, c) in the middle layer and
// rejects points whose refined offset leaves the sample cell.
func interpolate(r, c int, b, m, t *responseLayer) (keypoint, bool) {
	v := float64(m.at(r, c))
	f := func(l *responseLayer, dr, dc int) float64 { return float64(l.at(r+dr, c+dc)) }

	dx := (f(m, 0, 1) - f(m, 0, -1)) / 2
	dy := (f(m, 1, 0) - f(m, -1, 0)) / 2
	ds := (f(t, 0, 0) - f(b, 0, 0)) / 2

	dxx := f(m, 0, 1) + f(m, 0, -1) - 2*v
	dyy := f(m, 1, 0) + f(m, -1, 0) - 2*v
	dss := f(t, 0, 0) + f(b, 0, 0) - 2*v
	dxy := (f(m, 1, 1) - f(m, 1, -1) - f(m, -1, 1) + f(m, -1, -1)) / 4
	dxs := (f(t, 0, 1) - f(t, 0, -1) - f(b, 0, 1) + f(b, 0, -1)) / 4
	dys := (f(t, 1, 0) - f(t, -1, 0) - f(b, 1, 0) + f(b, -1, 0)) / 4

	h := mat.NewDense(3, 3, []float64{
		dxx, dxy, dxs,
		dxy, dyy, dys,
		dxs, dys, dss,
	})
	g := mat.NewVecDense(3, []float64{-dx, -dy, -ds})

	var off mat.VecDense
	if err := off.SolveVec(h, g); err != nil {
		return keypoint{}, false
	}

	ox, oy, oz := off.AtVec(0), off.AtVec(1), off.AtVec(2)
	if math.Abs(ox) >= 0.5 || math.Abs(oy) >= 0.5 || math.Abs(oz) >= 0.5 {
		return keypoint{}, false
	}

	filterStep := float64(m.filter - b.filter)
	return keypoint{
		x:         (float64(c) + ox) * float64(m.step),
		y:         (float64(r) + oy) * float64(m.step),
		scale:     1.2 / 9 * (float64(m.filter) + oz*filterStep),
		response:  m.at(r, c),
		laplacian: m.laplacian[r*m.width+c],
	}, true
}
