package feature

import "github.com/hupe1980/visualindex/imageio"

// integral is a summed-area table padded with a zero row and column, so
// sum[y*stride+x] holds the sum of all pixels above and left of (x, y).
type integral struct {
	width, height int
	stride        int
	sum           []float64
}

func newIntegral(img *imageio.Image) *integral {
	ii := &integral{
		width:  img.Width,
		height: img.Height,
		stride: img.Width + 1,
		sum:    make([]float64, (img.Width+1)*(img.Height+1)),
	}

	for y := 0; y < img.Height; y++ {
		var rowSum float64
		above := ii.sum[y*ii.stride:]
		cur := ii.sum[(y+1)*ii.stride:]
		row := img.Pix[y*img.Width : (y+1)*img.Width]
		for x, v := range row {
			rowSum += float64(v)
			cur[x+1] = above[x+1] + rowSum
		}
	}
	return ii
}

// box returns the sum over rows [row, row+rows) and cols [col, col+cols),
// clipped to the image.
func (ii *integral) box(row, col, rows, cols int) float64 {
	r0 := clamp(row, 0, ii.height)
	r1 := clamp(row+rows, 0, ii.height)
	c0 := clamp(col, 0, ii.width)
	c1 := clamp(col+cols, 0, ii.width)
	if r1 <= r0 || c1 <= c0 {
		return 0
	}
	s := ii.sum
	w := ii.stride
	return s[r1*w+c1] - s[r0*w+c1] - s[r1*w+c0] + s[r0*w+c0]
}

// haarX is the horizontal Haar wavelet response of side size centred at (row, col).
func (ii *integral) haarX(row, col, size int) float64 {
	h := size / 2
	return ii.box(row-h, col, size, h) - ii.box(row-h, col-h, size, h)
}

// haarY is the vertical Haar wavelet response of side size centred at (row, col).
func (ii *integral) haarY(row, col, size int) float64 {
	h := size / 2
	return ii.box(row, col-h, h, size) - ii.box(row-h, col-h, h, size)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
