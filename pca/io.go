package pca

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/hupe1980/visualindex/internal/matio"
)

// ErrCorruptFile is returned when a projection file cannot be parsed.
var ErrCorruptFile = errors.New("pca: corrupt projection file")

// Load reads a projection file and keeps the first targetDim components.
//
// The text layout has the mean vector on the first line, the eigenvalues on
// the second and one principal component per following line, all
// comma-separated. Blank and '#' lines are skipped.
func Load(path string, targetDim int, optFns ...Option) (*Projection, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	p, err := Read(f, targetDim, optFns...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return p, nil
}

// Read parses the layout described in Load from r.
func Read(r io.Reader, targetDim int, optFns ...Option) (*Projection, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 256*1024*1024)

	var (
		mean, eig  []float32
		components []float32
		line       int
	)
	for sc.Scan() {
		line++
		row, err := matio.ParseRow(sc.Text())
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", ErrCorruptFile, line, err)
		}
		switch {
		case row == nil:
			continue
		case mean == nil:
			mean = row
		case eig == nil:
			eig = row
		default:
			if len(row) != len(mean) {
				return nil, fmt.Errorf("%w: line %d has %d values, want %d", ErrCorruptFile, line, len(row), len(mean))
			}
			// Components past the target are not needed.
			if targetDim <= 0 || len(components)/len(mean) < targetDim {
				components = append(components, row...)
			}
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if mean == nil || eig == nil {
		return nil, fmt.Errorf("%w: missing mean or eigenvalue line", ErrCorruptFile)
	}

	return New(mean, components, eig, targetDim, optFns...)
}

// Save writes p in the layout read by Load. The identity projection has no
// file representation.
func (p *Projection) Save(w io.Writer) error {
	if p.identity {
		return fmt.Errorf("%w: identity projection cannot be saved", ErrInvalidProjection)
	}

	bw := bufio.NewWriter(w)
	if err := matio.WriteRow(bw, toFloat32(p.mean)); err != nil {
		return err
	}
	if err := matio.WriteRow(bw, toFloat32(p.eigenvalues)); err != nil {
		return err
	}
	for i := 0; i < p.outputDim; i++ {
		if err := matio.WriteRow(bw, toFloat32(p.components.RawRowView(i))); err != nil {
			return err
		}
	}
	return bw.Flush()
}

func toFloat32(v []float64) []float32 {
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(x)
	}
	return out
}
