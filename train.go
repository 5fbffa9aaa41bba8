package visualindex

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/visualindex/feature"
	"github.com/hupe1980/visualindex/imageio"
	"github.com/hupe1980/visualindex/pca"
	"github.com/hupe1980/visualindex/quantization"
	"github.com/hupe1980/visualindex/vlad"
)

// TrainConfig controls TrainModels. Zero fields take the defaults noted.
type TrainConfig struct {
	// Codebooks lists the number of centroids of each VLAD codebook (default [64]).
	Codebooks []int
	// PCADimension is the length of feature vectors. Zero keeps the VLAD length.
	PCADimension int
	// Whitening fits a whitened projection.
	Whitening bool
	// Cells is the number of coarse cells (default 16).
	Cells int
	// Subvectors is the number of product quantizer subspaces (default 8).
	Subvectors int
	// Centroids is the number of centroids per subspace, a power of two <= 256 (default 256).
	Centroids int
	// MaxDescriptors caps the descriptor sample used for codebook training (default 100000).
	MaxDescriptors int
	MaxIter        int
	Seed           int64
	Extractor      feature.Options
}

func (c *TrainConfig) setDefaults() {
	if len(c.Codebooks) == 0 {
		c.Codebooks = []int{64}
	}
	if c.Cells <= 0 {
		c.Cells = 16
	}
	if c.Subvectors <= 0 {
		c.Subvectors = 8
	}
	if c.Centroids <= 0 {
		c.Centroids = 256
	}
	if c.MaxDescriptors <= 0 {
		c.MaxDescriptors = 100000
	}
	if c.Extractor == (feature.Options{}) {
		c.Extractor = feature.DefaultOptions()
	}
}

// Models is a consistent set of trained models.
type Models struct {
	Codebooks  []*vlad.Codebook
	Projection *pca.Projection
	Coarse     *quantization.CoarseQuantizer
	PQ         *quantization.ProductQuantizer
}

// Options returns the Indexer options that use m.
func (m *Models) Options() []Option {
	return []Option{
		WithCodebooks(m.Codebooks...),
		WithProjection(m.Projection),
		WithQuantizers(m.Coarse, m.PQ),
	}
}

// TrainModels learns codebooks, projection and quantizers from a sample of
// images. Images without descriptors still contribute their zero VLAD
// vector to the projection and quantizers.
func TrainModels(ctx context.Context, images []*imageio.Image, cfg TrainConfig) (*Models, error) {
	cfg.setDefaults()
	if len(images) < 2 {
		return nil, fmt.Errorf("%w: need at least 2 training images, got %d", ErrConfiguration, len(images))
	}
	ext, err := feature.New(cfg.Extractor)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfiguration, err)
	}

	descs, err := extractAll(ctx, ext, images)
	if err != nil {
		return nil, err
	}
	sample := sampleDescriptors(descs, cfg.MaxDescriptors, cfg.Seed)
	if len(sample) == 0 {
		return nil, fmt.Errorf("%w: training images yield no descriptors", ErrConfiguration)
	}

	m := &Models{}
	for i, k := range cfg.Codebooks {
		cb, err := vlad.TrainCodebook(ctx, sample, k, vlad.TrainOptions{MaxIter: cfg.MaxIter, Seed: cfg.Seed + int64(i)})
		if err != nil {
			return nil, fmt.Errorf("train codebook %d: %w", i, err)
		}
		m.Codebooks = append(m.Codebooks, cb)
	}
	agg, err := vlad.NewAggregator(m.Codebooks)
	if err != nil {
		return nil, err
	}

	vlads := make([][]float32, len(descs))
	for i, d := range descs {
		if vlads[i], err = agg.Aggregate(d); err != nil {
			return nil, err
		}
	}

	var popts []pca.Option
	if cfg.Whitening {
		popts = append(popts, pca.WithWhitening())
	}
	if cfg.PCADimension > 0 {
		m.Projection, err = pca.Fit(vlads, cfg.PCADimension, popts...)
		if err != nil {
			return nil, fmt.Errorf("fit projection: %w", err)
		}
	} else {
		m.Projection = pca.Identity(agg.Length())
	}

	dim := m.Projection.OutputDim()
	flat := make([]float32, 0, len(vlads)*dim)
	for _, v := range vlads {
		p, err := m.Projection.Project(v)
		if err != nil {
			return nil, err
		}
		flat = append(flat, p...)
	}

	topts := quantization.TrainOptions{MaxIter: cfg.MaxIter, Seed: cfg.Seed}
	if m.Coarse, err = quantization.TrainCoarseQuantizer(ctx, flat, dim, cfg.Cells, topts); err != nil {
		return nil, fmt.Errorf("train coarse quantizer: %w", err)
	}

	// The product quantizer encodes residuals against the nearest cell.
	residuals := make([]float32, len(flat))
	for off := 0; off < len(flat); off += dim {
		vec := flat[off : off+dim]
		cell, _, err := m.Coarse.Nearest(vec)
		if err != nil {
			return nil, err
		}
		m.Coarse.Residual(residuals[off:off+dim], vec, cell)
	}
	if m.PQ, err = quantization.TrainProductQuantizer(ctx, residuals, dim, cfg.Subvectors, cfg.Centroids, topts); err != nil {
		return nil, fmt.Errorf("train product quantizer: %w", err)
	}
	return m, nil
}

func extractAll(ctx context.Context, ext *feature.Extractor, images []*imageio.Image) ([][][]float32, error) {
	out := make([][][]float32, len(images))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, img := range images {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			d, err := ext.Extract(img)
			if err != nil {
				return fmt.Errorf("image %d: %w", i, err)
			}
			out[i] = feature.Vectors(d)
			return nil
		})
	}
	return out, g.Wait()
}

// sampleDescriptors returns at most limit descriptors chosen uniformly.
func sampleDescriptors(descs [][][]float32, limit int, seed int64) [][]float32 {
	var all [][]float32
	for _, d := range descs {
		all = append(all, d...)
	}
	if len(all) <= limit {
		return all
	}
	rng := rand.New(rand.NewSource(seed)) // nolint gosec
	rng.Shuffle(len(all), func(i, j int) { all[i], all[j] = all[j], all[i] })
	return all[:limit]
}

// Save writes the models into dir and returns their file names. The
// whitening flag is not part of the projection file and must be passed to
// the Indexer with WithWhitening.
func (m *Models) Save(dir string) (ModelFiles, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return ModelFiles{}, err
	}

	var files ModelFiles
	for i, cb := range m.Codebooks {
		path := filepath.Join(dir, fmt.Sprintf("codebook-%d.bin", i))
		if err := writeFile(path, cb.WriteTo); err != nil {
			return ModelFiles{}, err
		}
		files.Codebooks = append(files.Codebooks, path)
	}
	if m.Projection != nil && !m.Projection.IsIdentity() {
		files.PCA = filepath.Join(dir, "pca.txt")
		if err := writeFile(files.PCA, m.Projection.Save); err != nil {
			return ModelFiles{}, err
		}
	}

	files.Coarse = filepath.Join(dir, "coarse.bin")
	if err := writeFile(files.Coarse, func(w io.Writer) error { return quantization.WriteCoarseQuantizer(w, m.Coarse) }); err != nil {
		return ModelFiles{}, err
	}
	files.PQ = filepath.Join(dir, "pq.bin")
	if err := writeFile(files.PQ, func(w io.Writer) error { return quantization.WriteProductQuantizer(w, m.PQ) }); err != nil {
		return ModelFiles{}, err
	}
	return files, nil
}

func writeFile(path string, write func(io.Writer) error) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, f.Close())
	}()
	return write(f)
}
