package visualindex

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image/color"
	"image/png"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/visualindex/feature"
	"github.com/hupe1980/visualindex/imageio"
	"github.com/hupe1980/visualindex/pipeline"
	"github.com/hupe1980/visualindex/quantization"
	"github.com/hupe1980/visualindex/storage/bolt"
	"github.com/hupe1980/visualindex/testutil"
	"github.com/hupe1980/visualindex/vlad"
)

const testDim = 2 * feature.DescriptorSize

// testModels returns two random 64-d codebook centroids and quantizers
// trained on random 128-d vectors, so feature vectors are VLAD vectors
// under the identity projection.
func testModels(t *testing.T) []Option {
	t.Helper()
	ctx := context.Background()
	rng := testutil.NewRNG(42)

	cb, err := vlad.NewCodebook(feature.DescriptorSize, testutil.Flatten(rng.GaussianVectors(2, feature.DescriptorSize)))
	require.NoError(t, err)

	train := testutil.Flatten(rng.GaussianVectors(256, testDim))
	coarse, err := quantization.TrainCoarseQuantizer(ctx, train, testDim, 4, quantization.TrainOptions{Seed: 1})
	require.NoError(t, err)
	pq, err := quantization.TrainProductQuantizer(ctx, train, testDim, 8, 16, quantization.TrainOptions{Seed: 1})
	require.NoError(t, err)

	return []Option{WithCodebooks(cb), WithQuantizers(coarse, pq)}
}

func newTestIndexer(t *testing.T, optFns ...Option) *Indexer {
	t.Helper()
	ix := New(append(testModels(t), optFns...)...)
	require.NoError(t, ix.Build(context.Background()))
	t.Cleanup(func() { _ = ix.Close() })
	return ix
}

func blobTask(id string, seed int64) pipeline.Task {
	img := testutil.NewRNG(seed).BlobImage(96, 96, 12)
	return pipeline.Task{ID: id, Image: imageio.FromImage(img, imageio.Options{})}
}

func TestNotReady(t *testing.T) {
	ctx := context.Background()
	ix := New(testModels(t)...)

	assert.False(t, ix.Ready())
	assert.Equal(t, 0, ix.Dimension())
	assert.ErrorIs(t, ix.Insert(ctx, "a", make([]float32, testDim)), ErrNotReady)
	_, err := ix.Search(make([]float32, testDim)).Execute(ctx)
	assert.ErrorIs(t, err, ErrNotReady)
	_, err = ix.Delete(ctx, "a")
	assert.ErrorIs(t, err, ErrNotReady)
	assert.ErrorIs(t, ix.Submit(blobTask("a", 1)), ErrNotReady)
	_, err = ix.Stats()
	assert.ErrorIs(t, err, ErrNotReady)
	assert.False(t, ix.IsPresent("a"))
	assert.Equal(t, 0, ix.Len())

	require.NoError(t, ix.Close())
	assert.ErrorIs(t, ix.Build(ctx), ErrClosed)
}

func TestBuildConfigurationErrors(t *testing.T) {
	ctx := context.Background()
	rng := testutil.NewRNG(7)

	t.Run("no codebooks", func(t *testing.T) {
		err := New().Build(ctx)
		assert.ErrorIs(t, err, ErrConfiguration)
	})

	t.Run("codebook dimension", func(t *testing.T) {
		cb, err := vlad.NewCodebook(32, testutil.Flatten(rng.UniformVectors(2, 32)))
		require.NoError(t, err)
		err = New(WithCodebooks(cb)).Build(ctx)
		require.ErrorIs(t, err, ErrConfiguration)
		var dm *ErrDimensionMismatch
		require.ErrorAs(t, err, &dm)
		assert.Equal(t, feature.DescriptorSize, dm.Expected)
		assert.Equal(t, 32, dm.Actual)
	})

	t.Run("quantizer dimension", func(t *testing.T) {
		cb, err := vlad.NewCodebook(feature.DescriptorSize, testutil.Flatten(rng.UniformVectors(1, feature.DescriptorSize)))
		require.NoError(t, err)
		train := testutil.Flatten(rng.UniformVectors(32, 16))
		coarse, err := quantization.TrainCoarseQuantizer(ctx, train, 16, 2, quantization.TrainOptions{})
		require.NoError(t, err)
		pq, err := quantization.TrainProductQuantizer(ctx, train, 16, 4, 4, quantization.TrainOptions{})
		require.NoError(t, err)

		ix := New(WithCodebooks(cb), WithQuantizers(coarse, pq))
		err = ix.Build(ctx)
		require.ErrorIs(t, err, ErrConfiguration)
		var dm *ErrDimensionMismatch
		require.ErrorAs(t, err, &dm)
		assert.Equal(t, feature.DescriptorSize, dm.Expected)
		assert.False(t, ix.Ready())
	})

	t.Run("missing model files", func(t *testing.T) {
		dir := t.TempDir()
		err := New(WithModelFiles(ModelFiles{
			Codebooks: []string{filepath.Join(dir, "missing.csv")},
		})).Build(ctx)
		assert.ErrorIs(t, err, ErrConfiguration)
	})

	t.Run("missing quantizers", func(t *testing.T) {
		cb, err := vlad.NewCodebook(feature.DescriptorSize, testutil.Flatten(rng.UniformVectors(1, feature.DescriptorSize)))
		require.NoError(t, err)
		err = New(WithCodebooks(cb)).Build(ctx)
		assert.ErrorIs(t, err, ErrConfiguration)
	})

	t.Run("purge schedule", func(t *testing.T) {
		ix := New(append(testModels(t), WithPurgeSchedule("not a schedule"))...)
		assert.ErrorIs(t, ix.Build(ctx), ErrConfiguration)
		assert.False(t, ix.Ready())
	})
}

func TestInsertSearchDeletePurge(t *testing.T) {
	ctx := context.Background()
	ix := newTestIndexer(t, WithProbes(4))

	assert.True(t, ix.Ready())
	assert.Equal(t, testDim, ix.Dimension())
	require.NoError(t, ix.Build(ctx), "build on a ready indexer is a no-op")

	vectors := testutil.NewRNG(3).GaussianVectors(50, testDim)
	for i, v := range vectors {
		require.NoError(t, ix.Insert(ctx, fmt.Sprintf("v%d", i), v))
	}
	assert.Equal(t, 50, ix.Len())

	err := ix.Insert(ctx, "v0", vectors[1])
	assert.ErrorIs(t, err, ErrAlreadyIndexed)
	assert.Equal(t, 50, ix.Len())

	results, err := ix.Search(vectors[7]).K(50).Execute(ctx)
	require.NoError(t, err)
	require.Len(t, results, 50)
	for i := 1; i < len(results); i++ {
		assert.LessOrEqual(t, results[i-1].Distance, results[i].Distance)
	}

	n, err := ix.Delete(ctx, "v7", "v8", "unknown")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.False(t, ix.IsPresent("v7"))
	assert.Equal(t, 48, ix.Len())

	results, err = ix.Search(vectors[7]).K(50).Execute(ctx)
	require.NoError(t, err)
	for _, r := range results {
		assert.NotContains(t, []string{"v7", "v8"}, r.ID)
	}

	assert.ErrorIs(t, ix.Insert(ctx, "v7", vectors[7]), ErrAlreadyIndexed, "deleted ids are reserved until purge")

	removed, err := ix.Purge(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)
	require.NoError(t, ix.Insert(ctx, "v7", vectors[7]))
	assert.True(t, ix.IsPresent("v7"))

	stats, err := ix.Stats()
	require.NoError(t, err)
	assert.Equal(t, 49, stats.Live)
	assert.Equal(t, testDim, stats.Dimension)
	assert.Equal(t, 4, stats.Cells)
}

func TestSearchErrors(t *testing.T) {
	ctx := context.Background()
	ix := newTestIndexer(t)

	results, err := ix.Search(make([]float32, testDim)).Execute(ctx)
	require.NoError(t, err)
	assert.Empty(t, results)

	_, err = ix.Search(make([]float32, testDim)).K(0).Execute(ctx)
	assert.ErrorIs(t, err, ErrInvalidK)

	_, err = ix.Search(make([]float32, testDim)).First(ctx)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, ix.Insert(ctx, "a", make([]float32, testDim)))

	_, err = ix.Search(make([]float32, 3)).Execute(ctx)
	var dm *ErrDimensionMismatch
	require.ErrorAs(t, err, &dm)
	assert.Equal(t, testDim, dm.Expected)
	assert.Equal(t, 3, dm.Actual)

	err = ix.Insert(ctx, "b", make([]float32, testDim+1))
	require.ErrorAs(t, err, &dm)

	err = ix.Insert(ctx, "", make([]float32, testDim))
	assert.ErrorIs(t, err, ErrInvalidID)

	first, err := ix.Search(make([]float32, testDim)).First(ctx)
	require.NoError(t, err)
	assert.Equal(t, "a", first.ID)
}

func TestIndexAndSearchImages(t *testing.T) {
	ctx := context.Background()
	ix := newTestIndexer(t, WithProbes(4))

	for i := 0; i < 6; i++ {
		require.NoError(t, ix.IndexImage(ctx, blobTask(fmt.Sprintf("img-%d", i), int64(i))))
	}
	assert.Equal(t, 6, ix.Len())

	query := blobTask("", 2)
	vec, err := ix.Vectorize(ctx, query)
	require.NoError(t, err)
	require.Len(t, vec, testDim)

	byImage, err := ix.SearchImage(query).K(6).Execute(ctx)
	require.NoError(t, err)
	byVector, err := ix.Search(vec).K(6).Execute(ctx)
	require.NoError(t, err)
	assert.Equal(t, byVector, byImage)

	var streamed []SearchResult
	for r, err := range ix.SearchImage(query).K(6).Stream(ctx) {
		require.NoError(t, err)
		streamed = append(streamed, r)
		if len(streamed) == 2 {
			break
		}
	}
	assert.Equal(t, byImage[:2], streamed)

	_, err = ix.SearchImage(pipeline.Task{Data: []byte("not an image")}).Execute(ctx)
	assert.ErrorIs(t, err, ErrDecode)
}

func TestDegenerateImageIndexesZeroVector(t *testing.T) {
	ctx := context.Background()
	ix := newTestIndexer(t)

	img := imageio.FromImage(testutil.SolidImage(64, 64, color.Gray{Y: 128}), imageio.Options{})
	vec, err := ix.Vectorize(ctx, pipeline.Task{ID: "solid", Image: img})
	require.NoError(t, err)
	assert.Equal(t, make([]float32, testDim), vec)
	require.NoError(t, ix.Insert(ctx, "solid", vec))
}

func TestSubmitPollTake(t *testing.T) {
	ctx := context.Background()
	metrics := &BasicMetricsCollector{}
	ix := newTestIndexer(t, WithWorkers(1), WithMaxOutstanding(2), WithMetricsCollector(metrics))

	require.NoError(t, ix.Submit(blobTask("a", 1)))
	require.NoError(t, ix.Submit(blobTask("b", 2)))
	assert.False(t, ix.CanAcceptMoreTasks())
	assert.ErrorIs(t, ix.Submit(blobTask("c", 3)), ErrBackpressure)

	first, err := ix.Take(ctx)
	require.NoError(t, err)
	require.True(t, first.OK(), "%v", first.Err)

	var second IndexResult
	require.Eventually(t, func() bool {
		var ok bool
		second, ok = ix.Poll(ctx)
		return ok
	}, 10*time.Second, 5*time.Millisecond)
	require.True(t, second.OK(), "%v", second.Err)

	assert.ElementsMatch(t, []string{"a", "b"}, []string{first.ID, second.ID})
	assert.Equal(t, 2, ix.Len())
	assert.True(t, ix.CanAcceptMoreTasks())

	stats := metrics.GetStats()
	assert.Equal(t, int64(1), stats.Backpressure)
	assert.Equal(t, int64(2), stats.InsertCount)
	assert.Equal(t, int64(2), stats.VectorizeCount)
}

func TestSubmitFailureIsolated(t *testing.T) {
	ctx := context.Background()
	ix := newTestIndexer(t, WithWorkers(2))

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, testutil.NewRNG(5).BlobImage(80, 80, 10)))

	require.NoError(t, ix.SubmitWait(ctx, pipeline.Task{ID: "bad", Data: []byte("garbage")}))
	require.NoError(t, ix.SubmitWait(ctx, pipeline.Task{ID: "good", Data: buf.Bytes()}))

	got := map[string]IndexResult{}
	for i := 0; i < 2; i++ {
		r, err := ix.Take(ctx)
		require.NoError(t, err)
		got[r.ID] = r
	}
	assert.ErrorIs(t, got["bad"].Err, ErrDecode)
	assert.Equal(t, pipeline.ReasonDecode, got["bad"].Reason)
	assert.True(t, got["good"].OK())
	assert.True(t, ix.IsPresent("good"))
	assert.False(t, ix.IsPresent("bad"))
}

func TestIndexBatch(t *testing.T) {
	ctx := context.Background()
	ix := newTestIndexer(t, WithWorkers(3))

	tasks := []pipeline.Task{
		blobTask("a", 1),
		{ID: "broken", Data: []byte{0x89, 'P', 'N', 'G'}},
		blobTask("b", 2),
		blobTask("a", 3),
	}
	results, err := ix.IndexBatch(ctx, tasks)
	require.NoError(t, err)
	require.Len(t, results, 4)

	assert.Equal(t, "broken", results[1].ID)
	assert.ErrorIs(t, results[1].Err, ErrDecode)
	assert.Equal(t, pipeline.ReasonDecode, results[1].Reason)
	assert.True(t, results[2].OK())

	// Exactly one of the two "a" tasks wins.
	aErrs := 0
	for _, r := range []IndexResult{results[0], results[3]} {
		if r.Err != nil {
			assert.ErrorIs(t, r.Err, ErrAlreadyIndexed)
			aErrs++
		}
	}
	assert.Equal(t, 1, aErrs)
	assert.Equal(t, 2, ix.Len())
}

func TestRestoreFromBackend(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "index.db")
	models := testModels(t)
	vectors := testutil.NewRNG(9).GaussianVectors(20, testDim)

	backend, err := bolt.Open(path, bolt.Options{})
	require.NoError(t, err)
	ix := New(append(models, WithBackend(backend))...)
	require.NoError(t, ix.Build(ctx))
	for i, v := range vectors {
		require.NoError(t, ix.Insert(ctx, fmt.Sprintf("v%d", i), v))
	}
	_, err = ix.Delete(ctx, "v3")
	require.NoError(t, err)
	_, err = ix.Purge(ctx)
	require.NoError(t, err)
	want, err := ix.Search(vectors[5]).K(5).Execute(ctx)
	require.NoError(t, err)
	require.NoError(t, ix.Close())

	backend, err = bolt.Open(path, bolt.Options{})
	require.NoError(t, err)
	restored := New(append(models, WithBackend(backend))...)
	require.NoError(t, restored.Build(ctx))
	defer restored.Close()

	assert.Equal(t, 19, restored.Len())
	assert.False(t, restored.IsPresent("v3"))
	got, err := restored.Search(vectors[5]).K(5).Execute(ctx)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestCloseKeepsDeletes(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "index.db")
	models := testModels(t)
	vectors := testutil.NewRNG(10).GaussianVectors(5, testDim)

	backend, err := bolt.Open(path, bolt.Options{})
	require.NoError(t, err)
	ix := New(append(models, WithBackend(backend))...)
	require.NoError(t, ix.Build(ctx))
	for i, v := range vectors {
		require.NoError(t, ix.Insert(ctx, fmt.Sprintf("v%d", i), v))
	}
	n, err := ix.Delete(ctx, "v3")
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.NoError(t, ix.Close())

	backend, err = bolt.Open(path, bolt.Options{})
	require.NoError(t, err)
	restored := New(append(models, WithBackend(backend))...)
	require.NoError(t, restored.Build(ctx))
	defer restored.Close()

	assert.Equal(t, 4, restored.Len())
	assert.False(t, restored.IsPresent("v3"))
	stats, err := restored.Stats()
	require.NoError(t, err)
	assert.Equal(t, 4, stats.Entries)
	assert.Zero(t, stats.PendingPurge)

	require.NoError(t, restored.Insert(ctx, "v3", vectors[3]))
}

func TestModelFiles(t *testing.T) {
	ctx := context.Background()
	opts := testModels(t)
	ix := New(opts...)
	require.NoError(t, ix.Build(ctx))
	vec, err := ix.Vectorize(ctx, blobTask("q", 11))
	require.NoError(t, err)
	require.NoError(t, ix.Close())

	o := applyOptions(opts)
	models := &Models{Codebooks: o.codebooks, Coarse: o.coarse, PQ: o.pq}
	files, err := models.Save(t.TempDir())
	require.NoError(t, err)
	assert.Empty(t, files.PCA)
	require.Len(t, files.Codebooks, 1)

	fromFiles := New(WithModelFiles(files))
	require.NoError(t, fromFiles.Build(ctx))
	defer fromFiles.Close()

	got, err := fromFiles.Vectorize(ctx, blobTask("q", 11))
	require.NoError(t, err)
	assert.Equal(t, vec, got)
}

func TestCloseIsIdempotent(t *testing.T) {
	ctx := context.Background()
	ix := New(append(testModels(t), WithSyncInterval(time.Millisecond), WithPurgeSchedule("@every 1h"))...)
	require.NoError(t, ix.Build(ctx))
	require.NoError(t, ix.Insert(ctx, "a", make([]float32, testDim)))

	require.NoError(t, ix.Close())
	require.NoError(t, ix.Close())
	assert.False(t, ix.Ready())
	assert.ErrorIs(t, ix.Insert(ctx, "b", make([]float32, testDim)), ErrClosed)
	_, err := ix.Take(ctx)
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, ix.Build(ctx), ErrClosed)
}

func TestConcurrentInsertAndSearch(t *testing.T) {
	ctx := context.Background()
	ix := newTestIndexer(t)
	vectors := testutil.NewRNG(13).GaussianVectors(200, testDim)

	var wg sync.WaitGroup
	errs := make(chan error, 400)
	for w := 0; w < 4; w++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for i := w; i < len(vectors); i += 4 {
				errs <- ix.Insert(ctx, fmt.Sprintf("v%d", i), vectors[i])
			}
		}()
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				_, err := ix.Search(vectors[i]).K(5).Execute(ctx)
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
	assert.Equal(t, 200, ix.Len())
}

func TestTrainModels(t *testing.T) {
	if testing.Short() {
		t.Skip("trains models on synthetic images")
	}
	ctx := context.Background()

	images := make([]*imageio.Image, 24)
	for i := range images {
		images[i] = imageio.FromImage(testutil.NewRNG(int64(i)).BlobImage(96, 96, 10), imageio.Options{})
	}
	models, err := TrainModels(ctx, images, TrainConfig{
		Codebooks:    []int{8, 4},
		PCADimension: 16,
		Whitening:    true,
		Cells:        2,
		Subvectors:   4,
		Centroids:    4,
		Seed:         1,
	})
	require.NoError(t, err)
	require.Len(t, models.Codebooks, 2)
	assert.Equal(t, 16, models.Projection.OutputDim())
	assert.Equal(t, 16, models.Coarse.Dimension())
	assert.Equal(t, 4, models.PQ.NumSubvectors())

	files, err := models.Save(t.TempDir())
	require.NoError(t, err)
	require.NotEmpty(t, files.PCA)

	ix := New(WithModelFiles(files), WithWhitening(true), WithProbes(2))
	require.NoError(t, ix.Build(ctx))
	defer ix.Close()
	assert.Equal(t, 16, ix.Dimension())

	results, err := ix.IndexBatch(ctx, []pipeline.Task{{ID: "x", Image: images[0]}, {ID: "y", Image: images[1]}})
	require.NoError(t, err)
	for _, r := range results {
		require.NoError(t, r.Err)
	}
	top, err := ix.SearchImage(pipeline.Task{Image: images[0]}).K(2).Execute(ctx)
	require.NoError(t, err)
	assert.Len(t, top, 2)
}

func TestTrainModelsRequiresImages(t *testing.T) {
	_, err := TrainModels(context.Background(), nil, TrainConfig{})
	assert.ErrorIs(t, err, ErrConfiguration)
	assert.False(t, errors.Is(err, ErrStorage))
}
