package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/visualindex/testutil"
)

func TestNewRootCmd(t *testing.T) {
	cmd := NewRootCmd("1.0.0", &app{})
	assert.Equal(t, "visualindex", cmd.Use)
	assert.Equal(t, "1.0.0", cmd.Version)

	for _, name := range []string{"config", "log-level", "log-format", "metrics-addr", "json"} {
		assert.NotNil(t, cmd.PersistentFlags().Lookup(name), name)
	}
	for _, name := range []string{"index", "search", "delete", "stats", "train"} {
		sub, _, err := cmd.Find([]string{name})
		require.NoError(t, err)
		assert.Equal(t, name, sub.Name())
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	l, err := newLogger(&buf, "debug", "json")
	require.NoError(t, err)
	l.Debug("hello")
	assert.Contains(t, buf.String(), `"msg":"hello"`)

	_, err = newLogger(&buf, "info", "xml")
	assert.Error(t, err)
	_, err = newLogger(&buf, "loud", "text")
	assert.Error(t, err)
}

// run executes one CLI invocation with a fresh app, like main does.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	a := &app{}
	cmd := NewRootCmd("test", a)
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	if err != nil {
		_ = a.close()
	}
	return out.String(), err
}

func writeImages(t *testing.T, dir string, n int) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	for i := range n {
		f, err := os.Create(filepath.Join(dir, fmt.Sprintf("img-%02d.png", i)))
		require.NoError(t, err)
		require.NoError(t, png.Encode(f, testutil.NewRNG(int64(i)).BlobImage(96, 96, 10)))
		require.NoError(t, f.Close())
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("skipped"), 0o644))
}

func TestIndexRequiresModels(t *testing.T) {
	_, err := run(t, "stats")
	assert.Error(t, err)
}

func TestTrainIndexSearch(t *testing.T) {
	if testing.Short() {
		t.Skip("trains models on synthetic images")
	}
	dir := t.TempDir()
	images := filepath.Join(dir, "images")
	writeImages(t, images, 24)

	cfgPath := filepath.Join(dir, "config.yaml")
	cfg := DefaultConfig()
	cfg.Index.Probes = 2
	cfg.Storage = StorageConfig{Backend: "bolt", Bolt: BoltConfig{Path: filepath.Join(dir, "index.db")}}
	require.NoError(t, SaveConfig(cfgPath, cfg))

	out, err := run(t, "--config", cfgPath, "train", images,
		"--out", filepath.Join(dir, "models"),
		"--codebooks", "8", "--pca-dim", "16", "--whiten",
		"--cells", "2", "--subvectors", "4", "--centroids", "4",
		"--write-config", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, out, "coarse.bin")

	out, err = run(t, "--config", cfgPath, "index", images)
	require.NoError(t, err)
	assert.Contains(t, out, "indexed 24 of 24 images")

	query := filepath.Join(images, "img-03.png")
	out, err = run(t, "--config", cfgPath, "--json", "search", query, "-k", "3")
	require.NoError(t, err)
	var results []struct {
		ID       string  `json:"id"`
		Distance float32 `json:"distance"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &results))
	require.Len(t, results, 3)
	for _, r := range results {
		assert.True(t, strings.HasPrefix(r.ID, images), r.ID)
	}

	out, err = run(t, "--config", cfgPath, "delete", query)
	require.NoError(t, err)
	assert.Contains(t, out, "deleted 1 of 1")

	out, err = run(t, "--config", cfgPath, "--json", "stats")
	require.NoError(t, err)
	var stats map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &stats))
	assert.EqualValues(t, 23, stats["Live"])
	assert.EqualValues(t, 23, stats["Entries"])
	assert.EqualValues(t, 0, stats["PendingPurge"])
	assert.EqualValues(t, 16, stats["Dimension"])

	out, err = run(t, "--config", cfgPath, "index", query)
	require.NoError(t, err, "a deleted id can be indexed again")
	assert.Contains(t, out, "indexed 1 of 1")

	out, err = run(t, "--config", cfgPath, "index", query)
	require.NoError(t, err)
	assert.Contains(t, out, "indexed 0 of 1", "duplicates are reported per image")
}
