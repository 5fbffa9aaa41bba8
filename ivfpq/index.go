package ivfpq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/RoaringBitmap/roaring/v2/roaring64"

	"github.com/hupe1980/visualindex/internal/math32"
	"github.com/hupe1980/visualindex/internal/searcher"
	"github.com/hupe1980/visualindex/quantization"
	"github.com/hupe1980/visualindex/storage"
	"github.com/hupe1980/visualindex/storage/memory"
)

// Result is one search hit.
type Result struct {
	ID       string
	Distance float32
}

// Stats describes the index contents.
type Stats struct {
	Cells        int
	Probes       int
	Entries      int // physically stored, including entries waiting to be purged
	Live         int
	PendingPurge int
	LargestCell  int
	BytesPerCode int
}

// Option configures an Index.
type Option func(*options)

type options struct {
	backend storage.Backend
	logger  *slog.Logger
}

// WithBackend sets the storage backend. Defaults to an in-memory backend.
func WithBackend(b storage.Backend) Option {
	return func(o *options) {
		o.backend = b
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

type config struct {
	coarse *quantization.CoarseQuantizer
	pq     *quantization.ProductQuantizer
	probes int
	cells  []*cell
}

// Index is an inverted-file index over product-quantized residuals.
//
// Inserts into different cells proceed in parallel. Inserts into the same
// cell are serialized by the cell lock, which also fixes their order. Search
// may run concurrently with inserts and deletes and may miss entries added
// while it runs.
type Index struct {
	backend storage.Backend
	logger  *slog.Logger

	cfgMu sync.RWMutex
	cfg   *config

	ids     *registry
	nextSeq atomic.Uint64
	live    atomic.Int64
	stored  atomic.Int64

	// purgeMu guards purged. Searches hold the read lock while scanning.
	purgeMu sync.RWMutex
	purged  *roaring64.Bitmap
	// purgeRun serializes Purge calls.
	purgeRun sync.Mutex
}

// New returns an unconfigured index.
func New(optFns ...Option) *Index {
	o := options{}
	for _, fn := range optFns {
		fn(&o)
	}
	if o.backend == nil {
		o.backend = memory.New()
	}
	if o.logger == nil {
		o.logger = slog.New(slog.DiscardHandler)
	}

	return &Index{
		backend: o.backend,
		logger:  o.logger,
		ids:     newRegistry(),
		purged:  roaring64.New(),
	}
}

// Configure sets the quantizers and the default number of cells probed per
// search.
//
// Configure is idempotent: calling it again with equal quantizers only
// updates numCellsToVisit and leaves existing entries untouched. Different
// quantizers are accepted only while the index is empty; afterwards
// ErrAlreadyConfigured is returned. numCellsToVisit is clamped to
// [1, coarse.NumCells()].
func (idx *Index) Configure(coarse *quantization.CoarseQuantizer, pq *quantization.ProductQuantizer, numCellsToVisit int) error {
	if coarse == nil || pq == nil {
		return fmt.Errorf("%w: coarse and product quantizer are required", ErrInvalidConfiguration)
	}
	if coarse.Dimension() != pq.Dimension() {
		return fmt.Errorf("%w: %w", ErrInvalidConfiguration, &DimensionError{Expected: coarse.Dimension(), Actual: pq.Dimension()})
	}
	probes := max(1, min(numCellsToVisit, coarse.NumCells()))

	idx.cfgMu.Lock()
	defer idx.cfgMu.Unlock()

	if cur := idx.cfg; cur != nil {
		if cur.coarse.Equal(coarse) && cur.pq.Equal(pq) {
			cur.probes = probes
			return nil
		}
		if idx.stored.Load() > 0 {
			return ErrAlreadyConfigured
		}
	}

	cells := make([]*cell, coarse.NumCells())
	for i := range cells {
		cells[i] = &cell{}
	}
	idx.cfg = &config{coarse: coarse, pq: pq, probes: probes, cells: cells}

	idx.logger.Info("index configured",
		"dimension", coarse.Dimension(),
		"cells", coarse.NumCells(),
		"subvectors", pq.NumSubvectors(),
		"centroids", pq.NumCentroids(),
		"probes", probes,
	)
	return nil
}

// Configured reports whether Configure succeeded.
func (idx *Index) Configured() bool {
	idx.cfgMu.RLock()
	defer idx.cfgMu.RUnlock()
	return idx.cfg != nil
}

// Dimension returns the vector dimension, or 0 before Configure.
func (idx *Index) Dimension() int {
	idx.cfgMu.RLock()
	defer idx.cfgMu.RUnlock()
	if idx.cfg == nil {
		return 0
	}
	return idx.cfg.coarse.Dimension()
}

// Insert encodes vec and stores it under id.
//
// The entry is written to the backend before it becomes visible. A backend
// failure leaves the index unchanged.
func (idx *Index) Insert(ctx context.Context, id string, vec []float32) error {
	if id == "" {
		return ErrInvalidID
	}

	idx.cfgMu.RLock()
	defer idx.cfgMu.RUnlock()

	cfg := idx.cfg
	if cfg == nil {
		return ErrNotConfigured
	}
	if len(vec) != cfg.coarse.Dimension() {
		return &DimensionError{Expected: cfg.coarse.Dimension(), Actual: len(vec)}
	}
	if !math32.IsFinite(vec) {
		return ErrNonFiniteVector
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if !idx.ids.reserve(id) {
		return fmt.Errorf("%w: %q", ErrAlreadyIndexed, id)
	}

	cellID, _, err := cfg.coarse.Nearest(vec)
	if err != nil {
		idx.ids.release(id)
		return err
	}
	residual := make([]float32, len(vec))
	cfg.coarse.Residual(residual, vec, cellID)
	code, err := cfg.pq.Encode(residual)
	if err != nil {
		idx.ids.release(id)
		return err
	}

	c := cfg.cells[cellID]
	c.mu.Lock()
	seq := idx.nextSeq.Add(1) - 1
	err = idx.backend.PutEntry(ctx, storage.Entry{
		Cell: uint32(cellID),
		Seq:  seq,
		ID:   id,
		Code: code,
	})
	if err != nil {
		c.mu.Unlock()
		idx.ids.release(id)
		return fmt.Errorf("%w: %w", ErrStorage, err)
	}
	c.appendLocked(id, seq, code)
	c.mu.Unlock()

	idx.ids.publish(id, uint32(cellID), seq)
	idx.live.Add(1)
	idx.stored.Add(1)
	return nil
}

// Search returns the k entries closest to query, probing the configured
// number of cells.
func (idx *Index) Search(ctx context.Context, query []float32, k int) ([]Result, error) {
	idx.cfgMu.RLock()
	probes := 0
	if idx.cfg != nil {
		probes = idx.cfg.probes
	}
	idx.cfgMu.RUnlock()

	return idx.SearchWithProbes(ctx, query, k, probes)
}

// SearchWithProbes is Search with an explicit number of probed cells.
//
// The probed cells are the ones whose centroids are nearest to the query,
// ties going to the lower cell id. Candidates are ranked by the asymmetric
// distance between the query residual and their codes; equal distances go to
// the entry inserted first. An unconfigured or empty index yields no results.
func (idx *Index) SearchWithProbes(ctx context.Context, query []float32, k, probes int) ([]Result, error) {
	idx.cfgMu.RLock()
	defer idx.cfgMu.RUnlock()

	cfg := idx.cfg
	if cfg == nil || k <= 0 || idx.live.Load() == 0 {
		return nil, nil
	}
	if len(query) != cfg.coarse.Dimension() {
		return nil, &DimensionError{Expected: cfg.coarse.Dimension(), Actual: len(query)}
	}
	if !math32.IsFinite(query) {
		return nil, ErrNonFiniteVector
	}

	cellIDs, err := cfg.coarse.NearestN(query, probes)
	if err != nil {
		return nil, err
	}

	codeSize := cfg.pq.BytesPerVector()
	residual := make([]float32, len(query))
	table := make([]float32, cfg.pq.NumSubvectors()*cfg.pq.NumCentroids())
	topk := searcher.NewTopK(k)

	idx.purgeMu.RLock()
	defer idx.purgeMu.RUnlock()
	skipDeleted := !idx.purged.IsEmpty()

	for _, cellID := range cellIDs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		snap := cfg.cells[cellID].snapshot()
		if len(snap.ids) == 0 {
			continue
		}

		cfg.coarse.Residual(residual, query, cellID)
		if err := cfg.pq.DistanceTableInto(table, residual); err != nil {
			return nil, err
		}

		for i, seq := range snap.seqs {
			if skipDeleted && idx.purged.Contains(seq) {
				continue
			}
			d := cfg.pq.AdcDistance(table, snap.codes[i*codeSize:(i+1)*codeSize])
			if !topk.Accepts(d, seq) {
				continue
			}
			topk.Push(searcher.Item{ID: snap.ids[i], Seq: seq, Distance: d})
		}
	}

	items := topk.Sorted()
	results := make([]Result, len(items))
	for i, it := range items {
		results[i] = Result{ID: it.ID, Distance: it.Distance}
	}
	return results, nil
}

// Delete marks ids as deleted. They disappear from search results at once
// and are physically removed by the next Purge. Unknown or already deleted
// ids are ignored. It returns the number of ids marked.
//
// An id whose Insert has not returned yet is not live and counts as unknown.
// Callers that race Delete against Insert of the same id must check the
// returned count and retry once the Insert has completed.
func (idx *Index) Delete(ctx context.Context, ids ...string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	idx.purgeMu.Lock()
	defer idx.purgeMu.Unlock()

	n := 0
	for _, id := range ids {
		seq, ok := idx.ids.markDeleted(id)
		if !ok {
			continue
		}
		idx.purged.Add(seq)
		n++
	}
	idx.live.Add(int64(-n))
	return n, nil
}

// Purge physically removes deleted entries from the postings and the
// backend. Their ids can be inserted again afterwards. On a backend failure
// nothing is removed and the entries stay deleted.
func (idx *Index) Purge(ctx context.Context) (int, error) {
	idx.purgeRun.Lock()
	defer idx.purgeRun.Unlock()

	idx.purgeMu.RLock()
	pending := idx.purged.Clone()
	idx.purgeMu.RUnlock()

	if pending.IsEmpty() {
		return 0, nil
	}

	idx.cfgMu.RLock()
	defer idx.cfgMu.RUnlock()

	cfg := idx.cfg
	if cfg == nil {
		return 0, ErrNotConfigured
	}

	type victim struct {
		id  string
		seq uint64
	}
	var victims []victim
	for _, c := range cfg.cells {
		snap := c.snapshot()
		for i, seq := range snap.seqs {
			if pending.Contains(seq) {
				victims = append(victims, victim{id: snap.ids[i], seq: seq})
			}
		}
	}

	ids := make([]string, len(victims))
	for i, v := range victims {
		ids[i] = v.id
	}
	if err := idx.backend.RemoveEntries(ctx, ids); err != nil {
		return 0, fmt.Errorf("%w: %w", ErrStorage, err)
	}

	removed := 0
	codeSize := cfg.pq.BytesPerVector()
	for _, c := range cfg.cells {
		removed += c.compact(codeSize, pending.Contains)
	}
	idx.stored.Add(int64(-removed))

	for _, v := range victims {
		idx.ids.releaseDeleted(v.id, v.seq)
	}

	idx.purgeMu.Lock()
	idx.purged.AndNot(pending)
	idx.purgeMu.Unlock()

	idx.logger.Debug("purged deleted entries", "removed", removed)
	return removed, nil
}

// IsPresent reports whether id is indexed and not deleted.
func (idx *Index) IsPresent(id string) bool {
	e, ok := idx.ids.lookup(id)
	return ok && e.state == live
}

// Len returns the number of live entries.
func (idx *Index) Len() int {
	return int(idx.live.Load())
}

// Stats returns a snapshot of the index counters.
func (idx *Index) Stats() Stats {
	idx.cfgMu.RLock()
	defer idx.cfgMu.RUnlock()

	idx.purgeMu.RLock()
	pending := int(idx.purged.GetCardinality())
	idx.purgeMu.RUnlock()

	s := Stats{
		Entries:      int(idx.stored.Load()),
		Live:         int(idx.live.Load()),
		PendingPurge: pending,
	}
	if cfg := idx.cfg; cfg != nil {
		s.Cells = len(cfg.cells)
		s.Probes = cfg.probes
		s.BytesPerCode = cfg.pq.BytesPerVector()
		for _, c := range cfg.cells {
			s.LargestCell = max(s.LargestCell, c.len())
		}
	}
	return s
}

// Restore loads the postings of every cell from the backend. It must run
// after Configure and before any insert.
func (idx *Index) Restore(ctx context.Context) error {
	idx.cfgMu.Lock()
	defer idx.cfgMu.Unlock()

	cfg := idx.cfg
	if cfg == nil {
		return ErrNotConfigured
	}
	if idx.stored.Load() > 0 {
		return ErrNotEmpty
	}

	codeSize := cfg.pq.BytesPerVector()
	var (
		restored int64
		nextSeq  uint64
	)
	for cellID, c := range cfg.cells {
		entries, err := idx.backend.GetEntries(ctx, uint32(cellID))
		if err != nil {
			idx.resetLocked(cfg)
			return fmt.Errorf("%w: restore cell %d: %w", ErrStorage, cellID, err)
		}

		c.mu.Lock()
		for _, e := range entries {
			if err := idx.checkRestored(e, cellID, codeSize); err != nil {
				c.mu.Unlock()
				idx.resetLocked(cfg)
				return err
			}
			c.appendLocked(e.ID, e.Seq, e.Code)
			idx.ids.publish(e.ID, e.Cell, e.Seq)
			nextSeq = max(nextSeq, e.Seq+1)
			restored++
		}
		c.mu.Unlock()
	}

	idx.nextSeq.Store(nextSeq)
	idx.live.Store(restored)
	idx.stored.Store(restored)

	idx.logger.Info("index restored", "entries", restored, "cells", len(cfg.cells))
	return nil
}

func (idx *Index) checkRestored(e storage.Entry, cellID, codeSize int) error {
	switch {
	case e.Cell != uint32(cellID):
		return fmt.Errorf("%w: entry %q of cell %d returned for cell %d", ErrStorage, e.ID, e.Cell, cellID)
	case len(e.Code) != codeSize:
		return fmt.Errorf("%w: entry %q has a %d byte code, want %d", ErrStorage, e.ID, len(e.Code), codeSize)
	case e.ID == "":
		return fmt.Errorf("%w: entry with empty id in cell %d", ErrStorage, cellID)
	}
	if !idx.ids.reserve(e.ID) {
		return fmt.Errorf("%w: id %q stored twice", ErrStorage, e.ID)
	}
	return nil
}

func (idx *Index) resetLocked(cfg *config) {
	for _, c := range cfg.cells {
		c.mu.Lock()
		c.ids, c.seqs, c.codes = nil, nil, nil
		c.mu.Unlock()
	}
	idx.ids.reset()
}

// Sync flushes the backend.
func (idx *Index) Sync(ctx context.Context) error {
	if err := idx.backend.Sync(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrStorage, err)
	}
	return nil
}

// Close syncs and closes the backend.
func (idx *Index) Close() error {
	err := idx.backend.Sync(context.Background())
	if errors.Is(err, storage.ErrClosed) {
		return nil
	}
	return errors.Join(err, idx.backend.Close())
}
