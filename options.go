package visualindex

import (
	"log/slog"
	"os"
	"time"

	"github.com/hupe1980/visualindex/feature"
	"github.com/hupe1980/visualindex/imageio"
	"github.com/hupe1980/visualindex/pca"
	"github.com/hupe1980/visualindex/quantization"
	"github.com/hupe1980/visualindex/storage"
	"github.com/hupe1980/visualindex/vlad"
)

const (
	// DefaultProbes is the number of coarse cells visited per search.
	DefaultProbes = 8
	// DefaultShutdownGrace bounds how long Close waits for in-flight images.
	DefaultShutdownGrace = 10 * time.Second
)

// ModelFiles names the trained model artifacts loaded by Build.
type ModelFiles struct {
	// Codebooks are VLAD codebooks, concatenated in this order.
	Codebooks []string
	// PCA is the projection file. Empty means identity.
	PCA string
	// Coarse is the coarse quantizer centroid table.
	Coarse string
	// PQ is the product quantizer file.
	PQ string
}

type options struct {
	files      ModelFiles
	codebooks  []*vlad.Codebook
	projection *pca.Projection
	coarse     *quantization.CoarseQuantizer
	pq         *quantization.ProductQuantizer
	pcaDim     int
	whitening  bool
	probes     int
	backend    storage.Backend

	workers        int
	maxOutstanding int
	extractorOpts  feature.Options
	vladOpts       []vlad.Option
	fetcher        imageio.Fetcher
	imageOpts      imageio.Options

	metricsCollector MetricsCollector
	logger           *Logger
	syncInterval     time.Duration
	purgeSchedule    string
	shutdownGrace    time.Duration
}

// Option configures an Indexer.
type Option func(*options)

func defaultOptions() options {
	return options{
		probes:           DefaultProbes,
		extractorOpts:    feature.DefaultOptions(),
		metricsCollector: NoopMetricsCollector{},
		logger:           NoopLogger(),
		shutdownGrace:    DefaultShutdownGrace,
	}
}

func applyOptions(optFns []Option) options {
	o := defaultOptions()
	for _, fn := range optFns {
		fn(&o)
	}
	return o
}

// WithModelFiles sets the model artifacts Build loads from disk. Models
// given directly with WithCodebooks, WithProjection or WithQuantizers take
// precedence over the corresponding files.
func WithModelFiles(files ModelFiles) Option {
	return func(o *options) {
		o.files = files
	}
}

// WithCodebooks sets the VLAD codebooks.
func WithCodebooks(cbs ...*vlad.Codebook) Option {
	return func(o *options) {
		o.codebooks = cbs
	}
}

// WithProjection sets the PCA projection.
func WithProjection(p *pca.Projection) Option {
	return func(o *options) {
		o.projection = p
	}
}

// WithQuantizers sets the coarse and product quantizers of the index.
func WithQuantizers(coarse *quantization.CoarseQuantizer, pq *quantization.ProductQuantizer) Option {
	return func(o *options) {
		o.coarse = coarse
		o.pq = pq
	}
}

// WithPCADimension sets the number of principal components kept when the
// projection is loaded from a file. Zero keeps all of them.
func WithPCADimension(dim int) Option {
	return func(o *options) {
		o.pcaDim = dim
	}
}

// WithWhitening enables whitening for a projection loaded from a file.
func WithWhitening(enabled bool) Option {
	return func(o *options) {
		o.whitening = enabled
	}
}

// WithProbes sets the number of coarse cells visited per search.
func WithProbes(n int) Option {
	return func(o *options) {
		o.probes = n
	}
}

// WithBackend sets the storage backend for posting lists. Defaults to an
// in-memory backend. The Indexer closes the backend on Close.
func WithBackend(b storage.Backend) Option {
	return func(o *options) {
		o.backend = b
	}
}

// WithWorkers sets the number of vectorization workers.
func WithWorkers(n int) Option {
	return func(o *options) {
		o.workers = n
	}
}

// WithMaxOutstanding sets the ceiling on images submitted but not yet
// indexed.
func WithMaxOutstanding(n int) Option {
	return func(o *options) {
		o.maxOutstanding = n
	}
}

// WithExtractorOptions sets the feature extractor options.
func WithExtractorOptions(opts feature.Options) Option {
	return func(o *options) {
		o.extractorOpts = opts
	}
}

// WithVLADOptions sets aggregation post-processing.
func WithVLADOptions(opts ...vlad.Option) Option {
	return func(o *options) {
		o.vladOpts = opts
	}
}

// WithFetcher sets how image locations are read.
func WithFetcher(f imageio.Fetcher) Option {
	return func(o *options) {
		o.fetcher = f
	}
}

// WithImageOptions sets the decode options.
func WithImageOptions(opts imageio.Options) Option {
	return func(o *options) {
		o.imageOpts = opts
	}
}

// WithMetricsCollector configures a metrics collector for monitoring.
//
// If nil is passed, NoopMetricsCollector is used.
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) {
		if mc == nil {
			mc = NoopMetricsCollector{}
		}
		o.metricsCollector = mc
	}
}

// WithLogger configures structured logging.
//
// If nil is passed, logging is disabled.
func WithLogger(l *Logger) Option {
	return func(o *options) {
		if l == nil {
			l = NoopLogger()
		}
		o.logger = l
	}
}

// WithLogLevel is a shortcut for a text logger on stderr at the given level.
func WithLogLevel(level slog.Level) Option {
	return func(o *options) {
		o.logger = NewTextLogger(os.Stderr, level)
	}
}

// WithSyncInterval syncs the backend periodically. Zero disables it.
func WithSyncInterval(d time.Duration) Option {
	return func(o *options) {
		o.syncInterval = d
	}
}

// WithPurgeSchedule runs Purge on a cron schedule, for example "@every 1h"
// or "0 3 * * *". Empty disables it.
func WithPurgeSchedule(spec string) Option {
	return func(o *options) {
		o.purgeSchedule = spec
	}
}

// WithShutdownGrace bounds how long Close waits for in-flight images.
func WithShutdownGrace(d time.Duration) Option {
	return func(o *options) {
		o.shutdownGrace = d
	}
}
