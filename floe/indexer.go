package floe

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// ATL03 dataset paths consumed by the indexer. Only small single-value or
// endpoint reads; indexing a resource touches no photon data.
const (
	dsSDPEpoch       = "/ancillary_data/atlas_sdp_gps_epoch"
	dsStartDeltaTime = "/ancillary_data/start_delta_time"
	dsEndDeltaTime   = "/ancillary_data/end_delta_time"
	dsCycleNumber    = "/orbit_info/cycle_number"
	dsRGT            = "/orbit_info/rgt"
)

func indexLatPath(beam string) string { return "/" + beam + "/" + dsReferenceLat }

func indexLonPath(beam string) string { return "/" + beam + "/" + dsReferenceLon }

// The index endpoints come from the first gt3r segment and the last gt1l
// segment. The lon0/lon1 pairing with those latitudes is inherited from the
// reference implementation unverified; it is kept for catalog compatibility.
const (
	indexHeadBeam = "gt3r"
	indexTailBeam = "gt1l"
)

// Worker pool bounds.
const (
	DefaultIndexWorkers = 4
	MaxIndexWorkers     = 8
)

// IndexerStats are the counters of one indexer.
type IndexerStats struct {
	Processed int
	Threads   int
	Completed int
}

// -----------------------------------------------------------------------------
// Indexer
// -----------------------------------------------------------------------------

// Indexer produces one compact spatial/temporal index record per resource.
// A static pool of workers consumes a shared resource cursor; a failing
// resource is logged and skipped, and the last worker to finish posts the
// end-of-stream sentinel.
type Indexer struct {
	src   Source
	asset Asset
	out   *Queue
	log   *zap.Logger

	postTimeout time.Duration

	resourceMu sync.Mutex
	resources  []string
	cursor     int

	active atomic.Bool
	wg     sync.WaitGroup

	mu          sync.Mutex
	numComplete int
	threadCount int
}

// NewIndexer constructs an indexer over the given resources and starts its
// workers. workers outside [1, MaxIndexWorkers] falls back to the default.
func NewIndexer(ctx context.Context, src Source, asset Asset, resources []string, out *Queue, workers int, opts ...Option) (*Indexer, error) {
	if src == nil || asset == nil || out == nil {
		return nil, errors.New("floe: source, asset, and queue are required")
	}
	if len(resources) == 0 {
		return nil, ErrNoResources
	}

	cfg := defaultIndexerConfig()
	for _, opt := range opts {
		if err := opt.applyIndexer(cfg); err != nil {
			return nil, fmt.Errorf("floe: %w", err)
		}
	}

	if workers < 1 || workers > MaxIndexWorkers {
		cfg.log.Warn("invalid number of index workers, using default",
			zap.Int("workers", workers), zap.Int("default", DefaultIndexWorkers))
		workers = DefaultIndexWorkers
	}

	ix := &Indexer{
		src:         src,
		asset:       asset,
		out:         out,
		log:         cfg.log,
		postTimeout: cfg.postTimeout,
		resources:   resources,
		threadCount: workers,
	}
	ix.active.Store(true)

	for t := 0; t < workers; t++ {
		ix.wg.Add(1)
		go ix.worker(ctx)
	}
	return ix, nil
}

// Stats returns the processed/completed counters.
func (ix *Indexer) Stats() IndexerStats {
	ix.resourceMu.Lock()
	processed := ix.cursor
	ix.resourceMu.Unlock()

	ix.mu.Lock()
	completed := ix.numComplete
	ix.mu.Unlock()

	return IndexerStats{Processed: processed, Threads: ix.threadCount, Completed: completed}
}

// Wait blocks until every worker has completed.
func (ix *Indexer) Wait() { ix.wg.Wait() }

// Close asks workers to stop and joins them.
func (ix *Indexer) Close() {
	ix.active.Store(false)
	ix.wg.Wait()
}

// -----------------------------------------------------------------------------
// Worker
// -----------------------------------------------------------------------------

func (ix *Indexer) worker(ctx context.Context) {
	defer ix.wg.Done()

	for ix.active.Load() {
		ix.resourceMu.Lock()
		if ix.cursor >= len(ix.resources) {
			ix.resourceMu.Unlock()
			break
		}
		resource := ix.resources[ix.cursor]
		ix.cursor++
		ix.resourceMu.Unlock()

		entry, err := ix.indexResource(ctx, resource)
		if err != nil {
			// One bad resource does not stop the pool.
			ix.log.Error("unable to index resource",
				zap.String("resource", resource), zap.Error(err))
			continue
		}

		frame := entry.Marshal()
		for ix.active.Load() {
			err := ix.out.Post(frame, ix.postTimeout)
			if err == nil || errors.Is(err, ErrQueueClosed) {
				break
			}
			ix.log.Debug("failed to post index record",
				zap.String("resource", resource), zap.Error(err))
		}
	}

	ix.mu.Lock()
	ix.numComplete++
	last := ix.numComplete == ix.threadCount
	ix.mu.Unlock()

	if last {
		ix.postEndOfStream()
	}
}

func (ix *Indexer) postEndOfStream() {
	for {
		err := ix.out.Post(nil, ix.postTimeout)
		if err == nil || errors.Is(err, ErrQueueClosed) {
			return
		}
		if !ix.active.Load() {
			return
		}
	}
}

// indexResource reads the nine small datasets of one resource under a fresh
// context and assembles its index record.
func (ix *Indexer) indexResource(ctx context.Context, resource string) (*IndexEntry, error) {
	url, err := ix.asset.Resolve(resource)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", resource, err)
	}

	ioc := NewIOContext()

	sdpEpoch, err := readScalar[float64](ctx, ix.src, url, dsSDPEpoch, ioc)
	if err != nil {
		return nil, err
	}
	startDT, err := readScalar[float64](ctx, ix.src, url, dsStartDeltaTime, ioc)
	if err != nil {
		return nil, err
	}
	endDT, err := readScalar[float64](ctx, ix.src, url, dsEndDeltaTime, ioc)
	if err != nil {
		return nil, err
	}
	cycle, err := readScalar[int8](ctx, ix.src, url, dsCycleNumber, ioc)
	if err != nil {
		return nil, err
	}
	rgt, err := readScalar[uint16](ctx, ix.src, url, dsRGT, ioc)
	if err != nil {
		return nil, err
	}
	headLat, err := readSlice[float64](ctx, ix.src, url, indexLatPath(indexHeadBeam), ioc, Selection{RowStart: 0, RowCount: 1})
	if err != nil {
		return nil, err
	}
	headLon, err := readSlice[float64](ctx, ix.src, url, indexLonPath(indexHeadBeam), ioc, Selection{RowStart: 0, RowCount: 1})
	if err != nil {
		return nil, err
	}
	tailLat, err := readSlice[float64](ctx, ix.src, url, indexLatPath(indexTailBeam), ioc, fullRead)
	if err != nil {
		return nil, err
	}
	tailLon, err := readSlice[float64](ctx, ix.src, url, indexLonPath(indexTailBeam), ioc, fullRead)
	if err != nil {
		return nil, err
	}
	if len(headLat) == 0 || len(headLon) == 0 || len(tailLat) == 0 || len(tailLon) == 0 {
		return nil, &IOError{Dataset: indexLatPath(indexTailBeam), Err: errEmptyDataset{}}
	}

	return &IndexEntry{
		Name:  resource,
		T0:    sdpEpoch + startDT,
		T1:    sdpEpoch + endDT,
		Lat0:  headLat[0],
		Lon0:  headLon[0],
		Lat1:  tailLat[len(tailLat)-1],
		Lon1:  tailLon[len(tailLat)-1],
		Cycle: uint32(cycle),
		RGT:   uint32(rgt),
	}, nil
}
