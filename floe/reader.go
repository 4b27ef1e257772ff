package floe

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// ATL03 dataset paths consumed by the reader.
const (
	dsScOrient   = "/orbit_info/sc_orient"
	dsStartRGT   = "/ancillary_data/start_rgt"
	dsStartCycle = "/ancillary_data/start_cycle"

	dsVelocitySc   = "geolocation/velocity_sc"
	dsSegmentDT    = "geolocation/delta_time"
	dsSegmentID    = "geolocation/segment_id"
	dsSegmentDistX = "geolocation/segment_dist_x"

	dsDistPhAlong = "heights/dist_ph_along"
	dsHeightPh    = "heights/h_ph"
	dsSignalConf  = "heights/signal_conf_ph"
	dsLatPh       = "heights/lat_ph"
	dsLonPh       = "heights/lon_ph"
	dsDeltaTimePh = "heights/delta_time"

	dsBckgrdDT   = "bckgrd_atlas/delta_time"
	dsBckgrdRate = "bckgrd_atlas/bckgrd_rate"

	dsATL08SegmentID   = "signal_photons/ph_segment_id"
	dsATL08ClassedIndx = "signal_photons/classed_pc_indx"
	dsATL08ClassedFlag = "signal_photons/classed_pc_flag"
)

// atl08Resource derives the companion classification resource name by the
// filename convention shared by the two products.
func atl08Resource(resource string) string {
	return strings.Replace(resource, "ATL03", "ATL08", 1)
}

// ReaderStats are the aggregated counters of one reader.
type ReaderStats struct {
	SegmentsRead    uint32
	ExtentsFiltered uint32
	ExtentsSent     uint32
	ExtentsDropped  uint32
	ExtentsRetried  uint32
}

func (s *ReaderStats) merge(o ReaderStats) {
	s.SegmentsRead += o.SegmentsRead
	s.ExtentsFiltered += o.ExtentsFiltered
	s.ExtentsSent += o.ExtentsSent
	s.ExtentsDropped += o.ExtentsDropped
	s.ExtentsRetried += o.ExtentsRetried
}

// -----------------------------------------------------------------------------
// Reader
// -----------------------------------------------------------------------------

// Reader streams one resource's photon data as extent records onto an
// outbound queue. It spawns one worker per pair track (or a single worker
// for a specific track); workers share only the aggregated statistics and
// the completion counter. The last worker to complete posts the end-of-
// stream sentinel exactly once, on failure paths included.
type Reader struct {
	src   Source
	out   *Queue
	parms *Parms
	track Track
	log   *zap.Logger

	resource string
	url      string
	atl08URL string

	postTimeout time.Duration
	traceID     string

	// Immutable after construction; read-only in workers.
	scOrient   SpacecraftOrientation
	startRGT   int32
	startCycle int32

	active atomic.Bool
	wg     sync.WaitGroup

	mu          sync.Mutex
	stats       ReaderStats
	numComplete int
	threadCount int
}

// NewReader constructs a reader and starts its workers. The global resource
// information is read synchronously; a failure there posts end-of-stream
// and returns the error so consumers never block on a reader that produced
// nothing.
func NewReader(ctx context.Context, src Source, asset Asset, resource string, out *Queue, parms *Parms, track Track, opts ...Option) (*Reader, error) {
	if src == nil || asset == nil || out == nil || parms == nil {
		return nil, errors.New("floe: source, asset, queue, and parms are required")
	}
	if track != TrackAll && (track < Track1 || track > Track3) {
		return nil, fmt.Errorf("floe: invalid track %d", track)
	}

	cfg := defaultReaderConfig()
	for _, opt := range opts {
		if err := opt.applyReader(cfg); err != nil {
			return nil, fmt.Errorf("floe: %w", err)
		}
	}

	url, err := asset.Resolve(resource)
	if err != nil {
		return nil, fmt.Errorf("floe: resolve %s: %w", resource, err)
	}
	atl08URL := ""
	if parms.UseATL08Classification {
		atl08URL, err = asset.Resolve(atl08Resource(resource))
		if err != nil {
			return nil, fmt.Errorf("floe: resolve %s: %w", atl08Resource(resource), err)
		}
	}

	r := &Reader{
		src:         src,
		out:         out,
		parms:       parms,
		track:       track,
		log:         cfg.log,
		resource:    resource,
		url:         url,
		atl08URL:    atl08URL,
		postTimeout: cfg.postTimeout,
	}
	r.active.Store(true)

	// Global resource information, read under one context.
	ioc := NewIOContext()
	r.traceID = ioc.ID
	if err := r.readGlobals(ctx, ioc); err != nil {
		r.log.Error("failed to read global information",
			zap.String("resource", resource), zap.Error(err))
		r.postEndOfStream()
		return nil, err
	}

	if track == TrackAll {
		r.threadCount = NumTracks
		for t := Track1; t <= Track3; t++ {
			r.wg.Add(1)
			go r.worker(ctx, t)
		}
	} else {
		r.threadCount = 1
		r.wg.Add(1)
		go r.worker(ctx, track)
	}
	return r, nil
}

func (r *Reader) readGlobals(ctx context.Context, ioc *IOContext) error {
	orient, err := readScalar[int8](ctx, r.src, r.url, dsScOrient, ioc)
	if err != nil {
		return err
	}
	rgt, err := readScalar[int32](ctx, r.src, r.url, dsStartRGT, ioc)
	if err != nil {
		return err
	}
	cycle, err := readScalar[int32](ctx, r.src, r.url, dsStartCycle, ioc)
	if err != nil {
		return err
	}
	r.scOrient = SpacecraftOrientation(orient)
	r.startRGT = rgt
	r.startCycle = cycle
	return nil
}

// Stats returns the aggregated counters, optionally zeroing them.
func (r *Reader) Stats(clear bool) ReaderStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.stats
	if clear {
		r.stats = ReaderStats{}
	}
	return s
}

// Parms returns the effective configuration.
func (r *Reader) Parms() Parms { return *r.parms }

// Wait blocks until every worker has completed.
func (r *Reader) Wait() { r.wg.Wait() }

// Close asks workers to stop and joins them. In-flight reads run to
// completion; workers notice within one post timeout.
func (r *Reader) Close() {
	r.active.Store(false)
	r.wg.Wait()
}

// -----------------------------------------------------------------------------
// Worker
// -----------------------------------------------------------------------------

func (r *Reader) worker(ctx context.Context, track Track) {
	defer r.wg.Done()

	log := r.log.With(
		zap.String("resource", r.resource),
		zap.Int("track", int(track)),
		zap.String("trace", r.traceID),
	)

	var local ReaderStats
	if err := r.processTrack(ctx, track, &local, log); err != nil {
		if errors.Is(err, ErrEmptyRegion) {
			log.Info("empty spatial region")
		} else {
			log.Error("failure during processing", zap.Error(err))
		}
	}

	r.mu.Lock()
	r.stats.merge(local)
	r.numComplete++
	last := r.numComplete == r.threadCount
	r.mu.Unlock()

	if last {
		log.Info("completed processing resource")
		r.postEndOfStream()
	}
}

// postEndOfStream posts the zero-length sentinel frame. Callers arrange to
// invoke it exactly once per reader.
func (r *Reader) postEndOfStream() {
	for {
		err := r.out.Post(nil, r.postTimeout)
		if err == nil || errors.Is(err, ErrQueueClosed) {
			return
		}
		if !r.active.Load() {
			return
		}
	}
}

// processTrack runs the full pipeline for one pair track: subset, block
// reads, then the synchronized extent walk.
func (r *Reader) processTrack(ctx context.Context, track Track, stats *ReaderStats, log *zap.Logger) error {
	ioc := NewIOContext()

	region, err := newRegion(ctx, r.src, r.url, track, r.parms, ioc)
	if err != nil {
		return err
	}

	velocity, err := readPair[float32](ctx, r.src, r.url, track, dsVelocitySc, ioc, [beamsPerTrack]Selection{
		{Col: AllCols, RowStart: region.FirstSegment[BeamLeft], RowCount: region.NumSegments[BeamLeft]},
		{Col: AllCols, RowStart: region.FirstSegment[BeamRight], RowCount: region.NumSegments[BeamRight]},
	})
	if err != nil {
		return err
	}
	segDT, err := readPair[float64](ctx, r.src, r.url, track, dsSegmentDT, ioc, region.segmentSel())
	if err != nil {
		return err
	}
	segID, err := readPair[int32](ctx, r.src, r.url, track, dsSegmentID, ioc, region.segmentSel())
	if err != nil {
		return err
	}
	distX, err := readPair[float64](ctx, r.src, r.url, track, dsSegmentDistX, ioc, region.segmentSel())
	if err != nil {
		return err
	}
	distPh, err := readPair[float32](ctx, r.src, r.url, track, dsDistPhAlong, ioc, region.photonSel(0))
	if err != nil {
		return err
	}
	heightPh, err := readPair[float32](ctx, r.src, r.url, track, dsHeightPh, ioc, region.photonSel(0))
	if err != nil {
		return err
	}
	signalConf, err := readPair[int8](ctx, r.src, r.url, track, dsSignalConf, ioc, region.photonSel(int(r.parms.SurfaceType)))
	if err != nil {
		return err
	}
	latPh, err := readPair[float64](ctx, r.src, r.url, track, dsLatPh, ioc, region.photonSel(0))
	if err != nil {
		return err
	}
	lonPh, err := readPair[float64](ctx, r.src, r.url, track, dsLonPh, ioc, region.photonSel(0))
	if err != nil {
		return err
	}
	dtPh, err := readPair[float64](ctx, r.src, r.url, track, dsDeltaTimePh, ioc, region.photonSel(0))
	if err != nil {
		return err
	}
	bckgrdDT, err := readPair[float64](ctx, r.src, r.url, track, dsBckgrdDT, ioc, uniformSel(fullRead))
	if err != nil {
		return err
	}
	bckgrdRate, err := readPair[float32](ctx, r.src, r.url, track, dsBckgrdRate, ioc, uniformSel(fullRead))
	if err != nil {
		return err
	}

	var joins [beamsPerTrack]*atl08Join
	if r.parms.UseATL08Classification {
		phSegID, err := readPair[int32](ctx, r.src, r.atl08URL, track, dsATL08SegmentID, ioc, uniformSel(fullRead))
		if err != nil {
			return err
		}
		classedIndx, err := readPair[int32](ctx, r.src, r.atl08URL, track, dsATL08ClassedIndx, ioc, uniformSel(fullRead))
		if err != nil {
			return err
		}
		classedFlag, err := readPair[int8](ctx, r.src, r.atl08URL, track, dsATL08ClassedFlag, ioc, uniformSel(fullRead))
		if err != nil {
			return err
		}
		for b := BeamLeft; b <= BeamRight; b++ {
			joins[b] = &atl08Join{
				phSegmentID: phSegID.Beam(b),
				classedIndx: classedIndx.Beam(b),
				classedFlag: classedFlag.Beam(b),
				mask:        r.parms.ATL08Class,
			}
		}
	}

	// The context has served its purpose; log accumulated I/O before the
	// walk starts emitting records.
	log.Info("i/o context retired",
		zap.Uint64("reads", ioc.Reads()),
		zap.Uint64("bytes", ioc.Bytes()))

	stats.SegmentsRead += uint32(region.SegmentPhCount.Len(BeamLeft) + region.SegmentPhCount.Len(BeamRight))

	var walkers [beamsPerTrack]*beamWalker
	for b := BeamLeft; b <= BeamRight; b++ {
		walkers[b] = newBeamWalker(b, r.parms, beamData{
			segPhCnt:   region.SegmentPhCount.Beam(b),
			distX:      distX.Beam(b),
			segID:      segID.Beam(b),
			segDT:      segDT.Beam(b),
			velocity:   velocity.Beam(b),
			distPh:     distPh.Beam(b),
			heightPh:   heightPh.Beam(b),
			signalConf: signalConf.Beam(b),
			latPh:      latPh.Beam(b),
			lonPh:      lonPh.Beam(b),
			dtPh:       dtPh.Beam(b),
			bckgrdDT:   bckgrdDT.Beam(b),
			bckgrdRate: bckgrdRate.Beam(b),
		}, joins[b], log)
	}

	return r.walkTrack(track, walkers, stats, log)
}

// walkTrack steps both beam walkers in lockstep, emitting one record per
// iteration when either beam's extent survives the filters.
func (r *Reader) walkTrack(track Track, walkers [beamsPerTrack]*beamWalker, stats *ReaderStats, log *zap.Logger) error {
	left, right := walkers[BeamLeft], walkers[BeamRight]

	for r.active.Load() && (!left.complete || !right.complete) {
		var photons [beamsPerTrack][]Photon
		var valid [beamsPerTrack]bool

		for b := BeamLeft; b <= BeamRight; b++ {
			w := walkers[b]
			if w.complete {
				continue
			}
			ph, ok, err := w.nextExtent()
			if err != nil {
				return err
			}
			photons[b], valid[b] = ph, ok
		}

		if !valid[BeamLeft] && !valid[BeamRight] {
			stats.ExtentsFiltered++
			continue
		}

		ext := &Extent{
			Valid:                 valid,
			Track:                 track,
			SpacecraftOrientation: r.scOrient,
			RGT:                   uint16(r.startRGT),
			Cycle:                 uint16(r.startCycle),
		}
		for b := BeamLeft; b <= BeamRight; b++ {
			w := walkers[b]
			ext.SegmentID[b] = w.segmentID()
			ext.Length[b] = r.parms.ExtentLength
			ext.SpacecraftVelocity[b] = w.spacecraftVelocity()
			ext.BackgroundRate[b] = w.backgroundRate()
			ext.Photons[b] = photons[b]
		}

		frame := ext.Marshal()
		posted := false
		for r.active.Load() {
			err := r.out.Post(frame, r.postTimeout)
			if err == nil {
				posted = true
				break
			}
			if errors.Is(err, ErrQueueClosed) {
				break
			}
			stats.ExtentsRetried++
			log.Debug("failed to post extent", zap.Error(err))
		}
		if posted {
			stats.ExtentsSent++
		} else {
			stats.ExtentsDropped++
		}
	}
	return nil
}
