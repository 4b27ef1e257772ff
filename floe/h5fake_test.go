package floe

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// fakeDataset is one dataset of a fake resource. cols > 1 marks a 2-D
// dataset stored row-major.
type fakeDataset struct {
	cols int
	data any
}

// fakeSource is an in-memory Source for tests. Datasets are registered per
// resource URL; individual reads can be forced to fail.
type fakeSource struct {
	mu       sync.Mutex
	files    map[string]map[string]fakeDataset
	failures map[string]error
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		files:    make(map[string]map[string]fakeDataset),
		failures: make(map[string]error),
	}
}

func (s *fakeSource) add(url, dataset string, data any) {
	s.add2D(url, dataset, 1, data)
}

func (s *fakeSource) add2D(url, dataset string, cols int, data any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.files[url] == nil {
		s.files[url] = make(map[string]fakeDataset)
	}
	s.files[url][dataset] = fakeDataset{cols: cols, data: data}
}

func (s *fakeSource) fail(url, dataset string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[url+"#"+dataset] = err
}

func (s *fakeSource) Read(_ context.Context, url, dataset string, ioc *IOContext, sel Selection) (any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.failures[url+"#"+dataset]; err != nil {
		return nil, err
	}
	file, ok := s.files[url]
	if !ok {
		return nil, fmt.Errorf("no such resource: %s", url)
	}
	ds, ok := file[dataset]
	if !ok {
		return nil, fmt.Errorf("no such dataset: %s", dataset)
	}

	switch data := ds.data.(type) {
	case []int8:
		return sliceFake(ds, sel, ioc, data)
	case []int32:
		return sliceFake(ds, sel, ioc, data)
	case []uint16:
		return sliceFake(ds, sel, ioc, data)
	case []float32:
		return sliceFake(ds, sel, ioc, data)
	case []float64:
		return sliceFake(ds, sel, ioc, data)
	default:
		return nil, fmt.Errorf("unsupported element type %T", ds.data)
	}
}

func sliceFake[T any](ds fakeDataset, sel Selection, ioc *IOContext, data []T) ([]T, error) {
	cols := ds.cols
	if cols < 1 {
		cols = 1
	}
	rows := len(data) / cols

	start := sel.RowStart
	if start < 0 {
		start = 0
	}
	if start > rows {
		start = rows
	}
	count := sel.RowCount
	if count == AllRows || start+count > rows {
		count = rows - start
	}

	var out []T
	switch {
	case cols == 1:
		out = data[start : start+count]
	case sel.Col == AllCols:
		out = data[start*cols : (start+count)*cols]
	default:
		if sel.Col < 0 || sel.Col >= cols {
			return nil, fmt.Errorf("column %d out of range", sel.Col)
		}
		out = make([]T, 0, count)
		for r := start; r < start+count; r++ {
			out = append(out, data[r*cols+sel.Col])
		}
	}
	ioc.Account(len(out))
	return out, nil
}

// -----------------------------------------------------------------------------
// Resource builders
// -----------------------------------------------------------------------------

// testAsset resolves every resource to itself.
var testAsset = AssetFunc(func(resource string) (string, error) { return resource, nil })

// beamFixture describes one beam of a synthetic track.
type beamFixture struct {
	segPhCnt []int32
	distX    []float64
	segID    []int32
	segDT    []float64
	lat      []float64
	lon      []float64

	distPh []float32
	height []float32
	conf   []int8

	bckgrdDT   []float64
	bckgrdRate []float32
}

// fill derives the datasets a fixture leaves nil from the ones it sets.
func (f *beamFixture) fill() {
	n := len(f.segPhCnt)
	if f.segID == nil {
		f.segID = make([]int32, n)
		for i := range f.segID {
			f.segID[i] = int32(i + 1)
		}
	}
	if f.segDT == nil {
		f.segDT = make([]float64, n)
		for i := range f.segDT {
			f.segDT[i] = float64(i)
		}
	}
	if f.lat == nil {
		f.lat = make([]float64, n)
	}
	if f.lon == nil {
		f.lon = make([]float64, n)
	}
	p := len(f.distPh)
	if f.height == nil {
		f.height = make([]float32, p)
		for i := range f.height {
			f.height[i] = 100 + float32(i)
		}
	}
	if f.conf == nil {
		f.conf = make([]int8, p)
		for i := range f.conf {
			f.conf[i] = int8(ConfidenceSurfaceHigh)
		}
	}
	if f.bckgrdDT == nil {
		f.bckgrdDT = []float64{0}
		f.bckgrdRate = []float32{1}
	}
}

// addTrack registers a full synthetic track (both beams) on a fake source.
func addTrack(src *fakeSource, url string, track Track, left, right *beamFixture) {
	for b, f := range map[BeamSide]*beamFixture{BeamLeft: left, BeamRight: right} {
		f.fill()
		p := len(f.distPh)

		src.add(url, beamPath(track, b, dsReferenceLat), f.lat)
		src.add(url, beamPath(track, b, dsReferenceLon), f.lon)
		src.add(url, beamPath(track, b, dsSegmentPhCnt), f.segPhCnt)
		src.add(url, beamPath(track, b, dsSegmentDistX), f.distX)
		src.add(url, beamPath(track, b, dsSegmentID), f.segID)
		src.add(url, beamPath(track, b, dsSegmentDT), f.segDT)

		velocity := make([]float32, len(f.distX)*3)
		for i := range velocity {
			velocity[i] = 3
		}
		src.add2D(url, beamPath(track, b, dsVelocitySc), 3, velocity)

		src.add(url, beamPath(track, b, dsDistPhAlong), f.distPh)
		src.add(url, beamPath(track, b, dsHeightPh), f.height)
		src.add2D(url, beamPath(track, b, dsSignalConf), 5, expandConf(f.conf))
		src.add(url, beamPath(track, b, dsLatPh), make([]float64, p))
		src.add(url, beamPath(track, b, dsLonPh), make([]float64, p))
		src.add(url, beamPath(track, b, dsDeltaTimePh), make([]float64, p))

		src.add(url, beamPath(track, b, dsBckgrdDT), f.bckgrdDT)
		src.add(url, beamPath(track, b, dsBckgrdRate), f.bckgrdRate)
	}
}

// expandConf replicates a per-photon confidence across all five surface-type
// columns.
func expandConf(conf []int8) []int8 {
	out := make([]int8, len(conf)*5)
	for i, c := range conf {
		for col := 0; col < 5; col++ {
			out[i*5+col] = c
		}
	}
	return out
}

// addGlobals registers the global resource information datasets.
func addGlobals(src *fakeSource, url string, orient int8, rgt, cycle int32) {
	src.add(url, dsScOrient, []int8{orient})
	src.add(url, dsStartRGT, []int32{rgt})
	src.add(url, dsStartCycle, []int32{cycle})
}

// simpleTrack builds a fixture with one segment holding the given photon
// distances.
func simpleTrack(distPh []float32) *beamFixture {
	return &beamFixture{
		segPhCnt: []int32{int32(len(distPh))},
		distX:    []float64{0},
		distPh:   distPh,
	}
}

// drainFrames receives frames until the end-of-stream sentinel, returning
// the non-empty frames and the number of sentinels seen.
func drainFrames(q *Queue, max int) (frames [][]byte, sentinels int) {
	for i := 0; i < max; i++ {
		frame, err := q.Receive(5 * time.Second)
		if err != nil {
			return frames, sentinels
		}
		if len(frame) == 0 {
			sentinels++
			return frames, sentinels
		}
		frames = append(frames, frame)
	}
	return frames, sentinels
}
