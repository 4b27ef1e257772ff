package floe

import (
	"errors"
	"math"
	"testing"

	"go.uber.org/zap"
)

func walkerParms(t *testing.T, doc string) *Parms {
	t.Helper()
	p, err := ParseParms([]byte(doc))
	if err != nil {
		t.Fatalf("ParseParms failed: %v", err)
	}
	return p
}

func testWalker(parms *Parms, data beamData, join *atl08Join) *beamWalker {
	if data.bckgrdDT == nil {
		data.bckgrdDT = []float64{0}
		data.bckgrdRate = []float32{1}
	}
	return newBeamWalker(BeamLeft, parms, data, join, zap.NewNop())
}

func constConf(n int, c int8) []int8 {
	s := make([]int8, n)
	for i := range s {
		s[i] = c
	}
	return s
}

// -----------------------------------------------------------------------------
// Extent stepping
// -----------------------------------------------------------------------------

func TestWalker_SingleSegmentExtent(t *testing.T) {
	parms := walkerParms(t, `{"len":20,"res":20,"cnt":1,"ats":0}`)
	w := testWalker(parms, beamData{
		segPhCnt:   []int32{3},
		distX:      []float64{0},
		segID:      []int32{100},
		segDT:      []float64{0},
		distPh:     []float32{0, 5, 10},
		heightPh:   []float32{100, 101, 102},
		signalConf: constConf(3, 4),
		latPh:      make([]float64, 3),
		lonPh:      make([]float64, 3),
		dtPh:       make([]float64, 3),
	}, nil)

	photons, valid, err := w.nextExtent()
	if err != nil {
		t.Fatalf("nextExtent failed: %v", err)
	}
	if !valid {
		t.Fatal("extent should be valid")
	}
	if len(photons) != 3 {
		t.Fatalf("photon count = %d, want 3", len(photons))
	}
	want := []float64{-10, -5, 0}
	for i, p := range photons {
		if p.Distance != want[i] {
			t.Errorf("photon %d distance = %v, want %v", i, p.Distance, want[i])
		}
	}
	if !w.complete {
		t.Error("walker should be complete after exhausting photons")
	}
}

func TestWalker_OverlappingStep(t *testing.T) {
	// Three 20m segments, photons every 10m. With a 40m extent stepped
	// every 20m, the middle photons appear in two extents.
	parms := walkerParms(t, `{"len":40,"res":20,"cnt":1,"ats":0}`)
	w := testWalker(parms, beamData{
		segPhCnt:   []int32{2, 2, 2},
		distX:      []float64{0, 20, 40},
		segID:      []int32{1, 2, 3},
		segDT:      []float64{0, 1, 2},
		distPh:     []float32{0, 10, 0, 10, 0, 10},
		heightPh:   make([]float32, 6),
		signalConf: constConf(6, 4),
		latPh:      make([]float64, 6),
		lonPh:      make([]float64, 6),
		dtPh:       make([]float64, 6),
	}, nil)

	var counts []int
	var firsts []float64
	for !w.complete {
		photons, valid, err := w.nextExtent()
		if err != nil {
			t.Fatalf("nextExtent failed: %v", err)
		}
		if !valid {
			t.Fatal("extent should be valid")
		}
		counts = append(counts, len(photons))
		firsts = append(firsts, photons[0].Distance)
	}

	// Extent 1 covers absolute [0,40): photons 0,10,20,30. Extent 2 covers
	// [20,60): photons 20,30,40,50 — the photon at exactly the extent
	// length is excluded, and the walk ends with the photon array.
	if len(counts) != 2 || counts[0] != 4 || counts[1] != 4 {
		t.Fatalf("extent photon counts = %v, want [4 4]", counts)
	}
	for i, first := range firsts {
		if first != -20 {
			t.Errorf("extent %d first distance = %v, want -20", i, first)
		}
	}
}

func TestWalker_StartDistanceAdvancesByStep(t *testing.T) {
	parms := walkerParms(t, `{"len":40,"res":20,"cnt":1,"ats":0}`)
	w := testWalker(parms, beamData{
		segPhCnt:   []int32{4, 4, 4, 4},
		distX:      []float64{0, 20, 40, 60},
		segID:      []int32{1, 2, 3, 4},
		segDT:      []float64{0, 1, 2, 3},
		distPh:     []float32{0, 5, 10, 15, 0, 5, 10, 15, 0, 5, 10, 15, 0, 5, 10, 15},
		heightPh:   make([]float32, 16),
		signalConf: constConf(16, 4),
		latPh:      make([]float64, 16),
		lonPh:      make([]float64, 16),
		dtPh:       make([]float64, 16),
	}, nil)

	prevStart := math.Inf(-1)
	for !w.complete {
		if w.startDistance <= prevStart {
			t.Fatalf("extent start %v did not advance past %v", w.startDistance, prevStart)
		}
		prevStart = w.startDistance
		if _, _, err := w.nextExtent(); err != nil {
			t.Fatalf("nextExtent failed: %v", err)
		}
		// The renormalised start distance stays within one segment of the
		// base segment's start.
		if w.startSegment+1 < len(w.data.distX) && w.startDistance >= w.data.distX[w.startSegment+1] {
			t.Fatalf("start distance %v not normalised against segment %d", w.startDistance, w.startSegment)
		}
	}
}

func TestWalker_SpreadFilter(t *testing.T) {
	parms := walkerParms(t, `{"len":20,"res":20,"cnt":1,"ats":10}`)
	w := testWalker(parms, beamData{
		segPhCnt:   []int32{2},
		distX:      []float64{0},
		segID:      []int32{1},
		segDT:      []float64{0},
		distPh:     []float32{0, 5},
		heightPh:   make([]float32, 2),
		signalConf: constConf(2, 4),
		latPh:      make([]float64, 2),
		lonPh:      make([]float64, 2),
		dtPh:       make([]float64, 2),
	}, nil)

	photons, valid, err := w.nextExtent()
	if err != nil {
		t.Fatalf("nextExtent failed: %v", err)
	}
	if valid {
		t.Error("extent with 5m spread should fail a 10m spread filter")
	}
	if len(photons) != 2 {
		t.Errorf("photon count = %d, want 2", len(photons))
	}
}

func TestWalker_MinimumPhotonCount(t *testing.T) {
	parms := walkerParms(t, `{"len":20,"res":20,"cnt":5,"ats":0}`)
	w := testWalker(parms, beamData{
		segPhCnt:   []int32{3},
		distX:      []float64{0},
		segID:      []int32{1},
		segDT:      []float64{0},
		distPh:     []float32{0, 5, 10},
		heightPh:   make([]float32, 3),
		signalConf: constConf(3, 4),
		latPh:      make([]float64, 3),
		lonPh:      make([]float64, 3),
		dtPh:       make([]float64, 3),
	}, nil)

	_, valid, err := w.nextExtent()
	if err != nil {
		t.Fatalf("nextExtent failed: %v", err)
	}
	if valid {
		t.Error("3 photons should fail a minimum count of 5")
	}
}

func TestWalker_ConfidenceFilter(t *testing.T) {
	parms := walkerParms(t, `{"len":20,"res":20,"cnt":1,"ats":0}`)
	conf := []int8{4, 0, 4} // middle photon below the default threshold
	w := testWalker(parms, beamData{
		segPhCnt:   []int32{3},
		distX:      []float64{0},
		segID:      []int32{1},
		segDT:      []float64{0},
		distPh:     []float32{0, 5, 10},
		heightPh:   make([]float32, 3),
		signalConf: conf,
		latPh:      make([]float64, 3),
		lonPh:      make([]float64, 3),
		dtPh:       make([]float64, 3),
	}, nil)

	photons, _, err := w.nextExtent()
	if err != nil {
		t.Fatalf("nextExtent failed: %v", err)
	}
	if len(photons) != 2 {
		t.Fatalf("photon count = %d, want 2 (low-confidence photon dropped)", len(photons))
	}
}

func TestWalker_PhotonConservation(t *testing.T) {
	// No single extent carries more photons than the beam's subset holds,
	// whatever the window geometry.
	for _, tc := range []struct {
		name     string
		length   float64
		step     float64
	}{
		{"no overlap", 20, 20},
		{"overlap", 40, 20},
		{"sparse", 10, 30},
	} {
		t.Run(tc.name, func(t *testing.T) {
			parms := DefaultParms()
			parms.ExtentLength = tc.length
			parms.ExtentStep = tc.step
			parms.MinimumPhotonCount = 1
			parms.AlongTrackSpread = 0

			const photonsPerSeg = 10
			const segments = 8
			distPh := make([]float32, 0, segments*photonsPerSeg)
			cnt := make([]int32, segments)
			distX := make([]float64, segments)
			for s := 0; s < segments; s++ {
				cnt[s] = photonsPerSeg
				distX[s] = float64(s) * segmentLength
				for p := 0; p < photonsPerSeg; p++ {
					distPh = append(distPh, float32(p)*2)
				}
			}
			total := len(distPh)
			w := testWalker(&parms, beamData{
				segPhCnt:   cnt,
				distX:      distX,
				segID:      make([]int32, segments),
				segDT:      make([]float64, segments),
				distPh:     distPh,
				heightPh:   make([]float32, total),
				signalConf: constConf(total, 4),
				latPh:      make([]float64, total),
				lonPh:      make([]float64, total),
				dtPh:       make([]float64, total),
			}, nil)

			// Overlapping extents revisit photons; the per-extent count can
			// never exceed the subset total.
			for !w.complete {
				photons, _, err := w.nextExtent()
				if err != nil {
					t.Fatalf("nextExtent failed: %v", err)
				}
				if len(photons) > total {
					t.Fatalf("extent carries %d photons, subset has %d", len(photons), total)
				}
			}
		})
	}
}

// -----------------------------------------------------------------------------
// Segment id estimate
// -----------------------------------------------------------------------------

func TestWalker_SegmentID(t *testing.T) {
	parms := walkerParms(t, `{"len":40,"res":20,"cnt":1,"ats":0}`)
	w := testWalker(parms, beamData{
		segPhCnt:   []int32{2, 2},
		distX:      []float64{0, 20},
		segID:      []int32{500, 501},
		segDT:      []float64{0, 1},
		distPh:     []float32{10, 15, 0, 10},
		heightPh:   make([]float32, 4),
		signalConf: constConf(4, 4),
		latPh:      make([]float64, 4),
		lonPh:      make([]float64, 4),
		dtPh:       make([]float64, 4),
	}, nil)

	if _, _, err := w.nextExtent(); err != nil {
		t.Fatalf("nextExtent failed: %v", err)
	}
	// id = segID[extent_segment] + startSegPortion + (len/20)/2
	//    = 500 + 10/20 + 1 = 501.5, rounded to 502.
	if got := w.segmentID(); got != 502 {
		t.Errorf("segmentID = %d, want 502", got)
	}
}

// -----------------------------------------------------------------------------
// Background-rate interpolation
// -----------------------------------------------------------------------------

func TestWalker_BackgroundRateConstant(t *testing.T) {
	parms := walkerParms(t, `{}`)
	w := testWalker(parms, beamData{
		segDT:      []float64{5},
		bckgrdDT:   []float64{0, 2, 4, 6, 8},
		bckgrdRate: []float32{7, 7, 7, 7, 7},
	}, nil)
	w.extentSegment = 0

	if got := w.backgroundRate(); math.Abs(got-7) > 1e-9 {
		t.Errorf("constant-rate interpolation = %v, want 7", got)
	}
}

func TestWalker_BackgroundRateLinear(t *testing.T) {
	parms := walkerParms(t, `{}`)
	w := testWalker(parms, beamData{
		segDT:      []float64{3},
		bckgrdDT:   []float64{0, 2, 4},
		bckgrdRate: []float32{0, 20, 40},
	}, nil)
	w.extentSegment = 0

	// rate(t) = 10t, so rate(3) = 30.
	if got := w.backgroundRate(); math.Abs(got-30) > 1e-9 {
		t.Errorf("linear interpolation = %v, want 30", got)
	}
}

func TestWalker_BackgroundRateEndpoints(t *testing.T) {
	parms := walkerParms(t, `{}`)

	// Before the first sample: snap to the first rate.
	w := testWalker(parms, beamData{
		segDT:      []float64{-1},
		bckgrdDT:   []float64{0, 2},
		bckgrdRate: []float32{5, 9},
	}, nil)
	w.extentSegment = 0
	if got := w.backgroundRate(); got != 5 {
		t.Errorf("before-first lookup = %v, want 5", got)
	}

	// After the last sample: snap to the last rate.
	w = testWalker(parms, beamData{
		segDT:      []float64{100},
		bckgrdDT:   []float64{0, 2},
		bckgrdRate: []float32{5, 9},
	}, nil)
	w.extentSegment = 0
	if got := w.backgroundRate(); got != 9 {
		t.Errorf("past-last lookup = %v, want 9", got)
	}
}

func TestWalker_BackgroundCursorMonotonic(t *testing.T) {
	parms := walkerParms(t, `{}`)
	w := testWalker(parms, beamData{
		segDT:      []float64{1, 3, 5},
		bckgrdDT:   []float64{0, 2, 4, 6},
		bckgrdRate: []float32{0, 2, 4, 6},
	}, nil)

	prev := -1
	for seg := 0; seg < 3; seg++ {
		w.extentSegment = seg
		w.backgroundRate()
		if w.bckgrdIn < prev {
			t.Fatalf("background cursor moved backwards: %d -> %d", prev, w.bckgrdIn)
		}
		prev = w.bckgrdIn
	}
}

// -----------------------------------------------------------------------------
// ATL08 classification join
// -----------------------------------------------------------------------------

func TestATL08Join_Lookup(t *testing.T) {
	join := &atl08Join{
		phSegmentID: []int32{10, 10, 11},
		classedIndx: []int32{1, 3, 1},
		classedFlag: []int8{1, 2, 3},
	}
	join.mask[ClassGround] = true
	join.mask[ClassTopOfCanopy] = true

	cls, ok, err := join.classify(10, 1)
	if err != nil || cls != ClassGround || !ok {
		t.Errorf("classify(10,1) = %v %v %v, want ground/accepted", cls, ok, err)
	}
	// Photon 2 of segment 10 has no entry: unclassified, not in mask.
	cls, ok, err = join.classify(10, 2)
	if err != nil || cls != ClassUnclassified || ok {
		t.Errorf("classify(10,2) = %v %v %v, want unclassified/rejected", cls, ok, err)
	}
	cls, ok, err = join.classify(10, 3)
	if err != nil || cls != ClassCanopy || ok {
		t.Errorf("classify(10,3) = %v %v %v, want canopy/rejected", cls, ok, err)
	}
	cls, ok, err = join.classify(11, 1)
	if err != nil || cls != ClassTopOfCanopy || !ok {
		t.Errorf("classify(11,1) = %v %v %v, want top-of-canopy/accepted", cls, ok, err)
	}
}

func TestATL08Join_InvalidClassIsFatal(t *testing.T) {
	join := &atl08Join{
		phSegmentID: []int32{10},
		classedIndx: []int32{1},
		classedFlag: []int8{7},
	}
	_, _, err := join.classify(10, 1)
	var cerr *ClassificationError
	if !errors.As(err, &cerr) {
		t.Fatalf("expected ClassificationError, got %v", err)
	}
	if cerr.Class != 7 {
		t.Errorf("Class = %d, want 7", cerr.Class)
	}
}

func TestWalker_NoClassificationLeavesInfoUnclassified(t *testing.T) {
	parms := walkerParms(t, `{"len":20,"res":20,"cnt":1,"ats":0}`)
	w := testWalker(parms, beamData{
		segPhCnt:   []int32{2},
		distX:      []float64{0},
		segID:      []int32{1},
		segDT:      []float64{0},
		distPh:     []float32{0, 5},
		heightPh:   make([]float32, 2),
		signalConf: constConf(2, 4),
		latPh:      make([]float64, 2),
		lonPh:      make([]float64, 2),
		dtPh:       make([]float64, 2),
	}, nil)

	photons, _, err := w.nextExtent()
	if err != nil {
		t.Fatalf("nextExtent failed: %v", err)
	}
	for i, p := range photons {
		if p.Info != uint32(ClassUnclassified) {
			t.Errorf("photon %d info = %d, want %d", i, p.Info, uint32(ClassUnclassified))
		}
	}
}
