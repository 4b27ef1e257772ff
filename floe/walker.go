package floe

import (
	"math"

	"go.uber.org/zap"
)

// -----------------------------------------------------------------------------
// Beam data
// -----------------------------------------------------------------------------

// beamData is the set of co-indexed arrays one beam walker consumes. Segment
// arrays are aligned to the region's segment window; photon arrays to its
// photon window; background arrays cover the whole resource.
type beamData struct {
	segPhCnt []int32   // photons per segment
	distX    []float64 // segment starting along-track distance
	segID    []int32   // monotonic segment id
	segDT    []float64 // segment delta time
	velocity []float32 // per-segment velocity triples, row-major

	distPh     []float32 // photon along-track distance within its segment
	heightPh   []float32
	signalConf []int8 // confidence for the configured surface type
	latPh      []float64
	lonPh      []float64
	dtPh       []float64

	bckgrdDT   []float64 // non-decreasing background sample times
	bckgrdRate []float32
}

// -----------------------------------------------------------------------------
// Classification joiner
// -----------------------------------------------------------------------------

// atl08Join looks up the ATL08 class of a photon by (segment_id, in-segment
// index). Both source arrays are produced in lockstep with the photon
// stream, so the cursor is monotonic across all extents and never resets.
type atl08Join struct {
	phSegmentID []int32
	classedIndx []int32
	classedFlag []int8
	mask        [NumATL08Classes]bool
	cursor      int
}

// classify returns the photon's classification and whether the configured
// mask accepts it. A flag outside [0, NumATL08Classes) is fatal.
func (j *atl08Join) classify(segID int32, count int) (ATL08Class, bool, error) {
	for j.cursor < len(j.phSegmentID) && j.phSegmentID[j.cursor] < segID {
		j.cursor++
	}
	for j.cursor < len(j.phSegmentID) &&
		j.phSegmentID[j.cursor] == segID &&
		int(j.classedIndx[j.cursor]) < count {
		j.cursor++
	}
	if j.cursor < len(j.phSegmentID) &&
		j.phSegmentID[j.cursor] == segID &&
		int(j.classedIndx[j.cursor]) == count {
		flag := j.classedFlag[j.cursor]
		if flag < 0 || int(flag) >= NumATL08Classes {
			return ClassUnclassified, false, &ClassificationError{Class: flag}
		}
		j.cursor++
		cls := ATL08Class(flag)
		return cls, j.mask[cls], nil
	}
	return ClassUnclassified, j.mask[ClassUnclassified], nil
}

// -----------------------------------------------------------------------------
// Beam walker
// -----------------------------------------------------------------------------

// beamWalker carries the synchronized cursors of one beam's walk. The two
// walkers of a track advance independently but are stepped in lockstep so
// each iteration yields one paired extent.
type beamWalker struct {
	side  BeamSide
	parms *Parms
	data  beamData
	atl08 *atl08Join
	log   *zap.Logger

	phIn  int // next photon index
	segIn int // next segment index
	segPh int // photons of segIn already consumed

	startSegment    int
	startDistance   float64 // along-track distance where the next extent begins
	startSegPortion float64
	extentSegment   int // segment the current extent started in

	bckgrdIn int
	complete bool
}

func newBeamWalker(side BeamSide, parms *Parms, data beamData, atl08 *atl08Join, log *zap.Logger) *beamWalker {
	w := &beamWalker{side: side, parms: parms, data: data, atl08: atl08, log: log}
	if len(data.distX) == 0 || len(data.distPh) == 0 {
		w.complete = true
		return w
	}
	w.startDistance = data.distX[0]
	return w
}

// nextExtent scans photons from the current cursor position until both the
// step distance and the extent length are crossed, collecting the photons
// that pass the confidence and classification filters. It returns the
// photons and whether the extent survives the count and spread filters.
func (w *beamWalker) nextExtent() ([]Photon, bool, error) {
	if w.complete {
		return nil, false, nil
	}

	currentPhoton := w.phIn
	currentSegment := w.segIn
	currentCount := w.segPh // 1-based in-segment index once incremented
	extentComplete := false
	stepComplete := false

	w.extentSegment = w.segIn
	w.startSegPortion = float64(w.data.distPh[currentPhoton]) / segmentLength

	var photons []Photon
	for !extentComplete || !stepComplete {
		// Go to the photon's segment.
		currentCount++
		for currentSegment < len(w.data.distX) && currentCount > int(w.data.segPhCnt[currentSegment]) {
			currentCount = 1
			currentSegment++
		}
		if currentSegment >= len(w.data.distX) {
			w.log.Error("photons with no segments detected",
				zap.String("beam", w.side.String()))
			w.complete = true
			break
		}

		deltaDistance := w.data.distX[currentSegment] - w.startDistance
		alongTrack := deltaDistance + float64(w.data.distPh[currentPhoton])

		// Snapshot where the next extent will start.
		if !stepComplete && alongTrack >= w.parms.ExtentStep {
			w.phIn = currentPhoton
			w.segIn = currentSegment
			w.segPh = currentCount - 1
			stepComplete = true
		}

		if alongTrack < w.parms.ExtentLength {
			classification := ClassUnclassified
			acceptable := true
			if w.atl08 != nil {
				var err error
				classification, acceptable, err = w.atl08.classify(w.data.segID[currentSegment], currentCount)
				if err != nil {
					return nil, false, err
				}
			}

			if acceptable && SignalConfidence(w.data.signalConf[currentPhoton]) >= w.parms.SignalConfidence {
				photons = append(photons, Photon{
					DeltaTime: w.data.dtPh[currentPhoton],
					Latitude:  w.data.latPh[currentPhoton],
					Longitude: w.data.lonPh[currentPhoton],
					Distance:  alongTrack - w.parms.ExtentLength/2.0,
					Height:    w.data.heightPh[currentPhoton],
					Info:      uint32(classification) & 0x7,
				})
			}
		} else {
			extentComplete = true
		}

		currentPhoton++
		if currentPhoton >= len(w.data.distPh) {
			w.complete = true
			break
		}
	}

	// Advance the extent start, then renormalise it against the segment
	// base so it stays within the fractional in-segment range.
	w.startDistance += w.parms.ExtentStep
	for w.startSegment+1 < len(w.data.distX) && w.startDistance >= w.data.distX[w.startSegment+1] {
		w.startDistance += w.data.distX[w.startSegment+1] - w.data.distX[w.startSegment] - segmentLength
		w.startSegment++
	}

	valid := true
	if len(photons) < w.parms.MinimumPhotonCount {
		valid = false
	}
	if len(photons) > 1 {
		spread := photons[len(photons)-1].Distance - photons[0].Distance
		if spread < w.parms.AlongTrackSpread {
			valid = false
		}
	}
	return photons, valid, nil
}

// segmentID estimates the closest downstream segment id represented by the
// current extent.
func (w *beamWalker) segmentID() uint32 {
	if w.extentSegment >= len(w.data.segID) {
		return 0
	}
	id := float64(w.data.segID[w.extentSegment])
	id += w.startSegPortion
	id += (w.parms.ExtentLength / segmentLength) / 2.0
	return uint32(id + 0.5)
}

// spacecraftVelocity is the velocity magnitude at the extent's segment.
func (w *beamWalker) spacecraftVelocity() float64 {
	off := w.extentSegment * 3
	if off+2 >= len(w.data.velocity) {
		return 0
	}
	v1 := float64(w.data.velocity[off])
	v2 := float64(w.data.velocity[off+1])
	v3 := float64(w.data.velocity[off+2])
	return math.Sqrt(v1*v1 + v2*v2 + v3*v3)
}

// backgroundRate interpolates the background sample bracketing the extent
// segment's delta time. The cursor only moves forward; once it runs off the
// end the last rate holds.
func (w *beamWalker) backgroundRate() float64 {
	if len(w.data.bckgrdRate) == 0 || w.extentSegment >= len(w.data.segDT) {
		return 0
	}
	rate := float64(w.data.bckgrdRate[len(w.data.bckgrdRate)-1])
	segmentTime := w.data.segDT[w.extentSegment]
	for w.bckgrdIn < len(w.data.bckgrdRate) {
		if w.data.bckgrdDT[w.bckgrdIn] >= segmentTime {
			if w.bckgrdIn > 0 {
				prevTime := w.data.bckgrdDT[w.bckgrdIn-1]
				prevRate := float64(w.data.bckgrdRate[w.bckgrdIn-1])
				currRate := float64(w.data.bckgrdRate[w.bckgrdIn])
				run := w.data.bckgrdDT[w.bckgrdIn] - prevTime
				rise := currRate - prevRate
				rate = (rise/run)*(segmentTime-prevTime) + prevRate
			} else {
				rate = float64(w.data.bckgrdRate[0])
			}
			break
		}
		w.bckgrdIn++
	}
	return rate
}
