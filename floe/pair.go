package floe

import (
	"context"
	"fmt"
)

// -----------------------------------------------------------------------------
// Paired-beam array
// -----------------------------------------------------------------------------

// PairArray holds two co-indexed typed arrays, one per beam side of a ground
// track. The two slices have independent lengths; per-beam indices advance
// independently.
type PairArray[T Element] struct {
	gt [beamsPerTrack][]T
}

// readPair constructs a PairArray by issuing one read per beam side, composing
// the dataset path with the beam tag (gt1l, gt1r, ...). sel bounds each beam's
// read independently.
func readPair[T Element](ctx context.Context, src Source, url string, track Track, dataset string, ioc *IOContext, sel [beamsPerTrack]Selection) (*PairArray[T], error) {
	var pa PairArray[T]
	for b := BeamLeft; b <= BeamRight; b++ {
		path := beamPath(track, b, dataset)
		s, err := readSlice[T](ctx, src, url, path, ioc, sel[b])
		if err != nil {
			return nil, err
		}
		pa.gt[b] = s
	}
	return &pa, nil
}

// beamPath composes the full dataset path for one beam of a track.
func beamPath(track Track, b BeamSide, dataset string) string {
	return fmt.Sprintf("/gt%d%s/%s", track, b, dataset)
}

// uniformSel bounds both beams with the same selection.
func uniformSel(sel Selection) [beamsPerTrack]Selection {
	return [beamsPerTrack]Selection{sel, sel}
}

// Beam returns the slice for one beam side.
func (p *PairArray[T]) Beam(b BeamSide) []T { return p.gt[b] }

// Len returns the length of one beam's slice.
func (p *PairArray[T]) Len(b BeamSide) int { return len(p.gt[b]) }

// Trim adjusts the observable window of each beam to [first, first+count).
// A count of AllRows keeps the remainder of the beam.
func (p *PairArray[T]) Trim(first, count [beamsPerTrack]int) {
	for b := BeamLeft; b <= BeamRight; b++ {
		s := p.gt[b]
		lo := first[b]
		if lo > len(s) {
			lo = len(s)
		}
		hi := len(s)
		if count[b] != AllRows && lo+count[b] < hi {
			hi = lo + count[b]
		}
		p.gt[b] = s[lo:hi]
	}
}
