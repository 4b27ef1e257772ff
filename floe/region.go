package floe

import (
	"context"

	"github.com/justapithecus/floe/internal/geo"
)

// ATL03 geolocation dataset paths read by the subsetter.
const (
	dsReferenceLat = "geolocation/reference_photon_lat"
	dsReferenceLon = "geolocation/reference_photon_lon"
	dsSegmentPhCnt = "geolocation/segment_ph_cnt"
)

// -----------------------------------------------------------------------------
// Region subsetter
// -----------------------------------------------------------------------------

// Region identifies, per beam, the segment and photon windows that intersect
// the configured polygon. With no polygon every window covers the whole
// resource. The per-segment arrays are trimmed to the segment window.
//
// The subsetter exists to bound downstream I/O: photon arrays run to 10^8
// elements while segments stay near 10^6, so inclusion is tested per segment
// only, never per photon.
type Region struct {
	SegmentLat     *PairArray[float64]
	SegmentLon     *PairArray[float64]
	SegmentPhCount *PairArray[int32]

	FirstSegment [beamsPerTrack]int
	NumSegments  [beamsPerTrack]int
	FirstPhoton  [beamsPerTrack]int
	NumPhotons   [beamsPerTrack]int
}

// newRegion reads the per-segment reference coordinates for one track and
// scans them against the polygon. Returns ErrEmptyRegion when a polygon is
// set and neither beam contributes photons.
func newRegion(ctx context.Context, src Source, url string, track Track, parms *Parms, ioc *IOContext) (*Region, error) {
	lat, err := readPair[float64](ctx, src, url, track, dsReferenceLat, ioc, uniformSel(fullRead))
	if err != nil {
		return nil, err
	}
	lon, err := readPair[float64](ctx, src, url, track, dsReferenceLon, ioc, uniformSel(fullRead))
	if err != nil {
		return nil, err
	}
	cnt, err := readPair[int32](ctx, src, url, track, dsSegmentPhCnt, ioc, uniformSel(fullRead))
	if err != nil {
		return nil, err
	}

	r := &Region{
		SegmentLat:     lat,
		SegmentLon:     lon,
		SegmentPhCount: cnt,
	}
	for b := BeamLeft; b <= BeamRight; b++ {
		r.NumSegments[b] = AllRows
		r.NumPhotons[b] = AllRows
	}

	if len(parms.Polygon) > 0 {
		if err := r.subset(parms.Polygon); err != nil {
			return nil, err
		}
	}

	r.SegmentLat.Trim(r.FirstSegment, r.NumSegments)
	r.SegmentLon.Trim(r.FirstSegment, r.NumSegments)
	r.SegmentPhCount.Trim(r.FirstSegment, r.NumSegments)
	return r, nil
}

// subset walks segments in index order per beam, locating the first and last
// segments whose reference coordinate falls inside the polygon.
func (r *Region) subset(polygon []Coord) error {
	// The projection is chosen from the first LEFT reference latitude.
	proj := geo.PlateCarree
	if r.SegmentLat.Len(BeamLeft) > 0 {
		proj = geo.Select(r.SegmentLat.Beam(BeamLeft)[0])
	}

	projected := make([]geo.Point, len(polygon))
	for i, c := range polygon {
		projected[i] = proj.Project(geo.Coord{Lat: c.Lat, Lon: c.Lon})
	}

	for b := BeamLeft; b <= BeamRight; b++ {
		lat := r.SegmentLat.Beam(b)
		lon := r.SegmentLon.Beam(b)
		cnt := r.SegmentPhCount.Beam(b)

		r.NumPhotons[b] = 0
		firstFound := false
		lastFound := false
		segment := 0
		for ; segment < len(cnt); segment++ {
			pt := proj.Project(geo.Coord{Lat: lat[segment], Lon: lon[segment]})
			inside := geo.InPolygon(projected, pt)

			if !firstFound {
				if inside && cnt[segment] != 0 {
					firstFound = true
					r.FirstSegment[b] = segment
					r.NumPhotons[b] = int(cnt[segment])
				} else {
					r.FirstPhoton[b] += int(cnt[segment])
				}
			} else if !lastFound {
				if !inside && cnt[segment] != 0 {
					lastFound = true
					break // full window found
				}
				r.NumPhotons[b] += int(cnt[segment])
			}
		}

		if firstFound {
			r.NumSegments[b] = segment - r.FirstSegment[b]
		} else {
			r.NumSegments[b] = 0
		}
	}

	if r.NumPhotons[BeamLeft] == 0 && r.NumPhotons[BeamRight] == 0 {
		return ErrEmptyRegion
	}
	return nil
}

// segmentSel bounds a per-segment dataset read to this region's windows.
func (r *Region) segmentSel() [beamsPerTrack]Selection {
	return [beamsPerTrack]Selection{
		{RowStart: r.FirstSegment[BeamLeft], RowCount: r.NumSegments[BeamLeft]},
		{RowStart: r.FirstSegment[BeamRight], RowCount: r.NumSegments[BeamRight]},
	}
}

// photonSel bounds a per-photon dataset read to this region's windows.
// col selects the signal-confidence column where applicable.
func (r *Region) photonSel(col int) [beamsPerTrack]Selection {
	return [beamsPerTrack]Selection{
		{Col: col, RowStart: r.FirstPhoton[BeamLeft], RowCount: r.NumPhotons[BeamLeft]},
		{Col: col, RowStart: r.FirstPhoton[BeamRight], RowCount: r.NumPhotons[BeamRight]},
	}
}
