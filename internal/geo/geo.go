// Package geo provides the projections and the point-in-polygon predicate
// used for segment-level spatial subsetting.
//
// Only three projections are supported: two polar stereographic planes for
// high-latitude tracks and plate carrée elsewhere. They exist solely to give
// the ray-casting inclusion test a locally planar space; none of them are
// suitable for measurement.
package geo

import "math"

// Coord is a geographic coordinate in degrees.
type Coord struct {
	Lat float64
	Lon float64
}

// Point is a projected planar coordinate.
type Point struct {
	X float64
	Y float64
}

// Projection selects the plane used for inclusion testing.
type Projection int

// Supported projections.
const (
	PlateCarree Projection = iota
	NorthPolar
	SouthPolar
)

// polarLatitude is the latitude beyond which a polar plane is used.
const polarLatitude = 60.0

const degToRad = math.Pi / 180.0

// Select chooses the projection for a track whose first reference latitude
// is lat.
func Select(lat float64) Projection {
	switch {
	case lat > polarLatitude:
		return NorthPolar
	case lat < -polarLatitude:
		return SouthPolar
	default:
		return PlateCarree
	}
}

// Project maps a geographic coordinate onto the projection plane.
//
// The polar planes are spherical polar stereographic, scaled to unit radius.
// Scale is irrelevant to inclusion testing as long as polygon and points
// share it.
func (p Projection) Project(c Coord) Point {
	switch p {
	case NorthPolar:
		lat := c.Lat * degToRad
		lon := c.Lon * degToRad
		r := 2.0 * math.Tan(math.Pi/4.0-lat/2.0)
		return Point{X: r * math.Sin(lon), Y: -r * math.Cos(lon)}
	case SouthPolar:
		lat := c.Lat * degToRad
		lon := c.Lon * degToRad
		r := 2.0 * math.Tan(math.Pi/4.0+lat/2.0)
		return Point{X: r * math.Sin(lon), Y: r * math.Cos(lon)}
	default:
		return Point{X: c.Lon, Y: c.Lat}
	}
}

// InPolygon reports whether pt lies inside the polygon by ray casting.
// Points exactly on an edge may land on either side.
func InPolygon(poly []Point, pt Point) bool {
	inside := false
	n := len(poly)
	for i, j := 0, n-1; i < n; j, i = i, i+1 {
		pi, pj := poly[i], poly[j]
		if (pi.Y > pt.Y) == (pj.Y > pt.Y) {
			continue
		}
		x := (pj.X-pi.X)*(pt.Y-pi.Y)/(pj.Y-pi.Y) + pi.X
		if pt.X < x {
			inside = !inside
		}
	}
	return inside
}
