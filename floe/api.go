// Package floe streams photon-level laser altimetry (ICESat-2 ATL03) as
// fixed-length along-track extents suitable for downstream surface fitting.
//
// Floe focuses on extraction structure: spatial subsetting, a synchronized
// walk over paired-beam photon arrays, and framed record emission. It does
// not implement the surface-fit algorithm or the HDF5 file format itself;
// dataset access is abstracted behind the Source contract.
package floe

import (
	"context"
	"sync/atomic"

	"github.com/google/uuid"
)

// -----------------------------------------------------------------------------
// Core types
// -----------------------------------------------------------------------------

// BeamSide identifies one of the two parallel laser beams in a ground track.
type BeamSide int

// The two beams of a pair track. Per-beam arrays are indexed by BeamSide.
const (
	BeamLeft BeamSide = iota
	BeamRight

	beamsPerTrack = 2
)

func (b BeamSide) String() string {
	if b == BeamLeft {
		return "l"
	}
	return "r"
}

// Track identifies one of the three ground-track beam pairs, or all of them.
type Track int

// Track constants. TrackAll spawns one worker per pair track.
const (
	TrackAll Track = 0
	Track1   Track = 1
	Track2   Track = 2
	Track3   Track = 3

	// NumTracks is the number of pair tracks in one resource.
	NumTracks = 3
)

// SpacecraftOrientation maps the beam-pair index to a spot number downstream.
type SpacecraftOrientation int8

// Spacecraft orientation values as recorded in /orbit_info/sc_orient.
const (
	OrientBackward   SpacecraftOrientation = 0
	OrientForward    SpacecraftOrientation = 1
	OrientTransition SpacecraftOrientation = 2
)

// Coord is a geographic coordinate in degrees.
type Coord struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// segmentLength is the fixed along-track length of one ATL03 segment in meters.
const segmentLength = 20.0

// -----------------------------------------------------------------------------
// Source contract
// -----------------------------------------------------------------------------

// Selection bounds a dataset read to a column and a row window.
type Selection struct {
	// Col selects a column of a 2-D dataset, or AllCols for a row-major
	// flattened read. Ignored for 1-D datasets when zero.
	Col int

	// RowStart is the first row of the window.
	RowStart int

	// RowCount is the number of rows in the window, or AllRows for the
	// remainder of the axis.
	RowCount int
}

// Selector constants for Selection.
const (
	// AllRows selects every row from RowStart to the end of the axis.
	AllRows = -1

	// AllCols selects every column, returned row-major flattened.
	AllCols = -1
)

// fullRead selects an entire 1-D dataset.
var fullRead = Selection{Col: 0, RowStart: 0, RowCount: AllRows}

// Source provides typed range reads over named datasets within a resource.
//
// Read returns the requested slice as one of []int8, []int32, []uint16,
// []float32, or []float64 depending on the dataset's element type. A read
// either returns the complete selection or an error; partial reads are not
// part of the contract.
//
// Implementations may batch I/O for reads sharing the same IOContext.
type Source interface {
	Read(ctx context.Context, url, dataset string, ioc *IOContext, sel Selection) (any, error)
}

// Asset resolves resource names to storage URLs.
type Asset interface {
	Resolve(resource string) (string, error)
}

// AssetFunc adapts a function to the Asset interface.
type AssetFunc func(resource string) (string, error)

// Resolve implements Asset.
func (f AssetFunc) Resolve(resource string) (string, error) { return f(resource) }

// -----------------------------------------------------------------------------
// I/O context
// -----------------------------------------------------------------------------

// IOContext is an opaque per-resource read-coalescing handle. Passing the
// same context to multiple reads allows the source to batch I/O. It carries
// counters for observability; sources account reads via Account.
type IOContext struct {
	// ID tags all reads issued under this context for tracing.
	ID string

	reads atomic.Uint64
	bytes atomic.Uint64
}

// NewIOContext creates an empty read context with a fresh trace ID.
func NewIOContext() *IOContext {
	return &IOContext{ID: uuid.NewString()}
}

// Account records one completed read of n bytes.
func (c *IOContext) Account(n int) {
	if c == nil {
		return
	}
	c.reads.Add(1)
	c.bytes.Add(uint64(n))
}

// Reads returns the number of reads issued under this context.
func (c *IOContext) Reads() uint64 { return c.reads.Load() }

// Bytes returns the number of bytes read under this context.
func (c *IOContext) Bytes() uint64 { return c.bytes.Load() }

// -----------------------------------------------------------------------------
// Typed read helper
// -----------------------------------------------------------------------------

// Element constrains the dataset element types the Source contract can carry.
type Element interface {
	~int8 | ~int32 | ~uint16 | ~float32 | ~float64
}

// readSlice issues one read and asserts the element type of the result.
func readSlice[T Element](ctx context.Context, src Source, url, dataset string, ioc *IOContext, sel Selection) ([]T, error) {
	v, err := src.Read(ctx, url, dataset, ioc, sel)
	if err != nil {
		return nil, &IOError{Dataset: dataset, Err: err}
	}
	s, ok := v.([]T)
	if !ok {
		return nil, &IOError{Dataset: dataset, Err: errElementType{got: v}}
	}
	return s, nil
}

// readScalar issues one read of a single-value dataset.
func readScalar[T Element](ctx context.Context, src Source, url, dataset string, ioc *IOContext) (T, error) {
	var zero T
	s, err := readSlice[T](ctx, src, url, dataset, ioc, fullRead)
	if err != nil {
		return zero, err
	}
	if len(s) == 0 {
		return zero, &IOError{Dataset: dataset, Err: errEmptyDataset{}}
	}
	return s[0], nil
}
