package floe

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync"
)

// -----------------------------------------------------------------------------
// Record registry
// -----------------------------------------------------------------------------

// Record type names published on the outbound queue.
const (
	// PhotonRecordType is the per-photon sub-record of an extent.
	PhotonRecordType = "atl03rec.photons"

	// ExtentRecordType is the primary output record, one per (extent, pair).
	ExtentRecordType = "atl03rec"

	// IndexRecordType is the per-resource spatial/temporal index record.
	IndexRecordType = "atl03rec.index"
)

// FieldType enumerates wire field types.
type FieldType int

// Wire field types.
const (
	FieldUint8 FieldType = iota
	FieldUint16
	FieldUint32
	FieldFloat
	FieldDouble
	FieldString
	FieldUser
)

// FieldDef describes one field of a registered record.
type FieldDef struct {
	Name   string
	Type   FieldType
	Offset int
	Count  int

	// Sub names the contained record type for FieldUser fields.
	Sub string

	// Pointer marks a field holding a record-relative byte offset rather
	// than inline data.
	Pointer bool
}

// RecordDef is the schema of a registered record type. Downstream consumers
// discover fields by name.
type RecordDef struct {
	Name string

	// Key names the field used to key records, if any.
	Key string

	// Size is the fixed prefix size in bytes. Variable-length records carry
	// payload beyond Size.
	Size int

	Fields []FieldDef
}

var (
	registryMu sync.RWMutex
	registry   = make(map[string]RecordDef)
)

// RegisterRecord adds a record definition to the process-global registry.
// Registering a name twice is an error.
func RegisterRecord(def RecordDef) error {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, exists := registry[def.Name]; exists {
		return fmt.Errorf("floe: record type %q already defined", def.Name)
	}
	registry[def.Name] = def
	return nil
}

// LookupRecord returns a registered record definition by name.
func LookupRecord(name string) (RecordDef, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	def, ok := registry[name]
	return def, ok
}

func mustRegister(def RecordDef) {
	if err := RegisterRecord(def); err != nil {
		panic(err)
	}
}

func init() {
	mustRegister(RecordDef{
		Name: PhotonRecordType,
		Size: PhotonRecordSize,
		Fields: []FieldDef{
			{Name: "delta_time", Type: FieldDouble, Offset: 0, Count: 1},
			{Name: "latitude", Type: FieldDouble, Offset: 8, Count: 1},
			{Name: "longitude", Type: FieldDouble, Offset: 16, Count: 1},
			{Name: "distance", Type: FieldDouble, Offset: 24, Count: 1},
			{Name: "height", Type: FieldFloat, Offset: 32, Count: 1},
			{Name: "info", Type: FieldUint32, Offset: 36, Count: 1},
		},
	})
	mustRegister(RecordDef{
		Name: ExtentRecordType,
		Key:  "track",
		Size: ExtentHeaderSize,
		Fields: []FieldDef{
			{Name: "valid", Type: FieldUint8, Offset: 0, Count: 2},
			{Name: "track", Type: FieldUint8, Offset: 2, Count: 1},
			{Name: "sc_orient", Type: FieldUint8, Offset: 3, Count: 1},
			{Name: "rgt", Type: FieldUint16, Offset: 4, Count: 1},
			{Name: "cycle", Type: FieldUint16, Offset: 6, Count: 1},
			{Name: "segment_id", Type: FieldUint32, Offset: 8, Count: 2},
			{Name: "extent_len", Type: FieldDouble, Offset: 16, Count: 2},
			{Name: "sc_velocity", Type: FieldDouble, Offset: 32, Count: 2},
			{Name: "bckgrd_rate", Type: FieldDouble, Offset: 48, Count: 2},
			{Name: "count", Type: FieldUint32, Offset: 64, Count: 2},
			{Name: "photons", Type: FieldUser, Offset: 72, Count: 2, Sub: PhotonRecordType, Pointer: true},
			{Name: "data", Type: FieldUser, Offset: ExtentHeaderSize, Count: 0, Sub: PhotonRecordType},
		},
	})
	mustRegister(RecordDef{
		Name: IndexRecordType,
		Size: IndexRecordSize,
		Fields: []FieldDef{
			{Name: "name", Type: FieldString, Offset: 0, Count: ResourceNameLen},
			{Name: "t0", Type: FieldDouble, Offset: 64, Count: 1},
			{Name: "t1", Type: FieldDouble, Offset: 72, Count: 1},
			{Name: "lat0", Type: FieldDouble, Offset: 80, Count: 1},
			{Name: "lon0", Type: FieldDouble, Offset: 88, Count: 1},
			{Name: "lat1", Type: FieldDouble, Offset: 96, Count: 1},
			{Name: "lon1", Type: FieldDouble, Offset: 104, Count: 1},
			{Name: "cycle", Type: FieldUint32, Offset: 112, Count: 1},
			{Name: "rgt", Type: FieldUint32, Offset: 116, Count: 1},
		},
	})
}

// -----------------------------------------------------------------------------
// Wire formats
// -----------------------------------------------------------------------------

// Record sizes in bytes. All fields are packed little-endian at the offsets
// the registry prescribes.
const (
	PhotonRecordSize = 40
	ExtentHeaderSize = 80
	IndexRecordSize  = 120

	// ResourceNameLen bounds the name field of an index record.
	ResourceNameLen = 64
)

// Photon is one photon of an extent, distance recentered so zero is the
// extent midpoint.
type Photon struct {
	DeltaTime float64 // seconds since the SDP epoch
	Latitude  float64
	Longitude float64
	Distance  float64 // meters from extent midpoint
	Height    float32 // meters
	Info      uint32  // low bits carry the ATL08 classification
}

func (p *Photon) appendTo(buf []byte) []byte {
	buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(p.DeltaTime))
	buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(p.Latitude))
	buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(p.Longitude))
	buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(p.Distance))
	buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(p.Height))
	buf = binary.LittleEndian.AppendUint32(buf, p.Info)
	return buf
}

func unmarshalPhoton(b []byte) Photon {
	return Photon{
		DeltaTime: math.Float64frombits(binary.LittleEndian.Uint64(b[0:])),
		Latitude:  math.Float64frombits(binary.LittleEndian.Uint64(b[8:])),
		Longitude: math.Float64frombits(binary.LittleEndian.Uint64(b[16:])),
		Distance:  math.Float64frombits(binary.LittleEndian.Uint64(b[24:])),
		Height:    math.Float32frombits(binary.LittleEndian.Uint32(b[32:])),
		Info:      binary.LittleEndian.Uint32(b[36:]),
	}
}

// Extent is one output record: a fixed header followed by the LEFT photons
// then the RIGHT photons contiguously.
type Extent struct {
	Valid                 [beamsPerTrack]bool
	Track                 Track
	SpacecraftOrientation SpacecraftOrientation
	RGT                   uint16
	Cycle                 uint16
	SegmentID             [beamsPerTrack]uint32
	Length                [beamsPerTrack]float64 // meters
	SpacecraftVelocity    [beamsPerTrack]float64 // meters per second
	BackgroundRate        [beamsPerTrack]float64 // PE per second
	Photons               [beamsPerTrack][]Photon
}

// Marshal packs the extent into one frame: sized header, record-relative
// photon offsets, then both photon lists at their precomputed positions.
func (e *Extent) Marshal() []byte {
	nLeft := len(e.Photons[BeamLeft])
	nRight := len(e.Photons[BeamRight])
	buf := make([]byte, 0, ExtentHeaderSize+(nLeft+nRight)*PhotonRecordSize)

	for b := BeamLeft; b <= BeamRight; b++ {
		if e.Valid[b] {
			buf = append(buf, 1)
		} else {
			buf = append(buf, 0)
		}
	}
	buf = append(buf, uint8(e.Track), uint8(e.SpacecraftOrientation))
	buf = binary.LittleEndian.AppendUint16(buf, e.RGT)
	buf = binary.LittleEndian.AppendUint16(buf, e.Cycle)
	for b := BeamLeft; b <= BeamRight; b++ {
		buf = binary.LittleEndian.AppendUint32(buf, e.SegmentID[b])
	}
	for b := BeamLeft; b <= BeamRight; b++ {
		buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(e.Length[b]))
	}
	for b := BeamLeft; b <= BeamRight; b++ {
		buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(e.SpacecraftVelocity[b]))
	}
	for b := BeamLeft; b <= BeamRight; b++ {
		buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(e.BackgroundRate[b]))
	}
	buf = binary.LittleEndian.AppendUint32(buf, uint32(nLeft))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(nRight))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(ExtentHeaderSize))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(ExtentHeaderSize+nLeft*PhotonRecordSize))

	for b := BeamLeft; b <= BeamRight; b++ {
		for i := range e.Photons[b] {
			buf = e.Photons[b][i].appendTo(buf)
		}
	}
	return buf
}

// UnmarshalExtent decodes one extent frame.
func UnmarshalExtent(frame []byte) (*Extent, error) {
	if len(frame) < ExtentHeaderSize {
		return nil, fmt.Errorf("floe: extent frame too short: %d bytes", len(frame))
	}
	e := &Extent{
		Valid:                 [beamsPerTrack]bool{frame[0] != 0, frame[1] != 0},
		Track:                 Track(frame[2]),
		SpacecraftOrientation: SpacecraftOrientation(frame[3]),
		RGT:                   binary.LittleEndian.Uint16(frame[4:]),
		Cycle:                 binary.LittleEndian.Uint16(frame[6:]),
	}
	var count [beamsPerTrack]uint32
	var offset [beamsPerTrack]uint32
	for b := BeamLeft; b <= BeamRight; b++ {
		e.SegmentID[b] = binary.LittleEndian.Uint32(frame[8+4*int(b):])
		e.Length[b] = math.Float64frombits(binary.LittleEndian.Uint64(frame[16+8*int(b):]))
		e.SpacecraftVelocity[b] = math.Float64frombits(binary.LittleEndian.Uint64(frame[32+8*int(b):]))
		e.BackgroundRate[b] = math.Float64frombits(binary.LittleEndian.Uint64(frame[48+8*int(b):]))
		count[b] = binary.LittleEndian.Uint32(frame[64+4*int(b):])
		offset[b] = binary.LittleEndian.Uint32(frame[72+4*int(b):])
	}
	for b := BeamLeft; b <= BeamRight; b++ {
		end := int(offset[b]) + int(count[b])*PhotonRecordSize
		if end > len(frame) {
			return nil, fmt.Errorf("floe: extent photon window [%d:%d] exceeds frame of %d bytes", offset[b], end, len(frame))
		}
		photons := make([]Photon, count[b])
		for i := range photons {
			photons[i] = unmarshalPhoton(frame[int(offset[b])+i*PhotonRecordSize:])
		}
		e.Photons[b] = photons
	}
	return e, nil
}

// PhotonCount returns the number of photons carried for one beam.
func (e *Extent) PhotonCount(b BeamSide) int { return len(e.Photons[b]) }

// IndexEntry is the temporal and geospatial bounding record of one resource.
type IndexEntry struct {
	Name  string
	T0    float64
	T1    float64
	Lat0  float64
	Lon0  float64
	Lat1  float64
	Lon1  float64
	Cycle uint32
	RGT   uint32
}

// Marshal packs the index entry into a fixed-size frame. Names longer than
// ResourceNameLen-1 are truncated; the field is always NUL-terminated.
func (e *IndexEntry) Marshal() []byte {
	buf := make([]byte, IndexRecordSize)
	name := e.Name
	if len(name) > ResourceNameLen-1 {
		name = name[:ResourceNameLen-1]
	}
	copy(buf, name)
	binary.LittleEndian.PutUint64(buf[64:], math.Float64bits(e.T0))
	binary.LittleEndian.PutUint64(buf[72:], math.Float64bits(e.T1))
	binary.LittleEndian.PutUint64(buf[80:], math.Float64bits(e.Lat0))
	binary.LittleEndian.PutUint64(buf[88:], math.Float64bits(e.Lon0))
	binary.LittleEndian.PutUint64(buf[96:], math.Float64bits(e.Lat1))
	binary.LittleEndian.PutUint64(buf[104:], math.Float64bits(e.Lon1))
	binary.LittleEndian.PutUint32(buf[112:], e.Cycle)
	binary.LittleEndian.PutUint32(buf[116:], e.RGT)
	return buf
}

// UnmarshalIndexEntry decodes one index frame.
func UnmarshalIndexEntry(frame []byte) (*IndexEntry, error) {
	if len(frame) != IndexRecordSize {
		return nil, fmt.Errorf("floe: index frame size %d, want %d", len(frame), IndexRecordSize)
	}
	name := frame[:ResourceNameLen]
	for i, c := range name {
		if c == 0 {
			name = name[:i]
			break
		}
	}
	return &IndexEntry{
		Name:  string(name),
		T0:    math.Float64frombits(binary.LittleEndian.Uint64(frame[64:])),
		T1:    math.Float64frombits(binary.LittleEndian.Uint64(frame[72:])),
		Lat0:  math.Float64frombits(binary.LittleEndian.Uint64(frame[80:])),
		Lon0:  math.Float64frombits(binary.LittleEndian.Uint64(frame[88:])),
		Lat1:  math.Float64frombits(binary.LittleEndian.Uint64(frame[96:])),
		Lon1:  math.Float64frombits(binary.LittleEndian.Uint64(frame[104:])),
		Cycle: binary.LittleEndian.Uint32(frame[112:]),
		RGT:   binary.LittleEndian.Uint32(frame[116:]),
	}, nil
}
