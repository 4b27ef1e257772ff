// Package catalog materialises index records into a queryable resource
// catalog. Two on-disk forms are supported: Apache Parquet for columnar
// region queries, and zstd-compressed JSON Lines for streaming appends.
//
// The catalog answers the question region tooling asks: which resources
// intersect a time window and a geographic bounding box.
package catalog

import (
	"bufio"
	"bytes"
	"fmt"
	"io"

	jsoniter "github.com/json-iterator/go"
	"github.com/klauspost/compress/zstd"
	"github.com/parquet-go/parquet-go"

	"github.com/justapithecus/floe/floe"
)

var jsonCodec = jsoniter.ConfigCompatibleWithStandardLibrary

// Row is one catalog entry: the temporal and geospatial bounding box of a
// resource.
type Row struct {
	Name  string  `parquet:"name" json:"name"`
	T0    float64 `parquet:"t0" json:"t0"`
	T1    float64 `parquet:"t1" json:"t1"`
	Lat0  float64 `parquet:"lat0" json:"lat0"`
	Lon0  float64 `parquet:"lon0" json:"lon0"`
	Lat1  float64 `parquet:"lat1" json:"lat1"`
	Lon1  float64 `parquet:"lon1" json:"lon1"`
	Cycle uint32  `parquet:"cycle" json:"cycle"`
	RGT   uint32  `parquet:"rgt" json:"rgt"`
}

// FromEntry converts an index record to a catalog row.
func FromEntry(e *floe.IndexEntry) Row {
	return Row{
		Name:  e.Name,
		T0:    e.T0,
		T1:    e.T1,
		Lat0:  e.Lat0,
		Lon0:  e.Lon0,
		Lat1:  e.Lat1,
		Lon1:  e.Lon1,
		Cycle: e.Cycle,
		RGT:   e.RGT,
	}
}

// -----------------------------------------------------------------------------
// Parquet catalog
// -----------------------------------------------------------------------------

// Writer appends catalog rows to a Parquet stream.
type Writer struct {
	pw *parquet.GenericWriter[Row]
}

// NewWriter creates a Parquet catalog writer over w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{pw: parquet.NewGenericWriter[Row](w)}
}

// Append writes one index record.
func (w *Writer) Append(e *floe.IndexEntry) error {
	_, err := w.pw.Write([]Row{FromEntry(e)})
	if err != nil {
		return fmt.Errorf("catalog: write row: %w", err)
	}
	return nil
}

// Close flushes row groups and writes the Parquet footer.
func (w *Writer) Close() error {
	if err := w.pw.Close(); err != nil {
		return fmt.Errorf("catalog: close writer: %w", err)
	}
	return nil
}

// Read loads every row of a Parquet catalog.
func Read(data []byte) ([]Row, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("catalog: empty file")
	}
	pr := parquet.NewGenericReader[Row](bytes.NewReader(data))
	defer func() { _ = pr.Close() }()

	rows := make([]Row, 0, pr.NumRows())
	buf := make([]Row, 64)
	for {
		n, err := pr.Read(buf)
		rows = append(rows, buf[:n]...)
		if err != nil {
			if err == io.EOF {
				break
			}
			return nil, fmt.Errorf("catalog: read rows: %w", err)
		}
	}
	return rows, nil
}

// -----------------------------------------------------------------------------
// JSONL catalog
// -----------------------------------------------------------------------------

// EncodeJSONL writes rows as zstd-compressed JSON Lines.
func EncodeJSONL(w io.Writer, rows []Row) error {
	zw, err := zstd.NewWriter(w)
	if err != nil {
		return fmt.Errorf("catalog: zstd writer: %w", err)
	}
	enc := jsonCodec.NewEncoder(zw)
	for i := range rows {
		if err := enc.Encode(&rows[i]); err != nil {
			_ = zw.Close()
			return fmt.Errorf("catalog: encode row %d: %w", i, err)
		}
	}
	return zw.Close()
}

// DecodeJSONL reads rows from a zstd-compressed JSON Lines stream.
func DecodeJSONL(r io.Reader) ([]Row, error) {
	zr, err := zstd.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("catalog: zstd reader: %w", err)
	}
	defer zr.Close()

	var rows []Row
	scanner := bufio.NewScanner(zr.IOReadCloser())
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var row Row
		if err := jsonCodec.Unmarshal(line, &row); err != nil {
			return nil, fmt.Errorf("catalog: decode row %d: %w", len(rows), err)
		}
		rows = append(rows, row)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return rows, nil
}

// -----------------------------------------------------------------------------
// Drain and query
// -----------------------------------------------------------------------------

// Drain consumes index frames from a queue until the end-of-stream sentinel
// and appends each to the writer. Returns the number of records drained.
func Drain(q *floe.Queue, w *Writer) (int, error) {
	count := 0
	for {
		frame, err := q.Receive(0)
		if err != nil {
			return count, err
		}
		if len(frame) == 0 {
			return count, nil
		}
		entry, err := floe.UnmarshalIndexEntry(frame)
		if err != nil {
			return count, err
		}
		if err := w.Append(entry); err != nil {
			return count, err
		}
		count++
	}
}

// BBox is a geographic bounding box for region queries.
type BBox struct {
	MinLat, MinLon float64
	MaxLat, MaxLon float64
}

func (b BBox) contains(lat, lon float64) bool {
	return lat >= b.MinLat && lat <= b.MaxLat && lon >= b.MinLon && lon <= b.MaxLon
}

// QueryRegion filters rows whose time window overlaps [t0, t1] and either
// endpoint falls inside the bounding box. Pass t1 <= t0 to skip the
// temporal filter.
func QueryRegion(rows []Row, t0, t1 float64, box BBox) []Row {
	var out []Row
	for _, row := range rows {
		if t1 > t0 && (row.T1 < t0 || row.T0 > t1) {
			continue
		}
		if !box.contains(row.Lat0, row.Lon0) && !box.contains(row.Lat1, row.Lon1) {
			continue
		}
		out = append(out, row)
	}
	return out
}
