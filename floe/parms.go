package floe

import (
	"errors"
	"fmt"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cast"
)

var jsonCodec = jsoniter.ConfigCompatibleWithStandardLibrary

// -----------------------------------------------------------------------------
// Enumerations
// -----------------------------------------------------------------------------

// SurfaceType indexes the signal-confidence column of signal_conf_ph.
type SurfaceType int

// Surface types for signal confidence.
const (
	SurfaceLand SurfaceType = iota
	SurfaceOcean
	SurfaceSeaIce
	SurfaceLandIce
	SurfaceInlandWater
)

// SignalConfidence is the per-photon signal confidence level.
type SignalConfidence int

// Signal confidence levels.
const (
	ConfidencePossibleTEP   SignalConfidence = -2
	ConfidenceNotConsidered SignalConfidence = -1
	ConfidenceBackground    SignalConfidence = 0
	ConfidenceWithin10m     SignalConfidence = 1
	ConfidenceSurfaceLow    SignalConfidence = 2
	ConfidenceSurfaceMedium SignalConfidence = 3
	ConfidenceSurfaceHigh   SignalConfidence = 4
)

// ATL08Class is a per-photon surface classification from the companion file.
type ATL08Class int

// ATL08 surface classifications.
const (
	ClassNoise ATL08Class = iota
	ClassGround
	ClassCanopy
	ClassTopOfCanopy
	ClassUnclassified

	// NumATL08Classes bounds valid classification values.
	NumATL08Classes = 5
)

// Stage identifies a downstream processing stage.
type Stage int

// Processing stages.
const (
	// StageLSF is the least-squares surface fit.
	StageLSF Stage = iota

	numStages
)

// -----------------------------------------------------------------------------
// Parameters
// -----------------------------------------------------------------------------

// Parameter keys recognized by ParseParms.
const (
	keySurfaceType      = "srt"
	keySignalConfidence = "cnf"
	keyPolygon          = "poly"
	keyStages           = "stages"
	keyCompact          = "compact"
	keyAlongTrackSpread = "ats"
	keyMinPhotonCount   = "cnt"
	keyExtentLength     = "len"
	keyExtentStep       = "res"
	keyMaxIterations    = "maxi"
	keyMinWindow        = "H_min_win"
	keyMaxDispersion    = "sigma_r_max"
	keyATL08Class       = "atl08_class"
)

// ATL08 class names accepted by the atl08_class parameter.
const (
	classNameNoise        = "atl08_noise"
	classNameGround       = "atl08_ground"
	classNameCanopy       = "atl08_canopy"
	classNameTopOfCanopy  = "atl08_top_of_canopy"
	classNameUnclassified = "atl08_unclassified"
)

// stageNameLSF is the string form accepted by the stages parameter.
const stageNameLSF = "LSF"

// MaxPolygonCoords bounds the number of polygon vertices.
const MaxPolygonCoords = 16384

// Parameter defaults.
const (
	DefaultSurfaceType      = SurfaceLandIce
	DefaultSignalConfidence = ConfidenceSurfaceHigh
	DefaultAlongTrackSpread = 20.0 // meters
	DefaultMinPhotonCount   = 10
	DefaultExtentLength     = 40.0 // meters
	DefaultExtentStep       = 20.0 // meters
	DefaultMaxIterations    = 20
	DefaultMinWindow        = 3.0 // meters
	DefaultMaxDispersion    = 5.0 // meters
)

// Parms is the typed extraction configuration. Construct with DefaultParms
// or ParseParms; the zero value is not usable.
type Parms struct {
	SurfaceType             SurfaceType
	SignalConfidence        SignalConfidence
	UseATL08Classification  bool
	ATL08Class              [NumATL08Classes]bool
	Stages                  [numStages]bool
	Compact                 bool
	Polygon                 []Coord
	MaxIterations           int
	AlongTrackSpread        float64 // meters
	MinimumPhotonCount      int
	MinimumWindow           float64 // meters
	MaximumRobustDispersion float64 // meters
	ExtentLength            float64 // meters
	ExtentStep              float64 // meters
}

// DefaultParms returns the documented defaults with the LSF stage enabled.
func DefaultParms() Parms {
	p := Parms{
		SurfaceType:             DefaultSurfaceType,
		SignalConfidence:        DefaultSignalConfidence,
		MaxIterations:           DefaultMaxIterations,
		AlongTrackSpread:        DefaultAlongTrackSpread,
		MinimumPhotonCount:      DefaultMinPhotonCount,
		MinimumWindow:           DefaultMinWindow,
		MaximumRobustDispersion: DefaultMaxDispersion,
		ExtentLength:            DefaultExtentLength,
		ExtentStep:              DefaultExtentStep,
	}
	p.Stages[StageLSF] = true
	return p
}

// ParseParms decodes a JSON parameter document over the defaults. Every key
// is optional. Unknown keys are ignored so callers can pass documents shared
// with downstream stages.
func ParseParms(data []byte) (*Parms, error) {
	p := DefaultParms()
	if len(data) == 0 {
		return &p, nil
	}

	var raw map[string]any
	if err := jsonCodec.Unmarshal(data, &raw); err != nil {
		return nil, &ConfigError{Key: "", Err: err}
	}

	if v, ok := raw[keySurfaceType]; ok {
		n, err := cast.ToIntE(v)
		if err != nil {
			return nil, &ConfigError{Key: keySurfaceType, Err: err}
		}
		if n < int(SurfaceLand) || n > int(SurfaceInlandWater) {
			return nil, &ConfigError{Key: keySurfaceType, Err: fmt.Errorf("surface type out of range: %d", n)}
		}
		p.SurfaceType = SurfaceType(n)
	}

	if v, ok := raw[keySignalConfidence]; ok {
		n, err := cast.ToIntE(v)
		if err != nil {
			return nil, &ConfigError{Key: keySignalConfidence, Err: err}
		}
		if n < int(ConfidencePossibleTEP) || n > int(ConfidenceSurfaceHigh) {
			return nil, &ConfigError{Key: keySignalConfidence, Err: fmt.Errorf("signal confidence out of range: %d", n)}
		}
		p.SignalConfidence = SignalConfidence(n)
	}

	if v, ok := raw[keyPolygon]; ok {
		poly, err := parsePolygon(v)
		if err != nil {
			return nil, &ConfigError{Key: keyPolygon, Err: err}
		}
		p.Polygon = poly
	}

	if v, ok := raw[keyStages]; ok {
		if err := parseStages(v, &p); err != nil {
			return nil, &ConfigError{Key: keyStages, Err: err}
		}
	}

	if v, ok := raw[keyCompact]; ok {
		b, err := cast.ToBoolE(v)
		if err != nil {
			return nil, &ConfigError{Key: keyCompact, Err: err}
		}
		p.Compact = b
	}

	if v, ok := raw[keyATL08Class]; ok {
		if err := parseATL08Classes(v, &p); err != nil {
			return nil, &ConfigError{Key: keyATL08Class, Err: err}
		}
	}

	for _, f := range []struct {
		key string
		dst *float64
	}{
		{keyAlongTrackSpread, &p.AlongTrackSpread},
		{keyExtentLength, &p.ExtentLength},
		{keyExtentStep, &p.ExtentStep},
		{keyMinWindow, &p.MinimumWindow},
		{keyMaxDispersion, &p.MaximumRobustDispersion},
	} {
		if v, ok := raw[f.key]; ok {
			x, err := cast.ToFloat64E(v)
			if err != nil {
				return nil, &ConfigError{Key: f.key, Err: err}
			}
			*f.dst = x
		}
	}

	for _, f := range []struct {
		key string
		dst *int
	}{
		{keyMinPhotonCount, &p.MinimumPhotonCount},
		{keyMaxIterations, &p.MaxIterations},
	} {
		if v, ok := raw[f.key]; ok {
			n, err := cast.ToIntE(v)
			if err != nil {
				return nil, &ConfigError{Key: f.key, Err: err}
			}
			*f.dst = n
		}
	}

	if err := p.validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

func (p *Parms) validate() error {
	if p.ExtentLength <= 0 {
		return &ConfigError{Key: keyExtentLength, Err: errors.New("must be positive")}
	}
	if p.ExtentStep <= 0 {
		return &ConfigError{Key: keyExtentStep, Err: errors.New("must be positive")}
	}
	if p.AlongTrackSpread < 0 {
		return &ConfigError{Key: keyAlongTrackSpread, Err: errors.New("must be non-negative")}
	}
	if p.MinimumPhotonCount < 0 {
		return &ConfigError{Key: keyMinPhotonCount, Err: errors.New("must be non-negative")}
	}
	return nil
}

func parsePolygon(v any) ([]Coord, error) {
	list, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("must be a list of {lat,lon} coordinates")
	}
	if len(list) > MaxPolygonCoords {
		return nil, fmt.Errorf("points in polygon [%d] exceed maximum: %d", len(list), MaxPolygonCoords)
	}
	poly := make([]Coord, 0, len(list))
	for i, e := range list {
		m, ok := e.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("coordinate %d is not an object", i)
		}
		lat, err := cast.ToFloat64E(m["lat"])
		if err != nil {
			return nil, fmt.Errorf("coordinate %d lat: %w", i, err)
		}
		lon, err := cast.ToFloat64E(m["lon"])
		if err != nil {
			return nil, fmt.Errorf("coordinate %d lon: %w", i, err)
		}
		poly = append(poly, Coord{Lat: lat, Lon: lon})
	}
	return poly, nil
}

// parseStages accepts a list of stage indices or names ("LSF"). A non-empty
// list replaces the default stage set; an empty list keeps the defaults.
func parseStages(v any, p *Parms) error {
	list, ok := v.([]any)
	if !ok {
		return fmt.Errorf("must be a list of stages")
	}
	if len(list) == 0 {
		return nil
	}
	p.Stages = [numStages]bool{}
	for _, e := range list {
		switch s := e.(type) {
		case string:
			if s != stageNameLSF {
				return fmt.Errorf("unknown stage %q", s)
			}
			p.Stages[StageLSF] = true
		default:
			n, err := cast.ToIntE(e)
			if err != nil {
				return err
			}
			if n >= 0 && n < int(numStages) {
				p.Stages[Stage(n)] = true
			}
		}
	}
	return nil
}

// parseATL08Classes accepts a list of class indices or names. Presence of
// the key enables classification filtering.
func parseATL08Classes(v any, p *Parms) error {
	list, ok := v.([]any)
	if !ok {
		return fmt.Errorf("must be a list of classifications")
	}
	names := map[string]ATL08Class{
		classNameNoise:        ClassNoise,
		classNameGround:       ClassGround,
		classNameCanopy:       ClassCanopy,
		classNameTopOfCanopy:  ClassTopOfCanopy,
		classNameUnclassified: ClassUnclassified,
	}
	for _, e := range list {
		switch s := e.(type) {
		case string:
			c, ok := names[s]
			if !ok {
				return fmt.Errorf("unknown classification %q", s)
			}
			p.ATL08Class[c] = true
		default:
			n, err := cast.ToIntE(e)
			if err != nil {
				return err
			}
			if n < 0 || n >= NumATL08Classes {
				return fmt.Errorf("classification out of range: %d", n)
			}
			p.ATL08Class[ATL08Class(n)] = true
		}
	}
	p.UseATL08Classification = true
	return nil
}
