// Package model defines core domain types shared across the service.
package model

import (
	"errors"
	"fmt"
	"strings"

	"github.com/paulmach/orb"
)

// ErrConfigInvalid marks a search config that must never reach the pipeline.
var ErrConfigInvalid = errors.New("invalid search config")

type BBox struct {
	X1, Y1 float64
	X2, Y2 float64
	SRID   string
}

// String representation matching wfs/wms bbox format
func (b BBox) String() string {
	return fmt.Sprintf("%.6f,%.6f,%.6f,%.6f,%s", b.X1, b.Y1, b.X2, b.Y2, b.SRID)
}

// Bound returns the bbox as an orb bound.
func (b BBox) Bound() orb.Bound {
	return orb.Bound{Min: orb.Point{b.X1, b.Y1}, Max: orb.Point{b.X2, b.Y2}}
}

type Cells []string

type LinearUnit string

const (
	UnitKilometer  LinearUnit = "kilometer"
	UnitMeter      LinearUnit = "meter"
	UnitSurveyMile LinearUnit = "survey_mile"
	UnitSurveyYard LinearUnit = "survey_yard"
)

// Units lists the units offered to the config editor, default first.
var Units = []LinearUnit{UnitKilometer, UnitMeter, UnitSurveyMile, UnitSurveyYard}

// US survey units are defined through the survey foot (1200/3937 m).
var metersPer = map[LinearUnit]float64{
	UnitKilometer:  1000,
	UnitMeter:      1,
	UnitSurveyMile: 5280 * 1200.0 / 3937.0,
	UnitSurveyYard: 3 * 1200.0 / 3937.0,
}

func ParseLinearUnit(s string) (LinearUnit, error) {
	norm := strings.ToLower(strings.TrimSpace(s))
	norm = strings.NewReplacer("-", "_", " ", "_").Replace(norm)
	switch norm {
	case "km", "kilometer", "kilometers", "kilometre":
		return UnitKilometer, nil
	case "m", "meter", "meters", "metre":
		return UnitMeter, nil
	case "mi", "survey_mile", "surveymile":
		return UnitSurveyMile, nil
	case "yd", "survey_yard", "surveyyard":
		return UnitSurveyYard, nil
	}
	return "", fmt.Errorf("unknown linear unit %q", s)
}

func (u LinearUnit) Valid() bool {
	_, ok := metersPer[u]
	return ok
}

// Meters converts a distance expressed in u to meters.
func (u LinearUnit) Meters(d float64) float64 {
	return d * metersPer[u]
}

type SpatialReference struct {
	WKID int `json:"wkid"`
}

func (s SpatialReference) String() string {
	return fmt.Sprintf("EPSG:%d", s.WKID)
}

// SearchConfig holds the user-chosen parameters of one nearby search.
type SearchConfig struct {
	TargetID string     `json:"target"`
	Distance float64    `json:"distance"`
	Unit     LinearUnit `json:"unit"`
}

func (c SearchConfig) Validate() error {
	if strings.TrimSpace(c.TargetID) == "" {
		return fmt.Errorf("%w: no target data source", ErrConfigInvalid)
	}
	if !(c.Distance > 0) {
		return fmt.Errorf("%w: distance must be > 0 (got %v)", ErrConfigInvalid, c.Distance)
	}
	if !c.Unit.Valid() {
		return fmt.Errorf("%w: unknown unit %q", ErrConfigInvalid, c.Unit)
	}
	return nil
}

// ReferenceFeature is the feature a search is centered on. Borrowed, never mutated.
type ReferenceFeature struct {
	Geometry   orb.Geometry
	Attributes map[string]any
}

type BufferRequest struct {
	Geometry   orb.Geometry
	Distance   float64
	Unit       LinearUnit
	SpatialRef SpatialReference
	Token      uint64
}

type SpatialPredicate string

const (
	PredicateIntersects SpatialPredicate = "intersects"
	PredicateWithin     SpatialPredicate = "within"
)

// CQL returns the ECQL function name for the predicate.
func (p SpatialPredicate) CQL() string {
	switch p {
	case PredicateWithin:
		return "WITHIN"
	default:
		return "INTERSECTS"
	}
}

type SpatialQuery struct {
	Layer         string
	GeometryField string
	IDField       string
	Geometry      orb.Geometry
	Predicate     SpatialPredicate
	SpatialRef    SpatialReference
	Token         uint64
}

type Record struct {
	ID         string
	Attributes map[string]any
}

// QueryResult is the outcome of a spatial query. An empty Records slice is a
// successful query with no matches; Canceled means the source gave up.
type QueryResult struct {
	Records  []Record
	Canceled bool
}
