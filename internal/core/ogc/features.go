package ogc

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/paulmach/orb/geojson"

	"github.com/mohammed-shakir/nearby-search/internal/core/model"
)

// DecodeRecords turns a GeoJSON FeatureCollection into query records. The
// record id comes from idField when present, else from the feature id with any
// "layer." prefix GeoServer adds stripped.
func DecodeRecords(body []byte, idField string) ([]model.Record, error) {
	fc, err := geojson.UnmarshalFeatureCollection(body)
	if err != nil {
		return nil, fmt.Errorf("parse feature collection: %w", err)
	}
	out := make([]model.Record, 0, len(fc.Features))
	for _, f := range fc.Features {
		if f == nil {
			continue
		}
		out = append(out, model.Record{
			ID:         recordID(f, idField),
			Attributes: map[string]any(f.Properties),
		})
	}
	return out, nil
}

func recordID(f *geojson.Feature, idField string) string {
	if idField != "" {
		if v, ok := f.Properties[idField]; ok && v != nil {
			return stringify(v)
		}
	}
	if f.ID == nil {
		return ""
	}
	s := stringify(f.ID)
	if i := strings.LastIndexByte(s, '.'); i >= 0 && i < len(s)-1 {
		return s[i+1:]
	}
	return s
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprint(t)
	}
}
