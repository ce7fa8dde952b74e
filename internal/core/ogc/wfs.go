// Package ogc builds OGC WFS requests and decodes their GeoJSON responses.
package ogc

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/paulmach/orb/encoding/wkt"

	"github.com/mohammed-shakir/nearby-search/internal/core/model"
)

const defaultGeometryField = "geom"

func OWSEndpoint(geoServerBase string) string {
	return strings.TrimRight(geoServerBase, "/") + "/ows"
}

// SpatialFilter renders the query geometry as an ECQL predicate, tagging the
// literal with its SRID so GeoServer reprojects into the layer CRS.
func SpatialFilter(q model.SpatialQuery) (string, error) {
	if q.Geometry == nil {
		return "", errors.New("spatial query has no geometry")
	}
	field := strings.TrimSpace(q.GeometryField)
	if field == "" {
		field = defaultGeometryField
	}
	lit := wkt.MarshalString(q.Geometry)
	if q.SpatialRef.WKID > 0 {
		lit = fmt.Sprintf("SRID=%d;%s", q.SpatialRef.WKID, lit)
	}
	return fmt.Sprintf("%s(%s, %s)", q.Predicate.CQL(), field, lit), nil
}

func BuildGetFeatureParams(q model.SpatialQuery) (url.Values, error) {
	if strings.TrimSpace(q.Layer) == "" {
		return nil, errors.New("spatial query has no layer")
	}
	cql, err := SpatialFilter(q)
	if err != nil {
		return nil, err
	}
	params := url.Values{}
	params.Set("service", "WFS")
	params.Set("version", "2.0.0")
	params.Set("request", "GetFeature")
	params.Set("typeNames", q.Layer)
	params.Set("cql_filter", cql)
	if q.SpatialRef.WKID > 0 {
		params.Set("srsName", q.SpatialRef.String())
	}
	params.Set("outputFormat", "application/json")
	return params, nil
}
