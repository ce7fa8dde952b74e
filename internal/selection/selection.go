// Package selection replaces the selected set of a rendered layer with the
// result of a query.
package selection

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

var ErrMalformedID = errors.New("malformed feature identifier")

type Feature interface {
	RawID() any
	Selected() bool
	SetSelected(bool)
}

type Stats struct {
	Selected int
	Cleared  int
	Skipped  int
}

// Reconcile makes the selected set of features equal ids ∩ their parsed
// identifiers. Identifiers in ids with no feature are ignored; features whose
// identifier does not parse end up unselected and are counted as skipped.
func Reconcile[F Feature](ids []int64, features []F) Stats {
	want := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		want[id] = struct{}{}
	}

	var st Stats
	for _, f := range features {
		if f.Selected() {
			f.SetSelected(false)
			st.Cleared++
		}
	}
	for _, f := range features {
		id, err := ParseID(f.RawID())
		if err != nil {
			st.Skipped++
			continue
		}
		if _, ok := want[id]; ok {
			f.SetSelected(true)
			st.Selected++
		}
	}
	return st
}

// ParseID converts a raw identifier to an int64. Integral floats and decimal
// strings are accepted.
func ParseID(raw any) (int64, error) {
	switch v := raw.(type) {
	case int:
		return int64(v), nil
	case int8:
		return int64(v), nil
	case int16:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case int64:
		return v, nil
	case uint8:
		return int64(v), nil
	case uint16:
		return int64(v), nil
	case uint32:
		return int64(v), nil
	case uint:
		if uint64(v) > math.MaxInt64 {
			return 0, fmt.Errorf("%w: %d overflows int64", ErrMalformedID, v)
		}
		return int64(v), nil
	case uint64:
		if v > math.MaxInt64 {
			return 0, fmt.Errorf("%w: %d overflows int64", ErrMalformedID, v)
		}
		return int64(v), nil
	case float32:
		return fromFloat(float64(v))
	case float64:
		return fromFloat(v)
	case json.Number:
		return parseString(v.String())
	case string:
		return parseString(v)
	case nil:
		return 0, fmt.Errorf("%w: missing", ErrMalformedID)
	default:
		return 0, fmt.Errorf("%w: unsupported type %T", ErrMalformedID, raw)
	}
}

func fromFloat(f float64) (int64, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) || f < math.MinInt64 || f >= math.MaxInt64 {
		return 0, fmt.Errorf("%w: %v is not an integer", ErrMalformedID, f)
	}
	return int64(f), nil
}

func parseString(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, nil
	}
	// GeoServer serializes some integer columns as "12.0"
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return fromFloat(f)
	}
	return 0, fmt.Errorf("%w: %q", ErrMalformedID, s)
}
