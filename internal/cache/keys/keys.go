// Package keys builds the Redis keys of the spatial query cache.
package keys

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/cespare/xxhash/v2"
)

// QueryKey identifies one cached spatial query. The geometry is folded into
// a hash; the readable segments exist for operators browsing Redis.
func QueryKey(layer, predicate string, wkid int, idField, geomField, geomWKT string) string {
	layerNorm := sanitizeLayer(strings.TrimSpace(layer))
	pred := sanitizeForKey(strings.ToLower(strings.TrimSpace(predicate)))
	field := sanitizeForKey(strings.TrimSpace(idField))
	gfield := sanitizeForKey(strings.TrimSpace(geomField))

	sum := xxhash.Sum64String(collapseASCIIWhitespace(geomWKT))

	return fmt.Sprintf("nq:%s:%s:%d:id=%s:gf=%s:g=%016x", layerNorm, pred, wkid, field, gfield, sum)
}

// CellIndexKey names the set of query keys whose search area touches cell.
func CellIndexKey(layer string, res int, cell string) string {
	return fmt.Sprintf("nqidx:%s:%d:%s", sanitizeLayer(strings.TrimSpace(layer)), res, strings.ToLower(cell))
}

func sanitizeForKey(s string) string {
	if s == "" {
		return ""
	}
	var b strings.Builder
	b.Grow(len(s))

	var prev rune
	for _, r := range s {
		out := rune(0)
		switch {
		case r == ' ' || r == '\t' || r == '\n' || r == '\r' || r == '\v' || r == '\f':
			out = '_'
		case isAlphaNum(r) || r == '_' || r == '-':
			out = r
		default:
			// Any other rune (including non-ASCII) becomes '-'
			out = '-'
		}
		if (out == '_' || out == '-') && out == prev {
			continue
		}
		b.WriteRune(out)
		prev = out
	}
	return b.String()
}

func sanitizeLayer(s string) string {
	if s == "" {
		return ""
	}
	var b strings.Builder
	b.Grow(len(s))
	var prev rune
	for _, r := range s {
		out := rune(0)
		switch {
		case r == ' ' || r == '\t' || r == '\n' || r == '\r' || r == '\v' || r == '\f':
			out = '_'
		case isAlphaNum(r) || r == ':' || r == '_' || r == '-':
			out = r
		default:
			out = '-'
		}
		if (out == '_' || out == '-') && out == prev {
			continue
		}
		b.WriteRune(out)
		prev = out
	}
	return b.String()
}

// converts any run of ASCII whitespace to a single space.
func collapseASCIIWhitespace(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	wasWS := false
	for _, r := range s {
		if r == ' ' || r == '\t' || r == '\n' || r == '\r' || r == '\v' || r == '\f' {
			if !wasWS {
				b.WriteByte(' ')
				wasWS = true
			}
			continue
		}
		b.WriteRune(r)
		wasWS = false
	}
	return strings.TrimSpace(b.String())
}

func isAlphaNum(r rune) bool {
	return (r >= 'a' && r <= 'z') ||
		(r >= 'A' && r <= 'Z') ||
		unicode.IsDigit(r)
}
