// Package eval scores extracted invoices against ground truth. It provides
// the field-level fuzzy comparator and the per-field precision/recall/F1
// evaluation used by both offline evaluation and online drift monitoring.
package eval

import (
	"encoding/json"
	"math"
	"reflect"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// numericTolerance is the absolute tolerance for money/number comparison.
// One cent absorbs float round-trips through provider JSON; it does not
// scale to very large amounts, which is acceptable for invoice totals.
const numericTolerance = 0.01

// Match reports whether a predicted field value matches the expected one.
// Both values describe the same semantic field but arrive with unknown
// runtime types (typed model values on one side, untyped JSON on the
// other), so each side is inspected independently.
//
// Rules, first match wins: both null; one null; numeric within tolerance;
// date-like normalized to YYYY-MM-DD; normalized string equality; raw
// equality fallback. Match never panics and performs no I/O.
func Match(expected, predicted any) bool {
	expNil := isNil(expected)
	predNil := isNil(predicted)

	if expNil && predNil {
		return true
	}
	if expNil || predNil {
		return false
	}

	if e, ok := toFloat(expected); ok {
		if p, ok := toFloat(predicted); ok {
			return math.Abs(e-p) < numericTolerance
		}
	}

	if e, ok := asDateString(expected); ok {
		if p, ok := asDateString(predicted); ok {
			return e == p
		}
		// One side only looks like a date: compare as plain strings below.
	}

	if e, ok := expected.(string); ok {
		if p, ok := predicted.(string); ok {
			return normalizeText(e) == normalizeText(p)
		}
	}

	return reflect.DeepEqual(expected, predicted)
}

// isNil treats untyped nil and nil-valued pointers/interfaces as null.
// Expected values decoded from JSON maps can carry typed nils.
func isNil(v any) bool {
	if v == nil {
		return true
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice:
		return rv.IsNil()
	default:
		return false
	}
}

// toFloat widens any numeric representation to float64. Decimal values
// lose precision here, which is fine at a 0.01 tolerance.
func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case decimal.Decimal:
		return n.InexactFloat64(), true
	case *decimal.Decimal:
		if n == nil {
			return 0, false
		}
		return n.InexactFloat64(), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

// asDateString normalizes a date-like value to YYYY-MM-DD. Native times
// are formatted directly; strings are sniffed loosely (trimmed, exactly
// 10 characters, '-' at index 4) and used as-is without reparsing.
func asDateString(v any) (string, bool) {
	switch d := v.(type) {
	case time.Time:
		return d.Format("2006-01-02"), true
	case *time.Time:
		if d == nil {
			return "", false
		}
		return d.Format("2006-01-02"), true
	case string:
		s := strings.TrimSpace(d)
		if len(s) == 10 && s[4] == '-' {
			return s, true
		}
		return "", false
	default:
		return "", false
	}
}

// normalizeText canonicalizes free-text fields: trim, lowercase, newlines
// become ", " (addresses wrap across OCR lines), whitespace runs collapse
// to single spaces.
func normalizeText(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, "\r\n", ", ")
	s = strings.ReplaceAll(s, "\n", ", ")

	return strings.Join(strings.Fields(s), " ")
}
