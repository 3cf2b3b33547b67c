package catalog

import (
	"fmt"
	"strconv"
	"strings"
)

// Reference-table identifiers. The catalog stores enumerated attributes as
// numeric foreign keys; these tables mirror the reference rows so lookups
// need no JOIN. An unknown value resolves to (0, false) and the caller
// skips the filter instead of failing the search.

var standardIDs = map[string]int{
	"BSP":  1,
	"BSPT": 2,
	"JIC":  3,
	"DKOL": 4,
	"DKOS": 5,
	"NPTF": 6,
	"ORFS": 7,
}

var armatureIDs = map[string]int{
	"гайка":           1,
	"штуцер":          2,
	"штуцер конусный": 3,
}

var seriesIDs = map[string]int{
	"легкая":    1,
	"тяжелая":   2,
	"interlock": 3,
}

var angleIDs = map[int]int{
	0:  0,
	45: 45,
	90: 90,
}

var threadIDs = map[string]int{
	"1":     1,
	"3/4":   2,
	"1.5":   3,
	"1/2":   4,
	"1 1/4": 5,
	"1/4":   6,
	"3/8":   7,
}

func resolveStandard(v any) (int, bool) {
	s, ok := v.(string)
	if !ok {
		return 0, false
	}
	id, ok := standardIDs[strings.ToUpper(strings.TrimSpace(s))]
	return id, ok
}

func resolveArmature(v any) (int, bool) {
	s, ok := v.(string)
	if !ok {
		return 0, false
	}
	id, ok := armatureIDs[strings.ToLower(strings.TrimSpace(s))]
	return id, ok
}

func resolveSeries(v any) (int, bool) {
	s, ok := v.(string)
	if !ok {
		return 0, false
	}
	id, ok := seriesIDs[strings.ToLower(strings.TrimSpace(s))]
	return id, ok
}

func resolveThread(v any) (int, bool) {
	s, ok := v.(string)
	if !ok {
		return 0, false
	}
	id, ok := threadIDs[strings.TrimSpace(s)]
	return id, ok
}

func resolveAngle(v any) (int, bool) {
	n, ok := toInt(v)
	if !ok {
		return 0, false
	}
	id, ok := angleIDs[n]
	return id, ok
}

// toInt accepts the scalar shapes the oracle hands back for numbers:
// JSON numbers decode as float64, but string digits show up too.
func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		if n != float64(int(n)) {
			return 0, false
		}
		return int(n), true
	case string:
		parsed, err := strconv.Atoi(strings.TrimSpace(n))
		if err != nil {
			return 0, false
		}
		return parsed, true
	default:
		return 0, false
	}
}

// toBool coerces the accepted truthy spellings; everything else is false.
func toBool(v any) bool {
	if b, ok := v.(bool); ok {
		return b
	}
	s := fmt.Sprintf("%v", v)
	if f, ok := v.(float64); ok && f == float64(int(f)) {
		s = strconv.Itoa(int(f))
	}
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "1", "yes", "y":
		return true
	}
	return false
}
