package docstore

import (
	"reflect"
	"strings"
	"time"
)

// Documents cross the wire as JSON, but the backing store keeps timestamps in
// a native form: a {"$ts": [seconds, nanos]} pair. The conversion has to walk
// nested arrays and objects because payments and change orders embed dates at
// arbitrary depth inside a document.
//
// Which fields are dates is declared by the record type, not guessed from
// values: only string fields whose JSON key maps to a time.Time in R are
// converted. A note or title that happens to look like a date stays a plain
// string.

const tsKey = "$ts"

// Fixed-width nanoseconds keep decoded timestamps lexicographically ordered,
// so string comparison on a date field is chronological comparison.
const wireTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

var timeType = reflect.TypeOf(time.Time{})

// timeFieldKeys collects the JSON keys of every time.Time field reachable
// from t, through pointers, slices, maps and embedded structs. Key-based
// rather than path-based: the task tree nests to arbitrary depth, so paths
// have no finite enumeration.
func timeFieldKeys(t reflect.Type) map[string]bool {
	keys := make(map[string]bool)
	if t != nil {
		collectTimeKeys(t, keys, make(map[reflect.Type]bool))
	}
	return keys
}

func collectTimeKeys(t reflect.Type, keys map[string]bool, seen map[reflect.Type]bool) {
	switch t.Kind() {
	case reflect.Pointer, reflect.Slice, reflect.Array, reflect.Map:
		collectTimeKeys(t.Elem(), keys, seen)
	case reflect.Struct:
		if t == timeType || seen[t] {
			return
		}
		seen[t] = true
		for i := 0; i < t.NumField(); i++ {
			f := t.Field(i)
			if !f.IsExported() {
				continue
			}
			name := jsonFieldName(f)
			if name == "-" {
				continue
			}
			ft := f.Type
			for ft.Kind() == reflect.Pointer || ft.Kind() == reflect.Slice || ft.Kind() == reflect.Array {
				ft = ft.Elem()
			}
			if ft == timeType {
				keys[name] = true
				continue
			}
			collectTimeKeys(ft, keys, seen)
		}
	}
}

func jsonFieldName(f reflect.StructField) string {
	tag := f.Tag.Get("json")
	if tag == "" {
		return f.Name
	}
	name := strings.Split(tag, ",")[0]
	if name == "" {
		return f.Name
	}
	return name
}

// encodeTimestamps replaces RFC3339 strings under declared date keys with the
// store-native timestamp form, recursively. Array elements inherit the key of
// the enclosing field.
func encodeTimestamps(v any, key string, dates map[string]bool) any {
	switch val := v.(type) {
	case map[string]any:
		for k, inner := range val {
			val[k] = encodeTimestamps(inner, k, dates)
		}
		return val
	case []any:
		for i, inner := range val {
			val[i] = encodeTimestamps(inner, key, dates)
		}
		return val
	case string:
		if !dates[key] {
			return val
		}
		if ts, ok := parseWireTime(val); ok {
			return map[string]any{tsKey: []any{float64(ts.Unix()), float64(ts.Nanosecond())}}
		}
		return val
	default:
		return val
	}
}

// decodeTimestamps is the inverse walk: native timestamp pairs under declared
// date keys back to fixed-width RFC3339 strings.
func decodeTimestamps(v any, key string, dates map[string]bool) any {
	switch val := v.(type) {
	case map[string]any:
		if dates[key] {
			if ts, ok := nativeTimestamp(val); ok {
				return ts.UTC().Format(wireTimeLayout)
			}
		}
		for k, inner := range val {
			val[k] = decodeTimestamps(inner, k, dates)
		}
		return val
	case []any:
		for i, inner := range val {
			val[i] = decodeTimestamps(inner, key, dates)
		}
		return val
	default:
		return val
	}
}

func parseWireTime(s string) (time.Time, bool) {
	if len(s) < len("2006-01-02T15:04:05Z") {
		return time.Time{}, false
	}
	ts, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, false
	}
	return ts, true
}

func nativeTimestamp(m map[string]any) (time.Time, bool) {
	if len(m) != 1 {
		return time.Time{}, false
	}
	raw, ok := m[tsKey]
	if !ok {
		return time.Time{}, false
	}
	pair, ok := raw.([]any)
	if !ok || len(pair) != 2 {
		return time.Time{}, false
	}
	sec, ok1 := pair[0].(float64)
	nsec, ok2 := pair[1].(float64)
	if !ok1 || !ok2 {
		return time.Time{}, false
	}
	return time.Unix(int64(sec), int64(nsec)), true
}
