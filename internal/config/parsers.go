package config

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"
)

// Catalog values arrive from viper, yaml.v3 and encoding/json as loosely
// typed interfaces. The coercers below accept any of those shapes and read
// nil or blank strings as the zero value.

// lookupSetting returns the first candidate key present in settings, trying
// each key as written and lower-cased.
func lookupSetting(settings map[string]interface{}, candidates ...string) (interface{}, bool) {
	for _, key := range candidates {
		for _, k := range []string{key, strings.ToLower(key)} {
			if val, ok := settings[k]; ok {
				return val, true
			}
		}
	}
	return nil, false
}

func asString(value interface{}) (string, error) {
	switch v := value.(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	case fmt.Stringer:
		return v.String(), nil
	default:
		return fmt.Sprint(v), nil
	}
}

// blank reports whether value is nil or a whitespace-only string.
func blank(value interface{}) (string, bool) {
	if value == nil {
		return "", true
	}
	s, ok := value.(string)
	s = strings.TrimSpace(s)
	return s, ok && s == ""
}

func asInt(value interface{}) (int, error) {
	if _, ok := blank(value); ok {
		return 0, nil
	}
	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return int(rv.Int()), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return int(rv.Uint()), nil
	case reflect.Float32, reflect.Float64:
		return int(rv.Float()), nil
	case reflect.String:
		return strconv.Atoi(strings.TrimSpace(rv.String()))
	}
	return 0, fmt.Errorf("unsupported numeric type %T", value)
}

func asFloat64(value interface{}) (float64, error) {
	if _, ok := blank(value); ok {
		return 0, nil
	}
	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int()), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(rv.Uint()), nil
	case reflect.Float32, reflect.Float64:
		return rv.Float(), nil
	case reflect.String:
		return strconv.ParseFloat(strings.TrimSpace(rv.String()), 64)
	}
	return 0, fmt.Errorf("unsupported float type %T", value)
}

func asBool(value interface{}) (bool, error) {
	if _, ok := blank(value); ok {
		return false, nil
	}
	switch v := value.(type) {
	case bool:
		return v, nil
	case string:
		return strconv.ParseBool(strings.TrimSpace(v))
	}
	return false, fmt.Errorf("unsupported boolean type %T", value)
}

// asDuration reads Go duration strings. Bare numbers are whole seconds.
func asDuration(value interface{}) (time.Duration, error) {
	if d, ok := value.(time.Duration); ok {
		return d, nil
	}
	if s, ok := blank(value); ok {
		return 0, nil
	} else if _, isString := value.(string); isString {
		return time.ParseDuration(s)
	}
	n, err := asInt(value)
	if err != nil {
		return 0, fmt.Errorf("unsupported duration type %T", value)
	}
	return time.Duration(n) * time.Second, nil
}

// asMillisDuration reads Go duration strings. Bare numbers, quoted or not,
// are milliseconds.
func asMillisDuration(value interface{}) (time.Duration, error) {
	switch v := value.(type) {
	case string:
		if ms, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return time.Duration(ms) * time.Millisecond, nil
		}
		return asDuration(v)
	case time.Duration, nil:
		return asDuration(v)
	}
	f, err := asFloat64(value)
	if err != nil {
		return 0, fmt.Errorf("unsupported duration type %T", value)
	}
	return time.Duration(f * float64(time.Millisecond)), nil
}

// asStringMap flattens any map into string keys and values. Empty keys are
// rejected.
func asStringMap(value interface{}) (map[string]string, error) {
	if value == nil {
		return nil, nil
	}
	rv := reflect.ValueOf(value)
	if rv.Kind() != reflect.Map {
		return nil, fmt.Errorf("expected map of strings, got %T", value)
	}
	result := make(map[string]string, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		key, _ := asString(iter.Key().Interface())
		if strings.TrimSpace(key) == "" {
			return nil, fmt.Errorf("map key cannot be empty")
		}
		result[key], _ = asString(iter.Value().Interface())
	}
	return result, nil
}

// asStringSlice accepts any list, or a single string as a one-item list.
func asStringSlice(value interface{}) ([]string, error) {
	if s, ok := value.(string); ok {
		return []string{s}, nil
	}
	items, err := toInterfaceSlice(value)
	if err != nil {
		return nil, fmt.Errorf("unsupported string slice type %T", value)
	}
	if items == nil {
		return nil, nil
	}
	result := make([]string, len(items))
	for i, item := range items {
		result[i], _ = asString(item)
	}
	return result, nil
}

// asIntSlice accepts any list of numbers, or a single number.
func asIntSlice(value interface{}) ([]int, error) {
	if value == nil {
		return nil, nil
	}
	items, err := toInterfaceSlice(value)
	if err != nil {
		n, err := asInt(value)
		if err != nil {
			return nil, err
		}
		return []int{n}, nil
	}
	result := make([]int, 0, len(items))
	for i, item := range items {
		n, err := asInt(item)
		if err != nil {
			return nil, fmt.Errorf("index %d: %w", i, err)
		}
		result = append(result, n)
	}
	return result, nil
}

func toInterfaceSlice(value interface{}) ([]interface{}, error) {
	if value == nil {
		return nil, nil
	}
	if items, ok := value.([]interface{}); ok {
		return items, nil
	}
	rv := reflect.ValueOf(value)
	if rv.Kind() != reflect.Slice || rv.Type().Elem().Kind() == reflect.Uint8 {
		return nil, fmt.Errorf("expected list, got %T", value)
	}
	items := make([]interface{}, rv.Len())
	for i := range items {
		items[i] = rv.Index(i).Interface()
	}
	return items, nil
}

// toStringKeyMap converts any map to string keys, trimmed and lower-cased.
func toStringKeyMap(value interface{}) (map[string]interface{}, error) {
	rv := reflect.ValueOf(value)
	if rv.Kind() != reflect.Map {
		return nil, fmt.Errorf("expected map, got %T", value)
	}
	result := make(map[string]interface{}, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		key, _ := asString(iter.Key().Interface())
		result[strings.ToLower(strings.TrimSpace(key))] = iter.Value().Interface()
	}
	return result, nil
}

// jsonCompatible rewrites map[interface{}]interface{} values, which
// encoding/json rejects, into map[string]interface{}.
func jsonCompatible(value interface{}) interface{} {
	switch v := value.(type) {
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(v))
		for key, val := range v {
			out[fmt.Sprint(key)] = jsonCompatible(val)
		}
		return out
	case map[string]interface{}:
		out := make(map[string]interface{}, len(v))
		for key, val := range v {
			out[key] = jsonCompatible(val)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, val := range v {
			out[i] = jsonCompatible(val)
		}
		return out
	default:
		return v
	}
}
