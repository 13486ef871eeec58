package version

import (
	"fmt"
	"math"
	"math/big"
	"reflect"

	"google.golang.org/protobuf/types/known/structpb"
)

// MaxExactInt is the largest integer magnitude a float64 holds without rounding
const MaxExactInt = 1 << 53

// NormalizeFields converts field values to the JSON value domain
// (string, float64, bool, nil, []any, map[string]any) so stores agree on equality.
// Values outside that domain fail with ErrInvalidCommit.
func NormalizeFields(fields map[string]any) (map[string]any, error) {
	if len(fields) == 0 {
		return map[string]any{}, nil
	}
	for name, v := range fields {
		if err := checkExact(v); err != nil {
			return nil, fmt.Errorf("%w: field %s: %v", ErrInvalidCommit, name, err)
		}
	}
	s, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("%w: normalize fields: %v", ErrInvalidCommit, err)
	}
	return s.AsMap(), nil
}

// NormalizeValue converts a single value to the JSON value domain
func NormalizeValue(v any) (any, error) {
	if err := checkExact(v); err != nil {
		return nil, err
	}
	pv, err := structpb.NewValue(v)
	if err != nil {
		return nil, err
	}
	return pv.AsInterface(), nil
}

// checkExact rejects integers that would round when stored as float64
func checkExact(v any) error {
	switch t := v.(type) {
	case map[string]any:
		for _, e := range t {
			if err := checkExact(e); err != nil {
				return err
			}
		}
	case []any:
		for _, e := range t {
			if err := checkExact(e); err != nil {
				return err
			}
		}
	default:
		if !isInteger(v) {
			return nil
		}
		n, _ := exactNumber(v)
		if new(big.Float).Abs(n).Cmp(big.NewFloat(MaxExactInt)) > 0 {
			return fmt.Errorf("integer %v exceeds 2^53 in magnitude", v)
		}
	}
	return nil
}

func isInteger(v any) bool {
	switch reflect.ValueOf(v).Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return true
	}
	return false
}

// exactNumber returns v as an exact big.Float when v is an integer or a finite float
func exactNumber(v any) (*big.Float, bool) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return new(big.Float).SetInt64(rv.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return new(big.Float).SetUint64(rv.Uint()), true
	case reflect.Float32, reflect.Float64:
		f := rv.Float()
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, false
		}
		return big.NewFloat(f), true
	}
	return nil, false
}

// ValuesEqual compares two field values by value. Numbers compare exactly
// across Go types, so int(3) equals float64(3) but 2^53+1 differs from 2^53.
func ValuesEqual(a, b any) bool {
	if reflect.DeepEqual(a, b) {
		return true
	}
	if na, ok := exactNumber(a); ok {
		nb, ok := exactNumber(b)
		return ok && na.Cmp(nb) == 0
	}
	na, errA := NormalizeValue(a)
	nb, errB := NormalizeValue(b)
	if errA != nil || errB != nil {
		return false
	}
	return reflect.DeepEqual(na, nb)
}

// CloneFields deep-copies a normalized field map
func CloneFields(fields map[string]any) map[string]any {
	if fields == nil {
		return nil
	}
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return CloneFields(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}
