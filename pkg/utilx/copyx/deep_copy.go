// Package copyx provides functionality to perform deep copies of complex data structures.
//
// Normalize is applied to every value handed back through the scoped client, so callers can
// keep and mutate results without aliasing driver-owned memory.
package copyx

import (
	"math/big"
	"reflect"
	"sync"
	"time"
)

var (
	passThroughMu sync.RWMutex
	passThrough   = map[reflect.Type]struct{}{
		reflect.TypeOf((*big.Int)(nil)):       {},
		reflect.TypeOf((*big.Float)(nil)):     {},
		reflect.TypeOf((*big.Rat)(nil)):       {},
		reflect.TypeOf((*time.Location)(nil)): {},
	}

	timeType = reflect.TypeOf(time.Time{})
)

// RegisterPassThrough marks types as immutable: Normalize and DeepCopy hand them over as they are.
// Drivers register their arbitrary-precision value types here.
func RegisterPassThrough(types ...reflect.Type) {
	passThroughMu.Lock()
	defer passThroughMu.Unlock()

	for _, t := range types {
		passThrough[t] = struct{}{}
	}
}

func isPassThrough(t reflect.Type) bool {
	passThroughMu.RLock()
	defer passThroughMu.RUnlock()

	_, ok := passThrough[t]

	return ok
}

// Normalize returns a deep copy of v.
//
//   - nil, scalars and time.Time values come back unchanged (time.Time is a value type);
//   - *time.Time gets a new pointer holding the same instant;
//   - registered pass-through types (big numbers, driver decimals) are returned by reference;
//   - slices, arrays, maps, structs and pointers are copied recursively.
func Normalize(v any) any {
	if v == nil {
		return nil
	}

	src := reflect.ValueOf(v)
	dst := reflect.New(src.Type()).Elem()
	deepCopyValue(dst, src)

	return dst.Interface()
}

// NormalizeAs is Normalize for callers that know the static type of the value.
func NormalizeAs[T any](v T) T {
	n, ok := Normalize(v).(T)
	if !ok {
		var zero T
		return zero
	}

	return n
}

// DeepCopy performs a deep copy from the source (src) to the destination (dst).
// It uses reflection to recursively copy all fields of the source object,
// ensuring that nested structures are also duplicated rather than simply referenced.
// dst and src must be pointers to the same type.
func DeepCopy(dst, src interface{}) {
	dstValue := reflect.ValueOf(dst).Elem()
	srcValue := reflect.ValueOf(src).Elem()

	// Call the recursive deep copy function to handle the actual copying of values.
	deepCopyValue(dstValue, srcValue)
}

// deepCopyValue is a recursive helper function that performs the actual deep copy logic
// for various kinds of values, including pointers, structs, slices, arrays, and maps.
func deepCopyValue(dst, src reflect.Value) {
	if isPassThrough(src.Type()) {
		dst.Set(src)
		return
	}

	switch src.Kind() {
	case reflect.Interface:
		if !src.IsNil() {
			inner := src.Elem()
			copied := reflect.New(inner.Type()).Elem()
			deepCopyValue(copied, inner)
			dst.Set(copied)
		}
	case reflect.Ptr:
		if !src.IsNil() {
			dst.Set(reflect.New(src.Elem().Type()))
			deepCopyValue(dst.Elem(), src.Elem())
		}
	case reflect.Struct:
		// Shallow copy first: unexported fields cannot be set one by one.
		dst.Set(src)
		if src.Type() == timeType {
			return
		}
		for i := 0; i < src.NumField(); i++ {
			if dst.Field(i).CanSet() {
				deepCopyValue(dst.Field(i), src.Field(i))
			}
		}
	case reflect.Slice:
		if !src.IsNil() {
			dst.Set(reflect.MakeSlice(src.Type(), src.Len(), src.Cap()))
			if src.Type().Elem().Kind() == reflect.Uint8 {
				reflect.Copy(dst, src)
				return
			}
			for i := 0; i < src.Len(); i++ {
				deepCopyValue(dst.Index(i), src.Index(i))
			}
		}
	case reflect.Array:
		for i := 0; i < src.Len(); i++ {
			deepCopyValue(dst.Index(i), src.Index(i))
		}
	case reflect.Map:
		if !src.IsNil() {
			dst.Set(reflect.MakeMapWithSize(src.Type(), src.Len()))
			iter := src.MapRange()
			for iter.Next() {
				dstValue := reflect.New(iter.Value().Type()).Elem()
				deepCopyValue(dstValue, iter.Value())
				dst.SetMapIndex(iter.Key(), dstValue)
			}
		}
	default:
		dst.Set(src)
	}
}
