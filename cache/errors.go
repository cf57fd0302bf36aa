package cache

import (
	"errors"
	"reflect"
)

// ErrNoLoader is returned by GetOrLoad when no Loader was configured in
// Options.
var ErrNoLoader = errors.New("cache: no Loader configured")

// ErrClosed is returned by loading operations on a closed cache.
var ErrClosed = errors.New("cache: closed")

// ErrInvalidLoadResult reports a loader that produced a nil value.
// Loaders must return a usable value or an error; nil results are
// rejected and never cached.
var ErrInvalidLoadResult = errors.New("cache: loader returned nil value")

// LoadError wraps a loader failure. The same instance fans out to every
// caller coalesced onto the failed load. Failures are never cached and
// never retried automatically: the next request for the key starts a
// fresh load attempt.
type LoadError struct {
	Err error
}

func (e *LoadError) Error() string { return "cache: load failed: " + e.Err.Error() }

// Unwrap exposes the loader's original error to errors.Is/As.
func (e *LoadError) Unwrap() error { return e.Err }

// isNilValue reports whether v is nil or a nil pointer/map/slice/func/
// chan/interface. Scalars and structs are never nil.
func isNilValue(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan, reflect.Interface:
		return rv.IsNil()
	}
	return false
}
