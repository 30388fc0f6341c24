package loader

import (
	"fmt"

	"github.com/ebitengine/purego"
)

// Object kinds, mirroring the CX_* enum of the runtime header.
const (
	kindNone     = 0
	kindBool     = 1
	kindInt      = 2
	kindFloat    = 3
	kindStr      = 4
	kindTuple    = 5
	kindCallable = 6
	kindError    = 7
	kindModule   = 8
)

// abi is the runtime helper surface of one loaded library. Every extension
// links its own copy of the runtime, so the table is bound per library.
type abi struct {
	none        func() uintptr
	newBool     func(int32) uintptr
	newInt      func(int64) uintptr
	newFloat    func(float64) uintptr
	newStr      func(string) uintptr
	newTuple    func(int) uintptr
	newCallable func(call, handle uintptr) uintptr

	tupleSet  func(t uintptr, i int, item uintptr) int32
	tupleGet  func(t uintptr, i int) uintptr
	tupleSize func(t uintptr) int

	kind           func(uintptr) int32
	asInt          func(uintptr) int64
	isUnsigned     func(uintptr) int32
	asFloat        func(uintptr) float64
	asStr          func(uintptr) string
	callableHandle func(uintptr) uintptr

	incref func(uintptr)
	decref func(uintptr)
	call   func(fn, self, args uintptr) uintptr

	errOccurred  func() int32
	errMessage   func() string
	errName      func() string
	errClear     func()
	errSetString func(string)

	moduleLookup      func(m uintptr, name string) uintptr
	moduleMethodFlags func(m uintptr, name string) int32
	moduleMethodDoc   func(m uintptr, name string) string
	moduleName        func(m uintptr) string
	moduleErrorName   func(m uintptr) string
	moduleHasRevision func(m uintptr) int32
	moduleRevision    func(m uintptr) uint64
}

// bind resolves name in handle and points fptr at it. Unlike
// purego.RegisterLibFunc it reports a missing symbol instead of panicking.
func bind(handle uintptr, fptr any, name string) error {
	sym, err := dlsym(handle, name)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", name, err)
	}
	purego.RegisterFunc(fptr, sym)
	return nil
}

func bindABI(handle uintptr) (*abi, error) {
	a := &abi{}
	symbols := []struct {
		fptr any
		name string
	}{
		{&a.none, "cx_none"},
		{&a.newBool, "cx_new_bool"},
		{&a.newInt, "cx_new_int"},
		{&a.newFloat, "cx_new_float"},
		{&a.newStr, "cx_new_str"},
		{&a.newTuple, "cx_new_tuple"},
		{&a.newCallable, "cx_new_callable"},
		{&a.tupleSet, "cx_tuple_set"},
		{&a.tupleGet, "cx_tuple_get"},
		{&a.tupleSize, "cx_tuple_size"},
		{&a.kind, "cx_kind"},
		{&a.asInt, "cx_as_int"},
		{&a.isUnsigned, "cx_int_is_unsigned"},
		{&a.asFloat, "cx_as_float"},
		{&a.asStr, "cx_as_str"},
		{&a.callableHandle, "cx_callable_handle"},
		{&a.incref, "cx_incref"},
		{&a.decref, "cx_decref"},
		{&a.call, "cx_call"},
		{&a.errOccurred, "cx_err_occurred"},
		{&a.errMessage, "cx_err_message"},
		{&a.errName, "cx_err_name"},
		{&a.errClear, "cx_err_clear"},
		{&a.errSetString, "cx_err_set_string"},
		{&a.moduleLookup, "cx_module_lookup"},
		{&a.moduleMethodFlags, "cx_module_method_flags"},
		{&a.moduleMethodDoc, "cx_module_method_doc"},
		{&a.moduleName, "cx_module_name"},
		{&a.moduleErrorName, "cx_module_error_name"},
		{&a.moduleHasRevision, "cx_module_has_revision"},
		{&a.moduleRevision, "cx_module_revision"},
	}
	for _, s := range symbols {
		if err := bind(handle, s.fptr, s.name); err != nil {
			return nil, err
		}
	}
	return a, nil
}

// takeError returns the pending native error and clears it.
func (a *abi) takeError(fallback string) *NativeError {
	e := &NativeError{Name: a.errName(), Message: a.errMessage()}
	a.errClear()
	if e.Name == "" && e.Message == "" {
		e.Name, e.Message = "RuntimeError", fallback
	}
	return e
}
