package loader

import (
	"fmt"
	"sync"

	"github.com/ebitengine/purego"
)

type callbackEntry struct {
	fn  Callback
	lib *Library
}

// Native callables all share one trampoline; the handle stored in the
// object selects the Go function. purego callbacks can not be released, so
// there must be a fixed number of them.
var callbacks = struct {
	sync.RWMutex
	next    uintptr
	entries map[uintptr]*callbackEntry
}{entries: map[uintptr]*callbackEntry{}}

var (
	trampolineOnce sync.Once
	trampolinePtr  uintptr
)

func trampolineAddr() uintptr {
	trampolineOnce.Do(func() {
		trampolinePtr = purego.NewCallback(trampoline)
	})
	return trampolinePtr
}

func registerCallback(fn Callback, lib *Library) uintptr {
	callbacks.Lock()
	defer callbacks.Unlock()
	callbacks.next++
	callbacks.entries[callbacks.next] = &callbackEntry{fn: fn, lib: lib}
	return callbacks.next
}

func lookupCallback(handle uintptr) (*callbackEntry, bool) {
	callbacks.RLock()
	defer callbacks.RUnlock()
	e, ok := callbacks.entries[handle]
	return e, ok
}

func unregisterCallbacks(lib *Library) {
	callbacks.Lock()
	defer callbacks.Unlock()
	for h, e := range callbacks.entries {
		if e.lib == lib {
			delete(callbacks.entries, h)
		}
	}
}

func (l *Library) newCallable(fn Callback) (uintptr, error) {
	if !callbacksSupported() {
		return 0, fmt.Errorf("callbacks are not supported on this platform")
	}
	handle := registerCallback(fn, l)
	obj := l.abi.newCallable(trampolineAddr(), handle)
	if obj == 0 {
		return 0, l.abi.takeError("allocation failed")
	}
	return obj, nil
}

// trampoline runs on the native thread that called the callable. A zero
// result tells native code the call failed, with the runtime error set.
func trampoline(handle, args uintptr) (result uintptr) {
	entry, ok := lookupCallback(handle)
	if !ok {
		return 0
	}
	a := entry.lib.abi
	entry.lib.callbacks.Add(1)
	defer entry.lib.callbacks.Add(-1)
	defer func() {
		// a panic must not unwind through C frames
		if r := recover(); r != nil {
			a.errSetString(fmt.Sprintf("callback panicked: %v", r))
			result = 0
		}
	}()

	in, err := entry.lib.fromObject(args)
	if err != nil {
		a.errSetString(err.Error())
		return 0
	}
	tuple, ok := in.(Tuple)
	if !ok {
		tuple = Tuple{in}
	}
	out, err := entry.fn(tuple)
	if err != nil {
		a.errSetString(err.Error())
		return 0
	}
	obj, err := entry.lib.toObject(out)
	if err != nil {
		a.errSetString(err.Error())
		return 0
	}
	return obj
}
