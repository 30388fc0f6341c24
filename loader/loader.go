// Package loader opens compiled extensions with purego and exposes their
// module object: the symbol table, the revision stamp and calls through the
// managed calling convention.
package loader

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/thiremani/cexi/codegen"
	"github.com/thiremani/cexi/toolchain"
)

var (
	// ErrClosed is returned by calls on a closed library.
	ErrClosed = errors.New("library is closed")
	// ErrBusy is returned by Close while a Go callback of the library is
	// running.
	ErrBusy = errors.New("library is running a callback")
)

// LoadError reports a library that could not be opened or initialized.
type LoadError struct {
	Module string
	Path   string
	Err    error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load %s from %s: %v", e.Module, e.Path, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// NativeError is an error raised by native code: the name of its error
// object and the message.
type NativeError struct {
	Name    string
	Message string
}

func (e *NativeError) Error() string {
	return e.Name + ": " + e.Message
}

// Paths the process has opened. The dynamic linker hands back the cached
// image for a path it already has, so a rebuilt library must be opened
// under a fresh name.
var opened = struct {
	sync.Mutex
	paths map[string]struct{}
}{paths: map[string]struct{}{}}

// Library is one opened extension.
type Library struct {
	name   string
	path   string
	handle uintptr
	module uintptr
	abi    *abi

	mu     sync.RWMutex
	closed bool
	// callbacks counts Go callbacks in flight. They run under the read lock
	// of the native call that made them.
	callbacks atomic.Int32
}

// Open loads the library at path and runs the initializer of module name.
func Open(path, name string) (*Library, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, &LoadError{Module: name, Path: path, Err: err}
	}
	if _, err := os.Stat(abs); err != nil {
		return nil, &LoadError{Module: name, Path: path, Err: err}
	}

	target, cleanup, err := uniquePath(abs)
	if err != nil {
		return nil, &LoadError{Module: name, Path: path, Err: err}
	}
	defer cleanup()

	handle, err := dlopen(target)
	if err != nil {
		return nil, &LoadError{Module: name, Path: path, Err: err}
	}
	lib, err := initialize(handle, abs, name)
	if err != nil {
		dlclose(handle)
		return nil, &LoadError{Module: name, Path: path, Err: err}
	}
	return lib, nil
}

// uniquePath returns abs itself the first time, and a private copy
// afterwards. The copy is removed once it is mapped.
func uniquePath(abs string) (string, func(), error) {
	opened.Lock()
	defer opened.Unlock()
	if _, seen := opened.paths[abs]; !seen {
		opened.paths[abs] = struct{}{}
		return abs, func() {}, nil
	}
	ext := filepath.Ext(abs)
	cp := strings.TrimSuffix(abs, ext) + "." + strings.ReplaceAll(uuid.NewString(), "-", "")[:12] + ext
	if err := toolchain.Copy(abs, cp); err != nil {
		return "", nil, err
	}
	return cp, func() { os.Remove(cp) }, nil
}

func initialize(handle uintptr, path, name string) (*Library, error) {
	a, err := bindABI(handle)
	if err != nil {
		return nil, err
	}
	var initFn func() uintptr
	if err := bind(handle, &initFn, codegen.InitSymbol(name)); err != nil {
		return nil, err
	}

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	a.errClear()
	m := initFn()
	if m == 0 {
		return nil, a.takeError("module initializer returned NULL")
	}
	return &Library{name: name, path: path, handle: handle, module: m, abi: a}, nil
}

// Name returns the module name the library was opened for.
func (l *Library) Name() string { return l.name }

// Path returns the library file.
func (l *Library) Path() string { return l.path }

// Revision returns the revision stamped into the module, if any.
func (l *Library) Revision() (uint64, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed || l.abi.moduleHasRevision(l.module) == 0 {
		return 0, false
	}
	return l.abi.moduleRevision(l.module), true
}

// ErrorName returns the qualified name of the module error object.
func (l *Library) ErrorName() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return ""
	}
	return l.abi.moduleErrorName(l.module)
}

// Lookup finds a member of the module method table.
func (l *Library) Lookup(name string) (*Symbol, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return nil, false
	}
	fn := l.abi.moduleLookup(l.module, name)
	if fn == 0 {
		return nil, false
	}
	return &Symbol{lib: l, name: name, fn: fn}, true
}

// Close unloads the library. Symbols obtained from it must not be used
// afterwards. Close waits for native calls to return, so it fails with
// ErrBusy instead when a callback of this library is running.
func (l *Library) Close() error {
	if l.callbacks.Load() > 0 {
		return ErrBusy
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	unregisterCallbacks(l)
	return dlclose(l.handle)
}

// Symbol is one method table entry of a loaded module.
type Symbol struct {
	lib  *Library
	name string
	fn   uintptr
}

func (s *Symbol) Name() string { return s.name }

// Doc returns the docstring the function was declared with.
func (s *Symbol) Doc() string {
	s.lib.mu.RLock()
	defer s.lib.mu.RUnlock()
	if s.lib.closed {
		return ""
	}
	return s.lib.abi.moduleMethodDoc(s.lib.module, s.name)
}

// Flags returns the calling convention flags of the table entry.
func (s *Symbol) Flags() int {
	s.lib.mu.RLock()
	defer s.lib.mu.RUnlock()
	if s.lib.closed {
		return -1
	}
	return int(s.lib.abi.moduleMethodFlags(s.lib.module, s.name))
}

// Call invokes the function with args packed into a tuple and converts the
// result. A NULL result becomes a *NativeError. The library stays read
// locked until the native code returns, callbacks included.
func (s *Symbol) Call(args ...any) (any, error) {
	l := s.lib
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return nil, ErrClosed
	}

	// the runtime error state is per thread
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	a := l.abi
	in, err := l.toTuple(args)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", s.name, err)
	}
	res := a.call(s.fn, l.module, in)
	a.decref(in)
	if res == 0 {
		return nil, a.takeError(s.name + " failed")
	}
	defer a.decref(res)
	return l.fromObject(res)
}
