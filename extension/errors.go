package extension

import (
	"errors"
	"fmt"

	"github.com/thiremani/cexi/loader"
	"github.com/thiremani/cexi/toolchain"
)

type (
	// CompileError is returned unchanged from the driver.
	CompileError = toolchain.CompileError
	// LoadError reports an artifact that could not be opened.
	LoadError = loader.LoadError
	// NativeError is an error raised inside native code.
	NativeError = loader.NativeError
)

var (
	// ErrTooLate is returned when a native body is supplied after one was
	// already committed.
	ErrTooLate = errors.New("too late: native implementation already committed")
	// ErrTooEarly is returned when background compilation starts with
	// nothing to compile.
	ErrTooEarly = errors.New("too early: no native implementation supplied")
	// ErrReentrant is returned by a Prepare that would replace the loaded
	// artifact from inside one of its reverse callbacks.
	ErrReentrant = errors.New("cannot reload from inside a reverse callback")
)

// ConfigurationError is a declaration that can never be realized: a bad
// module name, a bad identifier or a name collision.
type ConfigurationError struct {
	Module string
	Err    error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("extension %s: %v", e.Module, e.Err)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// NotInitializedError is returned by proxies of a module that was never
// compiled and loaded.
type NotInitializedError struct {
	Module string
}

func (e *NotInitializedError) Error() string {
	return fmt.Sprintf("module %s not compiled/loaded", e.Module)
}

// CodeDivergedError is returned when the loaded artifact lacks a member or
// attribute the declarations promise.
type CodeDivergedError struct {
	Module string
	Member string
	Attr   string
}

func (e *CodeDivergedError) Error() string {
	return fmt.Sprintf("for %q from %q, failed to retrieve %q", e.Member, e.Module, e.Attr)
}

// BackgroundCompileError wraps the failure of a background build. It is
// fatal: every later poll returns it.
type BackgroundCompileError struct {
	Module string
	Err    error
}

func (e *BackgroundCompileError) Error() string {
	return fmt.Sprintf("background build of %s failed: %v", e.Module, e.Err)
}

func (e *BackgroundCompileError) Unwrap() error { return e.Err }
