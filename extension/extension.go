// Package extension turns inline C declarations into a loaded native module.
//
// An Extension collects blocks and functions in declaration order, renders
// them into one translation unit and realizes it on Prepare: an artifact
// whose embedded revision matches the current declarations is reused,
// anything else is rebuilt. Managed functions are reached through a Proxy
// that resolves the live symbol on every call; reverse functions let native
// code call back into Go.
//
// Prepare must not run concurrently on the same Extension.
package extension

import (
	"errors"
	"path/filepath"
	"slices"
	"sync/atomic"

	"github.com/charmbracelet/log"
	"github.com/thiremani/cexi/codegen"
	"github.com/thiremani/cexi/loader"
	"github.com/thiremani/cexi/toolchain"
)

type (
	Tuple    = loader.Tuple
	Callback = loader.Callback
)

// Extension is one native module under construction or loaded.
type Extension struct {
	name      string
	anonymous bool
	dir       string
	flags     []string
	customize toolchain.Customizer
	driver    Driver
	logger    *log.Logger

	asm     *codegen.Assembler
	table   SymbolTable
	reverse []*ReverseProxy
	builds  int
	// inCallback counts reverse callbacks running inside native calls.
	inCallback atomic.Int32
}

// Option configures an Extension.
type Option func(*Extension)

// WithDir keeps the source and artifact in dir across runs. Without it each
// build uses a temporary directory removed after loading.
func WithDir(dir string) Option {
	return func(e *Extension) { e.dir = dir }
}

// WithFlags appends extra compiler flags to every build.
func WithFlags(flags ...string) Option {
	return func(e *Extension) { e.flags = append(e.flags, flags...) }
}

// WithCustomizer installs a hook that sees and may edit the compiler
// arguments of each build.
func WithCustomizer(fn toolchain.Customizer) Option {
	return func(e *Extension) { e.customize = fn }
}

// WithDriver replaces the compile and load backend.
func WithDriver(d Driver) Option {
	return func(e *Extension) { e.driver = d }
}

// WithLogger sets the logger for build and load progress.
func WithLogger(l *log.Logger) Option {
	return func(e *Extension) { e.logger = l }
}

// New returns an empty extension. An empty name generates a random one;
// such anonymous modules can not use a persistent directory.
func New(name string, opts ...Option) (*Extension, error) {
	e := &Extension{name: name}
	if name == "" {
		e.name = codegen.Gensym("cexi", "")
		e.anonymous = true
	}
	for _, opt := range opts {
		opt(e)
	}
	if err := codegen.ValidateIdentifier(e.name); err != nil {
		return nil, &ConfigurationError{Module: e.name, Err: err}
	}
	if e.anonymous && e.dir != "" {
		return nil, &ConfigurationError{Module: e.name, Err: errors.New("anonymous extensions can not use a persistent directory")}
	}
	if e.dir != "" {
		abs, err := filepath.Abs(e.dir)
		if err != nil {
			return nil, &ConfigurationError{Module: e.name, Err: err}
		}
		e.dir = abs
	}
	if e.logger == nil {
		e.logger = defaultLogger()
	}
	if e.driver == nil {
		e.driver = NewDriver(nil, "", e.logger)
	}
	e.asm = codegen.NewAssembler(e.name)
	return e, nil
}

func (e *Extension) Name() string { return e.name }

// Anonymous reports whether the name was generated.
func (e *Extension) Anonymous() bool { return e.anonymous }

// Dir returns the persistent directory, or "" for ephemeral builds.
func (e *Extension) Dir() string { return e.dir }

// Flags returns the extra compiler flags.
func (e *Extension) Flags() []string { return slices.Clone(e.flags) }

// Loaded reports whether an artifact is currently loaded.
func (e *Extension) Loaded() bool { return e.table != nil }

// Builds counts the compilations this extension performed.
func (e *Extension) Builds() int { return e.builds }

// ErrorName is the qualified name of the module error object, as carried by
// NativeError.Name when native code raises it.
func (e *Extension) ErrorName() string { return e.name + ".error" }

// ErrorSymbol is the C variable native code passes to cx_err_set to raise
// the module error.
func (e *Extension) ErrorSymbol() string { return e.asm.ErrorName() }

// Render returns the full translation unit.
func (e *Extension) Render() (string, error) { return e.asm.Render() }

// Revision returns the fingerprint of the current declarations.
func (e *Extension) Revision() (uint64, error) { return e.asm.Revision() }

// Units returns the declared units in order.
func (e *Extension) Units() []codegen.Unit { return e.asm.Units() }

func (e *Extension) add(u codegen.Unit) error {
	if err := e.asm.Add(u); err != nil {
		return &ConfigurationError{Module: e.name, Err: err}
	}
	return nil
}

// AddBlock appends raw C code such as includes or helpers.
func (e *Extension) AddBlock(body string) error {
	return e.add(codegen.NewBlock(body))
}

// AddNativeFunction appends a plain C function visible to later units.
func (e *Extension) AddNativeFunction(name string, sig codegen.Signature, body string) error {
	f, err := codegen.NewNativeFunction(name, sig, body)
	if err != nil {
		return &ConfigurationError{Module: e.name, Err: err}
	}
	return e.add(f)
}

// AddManagedFunction appends a function callable from Go and returns its
// proxy.
func (e *Extension) AddManagedFunction(name string, sig codegen.Signature, body, doc string) (*Proxy, error) {
	f, err := codegen.NewManagedFunction(name, sig, body, doc)
	if err != nil {
		return nil, &ConfigurationError{Module: e.name, Err: err}
	}
	if err := e.add(f); err != nil {
		return nil, err
	}
	return &Proxy{ext: e, name: name}, nil
}

// addManaged adds all of fs or, when any of them collides, none.
func (e *Extension) addManaged(fs []*codegen.ManagedFunction) ([]*Proxy, error) {
	batch := map[string]bool{}
	for _, f := range fs {
		for _, n := range codegen.Symbols(f) {
			if e.asm.Taken(n) || batch[n] {
				return nil, &ConfigurationError{Module: e.name, Err: &codegen.CollisionError{Module: e.name, Name: n}}
			}
			batch[n] = true
		}
	}
	proxies := make([]*Proxy, len(fs))
	for i, f := range fs {
		if err := e.add(f); err != nil {
			return nil, err
		}
		proxies[i] = &Proxy{ext: e, name: f.Name()}
	}
	return proxies, nil
}

// AddRawFunction appends a managed function whose body parses self and
// args itself.
func (e *Extension) AddRawFunction(name, body, doc string) (*Proxy, error) {
	f, err := codegen.NewRawFunction(name, body, doc)
	if err != nil {
		return nil, &ConfigurationError{Module: e.name, Err: err}
	}
	if err := e.add(f); err != nil {
		return nil, err
	}
	return &Proxy{ext: e, name: name}, nil
}

// AddReverseFunction declares a C function named name that calls fn. Later
// units call it as int name(in..., out*...) and check the status code.
func (e *Extension) AddReverseFunction(name string, sig codegen.Signature, fn Callback) (*ReverseProxy, error) {
	if fn == nil {
		return nil, &ConfigurationError{Module: e.name, Err: errors.New("reverse function " + name + " has no callback")}
	}
	capture, err := codegen.NewCapture(name, e.name)
	if err != nil {
		return nil, &ConfigurationError{Module: e.name, Err: err}
	}
	dispatch, err := codegen.NewDispatch(sig, capture)
	if err != nil {
		return nil, &ConfigurationError{Module: e.name, Err: err}
	}
	for _, n := range append(codegen.Symbols(capture), codegen.Symbols(dispatch)...) {
		if e.asm.Taken(n) {
			return nil, &ConfigurationError{Module: e.name, Err: &codegen.CollisionError{Module: e.name, Name: n}}
		}
	}
	if err := e.add(capture); err != nil {
		return nil, err
	}
	if err := e.add(dispatch); err != nil {
		return nil, err
	}
	r := &ReverseProxy{ext: e, capture: capture, dispatch: dispatch, fn: fn}
	e.reverse = append(e.reverse, r)
	return r, nil
}
