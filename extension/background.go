package extension

import (
	"context"
	"fmt"

	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"
	"github.com/thiremani/cexi/codegen"
)

// Background builds an extension on a worker goroutine while callers keep
// running Go fallbacks. Each DynamicFunction switches to its native
// implementation the first time a poll sees the build finished, and never
// switches back.
//
// Background is meant for a single caller goroutine; the worker owns the
// extension between Start and the poll that observes completion.
type Background struct {
	ext *Extension
	fns []*DynamicFunction

	wg     conc.WaitGroup
	result chan error
	done   chan struct{}

	started  bool
	switched bool
	fatal    error
}

// NewBackground wraps ext. Units already declared on ext are built along
// with the dynamic functions.
func NewBackground(ext *Extension) *Background {
	return &Background{ext: ext}
}

// DynamicFunction runs fallback until its native body is loaded.
type DynamicFunction struct {
	bg       *Background
	name     string
	sig      codegen.Signature
	doc      string
	fallback Callback
	body     string
	hasBody  bool
	proxy    *Proxy
}

// Define declares a function with a Go fallback. The native body comes
// later through Sub.
func (b *Background) Define(name string, sig codegen.Signature, fallback Callback) (*DynamicFunction, error) {
	if b.started {
		return nil, ErrTooLate
	}
	if _, err := codegen.NewManagedFunction(name, sig, "", ""); err != nil {
		return nil, &ConfigurationError{Module: b.ext.name, Err: err}
	}
	if fallback == nil {
		return nil, &ConfigurationError{Module: b.ext.name, Err: fmt.Errorf("function %s has no fallback", name)}
	}
	f := &DynamicFunction{bg: b, name: name, sig: sig, fallback: fallback}
	b.fns = append(b.fns, f)
	return f, nil
}

func (f *DynamicFunction) Name() string { return f.name }

// Sub supplies the native body. A function takes one body, and only before
// the build starts.
func (f *DynamicFunction) Sub(body, doc string) error {
	if f.hasBody || f.bg.started {
		return ErrTooLate
	}
	f.body, f.doc, f.hasBody = body, doc, true
	return nil
}

// Native reports whether calls now reach the native implementation.
func (f *DynamicFunction) Native() bool {
	return f.bg.switched && f.proxy != nil
}

// Invoke polls the build, then calls the native implementation if it is in
// place and the fallback otherwise.
func (f *DynamicFunction) Invoke(args ...any) (any, error) {
	ready, err := f.bg.Poll()
	if err != nil {
		return nil, err
	}
	if ready && f.proxy != nil {
		return f.proxy.Invoke(args...)
	}
	return f.fallback(Tuple(args))
}

// Start declares every function that has a body and builds the extension
// on a worker goroutine.
func (b *Background) Start(ctx context.Context) error {
	if b.started {
		return ErrTooLate
	}
	var pending []*DynamicFunction
	for _, f := range b.fns {
		if f.hasBody {
			pending = append(pending, f)
		}
	}
	if len(pending) == 0 {
		return ErrTooEarly
	}
	units := make([]*codegen.ManagedFunction, len(pending))
	for i, f := range pending {
		u, err := codegen.NewManagedFunction(f.name, f.sig, f.body, f.doc)
		if err != nil {
			return &ConfigurationError{Module: b.ext.name, Err: err}
		}
		units[i] = u
	}
	proxies, err := b.ext.addManaged(units)
	if err != nil {
		return err
	}
	for i, f := range pending {
		f.proxy = proxies[i]
	}

	b.started = true
	b.result = make(chan error, 1)
	b.done = make(chan struct{})
	b.wg.Go(func() {
		defer close(b.done)
		var pc panics.Catcher
		var err error
		pc.Try(func() { err = b.ext.Prepare(ctx) })
		if r := pc.Recovered(); r != nil {
			err = r.AsError()
		}
		b.result <- err
	})
	return nil
}

// Poll reports without blocking whether the native build is loaded. A
// failed build returns a *BackgroundCompileError, on this and every later
// poll.
func (b *Background) Poll() (bool, error) {
	switch {
	case b.switched:
		return true, nil
	case b.fatal != nil:
		return false, b.fatal
	case !b.started:
		return false, nil
	}
	select {
	case err := <-b.result:
		if err != nil {
			b.fatal = &BackgroundCompileError{Module: b.ext.name, Err: err}
			return false, b.fatal
		}
		b.switched = true
		return true, nil
	default:
		return false, nil
	}
}

// Done is closed when the worker finished, successfully or not. It is nil
// before Start.
func (b *Background) Done() <-chan struct{} {
	return b.done
}

// Wait blocks until the worker exits.
func (b *Background) Wait() {
	b.wg.Wait()
}
