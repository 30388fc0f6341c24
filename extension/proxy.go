package extension

import (
	"fmt"

	"github.com/thiremani/cexi/codegen"
)

// Attributes a Proxy can report.
const (
	AttrCall     = "call"
	AttrName     = "name"
	AttrDoc      = "doc"
	AttrFlags    = "flags"
	AttrRevision = "revision"
)

// Proxy stands in for a managed function. It looks the function up in the
// loaded module on every use, so a rebuild is seen by the next call.
type Proxy struct {
	ext  *Extension
	name string
}

func (p *Proxy) Name() string { return p.name }

// Extension returns the owning extension.
func (p *Proxy) Extension() *Extension { return p.ext }

func (p *Proxy) lookup(attr string) (SymbolTable, Symbol, error) {
	table := p.ext.table
	if table == nil {
		return nil, nil, &NotInitializedError{Module: p.ext.name}
	}
	sym, ok := table.Lookup(p.name)
	if !ok {
		return nil, nil, &CodeDivergedError{Module: p.ext.name, Member: p.name, Attr: attr}
	}
	return table, sym, nil
}

// Resolve returns the live symbol.
func (p *Proxy) Resolve() (Symbol, error) {
	_, sym, err := p.lookup(AttrCall)
	return sym, err
}

// Invoke resolves the symbol and calls it.
func (p *Proxy) Invoke(args ...any) (any, error) {
	sym, err := p.Resolve()
	if err != nil {
		return nil, err
	}
	return sym.Call(args...)
}

// Attribute returns one attribute of the live symbol.
func (p *Proxy) Attribute(attr string) (any, error) {
	table, sym, err := p.lookup(attr)
	if err != nil {
		return nil, err
	}
	switch attr {
	case AttrName:
		return sym.Name(), nil
	case AttrDoc:
		return sym.Doc(), nil
	case AttrFlags:
		return sym.Flags(), nil
	case AttrRevision:
		if rev, ok := table.Revision(); ok {
			return rev, nil
		}
	}
	return nil, &CodeDivergedError{Module: p.ext.name, Member: p.name, Attr: attr}
}

// ReverseProxy is a Go function native code can call through its dispatch
// stub. The function runs inside the native call, with the loaded artifact
// in use; a Prepare from there that needs a rebuild fails with
// ErrReentrant.
type ReverseProxy struct {
	ext      *Extension
	capture  *codegen.Capture
	dispatch *codegen.Dispatch
	fn       Callback

	activated SymbolTable
}

func (r *ReverseProxy) Name() string { return r.dispatch.Name() }

// CaptureName is the exported entry point that receives the callback.
func (r *ReverseProxy) CaptureName() string { return r.capture.Name() }

// Invoke calls the Go function directly, never through native code.
func (r *ReverseProxy) Invoke(args ...any) (any, error) {
	return r.fn(Tuple(args))
}

// Activated reports whether the loaded artifact holds the callback.
func (r *ReverseProxy) Activated() bool {
	return r.activated != nil && r.activated == r.ext.table
}

// Activate hands the callback to the loaded artifact. It acts once per
// loaded artifact; later calls are no-ops.
func (r *ReverseProxy) Activate() error {
	table := r.ext.table
	if table == nil {
		return &NotInitializedError{Module: r.ext.name}
	}
	if r.activated == table {
		return nil
	}
	sym, ok := table.Lookup(r.capture.Name())
	if !ok {
		return &CodeDivergedError{Module: r.ext.name, Member: r.capture.Name(), Attr: AttrCall}
	}
	if _, err := sym.Call(r.native()); err != nil {
		return fmt.Errorf("activate %s: %w", r.Name(), err)
	}
	r.activated = table
	return nil
}

// native adapts fn to what the dispatch stub unpacks: always a tuple with
// one item per declared return value.
func (r *ReverseProxy) native() Callback {
	n := len(r.dispatch.Returns())
	return func(args Tuple) (any, error) {
		v, err := r.run(args)
		if err != nil {
			return nil, err
		}
		if n == 0 {
			return Tuple{}, nil
		}
		if t, ok := v.(Tuple); ok {
			return t, nil
		}
		return Tuple{v}, nil
	}
}

func (r *ReverseProxy) run(args Tuple) (any, error) {
	r.ext.inCallback.Add(1)
	defer r.ext.inCallback.Add(-1)
	return r.fn(args)
}
