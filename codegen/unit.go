package codegen

import (
	"fmt"
	"strings"

	"github.com/thiremani/cexi/types"
)

// Kind tells the unit variants apart.
type Kind int

const (
	KindBlock Kind = iota
	KindNative
	KindManaged
	KindCapture
	KindDispatch
)

func (k Kind) String() string {
	switch k {
	case KindBlock:
		return "block"
	case KindNative:
		return "native"
	case KindManaged:
		return "managed"
	case KindCapture:
		return "capture"
	case KindDispatch:
		return "dispatch"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Param is one named, typed parameter.
type Param struct {
	Name string
	Type types.Name
}

// P is shorthand for a Param literal.
func P(name string, t types.Name) Param {
	return Param{Name: name, Type: t}
}

// Signature is the authored signature of a function. A nil Returns means the
// return annotation is absent and the variant default applies; an empty
// non-nil slice, or a single void, declares no value.
type Signature struct {
	Params  []Param
	Returns []types.Name
}

// Sig builds a Signature.
func Sig(params []Param, returns ...types.Name) Signature {
	return Signature{Params: params, Returns: returns}
}

func (s Signature) names() []string {
	out := make([]string, len(s.Params))
	for i, p := range s.Params {
		out[i] = p.Name
	}
	return out
}

func (s Signature) paramTypes() []types.Name {
	out := make([]types.Name, len(s.Params))
	for i, p := range s.Params {
		out[i] = p.Type
	}
	return out
}

// returnsOr resolves the variant default for an absent annotation and drops
// void, so the result lists the values actually produced.
func (s Signature) returnsOr(def types.Name) []types.Name {
	if s.Returns == nil {
		return []types.Name{def}
	}
	out := make([]types.Name, 0, len(s.Returns))
	for _, r := range s.Returns {
		if !types.IsVoid(r) {
			out = append(out, r)
		}
	}
	return out
}

// reservedLocals are names the generated wrappers declare next to the
// parameters.
var reservedLocals = map[string]bool{"self": true, "args": true, "result": true, "temp": true}

func (s Signature) validate() error {
	seen := make(map[string]struct{}, len(s.Params))
	for _, p := range s.Params {
		if err := ValidateIdentifier(p.Name); err != nil {
			return fmt.Errorf("parameter: %w", err)
		}
		if reservedLocals[p.Name] {
			return fmt.Errorf("parameter %q is reserved by the generated wrapper", p.Name)
		}
		if _, dup := seen[p.Name]; dup {
			return fmt.Errorf("duplicate parameter %q", p.Name)
		}
		seen[p.Name] = struct{}{}
		if _, ok := types.Lookup(p.Type); !ok {
			return &types.LookupError{Name: p.Type}
		}
	}
	for _, r := range s.Returns {
		if _, ok := types.Lookup(r); !ok {
			return &types.LookupError{Name: r}
		}
	}
	return nil
}

// Unit is one declaration of an extension: a block of code or a function.
type Unit interface {
	// Name is the C symbol the unit defines; blocks have none.
	Name() string
	Kind() Kind
	// Render returns the C fragment for the unit.
	Render() (string, error)
}

// Exported units get an entry in the module method table.
type Exported interface {
	Unit
	Doc() string
	TableEntry() string
}

// zipDecl pairs declarations and names: "int a, int b", or "void" when empty.
func zipDecl(decls, names []string) string {
	if len(names) == 0 {
		return "void"
	}
	pairs := make([]string, len(names))
	for i := range names {
		pairs[i] = declare(decls[i], names[i])
	}
	return strings.Join(pairs, ", ")
}

// declare glues a declaration and a name, without a space after a pointer star.
func declare(decl, name string) string {
	if strings.HasSuffix(decl, "*") {
		return decl + name
	}
	return decl + " " + name
}

func tableEntry(name, doc string) string {
	return fmt.Sprintf(`{"%s", %s, CX_METH_VARARGS, %s}`, name, name, Quote(doc))
}

// Block is raw C code copied into the module, e.g. includes or helpers.
type Block struct {
	body string
}

// NewBlock returns a Block for body.
func NewBlock(body string) *Block {
	return &Block{body: body}
}

func (b *Block) Name() string { return "" }
func (b *Block) Kind() Kind   { return KindBlock }

func (b *Block) Render() (string, error) {
	return strings.TrimSpace(b.body), nil
}

// NativeFunction is a plain C function, visible to later units but not
// exported to Go.
type NativeFunction struct {
	name string
	sig  Signature
	body string
}

// NewNativeFunction validates the declaration and returns the unit.
func NewNativeFunction(name string, sig Signature, body string) (*NativeFunction, error) {
	if err := ValidateIdentifier(name); err != nil {
		return nil, err
	}
	if err := sig.validate(); err != nil {
		return nil, fmt.Errorf("function %s: %w", name, err)
	}
	if len(sig.returnsOr(types.Int)) > 1 {
		return nil, fmt.Errorf("function %s: native functions return at most one value", name)
	}
	return &NativeFunction{name: name, sig: sig, body: body}, nil
}

func (f *NativeFunction) Name() string         { return f.name }
func (f *NativeFunction) Kind() Kind           { return KindNative }
func (f *NativeFunction) Signature() Signature { return f.sig }

func (f *NativeFunction) Render() (string, error) {
	ret := types.Void
	if rs := f.sig.returnsOr(types.Int); len(rs) == 1 {
		ret = rs[0]
	}
	retDecl, err := types.ToDeclaration(ret)
	if err != nil {
		return "", err
	}
	decls, err := types.Declarations(f.sig.paramTypes())
	if err != nil {
		return "", err
	}
	return execute("function", map[string]any{
		"Prefix": "",
		"Return": retDecl,
		"Name":   f.name,
		"Params": zipDecl(decls, f.sig.names()),
		"Body":   indent(f.body),
	})
}

// ManagedFunction is callable from Go through the fixed calling convention
// cx_object* f(cx_object* self, cx_object* args).
type ManagedFunction struct {
	name string
	sig  Signature
	body string
	doc  string
	raw  bool
}

// NewManagedFunction returns a managed function whose arguments are unpacked
// per sig before body runs.
func NewManagedFunction(name string, sig Signature, body, doc string) (*ManagedFunction, error) {
	if err := ValidateIdentifier(name); err != nil {
		return nil, err
	}
	if err := sig.validate(); err != nil {
		return nil, fmt.Errorf("function %s: %w", name, err)
	}
	return &ManagedFunction{name: name, sig: sig, body: body, doc: doc}, nil
}

// NewRawFunction returns a managed function whose body receives self and
// args untouched and parses them itself.
func NewRawFunction(name, body, doc string) (*ManagedFunction, error) {
	if err := ValidateIdentifier(name); err != nil {
		return nil, err
	}
	return &ManagedFunction{name: name, body: body, doc: doc, raw: true}, nil
}

func (f *ManagedFunction) Name() string         { return f.name }
func (f *ManagedFunction) Kind() Kind           { return KindManaged }
func (f *ManagedFunction) Doc() string          { return f.doc }
func (f *ManagedFunction) Raw() bool            { return f.raw }
func (f *ManagedFunction) Signature() Signature { return f.sig }

// Helpers returns the extra C symbols the rendered function defines.
func (f *ManagedFunction) Helpers() []string {
	if f.raw {
		return nil
	}
	return []string{"__folded_" + f.name, "__pack_" + f.name}
}

func (f *ManagedFunction) TableEntry() string {
	return tableEntry(f.name, f.doc)
}

func (f *ManagedFunction) Render() (string, error) {
	if f.raw {
		return execute("raw", map[string]any{"Name": f.name, "Body": indent(f.body)})
	}
	unpack, err := f.unpack()
	if err != nil {
		return "", err
	}
	returns := f.sig.returnsOr(types.Object)
	if len(returns) > 1 {
		return f.renderMulti(unpack, returns)
	}

	retDecl := "void"
	call := fmt.Sprintf("__folded_%s(%s)", f.name, strings.Join(f.sig.names(), ", "))
	var tail string
	switch {
	case len(returns) == 0:
		tail = fmt.Sprintf("%s%s;\n%sreturn cx_none();", tab, call, tab)
	case types.IsObject(returns[0]):
		retDecl, _ = types.ToDeclaration(returns[0])
		tail = fmt.Sprintf("%sreturn %s;", tab, call)
	default:
		if retDecl, err = types.ToDeclaration(returns[0]); err != nil {
			return "", err
		}
		code, err := types.ToFormat(returns[0])
		if err != nil {
			return "", fmt.Errorf("function %s: %w", f.name, err)
		}
		tail = fmt.Sprintf(`%sreturn cx_build_value("%s", %s);`, tab, code, call)
	}

	decls, err := types.Declarations(f.sig.paramTypes())
	if err != nil {
		return "", err
	}
	return execute("managed", map[string]any{
		"Return": retDecl,
		"Name":   f.name,
		"Params": zipDecl(decls, f.sig.names()),
		"Body":   indent(f.body),
		"Unpack": unpack,
		"Tail":   tail,
	})
}

func (f *ManagedFunction) renderMulti(unpack map[string]any, returns []types.Name) (string, error) {
	outNames, err := GenerateNames(len(returns), f.sig.names())
	if err != nil {
		return "", err
	}
	outDecls, err := types.Declarations(returns)
	if err != nil {
		return "", err
	}
	format, err := types.FormatString(returns)
	if err != nil {
		return "", fmt.Errorf("function %s: %w", f.name, err)
	}
	return execute("managed_multi", map[string]any{
		"Name":       f.name,
		"PackParams": zipDecl(outDecls, outNames),
		"PackFormat": format,
		"PackNames":  outNames,
		"Unpack":     unpack,
		"Body":       indent(f.body),
	})
}

func (f *ManagedFunction) unpack() (map[string]any, error) {
	decls, err := types.Declarations(f.sig.paramTypes())
	if err != nil {
		return nil, err
	}
	format, err := types.FormatString(f.sig.paramTypes())
	if err != nil {
		return nil, fmt.Errorf("function %s: %w", f.name, err)
	}
	names := f.sig.names()
	locals := make([]string, len(names))
	for i := range names {
		init := ""
		if strings.HasSuffix(decls[i], "*") {
			init = " = NULL"
		}
		locals[i] = declare(decls[i], names[i]) + init
	}
	return map[string]any{
		"Locals": locals,
		"Format": format + ":" + f.name,
		"Refs":   names,
	}, nil
}

// Capture is the native entry point Go calls once to hand a callback over.
// It owns the static slot the paired Dispatch reads.
type Capture struct {
	fn     string
	module string
}

// NewCapture returns the capture unit for function fn of module.
func NewCapture(fn, module string) (*Capture, error) {
	if err := ValidateIdentifier(fn); err != nil {
		return nil, err
	}
	return &Capture{fn: fn, module: module}, nil
}

func (c *Capture) Name() string     { return fmt.Sprintf("__capture_%s_from_%s", c.fn, c.module) }
func (c *Capture) Slot() string     { return fmt.Sprintf("__captured_%s_from_%s", c.fn, c.module) }
func (c *Capture) Function() string { return c.fn }
func (c *Capture) Kind() Kind       { return KindCapture }
func (c *Capture) Doc() string      { return "" }

func (c *Capture) Helpers() []string { return []string{c.Slot()} }

func (c *Capture) TableEntry() string {
	return tableEntry(c.Name(), "")
}

func (c *Capture) Render() (string, error) {
	return execute("capture", map[string]any{"Name": c.Name(), "Slot": c.Slot()})
}

// Dispatch is the C function native code calls to reach the captured Go
// callback. It returns 0 on success, 1 when nothing was captured, 2 when the
// callback failed and 3 when its result did not match the out parameters.
type Dispatch struct {
	name    string
	sig     Signature
	capture *Capture
}

// NewDispatch returns the dispatch stub paired with capture.
func NewDispatch(sig Signature, capture *Capture) (*Dispatch, error) {
	name := capture.Function()
	if err := sig.validate(); err != nil {
		return nil, fmt.Errorf("function %s: %w", name, err)
	}
	return &Dispatch{name: name, sig: sig, capture: capture}, nil
}

func (d *Dispatch) Name() string         { return d.name }
func (d *Dispatch) Kind() Kind           { return KindDispatch }
func (d *Dispatch) Capture() *Capture    { return d.capture }
func (d *Dispatch) Signature() Signature { return d.sig }

// Returns lists the values the callback must produce.
func (d *Dispatch) Returns() []types.Name {
	return d.sig.returnsOr(types.Int)
}

func (d *Dispatch) Render() (string, error) {
	inTypes := d.sig.paramTypes()
	outTypes := d.Returns()

	inNames := d.sig.names()
	outNames, err := GenerateNames(len(outTypes), inNames)
	if err != nil {
		return "", err
	}
	inDecls, err := types.Declarations(inTypes)
	if err != nil {
		return "", err
	}
	outDecls, err := types.Declarations(outTypes)
	if err != nil {
		return "", err
	}
	inFormat, err := types.FormatString(inTypes)
	if err != nil {
		return "", fmt.Errorf("function %s: %w", d.name, err)
	}
	outFormat, err := types.FormatString(outTypes)
	if err != nil {
		return "", fmt.Errorf("function %s: %w", d.name, err)
	}

	decls := append([]string(nil), inDecls...)
	for _, decl := range outDecls {
		decls = append(decls, types.Pointer(decl))
	}
	names := append(append([]string(nil), inNames...), outNames...)

	return execute("dispatch", map[string]any{
		"Name":      d.name,
		"Params":    zipDecl(decls, names),
		"Slot":      d.capture.Slot(),
		"InFormat":  inFormat,
		"InNames":   inNames,
		"OutFormat": outFormat + ":" + d.name,
		"OutNames":  outNames,
		// strings and objects parsed out of result borrow from it
		"Release": !strings.ContainsAny(outFormat, "sO"),
	})
}
