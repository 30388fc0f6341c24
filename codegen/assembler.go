package codegen

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/thiremani/cexi/cxrt"
	"golang.org/x/crypto/blake2b"
)

// RevisionSize is the digest size in bytes of the fingerprint. Seven bytes
// keep the value well inside a non-negative int64.
const RevisionSize = 7

// CollisionError reports two units, or a unit and a generated symbol, that
// would define the same C name.
type CollisionError struct {
	Module string
	Name   string
}

func (e *CollisionError) Error() string {
	return fmt.Sprintf("module %s: name %q is already declared", e.Module, e.Name)
}

// Assembler owns the ordered units of one extension and renders them into a
// single translation unit.
type Assembler struct {
	name  string
	units []Unit
	taken map[string]struct{}
	memo  *rendered
}

type rendered struct {
	code            string
	methodTable     string
	definition      string
	withoutRevision string
	revision        uint64
	source          string
}

// NewAssembler returns an empty assembler for module name. The name is
// assumed valid.
func NewAssembler(name string) *Assembler {
	a := &Assembler{name: name, taken: map[string]struct{}{}}
	for _, n := range []string{a.ErrorName(), a.MethodTableName(), a.ModuleDefName(), a.InitName()} {
		a.taken[n] = struct{}{}
	}
	return a
}

func (a *Assembler) Name() string            { return a.name }
func (a *Assembler) ErrorName() string       { return Capitalize(a.name) + "Error" }
func (a *Assembler) MethodTableName() string { return Capitalize(a.name) + "Methods" }
func (a *Assembler) ModuleDefName() string   { return a.name + "module" }

// InitName is the exported symbol the loader calls.
func (a *Assembler) InitName() string { return InitSymbol(a.name) }

// InitSymbol returns the initializer symbol for module name.
func InitSymbol(name string) string { return "cxinit_" + name }

// Units returns the units in declaration order.
func (a *Assembler) Units() []Unit {
	return append([]Unit(nil), a.units...)
}

// Taken reports whether name is already declared or generated.
func (a *Assembler) Taken(name string) bool {
	_, ok := a.taken[name]
	return ok
}

// Symbols returns every C name u defines: its own and its helpers.
func Symbols(u Unit) []string {
	var names []string
	if name := u.Name(); name != "" {
		names = append(names, name)
	}
	if h, ok := u.(interface{ Helpers() []string }); ok {
		names = append(names, h.Helpers()...)
	}
	return names
}

// Add appends u. None of the names u defines may collide with earlier ones;
// on a collision nothing is reserved.
func (a *Assembler) Add(u Unit) error {
	names := Symbols(u)
	for _, name := range names {
		if _, dup := a.taken[name]; dup {
			return &CollisionError{Module: a.name, Name: name}
		}
	}
	for _, name := range names {
		a.taken[name] = struct{}{}
	}
	a.units = append(a.units, u)
	a.memo = nil
	return nil
}

// Exported returns the units that get a method table entry.
func (a *Assembler) Exported() []Exported {
	var out []Exported
	for _, u := range a.units {
		if e, ok := u.(Exported); ok {
			out = append(out, e)
		}
	}
	return out
}

func (a *Assembler) render() (*rendered, error) {
	if a.memo != nil {
		return a.memo, nil
	}

	fragments := make([]string, 0, len(a.units))
	for _, u := range a.units {
		frag, err := u.Render()
		if err != nil {
			if u.Name() != "" {
				return nil, fmt.Errorf("render %s %s: %w", u.Kind(), u.Name(), err)
			}
			return nil, fmt.Errorf("render %s: %w", u.Kind(), err)
		}
		fragments = append(fragments, frag)
	}

	var entries []string
	for _, e := range a.Exported() {
		entries = append(entries, e.TableEntry())
	}
	table, err := execute("method_table", map[string]any{"Name": a.MethodTableName(), "Entries": entries})
	if err != nil {
		return nil, err
	}
	definition, err := execute("module_definition", map[string]any{
		"Module": a.ModuleDefName(),
		"Name":   a.name,
		"Table":  a.MethodTableName(),
	})
	if err != nil {
		return nil, err
	}

	r := &rendered{
		code:        strings.Join(fragments, "\n\n\n"),
		methodTable: table,
		definition:  definition,
	}
	if r.withoutRevision, err = a.source(r, false, 0); err != nil {
		return nil, err
	}
	r.revision = Fingerprint(r.withoutRevision)
	if r.source, err = a.source(r, true, r.revision); err != nil {
		return nil, err
	}
	a.memo = r
	return r, nil
}

func (a *Assembler) source(r *rendered, withRevision bool, revision uint64) (string, error) {
	header, err := execute("header", map[string]any{"ABI": cxrt.ShortHash()})
	if err != nil {
		return "", err
	}
	errorDecl, err := execute("error", a.ErrorName())
	if err != nil {
		return "", err
	}
	init, err := execute("module_init", map[string]any{
		"Name":         a.name,
		"Module":       a.ModuleDefName(),
		"Error":        a.ErrorName(),
		"WithRevision": withRevision,
		"Revision":     revision,
	})
	if err != nil {
		return "", err
	}
	return execute("module", map[string]any{
		"Header":           header,
		"Error":            errorDecl,
		"Code":             r.code,
		"MethodTable":      r.methodTable,
		"ModuleDefinition": r.definition,
		"ModuleInit":       init,
	})
}

// Render returns the full source, revision included.
func (a *Assembler) Render() (string, error) {
	r, err := a.render()
	if err != nil {
		return "", err
	}
	return r.source, nil
}

// RenderWithoutRevision returns the source the fingerprint is computed over.
func (a *Assembler) RenderWithoutRevision() (string, error) {
	r, err := a.render()
	if err != nil {
		return "", err
	}
	return r.withoutRevision, nil
}

// Revision returns the fingerprint of the current declarations.
func (a *Assembler) Revision() (uint64, error) {
	r, err := a.render()
	if err != nil {
		return 0, err
	}
	return r.revision, nil
}

// Fingerprint hashes source with blake2b and returns the digest as an
// unsigned integer.
func Fingerprint(source string) uint64 {
	h, err := blake2b.New(RevisionSize, nil)
	if err != nil {
		// only fails for sizes outside 1..64
		panic(err)
	}
	h.Write([]byte(source))
	var buf [8]byte
	copy(buf[8-RevisionSize:], h.Sum(nil))
	return binary.BigEndian.Uint64(buf[:])
}
