package codegen

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/thiremani/cexi/cxrt"
	"github.com/thiremani/cexi/types"
)

type declaration func(a *Assembler) error

func native(name string, sig Signature, body string) declaration {
	return func(a *Assembler) error {
		f, err := NewNativeFunction(name, sig, body)
		if err != nil {
			return err
		}
		return a.Add(f)
	}
}

func managed(name string, sig Signature, body string) declaration {
	return func(a *Assembler) error {
		f, err := NewManagedFunction(name, sig, body, "")
		if err != nil {
			return err
		}
		return a.Add(f)
	}
}

func reverse(name, module string, sig Signature) declaration {
	return func(a *Assembler) error {
		c, err := NewCapture(name, module)
		if err != nil {
			return err
		}
		d, err := NewDispatch(sig, c)
		if err != nil {
			return err
		}
		if err := a.Add(c); err != nil {
			return err
		}
		return a.Add(d)
	}
}

func build(t *testing.T, name string, decls ...declaration) *Assembler {
	t.Helper()
	a := NewAssembler(name)
	for _, d := range decls {
		require.NoError(t, d(a))
	}
	return a
}

func revision(t *testing.T, a *Assembler) uint64 {
	t.Helper()
	r, err := a.Revision()
	require.NoError(t, err)
	return r
}

var ints = []Param{P("left", types.Int), P("right", types.Int)}

func TestAssemblerRender(t *testing.T) {
	a := build(t, "mix",
		native("add", Sig(ints), "return left + right;"),
		managed("add2", Sig([]Param{P("right", types.Int)}, types.Int), "return add(2, right);"),
	)
	src, err := a.Render()
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(src, `#define CX_RUNTIME_ABI "`+cxrt.ShortHash()+"\"\n#include \"cexi.h\""))
	assert.Contains(t, src, "static cx_object* MixError;")
	assert.Contains(t, src, "static cx_method_def MixMethods[] = {\n    {\"add2\", add2, CX_METH_VARARGS, NULL},\n    {NULL, NULL, 0, NULL}\n};")
	assert.Contains(t, src, "static cx_module_def mixmodule = {\n    \"mix\",")
	assert.Contains(t, src, "CX_EXPORT cx_module*\ncxinit_mix(void)")
	assert.Contains(t, src, `MixError = cx_err_new_exception("mix.error");`)

	rev := revision(t, a)
	assert.Contains(t, src, "#define CX_CODE_REVISION ")
	assert.Contains(t, src, "cx_module_set_revision(m, CX_CODE_REVISION);")
	assert.True(t, strings.Contains(src, "ULL"))
	assert.Less(t, strings.Index(src, "int\nadd("), strings.Index(src, "__folded_add2"), "units keep declaration order")
	assert.NotZero(t, rev)
}

func TestRenderWithoutRevision(t *testing.T) {
	a := build(t, "mix", native("add", Sig(ints), "return left + right;"))
	plain, err := a.RenderWithoutRevision()
	require.NoError(t, err)
	assert.NotContains(t, plain, "CX_CODE_REVISION")
	assert.Equal(t, Fingerprint(plain), revision(t, a))

	full, err := a.Render()
	require.NoError(t, err)
	assert.NotEqual(t, plain, full)
}

func TestFingerprintDeterministic(t *testing.T) {
	decls := []declaration{
		native("add", Sig(ints), "return left + right;"),
		managed("add2", Sig([]Param{P("right", types.Int)}, types.Int), "return add(2, right);"),
		reverse("cb", "mix", Sig(ints, types.Int)),
	}
	a := build(t, "mix", decls...)
	b := build(t, "mix", decls...)

	srcA, err := a.Render()
	require.NoError(t, err)
	srcB, err := b.Render()
	require.NoError(t, err)
	assert.Equal(t, srcA, srcB)
	assert.Equal(t, revision(t, a), revision(t, b))
	assert.Equal(t, revision(t, a), revision(t, a), "memoized")
}

func TestFingerprintChanges(t *testing.T) {
	base := revision(t, build(t, "mix",
		native("add", Sig(ints), "return left + right;"),
		managed("add2", Sig([]Param{P("right", types.Int)}, types.Int), "return add(2, right);"),
	))

	tests := []struct {
		name   string
		module string
		decls  []declaration
	}{
		{"body", "mix", []declaration{
			native("add", Sig(ints), "return left - right;"),
			managed("add2", Sig([]Param{P("right", types.Int)}, types.Int), "return add(2, right);"),
		}},
		{"module name", "mix2", []declaration{
			native("add", Sig(ints), "return left + right;"),
			managed("add2", Sig([]Param{P("right", types.Int)}, types.Int), "return add(2, right);"),
		}},
		{"function name", "mix", []declaration{
			native("plus", Sig(ints), "return left + right;"),
			managed("add2", Sig([]Param{P("right", types.Int)}, types.Int), "return plus(2, right);"),
		}},
		{"parameter type", "mix", []declaration{
			native("add", Sig([]Param{P("left", types.Long), P("right", types.Int)}), "return left + right;"),
			managed("add2", Sig([]Param{P("right", types.Int)}, types.Int), "return add(2, right);"),
		}},
		{"return type", "mix", []declaration{
			native("add", Sig(ints), "return left + right;"),
			managed("add2", Sig([]Param{P("right", types.Int)}, types.Long), "return add(2, right);"),
		}},
		{"order", "mix", []declaration{
			managed("add2", Sig([]Param{P("right", types.Int)}, types.Int), "return add(2, right);"),
			native("add", Sig(ints), "return left + right;"),
		}},
		{"extra unit", "mix", []declaration{
			native("add", Sig(ints), "return left + right;"),
			managed("add2", Sig([]Param{P("right", types.Int)}, types.Int), "return add(2, right);"),
			func(a *Assembler) error { return a.Add(NewBlock("/* note */")) },
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := revision(t, build(t, tt.module, tt.decls...))
			assert.NotEqual(t, base, got)
		})
	}
}

func TestAddResetsMemo(t *testing.T) {
	a := build(t, "mix", native("add", Sig(ints), "return left + right;"))
	before := revision(t, a)
	require.NoError(t, managed("add2", Sig([]Param{P("right", types.Int)}, types.Int), "return add(2, right);")(a))
	assert.NotEqual(t, before, revision(t, a))
	assert.Len(t, a.Units(), 2)
	assert.Len(t, a.Exported(), 1)
}

func TestAssemblerCollisions(t *testing.T) {
	tests := []struct {
		name  string
		decls []declaration
		clash string
	}{
		{"same function twice", []declaration{
			native("add", Sig(ints), ""),
			managed("add", Sig(ints), ""),
		}, "add"},
		{"error symbol", []declaration{native("MixError", Sig(nil), "")}, "MixError"},
		{"method table", []declaration{native("MixMethods", Sig(nil), "")}, "MixMethods"},
		{"init symbol", []declaration{native("cxinit_mix", Sig(nil), "")}, "cxinit_mix"},
		{"reverse twice", []declaration{
			reverse("cb", "mix", Sig(nil)),
			reverse("cb", "mix", Sig(nil)),
		}, "__capture_cb_from_mix"},
		{"folded helper after managed", []declaration{
			managed("add2", Sig(ints), ""),
			native("__folded_add2", Sig(nil), ""),
		}, "__folded_add2"},
		{"pack helper before managed", []declaration{
			native("__pack_pair", Sig(nil), ""),
			managed("pair", Sig(ints, types.Int, types.Int), ""),
		}, "__pack_pair"},
		{"capture slot", []declaration{
			reverse("cb", "mix", Sig(nil)),
			native("__captured_cb_from_mix", Sig(nil), ""),
		}, "__captured_cb_from_mix"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := NewAssembler("mix")
			var err error
			for _, d := range tt.decls {
				if err = d(a); err != nil {
					break
				}
			}
			var cerr *CollisionError
			require.True(t, errors.As(err, &cerr), "got %v", err)
			assert.Equal(t, tt.clash, cerr.Name)
			assert.Equal(t, "mix", cerr.Module)
		})
	}
}

func TestCollisionReservesNothing(t *testing.T) {
	a := build(t, "mix", native("__pack_pair", Sig(nil), ""))
	f, err := NewManagedFunction("pair", Sig(ints, types.Int, types.Int), "", "")
	require.NoError(t, err)
	require.Error(t, a.Add(f))

	assert.False(t, a.Taken("pair"))
	assert.False(t, a.Taken("__folded_pair"))
	assert.Len(t, a.Units(), 1)
}

func TestSymbols(t *testing.T) {
	f, err := NewManagedFunction("add2", Sig(ints), "", "")
	require.NoError(t, err)
	assert.Equal(t, []string{"add2", "__folded_add2", "__pack_add2"}, Symbols(f))

	raw, err := NewRawFunction("fail", "", "")
	require.NoError(t, err)
	assert.Equal(t, []string{"fail"}, Symbols(raw))

	c, err := NewCapture("cb", "mix")
	require.NoError(t, err)
	assert.Equal(t, []string{"__capture_cb_from_mix", "__captured_cb_from_mix"}, Symbols(c))
	assert.Empty(t, Symbols(NewBlock("int x;")))
}

func TestBlocksNeverCollide(t *testing.T) {
	a := NewAssembler("mix")
	require.NoError(t, a.Add(NewBlock("#include <math.h>")))
	require.NoError(t, a.Add(NewBlock("#include <math.h>")))
	assert.Len(t, a.Units(), 2)
}

func TestRenderErrorNamesUnit(t *testing.T) {
	a := build(t, "mix", managed("sized", Sig([]Param{P("n", types.Size)}, types.Int), "return 0;"))
	_, err := a.Render()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "render managed sized")
	_, err = a.Revision()
	assert.Error(t, err)
}

func TestFingerprintRange(t *testing.T) {
	for _, s := range []string{"", "a", strings.Repeat("x", 4096)} {
		f := Fingerprint(s)
		assert.Less(t, f, uint64(1)<<56)
	}
	assert.NotEqual(t, Fingerprint("a"), Fingerprint("b"))
}
