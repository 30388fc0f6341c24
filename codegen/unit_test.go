package codegen

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/thiremani/cexi/types"
)

func TestBlockRender(t *testing.T) {
	out, err := NewBlock("\n  #include <stdio.h>\n").Render()
	require.NoError(t, err)
	assert.Equal(t, "#include <stdio.h>", out)
}

func TestNativeFunctionRender(t *testing.T) {
	f, err := NewNativeFunction("add", Sig([]Param{P("a", types.Int), P("b", types.Int)}), "return a + b;")
	require.NoError(t, err)
	out, err := f.Render()
	require.NoError(t, err)
	assert.Equal(t, "int\nadd(int a, int b)\n{\n    return a + b;\n}", out)
}

func TestNativeFunctionNoParams(t *testing.T) {
	f, err := NewNativeFunction("answer", Sig(nil, types.LongLong), "return 42;")
	require.NoError(t, err)
	out, err := f.Render()
	require.NoError(t, err)
	assert.Equal(t, "long long\nanswer(void)\n{\n    return 42;\n}", out)
}

func TestNativeFunctionPointerParam(t *testing.T) {
	f, err := NewNativeFunction("shout", Sig([]Param{P("msg", types.Str)}, types.Void), `printf("%s\n", msg);`)
	require.NoError(t, err)
	out, err := f.Render()
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "void\nshout(const char *msg)"), out)
}

func TestNativeFunctionRejectsMultipleReturns(t *testing.T) {
	_, err := NewNativeFunction("pair", Sig(nil, types.Int, types.Int), "")
	assert.Error(t, err)
}

func TestManagedFunctionSingleReturn(t *testing.T) {
	f, err := NewManagedFunction("add2", Sig([]Param{P("right", types.Int)}, types.Int), "return add(2, right);", "")
	require.NoError(t, err)
	out, err := f.Render()
	require.NoError(t, err)

	assert.Contains(t, out, "static int\n__folded_add2(int right)\n{\n    return add(2, right);\n}")
	assert.Contains(t, out, "static cx_object*\nadd2(cx_object* self, cx_object* args)")
	assert.Contains(t, out, "    int right;\n")
	assert.Contains(t, out, `if (!cx_parse_tuple(args, "i:add2", &right))`)
	assert.Contains(t, out, `return cx_build_value("i", __folded_add2(right));`)
}

func TestManagedFunctionDefaultsToObject(t *testing.T) {
	f, err := NewManagedFunction("ident", Sig([]Param{P("o", types.Object)}), "cx_incref(o);\nreturn o;", "")
	require.NoError(t, err)
	out, err := f.Render()
	require.NoError(t, err)
	assert.Contains(t, out, "static cx_object*\n__folded_ident(cx_object*o)")
	assert.Contains(t, out, "cx_object*o = NULL;")
	assert.Contains(t, out, "    return __folded_ident(o);")
}

func TestManagedFunctionVoid(t *testing.T) {
	f, err := NewManagedFunction("noop", Sig(nil, types.Void), "", "")
	require.NoError(t, err)
	out, err := f.Render()
	require.NoError(t, err)
	assert.Contains(t, out, "static void\n__folded_noop(void)")
	assert.Contains(t, out, `cx_parse_tuple(args, ":noop")`)
	assert.Contains(t, out, "__folded_noop();\n    return cx_none();")
}

func TestManagedFunctionMultiReturn(t *testing.T) {
	f, err := NewManagedFunction("add_and_mul",
		Sig([]Param{P("a", types.Int), P("b", types.Int)}, types.Int, types.Int),
		"return (a + b, a * b);", "")
	require.NoError(t, err)
	out, err := f.Render()
	require.NoError(t, err)

	// output names skip the parameter names
	assert.Contains(t, out, "__pack_add_and_mul(int c, int d)")
	assert.Contains(t, out, `return cx_build_tuple("ii", c, d);`)
	assert.Contains(t, out, "#define return(...) return __pack_add_and_mul(__VA_ARGS__)\n    return (a + b, a * b);\n#undef return")
	assert.NotContains(t, out, "__folded_")
}

func TestManagedFunctionRaw(t *testing.T) {
	f, err := NewRawFunction("spam_system", "const char *command;\nreturn cx_none();", "run a command")
	require.NoError(t, err)
	out, err := f.Render()
	require.NoError(t, err)
	assert.Equal(t, "static cx_object*\nspam_system(cx_object* self, cx_object* args)\n{\n    const char *command;\n    return cx_none();\n}", out)
	assert.Equal(t, `{"spam_system", spam_system, CX_METH_VARARGS, "run a command"}`, f.TableEntry())
}

func TestManagedFunctionFormatlessParam(t *testing.T) {
	f, err := NewManagedFunction("bad", Sig([]Param{P("n", types.Size)}, types.Int), "return 0;", "")
	require.NoError(t, err)
	_, err = f.Render()
	var lerr *types.LookupError
	require.True(t, errors.As(err, &lerr))
	assert.Equal(t, types.Size, lerr.Name)
}

func TestSignatureValidation(t *testing.T) {
	_, err := NewManagedFunction("f", Sig([]Param{P("a", "complex")}), "", "")
	assert.Error(t, err)
	_, err = NewManagedFunction("f", Sig([]Param{P("a", types.Int), P("a", types.Int)}), "", "")
	assert.ErrorContains(t, err, "duplicate parameter")
	_, err = NewManagedFunction("f", Sig([]Param{P("int", types.Int)}), "", "")
	assert.ErrorContains(t, err, "C keyword")
	_, err = NewManagedFunction("bad name", Sig(nil), "", "")
	assert.ErrorContains(t, err, "invalid character")
}

func TestSignatureRejectsWrapperLocals(t *testing.T) {
	for _, name := range []string{"self", "args", "result", "temp"} {
		t.Run(name, func(t *testing.T) {
			_, err := NewManagedFunction("f", Sig([]Param{P(name, types.Int)}), "", "")
			assert.ErrorContains(t, err, "reserved")

			c, err := NewCapture("cb", "mix")
			require.NoError(t, err)
			_, err = NewDispatch(Sig([]Param{P(name, types.Int)}), c)
			assert.ErrorContains(t, err, "reserved")
		})
	}
}

func TestCaptureRender(t *testing.T) {
	c, err := NewCapture("add", "mix")
	require.NoError(t, err)
	assert.Equal(t, "__capture_add_from_mix", c.Name())
	assert.Equal(t, "__captured_add_from_mix", c.Slot())

	out, err := c.Render()
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "static cx_object* __captured_add_from_mix = NULL;"))
	assert.Contains(t, out, "if (__captured_add_from_mix)\n        return cx_none();")
	assert.Contains(t, out, `cx_parse_tuple(args, "O:__capture_add_from_mix", &temp)`)
	assert.Contains(t, out, "cx_callable_check(temp)")
	assert.Contains(t, out, "__captured_add_from_mix = temp;")
}

func TestDispatchRender(t *testing.T) {
	c, err := NewCapture("add_and_mul", "mix")
	require.NoError(t, err)
	d, err := NewDispatch(Sig([]Param{P("a", types.Int), P("b", types.Int)}, types.Int, types.Int), c)
	require.NoError(t, err)
	out, err := d.Render()
	require.NoError(t, err)

	assert.Contains(t, out, "int\nadd_and_mul(int a, int b, int*c, int*d)")
	assert.Contains(t, out, "if (!__captured_add_and_mul_from_mix)\n        return 1;")
	assert.Contains(t, out, `cx_call_function(__captured_add_and_mul_from_mix, "ii", a, b)`)
	assert.Contains(t, out, "return 2;")
	assert.Contains(t, out, `cx_parse_tuple(result, "ii:add_and_mul", c, d)`)
	assert.Contains(t, out, "return 3;")
	assert.Contains(t, out, "    cx_decref(result);\n    return 0;")
}

func TestDispatchDefaultsAndBorrowedResults(t *testing.T) {
	c, _ := NewCapture("name", "m")
	d, err := NewDispatch(Sig(nil), c)
	require.NoError(t, err)
	assert.Equal(t, []types.Name{types.Int}, d.Returns())
	out, err := d.Render()
	require.NoError(t, err)
	assert.Contains(t, out, "name(int*a)")
	assert.Contains(t, out, `cx_call_function(__captured_name_from_m, "")`)

	d, err = NewDispatch(Sig(nil, types.Str), c)
	require.NoError(t, err)
	out, err = d.Render()
	require.NoError(t, err)
	assert.Contains(t, out, "name(const char **a)")
	assert.NotContains(t, out, "cx_decref(result);\n    return 0;")
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "managed", KindManaged.String())
	assert.Equal(t, "Kind(42)", Kind(42).String())
}
