package toolchain

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBaseFlagsDefaultPortable(t *testing.T) {
	t.Setenv(MarchEnv, "")

	flags := New("cc").BaseFlags()

	assert.Contains(t, flags, OptLevel)
	assert.Contains(t, flags, CStd)
	assert.False(t, slices.ContainsFunc(flags, func(f string) bool { return strings.HasPrefix(f, "-march=") }),
		"expected portable default without -march, got %v", flags)
}

func TestBaseFlagsMarch(t *testing.T) {
	tests := []struct {
		env  string
		want string
	}{
		{"x86-64", "-march=x86-64"},
		{"-march=native", "-march=native"},
		{"  znver3 ", "-march=znver3"},
	}
	for _, tt := range tests {
		t.Run(tt.env, func(t *testing.T) {
			t.Setenv(MarchEnv, tt.env)
			assert.Contains(t, New("cc").BaseFlags(), tt.want)
		})
	}
}

func TestBaseFlagsIncludesAndExtras(t *testing.T) {
	t.Setenv(MarchEnv, "")
	cc := New("cc")
	cc.OptLevel = "-O0"
	cc.Includes = []string{"/rt"}
	cc.Flags = []string{"-Wall"}
	assert.Equal(t, []string{"-O0", CStd, "-I", "/rt", "-Wall"}, cc.BaseFlags())
}

func TestDefaultCompiler(t *testing.T) {
	t.Setenv("CC", "")
	assert.Equal(t, "cc", DefaultCompiler())
	assert.Equal(t, "cc", New("").Path)
	t.Setenv("CC", "clang")
	assert.Equal(t, "clang", New("").Path)
	assert.Equal(t, "gcc", New("gcc").Path)
}

func TestLibraryFilename(t *testing.T) {
	got := LibraryFilename("mix")
	switch runtime.GOOS {
	case OSWindows:
		assert.Equal(t, "mix.dll", got)
	case OSDarwin:
		assert.Equal(t, "libmix.dylib", got)
	default:
		assert.Equal(t, "libmix.so", got)
	}
}

// fakeCompiler writes a shell script that logs its arguments and creates
// whatever -o names.
func fakeCompiler(t *testing.T, fail bool) (path, logFile string) {
	t.Helper()
	if runtime.GOOS == OSWindows {
		t.Skip("shell script compiler needs a POSIX shell")
	}
	dir := t.TempDir()
	logFile = filepath.Join(dir, "args.log")
	script := "#!/bin/sh\necho \"$@\" >> " + logFile + "\n"
	if fail {
		script += "echo 'mix.c:1: error: expected expression' >&2\nexit 1\n"
	} else {
		script += "out=\"\"\nwhile [ $# -gt 0 ]; do\n  if [ \"$1\" = \"-o\" ]; then out=\"$2\"; fi\n  shift\ndone\n: > \"$out\"\n"
	}
	path = filepath.Join(dir, "fakecc")
	require.NoError(t, os.WriteFile(path, []byte(script), 0755))
	return path, logFile
}

func TestCompileSteps(t *testing.T) {
	t.Setenv(MarchEnv, "")
	path, logFile := fakeCompiler(t, false)
	out := t.TempDir()

	cc := New(path)
	cc.Includes = []string{"/rt"}
	lib, err := cc.Compile(context.Background(), CompileRequest{Name: "mix", Source: "int x;", OutDir: out, PostArgs: []string{"-lm"}})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(out, LibraryFilename("mix")), lib)
	assert.FileExists(t, lib)

	src, err := os.ReadFile(filepath.Join(out, "mix.c"))
	require.NoError(t, err)
	assert.Equal(t, "int x;", string(src))

	data, err := os.ReadFile(logFile)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "-O2 -std=c11 -I /rt -fPIC -c "+filepath.Join(out, "mix.c")+" -o "+filepath.Join(out, "mix.o")+" -lm", lines[0])
	assert.Equal(t, "-shared -fPIC "+filepath.Join(out, "mix.o")+" -o "+lib+" -lm", lines[1])
}

func TestCompileCustomizer(t *testing.T) {
	t.Setenv(MarchEnv, "")
	path, logFile := fakeCompiler(t, false)

	cc := New(path)
	_, err := cc.Compile(context.Background(), CompileRequest{
		Name:    "mix",
		Source:  "",
		OutDir:  t.TempDir(),
		PreArgs: []string{},
		Customize: func(c *CC, pre, post *[]string) {
			c.OptLevel = "-O0"
			c.Flags = append(c.Flags, "-g")
			*pre = append(*pre, "-DMIX=1")
			*post = append(*post, "-lpthread")
		},
	})
	require.NoError(t, err)

	data, err := os.ReadFile(logFile)
	require.NoError(t, err)
	first := strings.Split(string(data), "\n")[0]
	assert.True(t, strings.HasPrefix(first, "-O0 -std=c11 -g -DMIX=1 -c "), first)
	assert.True(t, strings.HasSuffix(first, "-lpthread"), first)
	assert.NotContains(t, first, FPIC, "explicit empty pre args drop the default")

	// the hook worked on a copy
	assert.Equal(t, OptLevel, cc.OptLevel)
	assert.Empty(t, cc.Flags)
}

func TestCompileError(t *testing.T) {
	path, _ := fakeCompiler(t, true)

	_, err := New(path).Compile(context.Background(), CompileRequest{Name: "mix", Source: "int x = ;", OutDir: t.TempDir()})
	var cerr *CompileError
	require.True(t, errors.As(err, &cerr), "got %v", err)
	assert.Equal(t, "mix", cerr.Module)
	assert.Equal(t, "compile", cerr.Step)
	assert.Contains(t, cerr.Output, "expected expression")
	assert.Contains(t, err.Error(), "expected expression")
}

func TestCompileMissingCompiler(t *testing.T) {
	cc := New(filepath.Join(t.TempDir(), "no-such-cc"))
	assert.False(t, cc.Available())
	_, err := cc.Compile(context.Background(), CompileRequest{Name: "mix", OutDir: t.TempDir()})
	var cerr *CompileError
	assert.True(t, errors.As(err, &cerr))
}

func TestCompileRealCompiler(t *testing.T) {
	cc := New("")
	if !cc.Available() {
		t.Skipf("no C compiler %q on PATH", cc.Path)
	}
	lib, err := cc.Compile(context.Background(), CompileRequest{
		Name:   "plain",
		Source: "int plain_add(int a, int b) { return a + b; }\n",
		OutDir: t.TempDir(),
	})
	require.NoError(t, err)
	assert.FileExists(t, lib)
}

func TestRuntimeHeaderStrictC11(t *testing.T) {
	cc := New("")
	if !cc.Available() {
		t.Skipf("no C compiler %q on PATH", cc.Path)
	}
	inc, err := PrepareRuntime(t.TempDir(), nil)
	require.NoError(t, err)
	cc.Includes = append(cc.Includes, inc)
	cc.Flags = []string{"-Wall", "-Werror=implicit-function-declaration", "-Werror=int-conversion"}

	lib, err := cc.Compile(context.Background(), CompileRequest{
		Name:   "strict",
		Source: "#include \"cexi.h\"\n\nint strict_len(void) { return (int)cx_as_str(cx_new_str(\"abc\"))[0]; }\n",
		OutDir: t.TempDir(),
	})
	require.NoError(t, err)
	assert.FileExists(t, lib)
}
