// Package toolchain drives the system C compiler: it turns a rendered
// translation unit into a shared library next to a cached copy of the
// runtime header.
package toolchain

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"slices"
	"strings"

	"github.com/charmbracelet/log"
)

const (
	OptLevel  = "-O2"
	CStd      = "-std=c11"
	FPIC      = "-fPIC"
	Shared    = "-shared"
	ObjSuffix = ".o"
	SrcSuffix = ".c"

	OSWindows = "windows"
	OSDarwin  = "darwin"

	// MarchEnv selects a target CPU, either as a bare name or a full
	// -march= flag. Unset means portable code.
	MarchEnv = "CEXI_MARCH"
)

// DefaultCompiler returns $CC, or "cc".
func DefaultCompiler() string {
	if env := os.Getenv("CC"); env != "" {
		return env
	}
	return "cc"
}

// LibraryFilename is the platform file name of the shared library built for
// module name.
func LibraryFilename(name string) string {
	switch runtime.GOOS {
	case OSWindows:
		return name + ".dll"
	case OSDarwin:
		return "lib" + name + ".dylib"
	}
	return "lib" + name + ".so"
}

// Customizer may rewrite the flags of one build. pre is placed before the
// input file, post after it.
type Customizer func(cc *CC, pre, post *[]string)

// CC is a configured C compiler.
type CC struct {
	Path     string
	OptLevel string
	Flags    []string
	Includes []string
	Logger   *log.Logger
}

// New returns a compiler invoking path, or DefaultCompiler when path is
// empty.
func New(path string) *CC {
	if path == "" {
		path = DefaultCompiler()
	}
	return &CC{
		Path:     path,
		OptLevel: OptLevel,
		Logger:   log.NewWithOptions(os.Stderr, log.Options{Prefix: "cexi"}),
	}
}

// Available reports whether the compiler can be found on PATH.
func (cc *CC) Available() bool {
	_, err := exec.LookPath(cc.Path)
	return err == nil
}

func marchFlag() string {
	march := strings.TrimSpace(os.Getenv(MarchEnv))
	switch {
	case march == "":
		return ""
	case strings.HasPrefix(march, "-march="):
		return march
	}
	return "-march=" + march
}

// BaseFlags are the flags every compile step gets before the caller's own.
func (cc *CC) BaseFlags() []string {
	flags := []string{cc.OptLevel, CStd}
	if m := marchFlag(); m != "" {
		flags = append(flags, m)
	}
	for _, inc := range cc.Includes {
		flags = append(flags, "-I", inc)
	}
	return append(flags, cc.Flags...)
}

// CompileRequest is one build of a translation unit into a shared library.
type CompileRequest struct {
	// Name is the module name; it names the source, object and library files.
	Name   string
	Source string
	OutDir string
	// PreArgs go before the input file. Nil means the default of -fPIC on
	// platforms that need it.
	PreArgs   []string
	PostArgs  []string
	Customize Customizer
}

// CompileError carries the combined compiler output of a failed build.
type CompileError struct {
	Module string
	Step   string
	Args   []string
	Output string
	Err    error
}

func (e *CompileError) Error() string {
	return fmt.Sprintf("compile %s: %s failed: %v\n%s", e.Module, e.Step, e.Err, e.Output)
}

func (e *CompileError) Unwrap() error { return e.Err }

func defaultPreArgs() []string {
	if runtime.GOOS == OSWindows {
		return nil
	}
	return []string{FPIC}
}

// Compile writes the source to OutDir, compiles it to an object file and
// links that into a shared library. It returns the library path.
func (cc *CC) Compile(ctx context.Context, req CompileRequest) (string, error) {
	if err := os.MkdirAll(req.OutDir, 0755); err != nil {
		return "", fmt.Errorf("create build dir: %w", err)
	}
	src := filepath.Join(req.OutDir, req.Name+SrcSuffix)
	obj := filepath.Join(req.OutDir, req.Name+ObjSuffix)
	lib := filepath.Join(req.OutDir, LibraryFilename(req.Name))
	if err := os.WriteFile(src, []byte(req.Source), 0644); err != nil {
		return "", fmt.Errorf("write source: %w", err)
	}
	// a loaded image may still map the old file; unlinking keeps it intact
	if err := os.Remove(lib); err != nil && !os.IsNotExist(err) {
		return "", fmt.Errorf("remove stale library: %w", err)
	}

	pre := slices.Clone(req.PreArgs)
	if req.PreArgs == nil {
		pre = defaultPreArgs()
	}
	post := slices.Clone(req.PostArgs)
	// the hook sees a copy so one build can not leak flags into the next
	local := *cc
	local.Flags = slices.Clone(cc.Flags)
	local.Includes = slices.Clone(cc.Includes)
	if req.Customize != nil {
		req.Customize(&local, &pre, &post)
	}

	args := append(local.BaseFlags(), pre...)
	args = append(args, "-c", src, "-o", obj)
	args = append(args, post...)
	if err := local.run(ctx, req.Name, "compile", args); err != nil {
		return "", err
	}

	linkArgs := append([]string{Shared}, pre...)
	linkArgs = append(linkArgs, obj, "-o", lib)
	linkArgs = append(linkArgs, post...)
	if err := local.run(ctx, req.Name, "link", linkArgs); err != nil {
		return "", err
	}
	return lib, nil
}

func (cc *CC) run(ctx context.Context, module, step string, args []string) error {
	if cc.Logger != nil {
		cc.Logger.Debug("running compiler", "module", module, "step", step, "cc", cc.Path, "args", strings.Join(args, " "))
	}
	var out bytes.Buffer
	cmd := exec.CommandContext(ctx, cc.Path, args...)
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		return &CompileError{Module: module, Step: step, Args: args, Output: out.String(), Err: err}
	}
	return nil
}
