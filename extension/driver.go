package extension

import (
	"context"
	"os"
	"path/filepath"
	"slices"

	"github.com/charmbracelet/log"
	"github.com/thiremani/cexi/loader"
	"github.com/thiremani/cexi/toolchain"
)

// Symbol is one exported member of a loaded module.
type Symbol interface {
	Name() string
	Doc() string
	Flags() int
	Call(args ...any) (any, error)
}

// SymbolTable is the live view of a loaded module.
type SymbolTable interface {
	Revision() (uint64, bool)
	Lookup(name string) (Symbol, bool)
	ErrorName() string
	Close() error
}

// Driver compiles sources and loads artifacts.
type Driver interface {
	Compile(ctx context.Context, req toolchain.CompileRequest) (string, error)
	Load(path, module string) (SymbolTable, error)
	LibraryFilename(dir, module string) string
}

// ToolchainDriver compiles with the system C compiler and loads with
// purego.
type ToolchainDriver struct {
	CC       *toolchain.CC
	CacheDir string
	Logger   *log.Logger
}

// NewDriver returns a driver using cc and the runtime headers cached under
// cacheDir. Empty arguments select the defaults.
func NewDriver(cc *toolchain.CC, cacheDir string, logger *log.Logger) *ToolchainDriver {
	if cc == nil {
		cc = toolchain.New("")
	}
	if cacheDir == "" {
		cacheDir = toolchain.DefaultCacheDir()
	}
	if logger == nil {
		logger = defaultLogger()
	}
	return &ToolchainDriver{CC: cc, CacheDir: cacheDir, Logger: logger}
}

func defaultLogger() *log.Logger {
	return log.NewWithOptions(os.Stderr, log.Options{Prefix: "cexi"})
}

func (d *ToolchainDriver) Compile(ctx context.Context, req toolchain.CompileRequest) (string, error) {
	inc, err := toolchain.PrepareRuntime(d.CacheDir, d.Logger)
	if err != nil {
		return "", err
	}
	cc := *d.CC
	cc.Includes = append(slices.Clone(d.CC.Includes), inc)
	if cc.Logger == nil {
		cc.Logger = d.Logger
	}
	return cc.Compile(ctx, req)
}

func (d *ToolchainDriver) Load(path, module string) (SymbolTable, error) {
	lib, err := loader.Open(path, module)
	if err != nil {
		return nil, err
	}
	d.Logger.Debug("loaded extension", "module", module, "path", path)
	return libraryTable{lib}, nil
}

func (d *ToolchainDriver) LibraryFilename(dir, module string) string {
	return filepath.Join(dir, toolchain.LibraryFilename(module))
}

type libraryTable struct {
	*loader.Library
}

func (t libraryTable) Lookup(name string) (Symbol, bool) {
	s, ok := t.Library.Lookup(name)
	if !ok {
		return nil, false
	}
	return s, true
}
