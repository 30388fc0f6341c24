package extension

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/thiremani/cexi/toolchain"
)

var (
	revisionPattern = regexp.MustCompile(`#define CX_CODE_REVISION (\d+)ULL`)
	entryPattern    = regexp.MustCompile(`\{"(\w+)", \w+, CX_METH_VARARGS, (NULL|"(?:[^"\\]|\\.)*")\}`)
)

type artifact struct {
	revision uint64
	names    []string
	docs     map[string]string
}

// fakeDriver records builds and serves tables parsed from the rendered
// method table instead of running a compiler.
type fakeDriver struct {
	mu       sync.Mutex
	compiles int
	loads    int
	requests []toolchain.CompileRequest
	built    map[string]artifact
	tables   []*fakeTable

	compileErr error
	hide       map[string]bool
	impl       map[string]func(args ...any) (any, error)
	gate       chan struct{}
	panicMsg   string
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{built: map[string]artifact{}, hide: map[string]bool{}, impl: map[string]func(args ...any) (any, error){}}
}

func (d *fakeDriver) Compile(ctx context.Context, req toolchain.CompileRequest) (string, error) {
	if d.gate != nil {
		<-d.gate
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.compiles++
	d.requests = append(d.requests, req)
	if d.panicMsg != "" {
		panic(d.panicMsg)
	}
	if d.compileErr != nil {
		return "", d.compileErr
	}
	if req.Customize != nil {
		cc := toolchain.New("cc")
		pre, post := []string{}, []string{}
		req.Customize(cc, &pre, &post)
	}

	a := artifact{docs: map[string]string{}}
	if m := revisionPattern.FindStringSubmatch(req.Source); m != nil {
		a.revision, _ = strconv.ParseUint(m[1], 10, 64)
	}
	for _, m := range entryPattern.FindAllStringSubmatch(req.Source, -1) {
		a.names = append(a.names, m[1])
		if m[2] != "NULL" {
			a.docs[m[1]], _ = strconv.Unquote(m[2])
		}
	}
	path := d.LibraryFilename(req.OutDir, req.Name)
	if err := os.WriteFile(path, []byte(req.Source), 0644); err != nil {
		return "", err
	}
	d.built[path] = a
	return path, nil
}

func (d *fakeDriver) Load(path, module string) (SymbolTable, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.loads++
	a, ok := d.built[path]
	if _, err := os.Stat(path); !ok || err != nil {
		return nil, &LoadError{Module: module, Path: path, Err: errors.New("no such artifact")}
	}
	t := &fakeTable{driver: d, artifact: a, captured: map[string]Callback{}, captureCalls: map[string]int{}}
	d.tables = append(d.tables, t)
	return t, nil
}

func (d *fakeDriver) LibraryFilename(dir, module string) string {
	return filepath.Join(dir, "lib"+module+".fake")
}

func (d *fakeDriver) counts() (compiles, loads int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.compiles, d.loads
}

type fakeTable struct {
	driver       *fakeDriver
	artifact     artifact
	closed       bool
	captured     map[string]Callback
	captureCalls map[string]int
}

func (t *fakeTable) Revision() (uint64, bool) { return t.artifact.revision, t.artifact.revision != 0 }
func (t *fakeTable) ErrorName() string        { return "" }

func (t *fakeTable) Close() error {
	t.closed = true
	return nil
}

func (t *fakeTable) Lookup(name string) (Symbol, bool) {
	if t.driver.hide[name] {
		return nil, false
	}
	for _, n := range t.artifact.names {
		if n == name {
			return &fakeSymbol{table: t, name: name}, true
		}
	}
	return nil, false
}

type fakeSymbol struct {
	table *fakeTable
	name  string
}

func (s *fakeSymbol) Name() string { return s.name }
func (s *fakeSymbol) Doc() string  { return s.table.artifact.docs[s.name] }
func (s *fakeSymbol) Flags() int   { return 1 }

// Call mimics the generated capture stub for __capture_ names: the first
// callback sticks.
func (s *fakeSymbol) Call(args ...any) (any, error) {
	if s.table.closed {
		return nil, errors.New("closed")
	}
	if len(s.name) > len("__capture_") && s.name[:len("__capture_")] == "__capture_" {
		s.table.captureCalls[s.name]++
		if _, ok := s.table.captured[s.name]; ok {
			return nil, nil
		}
		cb, ok := args[0].(Callback)
		if !ok {
			return nil, &NativeError{Name: "TypeError", Message: "parameter must be callable"}
		}
		s.table.captured[s.name] = cb
		return nil, nil
	}
	if fn, ok := s.table.driver.impl[s.name]; ok {
		return fn(args...)
	}
	return s.name, nil
}

func quietLogger() *log.Logger {
	return log.New(io.Discard)
}
