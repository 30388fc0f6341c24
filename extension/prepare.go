package extension

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
	"github.com/thiremani/cexi/toolchain"
)

// Prepare makes the loaded artifact match the current declarations.
//
// A loaded artifact with the current revision is kept. Before the first
// load, an artifact already present in the persistent directory is tried
// and kept when its revision matches. Everything else is compiled and
// loaded. Compile errors are returned unchanged.
//
// A reverse callback may call Prepare, but only while nothing changed:
// replacing the artifact the callback is running in returns ErrReentrant.
func (e *Extension) Prepare(ctx context.Context) error {
	want, err := e.asm.Revision()
	if err != nil {
		return &ConfigurationError{Module: e.name, Err: err}
	}

	if e.table != nil {
		if got, ok := e.table.Revision(); ok && got == want {
			return nil
		}
		if e.inCallback.Load() > 0 {
			return fmt.Errorf("extension %s: %w", e.name, ErrReentrant)
		}
		e.logger.Info("declarations changed, rebuilding", "module", e.name)
		return e.rebuild(ctx)
	}

	unlock, err := e.lock()
	if err != nil {
		return err
	}
	defer unlock()

	if e.dir != "" {
		path := e.driver.LibraryFilename(e.dir, e.name)
		table, err := e.driver.Load(path, e.name)
		switch {
		case err != nil:
			e.logger.Debug("no usable artifact, compiling", "module", e.name, "path", path, "error", err)
		case stale(table, want):
			e.logger.Debug("artifact is stale, compiling", "module", e.name, "path", path)
			table.Close()
		default:
			e.logger.Debug("reusing artifact", "module", e.name, "path", path)
			return e.install(table)
		}
	}
	return e.build(ctx)
}

// Ensured prepares the extension and then runs fn.
func (e *Extension) Ensured(ctx context.Context, fn func() error) error {
	if err := e.Prepare(ctx); err != nil {
		return err
	}
	return fn()
}

func stale(table SymbolTable, want uint64) bool {
	got, ok := table.Revision()
	return !ok || got != want
}

func (e *Extension) rebuild(ctx context.Context) error {
	unlock, err := e.lock()
	if err != nil {
		return err
	}
	defer unlock()
	return e.build(ctx)
}

// lock serialises processes building into the same persistent directory.
func (e *Extension) lock() (func(), error) {
	if e.dir == "" {
		return func() {}, nil
	}
	if err := os.MkdirAll(e.dir, 0755); err != nil {
		return nil, fmt.Errorf("create extension dir: %w", err)
	}
	fl := flock.New(filepath.Join(e.dir, "."+e.name+".lock"))
	if err := fl.Lock(); err != nil {
		return nil, fmt.Errorf("acquire build lock: %w", err)
	}
	return func() { fl.Unlock() }, nil
}

func (e *Extension) build(ctx context.Context) (err error) {
	source, err := e.asm.Render()
	if err != nil {
		return &ConfigurationError{Module: e.name, Err: err}
	}

	dir := e.dir
	if dir == "" {
		if dir, err = os.MkdirTemp("", "cexi-"+e.name+"-"); err != nil {
			return fmt.Errorf("create build dir: %w", err)
		}
		// the loaded image no longer needs its file
		defer func() {
			if rmErr := os.RemoveAll(dir); rmErr != nil {
				e.logger.Warn("failed to remove build dir", "dir", dir, "error", rmErr)
			}
		}()
	}

	e.logger.Info("compiling extension", "module", e.name, "dir", dir)
	e.builds++
	path, err := e.driver.Compile(ctx, toolchain.CompileRequest{
		Name:      e.name,
		Source:    source,
		OutDir:    dir,
		PostArgs:  e.flags,
		Customize: e.customize,
	})
	if err != nil {
		return err
	}
	table, err := e.driver.Load(path, e.name)
	if err != nil {
		return err
	}
	return e.install(table)
}

// install makes table current, releases the previous artifact and
// registers reverse callbacks with the new one.
func (e *Extension) install(table SymbolTable) error {
	old := e.table
	e.table = table
	if old != nil {
		if err := old.Close(); err != nil {
			e.logger.Warn("failed to close previous artifact", "module", e.name, "error", err)
		}
	}
	var errs []error
	for _, r := range e.reverse {
		if err := r.Activate(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
