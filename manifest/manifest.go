// Package manifest reads extension declarations from *.cexi.toml files.
//
// A manifest names the module and lists its units in declaration order:
//
//	name = "spam"
//	dir = "build"
//	flags = ["-lm"]
//
//	[[unit]]
//	kind = "block"
//	code = "#include <math.h>"
//
//	[[unit]]
//	kind = "managed"
//	name = "hypot2"
//	params = [{ name = "x", type = "double" }, { name = "y", type = "double" }]
//	returns = ["double"]
//	body = "return sqrt(x * x + y * y);"
//
// An absent returns list selects the default for the unit kind; an empty
// list declares no value.
package manifest

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"github.com/thiremani/cexi/codegen"
	"github.com/thiremani/cexi/extension"
	"github.com/thiremani/cexi/types"
)

// Suffix is the file suffix of manifests.
const Suffix = ".cexi.toml"

// Unit kinds.
const (
	KindBlock   = "block"
	KindNative  = "native"
	KindManaged = "managed"
	KindRaw     = "raw"
)

var ErrInvalidManifest = errors.New("invalid manifest")

// Manifest is the decoded file.
type Manifest struct {
	Name  string   `toml:"name"`
	Dir   string   `toml:"dir"`
	Flags []string `toml:"flags"`
	Units []Unit   `toml:"unit"`

	// path is the file it was read from; relative dirs resolve against it.
	path string
}

type Param struct {
	Name string `toml:"name"`
	Type string `toml:"type"`
}

// Unit is one declaration.
type Unit struct {
	Kind    string   `toml:"kind"`
	Name    string   `toml:"name"`
	Params  []Param  `toml:"params"`
	Returns []string `toml:"returns"`
	Body    string   `toml:"body"`
	Code    string   `toml:"code"`
	Doc     string   `toml:"doc"`
}

// Path returns the file the manifest was read from, "" for parsed bytes.
func (m *Manifest) Path() string { return m.path }

// Load reads and validates the manifest at path.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	m, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	m.path = path
	return m, nil
}

// Parse decodes and validates manifest content. Unknown keys are errors.
func Parse(data []byte) (*Manifest, error) {
	var m Manifest
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&m); err != nil {
		var derr *toml.DecodeError
		var serr *toml.StrictMissingError
		if errors.As(err, &serr) {
			return nil, fmt.Errorf("%w: unknown keys\n%s", ErrInvalidManifest, serr.String())
		}
		if errors.As(err, &derr) {
			row, col := derr.Position()
			return nil, fmt.Errorf("%w: line %d, column %d: %v", ErrInvalidManifest, row, col, derr)
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidManifest, err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Validate checks the structure. Names and types are checked again when the
// units are declared.
func (m *Manifest) Validate() error {
	if m.Name == "" && m.Dir != "" {
		return fmt.Errorf("%w: an unnamed module can not have a dir", ErrInvalidManifest)
	}
	for i, u := range m.Units {
		if err := u.validate(); err != nil {
			return fmt.Errorf("%w: unit %d: %v", ErrInvalidManifest, i+1, err)
		}
	}
	return nil
}

func (u Unit) validate() error {
	switch u.Kind {
	case KindBlock:
		if u.Name != "" || u.Body != "" || len(u.Params) > 0 || u.Returns != nil {
			return errors.New("a block only takes code")
		}
		return nil
	case KindNative, KindManaged, KindRaw:
		if u.Name == "" {
			return fmt.Errorf("%s unit needs a name", u.Kind)
		}
		if u.Code != "" {
			return fmt.Errorf("%s unit %s: use body, not code", u.Kind, u.Name)
		}
		if u.Kind == KindRaw && (len(u.Params) > 0 || u.Returns != nil) {
			return fmt.Errorf("raw unit %s parses its own arguments", u.Name)
		}
		if u.Kind == KindNative && u.Doc != "" {
			return fmt.Errorf("native unit %s is not exported and takes no doc", u.Name)
		}
		return nil
	case "":
		return errors.New("missing kind")
	}
	return fmt.Errorf("unknown kind %q", u.Kind)
}

func (u Unit) signature() codegen.Signature {
	params := make([]codegen.Param, len(u.Params))
	for i, p := range u.Params {
		params[i] = codegen.P(p.Name, types.Name(p.Type))
	}
	sig := codegen.Signature{Params: params}
	if u.Returns != nil {
		sig.Returns = make([]types.Name, len(u.Returns))
		for i, r := range u.Returns {
			sig.Returns[i] = types.Name(r)
		}
	}
	return sig
}

// ResolvedDir returns Dir made relative to the manifest file.
func (m *Manifest) ResolvedDir() string {
	if m.Dir == "" || filepath.IsAbs(m.Dir) || m.path == "" {
		return m.Dir
	}
	return filepath.Join(filepath.Dir(m.path), m.Dir)
}

// Build declares the manifest on a new extension. opts come after the ones
// derived from the manifest and can override them.
func (m *Manifest) Build(opts ...extension.Option) (*extension.Extension, map[string]*extension.Proxy, error) {
	base := []extension.Option{extension.WithFlags(m.Flags...)}
	if dir := m.ResolvedDir(); dir != "" {
		base = append(base, extension.WithDir(dir))
	}
	ext, err := extension.New(m.Name, append(base, opts...)...)
	if err != nil {
		return nil, nil, err
	}

	proxies := map[string]*extension.Proxy{}
	for _, u := range m.Units {
		var p *extension.Proxy
		switch u.Kind {
		case KindBlock:
			err = ext.AddBlock(u.Code)
		case KindNative:
			err = ext.AddNativeFunction(u.Name, u.signature(), u.Body)
		case KindManaged:
			p, err = ext.AddManagedFunction(u.Name, u.signature(), u.Body, strings.TrimSpace(u.Doc))
		case KindRaw:
			p, err = ext.AddRawFunction(u.Name, u.Body, strings.TrimSpace(u.Doc))
		}
		if err != nil {
			return nil, nil, err
		}
		if p != nil {
			proxies[u.Name] = p
		}
	}
	return ext, proxies, nil
}

// Find returns the manifests directly inside dir, sorted by name.
func Find(dir string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*"+Suffix))
	if err != nil {
		return nil, err
	}
	return matches, nil
}
