// Package config loads cexi settings from defaults, an optional cexi.toml
// and CEXI_* environment variables, in increasing priority.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/spf13/viper"
	"github.com/thiremani/cexi/toolchain"
)

const (
	AppName        = "cexi"
	ConfigFileName = "cexi"
	ConfigFileExt  = "toml"
	EnvPrefix      = "CEXI"
)

// Keys, as used in the config file. The environment variable is the upper
// case key with the CEXI_ prefix.
const (
	KeyCC          = "cc"
	KeyCache       = "cache"
	KeyOptLevel    = "opt_level"
	KeyFlags       = "flags"
	KeyIncludeDirs = "include_dirs"
	KeyLogLevel    = "log_level"
)

var (
	ErrConfigNotFound  = errors.New("config file not found")
	ErrInvalidOptLevel = errors.New("invalid optimization level")
	ErrInvalidLogLevel = errors.New("invalid log level")
)

var optLevels = []string{"-O0", "-O1", "-O2", "-O3", "-Os", "-Oz", "-Og", "-Ofast"}

// Config holds the resolved settings.
type Config struct {
	CC          string   `mapstructure:"cc"`
	Cache       string   `mapstructure:"cache"`
	OptLevel    string   `mapstructure:"opt_level"`
	Flags       []string `mapstructure:"flags"`
	IncludeDirs []string `mapstructure:"include_dirs"`
	LogLevel    string   `mapstructure:"log_level"`
}

// LoadOptions selects where the config file comes from.
type LoadOptions struct {
	// ConfigFilePath is used exclusively when set and must exist.
	ConfigFilePath string
	// ConfigDirPath replaces the platform config directory in the search.
	ConfigDirPath string
}

// DefaultConfig returns the settings used when nothing overrides them.
func DefaultConfig() *Config {
	return &Config{
		CC:          toolchain.DefaultCompiler(),
		Cache:       toolchain.DefaultCacheDir(),
		OptLevel:    toolchain.OptLevel,
		Flags:       []string{},
		IncludeDirs: []string{},
		LogLevel:    log.InfoLevel.String(),
	}
}

// Dir returns the platform config directory for cexi, $XDG_CONFIG_HOME/cexi
// on Linux.
func Dir() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to get config directory: %w", err)
	}
	return filepath.Join(base, AppName), nil
}

// Load resolves the configuration and returns it with the path of the file
// it read, "" when no file was found.
func Load(opts LoadOptions) (*Config, string, error) {
	v := viper.New()
	defaults := DefaultConfig()
	v.SetDefault(KeyCC, defaults.CC)
	v.SetDefault(KeyCache, defaults.Cache)
	v.SetDefault(KeyOptLevel, defaults.OptLevel)
	v.SetDefault(KeyFlags, defaults.Flags)
	v.SetDefault(KeyIncludeDirs, defaults.IncludeDirs)
	v.SetDefault(KeyLogLevel, defaults.LogLevel)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	path, err := findConfigFile(opts)
	if err != nil {
		return nil, "", err
	}
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType(ConfigFileExt)
		if err := v.ReadInConfig(); err != nil {
			return nil, "", fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, "", fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", err
	}
	return &cfg, path, nil
}

func findConfigFile(opts LoadOptions) (string, error) {
	if opts.ConfigFilePath != "" {
		if !fileExists(opts.ConfigFilePath) {
			return "", fmt.Errorf("%w: %s", ErrConfigNotFound, opts.ConfigFilePath)
		}
		return opts.ConfigFilePath, nil
	}

	dir := opts.ConfigDirPath
	if dir == "" {
		var err error
		if dir, err = Dir(); err != nil {
			return "", err
		}
	}
	name := ConfigFileName + "." + ConfigFileExt
	for _, p := range []string{filepath.Join(dir, name), name} {
		if fileExists(p) {
			return p, nil
		}
	}
	return "", nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// Validate rejects values the compiler or logger would not accept.
func (c *Config) Validate() error {
	if !slices.Contains(optLevels, c.OptLevel) {
		return fmt.Errorf("%w: %q", ErrInvalidOptLevel, c.OptLevel)
	}
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidLogLevel, c.LogLevel)
	}
	return nil
}

// Level returns the parsed log level, Info when it does not parse.
func (c *Config) Level() log.Level {
	lvl, err := log.ParseLevel(c.LogLevel)
	if err != nil {
		return log.InfoLevel
	}
	return lvl
}

// Compiler returns a compiler configured from c.
func (c *Config) Compiler(logger *log.Logger) *toolchain.CC {
	cc := toolchain.New(c.CC)
	cc.OptLevel = c.OptLevel
	cc.Flags = slices.Clone(c.Flags)
	cc.Includes = slices.Clone(c.IncludeDirs)
	if logger != nil {
		cc.Logger = logger
	}
	return cc
}
