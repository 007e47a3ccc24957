// Package manifest handles colox.toml project configuration.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/chazu/colox/vm"
)

// FileName is the name of the project configuration file.
const FileName = "colox.toml"

// DefaultCachePath is where the compile cache lives, relative to the
// project directory.
const DefaultCachePath = ".colox/cache.db"

// ImageExt is the file extension of compiled images.
const ImageExt = ".loxc"

// Manifest represents a colox.toml project configuration.
type Manifest struct {
	Project Project     `toml:"project"`
	VM      VMConfig    `toml:"vm"`
	Log     LogConfig   `toml:"log"`
	Image   ImageConfig `toml:"image"`
	Cache   CacheConfig `toml:"cache"`

	// Dir is the directory containing the colox.toml file (set at load time).
	Dir string `toml:"-"`
}

// Project contains project metadata.
type Project struct {
	Name  string `toml:"name"`
	Entry string `toml:"entry"`
}

// VMConfig mirrors vm.Options. Zero values select the VM defaults.
type VMConfig struct {
	StackMax  int  `toml:"stack-max"`
	FramesMax int  `toml:"frames-max"`
	Trace     bool `toml:"trace"`
	PrintCode bool `toml:"print-code"`
}

// LogConfig configures commonlog.
type LogConfig struct {
	Verbosity int    `toml:"verbosity"`
	File      string `toml:"file"`
}

// ImageConfig configures where `colox build` writes images.
type ImageConfig struct {
	OutputDir string `toml:"output-dir"`
}

// CacheConfig configures the compile cache.
type CacheConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// Default returns the configuration used when no colox.toml exists, rooted
// at dir.
func Default(dir string) *Manifest {
	m := &Manifest{Dir: dir}
	m.applyDefaults()
	return m
}

// Load parses a colox.toml file from the given directory.
func Load(dir string) (*Manifest, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	var m Manifest
	md, err := toml.Decode(string(data), &m)
	if err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("unknown keys in %s: %s", path, strings.Join(keys, ", "))
	}

	m.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}

	if err := m.validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	m.applyDefaults()

	return &m, nil
}

// FindAndLoad walks up from startDir to find a colox.toml file,
// then loads and returns the manifest. Returns nil if no manifest is found.
func FindAndLoad(startDir string) (*Manifest, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, FileName)); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return nil, nil
		}
		dir = parent
	}
}

func (m *Manifest) validate() error {
	if m.VM.StackMax < 0 {
		return fmt.Errorf("vm.stack-max must not be negative, got %d", m.VM.StackMax)
	}
	if m.VM.FramesMax < 0 {
		return fmt.Errorf("vm.frames-max must not be negative, got %d", m.VM.FramesMax)
	}
	return nil
}

func (m *Manifest) applyDefaults() {
	if m.Cache.Path == "" {
		m.Cache.Path = DefaultCachePath
	}
}

// VMOptions converts the [vm] section to VM options.
func (m *Manifest) VMOptions() vm.Options {
	opts := vm.DefaultOptions()
	if m.VM.StackMax > 0 {
		opts.StackMax = m.VM.StackMax
	}
	if m.VM.FramesMax > 0 {
		opts.FramesMax = m.VM.FramesMax
	}
	opts.TraceExecution = m.VM.Trace
	opts.PrintCode = m.VM.PrintCode
	return opts
}

// EntryPath returns the absolute path of the project's entry script, or ""
// when none is configured.
func (m *Manifest) EntryPath() string {
	if m.Project.Entry == "" {
		return ""
	}
	return m.resolve(m.Project.Entry)
}

// CachePath returns the absolute path of the compile cache database.
func (m *Manifest) CachePath() string {
	return m.resolve(m.Cache.Path)
}

// LogFile returns the configured log file path, or nil to log to stderr.
func (m *Manifest) LogFile() *string {
	if m.Log.File == "" {
		return nil
	}
	path := m.resolve(m.Log.File)
	return &path
}

// ImageOutput returns the path `colox build` writes the image for source
// to: the source path with its extension replaced by .loxc, placed in
// [image] output-dir when that is set.
func (m *Manifest) ImageOutput(source string) string {
	base := strings.TrimSuffix(source, filepath.Ext(source)) + ImageExt
	if m.Image.OutputDir == "" {
		return base
	}
	return filepath.Join(m.resolve(m.Image.OutputDir), filepath.Base(base))
}

func (m *Manifest) resolve(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(m.Dir, path)
}
