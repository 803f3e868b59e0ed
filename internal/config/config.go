// Package config loads the pig project file using Viper.
//
// A project file lists entries, each a (schema, template input, output)
// triple, plus optional settings. Relative paths are resolved against the
// directory of the project file, checked for the right kind, and
// canonicalized. Settings can be overridden through PIG_ environment
// variables and command-line flags bound to the same Viper instance.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	pigerrors "github.com/conneroisu/pig/internal/errors"
)

// FileNames are the project file names searched for, in order.
var FileNames = []string{"pig.yaml", "pig.yml"}

// Defaults.
const (
	DefaultTemplateSuffix = ".tmpl"
	DefaultPollInterval   = 200 * time.Millisecond
	EnvPrefix             = "PIG"
)

// Config is a loaded and validated project file.
type Config struct {
	Entries  []Entry  `mapstructure:"entries"`
	Settings Settings `mapstructure:"settings"`

	file string
}

// Entry is one (schema, template input, output) triple. After Load every
// path is absolute and canonical.
type Entry struct {
	Schema string `mapstructure:"api"`
	Input  string `mapstructure:"in"`
	Output string `mapstructure:"out"`
}

// Settings tune the pipeline.
type Settings struct {
	TemplateSuffix string        `mapstructure:"template_suffix"`
	PollInterval   time.Duration `mapstructure:"poll_interval"`
	NotifyAddr     string        `mapstructure:"notify_addr"`
	Validate       bool          `mapstructure:"validate"`
}

// File returns the canonical path of the project file.
func (c *Config) File() string {
	return c.file
}

// Dir returns the directory holding the project file.
func (c *Config) Dir() string {
	return filepath.Dir(c.file)
}

// NewViper returns a Viper instance with pig's defaults and environment
// bindings. Flags may be bound to it before calling Load.
func NewViper() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// SetDefaults registers default settings on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("settings.template_suffix", DefaultTemplateSuffix)
	v.SetDefault("settings.poll_interval", DefaultPollInterval)
	v.SetDefault("settings.notify_addr", "")
	v.SetDefault("settings.validate", true)
}

// Find locates the project file. An explicit path must name an existing
// regular file; otherwise the search walks upward from start.
func Find(explicit, start string) (string, error) {
	if explicit != "" {
		info, err := os.Stat(explicit)
		if err != nil || !info.Mode().IsRegular() {
			return "", pigerrors.NewConfigError(pigerrors.ErrCodeNotAFile, "config is not a file").
				WithLocation(explicit)
		}
		return explicit, nil
	}

	dir, err := filepath.Abs(start)
	if err != nil {
		return "", pigerrors.WrapIO(err, "cannot resolve working directory", start)
	}
	for {
		for _, name := range FileNames {
			candidate := filepath.Join(dir, name)
			if _, err := os.Stat(candidate); err == nil {
				return candidate, nil
			}
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", pigerrors.NewConfigError(pigerrors.ErrCodeConfigNotFound,
				fmt.Sprintf("config not found: no %s in %s or any parent directory", FileNames[0], start))
		}
		dir = parent
	}
}

// Load reads the project file at path into v and returns the validated
// configuration. Output directories that do not exist yet are created. A nil
// v gets a fresh instance from NewViper.
func Load(v *viper.Viper, path string) (*Config, error) {
	if v == nil {
		v = NewViper()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, pigerrors.NewConfigError(pigerrors.ErrCodeConfigNotFound, "config not found").
				WithLocation(path)
		}
		return nil, pigerrors.WrapIO(err, "cannot read config", path)
	}

	data, err = normalize(data)
	if err != nil {
		return nil, pigerrors.NewParseError(pigerrors.ErrCodeParse, "cannot parse config", err).
			WithLocation(path)
	}

	v.SetConfigType("yaml")
	if err := v.ReadConfig(bytes.NewReader(data)); err != nil {
		return nil, pigerrors.NewParseError(pigerrors.ErrCodeParse, "cannot parse config", err).
			WithLocation(path)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, pigerrors.NewConfigError(pigerrors.ErrCodeConfigInvalid, "invalid config: "+err.Error()).
			WithLocation(path)
	}

	file, err := filepath.Abs(path)
	if err == nil {
		file, err = filepath.EvalSymlinks(file)
	}
	if err != nil {
		return nil, pigerrors.WrapIO(err, "cannot resolve config path", path)
	}
	cfg.file = file

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// normalize accepts the bare list form, a top-level sequence of entries, by
// wrapping it under the entries key.
func normalize(data []byte) ([]byte, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, err
	}
	if len(root.Content) == 0 || root.Content[0].Kind != yaml.SequenceNode {
		return data, nil
	}
	wrapped := yaml.Node{
		Kind: yaml.MappingNode,
		Content: []*yaml.Node{
			{Kind: yaml.ScalarNode, Value: "entries"},
			root.Content[0],
		},
	}
	return yaml.Marshal(&wrapped)
}

func (c *Config) validate() error {
	if c.Settings.TemplateSuffix == "" {
		c.Settings.TemplateSuffix = DefaultTemplateSuffix
	}
	if strings.ContainsAny(c.Settings.TemplateSuffix, `/\`) {
		return pigerrors.NewConfigError(pigerrors.ErrCodeConfigInvalid,
			"template_suffix must not contain a path separator: "+c.Settings.TemplateSuffix).WithLocation(c.file)
	}
	if c.Settings.PollInterval <= 0 {
		c.Settings.PollInterval = DefaultPollInterval
	}

	for i := range c.Entries {
		if err := c.validateEntry(&c.Entries[i]); err != nil {
			var pe *pigerrors.PigError
			if errors.As(err, &pe) {
				pe.WithContext("entry", i)
			}
			return err
		}
	}
	return nil
}

func (c *Config) validateEntry(e *Entry) error {
	if e.Schema == "" || e.Input == "" || e.Output == "" {
		return pigerrors.NewConfigError(pigerrors.ErrCodeConfigInvalid,
			"entry requires api, in and out").WithLocation(c.file)
	}

	schema, err := c.checkPath(e.Schema, false)
	if err != nil {
		return err
	}
	input, err := c.checkPath(e.Input, true)
	if err != nil {
		return err
	}

	output := c.abs(e.Output)
	info, err := os.Stat(output)
	switch {
	case err == nil && !info.IsDir():
		return pigerrors.NewConfigError(pigerrors.ErrCodeNotADirectory, "output is not a directory").
			WithLocation(output)
	case errors.Is(err, os.ErrNotExist):
		if err := os.MkdirAll(output, 0o755); err != nil {
			return pigerrors.WrapIO(err, "cannot create output directory", output)
		}
	case err != nil:
		return pigerrors.WrapIO(err, "cannot stat output directory", output)
	}
	output, err = filepath.EvalSymlinks(output)
	if err != nil {
		return pigerrors.WrapIO(err, "cannot resolve output directory", output)
	}

	e.Schema, e.Input, e.Output = schema, input, output
	return nil
}

// checkPath resolves path against the config directory, checks its kind and
// returns the canonical form.
func (c *Config) checkPath(path string, dir bool) (string, error) {
	abs := c.abs(path)
	info, err := os.Stat(abs)
	switch {
	case dir && (err != nil || !info.IsDir()):
		return "", pigerrors.NewConfigError(pigerrors.ErrCodeNotADirectory, "not a directory").WithLocation(abs)
	case !dir && (err != nil || !info.Mode().IsRegular()):
		return "", pigerrors.NewConfigError(pigerrors.ErrCodeNotAFile, "not a file").WithLocation(abs)
	}
	canonical, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return "", pigerrors.WrapIO(err, "cannot resolve path", abs)
	}
	return canonical, nil
}

func (c *Config) abs(path string) string {
	if filepath.IsAbs(path) {
		return filepath.Clean(path)
	}
	return filepath.Join(c.Dir(), path)
}
