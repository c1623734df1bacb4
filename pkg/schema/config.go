package schema

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/aretw0/tilth/pkg/core"
)

// ConfigFileName is the project file looked up at the content root.
const ConfigFileName = "tilth.yaml"

// Config is the project configuration.
type Config struct {
	Storage     StorageConfig          `yaml:"storage"`
	Drafts      DraftsConfig           `yaml:"drafts"`
	Collab      CollabConfig           `yaml:"collab"`
	Singletons  map[string]EntrySchema `yaml:"singletons"`
	Collections map[string]EntrySchema `yaml:"collections"`
}

// StorageConfig selects the backing store.
type StorageConfig struct {
	// Kind is "fs" (plain directory) or "git" (branches and commits).
	Kind     string `yaml:"kind"`
	Branch   string `yaml:"branch,omitempty"`
	ReadOnly bool   `yaml:"readOnly,omitempty"`
	// ForkPath is where the git store clones the repository on fork.
	ForkPath string `yaml:"forkPath,omitempty"`
	Author   string `yaml:"author,omitempty"`
	Email    string `yaml:"email,omitempty"`
}

// DraftsConfig selects the draft store.
type DraftsConfig struct {
	// Kind is "fs", "redis" or "memory".
	Kind     string `yaml:"kind"`
	Dir      string `yaml:"dir,omitempty"`
	RedisURL string `yaml:"redisURL,omitempty"`
}

// CollabConfig selects the collaboration transport.
type CollabConfig struct {
	// Kind is "none", "memory" or "redis".
	Kind     string `yaml:"kind"`
	RedisURL string `yaml:"redisURL,omitempty"`
}

// EntrySchema declares a singleton or a collection.
type EntrySchema struct {
	// Path is the base path of the entry files. Collections use "*" for the slug.
	Path         string  `yaml:"path"`
	Format       string  `yaml:"format,omitempty"`
	SlugField    string  `yaml:"slugField,omitempty"`
	ContentField string  `yaml:"contentField,omitempty"`
	Fields       []Field `yaml:"fields"`
}

// LoadConfig reads the project file in dir. A missing file is reported as os.ErrNotExist.
func LoadConfig(dir string) (*Config, error) {
	data, err := os.ReadFile(filepath.Join(dir, ConfigFileName))
	if err != nil {
		return nil, err
	}
	return ParseConfig(data)
}

// ParseConfig decodes and validates a project file.
func ParseConfig(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid %s: %w", ConfigFileName, err)
	}
	cfg.applyDefaults()
	if _, err := cfg.Registry(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Storage.Kind == "" {
		c.Storage.Kind = "fs"
	}
	if c.Storage.Branch == "" {
		c.Storage.Branch = "main"
	}
	if c.Drafts.Kind == "" {
		c.Drafts.Kind = "fs"
	}
	if c.Collab.Kind == "" {
		c.Collab.Kind = "none"
	}
}

// Save writes the config to dir.
func (c *Config) Save(dir string) error {
	data, err := encodeYAML(c)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, ConfigFileName), data, 0644)
}

// Registry builds the codecs of every declared entry.
func (c *Config) Registry() (*Registry, error) {
	r := &Registry{
		singletons:  make(map[string]core.EntryConfig, len(c.Singletons)),
		collections: make(map[string]core.EntryConfig, len(c.Collections)),
	}
	var errs []error
	for name, s := range c.Singletons {
		if strings.Contains(s.Path, "*") {
			errs = append(errs, fmt.Errorf("singleton %q: path must not contain '*'", name))
			continue
		}
		cfg, err := s.entryConfig()
		if err != nil {
			errs = append(errs, fmt.Errorf("singleton %q: %w", name, err))
			continue
		}
		r.singletons[name] = cfg
	}
	for name, s := range c.Collections {
		if strings.Count(s.Path, "*") != 1 {
			errs = append(errs, fmt.Errorf("collection %q: path must contain exactly one '*'", name))
			continue
		}
		cfg, err := s.entryConfig()
		if err != nil {
			errs = append(errs, fmt.Errorf("collection %q: %w", name, err))
			continue
		}
		r.collections[name] = cfg
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return r, nil
}

func (s EntrySchema) entryConfig() (core.EntryConfig, error) {
	if s.Path == "" {
		return core.EntryConfig{}, errors.New("path is required")
	}
	format, err := FormatByName(s.Format)
	if err != nil {
		return core.EntryConfig{}, err
	}
	codec, err := NewCodec(s.Fields, format, s.SlugField, s.ContentField)
	if err != nil {
		return core.EntryConfig{}, err
	}
	return core.EntryConfig{Codec: codec, Pattern: strings.Trim(s.Path, "/")}, nil
}

// Registry implements core.Registry over the declared entries.
type Registry struct {
	singletons  map[string]core.EntryConfig
	collections map[string]core.EntryConfig
}

// Resolve implements core.Registry.
func (r *Registry) Resolve(id core.EntryIdentity) (core.EntryConfig, error) {
	var (
		cfg core.EntryConfig
		ok  bool
	)
	switch id.Kind {
	case core.KindSingleton:
		cfg, ok = r.singletons[id.Name]
	case core.KindCollection:
		cfg, ok = r.collections[id.Name]
	}
	if !ok {
		return core.EntryConfig{}, fmt.Errorf("%s %q is not declared in %s", id.Kind, id.Name, ConfigFileName)
	}
	return cfg, nil
}

// Singletons lists the declared singleton names.
func (r *Registry) Singletons() []string {
	return sortedKeys(r.singletons)
}

// Collections lists the declared collection names.
func (r *Registry) Collections() []string {
	return sortedKeys(r.collections)
}

func sortedKeys(m map[string]core.EntryConfig) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

var _ core.Registry = (*Registry)(nil)

// SampleConfig is the project file written by "tilth init".
func SampleConfig() *Config {
	cfg := &Config{
		Singletons: map[string]EntrySchema{
			"settings": {
				Path:   "data/settings",
				Format: "yaml",
				Fields: []Field{
					{Name: "title", Kind: KindText, Required: true, Default: "My site"},
					{Name: "theme", Kind: KindSelect, Options: []string{"light", "dark"}},
				},
			},
		},
		Collections: map[string]EntrySchema{
			"posts": {
				Path:         "content/posts/*",
				Format:       "markdown",
				SlugField:    "slug",
				ContentField: "content",
				Fields: []Field{
					{Name: "slug", Kind: KindSlug},
					{Name: "title", Kind: KindText, Required: true},
					{Name: "published", Kind: KindCheckbox},
					{Name: "date", Kind: KindDate},
					{Name: "tags", Kind: KindMultiselect, Options: []string{"news", "release", "guide"}},
					{Name: "content", Kind: KindDocument},
				},
			},
		},
	}
	cfg.applyDefaults()
	return cfg
}
