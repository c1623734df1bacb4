package platform

import (
	"errors"
	"fmt"
	"os"

	"github.com/aretw0/tilth/pkg/schema"
)

// InitProject prepares root as a content root. The project file is written only when
// missing (cfg nil means schema.SampleConfig), then the workspace is opened once so the
// selected store creates its directories or repository.
//
// It returns the resolved root.
func InitProject(root string, cfg *schema.Config, opts ...Option) (string, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	resolved := ResolveRoot(root, IsDevRun() && o.devSafety())

	if err := os.MkdirAll(resolved, 0755); err != nil {
		return "", fmt.Errorf("failed to create root: %w", err)
	}

	existing, err := schema.LoadConfig(resolved)
	switch {
	case err == nil:
		cfg = existing
	case errors.Is(err, os.ErrNotExist):
		if cfg == nil {
			cfg = schema.SampleConfig()
		}
		if err := cfg.Save(resolved); err != nil {
			return "", fmt.Errorf("failed to write %s: %w", schema.ConfigFileName, err)
		}
	default:
		return "", err
	}

	// The sandbox was already applied above.
	opts = append(opts, WithProject(cfg), WithDevSafety(false))
	ws, err := New(resolved, opts...)
	if err != nil {
		return "", err
	}
	return resolved, ws.Close()
}
