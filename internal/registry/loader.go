package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"orchd/internal/common/fsutil"
	"orchd/pkg/types"
)

// LoadDir scans a directory for *.gguf files and builds a registry from
// filenames, merging each model's fixed port from the bindings table.
// ID is the full filename (including extension); Path is the absolute file
// path. Models without a port binding are still listed so misconfiguration
// is visible in /status rather than silently absent.
func LoadDir(dir string, ports map[string]int) ([]types.Model, error) {
	base, err := fsutil.ExpandHome(dir)
	if err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(base)
	if err != nil {
		return nil, fmt.Errorf("abs path: %w", err)
	}
	entries, err := os.ReadDir(abs)
	if err != nil {
		return nil, fmt.Errorf("read dir: %w", err)
	}
	var models []types.Model
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasSuffix(strings.ToLower(name), ".gguf") {
			continue
		}
		models = append(models, types.Model{
			ID:   name,
			Name: name,
			Path: filepath.Join(abs, name),
			Port: ports[name],
		})
	}
	return models, nil
}

// Resolver builds a lookup func over the registry for the supervisor.
func Resolver(models []types.Model) func(id string) (types.Model, bool) {
	byID := make(map[string]types.Model, len(models))
	for _, m := range models {
		byID[m.ID] = m
	}
	return func(id string) (types.Model, bool) {
		m, ok := byID[id]
		return m, ok
	}
}
