package query

import (
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed all:presets
var presetFS embed.FS

// Preset is a named canned query loaded from the embedded catalog.
type Preset struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	// Edges selects which edges the traversal may follow: "escalation"
	// (rule-produced only) or "any".
	Edges string `yaml:"edges"`
	// Labels optionally restricts traversal to specific edge labels.
	Labels []string `yaml:"labels,omitempty"`
	// Target selects which discovered paths are reported: "any" keeps
	// every path, "admin" keeps paths ending on an admin-tagged node.
	Target string `yaml:"target"`
}

// loadedPresets holds the parsed catalog keyed by name.
var loadedPresets = mustLoadPresets()

func mustLoadPresets() map[string]Preset {
	presets := make(map[string]Preset)
	err := fs.WalkDir(presetFS, ".", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), ".yaml") {
			return nil
		}
		data, err := fs.ReadFile(presetFS, path)
		if err != nil {
			return err
		}
		var p Preset
		if err := yaml.Unmarshal(data, &p); err != nil {
			return fmt.Errorf("preset %s: %w", path, err)
		}
		if p.Name == "" {
			return fmt.Errorf("preset %s: missing name", path)
		}
		presets[p.Name] = p
		slog.Debug("loaded preset query", "name", p.Name)
		return nil
	})
	if err != nil {
		// The catalog is embedded at build time; failing to parse it is
		// a packaging defect.
		panic(err)
	}
	return presets
}

// Presets returns the catalog sorted by name.
func Presets() []Preset {
	names := make([]string, 0, len(loadedPresets))
	for name := range loadedPresets {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]Preset, len(names))
	for i, name := range names {
		out[i] = loadedPresets[name]
	}
	return out
}
