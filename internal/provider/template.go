package provider

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Template describes the environment a sandbox is seeded from.
type Template struct {
	Name     string            `yaml:"name"`
	Image    string            `yaml:"image"`
	WorkRoot string            `yaml:"work_root"`
	Env      map[string]string `yaml:"env"`
	// Command keeps the environment alive while the renderer inside it runs.
	Command []string `yaml:"command"`
}

// DefaultTemplate is used when a provision request names no template.
func DefaultTemplate() Template {
	return Template{
		Name:     "default",
		Image:    "python:3.12-slim",
		WorkRoot: "/workspace",
		Command:  []string{"sleep", "infinity"},
	}
}

// LoadTemplate reads a named template from dir. An empty name resolves to the
// built-in default.
func LoadTemplate(dir, name string) (Template, error) {
	if name == "" {
		return DefaultTemplate(), nil
	}
	if dir == "" {
		return Template{}, fmt.Errorf("template %q requested but no templates directory configured", name)
	}

	path := filepath.Join(dir, name+".yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		return Template{}, fmt.Errorf("reading template %s: %w", path, err)
	}

	var t Template
	if err := yaml.Unmarshal(data, &t); err != nil {
		return Template{}, fmt.Errorf("parsing template %s: %w", path, err)
	}
	if t.Name == "" {
		t.Name = name
	}
	if t.WorkRoot == "" {
		t.WorkRoot = "/workspace"
	}
	if len(t.Command) == 0 {
		t.Command = []string{"sleep", "infinity"}
	}
	return t, nil
}
