// Package skills serves named Markdown skill documents to agents via the
// _skills extension methods.
package skills

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Skill is one named document. Description is the first non-heading line of
// the file.
type Skill struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// Registry lists and loads skills from a directory of .md files.
type Registry struct {
	dir string
}

// NewRegistry builds a registry over the given directory. The directory may
// be missing; List then returns nothing.
func NewRegistry(dir string) *Registry {
	return &Registry{dir: dir}
}

// List enumerates the available skills.
func (r *Registry) List() ([]Skill, error) {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var out []Skill
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".md") {
			continue
		}
		name := strings.TrimSuffix(entry.Name(), ".md")
		out = append(out, Skill{
			Name:        name,
			Description: r.description(entry.Name()),
		})
	}
	return out, nil
}

// Load returns the full content of one skill document.
func (r *Registry) Load(name string) (string, error) {
	if name == "" || strings.ContainsAny(name, "/\\") || strings.Contains(name, "..") {
		return "", fmt.Errorf("invalid skill name: %q", name)
	}
	data, err := os.ReadFile(filepath.Join(r.dir, name+".md"))
	if err != nil {
		return "", fmt.Errorf("load skill %q: %w", name, err)
	}
	return string(data), nil
}

func (r *Registry) description(filename string) string {
	data, err := os.ReadFile(filepath.Join(r.dir, filename))
	if err != nil {
		return ""
	}
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		return line
	}
	return ""
}
