// Package catalog loads the list of canonical perfume names.
package catalog

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"

	_ "embed"

	"gopkg.in/yaml.v3"
)

//go:embed perfumes.yaml
var defaultCatalog []byte

type file struct {
	Perfumes []string `yaml:"perfumes"`
}

// Default returns the built-in catalog.
func Default() []string {
	names, err := Parse(defaultCatalog)
	if err != nil {
		panic(fmt.Sprintf("embedded catalog is invalid: %v", err))
	}
	return names
}

// Load reads a catalog file. An empty path yields the built-in catalog.
func Load(path string) ([]string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return Default(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading catalog %q: %w", path, err)
	}

	names, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parsing catalog %q: %w", path, err)
	}

	return names, nil
}

// Parse decodes a YAML catalog, trimming names and dropping blanks and
// duplicates while keeping the original order.
func Parse(data []byte) ([]string, error) {
	var f file
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, err
	}

	seen := make(map[string]struct{}, len(f.Perfumes))
	names := make([]string, 0, len(f.Perfumes))
	for _, name := range f.Perfumes {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		names = append(names, name)
	}

	if len(names) == 0 {
		return nil, errors.New("catalog has no perfumes")
	}

	return names, nil
}
