// Package library loads roles and templates from YAML bundles.
//
// A bundle file holds either or both lists:
//
//	roles:
//	  - id: critic
//	    name: Critic
//	    prompt: Find the weakest claim.
//	templates:
//	  - id: review
//	    steps:
//	      - order: 1
//	        speaker: author
//	        task_type: opening
//	        context_scope: last_n:3
package library

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/aretw0/parley/pkg/adapters/memory"
	"github.com/aretw0/parley/pkg/domain"
	"github.com/aretw0/parley/pkg/flow"
	"gopkg.in/yaml.v3"
)

// Bundle is the document layout of a library file.
type Bundle struct {
	Roles     []domain.Role    `yaml:"roles"`
	Templates []map[string]any `yaml:"templates"`
}

// Decode reads a single bundle. Templates are decoded and validated.
func Decode(r io.Reader) ([]domain.Role, []*domain.Template, error) {
	var b Bundle
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&b); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil, nil
		}
		return nil, nil, fmt.Errorf("failed to parse bundle: %w", err)
	}

	templates := make([]*domain.Template, 0, len(b.Templates))
	for i, raw := range b.Templates {
		t, err := flow.DecodeTemplate(raw)
		if err != nil {
			return nil, nil, fmt.Errorf("templates[%d]: %w", i, err)
		}
		if err := flow.Validate(t); err != nil {
			return nil, nil, err
		}
		templates = append(templates, t)
	}
	return b.Roles, templates, nil
}

// LoadFile loads one bundle into a new catalog.
func LoadFile(path string) (*memory.Catalog, error) {
	c := memory.NewCatalog()
	if err := loadInto(c, path); err != nil {
		return nil, err
	}
	return c, nil
}

// LoadDir loads every *.yaml and *.yml file under dir (recursively) into one catalog.
// Duplicate IDs across files are an error.
func LoadDir(dir string) (*memory.Catalog, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		switch strings.ToLower(filepath.Ext(path)) {
		case ".yaml", ".yml":
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan library %s: %w", dir, err)
	}
	sort.Strings(files)

	c := memory.NewCatalog()
	origin := make(map[string]string)
	for _, path := range files {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
		roles, templates, err := Decode(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		for _, r := range roles {
			key := "role/" + r.ID
			if prev, dup := origin[key]; dup {
				return nil, fmt.Errorf("collision detected: role %q is defined in both %s and %s", r.ID, prev, path)
			}
			origin[key] = path
		}
		for _, t := range templates {
			key := "template/" + t.ID
			if prev, dup := origin[key]; dup {
				return nil, fmt.Errorf("collision detected: template %q is defined in both %s and %s", t.ID, prev, path)
			}
			origin[key] = path
		}
		if err := c.AddRoles(roles...); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		if err := c.AddTemplates(templates...); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
	}
	return c, nil
}

func loadInto(c *memory.Catalog, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	roles, templates, err := Decode(f)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	if err := c.AddRoles(roles...); err != nil {
		return err
	}
	return c.AddTemplates(templates...)
}
