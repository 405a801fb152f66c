// Package registry loads container definitions from disk and flattens
// their inheritance chain into merged, in-memory containers (spec
// §4.1).
package registry

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/benkle-apps/sergio/pkg/action"
	"github.com/benkle-apps/sergio/pkg/model"
	"github.com/benkle-apps/sergio/pkg/sergioerr"
	"gopkg.in/yaml.v3"
)

// Registry loads and memoizes container definitions by id for the
// duration of one CLI invocation.
type Registry struct {
	definitionsDir string

	loaded     map[string]*model.Container
	inProgress map[string]bool
}

// New creates a Registry rooted at definitionsDir (the "definitions"
// path from the root config, spec §3).
func New(definitionsDir string) *Registry {
	return &Registry{
		definitionsDir: definitionsDir,
		loaded:         make(map[string]*model.Container),
		inProgress:     make(map[string]bool),
	}
}

// Has reports whether a definition file exists for id.
func (r *Registry) Has(id string) bool {
	_, err := r.definitionPath(id)
	return err == nil
}

// Get returns the merged container for id, loading and flattening its
// extends chain on first use and memoizing the result.
func (r *Registry) Get(id string) (*model.Container, error) {
	if c, ok := r.loaded[id]; ok {
		return c, nil
	}
	if r.inProgress[id] {
		return nil, sergioerr.New(sergioerr.ParseError, id, "circular extends chain detected")
	}

	r.inProgress[id] = true
	defer delete(r.inProgress, id)

	def, err := r.loadDefinition(id)
	if err != nil {
		return nil, err
	}

	var container *model.Container
	if def.Extends == "" {
		container = model.NewFromDefinition(def)
	} else {
		parent, err := r.Get(def.Extends)
		if err != nil {
			return nil, err
		}
		container = model.MergeChild(parent, def)
	}

	r.loaded[id] = container
	return container, nil
}

// definitionPath resolves id's definition file, preferring ".yaml" over
// ".yml" (spec §3 invariant 1).
func (r *Registry) definitionPath(id string) (string, error) {
	yamlPath := filepath.Join(r.definitionsDir, id+".yaml")
	if _, err := os.Stat(yamlPath); err == nil {
		return yamlPath, nil
	}
	ymlPath := filepath.Join(r.definitionsDir, id+".yml")
	if _, err := os.Stat(ymlPath); err == nil {
		return ymlPath, nil
	}
	return "", sergioerr.New(sergioerr.DefinitionNotFound, id,
		fmt.Sprintf("no %s.yaml or %s.yml under %s", id, id, r.definitionsDir))
}

// onDisk is the top-level shape of one definition file's "container:"
// mapping. Files and Actions reuse pkg/action's own yaml.Unmarshaler
// implementations (Files.UnmarshalYAML, Item.UnmarshalYAML) so the tag
// surface (!rpc, !df, !tf, !rm, !cwd, !echo, !load, !idle, !parent) is
// decoded in one pass alongside the rest of the document.
type onDisk struct {
	Container struct {
		Name        string                      `yaml:"name"`
		Description string                      `yaml:"description"`
		Box         string                      `yaml:"box"`
		Shell       string                      `yaml:"shell"`
		User        string                      `yaml:"user"`
		Extends     string                      `yaml:"extends"`
		Requires    []string                    `yaml:"requires"`
		Variables   map[string]string           `yaml:"variables"`
		Files       action.Files                `yaml:"files"`
		Mountpoints map[string]model.Mountpoint `yaml:"mountpoints"`
		Ports       []model.Port                `yaml:"ports"`
		Actions     map[string]action.Frame     `yaml:"actions"`
	} `yaml:"container"`
}

func (r *Registry) loadDefinition(id string) (*model.Definition, error) {
	path, err := r.definitionPath(id)
	if err != nil {
		return nil, err
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, sergioerr.Wrap(sergioerr.DefinitionNotFound, id, "reading definition file", err)
	}

	var doc onDisk
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, sergioerr.Wrap(sergioerr.ParseError, id, "parsing definition yaml", err)
	}

	if doc.Container.Name == "" {
		return nil, sergioerr.New(sergioerr.ParseError, id, "container.name is required")
	}
	if doc.Container.Description == "" {
		return nil, sergioerr.New(sergioerr.ParseError, id, "container.description is required")
	}

	return &model.Definition{
		ID:          id,
		Name:        doc.Container.Name,
		Description: doc.Container.Description,
		Box:         doc.Container.Box,
		Shell:       doc.Container.Shell,
		User:        doc.Container.User,
		Extends:     doc.Container.Extends,
		Requires:    doc.Container.Requires,
		Variables:   doc.Container.Variables,
		Files:       doc.Container.Files,
		Mountpoints: doc.Container.Mountpoints,
		Ports:       doc.Container.Ports,
		Actions:     doc.Container.Actions,
	}, nil
}
