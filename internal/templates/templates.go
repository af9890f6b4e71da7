// Package templates loads the catalog of training programs a session can
// start from.
package templates

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/Nickostick/project-lift-off/internal/models"
)

//go:embed default.yaml
var defaultCatalog []byte

// ErrNotFound is returned for an unknown program or day.
var ErrNotFound = errors.New("template not found")

type file struct {
	Programs []models.ProgramTemplate `yaml:"programs"`
}

// Catalog is an immutable, ordered set of programs.
type Catalog struct {
	programs []models.ProgramTemplate
	byID     map[string]int
}

// Load reads a catalog from path, or the built-in catalog when path is empty.
func Load(path string) (*Catalog, error) {
	data := defaultCatalog
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading templates: %w", err)
		}
		data = b
	}
	return Parse(data)
}

// Parse decodes and validates a YAML catalog.
func Parse(data []byte) (*Catalog, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing templates: %w", err)
	}
	c := &Catalog{byID: make(map[string]int, len(f.Programs))}
	for i, p := range f.Programs {
		p.ID = strings.TrimSpace(p.ID)
		if p.ID == "" {
			return nil, fmt.Errorf("program %d: id is required", i)
		}
		if _, dup := c.byID[p.ID]; dup {
			return nil, fmt.Errorf("program %q: duplicate id", p.ID)
		}
		for _, d := range p.Days {
			if strings.TrimSpace(d.Name) == "" {
				return nil, fmt.Errorf("program %q: day without a name", p.ID)
			}
			for _, ex := range d.Exercises {
				if strings.TrimSpace(ex.Name) == "" {
					return nil, fmt.Errorf("program %q day %q: exercise without a name", p.ID, d.Name)
				}
				if ex.Sets < 1 || ex.Reps < 0 || ex.Weight < 0 {
					return nil, fmt.Errorf("program %q day %q: %s has invalid targets", p.ID, d.Name, ex.Name)
				}
			}
		}
		c.byID[p.ID] = len(c.programs)
		c.programs = append(c.programs, p)
	}
	return c, nil
}

// List returns the programs in file order.
func (c *Catalog) List() []models.ProgramTemplate {
	return append([]models.ProgramTemplate(nil), c.programs...)
}

// Program returns one program by id.
func (c *Catalog) Program(id string) (models.ProgramTemplate, error) {
	i, ok := c.byID[id]
	if !ok {
		return models.ProgramTemplate{}, fmt.Errorf("program %q: %w", id, ErrNotFound)
	}
	return c.programs[i], nil
}

// Day returns a program day by name, case-insensitively.
func (c *Catalog) Day(programID, day string) (models.TemplateDay, error) {
	p, err := c.Program(programID)
	if err != nil {
		return models.TemplateDay{}, err
	}
	for _, d := range p.Days {
		if strings.EqualFold(d.Name, day) {
			return d, nil
		}
	}
	return models.TemplateDay{}, fmt.Errorf("day %q of program %q: %w", day, programID, ErrNotFound)
}
