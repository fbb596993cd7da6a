// Package catalog holds the read-only scheme and localization table.
//
// A Catalog is built once at process start (from the embedded default or a
// YAML file) and shared by every session; nothing mutates it afterwards.
package catalog

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/ashureev/sahayak/internal/domain"
	"gopkg.in/yaml.v3"
)

//go:embed schemes.yaml
var defaultCatalog []byte

// ErrUnknownScheme is returned when a scheme id is not in the catalog.
var ErrUnknownScheme = errors.New("unknown scheme")

// Catalog is the immutable scheme/localization lookup table.
type Catalog struct {
	languages  []string
	schemes    []*domain.SchemeRecord
	byID       map[string]*domain.SchemeRecord
	categories map[string][]string
	offices    map[string][]domain.Office
	labels     map[string]map[string]string
	messages   map[string]map[string]string
}

type fileFormat struct {
	Languages  []string                     `yaml:"languages"`
	Categories map[string][]string          `yaml:"categories"`
	Offices    map[string][]domain.Office   `yaml:"offices"`
	Labels     map[string]map[string]string `yaml:"labels"`
	Messages   map[string]map[string]string `yaml:"messages"`
	Schemes    []domain.SchemeRecord        `yaml:"schemes"`
}

// Default returns the catalog compiled into the binary.
func Default() (*Catalog, error) {
	return Parse(defaultCatalog)
}

// Load reads a catalog from path, or the embedded default when path is empty.
func Load(path string) (*Catalog, error) {
	if path == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes and validates catalog YAML.
func Parse(data []byte) (*Catalog, error) {
	var f fileFormat
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	if len(f.Languages) == 0 {
		return nil, fmt.Errorf("catalog declares no languages")
	}

	c := &Catalog{
		languages:  f.Languages,
		byID:       make(map[string]*domain.SchemeRecord, len(f.Schemes)),
		categories: f.Categories,
		offices:    f.Offices,
		labels:     f.Labels,
		messages:   f.Messages,
	}
	for i := range f.Schemes {
		s := f.Schemes[i]
		if err := validateScheme(&s); err != nil {
			return nil, err
		}
		if _, dup := c.byID[s.ID]; dup {
			return nil, fmt.Errorf("duplicate scheme id %q", s.ID)
		}
		for _, cr := range s.Criteria {
			if cr.Field == domain.FieldState && cr.Kind == domain.CriterionEnum {
				s.States = append(s.States, cr.Values...)
			}
		}
		c.byID[s.ID] = &s
		c.schemes = append(c.schemes, &s)
	}
	sort.Slice(c.schemes, func(i, j int) bool { return c.schemes[i].ID < c.schemes[j].ID })

	for _, lang := range c.languages {
		if _, ok := c.messages[lang]; !ok {
			return nil, fmt.Errorf("catalog has no messages for language %q", lang)
		}
	}
	return c, nil
}

func validateScheme(s *domain.SchemeRecord) error {
	if strings.TrimSpace(s.ID) == "" {
		return fmt.Errorf("scheme without id")
	}
	for _, cr := range s.Criteria {
		kind, ok := domain.KindOf(cr.Field)
		if !ok {
			return fmt.Errorf("scheme %s: criterion on unknown field %q", s.ID, cr.Field)
		}
		switch cr.Kind {
		case domain.CriterionRange:
			if kind != domain.KindNumeric || (cr.Min == nil && cr.Max == nil) {
				return fmt.Errorf("scheme %s: invalid range criterion on %s", s.ID, cr.Field)
			}
		case domain.CriterionBoolean:
			if kind != domain.KindBoolean || cr.Want == nil {
				return fmt.Errorf("scheme %s: invalid boolean criterion on %s", s.ID, cr.Field)
			}
		case domain.CriterionEnum:
			if kind != domain.KindCategorical || len(cr.Values) == 0 {
				return fmt.Errorf("scheme %s: invalid enum criterion on %s", s.ID, cr.Field)
			}
		default:
			return fmt.Errorf("scheme %s: unknown criterion kind %q", s.ID, cr.Kind)
		}
	}
	return nil
}

// Schemes returns all schemes ordered by id. Callers must not modify them.
func (c *Catalog) Schemes() []*domain.SchemeRecord { return c.schemes }

// Scheme looks up a scheme by id.
func (c *Catalog) Scheme(id string) (*domain.SchemeRecord, error) {
	s, ok := c.byID[strings.ToLower(strings.TrimSpace(id))]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownScheme, id)
	}
	return s, nil
}

// Languages lists the supported response languages.
func (c *Catalog) Languages() []string { return c.languages }

// SupportsLanguage reports whether lang has localized messages.
func (c *Catalog) SupportsLanguage(lang string) bool {
	_, ok := c.messages[lang]
	return ok
}

// Categories returns category → keyword lists.
func (c *Catalog) Categories() map[string][]string { return c.categories }

// Offices returns the application offices for a category.
func (c *Catalog) Offices(category string) []domain.Office {
	if o, ok := c.offices[category]; ok {
		return o
	}
	return c.offices["default"]
}

// Label returns the localized display string for a field name.
func (c *Catalog) Label(lang string, field domain.Field) string {
	if l := c.labels[lang][string(field)]; l != "" {
		return l
	}
	if l := c.labels["english"][string(field)]; l != "" {
		return l
	}
	return string(field)
}

// Message formats the localized message template key with args.
func (c *Catalog) Message(lang, key string, args ...any) string {
	tmpl := c.messages[lang][key]
	if tmpl == "" {
		tmpl = c.messages["english"][key]
	}
	if tmpl == "" {
		return key
	}
	if len(args) == 0 {
		return tmpl
	}
	return fmt.Sprintf(tmpl, args...)
}
