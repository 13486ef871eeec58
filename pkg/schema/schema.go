// ABOUTME: Per-record-type schema descriptors
// ABOUTME: Ordered field lists with labels and relation/ignore flags, loaded from YAML

package schema

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// DefaultIgnoredFields lists publication metadata and audit fields never diffed
var DefaultIgnoredFields = []string{
	"WasPublished",
	"WasDeleted",
	"Version",
	"Created",
	"LastEdited",
	"AuthorID",
	"PublisherID",
}

// DefaultIgnoreSet returns DefaultIgnoredFields as a set
func DefaultIgnoreSet() map[string]bool {
	set := make(map[string]bool, len(DefaultIgnoredFields))
	for _, name := range DefaultIgnoredFields {
		set[name] = true
	}
	return set
}

// Field describes one field of a record type. A nil Relation falls back to
// the ...ID naming convention.
type Field struct {
	Name     string `yaml:"name"`
	Label    string `yaml:"label"`
	Relation *bool  `yaml:"relation"`
	Ignore   bool   `yaml:"ignore"`
}

// Bool returns a pointer to b, for Field.Relation literals
func Bool(b bool) *bool {
	return &b
}

// Descriptor describes a record type. Field order is declaration order.
type Descriptor struct {
	Type       string  `yaml:"type"`
	Singular   string  `yaml:"singular"`
	TitleField string  `yaml:"title_field"`
	Fields     []Field `yaml:"fields"`
}

// Field looks up a declared field
func (d *Descriptor) Field(name string) (Field, bool) {
	if d == nil {
		return Field{}, false
	}
	for _, f := range d.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// Label returns the display label of a field, falling back to its name
func (d *Descriptor) Label(name string) string {
	if f, ok := d.Field(name); ok && f.Label != "" {
		return f.Label
	}
	return name
}

// IsRelation reports whether a field references another record. An explicit
// relation flag wins; otherwise the ...ID naming convention decides.
func (d *Descriptor) IsRelation(name string) bool {
	if f, ok := d.Field(name); ok && f.Relation != nil {
		return *f.Relation
	}
	return IsRelationName(name)
}

// IsIgnored reports whether the descriptor marks a field as never diffed
func (d *Descriptor) IsIgnored(name string) bool {
	f, ok := d.Field(name)
	return ok && f.Ignore
}

// SingularName returns the human label of the type
func (d *Descriptor) SingularName() string {
	if d == nil {
		return ""
	}
	if d.Singular != "" {
		return d.Singular
	}
	return d.Type
}

// IsRelationName matches foreign-key style names such as ParentID
func IsRelationName(name string) bool {
	return len(name) > 2 && strings.HasSuffix(name, "ID")
}

func (d *Descriptor) validate() error {
	if d.Type == "" {
		return errors.New("schema: descriptor without type")
	}
	seen := make(map[string]bool, len(d.Fields))
	for _, f := range d.Fields {
		if f.Name == "" {
			return fmt.Errorf("schema: %s has a field without name", d.Type)
		}
		if seen[f.Name] {
			return fmt.Errorf("schema: %s declares %s twice", d.Type, f.Name)
		}
		seen[f.Name] = true
	}
	if d.TitleField != "" && !seen[d.TitleField] {
		return fmt.Errorf("schema: %s title field %s is not declared", d.Type, d.TitleField)
	}
	return nil
}

// Registry holds descriptors by record type. Safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	byType map[string]*Descriptor
}

// NewRegistry creates a registry; invalid descriptors panic
func NewRegistry(descriptors ...*Descriptor) *Registry {
	r := &Registry{byType: make(map[string]*Descriptor)}
	for _, d := range descriptors {
		if err := r.Register(d); err != nil {
			panic(err)
		}
	}
	return r
}

// Register adds or replaces a descriptor
func (r *Registry) Register(d *Descriptor) error {
	if d == nil {
		return errors.New("schema: nil descriptor")
	}
	if err := d.validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byType[d.Type] = d
	return nil
}

// Get returns the descriptor of a type
func (r *Registry) Get(recordType string) (*Descriptor, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.byType[recordType]
	return d, ok
}

// Lookup returns the descriptor of a type, or an empty one carrying only the type name
func (r *Registry) Lookup(recordType string) *Descriptor {
	if d, ok := r.Get(recordType); ok {
		return d
	}
	return &Descriptor{Type: recordType}
}

// Types returns registered type names sorted
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.byType))
	for t := range r.byType {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

type file struct {
	Types []*Descriptor `yaml:"types"`
}

// LoadYAML reads descriptors from a YAML document of the form
//
//	types:
//	  - type: Page
//	    singular: Page
//	    title_field: Title
//	    fields:
//	      - {name: Title, label: Page title}
//	      - {name: ParentID, relation: true}
func LoadYAML(r io.Reader) (*Registry, error) {
	var f file
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("schema: decode: %w", err)
	}

	reg := NewRegistry()
	for _, d := range f.Types {
		if _, dup := reg.Get(d.Type); dup {
			return nil, fmt.Errorf("schema: type %s declared twice", d.Type)
		}
		if err := reg.Register(d); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

// LoadFile reads descriptors from a YAML file
func LoadFile(path string) (*Registry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("schema: %w", err)
	}
	defer f.Close()
	return LoadYAML(f)
}
