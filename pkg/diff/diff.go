// Package diff compares two versions of a record field by field.
package diff

import (
	"sort"

	"github.com/nainya/revertstore/pkg/schema"
	"github.com/nainya/revertstore/pkg/version"
)

// FieldDiff is one changed field
type FieldDiff struct {
	Name         string
	Label        string
	CurrentValue any
	OtherValue   any
}

// Engine diffs versions using the schema registry for order, labels and relations
type Engine struct {
	schemas *schema.Registry
}

// NewEngine creates an engine; schemas may be nil
func NewEngine(schemas *schema.Registry) *Engine {
	return &Engine{schemas: schemas}
}

// Diff reports the fields whose values differ between current and other.
// A nil ignored set means schema.DefaultIgnoredFields. Two snapshots of the same
// record at the same version never differ. Relation fields are
// always skipped; they surface as change-set items instead.
//
// Fields come in schema declaration order, then undeclared fields by name.
// Both records' fields are considered, so Diff(a, b) and Diff(b, a) name the
// same fields.
func (e *Engine) Diff(current, other *version.VersionRecord, ignored map[string]bool) []FieldDiff {
	if current == nil || other == nil {
		return nil
	}
	if current.Key() == other.Key() && current.VersionNumber == other.VersionNumber {
		return nil
	}
	if ignored == nil {
		ignored = schema.DefaultIgnoreSet()
	}

	d := e.schemas.Lookup(current.RecordType)
	var out []FieldDiff
	for _, name := range fieldOrder(d, current, other) {
		if ignored[name] || d.IsIgnored(name) || d.IsRelation(name) {
			continue
		}
		cur, oth := current.Field(name), other.Field(name)
		if version.ValuesEqual(cur, oth) {
			continue
		}
		out = append(out, FieldDiff{
			Name:         name,
			Label:        d.Label(name),
			CurrentValue: cur,
			OtherValue:   oth,
		})
	}
	return out
}

// ChangedNames returns the names of a diff in order
func ChangedNames(diffs []FieldDiff) []string {
	names := make([]string, len(diffs))
	for i, fd := range diffs {
		names[i] = fd.Name
	}
	return names
}

func fieldOrder(d *schema.Descriptor, records ...*version.VersionRecord) []string {
	declared := make(map[string]bool, len(d.Fields))
	present := make(map[string]bool)
	for _, rec := range records {
		for name := range rec.FieldValues {
			present[name] = true
		}
	}

	var order []string
	for _, f := range d.Fields {
		declared[f.Name] = true
		if present[f.Name] {
			order = append(order, f.Name)
		}
	}

	var extra []string
	for name := range present {
		if !declared[name] {
			extra = append(extra, name)
		}
	}
	sort.Strings(extra)
	return append(order, extra...)
}
