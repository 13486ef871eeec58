package schema

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const pageSchema = `
types:
  - type: Page
    singular: Page
    title_field: Title
    fields:
      - {name: Title, label: Page title}
      - {name: Content}
      - {name: Parent, relation: true}
      - {name: Internal, ignore: true}
      - {name: ExternalID, relation: false}
  - type: ContentBlock
    singular: Content block
    fields:
      - {name: Title}
`

func TestLoadYAML(t *testing.T) {
	reg, err := LoadYAML(strings.NewReader(pageSchema))
	require.NoError(t, err)
	assert.Equal(t, []string{"ContentBlock", "Page"}, reg.Types())

	page, ok := reg.Get("Page")
	require.True(t, ok)
	assert.Equal(t, "Title", page.TitleField)
	require.Len(t, page.Fields, 5)
	assert.Equal(t, "Content", page.Fields[1].Name)
	assert.Equal(t, "Page title", page.Label("Title"))
	assert.Equal(t, "Content", page.Label("Content"))
	assert.Equal(t, "Unknown", page.Label("Unknown"))
	assert.True(t, page.IsIgnored("Internal"))
	assert.False(t, page.IsIgnored("Title"))
	assert.True(t, page.IsRelation("Parent"))
	assert.False(t, page.IsRelation("ExternalID"))

	block := reg.Lookup("ContentBlock")
	assert.Equal(t, "Content block", block.SingularName())
}

func TestLoadYAMLErrors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"unknown key", "types:\n  - type: Page\n    colour: red\n"},
		{"missing type", "types:\n  - fields: [{name: Title}]\n"},
		{"duplicate field", "types:\n  - type: Page\n    fields: [{name: A}, {name: A}]\n"},
		{"duplicate type", "types:\n  - type: Page\n  - type: Page\n"},
		{"undeclared title", "types:\n  - type: Page\n    title_field: Title\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadYAML(strings.NewReader(tt.doc))
			assert.Error(t, err)
		})
	}
}

func TestLoadYAMLEmpty(t *testing.T) {
	reg, err := LoadYAML(strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, reg.Types())
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "schema.yaml")
	require.NoError(t, os.WriteFile(path, []byte(pageSchema), 0o644))

	reg, err := LoadFile(path)
	require.NoError(t, err)
	_, ok := reg.Get("Page")
	assert.True(t, ok)

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestIsRelation(t *testing.T) {
	d := &Descriptor{Type: "Page", Fields: []Field{
		{Name: "Parent", Relation: Bool(true)},
		{Name: "Title"},
		{Name: "UUID", Relation: Bool(false)},
	}}

	assert.True(t, d.IsRelation("Parent"))
	assert.True(t, d.IsRelation("ParentID"))
	assert.True(t, d.IsRelation("ImageID"))
	assert.False(t, d.IsRelation("ID"))
	assert.False(t, d.IsRelation("Title"))
	assert.False(t, d.IsRelation("Width"))
	assert.False(t, d.IsRelation("UUID"))
	assert.True(t, d.IsRelation("GUID"))
}

func TestLookupUnknownType(t *testing.T) {
	reg := NewRegistry()
	d := reg.Lookup("Widget")
	assert.Equal(t, "Widget", d.Type)
	assert.Equal(t, "Widget", d.SingularName())
	assert.Empty(t, d.Fields)

	var nilReg *Registry
	_, ok := nilReg.Get("Widget")
	assert.False(t, ok)
}

func TestDefaultIgnoreSet(t *testing.T) {
	set := DefaultIgnoreSet()
	for _, name := range []string{"WasPublished", "WasDeleted", "Version", "Created", "LastEdited", "AuthorID", "PublisherID"} {
		assert.True(t, set[name], name)
	}
	assert.False(t, set["Title"])
}

func TestNewRegistryPanicsOnInvalid(t *testing.T) {
	assert.Panics(t, func() { NewRegistry(&Descriptor{}) })
}
