// ABOUTME: Change-set resolution over version history
// ABOUTME: Finds the change-set behind a version and lists the records saved with it

package changeset

import (
	"context"
	"errors"
	"fmt"

	"github.com/nainya/revertstore/pkg/schema"
	"github.com/nainya/revertstore/pkg/version"
)

// Source is the read side of a version store
type Source interface {
	version.Reader
	version.ChangeSetReader
}

// Resolver projects change-sets for review screens. It never writes.
type Resolver struct {
	src     Source
	schemas *schema.Registry
}

// NewResolver creates a resolver; schemas may be nil
func NewResolver(src Source, schemas *schema.Registry) *Resolver {
	return &Resolver{src: src, schemas: schemas}
}

// RelatedItem is a change-set item resolved for display
type RelatedItem struct {
	Item   version.ChangeSetItem
	Name   string                 // singular type label
	Title  string                 // record title when the schema names a title field
	Record *version.VersionRecord // snapshot at VersionAfter, nil if gone
}

// FindChangeSetFor locates the change-set whose item is (key, versionAfter).
// A missing change-set is reported as false with a nil error.
func (r *Resolver) FindChangeSetFor(ctx context.Context, key version.Key, versionAfter int) (*version.ChangeSet, bool, error) {
	cs, err := r.src.FindChangeSet(ctx, key, versionAfter)
	if errors.Is(err, version.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("find change-set for %s v%d: %w", key, versionAfter, err)
	}
	return cs, true, nil
}

// ItemsOf returns the items of cs in commit order
func (r *Resolver) ItemsOf(cs *version.ChangeSet) []version.ChangeSetItem {
	if cs == nil {
		return nil
	}
	return append([]version.ChangeSetItem(nil), cs.Items...)
}

// ItemAtVersion returns the record snapshot an item produced
func (r *Resolver) ItemAtVersion(ctx context.Context, item version.ChangeSetItem) (*version.VersionRecord, error) {
	return r.src.GetVersion(ctx, item.Key(), item.VersionAfter)
}

// ItemName returns the singular label of the item's record type
func (r *Resolver) ItemName(item version.ChangeSetItem) string {
	return r.schemas.Lookup(item.ObjectType).SingularName()
}

// RelatedItems resolves every other item saved together with (key, versionAfter)
func (r *Resolver) RelatedItems(ctx context.Context, key version.Key, versionAfter int) ([]RelatedItem, error) {
	cs, ok, err := r.FindChangeSetFor(ctx, key, versionAfter)
	if err != nil || !ok {
		return nil, err
	}

	var out []RelatedItem
	for _, item := range r.ItemsOf(cs) {
		if item.Key() == key {
			continue
		}
		rec, err := r.ItemAtVersion(ctx, item)
		if err != nil && !errors.Is(err, version.ErrNotFound) {
			return nil, err
		}
		out = append(out, RelatedItem{
			Item:   item,
			Name:   r.ItemName(item),
			Title:  Title(r.schemas.Lookup(item.ObjectType), rec),
			Record: rec,
		})
	}
	return out, nil
}

// Title renders the title field of rec, or "" when the type has none
func Title(d *schema.Descriptor, rec *version.VersionRecord) string {
	if d == nil || d.TitleField == "" || rec == nil {
		return ""
	}
	v := rec.Field(d.TitleField)
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}
