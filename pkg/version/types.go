// ABOUTME: Version history data model
// ABOUTME: Immutable record snapshots and the change-sets that group them

package version

import (
	"fmt"
	"time"
)

// Key identifies a versioned record
type Key struct {
	Type string // Record type identifier (e.g. "Page")
	ID   string // Record identifier within the type
}

// String renders the key as Type#ID
func (k Key) String() string {
	return fmt.Sprintf("%s#%s", k.Type, k.ID)
}

// VersionRecord is an immutable snapshot of a record at a point in time
type VersionRecord struct {
	RecordType    string
	RecordID      string
	VersionNumber int // Monotonic, >= 1, unique per record
	CreatedAt     time.Time
	AuthorID      string
	WasPublished  bool
	WasDeleted    bool
	FieldValues   map[string]any
}

// Key returns the record key of this snapshot
func (v *VersionRecord) Key() Key {
	return Key{Type: v.RecordType, ID: v.RecordID}
}

// Field returns a single field value, nil when absent
func (v *VersionRecord) Field(name string) any {
	if v == nil || v.FieldValues == nil {
		return nil
	}
	return v.FieldValues[name]
}

// Clone returns a deep copy so callers can never mutate stored history
func (v *VersionRecord) Clone() *VersionRecord {
	if v == nil {
		return nil
	}
	out := *v
	out.FieldValues = CloneFields(v.FieldValues)
	return &out
}

// ChangeSetItem records one record's transition inside a change-set
type ChangeSetItem struct {
	ObjectType    string
	ObjectID      string
	VersionBefore int // 0 when the record was created by this change-set
	VersionAfter  int
}

// Key returns the record key the item refers to
func (i ChangeSetItem) Key() Key {
	return Key{Type: i.ObjectType, ID: i.ObjectID}
}

// ChangeSet groups version changes committed atomically
type ChangeSet struct {
	ID        string
	CreatedAt time.Time
	AuthorID  string
	Items     []ChangeSetItem
}

// Clone returns a copy with its own item slice
func (cs *ChangeSet) Clone() *ChangeSet {
	if cs == nil {
		return nil
	}
	out := *cs
	out.Items = append([]ChangeSetItem(nil), cs.Items...)
	return &out
}

// ListOptions filters history listings
type ListOptions struct {
	ExcludeDeleted bool
	ExcludeVersion int // 0 = exclude nothing
}

// Write is one record save inside a commit
type Write struct {
	Key       Key
	Fields    map[string]any
	Published bool
	Deleted   bool
}

// CommitRequest saves one or more records together
type CommitRequest struct {
	AuthorID string
	Writes   []Write
}

// RollbackRequest asks the store to revert a record (and its change-set peers)
type RollbackRequest struct {
	Key           Key
	TargetVersion int
	// ExpectedLatest guards against concurrent writers; 0 disables the check
	ExpectedLatest int
	AuthorID       string
}
