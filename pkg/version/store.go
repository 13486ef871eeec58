// ABOUTME: Version store contract shared by every backend
// ABOUTME: Read paths for history listings plus the transactional rollback primitive

package version

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"
)

// Reader exposes read-only access to a record's version history
type Reader interface {
	// GetLatest returns the highest non-deleted version
	GetLatest(ctx context.Context, key Key) (*VersionRecord, error)
	GetVersion(ctx context.Context, key Key, number int) (*VersionRecord, error)
	// ListVersions returns versions in strictly descending order
	ListVersions(ctx context.Context, key Key, opts ListOptions) ([]*VersionRecord, error)
}

// ChangeSetReader exposes read-only access to change-sets
type ChangeSetReader interface {
	// FindChangeSet returns the change-set holding the item (key, versionAfter)
	FindChangeSet(ctx context.Context, key Key, versionAfter int) (*ChangeSet, error)
	GetChangeSet(ctx context.Context, id string) (*ChangeSet, error)
}

// Store owns durable version history and change-sets
type Store interface {
	Reader
	ChangeSetReader

	// RollbackRecursive creates a new latest version equal to the target and
	// reverts every change-set peer edited after it. All or nothing.
	RollbackRecursive(ctx context.Context, req RollbackRequest) (*VersionRecord, error)

	// Commit saves records together and groups them in one change-set
	Commit(ctx context.Context, req CommitRequest) (*ChangeSet, []*VersionRecord, error)

	// ListRecords returns every record key of a type, ordered by id
	ListRecords(ctx context.Context, recordType string) ([]Key, error)

	Close() error
}

// NewChangeSetID returns a time-ordered change-set identifier
func NewChangeSetID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return "cs-" + uuid.NewString()
	}
	return "cs-" + id.String()
}

// ValidateCommit checks a commit request before any backend touches storage
func ValidateCommit(req CommitRequest) error {
	if len(req.Writes) == 0 {
		return fmt.Errorf("%w: no writes", ErrInvalidCommit)
	}
	seen := make(map[Key]bool, len(req.Writes))
	for _, w := range req.Writes {
		if w.Key.Type == "" || w.Key.ID == "" {
			return fmt.Errorf("%w: incomplete key %q", ErrInvalidCommit, w.Key)
		}
		if seen[w.Key] {
			return fmt.Errorf("%w: duplicate write for %s", ErrInvalidCommit, w.Key)
		}
		seen[w.Key] = true
	}
	return nil
}

// FilterVersions applies list options and sorts descending by version number
func FilterVersions(all []*VersionRecord, opts ListOptions) []*VersionRecord {
	out := make([]*VersionRecord, 0, len(all))
	for _, v := range all {
		if opts.ExcludeDeleted && v.WasDeleted {
			continue
		}
		if opts.ExcludeVersion > 0 && v.VersionNumber == opts.ExcludeVersion {
			continue
		}
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].VersionNumber > out[j].VersionNumber
	})
	return out
}

// LatestOf picks the highest non-deleted version from an unordered slice
func LatestOf(all []*VersionRecord) *VersionRecord {
	var latest *VersionRecord
	for _, v := range all {
		if v.WasDeleted {
			continue
		}
		if latest == nil || v.VersionNumber > latest.VersionNumber {
			latest = v
		}
	}
	return latest
}
