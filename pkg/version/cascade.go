// ABOUTME: Rollback cascade planning over change-set history
// ABOUTME: Computes which records revert together and to which version

package version

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

// CascadeReader is the transactional view a backend hands to PlanRollback.
// Implementations read inside the same transaction that applies the plan.
type CascadeReader interface {
	Latest(key Key) (*VersionRecord, error)
	Version(key Key, number int) (*VersionRecord, error)
	ChangeSetAfter(key Key, versionAfter int) (*ChangeSet, error)
}

// RollbackStep reverts one record to Target, replacing Latest
type RollbackStep struct {
	Key    Key
	Target *VersionRecord
	Latest *VersionRecord
}

// NewVersion builds the snapshot this step writes
func (s RollbackStep) NewVersion(number int, authorID string, at time.Time) *VersionRecord {
	return &VersionRecord{
		RecordType:    s.Key.Type,
		RecordID:      s.Key.ID,
		VersionNumber: number,
		CreatedAt:     at,
		AuthorID:      authorID,
		FieldValues:   CloneFields(s.Target.FieldValues),
	}
}

// RollbackPlan lists the steps of one cascade; the root record is always first
type RollbackPlan struct {
	Steps []RollbackStep
}

// PlanRollback resolves the root target and walks the change-sets of every
// version after it. Peers revert to the version they had before the shared
// change-set; when a peer is reached more than once the earliest version wins.
// Peers created by the change-set, or deleted just before it, are left as they are.
func PlanRollback(r CascadeReader, req RollbackRequest) (*RollbackPlan, error) {
	root := req.Key

	latest, err := r.Latest(root)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, NewRollbackFailure(InvalidTarget, root, err)
		}
		return nil, NewRollbackFailure(StorageError, root, err)
	}
	if req.ExpectedLatest > 0 && latest.VersionNumber != req.ExpectedLatest {
		return nil, NewRollbackFailure(ConcurrentModification, root,
			fmt.Errorf("latest is %d, expected %d", latest.VersionNumber, req.ExpectedLatest))
	}
	if req.TargetVersion < 1 || req.TargetVersion > latest.VersionNumber {
		return nil, NewRollbackFailure(InvalidTarget, root,
			notFoundf("version %d of %s", req.TargetVersion, root))
	}

	targets := map[Key]int{root: req.TargetVersion}
	latests := map[Key]*VersionRecord{root: latest}
	queue := []Key{root}

	for len(queue) > 0 {
		k := queue[0]
		queue = queue[1:]

		for n := targets[k] + 1; n <= latests[k].VersionNumber; n++ {
			cs, err := r.ChangeSetAfter(k, n)
			if errors.Is(err, ErrNotFound) {
				continue
			}
			if err != nil {
				return nil, NewRollbackFailure(StorageError, k, err)
			}

			for _, item := range cs.Items {
				peer := item.Key()
				if peer == k || item.VersionBefore == 0 {
					continue
				}
				if cur, seen := targets[peer]; seen && cur <= item.VersionBefore {
					continue
				}
				if _, ok := latests[peer]; !ok {
					pl, err := r.Latest(peer)
					if errors.Is(err, ErrNotFound) {
						continue
					}
					if err != nil {
						return nil, NewRollbackFailure(StorageError, peer, err)
					}
					latests[peer] = pl
				}
				if item.VersionBefore >= latests[peer].VersionNumber {
					continue
				}
				// a peer that was deleted before the change-set has no live state to restore
				before, err := r.Version(peer, item.VersionBefore)
				if errors.Is(err, ErrNotFound) {
					continue
				}
				if err != nil {
					return nil, NewRollbackFailure(StorageError, peer, err)
				}
				if before.WasDeleted {
					continue
				}
				targets[peer] = item.VersionBefore
				queue = append(queue, peer)
			}
		}
	}

	peers := make([]Key, 0, len(targets)-1)
	for k := range targets {
		if k != root {
			peers = append(peers, k)
		}
	}
	sort.Slice(peers, func(i, j int) bool {
		return peers[i].String() < peers[j].String()
	})

	plan := &RollbackPlan{}
	for _, k := range append([]Key{root}, peers...) {
		target, err := r.Version(k, targets[k])
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return nil, NewRollbackFailure(InvalidTarget, k, err)
			}
			return nil, NewRollbackFailure(StorageError, k, err)
		}
		if target.WasDeleted {
			return nil, NewRollbackFailure(InvalidTarget, k,
				fmt.Errorf("version %d of %s is a deletion marker", target.VersionNumber, k))
		}
		plan.Steps = append(plan.Steps, RollbackStep{Key: k, Target: target, Latest: latests[k]})
	}
	return plan, nil
}
