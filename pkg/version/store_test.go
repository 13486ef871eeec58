// ABOUTME: Tests for the rollback planner and shared store helpers
// ABOUTME: Uses a scripted history reader so cascades can be checked without a backend

package version

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedHistory is a CascadeReader over hand-built history
type scriptedHistory struct {
	versions   map[Key][]*VersionRecord
	changeSets map[afterKey]*ChangeSet
	failOn     Key
}

func setupTestHistory() *scriptedHistory {
	return &scriptedHistory{
		versions:   make(map[Key][]*VersionRecord),
		changeSets: make(map[afterKey]*ChangeSet),
	}
}

func (h *scriptedHistory) add(key Key, deleted bool, title string) int {
	n := len(h.versions[key]) + 1
	h.versions[key] = append(h.versions[key], &VersionRecord{
		RecordType:    key.Type,
		RecordID:      key.ID,
		VersionNumber: n,
		WasDeleted:    deleted,
		FieldValues:   map[string]any{"Title": title},
	})
	return n
}

func (h *scriptedHistory) group(items ...ChangeSetItem) {
	cs := &ChangeSet{ID: NewChangeSetID(), Items: items}
	for _, it := range items {
		h.changeSets[afterKey{it.Key(), it.VersionAfter}] = cs
	}
}

func (h *scriptedHistory) Latest(key Key) (*VersionRecord, error) {
	if key == h.failOn {
		return nil, errors.New("disk on fire")
	}
	if v := LatestOf(h.versions[key]); v != nil {
		return v, nil
	}
	return nil, notFoundf("%s", key)
}

func (h *scriptedHistory) Version(key Key, number int) (*VersionRecord, error) {
	for _, v := range h.versions[key] {
		if v.VersionNumber == number {
			return v, nil
		}
	}
	return nil, notFoundf("%s v%d", key, number)
}

func (h *scriptedHistory) ChangeSetAfter(key Key, after int) (*ChangeSet, error) {
	if cs, ok := h.changeSets[afterKey{key, after}]; ok {
		return cs, nil
	}
	return nil, notFoundf("%s v%d", key, after)
}

func item(k Key, before, after int) ChangeSetItem {
	return ChangeSetItem{ObjectType: k.Type, ObjectID: k.ID, VersionBefore: before, VersionAfter: after}
}

var (
	pageKey  = Key{Type: "Page", ID: "42"}
	blockKey = Key{Type: "ContentBlock", ID: "1"}
	linkKey  = Key{Type: "Link", ID: "9"}
)

func stepTargets(plan *RollbackPlan) map[Key]int {
	out := make(map[Key]int)
	for _, s := range plan.Steps {
		out[s.Key] = s.Target.VersionNumber
	}
	return out
}

func TestPlanRollbackRootOnly(t *testing.T) {
	h := setupTestHistory()
	for _, title := range []string{"a", "b", "c"} {
		n := h.add(pageKey, false, title)
		h.group(item(pageKey, n-1, n))
	}

	plan, err := PlanRollback(h, RollbackRequest{Key: pageKey, TargetVersion: 1})
	require.NoError(t, err)
	require.Len(t, plan.Steps, 1)
	assert.Equal(t, pageKey, plan.Steps[0].Key)
	assert.Equal(t, 1, plan.Steps[0].Target.VersionNumber)
	assert.Equal(t, 3, plan.Steps[0].Latest.VersionNumber)
}

func TestPlanRollbackCycle(t *testing.T) {
	h := setupTestHistory()
	h.add(pageKey, false, "p1")
	h.add(blockKey, false, "b1")
	h.group(item(pageKey, 0, 1), item(blockKey, 0, 1))
	h.add(pageKey, false, "p2")
	h.add(blockKey, false, "b2")
	h.group(item(pageKey, 1, 2), item(blockKey, 1, 2))
	h.add(blockKey, false, "b3")
	h.add(pageKey, false, "p3")
	h.group(item(blockKey, 2, 3), item(pageKey, 2, 3))

	plan, err := PlanRollback(h, RollbackRequest{Key: pageKey, TargetVersion: 1})
	require.NoError(t, err)
	assert.Equal(t, map[Key]int{pageKey: 1, blockKey: 1}, stepTargets(plan))
	assert.Equal(t, pageKey, plan.Steps[0].Key)
}

func TestPlanRollbackLowersPeerTarget(t *testing.T) {
	h := setupTestHistory()
	h.add(pageKey, false, "p1")
	h.add(linkKey, false, "l1")
	h.add(blockKey, false, "b1")
	h.group(item(pageKey, 0, 1), item(linkKey, 0, 1), item(blockKey, 0, 1))

	h.add(pageKey, false, "p2")
	h.add(blockKey, false, "b2")
	h.group(item(pageKey, 1, 2), item(blockKey, 1, 2))
	h.add(blockKey, false, "b3")
	h.add(linkKey, false, "l2")
	h.group(item(blockKey, 2, 3), item(linkKey, 1, 2))
	h.add(pageKey, false, "p3")
	h.add(linkKey, false, "l3")
	h.group(item(pageKey, 2, 3), item(linkKey, 2, 3))

	// link is first reached from page v3 (target 2), then lowered to 1 through block v3

	plan, err := PlanRollback(h, RollbackRequest{Key: pageKey, TargetVersion: 1})
	require.NoError(t, err)
	assert.Equal(t, map[Key]int{pageKey: 1, linkKey: 1, blockKey: 1}, stepTargets(plan))

	// peers come after the root in key order
	require.Len(t, plan.Steps, 3)
	assert.Equal(t, blockKey, plan.Steps[1].Key)
	assert.Equal(t, linkKey, plan.Steps[2].Key)
}

func TestPlanRollbackSkipsDeletedPeer(t *testing.T) {
	h := setupTestHistory()
	h.add(pageKey, false, "p1")
	h.add(blockKey, false, "b1")
	h.group(item(pageKey, 0, 1), item(blockKey, 0, 1))
	h.add(blockKey, true, "b1")
	h.group(item(blockKey, 1, 2))
	h.add(pageKey, false, "p2")
	h.add(blockKey, false, "b3")
	h.group(item(pageKey, 1, 2), item(blockKey, 2, 3))
	h.add(pageKey, false, "p3")
	h.group(item(pageKey, 2, 3))

	plan, err := PlanRollback(h, RollbackRequest{Key: pageKey, TargetVersion: 1})
	require.NoError(t, err)
	assert.Equal(t, map[Key]int{pageKey: 1}, stepTargets(plan))

	// a later change-set that reaches the block at a live version still cascades
	h.add(linkKey, false, "l1")
	h.add(blockKey, false, "b4")
	h.add(pageKey, false, "p4")
	h.group(item(linkKey, 0, 1), item(blockKey, 3, 4), item(pageKey, 3, 4))

	plan, err = PlanRollback(h, RollbackRequest{Key: pageKey, TargetVersion: 1})
	require.NoError(t, err)
	assert.Equal(t, map[Key]int{pageKey: 1, blockKey: 3}, stepTargets(plan))
}

func TestPlanRollbackFailures(t *testing.T) {
	t.Run("unknown record", func(t *testing.T) {
		_, err := PlanRollback(setupTestHistory(), RollbackRequest{Key: pageKey, TargetVersion: 1})
		assert.Equal(t, InvalidTarget, FailureKindOf(err))
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("stale expected latest", func(t *testing.T) {
		h := setupTestHistory()
		h.add(pageKey, false, "a")
		h.add(pageKey, false, "b")
		_, err := PlanRollback(h, RollbackRequest{Key: pageKey, TargetVersion: 1, ExpectedLatest: 1})
		assert.Equal(t, ConcurrentModification, FailureKindOf(err))
	})

	t.Run("peer read error", func(t *testing.T) {
		h := setupTestHistory()
		h.add(pageKey, false, "p1")
		h.add(blockKey, false, "b1")
		h.add(pageKey, false, "p2")
		h.add(blockKey, false, "b2")
		h.group(item(pageKey, 1, 2), item(blockKey, 1, 2))
		h.failOn = blockKey

		_, err := PlanRollback(h, RollbackRequest{Key: pageKey, TargetVersion: 1})
		var failure *RollbackFailure
		require.ErrorAs(t, err, &failure)
		assert.Equal(t, StorageError, failure.Kind)
		assert.Equal(t, blockKey, failure.Key)
	})

	t.Run("deleted target", func(t *testing.T) {
		h := setupTestHistory()
		h.add(pageKey, false, "a")
		h.add(pageKey, true, "a")
		h.add(pageKey, false, "c")
		_, err := PlanRollback(h, RollbackRequest{Key: pageKey, TargetVersion: 2})
		assert.Equal(t, InvalidTarget, FailureKindOf(err))
	})
}

func TestRollbackStepNewVersion(t *testing.T) {
	target := &VersionRecord{
		RecordType:    "Page",
		RecordID:      "42",
		VersionNumber: 3,
		WasPublished:  true,
		FieldValues:   map[string]any{"Title": "Old", "Tags": []any{"x"}},
	}
	step := RollbackStep{Key: pageKey, Target: target}

	rec := step.NewVersion(6, "bob", target.CreatedAt)
	assert.Equal(t, 6, rec.VersionNumber)
	assert.Equal(t, "bob", rec.AuthorID)
	assert.False(t, rec.WasPublished)
	assert.Equal(t, target.FieldValues, rec.FieldValues)

	rec.FieldValues["Tags"].([]any)[0] = "y"
	assert.Equal(t, "x", target.FieldValues["Tags"].([]any)[0])
}

func TestValidateCommit(t *testing.T) {
	tests := []struct {
		name    string
		req     CommitRequest
		wantErr bool
	}{
		{"empty", CommitRequest{}, true},
		{"missing id", CommitRequest{Writes: []Write{{Key: Key{Type: "Page"}}}}, true},
		{"duplicate", CommitRequest{Writes: []Write{{Key: pageKey}, {Key: pageKey}}}, true},
		{"ok", CommitRequest{Writes: []Write{{Key: pageKey}, {Key: blockKey}}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateCommit(tt.req)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidCommit)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValuesEqual(t *testing.T) {
	assert.True(t, ValuesEqual("a", "a"))
	assert.True(t, ValuesEqual(3, float64(3)))
	assert.True(t, ValuesEqual(int64(3), 3))
	assert.True(t, ValuesEqual(nil, nil))
	assert.True(t, ValuesEqual([]any{1, "x"}, []any{float64(1), "x"}))
	assert.False(t, ValuesEqual("3", 3))
	assert.False(t, ValuesEqual(nil, ""))
	assert.False(t, ValuesEqual(true, false))

	// integers beyond float64 precision compare exactly
	assert.False(t, ValuesEqual(int64(1<<53+1), int64(1<<53)))
	assert.False(t, ValuesEqual(int64(1<<53+1), float64(1<<53)))
	assert.True(t, ValuesEqual(uint64(1<<60), int64(1<<60)))
	assert.True(t, ValuesEqual(int64(1<<53), float64(1<<53)))
}

func TestNormalizeFields(t *testing.T) {
	out, err := NormalizeFields(map[string]any{"n": 2, "nested": map[string]any{"b": []any{int32(1)}}})
	require.NoError(t, err)
	assert.Equal(t, float64(2), out["n"])
	assert.Equal(t, map[string]any{"b": []any{float64(1)}}, out["nested"])

	empty, err := NormalizeFields(nil)
	require.NoError(t, err)
	assert.NotNil(t, empty)

	_, err = NormalizeFields(map[string]any{"ch": make(chan int)})
	assert.ErrorIs(t, err, ErrInvalidCommit)

	out, err = NormalizeFields(map[string]any{"max": int64(MaxExactInt), "min": -MaxExactInt})
	require.NoError(t, err)
	assert.Equal(t, float64(MaxExactInt), out["max"])

	for name, v := range map[string]any{
		"int64":  int64(9007199254740993),
		"uint64": uint64(1 << 63),
		"nested": []any{map[string]any{"ext": -int64(1<<53) - 1}},
	} {
		_, err := NormalizeFields(map[string]any{"Ext": v})
		assert.ErrorIs(t, err, ErrInvalidCommit, name)

		_, err = NormalizeValue(v)
		assert.Error(t, err, name)
	}
}

func TestFilterVersions(t *testing.T) {
	all := []*VersionRecord{
		{VersionNumber: 1}, {VersionNumber: 3, WasDeleted: true}, {VersionNumber: 2},
	}
	got := FilterVersions(all, ListOptions{ExcludeDeleted: true})
	require.Len(t, got, 2)
	assert.Equal(t, 2, got[0].VersionNumber)
	assert.Equal(t, 1, got[1].VersionNumber)

	got = FilterVersions(all, ListOptions{ExcludeVersion: 2})
	require.Len(t, got, 2)
	assert.Equal(t, 3, got[0].VersionNumber)

	assert.Equal(t, 2, LatestOf(all).VersionNumber)
}
