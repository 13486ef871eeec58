// ABOUTME: Review screens data: version history rows, version view and unpublished report
// ABOUTME: Read-only projections over the version store, gated by the actor's view permission

package review

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/nainya/revertstore/pkg/changeset"
	"github.com/nainya/revertstore/pkg/diff"
	"github.com/nainya/revertstore/pkg/revert"
	"github.com/nainya/revertstore/pkg/schema"
	"github.com/nainya/revertstore/pkg/version"
)

// TimeLayout renders creation and edit times in messages
const TimeLayout = "2006-01-02 15:04:05"

// ErrNoAccess is returned by View when the actor cannot view the record
var ErrNoAccess = errors.New("no access to record")

// Source is the read side of a version store plus record enumeration
type Source interface {
	changeset.Source
	ListRecords(ctx context.Context, recordType string) ([]version.Key, error)
}

// RowState is the review state of one history row
type RowState string

const (
	StateLatest     RowState = "LATEST_VERSION"
	StateWorkflowed RowState = "WORKFLOWED"
	StateReview     RowState = "REVIEW"
)

// HistoryRow is one entry of a record's version history
type HistoryRow struct {
	Version      int
	EditedAt     time.Time
	Title        string
	AuthorID     string
	WasPublished bool
	State        RowState
	Link         string // only for StateReview
}

// VersionView is a single version shown for review
type VersionView struct {
	Key      version.Key
	Record   *version.VersionRecord // nil when the version does not exist
	Latest   *version.VersionRecord
	IsLatest bool
	Message  string
	Diffs    []diff.FieldDiff // viewed version against latest
	Related  []changeset.RelatedItem
}

// UnpublishedRow is one entry of the unpublished report
type UnpublishedRow struct {
	Key           version.Key
	Title         string
	LastEditedAt  time.Time
	UnpublishedAt *time.Time // nil when never published
}

// Option configures a Service
type Option func(*Service)

// WithAuthorizer sets the permission source. Without one nothing is visible.
func WithAuthorizer(a revert.AuthorizationProvider) Option {
	return func(s *Service) { s.auth = a }
}

// WithWorkflow sets the workflow source used for row states
func WithWorkflow(w revert.WorkflowProvider) Option {
	return func(s *Service) { s.workflow = w }
}

// Service builds review data
type Service struct {
	src      Source
	schemas  *schema.Registry
	resolver *changeset.Resolver
	diffs    *diff.Engine
	auth     revert.AuthorizationProvider
	workflow revert.WorkflowProvider
}

// NewService creates a review service; schemas may be nil
func NewService(src Source, schemas *schema.Registry, opts ...Option) *Service {
	s := &Service{
		src:      src,
		schemas:  schemas,
		resolver: changeset.NewResolver(src, schemas),
		diffs:    diff.NewEngine(schemas),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) canView(ctx context.Context, actorID string, key version.Key) (bool, error) {
	if s.auth == nil {
		return false, nil
	}
	perms, err := s.auth.Permissions(ctx, actorID, key)
	if err != nil {
		return false, fmt.Errorf("resolve permissions for %s: %w", key, err)
	}
	return perms.CanView, nil
}

func (s *Service) workflowActive(ctx context.Context, key version.Key) (bool, error) {
	if s.workflow == nil {
		return false, nil
	}
	active, err := s.workflow.WorkflowActive(ctx, key)
	if err != nil {
		return false, fmt.Errorf("resolve workflow for %s: %w", key, err)
	}
	return active, nil
}

// History lists the non-deleted versions of key, newest first, leaving out the
// version being viewed (0 for none).
func (s *Service) History(ctx context.Context, key version.Key, viewing int, actorID string) ([]HistoryRow, error) {
	ok, err := s.canView(ctx, actorID, key)
	if err != nil || !ok {
		return nil, err
	}

	versions, err := s.src.ListVersions(ctx, key, version.ListOptions{ExcludeDeleted: true, ExcludeVersion: viewing})
	if err != nil {
		return nil, fmt.Errorf("list versions of %s: %w", key, err)
	}
	latest, err := s.src.GetLatest(ctx, key)
	if err != nil && !errors.Is(err, version.ErrNotFound) {
		return nil, fmt.Errorf("latest of %s: %w", key, err)
	}
	inWorkflow, err := s.workflowActive(ctx, key)
	if err != nil {
		return nil, err
	}

	d := s.schemas.Lookup(key.Type)
	rows := make([]HistoryRow, 0, len(versions))
	for _, v := range versions {
		row := HistoryRow{
			Version:      v.VersionNumber,
			EditedAt:     v.CreatedAt,
			Title:        changeset.Title(d, v),
			AuthorID:     v.AuthorID,
			WasPublished: v.WasPublished,
		}
		switch {
		case latest != nil && v.VersionNumber == latest.VersionNumber:
			row.State = StateLatest
		case inWorkflow:
			row.State = StateWorkflowed
		default:
			row.State = StateReview
			row.Link = fmt.Sprintf("%s=%d", revert.VersionParam, v.VersionNumber)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// View resolves the requested version for review. An empty rawVersion views the
// latest version. A missing version yields a view with a nil Record and an
// explanatory message rather than an error.
func (s *Service) View(ctx context.Context, key version.Key, rawVersion, actorID string) (*VersionView, error) {
	ok, err := s.canView(ctx, actorID, key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNoAccess
	}

	view := &VersionView{Key: key}
	view.Latest, err = s.src.GetLatest(ctx, key)
	if err != nil && !errors.Is(err, version.ErrNotFound) {
		return nil, fmt.Errorf("latest of %s: %w", key, err)
	}

	if rawVersion == "" {
		if view.Latest == nil {
			view.Message = "This record has no live version"
			return view, nil
		}
		view.Record = view.Latest
	} else {
		n, valid := revert.ParseVersion(rawVersion)
		if !valid {
			view.Message = fmt.Sprintf("No version #%s found for this record", rawVersion)
			return view, nil
		}
		view.Record, err = s.src.GetVersion(ctx, key, n)
		if errors.Is(err, version.ErrNotFound) {
			view.Message = fmt.Sprintf("No version #%d found for this record", n)
			return view, nil
		}
		if err != nil {
			return nil, fmt.Errorf("version %d of %s: %w", n, key, err)
		}
	}

	created := view.Record.CreatedAt.Format(TimeLayout)
	view.IsLatest = view.Latest != nil && view.Latest.VersionNumber == view.Record.VersionNumber
	if view.IsLatest {
		view.Message = fmt.Sprintf("You are currently viewing the latest version, created %s", created)
	} else {
		view.Message = fmt.Sprintf("You are currently viewing version %d, created %s", view.Record.VersionNumber, created)
		view.Diffs = s.diffs.Diff(view.Record, view.Latest, nil)
	}

	view.Related, err = s.resolver.RelatedItems(ctx, key, view.Record.VersionNumber)
	if err != nil {
		return nil, err
	}
	return view, nil
}

// UnpublishedReport lists the visible records of recordType whose live state
// is off: never published, or whose last publication event was an unpublish.
func (s *Service) UnpublishedReport(ctx context.Context, recordType, actorID string) ([]UnpublishedRow, error) {
	keys, err := s.src.ListRecords(ctx, recordType)
	if err != nil {
		return nil, fmt.Errorf("list %s records: %w", recordType, err)
	}

	d := s.schemas.Lookup(recordType)
	var rows []UnpublishedRow
	for _, key := range keys {
		ok, err := s.canView(ctx, actorID, key)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		row, listed, err := s.unpublished(ctx, d, key)
		if err != nil {
			return nil, err
		}
		if listed {
			rows = append(rows, row)
		}
	}

	if d.TitleField != "" {
		sort.SliceStable(rows, func(i, j int) bool {
			if rows[i].Title != rows[j].Title {
				return rows[i].Title < rows[j].Title
			}
			return rows[i].Key.ID < rows[j].Key.ID
		})
	} else {
		sort.SliceStable(rows, func(i, j int) bool {
			return rows[i].LastEditedAt.After(rows[j].LastEditedAt)
		})
	}
	return rows, nil
}

func (s *Service) unpublished(ctx context.Context, d *schema.Descriptor, key version.Key) (UnpublishedRow, bool, error) {
	latest, err := s.src.GetLatest(ctx, key)
	if errors.Is(err, version.ErrNotFound) {
		return UnpublishedRow{}, false, nil
	}
	if err != nil {
		return UnpublishedRow{}, false, fmt.Errorf("latest of %s: %w", key, err)
	}

	versions, err := s.src.ListVersions(ctx, key, version.ListOptions{})
	if err != nil {
		return UnpublishedRow{}, false, fmt.Errorf("list versions of %s: %w", key, err)
	}

	row := UnpublishedRow{Key: key, Title: changeset.Title(d, latest), LastEditedAt: latest.CreatedAt}
	for _, v := range versions {
		if !v.WasPublished {
			continue
		}
		if !v.WasDeleted {
			return UnpublishedRow{}, false, nil
		}
		at := v.CreatedAt
		row.UnpublishedAt = &at
		break
	}
	return row, true, nil
}
