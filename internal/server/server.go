// Package server implements the gRPC revertstore service
package server

import (
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/nainya/revertstore/internal/app"
	"github.com/nainya/revertstore/pkg/changeset"
	"github.com/nainya/revertstore/pkg/diff"
	"github.com/nainya/revertstore/pkg/review"
	"github.com/nainya/revertstore/pkg/revert"
	"github.com/nainya/revertstore/pkg/version"
)

// Server implements RevertServiceServer over an App
type Server struct {
	app      *app.App
	diffs    *diff.Engine
	resolver *changeset.Resolver
}

// NewServer creates a gRPC server instance
func NewServer(a *app.App) *Server {
	return &Server{
		app:      a,
		diffs:    diff.NewEngine(a.Schemas),
		resolver: changeset.NewResolver(a.Store, a.Schemas),
	}
}

// toStatus maps domain errors onto gRPC codes; status errors pass through
func toStatus(err error) error {
	if _, ok := status.FromError(err); ok {
		return err
	}
	switch {
	case errors.Is(err, version.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, version.ErrInvalidCommit):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, review.ErrNoAccess):
		return status.Error(codes.PermissionDenied, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

func (s *Server) permissions(ctx context.Context, key version.Key) (revert.Permissions, error) {
	perms, err := s.app.Authorizer.Permissions(ctx, ActorFromContext(ctx), key)
	if err != nil {
		return perms, toStatus(err)
	}
	return perms, nil
}

func (s *Server) requireView(ctx context.Context, key version.Key) error {
	perms, err := s.permissions(ctx, key)
	if err != nil {
		return err
	}
	if !perms.CanView {
		return status.Errorf(codes.PermissionDenied, "no view access to %s", key)
	}
	return nil
}

func (s *Server) requireEdit(ctx context.Context, key version.Key) error {
	perms, err := s.permissions(ctx, key)
	if err != nil {
		return err
	}
	if !perms.CanEdit {
		return status.Errorf(codes.PermissionDenied, "no edit access to %s", key)
	}
	return nil
}

// ========== Writes ==========

func (s *Server) Commit(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	writes, err := writesField(req)
	if err != nil {
		return nil, err
	}
	for _, w := range writes {
		if err := s.requireEdit(ctx, w.Key); err != nil {
			return nil, err
		}
	}

	cs, recs, err := s.app.Store.Commit(ctx, version.CommitRequest{AuthorID: ActorFromContext(ctx), Writes: writes})
	if err != nil {
		return nil, toStatus(err)
	}
	out := changeSetMap(cs)
	versions := make([]any, 0, len(recs))
	for _, rec := range recs {
		versions = append(versions, recordMap(rec))
	}
	out["versions"] = versions
	return response(out)
}

func (s *Server) Execute(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	key, err := keyField(req)
	if err != nil {
		return nil, err
	}
	out := s.app.Executor.Revert(ctx, ActorFromContext(ctx), key, stringField(req, "version"))
	return response(outcomeMap(out))
}

func (s *Server) SetWorkflow(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	key, err := keyField(req)
	if err != nil {
		return nil, err
	}
	if err := s.requireEdit(ctx, key); err != nil {
		return nil, err
	}
	active := boolField(req, "active")
	s.app.SetWorkflow(key, active)
	return response(map[string]any{"type": key.Type, "id": key.ID, "active": active})
}

// ========== Reads ==========

func (s *Server) GetLatest(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	key, err := keyField(req)
	if err != nil {
		return nil, err
	}
	if err := s.requireView(ctx, key); err != nil {
		return nil, err
	}
	rec, err := s.app.Store.GetLatest(ctx, key)
	if err != nil {
		return nil, toStatus(err)
	}
	return response(recordMap(rec))
}

func (s *Server) GetVersion(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	key, err := keyField(req)
	if err != nil {
		return nil, err
	}
	n, err := requiredInt(req, "version")
	if err != nil {
		return nil, err
	}
	if err := s.requireView(ctx, key); err != nil {
		return nil, err
	}
	rec, err := s.app.Store.GetVersion(ctx, key, n)
	if err != nil {
		return nil, toStatus(err)
	}
	return response(recordMap(rec))
}

func (s *Server) ListVersions(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	key, err := keyField(req)
	if err != nil {
		return nil, err
	}
	exclude, _, err := intField(req, "exclude_version")
	if err != nil {
		return nil, err
	}
	if err := s.requireView(ctx, key); err != nil {
		return nil, err
	}
	recs, err := s.app.Store.ListVersions(ctx, key, version.ListOptions{
		ExcludeDeleted: boolField(req, "exclude_deleted"),
		ExcludeVersion: exclude,
	})
	if err != nil {
		return nil, toStatus(err)
	}
	list := make([]any, 0, len(recs))
	for _, rec := range recs {
		list = append(list, recordMap(rec))
	}
	return response(map[string]any{"versions": list})
}

// Diff compares version against other_version, or against latest when other_version is absent
func (s *Server) Diff(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	key, err := keyField(req)
	if err != nil {
		return nil, err
	}
	n, err := requiredInt(req, "version")
	if err != nil {
		return nil, err
	}
	otherN, hasOther, err := intField(req, "other_version")
	if err != nil {
		return nil, err
	}
	if err := s.requireView(ctx, key); err != nil {
		return nil, err
	}

	current, err := s.app.Store.GetVersion(ctx, key, n)
	if err != nil {
		return nil, toStatus(err)
	}
	var other *version.VersionRecord
	if hasOther {
		other, err = s.app.Store.GetVersion(ctx, key, otherN)
	} else {
		other, err = s.app.Store.GetLatest(ctx, key)
	}
	if err != nil {
		return nil, toStatus(err)
	}

	var ignored map[string]bool
	if names := stringList(field(req, "ignore")); len(names) > 0 {
		ignored = make(map[string]bool, len(names))
		for _, name := range names {
			ignored[name] = true
		}
	}
	diffs := s.diffs.Diff(current, other, ignored)
	return response(map[string]any{
		"version":       current.VersionNumber,
		"other_version": other.VersionNumber,
		"diffs":         diffList(diffs),
	})
}

func (s *Server) History(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	key, err := keyField(req)
	if err != nil {
		return nil, err
	}
	viewing, _, err := intField(req, "viewing")
	if err != nil {
		return nil, err
	}
	rows, err := s.app.Review.History(ctx, key, viewing, ActorFromContext(ctx))
	if err != nil {
		return nil, toStatus(err)
	}
	return response(map[string]any{"rows": historyList(rows)})
}

// ChangeSet returns the change-set that produced version, with the other records saved alongside
func (s *Server) ChangeSet(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	key, err := keyField(req)
	if err != nil {
		return nil, err
	}
	n, err := requiredInt(req, "version")
	if err != nil {
		return nil, err
	}
	if err := s.requireView(ctx, key); err != nil {
		return nil, err
	}

	cs, ok, err := s.resolver.FindChangeSetFor(ctx, key, n)
	if err != nil {
		return nil, toStatus(err)
	}
	if !ok {
		return nil, status.Errorf(codes.NotFound, "no change-set produced %s v%d", key, n)
	}
	related, err := s.resolver.RelatedItems(ctx, key, n)
	if err != nil {
		return nil, toStatus(err)
	}
	out := changeSetMap(cs)
	out["related"] = relatedList(related)
	return response(out)
}

func (s *Server) UnpublishedReport(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	typ, err := requiredString(req, "type")
	if err != nil {
		return nil, err
	}
	rows, err := s.app.Review.UnpublishedReport(ctx, typ, ActorFromContext(ctx))
	if err != nil {
		return nil, toStatus(err)
	}
	return response(map[string]any{"rows": unpublishedList(rows)})
}

var _ RevertServiceServer = (*Server)(nil)
