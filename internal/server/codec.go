package server

import (
	"fmt"
	"math"
	"strconv"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/nainya/revertstore/pkg/changeset"
	"github.com/nainya/revertstore/pkg/diff"
	"github.com/nainya/revertstore/pkg/review"
	"github.com/nainya/revertstore/pkg/revert"
	"github.com/nainya/revertstore/pkg/version"
)

// request field accessors

func field(req *structpb.Struct, name string) *structpb.Value {
	if req == nil {
		return nil
	}
	return req.GetFields()[name]
}

func stringField(req *structpb.Struct, name string) string {
	v := field(req, name)
	switch k := v.GetKind().(type) {
	case *structpb.Value_StringValue:
		return k.StringValue
	case *structpb.Value_NumberValue:
		return strconv.FormatFloat(k.NumberValue, 'f', -1, 64)
	default:
		return ""
	}
}

func boolField(req *structpb.Struct, name string) bool {
	return field(req, name).GetBoolValue()
}

// intField reads an optional integer; present is false when the field is absent
func intField(req *structpb.Struct, name string) (n int, present bool, err error) {
	v := field(req, name)
	switch k := v.GetKind().(type) {
	case nil, *structpb.Value_NullValue:
		return 0, false, nil
	case *structpb.Value_NumberValue:
		if k.NumberValue != math.Trunc(k.NumberValue) {
			return 0, true, status.Errorf(codes.InvalidArgument, "%s must be an integer", name)
		}
		return int(k.NumberValue), true, nil
	case *structpb.Value_StringValue:
		n, ok := revert.ParseVersion(k.StringValue)
		if !ok {
			return 0, true, status.Errorf(codes.InvalidArgument, "%s must be an integer", name)
		}
		return n, true, nil
	default:
		return 0, true, status.Errorf(codes.InvalidArgument, "%s must be an integer", name)
	}
}

func requiredInt(req *structpb.Struct, name string) (int, error) {
	n, present, err := intField(req, name)
	if err != nil {
		return 0, err
	}
	if !present {
		return 0, status.Errorf(codes.InvalidArgument, "%s is required", name)
	}
	return n, nil
}

func requiredString(req *structpb.Struct, name string) (string, error) {
	s := stringField(req, name)
	if s == "" {
		return "", status.Errorf(codes.InvalidArgument, "%s is required", name)
	}
	return s, nil
}

func keyField(req *structpb.Struct) (version.Key, error) {
	typ, err := requiredString(req, "type")
	if err != nil {
		return version.Key{}, err
	}
	id, err := requiredString(req, "id")
	if err != nil {
		return version.Key{}, err
	}
	return version.Key{Type: typ, ID: id}, nil
}

func stringList(v *structpb.Value) []string {
	var out []string
	for _, item := range v.GetListValue().GetValues() {
		if s := item.GetStringValue(); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func writesField(req *structpb.Struct) ([]version.Write, error) {
	list := field(req, "writes").GetListValue().GetValues()
	if len(list) == 0 {
		return nil, status.Error(codes.InvalidArgument, "writes is required")
	}
	writes := make([]version.Write, 0, len(list))
	for i, item := range list {
		w := item.GetStructValue()
		key, err := keyField(w)
		if err != nil {
			return nil, status.Errorf(codes.InvalidArgument, "writes[%d]: %s", i, status.Convert(err).Message())
		}
		writes = append(writes, version.Write{
			Key:       key,
			Fields:    field(w, "fields").GetStructValue().AsMap(),
			Published: boolField(w, "published"),
			Deleted:   boolField(w, "deleted"),
		})
	}
	return writes, nil
}

// response builders

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func keyMap(k version.Key) map[string]any {
	return map[string]any{"type": k.Type, "id": k.ID}
}

func recordMap(rec *version.VersionRecord) map[string]any {
	fields := rec.FieldValues
	if fields == nil {
		fields = map[string]any{}
	}
	return map[string]any{
		"type":          rec.RecordType,
		"id":            rec.RecordID,
		"version":       rec.VersionNumber,
		"created_at":    formatTime(rec.CreatedAt),
		"author_id":     rec.AuthorID,
		"was_published": rec.WasPublished,
		"was_deleted":   rec.WasDeleted,
		"fields":        fields,
	}
}

func changeSetMap(cs *version.ChangeSet) map[string]any {
	items := make([]any, 0, len(cs.Items))
	for _, item := range cs.Items {
		items = append(items, map[string]any{
			"type":           item.ObjectType,
			"id":             item.ObjectID,
			"version_before": item.VersionBefore,
			"version_after":  item.VersionAfter,
		})
	}
	return map[string]any{
		"id":         cs.ID,
		"created_at": formatTime(cs.CreatedAt),
		"author_id":  cs.AuthorID,
		"items":      items,
	}
}

func relatedList(items []changeset.RelatedItem) []any {
	out := make([]any, 0, len(items))
	for _, r := range items {
		out = append(out, map[string]any{
			"type":          r.Item.ObjectType,
			"id":            r.Item.ObjectID,
			"name":          r.Name,
			"title":         r.Title,
			"version_after": r.Item.VersionAfter,
			"exists":        r.Record != nil,
		})
	}
	return out
}

func diffList(diffs []diff.FieldDiff) []any {
	out := make([]any, 0, len(diffs))
	for _, d := range diffs {
		out = append(out, map[string]any{
			"name":    d.Name,
			"label":   d.Label,
			"current": d.CurrentValue,
			"other":   d.OtherValue,
		})
	}
	return out
}

func outcomeMap(out revert.Outcome) map[string]any {
	return map[string]any{
		"status":      string(out.Status),
		"code":        out.Code(),
		"message":     out.Message(),
		"reverted_to": out.RevertedTo,
		"new_version": out.NewVersion,
		"affected":    out.Affected,
	}
}

func historyList(rows []review.HistoryRow) []any {
	out := make([]any, 0, len(rows))
	for _, r := range rows {
		out = append(out, map[string]any{
			"version":       r.Version,
			"edited_at":     formatTime(r.EditedAt),
			"title":         r.Title,
			"author_id":     r.AuthorID,
			"was_published": r.WasPublished,
			"state":         string(r.State),
			"link":          r.Link,
		})
	}
	return out
}

func unpublishedList(rows []review.UnpublishedRow) []any {
	out := make([]any, 0, len(rows))
	for _, r := range rows {
		row := keyMap(r.Key)
		row["title"] = r.Title
		row["last_edited_at"] = formatTime(r.LastEditedAt)
		row["unpublished_at"] = nil
		if r.UnpublishedAt != nil {
			row["unpublished_at"] = formatTime(*r.UnpublishedAt)
		}
		out = append(out, row)
	}
	return out
}

func response(m map[string]any) (*structpb.Struct, error) {
	s, err := structpb.NewStruct(m)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	return s, nil
}

// RequestFor builds a request struct, panicking on values structpb cannot hold.
// Intended for literals in clients and tests.
func RequestFor(m map[string]any) *structpb.Struct {
	s, err := structpb.NewStruct(m)
	if err != nil {
		panic(fmt.Sprintf("server: invalid request: %v", err))
	}
	return s
}
