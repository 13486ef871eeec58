package app

import (
	"context"
	"errors"
	"time"

	"github.com/nainya/revertstore/internal/logger"
	"github.com/nainya/revertstore/internal/metrics"
	"github.com/nainya/revertstore/pkg/revert"
	"github.com/nainya/revertstore/pkg/version"
)

// instrumentedStore records metrics and debug logs around every store call
type instrumentedStore struct {
	next    version.Store
	metrics *metrics.Metrics
	logger  *logger.Logger
}

// Instrument wraps store with operation metrics and logging
func Instrument(store version.Store, m *metrics.Metrics, log *logger.Logger) version.Store {
	return &instrumentedStore{next: store, metrics: m, logger: log}
}

func (s *instrumentedStore) observe(op string, start time.Time, count int, err error) {
	d := time.Since(start)
	status := "success"
	switch {
	case errors.Is(err, version.ErrNotFound):
		status = "not_found"
		err = nil
	case err != nil:
		status = "error"
	}
	s.metrics.RecordStoreOperation(op, status, d)
	s.logger.LogStoreOperation(op, d, count, err)
}

func (s *instrumentedStore) GetLatest(ctx context.Context, key version.Key) (*version.VersionRecord, error) {
	start := time.Now()
	rec, err := s.next.GetLatest(ctx, key)
	s.observe("get_latest", start, 1, err)
	return rec, err
}

func (s *instrumentedStore) GetVersion(ctx context.Context, key version.Key, number int) (*version.VersionRecord, error) {
	start := time.Now()
	rec, err := s.next.GetVersion(ctx, key, number)
	s.observe("get_version", start, 1, err)
	return rec, err
}

func (s *instrumentedStore) ListVersions(ctx context.Context, key version.Key, opts version.ListOptions) ([]*version.VersionRecord, error) {
	start := time.Now()
	recs, err := s.next.ListVersions(ctx, key, opts)
	s.observe("list_versions", start, len(recs), err)
	return recs, err
}

func (s *instrumentedStore) FindChangeSet(ctx context.Context, key version.Key, versionAfter int) (*version.ChangeSet, error) {
	start := time.Now()
	cs, err := s.next.FindChangeSet(ctx, key, versionAfter)
	s.observe("find_change_set", start, 1, err)
	return cs, err
}

func (s *instrumentedStore) GetChangeSet(ctx context.Context, id string) (*version.ChangeSet, error) {
	start := time.Now()
	cs, err := s.next.GetChangeSet(ctx, id)
	s.observe("get_change_set", start, 1, err)
	return cs, err
}

func (s *instrumentedStore) ListRecords(ctx context.Context, recordType string) ([]version.Key, error) {
	start := time.Now()
	keys, err := s.next.ListRecords(ctx, recordType)
	s.observe("list_records", start, len(keys), err)
	return keys, err
}

func (s *instrumentedStore) Commit(ctx context.Context, req version.CommitRequest) (*version.ChangeSet, []*version.VersionRecord, error) {
	start := time.Now()
	cs, recs, err := s.next.Commit(ctx, req)
	s.observe("commit", start, len(recs), err)
	return cs, recs, err
}

func (s *instrumentedStore) RollbackRecursive(ctx context.Context, req version.RollbackRequest) (*version.VersionRecord, error) {
	start := time.Now()
	rec, err := s.next.RollbackRecursive(ctx, req)
	s.observe("rollback", start, 1, err)
	return rec, err
}

func (s *instrumentedStore) Close() error {
	return s.next.Close()
}

var _ version.Store = (*instrumentedStore)(nil)

// revertObserver feeds every revert outcome to metrics and the outcome log
type revertObserver struct {
	metrics *metrics.Metrics
	logger  *logger.Logger
}

func (o revertObserver) ObserveRevert(out revert.Outcome, d time.Duration) {
	o.metrics.ObserveRevert(out, d)
	o.logger.LogRevertOutcome(out.Key.String(), string(out.Status), out.Code(), out.NewVersion)
}

var _ revert.Observer = revertObserver{}
