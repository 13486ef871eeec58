// ABOUTME: Revert executor orchestrating policy checks and store rollbacks
// ABOUTME: Denials never touch storage; failures are classified, never swallowed

package revert

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/nainya/revertstore/pkg/version"
)

// SpanName is the name of the span wrapping each Execute call
const SpanName = "revertstore/revert"

// Observer receives every outcome, typically to record metrics
type Observer interface {
	ObserveRevert(outcome Outcome, duration time.Duration)
}

// Option configures an Executor
type Option func(*Executor)

// WithPolicy replaces DefaultPolicy
func WithPolicy(p Policy) Option {
	return func(e *Executor) { e.policy = p }
}

// WithLogger sets the logger; the default discards
func WithLogger(l zerolog.Logger) Option {
	return func(e *Executor) { e.logger = l.With().Str("component", "revert").Logger() }
}

// WithObserver registers an outcome observer
func WithObserver(o Observer) Option {
	return func(e *Executor) { e.observer = o }
}

// WithAuthorizer sets the provider used by Prepare
func WithAuthorizer(a AuthorizationProvider) Option {
	return func(e *Executor) { e.auth = a }
}

// WithWorkflow sets the provider used by Prepare
func WithWorkflow(w WorkflowProvider) Option {
	return func(e *Executor) { e.workflow = w }
}

// WithTracerProvider overrides the global OpenTelemetry tracer provider
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(e *Executor) { e.tracer = tp.Tracer("github.com/nainya/revertstore/pkg/revert") }
}

// Executor runs revert requests against a version store
type Executor struct {
	store    version.Store
	policy   Policy
	logger   zerolog.Logger
	observer Observer
	auth     AuthorizationProvider
	workflow WorkflowProvider
	tracer   trace.Tracer
}

// NewExecutor creates an executor over store
func NewExecutor(store version.Store, opts ...Option) *Executor {
	e := &Executor{
		store:  store,
		policy: DefaultPolicy(),
		logger: zerolog.Nop(),
		tracer: otel.Tracer("github.com/nainya/revertstore/pkg/revert"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Policy returns the policy in effect
func (e *Executor) Policy() Policy {
	return e.policy
}

// Prepare builds a request, resolving permissions and workflow state through
// the configured providers. Without an authorizer the actor gets no permissions.
func (e *Executor) Prepare(ctx context.Context, actorID string, key version.Key, rawVersion string) (Request, error) {
	req := Request{Key: key, RequestedVersion: rawVersion, ActorID: actorID}

	if e.auth != nil {
		perms, err := e.auth.Permissions(ctx, actorID, key)
		if err != nil {
			return req, fmt.Errorf("resolve permissions for %s: %w", key, err)
		}
		req.Permissions = perms
	}
	if e.workflow != nil {
		active, err := e.workflow.WorkflowActive(ctx, key)
		if err != nil {
			return req, fmt.Errorf("resolve workflow for %s: %w", key, err)
		}
		req.WorkflowActive = active
	}
	return req, nil
}

// Revert prepares and executes in one call
func (e *Executor) Revert(ctx context.Context, actorID string, key version.Key, rawVersion string) Outcome {
	req, err := e.Prepare(ctx, actorID, key, rawVersion)
	if err != nil {
		v, _ := ParseVersion(rawVersion)
		out := failed(req, v, err)
		e.finish(out, 0)
		return out
	}
	return e.Execute(ctx, req)
}

// Execute validates req against the latest version and, when allowed, rolls
// the record back. The store call carries the latest version number seen
// here so a concurrent writer turns into ConcurrentModification.
func (e *Executor) Execute(ctx context.Context, req Request) Outcome {
	ctx, span := e.tracer.Start(ctx, SpanName, trace.WithAttributes(
		attribute.String("record.type", req.Key.Type),
		attribute.String("record.id", req.Key.ID),
		attribute.String("revert.requested", req.RequestedVersion),
	))
	defer span.End()

	start := time.Now()
	out := e.execute(ctx, req)
	e.finish(out, time.Since(start))

	span.SetAttributes(attribute.String("revert.status", string(out.Status)))
	if code := out.Code(); code != "" {
		span.SetAttributes(attribute.String("revert.code", code))
	}
	if out.Status == StatusFailed {
		span.RecordError(out.Err)
		span.SetStatus(codes.Error, out.Code())
	} else {
		span.SetAttributes(attribute.Int("revert.new_version", out.NewVersion))
	}
	return out
}

func (e *Executor) execute(ctx context.Context, req Request) Outcome {
	latest, err := e.store.GetLatest(ctx, req.Key)
	if err != nil && !errors.Is(err, version.ErrNotFound) {
		v, _ := ParseVersion(req.RequestedVersion)
		return failed(req, v, err)
	}

	decision := e.policy.Evaluate(req, latest)
	if !decision.Allowed {
		return denied(req, decision)
	}

	rec, err := e.store.RollbackRecursive(ctx, version.RollbackRequest{
		Key:            req.Key,
		TargetVersion:  decision.Version,
		ExpectedLatest: latest.VersionNumber,
		AuthorID:       req.ActorID,
	})
	if err != nil {
		return failed(req, decision.Version, err)
	}
	if rec == nil || rec.VersionNumber <= latest.VersionNumber {
		return failed(req, decision.Version, errors.New("rollback returned no new version"))
	}

	affected := 1
	if cs, err := e.store.FindChangeSet(ctx, req.Key, rec.VersionNumber); err == nil {
		affected = len(cs.Items)
	} else {
		e.logger.Warn().Err(err).Str("record", req.Key.String()).Msg("rollback change-set lookup failed")
	}
	return succeeded(req, decision.Version, rec.VersionNumber, affected)
}

func (e *Executor) finish(out Outcome, d time.Duration) {
	ev := e.logger.Debug()
	switch out.Status {
	case StatusSuccess:
		ev = ev.Int("new_version", out.NewVersion).Int("affected", out.Affected)
	case StatusDenied:
		ev = ev.Str("reason", string(out.Reason))
	default:
		ev = ev.Err(out.Err).Str("failure", string(out.Failure))
	}
	ev.Str("record", out.Key.String()).
		Str("requested", out.Requested).
		Str("status", string(out.Status)).
		Dur("duration", d).
		Msg("revert")

	if e.observer != nil {
		e.observer.ObserveRevert(out, d)
	}
}
