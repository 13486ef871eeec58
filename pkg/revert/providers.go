// ABOUTME: Collaborator interfaces for authorization and workflow state
// ABOUTME: Includes a static actor-list authorizer and an in-memory workflow registry

package revert

import (
	"context"
	"sort"
	"sync"

	"github.com/nainya/revertstore/pkg/version"
)

// AuthorizationProvider resolves what an actor may do with a record
type AuthorizationProvider interface {
	Permissions(ctx context.Context, actorID string, key version.Key) (Permissions, error)
}

// WorkflowProvider reports whether a record is under an active approval workflow
type WorkflowProvider interface {
	WorkflowActive(ctx context.Context, key version.Key) (bool, error)
}

// AuthorizerFunc adapts a function to AuthorizationProvider
type AuthorizerFunc func(ctx context.Context, actorID string, key version.Key) (Permissions, error)

func (f AuthorizerFunc) Permissions(ctx context.Context, actorID string, key version.Key) (Permissions, error) {
	return f(ctx, actorID, key)
}

// WorkflowFunc adapts a function to WorkflowProvider
type WorkflowFunc func(ctx context.Context, key version.Key) (bool, error)

func (f WorkflowFunc) WorkflowActive(ctx context.Context, key version.Key) (bool, error) {
	return f(ctx, key)
}

// Wildcard grants a permission to every actor in StaticAuthorizer lists
const Wildcard = "*"

// StaticAuthorizer grants permissions from fixed actor lists. Editors can also view.
type StaticAuthorizer struct {
	viewers map[string]bool
	editors map[string]bool
}

// NewStaticAuthorizer builds an authorizer from viewer and editor actor ids
func NewStaticAuthorizer(viewers, editors []string) *StaticAuthorizer {
	a := &StaticAuthorizer{viewers: make(map[string]bool), editors: make(map[string]bool)}
	for _, id := range viewers {
		a.viewers[id] = true
	}
	for _, id := range editors {
		a.editors[id] = true
	}
	return a
}

func (a *StaticAuthorizer) Permissions(ctx context.Context, actorID string, key version.Key) (Permissions, error) {
	if actorID == "" {
		return Permissions{}, nil
	}
	edit := a.editors[actorID] || a.editors[Wildcard]
	view := edit || a.viewers[actorID] || a.viewers[Wildcard]
	return Permissions{CanView: view, CanEdit: edit}, nil
}

// WorkflowRegistry tracks records under active workflow in memory
type WorkflowRegistry struct {
	mu     sync.RWMutex
	active map[version.Key]bool
}

// NewWorkflowRegistry creates an empty registry
func NewWorkflowRegistry() *WorkflowRegistry {
	return &WorkflowRegistry{active: make(map[version.Key]bool)}
}

// Set marks or clears a record's workflow
func (w *WorkflowRegistry) Set(key version.Key, active bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if active {
		w.active[key] = true
	} else {
		delete(w.active, key)
	}
}

func (w *WorkflowRegistry) WorkflowActive(ctx context.Context, key version.Key) (bool, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.active[key], nil
}

// Active lists records under workflow ordered by key
func (w *WorkflowRegistry) Active() []version.Key {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]version.Key, 0, len(w.active))
	for k := range w.active {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}
