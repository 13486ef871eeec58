// ABOUTME: Revert policy rules and denial reasons
// ABOUTME: Pure decision function over a request and the record's latest version

package revert

import (
	"fmt"

	"github.com/nainya/revertstore/pkg/version"
)

// Reason is a stable denial code
type Reason string

const (
	InvalidVersionNumber Reason = "INVALID_VERSION_NUMBER"
	NoAccess             Reason = "NO_ACCESS"
	RecordInWorkflow     Reason = "RECORD_IN_WORKFLOW"
	NoLatestVersion      Reason = "NO_LATEST_VERSION"
	CannotRevertToLatest Reason = "CANNOT_REVERT_TO_LATEST"
)

// Message returns the user-facing text of a denial. raw is the requested version as received.
func (r Reason) Message(raw string) string {
	switch r {
	case InvalidVersionNumber:
		if raw == "" {
			return "The version you wish to revert to was not provided"
		}
		return fmt.Sprintf("The requested version '%s' is not a valid version", raw)
	case NoAccess:
		return "You do not have access to this record"
	case RecordInWorkflow:
		return "This item is in a workflow, please approve or reject the workflow prior to reverting it"
	case NoLatestVersion:
		return "The latest version of this record could not be found, this record cannot be reverted"
	case CannotRevertToLatest:
		return "Sorry, you cannot revert to the latest version of this record!"
	default:
		return string(r)
	}
}

// Decision is the result of evaluating a request
type Decision struct {
	Allowed bool
	Reason  Reason // set when denied
	Version int    // parsed target, 0 when unparsable
}

func deny(reason Reason, v int) Decision {
	return Decision{Reason: reason, Version: v}
}

// Policy holds the tunable part of the revert rules
type Policy struct {
	// MinVersion is the lowest version a revert may target
	MinVersion int
}

// DefaultPolicy rejects version 1 as a target
func DefaultPolicy() Policy {
	return Policy{MinVersion: 2}
}

// Evaluate applies the rules in order; the first failing rule decides.
// latest is nil when the record has no live version.
func (p Policy) Evaluate(req Request, latest *version.VersionRecord) Decision {
	min := p.MinVersion
	if min < 1 {
		min = 1
	}

	v, ok := ParseVersion(req.RequestedVersion)
	if !ok || v < min {
		return deny(InvalidVersionNumber, v)
	}
	if !req.Permissions.CanView || !req.Permissions.CanEdit {
		return deny(NoAccess, v)
	}
	if req.WorkflowActive {
		return deny(RecordInWorkflow, v)
	}
	if latest == nil {
		return deny(NoLatestVersion, v)
	}
	if latest.VersionNumber == v {
		return deny(CannotRevertToLatest, v)
	}
	return Decision{Allowed: true, Version: v}
}
