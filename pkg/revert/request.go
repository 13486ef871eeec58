// ABOUTME: Revert request value and version parsing
// ABOUTME: Requests carry the raw requested version plus resolved permissions and workflow state

package revert

import (
	"strconv"
	"strings"

	"github.com/nainya/revertstore/pkg/version"
)

// VersionParam is the request parameter that carries the requested version
const VersionParam = "rv"

// Permissions is the capability set of an actor on one record
type Permissions struct {
	CanView bool
	CanEdit bool
}

// Request is one revert attempt. It is built per call and never stored.
type Request struct {
	Key              version.Key
	RequestedVersion string // raw, as received from the caller
	ActorID          string
	Permissions      Permissions
	WorkflowActive   bool
}

// ParseVersion parses a requested version. Only base-10 integers are accepted.
func ParseVersion(raw string) (int, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, false
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return n, true
}
