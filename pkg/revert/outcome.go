package revert

import (
	"fmt"

	"github.com/nainya/revertstore/pkg/version"
)

// Status is the top-level result of a revert attempt
type Status string

const (
	StatusSuccess Status = "SUCCESS"
	StatusDenied  Status = "DENIED"
	StatusFailed  Status = "FAILED"
)

// Outcome is the immutable result of Execute
type Outcome struct {
	Status     Status
	Key        version.Key
	Requested  string // raw requested version
	RevertedTo int
	NewVersion int                 // set on success
	Affected   int                 // records written by the cascade, set on success
	Reason     Reason              // set when denied
	Failure    version.FailureKind // set when failed
	Err        error               // underlying cause when failed
}

func succeeded(req Request, target, newVersion, affected int) Outcome {
	return Outcome{
		Status:     StatusSuccess,
		Key:        req.Key,
		Requested:  req.RequestedVersion,
		RevertedTo: target,
		NewVersion: newVersion,
		Affected:   affected,
	}
}

func denied(req Request, d Decision) Outcome {
	return Outcome{
		Status:     StatusDenied,
		Key:        req.Key,
		Requested:  req.RequestedVersion,
		RevertedTo: d.Version,
		Reason:     d.Reason,
	}
}

func failed(req Request, target int, err error) Outcome {
	return Outcome{
		Status:     StatusFailed,
		Key:        req.Key,
		Requested:  req.RequestedVersion,
		RevertedTo: target,
		Failure:    version.FailureKindOf(err),
		Err:        err,
	}
}

// Succeeded reports whether a new version was created
func (o Outcome) Succeeded() bool {
	return o.Status == StatusSuccess
}

// Code returns the reason or failure code, empty on success
func (o Outcome) Code() string {
	switch o.Status {
	case StatusDenied:
		return string(o.Reason)
	case StatusFailed:
		return string(o.Failure)
	default:
		return ""
	}
}

// Message returns the user-facing text for the outcome
func (o Outcome) Message() string {
	switch o.Status {
	case StatusSuccess:
		return fmt.Sprintf("Reverted to version #%d, the new version is #%d", o.RevertedTo, o.NewVersion)
	case StatusDenied:
		return o.Reason.Message(o.Requested)
	case StatusFailed:
		if o.Failure == version.InvalidTarget {
			return fmt.Sprintf("Sorry, we failed to revert to version %d - there was a system error.", o.RevertedTo)
		}
		return fmt.Sprintf("Sorry, we could not revert to version %d at this time.", o.RevertedTo)
	default:
		return ""
	}
}
