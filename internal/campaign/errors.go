package campaign

import (
	"context"
	"errors"

	"github.com/steveyegge/campaign/internal/execport"
	"github.com/steveyegge/campaign/internal/params"
	"github.com/steveyegge/campaign/internal/wrappers"
)

var (
	// ErrConfiguration is matched by every error that rejects a campaign
	// before any run starts.
	ErrConfiguration = params.ErrConfiguration

	// ErrAborted is returned when fail-fast stopped a campaign at its first
	// failed run.
	//
	// Example:
	//
	//	summary, err := c.Run(ctx)
	//	if errors.Is(err, campaign.ErrAborted) {
	//	    for _, r := range summary.Failures() { ... }
	//	}
	ErrAborted = errors.New("campaign aborted")
)

// Kind classifies why a run failed.
type Kind int

const (
	KindNone Kind = iota
	KindConfiguration
	KindWrapperUnavailable
	KindStage
	KindTimedOut
	KindTransport
	KindCancelled
)

// String returns the kind name used in logs and summaries.
func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindConfiguration:
		return "configuration"
	case KindWrapperUnavailable:
		return "wrapper-unavailable"
	case KindStage:
		return "stage"
	case KindTimedOut:
		return "timed-out"
	case KindTransport:
		return "transport"
	case KindCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// FailureKind classifies err. The most specific cause wins: a timeout
// reported through a stage failure is KindTimedOut.
func FailureKind(err error) Kind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, execport.ErrTimedOut):
		return KindTimedOut
	case errors.Is(err, execport.ErrTransport):
		return KindTransport
	case errors.Is(err, wrappers.ErrUnavailable):
		return KindWrapperUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindCancelled
	case errors.Is(err, ErrConfiguration):
		return KindConfiguration
	default:
		return KindStage
	}
}
