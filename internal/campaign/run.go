package campaign

import (
	"time"

	"github.com/steveyegge/campaign/internal/params"
	"github.com/steveyegge/campaign/internal/pipeline"
)

// Status is the lifecycle state of a run.
type Status int

const (
	StatusPending Status = iota
	StatusRunning
	StatusSucceeded
	StatusFailed
	StatusSkipped // already in the result stream
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusRunning:
		return "running"
	case StatusSucceeded:
		return "succeeded"
	case StatusFailed:
		return "failed"
	case StatusSkipped:
		return "skipped"
	default:
		return "unknown"
	}
}

// Run is one (record, repetition) pair of a campaign.
type Run struct {
	// Index is the position of the pair in the enumeration, from 0.
	Index  int
	Record params.Record
	Rep    int // 1-based

	Status    Status
	RecordDir string
	Duration  time.Duration

	// Set when Status is StatusSucceeded.
	Fields map[string]any

	// Set when Status is StatusFailed.
	Stage pipeline.Stage
	Kind  Kind
	Err   error
}

// Summary is the outcome of a campaign execution.
type Summary struct {
	CampaignID string
	Name       string
	ResultPath string

	Runs      []Run
	Executed  int
	Succeeded int
	Failed    int
	Skipped   int

	// Aborted is set when fail-fast or a cancellation stopped the campaign
	// early; Runs then holds pending entries.
	Aborted bool

	Start    time.Time
	Duration time.Duration
}

// Failures returns the failed runs in execution order.
func (s *Summary) Failures() []Run {
	var out []Run
	for _, r := range s.Runs {
		if r.Status == StatusFailed {
			out = append(out, r)
		}
	}
	return out
}

// Observer is notified of campaign progress. Calls are made from the
// goroutine running the campaign, so implementations shared by a parallel
// suite must be safe for concurrent use.
type Observer interface {
	CampaignStarted(c *Campaign)
	RunStarted(c *Campaign, r Run)
	RunFinished(c *Campaign, r Run)
	CampaignFinished(c *Campaign, s *Summary)
}

// Observers fans notifications out to several observers.
type Observers []Observer

func (o Observers) CampaignStarted(c *Campaign) {
	for _, ob := range o {
		ob.CampaignStarted(c)
	}
}

func (o Observers) RunStarted(c *Campaign, r Run) {
	for _, ob := range o {
		ob.RunStarted(c, r)
	}
}

func (o Observers) RunFinished(c *Campaign, r Run) {
	for _, ob := range o {
		ob.RunFinished(c, r)
	}
}

func (o Observers) CampaignFinished(c *Campaign, s *Summary) {
	for _, ob := range o {
		ob.CampaignFinished(c, s)
	}
}
