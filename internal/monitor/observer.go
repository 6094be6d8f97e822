package monitor

import (
	"log"
	"sync"
	"time"

	"github.com/steveyegge/campaign/internal/campaign"
)

// Broadcaster is what the Observer publishes to. *Server implements it.
type Broadcaster interface {
	Broadcast(msg Message)
}

// CampaignData describes a campaign in campaign_started messages.
type CampaignData struct {
	CampaignID string `json:"campaign_id"`
	Name       string `json:"name"`
	ResultPath string `json:"result_path"`
	TotalRuns  int    `json:"total_runs"`
}

// RunData describes one run in run_started and run_finished messages.
type RunData struct {
	CampaignID string            `json:"campaign_id"`
	Campaign   string            `json:"campaign"`
	Index      int               `json:"index"`
	Record     map[string]string `json:"record"`
	Rep        int               `json:"rep"`
	Status     string            `json:"status"`
	DurationMs int64             `json:"duration_ms,omitempty"`
	Fields     map[string]any    `json:"fields,omitempty"`
	Stage      string            `json:"stage,omitempty"`
	Kind       string            `json:"kind,omitempty"`
	Error      string            `json:"error,omitempty"`
}

// ProgressData counts the runs of one campaign.
type ProgressData struct {
	CampaignID string `json:"campaign_id"`
	Name       string `json:"name"`
	Total      int    `json:"total"`
	Executed   int    `json:"executed"`
	Succeeded  int    `json:"succeeded"`
	Failed     int    `json:"failed"`
	Skipped    int    `json:"skipped"`
	Done       bool   `json:"done"`
	Aborted    bool   `json:"aborted,omitempty"`
}

// SummaryData is the payload of campaign_finished messages.
type SummaryData struct {
	ProgressData
	DurationSeconds float64 `json:"duration_seconds"`
}

// Observer turns campaign events into monitor messages. It is safe for
// the concurrent campaigns of a parallel suite.
type Observer struct {
	out    Broadcaster
	logger *log.Logger

	mu       sync.Mutex
	progress map[string]*ProgressData
	order    []string
}

// NewObserver returns an observer publishing to out. When out is a
// *Server, new clients receive the current progress on connect.
func NewObserver(out Broadcaster, logger *log.Logger) *Observer {
	if logger == nil {
		logger = log.Default()
	}
	o := &Observer{
		out:      out,
		logger:   logger,
		progress: make(map[string]*ProgressData),
	}
	if s, ok := out.(*Server); ok {
		s.SetSnapshot(o.Snapshot)
	}
	return o
}

func (o *Observer) send(t MessageType, data any) {
	msg, err := NewMessage(t, data)
	if err != nil {
		o.logger.Printf("Warning: %v", err)
		return
	}
	o.out.Broadcast(msg)
}

func (o *Observer) CampaignStarted(c *campaign.Campaign) {
	o.mu.Lock()
	if _, ok := o.progress[c.ID()]; !ok {
		o.order = append(o.order, c.ID())
	}
	o.progress[c.ID()] = &ProgressData{CampaignID: c.ID(), Name: c.Name(), Total: c.TotalRuns()}
	o.mu.Unlock()

	o.send(MessageTypeCampaignStarted, CampaignData{
		CampaignID: c.ID(),
		Name:       c.Name(),
		ResultPath: c.ResultPath(),
		TotalRuns:  c.TotalRuns(),
	})
}

func (o *Observer) RunStarted(c *campaign.Campaign, r campaign.Run) {
	o.send(MessageTypeRunStarted, runData(c, r))
}

func (o *Observer) RunFinished(c *campaign.Campaign, r campaign.Run) {
	o.mu.Lock()
	if p, ok := o.progress[c.ID()]; ok {
		switch r.Status {
		case campaign.StatusSucceeded:
			p.Executed++
			p.Succeeded++
		case campaign.StatusFailed:
			p.Executed++
			p.Failed++
		case campaign.StatusSkipped:
			p.Skipped++
		}
	}
	o.mu.Unlock()

	o.send(MessageTypeRunFinished, runData(c, r))
}

func (o *Observer) CampaignFinished(c *campaign.Campaign, s *campaign.Summary) {
	data := SummaryData{
		ProgressData: ProgressData{
			CampaignID: s.CampaignID,
			Name:       s.Name,
			Total:      len(s.Runs),
			Executed:   s.Executed,
			Succeeded:  s.Succeeded,
			Failed:     s.Failed,
			Skipped:    s.Skipped,
			Done:       true,
			Aborted:    s.Aborted,
		},
		DurationSeconds: s.Duration.Seconds(),
	}

	o.mu.Lock()
	p := data.ProgressData
	o.progress[c.ID()] = &p
	o.mu.Unlock()

	o.send(MessageTypeCampaignFinished, data)
}

// Progress returns the progress of every campaign seen, in start order.
func (o *Observer) Progress() []ProgressData {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]ProgressData, 0, len(o.order))
	for _, id := range o.order {
		out = append(out, *o.progress[id])
	}
	return out
}

// Snapshot returns a progress message, or false before any campaign
// started.
func (o *Observer) Snapshot() (Message, bool) {
	progress := o.Progress()
	if len(progress) == 0 {
		return Message{}, false
	}
	msg, err := NewMessage(MessageTypeProgress, progress)
	if err != nil {
		return Message{}, false
	}
	return msg, true
}

func runData(c *campaign.Campaign, r campaign.Run) RunData {
	d := RunData{
		CampaignID: c.ID(),
		Campaign:   c.Name(),
		Index:      r.Index,
		Record:     r.Record.Strings(),
		Rep:        r.Rep,
		Status:     r.Status.String(),
		DurationMs: r.Duration.Round(time.Millisecond).Milliseconds(),
		Fields:     r.Fields,
		Stage:      string(r.Stage),
	}
	if r.Err != nil {
		d.Kind = r.Kind.String()
		d.Error = r.Err.Error()
	}
	return d
}
