package events

import (
	"log/slog"
	"time"

	"github.com/MikeSquared-Agency/persona/internal/errs"
	"github.com/MikeSquared-Agency/persona/internal/persona"
)

type ReportCompleted struct {
	RunID         string         `json:"run_id"`
	Username      string         `json:"username"`
	Provider      string         `json:"provider"`
	Model         string         `json:"model"`
	GeneratedAt   time.Time      `json:"generated_at"`
	ItemsPrompted int            `json:"items_prompted"`
	ItemsDropped  int            `json:"items_dropped"`
	Entries       int            `json:"entries"`
	Resolved      int            `json:"resolved"`
	Categories    map[string]int `json:"categories"`
	Files         []string       `json:"files,omitempty"`
}

type ReportFailed struct {
	RunID    string    `json:"run_id"`
	Username string    `json:"username"`
	Kind     string    `json:"kind"`
	Error    string    `json:"error"`
	At       time.Time `json:"at"`
}

// Bus is the publishing half of Client.
type Bus interface {
	Publish(subject string, data any) error
}

// Publisher announces run outcomes. Publish failures are logged and never
// fail the run.
type Publisher struct {
	bus    Bus
	logger *slog.Logger
}

func NewPublisher(bus Bus, logger *slog.Logger) *Publisher {
	return &Publisher{bus: bus, logger: logger}
}

func Completed(r *persona.Report, files []string) ReportCompleted {
	counts := make(map[string]int, len(persona.Categories))
	for _, s := range r.Sections() {
		counts[s.Category.Key()] = len(s.Entries)
	}
	return ReportCompleted{
		RunID:         r.RunID.String(),
		Username:      r.Username,
		Provider:      r.Provider,
		Model:         r.Model,
		GeneratedAt:   r.GeneratedAt,
		ItemsPrompted: r.ItemsPrompted,
		ItemsDropped:  r.ItemsDropped,
		Entries:       len(r.Entries),
		Resolved:      r.Resolved(),
		Categories:    counts,
		Files:         files,
	}
}

func (p *Publisher) ReportCompleted(r *persona.Report, files []string) {
	if err := p.bus.Publish(SubjectReportCompleted, Completed(r, files)); err != nil {
		p.logger.Warn("failed to publish report completion", "run_id", r.RunID, "error", err)
	}
}

func (p *Publisher) ReportFailed(runID, username string, cause error) {
	evt := ReportFailed{
		RunID:    runID,
		Username: username,
		Kind:     errs.Kind(cause),
		Error:    cause.Error(),
		At:       time.Now().UTC(),
	}
	if err := p.bus.Publish(SubjectReportFailed, evt); err != nil {
		p.logger.Warn("failed to publish report failure", "run_id", runID, "error", err)
	}
}
