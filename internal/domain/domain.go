package domain

import "time"

// UnknownProjectName names a project whose fetch failed outright.
const UnknownProjectName = "Unknown..."

// ProjectRecord is the parsed result for one queried project id.
type ProjectRecord struct {
	Name       string     `json:"name"`
	UpdatedAt  *time.Time `json:"updated_at,omitempty" format:"date-time"`
	CommentURL *string    `json:"comment_url,omitempty"`
}

// UnknownProject is the record used when no document could be fetched.
func UnknownProject() ProjectRecord {
	return ProjectRecord{Name: UnknownProjectName}
}

// OutcomeKind tags a FetchOutcome.
type OutcomeKind int

const (
	OutcomeFailed OutcomeKind = iota
	OutcomeBody
)

// FetchOutcome is what the network layer produced for one project id.
type FetchOutcome struct {
	Kind OutcomeKind
	Body string
}

func Body(text string) FetchOutcome { return FetchOutcome{Kind: OutcomeBody, Body: text} }

func Failed() FetchOutcome { return FetchOutcome{Kind: OutcomeFailed} }

func (o FetchOutcome) IsFailed() bool { return o.Kind != OutcomeBody }

// Row is a presentation-ready line of a report table.
type Row struct {
	ProjectID  int    `json:"project_id" yaml:"project_id"`
	Name       string `json:"name" yaml:"name"`
	Date       string `json:"updated_at" yaml:"updated_at"`
	CommentURL string `json:"comment_url" yaml:"comment_url"`
	Updated    bool   `json:"updated" yaml:"updated"`
	Failed     bool   `json:"failed,omitempty" yaml:"failed,omitempty"`
}

// Run is a persisted report run.
type Run struct {
	ID            string    `json:"id" yaml:"id"`
	StartedAt     time.Time `json:"started_at" yaml:"started_at" format:"date-time"`
	SinceDaysAgo  int       `json:"since_days_ago" yaml:"since_days_ago"`
	Concurrency   int       `json:"concurrency" yaml:"concurrency"`
	ProjectIDs    []int     `json:"project_ids" yaml:"project_ids"`
	OutdatedCount int       `json:"outdated_count" yaml:"outdated_count"`
	UpdatedCount  int       `json:"updated_count" yaml:"updated_count"`
	FailedCount   int       `json:"failed_count" yaml:"failed_count"`
	Rows          []Row     `json:"rows,omitempty" yaml:"rows,omitempty"`
}
