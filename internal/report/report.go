// Package report classifies project records by how recently they were updated.
package report

import (
	"time"

	"vaultinsights/internal/domain"
)

const (
	DateLayout      = "2006-01-02"
	DatePlaceholder = "--"
	day             = 24 * time.Hour
)

// Entry pairs a parsed record with the project id it was fetched for.
type Entry struct {
	ProjectID int
	Record    domain.ProjectRecord
	Failed    bool
}

// Report is the partitioned result of one run.
type Report struct {
	RunID        string       `json:"run_id,omitempty" yaml:"run_id,omitempty"`
	GeneratedAt  time.Time    `json:"generated_at" yaml:"generated_at"`
	SinceDaysAgo int          `json:"since_days_ago" yaml:"since_days_ago"`
	Outdated     []domain.Row `json:"outdated" yaml:"outdated"`
	Updated      []domain.Row `json:"updated" yaml:"updated"`
}

// DaysSince returns whole days elapsed between t and now, truncated toward zero.
func DaysSince(t, now time.Time) int {
	return int(now.Sub(t) / day)
}

// IsUpdated reports whether rec was updated at most sinceDaysAgo whole days
// before now. A record without a timestamp is never updated.
func IsUpdated(rec domain.ProjectRecord, sinceDaysAgo int, now time.Time) bool {
	if rec.UpdatedAt == nil {
		return false
	}
	return DaysSince(*rec.UpdatedAt, now) <= sinceDaysAgo
}

// FormatDate renders the date in the timestamp's own offset, or the placeholder.
func FormatDate(t *time.Time) string {
	if t == nil {
		return DatePlaceholder
	}
	return t.Format(DateLayout)
}

// Build partitions entries into outdated and updated rows, keeping the
// relative order of entries within each list.
func Build(entries []Entry, sinceDaysAgo int, now time.Time) Report {
	r := Report{
		GeneratedAt:  now,
		SinceDaysAgo: sinceDaysAgo,
		Outdated:     []domain.Row{},
		Updated:      []domain.Row{},
	}
	for _, e := range entries {
		row := domain.Row{
			ProjectID: e.ProjectID,
			Name:      e.Record.Name,
			Date:      FormatDate(e.Record.UpdatedAt),
			Updated:   IsUpdated(e.Record, sinceDaysAgo, now),
			Failed:    e.Failed,
		}
		if e.Record.CommentURL != nil {
			row.CommentURL = *e.Record.CommentURL
		}
		if row.Updated {
			r.Updated = append(r.Updated, row)
		} else {
			r.Outdated = append(r.Outdated, row)
		}
	}
	return r
}

// Rows returns outdated rows followed by updated rows.
func (r Report) Rows() []domain.Row {
	rows := make([]domain.Row, 0, len(r.Outdated)+len(r.Updated))
	rows = append(rows, r.Outdated...)
	return append(rows, r.Updated...)
}

// FailedCount counts rows whose fetch failed.
func (r Report) FailedCount() int {
	n := 0
	for _, row := range r.Outdated {
		if row.Failed {
			n++
		}
	}
	return n
}
