package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"vaultinsights/internal/config"
	"vaultinsights/internal/domain"
	"vaultinsights/internal/fetch"
	"vaultinsights/internal/report"
	"vaultinsights/internal/vault"
)

// ProjectFetcher issues the request for one project id.
type ProjectFetcher interface {
	FetchProject(ctx context.Context, id int) (domain.FetchOutcome, error)
}

// Recorder persists finished runs.
type Recorder interface {
	Record(ctx context.Context, run domain.Run) (domain.Run, error)
}

// Options are the per-run inputs supplied by the caller.
type Options struct {
	ProjectIDs   []int
	SinceDaysAgo int
	Concurrency  int
}

// Runner wires fetching, parsing, classification and history together.
type Runner struct {
	Config  *config.Config
	Fetcher ProjectFetcher
	History Recorder
	Logger  *slog.Logger
	Now     func() time.Time
}

// New validates cfg and builds a Runner backed by a vault client.
func New(cfg *config.Config, history Recorder, logger *slog.Logger) (Runner, error) {
	if cfg == nil {
		return Runner{}, fmt.Errorf("%w: no configuration loaded", config.ErrInvalidCredentials)
	}
	if err := cfg.Validate(); err != nil {
		return Runner{}, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	client := vault.New(cfg.VaultURL, cfg.Key, cfg.Token, cfg.Timeout)
	client.Logger = logger
	return Runner{Config: cfg, Fetcher: client, History: history, Logger: logger, Now: time.Now}, nil
}

func (r Runner) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

func (r Runner) logger() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return slog.Default()
}

// Run fetches every project, classifies it and, when a recorder is set,
// stores the run. Invalid credentials, a 401 from the vault, or a malformed
// document abort the run without a report.
func (r Runner) Run(ctx context.Context, opts Options) (report.Report, error) {
	if r.Config == nil {
		return report.Report{}, fmt.Errorf("%w: no configuration loaded", config.ErrInvalidCredentials)
	}
	if err := r.Config.Validate(); err != nil {
		return report.Report{}, err
	}
	if r.Fetcher == nil {
		return report.Report{}, errors.New("no project fetcher configured")
	}
	for _, id := range opts.ProjectIDs {
		if id <= 0 {
			return report.Report{}, fmt.Errorf("invalid project id %d: must be positive", id)
		}
	}
	if opts.Concurrency < 1 {
		opts.Concurrency = fetch.DefaultConcurrency
	}
	if opts.SinceDaysAgo < 0 {
		return report.Report{}, fmt.Errorf("invalid since-days-ago %d: must not be negative", opts.SinceDaysAgo)
	}

	started := r.now()
	r.logger().Info("fetching projects", "count", len(opts.ProjectIDs), "concurrency", opts.Concurrency)
	outcomes, err := fetch.Fetch(ctx, opts.ProjectIDs, opts.Concurrency, r.Fetcher.FetchProject)
	if err != nil {
		return report.Report{}, err
	}

	entries := make([]report.Entry, len(outcomes))
	for i, outcome := range outcomes {
		rec, err := vault.Parse(outcome, r.Config.VaultURL)
		if err != nil {
			return report.Report{}, fmt.Errorf("project %d: %w", opts.ProjectIDs[i], err)
		}
		entries[i] = report.Entry{ProjectID: opts.ProjectIDs[i], Record: rec, Failed: outcome.IsFailed()}
	}
	rep := report.Build(entries, opts.SinceDaysAgo, r.now())

	if r.History != nil {
		run, err := r.History.Record(ctx, domain.Run{
			StartedAt:     started,
			SinceDaysAgo:  opts.SinceDaysAgo,
			Concurrency:   opts.Concurrency,
			ProjectIDs:    opts.ProjectIDs,
			OutdatedCount: len(rep.Outdated),
			UpdatedCount:  len(rep.Updated),
			FailedCount:   rep.FailedCount(),
			Rows:          rep.Rows(),
		})
		if err != nil {
			r.logger().Warn("failed to record run history", "error", err)
		} else {
			rep.RunID = run.ID
		}
	}
	r.logger().Info("report ready", "outdated", len(rep.Outdated), "updated", len(rep.Updated), "failed", rep.FailedCount())
	return rep, nil
}

// ReportFromRun rebuilds the two tables of a recorded run.
func ReportFromRun(run domain.Run) report.Report {
	rep := report.Report{
		RunID:        run.ID,
		GeneratedAt:  run.StartedAt,
		SinceDaysAgo: run.SinceDaysAgo,
		Outdated:     []domain.Row{},
		Updated:      []domain.Row{},
	}
	for _, row := range run.Rows {
		if row.Updated {
			rep.Updated = append(rep.Updated, row)
		} else {
			rep.Outdated = append(rep.Outdated, row)
		}
	}
	return rep
}
