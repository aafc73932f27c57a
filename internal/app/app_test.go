package app_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"vaultinsights/internal/app"
	"vaultinsights/internal/config"
	"vaultinsights/internal/domain"
	"vaultinsights/internal/history"
	"vaultinsights/internal/report"
	"vaultinsights/internal/vault"
)

var now = time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func projectDoc(id int, title string, commentID int, at time.Time) string {
	return fmt.Sprintf(`{"data":{"id":"%d","attributes":{"title":%q,"roadmap-comments":[{"id":%d,"updated_at":%q}]}}}`,
		id, title, commentID, at.Format(vault.CommentTimeLayout))
}

type vaultStub struct {
	srv   *httptest.Server
	calls int32
}

func newVault(t *testing.T, routes map[string]func(w http.ResponseWriter)) *vaultStub {
	t.Helper()
	stub := &vaultStub{}
	stub.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&stub.calls, 1)
		if fn, ok := routes[r.URL.Path]; ok {
			fn(w)
			return
		}
		http.NotFound(w, r)
	}))
	t.Cleanup(stub.srv.Close)
	return stub
}

func body(s string) func(w http.ResponseWriter) {
	return func(w http.ResponseWriter) { w.Write([]byte(s)) }
}

func status(code int) func(w http.ResponseWriter) {
	return func(w http.ResponseWriter) { http.Error(w, http.StatusText(code), code) }
}

func newRunner(t *testing.T, vaultURL string, rec app.Recorder) app.Runner {
	t.Helper()
	cfg := &config.Config{Key: "k", Token: "t", VaultURL: vaultURL, Timeout: time.Second}
	runner, err := app.New(cfg, rec, quietLogger())
	if err != nil {
		t.Fatalf("new runner: %v", err)
	}
	runner.Now = func() time.Time { return now }
	return runner
}

func ids(rows []domain.Row) []int {
	out := []int{}
	for _, r := range rows {
		out = append(out, r.ProjectID)
	}
	return out
}

func TestRunPartialFailure(t *testing.T) {
	stub := newVault(t, map[string]func(w http.ResponseWriter){
		"/api/projects/1": body(projectDoc(1, "Alpha", 11, now.Add(-10*24*time.Hour))),
		"/api/projects/2": status(http.StatusInternalServerError),
		"/api/projects/3": body(projectDoc(3, "Gamma", 33, now.Add(-20*24*time.Hour))),
	})
	runner := newRunner(t, stub.srv.URL, nil)

	rep, err := runner.Run(context.Background(), app.Options{ProjectIDs: []int{1, 2, 3}, SinceDaysAgo: 14, Concurrency: 2})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if got := ids(rep.Outdated); len(got) != 2 || got[0] != 2 || got[1] != 3 {
		t.Fatalf("outdated = %v", got)
	}
	if got := ids(rep.Updated); len(got) != 1 || got[0] != 1 {
		t.Fatalf("updated = %v", got)
	}
	failed := rep.Outdated[0]
	if failed.Name != domain.UnknownProjectName || failed.Date != report.DatePlaceholder || !failed.Failed {
		t.Fatalf("failed row = %+v", failed)
	}
	gamma := rep.Outdated[1]
	if gamma.Name != "Gamma" || gamma.CommentURL != stub.srv.URL+"/projects/3#status-update-33" {
		t.Fatalf("gamma row = %+v", gamma)
	}
	if rep.Updated[0].Date != now.Add(-10*24*time.Hour).Format(report.DateLayout) {
		t.Fatalf("alpha date = %q", rep.Updated[0].Date)
	}
	if rep.RunID != "" {
		t.Fatalf("run id set without history: %q", rep.RunID)
	}
}

func TestRunUnauthorizedAbortsWithoutReport(t *testing.T) {
	stub := newVault(t, map[string]func(w http.ResponseWriter){
		"/api/projects/1": body(projectDoc(1, "Alpha", 1, now)),
		"/api/projects/2": status(http.StatusUnauthorized),
		"/api/projects/3": body(projectDoc(3, "Gamma", 3, now)),
	})
	runner := newRunner(t, stub.srv.URL, nil)

	rep, err := runner.Run(context.Background(), app.Options{ProjectIDs: []int{1, 2, 3}, SinceDaysAgo: 14, Concurrency: 1})
	if !errors.Is(err, vault.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if rep.Outdated != nil || rep.Updated != nil {
		t.Fatalf("expected no report, got %+v", rep)
	}
	if calls := atomic.LoadInt32(&stub.calls); calls != 2 {
		t.Fatalf("expected the batch to stop after the 401, got %d calls", calls)
	}
}

func TestRunEmptyCommentsIsOutdated(t *testing.T) {
	stub := newVault(t, map[string]func(w http.ResponseWriter){
		"/api/projects/4": body(`{"data":{"id":"4","attributes":{"title":"Delta","roadmap-comments":[]}}}`),
	})
	runner := newRunner(t, stub.srv.URL, nil)

	rep, err := runner.Run(context.Background(), app.Options{ProjectIDs: []int{4}, SinceDaysAgo: 10000})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(rep.Outdated) != 1 || len(rep.Updated) != 0 {
		t.Fatalf("unexpected partition %+v", rep)
	}
	row := rep.Outdated[0]
	if row.Name != "Delta" || row.Date != report.DatePlaceholder || row.CommentURL != "" || row.Failed {
		t.Fatalf("row = %+v", row)
	}
}

func TestRunMalformedDocumentAborts(t *testing.T) {
	stub := newVault(t, map[string]func(w http.ResponseWriter){
		"/api/projects/1": body(`not json`),
	})
	runner := newRunner(t, stub.srv.URL, nil)
	_, err := runner.Run(context.Background(), app.Options{ProjectIDs: []int{1}, SinceDaysAgo: 14})
	if !errors.Is(err, vault.ErrMalformedDocument) {
		t.Fatalf("expected ErrMalformedDocument, got %v", err)
	}
}

type countingFetcher struct{ calls int32 }

func (f *countingFetcher) FetchProject(ctx context.Context, id int) (domain.FetchOutcome, error) {
	atomic.AddInt32(&f.calls, 1)
	return domain.Failed(), nil
}

func TestRunRejectsInvalidConfigBeforeFetching(t *testing.T) {
	for _, cfg := range []config.Config{
		{Token: "t", VaultURL: "https://v"},
		{Key: "k", VaultURL: "https://v"},
		{Key: "k", Token: "t"},
	} {
		fetcher := &countingFetcher{}
		runner := app.Runner{Config: &cfg, Fetcher: fetcher, Logger: quietLogger()}
		_, err := runner.Run(context.Background(), app.Options{ProjectIDs: []int{1}, SinceDaysAgo: 14})
		if !errors.Is(err, config.ErrInvalidCredentials) {
			t.Fatalf("config %+v: expected ErrInvalidCredentials, got %v", cfg, err)
		}
		if fetcher.calls != 0 {
			t.Fatalf("config %+v: fetched %d projects", cfg, fetcher.calls)
		}
	}
	if _, err := app.New(&config.Config{}, nil, nil); !errors.Is(err, config.ErrInvalidCredentials) {
		t.Fatalf("New: expected ErrInvalidCredentials, got %v", err)
	}
}

func TestRunRejectsBadOptions(t *testing.T) {
	cfg := &config.Config{Key: "k", Token: "t", VaultURL: "https://v"}
	runner := app.Runner{Config: cfg, Fetcher: &countingFetcher{}, Logger: quietLogger()}
	if _, err := runner.Run(context.Background(), app.Options{ProjectIDs: []int{0}}); err == nil {
		t.Fatalf("expected error for non-positive id")
	}
	if _, err := runner.Run(context.Background(), app.Options{ProjectIDs: []int{1}, SinceDaysAgo: -1}); err == nil {
		t.Fatalf("expected error for negative threshold")
	}
}

func TestRunRecordsHistory(t *testing.T) {
	store, err := history.Open(context.Background(), filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("open history: %v", err)
	}
	defer store.Close()
	stub := newVault(t, map[string]func(w http.ResponseWriter){
		"/api/projects/1": body(projectDoc(1, "Alpha", 11, now.Add(-2*24*time.Hour))),
		"/api/projects/2": status(http.StatusBadGateway),
	})
	runner := newRunner(t, stub.srv.URL, store)

	rep, err := runner.Run(context.Background(), app.Options{ProjectIDs: []int{1, 2}, SinceDaysAgo: 7, Concurrency: 3})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if rep.RunID == "" {
		t.Fatalf("expected run id")
	}
	run, err := store.Get(context.Background(), rep.RunID)
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if run.SinceDaysAgo != 7 || run.Concurrency != 3 || run.UpdatedCount != 1 || run.OutdatedCount != 1 || run.FailedCount != 1 {
		t.Fatalf("unexpected run %+v", run)
	}
	rebuilt := app.ReportFromRun(run)
	if got := ids(rebuilt.Updated); len(got) != 1 || got[0] != 1 {
		t.Fatalf("rebuilt updated = %v", got)
	}
	if got := ids(rebuilt.Outdated); len(got) != 1 || got[0] != 2 {
		t.Fatalf("rebuilt outdated = %v", got)
	}
}

type failingRecorder struct{}

func (failingRecorder) Record(ctx context.Context, run domain.Run) (domain.Run, error) {
	return domain.Run{}, errors.New("disk full")
}

func TestRunHistoryFailureKeepsReport(t *testing.T) {
	stub := newVault(t, map[string]func(w http.ResponseWriter){
		"/api/projects/1": body(projectDoc(1, "Alpha", 11, now)),
	})
	runner := newRunner(t, stub.srv.URL, failingRecorder{})
	rep, err := runner.Run(context.Background(), app.Options{ProjectIDs: []int{1}, SinceDaysAgo: 14})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if rep.RunID != "" || len(rep.Updated) != 1 {
		t.Fatalf("unexpected report %+v", rep)
	}
}

func TestParseProjectIDs(t *testing.T) {
	got, err := app.ParseProjectIDs([]string{"1,2", " 3 ", "", "4,,5"})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	want := []int{1, 2, 3, 4, 5}
	if len(got) != len(want) {
		t.Fatalf("ids = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("ids = %v", got)
		}
	}
	for _, bad := range []string{"abc", "0", "-3", "1.5"} {
		if _, err := app.ParseProjectIDs([]string{bad}); err == nil {
			t.Fatalf("%q should be rejected", bad)
		}
	}
}
