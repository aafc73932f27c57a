package main

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/viper"

	"vaultinsights/internal/config"
	"vaultinsights/internal/vault"
)

func runCLI(t *testing.T, vaultURL string, args ...string) (string, error) {
	t.Helper()
	t.Setenv("VAULT_INSIGHTS_KEY", "k")
	t.Setenv("VAULT_INSIGHTS_TOKEN", "t")
	t.Setenv("VAULT_INSIGHTS_VAULT_URL", vaultURL)
	config.InitEnv(viper.GetViper())

	cmd := newRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(append([]string{"--config", filepath.Join(t.TempDir(), "absent"), "--no-history"}, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestReportUnauthorizedPrintsNoTable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}))
	defer srv.Close()

	out, err := runCLI(t, srv.URL, "--projects", "1,2")
	if !errors.Is(err, vault.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if out != "" {
		t.Fatalf("expected no output, got:\n%s", out)
	}
}

func TestReportPrintsBothTables(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":{"id":"1","attributes":{"title":"Alpha","roadmap-comments":[]}}}`))
	}))
	defer srv.Close()

	out, err := runCLI(t, srv.URL, "-p", "1", "-o", "table")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.HasPrefix(out, "OUTDATED:") || !strings.Contains(out, "UPDATED:") || !strings.Contains(out, "Alpha") {
		t.Fatalf("unexpected output:\n%s", out)
	}
}

func TestReportRequiresProjects(t *testing.T) {
	if _, err := runCLI(t, "https://vault.example.com"); err == nil {
		t.Fatalf("expected error without --projects")
	}
}

func TestPrintErrorExplainsCredentials(t *testing.T) {
	var buf bytes.Buffer
	printError(&buf, config.ErrInvalidCredentials)
	if !strings.HasPrefix(buf.String(), "error: invalid credentials") {
		t.Fatalf("unexpected error output:\n%s", buf.String())
	}
	if !strings.Contains(buf.String(), `vault_url = "https://myapiurl.com"`) {
		t.Fatalf("missing config help:\n%s", buf.String())
	}
}
