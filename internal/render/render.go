package render

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"gopkg.in/yaml.v3"

	"vaultinsights/internal/domain"
	"vaultinsights/internal/report"
)

// Formats accepted by Report.
const (
	FormatTable = "table"
	FormatJSON  = "json"
	FormatYAML  = "yaml"
)

// Report writes r to w in the requested format.
func Report(w io.Writer, r report.Report, format string) error {
	switch strings.ToLower(format) {
	case "", FormatTable:
		return Tables(w, r)
	case FormatJSON:
		return JSON(w, r)
	case FormatYAML:
		return YAML(w, r)
	default:
		return fmt.Errorf("unknown output format %q (want table, json or yaml)", format)
	}
}

// Tables prints the OUTDATED table followed by the UPDATED table.
func Tables(w io.Writer, r report.Report) error {
	fmt.Fprintln(w, "OUTDATED:")
	Rows(w, r.Outdated)
	fmt.Fprint(w, "\n\n")
	fmt.Fprintln(w, "UPDATED:")
	Rows(w, r.Updated)
	return nil
}

// Rows renders one table of report rows.
func Rows(w io.Writer, rows []domain.Row) {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.AppendHeader(table.Row{"Name", "Updated At", "Comment URL"})
	for _, row := range rows {
		tw.AppendRow(table.Row{row.Name, row.Date, row.CommentURL})
	}
	tw.Render()
}

// Runs renders a run history listing.
func Runs(w io.Writer, runs []domain.Run) {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.AppendHeader(table.Row{"ID", "Started At", "Since Days", "Projects", "Outdated", "Updated", "Failed"})
	for _, run := range runs {
		tw.AppendRow(table.Row{
			run.ID,
			run.StartedAt.Format("2006-01-02 15:04:05"),
			run.SinceDaysAgo,
			len(run.ProjectIDs),
			run.OutdatedCount,
			run.UpdatedCount,
			run.FailedCount,
		})
	}
	tw.Render()
}

func JSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func YAML(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}
