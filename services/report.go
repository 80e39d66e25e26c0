package services

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/google/uuid"

	"clip-metrics/models"
	"clip-metrics/storage"
)

var (
	accent  = lipgloss.Color("#FF0050")
	muted   = lipgloss.Color("#666666")
	success = lipgloss.Color("#00CC66")
	white   = lipgloss.Color("#FFFFFF")
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(white)
	accentStyle  = lipgloss.NewStyle().Foreground(accent).Bold(true)
	mutedStyle   = lipgloss.NewStyle().Foreground(muted)
	successStyle = lipgloss.NewStyle().Foreground(success).Bold(true)
	boxStyle     = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(muted).Padding(0, 1)
)

// NewRunReport starts the report of one pipeline run.
func NewRunReport(src *models.SourceURL) *models.RunReport {
	return &models.RunReport{
		RunID:     uuid.NewString(),
		Source:    src,
		StartedAt: time.Now(),
	}
}

// ReportPrinter writes run summaries to a terminal.
type ReportPrinter struct {
	out io.Writer
}

func NewReportPrinter(out io.Writer) *ReportPrinter {
	return &ReportPrinter{out: out}
}

func (p *ReportPrinter) Print(r *models.RunReport) {
	fmt.Fprintln(p.out, RenderReport(r))
}

// PrintFailure reports a run that stopped before anything was uploaded.
func (p *ReportPrinter) PrintFailure(input string, err error) {
	fmt.Fprintf(p.out, "%s %s\n  %s\n", accentStyle.Render("✗"), titleStyle.Render(input), mutedStyle.Render(err.Error()))
}

// RenderReport lays out a run report as a boxed key/value listing followed
// by the normalised record.
func RenderReport(r *models.RunReport) string {
	var b strings.Builder

	b.WriteString(accentStyle.Render("▸ CLIP METRICS RUN"))
	b.WriteString("  ")
	b.WriteString(mutedStyle.Render(r.RunID))
	b.WriteString("\n\n")

	if r.Source != nil {
		line(&b, "Source", r.Source.Raw)
		line(&b, "Platform", fmt.Sprintf("%s %s", r.Source.Platform, r.Source.Kind))
		line(&b, "Content id", r.Source.ContentID)
	}

	switch {
	case r.Sheet == "":
		line(&b, "Upload", "skipped")
	case r.Header:
		line(&b, "Upload", successStyle.Render(fmt.Sprintf("%d row(s) to %q from row %d (header written)", r.Rows, r.Sheet, r.StartRow)))
	default:
		line(&b, "Upload", successStyle.Render(fmt.Sprintf("%d row(s) to %q from row %d", r.Rows, r.Sheet, r.StartRow)))
	}

	if r.Enriched && r.Enrichment != nil {
		line(&b, "Sound page", r.Enrichment.SoundPageURL)
		line(&b, "Sound usage", r.Enrichment.PopularityCount)
	}
	if r.Duration > 0 {
		line(&b, "Took", r.Duration.Round(time.Millisecond).String())
	}

	if r.Record != nil {
		var rows []string
		width := 0
		for _, f := range r.Record.Fields() {
			if len(f.Name) > width {
				width = len(f.Name)
			}
		}
		for _, f := range r.Record.Fields() {
			value := storage.FormatValue(f.Value)
			if value == "" {
				value = mutedStyle.Render("—")
			}
			rows = append(rows, fmt.Sprintf("%s  %s", mutedStyle.Render(fmt.Sprintf("%-*s", width, f.Name)), shorten(value, 60)))
		}
		b.WriteString("\n")
		b.WriteString(boxStyle.Render(strings.Join(rows, "\n")))
	}

	return b.String()
}

func line(b *strings.Builder, label, value string) {
	fmt.Fprintf(b, "  %s %s\n", mutedStyle.Render(fmt.Sprintf("%-12s", label+":")), titleStyle.Render(value))
}

func shorten(s string, max int) string {
	if len([]rune(s)) <= max {
		return s
	}
	return string([]rune(s)[:max-3]) + "..."
}
