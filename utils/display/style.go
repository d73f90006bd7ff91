// Package display renders job results for the terminal.
package display

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/kris-hansen/sheetsmith/utils/artifact"
	"github.com/kris-hansen/sheetsmith/utils/processor"
	"golang.org/x/term"
)

// StyleConfig controls output styling behavior
type StyleConfig struct {
	UseColors  bool
	UseUnicode bool
}

// DefaultStyleConfig enables colors only when w is a terminal and neither
// NO_COLOR nor TERM=dumb is set
func DefaultStyleConfig(w io.Writer) *StyleConfig {
	tty := IsTerminal(w)
	useColors := tty
	if os.Getenv("NO_COLOR") != "" || os.Getenv("TERM") == "dumb" {
		useColors = false
	}
	return &StyleConfig{UseColors: useColors, UseUnicode: tty}
}

// IsTerminal reports whether w is an interactive terminal
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// Styler provides methods for styled terminal output
type Styler struct {
	config  *StyleConfig
	success lipgloss.Style
	failure lipgloss.Style
	warning lipgloss.Style
	muted   lipgloss.Style
	bold    lipgloss.Style
	label   lipgloss.Style
	box     lipgloss.Style
}

// NewStyler creates a new Styler with the given configuration
func NewStyler(config *StyleConfig) *Styler {
	border := lipgloss.RoundedBorder()
	if !config.UseUnicode {
		border = lipgloss.ASCIIBorder()
	}
	s := &Styler{
		config: config,
		label:  lipgloss.NewStyle().Width(10),
		box:    lipgloss.NewStyle().Border(border).Padding(0, 1),
	}
	if config.UseColors {
		s.success = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
		s.failure = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
		s.warning = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
		s.muted = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
		s.bold = lipgloss.NewStyle().Bold(true)
		s.label = s.label.Foreground(lipgloss.Color("12"))
		s.box = s.box.BorderForeground(lipgloss.Color("8"))
	}
	return s
}

func (s *Styler) render(st lipgloss.Style, text string) string {
	if !s.config.UseColors {
		return text
	}
	return st.Render(text)
}

func (s *Styler) Success(text string) string { return s.render(s.success, text) }
func (s *Styler) Error(text string) string   { return s.render(s.failure, text) }
func (s *Styler) Warning(text string) string { return s.render(s.warning, text) }
func (s *Styler) Muted(text string) string   { return s.render(s.muted, text) }
func (s *Styler) Bold(text string) string    { return s.render(s.bold, text) }

// SuccessIcon returns a green checkmark
func (s *Styler) SuccessIcon() string {
	if !s.config.UseUnicode {
		return s.Success("[OK]")
	}
	return s.Success("✓")
}

// ErrorIcon returns a red X
func (s *Styler) ErrorIcon() string {
	if !s.config.UseUnicode {
		return s.Error("[FAIL]")
	}
	return s.Error("✗")
}

func (s *Styler) arrow() string {
	if !s.config.UseUnicode {
		return "->"
	}
	return "→"
}

// Rate renders a fill rate as a short bar and a fraction
func (s *Styler) Rate(rate float64) string {
	const width = 10
	filled := int(rate*width + 0.5)
	if filled > width {
		filled = width
	}
	full, empty := "█", "░"
	if !s.config.UseUnicode {
		full, empty = "#", "."
	}
	return strings.Repeat(full, filled) + s.Muted(strings.Repeat(empty, width-filled)) + fmt.Sprintf(" %.2f", rate)
}

func (s *Styler) line(label, value string) string {
	return s.label.Render(label) + value
}

// JobReport renders one finished job. summary is nil for failed jobs.
func (s *Styler) JobReport(name string, job *processor.Job, summary *artifact.Summary, output string) string {
	var lines []string
	if job.Status == processor.StateReady {
		lines = append(lines, s.Bold(name)+"  "+s.SuccessIcon()+" "+s.Success(string(job.Status)))
	} else {
		lines = append(lines, s.Bold(name)+"  "+s.ErrorIcon()+" "+s.Error(string(job.Status)))
	}
	lines = append(lines, s.line("job", s.Muted(job.ID)))

	if summary == nil {
		if job.Reason != "" {
			lines = append(lines, s.line("reason", s.Error(job.Reason)))
		}
		return s.box.Render(strings.Join(lines, "\n"))
	}

	lines = append(lines, s.line("engine", fmt.Sprintf("%s (plan %s)", s.Bold(summary.Engine), summary.PlanStatus)))
	if summary.FillRates.Plan != nil {
		lines = append(lines, s.line("plan", s.Rate(*summary.FillRates.Plan)))
	}
	lines = append(lines, s.line("fallback", s.Rate(summary.FillRates.Fallback)))
	if summary.ProposalError != "" {
		lines = append(lines, s.line("proposer", s.Warning(summary.ProposalError)))
	}
	lines = append(lines, s.line("rows", fmt.Sprintf("%d raw %s %d written", summary.RowsRaw, s.arrow(), summary.RowsIdeal)))
	if summary.RowsRemoved > 0 {
		lines = append(lines, s.line("filtered", fmt.Sprintf("%d", summary.RowsRemoved)))
	}
	if len(summary.ColumnsEmpty) > 0 {
		lines = append(lines, s.line("empty", s.Warning(strings.Join(summary.ColumnsEmpty, ", "))))
	}
	warnings := fmt.Sprintf("%d", summary.Warnings)
	if summary.Warnings > 0 {
		warnings = s.Warning(warnings)
	}
	lines = append(lines, s.line("warnings", warnings))
	if output != "" {
		lines = append(lines, s.line("output", output))
	}
	return s.box.Render(strings.Join(lines, "\n"))
}
