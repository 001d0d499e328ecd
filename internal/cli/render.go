package cli

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"fluxtune/internal/domain"
	"fluxtune/internal/polling"
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	mutedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	okStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	pendingStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	runningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("203")).Bold(true)
)

const barWidth = 20

func printJSON(v any) error {
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func statusStyle(s domain.JobStatus) lipgloss.Style {
	switch s {
	case domain.JobStatusReady:
		return okStyle
	case domain.JobStatusError:
		return errorStyle
	case domain.JobStatusRunning:
		return runningStyle
	default:
		return pendingStyle
	}
}

// progressLine renders one polling update, e.g.
// "running  [#########-----------]  45%  attempt 3  12s".
func progressLine(u polling.Update) string {
	if u.Attempt == 0 {
		return fmt.Sprintf("%s %s", okStyle.Render("submitted"), mutedStyle.Render("job "+u.JobID))
	}
	parts := []string{statusStyle(u.Status).Render(fmt.Sprintf("%-8s", strings.ToLower(string(u.Status))))}
	snapshot := domain.RemoteJob{Progress: u.Progress}
	if pct, ok := snapshot.ProgressPercent(); ok {
		filled := int(pct/100*barWidth + 0.5)
		parts = append(parts, "["+strings.Repeat("#", filled)+strings.Repeat("-", barWidth-filled)+"]", fmt.Sprintf("%3.0f%%", pct))
	}
	parts = append(parts, mutedStyle.Render(fmt.Sprintf("attempt %d  %s", u.Attempt, u.Elapsed.Round(time.Second))))
	return strings.Join(parts, "  ")
}

func progressPrinter(quiet bool) polling.ProgressFunc {
	if quiet {
		return nil
	}
	return func(u polling.Update) {
		fmt.Fprintln(stderr, progressLine(u))
	}
}

func renderFinetunes(records []domain.FinetuneRecord) string {
	if len(records) == 0 {
		return mutedStyle.Render("no finetunes registered")
	}
	width := len("LABEL")
	for _, r := range records {
		width = max(width, lipgloss.Width(r.Label))
	}
	lines := []string{titleStyle.Render(fmt.Sprintf("%-*s  %s", width, "LABEL", "FINETUNE ID"))}
	for _, r := range records {
		pad := strings.Repeat(" ", width-lipgloss.Width(r.Label))
		line := r.Label + pad + "  " + r.FinetuneID
		if !r.UpdatedAt.IsZero() {
			line += "  " + mutedStyle.Render(r.UpdatedAt.Local().Format("2006-01-02 15:04"))
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}
