package cli

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fpang/ai-virtual-stylist/internal/workflow"
)

// FormatDurationShort formats a duration in a short format (M:SS or H:MM:SS).
func FormatDurationShort(d time.Duration) string {
	totalSeconds := int(d.Seconds())
	hours := totalSeconds / 3600
	minutes := (totalSeconds % 3600) / 60
	seconds := totalSeconds % 60

	if hours > 0 {
		return fmt.Sprintf("%d:%02d:%02d", hours, minutes, seconds)
	}
	return fmt.Sprintf("%d:%02d", minutes, seconds)
}

// StageResult describes one finished stage for the run summary.
type StageResult struct {
	Label    string
	Path     string
	Duration time.Duration
	Err      error
	Skipped  bool
}

// RenderSummary prints the end-of-run report.
func RenderSummary(w io.Writer, state workflow.State, results []StageResult) {
	var b strings.Builder
	b.WriteString(StyleTitle.Render("Virtual try-on"))
	b.WriteString("\n\n")

	for _, r := range results {
		switch {
		case r.Skipped:
			fmt.Fprintf(&b, "%s %s %s\n", StyleMuted.Render("-"), StyleBold.Render(r.Label), StyleSubtle.Render("skipped"))
		case r.Err != nil:
			fmt.Fprintf(&b, "%s %s %s\n", StyleError.Render(IconError), StyleBold.Render(r.Label), StyleError.Render(r.Err.Error()))
		default:
			fmt.Fprintf(&b, "%s %s %s %s\n",
				StyleSuccess.Render(IconSuccess),
				StyleBold.Render(r.Label),
				StyleInfo.Render(r.Path),
				StyleMuted.Render("("+FormatDurationShort(r.Duration)+")"))
		}
	}

	if state.Persona != "" {
		fmt.Fprintf(&b, "\n%s %s\n", StyleMuted.Render("Persona:"), state.Persona.DisplayName())
	}
	fmt.Fprintf(&b, "%s %s\n", StyleMuted.Render("Phase:"), state.Phase)

	fmt.Fprint(w, b.String())
}
