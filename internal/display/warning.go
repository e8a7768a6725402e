package display

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"

	"github.com/harrison/plangate/internal/models"
)

// Warning represents a user-facing warning message
type Warning struct {
	Title      string   // Main warning title
	Message    string   // Detailed explanation (optional)
	Files      []string // Related files (optional)
	Suggestion string   // Action to take (optional)
}

// Display shows a formatted warning in yellow
func (w Warning) Display(out io.Writer) {
	var b strings.Builder

	b.WriteString("⚠️  Warning: ")
	b.WriteString(w.Title)
	b.WriteString("\n")

	if w.Message != "" {
		for _, line := range strings.Split(w.Message, "\n") {
			b.WriteString("    ")
			b.WriteString(line)
			b.WriteString("\n")
		}
	}

	// Add files with proper singular/plural and indentation
	if len(w.Files) > 0 {
		b.WriteString("    ")
		if len(w.Files) == 1 {
			b.WriteString("Affected file:\n")
		} else {
			b.WriteString("Affected files:\n")
		}

		for i, file := range w.Files {
			b.WriteString(fmt.Sprintf("      %d. %s\n", i+1, file))
		}
	}

	if w.Suggestion != "" {
		b.WriteString("    Suggestion:\n")
		b.WriteString("    ")
		b.WriteString(w.Suggestion)
		b.WriteString("\n")
	}

	color.New(color.FgYellow).Fprint(out, b.String())
}

// WarnConfigErrors creates a warning for configuration layers that were
// discarded while loading.
func WarnConfigErrors(errs []*models.ConfigurationError) Warning {
	w := Warning{
		Title:      "Configuration problems, affected layers were ignored",
		Suggestion: "Fix the listed settings; built-in defaults apply until then",
	}
	var lines []string
	for _, err := range errs {
		lines = append(lines, err.Error())
		if err.Source != "" && err.Source != "env" && err.Source != "override" && !contains(w.Files, err.Source) {
			w.Files = append(w.Files, err.Source)
		}
	}
	w.Message = strings.Join(lines, "\n")
	return w
}

// WarnUncleanSession creates a warning for a session that was left open by
// a crashed process.
func WarnUncleanSession(rec models.SessionRecord) Warning {
	return Warning{
		Title: fmt.Sprintf("Unresolved session on plan %s", rec.PlanID),
		Message: fmt.Sprintf("session %s was left %s on version %d with %d change(s)",
			rec.ID, rec.State, rec.BaseVersion, len(rec.Changes)),
		Suggestion: fmt.Sprintf("Run 'plangate session commit %s' or 'plangate session abort %s'", rec.PlanID, rec.PlanID),
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
