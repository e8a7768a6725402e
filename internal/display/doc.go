// Package display formats plangate results for the terminal.
//
// Everything here writes to an io.Writer and colors through
// github.com/fatih/color, so NO_COLOR and non-terminal writers get plain
// text.
//
// # Warnings
//
//	warning := display.Warning{
//	    Title:      "Unresolved session on plan TASK-7",
//	    Message:    "session 3f2a... was left active with 2 changes",
//	    Suggestion: "Run 'plangate session commit TASK-7' or 'plangate session abort TASK-7'",
//	}
//	warning.Display(os.Stderr)
//
// # Summaries
//
// PrintScore and PrintDecision render one evaluation; PrintHistory,
// PrintDiff and PrintSession render version and session state; PrintStats
// renders the metrics index aggregates.
//
// # Progress
//
// ScoreProgress reports progress while several plan files are scored.
package display
