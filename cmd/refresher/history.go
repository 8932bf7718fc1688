package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/livinlefevreloca/refresher/internal/cron"
	"github.com/livinlefevreloca/refresher/internal/db"
	"github.com/livinlefevreloca/refresher/internal/scheduler"
	"github.com/livinlefevreloca/refresher/internal/stats"
)

var headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205")).Padding(0, 1)

func newHistoryCmd(root *rootOptions) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent runs from the run ledger",
		RunE: func(cmd *cobra.Command, args []string) error {
			if limit <= 0 {
				return fmt.Errorf("--limit must be positive, got %d", limit)
			}

			cfg, logger, err := loadConfig(cmd, root, cmd.ErrOrStderr())
			if err != nil {
				return err
			}

			ledger, err := openLedger(cfg, logger)
			if err != nil {
				return err
			}
			defer ledger.Close()

			runs, err := ledger.GetJobRuns(cfg.Job.Name, limit)
			if err != nil {
				return fmt.Errorf("failed to read run ledger: %w", err)
			}

			out := cmd.OutOrStdout()
			if len(runs) == 0 {
				fmt.Fprintf(out, "no runs recorded for %s\n", cfg.Job.Name)
			} else {
				fmt.Fprintln(out, renderHistory(runs))
				printSummary(out, stats.Summarize(runs))
			}

			upcoming, err := upcomingRuns(cfg.Scheduler, time.Now(), 3)
			if err != nil {
				return err
			}
			printUpcoming(out, upcoming)
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of runs to show")
	return cmd
}

// renderHistory formats runs as a table, newest first
func renderHistory(runs []db.JobRun) string {
	rows := make([][]string, 0, len(runs))
	for _, run := range runs {
		errText := ""
		if run.Error != nil {
			errText = truncate(*run.Error, 60)
		}
		rows = append(rows, []string{
			run.ScheduledAt.UTC().Format(time.RFC3339),
			run.Trigger,
			runOutcome(run),
			runDuration(run),
			run.PullRequestURL,
			errText,
		})
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(dimStyle).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return lipgloss.NewStyle().Padding(0, 1)
		}).
		Headers("SCHEDULED", "TRIGGER", "OUTCOME", "DURATION", "PULL REQUEST", "ERROR").
		Rows(rows...)

	return t.String()
}

func printSummary(w io.Writer, s stats.Summary) {
	parts := make([]string, 0, len(s.Outcomes))
	for _, name := range s.OutcomeNames() {
		parts = append(parts, fmt.Sprintf("%s=%d", name, s.Outcomes[name]))
	}

	fmt.Fprintf(w, "%s %d runs, %d finished, %.0f%% succeeded (%s)\n",
		boldStyle.Render("summary:"), s.Runs, s.Finished, s.SuccessRate()*100, strings.Join(parts, " "))
	if s.Finished > 0 {
		fmt.Fprintf(w, "%s min %s, avg %s, max %s\n",
			boldStyle.Render("duration:"),
			s.MinDuration.Round(time.Second), s.AvgDuration.Round(time.Second), s.MaxDuration.Round(time.Second))
	}
	if s.LastProposal != nil {
		fmt.Fprintf(w, "%s %s\n", boldStyle.Render("last proposal:"), s.LastProposal.PullRequestURL)
	}
}

// upcomingRuns lists the next n fire times of the configured schedule
func upcomingRuns(cfg scheduler.Config, now time.Time, n int) ([]time.Time, error) {
	schedule, err := cron.Parse(cfg.Schedule)
	if err != nil {
		return nil, err
	}
	loc, err := time.LoadLocation(cfg.Location)
	if err != nil {
		return nil, err
	}
	return schedule.NextN(now.In(loc), n), nil
}

func printUpcoming(w io.Writer, upcoming []time.Time) {
	if len(upcoming) == 0 {
		return
	}
	parts := make([]string, 0, len(upcoming))
	for _, t := range upcoming {
		parts = append(parts, t.Format(time.RFC3339))
	}
	fmt.Fprintf(w, "%s %s\n", boldStyle.Render("next runs:"), strings.Join(parts, ", "))
}

func runOutcome(run db.JobRun) string {
	if run.Outcome == "" {
		return run.Status
	}
	return run.Outcome
}

func runDuration(run db.JobRun) string {
	if run.StartedAt == nil || run.CompletedAt == nil {
		return "-"
	}
	return run.CompletedAt.Sub(*run.StartedAt).Round(time.Second).String()
}

// truncate shortens s to at most n runes
func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n-1]) + "…"
}
