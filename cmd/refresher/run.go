package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/livinlefevreloca/refresher/internal/job"
)

var (
	okStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	warnStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	errStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	dimStyle  = lipgloss.NewStyle().Faint(true)
	boldStyle = lipgloss.NewStyle().Bold(true)
)

// errRunFailed makes the process exit non-zero after the report was printed
var errRunFailed = errors.New("run did not succeed")

func newRunCmd(root *rootOptions) *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the refresh job once",
		Long: `Run the refresh job once, as a manual trigger. With --dry-run the script
runs and the change is printed as a diff but nothing is pushed.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig(cmd, root, cmd.ErrOrStderr())
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			ctx, cancel := context.WithTimeout(ctx, cfg.Scheduler.RunTimeout)
			defer cancel()

			ledger, err := openLedger(cfg, logger)
			if err != nil {
				return err
			}
			defer ledger.Close()

			runner, err := newRunner(ctx, cfg, logger, ledger, dryRun)
			if err != nil {
				return err
			}

			report := runner.Run(ctx, job.Manual())
			printReport(cmd.OutOrStdout(), report, dryRun)

			if !report.Outcome.Succeeded() {
				cmd.SilenceErrors = true
				return errRunFailed
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "run the script but do not commit, push or open a pull request")
	return cmd
}

func outcomeStyle(o job.Outcome) lipgloss.Style {
	switch o {
	case job.OutcomeFailed, job.OutcomeCancelled:
		return errStyle
	case job.OutcomeSkipped:
		return warnStyle
	default:
		return okStyle
	}
}

// printReport writes a human summary of a finished run
func printReport(w io.Writer, report *job.Report, dryRun bool) {
	fmt.Fprintf(w, "%s %s\n", boldStyle.Render("outcome:"), outcomeStyle(report.Outcome).Render(string(report.Outcome)))
	fmt.Fprintf(w, "%s %s\n", boldStyle.Render("run:"), dimStyle.Render(report.RunID))
	fmt.Fprintf(w, "%s %s\n", boldStyle.Render("duration:"), report.Timing.Duration().Round(time.Millisecond))

	if report.Branch != "" {
		fmt.Fprintf(w, "%s %s\n", boldStyle.Render("branch:"), report.Branch)
	}
	if report.PullRequest != nil {
		fmt.Fprintf(w, "%s #%d %s\n", boldStyle.Render("pull request:"), report.PullRequest.Number, report.PullRequest.URL)
	}
	for _, n := range report.Superseded {
		fmt.Fprintf(w, "%s #%d\n", dimStyle.Render("closed superseded"), n)
	}
	if report.Err != nil {
		fmt.Fprintf(w, "%s %s\n", boldStyle.Render("error:"), errStyle.Render(report.Err.Error()))
	}

	if dryRun && report.Result != nil && report.Result.Changed {
		diff, err := report.Result.Diff()
		if err != nil {
			fmt.Fprintf(w, "%s %s\n", boldStyle.Render("diff:"), errStyle.Render(err.Error()))
			return
		}
		fmt.Fprintln(w)
		fmt.Fprint(w, diff)
	}
}
