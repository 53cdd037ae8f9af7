package cmd

import (
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/JakeFAU/keyword-watcher/internal/controller"
	"github.com/JakeFAU/keyword-watcher/internal/watch"
)

func newStartCmd(opts *rootOptions) *cobra.Command {
	var url, word string
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Save the URL and keyword and mark the target active",
		Long: `Persists the watch config and sets the run flag to active. Without
--url and --word the stored config is resumed. A running "serve" process
arms the schedule on its next reconcile.`,
		Example: `  keyword-watcher start --url https://example.com/news --word tickets
  keyword-watcher start --target shop`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if (url == "") != (word == "") {
				return fmt.Errorf("--url and --word must be given together")
			}
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			ctrl := appInstance.Controller()
			cfg := watch.WatchConfig{TargetURL: url, Keyword: word}
			if _, err := ctrl.Start(cmd.Context(), opts.target, cfg); err != nil {
				return fmt.Errorf("start %s: %w", opts.target, err)
			}
			st, err := ctrl.Status(cmd.Context(), opts.target)
			if err != nil {
				return err
			}
			printStatus(cmd.OutOrStdout(), st)
			return nil
		},
	}
	cmd.Flags().StringVar(&url, "url", "", "page to watch")
	cmd.Flags().StringVar(&word, "word", "", "keyword to look for")
	return cmd
}

func newStopCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Pause the target",
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			ctrl := appInstance.Controller()
			if err := ctrl.Stop(cmd.Context(), opts.target); err != nil {
				return fmt.Errorf("stop %s: %w", opts.target, err)
			}
			st, err := ctrl.Status(cmd.Context(), opts.target)
			if err != nil {
				return err
			}
			printStatus(cmd.OutOrStdout(), st)
			return nil
		},
	}
}

func newStatusCmd(opts *rootOptions) *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the stored config and run state",
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			ctrl := appInstance.Controller()
			ids := []string{opts.target}
			if all {
				ids, err = ctrl.KnownTargets(cmd.Context())
				if err != nil {
					return err
				}
			}
			for _, id := range ids {
				st, err := ctrl.Status(cmd.Context(), id)
				if err != nil {
					return fmt.Errorf("status %s: %w", id, err)
				}
				printStatus(cmd.OutOrStdout(), st)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "show every known target")
	return cmd
}

func newCheckCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Run one tick now and print the outcome",
		Long: `Runs a single tick for the target in this process. The tick honors
the run flag, so a paused target reports skipped.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			result, err := appInstance.Controller().CheckNow(cmd.Context(), opts.target)
			if err != nil {
				return err
			}
			printTick(cmd.OutOrStdout(), result)
			if result.Outcome == watch.OutcomeFailed {
				return fmt.Errorf("tick failed: %s", result.ErrorText())
			}
			return nil
		},
	}
}

var (
	labelColor  = color.New(color.Bold)
	activeColor = color.New(color.FgGreen, color.Bold)
	pausedColor = color.New(color.FgYellow, color.Bold)
	failedColor = color.New(color.FgRed, color.Bold)
	dimColor    = color.New(color.Faint)
)

func printStatus(w io.Writer, st controller.Status) {
	state := pausedColor.Sprint(st.State)
	if st.RunState.Active() {
		state = activeColor.Sprint(st.State)
	}
	fmt.Fprintf(w, "%s %s\n", labelColor.Sprint(st.TargetID), state)
	fmt.Fprintf(w, "  url:  %s\n", orDash(st.Config.TargetURL))
	fmt.Fprintf(w, "  word: %s\n", orDash(st.Config.Keyword))
	if st.Scheduled {
		fmt.Fprintf(w, "  schedule: %s\n", st.Handle)
	}
	if st.LastResult != nil {
		fmt.Fprint(w, "  last tick: ")
		printTick(w, *st.LastResult)
	}
}

func printTick(w io.Writer, r watch.TickResult) {
	var outcome string
	switch r.Outcome {
	case watch.OutcomeSuccess:
		outcome = activeColor.Sprint(r.Outcome)
	case watch.OutcomeFailed:
		outcome = failedColor.Sprint(r.Outcome)
	default:
		outcome = pausedColor.Sprint(r.Outcome)
	}
	fmt.Fprintf(w, "%s (%s) %s\n", outcome, r.Reason, dimColor.Sprint(r.Duration.Round(time.Millisecond)))
	if r.Match != nil {
		fmt.Fprintf(w, "  match: paragraph %d: %s\n", r.Match.ParagraphIndex+1,
			watch.FormatExcerpt(*r.Match))
	}
	if r.Err != nil {
		fmt.Fprintf(w, "  error: %s\n", r.ErrorText())
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
