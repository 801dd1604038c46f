package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/odyssey-erp/consolidation/jobs"
)

// Backend opens the collaborators of each command group on demand so that
// commands only connect to what they use.
type Backend interface {
	FX(ctx context.Context) (*FXOpsCLI, func(), error)
	Jobs(ctx context.Context) (*JobsCLI, error)
	Sync(ctx context.Context) (SyncPreviewer, func(), error)
}

// ExitError carries a non-zero process exit code out of a command.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return "exit status " + strconv.Itoa(e.Code)
}

func exitCode(code int) error {
	if code == 0 {
		return nil
	}
	return &ExitError{Code: code}
}

// NewRootCmd builds the consolctl command tree.
func NewRootCmd(backend Backend) *cobra.Command {
	root := &cobra.Command{
		Use:           "consolctl",
		Short:         "Operate the consolidation engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newFXCmd(backend), newJobsCmd(backend), newSyncCmd(backend))
	return root
}

func newFXCmd(backend Backend) *cobra.Command {
	cmd := &cobra.Command{Use: "fx", Short: "FX rate coverage and backfill"}

	var validate FXValidateOptions
	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Report missing average and closing rates for a group period",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ops, closeFn, err := backend.FX(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()
			opts := validate
			opts.Stdout, opts.Stderr = cmd.OutOrStdout(), cmd.ErrOrStderr()
			return exitCode(ops.ValidateCommand(cmd.Context(), opts))
		},
	}
	validateCmd.Flags().Int64Var(&validate.GroupID, "group", 0, "Consolidation group id")
	validateCmd.Flags().StringVar(&validate.Period, "period", "", "Period (YYYY-MM)")
	validateCmd.Flags().StringSliceVar(&validate.Pairs, "pairs", nil, "Restrict to pairs, e.g. USDIDR,SGDIDR")
	validateCmd.Flags().BoolVar(&validate.JSONOutput, "json", false, "Print JSON")
	_ = validateCmd.MarkFlagRequired("group")
	_ = validateCmd.MarkFlagRequired("period")

	var backfill FXBackfillOptions
	var mode string
	backfillCmd := &cobra.Command{
		Use:   "backfill",
		Short: "Fill missing rates from a CSV file, stdin or the rate feed",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ops, closeFn, err := backend.FX(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()
			opts := backfill
			opts.Mode = FXBackfillMode(mode)
			opts.Stdin, opts.Stdout, opts.Stderr = cmd.InOrStdin(), cmd.OutOrStdout(), cmd.ErrOrStderr()
			return exitCode(ops.BackfillCommand(cmd.Context(), opts))
		},
	}
	backfillCmd.Flags().StringVar(&backfill.Pair, "pair", "", "Currency pair, e.g. USDIDR")
	backfillCmd.Flags().StringVar(&backfill.From, "from", "", "First period (YYYY-MM)")
	backfillCmd.Flags().StringVar(&backfill.To, "to", "", "Last period (YYYY-MM)")
	backfillCmd.Flags().StringVar(&mode, "mode", string(FXBackfillModeDry), "dry or apply")
	backfillCmd.Flags().StringVar(&backfill.Source, "source", "", "CSV path, - for stdin, empty for the rate feed")
	backfillCmd.Flags().BoolVar(&backfill.JSONOutput, "json", false, "Print JSON")
	_ = backfillCmd.MarkFlagRequired("pair")
	_ = backfillCmd.MarkFlagRequired("from")
	_ = backfillCmd.MarkFlagRequired("to")

	cmd.AddCommand(validateCmd, backfillCmd)
	return cmd
}

func newJobsCmd(backend Backend) *cobra.Command {
	cmd := &cobra.Command{Use: "jobs", Short: "Enqueue and inspect consolidation jobs"}

	enqueue := func(use, short, taskType string) *cobra.Command {
		var group, period string
		var entities []int64
		var eliminate bool
		c := &cobra.Command{
			Use:   use,
			Short: short,
			RunE: func(cmd *cobra.Command, _ []string) error {
				cli, err := backend.Jobs(cmd.Context())
				if err != nil {
					return err
				}
				defer func() { _ = cli.Close() }()
				info, err := cli.Trigger(cmd.Context(), taskType, jobs.ConsolPayload{
					GroupID:     group,
					Period:      period,
					Entities:    entities,
					EliminateIC: eliminate,
				})
				if errors.Is(err, jobs.ErrAlreadyQueued) {
					fmt.Fprintf(cmd.OutOrStdout(), "%s for group=%s period=%s is already queued\n", taskType, group, period)
					return nil
				}
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "enqueued %s id=%s queue=%s\n", taskType, info.ID, info.Queue)
				return nil
			},
		}
		c.Flags().StringVar(&group, "group", "all", "Group id or all")
		c.Flags().StringVar(&period, "period", "active", "Period (YYYY-MM) or active")
		c.Flags().Int64SliceVar(&entities, "entities", nil, "Restrict to entity ids")
		if taskType == jobs.TaskConsolRegenerate {
			c.Flags().BoolVar(&eliminate, "eliminate-ic", false, "Run intercompany eliminations first")
		}
		return c
	}

	stats := &cobra.Command{
		Use:   "stats",
		Short: "Show default queue statistics",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cli, err := backend.Jobs(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = cli.Close() }()
			s, err := cli.InspectQueue(cmd.Context())
			if err != nil {
				return err
			}
			printStats(cmd.OutOrStdout(), s)
			return nil
		},
	}

	cmd.AddCommand(
		enqueue("regenerate", "Enqueue a consolidation regenerate", jobs.TaskConsolRegenerate),
		enqueue("translate", "Enqueue a translated trial balance posting", jobs.TaskConsolTranslate),
		stats,
	)
	return cmd
}

func printStats(out io.Writer, s jobs.QueueStats) {
	fmt.Fprintf(out, "queue=%s pending=%d active=%d scheduled=%d retry=%d archived=%d failed_today=%d latency=%.1fs\n",
		s.Queue, s.Pending, s.Active, s.Scheduled, s.Retry, s.Archived, s.FailedToday, s.LatencySeconds)
	if s.Paused {
		fmt.Fprintln(out, "queue is paused")
	}
}

func newSyncCmd(backend Backend) *cobra.Command {
	cmd := &cobra.Command{Use: "sync", Short: "Reference data sync"}

	var opts SyncPreviewOptions
	preview := &cobra.Command{
		Use:   "preview <dataset>",
		Short: "Diff a JSON record file against the stored accounts or hierarchy",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, closeFn, err := backend.Sync(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()
			run := opts
			run.Dataset = strings.TrimSpace(args[0])
			run.Stdin, run.Stdout, run.Stderr = cmd.InOrStdin(), cmd.OutOrStdout(), cmd.ErrOrStderr()
			return exitCode(SyncPreviewCommand(cmd.Context(), svc, run))
		},
	}
	preview.Flags().StringVar(&opts.Source, "file", "-", "JSON array of records, - for stdin")
	preview.Flags().BoolVar(&opts.JSONOutput, "json", false, "Print JSON")

	cmd.AddCommand(preview)
	return cmd
}
