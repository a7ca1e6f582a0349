package cmd

import (
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/JakeFAU/blogscan/internal/store"
)

type historyOptions struct {
	status string
	limit  int
	offset int
	format string
}

// newHistoryCmd creates the 'history' subcommand and its 'show' child.
func newHistoryCmd() *cobra.Command {
	opts := &historyOptions{}
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded batches",
		Long: `Lists finished batches from the configured history store (history.provider),
newest first.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runHistoryList(cmd, opts)
		},
	}
	cmd.Flags().StringVar(&opts.status, "status", "", "only batches with this status: completed, canceled or failed")
	cmd.Flags().IntVar(&opts.limit, "limit", 20, "maximum batches to list")
	cmd.Flags().IntVar(&opts.offset, "offset", 0, "batches to skip")
	cmd.Flags().StringVar(&opts.format, "format", formatText, "output format: text or json")

	cmd.AddCommand(&cobra.Command{
		Use:   "show <batch_id>",
		Short: "Print one recorded batch as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistoryShow(cmd, args[0])
		},
	})
	return cmd
}

func resolveHistory(cmd *cobra.Command) (store.BatchRepository, error) {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return nil, err
	}
	history := appInstance.History()
	if history == nil {
		return nil, errors.New("batch history is not configured (set history.provider)")
	}
	return history, nil
}

func runHistoryList(cmd *cobra.Command, opts *historyOptions) error {
	if err := validateFormat(opts.format); err != nil {
		return err
	}
	if opts.limit <= 0 || opts.offset < 0 {
		return errors.New("limit must be positive and offset non-negative")
	}
	var status *store.BatchStatus
	if opts.status != "" {
		s := store.BatchStatus(opts.status)
		switch s {
		case store.StatusCompleted, store.StatusCanceled, store.StatusFailed:
		default:
			return fmt.Errorf("unknown status %q", opts.status)
		}
		status = &s
	}
	history, err := resolveHistory(cmd)
	if err != nil {
		return err
	}
	recs, err := history.ListBatches(cmd.Context(), status, opts.limit, opts.offset)
	if err != nil {
		return fmt.Errorf("list history: %w", err)
	}
	if opts.format == formatJSON {
		if recs == nil {
			recs = []store.BatchRecord{}
		}
		return writeJSON(cmd.OutOrStdout(), recs)
	}
	return writeHistoryText(cmd.OutOrStdout(), recs)
}

func runHistoryShow(cmd *cobra.Command, rawID string) error {
	id, err := uuid.Parse(rawID)
	if err != nil {
		return fmt.Errorf("invalid batch id %q: %w", rawID, err)
	}
	history, err := resolveHistory(cmd)
	if err != nil {
		return err
	}
	rec, err := history.GetBatch(cmd.Context(), id)
	if err != nil {
		return fmt.Errorf("get batch %s: %w", id, err)
	}
	return writeJSON(cmd.OutOrStdout(), rec)
}

func writeHistoryText(w io.Writer, recs []store.BatchRecord) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "BATCH\tSTATUS\tFINISHED\tSOURCE\tOK\tFAILED\tDOMAIN")
	for _, rec := range recs {
		domain := rec.Domain
		if domain == "" {
			domain = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%d\t%s\n",
			rec.ID, rec.Status, rec.FinishedAt.Format(time.RFC3339), rec.Source, rec.Succeeded, rec.Failed, domain)
	}
	if err := tw.Flush(); err != nil {
		return fmt.Errorf("write history: %w", err)
	}
	return nil
}
