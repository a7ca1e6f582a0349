package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/blogscan/internal/analyzer"
	"github.com/JakeFAU/blogscan/internal/archive"
	"github.com/JakeFAU/blogscan/internal/batch"
	"github.com/JakeFAU/blogscan/internal/discovery"
	"github.com/JakeFAU/blogscan/internal/store"
)

type analyzeOptions struct {
	urls        []string
	limit       int
	concurrency int
	timeout     time.Duration
	format      string
}

type analyzeReport struct {
	Discovery discovery.Result                    `json:"discovery"`
	Batch     batch.Result[analyzer.PageAnalysis] `json:"batch"`
	ReportURI string                              `json:"report_uri,omitempty"`
}

// newAnalyzeCmd creates the 'analyze' subcommand.
func newAnalyzeCmd() *cobra.Command {
	opts := &analyzeOptions{}
	cmd := &cobra.Command{
		Use:   "analyze [domain]",
		Short: "Discover and analyze a site's articles",
		Long: `Discovers the domain's article URLs (or takes them from --url) and
analyzes each page under bounded concurrency. Failed pages are reported
alongside successes; a single failure never aborts the batch.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			domain := ""
			if len(args) == 1 {
				domain = args[0]
			}
			return runAnalyze(cmd, domain, opts)
		},
	}
	cmd.Flags().StringSliceVar(&opts.urls, "url", nil, "analyze these URLs instead of discovering (repeatable)")
	cmd.Flags().IntVar(&opts.limit, "limit", 0, "maximum URLs to analyze (0 uses discovery.default_limit)")
	cmd.Flags().IntVar(&opts.concurrency, "concurrency", 0, "pages analyzed at once (0 uses batch.concurrency)")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 0, "per-page timeout (0 uses batch.per_item_timeout)")
	cmd.Flags().StringVar(&opts.format, "format", formatText, "output format: text or json")
	return cmd
}

func runAnalyze(cmd *cobra.Command, domain string, opts *analyzeOptions) error {
	if err := validateFormat(opts.format); err != nil {
		return err
	}
	switch {
	case domain != "" && len(opts.urls) > 0:
		return errors.New("pass either a domain or --url, not both")
	case domain == "" && len(opts.urls) == 0:
		return errors.New("a domain or at least one --url is required")
	}
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	cfg := appInstance.Config()
	ctx := cmd.Context()
	submitted := time.Now().UTC()

	limit := opts.limit
	if limit <= 0 {
		limit = cfg.Discovery.DefaultLimit
	}
	var found discovery.Result
	if domain != "" {
		found, err = appInstance.Discoverer().Discover(ctx, domain, limit)
		if err != nil {
			return fmt.Errorf("discover %s: %w", domain, err)
		}
	} else {
		found = discovery.Manual(opts.urls, limit)
	}
	if found.Error != "" {
		appInstance.Logger().Warn("nothing to analyze", zap.String("reason", found.Error))
	}

	batchOpts := batch.Options{
		Concurrency:    opts.concurrency,
		PerItemTimeout: opts.timeout,
		Progress:       appInstance.Emitter(),
		Logger:         appInstance.Logger(),
	}
	if batchOpts.Concurrency <= 0 {
		batchOpts.Concurrency = cfg.Batch.Concurrency
	}
	if batchOpts.PerItemTimeout <= 0 {
		batchOpts.PerItemTimeout = cfg.Batch.PerItemTimeout
	}
	result := batch.Run(ctx, found.URLs(), appInstance.Worker(), batchOpts)

	report := analyzeReport{Discovery: found, Batch: result}
	report.ReportURI = recordAnalysis(ctx, appInstance, archive.Report{
		ID:          result.ID,
		Domain:      domain,
		SubmittedAt: submitted,
		Discovery:   &found,
		Result:      &result,
	})
	if opts.format == formatJSON {
		err = writeJSON(cmd.OutOrStdout(), report)
	} else {
		err = writeAnalyzeText(cmd.OutOrStdout(), report)
	}
	if err != nil {
		return err
	}
	if result.Canceled {
		return errors.New("analysis canceled before every URL finished")
	}
	return nil
}

// recordAnalysis hands the finished batch to the configured recorder and
// returns the archived report URI, if any. Recording failures are logged only.
func recordAnalysis(ctx context.Context, appInstance App, rep archive.Report) string {
	recorder := appInstance.Recorder()
	if recorder == nil {
		return ""
	}
	rep.Status = store.StatusCompleted
	if rep.Result.Canceled {
		rep.Status = store.StatusCanceled
	}
	rep.FinishedAt = time.Now().UTC()
	rec, err := recorder.Record(context.WithoutCancel(ctx), rep)
	if err != nil {
		appInstance.Logger().Warn("batch record failed", zap.Error(err))
	}
	return rec.ReportURI
}

func writeAnalyzeText(w io.Writer, report analyzeReport) error {
	res := report.Batch
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "batch %s: source=%s ok=%d failed=%d duration=%s\n",
		res.ID, report.Discovery.Source, len(res.Successes), len(res.Failures), res.TotalDuration.Round(time.Millisecond))
	fmt.Fprintln(tw, "STATUS\tURL\tWORDS\tCITATIONS\tTITLE/ERROR")
	for _, u := range sortedKeys(res.Successes) {
		page := res.Successes[u].Result
		fmt.Fprintf(tw, "ok\t%s\t%d\t%d\t%s\n", u, page.WordCount, page.OutboundCitations, page.Title)
	}
	for _, u := range sortedKeys(res.Failures) {
		f := res.Failures[u]
		fmt.Fprintf(tw, "%s\t%s\t-\t-\t%s\n", f.Kind, u, f.Error)
	}
	if report.ReportURI != "" {
		fmt.Fprintf(tw, "report: %s\n", report.ReportURI)
	}
	if err := tw.Flush(); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
