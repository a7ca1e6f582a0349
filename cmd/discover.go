package cmd

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/blogscan/internal/discovery"
)

const (
	formatJSON = "json"
	formatText = "text"
)

type discoverOptions struct {
	limit  int
	format string
}

// newDiscoverCmd creates the 'discover' subcommand.
func newDiscoverCmd() *cobra.Command {
	opts := &discoverOptions{}
	cmd := &cobra.Command{
		Use:   "discover <domain>",
		Short: "List a site's article URLs",
		Long: `Runs the sitemap, feed and HTML sitemap strategies in order against the
domain and prints the first non-empty result, newest articles first.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDiscover(cmd, args[0], opts)
		},
	}
	cmd.Flags().IntVar(&opts.limit, "limit", 0, "maximum URLs to return (0 uses discovery.default_limit)")
	cmd.Flags().StringVar(&opts.format, "format", formatText, "output format: text or json")
	return cmd
}

func runDiscover(cmd *cobra.Command, domain string, opts *discoverOptions) error {
	if err := validateFormat(opts.format); err != nil {
		return err
	}
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	res, err := appInstance.Discoverer().Discover(cmd.Context(), domain, opts.limit)
	if err != nil {
		return fmt.Errorf("discover %s: %w", domain, err)
	}
	if opts.format == formatJSON {
		return writeJSON(cmd.OutOrStdout(), res)
	}
	return writeDiscoveryText(cmd.OutOrStdout(), res)
}

func writeDiscoveryText(w io.Writer, res discovery.Result) error {
	if res.Error != "" {
		_, err := fmt.Fprintf(w, "source: %s\nerror: %s\n", res.Source, res.Error)
		return err
	}
	if _, err := fmt.Fprintf(w, "source: %s (%d of %d)\n", res.Source, len(res.Posts), res.TotalFound); err != nil {
		return err
	}
	for _, p := range res.Posts {
		lastMod := "-"
		if p.LastModified != nil {
			lastMod = p.LastModified.Format("2006-01-02")
		}
		if _, err := fmt.Fprintf(w, "%s\t%s\n", lastMod, p.URL); err != nil {
			return err
		}
	}
	return nil
}

func validateFormat(format string) error {
	if format != formatJSON && format != formatText {
		return fmt.Errorf("unknown format %q (want %s or %s)", format, formatText, formatJSON)
	}
	return nil
}

func writeJSON(w io.Writer, payload any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(payload); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}
