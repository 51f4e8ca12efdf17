package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/newsroom-crawler/internal/crawler"
	"github.com/JakeFAU/newsroom-crawler/internal/worker"
)

type crawlOptions struct {
	maxCount  int
	watermark string
	output    string
	format    string
}

// newCrawlCmd creates the 'crawl' subcommand, which runs exactly one batch and
// prints its report as JSON.
func newCrawlCmd() *cobra.Command {
	opts := &crawlOptions{}
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Runs one incremental crawl batch",
		Long: `Opens the configured listing, collects documents newest first, and stops at
the stored watermark, the max count, or the end of the listing. The batch is
persisted, exported, and announced according to the configuration.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCrawlCommand(cmd, opts)
		},
	}
	cmd.Flags().IntVar(&opts.maxCount, "max-count", 0, "maximum documents to collect (default from config)")
	cmd.Flags().StringVar(&opts.watermark, "watermark", "", "identity hash to stop at instead of the stored watermark")
	cmd.Flags().StringVarP(&opts.output, "output", "o", "-", "where to write the report ('-' for stdout)")
	cmd.Flags().StringVar(&opts.format, "format", "json", "report format: json or table")
	return cmd
}

func runCrawlCommand(cmd *cobra.Command, opts *crawlOptions) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	if opts.maxCount < 0 {
		return fmt.Errorf("--max-count must be >= 0")
	}
	if opts.format != "json" && opts.format != "table" {
		return fmt.Errorf("--format must be json or table")
	}

	req := worker.Request{MaxCount: opts.maxCount}
	if opts.watermark != "" {
		req.Watermark = &crawler.Watermark{IdentityHash: opts.watermark}
	}

	report, runErr := appInstance.Execute(cmd.Context(), req)
	if report.RunID != "" {
		if err := writeReport(cmd.OutOrStdout(), opts.output, opts.format, report); err != nil {
			return err
		}
	}
	if runErr != nil {
		return fmt.Errorf("run batch: %w", runErr)
	}

	appInstance.Logger().Info("Crawl command finished.",
		zap.String("run_id", report.RunID),
		zap.Int("documents", len(report.Result.Documents)),
		zap.String("reason", string(report.Result.Reason)),
	)
	return nil
}

// createOutput opens the report file. It's a variable so tests can replace it.
var createOutput = func(path string) (io.WriteCloser, error) {
	return os.Create(path)
}

func writeReport(stdout io.Writer, path, format string, report worker.Report) (err error) {
	w := stdout
	if path != "" && path != "-" {
		var f io.WriteCloser
		f, err = createOutput(path)
		if err != nil {
			return fmt.Errorf("create output: %w", err)
		}
		defer func() {
			if cerr := f.Close(); cerr != nil && err == nil {
				err = fmt.Errorf("close output: %w", cerr)
			}
		}()
		w = f
	}
	if format == "table" {
		renderTable(w, report)
		return nil
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}

// renderTable prints one row per document in listing order plus a summary.
func renderTable(w io.Writer, report worker.Report) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.SetTitle(fmt.Sprintf("Run %s (%s, %s)", report.RunID, report.Status, report.Result.Reason))
	t.AppendHeader(table.Row{"#", "Published", "Title", "Link"})
	for i, doc := range report.Result.Documents {
		published := "-"
		if doc.PublicationDate != nil {
			published = doc.PublicationDate.Format(time.DateOnly)
		}
		t.AppendRow(table.Row{i + 1, published, doc.Title, doc.WebLink})
	}
	t.AppendFooter(table.Row{"", "", fmt.Sprintf("%d documents, %d skipped", len(report.Result.Documents), report.Result.Skipped), report.ExportURI})
	t.Render()
}
