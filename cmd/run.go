package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pdfharvest/pdfharvest/internal/harvest"
)

type runFlags struct {
	allFields bool
	fields    []string
	keywords  []string
	maxPDFs   int
	maxPages  int
	asJSON    bool
	verbose   bool
}

func newRunCmd() *cobra.Command {
	flags := &runFlags{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a download in the foreground",
		Long: `Starts a download run and blocks until it finishes, printing the
per-keyword results. Interrupting with Ctrl-C stops the run cleanly. When a
CAPTCHA challenge pauses the run, solve it in the browser window; the run
resumes on its own once the challenge page clears.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDownloadCommand(cmd, flags)
		},
	}

	cmd.Flags().BoolVar(&flags.allFields, "all-fields", false, "download every configured field")
	cmd.Flags().StringSliceVar(&flags.fields, "field", nil, "specific field(s) to download")
	cmd.Flags().StringSliceVar(&flags.keywords, "keywords", nil, "custom keywords to search for")
	cmd.Flags().IntVar(&flags.maxPDFs, "max-pdfs", 0, "maximum PDFs per keyword (0 uses config)")
	cmd.Flags().IntVar(&flags.maxPages, "max-pages", 0, "maximum result pages per search (0 uses config)")
	cmd.Flags().BoolVar(&flags.asJSON, "json", false, "output results as JSON")
	cmd.Flags().BoolVarP(&flags.verbose, "verbose", "v", false, "verbose output")
	cmd.Flags().Bool("headless", false, "hide the browser window (challenges cannot be solved manually)")
	cmd.Flags().String("output-dir", "", "download root directory (overrides config)")

	return cmd
}

func runDownloadCommand(cmd *cobra.Command, flags *runFlags) error {
	a, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}

	fields, err := selectFields(cmd, a.Config.Fields, flags)
	if err != nil {
		return err
	}

	var opts []harvest.RunOption
	if flags.maxPDFs > 0 {
		opts = append(opts, harvest.WithMaxCandidates(flags.maxPDFs))
	}
	if flags.maxPages > 0 {
		opts = append(opts, harvest.WithMaxPages(flags.maxPages))
	}

	runID, err := a.Controller.Start(fields, opts...)
	if err != nil {
		return fmt.Errorf("start run: %w", err)
	}
	a.Logger.Info("run started", zap.String("run_id", runID))

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	snap := awaitRun(ctx, cmd, a.Controller, a.Logger, time.Second)
	return printResults(cmd, snap, flags)
}

// runController is the slice of the harvest controller the foreground loop
// drives.
type runController interface {
	Stop() error
	Status() harvest.Snapshot
}

// awaitRun polls the run until it finishes, surfacing challenge notices. A
// canceled ctx requests a stop once; the loop then keeps ticking while the
// worker drains.
func awaitRun(ctx context.Context, cmd *cobra.Command, controller runController, logger *zap.Logger, interval time.Duration) harvest.Snapshot {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	done := ctx.Done()
	challengeShown := false
	for {
		select {
		case <-done:
			if err := controller.Stop(); err != nil && !errors.Is(err, harvest.ErrNoActiveRun) {
				logger.Warn("stop failed", zap.Error(err))
			}
			// The channel stays closed; disable this case so the drain wait
			// blocks on the ticker instead of spinning.
			done = nil
		case <-ticker.C:
		}

		snap := controller.Status()
		if snap.CaptchaDetected && !challengeShown {
			cmd.Println("CAPTCHA detected: solve it in the browser window to continue")
			challengeShown = true
		}
		if !snap.CaptchaDetected {
			challengeShown = false
		}
		if !snap.IsRunning {
			return snap
		}
	}
}

// selectFields resolves the flag set into an ordered field request list,
// mirroring the HTTP API: unknown fields warn and are skipped, custom
// keywords go under a synthetic "custom" field.
func selectFields(cmd *cobra.Command, catalog map[string][]string, flags *runFlags) ([]harvest.FieldRequest, error) {
	names := flags.fields
	if flags.allFields {
		names = make([]string, 0, len(catalog))
		for name := range catalog {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	out := make([]harvest.FieldRequest, 0, len(names)+1)
	for _, name := range names {
		keywords, ok := catalog[name]
		if !ok {
			cmd.Printf("warning: field %q not found, skipping\n", name)
			continue
		}
		out = append(out, harvest.FieldRequest{Name: name, Keywords: keywords})
	}
	if len(flags.keywords) > 0 {
		out = append(out, harvest.FieldRequest{Name: "custom", Keywords: flags.keywords})
	}
	if len(out) == 0 {
		return nil, errors.New("specify --all-fields, --field, or --keywords")
	}
	return out, nil
}

func printResults(cmd *cobra.Command, snap harvest.Snapshot, flags *runFlags) error {
	if flags.asJSON {
		payload, err := json.MarshalIndent(snap, "", "  ")
		if err != nil {
			return fmt.Errorf("encode results: %w", err)
		}
		cmd.Println(string(payload))
		return nil
	}

	totalKeywords, totalDownloaded, totalFailed := 0, 0, 0

	fieldNames := make([]string, 0, len(snap.Results))
	for name := range snap.Results {
		fieldNames = append(fieldNames, name)
	}
	sort.Strings(fieldNames)

	for _, name := range fieldNames {
		cmd.Printf("\nField: %s\n", name)
		for _, r := range snap.Results[name] {
			totalKeywords++
			if r.Error != "" {
				cmd.Printf("  %s: error: %s\n", r.Keyword, r.Error)
				totalFailed++
				continue
			}
			cmd.Printf("  %s: %d PDFs downloaded\n", r.Keyword, r.DownloadedCount)
			totalDownloaded += r.DownloadedCount
			if flags.verbose {
				cmd.Printf("    urls found: %d, failed: %d, saved to: %s\n",
					r.TotalURLsFound, r.FailedCount, r.SavePath)
			}
		}
	}

	cmd.Printf("\nkeywords processed: %d\n", totalKeywords)
	cmd.Printf("PDFs downloaded:    %d\n", totalDownloaded)
	cmd.Printf("failed keywords:    %d\n", totalFailed)
	if snap.Error != "" && snap.Error != harvest.StoppedByUser {
		cmd.Printf("run error: %s\n", snap.Error)
	}
	if snap.Error == harvest.StoppedByUser {
		cmd.Println("run stopped by user")
	}
	return nil
}
