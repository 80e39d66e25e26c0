package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"clip-metrics/config"
	"clip-metrics/models"
	"clip-metrics/services"
	"clip-metrics/utils"
)

var (
	chain     bool
	dryRun    bool
	inputFile string
)

var logger = utils.NewLogger()

func main() {
	if err := rootCmd.Execute(); err != nil {
		logger.Error("%v", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "clip-metrics [url...]",
	Short: "Scrape short-form video metrics into a spreadsheet",
	Long: `clip-metrics fetches engagement metrics for TikTok, Instagram and YouTube
videos, normalises them into one row per video and appends the row to the
platform's sheet.

Without arguments the URL is read from the terminal.`,
	Args:          cobra.ArbitraryArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runAll,
}

var fetchCmd = &cobra.Command{
	Use:   "fetch [url]",
	Short: "Fetch the raw payload of one video into the work directory",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runFetch,
}

var convertCmd = &cobra.Command{
	Use:   "convert",
	Short: "Normalise pending payloads into metrics CSV files",
	Args:  cobra.NoArgs,
	RunE:  runConvert,
}

var uploadCmd = &cobra.Command{
	Use:   "upload",
	Short: "Append the pending metrics CSV to its sheet",
	Args:  cobra.NoArgs,
	RunE:  runUpload,
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&dryRun, "dry-run", false, "upload into an in-memory table instead of the configured backend")
	rootCmd.Flags().StringVarP(&inputFile, "file", "f", "", "read URLs from a file, one per line")
	fetchCmd.Flags().BoolVar(&chain, "chain", false, "run the convert stage as a separate process afterwards")
	convertCmd.Flags().BoolVar(&chain, "chain", false, "run the upload stage as a separate process afterwards")

	rootCmd.AddCommand(fetchCmd, convertCmd, uploadCmd)
}

func loadConfig() *config.Config {
	cfg := config.Load()
	if dryRun {
		cfg.SinkBackend = "memory"
	}
	return cfg
}

func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
}

func runAll(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext(cmd)
	defer stop()

	cfg := loadConfig()
	logger.Info("=== clip-metrics starting (sink: %s, work dir: %s) ===", cfg.SinkBackend, cfg.WorkDir)

	a, err := newApp(ctx, cfg, logger, true)
	if err != nil {
		return err
	}
	defer a.Close()

	inputs, err := collectInputs(args)
	if err != nil {
		return err
	}
	sources, err := a.cleaner.Clean(inputs)
	if err != nil {
		return err
	}

	printer := services.NewReportPrinter(os.Stdout)
	if len(sources) == 1 {
		report, err := a.pipeline.Run(ctx, sources[0])
		if err != nil {
			return err
		}
		printer.Print(report)
		return nil
	}

	failed := a.pipeline.RunAll(ctx, sources, cfg.BatchInterval(), func(src *models.SourceURL, r *models.RunReport, err error) {
		if err != nil {
			printer.PrintFailure(src.Raw, err)
			return
		}
		printer.Print(r)
	})
	if failed > 0 {
		return fmt.Errorf("%d of %d runs failed", failed, len(sources))
	}
	return nil
}

func runFetch(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext(cmd)
	defer stop()

	a, err := newApp(ctx, loadConfig(), logger, false)
	if err != nil {
		return err
	}
	defer a.Close()

	inputs, err := collectInputs(args)
	if err != nil {
		return err
	}
	src, err := a.resolver.Resolve(inputs[0])
	if err != nil {
		return err
	}

	if _, err := a.pipeline.Fetch(ctx, src); err != nil {
		return err
	}
	if chain {
		a.handoff.Chain(ctx, "convert", stageFlags("--chain")...)
	}
	return nil
}

func runConvert(cmd *cobra.Command, _ []string) error {
	ctx, stop := signalContext(cmd)
	defer stop()

	a, err := newApp(ctx, loadConfig(), logger, false)
	if err != nil {
		return err
	}
	defer a.Close()

	records, err := a.pipeline.Convert(ctx)
	if err != nil {
		return err
	}
	if chain && len(records) > 0 {
		a.handoff.Chain(ctx, "upload", stageFlags()...)
	}
	return nil
}

func runUpload(cmd *cobra.Command, _ []string) error {
	ctx, stop := signalContext(cmd)
	defer stop()

	a, err := newApp(ctx, loadConfig(), logger, true)
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.pipeline.Upload(ctx)
	if err != nil {
		return err
	}

	report := services.NewRunReport(nil)
	report.Sheet = res.Sheet
	report.StartRow = res.StartRow
	report.Rows = res.Rows
	report.Header = res.Header
	services.NewReportPrinter(os.Stdout).Print(report)
	return nil
}

// stageFlags carries the flags every chained stage must inherit.
func stageFlags(extra ...string) []string {
	if dryRun {
		extra = append(extra, "--dry-run")
	}
	return extra
}

// collectInputs returns the URLs given as arguments, read from --file, or
// typed at the prompt, in that order of preference.
func collectInputs(args []string) ([]string, error) {
	if len(args) > 0 {
		return args, nil
	}
	if inputFile != "" {
		f, err := os.Open(inputFile)
		if err != nil {
			return nil, fmt.Errorf("open input file: %w", err)
		}
		defer f.Close()
		return services.ReadLines(f)
	}

	fmt.Print("Enter the video URL: ")
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && strings.TrimSpace(line) == "" {
		return nil, fmt.Errorf("read url: %w", err)
	}
	return []string{strings.TrimSpace(line)}, nil
}
