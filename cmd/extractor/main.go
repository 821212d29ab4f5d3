package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/polzovatel/table-vision-agent/internal/extract"
	"github.com/polzovatel/table-vision-agent/internal/score"
	"github.com/polzovatel/table-vision-agent/internal/screen"
	"github.com/polzovatel/table-vision-agent/internal/vision"
)

type cliOptions struct {
	url         string
	records     []string
	scan        int
	storage     string
	saveState   string
	reference   string
	out         string
	maxAttempts int
	settle      time.Duration
}

func main() {
	_ = godotenv.Load()
	opts := parseFlags()
	if opts.url == "" {
		fmt.Fprintln(os.Stderr, "usage: extractor -url <table page> [-records a,b,c | -scan N]")
		os.Exit(2)
	}

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	visionClient, err := vision.NewClientWithLogger(log.With().Str("comp", "vision").Logger())
	if err != nil {
		log.Fatal().Err(err).Msg("vision init")
	}
	log.Info().Str("model", visionClient.Name()).Msg("vision client ready")

	launcher, err := screen.NewLauncher(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("browser init")
	}
	defer launcher.Close()

	driver, err := launcher.NewDriver(ctx, opts.url, opts.storage)
	if err != nil {
		log.Fatal().Err(err).Msg("open page")
	}
	defer driver.Close(ctx)

	orch := extract.NewOrchestrator(
		extract.Config{
			MaxAttempts:    opts.maxAttempts,
			SettleInterval: opts.settle,
		},
		visionClient,
		driver,
		driver,
		log.With().Str("comp", "orch").Logger(),
	)

	names := opts.records
	if len(names) == 0 {
		names, err = orch.ScanRecords(ctx, opts.scan)
		if err != nil {
			log.Fatal().Err(err).Msg("scan records")
		}
		if len(names) == 0 {
			log.Fatal().Msg("no records visible in table")
		}
	}

	results := orch.RunBatch(ctx, names)
	printResults(names, results)

	if opts.saveState != "" {
		if err := driver.SaveState(ctx, opts.saveState); err != nil {
			log.Error().Err(err).Msg("save state")
		} else {
			log.Info().Str("path", opts.saveState).Msg("storage saved")
		}
	}

	if opts.out != "" {
		if err := writeResults(opts.out, names, results); err != nil {
			log.Error().Err(err).Msg("write results")
		} else {
			log.Info().Str("path", opts.out).Msg("results saved")
		}
	}

	if opts.reference != "" {
		if err := scoreResults(opts.reference, names, results); err != nil {
			log.Error().Err(err).Msg("score results")
		}
	}
}

func parseFlags() cliOptions {
	url := flag.String("url", "", "URL of the table page")
	records := flag.String("records", "", "Comma-separated record names to extract (empty: scan the table)")
	scan := flag.Int("scan", 5, "How many records to pick up when scanning")
	storage := flag.String("storage", "", "Path to Playwright storage state")
	save := flag.String("save-state", "", "Path to save updated storage state")
	reference := flag.String("reference", "", "Path to reference JSON for scoring")
	out := flag.String("out", "", "Path to write extraction results as JSON")
	maxAttempts := flag.Int("max-attempts", 2, "Attempts per record")
	settleMs := flag.Int("settle-ms", 1500, "Settle wait after each input action, in milliseconds")
	flag.Parse()

	var names []string
	for _, part := range strings.Split(*records, ",") {
		if name := strings.TrimSpace(part); name != "" {
			names = append(names, name)
		}
	}
	return cliOptions{
		url:         strings.TrimSpace(*url),
		records:     names,
		scan:        *scan,
		storage:     strings.TrimSpace(*storage),
		saveState:   strings.TrimSpace(*save),
		reference:   strings.TrimSpace(*reference),
		out:         strings.TrimSpace(*out),
		maxAttempts: *maxAttempts,
		settle:      time.Duration(*settleMs) * time.Millisecond,
	}
}

func printResults(names []string, results map[string]extract.ExtractionResult) {
	for _, name := range names {
		res := results[name]
		status := "OK"
		if !res.Success {
			status = "FAILED"
		} else if !res.Verified {
			status = "OK (unverified)"
		}
		fmt.Printf("\n%s — %s (%d items)\n", name, status, len(res.Items))
		for _, item := range res.Items {
			fmt.Printf("  - %s\n", item)
		}
		if res.Error != "" {
			fmt.Printf("  error: %s\n", res.Error)
		}
	}
}

func writeResults(path string, names []string, results map[string]extract.ExtractionResult) error {
	ordered := make([]extract.ExtractionResult, 0, len(names))
	for _, name := range names {
		ordered = append(ordered, results[name])
	}
	data, err := json.MarshalIndent(ordered, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal results: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

func scoreResults(path string, names []string, results map[string]extract.ExtractionResult) error {
	reference, err := score.LoadReference(path)
	if err != nil {
		return err
	}

	var comparisons []score.ComparisonResult
	missing := make([]string, 0)
	for _, name := range names {
		ref, ok := reference[name]
		if !ok {
			missing = append(missing, name)
			continue
		}
		comparisons = append(comparisons, score.Compare(name, results[name].Items, ref))
	}
	sort.Strings(missing)
	if len(missing) > 0 {
		log.Warn().Strs("records", missing).Msg("no reference entry, skipped in scoring")
	}

	fmt.Println("\nScoring against reference:")
	for _, c := range comparisons {
		fmt.Printf("  %s: precision %.2f, recall %.2f, f1 %.2f (%d matched, %d missing, %d extra)\n",
			c.Name, c.Precision, c.Recall, c.F1, len(c.Matched), len(c.Missing), len(c.Extra))
	}
	summary := score.Aggregate(comparisons)
	fmt.Printf("  average over %d records: precision %.2f, recall %.2f, f1 %.2f\n",
		summary.Records, summary.AvgPrecision, summary.AvgRecall, summary.AvgF1)
	return nil
}
