package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/propwatch/listings-crawler/internal/report"
)

func newReportCmd() *cobra.Command {
	var (
		limit    int
		baseline bool
	)
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Inspect persisted session reports",
		Long: `Prints the most recent session reports as JSON. With --baseline the
recent reports are averaged into a baseline and the latest run is
compared against it.`,
		RunE: func(_ *cobra.Command, _ []string) error {
			return runReport(limit, baseline)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 1, "number of recent reports to print")
	cmd.Flags().BoolVar(&baseline, "baseline", false, "compare the latest run against the recent baseline")
	return cmd
}

func runReport(limit int, baseline bool) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck // best-effort flush

	gen := report.NewGenerator(report.Config{ReportsDir: cfg.Reports.Dir}, logger)

	if baseline {
		return printBaseline(gen, cfg.Reports.BaselineDays)
	}

	reports, err := gen.RecentReports(limit)
	if err != nil {
		return fmt.Errorf("load reports: %w", err)
	}
	if len(reports) == 0 {
		return errors.New("no session reports found")
	}
	return printJSON(reports)
}

func printBaseline(gen *report.Generator, days int) error {
	latest, err := gen.RecentReports(1)
	if err != nil {
		return fmt.Errorf("load latest report: %w", err)
	}
	if len(latest) == 0 {
		return errors.New("no session reports found")
	}
	b, err := gen.Baseline(days)
	if err != nil {
		return fmt.Errorf("compute baseline: %w", err)
	}
	if b == nil {
		return errors.New("not enough history for a baseline")
	}
	delta := gen.CompareToBaseline(latest[0], *b)
	return printJSON(map[string]any{
		"baseline": b,
		"latest":   latest[0].RunID,
		"delta":    delta,
	})
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	return nil
}
