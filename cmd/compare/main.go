// Package main renders an equity-vs-hold comparison from saved funding trend
// and kline responses.
package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/tidwall/gjson"

	"agent-chart-lab/internal/domain"
	"agent-chart-lab/internal/normalization"
	"agent-chart-lab/internal/reporting"
	"agent-chart-lab/internal/resample"
)

type options struct {
	fundingPath string
	klinesPath  string
	initial     float64
	backtestID  string
	symbol      string
	outputDir   string
	format      string
}

func main() {
	var opts options
	flag.StringVar(&opts.fundingPath, "funding", "", "Funding trend JSON file (array or {\"data\": [...]})")
	flag.StringVar(&opts.klinesPath, "klines", "", "Kline JSON file (exchange row format)")
	flag.Float64Var(&opts.initial, "initial", 1000, "Initial investment")
	flag.StringVar(&opts.backtestID, "backtest-id", "", "Backtest id for the report header")
	flag.StringVar(&opts.symbol, "symbol", "", "Symbol for the report header")
	flag.StringVar(&opts.outputDir, "output-dir", "", "Write comparison.csv and comparison.md here instead of stdout")
	flag.StringVar(&opts.format, "format", "markdown", "Stdout format: markdown or csv")
	flag.Parse()

	if opts.fundingPath == "" || opts.klinesPath == "" {
		fmt.Fprintln(os.Stderr, "Error: --funding and --klines are required")
		flag.Usage()
		os.Exit(1)
	}

	if err := run(opts, os.Stdout, time.Now().UTC()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(opts options, stdout io.Writer, now time.Time) error {
	if opts.initial <= 0 {
		return errors.New("initial investment must be positive")
	}

	trend, err := readFundingTrend(opts.fundingPath)
	if err != nil {
		return err
	}
	rawKlines, err := os.ReadFile(opts.klinesPath)
	if err != nil {
		return fmt.Errorf("read klines: %w", err)
	}
	prices := normalization.NormalizeKlines(unwrapData(rawKlines))

	records := resample.BuildComparison(trend, prices.Points, opts.initial)
	report := reporting.Summarize(opts.backtestID, opts.symbol, opts.initial, records, now)

	csv := reporting.RenderComparisonCSV(records)
	md := reporting.RenderMarkdown(report)

	if opts.outputDir != "" {
		if err := os.MkdirAll(opts.outputDir, 0755); err != nil {
			return fmt.Errorf("create output dir: %w", err)
		}
		if err := os.WriteFile(filepath.Join(opts.outputDir, "comparison.csv"), []byte(csv), 0644); err != nil {
			return fmt.Errorf("write csv: %w", err)
		}
		if err := os.WriteFile(filepath.Join(opts.outputDir, "comparison.md"), []byte(md), 0644); err != nil {
			return fmt.Errorf("write markdown: %w", err)
		}
		fmt.Fprintf(stdout, "Wrote %d records to %s\n", len(records), opts.outputDir)
		return nil
	}

	switch opts.format {
	case "csv":
		_, err = io.WriteString(stdout, csv)
	case "markdown", "md":
		_, err = io.WriteString(stdout, md)
	default:
		return fmt.Errorf("unknown format %q", opts.format)
	}
	return err
}

func readFundingTrend(path string) ([]domain.FundingTrendPoint, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read funding trend: %w", err)
	}
	var trend []domain.FundingTrendPoint
	if err := json.Unmarshal(unwrapData(raw), &trend); err != nil {
		return nil, fmt.Errorf("parse funding trend: %w", err)
	}
	return trend, nil
}

// unwrapData returns the data array of a {"data": [...]} envelope, or raw.
func unwrapData(raw []byte) []byte {
	if data := gjson.GetBytes(raw, "data"); data.IsArray() {
		return []byte(data.Raw)
	}
	return raw
}
