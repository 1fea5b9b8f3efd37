// Package main runs the walk-forward validation pipeline from the command
// line: it loads configuration from the environment, reads price histories
// from a SQLite database, executes the run, and writes the result as JSON
// and MessagePack artifacts.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/aristath/walkforward/internal/config"
	"github.com/aristath/walkforward/internal/marketdata"
	"github.com/aristath/walkforward/internal/modules/backtest"
	"github.com/aristath/walkforward/pkg/logger"
)

func main() {
	dbPath := flag.String("db", "prices.db", "SQLite price database path")
	instrumentsFlag := flag.String("instruments", "", "comma-separated instrument identifiers (default: all stored)")
	startFlag := flag.String("start", "", "run start date, YYYY-MM-DD")
	endFlag := flag.String("end", "", "run end date, YYYY-MM-DD (exclusive)")
	outPath := flag.String("out", "result", "output path prefix (.json and .msgpack are appended)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fallback := logger.New(logger.Config{Level: "info", Pretty: true})
		fallback.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{Level: cfg.LogLevel, Pretty: true})
	log.Info().Msg("Starting walk-forward run")

	start, end, err := parseHorizon(*startFlag, *endFlag)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid run horizon")
	}

	provider, err := marketdata.NewSQLiteProvider(*dbPath, log)
	if err != nil {
		log.Fatal().Err(err).Str("path", *dbPath).Msg("Failed to open price database")
	}
	defer provider.Close()

	instruments := splitInstruments(*instrumentsFlag)
	if len(instruments) == 0 {
		instruments, err = provider.Instruments()
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to list instruments")
		}
	}
	if len(instruments) == 0 {
		log.Fatal().Msg("No instruments to evaluate")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	orchestrator := backtest.NewOrchestrator(cfg, provider, log)
	result, err := orchestrator.Run(ctx, instruments, start, end)
	if err != nil {
		log.Fatal().Err(err).Msg("Run failed")
	}

	if err := writeArtifacts(*outPath, result); err != nil {
		log.Fatal().Err(err).Msg("Failed to write result artifacts")
	}

	log.Info().
		Str("run_id", result.RunID).
		Int("windows", len(result.Windows)).
		Float64("total_return", result.Performance.TotalReturn).
		Str("json", *outPath+".json").
		Str("msgpack", *outPath+".msgpack").
		Msg("Run complete")
}

// parseHorizon parses the start and end flags, defaulting to the ten years
// ending today.
func parseHorizon(startFlag, endFlag string) (time.Time, time.Time, error) {
	end := time.Now().UTC().Truncate(24 * time.Hour)
	start := end.AddDate(-10, 0, 0)

	var err error
	if startFlag != "" {
		if start, err = time.Parse("2006-01-02", startFlag); err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid start date %q: %w", startFlag, err)
		}
	}
	if endFlag != "" {
		if end, err = time.Parse("2006-01-02", endFlag); err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid end date %q: %w", endFlag, err)
		}
	}
	if !start.Before(end) {
		return time.Time{}, time.Time{}, fmt.Errorf("start %s must precede end %s",
			start.Format("2006-01-02"), end.Format("2006-01-02"))
	}
	return start, end, nil
}

func splitInstruments(flagValue string) []string {
	if flagValue == "" {
		return nil
	}
	parts := strings.Split(flagValue, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// writeArtifacts serializes the result to pretty JSON for inspection and
// MessagePack for downstream tooling.
func writeArtifacts(prefix string, result backtest.Result) error {
	jsonBytes, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal json: %w", err)
	}
	if err := os.WriteFile(prefix+".json", jsonBytes, 0644); err != nil {
		return fmt.Errorf("write json: %w", err)
	}

	packed, err := msgpack.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal msgpack: %w", err)
	}
	if err := os.WriteFile(prefix+".msgpack", packed, 0644); err != nil {
		return fmt.Errorf("write msgpack: %w", err)
	}
	return nil
}
