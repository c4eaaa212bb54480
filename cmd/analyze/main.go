package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/deadmanoz/p2ms-analyzer/internal/aggregate"
	"github.com/deadmanoz/p2ms-analyzer/internal/config"
	"github.com/deadmanoz/p2ms-analyzer/internal/logging"
	"github.com/deadmanoz/p2ms-analyzer/internal/models"
	"github.com/deadmanoz/p2ms-analyzer/internal/store"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logCloser, err := logging.SetupWithPrefix(cfg.LogLevel, cfg.LogDir, config.LogFilePattern, "analyze-")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logging: %v\n", err)
		os.Exit(1)
	}
	defer logCloser.Close()

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		slog.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	agg := aggregate.New(st)
	ctx := context.Background()

	var report any
	switch os.Args[1] {
	case "utxo-totals":
		overall, byProtocol, err := agg.UTXOP2MSTotals(ctx)
		if err == nil {
			report = map[string]any{"overall": overall, "by_protocol": byProtocol}
		}
	case "variant-breakdown":
		report, err = agg.ProtocolVariantBreakdown(ctx)
	case "content-type-distribution":
		report, err = agg.ContentTypeDistribution(ctx)
	case "spendability":
		var byReason []aggregate.SpendabilityCount
		var txLevel aggregate.TransactionSpendabilitySummary
		byReason, err = agg.SpendabilityByProtocolAndReason(ctx)
		if err == nil {
			txLevel, err = agg.TransactionLevelSpendability(ctx)
		}
		if err == nil {
			report = map[string]any{"by_protocol_and_reason": byReason, "transaction_level": txLevel}
		}
	case "weekly-fees":
		report, err = agg.WeeklyFeeAndSpendability(ctx)
	case "weekly-variant-evolution":
		report, err = agg.WeeklyVariantEvolution(ctx)
	case "burn-patterns":
		var counts []aggregate.BurnPatternCount
		counts, err = agg.BurnPatternCounts(ctx)
		report = counts
	case "burn-pattern-samples":
		if len(os.Args) < 3 {
			fmt.Fprintln(os.Stderr, "usage: analyze burn-pattern-samples <pattern-type> [limit]")
			os.Exit(1)
		}
		limit := 20
		if len(os.Args) >= 4 {
			if _, scanErr := fmt.Sscanf(os.Args[3], "%d", &limit); scanErr != nil {
				fmt.Fprintf(os.Stderr, "invalid limit %q: %v\n", os.Args[3], scanErr)
				os.Exit(1)
			}
		}
		report, err = agg.BurnPatternSamples(ctx, models.BurnPatternType(os.Args[2]), limit)
	case "multisig-configurations":
		report, err = agg.MultisigConfigurationTable(ctx)
	case "dust-thresholds":
		report, err = agg.DustThresholdSlices(ctx)
	case "version":
		fmt.Println("p2ms-analyzer analyze (dev)")
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown report: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		slog.Error("report failed", "report", os.Args[1], "error", err)
		os.Exit(1)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		slog.Error("failed to encode report", "error", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `Usage: analyze <report> [args]

Reports:
  utxo-totals                          Unspent P2MS UTXO totals, overall and by protocol
  variant-breakdown                    Protocol/variant classification breakdown
  content-type-distribution            Content-type distribution, valid-null vs invalid-null
  spendability                         Spendability by protocol/reason, plus transaction-level rollup
  weekly-fees                          Weekly fee and spendability buckets
  weekly-variant-evolution             Weekly protocol/variant evolution
  burn-patterns                        Burn pattern counts by type
  burn-pattern-samples <type> [limit]  Sample burn pattern rows for a given type
  multisig-configurations              Multisig (m-of-n) configuration table with data capacity
  dust-thresholds                      Output counts sliced by dust threshold
  version                              Print version information
`)
}
