// Command backtest replays a historic market data file through the engine in
// iterator mode and prints the trading summary.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"tradecore/internal/archive"
	"tradecore/internal/clock"
	"tradecore/internal/market"
	"tradecore/internal/obs"
	"tradecore/internal/ops"
	"tradecore/internal/schema"
	"tradecore/internal/stats"
	"tradecore/internal/system"
)

func main() {
	configPath := flag.String("config", "", "Path to system config JSON")
	marketPath := flag.String("market", "", "Path to historic market data JSON")
	riskFreeArg := flag.String("risk-free", "0", "Risk-free return for summary ratios")
	intervalArg := flag.String("interval", "annual365", "Summary interval: daily|annual252|annual365")
	archiveConn := flag.String("archive-conn", "", "PostgreSQL connection string for audit archiving (optional)")
	runID := flag.String("run-id", "", "Archive run identifier (default: derived from start time)")
	flag.Parse()

	if *configPath == "" || *marketPath == "" {
		log.Fatalf("both -config and -market are required")
	}
	riskFree, err := decimal.NewFromString(*riskFreeArg)
	if err != nil {
		log.Fatalf("invalid risk-free return: %v", err)
	}
	interval, err := parseInterval(*intervalArg)
	if err != nil {
		log.Fatalf("%v", err)
	}

	cfg, err := ops.Load(*configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	stream, err := market.NewHistoric(market.HistoricConfig{Path: *marketPath})
	if err != nil {
		log.Fatalf("market data load failed: %v", err)
	}
	defer stream.Close()

	metrics := obs.NewMetrics()
	hist := clock.NewHistorical()
	// Mock venues stamp balances and fills from the same clock the engine
	// advances, so a backtest carries no wall time.
	for i := range cfg.Executions {
		if cfg.Executions[i].Mock != nil {
			cfg.Executions[i].Mock.Now = hist.TimeEngine
		}
	}
	sys, err := system.Start(system.Config{
		System:  cfg,
		Mode:    system.ModeIterator,
		Clock:   hist,
		Metrics: metrics,
	})
	if err != nil {
		log.Fatalf("system start failed: %v", err)
	}

	ctx := context.Background()
	var archiver *archive.Archiver
	archiveDone := make(chan error, 1)
	if *archiveConn != "" {
		id := *runID
		if id == "" {
			id = "backtest-" + time.Now().UTC().Format("20060102T150405Z")
		}
		archiver, err = archive.New(archive.Config{ConnString: *archiveConn}, id)
		if err != nil {
			log.Fatalf("archive connect failed: %v", err)
		}
		defer archiver.Close()
		auditStream, err := sys.TakeAudit()
		if err != nil {
			log.Fatalf("take audit failed: %v", err)
		}
		go func() {
			archiveDone <- archiver.Consume(auditStream)
		}()
	} else {
		// Without an archive the trail has no consumer; detach so ticks are
		// dropped instead of accumulating.
		auditStream, err := sys.TakeAudit()
		if err != nil {
			log.Fatalf("take audit failed: %v", err)
		}
		auditStream.Detach()
		archiveDone <- nil
	}

	if err := sys.SetTradingEnabled(ctx, true); err != nil {
		log.Fatalf("enable trading failed: %v", err)
	}
	if err := drive(sys); err != nil {
		log.Fatalf("engine step failed: %v", err)
	}
	for ev := range stream.Events() {
		ev := ev
		if err := sys.SendEvent(ctx, schema.EngineEvent{Market: &ev}); err != nil {
			log.Fatalf("feed market event failed: %v", err)
		}
		if err := drive(sys); err != nil {
			log.Fatalf("engine step failed: %v", err)
		}
	}

	summary, _, err := sys.ShutdownWithSummary(ctx, riskFree, interval)
	if err != nil {
		log.Fatalf("shutdown failed: %v", err)
	}
	if err := <-archiveDone; err != nil {
		log.Fatalf("archive failed: %v", err)
	}
	if archiver != nil {
		if err := archiver.SaveSummary(riskFree, summary); err != nil {
			log.Fatalf("archive summary failed: %v", err)
		}
	}

	encoded, err := summary.MarshalStable()
	if err != nil {
		log.Fatalf("summary encode failed: %v", err)
	}
	fmt.Println(string(encoded))

	snapshot := metrics.Snapshot()
	log.Printf("metrics: events=%v refusals=%d opens=%d cancels=%d dispatch_errors=%d process=%+v",
		snapshot.EventCounts, snapshot.RiskRefusals, snapshot.DispatchOpens,
		snapshot.DispatchCancels, snapshot.DispatchErrors, snapshot.ProcessLatency)
}

// drive steps the engine once per published event so the feed stays shallow
// and ordering is reproducible.
func drive(sys *system.System) error {
	_, err := sys.Next()
	return err
}

func parseInterval(name string) (stats.TimeInterval, error) {
	switch strings.ToLower(name) {
	case "daily":
		return stats.Daily(), nil
	case "annual252":
		return stats.Annual252(), nil
	case "annual365":
		return stats.Annual365(), nil
	default:
		if d, err := time.ParseDuration(name); err == nil {
			return stats.Custom(name, d), nil
		}
		return stats.TimeInterval{}, fmt.Errorf("unknown interval %q", name)
	}
}
