// Command paper runs the engine against the mock exchange with a synthetic
// random-walk market feed until interrupted, then prints the trading summary.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"time"

	pyroscope "github.com/grafana/pyroscope-go"
	"github.com/shopspring/decimal"
	"github.com/yanun0323/pkg/sys"

	"tradecore/internal/execution"
	"tradecore/internal/obs"
	"tradecore/internal/ops"
	"tradecore/internal/schema"
	"tradecore/internal/stats"
	"tradecore/internal/system"
)

func main() {
	configPath := flag.String("config", "", "Path to system config JSON (default: built-in mock setup)")
	tickEvery := flag.Duration("tick-every", 250*time.Millisecond, "Synthetic market trade interval")
	orderEvery := flag.Int("order-every", 20, "Send one market order every N trades (0=disable)")
	startPrice := flag.Float64("start-price", 50000, "Synthetic starting price")
	seed := flag.Int64("seed", 1, "Random walk seed")
	enablePyroscope := flag.Bool("pyroscope", false, "Enable pyroscope profiling")
	pyroscopeAddr := flag.String("pyroscope-addr", "http://localhost:4040", "Pyroscope server address")
	flag.Parse()

	if *orderEvery < 0 {
		log.Fatalf("order-every must be >= 0")
	}

	if *enablePyroscope {
		profiler, err := pyroscope.Start(pyroscope.Config{
			ApplicationName: "tradecore/paper",
			ServerAddress:   *pyroscopeAddr,
			Tags:            map[string]string{"env": "local"},
			ProfileTypes: []pyroscope.ProfileType{
				pyroscope.ProfileCPU,
				pyroscope.ProfileAllocObjects,
				pyroscope.ProfileAllocSpace,
				pyroscope.ProfileInuseObjects,
				pyroscope.ProfileInuseSpace,
			},
		})
		if err != nil {
			log.Fatalf("pyroscope start failed: %v", err)
		}
		defer func() {
			_ = profiler.Stop()
		}()
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	metrics := obs.NewMetrics()
	app, err := system.Start(system.Config{
		System:  cfg,
		Mode:    system.ModeStream,
		Metrics: metrics,
	})
	if err != nil {
		log.Fatalf("system start failed: %v", err)
	}

	auditStream, err := app.TakeAudit()
	if err != nil {
		log.Fatalf("take audit failed: %v", err)
	}
	auditStream.Detach()

	ctx := context.Background()
	if err := app.SetTradingEnabled(ctx, true); err != nil {
		log.Fatalf("enable trading failed: %v", err)
	}

	instrument, ok := app.Catalogue().Instrument(0)
	if !ok {
		log.Fatalf("catalogue has no instruments")
	}

	rng := rand.New(rand.NewSource(*seed))
	price := decimal.NewFromFloat(*startPrice)
	ticker := time.NewTicker(*tickEvery)
	defer ticker.Stop()

	trades := 0
	orderSeq := 0
loop:
	for {
		select {
		case <-sys.Shutdown():
			break loop
		case <-ticker.C:
			price = step(rng, price)
			now := time.Now().UTC()
			event := schema.MarketItemEvent(schema.MarketEvent{
				TimeExchange: now,
				TimeReceived: now,
				Exchange:     instrument.ExchangeID,
				Instrument:   instrument.Index,
				Kind: schema.MarketDataKind{Trade: &schema.MarketTrade{
					ID:     schema.TradeID(fmt.Sprintf("paper-%d", trades)),
					Price:  price,
					Amount: decimal.NewFromFloat(0.01),
					Side:   schema.SideBuy,
				}},
			})
			if err := app.SendEvent(ctx, event); err != nil {
				log.Printf("feed market event failed: %v", err)
				break loop
			}
			trades++
			if *orderEvery > 0 && trades%*orderEvery == 0 {
				orderSeq++
				side := schema.SideBuy
				if orderSeq%2 == 0 {
					side = schema.SideSell
				}
				req := schema.OrderRequestOpen{
					Key: schema.OrderKey{
						Exchange:   instrument.Exchange,
						Instrument: instrument.Index,
						Strategy:   schema.DefaultStrategyID,
						ClientID:   schema.ClientOrderID(fmt.Sprintf("paper-%d", orderSeq)),
					},
					Side:        side,
					Price:       price,
					Quantity:    decimal.NewFromFloat(0.01),
					Kind:        schema.OrderKindMarket,
					TimeInForce: schema.IOC(),
				}
				if err := app.SendOpenRequests(ctx, req); err != nil {
					log.Printf("send open failed: %v", err)
				}
			}
		}
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	summary, _, err := app.ShutdownWithSummary(shutdownCtx, decimal.Decimal{}, stats.Daily())
	if err != nil {
		log.Printf("shutdown failed: %v", err)
		app.Abort()
		return
	}
	encoded, err := summary.MarshalStable()
	if err != nil {
		log.Fatalf("summary encode failed: %v", err)
	}
	fmt.Println(string(encoded))

	snapshot := metrics.Snapshot()
	log.Printf("metrics: events=%v refusals=%d opens=%d cancels=%d dispatch_errors=%d process=%+v risk=%+v",
		snapshot.EventCounts, snapshot.RiskRefusals, snapshot.DispatchOpens,
		snapshot.DispatchCancels, snapshot.DispatchErrors, snapshot.ProcessLatency, snapshot.RiskLatency)
}

// step applies one bounded random-walk move.
func step(rng *rand.Rand, price decimal.Decimal) decimal.Decimal {
	move := decimal.NewFromFloat((rng.Float64() - 0.5) * 20)
	next := price.Add(move)
	if !next.IsPositive() {
		return price
	}
	return next
}

func loadConfig(path string) (ops.SystemConfig, error) {
	if path != "" {
		return ops.Load(path)
	}
	funds := decimal.NewFromInt(100000)
	cfg := ops.SystemConfig{
		Instruments: []schema.InstrumentConfig{{
			Exchange:     "mock",
			NameExchange: "BTCUSDT",
			Underlying:   schema.Underlying{Base: "btc", Quote: "usdt"},
			Kind:         schema.KindSpot,
		}},
		Executions: []execution.Config{{
			Mock: &execution.MockConfig{
				Exchange: "mock",
				InitialState: schema.AccountSnapshot{
					Exchange: "mock",
					Balances: []schema.AssetBalance{{
						Asset:   "usdt",
						Balance: schema.Balance{Total: funds, Free: funds},
					}},
				},
				LatencyMs:   5,
				FeesPercent: 0.001,
			},
		}},
	}
	return cfg.WithDefaults(), nil
}
