package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/luxfi/database/memdb"
	"github.com/luxfi/log"
	"github.com/shopspring/decimal"

	"github.com/quantfold/backtest/pkg/backtest"
	"github.com/quantfold/backtest/pkg/exchange"
	"github.com/quantfold/backtest/pkg/marketdata"
	"github.com/quantfold/backtest/pkg/metrics"
	"github.com/quantfold/backtest/pkg/queue"
	"github.com/quantfold/backtest/pkg/results"
	"github.com/quantfold/backtest/pkg/schema"
	"github.com/quantfold/backtest/pkg/strategy"
	"github.com/quantfold/backtest/pkg/stream"
)

type config struct {
	dataPath   string
	exchangeID int64
	securityID int64

	makerRate string
	takerRate string

	networkMean    float64
	networkStddev  float64
	orderProcMean  float64
	orderProcSigma float64
	seed           int64

	quoteSize   int64
	positionCap int64
	thinkNanos  int64

	until       int64
	natsURL     string
	metricsAddr string
}

func main() {
	var cfg config
	flag.StringVar(&cfg.dataPath, "data", "", "Path to JSONL market data capture (required)")
	flag.Int64Var(&cfg.exchangeID, "exchange-id", 1, "Exchange identifier")
	flag.Int64Var(&cfg.securityID, "security-id", 1, "Security identifier")

	flag.StringVar(&cfg.makerRate, "maker-rate", "0.0002", "Maker fee rate on notional")
	flag.StringVar(&cfg.takerRate, "taker-rate", "0.0005", "Taker fee rate on notional")

	flag.Float64Var(&cfg.networkMean, "network-mean", 500_000, "Mean network latency (ns)")
	flag.Float64Var(&cfg.networkStddev, "network-stddev", 50_000, "Network latency stddev (ns)")
	flag.Float64Var(&cfg.orderProcMean, "processing-mean", 100_000, "Mean venue order processing latency (ns)")
	flag.Float64Var(&cfg.orderProcSigma, "processing-stddev", 10_000, "Venue processing latency stddev (ns)")
	flag.Int64Var(&cfg.seed, "seed", 42, "Latency RNG seed")

	flag.Int64Var(&cfg.quoteSize, "quote-size", 1_000_000, "Strategy quote size")
	flag.Int64Var(&cfg.positionCap, "position-cap", 10_000_000, "Strategy position cap")
	flag.Int64Var(&cfg.thinkNanos, "strategy-latency", 200_000, "Strategy decision latency (ns)")

	flag.Int64Var(&cfg.until, "until", 0, "Stop at this timestamp (0 = run to exhaustion)")
	flag.StringVar(&cfg.natsURL, "nats", "", "NATS URL for live report streaming (optional)")
	flag.StringVar(&cfg.metricsAddr, "metrics", "", "Prometheus listen address (optional)")
	flag.Parse()

	logger := log.Root().New("module", "backtest")

	if cfg.dataPath == "" {
		logger.Crit("missing -data flag")
		os.Exit(1)
	}
	if err := run(cfg, logger); err != nil {
		logger.Crit("run failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg config, logger log.Logger) error {
	maker, err := decimal.NewFromString(cfg.makerRate)
	if err != nil {
		return fmt.Errorf("parsing maker rate: %w", err)
	}
	taker, err := decimal.NewFromString(cfg.takerRate)
	if err != nil {
		return fmt.Errorf("parsing taker rate: %w", err)
	}

	var meter *metrics.Metrics
	if cfg.metricsAddr != "" {
		meter = metrics.New("backtest")
		meter.StartServer(cfg.metricsAddr)
	}

	var publisher *stream.Publisher
	if cfg.natsURL != "" {
		publisher, err = stream.Connect(cfg.natsURL, logger)
		if err != nil {
			return err
		}
		defer publisher.Close()
	}

	ex := exchange.New(
		queue.NewFIFO(),
		exchange.NewRateFeeModel(maker, taker),
		exchange.NewGaussianLatency(cfg.networkMean, cfg.networkStddev, cfg.seed),
		exchange.NewGaussianLatency(cfg.orderProcMean, cfg.orderProcSigma, cfg.seed+1),
		logger.New("component", "exchange"),
	)

	strat := strategy.NewPassive(
		cfg.exchangeID, cfg.securityID,
		cfg.quoteSize, cfg.positionCap, cfg.thinkNanos,
		logger.New("component", "strategy"),
	)

	source := marketdata.NewFileSource(cfg.dataPath, logger.New("component", "source"))
	defer source.Close()

	driver := backtest.NewDriver(ex, strat, source,
		exchange.NewGaussianLatency(cfg.networkMean, cfg.networkStddev, cfg.seed+2),
		logger.New("component", "driver"), meter)

	if err := driver.Prepare(); err != nil {
		return err
	}
	records := driver.Pending()

	if cfg.until > 0 {
		err = driver.ExecuteUntil(cfg.until)
	} else {
		err = driver.FullyExecute()
	}
	if err != nil {
		return err
	}

	journal := results.New(memdb.New(), logger.New("component", "journal"))
	var fills, volume int64
	seen := make(map[string]bool)
	for _, rep := range driver.Reports() {
		if err := journal.Append(rep); err != nil {
			return err
		}
		publisher.PublishReport(rep)
		seen[rep.ClientOID] = true
		if rep.ExecType == schema.ExecTypeTrade {
			fills++
			volume += rep.FilledQty
		}
	}

	summary := stream.Summary{
		Records:   records,
		Orders:    int64(len(seen)),
		Fills:     fills,
		Volume:    volume,
		Position:  strat.Position(),
		FinalTime: driver.Now(),
	}
	publisher.PublishSummary(summary)

	if meter != nil {
		book := ex.Book()
		meter.SetBookDepth("bid", len(book.Prices(schema.SideBuy)))
		meter.SetBookDepth("ask", len(book.Prices(schema.SideSell)))
	}

	logger.Info("run complete",
		"records", records,
		"reports", len(driver.Reports()),
		"fills", fills,
		"volume", volume,
		"position", strat.Position(),
		"finalTime", driver.Now())
	return nil
}
