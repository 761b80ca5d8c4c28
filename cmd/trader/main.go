package main

import (
	"context"
	"flag"
	"os"
	"time"

	pyroscope "github.com/grafana/pyroscope-go"
	"github.com/yanun0323/logs"
	"github.com/yanun0323/pkg/sys"

	"main/internal/mdg"
	"main/internal/obs"
	"main/internal/og"
	"main/internal/ops"
	"main/internal/pipeline"
	"main/internal/risk"
	"main/internal/schema"
	"main/internal/telemetry"
)

func main() {
	configPath := flag.String("config", "", "Path to JSON config")
	runFor := flag.Duration("run-for", 0, "Stop after this duration (0=until signal)")
	snapshotEvery := flag.Duration("snapshot-interval", 10*time.Second, "Metrics snapshot interval")
	venueRate := flag.Float64("venue-rate", 0, "Max venue sends per second (0=unlimited)")
	flag.Parse()

	if err := run(*configPath, *runFor, *snapshotEvery, *venueRate); err != nil {
		logs.Errorf("trader exited, err: %+v", err)
		os.Exit(1)
	}
}

func run(configPath string, runFor, snapshotEvery time.Duration, venueRate float64) error {
	loaded, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	if loaded.Profiler.Enabled {
		profiler, err := pyroscope.Start(pyroscope.Config{
			ApplicationName: appName(loaded.Profiler.AppName),
			ServerAddress:   loaded.Profiler.ServerAddress,
			Logger:          emptyLogger{},
			ProfileTypes: []pyroscope.ProfileType{
				pyroscope.ProfileCPU,
				pyroscope.ProfileAllocObjects,
				pyroscope.ProfileAllocSpace,
				pyroscope.ProfileInuseObjects,
				pyroscope.ProfileInuseSpace,
			},
		})
		if err != nil {
			return err
		}
		defer func() {
			_ = profiler.Stop()
		}()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if runFor > 0 {
		ctx, cancel = context.WithTimeout(ctx, runFor)
		defer cancel()
	}

	metrics := obs.NewMetrics()
	alerts := obs.LogSink{}
	kill := risk.NewKillSwitch(alerts, metrics)
	engine := risk.NewEngine(loaded.Risk, kill, risk.NewPositions(), risk.NewAnalytics(0),
		risk.WithTelemetry(metrics, alerts),
	)
	gateway := og.NewGateway(og.GatewayConfig{Session: "SIM", ResendOnReconnect: true})
	source := pipeline.NewImbalance(pipeline.ImbalanceConfig{
		MinConfidence: loaded.Strategy.MinConfidence,
		MaxSpreadBps:  loaded.Strategy.MaxSpreadBps,
		OrderQty:      schema.Quantity(loaded.Strategy.OrderQty),
	})

	var recorder *telemetry.Recorder
	if loaded.Telemetry.Enabled {
		recorder, err = telemetry.NewRecorder(telemetry.PGConfig{
			Host:     loaded.Telemetry.Host,
			Port:     loaded.Telemetry.Port,
			User:     loaded.Telemetry.User,
			Password: loaded.Telemetry.Password,
			Database: loaded.Telemetry.Database,
		}, "trader", loaded.TelemetryFlushInterval())
		if err != nil {
			return err
		}
		defer recorder.Close()
		go recorder.Run(ctx)
	}

	p := pipeline.New(loaded.Registry, engine, gateway, source, pipeline.NewSimVenue(),
		pipeline.Config{
			MarketDataCap:   loaded.Queues.MarketData,
			SignalCap:       loaded.Queues.Signal,
			OrderCap:        loaded.Queues.Order,
			ExecutionCap:    loaded.Queues.Execution,
			VenueRatePerSec: venueRate,
		},
		pipeline.WithTelemetry(metrics, alerts),
		pipeline.WithStrategyID(loaded.Strategy.StrategyID),
		pipeline.WithDecisionHandler(recorder.RecordDecision),
		pipeline.WithFillHandler(recorder.RecordFill),
	)

	go feedMarketData(ctx, p, loaded)
	go watchMetrics(ctx, metrics, engine, p, recorder, snapshotEvery)
	go func() {
		select {
		case <-sys.Shutdown():
			logs.Info("shutdown signal received")
			cancel()
		case <-ctx.Done():
		}
	}()

	logs.Infof("trader started, symbols: %d", loaded.Registry.SymbolCount())
	p.Run(ctx)
	logSnapshot(metrics, engine, p)
	return nil
}

// feedMarketData drives the synthetic generator into the pipeline.
func feedMarketData(ctx context.Context, p *pipeline.Pipeline, loaded ops.Loaded) {
	gen, err := mdg.NewGenerator(loaded.Registry, loaded.Generator.Source, loaded.Generator.BaseQty, loaded.Generator.Seed)
	if err != nil {
		logs.Errorf("generator init, err: %+v", err)
		return
	}
	normalizer := mdg.NewNormalizer(loaded.Registry)
	ticker := time.NewTicker(loaded.GeneratorInterval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			tick := gen.Next(now.UTC())
			header, md, err := normalizer.Normalize(gen.Seq(), tick)
			if err != nil {
				logs.Warnf("normalize tick, err: %+v", err)
				continue
			}
			p.PublishMarketData(header, md)
		}
	}
}

// watchMetrics periodically logs and records a metrics snapshot.
func watchMetrics(ctx context.Context, metrics *obs.Metrics, engine *risk.Engine, p *pipeline.Pipeline, recorder *telemetry.Recorder, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			logSnapshot(metrics, engine, p)
			recorder.RecordSnapshot(metrics.Snapshot(), engine.PortfolioVaR())
		}
	}
}

func logSnapshot(metrics *obs.Metrics, engine *risk.Engine, p *pipeline.Pipeline) {
	snapshot := metrics.Snapshot()
	logs.Infof("events: %v, approved: %d, rejected: %d, reasons: %v, drops: %d, quarantines: %d, var: %d, kill: %s, risk_eval: %+v, order_flow: %+v",
		snapshot.EventCounts, snapshot.OrdersApproved, snapshot.OrdersRejected, snapshot.RiskReasonCounts,
		p.QueueDrops(), snapshot.Quarantines, engine.PortfolioVaR(), engine.KillSwitch().Level(),
		snapshot.RiskEvalLatency, snapshot.OrderFlowLatency)
}

func loadConfig(path string) (ops.Loaded, error) {
	if path == "" {
		return defaultLoaded()
	}
	return ops.Load(path)
}

// defaultLoaded builds an all-defaults simulation setup so the binary runs
// without a config file.
func defaultLoaded() (ops.Loaded, error) {
	reg := schema.NewRegistry()
	venueID, err := reg.AddVenue("SIM")
	if err != nil {
		return ops.Loaded{}, err
	}
	scale := schema.ScaleSpec{
		PriceScale:    2,
		QuantityScale: 0,
		NotionalScale: 2,
		FeeScale:      2,
	}
	rules := schema.MarketRules{
		TickSize:    5,
		BandLow:     500_000,
		BandHigh:    2_000_000,
		MaxOrderQty: 10_000,
		MaxLevels:   1024,
	}
	for _, name := range []string{"ALPHA-USD", "BETA-USD"} {
		if _, err := reg.AddSymbol(name, venueID, scale, rules); err != nil {
			return ops.Loaded{}, err
		}
	}
	return ops.Loaded{
		Registry: reg,
		Risk:     risk.DefaultLimits(),
		Generator: ops.GeneratorConfig{
			Source:  1,
			BaseQty: 10,
		},
		Strategy: ops.StrategyConfig{
			StrategyID:   1,
			OrderQty:     2,
			MaxSpreadBps: 200,
		},
	}, nil
}

func appName(name string) string {
	if name == "" {
		return "hft/trader"
	}
	return name
}

type emptyLogger struct{}

func (emptyLogger) Infof(string, ...any)  {}
func (emptyLogger) Debugf(string, ...any) {}
func (emptyLogger) Errorf(string, ...any) {}
