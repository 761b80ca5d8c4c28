// Package ops loads and resolves runtime configuration: the symbol registry
// with per-symbol market rules, risk limits, queue sizing and the optional
// telemetry and profiler integrations.
package ops

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	env "github.com/caarlos0/env/v11"
	"github.com/yanun0323/decimal"
	"github.com/yanun0323/errors"

	"main/internal/risk"
	"main/internal/schema"
)

// FileConfig mirrors the JSON config layout. Prices and quantities are
// decimal strings and are converted to scaled integers using each symbol's
// scale spec.
type FileConfig struct {
	Registry  RegistryConfig  `json:"registry"`
	Risk      risk.Limits     `json:"risk"`
	Queues    QueueConfig     `json:"queues"`
	Generator GeneratorConfig `json:"generator"`
	Strategy  StrategyConfig  `json:"strategy"`
	Telemetry TelemetryConfig `json:"telemetry"`
	Profiler  ProfilerConfig  `json:"profiler"`
}

// RegistryConfig defines venue and symbol mappings.
type RegistryConfig struct {
	Venues  []VenueConfig  `json:"venues"`
	Symbols []SymbolConfig `json:"symbols"`
}

// VenueConfig describes a venue entry.
type VenueConfig struct {
	Name string `json:"name"`
}

// SymbolConfig describes a symbol entry with its market rules.
type SymbolConfig struct {
	Name          string          `json:"name"`
	Venue         string          `json:"venue"`
	PriceScale    schema.Scale    `json:"priceScale"`
	QuantityScale schema.Scale    `json:"quantityScale"`
	TickSize      decimal.Decimal `json:"tickSize"`
	BandLow       decimal.Decimal `json:"bandLow"`
	BandHigh      decimal.Decimal `json:"bandHigh"`
	MaxOrderQty   decimal.Decimal `json:"maxOrderQty"`
	MaxLevels     int             `json:"maxLevels"`
}

// QueueConfig sets per-stage queue capacities. Zero falls back to the stage
// default.
type QueueConfig struct {
	MarketData int `json:"marketData"`
	Signal     int `json:"signal"`
	Order      int `json:"order"`
	Execution  int `json:"execution"`
}

// GeneratorConfig drives the synthetic market data source.
type GeneratorConfig struct {
	Source     uint16 `json:"source"`
	BaseQty    int64  `json:"baseQty"`
	Seed       int64  `json:"seed"`
	IntervalUs int64  `json:"intervalUs"`
}

// StrategyConfig parameterizes the built-in momentum signal.
type StrategyConfig struct {
	StrategyID    uint32 `json:"strategyId"`
	MinConfidence int32  `json:"minConfidence"`
	OrderQty      int64  `json:"orderQty"`
	MaxSpreadBps  int64  `json:"maxSpreadBps"`
}

// TelemetryConfig configures the PostgreSQL telemetry sink.
type TelemetryConfig struct {
	Enabled         bool   `json:"enabled"`
	Host            string `json:"host"`
	Port            int    `json:"port"`
	User            string `json:"user"`
	Password        string `json:"password"`
	Database        string `json:"database"`
	FlushIntervalMs int64  `json:"flushIntervalMs"`
}

// ProfilerConfig configures the pyroscope profiler.
type ProfilerConfig struct {
	Enabled       bool   `json:"enabled"`
	ServerAddress string `json:"serverAddress"`
	AppName       string `json:"appName"`
}

// envOverrides are applied on top of the file config. Deployment knobs only;
// trading limits never come from the environment.
type envOverrides struct {
	TelemetryEnabled  *bool  `env:"HFT_TELEMETRY_ENABLED"`
	TelemetryHost     string `env:"HFT_TELEMETRY_HOST"`
	TelemetryPort     int    `env:"HFT_TELEMETRY_PORT"`
	TelemetryUser     string `env:"HFT_TELEMETRY_USER"`
	TelemetryPassword string `env:"HFT_TELEMETRY_PASSWORD"`
	TelemetryDatabase string `env:"HFT_TELEMETRY_DATABASE"`
	ProfilerEnabled   *bool  `env:"HFT_PROFILER_ENABLED"`
	ProfilerAddress   string `env:"HFT_PROFILER_ADDR"`
}

// Loaded is the resolved configuration ready for wiring.
type Loaded struct {
	Registry  *schema.Registry
	Risk      risk.Limits
	Queues    QueueConfig
	Generator GeneratorConfig
	Strategy  StrategyConfig
	Telemetry TelemetryConfig
	Profiler  ProfilerConfig
}

// GeneratorInterval returns the tick interval, defaulting to 1ms.
func (l Loaded) GeneratorInterval() time.Duration {
	if l.Generator.IntervalUs <= 0 {
		return time.Millisecond
	}
	return time.Duration(l.Generator.IntervalUs) * time.Microsecond
}

// TelemetryFlushInterval returns the sink flush interval, defaulting to 1s.
func (l Loaded) TelemetryFlushInterval() time.Duration {
	if l.Telemetry.FlushIntervalMs <= 0 {
		return time.Second
	}
	return time.Duration(l.Telemetry.FlushIntervalMs) * time.Millisecond
}

// Load reads the JSON config file, applies environment overrides and builds
// the registry.
func Load(path string) (Loaded, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Loaded{}, errors.Wrap(err, "read config")
	}
	return Parse(data)
}

// Parse resolves a raw JSON config document.
func Parse(data []byte) (Loaded, error) {
	var cfg FileConfig
	if err := sonic.ConfigFastest.Unmarshal(data, &cfg); err != nil {
		return Loaded{}, errors.Wrap(err, "unmarshal config")
	}

	var overrides envOverrides
	if err := env.Parse(&overrides); err != nil {
		return Loaded{}, errors.Wrap(err, "parse env overrides")
	}
	applyOverrides(&cfg, overrides)

	if err := cfg.Risk.Validate(); err != nil {
		return Loaded{}, errors.Wrap(err, "risk limits")
	}
	registry, err := buildRegistry(cfg.Registry)
	if err != nil {
		return Loaded{}, err
	}
	return Loaded{
		Registry:  registry,
		Risk:      cfg.Risk,
		Queues:    cfg.Queues,
		Generator: cfg.Generator,
		Strategy:  cfg.Strategy,
		Telemetry: cfg.Telemetry,
		Profiler:  cfg.Profiler,
	}, nil
}

func applyOverrides(cfg *FileConfig, o envOverrides) {
	if o.TelemetryEnabled != nil {
		cfg.Telemetry.Enabled = *o.TelemetryEnabled
	}
	if o.TelemetryHost != "" {
		cfg.Telemetry.Host = o.TelemetryHost
	}
	if o.TelemetryPort != 0 {
		cfg.Telemetry.Port = o.TelemetryPort
	}
	if o.TelemetryUser != "" {
		cfg.Telemetry.User = o.TelemetryUser
	}
	if o.TelemetryPassword != "" {
		cfg.Telemetry.Password = o.TelemetryPassword
	}
	if o.TelemetryDatabase != "" {
		cfg.Telemetry.Database = o.TelemetryDatabase
	}
	if o.ProfilerEnabled != nil {
		cfg.Profiler.Enabled = *o.ProfilerEnabled
	}
	if o.ProfilerAddress != "" {
		cfg.Profiler.ServerAddress = o.ProfilerAddress
	}
}

func buildRegistry(cfg RegistryConfig) (*schema.Registry, error) {
	reg := schema.NewRegistry()
	for _, venue := range cfg.Venues {
		if _, err := reg.AddVenue(venue.Name); err != nil {
			return nil, errors.Wrap(err, "add venue")
		}
	}
	for _, sym := range cfg.Symbols {
		venueID, ok := reg.VenueIDByName(sym.Venue)
		if !ok {
			return nil, fmt.Errorf("venue not found: %s", sym.Venue)
		}
		rules, err := buildRules(sym)
		if err != nil {
			return nil, errors.Wrap(err, "rules for "+sym.Name)
		}
		scale := schema.ScaleSpec{
			PriceScale:    sym.PriceScale,
			QuantityScale: sym.QuantityScale,
			NotionalScale: sym.PriceScale + sym.QuantityScale,
		}
		if _, err := reg.AddSymbol(sym.Name, venueID, scale, rules); err != nil {
			return nil, errors.Wrap(err, "add symbol")
		}
	}
	return reg, nil
}

func buildRules(sym SymbolConfig) (schema.MarketRules, error) {
	tick, err := scaleDecimal(sym.TickSize.String(), sym.PriceScale)
	if err != nil {
		return schema.MarketRules{}, errors.Wrap(err, "tickSize")
	}
	low, err := scaleDecimal(sym.BandLow.String(), sym.PriceScale)
	if err != nil {
		return schema.MarketRules{}, errors.Wrap(err, "bandLow")
	}
	high, err := scaleDecimal(sym.BandHigh.String(), sym.PriceScale)
	if err != nil {
		return schema.MarketRules{}, errors.Wrap(err, "bandHigh")
	}
	maxQty, err := scaleDecimal(sym.MaxOrderQty.String(), sym.QuantityScale)
	if err != nil {
		return schema.MarketRules{}, errors.Wrap(err, "maxOrderQty")
	}
	maxLevels := sym.MaxLevels
	if maxLevels == 0 {
		maxLevels = 1024
	}
	return schema.MarketRules{
		TickSize:    schema.Price(tick),
		BandLow:     schema.Price(low),
		BandHigh:    schema.Price(high),
		MaxOrderQty: schema.Quantity(maxQty),
		MaxLevels:   maxLevels,
	}, nil
}

// scaleDecimal converts a decimal string to an integer scaled by 10^scale.
// The value must not carry more fractional digits than the scale allows.
func scaleDecimal(s string, scale schema.Scale) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty decimal")
	}
	orig := s
	neg := false
	switch s[0] {
	case '-':
		neg = true
		s = s[1:]
	case '+':
		s = s[1:]
	}
	intPart := s
	fracPart := ""
	if dot := strings.IndexByte(s, '.'); dot >= 0 {
		intPart, fracPart = s[:dot], s[dot+1:]
	}
	fracPart = strings.TrimRight(fracPart, "0")
	if len(fracPart) > int(scale) {
		return 0, fmt.Errorf("%s has more than %d fractional digits", orig, scale)
	}
	digits := intPart + fracPart + strings.Repeat("0", int(scale)-len(fracPart))
	var value int64
	for _, c := range digits {
		if c < '0' || c > '9' {
			return 0, fmt.Errorf("invalid decimal: %s", orig)
		}
		value = value*10 + int64(c-'0')
		if value < 0 {
			return 0, fmt.Errorf("decimal overflows: %s", orig)
		}
	}
	if neg {
		value = -value
	}
	return value, nil
}
