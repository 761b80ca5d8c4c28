// Command mdg generates synthetic market data from a registry config and
// prints the normalized events as JSON lines. Useful for eyeballing what the
// trader would consume.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/bytedance/sonic"
	"github.com/yanun0323/logs"

	"main/internal/mdg"
	"main/internal/ops"
	"main/internal/schema"
)

type tickLine struct {
	Header schema.EventHeader `json:"header"`
	Data   schema.MarketData  `json:"data"`
}

func main() {
	configPath := flag.String("config", "", "Path to JSON config")
	ticks := flag.Int("ticks", 100, "Number of ticks to generate")
	interval := flag.Duration("interval", 0, "Delay between ticks")
	baseQty := flag.Int64("base-qty", 10, "Base order quantity (scaled)")
	source := flag.Uint("source", 1, "Source ID")
	seed := flag.Int64("seed", 0, "RNG seed (0=from clock)")
	flag.Parse()

	if err := run(*configPath, *ticks, *interval, *baseQty, uint16(*source), *seed); err != nil {
		logs.Errorf("mdg exited, err: %+v", err)
		os.Exit(1)
	}
}

func run(configPath string, ticks int, interval time.Duration, baseQty int64, source uint16, seed int64) error {
	if ticks <= 0 {
		return fmt.Errorf("ticks must be > 0")
	}
	if configPath == "" {
		return fmt.Errorf("missing config; use -config")
	}
	loaded, err := ops.Load(configPath)
	if err != nil {
		return err
	}

	generator, err := mdg.NewGenerator(loaded.Registry, source, baseQty, seed)
	if err != nil {
		return err
	}
	normalizer := mdg.NewNormalizer(loaded.Registry)

	encoder := sonic.ConfigFastest.NewEncoder(os.Stdout)
	for i := 0; i < ticks; i++ {
		tick := generator.Next(time.Now().UTC())
		header, md, err := normalizer.Normalize(generator.Seq(), tick)
		if err != nil {
			return err
		}
		if err := encoder.Encode(tickLine{Header: header, Data: md}); err != nil {
			return err
		}
		if interval > 0 && i < ticks-1 {
			time.Sleep(interval)
		}
	}
	return nil
}
