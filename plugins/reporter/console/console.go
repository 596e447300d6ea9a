// Package console implements the console statistics reporter.
// It prints player snapshots to stdout as a table or as JSON lines.
package console

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"text/tabwriter"

	"firestige.xyz/resmeter/internal/log"
	"firestige.xyz/resmeter/internal/stats"
	"firestige.xyz/resmeter/internal/utils"
	"firestige.xyz/resmeter/pkg/plugin"
)

// ConsoleReporter writes snapshots to the console.
type ConsoleReporter struct {
	name          string
	config        Config
	out           io.Writer
	mu            sync.Mutex
	reportedCount atomic.Uint64
}

// Config represents console reporter configuration.
type Config struct {
	Format string `mapstructure:"format"` // "json" or "text", default "text"
	Top    int    `mapstructure:"top"`    // rows in text mode, 0 for all
}

// NewConsoleReporter creates a new console reporter.
func NewConsoleReporter() plugin.Reporter {
	return &ConsoleReporter{
		name:   "console",
		config: Config{Format: "text"},
		out:    os.Stdout,
	}
}

func (r *ConsoleReporter) Name() string {
	return r.name
}

// Init initializes the reporter with configuration.
func (r *ConsoleReporter) Init(config map[string]any) error {
	cfg := Config{Format: "text"}
	if err := utils.DecodeOptions(config, &cfg); err != nil {
		return err
	}
	if cfg.Format != "json" && cfg.Format != "text" {
		return fmt.Errorf("invalid format %q, must be json or text", cfg.Format)
	}
	r.config = cfg
	return nil
}

func (r *ConsoleReporter) Start(ctx context.Context) error {
	log.GetLogger().WithField("format", r.config.Format).Info("console reporter started")
	return nil
}

func (r *ConsoleReporter) Stop(ctx context.Context) error {
	log.GetLogger().WithField("total_reported", r.reportedCount.Load()).Info("console reporter stopped")
	return nil
}

// Report prints one snapshot.
func (r *ConsoleReporter) Report(ctx context.Context, snap stats.Snapshot) error {
	if snap == nil {
		return fmt.Errorf("nil snapshot")
	}
	r.reportedCount.Add(1)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.config.Format == "json" {
		return r.reportJSON(snap)
	}
	return r.reportText(snap)
}

func (r *ConsoleReporter) reportJSON(snap stats.Snapshot) error {
	data, err := json.Marshal(map[string]any{"code": 0, "user": snap})
	if err != nil {
		return fmt.Errorf("json marshal failed: %w", err)
	}
	_, err = fmt.Fprintln(r.out, string(data))
	return err
}

type row struct {
	uid uint64
	s   stats.Summary
}

// rows orders players by total damage, then by healing, then by id.
func rows(snap stats.Snapshot) []row {
	out := make([]row, 0, len(snap))
	for uid, s := range snap {
		out = append(out, row{uid, s})
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].s, out[j].s
		if a.TotalDamage.Total != b.TotalDamage.Total {
			return a.TotalDamage.Total > b.TotalDamage.Total
		}
		if a.TotalHealing.Total != b.TotalHealing.Total {
			return a.TotalHealing.Total > b.TotalHealing.Total
		}
		return out[i].uid < out[j].uid
	})
	return out
}

func (r *ConsoleReporter) reportText(snap stats.Snapshot) error {
	players := rows(snap)
	if r.config.Top > 0 && len(players) > r.config.Top {
		players = players[:r.config.Top]
	}

	tw := tabwriter.NewWriter(r.out, 0, 4, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "UID\tNAME\tPROFESSION\tDAMAGE\tDPS\tMAX DPS\tCRIT%\tHEALING\tHPS\tTAKEN\t")
	for _, p := range players {
		s := p.s
		name := s.Name
		if name == "" {
			name = "-"
		}
		prof := s.Profession
		if s.SubProfession != "" {
			prof += "/" + s.SubProfession
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%.0f\t%d\t%.1f\t%d\t%.0f\t%d\t\n",
			p.uid, name, prof,
			s.TotalDamage.Total, s.TotalDPS, s.RealtimeDPSMax,
			critRate(s.TotalCount),
			s.TotalHealing.Total, s.TotalHPS,
			s.TakenDamage)
	}
	return tw.Flush()
}

func critRate(c stats.Counts) float64 {
	if c.Total == 0 {
		return 0
	}
	return float64(c.Critical) * 100 / float64(c.Total)
}

// Flush is a no-op; every report is written immediately.
func (r *ConsoleReporter) Flush(ctx context.Context) error {
	return nil
}
