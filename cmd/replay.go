package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"firestige.xyz/resmeter/internal/config"
	"firestige.xyz/resmeter/internal/core"
	"firestige.xyz/resmeter/internal/daemon"
	"firestige.xyz/resmeter/internal/engine"
	"firestige.xyz/resmeter/internal/log"
	"firestige.xyz/resmeter/internal/profile"
	"firestige.xyz/resmeter/internal/stats"
	"firestige.xyz/resmeter/pkg/plugin"
)

var (
	replayFormat string
	replayTop    int
)

var replayCmd = &cobra.Command{
	Use:   "replay <file>",
	Short: "Aggregate a recorded capture and print the statistics",
	Long: `
Replay a pcap or pcapng recording on its own timestamps and print the final
statistics table.

Examples:
  resmeter replay raid.pcapng
  resmeter replay raid.pcap --format json
`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if err := log.Init(daemon.LogConfig(cfg.Log)); err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		snap, err := replay(ctx, cfg, args[0])
		if err != nil {
			return err
		}
		return printSnapshot(ctx, snap, replayFormat, replayTop)
	},
}

// replay runs the whole pipeline over a capture file on the calling goroutine.
func replay(ctx context.Context, cfg *config.GlobalConfig, file string) (stats.Snapshot, error) {
	cfg.Stats.UseCaptureTime = true

	store, err := profile.Open(cfg.Profile)
	if err != nil {
		return nil, fmt.Errorf("failed to open profile store: %w", err)
	}
	defer store.Close()

	opts, closeDecoder, err := engine.OptionsFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	defer closeDecoder()
	eng := engine.New(opts, stats.NewRegistry(store))

	capturer, err := plugin.NewCapturer("file", map[string]any{"file": file})
	if err != nil {
		return nil, err
	}

	packets := make(chan core.RawPacket, cfg.Capture.QueueSize)
	captureErr := make(chan error, 1)
	go func() {
		defer close(packets)
		captureErr <- capturer.Capture(ctx, packets)
	}()

	if err := eng.Replay(ctx, packets); err != nil {
		return nil, err
	}
	if err := <-captureErr; err != nil {
		return nil, err
	}
	return eng.Snapshot(), nil
}

func printSnapshot(ctx context.Context, snap stats.Snapshot, format string, top int) error {
	r, err := plugin.NewReporter("console", map[string]any{"format": format, "top": top})
	if err != nil {
		return err
	}
	if err := r.Report(ctx, snap); err != nil {
		return err
	}
	return r.Flush(ctx)
}

func init() {
	replayCmd.Flags().StringVar(&replayFormat, "format", "text", "output format: text | json")
	replayCmd.Flags().IntVar(&replayTop, "top", 0, "print only the top N players (0 for all)")
}
