package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"firestige.xyz/resmeter/internal/config"
	"firestige.xyz/resmeter/internal/daemon"
)

type startFlags struct {
	iface    string
	capture  string
	file     string
	listen   string
	logLevel string
}

var startOpts startFlags

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Capture live traffic and serve statistics",
	Long: `
Start capturing and serve live statistics until interrupted.

Examples:
  resmeter start                               # pcap on the default device, web UI on :8989
  resmeter start -i eth0                       # capture on eth0
  resmeter start --capture afpacket -i eth0    # AF_PACKET capture (Linux)
  resmeter start --capture file --file x.pcap  # serve statistics of a recording
  resmeter start -c resmeter.yaml              # use a config file
`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if err := applyStartFlags(cfg, startOpts); err != nil {
			return err
		}

		d := daemon.New(cfg, configFile)
		if err := d.Start(); err != nil {
			return fmt.Errorf("failed to start: %w", err)
		}
		return d.Run()
	},
}

// applyStartFlags overrides the loaded configuration with explicit flags.
func applyStartFlags(cfg *config.GlobalConfig, f startFlags) error {
	if f.capture != "" {
		cfg.Capture.Type = f.capture
	}
	if f.iface != "" {
		cfg.Capture.Interface = f.iface
	}
	if f.file != "" {
		cfg.Capture.File = f.file
		if f.capture == "" {
			cfg.Capture.Type = "file"
		}
	}
	if f.listen != "" {
		cfg.Server.Listen = f.listen
		cfg.Server.Enabled = true
	}
	if f.logLevel != "" {
		cfg.Log.Level = f.logLevel
	}
	if err := cfg.ValidateAndApplyDefaults(); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}
	return nil
}

func init() {
	startCmd.Flags().StringVarP(&startOpts.iface, "interface", "i", "", "capture interface")
	startCmd.Flags().StringVar(&startOpts.capture, "capture", "", "capture plugin: pcap | afpacket | file")
	startCmd.Flags().StringVarP(&startOpts.file, "file", "f", "", "pcap/pcapng file to read (implies --capture file)")
	startCmd.Flags().StringVarP(&startOpts.listen, "listen", "l", "", "web server listen address")
	startCmd.Flags().StringVar(&startOpts.logLevel, "log-level", "", "trace | debug | info | warn | error")
}
