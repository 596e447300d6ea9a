// Package plugins registers all built-in plugins.
package plugins

import (
	"firestige.xyz/resmeter/pkg/plugin"
	"firestige.xyz/resmeter/plugins/capture/file"
	"firestige.xyz/resmeter/plugins/capture/pcap"
	"firestige.xyz/resmeter/plugins/reporter/console"
)

func init() {
	// Register capture plugins
	plugin.RegisterCapturer("pcap", pcap.NewCapturer)
	plugin.RegisterCapturer("file", file.NewCapturer)

	// Register reporter plugins
	plugin.RegisterReporter("console", console.NewConsoleReporter)
}
