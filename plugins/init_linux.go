package plugins

import (
	"firestige.xyz/resmeter/pkg/plugin"
	"firestige.xyz/resmeter/plugins/capture/afpacket"
)

func init() {
	plugin.RegisterCapturer("afpacket", afpacket.NewAFPacketCapturer)
}
