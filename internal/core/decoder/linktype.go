package decoder

import (
	"fmt"

	"github.com/google/gopacket/layers"

	"firestige.xyz/resmeter/internal/core"
)

// LinkTypeOf maps a capture link type onto the layers Decode understands.
func LinkTypeOf(lt layers.LinkType) (core.LinkType, error) {
	switch lt {
	case layers.LinkTypeEthernet:
		return core.LinkEthernet, nil
	case layers.LinkTypeLinuxSLL:
		return core.LinkLinuxSLL, nil
	case layers.LinkTypeNull, layers.LinkTypeLoop:
		return core.LinkLoopback, nil
	case layers.LinkTypeRaw, layers.LinkTypeIPv4, layers.LinkTypeIPv6:
		return core.LinkRawIP, nil
	default:
		return 0, fmt.Errorf("%w: link type %s", core.ErrUnsupportedProto, lt)
	}
}
