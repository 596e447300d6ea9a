package utils

import (
	"fmt"

	"github.com/mitchellh/mapstructure"
)

// DecodeOptions decodes a plugin option map into out. Values may arrive as
// strings or numbers of any width, and durations as "5s" style strings.
// Keys meant for other plugins are ignored.
func DecodeOptions(in map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(in); err != nil {
		return fmt.Errorf("invalid options: %w", err)
	}
	return nil
}
