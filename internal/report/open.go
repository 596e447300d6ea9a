package report

import (
	"context"
	"fmt"

	"firestige.xyz/resmeter/internal/config"
	"firestige.xyz/resmeter/pkg/plugin"
)

// Set is a group of running report wrappers.
type Set []*Wrapper

// Open creates and starts one wrapper per configured reporter. On failure the
// wrappers started so far are closed.
func Open(ctx context.Context, cfgs []config.ReporterConfig, src Source) (Set, error) {
	set := make(Set, 0, len(cfgs))
	for _, rc := range cfgs {
		r, err := plugin.NewReporter(rc.Name, rc.Options)
		if err != nil {
			set.Close(ctx)
			return nil, err
		}
		w := NewWrapper(WrapperConfig{Reporter: r, Source: src, Interval: rc.Interval})
		if err := w.Start(ctx); err != nil {
			set.Close(ctx)
			return nil, fmt.Errorf("failed to start reporter %s: %w", rc.Name, err)
		}
		set = append(set, w)
	}
	return set, nil
}

// Close closes every wrapper and returns the first error.
func (s Set) Close(ctx context.Context) error {
	var first error
	for _, w := range s {
		if err := w.Close(ctx); err != nil && first == nil {
			first = err
		}
	}
	return first
}
