// Package plugin defines plugin interfaces.
package plugin

import (
	"context"

	"firestige.xyz/resmeter/internal/stats"
)

// Reporter publishes player statistics snapshots.
type Reporter interface {
	Plugin
	Report(ctx context.Context, snap stats.Snapshot) error
	Flush(ctx context.Context) error
}
