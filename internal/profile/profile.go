// Package profile caches player identity (name, profession) across sessions
// so a player reappearing after a clear is labelled before their next appearance packet.
package profile

import (
	"errors"
	"fmt"

	"firestige.xyz/resmeter/internal/config"
)

// Profile is the persisted identity of one player.
type Profile struct {
	Name       string `yaml:"name,omitempty" json:"name,omitempty"`
	Profession string `yaml:"profession,omitempty" json:"profession,omitempty"`
	FightPoint int64  `yaml:"fight_point,omitempty" json:"fight_point,omitempty"`
}

// Merge overlays the non-empty fields of o onto p.
func (p Profile) Merge(o Profile) Profile {
	if o.Name != "" {
		p.Name = o.Name
	}
	if o.Profession != "" {
		p.Profession = o.Profession
	}
	if o.FightPoint != 0 {
		p.FightPoint = o.FightPoint
	}
	return p
}

// Store loads and saves profiles keyed by player id.
type Store interface {
	Load(uid uint64) (Profile, bool)
	Save(uid uint64, p Profile) error
	Close() error
}

var ErrUnknownBackend = errors.New("profile: unknown backend")

// Open builds the store selected by cfg.
func Open(cfg config.ProfileConfig) (Store, error) {
	switch cfg.Backend {
	case "", "memory":
		return NewMemoryStore(), nil
	case "file":
		return OpenFileStore(cfg.Path, cfg.FlushInterval)
	case "redis":
		return NewRedisStore(cfg.Redis)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownBackend, cfg.Backend)
	}
}
