package stats

import (
	"sync"
	"time"

	"firestige.xyz/resmeter/internal/log"
	"firestige.xyz/resmeter/internal/metrics"
	"firestige.xyz/resmeter/internal/profile"
)

// Snapshot is a point-in-time copy of every player summary keyed by player id.
type Snapshot map[uint64]Summary

// Registry maps player ids to their ledgers. Players are created on first
// reference and only removed by Clear.
type Registry struct {
	mu      sync.RWMutex
	players map[uint64]*Player

	profiles profile.Store
}

// NewRegistry creates an empty registry. store may be nil.
func NewRegistry(store profile.Store) *Registry {
	return &Registry{
		players:  make(map[uint64]*Player),
		profiles: store,
	}
}

// player returns the ledger for uid, creating it and consulting the profile
// cache on first reference. The profile lookup runs outside the lock.
func (r *Registry) player(uid uint64) *Player {
	r.mu.RLock()
	p, ok := r.players[uid]
	r.mu.RUnlock()
	if ok {
		return p
	}

	fresh := newPlayer(uid)
	if r.profiles != nil {
		if cached, ok := r.profiles.Load(uid); ok {
			fresh.Name = cached.Name
			if cached.Profession != "" {
				fresh.Profession = cached.Profession
			}
			fresh.FightPoint = cached.FightPoint
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.players[uid]; ok {
		return p
	}
	r.players[uid] = fresh
	metrics.PlayersTracked.Set(float64(len(r.players)))
	return fresh
}

// AddDamage credits damage dealt by uid with skillID.
func (r *Registry) AddDamage(uid uint64, skillID uint32, amount int64, crit, lucky bool, hpLessen int64, now time.Time) {
	p := r.player(uid)
	r.mu.Lock()
	p.addDamage(skillID, amount, crit, lucky, hpLessen, now)
	r.mu.Unlock()
}

// AddHealing credits healing done by uid.
func (r *Registry) AddHealing(uid uint64, amount int64, crit, lucky bool, now time.Time) {
	p := r.player(uid)
	r.mu.Lock()
	p.Healing.AddRecord(now, amount, crit, lucky, 0)
	r.mu.Unlock()
}

// AddTakenDamage credits damage received by uid.
func (r *Registry) AddTakenDamage(uid uint64, amount int64) {
	p := r.player(uid)
	r.mu.Lock()
	p.TakenDamage += amount
	r.mu.Unlock()
}

// SetName records a player name and writes it through to the profile cache.
func (r *Registry) SetName(uid uint64, name string) {
	if name == "" {
		return
	}
	r.update(uid, func(p *Player) bool {
		if p.Name == name {
			return false
		}
		p.Name = name
		return true
	})
}

// SetProfession records the class label.
func (r *Registry) SetProfession(uid uint64, profession string) {
	if profession == "" {
		return
	}
	r.update(uid, func(p *Player) bool {
		if p.Profession == profession {
			return false
		}
		p.Profession = profession
		return true
	})
}

// SetSubProfession records the specialization inferred from a skill.
func (r *Registry) SetSubProfession(uid uint64, sub string) {
	if sub == "" {
		return
	}
	p := r.player(uid)
	r.mu.Lock()
	p.SubProfession = sub
	r.mu.Unlock()
}

// SetFightPoint records the player's fight score.
func (r *Registry) SetFightPoint(uid uint64, fp int64) {
	r.update(uid, func(p *Player) bool {
		if p.FightPoint == fp {
			return false
		}
		p.FightPoint = fp
		return true
	})
}

func (r *Registry) update(uid uint64, apply func(p *Player) bool) {
	p := r.player(uid)

	r.mu.Lock()
	changed := apply(p)
	snapshot := profile.Profile{Name: p.Name, FightPoint: p.FightPoint}
	if p.Profession != UnknownProfession {
		snapshot.Profession = p.Profession
	}
	r.mu.Unlock()

	if !changed || r.profiles == nil {
		return
	}
	if err := r.profiles.Save(uid, snapshot); err != nil {
		metrics.ProfileStoreErrorsTotal.WithLabelValues("save").Inc()
		log.GetLogger().WithError(err).WithField("uid", uid).Warn("failed to save player profile")
	}
}

// Tick advances every realtime window.
func (r *Registry) Tick(now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.players {
		p.tick(now)
	}
}

// Clear drops every player.
func (r *Registry) Clear() {
	r.mu.Lock()
	r.players = make(map[uint64]*Player)
	r.mu.Unlock()
	metrics.PlayersTracked.Set(0)
}

// Len is the number of tracked players.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.players)
}

// Snapshot copies every player summary.
func (r *Registry) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(Snapshot, len(r.players))
	for uid, p := range r.players {
		out[uid] = p.summary()
	}
	return out
}

// Player returns the summary of one player.
func (r *Registry) Player(uid uint64) (Summary, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.players[uid]
	if !ok {
		return Summary{}, false
	}
	return p.summary(), true
}

// Skills returns the per-skill breakdown of one player.
func (r *Registry) Skills(uid uint64) ([]SkillSummary, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.players[uid]
	if !ok {
		return nil, false
	}
	return p.skillSummaries(), true
}
