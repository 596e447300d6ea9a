// Package combat turns decoded combat notifies into ledger updates.
package combat

import (
	"sync/atomic"
	"time"

	"google.golang.org/protobuf/encoding/protowire"

	"firestige.xyz/resmeter/internal/dispatch"
	"firestige.xyz/resmeter/internal/log"
	"firestige.xyz/resmeter/internal/metrics"
)

// Sink receives routed combat events and player attributes.
// stats.Registry implements it.
type Sink interface {
	AddDamage(uid uint64, skillID uint32, amount int64, crit, lucky bool, hpLessen int64, now time.Time)
	AddHealing(uid uint64, amount int64, crit, lucky bool, now time.Time)
	AddTakenDamage(uid uint64, amount int64)
	SetName(uid uint64, name string)
	SetProfession(uid uint64, profession string)
	SetSubProfession(uid uint64, sub string)
	SetFightPoint(uid uint64, fp int64)
}

// Event is one damage or heal observed on a target entity.
type Event struct {
	AttackerUUID uint64
	TargetUUID   uint64
	SkillID      uint32
	Amount       int64
	HpLessen     int64
	Crit         bool
	Lucky        bool
	Heal         bool
	Miss         bool
	Dead         bool
}

// Route labels.
const (
	RouteDamage    = "damage"
	RouteHealing   = "healing"
	RouteTaken     = "taken"
	RouteDiscarded = "discarded"
)

// NewEvent derives an event from a damage entry on target. It reports false
// for entries without a skill, an attacker, or an amount.
func NewEvent(target uint64, d Damage) (Event, bool) {
	if d.SkillID == 0 {
		return Event{}, false
	}
	attacker := d.TopSummoner
	if attacker == 0 {
		attacker = d.AttackerUUID
	}
	if attacker == 0 {
		return Event{}, false
	}
	amount := d.LuckyValue
	if d.HasValue {
		amount = d.Value
	}
	if amount == 0 {
		return Event{}, false
	}
	return Event{
		AttackerUUID: attacker,
		TargetUUID:   target,
		SkillID:      d.SkillID,
		Amount:       amount,
		HpLessen:     d.HpLessen,
		Crit:         d.TypeFlag&1 == 1,
		Lucky:        d.HasLuckyValue && d.LuckyValue != 0,
		Heal:         d.Type == healType,
		Miss:         d.Miss,
		Dead:         d.Dead,
	}, true
}

// Extractor decodes combat notifies and routes their events into a Sink.
// Handlers run on the engine goroutine.
type Extractor struct {
	sink  Sink
	clock func() time.Time
	self  atomic.Uint64
}

// NewExtractor creates an extractor. A nil clock uses time.Now.
func NewExtractor(sink Sink, clock func() time.Time) *Extractor {
	if clock == nil {
		clock = time.Now
	}
	return &Extractor{sink: sink, clock: clock}
}

// Register binds the decoded methods on d.
func (e *Extractor) Register(d *dispatch.Dispatcher) {
	d.Register(dispatch.MethodSyncNearEntities, "", e.HandleNearEntities)
	d.Register(dispatch.MethodSyncNearDeltaInfo, "", e.HandleNearDelta)
	d.Register(dispatch.MethodSyncToMeDeltaInfo, "", e.HandleToMeDelta)
}

// Self is the uuid of the capturing player, 0 until seen.
func (e *Extractor) Self() uint64 {
	return e.self.Load()
}

func (e *Extractor) HandleNearDelta(payload []byte) error {
	deltas, err := DecodeNearDelta(payload)
	if err != nil {
		return err
	}
	now := e.clock()
	for i := range deltas {
		e.processDelta(&deltas[i], now)
	}
	return nil
}

func (e *Extractor) HandleToMeDelta(payload []byte) error {
	msg, err := DecodeToMeDelta(payload)
	if err != nil {
		return err
	}
	if msg.UUID != 0 && e.self.Swap(msg.UUID) != msg.UUID {
		log.GetLogger().
			WithField("uuid", msg.UUID).
			WithField("uid", PlayerID(msg.UUID)).
			Info("capturing player identified")
	}
	if msg.Base != nil {
		e.processDelta(msg.Base, e.clock())
	}
	return nil
}

func (e *Extractor) HandleNearEntities(payload []byte) error {
	appears, err := DecodeNearEntities(payload)
	if err != nil {
		return err
	}
	for _, a := range appears {
		if a.EntType != EntityCharacter || !IsPlayer(a.UUID) {
			continue
		}
		e.applyAttrs(PlayerID(a.UUID), a.Attrs)
	}
	return nil
}

func (e *Extractor) processDelta(d *Delta, now time.Time) {
	if d.UUID == 0 {
		return
	}
	if len(d.Attrs) > 0 && IsPlayer(d.UUID) {
		e.applyAttrs(PlayerID(d.UUID), d.Attrs)
	}
	for _, dmg := range d.Damages {
		ev, ok := NewEvent(d.UUID, dmg)
		if !ok {
			continue
		}
		e.Route(ev, now)
	}
}

// Route credits one event and returns the route label it took.
func (e *Extractor) Route(ev Event, now time.Time) string {
	attackerIsPlayer := IsPlayer(ev.AttackerUUID)
	route := RouteDiscarded

	switch {
	case IsPlayer(ev.TargetUUID) && ev.Heal:
		if attackerIsPlayer {
			e.sink.AddHealing(PlayerID(ev.AttackerUUID), ev.Amount, ev.Crit, ev.Lucky, now)
			route = RouteHealing
		}
	case IsPlayer(ev.TargetUUID):
		e.sink.AddTakenDamage(PlayerID(ev.TargetUUID), ev.Amount)
		route = RouteTaken
	case !ev.Heal && attackerIsPlayer:
		e.sink.AddDamage(PlayerID(ev.AttackerUUID), ev.SkillID, ev.Amount, ev.Crit, ev.Lucky, ev.HpLessen, now)
		route = RouteDamage
	}

	if attackerIsPlayer {
		if sub := SubProfession(ev.SkillID); sub != "" {
			e.sink.SetSubProfession(PlayerID(ev.AttackerUUID), sub)
		}
	}

	metrics.CombatEventsTotal.WithLabelValues(route).Inc()
	if log.GetLogger().IsDebugEnabled() {
		log.GetLogger().WithFields(map[string]interface{}{
			"attacker": ev.AttackerUUID,
			"target":   ev.TargetUUID,
			"skill":    ev.SkillID,
			"amount":   ev.Amount,
			"hpLessen": ev.HpLessen,
			"crit":     ev.Crit,
			"lucky":    ev.Lucky,
			"heal":     ev.Heal,
			"route":    route,
		}).Debug("combat event")
	}
	return route
}

func (e *Extractor) applyAttrs(uid uint64, attrs []Attr) {
	for _, a := range attrs {
		if len(a.Raw) == 0 {
			continue
		}
		switch a.ID {
		case AttrName:
			name, n := protowire.ConsumeString(a.Raw)
			if n > 0 && name != "" {
				e.sink.SetName(uid, name)
			}
		case AttrProfession:
			id, n := protowire.ConsumeVarint(a.Raw)
			if n > 0 {
				e.sink.SetProfession(uid, ProfessionName(id))
			}
		case AttrFightPoint:
			fp, n := protowire.ConsumeVarint(a.Raw)
			if n > 0 {
				e.sink.SetFightPoint(uid, int64(fp))
			}
		}
	}
}
