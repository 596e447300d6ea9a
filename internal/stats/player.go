package stats

import (
	"sort"
	"time"
)

// UnknownProfession is the label before any class information is seen.
const UnknownProfession = "unknown"

// Player holds every ledger of one player.
type Player struct {
	UID           uint64
	Name          string
	Profession    string
	SubProfession string
	FightPoint    int64
	TakenDamage   int64

	Damage  *Statistic
	Healing *Statistic
	Skills  map[uint32]*Statistic
}

func newPlayer(uid uint64) *Player {
	return &Player{
		UID:        uid,
		Profession: UnknownProfession,
		Damage:     NewStatistic(),
		Healing:    NewStatistic(),
		Skills:     make(map[uint32]*Statistic),
	}
}

func (p *Player) addDamage(skillID uint32, amount int64, crit, lucky bool, hpLessen int64, now time.Time) {
	p.Damage.AddRecord(now, amount, crit, lucky, hpLessen)
	skill, ok := p.Skills[skillID]
	if !ok {
		skill = newSkillStatistic()
		p.Skills[skillID] = skill
	}
	skill.AddRecord(now, amount, crit, lucky, hpLessen)
}

func (p *Player) tick(now time.Time) {
	p.Damage.Tick(now)
	p.Healing.Tick(now)
}

// TotalCount sums damage and healing event counts.
func (p *Player) TotalCount() Counts {
	return p.Damage.Counts.Add(p.Healing.Counts)
}

// Summary is the presentation view of a player.
type Summary struct {
	RealtimeDPS    int64     `json:"realtime_dps"`
	RealtimeDPSMax int64     `json:"realtime_dps_max"`
	TotalDPS       float64   `json:"total_dps"`
	TotalDamage    Breakdown `json:"total_damage"`
	TotalCount     Counts    `json:"total_count"`
	RealtimeHPS    int64     `json:"realtime_hps"`
	RealtimeHPSMax int64     `json:"realtime_hps_max"`
	TotalHPS       float64   `json:"total_hps"`
	TotalHealing   Breakdown `json:"total_healing"`
	TakenDamage    int64     `json:"taken_damage"`
	Profession     string    `json:"profession"`
	SubProfession  string    `json:"sub_profession,omitempty"`
	Name           string    `json:"name"`
	FightPoint     int64     `json:"fightPoint"`
}

func (p *Player) summary() Summary {
	return Summary{
		RealtimeDPS:    p.Damage.Realtime,
		RealtimeDPSMax: p.Damage.RealtimeMax,
		TotalDPS:       p.Damage.PerSecond(),
		TotalDamage:    p.Damage.Totals,
		TotalCount:     p.TotalCount(),
		RealtimeHPS:    p.Healing.Realtime,
		RealtimeHPSMax: p.Healing.RealtimeMax,
		TotalHPS:       p.Healing.PerSecond(),
		TotalHealing:   p.Healing.Totals,
		TakenDamage:    p.TakenDamage,
		Profession:     p.Profession,
		SubProfession:  p.SubProfession,
		Name:           p.Name,
		FightPoint:     p.FightPoint,
	}
}

// SkillSummary is the per-skill damage breakdown of one player.
type SkillSummary struct {
	SkillID   uint32    `json:"skill_id"`
	Total     Breakdown `json:"total_damage"`
	Count     Counts    `json:"total_count"`
	CritRate  float64   `json:"crit_rate"`
	LuckyRate float64   `json:"lucky_rate"`
}

// skillSummaries lists skills by descending total damage.
func (p *Player) skillSummaries() []SkillSummary {
	out := make([]SkillSummary, 0, len(p.Skills))
	for id, s := range p.Skills {
		sum := SkillSummary{SkillID: id, Total: s.Totals, Count: s.Counts}
		if s.Counts.Total > 0 {
			sum.CritRate = float64(s.Counts.Critical) / float64(s.Counts.Total)
			sum.LuckyRate = float64(s.Counts.Lucky) / float64(s.Counts.Total)
		}
		out = append(out, sum)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Total.Total != out[j].Total.Total {
			return out[i].Total.Total > out[j].Total.Total
		}
		return out[i].SkillID < out[j].SkillID
	})
	return out
}
