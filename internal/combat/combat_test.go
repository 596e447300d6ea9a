package combat

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"

	"firestige.xyz/resmeter/internal/dispatch"
	"firestige.xyz/resmeter/internal/frame"
)

func playerUUID(id uint64) uint64  { return id<<16 | playerTag }
func monsterUUID(id uint64) uint64 { return id<<16 | 64 }

type damageCall struct {
	uid      uint64
	skill    uint32
	amount   int64
	crit     bool
	lucky    bool
	hpLessen int64
}

type healCall struct {
	uid    uint64
	amount int64
	crit   bool
	lucky  bool
}

type recordingSink struct {
	damage      []damageCall
	healing     []healCall
	taken       map[uint64]int64
	names       map[uint64]string
	professions map[uint64]string
	subs        map[uint64]string
	fightPoints map[uint64]int64
}

func newRecordingSink() *recordingSink {
	return &recordingSink{
		taken:       map[uint64]int64{},
		names:       map[uint64]string{},
		professions: map[uint64]string{},
		subs:        map[uint64]string{},
		fightPoints: map[uint64]int64{},
	}
}

func (s *recordingSink) AddDamage(uid uint64, skillID uint32, amount int64, crit, lucky bool, hpLessen int64, _ time.Time) {
	s.damage = append(s.damage, damageCall{uid, skillID, amount, crit, lucky, hpLessen})
}

func (s *recordingSink) AddHealing(uid uint64, amount int64, crit, lucky bool, _ time.Time) {
	s.healing = append(s.healing, healCall{uid, amount, crit, lucky})
}

func (s *recordingSink) AddTakenDamage(uid uint64, amount int64) { s.taken[uid] += amount }
func (s *recordingSink) SetName(uid uint64, name string)         { s.names[uid] = name }
func (s *recordingSink) SetProfession(uid uint64, p string)      { s.professions[uid] = p }
func (s *recordingSink) SetSubProfession(uid uint64, sub string) { s.subs[uid] = sub }
func (s *recordingSink) SetFightPoint(uid uint64, fp int64)      { s.fightPoints[uid] = fp }

func fixedClock() time.Time { return time.Unix(1700000000, 0) }

func encDamage(d Damage) []byte {
	var b []byte
	varint := func(num protowire.Number, v uint64) {
		b = protowire.AppendTag(b, num, protowire.VarintType)
		b = protowire.AppendVarint(b, v)
	}
	if d.Miss {
		varint(2, 1)
	}
	if d.Type != 0 {
		varint(4, uint64(d.Type))
	}
	if d.TypeFlag != 0 {
		varint(5, uint64(d.TypeFlag))
	}
	if d.HasValue {
		varint(6, uint64(d.Value))
	}
	if d.HasLuckyValue {
		varint(8, uint64(d.LuckyValue))
	}
	if d.HpLessen != 0 {
		varint(9, uint64(d.HpLessen))
	}
	if d.AttackerUUID != 0 {
		varint(11, d.AttackerUUID)
	}
	if d.SkillID != 0 {
		varint(12, uint64(d.SkillID))
	}
	if d.Dead {
		varint(17, 1)
	}
	if d.TopSummoner != 0 {
		varint(21, d.TopSummoner)
	}
	return b
}

func appendMessage(b []byte, num protowire.Number, msg []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, msg)
}

func encAttrs(attrs ...Attr) []byte {
	var coll []byte
	for _, a := range attrs {
		var ab []byte
		ab = protowire.AppendTag(ab, 1, protowire.VarintType)
		ab = protowire.AppendVarint(ab, uint64(a.ID))
		ab = appendMessage(ab, 2, a.Raw)
		coll = appendMessage(coll, 2, ab)
	}
	return coll
}

func encDelta(target uint64, attrs []Attr, damages ...Damage) []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.VarintType)
	b = protowire.AppendVarint(b, target)
	if len(attrs) > 0 {
		b = appendMessage(b, 2, encAttrs(attrs...))
	}
	if len(damages) > 0 {
		var effect []byte
		for _, d := range damages {
			effect = appendMessage(effect, 2, encDamage(d))
		}
		b = appendMessage(b, 7, effect)
	}
	return b
}

func encNearDelta(deltas ...[]byte) []byte {
	var b []byte
	for _, d := range deltas {
		b = appendMessage(b, 1, d)
	}
	return b
}

func encAppear(uuid uint64, entType uint32, attrs ...Attr) []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.VarintType)
	b = protowire.AppendVarint(b, uuid)
	b = protowire.AppendTag(b, 2, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(entType))
	b = appendMessage(b, 3, encAttrs(attrs...))
	return b
}

func TestIsPlayer(t *testing.T) {
	assert.True(t, IsPlayer(playerUUID(42)))
	assert.False(t, IsPlayer(monsterUUID(42)))
	assert.Equal(t, uint64(42), PlayerID(playerUUID(42)))
}

func TestNewEvent(t *testing.T) {
	tests := []struct {
		name string
		dmg  Damage
		ok   bool
		want Event
	}{
		{
			name: "direct value",
			dmg:  Damage{SkillID: 1, AttackerUUID: 5, Value: 100, HasValue: true, TypeFlag: 1},
			ok:   true,
			want: Event{AttackerUUID: 5, TargetUUID: 9, SkillID: 1, Amount: 100, Crit: true},
		},
		{
			name: "lucky value fallback",
			dmg:  Damage{SkillID: 1, AttackerUUID: 5, LuckyValue: 70, HasLuckyValue: true},
			ok:   true,
			want: Event{AttackerUUID: 5, TargetUUID: 9, SkillID: 1, Amount: 70, Lucky: true},
		},
		{
			name: "summoner takes credit",
			dmg:  Damage{SkillID: 1, AttackerUUID: 5, TopSummoner: 6, Value: 1, HasValue: true},
			ok:   true,
			want: Event{AttackerUUID: 6, TargetUUID: 9, SkillID: 1, Amount: 1},
		},
		{
			name: "heal type",
			dmg:  Damage{SkillID: 1, AttackerUUID: 5, Value: 3, HasValue: true, Type: healType},
			ok:   true,
			want: Event{AttackerUUID: 5, TargetUUID: 9, SkillID: 1, Amount: 3, Heal: true},
		},
		{name: "no skill", dmg: Damage{AttackerUUID: 5, Value: 1, HasValue: true}},
		{name: "no attacker", dmg: Damage{SkillID: 1, Value: 1, HasValue: true}},
		{name: "zero amount", dmg: Damage{SkillID: 1, AttackerUUID: 5, HasValue: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, ok := NewEvent(9, tt.dmg)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.want, ev)
			}
		})
	}
}

func TestHandleNearDeltaRouting(t *testing.T) {
	alice, bob := playerUUID(42), playerUUID(43)
	boss := monsterUUID(7)

	payload := encNearDelta(
		encDelta(boss, nil,
			Damage{SkillID: 1241, AttackerUUID: alice, Value: 100, HasValue: true, TypeFlag: 1, HpLessen: 90},
			Damage{SkillID: 2, AttackerUUID: boss, Value: 50, HasValue: true, Type: healType},
		),
		encDelta(bob, nil,
			Damage{SkillID: 3, AttackerUUID: boss, Value: 30, HasValue: true},
			Damage{SkillID: 20301, AttackerUUID: alice, Value: 25, HasValue: true, Type: healType, LuckyValue: 5, HasLuckyValue: true},
			Damage{SkillID: 4, AttackerUUID: boss, Value: 99, HasValue: true, Type: healType},
		),
	)

	sink := newRecordingSink()
	e := NewExtractor(sink, fixedClock)
	require.NoError(t, e.HandleNearDelta(payload))

	assert.Equal(t, []damageCall{{uid: 42, skill: 1241, amount: 100, crit: true, hpLessen: 90}}, sink.damage)
	assert.Equal(t, []healCall{{uid: 42, amount: 25, lucky: true}}, sink.healing)
	assert.Equal(t, map[uint64]int64{43: 30}, sink.taken)
	assert.Equal(t, "Healing", sink.subs[42])
}

func TestPlayerTargetDamageOnlyCountsTaken(t *testing.T) {
	sink := newRecordingSink()
	e := NewExtractor(sink, fixedClock)
	route := e.Route(Event{AttackerUUID: monsterUUID(1), TargetUUID: playerUUID(8), SkillID: 5, Amount: 40}, fixedClock())

	assert.Equal(t, RouteTaken, route)
	assert.Empty(t, sink.damage)
	assert.Equal(t, int64(40), sink.taken[8])
}

func TestPlayerVersusPlayerDamageCountsTaken(t *testing.T) {
	sink := newRecordingSink()
	e := NewExtractor(sink, fixedClock)
	route := e.Route(Event{AttackerUUID: playerUUID(1), TargetUUID: playerUUID(2), SkillID: 1714, Amount: 10}, fixedClock())

	assert.Equal(t, RouteTaken, route)
	assert.Empty(t, sink.damage)
	assert.Equal(t, "Iaido", sink.subs[1])
}

func TestSummonDamageCreditsSummoner(t *testing.T) {
	sink := newRecordingSink()
	e := NewExtractor(sink, fixedClock)
	payload := encNearDelta(encDelta(monsterUUID(3), nil,
		Damage{SkillID: 9, AttackerUUID: monsterUUID(77), TopSummoner: playerUUID(5), Value: 12, HasValue: true},
	))
	require.NoError(t, e.HandleNearDelta(payload))
	require.Len(t, sink.damage, 1)
	assert.Equal(t, uint64(5), sink.damage[0].uid)
}

func TestHandleNearDeltaMalformed(t *testing.T) {
	e := NewExtractor(newRecordingSink(), fixedClock)

	err := e.HandleNearDelta([]byte{0x0a, 0x05, 0x01})
	assert.ErrorIs(t, err, ErrMalformed)

	// field 1 must be a message
	err = e.HandleNearDelta([]byte{0x08, 0x01})
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestHandleNearDeltaSkipsUnknownFields(t *testing.T) {
	var payload []byte
	payload = protowire.AppendTag(payload, 9, protowire.Fixed32Type)
	payload = protowire.AppendFixed32(payload, 7)
	payload = append(payload, encNearDelta(encDelta(monsterUUID(1), nil,
		Damage{SkillID: 1, AttackerUUID: playerUUID(2), Value: 5, HasValue: true}))...)

	sink := newRecordingSink()
	require.NoError(t, NewExtractor(sink, fixedClock).HandleNearDelta(payload))
	assert.Len(t, sink.damage, 1)
}

func TestHandleNearEntities(t *testing.T) {
	name := Attr{ID: AttrName, Raw: protowire.AppendString(nil, "Alice")}
	prof := Attr{ID: AttrProfession, Raw: protowire.AppendVarint(nil, 1)}
	fp := Attr{ID: AttrFightPoint, Raw: protowire.AppendVarint(nil, 15320)}
	other := Attr{ID: 0x99, Raw: []byte{0xff}}

	var payload []byte
	payload = appendMessage(payload, 1, encAppear(playerUUID(42), EntityCharacter, name, prof, fp, other))
	payload = appendMessage(payload, 1, encAppear(monsterUUID(7), 1, name))
	payload = appendMessage(payload, 1, encAppear(playerUUID(43), 1, name))

	sink := newRecordingSink()
	require.NoError(t, NewExtractor(sink, fixedClock).HandleNearEntities(payload))

	assert.Equal(t, map[uint64]string{42: "Alice"}, sink.names)
	assert.Equal(t, "Stormblade", sink.professions[42])
	assert.Equal(t, int64(15320), sink.fightPoints[42])
}

func TestDeltaAttrsApplyToPlayers(t *testing.T) {
	name := Attr{ID: AttrName, Raw: protowire.AppendString(nil, "Bob")}
	payload := encNearDelta(
		encDelta(playerUUID(9), []Attr{name}),
		encDelta(monsterUUID(9), []Attr{name}),
	)
	sink := newRecordingSink()
	require.NoError(t, NewExtractor(sink, fixedClock).HandleNearDelta(payload))
	assert.Equal(t, map[uint64]string{9: "Bob"}, sink.names)
}

func TestHandleToMeDelta(t *testing.T) {
	self := playerUUID(42)
	var inner []byte
	inner = appendMessage(inner, 1, encDelta(monsterUUID(3), nil,
		Damage{SkillID: 1, AttackerUUID: self, Value: 10, HasValue: true}))
	inner = protowire.AppendTag(inner, 5, protowire.VarintType)
	inner = protowire.AppendVarint(inner, self)
	payload := appendMessage(nil, 1, inner)

	sink := newRecordingSink()
	e := NewExtractor(sink, fixedClock)
	require.NoError(t, e.HandleToMeDelta(payload))

	assert.Equal(t, self, e.Self())
	require.Len(t, sink.damage, 1)
	assert.Equal(t, uint64(42), sink.damage[0].uid)
}

func TestRegisterWiresDispatcher(t *testing.T) {
	sink := newRecordingSink()
	d := dispatch.New()
	NewExtractor(sink, fixedClock).Register(d)
	assert.Equal(t, []uint32{
		dispatch.MethodSyncNearEntities,
		dispatch.MethodSyncNearDeltaInfo,
		dispatch.MethodSyncToMeDeltaInfo,
	}, d.Methods())

	payload := encNearDelta(encDelta(monsterUUID(1), nil,
		Damage{SkillID: 1, AttackerUUID: playerUUID(2), Value: 5, HasValue: true}))
	require.NoError(t, d.HandleNotify(frame.Notify{MethodID: dispatch.MethodSyncNearDeltaInfo, Payload: payload}))
	assert.Len(t, sink.damage, 1)
}

func TestTables(t *testing.T) {
	assert.Equal(t, "Frost Mage", ProfessionName(2))
	assert.Equal(t, "", ProfessionName(6))
	assert.Equal(t, "Falcon Bow", SubProfession(2203622))
	assert.Equal(t, "", SubProfession(1))
}
