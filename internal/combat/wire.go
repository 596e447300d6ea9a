package combat

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// ErrMalformed reports a truncated or invalid protobuf payload.
var ErrMalformed = errors.New("combat: malformed message")

// field is one decoded protobuf field. Varint and fixed values land in u,
// length-delimited values in b.
type field struct {
	num protowire.Number
	typ protowire.Type
	u   uint64
	b   []byte
}

// walk visits every top-level field of a message. Unknown fields are
// visited too; callers pick the numbers they know.
func walk(msg []byte, fn func(f field) error) error {
	for len(msg) > 0 {
		num, typ, n := protowire.ConsumeTag(msg)
		if n < 0 {
			return fmt.Errorf("%w: tag: %v", ErrMalformed, protowire.ParseError(n))
		}
		msg = msg[n:]

		f := field{num: num, typ: typ}
		switch typ {
		case protowire.VarintType:
			f.u, n = protowire.ConsumeVarint(msg)
		case protowire.Fixed32Type:
			var v uint32
			v, n = protowire.ConsumeFixed32(msg)
			f.u = uint64(v)
		case protowire.Fixed64Type:
			f.u, n = protowire.ConsumeFixed64(msg)
		case protowire.BytesType:
			f.b, n = protowire.ConsumeBytes(msg)
		default:
			n = protowire.ConsumeFieldValue(num, typ, msg)
		}
		if n < 0 {
			return fmt.Errorf("%w: field %d: %v", ErrMalformed, num, protowire.ParseError(n))
		}
		msg = msg[n:]

		if err := fn(f); err != nil {
			return err
		}
	}
	return nil
}

// Attr is one raw entity attribute.
type Attr struct {
	ID  uint32
	Raw []byte
}

// Damage is one SyncDamageInfo entry. Has* flags record field presence.
type Damage struct {
	SkillID       uint32
	AttackerUUID  uint64
	TopSummoner   uint64
	Type          uint32
	TypeFlag      uint32
	Value         int64
	HasValue      bool
	LuckyValue    int64
	HasLuckyValue bool
	HpLessen      int64
	Crit          bool
	Miss          bool
	Dead          bool
}

// Delta is one AoiSyncDelta record.
type Delta struct {
	UUID    uint64
	Attrs   []Attr
	Damages []Damage
}

// ToMeDelta is the AoiSyncToMeDelta carried by SyncToMeDeltaInfo.
type ToMeDelta struct {
	UUID uint64
	Base *Delta
}

// Appearance is one EntityAppear record.
type Appearance struct {
	UUID    uint64
	EntType uint32
	Attrs   []Attr
}

func wantBytes(f field) error {
	if f.typ != protowire.BytesType {
		return fmt.Errorf("%w: field %d has wire type %d", ErrMalformed, f.num, f.typ)
	}
	return nil
}

// DecodeNearDelta parses a SyncNearDeltaInfo payload.
func DecodeNearDelta(payload []byte) ([]Delta, error) {
	var out []Delta
	err := walk(payload, func(f field) error {
		if f.num != 1 {
			return nil
		}
		if err := wantBytes(f); err != nil {
			return err
		}
		d, err := decodeDelta(f.b)
		if err != nil {
			return err
		}
		out = append(out, d)
		return nil
	})
	return out, err
}

// DecodeToMeDelta parses a SyncToMeDeltaInfo payload.
func DecodeToMeDelta(payload []byte) (ToMeDelta, error) {
	var out ToMeDelta
	err := walk(payload, func(f field) error {
		if f.num != 1 {
			return nil
		}
		if err := wantBytes(f); err != nil {
			return err
		}
		return walk(f.b, func(g field) error {
			switch g.num {
			case 1:
				if err := wantBytes(g); err != nil {
					return err
				}
				d, err := decodeDelta(g.b)
				if err != nil {
					return err
				}
				out.Base = &d
			case 5:
				out.UUID = g.u
			}
			return nil
		})
	})
	return out, err
}

// DecodeNearEntities parses the appear list of a SyncNearEntities payload.
func DecodeNearEntities(payload []byte) ([]Appearance, error) {
	var out []Appearance
	err := walk(payload, func(f field) error {
		if f.num != 1 {
			return nil
		}
		if err := wantBytes(f); err != nil {
			return err
		}
		var a Appearance
		err := walk(f.b, func(g field) error {
			switch g.num {
			case 1:
				a.UUID = g.u
			case 2:
				a.EntType = uint32(g.u)
			case 3:
				if err := wantBytes(g); err != nil {
					return err
				}
				attrs, err := decodeAttrs(g.b)
				if err != nil {
					return err
				}
				a.Attrs = attrs
			}
			return nil
		})
		if err != nil {
			return err
		}
		out = append(out, a)
		return nil
	})
	return out, err
}

func decodeDelta(b []byte) (Delta, error) {
	var d Delta
	err := walk(b, func(f field) error {
		switch f.num {
		case 1:
			d.UUID = f.u
		case 2:
			if err := wantBytes(f); err != nil {
				return err
			}
			attrs, err := decodeAttrs(f.b)
			if err != nil {
				return err
			}
			d.Attrs = append(d.Attrs, attrs...)
		case 7:
			if err := wantBytes(f); err != nil {
				return err
			}
			damages, err := decodeSkillEffect(f.b)
			if err != nil {
				return err
			}
			d.Damages = append(d.Damages, damages...)
		}
		return nil
	})
	return d, err
}

func decodeSkillEffect(b []byte) ([]Damage, error) {
	var out []Damage
	err := walk(b, func(f field) error {
		if f.num != 2 {
			return nil
		}
		if err := wantBytes(f); err != nil {
			return err
		}
		dmg, err := decodeDamage(f.b)
		if err != nil {
			return err
		}
		out = append(out, dmg)
		return nil
	})
	return out, err
}

func decodeDamage(b []byte) (Damage, error) {
	var d Damage
	err := walk(b, func(f field) error {
		switch f.num {
		case 2:
			d.Miss = f.u != 0
		case 3:
			d.Crit = f.u != 0
		case 4:
			d.Type = uint32(f.u)
		case 5:
			d.TypeFlag = uint32(f.u)
		case 6:
			d.Value, d.HasValue = int64(f.u), true
		case 8:
			d.LuckyValue, d.HasLuckyValue = int64(f.u), true
		case 9:
			d.HpLessen = int64(f.u)
		case 11:
			d.AttackerUUID = f.u
		case 12:
			d.SkillID = uint32(f.u)
		case 17:
			d.Dead = f.u != 0
		case 21:
			d.TopSummoner = f.u
		}
		return nil
	})
	return d, err
}

func decodeAttrs(b []byte) ([]Attr, error) {
	var out []Attr
	err := walk(b, func(f field) error {
		if f.num != 2 {
			return nil
		}
		if err := wantBytes(f); err != nil {
			return err
		}
		var a Attr
		err := walk(f.b, func(g field) error {
			switch g.num {
			case 1:
				a.ID = uint32(g.u)
			case 2:
				a.Raw = g.b
			}
			return nil
		})
		if err != nil {
			return err
		}
		out = append(out, a)
		return nil
	})
	return out, err
}
