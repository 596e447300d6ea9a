package combat

const (
	// EntityCharacter is the EntType of player characters.
	EntityCharacter = 10

	playerTag = 640

	healType = 2

	AttrName       = 0x01
	AttrProfession = 0xdc
	AttrFightPoint = 0x272e
)

// IsPlayer reports whether an entity uuid belongs to a player.
func IsPlayer(uuid uint64) bool {
	return uuid&0xffff == playerTag
}

// PlayerID strips the entity tag from a uuid.
func PlayerID(uuid uint64) uint64 {
	return uuid >> 16
}

var professions = map[uint64]string{
	1:  "Stormblade",
	2:  "Frost Mage",
	3:  "Axe",
	4:  "Wind Knight",
	5:  "Verdant Oracle",
	8:  "Thunder Handcannon",
	9:  "Heavy Guardian",
	10: "Dark Spirit Dance",
	11: "Marksman",
	12: "Shield Knight",
	13: "Beat Performer",
}

// ProfessionName maps a class id to its label, or "" when unknown.
func ProfessionName(id uint64) string {
	return professions[id]
}

var signatureSkills = map[uint32]string{
	1241:    "Ray",
	55302:   "Concerto",
	20301:   "Healing",
	1518:    "Punishment",
	2306:    "Dissonance",
	120902:  "Ice Spear",
	1714:    "Iaido",
	44701:   "Moonblade",
	220112:  "Falcon Bow",
	2203622: "Falcon Bow",
	1700827: "Wolf Bow",
	1419:    "Vanguard",
	1418:    "Heavy Armor",
	2405:    "Defense Shield",
	2406:    "Light Shield",
	199902:  "Rock Shield",
}

// SubProfession returns the specialization implied by a signature skill.
func SubProfession(skillID uint32) string {
	return signatureSkills[skillID]
}
