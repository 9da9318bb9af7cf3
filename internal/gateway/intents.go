package gateway

// Capability bits negotiated at IDENTIFY time. Each bit opts in to one
// category of dispatch events.
const (
	intentGuilds              uint32 = 1 << 0
	intentGuildMembers        uint32 = 1 << 1
	intentGuildMessages       uint32 = 1 << 9 // full guild message stream (private-domain apps)
	intentGuildMsgReactions   uint32 = 1 << 10
	intentDirectMessage       uint32 = 1 << 12
	intentGroupAndC2C         uint32 = 1 << 25
	intentInteraction         uint32 = 1 << 26
	intentMessageAudit        uint32 = 1 << 27
	intentPublicGuildMessages uint32 = 1 << 30 // @-mention guild messages only
)

// CapabilityLevel is one entry of the negotiation ladder.
type CapabilityLevel struct {
	Name        string
	Bits        uint32
	Description string
}

// capabilityLevels is ordered widest first. Negotiation starts at the
// last persisted good level (or 0 for a fresh account) and narrows one
// step per unrecoverable INVALID_SESSION. It never widens within a
// process; a wider last-known-good level is only picked up again on
// restart.
var capabilityLevels = []CapabilityLevel{
	{
		Name: "private-domain",
		Bits: intentGuilds | intentGuildMembers | intentGuildMessages |
			intentGuildMsgReactions | intentDirectMessage |
			intentGroupAndC2C | intentInteraction | intentMessageAudit,
		Description: "full guild message stream plus groups, C2C and DMs",
	},
	{
		Name: "public-domain",
		Bits: intentGuilds | intentPublicGuildMessages | intentGuildMsgReactions |
			intentDirectMessage | intentGroupAndC2C | intentMessageAudit,
		Description: "@-mention guild messages plus groups, C2C and DMs",
	},
	{
		Name:        "chat-only",
		Bits:        intentGroupAndC2C | intentDirectMessage,
		Description: "groups, C2C and DMs only",
	},
	{
		Name:        "minimal",
		Bits:        intentGroupAndC2C,
		Description: "groups and C2C only",
	},
}

// Levels returns the negotiation ladder, widest first.
func Levels() []CapabilityLevel {
	out := make([]CapabilityLevel, len(capabilityLevels))
	copy(out, capabilityLevels)
	return out
}

// clampLevel maps a persisted index onto a valid ladder position.
func clampLevel(idx int) int {
	if idx < 0 {
		return 0
	}
	if idx >= len(capabilityLevels) {
		return len(capabilityLevels) - 1
	}
	return idx
}

// narrowLevel steps one level down the ladder. The second result is
// false when idx was already the narrowest level, in which case the
// index is returned unchanged and the caller must fall back to a forced
// credential refresh instead.
func narrowLevel(idx int) (int, bool) {
	if idx >= len(capabilityLevels)-1 {
		return idx, false
	}
	return idx + 1, true
}
