package authz

import "strings"

type Role string

const (
	Owner     Role = "owner"
	Admin     Role = "admin"
	Moderator Role = "moderator"
	Member    Role = "member"
	Guest     Role = "guest"
)

type Action string

const (
	Mute          Action = "mute"
	Kick          Action = "kick"
	Block         Action = "block"
	Promote       Action = "promote"
	ApproveMic    Action = "approveMic"
	RemoveSpeaker Action = "removeSpeaker"
)

// ParseRole maps a stored role string onto the closed role set. Anything
// unrecognised is a guest.
func ParseRole(s string) Role {
	switch r := Role(strings.ToLower(strings.TrimSpace(s))); r {
	case Owner, Admin, Moderator, Member, Guest:
		return r
	case "user":
		return Member
	}
	return Guest
}

var grants = map[Role]map[Action]bool{
	Owner: {
		Mute: true, Kick: true, Block: true, Promote: true,
		ApproveMic: true, RemoveSpeaker: true,
	},
	Admin: {
		Mute: true, Kick: true, Block: true,
		ApproveMic: true, RemoveSpeaker: true,
	},
	Moderator: {
		Mute: true, Kick: true,
		ApproveMic: true, RemoveSpeaker: true,
	},
}

// CanModerate reports whether actorRole may perform action.
func CanModerate(actorRole Role, action Action) bool {
	return grants[actorRole][action]
}
