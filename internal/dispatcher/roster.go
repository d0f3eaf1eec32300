package dispatcher

import (
	"regexp"
	"strings"

	"chatpresence/internal/presence"
)

// placeholderName matches names clients fall back to before a profile has
// loaded. Such entries are not shown in rosters.
var placeholderName = regexp.MustCompile(`(?i)^(user\s*#?\s*\d*|guest\s*#?\s*\d*|unknown|anonymous|null|undefined|-)$`)

func validDisplayName(name string) bool {
	name = strings.TrimSpace(name)
	return name != "" && !placeholderName.MatchString(name)
}

// filterRoster keeps entries with an id and a real display name, once per
// user, in the order given.
func filterRoster(entries []presence.Entry) []UserView {
	out := make([]UserView, 0, len(entries))
	seen := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		if e.UserID == "" || !validDisplayName(e.DisplayName) {
			continue
		}
		if _, dup := seen[e.UserID]; dup {
			continue
		}
		seen[e.UserID] = struct{}{}
		out = append(out, view(e))
	}
	return out
}

func view(e presence.Entry) UserView {
	return UserView{
		ID:          e.UserID,
		DisplayName: strings.TrimSpace(e.DisplayName),
		Role:        e.Role,
		Muted:       e.Muted,
	}
}
