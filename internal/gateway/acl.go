package gateway

import "strings"

// Role names.
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// rolePrefixes maps a role to the channel first-segments it may subscribe
// to. Admin is a strict superset of user.
var rolePrefixes = map[string][]string{
	RoleUser:  {"market", "indicators"},
	RoleAdmin: {"market", "indicators", "engine", "trading"},
}

// allowedPattern reports whether a role may subscribe to a pattern. The
// first segment must be a literal from the role's allow list; a wildcard
// first segment would bypass the ACL and is always refused.
func allowedPattern(role, pattern string) bool {
	first, _, _ := strings.Cut(pattern, ":")
	if first == "*" || first == "**" {
		return false
	}
	for _, p := range rolePrefixes[role] {
		if first == p {
			return true
		}
	}
	return false
}
