package ratelimit

import "strings"

// BuildKey builds the state key for one (scope, rule, identifier) triple.
// Keys embed scope and rule so state never leaks across rules or scopes.
func BuildKey(scope Scope, ruleID, identifier string) string {
	if strings.TrimSpace(ruleID) == "" || strings.TrimSpace(identifier) == "" {
		return ""
	}
	return string(scope) + "|" + ruleID + "|" + identifier
}

// KeyMatches reports whether a state key belongs to the given identifier,
// optionally narrowed to one scope. An empty scope matches every scope.
func KeyMatches(key string, scope Scope, identifier string) bool {
	parts := strings.SplitN(key, "|", 3)
	if len(parts) != 3 {
		return false
	}
	if scope != "" && parts[0] != string(scope) {
		return false
	}
	return parts[2] == identifier
}
