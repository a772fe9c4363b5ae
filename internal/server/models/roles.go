package models

import (
	"slices"
	"strings"
)

const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// JoinRoles encodes roles for a TEXT column.
func JoinRoles(roles []string) string {
	return strings.Join(roles, ",")
}

// SplitRoles is the inverse of JoinRoles; empty input yields nil.
func SplitRoles(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// HasRole reports whether role is among roles.
func HasRole(roles []string, role string) bool {
	return slices.Contains(roles, role)
}
