// Package admission decides whether a request may proceed, using a sliding
// window log per (identity, endpoint class) key.
package admission

import (
	"strings"
	"time"

	"github.com/dmitrijs2005/gatekeeper/internal/server/config"
)

// Class groups endpoints that share a rate limit.
type Class string

const (
	ClassRegister      Class = "register"
	ClassLogin         Class = "login"
	ClassRefresh       Class = "refresh"
	ClassPasswordReset Class = "password_reset"
	ClassAPI           Class = "api"
	ClassPublic        Class = "public"
	ClassAdmin         Class = "admin"
	ClassHealth        Class = "health"
)

// ParseClass maps a name onto a Class; unknown names are ClassAPI.
func ParseClass(s string) Class {
	c := Class(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := DefaultPolicies()[c]; ok {
		return c
	}
	return ClassAPI
}

// Policy is the limit applied to one class. FailOpen admits requests when
// the counter store cannot be reached.
type Policy struct {
	Limit    int
	Window   time.Duration
	FailOpen bool
}

type Policies map[Class]Policy

// DefaultPolicies returns the built-in class table. Classes guarding
// credentials fail closed.
func DefaultPolicies() Policies {
	return Policies{
		ClassRegister:      {Limit: 3, Window: time.Hour},
		ClassPasswordReset: {Limit: 3, Window: time.Hour},
		ClassLogin:         {Limit: 5, Window: time.Minute},
		ClassRefresh:       {Limit: 20, Window: time.Minute},
		ClassAdmin:         {Limit: 50, Window: time.Minute},
		ClassAPI:           {Limit: 100, Window: time.Minute, FailOpen: true},
		ClassPublic:        {Limit: 1000, Window: time.Minute, FailOpen: true},
		ClassHealth:        {Limit: 300, Window: time.Minute, FailOpen: true},
	}
}

// PoliciesFromConfig overlays configured class limits on the defaults.
// Zero fields keep the default value.
func PoliciesFromConfig(classes map[string]config.ClassLimit) Policies {
	p := DefaultPolicies()
	for name, cl := range classes {
		c := Class(strings.ToLower(name))
		pol := p[c]
		if cl.Limit > 0 {
			pol.Limit = cl.Limit
		}
		if cl.Window > 0 {
			pol.Window = cl.Window
		}
		if cl.FailOpen != nil {
			pol.FailOpen = *cl.FailOpen
		}
		if pol.Limit > 0 && pol.Window > 0 {
			p[c] = pol
		}
	}
	return p
}

func (p Policies) lookup(c Class) (Class, Policy) {
	if pol, ok := p[c]; ok {
		return c, pol
	}
	if pol, ok := p[ClassAPI]; ok {
		return ClassAPI, pol
	}
	return ClassAPI, DefaultPolicies()[ClassAPI]
}
