package ratelimit

import (
	"log"
	"time"
)

// Category classifies a route for policy lookup.
type Category string

const (
	CategoryGeneral       Category = "general"
	CategoryAnalysis      Category = "analysis"
	CategoryBatch         Category = "batch"
	CategoryAuth          Category = "auth"
	CategoryScan          Category = "scan"
	CategoryEmail         Category = "email"
	CategoryPasswordReset Category = "password-reset"
	CategoryRegistration  Category = "registration"
)

// ScopesKey reports whether callers get an independent budget per
// category, in which case the category name is appended to the caller key.
func (c Category) ScopesKey() bool {
	switch c {
	case CategoryAuth, CategoryScan, CategoryPasswordReset, CategoryRegistration:
		return true
	}
	return false
}

// Override is an ad-hoc per-call policy. The override window doubles as
// the block duration.
type Override struct {
	Points int
	Window time.Duration
}

// permissiveDefault is returned for unknown categories: the request goes
// through, misconfiguration is a warning, not an outage.
var permissiveDefault = Policy{Points: 1000, Window: time.Minute, Block: time.Second}

// Registry maps route categories to their default policies. Populated at
// startup; not safe for concurrent mutation afterwards.
type Registry struct {
	policies map[Category]Policy
}

func NewRegistry() *Registry {
	return &Registry{
		policies: map[Category]Policy{
			CategoryGeneral:       {Points: 100, Window: time.Minute, Block: time.Minute},
			CategoryAnalysis:      {Points: 20, Window: time.Minute, Block: 2 * time.Minute},
			CategoryBatch:         {Points: 5, Window: 5 * time.Minute, Block: 10 * time.Minute},
			CategoryAuth:          {Points: 10, Window: time.Minute, Block: 5 * time.Minute},
			CategoryScan:          {Points: 3, Window: time.Hour, Block: time.Hour},
			CategoryEmail:         {Points: 5, Window: time.Hour, Block: time.Hour},
			CategoryPasswordReset: {Points: 3, Window: time.Hour, Block: time.Hour},
			CategoryRegistration:  {Points: 5, Window: time.Hour, Block: time.Hour},
		},
	}
}

// SetPolicy installs or replaces a category default. Invalid values are
// clamped so a bad config entry cannot produce a zero-point policy.
func (r *Registry) SetPolicy(c Category, p Policy) {
	if p.Points < 1 {
		p.Points = 1
	}
	if p.Window < time.Second {
		p.Window = time.Second
	}
	if p.Block < time.Second {
		p.Block = time.Second
	}
	r.policies[c] = p
}

// Resolve returns the policy for a category, or an ad-hoc policy when an
// override is supplied. Unknown categories resolve to a permissive
// default rather than failing the request.
func (r *Registry) Resolve(c Category, ov *Override) Policy {
	if ov != nil {
		p := Policy{Points: ov.Points, Window: ov.Window, Block: ov.Window}
		if p.Points < 1 {
			p.Points = 1
		}
		if p.Window < time.Second {
			p.Window = time.Second
			p.Block = time.Second
		}
		return p
	}

	p, ok := r.policies[c]
	if !ok {
		log.Printf("ratelimit: no policy for category %q, using permissive default", c)
		return permissiveDefault
	}
	return p
}
