package ratelimit

import "strings"

// TierContext carries the caller's subscription state, resolved once per
// request from the tenant's plan record.
type TierContext struct {
	Plan        string
	TrialActive bool
}

var planMultipliers = map[string]float64{
	"basic":      1,
	"pro":        2,
	"enterprise": 5,
}

// Adjust rescales a base policy's point budget by the caller's tier: an
// active trial halves it, paid tiers multiply it. The result is a fresh
// value; the base policy is never touched. Window and block durations are
// unchanged, and the adjusted budget never drops below one point.
func Adjust(base Policy, tc TierContext) Policy {
	multiplier := 1.0
	if tc.TrialActive {
		multiplier = 0.5
	} else if m, ok := planMultipliers[strings.ToLower(tc.Plan)]; ok {
		multiplier = m
	}

	adjusted := base
	adjusted.Points = int(float64(base.Points) * multiplier)
	if adjusted.Points < 1 {
		adjusted.Points = 1
	}
	return adjusted
}
