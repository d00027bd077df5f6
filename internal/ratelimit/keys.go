package ratelimit

import "time"

const AnonymousTier = "anonymous"

func TenantKey(tenantID string) string {
	return "ratelimit:tenant:" + tenantID
}

func IPKey(ip string) string {
	return "ratelimit:ip:" + ip
}

type Rule struct {
	MaxRequests int
	Window      time.Duration
}

// Tiers maps a tenant tier name to its limit.
type Tiers map[string]Rule

// Rule returns the limit for tier. Unknown tiers get the anonymous limit.
func (t Tiers) Rule(tier string) Rule {
	if rule, ok := t[tier]; ok {
		return rule
	}

	return t[AnonymousTier]
}
