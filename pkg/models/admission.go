package models

// TierLimits bounds a tier's request and token consumption per fixed window.
type TierLimits struct {
	RequestsPerHour int64
	RequestsPerDay  int64
	TokensPerDay    int64
}

var tierLimits = map[Tier]TierLimits{
	TierAnonymous:     {RequestsPerHour: 20, RequestsPerDay: 50, TokensPerDay: 10000},
	TierAuthenticated: {RequestsPerHour: 100, RequestsPerDay: 500, TokensPerDay: 100000},
	TierPro:           {RequestsPerHour: 1000, RequestsPerDay: 5000, TokensPerDay: 1000000},
}

// LimitsFor returns the limits for a tier. Unknown tiers get anonymous limits.
func LimitsFor(t Tier) TierLimits {
	if l, ok := tierLimits[t]; ok {
		return l
	}
	return tierLimits[TierAnonymous]
}
