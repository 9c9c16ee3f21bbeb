// Package plans is the single source of truth for subscription plans: the
// canonical plan identifiers, the mapping from provider-side price ids and
// plan-name variants onto them, the expiry offset per billing interval, and
// the feature limits consulted by the UI gating layer. Both the webhook
// reconciler and the API read from here; no other table of plan data exists
// in the codebase.
package plans

import "time"

// Plan is a canonical plan identifier. Any plan string written to a user
// document must be one of the four constants below.
type Plan string

const (
	Free    Plan = "free"
	Basic   Plan = "basic"
	Pro     Plan = "pro"
	Premium Plan = "premium"
)

// Fallback is the plan applied when an incoming plan identifier is not in the
// mapping table. Granting a paid tier on an unrecognized identifier is the
// documented production behavior; callers log the raw identifier at Warn so
// the case is visible to operators.
const Fallback = Pro

// Unlimited marks a numeric limit with no cap.
const Unlimited = -1

// Valid reports whether p is one of the four canonical plans.
func Valid(p Plan) bool {
	switch p {
	case Free, Basic, Pro, Premium:
		return true
	}
	return false
}

// planAliases maps provider-side price ids and plan-name variants to
// canonical plans. Stripe price ids are deployment config; the entries here
// cover the known sandbox/live ids plus the name spellings seen in checkout
// metadata and Flutterwave tx_ref prefixes.
var planAliases = map[string]Plan{
	"basic":   Basic,
	"pro":     Pro,
	"premium": Premium,
	"Basic":   Basic,
	"Pro":     Pro,
	"Premium": Premium,

	"basic_weekly":   Basic,
	"pro_monthly":    Pro,
	"premium_yearly": Premium,

	"price_basic_weekly":   Basic,
	"price_pro_monthly":    Pro,
	"price_premium_yearly": Premium,
}

// Normalize maps a provider-side plan identifier to a canonical plan.
// ok is false when the identifier is unknown; callers decide whether to apply
// Fallback (the reconciler does) or reject.
func Normalize(identifier string) (p Plan, ok bool) {
	p, ok = planAliases[identifier]
	return p, ok
}

// ExpiryFor returns the plan expiry computed from now: basic +7 days,
// pro +1 month, premium +1 year. Free (and anything unrecognized) has no
// expiry and returns nil.
func ExpiryFor(p Plan, now time.Time) *time.Time {
	var t time.Time
	switch p {
	case Basic:
		t = now.AddDate(0, 0, 7)
	case Pro:
		t = now.AddDate(0, 1, 0)
	case Premium:
		t = now.AddDate(1, 0, 0)
	default:
		return nil
	}
	return &t
}

// Limits gates feature visibility per plan. Consumed read-only by the UI
// layer via GET /api/v1/plans and by nothing else server-side.
type Limits struct {
	MaxLinks             int  `json:"maxLinks"`
	AnalyticsMaxDays     int  `json:"analyticsMaxDays"`
	LinkPerformance      bool `json:"linkPerformance"`
	CountriesDevices     bool `json:"countriesDevices"`
	AvgTime              bool `json:"avgTime"`
	BounceRate           bool `json:"bounceRate"`
	TrafficSources       bool `json:"trafficSources"`
	PeriodComparison     bool `json:"periodComparison"`
	PeakHours            bool `json:"peakHours"`
	QRCodeCustom         bool `json:"qrCodeCustom"`
	CustomThemes         bool `json:"customThemes"`
	RemoveBranding       bool `json:"removeBranding"`
	PrioritySupport      bool `json:"prioritySupport"`
	UsernameChangesLimit int  `json:"usernameChangesLimit"`
}

// Info describes one plan for the pricing/catalog endpoint.
type Info struct {
	ID       Plan    `json:"id"`
	Name     string  `json:"name"`
	Price    float64 `json:"price"`
	Currency string  `json:"currency"`
	Interval string  `json:"interval,omitempty"` // "week" | "month" | "year"
	Limits   Limits  `json:"limits"`
}

var catalog = map[Plan]Info{
	Free: {
		ID: Free, Name: "Free", Price: 0, Currency: "EUR",
		Limits: Limits{
			MaxLinks:             Unlimited,
			AnalyticsMaxDays:     7,
			UsernameChangesLimit: 1,
		},
	},
	Basic: {
		ID: Basic, Name: "Basic", Price: 1.99, Currency: "EUR", Interval: "week",
		Limits: Limits{
			MaxLinks:             Unlimited,
			AnalyticsMaxDays:     14,
			LinkPerformance:      true,
			UsernameChangesLimit: 2,
		},
	},
	Pro: {
		ID: Pro, Name: "Pro", Price: 3.99, Currency: "EUR", Interval: "month",
		Limits: Limits{
			MaxLinks:             Unlimited,
			AnalyticsMaxDays:     30,
			LinkPerformance:      true,
			CountriesDevices:     true,
			AvgTime:              true,
			BounceRate:           true,
			TrafficSources:       true,
			PeriodComparison:     true,
			PeakHours:            true,
			QRCodeCustom:         true,
			CustomThemes:         true,
			RemoveBranding:       true,
			PrioritySupport:      true,
			UsernameChangesLimit: 5,
		},
	},
	Premium: {
		ID: Premium, Name: "Premium", Price: 39.99, Currency: "EUR", Interval: "year",
		Limits: Limits{
			MaxLinks:             Unlimited,
			AnalyticsMaxDays:     365,
			LinkPerformance:      true,
			CountriesDevices:     true,
			AvgTime:              true,
			BounceRate:           true,
			TrafficSources:       true,
			PeriodComparison:     true,
			PeakHours:            true,
			QRCodeCustom:         true,
			CustomThemes:         true,
			RemoveBranding:       true,
			PrioritySupport:      true,
			UsernameChangesLimit: Unlimited,
		},
	},
}

// Get returns the catalog entry for p, defaulting to Free for anything
// unrecognized so callers always get a usable limits set.
func Get(p Plan) Info {
	if info, ok := catalog[p]; ok {
		return info
	}
	return catalog[Free]
}

// LimitsFor is shorthand for Get(p).Limits.
func LimitsFor(p Plan) Limits {
	return Get(p).Limits
}

// All returns the catalog in display order.
func All() []Info {
	return []Info{catalog[Free], catalog[Basic], catalog[Pro], catalog[Premium]}
}
