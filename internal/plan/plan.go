// Package plan maps provider prices to internal subscription plans.
package plan

import "strings"

// Plan is the internal subscription tier.
type Plan string

const (
	Free         Plan = "free"
	Essential    Plan = "essential"
	Professional Plan = "professional"
	Clinic       Plan = "clinic"
)

// Parse returns the plan for s, falling back to Free for unknown values.
func Parse(s string) Plan {
	switch Plan(strings.ToLower(strings.TrimSpace(s))) {
	case Essential:
		return Essential
	case Professional:
		return Professional
	case Clinic:
		return Clinic
	default:
		return Free
	}
}

func (p Plan) String() string { return string(p) }

// Paid reports whether the plan requires an active subscription.
func (p Plan) Paid() bool { return p != Free && p != "" }
