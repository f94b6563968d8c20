// Package plan holds the fixed catalog of subscription plans IvyLab sells.
//
// Plans are not stored locally. The billing provider owns products and
// recurring prices; the catalog only says what those should look like so they
// can be found or created on demand.
package plan

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ivylab/ivylab/types"
)

// ID names a plan. It is the value stored in a subscription record.
type ID string

const (
	Weekly  ID = "weekly"
	Monthly ID = "monthly"
)

// Interval is the recurring billing interval of a plan.
type Interval string

const (
	IntervalWeek  Interval = "week"
	IntervalMonth Interval = "month"
)

// Plan describes one sellable subscription.
type Plan struct {
	ID          ID          `json:"id"`
	ProductName string      `json:"product_name"`
	Description string      `json:"description"`
	Interval    Interval    `json:"interval"`
	Price       types.Money `json:"price"`
}

// Parse validates a user-supplied plan name.
func Parse(s string) (ID, error) {
	switch ID(strings.ToLower(strings.TrimSpace(s))) {
	case Weekly:
		return Weekly, nil
	case Monthly:
		return Monthly, nil
	default:
		return "", fmt.Errorf("plan: unknown plan %q", s)
	}
}

// Catalog is the set of plans offered by one deployment.
type Catalog struct {
	plans map[ID]Plan
}

// Prices overrides the default amounts in cents.
type Prices struct {
	WeeklyCents  int64 `json:"weekly_cents"  mapstructure:"weekly_cents"  yaml:"weekly_cents"`
	MonthlyCents int64 `json:"monthly_cents" mapstructure:"monthly_cents" yaml:"monthly_cents"`
}

// DefaultPrices returns the standard pricing.
func DefaultPrices() Prices {
	return Prices{WeeklyCents: 999, MonthlyCents: 2499}
}

// NewCatalog builds the weekly and monthly plans. Zero amounts fall back to
// DefaultPrices.
func NewCatalog(p Prices) *Catalog {
	defaults := DefaultPrices()
	if p.WeeklyCents <= 0 {
		p.WeeklyCents = defaults.WeeklyCents
	}
	if p.MonthlyCents <= 0 {
		p.MonthlyCents = defaults.MonthlyCents
	}

	return &Catalog{plans: map[ID]Plan{
		Weekly: {
			ID:          Weekly,
			ProductName: "IvyLab Weekly Subscription",
			Description: "Weekly access to IvyLab essay analysis",
			Interval:    IntervalWeek,
			Price:       types.USD(p.WeeklyCents),
		},
		Monthly: {
			ID:          Monthly,
			ProductName: "IvyLab Monthly Subscription",
			Description: "Monthly access to IvyLab essay analysis",
			Interval:    IntervalMonth,
			Price:       types.USD(p.MonthlyCents),
		},
	}}
}

// Get returns the plan with the given ID.
func (c *Catalog) Get(planID ID) (Plan, bool) {
	p, ok := c.plans[planID]
	return p, ok
}

// All returns every plan ordered by ID.
func (c *Catalog) All() []Plan {
	out := make([]Plan, 0, len(c.plans))
	for _, p := range c.plans {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ForInterval maps a provider billing interval back to a plan.
func (c *Catalog) ForInterval(interval string) (ID, bool) {
	for _, p := range c.plans {
		if string(p.Interval) == interval {
			return p.ID, true
		}
	}
	return "", false
}
