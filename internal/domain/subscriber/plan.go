package subscriber

import (
	"github.com/meterly/backend/internal/domain/shared"
)

// PlanType identifies a billing plan
type PlanType string

const (
	PlanMonthly PlanType = "monthly"
	PlanAnnual  PlanType = "annual"
)

// DefaultMonthlyQuota is the number of metered actions allowed per calendar month
const DefaultMonthlyQuota = 50

// Plan describes a purchasable plan
type Plan struct {
	Type       PlanType
	PriceRef   string // processor price identifier
	PriceMinor int64  // price in minor currency units
	Quota      int64  // metered actions per calendar month
}

// ErrUnknownPlan is returned for plan identifiers outside the catalogue
var ErrUnknownPlan = shared.ErrValidation.WithMessage("plan must be one of: monthly, annual")

// Catalog resolves plan identifiers. It always holds exactly the monthly and annual plans.
type Catalog struct {
	monthly Plan
	annual  Plan
}

// NewCatalog builds a catalogue from the two configured plans
func NewCatalog(monthly, annual Plan) (*Catalog, error) {
	monthly.Type = PlanMonthly
	annual.Type = PlanAnnual
	for _, p := range []Plan{monthly, annual} {
		if p.PriceRef == "" {
			return nil, shared.ErrValidation.WithMessage("price reference missing for plan " + string(p.Type))
		}
		if p.PriceMinor <= 0 {
			return nil, shared.ErrValidation.WithMessage("price must be positive for plan " + string(p.Type))
		}
		if p.Quota <= 0 {
			return nil, shared.ErrValidation.WithMessage("quota must be positive for plan " + string(p.Type))
		}
	}
	return &Catalog{monthly: monthly, annual: annual}, nil
}

// Resolve maps a plan identifier to its plan
func (c *Catalog) Resolve(plan PlanType) (Plan, error) {
	switch plan {
	case PlanMonthly:
		return c.monthly, nil
	case PlanAnnual:
		return c.annual, nil
	default:
		return Plan{}, ErrUnknownPlan
	}
}

// QuotaFor returns the monthly quota for a plan, falling back to the default
func (c *Catalog) QuotaFor(plan PlanType) int64 {
	p, err := c.Resolve(plan)
	if err != nil {
		return DefaultMonthlyQuota
	}
	return p.Quota
}

// Plans lists the catalogue in display order
func (c *Catalog) Plans() []Plan {
	return []Plan{c.monthly, c.annual}
}
