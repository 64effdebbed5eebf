package subscription

import (
	"sort"
	"strings"
)

type PlanName string

const (
	PlanStarter   PlanName = "starter"
	PlanBusiness  PlanName = "business"
	PlanCorporate PlanName = "corporate"
)

// UnlimitedJobs is the corporate sentinel limit.
const UnlimitedJobs = 999999

type Plan struct {
	Name     PlanName `json:"name"`
	JobLimit int      `json:"jobLimit"`
	PriceGEL int      `json:"price"`
}

var catalog = map[PlanName]Plan{
	PlanStarter:   {Name: PlanStarter, JobLimit: 2, PriceGEL: 20},
	PlanBusiness:  {Name: PlanBusiness, JobLimit: 10, PriceGEL: 50},
	PlanCorporate: {Name: PlanCorporate, JobLimit: UnlimitedJobs, PriceGEL: 100},
}

func LookupPlan(name string) (Plan, error) {
	p, ok := catalog[PlanName(strings.ToLower(strings.TrimSpace(name)))]
	if !ok {
		return Plan{}, ErrUnknownPlan
	}
	return p, nil
}

// Plans returns the catalog ordered by price.
func Plans() []Plan {
	out := make([]Plan, 0, len(catalog))
	for _, p := range catalog {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PriceGEL < out[j].PriceGEL })
	return out
}
