package licensing

import (
	"fmt"
	"strings"

	"kassa/backend/internal/domain"
)

const (
	PlanBasic = "basic"
	PlanPro   = "pro"
)

const (
	ModulePOS     = "pos"
	ModuleShifts  = "shifts"
	ModuleLedger  = "ledger"
	ModuleReports = "reports"
	ModuleAudit   = "audit"
)

const (
	FeatureBogo          = "bogo"
	FeatureCoupons       = "coupons"
	FeatureVolumePricing = "volume_pricing"
)

const (
	LimitCurrencies = "currencies"
	LimitUsers      = "users"
)

// Unlimited marks a limit the plan does not cap.
const Unlimited = -1

type plan struct {
	modules  map[string]bool
	features map[string]bool
	limits   map[string]int
}

var plans = map[string]plan{
	PlanBasic: {
		modules:  set(ModulePOS, ModuleShifts, ModuleLedger),
		features: set(),
		// Base currency plus one foreign currency.
		limits: map[string]int{LimitCurrencies: 2, LimitUsers: 3},
	},
	PlanPro: {
		modules:  set(ModulePOS, ModuleShifts, ModuleLedger, ModuleReports, ModuleAudit),
		features: set(FeatureBogo, FeatureCoupons, FeatureVolumePricing),
		limits:   map[string]int{LimitCurrencies: Unlimited, LimitUsers: Unlimited},
	},
}

func set(keys ...string) map[string]bool {
	out := make(map[string]bool, len(keys))
	for _, k := range keys {
		out[k] = true
	}
	return out
}

// Gate answers capability questions for one plan. It is read-only and safe
// for concurrent use.
type Gate struct {
	name string
	plan plan
}

func NewGate(name string) (*Gate, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	p, ok := plans[name]
	if !ok {
		return nil, fmt.Errorf("%w: unknown plan %q", domain.ErrValidation, name)
	}
	return &Gate{name: name, plan: p}, nil
}

func (g *Gate) Plan() string {
	return g.name
}

func (g *Gate) CanAccessModule(view string) bool {
	return g.plan.modules[view]
}

func (g *Gate) HasFeature(key string) bool {
	return g.plan.features[key]
}

// IsWithinLimit reports whether holding count items of key is allowed.
// Unknown keys are uncapped.
func (g *Gate) IsWithinLimit(key string, count int) bool {
	limit, ok := g.plan.limits[key]
	if !ok || limit == Unlimited {
		return true
	}
	return count <= limit
}

// SoftLocked reports whether the item at zero-based position index is beyond
// the plan limit. Locked items are kept but not usable.
func (g *Gate) SoftLocked(key string, index int) bool {
	return !g.IsWithinLimit(key, index+1)
}

// RequireFeature returns ErrFeatureUnavailable when the plan lacks key.
func (g *Gate) RequireFeature(key string) error {
	if !g.HasFeature(key) {
		return fmt.Errorf("%w: %s", domain.ErrFeatureUnavailable, key)
	}
	return nil
}

// RequireModule returns ErrFeatureUnavailable when the plan lacks view.
func (g *Gate) RequireModule(view string) error {
	if !g.CanAccessModule(view) {
		return fmt.Errorf("%w: module %s", domain.ErrFeatureUnavailable, view)
	}
	return nil
}

// RequireLimit returns ErrLimitReached when count exceeds the limit for key.
func (g *Gate) RequireLimit(key string, count int) error {
	if !g.IsWithinLimit(key, count) {
		return fmt.Errorf("%w: %s", domain.ErrLimitReached, key)
	}
	return nil
}
