package pricing

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"kassa/backend/internal/domain"
)

// Resolution is the effective unit price of one cart line, in base currency.
type Resolution struct {
	Name   string
	Price  decimal.Decimal
	Cost   decimal.Decimal
	RuleID string
}

// ResolveUnitPrice picks the active rule matching the line's target,
// quantity and time, falling back to the catalog price. Variant lines only
// match rules aimed at the variant.
func ResolveUnitPrice(p domain.Product, variantID string, qty int, now time.Time) (Resolution, error) {
	if qty < 1 {
		return Resolution{}, domain.ErrInvalidQuantity
	}
	res := Resolution{Name: p.Name, Price: p.Price, Cost: p.Cost}
	targetID := p.ID
	if variantID != "" {
		v, ok := p.Variant(variantID)
		if !ok {
			return Resolution{}, fmt.Errorf("%w: variant %s of %s", domain.ErrNotFound, variantID, p.ID)
		}
		res = Resolution{Name: v.Name, Price: v.Price, Cost: v.Cost}
		targetID = v.ID
	}

	if matches := MatchRules(p.PricingRules, targetID, qty, now); len(matches) > 0 {
		res.Price = matches[0].NewPrice
		res.RuleID = matches[0].ID
	}
	return res, nil
}

// MatchRules returns every active rule for targetID covering qty at now.
// Creation-time overlap checks keep the result to at most one rule.
func MatchRules(rules []domain.PricingRule, targetID string, qty int, now time.Time) []domain.PricingRule {
	var out []domain.PricingRule
	for _, r := range rules {
		if !r.Active || r.TargetID != targetID {
			continue
		}
		if qty < r.MinQty || qty > r.MaxQty {
			continue
		}
		if !windowContains(r.StartDate, r.EndDate, now) {
			continue
		}
		out = append(out, r)
	}
	return out
}

// ValidateRule checks a candidate against the rules already on a product.
func ValidateRule(existing []domain.PricingRule, candidate domain.PricingRule) error {
	if candidate.TargetID == "" {
		return fmt.Errorf("%w: target required", domain.ErrInvalidRule)
	}
	if candidate.MinQty < 1 || candidate.MinQty > candidate.MaxQty {
		return fmt.Errorf("%w: quantity range %d-%d", domain.ErrInvalidRule, candidate.MinQty, candidate.MaxQty)
	}
	if !candidate.NewPrice.IsPositive() {
		return fmt.Errorf("%w: price must be positive", domain.ErrInvalidRule)
	}
	if candidate.StartDate != nil && candidate.EndDate != nil && candidate.EndDate.Before(*candidate.StartDate) {
		return fmt.Errorf("%w: end date before start date", domain.ErrInvalidRule)
	}
	if !candidate.Active {
		return nil
	}
	for _, r := range existing {
		if r.ID == candidate.ID || !r.Active || r.TargetID != candidate.TargetID {
			continue
		}
		if RulesOverlap(r, candidate) {
			return fmt.Errorf("%w: conflicts with %s", domain.ErrRuleOverlap, r.ID)
		}
	}
	return nil
}

// AddRule validates rule against p and returns p with the rule attached.
func AddRule(p domain.Product, rule domain.PricingRule) (domain.Product, error) {
	if rule.TargetID != p.ID {
		if _, ok := p.Variant(rule.TargetID); !ok {
			return domain.Product{}, fmt.Errorf("%w: target %s is not %s or one of its variants", domain.ErrInvalidRule, rule.TargetID, p.ID)
		}
	}
	if err := ValidateRule(p.PricingRules, rule); err != nil {
		return domain.Product{}, err
	}
	p.PricingRules = append(p.PricingRules, rule)
	return p, nil
}

// RulesOverlap reports whether both the quantity ranges and the time ranges
// of a and b intersect.
func RulesOverlap(a domain.PricingRule, b domain.PricingRule) bool {
	if a.MinQty > b.MaxQty || b.MinQty > a.MaxQty {
		return false
	}
	return windowsIntersect(a.StartDate, a.EndDate, b.StartDate, b.EndDate)
}

func windowContains(start *time.Time, end *time.Time, now time.Time) bool {
	if start != nil && now.Before(*start) {
		return false
	}
	if end != nil && now.After(*end) {
		return false
	}
	return true
}

func windowsIntersect(aStart, aEnd, bStart, bEnd *time.Time) bool {
	if aStart != nil && bEnd != nil && aStart.After(*bEnd) {
		return false
	}
	if bStart != nil && aEnd != nil && bStart.After(*aEnd) {
		return false
	}
	return true
}
