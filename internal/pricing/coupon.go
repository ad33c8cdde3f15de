package pricing

import (
	"fmt"
	"slices"
	"time"

	"github.com/shopspring/decimal"

	"kassa/backend/internal/domain"
	"kassa/backend/internal/fx"
)

// CouponCheck is the cart context a coupon is validated against.
type CouponCheck struct {
	Subtotal   decimal.Decimal
	Currency   string
	Client     *domain.Client
	ProductIDs []string
	Now        time.Time
}

// ValidateCoupon runs the coupon predicates in order and stops at the first
// failing one.
func ValidateCoupon(c domain.Coupon, in CouponCheck, conv *fx.Converter) error {
	if c.Suspended {
		return fmt.Errorf("%w: %s", domain.ErrCouponSuspended, c.Code)
	}
	if in.Now.Before(c.StartDate) || in.Now.After(c.EndDate) {
		return fmt.Errorf("%w: %s", domain.ErrCouponOutsideWindow, c.Code)
	}
	if c.UsageLimit > 0 && c.CurrentUsages >= c.UsageLimit {
		return fmt.Errorf("%w: %s", domain.ErrCouponExhausted, c.Code)
	}
	minimum, err := conv.FromBase(c.MinInvoiceAmount, in.Currency)
	if err != nil {
		return err
	}
	if in.Subtotal.LessThan(minimum) {
		return fmt.Errorf("%w: needs %s %s", domain.ErrCouponMinInvoice, fx.Round2(minimum).StringFixed(2), in.Currency)
	}
	if !targetMatches(c, in.Client) {
		return fmt.Errorf("%w: %s", domain.ErrCouponTargetMismatch, c.Code)
	}
	if len(c.ProductIDs) > 0 && !slices.ContainsFunc(in.ProductIDs, func(id string) bool {
		return slices.Contains(c.ProductIDs, id)
	}) {
		return fmt.Errorf("%w: %s", domain.ErrCouponProductMismatch, c.Code)
	}
	return nil
}

func targetMatches(c domain.Coupon, client *domain.Client) bool {
	switch c.TargetType {
	case domain.TargetGeneral, "":
		return true
	case domain.TargetGroup:
		return client != nil && client.GroupID != "" && client.GroupID == c.TargetID
	case domain.TargetClient:
		return client != nil && client.ID == c.TargetID
	}
	return false
}

// CouponDiscount prices a validated coupon against a subtotal in the sale
// currency. The result never exceeds the subtotal.
func CouponDiscount(c domain.Coupon, subtotal decimal.Decimal, currency string, conv *fx.Converter) (decimal.Decimal, error) {
	var discount decimal.Decimal
	switch c.Type {
	case domain.CouponPercentage:
		discount = subtotal.Mul(c.Value).Div(hundred)
	case domain.CouponFixed:
		converted, err := conv.FromBase(c.Value, currency)
		if err != nil {
			return decimal.Zero, err
		}
		discount = converted
	default:
		return decimal.Zero, fmt.Errorf("%w: coupon type %q", domain.ErrInvalidCoupon, c.Type)
	}
	return decimal.Min(discount, subtotal), nil
}

// CheckCoupon validates the shape of a coupon definition.
func CheckCoupon(c domain.Coupon) error {
	if c.Code == "" {
		return fmt.Errorf("%w: code required", domain.ErrInvalidCoupon)
	}
	if !c.Value.IsPositive() {
		return fmt.Errorf("%w: value must be positive", domain.ErrInvalidCoupon)
	}
	if c.Type == domain.CouponPercentage && c.Value.GreaterThan(hundred) {
		return fmt.Errorf("%w: percentage above 100", domain.ErrInvalidCoupon)
	}
	if c.Type != domain.CouponPercentage && c.Type != domain.CouponFixed {
		return fmt.Errorf("%w: coupon type %q", domain.ErrInvalidCoupon, c.Type)
	}
	if c.EndDate.Before(c.StartDate) {
		return fmt.Errorf("%w: end date before start date", domain.ErrInvalidCoupon)
	}
	if c.UsageLimit < 0 || c.MinInvoiceAmount.IsNegative() {
		return fmt.Errorf("%w: negative limits", domain.ErrInvalidCoupon)
	}
	switch c.TargetType {
	case domain.TargetGeneral:
	case domain.TargetGroup, domain.TargetClient:
		if c.TargetID == "" {
			return fmt.Errorf("%w: target id required", domain.ErrInvalidCoupon)
		}
	default:
		return fmt.Errorf("%w: target type %q", domain.ErrInvalidCoupon, c.TargetType)
	}
	return nil
}

// CheckOffer validates the shape of a BOGO offer definition.
func CheckOffer(o domain.BogoOffer) error {
	if o.BuyProductID == "" || o.GetProductID == "" {
		return fmt.Errorf("%w: buy and get products required", domain.ErrInvalidOffer)
	}
	if o.BuyQty < 1 || o.GetQty < 1 {
		return fmt.Errorf("%w: quantities must be positive", domain.ErrInvalidOffer)
	}
	if !o.RewardType.Valid() {
		return fmt.Errorf("%w: reward type %q", domain.ErrInvalidOffer, o.RewardType)
	}
	if o.RewardValue.IsNegative() {
		return fmt.Errorf("%w: negative reward value", domain.ErrInvalidOffer)
	}
	if o.RewardType == domain.RewardPercentDiscount && o.RewardValue.GreaterThan(hundred) {
		return fmt.Errorf("%w: percentage above 100", domain.ErrInvalidOffer)
	}
	if o.EndAt.Before(o.StartAt) {
		return fmt.Errorf("%w: end before start", domain.ErrInvalidOffer)
	}
	return nil
}
