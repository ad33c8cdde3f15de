package pricing

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"kassa/backend/internal/domain"
	"kassa/backend/internal/fx"
)

// Catalog is the read side PriceCart needs. *store.Tx satisfies it.
type Catalog interface {
	Product(id string) (domain.Product, error)
	Offers() []domain.BogoOffer
	CouponByCode(code string) (domain.Coupon, error)
	Client(id string) (domain.Client, error)
}

type QuoteLine struct {
	domain.CartLine
	Name      string          `json:"name"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	UnitCost  decimal.Decimal `json:"unit_cost"`
	LineTotal decimal.Decimal `json:"line_total"`
	RuleID    string          `json:"rule_id,omitempty"`
}

type Notice struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Quote is a priced cart. Amounts are in the cart currency and rounded to
// two decimals; unit prices stay unrounded.
type Quote struct {
	Currency       string                `json:"currency"`
	Lines          []QuoteLine           `json:"lines"`
	Subtotal       decimal.Decimal       `json:"subtotal"`
	BogoDiscount   decimal.Decimal       `json:"bogo_discount"`
	CouponDiscount decimal.Decimal       `json:"coupon_discount"`
	Total          decimal.Decimal       `json:"total"`
	Offers         []domain.AppliedOffer `json:"offers,omitempty"`
	Coupon         *domain.Coupon        `json:"coupon,omitempty"`
	Client         *domain.Client        `json:"-"`
	Notices        []Notice              `json:"notices,omitempty"`
}

// Discount is the sum of every discount on the quote.
func (q Quote) Discount() decimal.Decimal {
	return q.BogoDiscount.Add(q.CouponDiscount)
}

// PriceCart resolves every line, then applies BOGO offers and at most one
// coupon. A coupon that fails validation is dropped with a notice.
func PriceCart(cat Catalog, conv *fx.Converter, cart domain.Cart, now time.Time) (Quote, error) {
	if len(cart.Lines) == 0 {
		return Quote{}, domain.ErrEmptyCart
	}
	currency := fx.NormalizeCode(cart.Currency)
	if currency == "" {
		currency = conv.Base()
	}
	if !conv.Has(currency) {
		return Quote{}, &fx.MissingRateError{Code: currency}
	}

	q := Quote{Currency: currency, Lines: make([]QuoteLine, 0, len(cart.Lines))}
	if cart.ClientID != "" {
		client, err := cat.Client(cart.ClientID)
		if err != nil {
			return Quote{}, err
		}
		q.Client = &client
	}

	seen := make(map[string]struct{}, len(cart.Lines))
	for _, line := range cart.Lines {
		if line.CartID == "" {
			continue
		}
		if _, dup := seen[line.CartID]; dup {
			return Quote{}, fmt.Errorf("%w: duplicate cart line %s", domain.ErrValidation, line.CartID)
		}
		seen[line.CartID] = struct{}{}
	}
	subtotal := decimal.Zero
	productIDs := make([]string, 0, len(cart.Lines))
	next := 0
	for _, line := range cart.Lines {
		if line.CartID == "" {
			line.CartID = nextLineID(seen, &next)
		}
		if line.Qty < 1 {
			return Quote{}, fmt.Errorf("%w: line %s", domain.ErrInvalidQuantity, line.CartID)
		}
		product, err := cat.Product(line.ProductID)
		if err != nil {
			return Quote{}, err
		}
		if !product.Active {
			return Quote{}, fmt.Errorf("%w: product %s is inactive", domain.ErrValidation, product.ID)
		}
		res, err := ResolveUnitPrice(product, line.VariantID, line.Qty, now)
		if err != nil {
			return Quote{}, err
		}
		unit, err := conv.FromBase(res.Price, currency)
		if err != nil {
			return Quote{}, err
		}
		lineTotal := unit.Mul(decimal.NewFromInt(int64(line.Qty)))
		subtotal = subtotal.Add(lineTotal)
		productIDs = append(productIDs, line.ProductID)
		q.Lines = append(q.Lines, QuoteLine{
			CartLine:  line,
			Name:      res.Name,
			UnitPrice: unit,
			UnitCost:  res.Cost,
			LineTotal: lineTotal,
			RuleID:    res.RuleID,
		})
	}

	bogo, applied, err := BogoDiscount(q.Lines, cat.Offers(), conv, currency, now)
	if err != nil {
		return Quote{}, err
	}
	q.Offers = applied

	coupon := decimal.Zero
	if code := strings.TrimSpace(cart.CouponCode); code != "" {
		c, err := cat.CouponByCode(code)
		switch {
		case errors.Is(err, domain.ErrNotFound):
			q.Notices = append(q.Notices, Notice{Code: "coupon_not_found", Message: err.Error()})
		case err != nil:
			return Quote{}, err
		default:
			check := CouponCheck{Subtotal: subtotal, Currency: currency, Client: q.Client, ProductIDs: productIDs, Now: now}
			if verr := ValidateCoupon(c, check, conv); verr != nil {
				if !errors.Is(verr, domain.ErrValidation) {
					return Quote{}, verr
				}
				q.Notices = append(q.Notices, Notice{Code: CouponReason(verr), Message: verr.Error()})
				break
			}
			coupon, err = CouponDiscount(c, subtotal, currency, conv)
			if err != nil {
				return Quote{}, err
			}
			q.Coupon = &c
		}
	}

	q.Subtotal = fx.Round2(subtotal)
	q.BogoDiscount = fx.Round2(bogo)
	q.CouponDiscount = fx.Round2(coupon)
	q.Total = decimal.Max(decimal.Zero, q.Subtotal.Sub(q.BogoDiscount).Sub(q.CouponDiscount))
	return q, nil
}

// CouponReason maps a coupon validation error to a stable code.
func CouponReason(err error) string {
	switch {
	case errors.Is(err, domain.ErrCouponSuspended):
		return "coupon_suspended"
	case errors.Is(err, domain.ErrCouponOutsideWindow):
		return "coupon_outside_window"
	case errors.Is(err, domain.ErrCouponExhausted):
		return "coupon_exhausted"
	case errors.Is(err, domain.ErrCouponMinInvoice):
		return "coupon_min_invoice"
	case errors.Is(err, domain.ErrCouponTargetMismatch):
		return "coupon_target_mismatch"
	case errors.Is(err, domain.ErrCouponProductMismatch):
		return "coupon_product_mismatch"
	}
	return "coupon_invalid"
}

// nextLineID returns the first line-N id not already taken in the cart.
func nextLineID(seen map[string]struct{}, n *int) string {
	for {
		*n++
		id := fmt.Sprintf("line-%d", *n)
		if _, taken := seen[id]; !taken {
			seen[id] = struct{}{}
			return id
		}
	}
}
