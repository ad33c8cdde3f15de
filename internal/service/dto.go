package service

import (
	"time"

	"github.com/shopspring/decimal"

	"kassa/backend/internal/domain"
)

type LoginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type CreateUserRequest struct {
	Username string `json:"username" validate:"required,min=4,max=64"`
	Password string `json:"password" validate:"required,min=6"`
	Role     string `json:"role" validate:"required,oneof=admin manager cashier"`
	PIN      string `json:"pin" validate:"omitempty,numeric,min=6"`
}

type CurrencyRequest struct {
	Code   string          `json:"code" validate:"required,len=3,alpha"`
	Symbol string          `json:"symbol" validate:"max=8"`
	Rate   decimal.Decimal `json:"rate"`
}

// CurrencyView is a currency with its plan slot state.
type CurrencyView struct {
	domain.Currency
	Locked bool `json:"locked"`
}

type PricingRuleRequest struct {
	ProductID string          `json:"product_id" validate:"required"`
	VariantID string          `json:"variant_id"`
	MinQty    int             `json:"min_qty" validate:"gte=1"`
	MaxQty    int             `json:"max_qty" validate:"gtefield=MinQty"`
	NewPrice  decimal.Decimal `json:"new_price"`
	StartDate *time.Time      `json:"start_date"`
	EndDate   *time.Time      `json:"end_date"`
}

type OfferRequest struct {
	Name         string          `json:"name" validate:"required,max=80"`
	BuyProductID string          `json:"buy_product_id" validate:"required"`
	GetProductID string          `json:"get_product_id" validate:"required"`
	BuyQty       int             `json:"buy_qty" validate:"gte=1"`
	GetQty       int             `json:"get_qty" validate:"gte=1"`
	RewardType   string          `json:"reward_type" validate:"required,oneof=FREE FIXED_PRICE PERCENT_DISCOUNT"`
	RewardValue  decimal.Decimal `json:"reward_value"`
	StartAt      time.Time       `json:"start_at" validate:"required"`
	EndAt        time.Time       `json:"end_at" validate:"required"`
}

type OfferStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=ACTIVE PAUSED"`
}

type CouponRequest struct {
	Code             string          `json:"code" validate:"required,max=32"`
	Type             string          `json:"type" validate:"required,oneof=FIXED PERCENTAGE"`
	Value            decimal.Decimal `json:"value"`
	StartDate        time.Time       `json:"start_date" validate:"required"`
	EndDate          time.Time       `json:"end_date" validate:"required"`
	UsageLimit       int             `json:"usage_limit" validate:"gte=0"`
	TargetType       string          `json:"target_type" validate:"required,oneof=GENERAL GROUP CLIENT"`
	TargetID         string          `json:"target_id"`
	MinInvoiceAmount decimal.Decimal `json:"min_invoice_amount"`
	ProductIDs       []string        `json:"product_ids" validate:"dive,required"`
}

type CreditTopUpRequest struct {
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency" validate:"omitempty,len=3"`
	Note     string          `json:"note" validate:"max=200"`
}

type CartLineRequest struct {
	CartID    string `json:"cart_id"`
	ProductID string `json:"product_id" validate:"required"`
	VariantID string `json:"variant_id"`
	Qty       int    `json:"qty"`
	Reward    bool   `json:"reward"`
}

type CartRequest struct {
	Lines      []CartLineRequest `json:"lines" validate:"dive"`
	Currency   string            `json:"currency" validate:"omitempty,len=3"`
	ClientID   string            `json:"client_id"`
	CouponCode string            `json:"coupon_code" validate:"max=32"`
}

func (r CartRequest) cart() domain.Cart {
	cart := domain.Cart{Currency: r.Currency, ClientID: r.ClientID, CouponCode: r.CouponCode}
	for _, l := range r.Lines {
		cart.Lines = append(cart.Lines, domain.CartLine{
			CartID:    l.CartID,
			ProductID: l.ProductID,
			VariantID: l.VariantID,
			Qty:       l.Qty,
			Reward:    l.Reward,
		})
	}
	return cart
}

type PaymentRequest struct {
	Method   string          `json:"method" validate:"required"`
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency" validate:"omitempty,len=3"`
}

type SaleRequest struct {
	Cart     CartRequest      `json:"cart"`
	Payments []PaymentRequest `json:"payments" validate:"dive"`
}

type CouponStatus struct {
	Code     string          `json:"code"`
	Valid    bool            `json:"valid"`
	Discount decimal.Decimal `json:"discount"`
	Currency string          `json:"currency"`
	Reason   string          `json:"reason,omitempty"`
	Message  string          `json:"message,omitempty"`
}

type SaleFilter struct {
	ShiftID  string
	ClientID string
	Limit    int
}

type RefundLineRequest struct {
	CartID     string           `json:"cart_id" validate:"required"`
	Qty        int              `json:"qty"`
	AmountBase *decimal.Decimal `json:"amount_base"`
}

type RefundRequest struct {
	Lines  []RefundLineRequest `json:"lines" validate:"required,min=1,dive"`
	Source string              `json:"source" validate:"required,oneof=CASHBOX OUTSIDE_CASHBOX"`
	Reason string              `json:"reason" validate:"max=200"`
	PIN    string              `json:"pin"`
}

type OpenShiftRequest struct {
	StartCash map[string]decimal.Decimal `json:"start_cash"`
}

type BucketCount struct {
	Method   string          `json:"method" validate:"required,oneof=CASH CARD TRANSFER CREDIT"`
	Currency string          `json:"currency" validate:"required,len=3"`
	Amount   decimal.Decimal `json:"amount"`
}

type CloseShiftRequest struct {
	Counts []BucketCount `json:"counts" validate:"dive"`
	PIN    string        `json:"pin"`
}

type MovementRequest struct {
	Type     string          `json:"type" validate:"required,oneof=DEPOSIT WITHDRAWAL"`
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency" validate:"omitempty,len=3"`
	Note     string          `json:"note" validate:"max=200"`
}

type CalledOrder struct {
	TicketNumber string    `json:"ticket_number"`
	CalledBy     string    `json:"called_by"`
	At           time.Time `json:"at"`
}
