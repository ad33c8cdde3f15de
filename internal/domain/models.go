package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type Currency struct {
	Code   string          `json:"code"`
	Symbol string          `json:"symbol"`
	Rate   decimal.Decimal `json:"rate"`
	IsBase bool            `json:"is_base"`
}

type Product struct {
	ID           string          `json:"id"`
	SKU          string          `json:"sku"`
	Name         string          `json:"name"`
	Cost         decimal.Decimal `json:"cost"`
	Price        decimal.Decimal `json:"price"`
	Stock        int             `json:"stock"`
	Variants     []Variant       `json:"variants,omitempty"`
	PricingRules []PricingRule   `json:"pricing_rules,omitempty"`
	Active       bool            `json:"active"`
}

// Variant returns the variant with the given id.
func (p Product) Variant(id string) (Variant, bool) {
	for _, v := range p.Variants {
		if v.ID == id {
			return v, true
		}
	}
	return Variant{}, false
}

type Variant struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Cost  decimal.Decimal `json:"cost"`
	Price decimal.Decimal `json:"price"`
	Stock int             `json:"stock"`
}

type PricingRule struct {
	ID        string          `json:"id"`
	TargetID  string          `json:"target_id"`
	MinQty    int             `json:"min_qty"`
	MaxQty    int             `json:"max_qty"`
	NewPrice  decimal.Decimal `json:"new_price"`
	StartDate *time.Time      `json:"start_date,omitempty"`
	EndDate   *time.Time      `json:"end_date,omitempty"`
	Active    bool            `json:"active"`
}

type BogoOffer struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	BuyProductID string          `json:"buy_product_id"`
	GetProductID string          `json:"get_product_id"`
	BuyQty       int             `json:"buy_qty"`
	GetQty       int             `json:"get_qty"`
	RewardType   RewardType      `json:"reward_type"`
	RewardValue  decimal.Decimal `json:"reward_value"`
	StartAt      time.Time       `json:"start_at"`
	EndAt        time.Time       `json:"end_at"`
	Status       OfferStatus     `json:"status"`
}

// EffectiveAt reports whether the offer applies at the given instant.
func (o BogoOffer) EffectiveAt(now time.Time) bool {
	return o.Status == OfferActive && !now.Before(o.StartAt) && !now.After(o.EndAt)
}

type Coupon struct {
	ID               string          `json:"id"`
	Code             string          `json:"code"`
	Type             CouponType      `json:"type"`
	Value            decimal.Decimal `json:"value"`
	StartDate        time.Time       `json:"start_date"`
	EndDate          time.Time       `json:"end_date"`
	UsageLimit       int             `json:"usage_limit"`
	CurrentUsages    int             `json:"current_usages"`
	TargetType       CouponTarget    `json:"target_type"`
	TargetID         string          `json:"target_id,omitempty"`
	MinInvoiceAmount decimal.Decimal `json:"min_invoice_amount"`
	ProductIDs       []string        `json:"product_ids,omitempty"`
	Suspended        bool            `json:"suspended"`
}

type LedgerEntry struct {
	ID          string          `json:"id"`
	ShiftID     string          `json:"shift_id"`
	TxID        string          `json:"tx_id,omitempty"`
	Reference   string          `json:"reference,omitempty"`
	Direction   LedgerDirection `json:"direction"`
	Type        LedgerType      `json:"type"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
	Method      PaymentMethod   `json:"method"`
	AffectsCash bool            `json:"affects_cash"`
	Actor       string          `json:"actor"`
	Note        string          `json:"note,omitempty"`
	Timestamp   time.Time       `json:"timestamp"`
}

type Client struct {
	ID            string           `json:"id"`
	Name          string           `json:"name"`
	GroupID       string           `json:"group_id,omitempty"`
	CreditBalance decimal.Decimal  `json:"credit_balance"`
	History       []PurchaseRecord `json:"history,omitempty"`
}

type PurchaseRecord struct {
	SaleID       string          `json:"sale_id"`
	TicketNumber string          `json:"ticket_number"`
	Total        decimal.Decimal `json:"total"`
	Currency     string          `json:"currency"`
	At           time.Time       `json:"at"`
}

type CartLine struct {
	CartID    string `json:"cart_id"`
	ProductID string `json:"product_id"`
	VariantID string `json:"variant_id,omitempty"`
	Qty       int    `json:"qty"`
	Reward    bool   `json:"reward,omitempty"`
}

type Cart struct {
	Lines      []CartLine `json:"lines"`
	Currency   string     `json:"currency"`
	ClientID   string     `json:"client_id,omitempty"`
	CouponCode string     `json:"coupon_code,omitempty"`
}

type Payment struct {
	Method   PaymentMethod   `json:"method"`
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
}

type SaleItem struct {
	CartID    string          `json:"cart_id"`
	ProductID string          `json:"product_id"`
	VariantID string          `json:"variant_id,omitempty"`
	Name      string          `json:"name"`
	Qty       int             `json:"qty"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	UnitCost  decimal.Decimal `json:"unit_cost"`
	LineTotal decimal.Decimal `json:"line_total"`
	RuleID    string          `json:"rule_id,omitempty"`
	Reward    bool            `json:"reward,omitempty"`
}

type AppliedOffer struct {
	OfferID      string          `json:"offer_id"`
	Name         string          `json:"name"`
	Applications int             `json:"applications"`
	Discount     decimal.Decimal `json:"discount"`
}

type Sale struct {
	ID              string           `json:"id"`
	TicketNumber    string           `json:"ticket_number"`
	Sequence        int64            `json:"sequence"`
	ShiftID         string           `json:"shift_id"`
	TxID            string           `json:"tx_id"`
	Currency        string           `json:"currency"`
	ClientID        string           `json:"client_id,omitempty"`
	CashierID       string           `json:"cashier_id"`
	Items           []SaleItem       `json:"items"`
	Payments        []Payment        `json:"payments"`
	Subtotal        decimal.Decimal  `json:"subtotal"`
	BogoDiscount    decimal.Decimal  `json:"bogo_discount"`
	CouponDiscount  decimal.Decimal  `json:"coupon_discount"`
	CouponCode      string           `json:"coupon_code,omitempty"`
	Offers          []AppliedOffer   `json:"offers,omitempty"`
	Total           decimal.Decimal  `json:"total"`
	TotalPaid       decimal.Decimal  `json:"total_paid"`
	Change          decimal.Decimal  `json:"change"`
	ChangeBase      decimal.Decimal  `json:"change_base"`
	RemainingCredit *decimal.Decimal `json:"remaining_credit,omitempty"`
	CreatedAt       time.Time        `json:"created_at"`
	Refunds         []Refund         `json:"refunds,omitempty"`
}

// Item returns the sold line with the given cart id.
func (s Sale) Item(cartID string) (SaleItem, bool) {
	for _, item := range s.Items {
		if item.CartID == cartID {
			return item, true
		}
	}
	return SaleItem{}, false
}

// RefundedQty sums the quantity already refunded for a cart line.
func (s Sale) RefundedQty(cartID string) int {
	total := 0
	for _, r := range s.Refunds {
		for _, item := range r.Items {
			if item.CartID == cartID {
				total += item.Qty
			}
		}
	}
	return total
}

type RefundItem struct {
	CartID     string          `json:"cart_id"`
	Qty        int             `json:"qty"`
	AmountBase decimal.Decimal `json:"amount_base"`
}

type Refund struct {
	ID           string          `json:"id"`
	SaleID       string          `json:"sale_id"`
	ShiftID      string          `json:"shift_id,omitempty"`
	Items        []RefundItem    `json:"items"`
	Source       RefundSource    `json:"source"`
	TotalBase    decimal.Decimal `json:"total_base"`
	AuthorizedBy string          `json:"authorized_by"`
	Reason       string          `json:"reason,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}

type BucketKey struct {
	Method   PaymentMethod `json:"method"`
	Currency string        `json:"currency"`
}

func (k BucketKey) String() string {
	return string(k.Method) + "/" + k.Currency
}

type Bucket struct {
	Method     PaymentMethod   `json:"method"`
	Currency   string          `json:"currency"`
	Expected   decimal.Decimal `json:"expected"`
	Actual     decimal.Decimal `json:"actual"`
	Difference decimal.Decimal `json:"difference"`
}

func (b Bucket) Key() BucketKey {
	return BucketKey{Method: b.Method, Currency: b.Currency}
}

type StockMovement struct {
	Key      string `json:"key"`
	Name     string `json:"name"`
	Initial  int    `json:"initial"`
	Sold     int    `json:"sold"`
	Refunded int    `json:"refunded"`
	Final    int    `json:"final"`
}

type ZReport struct {
	ShiftID        string                     `json:"shift_id"`
	OpenedAt       time.Time                  `json:"opened_at"`
	ClosedAt       time.Time                  `json:"closed_at"`
	Buckets        []Bucket                   `json:"buckets"`
	Stock          []StockMovement            `json:"stock"`
	SalesCount     int                        `json:"sales_count"`
	SalesTotals    map[string]decimal.Decimal `json:"sales_totals"`
	SalesTotalBase decimal.Decimal            `json:"sales_total_base"`
	DiscountBase   decimal.Decimal            `json:"discount_base"`
	RefundsBase    decimal.Decimal            `json:"refunds_base"`
}

type Shift struct {
	ID           string                     `json:"id"`
	Status       ShiftStatus                `json:"status"`
	OpenedAt     time.Time                  `json:"opened_at"`
	OpenedBy     string                     `json:"opened_by"`
	StartCash    map[string]decimal.Decimal `json:"start_cash"`
	InitialStock map[string]int             `json:"initial_stock"`
	Expected     []Bucket                   `json:"expected,omitempty"`
	ClosingAt    *time.Time                 `json:"closing_at,omitempty"`
	ClosedAt     *time.Time                 `json:"closed_at,omitempty"`
	ClosedBy     string                     `json:"closed_by,omitempty"`
	AuthorizedBy string                     `json:"authorized_by,omitempty"`
	ActualCash   map[string]decimal.Decimal `json:"actual_cash,omitempty"`
	ZReport      *ZReport                   `json:"z_report,omitempty"`
}

type Business struct {
	Name           string `json:"name"`
	TicketSequence int64  `json:"ticket_sequence"`
	ActiveShiftID  string `json:"active_shift_id,omitempty"`
}

type AuditEntry struct {
	ID         string            `json:"id"`
	Actor      string            `json:"actor"`
	Action     string            `json:"action"`
	EntityType string            `json:"entity_type"`
	EntityID   string            `json:"entity_id"`
	Before     map[string]string `json:"before,omitempty"`
	After      map[string]string `json:"after,omitempty"`
	At         time.Time         `json:"at"`
}

type User struct {
	Username     string    `json:"username"`
	Role         string    `json:"role"`
	PasswordHash string    `json:"password_hash"`
	PINHash      string    `json:"pin_hash,omitempty"`
	Active       bool      `json:"active"`
	CreatedAt    time.Time `json:"created_at"`
}

type Actor struct {
	Username string
	Role     string
}

// Elevated reports whether the actor may authorize restricted operations.
func (a Actor) Elevated() bool {
	return IsElevatedRole(a.Role)
}

func IsElevatedRole(role string) bool {
	return role == RoleAdmin || role == RoleManager
}

// StockKey identifies a product or one of its variants in stock snapshots.
func StockKey(productID string, variantID string) string {
	if variantID == "" {
		return productID
	}
	return productID + "/" + variantID
}
