package refund

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"kassa/backend/internal/audit"
	"kassa/backend/internal/domain"
	"kassa/backend/internal/fx"
	"kassa/backend/internal/ledger"
	"kassa/backend/internal/store"
	"kassa/backend/internal/xid"
)

// Line asks to refund qty units of a sold cart line. A nil AmountBase
// refunds the line's paid share.
type Line struct {
	CartID     string
	Qty        int
	AmountBase *decimal.Decimal
}

type Request struct {
	SaleID string
	Lines  []Line
	Source domain.RefundSource
	Reason string
}

// Coordinator reverses stock and, for CASHBOX refunds, cash effects of a
// committed sale.
type Coordinator struct {
	store *store.Store
	now   func() time.Time
}

func New(s *store.Store, now func() time.Time) *Coordinator {
	if now == nil {
		now = time.Now
	}
	return &Coordinator{store: s, now: now}
}

// Refund applies req on behalf of authorizer, who must hold an elevated role.
func (c *Coordinator) Refund(_ context.Context, req Request, authorizer domain.Actor) (domain.Refund, error) {
	if authorizer.Username == "" {
		return domain.Refund{}, domain.ErrUnauthenticated
	}
	if !authorizer.Elevated() {
		return domain.Refund{}, fmt.Errorf("%w: refunds need a manager", domain.ErrElevationRequired)
	}
	if !req.Source.Valid() {
		return domain.Refund{}, fmt.Errorf("%w: source %q", domain.ErrInvalidRefund, req.Source)
	}
	if len(req.Lines) == 0 {
		return domain.Refund{}, fmt.Errorf("%w: no lines", domain.ErrInvalidRefund)
	}

	var out domain.Refund
	err := c.store.Update(func(tx *store.Tx) error {
		sale, err := tx.Sale(req.SaleID)
		if err != nil {
			return err
		}
		conv, err := fx.NewConverter(tx.Currencies())
		if err != nil {
			return err
		}
		items, total, err := resolveLines(sale, req.Lines, conv)
		if err != nil {
			return err
		}

		shift, open := tx.ActiveShift()
		open = open && shift.Status == domain.ShiftOpen
		if req.Source == domain.RefundCashbox {
			if !open {
				return domain.ErrNoOpenShift
			}
			cash, err := ledger.CashOnHand(tx.Ledger(), shift)
			if err != nil {
				return err
			}
			// The payout leaves the drawer in base currency only.
			held := cash[conv.Base()]
			if total.Sub(held).GreaterThan(fx.Tolerance) {
				return fmt.Errorf("%w: %s %s held, %s requested", domain.ErrInsufficientCash,
					fx.Round2(held).StringFixed(2), conv.Base(), total.StringFixed(2))
			}
		}

		now := c.now().UTC()
		refund := domain.Refund{
			ID:           xid.New("ref"),
			SaleID:       sale.ID,
			Items:        items,
			Source:       req.Source,
			TotalBase:    total,
			AuthorizedBy: authorizer.Username,
			Reason:       strings.TrimSpace(req.Reason),
			CreatedAt:    now,
		}
		if open {
			refund.ShiftID = shift.ID
		}

		before, after, err := restock(tx, sale, items)
		if err != nil {
			return err
		}
		tx.AppendAudit(audit.Entry(authorizer, "stock_refund", "stock", refund.ID, before, after, now))

		if req.Source == domain.RefundCashbox && total.IsPositive() {
			tx.AppendLedger(domain.LedgerEntry{
				ID:          xid.New("led"),
				ShiftID:     shift.ID,
				TxID:        refund.ID,
				Reference:   sale.ID,
				Direction:   domain.DirectionOut,
				Type:        domain.LedgerRefund,
				Amount:      total,
				Currency:    conv.Base(),
				Method:      domain.PaymentCash,
				AffectsCash: true,
				Actor:       authorizer.Username,
				Note:        refund.Reason,
				Timestamp:   now,
			})
		}

		sale.Refunds = append(sale.Refunds, refund)
		tx.PutSale(sale)
		tx.AppendAudit(audit.Entry(authorizer, "sale_refund", "sale", sale.ID, nil, map[string]string{
			"refund":     refund.ID,
			"source":     string(refund.Source),
			"total_base": total.StringFixed(2),
		}, now))

		out = refund
		return nil
	})
	if err != nil {
		return domain.Refund{}, err
	}
	return out, nil
}

// resolveLines validates the requested lines against the sale and returns
// the refund items and their total in base currency.
func resolveLines(sale domain.Sale, lines []Line, conv *fx.Converter) ([]domain.RefundItem, decimal.Decimal, error) {
	requested := make(map[string]int, len(lines))
	items := make([]domain.RefundItem, 0, len(lines))
	total := decimal.Zero
	for _, l := range lines {
		item, ok := sale.Item(l.CartID)
		if !ok {
			return nil, decimal.Zero, fmt.Errorf("%w: line %s is not part of sale %s", domain.ErrInvalidRefund, l.CartID, sale.ID)
		}
		if l.Qty < 1 {
			return nil, decimal.Zero, fmt.Errorf("%w: line %s", domain.ErrInvalidQuantity, l.CartID)
		}
		requested[l.CartID] += l.Qty
		if sale.RefundedQty(l.CartID)+requested[l.CartID] > item.Qty {
			return nil, decimal.Zero, fmt.Errorf("%w: line %s sold %d, refunded %d, requested %d", domain.ErrRefundExceedsSold,
				l.CartID, item.Qty, sale.RefundedQty(l.CartID), requested[l.CartID])
		}

		var amount decimal.Decimal
		if l.AmountBase != nil {
			if l.AmountBase.IsNegative() {
				return nil, decimal.Zero, fmt.Errorf("%w: line %s amount is negative", domain.ErrInvalidRefund, l.CartID)
			}
			amount = *l.AmountBase
		} else {
			paid, err := PaidShare(sale, item, l.Qty, conv)
			if err != nil {
				return nil, decimal.Zero, err
			}
			amount = paid
		}
		amount = fx.Round2(amount)
		total = total.Add(amount)
		items = append(items, domain.RefundItem{CartID: l.CartID, Qty: l.Qty, AmountBase: amount})
	}
	return items, total, nil
}

// PaidShare is what qty units of item cost the customer in base currency,
// with the sale's discounts spread in proportion to line totals.
func PaidShare(sale domain.Sale, item domain.SaleItem, qty int, conv *fx.Converter) (decimal.Decimal, error) {
	if item.Qty < 1 || !sale.Subtotal.IsPositive() {
		return decimal.Zero, nil
	}
	share := item.LineTotal.
		Mul(decimal.NewFromInt(int64(qty))).
		Div(decimal.NewFromInt(int64(item.Qty))).
		Mul(sale.Total).
		Div(sale.Subtotal)
	base, err := conv.ToBase(share, sale.Currency)
	if err != nil {
		return decimal.Zero, err
	}
	return fx.Round2(base), nil
}

// restock returns refunded units to product or variant stock.
func restock(tx *store.Tx, sale domain.Sale, items []domain.RefundItem) (map[string]string, map[string]string, error) {
	before := map[string]string{}
	after := map[string]string{}
	for _, ri := range items {
		item, _ := sale.Item(ri.CartID)
		p, err := tx.Product(item.ProductID)
		if err != nil {
			return nil, nil, err
		}
		key := domain.StockKey(item.ProductID, item.VariantID)
		if item.VariantID == "" {
			if _, seen := before[key]; !seen {
				before[key] = fmt.Sprint(p.Stock)
			}
			p.Stock += ri.Qty
			after[key] = fmt.Sprint(p.Stock)
		} else {
			found := false
			for i := range p.Variants {
				if p.Variants[i].ID != item.VariantID {
					continue
				}
				if _, seen := before[key]; !seen {
					before[key] = fmt.Sprint(p.Variants[i].Stock)
				}
				p.Variants[i].Stock += ri.Qty
				after[key] = fmt.Sprint(p.Variants[i].Stock)
				found = true
			}
			if !found {
				return nil, nil, fmt.Errorf("%w: variant %s of %s", domain.ErrNotFound, item.VariantID, item.ProductID)
			}
		}
		tx.PutProduct(p)
	}
	return before, after, nil
}
