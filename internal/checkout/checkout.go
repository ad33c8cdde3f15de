package checkout

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"kassa/backend/internal/audit"
	"kassa/backend/internal/domain"
	"kassa/backend/internal/fx"
	"kassa/backend/internal/pricing"
	"kassa/backend/internal/store"
	"kassa/backend/internal/xid"
)

type Request struct {
	Cart     domain.Cart
	Payments []domain.Payment
}

// Result is a committed sale plus any notices raised while pricing it.
type Result struct {
	Sale    domain.Sale      `json:"sale"`
	Notices []pricing.Notice `json:"notices,omitempty"`
}

// Coordinator commits sales against the store. Every precondition is checked
// inside the same update that applies the sale, so a failure leaves no trace.
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

// Quote prices a cart without committing anything.
func (c *Coordinator) Quote(_ context.Context, cart domain.Cart) (pricing.Quote, error) {
	var q pricing.Quote
	err := c.store.View(func(tx *store.Tx) error {
		conv, err := fx.NewConverter(tx.Currencies())
		if err != nil {
			return err
		}
		q, err = pricing.PriceCart(tx, conv, cart, c.now())
		return err
	})
	return q, err
}

// Commit validates and applies a sale in one indivisible update.
func (c *Coordinator) Commit(_ context.Context, actor domain.Actor, req Request) (Result, error) {
	if len(req.Cart.Lines) == 0 {
		return Result{}, domain.ErrEmptyCart
	}
	if actor.Username == "" {
		return Result{}, domain.ErrUnauthenticated
	}

	var result Result
	err := c.store.Update(func(tx *store.Tx) error {
		shift, ok := tx.ActiveShift()
		if !ok || shift.Status != domain.ShiftOpen {
			return domain.ErrNoOpenShift
		}
		conv, err := fx.NewConverter(tx.Currencies())
		if err != nil {
			return err
		}
		now := c.now().UTC()
		q, err := pricing.PriceCart(tx, conv, req.Cart, now)
		if err != nil {
			return err
		}
		paid, err := tally(req.Payments, q, conv)
		if err != nil {
			return err
		}

		sale := domain.Sale{
			ID:             xid.New("sale"),
			ShiftID:        shift.ID,
			TxID:           xid.New("tx"),
			Currency:       q.Currency,
			CashierID:      actor.Username,
			Items:          saleItems(q.Lines),
			Payments:       paid.legs,
			Subtotal:       q.Subtotal,
			BogoDiscount:   q.BogoDiscount,
			CouponDiscount: q.CouponDiscount,
			Offers:         q.Offers,
			Total:          q.Total,
			TotalPaid:      fx.Round2(paid.total),
			Change:         decimal.Zero,
			ChangeBase:     decimal.Zero,
			CreatedAt:      now,
		}
		if q.Client != nil {
			sale.ClientID = q.Client.ID
		}
		if q.Coupon != nil {
			sale.CouponCode = q.Coupon.Code
		}

		if err := decrementStock(tx, actor, sale.ID, q.Lines, now); err != nil {
			return err
		}
		if err := recordPayments(tx, actor, &sale, paid, conv, now); err != nil {
			return err
		}
		if err := debitCredit(tx, actor, &sale, q.Client, paid.creditBase, now); err != nil {
			return err
		}

		business := tx.Business()
		sale.Sequence = business.TicketSequence + 1
		sale.TicketNumber = TicketNumber(sale.Sequence)
		next := business
		next.TicketSequence = sale.Sequence
		tx.SetBusiness(next)
		tx.AppendAudit(audit.Entry(actor, "ticket_sequence", "business", "ticket_sequence",
			map[string]string{"sequence": fmt.Sprint(business.TicketSequence)},
			map[string]string{"sequence": fmt.Sprint(next.TicketSequence)}, now))

		if q.Coupon != nil {
			coupon := *q.Coupon
			before := fmt.Sprint(coupon.CurrentUsages)
			coupon.CurrentUsages++
			tx.PutCoupon(coupon)
			tx.AppendAudit(audit.Entry(actor, "coupon_redeem", "coupon", coupon.ID,
				map[string]string{"current_usages": before},
				map[string]string{"current_usages": fmt.Sprint(coupon.CurrentUsages)}, now))
		}

		tx.PutSale(sale)
		if q.Client != nil {
			client, err := tx.Client(q.Client.ID)
			if err != nil {
				return err
			}
			client.History = append(client.History, domain.PurchaseRecord{
				SaleID:       sale.ID,
				TicketNumber: sale.TicketNumber,
				Total:        sale.Total,
				Currency:     sale.Currency,
				At:           now,
			})
			tx.PutClient(client)
		}
		tx.AppendAudit(audit.Entry(actor, "sale_commit", "sale", sale.ID, nil, map[string]string{
			"ticket":   sale.TicketNumber,
			"total":    sale.Total.StringFixed(2),
			"currency": sale.Currency,
			"shift":    sale.ShiftID,
		}, now))

		result = Result{Sale: sale, Notices: q.Notices}
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	return result, nil
}

// TicketNumber zero-pads the sequence to six digits.
func TicketNumber(seq int64) string {
	return fmt.Sprintf("%06d", seq)
}

type tender struct {
	legs       []domain.Payment
	total      decimal.Decimal
	change     decimal.Decimal
	creditBase decimal.Decimal
}

// tally validates the payment legs and sums them in the sale currency.
func tally(payments []domain.Payment, q pricing.Quote, conv *fx.Converter) (tender, error) {
	t := tender{legs: make([]domain.Payment, 0, len(payments)), total: decimal.Zero, creditBase: decimal.Zero}
	for i, p := range payments {
		if !p.Method.Valid() {
			return tender{}, fmt.Errorf("%w: leg %d method %q", domain.ErrInvalidPayment, i+1, p.Method)
		}
		if p.Amount.IsNegative() {
			return tender{}, fmt.Errorf("%w: leg %d amount is negative", domain.ErrInvalidPayment, i+1)
		}
		p.Currency = fx.NormalizeCode(p.Currency)
		if p.Currency == "" {
			p.Currency = q.Currency
		}
		inSale, err := conv.Convert(p.Amount, p.Currency, q.Currency)
		if err != nil {
			return tender{}, err
		}
		if p.Method == domain.PaymentCredit {
			if q.Client == nil {
				return tender{}, domain.ErrCreditNeedsClient
			}
			base, err := conv.ToBase(p.Amount, p.Currency)
			if err != nil {
				return tender{}, err
			}
			t.creditBase = t.creditBase.Add(base)
		}
		t.total = t.total.Add(inSale)
		t.legs = append(t.legs, p)
	}
	if q.Total.Sub(t.total).GreaterThan(fx.Tolerance) {
		return tender{}, fmt.Errorf("%w: paid %s of %s %s", domain.ErrUnderpaid,
			fx.Round2(t.total).StringFixed(2), q.Total.StringFixed(2), q.Currency)
	}
	t.change = t.total.Sub(q.Total)
	return t, nil
}

func saleItems(lines []pricing.QuoteLine) []domain.SaleItem {
	items := make([]domain.SaleItem, 0, len(lines))
	for _, l := range lines {
		items = append(items, domain.SaleItem{
			CartID:    l.CartID,
			ProductID: l.ProductID,
			VariantID: l.VariantID,
			Name:      l.Name,
			Qty:       l.Qty,
			UnitPrice: l.UnitPrice,
			UnitCost:  l.UnitCost,
			LineTotal: fx.Round2(l.LineTotal),
			RuleID:    l.RuleID,
			Reward:    l.Reward,
		})
	}
	return items
}

// decrementStock takes every sold unit out of stock. Stock may go negative.
func decrementStock(tx *store.Tx, actor domain.Actor, saleID string, lines []pricing.QuoteLine, now time.Time) error {
	before := map[string]string{}
	after := map[string]string{}
	for _, l := range lines {
		p, err := tx.Product(l.ProductID)
		if err != nil {
			return err
		}
		key := domain.StockKey(l.ProductID, l.VariantID)
		if l.VariantID == "" {
			if _, seen := before[key]; !seen {
				before[key] = fmt.Sprint(p.Stock)
			}
			p.Stock -= l.Qty
			after[key] = fmt.Sprint(p.Stock)
		} else {
			for i := range p.Variants {
				if p.Variants[i].ID != l.VariantID {
					continue
				}
				if _, seen := before[key]; !seen {
					before[key] = fmt.Sprint(p.Variants[i].Stock)
				}
				p.Variants[i].Stock -= l.Qty
				after[key] = fmt.Sprint(p.Variants[i].Stock)
			}
		}
		tx.PutProduct(p)
	}
	tx.AppendAudit(audit.Entry(actor, "stock_sale", "stock", saleID, before, after, now))
	return nil
}

// recordPayments writes one IN entry per leg and an OUT/EXCHANGE entry in
// base currency when the customer overpaid.
func recordPayments(tx *store.Tx, actor domain.Actor, sale *domain.Sale, t tender, conv *fx.Converter, now time.Time) error {
	entries := make([]domain.LedgerEntry, 0, len(t.legs)+1)
	for _, leg := range t.legs {
		entries = append(entries, domain.LedgerEntry{
			ID:          xid.New("led"),
			ShiftID:     sale.ShiftID,
			TxID:        sale.TxID,
			Reference:   sale.ID,
			Direction:   domain.DirectionIn,
			Type:        domain.LedgerSale,
			Amount:      fx.Round2(leg.Amount),
			Currency:    leg.Currency,
			Method:      leg.Method,
			AffectsCash: leg.Method.AffectsCash(),
			Actor:       actor.Username,
			Timestamp:   now,
		})
	}
	if t.change.GreaterThan(fx.Tolerance) {
		changeBase, err := conv.ToBase(t.change, sale.Currency)
		if err != nil {
			return err
		}
		sale.Change = fx.Round2(t.change)
		sale.ChangeBase = fx.Round2(changeBase)
		entries = append(entries, domain.LedgerEntry{
			ID:          xid.New("led"),
			ShiftID:     sale.ShiftID,
			TxID:        sale.TxID,
			Reference:   sale.ID,
			Direction:   domain.DirectionOut,
			Type:        domain.LedgerExchange,
			Amount:      sale.ChangeBase,
			Currency:    conv.Base(),
			Method:      domain.PaymentCash,
			AffectsCash: true,
			Actor:       actor.Username,
			Note:        "change",
			Timestamp:   now,
		})
	}
	tx.AppendLedger(entries...)
	return nil
}

// debitCredit charges credit legs to the client's balance, floored at zero.
func debitCredit(tx *store.Tx, actor domain.Actor, sale *domain.Sale, client *domain.Client, creditBase decimal.Decimal, now time.Time) error {
	if client == nil || !creditBase.IsPositive() {
		return nil
	}
	current, err := tx.Client(client.ID)
	if err != nil {
		return err
	}
	before := current.CreditBalance
	current.CreditBalance = fx.Round2(decimal.Max(decimal.Zero, before.Sub(creditBase)))
	tx.PutClient(current)
	remaining := current.CreditBalance
	sale.RemainingCredit = &remaining
	tx.AppendAudit(audit.Entry(actor, "client_credit_debit", "client", client.ID,
		map[string]string{"credit_balance": before.StringFixed(2)},
		map[string]string{"credit_balance": remaining.StringFixed(2)}, now))
	return nil
}
