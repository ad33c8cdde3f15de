package service

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"kassa/backend/internal/checkout"
	"kassa/backend/internal/domain"
	"kassa/backend/internal/events"
	"kassa/backend/internal/fx"
	"kassa/backend/internal/licensing"
	"kassa/backend/internal/pricing"
	"kassa/backend/internal/printing"
	"kassa/backend/internal/refund"
	"kassa/backend/internal/store"
)

func (s *Service) Quote(ctx context.Context, req CartRequest) (pricing.Quote, error) {
	if _, err := s.actor(ctx); err != nil {
		return pricing.Quote{}, err
	}
	if err := s.check(req); err != nil {
		return pricing.Quote{}, err
	}
	if err := s.currenciesUsable(req.Currency); err != nil {
		return pricing.Quote{}, s.fail(ctx, "quote", err)
	}
	q, err := s.checkout.Quote(ctx, req.cart())
	if err != nil {
		return pricing.Quote{}, s.fail(ctx, "quote", err)
	}
	return q, nil
}

// CheckCoupon prices the cart and reports whether its coupon would apply.
func (s *Service) CheckCoupon(ctx context.Context, req CartRequest) (CouponStatus, error) {
	if strings.TrimSpace(req.CouponCode) == "" {
		return CouponStatus{}, fmt.Errorf("%w: coupon_code required", domain.ErrValidation)
	}
	q, err := s.Quote(ctx, req)
	if err != nil {
		return CouponStatus{}, err
	}
	status := CouponStatus{Code: strings.ToUpper(strings.TrimSpace(req.CouponCode)), Currency: q.Currency, Discount: q.CouponDiscount}
	if q.Coupon != nil {
		status.Valid = true
		return status, nil
	}
	for _, n := range q.Notices {
		if strings.HasPrefix(n.Code, "coupon_") {
			status.Reason = n.Code
			status.Message = n.Message
			break
		}
	}
	return status, nil
}

// Checkout commits a sale, then publishes it and queues its ticket.
func (s *Service) Checkout(ctx context.Context, req SaleRequest) (checkout.Result, error) {
	// The coordinator reports a missing actor after the empty-cart check.
	actor, _ := ActorFromContext(ctx)
	if err := s.check(req); err != nil {
		return checkout.Result{}, err
	}
	codes := []string{req.Cart.Currency}
	payments := make([]domain.Payment, 0, len(req.Payments))
	for _, p := range req.Payments {
		codes = append(codes, p.Currency)
		payments = append(payments, domain.Payment{
			Method:   domain.PaymentMethod(strings.ToUpper(strings.TrimSpace(p.Method))),
			Amount:   p.Amount,
			Currency: p.Currency,
		})
	}
	if err := s.currenciesUsable(codes...); err != nil {
		return checkout.Result{}, s.fail(ctx, "checkout", err)
	}

	result, err := s.checkout.Commit(ctx, actor, checkout.Request{Cart: req.Cart.cart(), Payments: payments})
	if err != nil {
		return checkout.Result{}, s.fail(ctx, "checkout", err)
	}

	sale := result.Sale
	s.logger.Info("sale committed",
		slog.String("sale_id", sale.ID),
		slog.String("ticket", sale.TicketNumber),
		slog.String("total", sale.Total.StringFixed(2)),
		slog.String("currency", sale.Currency),
		slog.String("cashier", actor.Username),
	)
	s.bus.Publish(ctx, events.TopicSaleCommitted, events.SaleCommitted{Sale: sale})
	for _, n := range result.Notices {
		s.bus.Publish(ctx, events.TopicNotification, events.Notification{Level: "info", Code: n.Code, Message: n.Message})
	}
	if err := s.printer.PrintTicket(ctx, printing.TicketPayload{Business: s.businessName(), Sale: sale}); err != nil {
		s.logger.Warn("ticket print not queued", slog.String("sale_id", sale.ID), slog.Any("error", err))
	}
	return result, nil
}

// currenciesUsable rejects currencies sitting in a soft-locked plan slot.
func (s *Service) currenciesUsable(codes ...string) error {
	var currencies []domain.Currency
	if err := s.store.View(func(tx *store.Tx) error {
		currencies = tx.Currencies()
		return nil
	}); err != nil {
		return err
	}
	for _, code := range codes {
		code = fx.NormalizeCode(code)
		if code == "" {
			continue
		}
		for i, c := range currencies {
			if c.Code == code && s.gate.SoftLocked(licensing.LimitCurrencies, i) {
				return fmt.Errorf("%w: currency %s is locked on the %s plan", domain.ErrLimitReached, code, s.gate.Plan())
			}
		}
	}
	return nil
}

func (s *Service) ListSales(ctx context.Context, f SaleFilter) ([]domain.Sale, error) {
	if _, err := s.actor(ctx); err != nil {
		return nil, err
	}
	var sales []domain.Sale
	if err := s.store.View(func(tx *store.Tx) error {
		sales = tx.Sales()
		return nil
	}); err != nil {
		return nil, err
	}
	sort.SliceStable(sales, func(i, j int) bool { return sales[i].Sequence > sales[j].Sequence })
	out := make([]domain.Sale, 0, len(sales))
	for _, sale := range sales {
		if f.ShiftID != "" && sale.ShiftID != f.ShiftID {
			continue
		}
		if f.ClientID != "" && sale.ClientID != f.ClientID {
			continue
		}
		out = append(out, sale)
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out, nil
}

func (s *Service) GetSale(ctx context.Context, id string) (domain.Sale, error) {
	if _, err := s.actor(ctx); err != nil {
		return domain.Sale{}, err
	}
	var out domain.Sale
	err := s.store.View(func(tx *store.Tx) error {
		sale, err := tx.Sale(id)
		out = sale
		return err
	})
	return out, err
}

// Refund reverses part or all of a sale. A cashier needs a supervisor PIN.
func (s *Service) Refund(ctx context.Context, saleID string, req RefundRequest) (domain.Refund, error) {
	actor, err := s.actor(ctx)
	if err != nil {
		return domain.Refund{}, err
	}
	if err := s.check(req); err != nil {
		return domain.Refund{}, err
	}
	authorizer, err := s.authorizer(ctx, actor, req.PIN)
	if err != nil {
		return domain.Refund{}, s.fail(ctx, "refund", err)
	}

	lines := make([]refund.Line, 0, len(req.Lines))
	for _, l := range req.Lines {
		lines = append(lines, refund.Line{CartID: l.CartID, Qty: l.Qty, AmountBase: l.AmountBase})
	}
	r, err := s.refunds.Refund(ctx, refund.Request{
		SaleID: saleID,
		Lines:  lines,
		Source: domain.RefundSource(req.Source),
		Reason: req.Reason,
	}, authorizer)
	if err != nil {
		return domain.Refund{}, s.fail(ctx, "refund", err)
	}

	ticket := ""
	if sale, err := s.GetSale(ctx, saleID); err == nil {
		ticket = sale.TicketNumber
	}
	s.logger.Info("refund committed",
		slog.String("refund_id", r.ID),
		slog.String("sale_id", saleID),
		slog.String("source", string(r.Source)),
		slog.String("total_base", r.TotalBase.StringFixed(2)),
		slog.String("authorized_by", r.AuthorizedBy),
	)
	s.bus.Publish(ctx, events.TopicRefundCommitted, events.RefundCommitted{Refund: r, TicketNumber: ticket})
	return r, nil
}

// CallOrder announces that the order behind a ticket is ready for pickup.
func (s *Service) CallOrder(ctx context.Context, ticket string) (CalledOrder, error) {
	actor, err := s.actor(ctx)
	if err != nil {
		return CalledOrder{}, err
	}
	ticket = strings.TrimSpace(ticket)
	err = s.store.View(func(tx *store.Tx) error {
		for _, sale := range tx.Sales() {
			if sale.TicketNumber == ticket {
				return nil
			}
		}
		return fmt.Errorf("%w: ticket %s", domain.ErrNotFound, ticket)
	})
	if err != nil {
		return CalledOrder{}, s.fail(ctx, "call_order", err)
	}
	evt := s.bus.Publish(ctx, events.TopicOrderCalled, events.OrderCalled{TicketNumber: ticket, CalledBy: actor.Username})
	return CalledOrder{TicketNumber: ticket, CalledBy: actor.Username, At: evt.At}, nil
}

// CalledOrders lists recent order calls, newest first, for the pickup board.
func (s *Service) CalledOrders(_ context.Context, limit int) []CalledOrder {
	recent := s.bus.Recent(events.TopicOrderCalled, limit)
	out := make([]CalledOrder, 0, len(recent))
	for _, evt := range recent {
		if p, ok := evt.Payload.(events.OrderCalled); ok {
			out = append(out, CalledOrder{TicketNumber: p.TicketNumber, CalledBy: p.CalledBy, At: evt.At})
		}
	}
	return out
}
