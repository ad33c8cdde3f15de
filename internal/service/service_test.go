package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"kassa/backend/internal/audit"
	"kassa/backend/internal/auth"
	"kassa/backend/internal/domain"
	"kassa/backend/internal/events"
	"kassa/backend/internal/ledger"
	"kassa/backend/internal/licensing"
	"kassa/backend/internal/printing"
	"kassa/backend/internal/store"
)

var (
	adminCtx   = WithActor(context.Background(), domain.Actor{Username: "admin", Role: domain.RoleAdmin})
	managerCtx = WithActor(context.Background(), domain.Actor{Username: "manager", Role: domain.RoleManager})
	cashierCtx = WithActor(context.Background(), domain.Actor{Username: "cashier", Role: domain.RoleCashier})
)

const managerPIN = "482913"

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

type recordingPrinter struct {
	mu       sync.Mutex
	tickets  []printing.TicketPayload
	zreports []printing.ZReportPayload
	err      error
}

func (p *recordingPrinter) PrintTicket(_ context.Context, payload printing.TicketPayload) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tickets = append(p.tickets, payload)
	return p.err
}

func (p *recordingPrinter) PrintZReport(_ context.Context, payload printing.ZReportPayload) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.zreports = append(p.zreports, payload)
	return p.err
}

type fixture struct {
	svc     *Service
	store   *store.Store
	bus     *events.Bus
	printer *recordingPrinter
}

func newFixture(t *testing.T, plan string) fixture {
	t.Helper()
	s := store.NewSeeded()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	manager := auth.NewManager("test-secret", time.Hour, s)
	require.NoError(t, manager.Bootstrap(context.Background(), []auth.NewUser{
		{Username: "admin", Password: "admin123", Role: domain.RoleAdmin},
		{Username: "manager", Password: "manager123", Role: domain.RoleManager, PIN: managerPIN},
		{Username: "cashier", Password: "cashier123", Role: domain.RoleCashier},
	}))
	gate, err := licensing.NewGate(plan)
	require.NoError(t, err)
	bus := events.NewBus(logger, 0)
	printer := &recordingPrinter{}

	svc, err := New(Options{Store: s, Auth: manager, Gate: gate, Bus: bus, Printer: printer, Logger: logger})
	require.NoError(t, err)
	now := time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)
	svc.WithNow(func() time.Time {
		now = now.Add(time.Minute)
		return now
	})
	return fixture{svc: svc, store: s, bus: bus, printer: printer}
}

func coffee(qty int) CartRequest {
	return CartRequest{Lines: []CartLineRequest{{CartID: "a", ProductID: "prod-coffee", Qty: qty}}}
}

func cash(amount string, currency string) PaymentRequest {
	return PaymentRequest{Method: "cash", Amount: dec(amount), Currency: currency}
}

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := New(Options{Store: store.New()})
	require.Error(t, err)
}

func TestOperationsNeedAnActor(t *testing.T) {
	f := newFixture(t, licensing.PlanPro)
	ctx := context.Background()

	_, err := f.svc.Quote(ctx, coffee(1))
	require.ErrorIs(t, err, domain.ErrUnauthenticated)
	_, err = f.svc.Checkout(ctx, SaleRequest{Cart: coffee(1), Payments: []PaymentRequest{cash("10", "CUP")}})
	require.ErrorIs(t, err, domain.ErrUnauthenticated)
	_, err = f.svc.OpenShift(ctx, OpenShiftRequest{})
	require.ErrorIs(t, err, domain.ErrUnauthenticated)
}

func TestLoginRoundTrip(t *testing.T) {
	f := newFixture(t, licensing.PlanPro)

	token, err := f.svc.Login(context.Background(), LoginRequest{Username: "cashier", Password: "cashier123"})
	require.NoError(t, err)
	actor, err := f.svc.ParseToken(token.AccessToken)
	require.NoError(t, err)
	require.Equal(t, "cashier", actor.Username)

	_, err = f.svc.Login(context.Background(), LoginRequest{Username: "cashier"})
	require.ErrorIs(t, err, domain.ErrValidation)
	_, err = f.svc.Login(context.Background(), LoginRequest{Username: "cashier", Password: "nope"})
	require.ErrorIs(t, err, auth.ErrInvalidCredentials)
}

func TestCheckoutPublishesAndQueuesTicket(t *testing.T) {
	f := newFixture(t, licensing.PlanPro)
	var notices []events.Notification
	f.bus.Subscribe(events.TopicNotification, func(_ context.Context, evt events.Event) {
		if n, ok := evt.Payload.(events.Notification); ok {
			notices = append(notices, n)
		}
	})

	_, err := f.svc.Checkout(cashierCtx, SaleRequest{Cart: coffee(1), Payments: []PaymentRequest{cash("10", "CUP")}})
	require.ErrorIs(t, err, domain.ErrNoOpenShift)

	_, err = f.svc.OpenShift(cashierCtx, OpenShiftRequest{StartCash: map[string]decimal.Decimal{"CUP": dec("100")}})
	require.NoError(t, err)

	cart := coffee(2)
	cart.CouponCode = "nope"
	result, err := f.svc.Checkout(cashierCtx, SaleRequest{Cart: cart, Payments: []PaymentRequest{cash("25", "CUP")}})
	require.NoError(t, err)
	require.Equal(t, "000001", result.Sale.TicketNumber)
	require.Equal(t, "20.00", result.Sale.Total.StringFixed(2))
	require.Equal(t, "5.00", result.Sale.Change.StringFixed(2))
	require.Empty(t, result.Sale.CouponCode)

	committed := f.bus.Recent(events.TopicSaleCommitted, 0)
	require.Len(t, committed, 1)
	require.Equal(t, result.Sale.ID, committed[0].Payload.(events.SaleCommitted).Sale.ID)
	require.Len(t, notices, 1)
	require.Equal(t, "coupon_not_found", notices[0].Code)

	require.Len(t, f.printer.tickets, 1)
	require.Equal(t, "000001", f.printer.tickets[0].Sale.TicketNumber)

	sales, err := f.svc.ListSales(cashierCtx, SaleFilter{})
	require.NoError(t, err)
	require.Len(t, sales, 1)
	got, err := f.svc.GetSale(cashierCtx, result.Sale.ID)
	require.NoError(t, err)
	require.Equal(t, result.Sale.TicketNumber, got.TicketNumber)
}

func TestCheckoutSurvivesPrinterFailure(t *testing.T) {
	f := newFixture(t, licensing.PlanPro)
	f.printer.err = errors.New("queue down")
	_, err := f.svc.OpenShift(cashierCtx, OpenShiftRequest{})
	require.NoError(t, err)

	result, err := f.svc.Checkout(cashierCtx, SaleRequest{Cart: coffee(1), Payments: []PaymentRequest{cash("10", "CUP")}})
	require.NoError(t, err)
	require.NotEmpty(t, result.Sale.ID)
}

func TestCheckoutRejectsLockedCurrency(t *testing.T) {
	f := newFixture(t, licensing.PlanBasic)
	_, err := f.svc.OpenShift(cashierCtx, OpenShiftRequest{})
	require.NoError(t, err)

	currencies, err := f.svc.ListCurrencies(cashierCtx)
	require.NoError(t, err)
	locked := map[string]bool{}
	for _, c := range currencies {
		locked[c.Code] = c.Locked
	}
	require.Equal(t, map[string]bool{"CUP": false, "EUR": false, "USD": true}, locked)

	_, err = f.svc.Checkout(cashierCtx, SaleRequest{Cart: coffee(1), Payments: []PaymentRequest{cash("1", "USD")}})
	require.ErrorIs(t, err, domain.ErrLimitReached)
	require.ErrorIs(t, err, domain.ErrValidation)

	usd := coffee(1)
	usd.Currency = "usd"
	_, err = f.svc.Quote(cashierCtx, usd)
	require.ErrorIs(t, err, domain.ErrLimitReached)

	_, err = f.svc.Checkout(cashierCtx, SaleRequest{Cart: coffee(13), Payments: []PaymentRequest{cash("1", "EUR")}})
	require.NoError(t, err)
}

func TestBasicPlanGatesPromotions(t *testing.T) {
	f := newFixture(t, licensing.PlanBasic)
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	_, err := f.svc.CreateOffer(managerCtx, OfferRequest{
		Name: "Cookies 1+1", BuyProductID: "prod-cookies", GetProductID: "prod-cookies",
		BuyQty: 1, GetQty: 1, RewardType: "FREE", StartAt: start, EndAt: start.AddDate(1, 0, 0),
	})
	require.ErrorIs(t, err, domain.ErrFeatureUnavailable)

	_, err = f.svc.CreateCoupon(managerCtx, CouponRequest{
		Code: "SPRING", Type: "PERCENTAGE", Value: dec("5"), StartDate: start, EndDate: start.AddDate(1, 0, 0), TargetType: "GENERAL",
	})
	require.ErrorIs(t, err, domain.ErrFeatureUnavailable)

	_, err = f.svc.SaveCurrency(managerCtx, CurrencyRequest{Code: "MXN", Rate: dec("7")})
	require.ErrorIs(t, err, domain.ErrLimitReached)

	_, err = f.svc.AuditLogs(managerCtx, audit.Filter{})
	require.ErrorIs(t, err, domain.ErrFeatureUnavailable)

	// The three seeded accounts fill the plan.
	_, err = f.svc.CreateUser(adminCtx, CreateUserRequest{Username: "extra", Password: "secret1", Role: domain.RoleCashier})
	require.ErrorIs(t, err, domain.ErrLimitReached)
}

func TestProPlanManagesPromotions(t *testing.T) {
	f := newFixture(t, licensing.PlanPro)
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	_, err := f.svc.CreateCoupon(cashierCtx, CouponRequest{})
	require.ErrorIs(t, err, domain.ErrElevationRequired)

	coupon, err := f.svc.CreateCoupon(managerCtx, CouponRequest{
		Code: "spring", Type: "PERCENTAGE", Value: dec("5"), StartDate: start, EndDate: start.AddDate(1, 0, 0), TargetType: "GENERAL",
	})
	require.NoError(t, err)
	require.Equal(t, "SPRING", coupon.Code)

	_, err = f.svc.CreateCoupon(managerCtx, CouponRequest{
		Code: "Spring", Type: "FIXED", Value: dec("1"), StartDate: start, EndDate: start.AddDate(1, 0, 0), TargetType: "GENERAL",
	})
	require.ErrorIs(t, err, domain.ErrValidation)

	cart := coffee(2)
	cart.CouponCode = "spring"
	status, err := f.svc.CheckCoupon(cashierCtx, cart)
	require.NoError(t, err)
	require.True(t, status.Valid)
	require.Equal(t, "1.00", status.Discount.StringFixed(2))

	_, err = f.svc.SuspendCoupon(managerCtx, "SPRING")
	require.NoError(t, err)
	status, err = f.svc.CheckCoupon(cashierCtx, cart)
	require.NoError(t, err)
	require.False(t, status.Valid)
	require.NotEmpty(t, status.Reason)

	offer, err := f.svc.CreateOffer(managerCtx, OfferRequest{
		Name: "Cookies 1+1", BuyProductID: "prod-cookies", GetProductID: "prod-cookies",
		BuyQty: 1, GetQty: 1, RewardType: "FREE", StartAt: start, EndAt: start.AddDate(1, 0, 0),
	})
	require.NoError(t, err)
	paused, err := f.svc.SetOfferStatus(managerCtx, offer.ID, OfferStatusRequest{Status: "PAUSED"})
	require.NoError(t, err)
	require.Equal(t, domain.OfferPaused, paused.Status)

	_, err = f.svc.CreateOffer(managerCtx, OfferRequest{
		Name: "Ghost", BuyProductID: "prod-missing", GetProductID: "prod-cookies",
		BuyQty: 1, GetQty: 1, RewardType: "FREE", StartAt: start, EndAt: start.AddDate(1, 0, 0),
	})
	require.ErrorIs(t, err, domain.ErrNotFound)

	entries, err := f.svc.AuditLogs(managerCtx, audit.Filter{EntityType: "coupon"})
	require.NoError(t, err)
	require.NotEmpty(t, entries)
}

func TestRefundNeedsSupervisorPIN(t *testing.T) {
	f := newFixture(t, licensing.PlanPro)
	_, err := f.svc.OpenShift(cashierCtx, OpenShiftRequest{StartCash: map[string]decimal.Decimal{"CUP": dec("50")}})
	require.NoError(t, err)
	result, err := f.svc.Checkout(cashierCtx, SaleRequest{Cart: coffee(2), Payments: []PaymentRequest{cash("20", "CUP")}})
	require.NoError(t, err)
	req := RefundRequest{Lines: []RefundLineRequest{{CartID: "a", Qty: 1}}, Source: "CASHBOX", Reason: "damaged"}

	_, err = f.svc.Refund(cashierCtx, result.Sale.ID, req)
	require.ErrorIs(t, err, domain.ErrElevationRequired)

	req.PIN = "000000"
	_, err = f.svc.Refund(cashierCtx, result.Sale.ID, req)
	require.ErrorIs(t, err, domain.ErrInvalidPIN)

	req.PIN = managerPIN
	r, err := f.svc.Refund(cashierCtx, result.Sale.ID, req)
	require.NoError(t, err)
	require.Equal(t, "manager", r.AuthorizedBy)
	require.Equal(t, "10.00", r.TotalBase.StringFixed(2))

	published := f.bus.Recent(events.TopicRefundCommitted, 1)
	require.Len(t, published, 1)
	require.Equal(t, "000001", published[0].Payload.(events.RefundCommitted).TicketNumber)

	c, err := f.svc.Cash(cashierCtx)
	require.NoError(t, err)
	require.Equal(t, "60.00", c.ByCurrency["CUP"].StringFixed(2))
}

func TestCloseShiftBlockedThenClosed(t *testing.T) {
	f := newFixture(t, licensing.PlanPro)
	_, err := f.svc.OpenShift(cashierCtx, OpenShiftRequest{StartCash: map[string]decimal.Decimal{"CUP": dec("100")}})
	require.NoError(t, err)
	_, err = f.svc.Checkout(cashierCtx, SaleRequest{Cart: coffee(1), Payments: []PaymentRequest{cash("10", "CUP")}})
	require.NoError(t, err)

	closing, err := f.svc.BeginClosing(cashierCtx)
	require.NoError(t, err)
	require.Equal(t, domain.ShiftClosing, closing.Status)

	short := CloseShiftRequest{Counts: []BucketCount{{Method: "CASH", Currency: "CUP", Amount: dec("90")}}, PIN: managerPIN}
	_, err = f.svc.CloseShift(cashierCtx, short)
	var discrepancy *domain.DiscrepancyError
	require.True(t, errors.As(err, &discrepancy))

	blocked := f.bus.Recent(events.TopicNotification, 1)
	require.Len(t, blocked, 1)
	payload, ok := blocked[0].Payload.(events.ShiftCloseBlocked)
	require.True(t, ok)
	require.Equal(t, closing.ID, payload.ShiftID)
	require.Equal(t, "-20.00", payload.Buckets[0].Difference.StringFixed(2))
	require.Empty(t, f.printer.zreports)

	_, err = f.svc.CancelClosing(cashierCtx)
	require.NoError(t, err)
	_, err = f.svc.BeginClosing(cashierCtx)
	require.NoError(t, err)

	closed, err := f.svc.CloseShift(cashierCtx, CloseShiftRequest{
		Counts: []BucketCount{{Method: "CASH", Currency: "cup", Amount: dec("110")}},
		PIN:    managerPIN,
	})
	require.NoError(t, err)
	require.Equal(t, domain.ShiftClosed, closed.Status)
	require.Equal(t, "manager", closed.AuthorizedBy)
	require.Len(t, f.bus.Recent(events.TopicShiftClosed, 0), 1)
	require.Len(t, f.printer.zreports, 1)
	require.Equal(t, 1, f.printer.zreports[0].Shift.ZReport.SalesCount)

	_, err = f.svc.ActiveShift(cashierCtx)
	require.ErrorIs(t, err, domain.ErrNoOpenShift)
	got, err := f.svc.GetShift(cashierCtx, closed.ID)
	require.NoError(t, err)
	require.Equal(t, domain.ShiftClosed, got.Status)
}

func TestCashMovementsAreElevated(t *testing.T) {
	f := newFixture(t, licensing.PlanPro)
	_, err := f.svc.OpenShift(cashierCtx, OpenShiftRequest{StartCash: map[string]decimal.Decimal{"CUP": dec("40")}})
	require.NoError(t, err)

	_, err = f.svc.RecordMovement(cashierCtx, MovementRequest{Type: "DEPOSIT", Amount: dec("5")})
	require.ErrorIs(t, err, domain.ErrElevationRequired)

	_, err = f.svc.RecordMovement(managerCtx, MovementRequest{Type: "WITHDRAWAL", Amount: dec("50"), Currency: "CUP"})
	require.ErrorIs(t, err, domain.ErrInsufficientCash)

	entry, err := f.svc.RecordMovement(managerCtx, MovementRequest{Type: "WITHDRAWAL", Amount: dec("15"), Currency: "CUP", Note: "bank run"})
	require.NoError(t, err)
	require.Equal(t, domain.LedgerWithdrawal, entry.Type)

	moves, err := f.svc.Movements(managerCtx, ledger.Filter{Type: domain.LedgerWithdrawal})
	require.NoError(t, err)
	require.Len(t, moves, 1)
	c, err := f.svc.Cash(cashierCtx)
	require.NoError(t, err)
	require.Equal(t, "25.00", c.ByCurrency["CUP"].StringFixed(2))
}

func TestCallOrder(t *testing.T) {
	f := newFixture(t, licensing.PlanPro)
	_, err := f.svc.OpenShift(cashierCtx, OpenShiftRequest{})
	require.NoError(t, err)
	result, err := f.svc.Checkout(cashierCtx, SaleRequest{Cart: coffee(1), Payments: []PaymentRequest{cash("10", "CUP")}})
	require.NoError(t, err)

	_, err = f.svc.CallOrder(cashierCtx, "999999")
	require.ErrorIs(t, err, domain.ErrNotFound)

	called, err := f.svc.CallOrder(cashierCtx, result.Sale.TicketNumber)
	require.NoError(t, err)
	require.Equal(t, "cashier", called.CalledBy)

	board := f.svc.CalledOrders(cashierCtx, 10)
	require.Len(t, board, 1)
	require.Equal(t, result.Sale.TicketNumber, board[0].TicketNumber)
}

func TestTopUpCredit(t *testing.T) {
	f := newFixture(t, licensing.PlanPro)

	_, err := f.svc.TopUpCredit(cashierCtx, "client-luis", CreditTopUpRequest{Amount: dec("10")})
	require.ErrorIs(t, err, domain.ErrElevationRequired)

	client, err := f.svc.TopUpCredit(managerCtx, "client-luis", CreditTopUpRequest{Amount: dec("2"), Currency: "USD"})
	require.NoError(t, err)
	require.Equal(t, "240.00", client.CreditBalance.StringFixed(2))

	_, err = f.svc.TopUpCredit(managerCtx, "client-luis", CreditTopUpRequest{Amount: dec("-1")})
	require.ErrorIs(t, err, domain.ErrValidation)
}
