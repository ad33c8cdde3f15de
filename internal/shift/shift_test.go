package shift

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"kassa/backend/internal/checkout"
	"kassa/backend/internal/domain"
	"kassa/backend/internal/refund"
	"kassa/backend/internal/store"
)

var (
	cashier = domain.Actor{Username: "cashier", Role: domain.RoleCashier}
	manager = domain.Actor{Username: "manager", Role: domain.RoleManager}
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

type pinTable map[string]domain.Actor

func (p pinTable) ResolvePIN(_ context.Context, pin string) (domain.Actor, error) {
	actor, ok := p[pin]
	if !ok {
		return domain.Actor{}, domain.ErrInvalidPIN
	}
	return actor, nil
}

func clock() func() time.Time {
	now := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	return func() time.Time {
		now = now.Add(time.Minute)
		return now
	}
}

type fixture struct {
	store    *store.Store
	shifts   *Manager
	checkout *checkout.Coordinator
	refunds  *refund.Coordinator
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	s := store.NewSeeded()
	now := clock()
	pins := pinTable{"4321": manager, "1111": cashier}
	return fixture{
		store:    s,
		shifts:   New(s, pins, now),
		checkout: checkout.New(s, now),
		refunds:  refund.New(s, now),
	}
}

func (f fixture) sell(t *testing.T, qty int, payments ...domain.Payment) domain.Sale {
	t.Helper()
	res, err := f.checkout.Commit(context.Background(), cashier, checkout.Request{
		Cart:     domain.Cart{Lines: []domain.CartLine{{CartID: "a", ProductID: "prod-coffee", Qty: qty}}},
		Payments: payments,
	})
	require.NoError(t, err)
	return res.Sale
}

func cashKey(currency string) domain.BucketKey {
	return domain.BucketKey{Method: domain.PaymentCash, Currency: currency}
}

func TestShiftLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	opened, err := f.shifts.Open(ctx, cashier, map[string]decimal.Decimal{"cup": dec("100"), "USD": dec("2")})
	require.NoError(t, err)
	require.Equal(t, domain.ShiftOpen, opened.Status)
	require.Equal(t, 100, opened.InitialStock["prod-coffee"])
	require.Equal(t, 20, opened.InitialStock["prod-shirt/var-shirt-s"])

	_, err = f.shifts.Open(ctx, cashier, nil)
	require.ErrorIs(t, err, domain.ErrShiftAlreadyOpen)

	sale := f.sell(t, 3, domain.Payment{Method: domain.PaymentCash, Amount: dec("50"), Currency: "CUP"})
	f.sell(t, 2, domain.Payment{Method: domain.PaymentCard, Amount: dec("20"), Currency: "CUP"})
	f.sell(t, 12, domain.Payment{Method: domain.PaymentCash, Amount: dec("1"), Currency: "USD"})
	_, err = f.refunds.Refund(ctx, refund.Request{
		SaleID: sale.ID, Source: domain.RefundCashbox, Lines: []refund.Line{{CartID: "a", Qty: 1}},
	}, manager)
	require.NoError(t, err)

	closing, err := f.shifts.BeginClosing(ctx, cashier)
	require.NoError(t, err)
	require.Equal(t, domain.ShiftClosing, closing.Status)
	expected := map[string]string{}
	for _, b := range closing.Expected {
		expected[b.Key().String()] = b.Expected.StringFixed(2)
	}
	// CUP: 100 + 50 - 20 change - 10 refund; USD: 2 + 1.
	require.Equal(t, map[string]string{
		"CASH/CUP": "120.00",
		"CASH/USD": "3.00",
		"CARD/CUP": "20.00",
	}, expected)

	_, err = f.checkout.Commit(ctx, cashier, checkout.Request{
		Cart:     domain.Cart{Lines: []domain.CartLine{{ProductID: "prod-coffee", Qty: 1}}},
		Payments: []domain.Payment{{Method: domain.PaymentCash, Amount: dec("10")}},
	})
	require.ErrorIs(t, err, domain.ErrNoOpenShift)

	closed, err := f.shifts.CommitClose(ctx, cashier, Close{
		PIN: "4321",
		Actual: map[domain.BucketKey]decimal.Decimal{
			cashKey("CUP"): dec("120"),
			cashKey("USD"): dec("3"),
			{Method: domain.PaymentCard, Currency: "CUP"}: dec("20"),
		},
	})
	require.NoError(t, err)
	require.Equal(t, domain.ShiftClosed, closed.Status)
	require.Equal(t, "cashier", closed.ClosedBy)
	require.Equal(t, "manager", closed.AuthorizedBy)
	require.NotNil(t, closed.ClosedAt)
	require.Equal(t, "120.00", closed.ActualCash["CUP"].StringFixed(2))

	report := closed.ZReport
	require.NotNil(t, report)
	require.Equal(t, 3, report.SalesCount)
	require.Equal(t, "170.00", report.SalesTotals["CUP"].StringFixed(2))
	require.NotContains(t, report.SalesTotals, "USD")
	require.Equal(t, "170.00", report.SalesTotalBase.StringFixed(2))
	require.Equal(t, "10.00", report.RefundsBase.StringFixed(2))
	var coffee domain.StockMovement
	for _, mv := range report.Stock {
		if mv.Key == "prod-coffee" {
			coffee = mv
		}
	}
	require.Equal(t, domain.StockMovement{Key: "prod-coffee", Name: "Ground Coffee 250g", Initial: 100, Sold: 17, Refunded: 1, Final: 84}, coffee)

	_, err = f.shifts.Active(ctx)
	require.ErrorIs(t, err, domain.ErrNoOpenShift)
	_, err = f.shifts.Open(ctx, cashier, nil)
	require.NoError(t, err)
}

func TestCommitCloseToleranceBoundary(t *testing.T) {
	cases := []struct {
		counted string
		blocked bool
	}{
		{"100.00", false},
		{"100.01", false},
		{"99.99", false},
		{"100.02", true},
		{"99.98", true},
		{"0", true},
	}
	for _, tc := range cases {
		t.Run(tc.counted, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			_, err := f.shifts.Open(ctx, manager, map[string]decimal.Decimal{"CUP": dec("100")})
			require.NoError(t, err)
			_, err = f.shifts.BeginClosing(ctx, manager)
			require.NoError(t, err)
			before, err := f.store.Snapshot()
			require.NoError(t, err)

			closed, err := f.shifts.CommitClose(ctx, manager, Close{Actual: map[domain.BucketKey]decimal.Decimal{cashKey("CUP"): dec(tc.counted)}})
			if !tc.blocked {
				require.NoError(t, err)
				require.Equal(t, domain.ShiftClosed, closed.Status)
				require.Equal(t, "manager", closed.AuthorizedBy)
				return
			}
			var discrepancy *domain.DiscrepancyError
			require.True(t, errors.As(err, &discrepancy))
			require.ErrorIs(t, err, domain.ErrValidation)
			require.Len(t, discrepancy.Buckets, 1)
			require.Equal(t, cashKey("CUP"), discrepancy.Buckets[0].Key())
			after, err := f.store.Snapshot()
			require.NoError(t, err)
			require.Equal(t, string(before), string(after))
		})
	}
}

func TestCommitCloseFlagsUnexpectedBuckets(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.shifts.Open(ctx, manager, map[string]decimal.Decimal{"CUP": dec("10")})
	require.NoError(t, err)
	_, err = f.shifts.BeginClosing(ctx, manager)
	require.NoError(t, err)

	_, err = f.shifts.CommitClose(ctx, manager, Close{Actual: map[domain.BucketKey]decimal.Decimal{
		cashKey("CUP"): dec("10"),
		cashKey("EUR"): dec("5"),
	}})
	var discrepancy *domain.DiscrepancyError
	require.True(t, errors.As(err, &discrepancy))
	require.Equal(t, cashKey("EUR"), discrepancy.Buckets[0].Key())

	// A missing count is a zero count.
	_, err = f.shifts.CommitClose(ctx, manager, Close{})
	require.True(t, errors.As(err, &discrepancy))
}

func TestCommitCloseNeedsElevation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.shifts.Open(ctx, cashier, map[string]decimal.Decimal{"CUP": dec("50")})
	require.NoError(t, err)
	_, err = f.shifts.BeginClosing(ctx, cashier)
	require.NoError(t, err)
	good := map[domain.BucketKey]decimal.Decimal{cashKey("CUP"): dec("50")}

	_, err = f.shifts.CommitClose(ctx, cashier, Close{Actual: good})
	require.ErrorIs(t, err, domain.ErrElevationRequired)

	_, err = f.shifts.CommitClose(ctx, cashier, Close{Actual: good, PIN: "0000"})
	require.ErrorIs(t, err, domain.ErrInvalidPIN)
	require.ErrorIs(t, err, domain.ErrAuthorization)

	_, err = f.shifts.CommitClose(ctx, cashier, Close{Actual: good, PIN: "1111"})
	require.ErrorIs(t, err, domain.ErrElevationRequired)

	// A count mismatch is reported before the missing authorization.
	var discrepancy *domain.DiscrepancyError
	_, err = f.shifts.CommitClose(ctx, cashier, Close{Actual: map[domain.BucketKey]decimal.Decimal{cashKey("CUP"): dec("40")}})
	require.True(t, errors.As(err, &discrepancy))

	closed, err := f.shifts.CommitClose(ctx, cashier, Close{Actual: good, PIN: "4321"})
	require.NoError(t, err)
	require.Equal(t, "manager", closed.AuthorizedBy)
}

func TestCancelClosingReopens(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.shifts.CancelClosing(ctx, cashier)
	require.ErrorIs(t, err, domain.ErrShiftNotClosing)

	_, err = f.shifts.Open(ctx, cashier, nil)
	require.NoError(t, err)
	_, err = f.shifts.CommitClose(ctx, manager, Close{})
	require.ErrorIs(t, err, domain.ErrShiftNotClosing)

	_, err = f.shifts.BeginClosing(ctx, cashier)
	require.NoError(t, err)
	_, err = f.shifts.BeginClosing(ctx, cashier)
	require.ErrorIs(t, err, domain.ErrNoOpenShift)

	reopened, err := f.shifts.CancelClosing(ctx, cashier)
	require.NoError(t, err)
	require.Equal(t, domain.ShiftOpen, reopened.Status)
	require.Nil(t, reopened.Expected)

	f.sell(t, 1, domain.Payment{Method: domain.PaymentCash, Amount: dec("10")})
}

func TestOpenValidatesStartCash(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.shifts.Open(ctx, domain.Actor{}, nil)
	require.ErrorIs(t, err, domain.ErrUnauthenticated)
	_, err = f.shifts.Open(ctx, cashier, map[string]decimal.Decimal{"GBP": dec("1")})
	require.ErrorIs(t, err, domain.ErrInvalidCurrency)
	_, err = f.shifts.Open(ctx, cashier, map[string]decimal.Decimal{"CUP": dec("-1")})
	require.ErrorIs(t, err, domain.ErrValidation)

	opened, err := f.shifts.Open(ctx, cashier, nil)
	require.NoError(t, err)
	require.True(t, opened.StartCash["CUP"].IsZero())
}

func TestExpectedBucketsIgnoresOtherShiftsAndNone(t *testing.T) {
	shift := domain.Shift{ID: "s1", StartCash: map[string]decimal.Decimal{"CUP": dec("0")}}
	sales := []domain.Sale{
		{ID: "1", ShiftID: "s1", Payments: []domain.Payment{
			{Method: domain.PaymentTransfer, Amount: dec("5"), Currency: "USD"},
			{Method: domain.PaymentNone, Amount: dec("3"), Currency: "CUP"},
			{Method: domain.PaymentCredit, Amount: dec("7"), Currency: "CUP"},
		}},
		{ID: "2", ShiftID: "s0", Payments: []domain.Payment{{Method: domain.PaymentCard, Amount: dec("9"), Currency: "CUP"}}},
	}
	buckets, err := ExpectedBuckets(nil, sales, shift)
	require.NoError(t, err)
	keys := make([]string, 0, len(buckets))
	for _, b := range buckets {
		keys = append(keys, b.Key().String())
	}
	require.Equal(t, []string{"CASH/CUP", "TRANSFER/USD", "CREDIT/CUP"}, keys)
}
