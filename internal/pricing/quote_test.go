package pricing

import (
	"testing"

	"github.com/stretchr/testify/require"

	"kassa/backend/internal/domain"
	"kassa/backend/internal/fx"
	"kassa/backend/internal/store"
)

func quote(t *testing.T, s *store.Store, cart domain.Cart) (Quote, error) {
	t.Helper()
	var q Quote
	var qerr error
	err := s.View(func(tx *store.Tx) error {
		conv, err := fx.NewConverter(tx.Currencies())
		if err != nil {
			return err
		}
		q, qerr = PriceCart(tx, conv, cart, testNow)
		return nil
	})
	require.NoError(t, err)
	return q, qerr
}

func TestPriceCartAppliesRulesAndOffers(t *testing.T) {
	s := store.NewSeeded()
	q, err := quote(t, s, domain.Cart{Lines: []domain.CartLine{
		{ProductID: "prod-rice", Qty: 10},
		{CartID: "soda", ProductID: "prod-soda", Qty: 3},
		{CartID: "soda-free", ProductID: "prod-soda", Qty: 1, Reward: true},
		{ProductID: "prod-shirt", VariantID: "var-shirt-l", Qty: 1},
	}})
	require.NoError(t, err)

	require.Equal(t, "CUP", q.Currency)
	require.Equal(t, "line-1", q.Lines[0].CartID)
	require.Equal(t, "rule-rice-bulk", q.Lines[0].RuleID)
	require.Equal(t, "T-Shirt L", q.Lines[3].Name)
	// 40 + 7.50 + 2.50 + 27
	require.Equal(t, "77.00", q.Subtotal.StringFixed(2))
	require.Equal(t, "2.50", q.BogoDiscount.StringFixed(2))
	require.Equal(t, "74.50", q.Total.StringFixed(2))
	require.Len(t, q.Offers, 1)
	require.Equal(t, "offer-soda", q.Offers[0].OfferID)
}

func TestPriceCartConvertsToSaleCurrency(t *testing.T) {
	s := store.NewSeeded()
	q, err := quote(t, s, domain.Cart{Currency: "usd", Lines: []domain.CartLine{{ProductID: "prod-coffee", Qty: 3}}})
	require.NoError(t, err)
	require.Equal(t, "USD", q.Currency)
	require.Equal(t, "0.25", q.Total.StringFixed(2))
	require.Equal(t, "0.25", q.Lines[0].LineTotal.StringFixed(2))

	_, err = quote(t, s, domain.Cart{Currency: "GBP", Lines: []domain.CartLine{{ProductID: "prod-coffee", Qty: 1}}})
	require.ErrorIs(t, err, domain.ErrInvalidCurrency)
}

func TestPriceCartRejectsBadCarts(t *testing.T) {
	s := store.NewSeeded()

	_, err := quote(t, s, domain.Cart{})
	require.ErrorIs(t, err, domain.ErrEmptyCart)

	_, err = quote(t, s, domain.Cart{Lines: []domain.CartLine{{ProductID: "prod-coffee", Qty: 0}}})
	require.ErrorIs(t, err, domain.ErrInvalidQuantity)

	_, err = quote(t, s, domain.Cart{Lines: []domain.CartLine{
		{CartID: "a", ProductID: "prod-coffee", Qty: 1},
		{CartID: "a", ProductID: "prod-soda", Qty: 1},
	}})
	require.ErrorIs(t, err, domain.ErrValidation)

	_, err = quote(t, s, domain.Cart{Lines: []domain.CartLine{{ProductID: "prod-missing", Qty: 1}}})
	require.ErrorIs(t, err, domain.ErrNotFound)

	_, err = quote(t, s, domain.Cart{ClientID: "client-nobody", Lines: []domain.CartLine{{ProductID: "prod-coffee", Qty: 1}}})
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestPriceCartGeneratedIDsSkipExplicitOnes(t *testing.T) {
	s := store.NewSeeded()

	q, err := quote(t, s, domain.Cart{Lines: []domain.CartLine{
		{CartID: "line-2", ProductID: "prod-coffee", Qty: 1},
		{ProductID: "prod-soda", Qty: 1},
		{ProductID: "prod-rice", Qty: 1},
		{CartID: "line-1", ProductID: "prod-cookies", Qty: 1},
	}})
	require.NoError(t, err)
	require.Len(t, q.Lines, 4)
	require.Equal(t, "line-2", q.Lines[0].CartID)
	require.Equal(t, "line-3", q.Lines[1].CartID)
	require.Equal(t, "line-4", q.Lines[2].CartID)
	require.Equal(t, "line-1", q.Lines[3].CartID)
}

func TestPriceCartCouponBelowMinimumIsDroppedWithNotice(t *testing.T) {
	s := store.NewSeeded()
	require.NoError(t, s.Update(func(tx *store.Tx) error {
		tx.PutCoupon(domain.Coupon{
			ID: "coupon-min50", Code: "MIN50", Type: domain.CouponFixed, Value: dec("5"),
			StartDate: testNow.AddDate(-1, 0, 0), EndDate: testNow.AddDate(1, 0, 0),
			TargetType: domain.TargetGeneral, MinInvoiceAmount: dec("50"),
		})
		return nil
	}))

	q, err := quote(t, s, domain.Cart{CouponCode: "min50", Lines: []domain.CartLine{{ProductID: "prod-coffee", Qty: 4}}})
	require.NoError(t, err)
	require.Equal(t, "40.00", q.Subtotal.StringFixed(2))
	require.True(t, q.CouponDiscount.IsZero())
	require.Nil(t, q.Coupon)
	require.Equal(t, "40.00", q.Total.StringFixed(2))
	require.Len(t, q.Notices, 1)
	require.Equal(t, "coupon_min_invoice", q.Notices[0].Code)

	q, err = quote(t, s, domain.Cart{CouponCode: "MIN50", Lines: []domain.CartLine{{ProductID: "prod-coffee", Qty: 5}}})
	require.NoError(t, err)
	require.Equal(t, "5.00", q.CouponDiscount.StringFixed(2))
	require.Equal(t, "45.00", q.Total.StringFixed(2))
	require.Empty(t, q.Notices)
}

func TestPriceCartGroupCoupon(t *testing.T) {
	s := store.NewSeeded()
	lines := []domain.CartLine{{ProductID: "prod-shirt", VariantID: "var-shirt-s", Qty: 10}}

	q, err := quote(t, s, domain.Cart{ClientID: "client-ana", CouponCode: "VIP50", Lines: lines})
	require.NoError(t, err)
	require.Equal(t, "50.00", q.CouponDiscount.StringFixed(2))
	require.Equal(t, "200.00", q.Total.StringFixed(2))

	q, err = quote(t, s, domain.Cart{ClientID: "client-luis", CouponCode: "VIP50", Lines: lines})
	require.NoError(t, err)
	require.True(t, q.CouponDiscount.IsZero())
	require.Equal(t, "coupon_target_mismatch", q.Notices[0].Code)

	q, err = quote(t, s, domain.Cart{CouponCode: "NOPE", Lines: lines})
	require.NoError(t, err)
	require.Equal(t, "coupon_not_found", q.Notices[0].Code)
}

func TestPriceCartTotalNeverNegative(t *testing.T) {
	s := store.NewSeeded()
	require.NoError(t, s.Update(func(tx *store.Tx) error {
		tx.PutCoupon(domain.Coupon{
			ID: "coupon-big", Code: "BIG", Type: domain.CouponFixed, Value: dec("1000"),
			StartDate: testNow.AddDate(-1, 0, 0), EndDate: testNow.AddDate(1, 0, 0), TargetType: domain.TargetGeneral,
		})
		return nil
	}))
	q, err := quote(t, s, domain.Cart{CouponCode: "BIG", Lines: []domain.CartLine{
		{ProductID: "prod-soda", Qty: 2},
		{ProductID: "prod-soda", Qty: 1, Reward: true},
	}})
	require.NoError(t, err)
	require.True(t, q.Total.IsZero(), "got %s", q.Total)
	require.False(t, q.Discount().IsNegative())
}
