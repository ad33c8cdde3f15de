package store

import (
	"time"

	"github.com/shopspring/decimal"

	"kassa/backend/internal/domain"
)

func money(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// NewSeeded returns a store with a demo catalog for dev mode and tests.
// It carries no user accounts; see auth.Bootstrap.
func NewSeeded() *Store {
	s := New()
	from := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	until := time.Date(2099, 12, 31, 23, 59, 59, 0, time.UTC)

	currencies := []domain.Currency{
		{Code: "CUP", Symbol: "$", Rate: money("1"), IsBase: true},
		{Code: "USD", Symbol: "US$", Rate: money("120")},
		{Code: "EUR", Symbol: "€", Rate: money("130")},
	}
	products := []domain.Product{
		{ID: "prod-coffee", SKU: "CAF-250", Name: "Ground Coffee 250g", Cost: money("6"), Price: money("10"), Stock: 100, Active: true},
		{ID: "prod-rice", SKU: "ARZ-1KG", Name: "Rice 1kg", Cost: money("3"), Price: money("4.50"), Stock: 200, Active: true,
			PricingRules: []domain.PricingRule{
				{ID: "rule-rice-bulk", TargetID: "prod-rice", MinQty: 10, MaxQty: 99, NewPrice: money("4.00"), Active: true},
			},
		},
		{ID: "prod-soda", SKU: "REF-CAN", Name: "Soda Can", Cost: money("1.20"), Price: money("2.50"), Stock: 150, Active: true},
		{ID: "prod-cookies", SKU: "GAL-200", Name: "Cookies 200g", Cost: money("1.50"), Price: money("3"), Stock: 80, Active: true},
		{ID: "prod-shirt", SKU: "CAM-001", Name: "T-Shirt", Cost: money("12"), Price: money("25"), Stock: 0, Active: true,
			Variants: []domain.Variant{
				{ID: "var-shirt-s", Name: "T-Shirt S", Cost: money("12"), Price: money("25"), Stock: 20},
				{ID: "var-shirt-l", Name: "T-Shirt L", Cost: money("13"), Price: money("27"), Stock: 15},
			},
		},
	}
	clients := []domain.Client{
		{ID: "client-ana", Name: "Ana Perez", GroupID: "group-vip", CreditBalance: money("100")},
		{ID: "client-luis", Name: "Luis Gomez", CreditBalance: money("0")},
	}
	coupons := []domain.Coupon{
		{ID: "coupon-welcome", Code: "WELCOME10", Type: domain.CouponPercentage, Value: money("10"),
			StartDate: from, EndDate: until, TargetType: domain.TargetGeneral, MinInvoiceAmount: money("0")},
		{ID: "coupon-vip", Code: "VIP50", Type: domain.CouponFixed, Value: money("50"),
			StartDate: from, EndDate: until, UsageLimit: 100, TargetType: domain.TargetGroup, TargetID: "group-vip",
			MinInvoiceAmount: money("200")},
	}
	offers := []domain.BogoOffer{
		{ID: "offer-soda", Name: "Soda 2+1", BuyProductID: "prod-soda", GetProductID: "prod-soda", BuyQty: 2, GetQty: 1,
			RewardType: domain.RewardFree, RewardValue: money("0"), StartAt: from, EndAt: until, Status: domain.OfferActive},
	}

	for _, c := range currencies {
		s.state.Currencies[c.Code] = c
	}
	for _, p := range products {
		s.state.Products[p.ID] = p
	}
	for _, c := range clients {
		s.state.Clients[c.ID] = c
	}
	for _, c := range coupons {
		s.state.Coupons[c.ID] = c
	}
	for _, o := range offers {
		s.state.Offers[o.ID] = o
	}
	s.state.Business = domain.Business{Name: "Kassa Demo"}
	return s
}
