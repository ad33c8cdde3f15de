package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"

	"kassa/backend/internal/audit"
	"kassa/backend/internal/domain"
	"kassa/backend/internal/fx"
	"kassa/backend/internal/licensing"
	"kassa/backend/internal/pricing"
	"kassa/backend/internal/store"
	"kassa/backend/internal/xid"
)

func (s *Service) ListProducts(ctx context.Context) ([]domain.Product, error) {
	if _, err := s.actor(ctx); err != nil {
		return nil, err
	}
	var out []domain.Product
	err := s.store.View(func(tx *store.Tx) error {
		out = tx.Products()
		return nil
	})
	return out, err
}

func (s *Service) ListClients(ctx context.Context) ([]domain.Client, error) {
	if _, err := s.actor(ctx); err != nil {
		return nil, err
	}
	var out []domain.Client
	err := s.store.View(func(tx *store.Tx) error {
		out = tx.Clients()
		return nil
	})
	return out, err
}

func (s *Service) GetClient(ctx context.Context, id string) (domain.Client, error) {
	if _, err := s.actor(ctx); err != nil {
		return domain.Client{}, err
	}
	var out domain.Client
	err := s.store.View(func(tx *store.Tx) error {
		c, err := tx.Client(id)
		out = c
		return err
	})
	return out, err
}

// TopUpCredit adds the base equivalent of the amount to a client's store
// credit.
func (s *Service) TopUpCredit(ctx context.Context, clientID string, req CreditTopUpRequest) (domain.Client, error) {
	actor, err := s.requireElevated(ctx)
	if err != nil {
		return domain.Client{}, err
	}
	if err := s.check(req); err != nil {
		return domain.Client{}, err
	}
	if !req.Amount.IsPositive() {
		return domain.Client{}, s.fail(ctx, "credit_topup", fmt.Errorf("%w: amount must be positive", domain.ErrValidation))
	}

	var out domain.Client
	err = s.store.Update(func(tx *store.Tx) error {
		client, err := tx.Client(clientID)
		if err != nil {
			return err
		}
		conv, err := fx.NewConverter(tx.Currencies())
		if err != nil {
			return err
		}
		currency := fx.NormalizeCode(req.Currency)
		if currency == "" {
			currency = conv.Base()
		}
		base, err := conv.ToBase(req.Amount, currency)
		if err != nil {
			return err
		}
		before := client.CreditBalance
		client.CreditBalance = fx.Round2(client.CreditBalance.Add(base))
		tx.PutClient(client)
		tx.AppendAudit(audit.Entry(actor, "client_credit_topup", "client", client.ID,
			map[string]string{"credit_balance": before.StringFixed(2)},
			map[string]string{"credit_balance": client.CreditBalance.StringFixed(2), "note": req.Note},
			s.now()))
		out = client
		return nil
	})
	if err != nil {
		return domain.Client{}, s.fail(ctx, "credit_topup", err)
	}
	return out, nil
}

// ListCurrencies returns the rate table, base first then by code. Currencies
// beyond the plan limit are flagged as locked but kept.
func (s *Service) ListCurrencies(ctx context.Context) ([]CurrencyView, error) {
	if _, err := s.actor(ctx); err != nil {
		return nil, err
	}
	var currencies []domain.Currency
	if err := s.store.View(func(tx *store.Tx) error {
		currencies = tx.Currencies()
		return nil
	}); err != nil {
		return nil, err
	}
	out := make([]CurrencyView, 0, len(currencies))
	for i, c := range currencies {
		out = append(out, CurrencyView{Currency: c, Locked: s.gate.SoftLocked(licensing.LimitCurrencies, i)})
	}
	return out, nil
}

// SaveCurrency adds a currency or updates the rate of an existing one. Adding
// is subject to the plan's currency limit; the base rate stays 1.
func (s *Service) SaveCurrency(ctx context.Context, req CurrencyRequest) (domain.Currency, error) {
	actor, err := s.requireElevated(ctx)
	if err != nil {
		return domain.Currency{}, err
	}
	if err := s.check(req); err != nil {
		return domain.Currency{}, err
	}
	code := fx.NormalizeCode(req.Code)
	if !req.Rate.IsPositive() {
		return domain.Currency{}, s.fail(ctx, "save_currency", fmt.Errorf("%w: rate must be positive", domain.ErrInvalidCurrency))
	}

	var out domain.Currency
	err = s.store.Update(func(tx *store.Tx) error {
		existing := tx.Currencies()
		var current *domain.Currency
		for i := range existing {
			if existing[i].Code == code {
				current = &existing[i]
			}
		}
		before := map[string]string{}
		if current == nil {
			if err := s.gate.RequireLimit(licensing.LimitCurrencies, len(existing)+1); err != nil {
				return err
			}
			out = domain.Currency{Code: code, Symbol: req.Symbol, Rate: req.Rate}
		} else {
			if current.IsBase && !req.Rate.Equal(decimal.NewFromInt(1)) {
				return fmt.Errorf("%w: base currency rate must be 1", domain.ErrInvalidCurrency)
			}
			before["rate"] = current.Rate.String()
			out = *current
			out.Rate = req.Rate
			if req.Symbol != "" {
				out.Symbol = req.Symbol
			}
		}
		if _, err := fx.NewConverter(append(withoutCode(existing, code), out)); err != nil {
			return err
		}
		tx.PutCurrency(out)
		tx.AppendAudit(audit.Entry(actor, "currency_save", "currency", code, before,
			map[string]string{"rate": out.Rate.String()}, s.now()))
		return nil
	})
	if err != nil {
		return domain.Currency{}, s.fail(ctx, "save_currency", err)
	}
	return out, nil
}

func withoutCode(currencies []domain.Currency, code string) []domain.Currency {
	out := make([]domain.Currency, 0, len(currencies))
	for _, c := range currencies {
		if c.Code != code {
			out = append(out, c)
		}
	}
	return out
}

// CreatePricingRule attaches a volume price to a product or one of its
// variants. Overlapping active rules are rejected.
func (s *Service) CreatePricingRule(ctx context.Context, req PricingRuleRequest) (domain.PricingRule, error) {
	actor, err := s.requireElevated(ctx)
	if err != nil {
		return domain.PricingRule{}, err
	}
	if err := s.gate.RequireFeature(licensing.FeatureVolumePricing); err != nil {
		return domain.PricingRule{}, s.fail(ctx, "create_pricing_rule", err)
	}
	if err := s.check(req); err != nil {
		return domain.PricingRule{}, err
	}

	rule := domain.PricingRule{
		ID:        xid.New("rule"),
		TargetID:  req.ProductID,
		MinQty:    req.MinQty,
		MaxQty:    req.MaxQty,
		NewPrice:  req.NewPrice,
		StartDate: req.StartDate,
		EndDate:   req.EndDate,
		Active:    true,
	}
	if req.VariantID != "" {
		rule.TargetID = req.VariantID
	}
	err = s.store.Update(func(tx *store.Tx) error {
		product, err := tx.Product(req.ProductID)
		if err != nil {
			return err
		}
		updated, err := pricing.AddRule(product, rule)
		if err != nil {
			return err
		}
		tx.PutProduct(updated)
		tx.AppendAudit(audit.Entry(actor, "pricing_rule_create", "product", product.ID, nil,
			map[string]string{
				"rule_id":   rule.ID,
				"target_id": rule.TargetID,
				"qty":       fmt.Sprintf("%d-%d", rule.MinQty, rule.MaxQty),
				"new_price": rule.NewPrice.String(),
			}, s.now()))
		return nil
	})
	if err != nil {
		return domain.PricingRule{}, s.fail(ctx, "create_pricing_rule", err)
	}
	return rule, nil
}

func (s *Service) DeactivatePricingRule(ctx context.Context, ruleID string) (domain.PricingRule, error) {
	actor, err := s.requireElevated(ctx)
	if err != nil {
		return domain.PricingRule{}, err
	}
	var out domain.PricingRule
	err = s.store.Update(func(tx *store.Tx) error {
		for _, product := range tx.Products() {
			for i, r := range product.PricingRules {
				if r.ID != ruleID {
					continue
				}
				product.PricingRules = append([]domain.PricingRule(nil), product.PricingRules...)
				product.PricingRules[i].Active = false
				tx.PutProduct(product)
				tx.AppendAudit(audit.Entry(actor, "pricing_rule_deactivate", "product", product.ID,
					map[string]string{"rule_id": r.ID, "active": "true"},
					map[string]string{"rule_id": r.ID, "active": "false"}, s.now()))
				out = product.PricingRules[i]
				return nil
			}
		}
		return fmt.Errorf("%w: pricing rule %s", domain.ErrNotFound, ruleID)
	})
	if err != nil {
		return domain.PricingRule{}, s.fail(ctx, "deactivate_pricing_rule", err)
	}
	return out, nil
}

func (s *Service) ListOffers(ctx context.Context) ([]domain.BogoOffer, error) {
	if _, err := s.actor(ctx); err != nil {
		return nil, err
	}
	var out []domain.BogoOffer
	err := s.store.View(func(tx *store.Tx) error {
		out = tx.Offers()
		return nil
	})
	return out, err
}

func (s *Service) CreateOffer(ctx context.Context, req OfferRequest) (domain.BogoOffer, error) {
	actor, err := s.requireElevated(ctx)
	if err != nil {
		return domain.BogoOffer{}, err
	}
	if err := s.gate.RequireFeature(licensing.FeatureBogo); err != nil {
		return domain.BogoOffer{}, s.fail(ctx, "create_offer", err)
	}
	if err := s.check(req); err != nil {
		return domain.BogoOffer{}, err
	}
	offer := domain.BogoOffer{
		ID:           xid.New("offer"),
		Name:         strings.TrimSpace(req.Name),
		BuyProductID: req.BuyProductID,
		GetProductID: req.GetProductID,
		BuyQty:       req.BuyQty,
		GetQty:       req.GetQty,
		RewardType:   domain.RewardType(req.RewardType),
		RewardValue:  req.RewardValue,
		StartAt:      req.StartAt.UTC(),
		EndAt:        req.EndAt.UTC(),
		Status:       domain.OfferActive,
	}
	if err := pricing.CheckOffer(offer); err != nil {
		return domain.BogoOffer{}, s.fail(ctx, "create_offer", err)
	}
	err = s.store.Update(func(tx *store.Tx) error {
		for _, id := range []string{offer.BuyProductID, offer.GetProductID} {
			if _, err := tx.Product(id); err != nil {
				return err
			}
		}
		tx.PutOffer(offer)
		tx.AppendAudit(audit.Entry(actor, "offer_create", "offer", offer.ID, nil,
			map[string]string{"name": offer.Name, "reward_type": string(offer.RewardType)}, s.now()))
		return nil
	})
	if err != nil {
		return domain.BogoOffer{}, s.fail(ctx, "create_offer", err)
	}
	return offer, nil
}

// SetOfferStatus pauses or resumes an offer.
func (s *Service) SetOfferStatus(ctx context.Context, offerID string, req OfferStatusRequest) (domain.BogoOffer, error) {
	actor, err := s.requireElevated(ctx)
	if err != nil {
		return domain.BogoOffer{}, err
	}
	if err := s.check(req); err != nil {
		return domain.BogoOffer{}, err
	}
	var out domain.BogoOffer
	err = s.store.Update(func(tx *store.Tx) error {
		offer, err := tx.Offer(offerID)
		if err != nil {
			return err
		}
		before := offer.Status
		offer.Status = domain.OfferStatus(req.Status)
		tx.PutOffer(offer)
		tx.AppendAudit(audit.Entry(actor, "offer_status", "offer", offer.ID,
			map[string]string{"status": string(before)},
			map[string]string{"status": string(offer.Status)}, s.now()))
		out = offer
		return nil
	})
	if err != nil {
		return domain.BogoOffer{}, s.fail(ctx, "offer_status", err)
	}
	return out, nil
}

func (s *Service) ListCoupons(ctx context.Context) ([]domain.Coupon, error) {
	if _, err := s.requireElevated(ctx); err != nil {
		return nil, err
	}
	var out []domain.Coupon
	err := s.store.View(func(tx *store.Tx) error {
		out = tx.Coupons()
		return nil
	})
	return out, err
}

func (s *Service) CreateCoupon(ctx context.Context, req CouponRequest) (domain.Coupon, error) {
	actor, err := s.requireElevated(ctx)
	if err != nil {
		return domain.Coupon{}, err
	}
	if err := s.gate.RequireFeature(licensing.FeatureCoupons); err != nil {
		return domain.Coupon{}, s.fail(ctx, "create_coupon", err)
	}
	if err := s.check(req); err != nil {
		return domain.Coupon{}, err
	}
	coupon := domain.Coupon{
		ID:               xid.New("coupon"),
		Code:             strings.ToUpper(strings.TrimSpace(req.Code)),
		Type:             domain.CouponType(req.Type),
		Value:            req.Value,
		StartDate:        req.StartDate.UTC(),
		EndDate:          req.EndDate.UTC(),
		UsageLimit:       req.UsageLimit,
		TargetType:       domain.CouponTarget(req.TargetType),
		TargetID:         req.TargetID,
		MinInvoiceAmount: req.MinInvoiceAmount,
		ProductIDs:       req.ProductIDs,
	}
	if err := pricing.CheckCoupon(coupon); err != nil {
		return domain.Coupon{}, s.fail(ctx, "create_coupon", err)
	}
	err = s.store.Update(func(tx *store.Tx) error {
		if _, err := tx.CouponByCode(coupon.Code); err == nil {
			return fmt.Errorf("%w: code %s already exists", domain.ErrInvalidCoupon, coupon.Code)
		}
		if coupon.TargetType == domain.TargetClient {
			if _, err := tx.Client(coupon.TargetID); err != nil {
				return err
			}
		}
		tx.PutCoupon(coupon)
		tx.AppendAudit(audit.Entry(actor, "coupon_create", "coupon", coupon.ID, nil,
			map[string]string{"code": coupon.Code, "type": string(coupon.Type), "value": coupon.Value.String()}, s.now()))
		return nil
	})
	if err != nil {
		return domain.Coupon{}, s.fail(ctx, "create_coupon", err)
	}
	s.logger.Info("coupon created", slog.String("code", coupon.Code), slog.String("by", actor.Username))
	return coupon, nil
}

// SuspendCoupon stops a coupon from validating without deleting it.
func (s *Service) SuspendCoupon(ctx context.Context, code string) (domain.Coupon, error) {
	actor, err := s.requireElevated(ctx)
	if err != nil {
		return domain.Coupon{}, err
	}
	var out domain.Coupon
	err = s.store.Update(func(tx *store.Tx) error {
		coupon, err := tx.CouponByCode(code)
		if err != nil {
			return err
		}
		coupon.Suspended = true
		tx.PutCoupon(coupon)
		tx.AppendAudit(audit.Entry(actor, "coupon_suspend", "coupon", coupon.ID,
			map[string]string{"suspended": "false"}, map[string]string{"suspended": "true"}, s.now()))
		out = coupon
		return nil
	})
	if err != nil {
		return domain.Coupon{}, s.fail(ctx, "suspend_coupon", err)
	}
	return out, nil
}
