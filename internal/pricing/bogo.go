package pricing

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"kassa/backend/internal/domain"
	"kassa/backend/internal/fx"
)

var hundred = decimal.NewFromInt(100)

// Applications is how many times an offer fires for the given trigger and
// reward quantities.
func Applications(offer domain.BogoOffer, triggerQty int, rewardQty int) int {
	if offer.BuyQty < 1 || offer.GetQty < 1 || triggerQty < 1 || rewardQty < 1 {
		return 0
	}
	return min(triggerQty/offer.BuyQty, rewardQty/offer.GetQty)
}

// DiscountPerApplication applies the reward to the reward line's effective
// unit price. fixedPrice is the FIXED_PRICE value in the sale currency.
func DiscountPerApplication(offer domain.BogoOffer, unitPrice decimal.Decimal, fixedPrice decimal.Decimal) (decimal.Decimal, error) {
	qty := decimal.NewFromInt(int64(offer.GetQty))
	switch offer.RewardType {
	case domain.RewardFree:
		return unitPrice.Mul(qty), nil
	case domain.RewardPercentDiscount:
		return unitPrice.Mul(offer.RewardValue).Div(hundred).Mul(qty), nil
	case domain.RewardFixedPrice:
		return decimal.Max(decimal.Zero, unitPrice.Sub(fixedPrice)).Mul(qty), nil
	}
	return decimal.Zero, fmt.Errorf("%w: reward type %q", domain.ErrInvalidOffer, offer.RewardType)
}

// BogoDiscount sums every effective offer independently. Offers that share
// cart lines all apply.
func BogoDiscount(lines []QuoteLine, offers []domain.BogoOffer, conv *fx.Converter, currency string, now time.Time) (decimal.Decimal, []domain.AppliedOffer, error) {
	total := decimal.Zero
	var applied []domain.AppliedOffer
	for _, offer := range offers {
		if !offer.EffectiveAt(now) {
			continue
		}
		trigger, reward := offerLines(lines, offer)
		if trigger == nil || reward == nil {
			continue
		}
		n := Applications(offer, trigger.Qty, reward.Qty)
		if n == 0 {
			continue
		}
		fixed := decimal.Zero
		if offer.RewardType == domain.RewardFixedPrice {
			converted, err := conv.FromBase(offer.RewardValue, currency)
			if err != nil {
				return decimal.Zero, nil, err
			}
			fixed = converted
		}
		per, err := DiscountPerApplication(offer, reward.UnitPrice, fixed)
		if err != nil {
			return decimal.Zero, nil, err
		}
		discount := per.Mul(decimal.NewFromInt(int64(n)))
		total = total.Add(discount)
		applied = append(applied, domain.AppliedOffer{
			OfferID:      offer.ID,
			Name:         offer.Name,
			Applications: n,
			Discount:     fx.Round2(discount),
		})
	}
	return total, applied, nil
}

// offerLines finds the trigger and reward lines of an offer. Only
// parent-product lines take part. The reward is the line flagged as reward;
// when buy and get products differ any line of the get product will do.
func offerLines(lines []QuoteLine, offer domain.BogoOffer) (*QuoteLine, *QuoteLine) {
	var trigger, reward, fallback *QuoteLine
	for i := range lines {
		line := &lines[i]
		if line.VariantID != "" {
			continue
		}
		if trigger == nil && line.ProductID == offer.BuyProductID && !line.Reward {
			trigger = line
			continue
		}
		if line.ProductID != offer.GetProductID {
			continue
		}
		if line.Reward && reward == nil {
			reward = line
		}
		if !line.Reward && fallback == nil && offer.BuyProductID != offer.GetProductID {
			fallback = line
		}
	}
	if reward == nil {
		reward = fallback
	}
	return trigger, reward
}
