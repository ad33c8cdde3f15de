package store

import (
	"maps"
	"slices"

	"kassa/backend/internal/domain"
)

func cloneProduct(src domain.Product) domain.Product {
	dst := src
	dst.Variants = slices.Clone(src.Variants)
	dst.PricingRules = slices.Clone(src.PricingRules)
	return dst
}

func cloneClient(src domain.Client) domain.Client {
	dst := src
	dst.History = slices.Clone(src.History)
	return dst
}

func cloneCoupon(src domain.Coupon) domain.Coupon {
	dst := src
	dst.ProductIDs = slices.Clone(src.ProductIDs)
	return dst
}

func cloneSale(src domain.Sale) domain.Sale {
	dst := src
	dst.Items = slices.Clone(src.Items)
	dst.Payments = slices.Clone(src.Payments)
	dst.Offers = slices.Clone(src.Offers)
	if src.RemainingCredit != nil {
		credit := *src.RemainingCredit
		dst.RemainingCredit = &credit
	}
	if src.Refunds != nil {
		dst.Refunds = make([]domain.Refund, len(src.Refunds))
		for i, r := range src.Refunds {
			r.Items = slices.Clone(r.Items)
			dst.Refunds[i] = r
		}
	}
	return dst
}

func cloneShift(src domain.Shift) domain.Shift {
	dst := src
	dst.StartCash = maps.Clone(src.StartCash)
	dst.InitialStock = maps.Clone(src.InitialStock)
	dst.Expected = slices.Clone(src.Expected)
	dst.ActualCash = maps.Clone(src.ActualCash)
	if src.ClosingAt != nil {
		at := *src.ClosingAt
		dst.ClosingAt = &at
	}
	if src.ClosedAt != nil {
		at := *src.ClosedAt
		dst.ClosedAt = &at
	}
	if src.ZReport != nil {
		report := *src.ZReport
		report.Buckets = slices.Clone(src.ZReport.Buckets)
		report.Stock = slices.Clone(src.ZReport.Stock)
		report.SalesTotals = maps.Clone(src.ZReport.SalesTotals)
		dst.ZReport = &report
	}
	return dst
}

func cloneAudit(src domain.AuditEntry) domain.AuditEntry {
	dst := src
	dst.Before = maps.Clone(src.Before)
	dst.After = maps.Clone(src.After)
	return dst
}
