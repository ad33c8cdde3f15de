package shift

import (
	"context"
	"fmt"
	"slices"
	"sort"
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

// CountTolerance is the largest difference between expected and counted
// amounts that still lets a shift close.
var CountTolerance = decimal.RequireFromString("0.01")

// PINResolver turns a secondary PIN into the elevated user it belongs to.
type PINResolver interface {
	ResolvePIN(ctx context.Context, pin string) (domain.Actor, error)
}

// Close carries the operator's counted amounts and, for non-elevated
// operators, a supervisor PIN. Buckets missing from Actual count as zero.
type Close struct {
	Actual map[domain.BucketKey]decimal.Decimal
	PIN    string
}

// Manager drives the CLOSED -> OPEN -> CLOSING -> CLOSED cash drawer cycle.
type Manager struct {
	store *store.Store
	pins  PINResolver
	now   func() time.Time
}

func New(s *store.Store, pins PINResolver, now func() time.Time) *Manager {
	if now == nil {
		now = time.Now
	}
	return &Manager{store: s, pins: pins, now: now}
}

func (m *Manager) Active(_ context.Context) (domain.Shift, error) {
	var out domain.Shift
	err := m.store.View(func(tx *store.Tx) error {
		shift, ok := tx.ActiveShift()
		if !ok {
			return domain.ErrNoOpenShift
		}
		out = shift
		return nil
	})
	return out, err
}

func (m *Manager) Get(_ context.Context, id string) (domain.Shift, error) {
	var out domain.Shift
	err := m.store.View(func(tx *store.Tx) error {
		shift, err := tx.Shift(id)
		out = shift
		return err
	})
	return out, err
}

// Open starts a shift with the given float per currency and snapshots stock.
func (m *Manager) Open(_ context.Context, actor domain.Actor, startCash map[string]decimal.Decimal) (domain.Shift, error) {
	if actor.Username == "" {
		return domain.Shift{}, domain.ErrUnauthenticated
	}
	var out domain.Shift
	err := m.store.Update(func(tx *store.Tx) error {
		if active, ok := tx.ActiveShift(); ok {
			return fmt.Errorf("%w: %s is %s", domain.ErrShiftAlreadyOpen, active.ID, strings.ToLower(string(active.Status)))
		}
		conv, err := fx.NewConverter(tx.Currencies())
		if err != nil {
			return err
		}
		float := make(map[string]decimal.Decimal, len(startCash))
		for code, amount := range startCash {
			code = fx.NormalizeCode(code)
			if !conv.Has(code) {
				return &fx.MissingRateError{Code: code}
			}
			if amount.IsNegative() {
				return fmt.Errorf("%w: negative start cash for %s", domain.ErrValidation, code)
			}
			float[code] = fx.Round2(amount)
		}
		if _, ok := float[conv.Base()]; !ok {
			float[conv.Base()] = decimal.Zero
		}

		now := m.now().UTC()
		shift := domain.Shift{
			ID:           xid.New("shift"),
			Status:       domain.ShiftOpen,
			OpenedAt:     now,
			OpenedBy:     actor.Username,
			StartCash:    float,
			InitialStock: StockSnapshot(tx.Products()),
		}
		tx.PutShift(shift)
		business := tx.Business()
		business.ActiveShiftID = shift.ID
		tx.SetBusiness(business)

		after := map[string]string{"status": string(shift.Status)}
		for code, amount := range float {
			after["start_cash_"+code] = amount.StringFixed(2)
		}
		tx.AppendAudit(audit.Entry(actor, "shift_open", "shift", shift.ID, nil, after, now))
		out = shift
		return nil
	})
	return out, err
}

// BeginClosing freezes sales and computes the expected amount per bucket.
func (m *Manager) BeginClosing(_ context.Context, actor domain.Actor) (domain.Shift, error) {
	if actor.Username == "" {
		return domain.Shift{}, domain.ErrUnauthenticated
	}
	var out domain.Shift
	err := m.store.Update(func(tx *store.Tx) error {
		shift, ok := tx.ActiveShift()
		if !ok || shift.Status != domain.ShiftOpen {
			return domain.ErrNoOpenShift
		}
		expected, err := ExpectedBuckets(tx.Ledger(), tx.Sales(), shift)
		if err != nil {
			return err
		}
		now := m.now().UTC()
		shift.Status = domain.ShiftClosing
		shift.Expected = expected
		shift.ClosingAt = &now
		tx.PutShift(shift)

		after := map[string]string{"status": string(shift.Status)}
		for _, b := range expected {
			after["expected_"+b.Key().String()] = b.Expected.StringFixed(2)
		}
		tx.AppendAudit(audit.Entry(actor, "shift_begin_closing", "shift", shift.ID,
			map[string]string{"status": string(domain.ShiftOpen)}, after, now))
		out = shift
		return nil
	})
	return out, err
}

// CancelClosing reopens a shift that is being counted.
func (m *Manager) CancelClosing(_ context.Context, actor domain.Actor) (domain.Shift, error) {
	if actor.Username == "" {
		return domain.Shift{}, domain.ErrUnauthenticated
	}
	var out domain.Shift
	err := m.store.Update(func(tx *store.Tx) error {
		shift, ok := tx.ActiveShift()
		if !ok || shift.Status != domain.ShiftClosing {
			return domain.ErrShiftNotClosing
		}
		now := m.now().UTC()
		shift.Status = domain.ShiftOpen
		shift.Expected = nil
		shift.ClosingAt = nil
		tx.PutShift(shift)
		tx.AppendAudit(audit.Entry(actor, "shift_cancel_closing", "shift", shift.ID,
			map[string]string{"status": string(domain.ShiftClosing)},
			map[string]string{"status": string(domain.ShiftOpen)}, now))
		out = shift
		return nil
	})
	return out, err
}

// CommitClose closes a CLOSING shift when every counted bucket matches. A
// non-elevated actor also needs a PIN resolving to an elevated user.
func (m *Manager) CommitClose(ctx context.Context, actor domain.Actor, in Close) (domain.Shift, error) {
	if actor.Username == "" {
		return domain.Shift{}, domain.ErrUnauthenticated
	}
	authorizer, authErr := m.authorize(ctx, actor, in.PIN)

	var out domain.Shift
	err := m.store.Update(func(tx *store.Tx) error {
		shift, ok := tx.ActiveShift()
		if !ok || shift.Status != domain.ShiftClosing {
			return domain.ErrShiftNotClosing
		}
		buckets := Reconcile(shift.Expected, in.Actual)
		var mismatched []domain.Bucket
		for _, b := range buckets {
			if b.Difference.Abs().GreaterThan(CountTolerance) {
				mismatched = append(mismatched, b)
			}
		}
		if len(mismatched) > 0 {
			return &domain.DiscrepancyError{ShiftID: shift.ID, Buckets: mismatched}
		}
		if authErr != nil {
			return authErr
		}

		conv, err := fx.NewConverter(tx.Currencies())
		if err != nil {
			return err
		}
		now := m.now().UTC()
		report, err := BuildZReport(shift, buckets, tx.Sales(), tx.Products(), conv, now)
		if err != nil {
			return err
		}

		actualCash := map[string]decimal.Decimal{}
		for _, b := range buckets {
			if b.Method == domain.PaymentCash {
				actualCash[b.Currency] = b.Actual
			}
		}
		shift.Status = domain.ShiftClosed
		shift.ClosedAt = &now
		shift.ClosedBy = actor.Username
		shift.AuthorizedBy = authorizer.Username
		shift.ActualCash = actualCash
		shift.ZReport = &report
		tx.PutShift(shift)

		business := tx.Business()
		business.ActiveShiftID = ""
		tx.SetBusiness(business)

		tx.AppendAudit(audit.Entry(actor, "shift_close", "shift", shift.ID,
			map[string]string{"status": string(domain.ShiftClosing)},
			map[string]string{
				"status":        string(domain.ShiftClosed),
				"authorized_by": authorizer.Username,
				"sales":         fmt.Sprint(report.SalesCount),
				"sales_base":    report.SalesTotalBase.StringFixed(2),
			}, now))
		out = shift
		return nil
	})
	return out, err
}

// authorize resolves who vouches for the close. The error is held back until
// the count has been checked.
func (m *Manager) authorize(ctx context.Context, actor domain.Actor, pin string) (domain.Actor, error) {
	if actor.Elevated() {
		return actor, nil
	}
	if strings.TrimSpace(pin) == "" || m.pins == nil {
		return domain.Actor{}, fmt.Errorf("%w: closing a shift needs a manager pin", domain.ErrElevationRequired)
	}
	resolved, err := m.pins.ResolvePIN(ctx, pin)
	if err != nil {
		return domain.Actor{}, err
	}
	if !resolved.Elevated() {
		return domain.Actor{}, fmt.Errorf("%w: pin does not belong to a manager", domain.ErrElevationRequired)
	}
	return resolved, nil
}

var methodOrder = map[domain.PaymentMethod]int{
	domain.PaymentCash:     0,
	domain.PaymentCard:     1,
	domain.PaymentTransfer: 2,
	domain.PaymentCredit:   3,
	domain.PaymentNone:     4,
}

func sortBuckets(buckets []domain.Bucket) {
	sort.Slice(buckets, func(i, j int) bool {
		a, b := buckets[i], buckets[j]
		if a.Method != b.Method {
			return methodOrder[a.Method] < methodOrder[b.Method]
		}
		return a.Currency < b.Currency
	})
}

// ExpectedBuckets computes what should be in each (method, currency) bucket.
// Cash comes from the ledger replay, other methods from the shift's sale legs.
func ExpectedBuckets(entries []domain.LedgerEntry, sales []domain.Sale, shift domain.Shift) ([]domain.Bucket, error) {
	cash, err := ledger.CashOnHand(entries, shift)
	if err != nil {
		return nil, err
	}
	totals := map[domain.BucketKey]decimal.Decimal{}
	for code, amount := range cash {
		totals[domain.BucketKey{Method: domain.PaymentCash, Currency: code}] = amount
	}
	for _, sale := range sales {
		if sale.ShiftID != shift.ID {
			continue
		}
		for _, leg := range sale.Payments {
			switch leg.Method {
			case domain.PaymentCash, domain.PaymentNone:
				continue
			case domain.PaymentCard, domain.PaymentTransfer, domain.PaymentCredit:
				key := domain.BucketKey{Method: leg.Method, Currency: leg.Currency}
				totals[key] = totals[key].Add(leg.Amount)
			default:
				return nil, fmt.Errorf("%w: unknown payment method %q on sale %s", domain.ErrSystem, leg.Method, sale.ID)
			}
		}
	}
	out := make([]domain.Bucket, 0, len(totals))
	for key, amount := range totals {
		out = append(out, domain.Bucket{Method: key.Method, Currency: key.Currency, Expected: fx.Round2(amount)})
	}
	sortBuckets(out)
	return out, nil
}

// Reconcile pairs expected buckets with counted amounts. Counted buckets that
// were not expected show up with a zero expectation.
func Reconcile(expected []domain.Bucket, actual map[domain.BucketKey]decimal.Decimal) []domain.Bucket {
	out := make([]domain.Bucket, 0, len(expected)+len(actual))
	seen := make(map[domain.BucketKey]struct{}, len(expected))
	for _, b := range expected {
		counted := fx.Round2(actual[b.Key()])
		seen[b.Key()] = struct{}{}
		out = append(out, domain.Bucket{
			Method:     b.Method,
			Currency:   b.Currency,
			Expected:   b.Expected,
			Actual:     counted,
			Difference: counted.Sub(b.Expected),
		})
	}
	for key, amount := range actual {
		if _, ok := seen[key]; ok {
			continue
		}
		counted := fx.Round2(amount)
		out = append(out, domain.Bucket{
			Method:     key.Method,
			Currency:   key.Currency,
			Expected:   decimal.Zero,
			Actual:     counted,
			Difference: counted,
		})
	}
	sortBuckets(out)
	return out
}

// StockSnapshot records the stock of every product and variant.
func StockSnapshot(products []domain.Product) map[string]int {
	out := make(map[string]int, len(products))
	for _, p := range products {
		out[domain.StockKey(p.ID, "")] = p.Stock
		for _, v := range p.Variants {
			out[domain.StockKey(p.ID, v.ID)] = v.Stock
		}
	}
	return out
}

// BuildZReport summarises a shift at close.
func BuildZReport(shift domain.Shift, buckets []domain.Bucket, sales []domain.Sale, products []domain.Product, conv *fx.Converter, closedAt time.Time) (domain.ZReport, error) {
	report := domain.ZReport{
		ShiftID:        shift.ID,
		OpenedAt:       shift.OpenedAt,
		ClosedAt:       closedAt,
		Buckets:        buckets,
		SalesTotals:    map[string]decimal.Decimal{},
		SalesTotalBase: decimal.Zero,
		DiscountBase:   decimal.Zero,
		RefundsBase:    decimal.Zero,
	}
	sold := map[string]int{}
	refunded := map[string]int{}
	for _, sale := range sales {
		if sale.ShiftID == shift.ID {
			report.SalesCount++
			report.SalesTotals[sale.Currency] = report.SalesTotals[sale.Currency].Add(sale.Total)
			base, err := conv.ToBase(sale.Total, sale.Currency)
			if err != nil {
				return domain.ZReport{}, err
			}
			report.SalesTotalBase = report.SalesTotalBase.Add(base)
			discount, err := conv.ToBase(sale.BogoDiscount.Add(sale.CouponDiscount), sale.Currency)
			if err != nil {
				return domain.ZReport{}, err
			}
			report.DiscountBase = report.DiscountBase.Add(discount)
			for _, item := range sale.Items {
				sold[domain.StockKey(item.ProductID, item.VariantID)] += item.Qty
			}
		}
		for _, r := range sale.Refunds {
			if r.ShiftID != shift.ID && (r.ShiftID != "" || r.CreatedAt.Before(shift.OpenedAt)) {
				continue
			}
			report.RefundsBase = report.RefundsBase.Add(r.TotalBase)
			for _, ri := range r.Items {
				item, _ := sale.Item(ri.CartID)
				refunded[domain.StockKey(item.ProductID, item.VariantID)] += ri.Qty
			}
		}
	}
	for code, total := range report.SalesTotals {
		report.SalesTotals[code] = fx.Round2(total)
	}
	report.SalesTotalBase = fx.Round2(report.SalesTotalBase)
	report.DiscountBase = fx.Round2(report.DiscountBase)
	report.RefundsBase = fx.Round2(report.RefundsBase)

	names := map[string]string{}
	final := map[string]int{}
	for _, p := range products {
		names[p.ID] = p.Name
		final[p.ID] = p.Stock
		for _, v := range p.Variants {
			key := domain.StockKey(p.ID, v.ID)
			names[key] = v.Name
			final[key] = v.Stock
		}
	}
	keys := make([]string, 0, len(final))
	for key := range final {
		keys = append(keys, key)
	}
	for key := range shift.InitialStock {
		if _, ok := final[key]; !ok {
			keys = append(keys, key)
		}
	}
	slices.Sort(keys)
	for _, key := range keys {
		report.Stock = append(report.Stock, domain.StockMovement{
			Key:      key,
			Name:     names[key],
			Initial:  shift.InitialStock[key],
			Sold:     sold[key],
			Refunded: refunded[key],
			Final:    final[key],
		})
	}
	return report, nil
}
