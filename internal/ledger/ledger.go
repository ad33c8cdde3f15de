package ledger

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"kassa/backend/internal/audit"
	"kassa/backend/internal/domain"
	"kassa/backend/internal/fx"
	"kassa/backend/internal/store"
	"kassa/backend/internal/xid"
)

// CashOnHand replays the ledger for one shift. Only CASH entries that move
// money and were written at or after the shift opened count.
func CashOnHand(entries []domain.LedgerEntry, shift domain.Shift) (map[string]decimal.Decimal, error) {
	out := make(map[string]decimal.Decimal, len(shift.StartCash))
	for code, amount := range shift.StartCash {
		out[code] = amount
	}
	for _, e := range entries {
		if e.Method != domain.PaymentCash || !e.AffectsCash || e.Timestamp.Before(shift.OpenedAt) {
			continue
		}
		switch e.Direction {
		case domain.DirectionIn:
			out[e.Currency] = out[e.Currency].Add(e.Amount)
		case domain.DirectionOut:
			out[e.Currency] = out[e.Currency].Sub(e.Amount)
		default:
			return nil, fmt.Errorf("%w: unknown direction %q on ledger entry %s", domain.ErrSystem, e.Direction, e.ID)
		}
	}
	return out, nil
}

// CashOnHandBase is CashOnHand summed in base currency.
func CashOnHandBase(entries []domain.LedgerEntry, shift domain.Shift, conv *fx.Converter) (decimal.Decimal, error) {
	held, err := CashOnHand(entries, shift)
	if err != nil {
		return decimal.Zero, err
	}
	total := decimal.Zero
	for code, amount := range held {
		base, err := conv.ToBase(amount, code)
		if err != nil {
			return decimal.Zero, err
		}
		total = total.Add(base)
	}
	return total, nil
}

// Filter selects ledger entries. Zero fields match everything.
type Filter struct {
	ShiftID string
	Type    domain.LedgerType
	Method  domain.PaymentMethod
	Limit   int
}

// Movements returns matching entries newest first.
func Movements(entries []domain.LedgerEntry, f Filter) []domain.LedgerEntry {
	out := make([]domain.LedgerEntry, 0)
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		if f.ShiftID != "" && e.ShiftID != f.ShiftID {
			continue
		}
		if f.Type != "" && e.Type != f.Type {
			continue
		}
		if f.Method != "" && e.Method != f.Method {
			continue
		}
		out = append(out, e)
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out
}

// Cash is the cash-on-hand view of the active shift.
type Cash struct {
	ShiftID      string                     `json:"shift_id"`
	ByCurrency   map[string]decimal.Decimal `json:"by_currency"`
	BaseCurrency string                     `json:"base_currency"`
	Base         decimal.Decimal            `json:"base"`
}

// Movement is a manual cash deposit or withdrawal.
type Movement struct {
	Type     domain.LedgerType
	Amount   decimal.Decimal
	Currency string
	Note     string
}

// Book reads and records cash movements against the store.
type Book struct {
	store *store.Store
	now   func() time.Time
}

func NewBook(s *store.Store, now func() time.Time) *Book {
	if now == nil {
		now = time.Now
	}
	return &Book{store: s, now: now}
}

// Cash reports cash on hand for the active shift.
func (b *Book) Cash(_ context.Context) (Cash, error) {
	var out Cash
	err := b.store.View(func(tx *store.Tx) error {
		shift, ok := tx.ActiveShift()
		if !ok {
			return domain.ErrNoOpenShift
		}
		conv, err := fx.NewConverter(tx.Currencies())
		if err != nil {
			return err
		}
		entries := tx.Ledger()
		held, err := CashOnHand(entries, shift)
		if err != nil {
			return err
		}
		base, err := CashOnHandBase(entries, shift, conv)
		if err != nil {
			return err
		}
		out = Cash{
			ShiftID:      shift.ID,
			ByCurrency:   held,
			BaseCurrency: conv.Base(),
			Base:         fx.Round2(base),
		}
		return nil
	})
	return out, err
}

// Movements lists ledger entries matching f.
func (b *Book) Movements(_ context.Context, f Filter) ([]domain.LedgerEntry, error) {
	var out []domain.LedgerEntry
	err := b.store.View(func(tx *store.Tx) error {
		out = Movements(tx.Ledger(), f)
		return nil
	})
	return out, err
}

// RecordMovement appends a DEPOSIT (IN) or WITHDRAWAL (OUT) cash entry to the
// open shift. A withdrawal may not exceed the cash held in its currency.
func (b *Book) RecordMovement(_ context.Context, actor domain.Actor, m Movement) (domain.LedgerEntry, error) {
	if actor.Username == "" {
		return domain.LedgerEntry{}, domain.ErrUnauthenticated
	}
	var direction domain.LedgerDirection
	switch m.Type {
	case domain.LedgerDeposit:
		direction = domain.DirectionIn
	case domain.LedgerWithdrawal:
		direction = domain.DirectionOut
	default:
		return domain.LedgerEntry{}, fmt.Errorf("%w: movement type %q", domain.ErrValidation, m.Type)
	}
	if !m.Amount.IsPositive() {
		return domain.LedgerEntry{}, fmt.Errorf("%w: amount must be positive", domain.ErrValidation)
	}

	var entry domain.LedgerEntry
	err := b.store.Update(func(tx *store.Tx) error {
		shift, ok := tx.ActiveShift()
		if !ok || shift.Status != domain.ShiftOpen {
			return domain.ErrNoOpenShift
		}
		conv, err := fx.NewConverter(tx.Currencies())
		if err != nil {
			return err
		}
		currency := fx.NormalizeCode(m.Currency)
		if currency == "" {
			currency = conv.Base()
		}
		if !conv.Has(currency) {
			return &fx.MissingRateError{Code: currency}
		}
		if direction == domain.DirectionOut {
			cash, err := CashOnHand(tx.Ledger(), shift)
			if err != nil {
				return err
			}
			held := cash[currency]
			if m.Amount.Sub(held).GreaterThan(fx.Tolerance) {
				return fmt.Errorf("%w: %s %s held, %s requested", domain.ErrInsufficientCash,
					fx.Round2(held).StringFixed(2), currency, fx.Round2(m.Amount).StringFixed(2))
			}
		}

		now := b.now().UTC()
		entry = domain.LedgerEntry{
			ID:          xid.New("led"),
			ShiftID:     shift.ID,
			Direction:   direction,
			Type:        m.Type,
			Amount:      fx.Round2(m.Amount),
			Currency:    currency,
			Method:      domain.PaymentCash,
			AffectsCash: true,
			Actor:       actor.Username,
			Note:        strings.TrimSpace(m.Note),
			Timestamp:   now,
		}
		tx.AppendLedger(entry)
		tx.AppendAudit(audit.Entry(actor, "cash_"+strings.ToLower(string(m.Type)), "ledger", entry.ID, nil, map[string]string{
			"amount":   entry.Amount.StringFixed(2),
			"currency": currency,
			"note":     entry.Note,
		}, now))
		return nil
	})
	if err != nil {
		return domain.LedgerEntry{}, err
	}
	return entry, nil
}
