package service

import (
	"context"
	"log/slog"

	"github.com/shopspring/decimal"

	"kassa/backend/internal/audit"
	"kassa/backend/internal/domain"
	"kassa/backend/internal/events"
	"kassa/backend/internal/fx"
	"kassa/backend/internal/ledger"
	"kassa/backend/internal/licensing"
	"kassa/backend/internal/printing"
	"kassa/backend/internal/shift"
	"kassa/backend/internal/store"
)

func (s *Service) OpenShift(ctx context.Context, req OpenShiftRequest) (domain.Shift, error) {
	actor, err := s.actor(ctx)
	if err != nil {
		return domain.Shift{}, err
	}
	opened, err := s.shifts.Open(ctx, actor, req.StartCash)
	if err != nil {
		return domain.Shift{}, s.fail(ctx, "open_shift", err)
	}
	s.logger.Info("shift opened", slog.String("shift_id", opened.ID), slog.String("by", actor.Username))
	return opened, nil
}

func (s *Service) ActiveShift(ctx context.Context) (domain.Shift, error) {
	if _, err := s.actor(ctx); err != nil {
		return domain.Shift{}, err
	}
	return s.shifts.Active(ctx)
}

func (s *Service) GetShift(ctx context.Context, id string) (domain.Shift, error) {
	if _, err := s.actor(ctx); err != nil {
		return domain.Shift{}, err
	}
	return s.shifts.Get(ctx, id)
}

// BeginClosing freezes sales and computes the expected buckets to count.
func (s *Service) BeginClosing(ctx context.Context) (domain.Shift, error) {
	actor, err := s.actor(ctx)
	if err != nil {
		return domain.Shift{}, err
	}
	closing, err := s.shifts.BeginClosing(ctx, actor)
	if err != nil {
		return domain.Shift{}, s.fail(ctx, "begin_closing", err)
	}
	return closing, nil
}

func (s *Service) CancelClosing(ctx context.Context) (domain.Shift, error) {
	actor, err := s.actor(ctx)
	if err != nil {
		return domain.Shift{}, err
	}
	reopened, err := s.shifts.CancelClosing(ctx, actor)
	if err != nil {
		return domain.Shift{}, s.fail(ctx, "cancel_closing", err)
	}
	return reopened, nil
}

// CloseShift commits the counted amounts. On success the Z-report is
// published and queued for printing.
func (s *Service) CloseShift(ctx context.Context, req CloseShiftRequest) (domain.Shift, error) {
	actor, err := s.actor(ctx)
	if err != nil {
		return domain.Shift{}, err
	}
	if err := s.check(req); err != nil {
		return domain.Shift{}, err
	}
	actual := make(map[domain.BucketKey]decimal.Decimal, len(req.Counts))
	for _, c := range req.Counts {
		key := domain.BucketKey{Method: domain.PaymentMethod(c.Method), Currency: fx.NormalizeCode(c.Currency)}
		actual[key] = actual[key].Add(c.Amount)
	}

	closed, err := s.shifts.CommitClose(ctx, actor, shift.Close{Actual: actual, PIN: req.PIN})
	if err != nil {
		return domain.Shift{}, s.fail(ctx, "close_shift", err)
	}
	s.logger.Info("shift closed",
		slog.String("shift_id", closed.ID),
		slog.String("closed_by", closed.ClosedBy),
		slog.String("authorized_by", closed.AuthorizedBy),
	)
	s.bus.Publish(ctx, events.TopicShiftClosed, events.ShiftClosed{Shift: closed})
	if err := s.printer.PrintZReport(ctx, printing.ZReportPayload{Business: s.businessName(), Shift: closed}); err != nil {
		s.logger.Warn("z-report print not queued", slog.String("shift_id", closed.ID), slog.Any("error", err))
	}
	return closed, nil
}

func (s *Service) Cash(ctx context.Context) (ledger.Cash, error) {
	if _, err := s.actor(ctx); err != nil {
		return ledger.Cash{}, err
	}
	return s.book.Cash(ctx)
}

func (s *Service) Movements(ctx context.Context, f ledger.Filter) ([]domain.LedgerEntry, error) {
	if _, err := s.requireElevated(ctx); err != nil {
		return nil, err
	}
	return s.book.Movements(ctx, f)
}

// RecordMovement books a manual cash deposit or withdrawal.
func (s *Service) RecordMovement(ctx context.Context, req MovementRequest) (domain.LedgerEntry, error) {
	actor, err := s.requireElevated(ctx)
	if err != nil {
		return domain.LedgerEntry{}, err
	}
	if err := s.check(req); err != nil {
		return domain.LedgerEntry{}, err
	}
	entry, err := s.book.RecordMovement(ctx, actor, ledger.Movement{
		Type:     domain.LedgerType(req.Type),
		Amount:   req.Amount,
		Currency: req.Currency,
		Note:     req.Note,
	})
	if err != nil {
		return domain.LedgerEntry{}, s.fail(ctx, "cash_movement", err)
	}
	s.logger.Info("cash movement recorded",
		slog.String("type", string(entry.Type)),
		slog.String("amount", entry.Amount.StringFixed(2)),
		slog.String("currency", entry.Currency),
	)
	return entry, nil
}

func (s *Service) AuditLogs(ctx context.Context, f audit.Filter) ([]domain.AuditEntry, error) {
	if _, err := s.requireElevated(ctx); err != nil {
		return nil, err
	}
	if err := s.gate.RequireModule(licensing.ModuleAudit); err != nil {
		return nil, s.fail(ctx, "audit_logs", err)
	}
	var out []domain.AuditEntry
	err := s.store.View(func(tx *store.Tx) error {
		out = audit.Select(tx.Audit(), f)
		return nil
	})
	return out, err
}
