package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"kassa/backend/internal/auth"
	"kassa/backend/internal/checkout"
	"kassa/backend/internal/domain"
	"kassa/backend/internal/events"
	"kassa/backend/internal/ledger"
	"kassa/backend/internal/licensing"
	"kassa/backend/internal/printing"
	"kassa/backend/internal/refund"
	"kassa/backend/internal/shift"
	"kassa/backend/internal/store"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

// Options collects the collaborators of a Service. Store, Auth and Gate are
// required.
type Options struct {
	Store   *store.Store
	Auth    *auth.Manager
	Gate    *licensing.Gate
	Bus     *events.Bus
	Printer printing.Dispatcher
	Logger  *slog.Logger
}

// Service is the boundary the HTTP layer talks to. It resolves the actor,
// validates input, calls the engine and publishes what happened.
type Service struct {
	store    *store.Store
	auth     *auth.Manager
	gate     *licensing.Gate
	bus      *events.Bus
	printer  printing.Dispatcher
	logger   *slog.Logger
	validate *validator.Validate
	now      func() time.Time

	checkout *checkout.Coordinator
	refunds  *refund.Coordinator
	shifts   *shift.Manager
	book     *ledger.Book
}

func New(opts Options) (*Service, error) {
	if opts.Store == nil || opts.Auth == nil || opts.Gate == nil {
		return nil, errors.New("service: store, auth and gate are required")
	}
	if opts.Bus == nil {
		opts.Bus = events.NewBus(opts.Logger, 0)
	}
	if opts.Printer == nil {
		opts.Printer = printing.Noop{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	s := &Service{
		store:    opts.Store,
		auth:     opts.Auth,
		gate:     opts.Gate,
		bus:      opts.Bus,
		printer:  opts.Printer,
		logger:   opts.Logger,
		validate: validator.New(),
		now:      time.Now,
	}
	clock := func() time.Time { return s.now() }
	s.checkout = checkout.New(opts.Store, clock)
	s.refunds = refund.New(opts.Store, clock)
	s.shifts = shift.New(opts.Store, opts.Auth, clock)
	s.book = ledger.NewBook(opts.Store, clock)
	return s, nil
}

// WithNow overrides the clock used by every coordinator.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

func (s *Service) Bus() *events.Bus {
	return s.bus
}

func (s *Service) Gate() *licensing.Gate {
	return s.gate
}

func (s *Service) Login(ctx context.Context, req LoginRequest) (auth.Token, error) {
	if err := s.check(req); err != nil {
		return auth.Token{}, err
	}
	token, err := s.auth.Login(ctx, req.Username, req.Password)
	if err != nil {
		s.logger.Warn("login rejected", slog.String("username", req.Username), slog.Any("error", err))
		return auth.Token{}, err
	}
	return token, nil
}

func (s *Service) ParseToken(token string) (domain.Actor, error) {
	return s.auth.ParseToken(token)
}

func (s *Service) CreateUser(ctx context.Context, req CreateUserRequest) (auth.Account, error) {
	actor, err := s.requireElevated(ctx)
	if err != nil {
		return auth.Account{}, err
	}
	if err := s.check(req); err != nil {
		return auth.Account{}, err
	}
	if actor.Role != domain.RoleAdmin && req.Role == domain.RoleAdmin {
		return auth.Account{}, fmt.Errorf("%w: only admins create admins", domain.ErrElevationRequired)
	}
	accounts, err := s.auth.ListAccounts(ctx)
	if err != nil {
		return auth.Account{}, err
	}
	if err := s.gate.RequireLimit(licensing.LimitUsers, len(accounts)+1); err != nil {
		return auth.Account{}, s.fail(ctx, "create_user", err)
	}
	account, err := s.auth.CreateUser(ctx, auth.NewUser{Username: req.Username, Password: req.Password, Role: req.Role, PIN: req.PIN})
	if err != nil {
		return auth.Account{}, s.fail(ctx, "create_user", err)
	}
	s.logger.Info("user created", slog.String("username", account.Username), slog.String("role", account.Role), slog.String("by", actor.Username))
	return account, nil
}

func (s *Service) ListAccounts(ctx context.Context) ([]auth.Account, error) {
	if _, err := s.requireElevated(ctx); err != nil {
		return nil, err
	}
	return s.auth.ListAccounts(ctx)
}

func (s *Service) actor(ctx context.Context) (domain.Actor, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Username == "" {
		return domain.Actor{}, domain.ErrUnauthenticated
	}
	return actor, nil
}

func (s *Service) requireElevated(ctx context.Context) (domain.Actor, error) {
	actor, err := s.actor(ctx)
	if err != nil {
		return domain.Actor{}, err
	}
	if !actor.Elevated() {
		return domain.Actor{}, domain.ErrElevationRequired
	}
	return actor, nil
}

// authorizer returns the actor when elevated, otherwise the elevated user
// owning pin.
func (s *Service) authorizer(ctx context.Context, actor domain.Actor, pin string) (domain.Actor, error) {
	if actor.Elevated() {
		return actor, nil
	}
	if strings.TrimSpace(pin) == "" {
		return domain.Actor{}, domain.ErrElevationRequired
	}
	return s.auth.ResolvePIN(ctx, pin)
}

// check runs struct validation and maps failures to ErrValidation.
func (s *Service) check(v any) error {
	err := s.validate.Struct(v)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) {
		parts := make([]string, 0, len(fieldErrs))
		for _, fe := range fieldErrs {
			parts = append(parts, fmt.Sprintf("%s failed %s", strings.ToLower(fe.Field()), fe.Tag()))
		}
		return fmt.Errorf("%w: %s", domain.ErrValidation, strings.Join(parts, ", "))
	}
	return fmt.Errorf("%w: %v", domain.ErrValidation, err)
}

// fail logs err and, for validation errors, raises a transient notice for
// the operator.
func (s *Service) fail(ctx context.Context, op string, err error) error {
	if err == nil {
		return nil
	}
	var discrepancy *domain.DiscrepancyError
	switch {
	case errors.As(err, &discrepancy):
		s.bus.Publish(ctx, events.TopicNotification, events.ShiftCloseBlocked{ShiftID: discrepancy.ShiftID, Buckets: discrepancy.Buckets})
		s.logger.Warn("shift close blocked", slog.String("op", op), slog.Int("buckets", len(discrepancy.Buckets)))
	case errors.Is(err, domain.ErrValidation):
		s.bus.Publish(ctx, events.TopicNotification, events.Notification{Level: "warn", Code: op, Message: err.Error()})
		s.logger.Info("operation rejected", slog.String("op", op), slog.Any("error", err))
	case errors.Is(err, domain.ErrSystem):
		s.logger.Error("operation failed", slog.String("op", op), slog.Any("error", err))
	default:
		s.logger.Warn("operation refused", slog.String("op", op), slog.Any("error", err))
	}
	return err
}

func (s *Service) businessName() string {
	name := "Kassa"
	_ = s.store.View(func(tx *store.Tx) error {
		if b := tx.Business(); b.Name != "" {
			name = b.Name
		}
		return nil
	})
	return name
}
