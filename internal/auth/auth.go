package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"kassa/backend/internal/domain"
)

var (
	ErrInvalidCredentials = fmt.Errorf("%w: invalid credentials", domain.ErrAuthorization)
	ErrInactiveAccount    = fmt.Errorf("%w: account is inactive", domain.ErrAuthorization)
	ErrInvalidToken       = fmt.Errorf("%w: invalid or expired token", domain.ErrAuthorization)
)

type UserStore interface {
	CreateUser(ctx context.Context, user domain.User) error
	ListUsers(ctx context.Context) ([]domain.User, error)
	UpdateUser(ctx context.Context, user domain.User) error
}

type Token struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

// Account is a user as shown to admins, without hashes.
type Account struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	HasPIN    bool      `json:"has_pin"`
	CreatedAt time.Time `json:"created_at"`
}

type NewUser struct {
	Username string
	Password string
	Role     string
	PIN      string
}

type Manager struct {
	secret   []byte
	tokenTTL time.Duration
	users    UserStore
	now      func() time.Time
}

type claims struct {
	jwtlib.RegisteredClaims
	Role string `json:"role"`
}

func NewManager(secret string, tokenTTL time.Duration, users UserStore) *Manager {
	if secret == "" {
		secret = "dev-change-me"
	}
	if tokenTTL <= 0 {
		tokenTTL = 8 * time.Hour
	}
	return &Manager{secret: []byte(secret), tokenTTL: tokenTTL, users: users, now: time.Now}
}

func (m *Manager) Login(ctx context.Context, username string, password string) (Token, error) {
	user, err := m.find(ctx, username)
	if err != nil {
		return Token{}, err
	}
	if !isHash(user.PasswordHash) {
		// Accounts imported with a plain password are upgraded on first login.
		if user.PasswordHash == "" || user.PasswordHash != password {
			return Token{}, ErrInvalidCredentials
		}
		hashed, err := hash(password)
		if err != nil {
			return Token{}, fmt.Errorf("%w: hash password", domain.ErrSystem)
		}
		user.PasswordHash = hashed
		if err := m.users.UpdateUser(ctx, user); err != nil {
			return Token{}, err
		}
	} else if !verify(user.PasswordHash, password) {
		return Token{}, ErrInvalidCredentials
	}
	if !user.Active {
		return Token{}, ErrInactiveAccount
	}

	expiresAt := m.now().UTC().Add(m.tokenTTL)
	token, err := m.sign(user.Username, user.Role, expiresAt)
	if err != nil {
		return Token{}, err
	}
	return Token{AccessToken: token, Role: user.Role, ExpiresAt: expiresAt.Format(time.RFC3339)}, nil
}

func (m *Manager) ParseToken(tokenStr string) (domain.Actor, error) {
	c := &claims{}
	token, err := jwtlib.ParseWithClaims(tokenStr, c, func(t *jwtlib.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwtlib.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return m.secret, nil
	}, jwtlib.WithValidMethods([]string{"HS256"}))
	if err != nil || !token.Valid {
		return domain.Actor{}, ErrInvalidToken
	}
	sub, err := c.GetSubject()
	if err != nil || sub == "" {
		return domain.Actor{}, ErrInvalidToken
	}
	return domain.Actor{Username: sub, Role: c.Role}, nil
}

func (m *Manager) sign(username string, role string, expiresAt time.Time) (string, error) {
	c := claims{
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   username,
			IssuedAt:  jwtlib.NewNumericDate(m.now().UTC()),
			ExpiresAt: jwtlib.NewNumericDate(expiresAt),
			Issuer:    "kassa",
		},
		Role: role,
	}
	return jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, c).SignedString(m.secret)
}

// ResolvePIN finds the active elevated user owning pin.
func (m *Manager) ResolvePIN(ctx context.Context, pin string) (domain.Actor, error) {
	pin = strings.TrimSpace(pin)
	if pin == "" {
		return domain.Actor{}, domain.ErrInvalidPIN
	}
	users, err := m.users.ListUsers(ctx)
	if err != nil {
		return domain.Actor{}, err
	}
	for _, u := range users {
		if !u.Active || !domain.IsElevatedRole(u.Role) || u.PINHash == "" {
			continue
		}
		if verify(u.PINHash, pin) {
			return domain.Actor{Username: u.Username, Role: u.Role}, nil
		}
	}
	return domain.Actor{}, domain.ErrInvalidPIN
}

func (m *Manager) CreateUser(ctx context.Context, req NewUser) (Account, error) {
	username := strings.ToLower(strings.TrimSpace(req.Username))
	if len(username) < 4 {
		return Account{}, fmt.Errorf("%w: username must be at least 4 characters", domain.ErrValidation)
	}
	if strings.ContainsAny(username, " \t\r\n") {
		return Account{}, fmt.Errorf("%w: username must not contain spaces", domain.ErrValidation)
	}
	if len(strings.TrimSpace(req.Password)) < 6 {
		return Account{}, fmt.Errorf("%w: password must be at least 6 characters", domain.ErrValidation)
	}
	switch req.Role {
	case domain.RoleAdmin, domain.RoleManager, domain.RoleCashier:
	default:
		return Account{}, fmt.Errorf("%w: role %q", domain.ErrValidation, req.Role)
	}

	passwordHash, err := hash(req.Password)
	if err != nil {
		return Account{}, fmt.Errorf("%w: hash password", domain.ErrSystem)
	}
	user := domain.User{
		Username:     username,
		Role:         req.Role,
		PasswordHash: passwordHash,
		Active:       true,
		CreatedAt:    m.now().UTC(),
	}
	if pin := strings.TrimSpace(req.PIN); pin != "" {
		if !domain.IsElevatedRole(req.Role) {
			return Account{}, fmt.Errorf("%w: only managers carry a pin", domain.ErrValidation)
		}
		if err := CheckPIN(pin); err != nil {
			return Account{}, err
		}
		if user.PINHash, err = hash(pin); err != nil {
			return Account{}, fmt.Errorf("%w: hash pin", domain.ErrSystem)
		}
	}
	if err := m.users.CreateUser(ctx, user); err != nil {
		return Account{}, err
	}
	return account(user), nil
}

func (m *Manager) ListAccounts(ctx context.Context) ([]Account, error) {
	users, err := m.users.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Account, 0, len(users))
	for _, u := range users {
		out = append(out, account(u))
	}
	return out, nil
}

// Bootstrap creates the given accounts when the store has no users yet.
func (m *Manager) Bootstrap(ctx context.Context, seeds []NewUser) error {
	users, err := m.users.ListUsers(ctx)
	if err != nil {
		return err
	}
	if len(users) > 0 {
		return nil
	}
	for _, seed := range seeds {
		if _, err := m.CreateUser(ctx, seed); err != nil {
			return fmt.Errorf("bootstrap %s: %w", seed.Username, err)
		}
	}
	return nil
}

// CheckPIN enforces the minimum PIN strength: six digits, not all the same.
func CheckPIN(pin string) error {
	if len(pin) < 6 {
		return fmt.Errorf("%w: pin must have at least 6 digits", domain.ErrValidation)
	}
	for _, r := range pin {
		if r < '0' || r > '9' {
			return fmt.Errorf("%w: pin must be numeric", domain.ErrValidation)
		}
	}
	if strings.Count(pin, pin[:1]) == len(pin) {
		return fmt.Errorf("%w: pin must not repeat one digit", domain.ErrValidation)
	}
	return nil
}

func (m *Manager) find(ctx context.Context, username string) (domain.User, error) {
	username = strings.ToLower(strings.TrimSpace(username))
	users, err := m.users.ListUsers(ctx)
	if err != nil {
		return domain.User{}, err
	}
	for _, u := range users {
		if u.Username == username {
			return u, nil
		}
	}
	return domain.User{}, ErrInvalidCredentials
}

func account(u domain.User) Account {
	return Account{Username: u.Username, Role: u.Role, Active: u.Active, HasPIN: u.PINHash != "", CreatedAt: u.CreatedAt}
}

func verify(stored string, input string) bool {
	if stored == "" || strings.TrimSpace(input) == "" || !isHash(stored) {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(stored), []byte(input)) == nil
}

func hash(secret string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func isHash(value string) bool {
	return strings.HasPrefix(value, "$2a$") || strings.HasPrefix(value, "$2b$") || strings.HasPrefix(value, "$2y$")
}
