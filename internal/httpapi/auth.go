package httpapi

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"ferrepos/internal/domain"
)

var (
	errBadCredentials  = errors.New("invalid credentials")
	errInactiveAccount = errors.New("account is inactive")
	errBadToken        = errors.New("invalid or expired token")
)

// UserStore persists login accounts. The memory and postgres
// repositories both satisfy it.
type UserStore interface {
	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}

// account is the cached credential entry; the hash is always bcrypt by
// the time it lands here.
type account struct {
	hash      string
	role      string
	active    bool
	createdAt time.Time
}

type accessClaims struct {
	jwtlib.RegisteredClaims
	Role string `json:"role"`
}

// AuthManager issues and verifies HS256 bearer tokens and manages the
// cashier accounts behind them. Accounts live in the user store;
// a write-through cache keeps login off the hot path.
type AuthManager struct {
	mu       sync.RWMutex
	secret   []byte
	tokenTTL time.Duration
	store    UserStore
	accounts map[string]account
}

func NewAuthManager(secret string, tokenTTL time.Duration, userStore UserStore) *AuthManager {
	if secret == "" {
		secret = "dev-change-me"
	}
	if tokenTTL <= 0 {
		tokenTTL = 8 * time.Hour
	}

	m := &AuthManager{
		secret:   []byte(secret),
		tokenTTL: tokenTTL,
		store:    userStore,
		accounts: make(map[string]account),
	}
	// Startup load; no request context exists yet.
	m.syncFromStore(context.Background())
	return m
}

func (m *AuthManager) Login(req domain.LoginRequest) (domain.LoginResponse, error) {
	m.syncFromStore(context.Background())

	acct, ok := m.lookup(normalizeUsername(req.Username))
	if !ok || !checkPassword(acct.hash, req.Password) {
		return domain.LoginResponse{}, errBadCredentials
	}
	if !acct.active {
		return domain.LoginResponse{}, errInactiveAccount
	}

	expiresAt := time.Now().UTC().Add(m.tokenTTL)
	token, err := m.issue(normalizeUsername(req.Username), acct.role, expiresAt)
	if err != nil {
		return domain.LoginResponse{}, err
	}

	return domain.LoginResponse{
		AccessToken: token,
		Role:        acct.role,
		ExpiresAt:   expiresAt.Format(time.RFC3339),
	}, nil
}

func (m *AuthManager) ParseToken(tokenStr string) (domain.Actor, error) {
	claims := &accessClaims{}
	token, err := jwtlib.ParseWithClaims(tokenStr, claims, func(t *jwtlib.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwtlib.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return m.secret, nil
	}, jwtlib.WithValidMethods([]string{"HS256"}))
	if err != nil || !token.Valid {
		return domain.Actor{}, errBadToken
	}

	subject, err := claims.GetSubject()
	if err != nil || subject == "" {
		return domain.Actor{}, errBadToken
	}
	return domain.Actor{Username: subject, Role: claims.Role}, nil
}

func (m *AuthManager) CreateCashier(req domain.CashierCreateRequest) (domain.CashierUser, error) {
	m.syncFromStore(context.Background())

	username := normalizeUsername(req.Username)
	if err := validateCashierInput(username, req.Password); err != nil {
		return domain.CashierUser{}, err
	}
	if _, taken := m.lookup(username); taken {
		return domain.CashierUser{}, fmt.Errorf("username already exists")
	}

	hash, err := bcryptHash(req.Password)
	if err != nil {
		return domain.CashierUser{}, fmt.Errorf("failed to hash password")
	}

	now := time.Now().UTC()
	if m.store != nil {
		err := m.store.CreateUser(context.Background(), domain.UserAccount{
			Username:  username,
			Password:  hash,
			Role:      "cashier",
			Active:    true,
			CreatedAt: now,
		})
		if err != nil {
			return domain.CashierUser{}, err
		}
	}

	m.mu.Lock()
	m.accounts[username] = account{hash: hash, role: "cashier", active: true, createdAt: now}
	m.mu.Unlock()

	return domain.CashierUser{Username: username, Role: "cashier", Active: true, CreatedAt: now}, nil
}

func (m *AuthManager) ListCashiers() []domain.CashierUser {
	m.syncFromStore(context.Background())

	m.mu.RLock()
	cashiers := make([]domain.CashierUser, 0, len(m.accounts))
	for username, acct := range m.accounts {
		if acct.role != "cashier" {
			continue
		}
		cashiers = append(cashiers, domain.CashierUser{
			Username:  username,
			Role:      acct.role,
			Active:    acct.active,
			CreatedAt: acct.createdAt,
		})
	}
	m.mu.RUnlock()

	slices.SortFunc(cashiers, func(a, b domain.CashierUser) int {
		return strings.Compare(a.Username, b.Username)
	})
	return cashiers
}

func (m *AuthManager) lookup(username string) (account, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	acct, ok := m.accounts[username]
	return acct, ok
}

func (m *AuthManager) issue(username, role string, expiresAt time.Time) (string, error) {
	claims := accessClaims{
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   username,
			IssuedAt:  jwtlib.NewNumericDate(time.Now().UTC()),
			ExpiresAt: jwtlib.NewNumericDate(expiresAt),
			Issuer:    "ferrepos",
		},
		Role: role,
	}
	return jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims).SignedString(m.secret)
}

// syncFromStore refreshes the credential cache from the user store. Any
// account still carrying a plain-text password is upgraded to bcrypt in
// the store on the way through.
func (m *AuthManager) syncFromStore(ctx context.Context) {
	if m.store == nil {
		return
	}

	users, err := m.store.ListUsers(ctx)
	if err != nil || len(users) == 0 {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, user := range users {
		username := normalizeUsername(user.Username)
		if username == "" {
			continue
		}

		hash := user.Password
		if !looksHashed(hash) {
			upgraded, err := bcryptHash(hash)
			if err != nil {
				continue
			}
			hash = upgraded
			_ = m.store.UpdateUserPassword(ctx, username, hash)
		}

		m.accounts[username] = account{
			hash:      hash,
			role:      user.Role,
			active:    user.Active,
			createdAt: user.CreatedAt,
		}
	}
}

func normalizeUsername(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}

func validateCashierInput(username string, password string) error {
	if len(username) < 4 {
		return fmt.Errorf("username must be at least 4 characters")
	}
	if strings.ContainsAny(username, " \t\r\n") {
		return fmt.Errorf("username must not contain spaces")
	}
	if strings.TrimSpace(password) == "" || len(password) < 6 {
		return fmt.Errorf("password must be at least 6 characters")
	}
	return nil
}

func checkPassword(hash string, input string) bool {
	if hash == "" || strings.TrimSpace(input) == "" || !looksHashed(hash) {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(input)) == nil
}

func bcryptHash(password string) (string, error) {
	raw, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func looksHashed(value string) bool {
	for _, prefix := range []string{"$2a$", "$2b$", "$2y$"} {
		if strings.HasPrefix(value, prefix) {
			return true
		}
	}
	return false
}
