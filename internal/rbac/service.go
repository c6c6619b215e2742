package rbac

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"vendra.io/internal/ids"
)

const (
	defaultIssuer     = "vendra"
	defaultAccessTTL  = 15 * time.Minute
	defaultRefreshTTL = 7 * 24 * time.Hour

	// DefaultRoleName is granted to every user at registration.
	DefaultRoleName = "user"
)

// Service provides identity resolution, guard predicates and token issuance
// on top of a Store. It keeps no per-request state; every check reads the
// store so RBAC changes apply immediately.
type Service struct {
	store  Store
	now    func() time.Time
	secret []byte

	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
}

// ServiceOption configures a Service.
type ServiceOption func(*Service) error

// WithSecret sets the HS256 signing secret for access tokens.
func WithSecret(secret string) ServiceOption {
	return func(s *Service) error {
		if strings.TrimSpace(secret) == "" {
			return errors.New("rbac: signing secret is empty")
		}
		s.secret = []byte(secret)
		return nil
	}
}

// WithIssuer overrides the token issuer claim.
func WithIssuer(issuer string) ServiceOption {
	return func(s *Service) error {
		if v := strings.TrimSpace(issuer); v != "" {
			s.issuer = v
		}
		return nil
	}
}

// WithAccessTTL configures access token lifetime.
func WithAccessTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) error {
		if ttl > 0 {
			s.accessTTL = ttl
		}
		return nil
	}
}

// WithRefreshTTL configures refresh session lifetime.
func WithRefreshTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) error {
		if ttl > 0 {
			s.refreshTTL = ttl
		}
		return nil
	}
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) error {
		if fn != nil {
			s.now = fn
		}
		return nil
	}
}

// NewService constructs a Service. A signing secret is required.
func NewService(store Store, opts ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, errors.New("rbac: store is required")
	}
	svc := &Service{
		store:      store,
		now:        time.Now,
		issuer:     defaultIssuer,
		accessTTL:  defaultAccessTTL,
		refreshTTL: defaultRefreshTTL,
	}
	for _, opt := range opts {
		if err := opt(svc); err != nil {
			return nil, err
		}
	}
	if len(svc.secret) == 0 {
		return nil, errors.New("rbac: signing secret is not configured")
	}
	return svc, nil
}

// Claims are the access-token JWT claims. The payload carries only the
// identity key; roles and permissions are re-resolved on every request.
type Claims struct {
	TokenType string `json:"token_type"`
	jwt.RegisteredClaims
}

// TokenPair bundles a signed access token with its persisted refresh
// counterpart.
type TokenPair struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

// Register creates a user with the default role. Duplicate username or email
// fails with ErrConflict.
func (s *Service) Register(ctx context.Context, username, email, password string) (User, error) {
	username = strings.TrimSpace(username)
	email = strings.TrimSpace(strings.ToLower(email))
	if username == "" {
		return User{}, fmt.Errorf("%w: username is required", ErrInvalidInput)
	}
	if email == "" || !strings.Contains(email, "@") {
		return User{}, fmt.Errorf("%w: valid email is required", ErrInvalidInput)
	}
	if len(password) < 8 {
		return User{}, fmt.Errorf("%w: password must be at least 8 characters", ErrInvalidInput)
	}
	hash, err := HashPassword(password)
	if err != nil {
		return User{}, err
	}
	user, err := s.store.CreateUser(ctx, username, email, hash)
	if err != nil {
		return User{}, err
	}
	role, err := s.store.GetRoleByName(ctx, DefaultRoleName)
	if err != nil {
		return User{}, fmt.Errorf("default role %q: %w", DefaultRoleName, err)
	}
	if err := s.store.AssignRole(ctx, user.ID, role.ID); err != nil {
		return User{}, err
	}
	return user, nil
}

// Login verifies credentials and issues a token pair. An unknown username and
// a wrong password both fail with ErrInvalidCredentials so responses stay
// indistinguishable. The session insert is part of the login: if it fails, no
// tokens are issued.
func (s *Service) Login(ctx context.Context, username, password string) (TokenPair, Principal, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return TokenPair{}, Principal{}, ErrInvalidCredentials
	}
	user, err := s.store.GetUserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return TokenPair{}, Principal{}, ErrInvalidCredentials
		}
		return TokenPair{}, Principal{}, err
	}
	if err := VerifyPassword(user.PasswordHash, password); err != nil {
		return TokenPair{}, Principal{}, ErrInvalidCredentials
	}
	principal, err := s.Principal(ctx, user.ID)
	if err != nil {
		return TokenPair{}, Principal{}, err
	}
	pair, err := s.mintTokens(ctx, user.ID)
	if err != nil {
		return TokenPair{}, Principal{}, err
	}
	return pair, principal, nil
}

// Refresh rotates the refresh session and issues a fresh pair. A revoked,
// expired or tampered token fails with ErrInvalidToken.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (TokenPair, Principal, error) {
	sessionID, secret, err := splitRefreshToken(refreshToken)
	if err != nil {
		return TokenPair{}, Principal{}, ErrInvalidToken
	}
	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return TokenPair{}, Principal{}, ErrInvalidToken
	}
	if session.Revoked || s.now().After(session.ExpiresAt) {
		return TokenPair{}, Principal{}, ErrInvalidToken
	}
	if !secureCompareHash(session.TokenHash, secret) {
		_ = s.store.RevokeSession(ctx, session.ID)
		return TokenPair{}, Principal{}, ErrInvalidToken
	}
	principal, err := s.Principal(ctx, session.UserID)
	if err != nil {
		return TokenPair{}, Principal{}, err
	}
	if err := s.store.RevokeSession(ctx, session.ID); err != nil {
		return TokenPair{}, Principal{}, err
	}
	pair, err := s.mintTokens(ctx, session.UserID)
	if err != nil {
		return TokenPair{}, Principal{}, err
	}
	return pair, principal, nil
}

// Logout revokes the session behind the presented refresh token. Unknown or
// already-revoked sessions are not an error; logout is idempotent.
func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	sessionID, secret, err := splitRefreshToken(refreshToken)
	if err != nil {
		return ErrInvalidToken
	}
	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	}
	if !secureCompareHash(session.TokenHash, secret) {
		return ErrInvalidToken
	}
	return s.store.RevokeSession(ctx, session.ID)
}

// Authenticate validates an access token and resolves the live principal.
// The token payload is trusted only for the identity key; the user, roles and
// permissions are re-fetched so RBAC changes apply on the next request.
func (s *Service) Authenticate(ctx context.Context, token string) (Principal, error) {
	claims, err := s.verifyAccessToken(token)
	if err != nil {
		return Principal{}, err
	}
	principal, err := s.Principal(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Principal{}, ErrInvalidToken
		}
		return Principal{}, err
	}
	return principal, nil
}

// IssueAccessToken signs a short-lived HS256 access token for the user.
func (s *Service) IssueAccessToken(userID string) (string, time.Time, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return "", time.Time{}, fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	now := s.now().UTC()
	exp := now.Add(s.accessTTL)
	claims := Claims{
		TokenType: "access",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        uuid.NewString(),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, exp, nil
}

func (s *Service) verifyAccessToken(token string) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrInvalidToken
	}
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, ErrInvalidToken
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(s.now), jwt.WithIssuer(s.issuer))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if claims.TokenType != "access" {
		return nil, ErrInvalidToken
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func (s *Service) mintTokens(ctx context.Context, userID string) (TokenPair, error) {
	accessToken, accessExp, err := s.IssueAccessToken(userID)
	if err != nil {
		return TokenPair{}, err
	}
	refreshString, session, err := s.generateRefreshToken(userID)
	if err != nil {
		return TokenPair{}, err
	}
	if err := s.store.CreateSession(ctx, session); err != nil {
		return TokenPair{}, fmt.Errorf("persist session: %w", err)
	}
	return TokenPair{
		AccessToken:      accessToken,
		RefreshToken:     refreshString,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: session.ExpiresAt,
	}, nil
}

func (s *Service) generateRefreshToken(userID string) (string, *Session, error) {
	secretBytes := make([]byte, 32)
	if _, err := rand.Read(secretBytes); err != nil {
		return "", nil, err
	}
	secret := base64.RawURLEncoding.EncodeToString(secretBytes)
	sum := sha256.Sum256([]byte(secret))
	now := s.now().UTC()
	session := &Session{
		ID:        ids.New(),
		UserID:    userID,
		TokenHash: hex.EncodeToString(sum[:]),
		ExpiresAt: now.Add(s.refreshTTL),
		CreatedAt: now,
	}
	return session.ID + "." + secret, session, nil
}

func splitRefreshToken(raw string) (id, secret string, err error) {
	parts := strings.Split(strings.TrimSpace(raw), ".")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", errors.New("invalid refresh token format")
	}
	return parts[0], parts[1], nil
}

func secureCompareHash(expectedHash, secret string) bool {
	sum := sha256.Sum256([]byte(secret))
	actual := hex.EncodeToString(sum[:])
	if len(expectedHash) != len(actual) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(expectedHash), []byte(actual)) == 1
}

// AssignRoleByName grants the named role to a user.
func (s *Service) AssignRoleByName(ctx context.Context, userID, roleName string) (Role, error) {
	userID = strings.TrimSpace(userID)
	roleName = strings.TrimSpace(roleName)
	if userID == "" || roleName == "" {
		return Role{}, fmt.Errorf("%w: user id and role name are required", ErrInvalidInput)
	}
	role, err := s.store.GetRoleByName(ctx, roleName)
	if err != nil {
		return Role{}, err
	}
	if err := s.store.AssignRole(ctx, userID, role.ID); err != nil {
		return Role{}, err
	}
	return role, nil
}

// RevokeRoleByName removes the named role from a user.
func (s *Service) RevokeRoleByName(ctx context.Context, userID, roleName string) (Role, error) {
	userID = strings.TrimSpace(userID)
	roleName = strings.TrimSpace(roleName)
	if userID == "" || roleName == "" {
		return Role{}, fmt.Errorf("%w: user id and role name are required", ErrInvalidInput)
	}
	role, err := s.store.GetRoleByName(ctx, roleName)
	if err != nil {
		return Role{}, err
	}
	if err := s.store.RevokeRole(ctx, userID, role.ID); err != nil {
		return Role{}, err
	}
	return role, nil
}

// SetRoleActive flips a role's active flag.
func (s *Service) SetRoleActive(ctx context.Context, roleName string, active bool) (Role, error) {
	roleName = strings.TrimSpace(roleName)
	if roleName == "" {
		return Role{}, fmt.Errorf("%w: role name is required", ErrInvalidInput)
	}
	return s.store.SetRoleActive(ctx, roleName, active)
}

// ListRoles returns every role in the catalog.
func (s *Service) ListRoles(ctx context.Context) ([]Role, error) {
	return s.store.ListRoles(ctx)
}

// ListPermissions returns the full permission catalog.
func (s *Service) ListPermissions(ctx context.Context) ([]Permission, error) {
	return s.store.ListPermissions(ctx)
}
