package middleware

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/orrn/ticketspool/internal/db"
)

const (
	cookieName      = "ticketspool_session"
	issuer          = "ticketspool"
	sessionTTL      = 12 * time.Hour
	defaultTokenTTL = 30 * 24 * time.Hour
	maxTokenTTL     = 365 * 24 * time.Hour

	keyPasswordHash = "admin_password"
	keySigningKey   = "jwt_secret"
	signingKeySize  = 32
	minPasswordLen  = 6

	claimsKey = "auth_claims"
)

// Scopes guard the admin endpoints. Sessions carry all of them; issued tokens
// carry the ones they were created with.
const (
	ScopeQueue     = "queue"     // failed jobs and print history
	ScopeTemplates = "templates" // user template changes
	ScopePrinter   = "printer"   // test prints
	ScopeConfig    = "config"    // config file
)

var AllScopes = []string{ScopeQueue, ScopeTemplates, ScopePrinter, ScopeConfig}

const (
	kindSession = "session"
	kindToken   = "token"
)

var (
	ErrSetupRequired    = errors.New("admin password not set")
	ErrSetupDone        = errors.New("admin password already set")
	ErrWrongPassword    = errors.New("wrong password")
	ErrPasswordTooShort = fmt.Errorf("password must be at least %d characters", minPasswordLen)
	ErrUnknownScope     = errors.New("unknown scope")
	ErrInvalidToken     = errors.New("invalid token")
)

type Claims struct {
	jwt.RegisteredClaims
	Kind   string   `json:"kind"`
	Scopes []string `json:"scopes"`
}

func (c *Claims) Allows(scope string) bool {
	return slices.Contains(c.Scopes, scope)
}

// Auth protects the admin endpoints. The admin logs in with a single password
// and gets a browser session; scripts such as a POS retrying failed tickets
// get bearer tokens limited to the scopes they need. Both are signed with a
// key kept in the settings table, and changing the password replaces that key.
type Auth struct {
	mu  sync.RWMutex
	key []byte
	now func() time.Time
}

func NewAuth(ctx context.Context) (*Auth, error) {
	key, err := loadSigningKey(ctx)
	if err != nil {
		return nil, err
	}
	return &Auth{key: key, now: time.Now}, nil
}

func loadSigningKey(ctx context.Context) ([]byte, error) {
	setting, err := db.Settings.GetSetting(ctx, keySigningKey)
	switch {
	case err == nil:
		return hex.DecodeString(setting.Value)
	case errors.Is(err, sql.ErrNoRows):
		return newSigningKey(ctx)
	default:
		return nil, fmt.Errorf("failed to load signing key: %w", err)
	}
}

func newSigningKey(ctx context.Context) ([]byte, error) {
	key := make([]byte, signingKeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("failed to generate signing key: %w", err)
	}
	if err := db.Settings.SetSetting(ctx, keySigningKey, hex.EncodeToString(key), false); err != nil {
		return nil, fmt.Errorf("failed to store signing key: %w", err)
	}
	return key, nil
}

func (a *Auth) SetupRequired(ctx context.Context) (bool, error) {
	_, err := db.Settings.GetSetting(ctx, keyPasswordHash)
	if errors.Is(err, sql.ErrNoRows) {
		return true, nil
	}
	return false, err
}

// Setup stores the first admin password and opens a session.
func (a *Auth) Setup(ctx context.Context, password string) (string, error) {
	required, err := a.SetupRequired(ctx)
	if err != nil {
		return "", err
	}
	if !required {
		return "", ErrSetupDone
	}
	if err := storePassword(ctx, password); err != nil {
		return "", err
	}
	return a.session()
}

func (a *Auth) Login(ctx context.Context, password string) (string, error) {
	if err := checkPassword(ctx, password); err != nil {
		return "", err
	}
	return a.session()
}

// ChangePassword replaces the admin password and the signing key. Every open
// session and issued token stops working; the returned session is signed with
// the new key.
func (a *Auth) ChangePassword(ctx context.Context, current, next string) (string, error) {
	if err := checkPassword(ctx, current); err != nil {
		return "", err
	}
	if err := storePassword(ctx, next); err != nil {
		return "", err
	}

	key, err := newSigningKey(ctx)
	if err != nil {
		return "", err
	}
	a.mu.Lock()
	a.key = key
	a.mu.Unlock()

	return a.session()
}

// IssueToken signs a bearer token named name that only opens scopes. A zero
// ttl means 30 days; longer than a year is cut to a year.
func (a *Auth) IssueToken(name string, scopes []string, ttl time.Duration) (string, time.Time, error) {
	if len(scopes) == 0 {
		return "", time.Time{}, fmt.Errorf("%w: none given", ErrUnknownScope)
	}
	for _, s := range scopes {
		if !slices.Contains(AllScopes, s) {
			return "", time.Time{}, fmt.Errorf("%w: %q", ErrUnknownScope, s)
		}
	}

	switch {
	case ttl <= 0:
		ttl = defaultTokenTTL
	case ttl > maxTokenTTL:
		ttl = maxTokenTTL
	}
	return a.sign(kindToken, name, scopes, ttl)
}

func (a *Auth) session() (string, error) {
	token, _, err := a.sign(kindSession, "admin", AllScopes, sessionTTL)
	return token, err
}

func (a *Auth) sign(kind, subject string, scopes []string, ttl time.Duration) (string, time.Time, error) {
	now := a.now()
	expires := now.Add(ttl)
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   subject,
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
		Kind:   kind,
		Scopes: scopes,
	}

	a.mu.RLock()
	key := a.key
	a.mu.RUnlock()

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(key)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, expires, nil
}

func (a *Auth) Verify(raw string) (*Claims, error) {
	a.mu.RLock()
	key := a.key
	a.mu.RUnlock()

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) {
		return key, nil
	},
		jwt.WithIssuer(issuer),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(a.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return claims, nil
}

func checkPassword(ctx context.Context, password string) error {
	setting, err := db.Settings.GetSetting(ctx, keyPasswordHash)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrSetupRequired
	}
	if err != nil {
		return err
	}
	if bcrypt.CompareHashAndPassword([]byte(setting.Value), []byte(password)) != nil {
		return ErrWrongPassword
	}
	return nil
}

func storePassword(ctx context.Context, password string) error {
	if len(password) < minPasswordLen {
		return ErrPasswordTooShort
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	return db.Settings.SetSetting(ctx, keyPasswordHash, string(hashed), false)
}

// Require admits requests carrying a session or a token that includes scope.
func (a *Auth) Require(scope string) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := a.authenticate(c)
		if !ok {
			return
		}
		if !claims.Allows(scope) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "El token no permite esta operación", "scope": scope})
			return
		}
		c.Set(claimsKey, claims)
		c.Next()
	}
}

// RequireSession admits only the admin's own session, not issued tokens.
func (a *Auth) RequireSession() gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := a.authenticate(c)
		if !ok {
			return
		}
		if claims.Kind != kindSession {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Se requiere la sesión del administrador"})
			return
		}
		c.Set(claimsKey, claims)
		c.Next()
	}
}

func (a *Auth) authenticate(c *gin.Context) (*Claims, bool) {
	raw := tokenFromRequest(c)
	if raw == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Autenticación requerida"})
		return nil, false
	}
	claims, err := a.Verify(raw)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Sesión inválida o vencida"})
		return nil, false
	}
	return claims, true
}

func tokenFromRequest(c *gin.Context) string {
	if auth := c.GetHeader("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	if cookie, err := c.Cookie(cookieName); err == nil {
		return cookie
	}
	return ""
}

// ClaimsFrom returns the claims Require or RequireSession stored on c.
func ClaimsFrom(c *gin.Context) (*Claims, bool) {
	v, ok := c.Get(claimsKey)
	if !ok {
		return nil, false
	}
	claims, ok := v.(*Claims)
	return claims, ok
}
