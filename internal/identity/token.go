package identity

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const tokenIssuer = "cbt-research"

// ErrInvalidToken is returned for missing, malformed, expired or foreign tokens.
var ErrInvalidToken = errors.New("invalid identity token")

// Token is an issued anonymous identity token.
type Token struct {
	Value     string    `json:"token"`
	UserID    string    `json:"user_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Provider issues and verifies anonymous identity tokens.
type Provider struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewProvider creates a provider signing HS256 tokens with secret.
func NewProvider(secret string, ttl time.Duration) *Provider {
	return &Provider{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// SignInAnonymously issues a token for an anonymous device identity.
func (p *Provider) SignInAnonymously(userID string) (Token, error) {
	if !IsValidAnonID(userID) {
		return Token{}, fmt.Errorf("%w: subject %q", ErrInvalidToken, userID)
	}

	now := p.now()
	expires := now.Add(p.ttl)
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		Issuer:    tokenIssuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expires),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(p.secret)
	if err != nil {
		return Token{}, fmt.Errorf("sign identity token: %w", err)
	}
	return Token{Value: signed, UserID: userID, ExpiresAt: expires}, nil
}

// Verify checks a token and returns the anonymous user ID it was issued to.
func (p *Provider) Verify(tokenStr string) (string, error) {
	if tokenStr == "" {
		return "", ErrInvalidToken
	}

	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(tokenStr, &claims,
		func(*jwt.Token) (interface{}, error) { return p.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(p.now),
	)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if !IsValidAnonID(claims.Subject) {
		return "", fmt.Errorf("%w: bad subject", ErrInvalidToken)
	}
	return claims.Subject, nil
}

func tokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, value, ok := strings.Cut(h, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(value)
		}
		return ""
	}
	return r.URL.Query().Get("token")
}

// RequireToken rejects requests that have not completed the identity
// handshake. The token subject becomes the request's user ID.
func (p *Provider) RequireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, err := p.Verify(tokenFromRequest(r))
		if err != nil {
			slog.Debug("Identity token rejected", "error", err, "path", r.URL.Path)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"identity handshake required"}`))
			return
		}

		ctx := WithIdentity(r.Context(), userID, sessionIDFromRequest(r))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
