// Package adminapi exposes the operator-facing REST surface: admin login,
// credential CRUD, and a stats endpoint. Grounded on
// original_source/pylon/services/admin_auth.py and api_key_service.py, and
// on the teacher's JWT-issuing cmd/token for HS256 session tokens.
package adminapi

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

var (
	// ErrBadPassword is returned when the supplied password doesn't match
	// the configured hash, or no hash is configured at all.
	ErrBadPassword = errors.New("invalid admin password")
)

// AuthService issues and verifies HS256 admin session tokens, mirroring
// admin_auth.py's AdminAuthService.
type AuthService struct {
	PasswordHash string
	JWTSecret    string
	JWTExpiry    time.Duration
}

// Authenticate verifies password against the configured bcrypt hash and, on
// success, returns a signed session token.
func (a *AuthService) Authenticate(password string) (string, error) {
	if a.PasswordHash == "" {
		return "", ErrBadPassword
	}
	if err := bcrypt.CompareHashAndPassword([]byte(a.PasswordHash), []byte(password)); err != nil {
		return "", ErrBadPassword
	}
	return a.issueToken()
}

func (a *AuthService) issueToken() (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub": "admin",
		"iat": now.Unix(),
		"exp": now.Add(a.JWTExpiry).Unix(),
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return tok.SignedString([]byte(a.JWTSecret))
}

// VerifyToken reports whether token is a validly signed, unexpired session
// token issued by this service.
func (a *AuthService) VerifyToken(token string) bool {
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(a.JWTSecret), nil
	})
	return err == nil && parsed.Valid
}

// HashPassword produces a bcrypt hash suitable for AdminConfig.PasswordHash,
// used by cmd/pylon's set-password subcommand.
func HashPassword(raw string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(raw), bcrypt.DefaultCost)
	return string(b), err
}
