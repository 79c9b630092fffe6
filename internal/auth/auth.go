package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrNoToken is returned when the handshake carries no credential at all.
	ErrNoToken = errors.New("no token provided")
	// ErrInvalidToken is returned when the credential fails verification
	// (bad signature, expired, malformed, or missing subject).
	ErrInvalidToken = errors.New("invalid token")
)

// Identity is the decoded, normalized identity attached to a connection
// after a successful handshake. It is immutable for the connection's life.
type Identity struct {
	ID    string
	Email string
	key   string
}

// Key returns the display identity: email when present, user id otherwise.
// Resolved once at verification time so broadcast sites never branch.
func (i Identity) Key() string {
	return i.key
}

// NewIdentity builds an Identity with its key resolved. Exported for tests
// and any caller that needs a synthetic identity.
func NewIdentity(id, email string) Identity {
	key := email
	if key == "" {
		key = id
	}
	return Identity{ID: id, Email: email, key: key}
}

// claims is the JWT claims structure issued by the account service.
type claims struct {
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// Verifier validates signed bearer tokens against a shared HMAC secret.
type Verifier struct {
	secret []byte
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// TokenFromRequest extracts the bearer credential from a connection handshake.
// It accepts the "token" query parameter or the Authorization header, with an
// optional case-insensitive "Bearer " prefix on either.
func TokenFromRequest(r *http.Request) (string, error) {
	raw := r.URL.Query().Get("token")
	if raw == "" {
		raw = r.Header.Get("Authorization")
	}
	if raw == "" {
		return "", ErrNoToken
	}
	return stripBearer(raw), nil
}

func stripBearer(raw string) string {
	const prefix = "bearer "
	if len(raw) > len(prefix) && strings.EqualFold(raw[:len(prefix)], prefix) {
		return strings.TrimSpace(raw[len(prefix):])
	}
	return raw
}

// Verify parses and validates the token, returning the decoded identity.
// Rejects non-HMAC signing methods, invalid signatures, expired tokens,
// and tokens without a subject.
func (v *Verifier) Verify(tokenString string) (Identity, error) {
	token, err := jwt.ParseWithClaims(tokenString, &claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return v.secret, nil
	})
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if !token.Valid {
		return Identity{}, ErrInvalidToken
	}

	c, ok := token.Claims.(*claims)
	if !ok || c.Subject == "" {
		return Identity{}, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}

	return NewIdentity(c.Subject, c.Email), nil
}

// Authenticate combines extraction and verification for a handshake request.
func (v *Verifier) Authenticate(r *http.Request) (Identity, error) {
	tokenString, err := TokenFromRequest(r)
	if err != nil {
		return Identity{}, err
	}
	return v.Verify(tokenString)
}
