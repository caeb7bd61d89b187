package identity

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/dafs-project/dafs/internal/dafserr"
)

const (
	// SessionTokenExpiry is short because DAFS sessions are re-minted from
	// the identity's still-unwrapped private key held in memory, not from
	// a stored refresh token.
	SessionTokenExpiry = 12 * time.Hour
)

// SessionClaims is the JWT payload identifying an authenticated device
// session on a DAFS node.
type SessionClaims struct {
	UserID   string `json:"uid"`
	Username string `json:"usr"`
	DeviceID string `json:"did"`
	jwt.RegisteredClaims
}

// SessionManager mints and validates session tokens for identities that
// have already proven control of their private key via Registry.Authenticate.
type SessionManager struct {
	secret []byte
}

// NewSessionManager creates a session manager with the given HMAC secret.
// The secret must be at least 32 bytes.
func NewSessionManager(secret []byte) (*SessionManager, error) {
	if len(secret) < 32 {
		return nil, dafserr.New(dafserr.BadRequest, "identity", "NewSessionManager")
	}
	return &SessionManager{secret: secret}, nil
}

// Issue mints a session token for a user's device.
func (m *SessionManager) Issue(userID, username, deviceID string) (string, int64, error) {
	now := time.Now()
	expiresAt := now.Add(SessionTokenExpiry)

	claims := SessionClaims{
		UserID:   userID,
		Username: username,
		DeviceID: deviceID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    "dafs",
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", 0, dafserr.Wrap(dafserr.Internal, "identity", "Issue", err)
	}
	return signed, expiresAt.Unix(), nil
}

// Validate parses and verifies a session token, returning its claims.
func (m *SessionManager) Validate(tokenStr string) (*SessionClaims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &SessionClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return m.secret, nil
	})
	if err != nil {
		return nil, dafserr.Wrap(dafserr.Unauthenticated, "identity", "Validate", err)
	}

	claims, ok := token.Claims.(*SessionClaims)
	if !ok || !token.Valid {
		return nil, dafserr.New(dafserr.Unauthenticated, "identity", "Validate")
	}
	return claims, nil
}
</content>
