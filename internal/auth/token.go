package auth

import (
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Validator checks HS256 bearer tokens issued for a specific user.
type Validator struct {
	secret []byte
	now    func() time.Time
}

func NewValidator(secret string) *Validator {
	return &Validator{secret: []byte(secret), now: time.Now}
}

// Validate reports whether token is "Bearer <jwt>", correctly signed,
// unexpired, and issued to userID.
func (v *Validator) Validate(token string, userID uuid.UUID) bool {
	raw, ok := strings.CutPrefix(token, "Bearer ")
	if !ok || raw == "" {
		return false
	}

	claims := &jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.now),
	)
	if err != nil || !parsed.Valid {
		return false
	}
	return claims.Subject == userID.String()
}

// Issue signs a token for userID valid for ttl.
func (v *Validator) Issue(userID uuid.UUID, ttl time.Duration) (string, error) {
	now := v.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   userID.String(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	})
	return token.SignedString(v.secret)
}
