package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

func TestValidate(t *testing.T) {
	v := NewValidator("test-secret")
	user := uuid.New()

	good, err := v.Issue(user, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	expired, _ := v.Issue(user, -time.Minute)
	foreign, _ := NewValidator("other-secret").Issue(user, time.Hour)

	none := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{
		Subject:   user.String(),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	unsigned, _ := none.SignedString(jwt.UnsafeAllowNoneSignatureType)

	tests := []struct {
		name  string
		token string
		user  uuid.UUID
		want  bool
	}{
		{"valid", "Bearer " + good, user, true},
		{"missing prefix", good, user, false},
		{"empty", "", user, false},
		{"other user", "Bearer " + good, uuid.New(), false},
		{"expired", "Bearer " + expired, user, false},
		{"wrong secret", "Bearer " + foreign, user, false},
		{"alg none", "Bearer " + unsigned, user, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := v.Validate(tt.token, tt.user); got != tt.want {
				t.Fatalf("Validate = %v, want %v", got, tt.want)
			}
		})
	}
}
