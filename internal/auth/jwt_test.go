package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/clinicdesk/appointment-booking/internal/booking"
)

const testSecret = "test-secret"

func signToken(t *testing.T, secret, sub, role string, ttl time.Duration) string {
	t.Helper()
	claims := jwt.MapClaims{
		"sub":  sub,
		"role": role,
		"iat":  time.Now().Unix(),
		"exp":  time.Now().Add(ttl).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func TestVerifyRoundTrip(t *testing.T) {
	v := NewVerifier(testSecret)

	actor, err := v.Verify(signToken(t, testSecret, "42", "Patient", time.Hour))
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if actor.UserID != 42 {
		t.Errorf("user id = %d, want 42", actor.UserID)
	}
	if actor.Role != booking.RolePatient {
		t.Errorf("role = %s, want Patient", actor.Role)
	}
}

func TestVerifyAllRoles(t *testing.T) {
	v := NewVerifier(testSecret)

	for _, role := range []booking.Role{booking.RolePatient, booking.RoleDoctor, booking.RoleManager, booking.RoleAdministrator} {
		actor, err := v.Verify(signToken(t, testSecret, "1", string(role), time.Hour))
		if err != nil {
			t.Errorf("role %s: %v", role, err)
			continue
		}
		if actor.Role != role {
			t.Errorf("role = %s, want %s", actor.Role, role)
		}
	}
}

func TestVerifyRejections(t *testing.T) {
	v := NewVerifier(testSecret)

	cases := []struct {
		name  string
		token string
		want  error
	}{
		{"wrong secret", signToken(t, "other-secret", "42", "Patient", time.Hour), ErrTokenInvalid},
		{"expired", signToken(t, testSecret, "42", "Patient", -time.Hour), ErrTokenExpired},
		{"garbage", "not.a.token", ErrTokenInvalid},
		{"unknown role", signToken(t, testSecret, "42", "Janitor", time.Hour), ErrTokenInvalid},
		{"non-numeric subject", signToken(t, testSecret, "alice", "Patient", time.Hour), ErrTokenInvalid},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := v.Verify(tc.token); !errors.Is(err, tc.want) {
				t.Errorf("err = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestVerifyRequiresExpiry(t *testing.T) {
	v := NewVerifier(testSecret)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "42", "role": "Patient", "iat": time.Now().Unix(),
	})
	signed, err := token.SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}

	if _, err := v.Verify(signed); !errors.Is(err, ErrTokenInvalid) {
		t.Errorf("err = %v, want ErrTokenInvalid for token without exp", err)
	}
}

func TestVerifyRejectsNoneAlgorithm(t *testing.T) {
	v := NewVerifier(testSecret)

	token := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{
		"sub": "42", "role": "Administrator",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}

	if _, err := v.Verify(signed); !errors.Is(err, ErrTokenInvalid) {
		t.Errorf("err = %v, want ErrTokenInvalid for alg=none", err)
	}
}
