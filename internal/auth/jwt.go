package auth

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/golang-jwt/jwt/v5"

	"github.com/clinicdesk/appointment-booking/internal/booking"
)

var (
	ErrTokenExpired = errors.New("token has expired")
	ErrTokenInvalid = errors.New("token is invalid")
)

type bearerClaims struct {
	jwt.RegisteredClaims
	Role string `json:"role"`
}

// Verifier validates HS256 bearer tokens issued by the identity service and
// extracts the actor context from them. Token issuance is not this
// service's concern.
type Verifier struct {
	secret []byte
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// Verify checks signature and expiry and returns the caller's actor
// context. The subject claim carries the user id, the role claim one of
// the four known roles.
func (v *Verifier) Verify(tokenString string) (booking.Actor, error) {
	token, err := jwt.ParseWithClaims(
		tokenString,
		&bearerClaims{},
		func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return v.secret, nil
		},
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return booking.Actor{}, ErrTokenExpired
		}
		return booking.Actor{}, ErrTokenInvalid
	}

	claims, ok := token.Claims.(*bearerClaims)
	if !ok || !token.Valid {
		return booking.Actor{}, ErrTokenInvalid
	}

	userID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil {
		return booking.Actor{}, ErrTokenInvalid
	}

	role, err := booking.ParseRole(claims.Role)
	if err != nil {
		return booking.Actor{}, ErrTokenInvalid
	}

	return booking.Actor{UserID: userID, Role: role}, nil
}
