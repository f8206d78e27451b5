package auth

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"pollchat/internal/db"
	"pollchat/internal/models"
)

var (
	ErrInvalidToken = errors.New("invalid session token")
	ErrTokenExpired = errors.New("session token expired")
)

// SessionService issues and validates the single session token used both as
// the cookie value and as a bearer token.
type SessionService struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

type Claims struct {
	UserID   int64  `json:"uid"`
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// Session is a freshly issued token.
type Session struct {
	Token     string
	TokenID   string
	ExpiresAt time.Time
}

func NewSessionService(secret string, ttl time.Duration) *SessionService {
	return &SessionService{
		secret: []byte(secret),
		ttl:    ttl,
		now:    time.Now,
	}
}

func (s *SessionService) TTL() time.Duration {
	return s.ttl
}

func (s *SessionService) Issue(user *models.User) (*Session, error) {
	now := s.now()
	expiry := now.Add(s.ttl)
	tokenID := db.GenerateID("ses")

	claims := Claims{
		UserID:   user.ID,
		Username: user.Username,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        tokenID,
			Subject:   strconv.FormatInt(user.ID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiry),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return nil, fmt.Errorf("signing session token: %w", err)
	}

	return &Session{Token: signed, TokenID: tokenID, ExpiresAt: expiry}, nil
}

// Validate checks signature and expiry. Revocation is the caller's concern.
// Expired tokens report ErrTokenExpired; anything else wrong is ErrInvalidToken.
func (s *SessionService) Validate(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(s.now), jwt.WithExpirationRequired())
	if errors.Is(err, jwt.ErrTokenExpired) {
		return nil, ErrTokenExpired
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.ID == "" || claims.UserID == 0 {
		return nil, ErrInvalidToken
	}

	return claims, nil
}
