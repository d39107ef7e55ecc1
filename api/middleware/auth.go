package middleware

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"socialfeed/logging"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidToken = errors.New("invalid token")

type Claims struct {
	jwt.RegisteredClaims
	UserID int64 `json:"user_id"`
}

// TokenManager выпускает и проверяет HS256 токены доступа.
type TokenManager struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewTokenManager(secret string, ttl time.Duration) *TokenManager {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &TokenManager{secret: []byte(secret), ttl: ttl, now: time.Now}
}

func (m *TokenManager) Issue(userID int64) (string, time.Time, error) {
	now := m.now()
	exp := now.Add(m.ttl)
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(userID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
		UserID: userID,
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return token, exp, nil
}

func (m *TokenManager) Validate(tokenString string) (int64, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return m.secret, nil
	}, jwt.WithTimeFunc(m.now))
	if err != nil {
		return 0, ErrInvalidToken
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.UserID <= 0 {
		return 0, ErrInvalidToken
	}
	return claims.UserID, nil
}

// Authenticator определяет пользователя запроса.
// Поддерживает:
// 1. Authorization: Bearer <jwt>
// 2. X-User-ID и Bearer test_token_N, только если AllowHeaderAuth (для тестов)
type Authenticator struct {
	Tokens          *TokenManager
	AllowHeaderAuth bool
}

func (a *Authenticator) resolve(c *gin.Context) (int64, bool, error) {
	if a.AllowHeaderAuth {
		if header := c.GetHeader("X-User-ID"); header != "" {
			userID, err := strconv.ParseInt(header, 10, 64)
			if err != nil || userID <= 0 {
				return 0, false, errors.New("invalid X-User-ID format")
			}
			return userID, true, nil
		}
	}

	authHeader := c.GetHeader("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return 0, false, nil
	}
	token := strings.TrimPrefix(authHeader, "Bearer ")

	if a.AllowHeaderAuth && strings.HasPrefix(token, "test_token_") {
		userID, err := strconv.ParseInt(strings.TrimPrefix(token, "test_token_"), 10, 64)
		if err != nil || userID <= 0 {
			return 0, false, errors.New("invalid test token format")
		}
		return userID, true, nil
	}

	if a.Tokens == nil {
		return 0, false, ErrInvalidToken
	}
	userID, err := a.Tokens.Validate(token)
	if err != nil {
		return 0, false, err
	}
	return userID, true, nil
}

// Required прерывает запрос с 401, если пользователь не определен.
func (a *Authenticator) Required() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok, err := a.resolve(c)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
			return
		}
		c.Set(logging.FieldUserID, userID)
		c.Next()
	}
}

// Optional выставляет user_id, если запрос аутентифицирован, и пропускает остальные.
func (a *Authenticator) Optional() gin.HandlerFunc {
	return func(c *gin.Context) {
		if userID, ok, err := a.resolve(c); err == nil && ok {
			c.Set(logging.FieldUserID, userID)
		}
		c.Next()
	}
}
