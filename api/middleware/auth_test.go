package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

func TestTokenManagerRoundTripAndExpiry(t *testing.T) {
	tm := NewTokenManager("secret", time.Minute)
	now := time.Unix(1_700_000_000, 0)
	tm.now = func() time.Time { return now }

	token, exp, err := tm.Issue(42)
	require.NoError(t, err)
	require.Equal(t, now.Add(time.Minute), exp)

	id, err := tm.Validate(token)
	require.NoError(t, err)
	require.EqualValues(t, 42, id)

	_, err = NewTokenManager("other", time.Minute).Validate(token)
	require.ErrorIs(t, err, ErrInvalidToken)

	now = now.Add(2 * time.Minute)
	_, err = tm.Validate(token)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestTokenManagerRejectsOtherAlgorithms(t *testing.T) {
	tm := NewTokenManager("secret", time.Minute)
	claims := &Claims{UserID: 1, RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))}}
	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = tm.Validate(unsigned)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestAuthenticatorModes(t *testing.T) {
	gin.SetMode(gin.TestMode)
	tm := NewTokenManager("secret", time.Hour)
	token, _, err := tm.Issue(7)
	require.NoError(t, err)

	serve := func(a *Authenticator, required bool, headers map[string]string) (int, int64) {
		r := gin.New()
		mw := a.Optional()
		if required {
			mw = a.Required()
		}
		var seen int64
		r.GET("/", mw, func(c *gin.Context) {
			if v, ok := c.Get("user_id"); ok {
				seen = v.(int64)
			}
			c.Status(http.StatusOK)
		})
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		for k, v := range headers {
			req.Header.Set(k, v)
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w.Code, seen
	}

	strict := &Authenticator{Tokens: tm}
	headerMode := &Authenticator{Tokens: tm, AllowHeaderAuth: true}

	code, id := serve(strict, true, map[string]string{"Authorization": "Bearer " + token})
	require.Equal(t, http.StatusOK, code)
	require.EqualValues(t, 7, id)

	code, _ = serve(strict, true, map[string]string{"X-User-ID": "3"})
	require.Equal(t, http.StatusUnauthorized, code)
	code, _ = serve(strict, true, map[string]string{"Authorization": "Bearer test_token_3"})
	require.Equal(t, http.StatusUnauthorized, code)

	code, id = serve(headerMode, true, map[string]string{"X-User-ID": "3"})
	require.Equal(t, http.StatusOK, code)
	require.EqualValues(t, 3, id)
	code, id = serve(headerMode, true, map[string]string{"Authorization": "Bearer test_token_5"})
	require.Equal(t, http.StatusOK, code)
	require.EqualValues(t, 5, id)
	code, _ = serve(headerMode, true, map[string]string{"X-User-ID": "abc"})
	require.Equal(t, http.StatusUnauthorized, code)

	code, id = serve(strict, false, nil)
	require.Equal(t, http.StatusOK, code)
	require.Zero(t, id)
	code, id = serve(strict, false, map[string]string{"Authorization": "Bearer garbage"})
	require.Equal(t, http.StatusOK, code)
	require.Zero(t, id)
}
