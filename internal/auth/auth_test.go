package auth

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"ms-coupons/internal/logger"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

func signedToken(t *testing.T, secret string, claims jwt.RegisteredClaims) string {
	token, err := NewHMACVerifier(secret).SignHS256(claims)
	require.NoError(t, err)
	return token
}

func echoUserHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(UserID(r.Context())))
	})
}

func TestExtractTokenFromRequest(t *testing.T) {
	tests := []struct {
		name    string
		header  string
		want    string
		wantErr error
	}{
		{"missing", "", "", ErrMissingToken},
		{"wrong scheme", "Basic abc", "", ErrMalformedToken},
		{"no token", "Bearer ", "", ErrMalformedToken},
		{"extra parts", "Bearer a b", "", ErrMalformedToken},
		{"valid", "Bearer abc.def.ghi", "abc.def.ghi", nil},
		{"lowercase scheme", "bearer abc", "abc", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			got, err := ExtractTokenFromRequest(req)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestHMACVerifier(t *testing.T) {
	v := NewHMACVerifier(testSecret)
	future := jwt.NewNumericDate(time.Now().Add(time.Hour))

	sub, err := v.Verify(context.Background(), signedToken(t, testSecret, jwt.RegisteredClaims{Subject: "user-1", ExpiresAt: future}))
	require.NoError(t, err)
	assert.Equal(t, "user-1", sub)

	_, err = v.Verify(context.Background(), signedToken(t, "other-secret", jwt.RegisteredClaims{Subject: "user-1", ExpiresAt: future}))
	assert.Error(t, err, "wrong signature")

	past := jwt.NewNumericDate(time.Now().Add(-time.Hour))
	_, err = v.Verify(context.Background(), signedToken(t, testSecret, jwt.RegisteredClaims{Subject: "user-1", ExpiresAt: past}))
	assert.Error(t, err, "expired")

	_, err = v.Verify(context.Background(), signedToken(t, testSecret, jwt.RegisteredClaims{Subject: "user-1"}))
	assert.Error(t, err, "expiry is required")

	_, err = v.Verify(context.Background(), signedToken(t, testSecret, jwt.RegisteredClaims{ExpiresAt: future}))
	assert.ErrorIs(t, err, ErrNoSubject)
}

func TestMiddleware(t *testing.T) {
	log := logger.NewWithWriter(io.Discard)
	handler := Middleware(NewHMACVerifier(testSecret), log)(echoUserHandler())

	t.Run("valid token", func(t *testing.T) {
		token := signedToken(t, testSecret, jwt.RegisteredClaims{
			Subject:   "citizen-42",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
		})
		req := httptest.NewRequest(http.MethodPost, "/coupons/x/claim", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "citizen-42", rec.Body.String())
	})

	for name, header := range map[string]string{
		"missing header": "",
		"garbage token":  "Bearer not-a-jwt",
	} {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/coupons/x/claim", nil)
			if header != "" {
				req.Header.Set("Authorization", header)
			}
			rec := httptest.NewRecorder()

			handler.ServeHTTP(rec, req)

			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			var body map[string]string
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.NotEmpty(t, body["error"])
		})
	}
}

func TestAdminMiddleware(t *testing.T) {
	log := logger.NewWithWriter(io.Discard)
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) })

	handler := AdminMiddleware("s3cret", log)(ok)

	req := httptest.NewRequest(http.MethodGet, "/admin", nil)
	req.Header.Set(AdminKeyHeader, "s3cret")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/admin", nil)
	req.Header.Set(AdminKeyHeader, "wrong")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// no key configured locks the routes
	disabled := AdminMiddleware("", log)(ok)
	req = httptest.NewRequest(http.MethodGet, "/admin", nil)
	rec = httptest.NewRecorder()
	disabled.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
