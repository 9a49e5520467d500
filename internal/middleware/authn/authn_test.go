package authn

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"msat_auth/internal/auth"
	"msat_auth/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubAuthenticator struct {
	users map[string]models.User
	err   error
}

func (s stubAuthenticator) Authenticate(_ context.Context, token string) (models.User, error) {
	if s.err != nil {
		return models.User{}, s.err
	}

	u, ok := s.users[token]
	if !ok {
		return models.User{}, auth.ErrUnauthorized
	}

	return u, nil
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		header string
		want   string
		ok     bool
	}{
		{header: "Bearer abc", want: "abc", ok: true},
		{header: "bearer abc", want: "abc", ok: true},
		{header: "Bearer   abc  ", want: "abc", ok: true},
		{header: "Basic abc"},
		{header: "Bearer"},
		{header: "Bearer "},
		{header: ""},
	}

	for _, tt := range tests {
		t.Run(tt.header, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}

			got, ok := BearerToken(r)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMiddleware(t *testing.T) {
	alice := models.User{ID: 1, Username: "alice"}

	var seen models.User
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, ok := UserFromContext(r.Context())
		require.True(t, ok)
		seen = u
		w.WriteHeader(http.StatusNoContent)
	})

	tests := []struct {
		name       string
		header     string
		authn      stubAuthenticator
		wantStatus int
	}{
		{
			name:       "valid token",
			header:     "Bearer good",
			authn:      stubAuthenticator{users: map[string]models.User{"good": alice}},
			wantStatus: http.StatusNoContent,
		},
		{
			name:       "missing header",
			authn:      stubAuthenticator{},
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "rejected token",
			header:     "Bearer bad",
			authn:      stubAuthenticator{},
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "store failure",
			header:     "Bearer good",
			authn:      stubAuthenticator{err: errors.New("db down")},
			wantStatus: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seen = models.User{}

			h := New(slog.New(slog.DiscardHandler), tt.authn)(next)

			r := httptest.NewRequest(http.MethodPost, "/auth/change-password", nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()

			h.ServeHTTP(w, r)

			require.Equal(t, tt.wantStatus, w.Code)

			switch tt.wantStatus {
			case http.StatusNoContent:
				assert.Equal(t, alice, seen)
			case http.StatusUnauthorized:
				assert.Equal(t, "Bearer", w.Header().Get("WWW-Authenticate"))
				assert.JSONEq(t, `{"status":"Error","error":"could not validate credentials"}`, w.Body.String())
			}
		})
	}
}

func TestUserFromContext_Empty(t *testing.T) {
	_, ok := UserFromContext(context.Background())
	assert.False(t, ok)
}
