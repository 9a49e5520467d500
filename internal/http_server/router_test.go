package httpserver

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"msat_auth/internal/auth"
	"msat_auth/internal/lib/api/validate"
	"msat_auth/internal/lib/jwt"
	"msat_auth/internal/lib/password"
	"msat_auth/internal/lib/templates"
	"msat_auth/internal/middleware/metrics"
	"msat_auth/internal/storage/memory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

type outbox struct {
	mu     sync.Mutex
	bodies map[string]string
}

func (o *outbox) Send(_ context.Context, to, _, body string) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.bodies[to] = body
	return nil
}

func (o *outbox) last(to string) (string, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	body, ok := o.bodies[to]
	return body, ok
}

func newTestRouter(t *testing.T) (http.Handler, *outbox) {
	t.Helper()

	log := slog.New(slog.DiscardHandler)

	codec, err := jwt.New("router-secret", "HS256")
	require.NoError(t, err)

	renderer, err := templates.New("http://localhost:8080", "MSAT Manager")
	require.NoError(t, err)

	store := memory.New()
	mail := &outbox{bodies: make(map[string]string)}

	svc := auth.New(log, store, store, password.NewHasher(bcrypt.MinCost), codec, mail, renderer,
		30*time.Minute, 30*time.Minute)

	router := NewRouter(Deps{
		Log:            log,
		Validate:       validate.New(),
		Auth:           svc,
		Forms:          renderer,
		Store:          store,
		Metrics:        metrics.New(),
		Version:        "1.0.0",
		AllowedOrigins: []string{"*"},
	})

	return router, mail
}

func do(t *testing.T, h http.Handler, method, path, contentType, body, bearer string) (*httptest.ResponseRecorder, map[string]string) {
	t.Helper()

	r := httptest.NewRequest(method, path, strings.NewReader(body))
	if contentType != "" {
		r.Header.Set("Content-Type", contentType)
	}
	if bearer != "" {
		r.Header.Set("Authorization", "Bearer "+bearer)
	}
	w := httptest.NewRecorder()

	h.ServeHTTP(w, r)

	var out map[string]string
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	}

	return w, out
}

func resetToken(t *testing.T, body string) string {
	t.Helper()

	const marker = "/auth/reset-password?token="

	i := strings.Index(body, marker)
	require.NotEqual(t, -1, i)

	rest := body[i+len(marker):]
	token, err := url.QueryUnescape(rest[:strings.IndexByte(rest, '"')])
	require.NoError(t, err)

	return token
}

func TestRouter_AccountLifecycle(t *testing.T) {
	h, mail := newTestRouter(t)
	const jsonType = "application/json"

	w, out := do(t, h, http.MethodPost, "/auth/register", jsonType,
		`{"username":"alice","email":"a@x.com","password":"Passw0rd"}`, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "bearer", out["token_type"])
	access := out["access_token"]
	require.NotEmpty(t, access)

	w, out = do(t, h, http.MethodPost, "/auth/register", jsonType,
		`{"username":"alice","email":"b@x.com","password":"Passw0rd"}`, "")
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "username already registered", out["error"])

	w, _ = do(t, h, http.MethodPost, "/auth/login", jsonType,
		`{"username":"alice","password":"Passw0rd"}`, "")
	require.Equal(t, http.StatusOK, w.Code)

	w, _ = do(t, h, http.MethodPost, "/auth/change-password", jsonType,
		`{"current_password":"Passw0rd","new_password":"Chang3dPass"}`, "")
	require.Equal(t, http.StatusUnauthorized, w.Code)

	w, _ = do(t, h, http.MethodPost, "/auth/change-password", jsonType,
		`{"current_password":"Passw0rd","new_password":"Chang3dPass"}`, access)
	require.Equal(t, http.StatusOK, w.Code)

	w, out = do(t, h, http.MethodPost, "/auth/login", jsonType,
		`{"username":"alice","password":"Passw0rd"}`, "")
	require.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "Invalid credentials", out["error"])

	// Reset by email.
	w, known := do(t, h, http.MethodPost, "/auth/request-password-reset", jsonType, `{"email":"a@x.com"}`, "")
	require.Equal(t, http.StatusOK, w.Code)

	w, unknown := do(t, h, http.MethodPost, "/auth/request-password-reset", jsonType, `{"email":"ghost@x.com"}`, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, known, unknown)

	_, mailed := mail.last("ghost@x.com")
	assert.False(t, mailed)

	body, ok := mail.last("a@x.com")
	require.True(t, ok)
	token := resetToken(t, body)

	w, _ = do(t, h, http.MethodGet, "/auth/reset-password?token="+url.QueryEscape(token), "", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), token)

	form := url.Values{"token": {token}, "new_password": {"weak"}}
	w, _ = do(t, h, http.MethodPost, "/auth/reset-password", "application/x-www-form-urlencoded", form.Encode(), "")
	require.Equal(t, http.StatusBadRequest, w.Code)

	form.Set("new_password", "R3setPassword")
	w, _ = do(t, h, http.MethodPost, "/auth/reset-password", "application/x-www-form-urlencoded", form.Encode(), "")
	require.Equal(t, http.StatusOK, w.Code)

	w, _ = do(t, h, http.MethodPost, "/auth/login", jsonType,
		`{"username":"alice","password":"R3setPassword"}`, "")
	require.Equal(t, http.StatusOK, w.Code)

	// An access token is not a reset token.
	form.Set("token", access)
	w, out = do(t, h, http.MethodPost, "/auth/reset-password", "application/x-www-form-urlencoded", form.Encode(), "")
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid or expired token", out["error"])
}

func TestRouter_ServiceEndpoints(t *testing.T) {
	h, _ := newTestRouter(t)

	w, out := do(t, h, http.MethodGet, "/", "", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Welcome to Msat Manager API!", out["message"])
	assert.Equal(t, "1.0.0", out["version"])

	w, _ = do(t, h, http.MethodGet, "/healthz/readiness", "", "", "")
	require.Equal(t, http.StatusOK, w.Code)

	w, _ = do(t, h, http.MethodGet, "/metrics", "", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `route="/healthz/readiness"`)
}

func TestRouter_CORSPreflight(t *testing.T) {
	h, _ := newTestRouter(t)

	r := httptest.NewRequest(http.MethodOptions, "/auth/login", nil)
	r.Header.Set("Origin", "https://app.example.com")
	r.Header.Set("Access-Control-Request-Method", http.MethodPost)
	w := httptest.NewRecorder()

	h.ServeHTTP(w, r)

	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}
