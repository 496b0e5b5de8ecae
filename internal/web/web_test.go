package web

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"gembalance-go/internal/config"
	"gembalance-go/internal/credential"
	"gembalance-go/internal/storage"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newWebEngine(t *testing.T, cfg *config.Config, keys []string) (*gin.Engine, *storage.MemoryBackend) {
	t.Helper()
	store := storage.NewMemoryBackend()
	pool := credential.NewPool(store, credential.Options{})
	require.NoError(t, pool.Initialize(context.Background(), keys))

	engine := gin.New()
	engine.SetHTMLTemplate(Templates())
	NewHandler(cfg, pool).Register(engine)
	return engine, store
}

func postForm(engine *gin.Engine, path string, form url.Values) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	engine.ServeHTTP(w, req)
	return w
}

func TestLoginPage(t *testing.T) {
	t.Parallel()
	engine, _ := newWebEngine(t, &config.Config{AuthToken: "secret"}, nil)

	w := httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "<form")
}

func TestAuthenticate(t *testing.T) {
	t.Parallel()
	engine, _ := newWebEngine(t, &config.Config{AuthToken: "secret"}, nil)

	t.Run("valid token sets cookie and redirects", func(t *testing.T) {
		w := postForm(engine, "/auth", url.Values{"auth_token": {"secret"}})

		require.Equal(t, http.StatusFound, w.Code)
		assert.Equal(t, "/keys", w.Header().Get("Location"))

		cookies := w.Result().Cookies()
		require.Len(t, cookies, 1)
		assert.Equal(t, "auth_token", cookies[0].Name)
		assert.Equal(t, "secret", cookies[0].Value)
		assert.True(t, cookies[0].HttpOnly)
	})

	t.Run("wrong token bounces back to login", func(t *testing.T) {
		w := postForm(engine, "/auth", url.Values{"auth_token": {"wrong"}})

		require.Equal(t, http.StatusFound, w.Code)
		assert.Equal(t, "/", w.Header().Get("Location"))
		assert.Empty(t, w.Result().Cookies())
	})

	t.Run("empty token bounces back to login", func(t *testing.T) {
		w := postForm(engine, "/auth", url.Values{})

		require.Equal(t, http.StatusFound, w.Code)
		assert.Equal(t, "/", w.Header().Get("Location"))
	})
}

func TestKeysPage(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	engine, store := newWebEngine(t, &config.Config{AuthToken: "secret"}, []string{"key-alpha", "key-beta"})
	require.NoError(t, store.UpdateFailure(ctx, "key-beta", 3, false))

	t.Run("without cookie redirects to login", func(t *testing.T) {
		w := httptest.NewRecorder()
		engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/keys", nil))

		require.Equal(t, http.StatusFound, w.Code)
		assert.Equal(t, "/", w.Header().Get("Location"))
	})

	t.Run("with wrong cookie redirects to login", func(t *testing.T) {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/keys", nil)
		req.AddCookie(&http.Cookie{Name: "auth_token", Value: "stale"})
		engine.ServeHTTP(w, req)

		require.Equal(t, http.StatusFound, w.Code)
	})

	t.Run("with valid cookie renders key status", func(t *testing.T) {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/keys", nil)
		req.AddCookie(&http.Cookie{Name: "auth_token", Value: "secret"})
		engine.ServeHTTP(w, req)

		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), "key-alpha")
		assert.Contains(t, w.Body.String(), "key-beta")
	})
}
