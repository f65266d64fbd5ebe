package handler

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/device-inventory-api/internal/middleware"
	"github.com/noah-isme/device-inventory-api/internal/models"
	"github.com/noah-isme/device-inventory-api/internal/repository"
	"github.com/noah-isme/device-inventory-api/internal/service"
)

type memUserRepo struct {
	mu    sync.Mutex
	users map[string]*models.User
}

func (m *memUserRepo) FindByUsername(ctx context.Context, username string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Username == username {
			return u, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *memUserRepo) FindByID(ctx context.Context, id string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[id]; ok {
		return u, nil
	}
	return nil, sql.ErrNoRows
}

func (m *memUserRepo) Create(ctx context.Context, user *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[user.ID] = user
	return nil
}

func (m *memUserRepo) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	return nil
}

type memTokenRepo struct {
	mu     sync.Mutex
	tokens map[string]*models.RefreshToken
}

func (m *memTokenRepo) Create(ctx context.Context, token *models.RefreshToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens[token.ID] = token
	return nil
}

func (m *memTokenRepo) FindByToken(ctx context.Context, value string) (*models.RefreshToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.tokens {
		if t.Token == value {
			copied := *t
			return &copied, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *memTokenRepo) Rotate(ctx context.Context, parentID string, child *models.RefreshToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	parent, ok := m.tokens[parentID]
	if !ok || parent.Revoked {
		return repository.ErrTokenRotated
	}
	now := time.Now().UTC()
	parent.Revoked = true
	parent.RevokedAt = &now
	parent.ReplacedBy = &child.ID
	m.tokens[child.ID] = child
	return nil
}

func (m *memTokenRepo) RevokeByToken(ctx context.Context, value string, revokedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.tokens {
		if t.Token == value && !t.Revoked {
			t.Revoked = true
			t.RevokedAt = &revokedAt
		}
	}
	return nil
}

func buildAuthRouter(t *testing.T) (*gin.Engine, *memUserRepo, *memTokenRepo) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	users := &memUserRepo{users: make(map[string]*models.User)}
	tokens := &memTokenRepo{tokens: make(map[string]*models.RefreshToken)}
	authSvc := service.NewAuthService(users, tokens, validator.New(), zap.NewNop(), service.AuthConfig{
		AccessTokenSecret:  "secret",
		AccessTokenExpiry:  15 * time.Minute,
		RefreshTokenExpiry: 7 * 24 * time.Hour,
		Issuer:             "device-inventory-api",
	})
	h := NewAuthHandler(authSvc, false)

	router := gin.New()
	auth := router.Group("/api/v1/auth")
	auth.POST("/register", h.Register)
	auth.POST("/login", h.Login)
	auth.POST("/refresh", h.Refresh)
	auth.POST("/logout", h.Logout)
	auth.GET("/profile", middleware.JWT(authSvc), h.Profile)
	return router, users, tokens
}

func perform(router *gin.Engine, req *http.Request) *httptest.ResponseRecorder {
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	return resp
}

func jsonRequest(method, target string, payload interface{}) *http.Request {
	body, _ := json.Marshal(payload)
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func refreshCookieFrom(t *testing.T, resp *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, cookie := range resp.Result().Cookies() {
		if cookie.Name == refreshCookieName {
			return cookie
		}
	}
	t.Fatal("refresh cookie not set")
	return nil
}

func registerAndLogin(t *testing.T, router *gin.Engine) *httptest.ResponseRecorder {
	t.Helper()
	resp := perform(router, jsonRequest(http.MethodPost, "/api/v1/auth/register", models.RegisterRequest{Username: "alice", Password: "secret1"}))
	require.Equal(t, http.StatusOK, resp.Code)

	resp = perform(router, jsonRequest(http.MethodPost, "/api/v1/auth/login", gin.H{"username": "alice", "password": "secret1"}))
	require.Equal(t, http.StatusOK, resp.Code)
	return resp
}

func TestLoginSetsHTTPOnlyCookie(t *testing.T) {
	router, _, _ := buildAuthRouter(t)
	resp := registerAndLogin(t, router)

	cookie := refreshCookieFrom(t, resp)
	assert.True(t, cookie.HttpOnly)
	assert.NotEmpty(t, cookie.Value)
	assert.Contains(t, resp.Body.String(), `"access_token"`)
	assert.NotContains(t, resp.Body.String(), cookie.Value)
}

func TestLoginUnknownUserReturns404(t *testing.T) {
	router, _, _ := buildAuthRouter(t)

	resp := perform(router, jsonRequest(http.MethodPost, "/api/v1/auth/login", gin.H{"username": "ghost", "password": "secret1"}))
	assert.Equal(t, http.StatusNotFound, resp.Code)
}

func TestLoginWrongPasswordReturns401(t *testing.T) {
	router, users, _ := buildAuthRouter(t)
	hash, _ := bcrypt.GenerateFromPassword([]byte("secret1"), bcrypt.MinCost)
	users.users["u1"] = &models.User{ID: "u1", Username: "alice", PasswordHash: string(hash), Role: models.RoleUser}

	resp := perform(router, jsonRequest(http.MethodPost, "/api/v1/auth/login", gin.H{"username": "alice", "password": "wrong"}))
	assert.Equal(t, http.StatusUnauthorized, resp.Code)
}

func TestRefreshRotatesCookie(t *testing.T) {
	router, _, _ := buildAuthRouter(t)
	loginResp := registerAndLogin(t, router)
	cookie := refreshCookieFrom(t, loginResp)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/refresh", nil)
	req.AddCookie(cookie)
	resp := perform(router, req)
	require.Equal(t, http.StatusOK, resp.Code)

	rotated := refreshCookieFrom(t, resp)
	assert.NotEqual(t, cookie.Value, rotated.Value)

	// Replaying the original cookie must fail now.
	req = httptest.NewRequest(http.MethodPost, "/api/v1/auth/refresh", nil)
	req.AddCookie(cookie)
	resp = perform(router, req)
	assert.Equal(t, http.StatusUnauthorized, resp.Code)
	assert.Contains(t, resp.Body.String(), "INVALID_SESSION")
}

func TestRefreshBodyFallback(t *testing.T) {
	router, _, _ := buildAuthRouter(t)
	loginResp := registerAndLogin(t, router)
	cookie := refreshCookieFrom(t, loginResp)

	resp := perform(router, jsonRequest(http.MethodPost, "/api/v1/auth/refresh", gin.H{"refresh_token": cookie.Value}))
	assert.Equal(t, http.StatusOK, resp.Code)
}

func TestLogoutIsRepeatable(t *testing.T) {
	router, _, _ := buildAuthRouter(t)
	loginResp := registerAndLogin(t, router)
	cookie := refreshCookieFrom(t, loginResp)

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/logout", nil)
		req.AddCookie(cookie)
		resp := perform(router, req)
		assert.Equal(t, http.StatusNoContent, resp.Code)
	}

	// A revoked token can no longer be refreshed.
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/refresh", nil)
	req.AddCookie(cookie)
	resp := perform(router, req)
	assert.Equal(t, http.StatusUnauthorized, resp.Code)
}

func TestProfileRequiresToken(t *testing.T) {
	router, _, _ := buildAuthRouter(t)
	loginResp := registerAndLogin(t, router)

	var envelope struct {
		Data models.LoginResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(loginResp.Body.Bytes(), &envelope))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/profile", nil)
	resp := perform(router, req)
	assert.Equal(t, http.StatusUnauthorized, resp.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/auth/profile", nil)
	req.Header.Set("Authorization", "Bearer "+envelope.Data.AccessToken)
	resp = perform(router, req)
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Contains(t, resp.Body.String(), `"alice"`)

	// Query parameter fallback used by the websocket handshake.
	req = httptest.NewRequest(http.MethodGet, "/api/v1/auth/profile?access_token="+envelope.Data.AccessToken, nil)
	resp = perform(router, req)
	assert.Equal(t, http.StatusOK, resp.Code)
}
