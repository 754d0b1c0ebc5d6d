package auth

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func setupMiddlewareTest(t *testing.T) (*Manager, string, *APIKey) {
	t.Helper()
	mgr := NewManager(NewMemoryStore(), nil, slog.Default())
	rawKey, key, err := mgr.GenerateKey(context.Background(), agentAddr, "test-key")
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	return mgr, rawKey, key
}

func TestMiddleware_ValidKey_SetsContext(t *testing.T) {
	mgr, rawKey, _ := setupMiddlewareTest(t)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request, _ = http.NewRequest("GET", "/test", nil)
	c.Request.Header.Set("Authorization", rawKey)

	Middleware(mgr)(c)

	addr, exists := c.Get(ContextKeyAgentAddr)
	if !exists {
		t.Fatal("expected agent addr to be set in context")
	}
	// Base58 addresses keep their case.
	if addr.(string) != agentAddr {
		t.Errorf("addr = %s, want %s", addr.(string), agentAddr)
	}

	key, exists := c.Get(ContextKeyAPIKey)
	if !exists {
		t.Fatal("expected API key to be set in context")
	}
	if key.(*APIKey).Name != "test-key" {
		t.Errorf("key name = %s", key.(*APIKey).Name)
	}
}

func TestMiddleware_XAPIKeyHeader(t *testing.T) {
	mgr, rawKey, _ := setupMiddlewareTest(t)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request, _ = http.NewRequest("GET", "/test", nil)
	c.Request.Header.Set("X-API-Key", rawKey)

	Middleware(mgr)(c)

	if !IsAuthenticated(c) {
		t.Error("X-API-Key header should authenticate")
	}
}

func TestMiddleware_InvalidKey_NoContext(t *testing.T) {
	mgr, _, _ := setupMiddlewareTest(t)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request, _ = http.NewRequest("GET", "/test", nil)
	c.Request.Header.Set("Authorization", "sk_bogus")

	Middleware(mgr)(c)

	if IsAuthenticated(c) {
		t.Error("bogus key should not authenticate")
	}
	if GetAuthenticatedAgent(c) != "" {
		t.Error("no agent address should be set")
	}
}

func TestMiddleware_NoHeader_Passthrough(t *testing.T) {
	mgr, _, _ := setupMiddlewareTest(t)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request, _ = http.NewRequest("GET", "/test", nil)

	Middleware(mgr)(c)

	if IsAuthenticated(c) {
		t.Error("request without credentials should not authenticate")
	}
	if c.IsAborted() {
		t.Error("optional auth middleware must not abort")
	}
}

func newAuthedRouter(t *testing.T) (*gin.Engine, string) {
	t.Helper()
	mgr, rawKey, _ := setupMiddlewareTest(t)

	r := gin.New()
	r.Use(Middleware(mgr))
	protected := r.Group("", RequireAuth())
	protected.GET("/me", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"agent": GetAuthenticatedAgent(c)})
	})
	owned := r.Group("", RequireAuth(), RequireOwnership("address"))
	owned.DELETE("/agents/:address", func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})
	return r, rawKey
}

func TestRequireAuth(t *testing.T) {
	r, rawKey := newAuthedRouter(t)

	req := httptest.NewRequest("GET", "/me", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("unauthenticated status = %d, want 401", w.Code)
	}

	req = httptest.NewRequest("GET", "/me", nil)
	req.Header.Set("Authorization", "Bearer "+rawKey)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("authenticated status = %d, want 200", w.Code)
	}
}

func TestRequireOwnership(t *testing.T) {
	r, rawKey := newAuthedRouter(t)

	// Owner may act on their own address.
	req := httptest.NewRequest("DELETE", "/agents/"+agentAddr, nil)
	req.Header.Set("Authorization", "Bearer "+rawKey)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusNoContent {
		t.Errorf("owner status = %d, want 204", w.Code)
	}

	// Someone else's address is forbidden.
	req = httptest.NewRequest("DELETE", "/agents/"+otherAddr, nil)
	req.Header.Set("Authorization", "Bearer "+rawKey)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusForbidden {
		t.Errorf("non-owner status = %d, want 403", w.Code)
	}
}

func TestRequireOwnership_CaseSensitive(t *testing.T) {
	mgr, rawKey, _ := setupMiddlewareTest(t)

	r := gin.New()
	r.Use(Middleware(mgr))
	r.DELETE("/agents/:address", RequireAuth(), RequireOwnership("address"), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})

	// Same address with different case is a different address.
	lowered := "9xqewvg816bux9epjhmat23yvvm2zwbrrpzb9pusvfin"
	req := httptest.NewRequest("DELETE", "/agents/"+lowered, nil)
	req.Header.Set("Authorization", "Bearer "+rawKey)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusForbidden {
		t.Errorf("case-mismatched address status = %d, want 403", w.Code)
	}
}

func TestRegisterEndpoint(t *testing.T) {
	mgr := NewManager(NewMemoryStore(), nil, slog.Default())
	h := NewHandler(mgr)

	r := gin.New()
	r.POST("/agents", h.Register)
	r.GET("/agents/:address", h.GetAgent)

	body := `{"address":"` + agentAddr + `","name":"translator-bot"}`
	req := httptest.NewRequest("POST", "/agents", nil)
	req.Body = http.NoBody
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("empty body status = %d, want 400", w.Code)
	}

	req = httptest.NewRequest("POST", "/agents", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusCreated {
		t.Fatalf("register status = %d: %s", w.Code, w.Body.String())
	}

	// Duplicate registration conflicts.
	req = httptest.NewRequest("POST", "/agents", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusConflict {
		t.Errorf("duplicate status = %d, want 409", w.Code)
	}

	req = httptest.NewRequest("GET", "/agents/"+agentAddr, nil)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("get agent status = %d, want 200", w.Code)
	}
}
