package authgin

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/identigraph/assertkit/assert"
	"github.com/identigraph/assertkit/config"
	memorylimiter "github.com/identigraph/assertkit/ratelimit/memory"
	"github.com/identigraph/assertkit/testkit"
)

type stubIdentity struct {
	known map[string][]string
}

func (s *stubIdentity) Authenticate(_ context.Context, username string) error {
	if _, ok := s.known[username]; !ok {
		return assert.Denied(assert.DenyUnknownPrincipal, "principal %q not registered", username)
	}
	return nil
}

func (s *stubIdentity) Permissions(_ context.Context, username string) ([]string, error) {
	return s.known[username], nil
}

func testRig(t *testing.T, cfg *config.Asserter, identity assert.IdentityStore, opts ...MechanismOption) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	store := assert.NewStore(cfg, identity, nil)
	router := gin.New()
	router.Use(NewMechanism(cfg, store, opts...).Handler())
	router.GET("/resource", func(c *gin.Context) {
		if principal, ok := Principal(c); ok {
			c.String(http.StatusOK, principal.Name)
			return
		}
		c.String(http.StatusOK, "anonymous")
	})
	return router
}

func plainConfig(t *testing.T) *config.Asserter {
	t.Helper()
	cfg, err := config.NewAsserter("unit", t.TempDir())
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	return cfg
}

func TestHandlerNoTokenProceedsUnauthenticated(t *testing.T) {
	notified := false
	router := testRig(t, plainConfig(t), &stubIdentity{},
		WithLoginNotify(func(*gin.Context, *assert.Principal, []string) { notified = true }))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/resource", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("anonymous request must pass through, got %d", rec.Code)
	}
	if rec.Body.String() != "anonymous" {
		t.Fatalf("no principal expected, got %q", rec.Body.String())
	}
	if notified {
		t.Fatal("login notification must not fire without a credential")
	}
}

func TestHandlerMalformedHeaderIsNoCredential(t *testing.T) {
	router := testRig(t, plainConfig(t), &stubIdentity{})

	req := httptest.NewRequest(http.MethodGet, "/resource", nil)
	req.Header.Set("oam_remote_user", "Basic jane.doe")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK || rec.Body.String() != "anonymous" {
		t.Fatalf("malformed header must be ignored, got %d %q", rec.Code, rec.Body.String())
	}
}

func TestHandlerEstablishesPrincipal(t *testing.T) {
	var gotPrincipal *assert.Principal
	var gotPermissions []string
	identity := &stubIdentity{known: map[string][]string{"jane.doe": {"viewer"}}}
	router := testRig(t, plainConfig(t), identity,
		WithLoginNotify(func(_ *gin.Context, p *assert.Principal, permissions []string) {
			gotPrincipal, gotPermissions = p, permissions
		}))

	req := httptest.NewRequest(http.MethodGet, "/resource", nil)
	req.Header.Set("oam_remote_user", "Bearer jane.doe")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK || rec.Body.String() != "jane.doe" {
		t.Fatalf("expected jane.doe, got %d %q", rec.Code, rec.Body.String())
	}
	if gotPrincipal == nil || gotPrincipal.Name != "jane.doe" {
		t.Fatalf("notification principal: %v", gotPrincipal)
	}
	hasAuthenticated := false
	for _, p := range gotPermissions {
		if p == assert.PermissionAuthenticated {
			hasAuthenticated = true
		}
	}
	if !hasAuthenticated {
		t.Fatalf("implicit permission missing from %v", gotPermissions)
	}
}

func TestHandlerQueryParameterFallback(t *testing.T) {
	identity := &stubIdentity{known: map[string][]string{"jane.doe": nil}}
	router := testRig(t, plainConfig(t), identity)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/resource?access_token=jane.doe", nil))

	if rec.Code != http.StatusOK || rec.Body.String() != "jane.doe" {
		t.Fatalf("expected jane.doe via query parameter, got %d %q", rec.Code, rec.Body.String())
	}
}

func TestHandlerRejectsUnknownPrincipal(t *testing.T) {
	notified := false
	router := testRig(t, plainConfig(t), &stubIdentity{},
		WithLoginNotify(func(*gin.Context, *assert.Principal, []string) { notified = true }))

	req := httptest.NewRequest(http.MethodGet, "/resource", nil)
	req.Header.Set("oam_remote_user", "Bearer nobody")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
	if notified {
		t.Fatal("login notification must not fire on rejection")
	}
	var body struct {
		Status string `json:"status"`
		Type   string `json:"type"`
		Detail string `json:"detail"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Status != "403" || body.Type != string(assert.DenyUnknownPrincipal) {
		t.Fatalf("unexpected body %+v", body)
	}
	if body.Detail != "authentication failed" {
		t.Fatalf("detail must stay generic, got %q", body.Detail)
	}
}

func TestHandlerRejectsExpiredBearerToken(t *testing.T) {
	issuer := testkit.NewIssuer("unit-app")
	defer issuer.Close()

	cfg := plainConfig(t)
	cfg.SetAssertionType(config.TypeBearer)
	cfg.SetAssertionHeader("Authorization")
	cfg.SetSigningLocation(issuer.JWKSURL())
	cfg.SetOAuthDomain("TestDomain")
	cfg.SetOAuthAudience([]string{issuer.Audience()})

	identity := &stubIdentity{known: map[string][]string{"jane.doe": nil}}
	router := testRig(t, cfg, identity)

	token := issuer.Token("jane.doe", map[string]any{
		"exp": time.Now().Add(-2 * time.Hour).Unix(),
	})
	req := httptest.NewRequest(http.MethodGet, "/resource", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for an expired token, got %d", rec.Code)
	}
}

func TestHandlerThrottlesValidationAttempts(t *testing.T) {
	identity := &stubIdentity{known: map[string][]string{"jane.doe": nil}}
	limiter := memorylimiter.New(map[string]memorylimiter.Limit{
		ThrottleBucket: {Attempts: 1, Window: time.Minute},
	})
	router := testRig(t, plainConfig(t), identity, WithThrottle(limiter))

	req := httptest.NewRequest(http.MethodGet, "/resource", nil)
	req.Header.Set("oam_remote_user", "Bearer jane.doe")

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("first attempt should pass, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("throttled attempt must fail closed, got %d", rec.Code)
	}

	// token-less requests are never counted or throttled
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/resource", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("anonymous request must pass through, got %d", rec.Code)
	}
}

func TestHandlerIdempotentWhenPrincipalPresent(t *testing.T) {
	identity := &stubIdentity{known: map[string][]string{"jane.doe": nil}}
	cfg := plainConfig(t)
	store := assert.NewStore(cfg, identity, nil)

	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(func(c *gin.Context) {
		c.Set(ContextPrincipal, &assert.Principal{Name: "upstream"})
	})
	router.Use(NewMechanism(cfg, store).Handler())
	router.GET("/resource", func(c *gin.Context) {
		principal, _ := Principal(c)
		c.String(http.StatusOK, principal.Name)
	})

	// the header names a different user; the established principal wins
	req := httptest.NewRequest(http.MethodGet, "/resource", nil)
	req.Header.Set("oam_remote_user", "Bearer jane.doe")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Body.String() != "upstream" {
		t.Fatalf("expected the established principal, got %q", rec.Body.String())
	}
}
