package auth_test

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/jwx/v2/jwk"

	apppkg "github.com/mark3748/helpdesk-sla/cmd/api/app"
	authpkg "github.com/mark3748/helpdesk-sla/cmd/api/auth"
)

func decodeUser(t *testing.T, body []byte) authpkg.AuthUser {
	t.Helper()
	var env struct {
		Data authpkg.AuthUser `json:"data"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	return env.Data
}

func TestMiddlewarePopulatesUserFromClaims(t *testing.T) {
	cfg := apppkg.Config{Env: "test", OIDCGroupClaim: "roles"}
	key := []byte("secret")
	keyf := func(t *jwt.Token) (any, error) { return key, nil }

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":   "user-123",
		"email": "user@example.com",
		"name":  "User Name",
		"roles": []string{"agent", "manager"},
	})
	signed, err := token.SignedString(key)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}

	a := apppkg.NewApp(cfg, nil, keyf, nil, nil)
	a.R.GET("/me", authpkg.Middleware(a), authpkg.Me)

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+signed)
	a.R.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	u := decodeUser(t, rr.Body.Bytes())
	if u.Email != "user@example.com" || u.DisplayName != "User Name" {
		t.Fatalf("unexpected user: %+v", u)
	}
	if len(u.Roles) != 2 || u.Roles[0] != "agent" || u.Roles[1] != "manager" {
		t.Fatalf("roles not populated: %+v", u.Roles)
	}
}

func TestMiddlewareRejects(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cases := []struct {
		name   string
		cfg    apppkg.Config
		keyf   jwt.Keyfunc
		header string
		want   int
	}{
		{"no keys", apppkg.Config{}, nil, "Bearer x", http.StatusInternalServerError},
		{"missing token", apppkg.Config{}, func(*jwt.Token) (any, error) { return []byte("k"), nil }, "", http.StatusUnauthorized},
		{"garbage token", apppkg.Config{}, func(*jwt.Token) (any, error) { return []byte("k"), nil }, "Bearer nope", http.StatusUnauthorized},
	}
	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			a := apppkg.NewApp(tt.cfg, nil, tt.keyf, nil, nil)
			a.R.GET("/me", authpkg.Middleware(a), authpkg.Me)
			rr := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			a.R.ServeHTTP(rr, req)
			if rr.Code != tt.want {
				t.Fatalf("expected %d, got %d", tt.want, rr.Code)
			}
		})
	}
}

func TestLocalModeCookie(t *testing.T) {
	cfg := apppkg.Config{AuthMode: "local", AuthLocalSecret: "s3cret"}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":   "u1",
		"roles": []string{"admin"},
		"exp":   time.Now().Add(time.Hour).Unix(),
	})
	signed, _ := token.SignedString([]byte("s3cret"))

	a := apppkg.NewApp(cfg, nil, nil, nil, nil)
	a.R.GET("/admin", authpkg.Middleware(a), authpkg.RequireRole("sla_admin"), func(c *gin.Context) { c.Status(http.StatusNoContent) })

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/admin", nil)
	req.AddCookie(&http.Cookie{Name: "auth", Value: signed})
	a.R.ServeHTTP(rr, req)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("admin should pass every role check, got %d", rr.Code)
	}
}

func TestRequireRole(t *testing.T) {
	gin.SetMode(gin.TestMode)
	a := apppkg.NewApp(apppkg.Config{TestBypassAuth: true}, nil, nil, nil, nil)
	ok := func(c *gin.Context) { c.Status(http.StatusNoContent) }
	a.R.GET("/agent", authpkg.Middleware(a), authpkg.RequireRole("agent"), ok)
	a.R.GET("/admin", authpkg.Middleware(a), authpkg.RequireRole("sla_admin"), ok)

	for path, want := range map[string]int{"/agent": http.StatusNoContent, "/admin": http.StatusForbidden} {
		rr := httptest.NewRecorder()
		a.R.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
		if rr.Code != want {
			t.Fatalf("%s: expected %d, got %d", path, want, rr.Code)
		}
	}
}

func TestJWKSKeyfunc(t *testing.T) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("rsa generate: %v", err)
	}
	pubJWK, err := jwk.FromRaw(&priv.PublicKey)
	if err != nil {
		t.Fatalf("jwk from raw: %v", err)
	}
	_ = pubJWK.Set("kid", "test-key")
	_ = pubJWK.Set("alg", "RS256")
	set := jwk.NewSet()
	set.AddKey(pubJWK)

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(set)
	}))
	defer ts.Close()

	jwks, err := authpkg.FetchJWKS(context.Background(), ts.URL)
	if err != nil {
		t.Fatalf("fetch jwks: %v", err)
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{
		"iss":   "https://issuer.example",
		"sub":   "user-123",
		"email": "user@example.com",
	})
	token.Header["kid"] = "test-key"
	signed, err := token.SignedString(priv)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}

	cfg := apppkg.Config{OIDCIssuer: "https://issuer.example"}
	a := apppkg.NewApp(cfg, nil, jwks.Keyfunc, nil, nil)
	a.R.GET("/me", authpkg.Middleware(a), authpkg.Me)

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+signed)
	a.R.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d. body=%s", rr.Code, rr.Body.String())
	}
	if u := decodeUser(t, rr.Body.Bytes()); u.ExternalID != "user-123" {
		t.Fatalf("unexpected user: %+v", u)
	}

	a.Cfg.OIDCIssuer = "https://other.example"
	a2 := apppkg.NewApp(a.Cfg, nil, jwks.Keyfunc, nil, nil)
	a2.R.GET("/me", authpkg.Middleware(a2), authpkg.Me)
	rr = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+signed)
	a2.R.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("wrong issuer should be rejected, got %d", rr.Code)
	}
}
