package auth

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	app "github.com/mark3748/helpdesk-sla/cmd/api/app"
)

// AuthUser represents the authenticated caller.
type AuthUser struct {
	ExternalID  string   `json:"external_id"`
	Email       string   `json:"email"`
	DisplayName string   `json:"display_name"`
	Roles       []string `json:"roles"`
}

// Middleware validates the bearer token (or the local auth cookie) and
// stores the AuthUser under "user".
func Middleware(a *app.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		if a.Cfg.TestBypassAuth {
			c.Set("user", AuthUser{
				ExternalID:  "test",
				Email:       "test@example.com",
				DisplayName: "Test User",
				Roles:       []string{"agent"},
			})
			c.Next()
			return
		}
		keyf, claim := a.Keyf, a.Cfg.OIDCGroupClaim
		if a.Cfg.AuthMode == "local" {
			keyf, claim = localKeyfunc(a.Cfg.AuthLocalSecret), "roles"
		}
		if keyf == nil {
			app.AbortError(c, http.StatusInternalServerError, "auth_unconfigured", "jwks not configured", nil)
			return
		}
		tokenStr := bearer(c)
		if tokenStr == "" {
			app.AbortError(c, http.StatusUnauthorized, "unauthenticated", "missing bearer token", nil)
			return
		}
		opts := []jwt.ParserOption{jwt.WithLeeway(time.Duration(a.Cfg.JWTClockSkewSeconds) * time.Second)}
		if a.Cfg.OIDCIssuer != "" && a.Cfg.AuthMode != "local" {
			opts = append(opts, jwt.WithIssuer(a.Cfg.OIDCIssuer))
		}
		token, err := jwt.Parse(tokenStr, keyf, opts...)
		if err != nil || !token.Valid {
			app.AbortError(c, http.StatusUnauthorized, "invalid_token", "invalid token", nil)
			return
		}
		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok {
			app.AbortError(c, http.StatusUnauthorized, "invalid_token", "invalid claims", nil)
			return
		}
		u := AuthUser{
			ExternalID:  getStringClaim(claims, "sub"),
			Email:       getStringClaim(claims, "email"),
			DisplayName: getStringClaim(claims, "name"),
			Roles:       rolesClaim(claims[claim]),
		}
		if u.DisplayName == "" {
			u.DisplayName = getStringClaim(claims, "preferred_username")
		}
		c.Set("user", u)
		c.Next()
	}
}

func bearer(c *gin.Context) string {
	if h := c.GetHeader("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	if v, err := c.Cookie("auth"); err == nil {
		return v
	}
	return ""
}

func localKeyfunc(secret string) jwt.Keyfunc {
	if secret == "" {
		return nil
	}
	return func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(secret), nil
	}
}

func rolesClaim(v interface{}) []string {
	switch g := v.(type) {
	case []interface{}:
		out := []string{}
		for _, v := range g {
			if s, ok := v.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case []string:
		return g
	case string:
		return []string{g}
	}
	return nil
}

func getStringClaim(c jwt.MapClaims, key string) string {
	if v, ok := c[key].(string); ok {
		return v
	}
	return ""
}

// Me returns the authenticated user.
func Me(c *gin.Context) {
	u, ok := c.Get("user")
	if !ok {
		app.AbortError(c, http.StatusUnauthorized, "unauthenticated", "unauthenticated", nil)
		return
	}
	c.JSON(http.StatusOK, app.Envelope{Data: u})
}

// RequireRole ensures the user has one of the required roles. Admins pass
// every check.
func RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		uVal, ok := c.Get("user")
		if !ok {
			app.AbortError(c, http.StatusUnauthorized, "unauthenticated", "unauthenticated", nil)
			return
		}
		user, ok := uVal.(AuthUser)
		if !ok {
			app.AbortError(c, http.StatusUnauthorized, "unauthenticated", "invalid user", nil)
			return
		}
		for _, r := range user.Roles {
			if r == "admin" {
				c.Next()
				return
			}
			for _, want := range roles {
				if r == want {
					c.Next()
					return
				}
			}
		}
		app.AbortError(c, http.StatusForbidden, "forbidden", "forbidden", nil)
	}
}
