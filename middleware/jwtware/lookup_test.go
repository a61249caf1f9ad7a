package jwtware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/goliatone/go-router"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gymstack/gym-auth/middleware/jwtware"
)

func newLookupApp(lookup string) *fiber.App {
	extractors := jwtware.GetExtractors(lookup)
	app := fiber.New()
	handler := func(c *fiber.Ctx) error {
		raw, source, err := jwtware.ExtractRawToken(c, extractors)
		if err != nil {
			return c.SendStatus(fiber.StatusUnauthorized)
		}
		c.Set("X-Token", raw)
		c.Set("X-Source", source)
		return c.SendStatus(fiber.StatusOK)
	}
	app.Get("/", handler)
	app.Get("/p/:token", handler)
	return app
}

func newRouterLookupApp(lookup string) *fiber.App {
	extractors := jwtware.GetExtractors(lookup)
	adapter := router.NewFiberAdapter(func(*fiber.App) *fiber.App {
		return fiber.New()
	})
	handler := func(c router.Context) error {
		raw, source, err := jwtware.ExtractRouterToken(c, extractors)
		if err != nil {
			return c.SendStatus(fiber.StatusUnauthorized)
		}
		c.SetHeader("X-Token", raw)
		c.SetHeader("X-Source", source)
		return c.SendStatus(fiber.StatusOK)
	}
	adapter.Router().Get("/", handler)
	adapter.Router().Get("/p/:token", handler)
	return adapter.WrappedRouter()
}

func TestGetExtractors(t *testing.T) {
	extractors := jwtware.GetExtractors(" header:Authorization , cookie:token,query: token,bogus:x,cookie:")
	require.Len(t, extractors, 3)
	assert.Equal(t, jwtware.SourceHeader, extractors[0].Source)
	assert.Equal(t, "Authorization", extractors[0].Name)
	assert.Equal(t, jwtware.SourceCookie, extractors[1].Source)
	assert.Equal(t, jwtware.SourceQuery, extractors[2].Source)
	assert.Equal(t, "token", extractors[2].Name)
}

func TestLookupForCookie(t *testing.T) {
	assert.Equal(t, jwtware.DefaultTokenLookup, jwtware.LookupForCookie(""))
	assert.Equal(t, jwtware.DefaultTokenLookup, jwtware.LookupForCookie("token"))

	lookup := jwtware.LookupForCookie("gym_token")
	assert.Equal(t, []string{"gym_token"}, jwtware.CookieNames(lookup))
	assert.Empty(t, jwtware.CookieNames("header:Authorization,query:token"))
}

func TestExtractRawToken_Precedence(t *testing.T) {
	apps := map[string]*fiber.App{
		"fiber":  newLookupApp(jwtware.DefaultTokenLookup),
		"router": newRouterLookupApp(jwtware.DefaultTokenLookup),
	}

	tests := []struct {
		name   string
		header string
		cookie string
		query  string
		token  string
		source string
		status int
	}{
		{name: "header wins over cookie", header: "Bearer h", cookie: "c", token: "h", source: "header", status: 200},
		{name: "cookie wins over query", cookie: "c", query: "q", token: "c", source: "cookie", status: 200},
		{name: "query only", query: "q", token: "q", source: "query", status: 200},
		{name: "scheme is case insensitive", header: "bearer h", token: "h", source: "header", status: 200},
		{name: "header without scheme falls through", header: "h", cookie: "c", token: "c", source: "cookie", status: 200},
		{name: "empty bearer falls through", header: "Bearer ", query: "q", token: "q", source: "query", status: 200},
		{name: "nothing", status: 401},
	}

	for kind, app := range apps {
		for _, tt := range tests {
			t.Run(kind+"/"+tt.name, func(t *testing.T) {
				target := "/"
				if tt.query != "" {
					target += "?token=" + tt.query
				}
				req := httptest.NewRequest(http.MethodGet, target, nil)
				if tt.header != "" {
					req.Header.Set("Authorization", tt.header)
				}
				if tt.cookie != "" {
					req.AddCookie(&http.Cookie{Name: "token", Value: tt.cookie})
				}

				resp, err := app.Test(req)
				require.NoError(t, err)
				assert.Equal(t, tt.status, resp.StatusCode)
				assert.Equal(t, tt.token, resp.Header.Get("X-Token"))
				assert.Equal(t, tt.source, resp.Header.Get("X-Source"))
			})
		}
	}
}

func TestExtractRawToken_Param(t *testing.T) {
	app := newLookupApp("param:token")

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/p/abc", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "abc", resp.Header.Get("X-Token"))
	assert.Equal(t, jwtware.SourceParam, resp.Header.Get("X-Source"))
}
