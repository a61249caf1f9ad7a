// Package jwtware discovers raw tokens on incoming fiber requests.
package jwtware

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
)

// DefaultTokenLookup checks the bearer header, then the token cookie, then
// the token query parameter.
const DefaultTokenLookup = "header:" + fiber.HeaderAuthorization + ",cookie:token,query:token"

// LookupForCookie is DefaultTokenLookup reading the token from cookieName
func LookupForCookie(cookieName string) string {
	if cookieName = strings.TrimSpace(cookieName); cookieName == "" {
		return DefaultTokenLookup
	}
	return "header:" + fiber.HeaderAuthorization + ",cookie:" + cookieName + ",query:token"
}

// CookieNames returns the cookie entries of a lookup string in order
func CookieNames(tokenLookup string) []string {
	var names []string
	for _, extractor := range GetExtractors(tokenLookup) {
		if extractor.Source == SourceCookie {
			names = append(names, extractor.Name)
		}
	}
	return names
}

// DefaultAuthScheme is the expected Authorization header scheme
const DefaultAuthScheme = "Bearer"

// Lookup sources
const (
	SourceHeader = "header"
	SourceCookie = "cookie"
	SourceQuery  = "query"
	SourceParam  = "param"
)

var ErrJWTMissingOrMalformed = errors.New("missing or malformed JWT")

// ExtractFunc pulls a raw token from the request
type ExtractFunc func(c *fiber.Ctx) (string, error)

// Extractor is one entry of a token lookup string
type Extractor struct {
	// Source is header, cookie, query or param
	Source string
	Name   string
	// Scheme is the Authorization scheme of header extractors
	Scheme  string
	Extract ExtractFunc
}

// GetExtractors parses a lookup string such as
// "header:Authorization,cookie:token,query:token" into ordered extractors.
// Unknown sources and entries without a name are skipped.
func GetExtractors(tokenLookup string, authSchemes ...string) []Extractor {
	extractors := make([]Extractor, 0)

	authScheme := DefaultAuthScheme
	if len(authSchemes) > 0 && strings.TrimSpace(authSchemes[0]) != "" {
		authScheme = strings.TrimSpace(authSchemes[0])
	}

	for _, rootPart := range strings.Split(tokenLookup, ",") {
		source, name, ok := strings.Cut(strings.TrimSpace(rootPart), ":")
		source = strings.TrimSpace(source)
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			continue
		}

		var fn ExtractFunc
		switch source {
		case SourceHeader:
			fn = jwtFromHeader(name, authScheme)
		case SourceQuery:
			fn = jwtFromQuery(name)
		case SourceParam:
			fn = jwtFromParam(name)
		case SourceCookie:
			fn = jwtFromCookie(name)
		default:
			continue
		}

		extractor := Extractor{Source: source, Name: name, Extract: fn}
		if source == SourceHeader {
			extractor.Scheme = authScheme
		}
		extractors = append(extractors, extractor)
	}

	return extractors
}

// ExtractRawToken returns the first token found and the source it came from
func ExtractRawToken(c *fiber.Ctx, extractors []Extractor) (string, string, error) {
	for _, extractor := range extractors {
		raw, err := extractor.Extract(c)
		if raw != "" && err == nil {
			return raw, extractor.Source, nil
		}
	}
	return "", "", ErrJWTMissingOrMalformed
}

// jwtFromHeader returns a function that extracts token from the request header.
func jwtFromHeader(header string, authScheme string) ExtractFunc {
	return func(c *fiber.Ctx) (string, error) {
		if token := schemeToken(c.Get(header), authScheme); token != "" {
			return token, nil
		}
		return "", ErrJWTMissingOrMalformed
	}
}

// schemeToken returns the credentials of an Authorization style value when
// it starts with authScheme
func schemeToken(value, authScheme string) string {
	l := len(authScheme)
	if len(value) > l+1 && strings.EqualFold(value[:l], authScheme) && value[l] == ' ' {
		return strings.TrimSpace(value[l:])
	}
	return ""
}

// jwtFromQuery returns a function that extracts token from the query string.
func jwtFromQuery(param string) ExtractFunc {
	return func(c *fiber.Ctx) (string, error) {
		token := strings.TrimSpace(c.Query(param))
		if token == "" {
			return "", ErrJWTMissingOrMalformed
		}
		return token, nil
	}
}

// jwtFromParam returns a function that extracts token from the url param string.
func jwtFromParam(param string) ExtractFunc {
	return func(c *fiber.Ctx) (string, error) {
		token := c.Params(param)
		if token == "" {
			return "", ErrJWTMissingOrMalformed
		}
		return token, nil
	}
}

// jwtFromCookie returns a function that extracts token from the named cookie.
func jwtFromCookie(name string) ExtractFunc {
	return func(c *fiber.Ctx) (string, error) {
		token := strings.TrimSpace(c.Cookies(name))
		if token == "" {
			return "", ErrJWTMissingOrMalformed
		}
		return token, nil
	}
}
