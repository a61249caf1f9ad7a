package jwtware

import (
	"strings"

	"github.com/goliatone/go-router"
)

// ExtractRouterToken is ExtractRawToken for go-router contexts
func ExtractRouterToken(c router.Context, extractors []Extractor) (string, string, error) {
	for _, extractor := range extractors {
		var raw string
		switch extractor.Source {
		case SourceHeader:
			raw = schemeToken(c.Header(extractor.Name), extractor.Scheme)
		case SourceCookie:
			raw = c.Cookies(extractor.Name)
		case SourceQuery:
			raw = strings.TrimSpace(c.Query(extractor.Name))
		case SourceParam:
			raw = c.Param(extractor.Name)
		}
		if raw != "" {
			return raw, extractor.Source, nil
		}
	}
	return "", "", ErrJWTMissingOrMalformed
}
