package expr

import (
	"regexp"
	"strings"
	"sync"
)

// patternCache memoizes the compiled regexp for each (pattern,
// caseInsensitive) pair seen by LIKE/ILIKE, since the same literal
// pattern is evaluated once per input row.
var patternCache sync.Map // map[patternCacheKey]*regexp.Regexp

type patternCacheKey struct {
	pattern         string
	caseInsensitive bool
}

func compilePattern(pattern string, caseInsensitive bool) *regexp.Regexp {
	key := patternCacheKey{pattern: pattern, caseInsensitive: caseInsensitive}
	if v, ok := patternCache.Load(key); ok {
		return v.(*regexp.Regexp)
	}
	re := regexp.MustCompile(buildRegexp(pattern, caseInsensitive))
	patternCache.Store(key, re)
	return re
}

// buildRegexp translates a SQL LIKE pattern (% matches any run of
// characters, _ matches exactly one, \ escapes the next character)
// into an anchored Go regexp.
func buildRegexp(pattern string, caseInsensitive bool) string {
	var b strings.Builder
	if caseInsensitive {
		b.WriteString("(?i)")
	}
	b.WriteByte('^')
	escaped := false
	for _, r := range pattern {
		if escaped {
			b.WriteString(regexp.QuoteMeta(string(r)))
			escaped = false
			continue
		}
		switch r {
		case '\\':
			escaped = true
		case '%':
			b.WriteString(".*")
		case '_':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteByte('$')
	return b.String()
}
