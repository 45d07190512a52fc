// Package classify turns an HTTP method+path into the "api identifier" used
// as the rate-limit lookup key throughout internal/ratelimit.
package classify

import (
	"regexp"
	"strings"
)

// Identify derives the api identifier for a request: "METHOD /path", with
// any query string and trailing slash stripped from the path (preserving a
// lone "/" for the root path). Mirrors
// original_source/pylon/services/proxy.py's get_api_identifier.
func Identify(method, path string) string {
	return strings.ToUpper(method) + " " + normalizePath(path)
}

func normalizePath(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if len(path) > 1 && strings.HasSuffix(path, "/") {
		path = strings.TrimRight(path, "/")
	}
	if path == "" {
		path = "/"
	}
	return path
}

// PatternRule is a compiled "METHOD /path/pattern". It carries no rate-limit
// rule itself; internal/ratelimit.PatternRule pairs it with one and scans
// them in declaration order — first match wins.
type PatternRule struct {
	Pattern string
	method  string
	pathRE  *regexp.Regexp
}

// CompilePattern parses a pattern of the form "METHOD /path", where the
// path may contain "{name}" (matches one path segment) and "*" (matches the
// rest of the path). Mirrors rate_limiter.py's _match_api_pattern.
func CompilePattern(pattern string) PatternRule {
	parts := strings.SplitN(pattern, " ", 2)
	if len(parts) != 2 {
		// No method prefix: match any method, whole string is the path pattern.
		return PatternRule{Pattern: pattern, method: "", pathRE: regexp.MustCompile("^" + buildPathRegex(pattern) + "$")}
	}
	return PatternRule{
		Pattern: pattern,
		method:  strings.ToUpper(parts[0]),
		pathRE:  regexp.MustCompile("^" + buildPathRegex(parts[1]) + "$"),
	}
}

var paramToken = regexp.MustCompile(`\{[^/{}]+\}`)

// buildPathRegex walks a path pattern left to right, escaping literal runs
// and substituting "{name}" -> "[^/]+" and "*" -> ".*".
func buildPathRegex(path string) string {
	var b strings.Builder
	i := 0
	for i < len(path) {
		switch {
		case path[i] == '*':
			b.WriteString(".*")
			i++
		case path[i] == '{':
			if loc := paramToken.FindStringIndex(path[i:]); loc != nil && loc[0] == 0 {
				b.WriteString(`[^/]+`)
				i += loc[1]
				continue
			}
			b.WriteString(regexp.QuoteMeta(string(path[i])))
			i++
		default:
			j := i
			for j < len(path) && path[j] != '*' && path[j] != '{' {
				j++
			}
			b.WriteString(regexp.QuoteMeta(path[i:j]))
			i = j
		}
	}
	return b.String()
}

// Matches reports whether identifier ("METHOD /path") satisfies this pattern.
func (p PatternRule) Matches(identifier string) bool {
	parts := strings.SplitN(identifier, " ", 2)
	if len(parts) != 2 {
		return false
	}
	if p.method != "" && p.method != strings.ToUpper(parts[0]) {
		return false
	}
	return p.pathRE.MatchString(parts[1])
}
