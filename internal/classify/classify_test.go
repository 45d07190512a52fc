package classify

import "testing"

func TestIdentify(t *testing.T) {
	cases := []struct {
		method, path, want string
	}{
		{"GET", "/v1/chat/completions", "GET /v1/chat/completions"},
		{"get", "/v1/chat/completions?a=1", "GET /v1/chat/completions"},
		{"POST", "/v1/chat/completions/", "POST /v1/chat/completions"},
		{"GET", "/", "GET /"},
		{"GET", "", "GET /"},
		{"GET", "/v1/users/42/orders/", "GET /v1/users/42/orders"},
	}
	for _, c := range cases {
		if got := Identify(c.method, c.path); got != c.want {
			t.Errorf("Identify(%q, %q) = %q, want %q", c.method, c.path, got, c.want)
		}
	}
}

func TestPatternRuleMatches(t *testing.T) {
	byID := CompilePattern("GET /v1/users/{id}/orders")
	static := CompilePattern("GET /v1/static/*")

	if !byID.Matches("GET /v1/users/42/orders") {
		t.Errorf("expected match on GET /v1/users/42/orders")
	}
	if !static.Matches("GET /v1/static/css/app.css") {
		t.Errorf("expected match on GET /v1/static/css/app.css")
	}
	if byID.Matches("GET /v1/unknown") {
		t.Errorf("expected no match on GET /v1/unknown")
	}
	// Method mismatch must not match.
	if byID.Matches("POST /v1/users/42/orders") {
		t.Errorf("expected no match on method mismatch")
	}
}
