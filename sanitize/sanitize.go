package sanitize

import "github.com/microcosm-cc/bluemonday"

// Sanitizer strips unsafe markup from contract content. Sanitize is
// idempotent: running it over already-sanitized content changes nothing.
type Sanitizer struct {
	policy *bluemonday.Policy
}

func New() *Sanitizer {
	policy := bluemonday.UGCPolicy()
	policy.AllowAttrs("style").OnElements("p", "span", "div", "td", "th")
	policy.AllowTables()
	return &Sanitizer{policy: policy}
}

// Sanitize returns a safe version of the given HTML fragment.
func (s *Sanitizer) Sanitize(rawHTML string) string {
	return s.policy.Sanitize(rawHTML)
}
