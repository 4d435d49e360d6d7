package assert

import "time"

// Well-known claim names.
const (
	ClaimIssuer    = "iss"
	ClaimSubject   = "sub"
	ClaimAudience  = "aud"
	ClaimExpires   = "exp"
	ClaimNotBefore = "nbf"
	ClaimIssuedAt  = "iat"
	ClaimTokenID   = "jti"
)

// ClaimSet is the decoded payload of a verified token: claim name to
// value, where a value is a string, a list of strings, or a timestamp.
// A ClaimSet is never mutated after construction; verification only
// reads it.
type ClaimSet map[string]any

// Has reports whether the named claim is present.
func (c ClaimSet) Has(name string) bool {
	_, ok := c[name]
	return ok
}

// String returns the named claim as a string, or "" when absent or of
// another shape.
func (c ClaimSet) String(name string) string {
	s, _ := c[name].(string)
	return s
}

// Strings returns the named claim as a string list. A scalar string
// claim yields a one-element list, matching how the audience claim may
// be serialized either way.
func (c ClaimSet) Strings(name string) []string {
	switch v := c[name].(type) {
	case []string:
		return v
	case string:
		return []string{v}
	case []any:
		out := make([]string, 0, len(v))
		for _, e := range v {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// Time returns the named claim as a timestamp. Numeric values are read
// as seconds since the epoch.
func (c ClaimSet) Time(name string) (time.Time, bool) {
	switch v := c[name].(type) {
	case time.Time:
		return v, true
	case int64:
		return time.Unix(v, 0), true
	case float64:
		return time.Unix(int64(v), 0), true
	default:
		return time.Time{}, false
	}
}

// Subject returns the subject claim.
func (c ClaimSet) Subject() string { return c.String(ClaimSubject) }
