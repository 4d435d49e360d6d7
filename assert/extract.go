package assert

import (
	"net/http"
	"strings"
)

// TokenExtractor pulls a credential out of a request. Extractors are
// composed in order by the mechanism; the first non-nil credential wins.
type TokenExtractor interface {
	Extract(r *http.Request) *Credential
}

// HeaderExtractor reads a credential from a named header formatted as
// "<Scheme> <token>". The scheme comparison is case-insensitive and
// exactly one separating space is required; anything malformed yields
// no credential rather than an error.
type HeaderExtractor struct {
	Header string
	Scheme string
}

func (e HeaderExtractor) Extract(r *http.Request) *Credential {
	value := r.Header.Get(e.Header)
	if value == "" {
		return nil
	}
	if len(value) <= len(e.Scheme) || !strings.EqualFold(value[:len(e.Scheme)], e.Scheme) {
		return nil
	}
	if value[len(e.Scheme)] != ' ' {
		return nil
	}
	token := value[len(e.Scheme)+1:]
	if token == "" || strings.HasPrefix(token, " ") {
		return nil
	}
	return NewCredential(token)
}

// QueryExtractor reads a credential from a named query parameter, the
// fallback when no usable header is present.
type QueryExtractor struct {
	Param string
}

func (e QueryExtractor) Extract(r *http.Request) *Credential {
	return NewCredential(r.URL.Query().Get(e.Param))
}
