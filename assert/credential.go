// Package assert implements bearer-token assertion: turning a raw request
// credential into a validated principal with a resolved permission set.
//
// The chain is Credential -> Processor (signature + claims decode) ->
// Verifier (claims policy) -> Store (existence check + permission cache).
package assert

// Credential is an opaque token extracted from a request. It is created
// per request and discarded after validation.
type Credential struct {
	Token string
}

// NewCredential wraps a raw token string. Returns nil for an empty token
// so callers can pass the result straight to Store.Validate.
func NewCredential(token string) *Credential {
	if token == "" {
		return nil
	}
	return &Credential{Token: token}
}

// Principal is the validated identity produced by a successful assertion:
// claims verified and existence confirmed against the identity store.
type Principal struct {
	Name string
}

func (p *Principal) String() string { return p.Name }
