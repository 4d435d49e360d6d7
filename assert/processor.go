package assert

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jws"
	"github.com/lestrrat-go/jwx/v2/jwt"

	"github.com/identigraph/assertkit/config"
)

const (
	// identityDomainHeader tags every JWK fetch with the identity domain
	// the key set belongs to.
	identityDomainHeader = "X-OAUTH-IDENTITY-DOMAIN-NAME"

	// DefaultFetchTimeout bounds a single remote JWK fetch.
	DefaultFetchTimeout = 10 * time.Second

	// DefaultRefreshInterval is the minimum interval between JWK set
	// refreshes. Rotated keys become visible on the next refresh without
	// a round-trip on every request.
	DefaultRefreshInterval = 15 * time.Minute
)

// Processor turns a raw bearer token into a verified ClaimSet: it
// resolves the signing key from a cached remote JWK set, verifies the
// signature, decodes the claims, and runs the bearer claims policy.
// Construct once per store; a Processor is read-only afterwards and safe
// for concurrent use.
type Processor struct {
	keys     jwk.Set
	verifier *Verifier
}

// NewProcessor wires the remote key source and the claims verifier from
// configuration. The JWK endpoint is taken from signingLocation and
// fetched with the configured identity-domain header; the initial fetch
// happens here so a dead endpoint fails construction, not a request.
func NewProcessor(ctx context.Context, cfg *config.Asserter) (*Processor, error) {
	location := cfg.SigningLocation()
	if location == "" {
		return nil, Faultf("processor: signingLocation is not configured")
	}

	cache := jwk.NewCache(ctx)
	err := cache.Register(
		location,
		jwk.WithMinRefreshInterval(DefaultRefreshInterval),
		jwk.WithHTTPClient(domainClient(cfg.OAuthDomain())),
	)
	if err != nil {
		return nil, Fault(fmt.Errorf("processor: register %s: %w", location, err))
	}
	if _, err := cache.Refresh(ctx, location); err != nil {
		return nil, Fault(fmt.Errorf("processor: fetch %s: %w", location, err))
	}

	return &Processor{
		keys: jwk.NewCachedSet(cache, location),
		verifier: NewVerifier(Policy{
			Required: []string{ClaimIssuer, ClaimSubject, ClaimIssuedAt, ClaimTokenID},
			Audience: cfg.OAuthAudience(),
		}),
	}, nil
}

// Process verifies the token signature against the cached key set,
// decodes the claims, and applies the claims policy. Signature, key
// resolution, and decoding failures all surface as faults; policy
// violations surface as denials.
func (p *Processor) Process(ctx context.Context, raw string) (ClaimSet, error) {
	token, err := jwt.ParseString(
		raw,
		jwt.WithKeySet(p.keys, jws.WithInferAlgorithmFromKey(true)),
		jwt.WithValidate(false),
		jwt.WithContext(ctx),
	)
	if err != nil {
		return nil, Fault(fmt.Errorf("process token: %w", err))
	}
	decoded, err := token.AsMap(ctx)
	if err != nil {
		return nil, Fault(fmt.Errorf("decode claims: %w", err))
	}
	claims := ClaimSet(decoded)
	if err := p.verifier.Verify(claims); err != nil {
		return nil, err
	}
	return claims, nil
}

// domainClient builds the HTTP client used for JWK fetches: bounded
// timeout, identity-domain header on every request.
func domainClient(domain string) *http.Client {
	return &http.Client{
		Timeout:   DefaultFetchTimeout,
		Transport: &domainTransport{domain: domain, next: http.DefaultTransport},
	}
}

type domainTransport struct {
	domain string
	next   http.RoundTripper
}

func (t *domainTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	if t.domain != "" {
		r = r.Clone(r.Context())
		r.Header.Set(identityDomainHeader, t.domain)
	}
	return t.next.RoundTrip(r)
}
