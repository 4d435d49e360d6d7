package assert

import (
	"sort"
	"strings"
	"time"
)

// DefaultClockSkew is the tolerance applied symmetrically to the
// expiration and not-before checks when the policy leaves it zero.
const DefaultClockSkew = 60 * time.Second

// Policy describes what a claim set must satisfy. A Policy is compiled
// once into a Verifier and not consulted afterwards.
type Policy struct {
	// Required lists claim names that must be present. Keys of ExactMatch
	// are folded in at construction, so Required ⊇ keys(ExactMatch) holds
	// regardless of what callers pass.
	Required []string

	// ExactMatch maps claim names to the exact value each must carry.
	ExactMatch map[string]string

	// Audience is the acceptable audience set. nil disables the audience
	// check entirely. A non-nil empty list is distinct: the token must
	// carry no audience at all.
	Audience []string

	// ClockSkew is the tolerance for the time-window checks. Zero selects
	// DefaultClockSkew; a negative value means no tolerance.
	ClockSkew time.Duration

	// Now supplies the current-time reference. nil selects time.Now.
	Now func() time.Time

	// NoTimeWindow disables the expiration and not-before checks, for
	// evaluating claim sets whose validity window is checked elsewhere.
	NoTimeWindow bool
}

// Verifier evaluates claim sets against a fixed policy. Construct once,
// share freely: Verify never mutates the verifier or its input.
type Verifier struct {
	required map[string]struct{}
	exact    map[string]string
	audience []string // nil means no audience check
	skew     time.Duration
	now      func() time.Time
}

// NewVerifier compiles the policy. Exact-match keys are folded into the
// required set here so the presence check covers them structurally.
func NewVerifier(p Policy) *Verifier {
	v := &Verifier{
		required: make(map[string]struct{}, len(p.Required)+len(p.ExactMatch)),
		exact:    make(map[string]string, len(p.ExactMatch)),
		skew:     p.ClockSkew,
		now:      p.Now,
	}
	for _, name := range p.Required {
		v.required[name] = struct{}{}
	}
	for name, want := range p.ExactMatch {
		v.required[name] = struct{}{}
		v.exact[name] = want
	}
	if p.Audience != nil {
		v.audience = make([]string, len(p.Audience))
		copy(v.audience, p.Audience)
	}
	if v.skew == 0 {
		v.skew = DefaultClockSkew
	} else if v.skew < 0 {
		v.skew = 0
	}
	if v.now == nil && !p.NoTimeWindow {
		v.now = time.Now
	}
	return v
}

// Verify checks the claim set, short-circuiting on the first violation.
// The check order is fixed: presence, exact-match values, audience, time
// window. It returns nil when every rule passes and a DeniedError naming
// the violation otherwise.
func (v *Verifier) Verify(claims ClaimSet) error {
	if err := v.verifyPresence(claims); err != nil {
		return err
	}
	if err := v.verifyExact(claims); err != nil {
		return err
	}
	if v.audience != nil {
		if err := v.verifyAudience(claims); err != nil {
			return err
		}
	}
	if v.now != nil {
		if err := v.verifyTimeWindow(claims); err != nil {
			return err
		}
	}
	return nil
}

// verifyPresence fails with the exact set of missing required claims.
func (v *Verifier) verifyPresence(claims ClaimSet) error {
	var missing []string
	for name := range v.required {
		if !claims.Has(name) {
			missing = append(missing, name)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	sort.Strings(missing)
	return Denied(DenyMissingClaims, "missing required claims [%s]", strings.Join(missing, ", "))
}

// verifyExact compares exact-match claims against their expected values.
// Presence was already established by verifyPresence.
func (v *Verifier) verifyExact(claims ClaimSet) error {
	for name, want := range v.exact {
		if got := claims.String(name); got != want {
			return Denied(DenyClaimMismatch, "claim [%s] does not match the expected value", name)
		}
	}
	return nil
}

func (v *Verifier) verifyAudience(claims ClaimSet) error {
	carried := claims.Strings(ClaimAudience)
	if len(carried) == 0 {
		// absence of an audience is acceptable only under an empty policy
		if len(v.audience) == 0 {
			return nil
		}
		return Denied(DenyAudienceRequired, "token carries no audience")
	}
	set := make(map[string]struct{}, len(carried))
	for _, aud := range carried {
		set[aud] = struct{}{}
	}
	for _, want := range v.audience {
		if _, ok := set[want]; !ok {
			return Denied(DenyAudienceRejected, "audience rejected [%s]", strings.Join(carried, ", "))
		}
	}
	return nil
}

func (v *Verifier) verifyTimeWindow(claims ClaimSet) error {
	now := v.now()
	if expires, ok := claims.Time(ClaimExpires); ok {
		// skew is added as tolerance, never subtracted
		if expires.Add(v.skew).Before(now) {
			return Denied(DenyExpired, "token expired at %s", expires.UTC().Format(time.RFC3339))
		}
	}
	if notBefore, ok := claims.Time(ClaimNotBefore); ok {
		if notBefore.Add(-v.skew).After(now) {
			return Denied(DenyNotYetValid, "token used before %s", notBefore.UTC().Format(time.RFC3339))
		}
	}
	return nil
}
