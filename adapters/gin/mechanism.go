// Package authgin adapts the assertion store to gin: a middleware that
// extracts a bearer credential from the request, validates it, and
// either establishes the principal on the context or fails closed with
// a 403.
package authgin

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/identigraph/assertkit/assert"
	"github.com/identigraph/assertkit/config"
)

// Context keys under which the mechanism stores the validated identity.
const (
	ContextPrincipal   = "assertkit.principal"
	ContextPermissions = "assertkit.permissions"
)

const (
	// DefaultScheme is the authentication scheme matched in the header.
	DefaultScheme = "Bearer"
	// DefaultQueryParam is the fallback query parameter.
	DefaultQueryParam = "access_token"
)

// ThrottleBucket names the rate-limit bucket credential validation
// attempts are counted against.
const ThrottleBucket = "assertion"

// LoginFunc is the container notification: invoked once per request
// after successful validation with the principal and its permission set.
type LoginFunc func(c *gin.Context, principal *assert.Principal, permissions []string)

// Throttle limits validation attempts per caller. Allow reports whether
// the attempt for key in bucket fits the configured window.
type Throttle interface {
	Allow(ctx context.Context, bucket, key string) (bool, error)
}

// Mechanism is the request-level entry point. All validation errors are
// absorbed here and converted into a 403; none propagate to handlers.
type Mechanism struct {
	store      *assert.Store
	extractors []assert.TokenExtractor
	notify     LoginFunc
	throttle   Throttle
	log        logrus.FieldLogger
}

// MechanismOption configures a Mechanism.
type MechanismOption func(*Mechanism)

// WithExtractors replaces the composed token extractors.
func WithExtractors(extractors ...assert.TokenExtractor) MechanismOption {
	return func(m *Mechanism) { m.extractors = extractors }
}

// WithLoginNotify installs the container notification callback.
func WithLoginNotify(fn LoginFunc) MechanismOption {
	return func(m *Mechanism) { m.notify = fn }
}

// WithThrottle installs a validation-attempt limiter keyed by client
// IP. Without one, attempts are unlimited.
func WithThrottle(throttle Throttle) MechanismOption {
	return func(m *Mechanism) { m.throttle = throttle }
}

// WithMechanismLogger replaces the mechanism's logger.
func WithMechanismLogger(log logrus.FieldLogger) MechanismOption {
	return func(m *Mechanism) {
		if log != nil {
			m.log = log
		}
	}
}

// NewMechanism builds the mechanism for one realm: header first (using
// the configured header name and the Bearer scheme), query parameter as
// fallback.
func NewMechanism(cfg *config.Asserter, store *assert.Store, opts ...MechanismOption) *Mechanism {
	m := &Mechanism{
		store: store,
		extractors: []assert.TokenExtractor{
			assert.HeaderExtractor{Header: cfg.AssertionHeader(), Scheme: DefaultScheme},
			assert.QueryExtractor{Param: DefaultQueryParam},
		},
		log: logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Handler returns the gin middleware.
func (m *Mechanism) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		// idempotent within one request chain
		if _, ok := c.Get(ContextPrincipal); ok {
			c.Next()
			return
		}

		var credential *assert.Credential
		for _, extractor := range m.extractors {
			if credential = extractor.Extract(c.Request); credential != nil {
				break
			}
		}
		// no token: the request proceeds unauthenticated, never a 403
		if credential == nil {
			c.Next()
			return
		}

		if m.throttle != nil {
			ok, err := m.throttle.Allow(c.Request.Context(), ThrottleBucket, c.ClientIP())
			if err != nil {
				m.reject(c, assert.Fault(err))
				return
			}
			if !ok {
				m.log.WithField("client", c.ClientIP()).Warn("validation attempts throttled")
				m.reject(c, nil)
				return
			}
		}

		principal, err := m.store.Validate(c.Request.Context(), credential)
		if err != nil || principal == nil {
			m.reject(c, err)
			return
		}
		permissions, err := m.store.Authorize(c.Request.Context(), principal.Name)
		if err != nil {
			m.reject(c, err)
			return
		}

		c.Set(ContextPrincipal, principal)
		c.Set(ContextPermissions, permissions)
		if m.notify != nil {
			m.notify(c, principal, permissions)
		}
		c.Next()
	}
}

// Principal returns the validated principal for the request, if any.
func Principal(c *gin.Context) (*assert.Principal, bool) {
	v, ok := c.Get(ContextPrincipal)
	if !ok {
		return nil, false
	}
	p, ok := v.(*assert.Principal)
	return p, ok
}

// Permissions returns the resolved permission set for the request.
func Permissions(c *gin.Context) ([]string, bool) {
	v, ok := c.Get(ContextPermissions)
	if !ok {
		return nil, false
	}
	p, ok := v.([]string)
	return p, ok
}

type errorBody struct {
	Status string `json:"status"`
	Type   string `json:"type"`
	Detail string `json:"detail"`
}

// reject fails the request closed: the structured reason goes to the
// server log only, the caller sees a generic 403.
func (m *Mechanism) reject(c *gin.Context, err error) {
	kind := "authentication-failed"
	if err != nil {
		if reason := assert.ReasonOf(err); reason != "" {
			kind = string(reason)
			m.log.WithField("path", c.Request.URL.Path).Warn(err.Error())
		} else {
			m.log.WithField("path", c.Request.URL.Path).Error(err.Error())
		}
	}
	c.AbortWithStatusJSON(http.StatusForbidden, errorBody{
		Status: "403",
		Type:   kind,
		Detail: "authentication failed",
	})
}
