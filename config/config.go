// Package config holds the per-realm asserter configuration: a typed
// key-value property store with defaults, a JSON file behind Refresh/Save,
// and a validation protocol that refuses to let a misconfigured asserter
// run at all.
//
// One Asserter instance exists per realm for the lifetime of the process.
// The realm names the persisted file (<dir>/<realm>.json) and is the scope
// reported in WWW-Authenticate challenges.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

// Recognized property names. Values are strings except where noted.
const (
	// KeyAssertionType selects how a credential maps to a principal:
	// "plain" (the token is the principal name) or "bearer" (signed JWT).
	KeyAssertionType = "assertionType"
	// KeyAssertionHeader names the HTTP header carrying the credential.
	KeyAssertionHeader = "assertionHeader"
	// KeySigningMaterial holds inline PEM key material. Mutually exclusive
	// with KeySigningLocation.
	KeySigningMaterial = "signingMaterial"
	// KeySigningLocation points at the signing keys: a filesystem path or,
	// for bearer assertion, the HTTPS URL of the remote JWK set.
	KeySigningLocation = "signingLocation"
	// KeyDataSource is the connection string of the backing identity store.
	KeyDataSource = "dataSource"
	// KeyPrincipalQuery is the single-bind existence query for a username.
	KeyPrincipalQuery = "principalQuery"
	// KeyPermissionQuery is the single-bind permission listing query.
	KeyPermissionQuery = "permissionQuery"

	KeyOAuthIssuer          = "oauthIssuer"
	KeyOAuthAudience        = "oauthAudience" // list-valued
	KeyOAuthDomain          = "oauthDomain"
	KeyOAuthClient          = "oauthClient"
	KeyOAuthSecret          = "oauthSecret"
	KeyOAuthInfoEndpoint    = "oauthInfoEndpoint"
	KeyOAuthProfileEndpoint = "oauthProfileEndpoint"
)

// Assertion type values understood by the store.
const (
	TypePlain  = "plain"
	TypeBearer = "bearer"
)

// Asserter is the layered configuration for one realm. Properties are
// mutated only through the named setters or Extend; every read path takes
// the lock so a management-plane Refresh cannot race request handling.
type Asserter struct {
	realm string
	dir   string
	log   logrus.FieldLogger

	mu       sync.RWMutex
	property map[string]any
}

// NewAsserter builds the configuration for realm, persisted under dir.
// Defaults are installed and, when a persisted file exists, overlaid and
// validated. The returned error is fatal: an asserter must not start on a
// configuration that fails validation.
func NewAsserter(realm, dir string) (*Asserter, error) {
	if strings.TrimSpace(realm) == "" {
		return nil, fmt.Errorf("config: realm must not be empty")
	}
	a := &Asserter{realm: realm, dir: dir, log: logrus.StandardLogger()}
	if err := a.Refresh(); err != nil {
		return nil, err
	}
	return a, nil
}

// SetLogger replaces the logger used for configuration diagnostics.
func (a *Asserter) SetLogger(log logrus.FieldLogger) {
	if log != nil {
		a.log = log
	}
}

// Realm returns the realm this configuration belongs to.
func (a *Asserter) Realm() string { return a.realm }

// Path returns the location of the persisted configuration file.
func (a *Asserter) Path() string {
	return filepath.Join(a.dir, a.realm+".json")
}

// Refresh reinstalls the defaults, overlays the persisted file if one
// exists, and validates the result. A missing file is not an error; a
// present-but-broken file is.
func (a *Asserter) Refresh() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.initialize()

	raw, err := os.ReadFile(a.Path())
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("config: read %s: %w", a.Path(), err)
	}
	var overlay map[string]any
	if err := json.Unmarshal(raw, &overlay); err != nil {
		return fmt.Errorf("config: parse %s: %w", a.Path(), err)
	}
	for name, value := range overlay {
		v, err := propertyValue(value)
		if err != nil {
			return fmt.Errorf("config: property %q: %w", name, err)
		}
		a.property[name] = v
	}
	return a.validateLocked()
}

// Save validates the configuration and writes it to the file system.
func (a *Asserter) Save() error {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if err := a.validateLocked(); err != nil {
		return err
	}
	raw, err := json.MarshalIndent(a.property, "", "  ")
	if err != nil {
		return fmt.Errorf("config: encode: %w", err)
	}
	if err := os.MkdirAll(a.dir, 0o755); err != nil {
		return fmt.Errorf("config: create %s: %w", a.dir, err)
	}
	if err := os.WriteFile(a.Path(), raw, 0o600); err != nil {
		return fmt.Errorf("config: write %s: %w", a.Path(), err)
	}
	return nil
}

// Validate checks the configuration for consistency without touching the
// file system.
func (a *Asserter) Validate() error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.validateLocked()
}

// Extend merges the named-value pairs into the property map. Values must
// be strings or string lists.
func (a *Asserter) Extend(values map[string]any) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	for name, value := range values {
		v, err := propertyValue(value)
		if err != nil {
			return fmt.Errorf("config: property %q: %w", name, err)
		}
		a.property[name] = v
	}
	return nil
}

// Contains reports whether a non-empty value exists for name.
func (a *Asserter) Contains(name string) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	switch v := a.property[name].(type) {
	case string:
		return v != ""
	case []string:
		return len(v) > 0
	default:
		return false
	}
}

// PropertyString returns the string value for name, or def when unset.
func (a *Asserter) PropertyString(name, def string) string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if v, ok := a.property[name].(string); ok {
		return v
	}
	return def
}

// PropertyList returns the list value for name, or def when unset. The
// returned slice is a copy; callers may keep it without holding the lock.
func (a *Asserter) PropertyList(name string, def []string) []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if v, ok := a.property[name].([]string); ok {
		out := make([]string, len(v))
		copy(out, v)
		return out
	}
	return def
}

func (a *Asserter) setString(name, value string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.property[name] = value
}

func (a *Asserter) setList(name string, value []string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, len(value))
	copy(out, value)
	a.property[name] = out
}

// Named accessors for every recognized key.

func (a *Asserter) AssertionType() string     { return a.PropertyString(KeyAssertionType, "") }
func (a *Asserter) SetAssertionType(v string) { a.setString(KeyAssertionType, v) }

func (a *Asserter) AssertionHeader() string     { return a.PropertyString(KeyAssertionHeader, "") }
func (a *Asserter) SetAssertionHeader(v string) { a.setString(KeyAssertionHeader, v) }

func (a *Asserter) SigningMaterial() string     { return a.PropertyString(KeySigningMaterial, "") }
func (a *Asserter) SetSigningMaterial(v string) { a.setString(KeySigningMaterial, v) }

func (a *Asserter) SigningLocation() string     { return a.PropertyString(KeySigningLocation, "") }
func (a *Asserter) SetSigningLocation(v string) { a.setString(KeySigningLocation, v) }

func (a *Asserter) DataSource() string     { return a.PropertyString(KeyDataSource, "") }
func (a *Asserter) SetDataSource(v string) { a.setString(KeyDataSource, v) }

func (a *Asserter) PrincipalQuery() string     { return a.PropertyString(KeyPrincipalQuery, "") }
func (a *Asserter) SetPrincipalQuery(v string) { a.setString(KeyPrincipalQuery, v) }

func (a *Asserter) PermissionQuery() string     { return a.PropertyString(KeyPermissionQuery, "") }
func (a *Asserter) SetPermissionQuery(v string) { a.setString(KeyPermissionQuery, v) }

func (a *Asserter) OAuthIssuer() string     { return a.PropertyString(KeyOAuthIssuer, "") }
func (a *Asserter) SetOAuthIssuer(v string) { a.setString(KeyOAuthIssuer, v) }

func (a *Asserter) OAuthAudience() []string     { return a.PropertyList(KeyOAuthAudience, nil) }
func (a *Asserter) SetOAuthAudience(v []string) { a.setList(KeyOAuthAudience, v) }

func (a *Asserter) OAuthDomain() string     { return a.PropertyString(KeyOAuthDomain, "") }
func (a *Asserter) SetOAuthDomain(v string) { a.setString(KeyOAuthDomain, v) }

func (a *Asserter) OAuthClient() string     { return a.PropertyString(KeyOAuthClient, "") }
func (a *Asserter) SetOAuthClient(v string) { a.setString(KeyOAuthClient, v) }

func (a *Asserter) OAuthSecret() string     { return a.PropertyString(KeyOAuthSecret, "") }
func (a *Asserter) SetOAuthSecret(v string) { a.setString(KeyOAuthSecret, v) }

func (a *Asserter) OAuthInfoEndpoint() string { return a.PropertyString(KeyOAuthInfoEndpoint, "") }
func (a *Asserter) SetOAuthInfoEndpoint(v string) {
	a.setString(KeyOAuthInfoEndpoint, v)
}

func (a *Asserter) OAuthProfileEndpoint() string {
	return a.PropertyString(KeyOAuthProfileEndpoint, "")
}
func (a *Asserter) SetOAuthProfileEndpoint(v string) {
	a.setString(KeyOAuthProfileEndpoint, v)
}

// initialize installs the default properties. Callers hold the write lock.
func (a *Asserter) initialize() {
	a.property = map[string]any{
		KeyAssertionType:   TypePlain,
		KeyAssertionHeader: "oam_remote_user",
		KeyDataSource:      "postgres://localhost:5432/identity",
		KeyPrincipalQuery:  "SELECT usr.id FROM igt_users usr WHERE usr.username = $1",
		KeyPermissionQuery: "SELECT url.rol_id FROM igt_users usr, igt_userroles url WHERE url.usr_id = usr.id AND UPPER(usr.username) = UPPER($1)",
	}
}

// validateLocked applies the consistency rules. Callers hold the lock in
// at least read mode.
func (a *Asserter) validateLocked() error {
	if err := a.validateAssertion(); err != nil {
		return err
	}
	if err := a.validateIdentityStore(); err != nil {
		return err
	}
	// signing key rules apply only when a signature has to be verified
	if a.stringLocked(KeyAssertionType) != TypePlain {
		if err := a.validateKeyMaterial(); err != nil {
			return err
		}
	}
	return nil
}

func (a *Asserter) validateAssertion() error {
	if a.stringLocked(KeyAssertionType) == "" {
		return a.violation("property [%s] must be defined", KeyAssertionType)
	}
	if a.stringLocked(KeyAssertionHeader) == "" {
		return a.violation("property [%s] must be defined", KeyAssertionHeader)
	}
	return nil
}

func (a *Asserter) validateIdentityStore() error {
	for _, name := range []string{KeyDataSource, KeyPrincipalQuery, KeyPermissionQuery} {
		if a.stringLocked(name) == "" {
			return a.violation("property [%s] must be defined", name)
		}
	}
	return nil
}

func (a *Asserter) validateKeyMaterial() error {
	material := a.stringLocked(KeySigningMaterial)
	location := a.stringLocked(KeySigningLocation)
	if material != "" && location != "" {
		return a.violation("properties [%s] and [%s] must not both be defined", KeySigningMaterial, KeySigningLocation)
	}
	if material == "" && location == "" {
		return a.violation("one of properties [%s] or [%s] must be defined", KeySigningMaterial, KeySigningLocation)
	}
	// a remote key set is fetched per identity domain
	if isNetworkLocation(location) && a.stringLocked(KeyOAuthDomain) == "" {
		return a.violation("property [%s] must be defined when [%s] is a network location", KeyOAuthDomain, KeySigningLocation)
	}
	return nil
}

func (a *Asserter) violation(format string, args ...any) error {
	err := fmt.Errorf("config: realm %s: "+format, append([]any{a.realm}, args...)...)
	a.log.WithField("realm", a.realm).Error(err.Error())
	return err
}

func (a *Asserter) stringLocked(name string) string {
	v, _ := a.property[name].(string)
	return v
}

// isNetworkLocation reports whether location points at a remote endpoint
// rather than local key material.
func isNetworkLocation(location string) bool {
	return strings.HasPrefix(location, "https://") || strings.HasPrefix(location, "http://")
}

// propertyValue normalizes a decoded JSON value into the two supported
// shapes: string or list of strings.
func propertyValue(value any) (any, error) {
	switch v := value.(type) {
	case string:
		return v, nil
	case []string:
		out := make([]string, len(v))
		copy(out, v)
		return out, nil
	case []any:
		out := make([]string, 0, len(v))
		for _, e := range v {
			s, ok := e.(string)
			if !ok {
				return nil, fmt.Errorf("list element %v is not a string", e)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported value %v", value)
	}
}
