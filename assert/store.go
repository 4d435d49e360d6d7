package assert

import (
	"context"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/identigraph/assertkit/config"
)

// PermissionAuthenticated is granted implicitly to every principal that
// passed validation, independent of the identity store's rows.
const PermissionAuthenticated = "authenticated"

// IdentityStore is the backing identity store at its boundary: a single
// existence check and a permission listing, both keyed by username.
type IdentityStore interface {
	// Authenticate returns nil when exactly one matching principal exists,
	// a DeniedError when none (or ambiguously many) do, and a FaultError
	// for underlying failures.
	Authenticate(ctx context.Context, username string) error
	// Permissions lists the permission names granted to the username.
	Permissions(ctx context.Context, username string) ([]string, error)
}

// PermissionCache is the time-expiring authorization cache keyed by
// username. Get must only report a hit while the entry is unexpired.
type PermissionCache interface {
	Get(ctx context.Context, username string) ([]string, bool, error)
	Put(ctx context.Context, username string, permissions []string) error
}

// Store orchestrates processor, verifier, and identity store to turn a
// raw credential into a validated principal, and resolves authorization
// through the permission cache. A Store is safe for unsynchronized
// concurrent use; the only mutable state is the lazily constructed
// processor and the cache, both guarded.
type Store struct {
	cfg      *config.Asserter
	identity IdentityStore
	cache    PermissionCache
	log      logrus.FieldLogger
	base     context.Context

	// the processor is built on first use under the mutex; a failed
	// construction leaves it nil so the next request retries
	mu   sync.Mutex
	proc *Processor
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithLogger replaces the store's logger.
func WithLogger(log logrus.FieldLogger) StoreOption {
	return func(s *Store) {
		if log != nil {
			s.log = log
		}
	}
}

// WithProcessor injects a prebuilt processor, bypassing lazy
// construction from configuration.
func WithProcessor(p *Processor) StoreOption {
	return func(s *Store) { s.proc = p }
}

// WithBaseContext sets the context governing the lifetime of the remote
// key cache. Defaults to context.Background.
func WithBaseContext(ctx context.Context) StoreOption {
	return func(s *Store) {
		if ctx != nil {
			s.base = ctx
		}
	}
}

// NewStore builds an assertion store for one realm configuration.
func NewStore(cfg *config.Asserter, identity IdentityStore, cache PermissionCache, opts ...StoreOption) *Store {
	s := &Store{
		cfg:      cfg,
		identity: identity,
		cache:    cache,
		log:      logrus.StandardLogger(),
		base:     context.Background(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Validate turns a credential into a validated principal. A nil
// credential is the "not validated" sentinel: (nil, nil), never an
// error. Everything else either yields a principal whose existence was
// confirmed against the identity store, or a denial/fault.
func (s *Store) Validate(ctx context.Context, credential *Credential) (*Principal, error) {
	if credential == nil {
		return nil, nil
	}

	var name string
	switch s.cfg.AssertionType() {
	case config.TypePlain:
		name = credential.Token
	case config.TypeBearer:
		proc, err := s.processor()
		if err != nil {
			return nil, err
		}
		claims, err := proc.Process(ctx, credential.Token)
		if err != nil {
			return nil, err
		}
		name = claims.Subject()
	default:
		return nil, Faultf("unsupported assertion type %q", s.cfg.AssertionType())
	}

	if err := s.identity.Authenticate(ctx, name); err != nil {
		return nil, err
	}
	return &Principal{Name: name}, nil
}

// Authorize resolves the permission set for username: the cached entry
// while unexpired, otherwise a fresh population from the identity store
// unioned with the implicit authenticated permission. Concurrent
// populations for the same username are tolerated (last write wins); a
// partially populated set is never returned.
func (s *Store) Authorize(ctx context.Context, username string) ([]string, error) {
	if s.cache != nil {
		cached, ok, err := s.cache.Get(ctx, username)
		if err != nil {
			s.log.WithError(err).WithField("username", username).Warn("permission cache read failed")
		} else if ok {
			return cached, nil
		}
	}

	granted, err := s.identity.Permissions(ctx, username)
	if err != nil {
		return nil, err
	}
	permissions := union(granted, PermissionAuthenticated)

	if s.cache != nil {
		if err := s.cache.Put(ctx, username, permissions); err != nil {
			s.log.WithError(err).WithField("username", username).Warn("permission cache write failed")
		}
	}
	return permissions, nil
}

// processor returns the lazily constructed token processor. The mutex
// makes first-use construction happen at most once at a time; a failure
// is returned to the caller and retried on the next request.
func (s *Store) processor() (*Processor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.proc != nil {
		return s.proc, nil
	}
	proc, err := NewProcessor(s.base, s.cfg)
	if err != nil {
		s.log.WithError(err).WithField("realm", s.cfg.Realm()).Error("token processor construction failed")
		return nil, err
	}
	s.proc = proc
	return proc, nil
}

// union deduplicates and sorts the permission names plus the implicit
// grants.
func union(granted []string, implicit ...string) []string {
	set := make(map[string]struct{}, len(granted)+len(implicit))
	for _, p := range granted {
		if p != "" {
			set[p] = struct{}{}
		}
	}
	for _, p := range implicit {
		set[p] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}
