package record

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Store is the persistence context shared by every record of an application:
// the connection, the type registry, the selected backend and the external
// collaborators. It is constructed at startup and closed at shutdown.
type Store struct {
	conn     *Conn
	registry *Registry
	name     string
	factory  ProviderFactory
	cache    Cache
	session  Session
	observer Observer
	log      zerolog.Logger

	lookupsMu sync.Mutex
	lookups   map[string]bool

	denumsMu sync.Mutex
	denums   map[string]denumOptions
}

// Option configures a Store.
type Option func(*Store)

// WithCache attaches a cache collaborator.
func WithCache(c Cache) Option {
	return func(s *Store) {
		if c != nil {
			s.cache = c
		}
	}
}

// WithSession attaches the session collaborator used for audit fields.
func WithSession(sess Session) Option { return func(s *Store) { s.session = sess } }

// WithObserver attaches an operation observer.
func WithObserver(o Observer) Option {
	return func(s *Store) {
		if o != nil {
			s.observer = o
		}
	}
}

// WithLogger sets the logger providers write statements to.
func WithLogger(l zerolog.Logger) Option { return func(s *Store) { s.log = l } }

// WithRegistry shares an existing registry instead of creating one.
func WithRegistry(r *Registry) Option {
	return func(s *Store) {
		if r != nil {
			s.registry = r
		}
	}
}

// NewStore binds the backend registered as provider to conn. Unknown
// provider names are rejected with ErrUnknownProvider.
func NewStore(provider string, conn *Conn, opts ...Option) (*Store, error) {
	factory, err := providerFactory(provider)
	if err != nil {
		return nil, err
	}
	if conn == nil {
		return nil, fmt.Errorf("store %s: nil connection", provider)
	}
	s := &Store{
		conn:     conn,
		registry: NewRegistry(),
		name:     provider,
		factory:  factory,
		cache:    noopCache{},
		observer: noopObserver{},
		log:      zerolog.Nop(),
		lookups:  make(map[string]bool),
	}
	for _, opt := range opts {
		opt(s)
	}
	for _, d := range builtinDescriptors() {
		if _, ok := s.registry.Lookup(d.Name); ok {
			continue
		}
		if err := s.registry.Register(d); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Register adds record types to the store's registry.
func (s *Store) Register(descs ...*Descriptor) error { return s.registry.Register(descs...) }

func (s *Store) Registry() *Registry     { return s.registry }
func (s *Store) Conn() *Conn             { return s.conn }
func (s *Store) Logger() *zerolog.Logger { return &s.log }

// ProviderName returns the configured backend name.
func (s *Store) ProviderName() string { return s.name }

// New returns a transient record of the named type.
func (s *Store) New(name string) (*Record, error) {
	d, ok := s.registry.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("%w: unknown record type %s", ErrBadTableName, name)
	}
	return newRecord(s, d), nil
}

// Provider binds the configured backend to r.
func (s *Store) Provider(r *Record) Provider { return s.factory(s, r) }

// Begin starts an explicit transaction on the store's connection.
func (s *Store) Begin(ctx context.Context) error { return s.conn.Begin(ctx) }

// Commit commits the explicit transaction.
func (s *Store) Commit() error { return s.conn.Commit() }

// Rollback aborts the explicit transaction.
func (s *Store) Rollback() error { return s.conn.Rollback() }

// Close releases the connection.
func (s *Store) Close() error { return s.conn.Close() }

func (s *Store) actor() int64 {
	if s.session == nil {
		return AnonymousActor
	}
	return s.session.ActorID()
}

func (s *Store) observe(ctx context.Context, op string, start time.Time, err error) {
	s.observer.Observe(ctx, op, err == nil, time.Since(start))
}

func (s *Store) lookupReady(name string) bool {
	s.lookupsMu.Lock()
	defer s.lookupsMu.Unlock()
	return s.lookups[name]
}

func (s *Store) markLookupReady(name string) {
	s.lookupsMu.Lock()
	defer s.lookupsMu.Unlock()
	s.lookups[name] = true
}

func (s *Store) forgetLookups() {
	s.lookupsMu.Lock()
	defer s.lookupsMu.Unlock()
	s.lookups = make(map[string]bool)
}
