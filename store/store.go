// Package store keeps persisted hash state on local disk with pebble, one
// record per scope, so a node can restore its topology after a restart.
package store

import (
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/gholt/segring"
	"go.uber.org/zap"
)

// ErrNotFound is returned by Load when no state was saved for the scope.
var ErrNotFound = errors.New("scope not found")

const (
	scopePrefix = "scope/"
	// scopeLimit is the first key past every scopePrefix key.
	scopeLimit = "scope0"
)

type Store struct {
	db     *pebble.DB
	logger *zap.Logger
}

type config struct {
	fs     vfs.FS
	logger *zap.Logger
}

type Option func(*config)

// WithFS replaces the filesystem; tests use vfs.NewMem().
func WithFS(fs vfs.FS) Option {
	return func(c *config) {
		c.fs = fs
	}
}

// WithLogger sets the logger for both the store and pebble itself.
func WithLogger(logger *zap.Logger) Option {
	return func(c *config) {
		c.logger = logger
	}
}

func Open(dir string, opts ...Option) (*Store, error) {
	c := &config{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(c)
	}
	popts := &pebble.Options{Logger: c.logger.Named("pebble").Sugar()}
	if c.fs != nil {
		popts.FS = c.fs
	}
	db, err := pebble.Open(dir, popts)
	if err != nil {
		return nil, fmt.Errorf("open state store at %s: %w", dir, err)
	}
	c.logger.Debug("opened state store", zap.String("dir", dir))
	return &Store{db: db, logger: c.logger}, nil
}

// OpenInMemory opens a store that vanishes on Close.
func OpenInMemory(opts ...Option) (*Store, error) {
	return Open("segring", append([]Option{WithFS(vfs.NewMem())}, opts...)...)
}

func scopeKey(scope string) []byte {
	return []byte(scopePrefix + scope)
}

// Save replaces whatever was saved for the state's scope. The write is synced
// before Save returns.
func (s *Store) Save(state *segring.ScopedState) error {
	value, err := state.MarshalBinary()
	if err != nil {
		return err
	}
	if err = s.db.Set(scopeKey(state.Scope()), value, pebble.Sync); err != nil {
		return err
	}
	s.logger.Debug("saved state", zap.String("scope", state.Scope()), zap.Int("properties", state.Len()), zap.Uint64("checksum", state.Checksum()))
	return nil
}

func (s *Store) Load(scope string) (*segring.ScopedState, error) {
	value, closer, err := s.db.Get(scopeKey(scope))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	defer closer.Close()
	state := &segring.ScopedState{}
	if err = state.UnmarshalBinary(value); err != nil {
		return nil, fmt.Errorf("scope %s: %w", scope, err)
	}
	if state.Scope() != scope {
		return nil, fmt.Errorf("%w: record for scope %q holds scope %q", segring.ErrStateMismatch, scope, state.Scope())
	}
	return state, nil
}

func (s *Store) Delete(scope string) error {
	return s.db.Delete(scopeKey(scope), pebble.Sync)
}

// Scopes lists the saved scopes in sorted order.
func (s *Store) Scopes() ([]string, error) {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(scopePrefix),
		UpperBound: []byte(scopeLimit),
	})
	if err != nil {
		return nil, err
	}
	var scopes []string
	for ok := iter.First(); ok; ok = iter.Next() {
		scopes = append(scopes, string(iter.Key()[len(scopePrefix):]))
	}
	if err = iter.Close(); err != nil {
		return nil, err
	}
	return scopes, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}
