package remerge

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/iudanet/remerge/internal/schema"
	"github.com/iudanet/remerge/internal/storage"
	"github.com/iudanet/remerge/internal/storage/sqlite"
)

// Option configures an Engine
type Option func(*options)

type options struct {
	logger      *slog.Logger
	busyTimeout time.Duration
}

// WithLogger sets the logger. The engine never configures handlers itself;
// by default it logs to slog.Default()
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithBusyTimeout sets how long a statement waits for a lock held by
// another connection to the same database file
func WithBusyTimeout(d time.Duration) Option {
	return func(o *options) {
		o.busyTimeout = d
	}
}

// recordStore is what the engine needs from its storage backend
type recordStore interface {
	storage.RecordStorage
	storage.SyncStorage
}

var _ recordStore = (*sqlite.Storage)(nil)

// Engine is a handle to one collection stored in one database. It is meant
// to be used by one caller at a time.
type Engine struct {
	store recordStore
}

// Open opens (creating if needed) the database at path for the collection
// described by desc
func Open(ctx context.Context, path string, desc SchemaDescription, opts ...Option) (*Engine, error) {
	o := options{
		logger:      slog.Default(),
		busyTimeout: sqlite.DefaultBusyTimeout,
	}
	for _, opt := range opts {
		opt(&o)
	}

	native, err := schema.New(desc)
	if err != nil {
		return nil, fmt.Errorf("invalid schema: %w", err)
	}

	store, err := sqlite.New(ctx, path, native, sqlite.Config{
		Logger:      o.logger.With(slog.String("collection", native.Name)),
		BusyTimeout: o.busyTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open storage: %w", err)
	}

	return &Engine{store: store}, nil
}

// OpenInMemory opens a database that lives until the Engine is closed
func OpenInMemory(ctx context.Context, desc SchemaDescription, opts ...Option) (*Engine, error) {
	return Open(ctx, ":memory:", desc, opts...)
}

// Close closes the database
func (e *Engine) Close() error {
	return e.store.Close()
}

// ClientID returns the identifier of this database in vector clocks
func (e *Engine) ClientID() string {
	return e.store.ClientID()
}

// CollectionName returns the name of the collection
func (e *Engine) CollectionName() string {
	return e.store.Bundle().CollectionName()
}

// Exists reports whether a record with the given id exists
func (e *Engine) Exists(ctx context.Context, id string) (bool, error) {
	return e.store.Exists(ctx, id)
}

// Get retrieves a record. Returns false if it doesn't exist
func (e *Engine) Get(ctx context.Context, id string) (NativeRecord, bool, error) {
	return e.store.GetByID(ctx, id)
}

// List retrieves every record
func (e *Engine) List(ctx context.Context) ([]NativeRecord, error) {
	return e.store.GetAll(ctx)
}

// Insert validates and stores a new record, returning its id
func (e *Engine) Insert(ctx context.Context, rec NativeRecord) (string, error) {
	return e.store.Create(ctx, rec)
}

// Update replaces the record whose id is in rec
func (e *Engine) Update(ctx context.Context, rec NativeRecord) error {
	return e.store.Update(ctx, rec)
}

// Delete deletes a record. Returns false if it didn't exist
func (e *Engine) Delete(ctx context.Context, id string) (bool, error) {
	return e.store.DeleteByID(ctx, id)
}

// Sync returns the operations a sync client uses to exchange rows with
// the server
func (e *Engine) Sync() SyncStore {
	return e.store
}
