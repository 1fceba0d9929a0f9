package storage

import (
	"context"

	"github.com/iudanet/remerge/internal/bundle"
	"github.com/iudanet/remerge/internal/crdt"
	"github.com/iudanet/remerge/internal/models"
)

// RecordStorage defines interface for record persistence of one collection
type RecordStorage interface {
	// Exists reports whether a visible record (a non-deleted overlay row or
	// a non-overridden mirror row) has the given id
	Exists(ctx context.Context, id string) (bool, error)

	// Create validates and inserts a new record, returning its id.
	// Returns ErrIDNotUnique or ErrDuplicate on conflicts
	Create(ctx context.Context, rec models.NativeRecord) (string, error)

	// Update replaces the record whose id is in rec.
	// Returns ErrNoSuchRecord if it doesn't exist, ErrDuplicate on conflicts
	Update(ctx context.Context, rec models.NativeRecord) error

	// DeleteByID marks the record as deleted.
	// Returns false if there was no visible record to delete
	DeleteByID(ctx context.Context, id string) (bool, error)

	// GetByID retrieves a single visible record.
	// Returns false if it doesn't exist
	GetByID(ctx context.Context, id string) (models.NativeRecord, bool, error)

	// GetAll retrieves all visible records.
	// Returns empty slice if no records found
	GetAll(ctx context.Context) ([]models.NativeRecord, error)

	// ClientID returns the identifier this database writes vector clocks with
	ClientID() string

	// Bundle returns the native and local schemas in use
	Bundle() *bundle.Bundle

	// Close closes the database
	Close() error
}

// SyncStorage defines the operations a sync engine needs on top of
// RecordStorage
type SyncStorage interface {
	// PutMirror stores a row received from the server.
	// Returns true if the row was saved, false if the stored mirror row is newer
	PutMirror(ctx context.Context, row *models.MirrorRow) (bool, error)

	// LocalChanges retrieves all overlay rows that were not synced yet,
	// including deletions
	LocalChanges(ctx context.Context) ([]*models.LocalRow, error)

	// PromoteToMirror replaces the mirror row with the overlay row after the
	// server accepted it. A deleted overlay becomes a mirror tombstone.
	// Returns ErrNoSuchRecord if there is no overlay row
	PromoteToMirror(ctx context.Context, id string) error

	// VClock retrieves the vector clock of a visible record.
	// Returns ErrNoSuchRecord if it doesn't exist
	VClock(ctx context.Context, id string) (crdt.VClock, error)
}
