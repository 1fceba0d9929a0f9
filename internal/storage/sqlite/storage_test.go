package sqlite

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iudanet/remerge/internal/schema"
	"github.com/iudanet/remerge/internal/storage"
)

// Helper functions

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func loginsDesc() schema.Description {
	return schema.Description{
		Name:    "logins-example",
		Version: "1.0.0",
		Fields: []schema.FieldDesc{
			{Name: "id", Type: schema.KindOwnGuid},
			{Name: "username", Type: schema.KindText},
			{Name: "password", Type: schema.KindText, Required: true},
			{Name: "origin", LocalName: "hostname", Type: schema.KindURL, IsOrigin: true},
			{Name: "extra", Type: schema.KindUntypedMap},
			{Name: "timesUsed", Type: schema.KindInteger, Merge: schema.MergeTakeSum, Min: 0, IfOutOfBounds: schema.OutOfBoundsClamp},
			{Name: "timeCreated", Type: schema.KindTimestamp, Semantic: schema.SemanticCreatedAt},
			{Name: "timeLastUsed", Type: schema.KindTimestamp, Semantic: schema.SemanticUpdatedAt},
		},
		DedupeOn: []string{"username", "password", "origin"},
	}
}

func mustSchema(t *testing.T, d schema.Description) *schema.RecordSchema {
	t.Helper()
	s, err := schema.New(d)
	require.NoError(t, err)
	return s
}

func openAt(t *testing.T, path string, d schema.Description) (*Storage, error) {
	t.Helper()
	return New(context.Background(), path, mustSchema(t, d), Config{Logger: testLogger()})
}

func setupTestStorage(t *testing.T) *Storage {
	t.Helper()

	s, err := openAt(t, filepath.Join(t.TempDir(), "test.db"), loginsDesc())
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = s.Close()
	})

	return s
}

func TestNew_InMemory(t *testing.T) {
	s, err := openAt(t, ":memory:", loginsDesc())
	require.NoError(t, err)
	defer s.Close()

	assert.NotEmpty(t, s.ClientID())
	assert.Equal(t, "logins-example", s.Bundle().CollectionName())

	ctx := context.Background()
	counter, err := getMeta[int64](ctx, s.db, metaChangeCounter)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counter)
}

func TestNew_Reopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := openAt(t, path, loginsDesc())
	require.NoError(t, err)
	clientID := s.ClientID()
	id, err := s.Create(ctx, map[string]any{"username": "a", "password": "p"})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = openAt(t, path, loginsDesc())
	require.NoError(t, err)
	defer s.Close()

	assert.Equal(t, clientID, s.ClientID(), "client id survives reopen")
	found, err := s.Exists(ctx, id)
	require.NoError(t, err)
	assert.True(t, found)
}

func TestNew_ConcurrentOpen(t *testing.T) {
	const workers = 8

	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "test.db")

	schemas := make([]*schema.RecordSchema, workers)
	for i := range schemas {
		schemas[i] = mustSchema(t, loginsDesc())
	}

	var (
		wg      sync.WaitGroup
		handles = make([]*Storage, workers)
		errs    = make([]error, workers)
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			handles[i], errs[i] = New(ctx, path, schemas[i], Config{Logger: testLogger()})
		}(i)
	}
	wg.Wait()

	t.Cleanup(func() {
		for _, h := range handles {
			if h != nil {
				_ = h.Close()
			}
		}
	})

	for i, err := range errs {
		require.NoError(t, err, "open #%d", i)
	}

	clientID := handles[0].ClientID()
	assert.NotEmpty(t, clientID)
	for _, h := range handles[1:] {
		assert.Equal(t, clientID, h.ClientID(), "all handles share one client id")
	}

	var schemaRows int
	err := handles[0].db.QueryRowContext(ctx, `SELECT COUNT(*) FROM remerge_schemas`).Scan(&schemaRows)
	require.NoError(t, err)
	assert.Equal(t, 1, schemaRows)

	stored, err := getMeta[string](ctx, handles[0].db, metaClientID)
	require.NoError(t, err)
	assert.Equal(t, clientID, stored)
}

func TestNew_SchemaChecks(t *testing.T) {
	renamed := loginsDesc()
	renamed.Name = "other"

	older := loginsDesc()
	older.Version = "0.9.0"

	changed := loginsDesc()
	changed.Fields[1].Required = true

	// То же значение, записанное явно
	auto := true
	equivalent := loginsDesc()
	equivalent.Fields[0].Auto = &auto
	equivalent.Fields[1].LocalName = "username"
	equivalent.Fields[2].Merge = schema.MergeTakeNewest
	equivalent.Fields[7].Merge = schema.MergeTakeMax

	tests := []struct {
		name    string
		next    schema.Description
		wantErr error
	}{
		{name: "same schema", next: loginsDesc()},
		{name: "equivalent schema", next: equivalent},
		{name: "name mismatch", next: renamed, wantErr: storage.ErrSchemaNameMismatch},
		{name: "version went backwards", next: older, wantErr: storage.ErrSchemaVersionWentBackwards},
		{name: "changed without version bump", next: changed, wantErr: storage.ErrSchemaChangedWithoutVersionBump},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "test.db")

			s, err := openAt(t, path, loginsDesc())
			require.NoError(t, err)
			require.NoError(t, s.Close())

			s, err = openAt(t, path, tt.next)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, s)
				return
			}
			require.NoError(t, err)
			_ = s.Close()
		})
	}
}

func TestNew_StoredSchemaWithImpliedValues(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := openAt(t, path, loginsDesc())
	require.NoError(t, err)

	// Текст схемы без явно выписанных значений по умолчанию
	raw, err := loginsDesc().Canonical()
	require.NoError(t, err)
	require.NotEqual(t, s.Bundle().NativeSchema().Text(), string(raw))
	_, err = s.db.ExecContext(ctx, `UPDATE remerge_schemas SET schema_text = ? WHERE version = ?`, string(raw), "1.0.0")
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = openAt(t, path, loginsDesc())
	require.NoError(t, err)
	_ = s.Close()

	changed := loginsDesc()
	changed.Fields[1].Required = true
	_, err = openAt(t, path, changed)
	assert.ErrorIs(t, err, storage.ErrSchemaChangedWithoutVersionBump)
}

func TestNew_CorruptStoredVersion(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := openAt(t, path, loginsDesc())
	require.NoError(t, err)
	require.NoError(t, putMeta(ctx, s.db, metaNativeSchemaVersion, "not-a-version"))
	require.NoError(t, s.Close())

	assert.NotPanics(t, func() {
		s, err = openAt(t, path, loginsDesc())
	})
	assert.Error(t, err)
	assert.Nil(t, s)
}

func TestNew_AdoptsNewerSchema(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := openAt(t, path, loginsDesc())
	require.NoError(t, err)
	id, err := s.Create(ctx, map[string]any{"username": "a", "password": "p"})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	newer := loginsDesc()
	newer.Version = "1.1.0"
	newer.Fields = append(newer.Fields, schema.FieldDesc{Name: "note", Type: schema.KindText, Default: "none"})

	s, err = openAt(t, path, newer)
	require.NoError(t, err)

	assert.Equal(t, "1.1.0", s.Bundle().LocalSchema().Version.String())
	assert.Equal(t, "1.1.0", s.Bundle().NativeSchema().Version.String())

	localVer, err := getMeta[string](ctx, s.db, metaLocalSchemaVersion)
	require.NoError(t, err)
	assert.Equal(t, "1.1.0", localVer)

	rec, ok, err := s.GetByID(ctx, id)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "none", rec["note"], "records written under the old schema get the new default")
	require.NoError(t, s.Close())

	// Возврат к старой схеме запрещён
	_, err = openAt(t, path, loginsDesc())
	assert.ErrorIs(t, err, storage.ErrSchemaVersionWentBackwards)

	s, err = openAt(t, path, newer)
	require.NoError(t, err)
	_ = s.Close()
}
