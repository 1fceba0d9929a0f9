package sqlite

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iudanet/remerge/internal/crdt"
	"github.com/iudanet/remerge/internal/models"
	"github.com/iudanet/remerge/internal/mstime"
	"github.com/iudanet/remerge/internal/schema"
	"github.com/iudanet/remerge/internal/storage"
)

const mirrorGUID = "mirror-guid-1"

func serverRow(password string, counter int64) *models.MirrorRow {
	return &models.MirrorRow{
		GUID: mirrorGUID,
		Record: models.LocalRecord{
			"id":       mirrorGUID,
			"username": "server",
			"password": password,
		},
		ServerModified: mstime.MsTime(1_600_000_000_000 + counter),
		VClock:         crdt.NewVClock("server-client", crdt.MustCounter(counter)),
		LastWriterID:   "server-client",
	}
}

func TestStorage_PutMirror(t *testing.T) {
	ctx := context.Background()
	s := setupTestStorage(t)

	saved, err := s.PutMirror(ctx, serverRow("m1", 2))
	require.NoError(t, err)
	assert.True(t, saved)

	saved, err = s.PutMirror(ctx, serverRow("m0", 1))
	require.NoError(t, err)
	assert.False(t, saved, "older row is ignored")

	saved, err = s.PutMirror(ctx, serverRow("m3", 3))
	require.NoError(t, err)
	assert.True(t, saved)

	rec, ok, err := s.GetByID(ctx, mirrorGUID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "m3", rec["password"])

	changes, err := s.LocalChanges(ctx)
	require.NoError(t, err)
	assert.Empty(t, changes, "mirror rows are not local changes")

	_, err = s.PutMirror(ctx, &models.MirrorRow{GUID: "bad"})
	assert.ErrorIs(t, err, schema.ErrInvalidGuid)
}

func TestStorage_MirrorOverlay(t *testing.T) {
	ctx := context.Background()
	s := setupTestStorage(t)

	_, err := s.PutMirror(ctx, serverRow("m1", 5))
	require.NoError(t, err)

	found, err := s.Exists(ctx, mirrorGUID)
	require.NoError(t, err)
	assert.True(t, found)

	// Дубликат записи из зеркала
	_, err = s.Create(ctx, models.NativeRecord{"username": "server", "password": "m1"})
	assert.ErrorIs(t, err, storage.ErrDuplicate)

	err = s.Update(ctx, models.NativeRecord{"id": mirrorGUID, "username": "server", "password": "local"})
	require.NoError(t, err)

	mirror, ok, err := getMirrorRow(ctx, s.db, mirrorGUID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, mirror.IsOverridden)
	assert.Equal(t, "m1", mirror.Record["password"], "mirror keeps the server version")

	rec, ok, err := s.GetByID(ctx, mirrorGUID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "local", rec["password"], "overlay shadows the mirror")

	all, err := s.GetAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1, "an overridden mirror row is not listed")

	vc, err := s.VClock(ctx, mirrorGUID)
	require.NoError(t, err)
	assert.Equal(t, crdt.Counter(5), vc.Get("server-client"), "overlay inherits the mirror clock")
	assert.Positive(t, int64(vc.Get(s.ClientID())))
	assert.Equal(t, crdt.After, vc.Compare(mirror.VClock))

	changes, err := s.LocalChanges(ctx)
	require.NoError(t, err)
	require.Len(t, changes, 1)
	assert.Equal(t, models.SyncStatusChanged, changes[0].SyncStatus)

	// Сервер принял изменения
	require.NoError(t, s.PromoteToMirror(ctx, mirrorGUID))

	changes, err = s.LocalChanges(ctx)
	require.NoError(t, err)
	assert.Empty(t, changes)

	mirror, ok, err = getMirrorRow(ctx, s.db, mirrorGUID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.False(t, mirror.IsOverridden)
	assert.Equal(t, "local", mirror.Record["password"])

	// Новая версия с сервера, пока оверлея нет, видна сразу
	next := serverRow("m9", 9)
	next.VClock = mirror.VClock.Apply("server-client", crdt.MustCounter(9))
	saved, err := s.PutMirror(ctx, next)
	require.NoError(t, err)
	require.True(t, saved)

	rec, _, err = s.GetByID(ctx, mirrorGUID)
	require.NoError(t, err)
	assert.Equal(t, "m9", rec["password"])
}

func TestStorage_PutMirrorKeepsOverlay(t *testing.T) {
	ctx := context.Background()
	s := setupTestStorage(t)

	_, err := s.PutMirror(ctx, serverRow("m1", 1))
	require.NoError(t, err)
	require.NoError(t, s.Update(ctx, models.NativeRecord{"id": mirrorGUID, "password": "local"}))

	saved, err := s.PutMirror(ctx, serverRow("m2", 2))
	require.NoError(t, err)
	require.True(t, saved)

	rec, _, err := s.GetByID(ctx, mirrorGUID)
	require.NoError(t, err)
	assert.Equal(t, "local", rec["password"], "incoming rows do not replace pending local changes")
}

func TestStorage_DeleteMirrorOnly(t *testing.T) {
	ctx := context.Background()
	s := setupTestStorage(t)

	_, err := s.PutMirror(ctx, serverRow("m1", 1))
	require.NoError(t, err)

	deleted, err := s.DeleteByID(ctx, mirrorGUID)
	require.NoError(t, err)
	assert.True(t, deleted)

	found, err := s.Exists(ctx, mirrorGUID)
	require.NoError(t, err)
	assert.False(t, found)

	changes, err := s.LocalChanges(ctx)
	require.NoError(t, err)
	require.Len(t, changes, 1, "deleting a mirror-only record leaves a tombstone")
	assert.Equal(t, mirrorGUID, changes[0].GUID)
	assert.True(t, changes[0].IsDeleted)
	assert.Equal(t, "1.0.0", changes[0].SchemaVersion)
	assert.Equal(t, crdt.Counter(1), changes[0].VClock.Get("server-client"))

	require.NoError(t, s.PromoteToMirror(ctx, mirrorGUID))

	tomb, ok, err := getMirrorRow(ctx, s.db, mirrorGUID)
	require.NoError(t, err)
	require.True(t, ok, "the mirror keeps a tombstone")
	assert.True(t, tomb.IsDeleted)
	assert.False(t, tomb.IsOverridden)
	assert.Empty(t, tomb.Record)
	assert.Positive(t, int64(tomb.VClock.Get(s.ClientID())))

	changes, err = s.LocalChanges(ctx)
	require.NoError(t, err)
	assert.Empty(t, changes)

	all, err := s.GetAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestStorage_MirrorTombstone(t *testing.T) {
	tests := []struct {
		name      string
		incoming  func(tomb *models.MirrorRow) *models.MirrorRow
		wantSaved bool
	}{
		{
			name: "stale row is rejected",
			incoming: func(_ *models.MirrorRow) *models.MirrorRow {
				return serverRow("m1", 1)
			},
			wantSaved: false,
		},
		{
			name: "row equal to the tombstone clock is rejected",
			incoming: func(tomb *models.MirrorRow) *models.MirrorRow {
				row := serverRow("m1", 1)
				row.VClock = tomb.VClock.Clone()
				return row
			},
			wantSaved: false,
		},
		{
			name: "row that saw the deletion revives the record",
			incoming: func(tomb *models.MirrorRow) *models.MirrorRow {
				row := serverRow("m2", 2)
				row.VClock = tomb.VClock.Apply("server-client", crdt.MustCounter(2))
				return row
			},
			wantSaved: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			s := setupTestStorage(t)

			_, err := s.PutMirror(ctx, serverRow("m1", 1))
			require.NoError(t, err)
			_, err = s.DeleteByID(ctx, mirrorGUID)
			require.NoError(t, err)
			require.NoError(t, s.PromoteToMirror(ctx, mirrorGUID))

			tomb, ok, err := getMirrorRow(ctx, s.db, mirrorGUID)
			require.NoError(t, err)
			require.True(t, ok)

			saved, err := s.PutMirror(ctx, tt.incoming(tomb))
			require.NoError(t, err)
			assert.Equal(t, tt.wantSaved, saved)

			found, err := s.Exists(ctx, mirrorGUID)
			require.NoError(t, err)
			assert.Equal(t, tt.wantSaved, found)

			all, err := s.GetAll(ctx)
			require.NoError(t, err)
			if tt.wantSaved {
				require.Len(t, all, 1)
				assert.Equal(t, "m2", all[0]["password"])
			} else {
				assert.Empty(t, all)
				_, ok, err := s.GetByID(ctx, mirrorGUID)
				require.NoError(t, err)
				assert.False(t, ok)
			}
		})
	}
}

func TestStorage_PromoteToMirror_NotFound(t *testing.T) {
	s := setupTestStorage(t)

	err := s.PromoteToMirror(context.Background(), "nonexistent-id")
	assert.ErrorIs(t, err, storage.ErrNoSuchRecord)
}
