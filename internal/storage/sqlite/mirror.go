package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/iudanet/remerge/internal/crdt"
	"github.com/iudanet/remerge/internal/models"
	"github.com/iudanet/remerge/internal/mstime"
	"github.com/iudanet/remerge/internal/schema"
	"github.com/iudanet/remerge/internal/storage"
	"github.com/iudanet/remerge/internal/validation"
)

// PutMirror stores a row received from the server.
// Uses CRDT logic: only saves if the row is newer than the stored mirror row.
// Returns true if the row was saved, false if the stored row is newer
func (s *Storage) PutMirror(ctx context.Context, row *models.MirrorRow) (bool, error) {
	if err := validation.ValidateGuid(row.GUID); err != nil {
		return false, fmt.Errorf("%w: %v", schema.ErrInvalidGuid, err)
	}

	if row.SchemaVersion == "" {
		row = row.Clone()
		row.SchemaVersion = s.localVersion()
	}

	var saved bool
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		// Проверяем существующую запись
		existing, ok, err := getMirrorRow(ctx, tx, row.GUID)
		if err != nil {
			return err
		}
		// Если существующая запись новее - не сохраняем
		if ok && !row.IsNewerThan(existing) {
			return nil
		}

		// Пока есть оверлей, зеркало остаётся перекрытым
		var hasOverlay int
		err = tx.QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM rec_local WHERE guid = ?)`, row.GUID).Scan(&hasOverlay)
		if err != nil {
			return fmt.Errorf("failed to check overlay: %w", err)
		}

		if err := upsertMirror(ctx, tx, row, row.IsOverridden || intToBool(hasOverlay)); err != nil {
			return err
		}

		saved = true
		return nil
	})
	if err != nil {
		return false, err
	}

	return saved, nil
}

// upsertMirror creates or replaces the mirror row of row.GUID. Tombstones
// keep their vector clock with an empty payload.
func upsertMirror(ctx context.Context, tx *sql.Tx, row *models.MirrorRow, overridden bool) error {
	data := []byte("{}")
	if !row.IsDeleted {
		var err error
		if data, err = row.Record.Encode(); err != nil {
			return fmt.Errorf("failed to encode record: %w", err)
		}
	}
	vclock, err := row.VClock.Encode()
	if err != nil {
		return err
	}

	query := `
		INSERT INTO rec_mirror (
			guid, record_data, server_modified_ms, remerge_schema_version,
			vector_clock, last_writer_id, is_overridden, is_deleted
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(guid) DO UPDATE SET
			record_data = excluded.record_data,
			server_modified_ms = excluded.server_modified_ms,
			remerge_schema_version = excluded.remerge_schema_version,
			vector_clock = excluded.vector_clock,
			last_writer_id = excluded.last_writer_id,
			is_overridden = excluded.is_overridden,
			is_deleted = excluded.is_deleted
	`
	_, err = tx.ExecContext(ctx, query,
		row.GUID,
		string(data),
		int64(row.ServerModified),
		row.SchemaVersion,
		vclock,
		row.LastWriterID,
		boolToInt(overridden),
		boolToInt(row.IsDeleted),
	)
	if err != nil {
		return fmt.Errorf("failed to save mirror row: %w", err)
	}
	return nil
}

func getMirrorRow(ctx context.Context, q querier, guid string) (*models.MirrorRow, bool, error) {
	query := `
		SELECT guid, remerge_schema_version, record_data, server_modified_ms,
		       vector_clock, last_writer_id, is_overridden, is_deleted
		FROM rec_mirror
		WHERE guid = ?
	`

	var (
		row        models.MirrorRow
		schemaVer  sql.NullString
		data       string
		modified   int64
		vclock     string
		overridden int
		deleted    int
	)
	err := q.QueryRowContext(ctx, query, guid).Scan(
		&row.GUID,
		&schemaVer,
		&data,
		&modified,
		&vclock,
		&row.LastWriterID,
		&overridden,
		&deleted,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to get mirror row: %w", err)
	}

	row.SchemaVersion = schemaVer.String
	row.ServerModified = mstime.MsTime(modified)
	row.IsOverridden = intToBool(overridden)
	row.IsDeleted = intToBool(deleted)

	if row.Record, err = decodeStored(data); err != nil {
		return nil, false, err
	}
	if row.VClock, err = crdt.DecodeVClock(vclock); err != nil {
		return nil, false, err
	}
	return &row, true, nil
}

// LocalChanges retrieves all overlay rows that were not synced yet,
// including deletions, in insertion order
func (s *Storage) LocalChanges(ctx context.Context) (_ []*models.LocalRow, err error) {
	query := `
		SELECT guid, remerge_schema_version, record_data, local_modified_ms,
		       is_deleted, sync_status, vector_clock, last_writer_id
		FROM rec_local
		WHERE sync_status <> ?
		ORDER BY id ASC
	`

	rows, err := s.db.QueryContext(ctx, query, models.SyncStatusSynced)
	if err != nil {
		return nil, fmt.Errorf("failed to query local changes: %w", err)
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	out := make([]*models.LocalRow, 0)
	for rows.Next() {
		row, err := scanLocalRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanLocalRow(sc scanner) (*models.LocalRow, error) {
	var (
		row       models.LocalRow
		schemaVer sql.NullString
		data      string
		modified  int64
		deleted   int
		status    int
		vclock    string
	)
	err := sc.Scan(
		&row.GUID,
		&schemaVer,
		&data,
		&modified,
		&deleted,
		&status,
		&vclock,
		&row.LastWriterID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan local row: %w", err)
	}

	row.SchemaVersion = schemaVer.String
	row.LocalModified = mstime.MsTime(modified)
	row.IsDeleted = intToBool(deleted)
	row.SyncStatus = models.SyncStatus(status)

	if row.Record, err = decodeStored(data); err != nil {
		return nil, err
	}
	if row.VClock, err = crdt.DecodeVClock(vclock); err != nil {
		return nil, err
	}
	return &row, nil
}

// PromoteToMirror replaces the mirror row with the overlay row after the
// server accepted it, and drops the overlay. A deleted overlay leaves a
// mirror tombstone so older server rows can't bring the record back.
// Returns ErrNoSuchRecord if there is no overlay row
func (s *Storage) PromoteToMirror(ctx context.Context, id string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		query := `
			SELECT guid, remerge_schema_version, record_data, local_modified_ms,
			       is_deleted, sync_status, vector_clock, last_writer_id
			FROM rec_local
			WHERE guid = ?
		`
		local, err := scanLocalRow(tx.QueryRowContext(ctx, query, id))
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("%w: %s", storage.ErrNoSuchRecord, id)
			}
			return err
		}

		row := &models.MirrorRow{
			GUID:           id,
			SchemaVersion:  local.SchemaVersion,
			Record:         local.Record,
			ServerModified: mstime.Now(),
			VClock:         local.VClock,
			LastWriterID:   local.LastWriterID,
			IsDeleted:      local.IsDeleted,
		}
		if row.SchemaVersion == "" {
			row.SchemaVersion = s.localVersion()
		}
		if err := upsertMirror(ctx, tx, row, false); err != nil {
			return fmt.Errorf("failed to promote overlay: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM rec_local WHERE guid = ?`, id); err != nil {
			return fmt.Errorf("failed to drop overlay: %w", err)
		}
		return nil
	})
}

// VClock retrieves the vector clock of a visible record.
// Returns ErrNoSuchRecord if it doesn't exist
func (s *Storage) VClock(ctx context.Context, id string) (crdt.VClock, error) {
	return getVClock(ctx, s.db, id)
}
