package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/iudanet/remerge/internal/bundle"
	"github.com/iudanet/remerge/internal/crdt"
	"github.com/iudanet/remerge/internal/models"
	"github.com/iudanet/remerge/internal/mstime"
	"github.com/iudanet/remerge/internal/schema"
	"github.com/iudanet/remerge/internal/storage"
)

var (
	_ storage.RecordStorage = (*Storage)(nil)
	_ storage.SyncStorage   = (*Storage)(nil)
)

// Exists reports whether a visible record has the given id
func (s *Storage) Exists(ctx context.Context, id string) (bool, error) {
	return exists(ctx, s.db, id)
}

func exists(ctx context.Context, q querier, id string) (bool, error) {
	query := `
		SELECT EXISTS(
			SELECT 1 FROM rec_local
			WHERE guid = ? AND is_deleted = 0
			UNION ALL
			SELECT 1 FROM rec_mirror
			WHERE guid = ? AND is_overridden IS NOT 1 AND is_deleted = 0
		)
	`

	var found int
	if err := q.QueryRowContext(ctx, query, id, id).Scan(&found); err != nil {
		return false, fmt.Errorf("failed to check record existence: %w", err)
	}
	return intToBool(found), nil
}

// Create validates and inserts a new record, returning its id
func (s *Storage) Create(ctx context.Context, rec models.NativeRecord) (string, error) {
	id, local, err := s.bundle.NativeToLocal(rec, bundle.Creation())
	if err != nil {
		return "", err
	}

	data, err := local.Encode()
	if err != nil {
		return "", fmt.Errorf("failed to encode record: %w", err)
	}

	err = s.withTx(ctx, func(tx *sql.Tx) error {
		found, err := exists(ctx, tx, id)
		if err != nil {
			return err
		}
		if found {
			return fmt.Errorf("%w: %s", storage.ErrIDNotUnique, id)
		}

		dupe, err := s.dupeExists(ctx, tx, id, local)
		if err != nil {
			return err
		}
		if dupe {
			return storage.ErrDuplicate
		}

		ctr, err := bumpCounter(ctx, tx)
		if err != nil {
			return err
		}
		vclock, err := crdt.NewVClock(s.clientID, ctr).Encode()
		if err != nil {
			return err
		}

		query := `
			INSERT INTO rec_local (
				guid, remerge_schema_version, record_data,
				local_modified_ms, is_deleted, sync_status,
				vector_clock, last_writer_id
			) VALUES (?, ?, ?, ?, 0, ?, ?, ?)
		`
		_, err = tx.ExecContext(ctx, query,
			id,
			s.localVersion(),
			string(data),
			int64(mstime.Now()),
			models.SyncStatusNew,
			vclock,
			s.clientID,
		)
		if err != nil {
			return fmt.Errorf("failed to insert record: %w", err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	return id, nil
}

// Update replaces the record whose id is in rec
func (s *Storage) Update(ctx context.Context, rec models.NativeRecord) error {
	id, err := s.recordID(rec)
	if err != nil {
		return err
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		prev, ok, err := getLocalByID(ctx, tx, id)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: %s", storage.ErrNoSuchRecord, id)
		}

		guid, local, err := s.bundle.NativeToLocal(rec, bundle.Update(prev))
		if err != nil {
			return err
		}

		dupe, err := s.dupeExists(ctx, tx, guid, local)
		if err != nil {
			return err
		}
		if dupe {
			return storage.ErrDuplicate
		}

		if err := s.ensureLocalOverlay(ctx, tx, guid); err != nil {
			return err
		}
		if err := markMirrorOverridden(ctx, tx, guid); err != nil {
			return err
		}

		vclock, err := s.bumpedVClock(ctx, tx, guid)
		if err != nil {
			return err
		}

		data, err := local.Encode()
		if err != nil {
			return fmt.Errorf("failed to encode record: %w", err)
		}

		query := `
			UPDATE rec_local
			SET local_modified_ms = ?,
			    record_data = ?,
			    vector_clock = ?,
			    last_writer_id = ?,
			    remerge_schema_version = ?,
			    sync_status = max(sync_status, ?)
			WHERE guid = ?
		`
		_, err = tx.ExecContext(ctx, query,
			int64(mstime.Now()),
			string(data),
			vclock,
			s.clientID,
			s.localVersion(),
			models.SyncStatusChanged,
			guid,
		)
		if err != nil {
			return fmt.Errorf("failed to update record: %w", err)
		}
		return nil
	})
}

// recordID extracts and validates the id of a native record
func (s *Storage) recordID(rec models.NativeRecord) (string, error) {
	field := s.bundle.NativeSchema().OwnGuidField()

	v, ok := rec[field.LocalName]
	if !ok || v == nil {
		return "", &schema.FieldError{
			Field: field.LocalName,
			Err:   fmt.Errorf("%w: no value provided in id field for update", bundle.ErrInvalidField),
		}
	}

	id, err := field.Validate(v)
	if err != nil {
		return "", err
	}
	return id.(string), nil
}

// DeleteByID marks the record as deleted, leaving a tombstone in the overlay.
// Returns false if there was no visible record to delete
func (s *Storage) DeleteByID(ctx context.Context, id string) (bool, error) {
	var deleted bool

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		found, err := exists(ctx, tx, id)
		if err != nil {
			return err
		}
		if !found {
			return nil
		}

		now := int64(mstime.Now())
		vclock, err := s.bumpedVClock(ctx, tx, id)
		if err != nil {
			return err
		}

		query := `
			UPDATE rec_local
			SET local_modified_ms = ?,
			    sync_status = ?,
			    is_deleted = 1,
			    record_data = '{}',
			    vector_clock = ?,
			    last_writer_id = ?
			WHERE guid = ?
		`
		if _, err := tx.ExecContext(ctx, query, now, models.SyncStatusChanged, vclock, s.clientID, id); err != nil {
			return fmt.Errorf("failed to delete record: %w", err)
		}

		if err := markMirrorOverridden(ctx, tx, id); err != nil {
			return err
		}

		// Записи, существующие только в зеркале, получают надгробие в оверлее
		query = `
			INSERT OR IGNORE INTO rec_local (
				guid, local_modified_ms, is_deleted, sync_status,
				record_data, vector_clock, last_writer_id, remerge_schema_version
			)
			SELECT guid, ?, 1, ?, '{}', ?, ?, ?
			FROM rec_mirror
			WHERE guid = ?
		`
		_, err = tx.ExecContext(ctx, query,
			now, models.SyncStatusChanged, vclock, s.clientID, s.localVersion(), id)
		if err != nil {
			return fmt.Errorf("failed to insert tombstone: %w", err)
		}

		deleted = true
		return nil
	})
	if err != nil {
		return false, err
	}

	return deleted, nil
}

// GetByID retrieves a single visible record.
// Returns false if it doesn't exist
func (s *Storage) GetByID(ctx context.Context, id string) (models.NativeRecord, bool, error) {
	local, ok, err := getLocalByID(ctx, s.db, id)
	if err != nil || !ok {
		return nil, false, err
	}

	native, err := s.bundle.LocalToNative(local)
	if err != nil {
		return nil, false, err
	}
	return native, true, nil
}

// GetAll retrieves all visible records.
// Returns empty slice if no records found
func (s *Storage) GetAll(ctx context.Context) ([]models.NativeRecord, error) {
	visible, err := scanVisible(ctx, s.db)
	if err != nil {
		return nil, err
	}

	out := make([]models.NativeRecord, 0, len(visible))
	for _, v := range visible {
		native, err := s.bundle.LocalToNative(v.record)
		if err != nil {
			return nil, err
		}
		out = append(out, native)
	}
	return out, nil
}

// getLocalByID retrieves the visible local record with the given id:
// the overlay row if it is not deleted, otherwise the mirror row if it is
// not overridden
func getLocalByID(ctx context.Context, q querier, id string) (models.LocalRecord, bool, error) {
	query := `
		SELECT record_data FROM rec_local WHERE guid = ? AND is_deleted = 0
		UNION ALL
		SELECT record_data FROM rec_mirror WHERE guid = ? AND is_overridden IS NOT 1 AND is_deleted = 0
		LIMIT 1
	`

	var data string
	err := q.QueryRowContext(ctx, query, id, id).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to get record: %w", err)
	}

	rec, err := decodeStored(data)
	if err != nil {
		return nil, false, err
	}
	return rec, true, nil
}

type visibleRecord struct {
	guid   string
	record models.LocalRecord
}

// scanVisible retrieves every visible local record
func scanVisible(ctx context.Context, q querier) (_ []visibleRecord, err error) {
	query := `
		SELECT guid, record_data FROM rec_local WHERE is_deleted = 0
		UNION ALL
		SELECT guid, record_data FROM rec_mirror WHERE is_overridden IS NOT 1 AND is_deleted = 0
	`

	rows, err := q.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	var out []visibleRecord
	for rows.Next() {
		var guid, data string
		if err := rows.Scan(&guid, &data); err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		rec, err := decodeStored(data)
		if err != nil {
			return nil, err
		}
		out = append(out, visibleRecord{guid: guid, record: rec})
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	return out, nil
}

func decodeStored(data string) (models.LocalRecord, error) {
	rec, err := models.DecodeLocalRecord([]byte(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", bundle.ErrLocalToNative, err)
	}
	return rec, nil
}

// ensureLocalOverlay clones the mirror row into the overlay unless the
// overlay already has a row for guid
func (s *Storage) ensureLocalOverlay(ctx context.Context, tx *sql.Tx, guid string) error {
	var found int
	err := tx.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM rec_local WHERE guid = ?)`, guid).Scan(&found)
	if err != nil {
		return fmt.Errorf("failed to check overlay: %w", err)
	}
	if intToBool(found) {
		return nil
	}

	s.logger.Debug("no overlay, cloning mirror", slog.String("guid", guid))
	return s.cloneMirrorToOverlay(ctx, tx, guid)
}

func (s *Storage) cloneMirrorToOverlay(ctx context.Context, tx *sql.Tx, guid string) error {
	query := `
		INSERT OR IGNORE INTO rec_local (
			guid, record_data, vector_clock, last_writer_id,
			local_modified_ms, is_deleted, sync_status
		)
		SELECT guid, record_data, vector_clock, last_writer_id, 0, 0, 0
		FROM rec_mirror
		WHERE guid = ? AND is_deleted = 0
	`

	result, err := tx.ExecContext(ctx, query, guid)
	if err != nil {
		return fmt.Errorf("failed to clone mirror: %w", err)
	}

	changed, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if changed == 0 {
		s.logger.Error("failed to create local overlay", slog.String("guid", guid))
		return fmt.Errorf("%w: %s", storage.ErrNoSuchRecord, guid)
	}
	return nil
}

func markMirrorOverridden(ctx context.Context, tx *sql.Tx, guid string) error {
	if _, err := tx.ExecContext(ctx, `UPDATE rec_mirror SET is_overridden = 1 WHERE guid = ?`, guid); err != nil {
		return fmt.Errorf("failed to mark mirror overridden: %w", err)
	}
	return nil
}

// bumpedVClock returns the vector clock of the visible record advanced by
// a fresh change counter value, encoded for storage
func (s *Storage) bumpedVClock(ctx context.Context, tx *sql.Tx, guid string) (string, error) {
	vc, err := getVClock(ctx, tx, guid)
	if err != nil {
		return "", err
	}

	ctr, err := bumpCounter(ctx, tx)
	if err != nil {
		return "", err
	}

	return vc.Apply(s.clientID, ctr).Encode()
}

func getVClock(ctx context.Context, q querier, guid string) (crdt.VClock, error) {
	query := `
		SELECT vector_clock FROM rec_local WHERE guid = ? AND is_deleted = 0
		UNION ALL
		SELECT vector_clock FROM rec_mirror WHERE guid = ? AND is_overridden IS NOT 1 AND is_deleted = 0
		LIMIT 1
	`

	var raw string
	err := q.QueryRowContext(ctx, query, guid, guid).Scan(&raw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", storage.ErrNoSuchRecord, guid)
		}
		return nil, fmt.Errorf("failed to get vector clock: %w", err)
	}

	vc, err := crdt.DecodeVClock(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to read vector clock of %s: %w", guid, err)
	}
	return vc, nil
}

func (s *Storage) localVersion() string {
	return s.bundle.LocalSchema().Version.String()
}
