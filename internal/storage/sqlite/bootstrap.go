package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Masterminds/semver/v3"
	"github.com/google/uuid"

	"github.com/iudanet/remerge/internal/bundle"
	"github.com/iudanet/remerge/internal/schema"
	"github.com/iudanet/remerge/internal/storage"
)

// bootstrap applies migrations and then either initializes a fresh database
// for native or loads the stored state, checking that native is compatible
// with it. The caller must hold initMu.
func (s *Storage) bootstrap(ctx context.Context, native *schema.RecordSchema) error {
	if err := s.runMigrations(ctx); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		name, ok, err := tryGetMeta[string](ctx, tx, metaCollectionName)
		if err != nil {
			return err
		}
		if !ok {
			return s.initFresh(ctx, tx, native)
		}
		if name != native.Name {
			return fmt.Errorf("%w: schema is %q, database holds %q", storage.ErrSchemaNameMismatch, native.Name, name)
		}
		return s.loadExisting(ctx, tx, native)
	})
}

func (s *Storage) initFresh(ctx context.Context, tx *sql.Tx, native *schema.RecordSchema) error {
	clientID := uuid.NewString()
	version := native.Version.String()

	if err := insertSchema(ctx, tx, native); err != nil {
		return err
	}

	values := []struct {
		key   string
		value any
	}{
		{metaClientID, clientID},
		{metaLocalSchemaVersion, version},
		{metaNativeSchemaVersion, version},
		{metaCollectionName, native.Name},
		{metaChangeCounter, int64(1)},
	}
	for _, kv := range values {
		if err := putMeta(ctx, tx, kv.key, kv.value); err != nil {
			return err
		}
	}

	s.clientID = clientID
	s.bundle = bundle.New(native.Name, native, native, s.logger)

	s.logger.Debug("initialized new database",
		slog.String("collection", native.Name),
		slog.String("version", version))
	return nil
}

func (s *Storage) loadExisting(ctx context.Context, tx *sql.Tx, native *schema.RecordSchema) error {
	localVer, err := getMeta[string](ctx, tx, metaLocalSchemaVersion)
	if err != nil {
		return err
	}
	nativeVer, err := getMeta[string](ctx, tx, metaNativeSchemaVersion)
	if err != nil {
		return err
	}
	clientID, err := getMeta[string](ctx, tx, metaClientID)
	if err != nil {
		return err
	}

	version := native.Version.String()
	if nativeVer == version {
		text, ok, err := schemaText(ctx, tx, version)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("schema %s is missing from the database", version)
		}
		if !sameSchema(text, native) {
			return fmt.Errorf("%w: version %s", storage.ErrSchemaChangedWithoutVersionBump, version)
		}
	} else {
		stored, err := semver.StrictNewVersion(nativeVer)
		if err != nil {
			return fmt.Errorf("failed to read stored schema version %q: %w", nativeVer, err)
		}
		if native.Version.LessThan(stored) {
			return fmt.Errorf("%w: schema is %s, database was opened with %s",
				storage.ErrSchemaVersionWentBackwards, version, nativeVer)
		}
		if err := s.adoptSchema(ctx, tx, native); err != nil {
			return err
		}
		localVer = version

		s.logger.Debug("adopted newer schema",
			slog.String("collection", native.Name),
			slog.String("from", nativeVer),
			slog.String("to", version))
	}

	local := native
	if localVer != version {
		text, ok, err := schemaText(ctx, tx, localVer)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("local schema %s is missing from the database", localVer)
		}
		local, err = schema.FromText(text)
		if err != nil {
			return fmt.Errorf("failed to load local schema %s: %w", localVer, err)
		}
	}

	s.clientID = clientID
	s.bundle = bundle.New(native.Name, native, local, s.logger)
	return nil
}

// adoptSchema stores native and makes it both the local and the native
// schema of the database.
func (s *Storage) adoptSchema(ctx context.Context, tx *sql.Tx, native *schema.RecordSchema) error {
	version := native.Version.String()

	text, ok, err := schemaText(ctx, tx, version)
	if err != nil {
		return err
	}
	switch {
	case !ok:
		if err := insertSchema(ctx, tx, native); err != nil {
			return err
		}
	case !sameSchema(text, native):
		return fmt.Errorf("%w: version %s", storage.ErrSchemaChangedWithoutVersionBump, version)
	}

	if err := putMeta(ctx, tx, metaNativeSchemaVersion, version); err != nil {
		return err
	}
	return putMeta(ctx, tx, metaLocalSchemaVersion, version)
}

func insertSchema(ctx context.Context, tx *sql.Tx, rs *schema.RecordSchema) error {
	query := `
		INSERT INTO remerge_schemas (is_legacy, version, required_version, schema_text)
		VALUES (?, ?, ?, ?)
	`
	_, err := tx.ExecContext(ctx, query,
		boolToInt(rs.Legacy),
		rs.Version.String(),
		rs.RequiredVersion.String(),
		rs.Text(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert schema: %w", err)
	}
	return nil
}

// sameSchema reports whether stored text describes native. Texts written
// before implied values were spelled out are reparsed first.
func sameSchema(stored string, native *schema.RecordSchema) bool {
	want := native.Text()
	if stored == want {
		return true
	}
	parsed, err := schema.FromText(stored)
	return err == nil && parsed.Text() == want
}

// schemaText retrieves the stored text of a schema version.
// Returns false if the version was never stored
func schemaText(ctx context.Context, q querier, version string) (string, bool, error) {
	var text string
	err := q.QueryRowContext(ctx,
		`SELECT schema_text FROM remerge_schemas WHERE version = ?`, version).Scan(&text)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("failed to get schema %s: %w", version, err)
	}
	return text, true, nil
}
