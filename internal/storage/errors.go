package storage

import "errors"

// Common storage errors
var (
	// ErrNoSuchRecord indicates that no visible record has the given id
	ErrNoSuchRecord = errors.New("no such record")

	// ErrIDNotUnique indicates that a record with this id already exists
	ErrIDNotUnique = errors.New("record id is not unique")

	// ErrDuplicate indicates that another record has the same values in
	// every dedupe_on field
	ErrDuplicate = errors.New("record is a duplicate of an existing record")

	// ErrSchemaNameMismatch indicates that the database was created for a
	// different collection
	ErrSchemaNameMismatch = errors.New("schema name does not match the stored collection name")

	// ErrSchemaVersionWentBackwards indicates that the schema is older than
	// the one the database was last opened with
	ErrSchemaVersionWentBackwards = errors.New("schema version went backwards")

	// ErrSchemaChangedWithoutVersionBump indicates that the schema differs
	// from the stored schema of the same version
	ErrSchemaChangedWithoutVersionBump = errors.New("schema changed without a version bump")
)
