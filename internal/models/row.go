package models

import (
	"fmt"

	"github.com/iudanet/remerge/internal/crdt"
	"github.com/iudanet/remerge/internal/mstime"
)

// SyncStatus отражает состояние локальной записи относительно сервера.
type SyncStatus uint8

const (
	// SyncStatusSynced запись совпадает с зеркалом
	SyncStatusSynced SyncStatus = 0
	// SyncStatusChanged запись изменена локально после синхронизации
	SyncStatusChanged SyncStatus = 1
	// SyncStatusNew запись создана локально и ещё не отправлялась
	SyncStatusNew SyncStatus = 2
)

func (s SyncStatus) String() string {
	switch s {
	case SyncStatusSynced:
		return "synced"
	case SyncStatusChanged:
		return "changed"
	case SyncStatusNew:
		return "new"
	default:
		return fmt.Sprintf("SyncStatus(%d)", uint8(s))
	}
}

// LocalRow is a row of the local overlay table. It shadows the mirror row
// with the same GUID until sync reconciles the two.
type LocalRow struct {
	GUID          string        `json:"guid"`
	SchemaVersion string        `json:"schema_version"`
	Record        LocalRecord   `json:"record"`
	LocalModified mstime.MsTime `json:"local_modified_ms"`
	IsDeleted     bool          `json:"is_deleted"`
	SyncStatus    SyncStatus    `json:"sync_status"`
	VClock        crdt.VClock   `json:"vector_clock"`
	LastWriterID  string        `json:"last_writer_id"`
}

// MirrorRow is the last-known-synced version of a record.
type MirrorRow struct {
	GUID           string        `json:"guid"`
	SchemaVersion  string        `json:"schema_version"`
	Record         LocalRecord   `json:"record"`
	ServerModified mstime.MsTime `json:"server_modified_ms"`
	VClock         crdt.VClock   `json:"vector_clock"`
	LastWriterID   string        `json:"last_writer_id"`
	IsOverridden   bool          `json:"is_overridden"`
	// IsDeleted помечает надгробие: запись удалена, но её часы сохраняются
	IsDeleted bool `json:"is_deleted"`
}

// IsNewerThan определяет, следует ли строке r заменить строку other.
// 1. Сначала сравниваются векторные часы (доминирующие выигрывают)
// 2. Для конкурентных изменений сравнивается ServerModified
// 3. При равенстве сравнивается LastWriterID (лексикографически)
func (r *MirrorRow) IsNewerThan(other *MirrorRow) bool {
	switch r.VClock.Compare(other.VClock) {
	case crdt.After:
		return true
	case crdt.Before, crdt.Equal:
		return false
	}
	if r.ServerModified != other.ServerModified {
		return r.ServerModified > other.ServerModified
	}
	// Конкурентные изменения - сравниваем LastWriterID для детерминизма
	return r.LastWriterID > other.LastWriterID
}

// Clone создает копию строки зеркала
func (r *MirrorRow) Clone() *MirrorRow {
	out := *r
	out.Record = r.Record.Clone()
	out.VClock = r.VClock.Clone()
	return &out
}

// Clone создает копию локальной строки
func (r *LocalRow) Clone() *LocalRow {
	out := *r
	out.Record = r.Record.Clone()
	out.VClock = r.VClock.Clone()
	return &out
}
