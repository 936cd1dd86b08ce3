// Package sharedb adapts the shared case database for the drawable cache.
// Group rows and their seen/analyzed flags are case-wide state: several cache
// instances (one per examiner node) read and write them concurrently, so
// every write here is an upsert with conflict resolution, never an
// assume-absent insert.
package sharedb

import (
	"context"
	"database/sql"
	"log/slog"

	"github.com/drawabledb/drawabledb/internal/errors"
	"github.com/drawabledb/drawabledb/pkg/types"
)

// CreateGroupsTableSQL creates the case-wide groups table. A group row is
// unique per (attribute, value, data_source_obj_id) and is never deleted as
// files come and go; only a cascading data-source delete removes it.
const CreateGroupsTableSQL = `
CREATE TABLE IF NOT EXISTS image_gallery_groups (
    group_id INTEGER PRIMARY KEY,
    data_source_obj_id INTEGER NOT NULL DEFAULT 0,
    value TEXT NOT NULL,
    attribute TEXT NOT NULL,
    is_analyzed INTEGER NOT NULL DEFAULT 0,
    UNIQUE (attribute, value, data_source_obj_id)
)`

// CreateGroupsSeenTableSQL creates the per-examiner seen-state table.
const CreateGroupsSeenTableSQL = `
CREATE TABLE IF NOT EXISTS image_gallery_groups_seen (
    group_id INTEGER NOT NULL,
    examiner_id INTEGER NOT NULL,
    seen INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (group_id, examiner_id)
)`

// CreateVersionTableSQL creates the mirrored schema-version table.
const CreateVersionTableSQL = `
CREATE TABLE IF NOT EXISTS image_gallery_db_info (
    name TEXT PRIMARY KEY,
    major INTEGER NOT NULL,
    minor INTEGER NOT NULL
)`

// DB wraps the shared case database connection owned by the host platform.
// The cache never assumes exclusive access to it.
type DB struct {
	db  *sql.DB
	log *slog.Logger
}

// New wraps an open case-database handle. The handle stays owned by the
// caller; Close is deliberately absent here.
func New(db *sql.DB, logger *slog.Logger) *DB {
	if logger == nil {
		logger = slog.Default()
	}
	return &DB{db: db, log: logger}
}

// Handle returns the underlying connection, used by schema upgrades that
// need a transaction spanning several statements.
func (s *DB) Handle() *sql.DB {
	return s.db
}

// CreateTables creates the shared tables if they do not exist.
func (s *DB) CreateTables(ctx context.Context) error {
	for _, stmt := range []string{CreateGroupsTableSQL, CreateGroupsSeenTableSQL, CreateVersionTableSQL} {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return errors.NewStorageError(errors.CodeOpenFailed, "sharedb: failed to create shared tables", err)
		}
	}
	return nil
}

// UpsertGroup ensures a group row exists for the key. An existing row is
// left untouched: group state (notably is_analyzed) is shared and may have
// been advanced by another node already.
func (s *DB) UpsertGroup(ctx context.Context, key types.GroupKey, analyzed bool) error {
	a := 0
	if analyzed {
		a = 1
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO image_gallery_groups (group_id, data_source_obj_id, value, attribute, is_analyzed)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (group_id) DO NOTHING`,
		key.ID(), int64(key.DataSourceID), key.Value, key.Attr.String(), a,
	)
	if err != nil {
		return errors.NewGroupsError(errors.CodeGroupWriteFailed, "sharedb: failed to upsert group "+key.String(), err)
	}
	return nil
}

// GroupExists reports whether a group row exists for the key. Unlike the
// read paths that degrade to a conservative default, this propagates
// storage errors: callers use it for up-front rebuild decisions.
func (s *DB) GroupExists(ctx context.Context, key types.GroupKey) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		"SELECT 1 FROM image_gallery_groups WHERE group_id = ?", key.ID(),
	).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, errors.NewGroupsError(errors.CodeGroupQueryFailed, "sharedb: failed to check group "+key.String(), err)
	}
	return true, nil
}

// SetGroupAnalyzed writes the group's is_analyzed flag, creating the row if
// another node has not yet. Analyzed transitions are rare and must be
// authoritative, so there is no cache in front of this.
func (s *DB) SetGroupAnalyzed(ctx context.Context, key types.GroupKey, analyzed bool) error {
	a := 0
	if analyzed {
		a = 1
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO image_gallery_groups (group_id, data_source_obj_id, value, attribute, is_analyzed)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (group_id) DO UPDATE SET is_analyzed = excluded.is_analyzed`,
		key.ID(), int64(key.DataSourceID), key.Value, key.Attr.String(), a,
	)
	if err != nil {
		return errors.NewGroupsError(errors.CodeGroupWriteFailed, "sharedb: failed to set analyzed on "+key.String(), err)
	}
	return nil
}

// IsGroupAnalyzed reads the group's is_analyzed flag. A missing row reads
// as not analyzed.
func (s *DB) IsGroupAnalyzed(ctx context.Context, key types.GroupKey) (bool, error) {
	var a int
	err := s.db.QueryRowContext(ctx,
		"SELECT is_analyzed FROM image_gallery_groups WHERE group_id = ?", key.ID(),
	).Scan(&a)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, errors.NewGroupsError(errors.CodeGroupQueryFailed, "sharedb: failed to read analyzed on "+key.String(), err)
	}
	return a != 0, nil
}

// MarkGroupSeen records that the examiner has reviewed the group.
func (s *DB) MarkGroupSeen(ctx context.Context, key types.GroupKey, examinerID int64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO image_gallery_groups_seen (group_id, examiner_id, seen)
		 VALUES (?, ?, 1)
		 ON CONFLICT (group_id, examiner_id) DO UPDATE SET seen = 1`,
		key.ID(), examinerID,
	)
	if err != nil {
		return errors.NewGroupsError(errors.CodeGroupWriteFailed, "sharedb: failed to mark group seen "+key.String(), err)
	}
	return nil
}

// MarkGroupUnseen clears the seen flag for every examiner.
func (s *DB) MarkGroupUnseen(ctx context.Context, key types.GroupKey) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE image_gallery_groups_seen SET seen = 0 WHERE group_id = ?", key.ID(),
	)
	if err != nil {
		return errors.NewGroupsError(errors.CodeGroupWriteFailed, "sharedb: failed to mark group unseen "+key.String(), err)
	}
	return nil
}

// IsGroupSeen reports whether any examiner has reviewed the group.
func (s *DB) IsGroupSeen(ctx context.Context, key types.GroupKey) (bool, error) {
	var seen int
	err := s.db.QueryRowContext(ctx,
		"SELECT COALESCE(MAX(seen), 0) FROM image_gallery_groups_seen WHERE group_id = ?", key.ID(),
	).Scan(&seen)
	if err != nil {
		return false, errors.NewGroupsError(errors.CodeGroupQueryFailed, "sharedb: failed to read seen on "+key.String(), err)
	}
	return seen != 0, nil
}

// IsGroupSeenByExaminer reports whether the given examiner has reviewed the
// group.
func (s *DB) IsGroupSeenByExaminer(ctx context.Context, key types.GroupKey, examinerID int64) (bool, error) {
	var seen int
	err := s.db.QueryRowContext(ctx,
		"SELECT seen FROM image_gallery_groups_seen WHERE group_id = ? AND examiner_id = ?",
		key.ID(), examinerID,
	).Scan(&seen)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, errors.NewGroupsError(errors.CodeGroupQueryFailed, "sharedb: failed to read examiner seen on "+key.String(), err)
	}
	return seen != 0, nil
}

// DeleteGroupsForDataSource removes the path groups namespaced by the data
// source, together with their seen rows, inside one shared-database
// transaction. Zero matching groups is not an error.
func (s *DB) DeleteGroupsForDataSource(ctx context.Context, ds types.DataSourceID) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.NewGroupsError(errors.CodeGroupWriteFailed, "sharedb: failed to begin data-source delete", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM image_gallery_groups_seen WHERE group_id IN
		 (SELECT group_id FROM image_gallery_groups WHERE data_source_obj_id = ?)`,
		int64(ds),
	); err != nil {
		return errors.NewGroupsError(errors.CodeGroupWriteFailed, "sharedb: failed to delete seen rows for data source", err)
	}

	if _, err := tx.ExecContext(ctx,
		"DELETE FROM image_gallery_groups WHERE data_source_obj_id = ?", int64(ds),
	); err != nil {
		return errors.NewGroupsError(errors.CodeGroupWriteFailed, "sharedb: failed to delete groups for data source", err)
	}

	if err := tx.Commit(); err != nil {
		return errors.NewGroupsError(errors.CodeGroupWriteFailed, "sharedb: failed to commit data-source delete", err)
	}
	return nil
}

// GetVersion reads a mirrored version row. ok is false when the row (or the
// whole table) does not exist yet, which marks a pre-versioning database.
func (s *DB) GetVersion(ctx context.Context, name string) (major, minor int, ok bool, err error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT major, minor FROM image_gallery_db_info WHERE name = ?", name)
	if scanErr := row.Scan(&major, &minor); scanErr != nil {
		if scanErr == sql.ErrNoRows {
			return 0, 0, false, nil
		}
		// A missing table also means pre-versioning, not corruption.
		if !tableExists(ctx, s.db, "image_gallery_db_info") {
			return 0, 0, false, nil
		}
		return 0, 0, false, errors.NewSchemaError(errors.CodeVersionRead, "sharedb: failed to read version "+name, scanErr)
	}
	return major, minor, true, nil
}

// SetVersionTx writes a mirrored version row inside the given transaction.
func (s *DB) SetVersionTx(ctx context.Context, tx *sql.Tx, name string, major, minor int) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO image_gallery_db_info (name, major, minor) VALUES (?, ?, ?)
		 ON CONFLICT (name) DO UPDATE SET major = excluded.major, minor = excluded.minor`,
		name, major, minor,
	)
	if err != nil {
		return errors.NewSchemaError(errors.CodeUpgradeFailed, "sharedb: failed to write version "+name, err)
	}
	return nil
}

// SetVersionOnceTx writes a version row only if absent. Used for the
// creation-version record, which is written once and never updated.
func (s *DB) SetVersionOnceTx(ctx context.Context, tx *sql.Tx, name string, major, minor int) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO image_gallery_db_info (name, major, minor) VALUES (?, ?, ?)
		 ON CONFLICT (name) DO NOTHING`,
		name, major, minor,
	)
	if err != nil {
		return errors.NewSchemaError(errors.CodeUpgradeFailed, "sharedb: failed to write creation version "+name, err)
	}
	return nil
}

func tableExists(ctx context.Context, db *sql.DB, name string) bool {
	var one int
	err := db.QueryRowContext(ctx,
		"SELECT 1 FROM sqlite_master WHERE type = 'table' AND name = ?", name,
	).Scan(&one)
	return err == nil
}
