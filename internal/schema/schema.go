// Package schema creates and upgrades the drawable cache schema, in both
// the private cache file and its mirrored tables in the shared case
// database. Versions are tracked as independent (major, minor) pairs per
// store, plus a creation version recorded once and never updated.
package schema

// CreateDrawableFilesTableSQL creates the core entity table. obj_id is the
// case-database object id, never reused.
const CreateDrawableFilesTableSQL = `
CREATE TABLE IF NOT EXISTS drawable_files (
    obj_id INTEGER PRIMARY KEY,
    data_source_obj_id INTEGER NOT NULL,
    path TEXT NOT NULL,
    name TEXT NOT NULL,
    created_time INTEGER NOT NULL DEFAULT 0,
    modified_time INTEGER NOT NULL DEFAULT 0,
    make TEXT NOT NULL DEFAULT '',
    model TEXT NOT NULL DEFAULT '',
    analyzed INTEGER NOT NULL DEFAULT 0
)`

// CreateDrawableFilesIndexesSQL creates the lookup indexes backing the
// per-attribute group queries.
var CreateDrawableFilesIndexesSQL = []string{
	`CREATE INDEX IF NOT EXISTS idx_files_path ON drawable_files(path)`,
	`CREATE INDEX IF NOT EXISTS idx_files_ds_path ON drawable_files(data_source_obj_id, path)`,
	`CREATE INDEX IF NOT EXISTS idx_files_name ON drawable_files(name)`,
	`CREATE INDEX IF NOT EXISTS idx_files_make ON drawable_files(make)`,
	`CREATE INDEX IF NOT EXISTS idx_files_model ON drawable_files(model)`,
	`CREATE INDEX IF NOT EXISTS idx_files_analyzed ON drawable_files(analyzed)`,
}

// CreateHashSetsTableSQL creates the named hash-set table.
const CreateHashSetsTableSQL = `
CREATE TABLE IF NOT EXISTS hash_sets (
    hash_set_id INTEGER PRIMARY KEY AUTOINCREMENT,
    hash_set_name TEXT NOT NULL UNIQUE
)`

// CreateHashSetHitsTableSQL creates the file/hash-set association. Hits are
// append-only until the owning file row is removed.
const CreateHashSetHitsTableSQL = `
CREATE TABLE IF NOT EXISTS hash_set_hits (
    hash_set_id INTEGER NOT NULL REFERENCES hash_sets(hash_set_id),
    obj_id INTEGER NOT NULL REFERENCES drawable_files(obj_id) ON DELETE CASCADE,
    PRIMARY KEY (hash_set_id, obj_id)
)`

// CreateDataSourcesTableSQL tracks per-data-source cache build status.
const CreateDataSourcesTableSQL = `
CREATE TABLE IF NOT EXISTS datasources (
    ds_obj_id INTEGER PRIMARY KEY,
    drawable_db_build_status INTEGER NOT NULL DEFAULT 0
)`

// CreateVersionInfoTableSQL holds the private store's version rows: one row
// named 'schema' (advanced by upgrades) and one named 'creation_schema'
// (written once at creation).
const CreateVersionInfoTableSQL = `
CREATE TABLE IF NOT EXISTS version_info (
    name TEXT PRIMARY KEY,
    major INTEGER NOT NULL,
    minor INTEGER NOT NULL
)`

// CreateDBInfoTableSQL holds free-form metadata, currently only the build
// token identifying the cache build generation.
const CreateDBInfoTableSQL = `
CREATE TABLE IF NOT EXISTS db_info (
    name TEXT PRIMARY KEY,
    value TEXT NOT NULL
)`

// requiredFileColumns is the minimum physical shape of drawable_files. A
// cache file missing any of these predates every supported upgrade path and
// is deleted for a full rebuild instead.
var requiredFileColumns = []string{
	"obj_id", "data_source_obj_id", "path", "name", "analyzed",
}

// AllSchemaSQL returns every statement needed to initialize the private
// cache file.
func AllSchemaSQL() []string {
	stmts := []string{
		CreateDrawableFilesTableSQL,
		CreateHashSetsTableSQL,
		CreateHashSetHitsTableSQL,
		CreateDataSourcesTableSQL,
		CreateVersionInfoTableSQL,
		CreateDBInfoTableSQL,
	}
	stmts = append(stmts, CreateDrawableFilesIndexesSQL...)
	return stmts
}
