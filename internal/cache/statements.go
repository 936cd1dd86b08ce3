package cache

import (
	"context"
	"database/sql"

	"github.com/drawabledb/drawabledb/internal/errors"
	"github.com/drawabledb/drawabledb/pkg/types"
)

// statements holds every prepared statement the cache runs against the
// private store. All of them are prepared up front: a statement that cannot
// be prepared means the schema is wrong, and that must fail construction,
// not the first query hours into an investigation.
type statements struct {
	insertFileIgnore  *sql.Stmt
	insertFileReplace *sql.Stmt
	deleteFile        *sql.Stmt
	deleteFilesForDS  *sql.Stmt

	selectHashSetID *sql.Stmt
	insertHashSet   *sql.Stmt
	insertHashHit   *sql.Stmt
	allHashSetNames *sql.Stmt

	upsertDataSource *sql.Stmt
	selectDataSource *sql.Stmt
	deleteDataSource *sql.Stmt

	allIDs          *sql.Stmt
	idsForDS        *sql.Stmt
	hashSetMembers  *sql.Stmt
	pathByDS        *sql.Stmt
	byAttr          map[types.Attribute]*sql.Stmt
}

// attrColumns maps the groupable physical attributes to their column names.
// hash_set is deliberately absent: it resolves through a join, not a column.
var attrColumns = map[types.Attribute]string{
	types.AttrPath:     "path",
	types.AttrName:     "name",
	types.AttrCreated:  "created_time",
	types.AttrModified: "modified_time",
	types.AttrMake:     "make",
	types.AttrModel:    "model",
	types.AttrAnalyzed: "analyzed",
}

func prepareStatements(ctx context.Context, db *sql.DB) (*statements, error) {
	s := &statements{byAttr: make(map[types.Attribute]*sql.Stmt)}

	prep := func(dst **sql.Stmt, query string) error {
		stmt, err := db.PrepareContext(ctx, query)
		if err != nil {
			s.close()
			return errors.NewStorageError(errors.CodePrepareFailed, "cache: failed to prepare statement", err)
		}
		*dst = stmt
		return nil
	}

	fixed := []struct {
		dst   **sql.Stmt
		query string
	}{
		{&s.insertFileIgnore, `INSERT INTO drawable_files
			(obj_id, data_source_obj_id, path, name, created_time, modified_time, make, model, analyzed)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (obj_id) DO NOTHING`},
		{&s.insertFileReplace, `INSERT INTO drawable_files
			(obj_id, data_source_obj_id, path, name, created_time, modified_time, make, model, analyzed)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (obj_id) DO UPDATE SET
				data_source_obj_id = excluded.data_source_obj_id,
				path = excluded.path,
				name = excluded.name,
				created_time = excluded.created_time,
				modified_time = excluded.modified_time,
				make = excluded.make,
				model = excluded.model,
				analyzed = excluded.analyzed`},
		{&s.deleteFile, `DELETE FROM drawable_files WHERE obj_id = ?`},
		{&s.deleteFilesForDS, `DELETE FROM drawable_files WHERE data_source_obj_id = ?`},

		{&s.selectHashSetID, `SELECT hash_set_id FROM hash_sets WHERE hash_set_name = ?`},
		{&s.insertHashSet, `INSERT INTO hash_sets (hash_set_name) VALUES (?)
			ON CONFLICT (hash_set_name) DO NOTHING`},
		{&s.insertHashHit, `INSERT INTO hash_set_hits (hash_set_id, obj_id) VALUES (?, ?)
			ON CONFLICT (hash_set_id, obj_id) DO NOTHING`},
		{&s.allHashSetNames, `SELECT hash_set_name FROM hash_sets ORDER BY hash_set_name`},

		{&s.upsertDataSource, `INSERT INTO datasources (ds_obj_id, drawable_db_build_status)
			VALUES (?, ?)
			ON CONFLICT (ds_obj_id) DO UPDATE SET drawable_db_build_status = excluded.drawable_db_build_status`},
		{&s.selectDataSource, `SELECT drawable_db_build_status FROM datasources WHERE ds_obj_id = ?`},
		{&s.deleteDataSource, `DELETE FROM datasources WHERE ds_obj_id = ?`},

		{&s.allIDs, `SELECT obj_id FROM drawable_files`},
		{&s.idsForDS, `SELECT obj_id FROM drawable_files WHERE data_source_obj_id = ? ORDER BY obj_id`},
		{&s.hashSetMembers, `SELECT f.obj_id, f.analyzed
			FROM drawable_files f
			JOIN hash_set_hits h ON h.obj_id = f.obj_id
			JOIN hash_sets s ON s.hash_set_id = h.hash_set_id
			WHERE s.hash_set_name = ?
			ORDER BY f.obj_id`},
		{&s.pathByDS, `SELECT obj_id, analyzed FROM drawable_files
			WHERE path = ? AND data_source_obj_id = ? ORDER BY obj_id`},
	}
	for _, f := range fixed {
		if err := prep(f.dst, f.query); err != nil {
			return nil, err
		}
	}

	for attr, col := range attrColumns {
		stmt, err := db.PrepareContext(ctx,
			`SELECT obj_id, analyzed FROM drawable_files WHERE `+col+` = ? ORDER BY obj_id`)
		if err != nil {
			s.close()
			return nil, errors.NewStorageError(errors.CodePrepareFailed,
				"cache: failed to prepare lookup for "+attr.String(), err)
		}
		s.byAttr[attr] = stmt
	}

	return s, nil
}

// lookupStmt returns the prepared lookup for the attribute, or an
// unsupported-attribute error for kinds that are not physical columns.
func (s *statements) lookupStmt(attr types.Attribute) (*sql.Stmt, error) {
	if attr == types.AttrHashSet {
		return s.hashSetMembers, nil
	}
	stmt, ok := s.byAttr[attr]
	if !ok {
		return nil, errors.NewValidationError(errors.CodeUnsupportedAttr,
			"cache: no private lookup for attribute "+attr.String())
	}
	return stmt, nil
}

func (s *statements) close() {
	all := []*sql.Stmt{
		s.insertFileIgnore, s.insertFileReplace, s.deleteFile, s.deleteFilesForDS,
		s.selectHashSetID, s.insertHashSet, s.insertHashHit, s.allHashSetNames,
		s.upsertDataSource, s.selectDataSource, s.deleteDataSource,
		s.allIDs, s.idsForDS, s.hashSetMembers, s.pathByDS,
	}
	for _, st := range all {
		if st != nil {
			st.Close()
		}
	}
	for _, st := range s.byAttr {
		st.Close()
	}
}
