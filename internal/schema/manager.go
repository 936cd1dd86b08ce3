package schema

import (
	"context"
	"database/sql"
	"log/slog"
	"os"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/drawabledb/drawabledb/internal/errors"
	"github.com/drawabledb/drawabledb/internal/sharedb"
)

// Version row names shared by the private and mirrored tables.
const (
	versionRowSchema   = "schema"
	versionRowCreation = "creation_schema"
)

// OpenReport describes what Open did to the cache file.
type OpenReport struct {
	// CreatedNew is true when no usable cache existed and a fresh one was
	// created at CurrentVersion.
	CreatedNew bool
	// Rebuilt is true when an existing file had an unsupported physical
	// shape and was deleted; the caller must re-ingest.
	Rebuilt bool
	// FromVersion is the effective stored version before upgrades ran.
	FromVersion Version
	// ToVersion is the version both stores report after Open.
	ToVersion Version
	// BuildID identifies this cache build generation. It changes whenever
	// the file is created or rebuilt.
	BuildID uuid.UUID
}

// Open opens or creates the private cache file at path, creates the shared
// tables, and runs any applicable upgrade steps against both stores.
//
// The private connection is tuned for throughput over crash-durability
// (synchronous off, journal in memory): the file is fully rebuildable from
// the shared database plus re-ingestion, so losing it is cheap.
func Open(ctx context.Context, path string, shared *sharedb.DB, logger *slog.Logger) (*sql.DB, OpenReport, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var report OpenReport

	_, statErr := os.Stat(path)
	existed := statErr == nil

	db, err := openPrivate(path)
	if err != nil {
		return nil, report, err
	}

	// A file whose physical schema predates the minimum supported shape
	// cannot be upgraded; delete it and force a full rebuild.
	if existed {
		stale, staleErr := hasStaleShape(ctx, db)
		if staleErr != nil {
			db.Close()
			return nil, report, staleErr
		}
		if stale {
			logger.Warn("cache file has unsupported schema shape, deleting for rebuild", "path", path)
			db.Close()
			removeCacheFile(path)
			report.Rebuilt = true
			existed = false
			db, err = openPrivate(path)
			if err != nil {
				return nil, report, err
			}
		}
	}

	hadFiles := existed && tableExists(ctx, db, "drawable_files")

	for _, stmt := range AllSchemaSQL() {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, report, errors.NewStorageError(errors.CodeOpenFailed, "schema: failed to initialize private schema", err)
		}
	}
	if err := shared.CreateTables(ctx); err != nil {
		db.Close()
		return nil, report, err
	}

	if !hadFiles {
		// Fresh database: stamp both stores at the current version.
		report.CreatedNew = true
		report.FromVersion = CurrentVersion
		if err := stampVersions(ctx, db, shared, CurrentVersion); err != nil {
			db.Close()
			return nil, report, err
		}
	} else {
		from, err := effectiveVersion(ctx, db, shared)
		if err != nil {
			db.Close()
			return nil, report, err
		}
		report.FromVersion = from
		if err := runUpgrades(ctx, db, shared, from, logger); err != nil {
			db.Close()
			return nil, report, err
		}
	}
	report.ToVersion = CurrentVersion

	buildID, err := ensureBuildID(ctx, db)
	if err != nil {
		db.Close()
		return nil, report, err
	}
	report.BuildID = buildID

	return db, report, nil
}

// openPrivate opens the single write connection with throughput pragmas.
func openPrivate(path string) (*sql.DB, error) {
	dsn := "file:" + path + "?_foreign_keys=on&_busy_timeout=5000&_journal_mode=MEMORY&_synchronous=OFF"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errors.NewStorageError(errors.CodeOpenFailed, "schema: failed to open cache file", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	return db, nil
}

// hasStaleShape reports whether drawable_files exists but is missing a
// required column.
func hasStaleShape(ctx context.Context, db *sql.DB) (bool, error) {
	if !tableExists(ctx, db, "drawable_files") {
		return false, nil
	}
	for _, col := range requiredFileColumns {
		var n int
		err := db.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM pragma_table_info('drawable_files') WHERE name = ?", col,
		).Scan(&n)
		if err != nil {
			return false, errors.NewSchemaError(errors.CodeStaleSchema, "schema: failed to inspect cache shape", err)
		}
		if n == 0 {
			return true, nil
		}
	}
	return false, nil
}

func removeCacheFile(path string) {
	os.Remove(path)
	os.Remove(path + "-wal")
	os.Remove(path + "-shm")
}

func tableExists(ctx context.Context, db *sql.DB, name string) bool {
	var one int
	err := db.QueryRowContext(ctx,
		"SELECT 1 FROM sqlite_master WHERE type = 'table' AND name = ?", name,
	).Scan(&one)
	return err == nil
}

// effectiveVersion reads the stored version from both stores and returns
// the minimum. The two may differ transiently after a partial upgrade; the
// idempotent steps are simply re-run from the lagging version.
func effectiveVersion(ctx context.Context, db *sql.DB, shared *sharedb.DB) (Version, error) {
	priv, privOK, err := getPrivateVersion(ctx, db, versionRowSchema)
	if err != nil {
		return Version{}, err
	}
	sharedMajor, sharedMinor, sharedOK, err := shared.GetVersion(ctx, versionRowSchema)
	if err != nil {
		return Version{}, err
	}

	if !privOK && !sharedOK {
		// Pre-versioning database: record the synthetic starting version.
		return StartingVersion, nil
	}
	if !privOK {
		priv = StartingVersion
	}
	shr := Version{Major: sharedMajor, Minor: sharedMinor}
	if !sharedOK {
		shr = StartingVersion
	}
	return minVersion(priv, shr), nil
}

// runUpgrades applies every step whose target version follows the effective
// stored version. Each step runs in one private transaction and one shared
// transaction; both commit or both roll back. The private store commits
// first; a crash between the two commits leaves the stores at different
// versions, which effectiveVersion resolves by re-running from the minimum.
func runUpgrades(ctx context.Context, db *sql.DB, shared *sharedb.DB, from Version, logger *slog.Logger) error {
	current := from
	for _, step := range upgradeSteps {
		if !current.Less(step.to) {
			continue
		}
		logger.Info("running schema upgrade step",
			"step", step.name, "from", step.from.String(), "to", step.to.String())

		privTx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return errors.NewSchemaError(errors.CodeUpgradeFailed, "schema: failed to begin private upgrade tx", err)
		}
		sharedTx, err := shared.Handle().BeginTx(ctx, nil)
		if err != nil {
			privTx.Rollback()
			return errors.NewSchemaError(errors.CodeUpgradeFailed, "schema: failed to begin shared upgrade tx", err)
		}

		if err := step.run(ctx, privTx, sharedTx); err != nil {
			privTx.Rollback()
			sharedTx.Rollback()
			return errors.NewSchemaError(errors.CodeUpgradeFailed, "schema: upgrade step failed: "+step.name, err)
		}
		if err := setPrivateVersionTx(ctx, privTx, versionRowSchema, step.to); err != nil {
			privTx.Rollback()
			sharedTx.Rollback()
			return err
		}
		if err := shared.SetVersionTx(ctx, sharedTx, versionRowSchema, step.to.Major, step.to.Minor); err != nil {
			privTx.Rollback()
			sharedTx.Rollback()
			return err
		}

		if err := privTx.Commit(); err != nil {
			sharedTx.Rollback()
			return errors.NewSchemaError(errors.CodeUpgradeFailed, "schema: failed to commit private upgrade", err)
		}
		if err := sharedTx.Commit(); err != nil {
			// Private already committed: versions now diverge until the next
			// open re-runs this idempotent step.
			return errors.NewSchemaError(errors.CodeUpgradeFailed, "schema: failed to commit shared upgrade", err)
		}
		current = step.to
	}

	// Make sure the creation version exists for databases upgraded from the
	// pre-versioning era.
	return stampCreationVersions(ctx, db, shared, from)
}

// stampVersions writes schema and creation versions to both stores for a
// freshly created database.
func stampVersions(ctx context.Context, db *sql.DB, shared *sharedb.DB, v Version) error {
	privTx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return errors.NewSchemaError(errors.CodeUpgradeFailed, "schema: failed to begin version stamp", err)
	}
	if err := setPrivateVersionTx(ctx, privTx, versionRowSchema, v); err != nil {
		privTx.Rollback()
		return err
	}
	if err := setPrivateVersionOnceTx(ctx, privTx, versionRowCreation, v); err != nil {
		privTx.Rollback()
		return err
	}
	if err := privTx.Commit(); err != nil {
		return errors.NewSchemaError(errors.CodeUpgradeFailed, "schema: failed to commit version stamp", err)
	}

	sharedTx, err := shared.Handle().BeginTx(ctx, nil)
	if err != nil {
		return errors.NewSchemaError(errors.CodeUpgradeFailed, "schema: failed to begin shared version stamp", err)
	}
	if err := shared.SetVersionTx(ctx, sharedTx, versionRowSchema, v.Major, v.Minor); err != nil {
		sharedTx.Rollback()
		return err
	}
	if err := shared.SetVersionOnceTx(ctx, sharedTx, versionRowCreation, v.Major, v.Minor); err != nil {
		sharedTx.Rollback()
		return err
	}
	if err := sharedTx.Commit(); err != nil {
		return errors.NewSchemaError(errors.CodeUpgradeFailed, "schema: failed to commit shared version stamp", err)
	}
	return nil
}

// stampCreationVersions records the creation version if absent, using the
// pre-upgrade version: an upgraded database was created at whatever version
// it was first observed at, never at the current one.
func stampCreationVersions(ctx context.Context, db *sql.DB, shared *sharedb.DB, created Version) error {
	privTx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return errors.NewSchemaError(errors.CodeUpgradeFailed, "schema: failed to begin creation stamp", err)
	}
	if err := setPrivateVersionOnceTx(ctx, privTx, versionRowCreation, created); err != nil {
		privTx.Rollback()
		return err
	}
	if err := privTx.Commit(); err != nil {
		return errors.NewSchemaError(errors.CodeUpgradeFailed, "schema: failed to commit creation stamp", err)
	}

	sharedTx, err := shared.Handle().BeginTx(ctx, nil)
	if err != nil {
		return errors.NewSchemaError(errors.CodeUpgradeFailed, "schema: failed to begin shared creation stamp", err)
	}
	if err := shared.SetVersionOnceTx(ctx, sharedTx, versionRowCreation, created.Major, created.Minor); err != nil {
		sharedTx.Rollback()
		return err
	}
	if err := sharedTx.Commit(); err != nil {
		return errors.NewSchemaError(errors.CodeUpgradeFailed, "schema: failed to commit shared creation stamp", err)
	}
	return nil
}

// getPrivateVersion reads a version row. ok is false when the row is absent.
func getPrivateVersion(ctx context.Context, db *sql.DB, name string) (Version, bool, error) {
	var v Version
	err := db.QueryRowContext(ctx,
		"SELECT major, minor FROM version_info WHERE name = ?", name,
	).Scan(&v.Major, &v.Minor)
	if err == sql.ErrNoRows {
		return Version{}, false, nil
	}
	if err != nil {
		return Version{}, false, errors.NewSchemaError(errors.CodeVersionRead, "schema: failed to read private version "+name, err)
	}
	return v, true, nil
}

// GetVersions returns the private store's schema and creation versions.
func GetVersions(ctx context.Context, db *sql.DB) (schemaV, creationV Version, err error) {
	schemaV, _, err = getPrivateVersion(ctx, db, versionRowSchema)
	if err != nil {
		return
	}
	creationV, _, err = getPrivateVersion(ctx, db, versionRowCreation)
	return
}

func setPrivateVersionTx(ctx context.Context, tx *sql.Tx, name string, v Version) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO version_info (name, major, minor) VALUES (?, ?, ?)
		 ON CONFLICT (name) DO UPDATE SET major = excluded.major, minor = excluded.minor`,
		name, v.Major, v.Minor,
	)
	if err != nil {
		return errors.NewSchemaError(errors.CodeUpgradeFailed, "schema: failed to write private version "+name, err)
	}
	return nil
}

func setPrivateVersionOnceTx(ctx context.Context, tx *sql.Tx, name string, v Version) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO version_info (name, major, minor) VALUES (?, ?, ?)
		 ON CONFLICT (name) DO NOTHING`,
		name, v.Major, v.Minor,
	)
	if err != nil {
		return errors.NewSchemaError(errors.CodeUpgradeFailed, "schema: failed to write private creation version "+name, err)
	}
	return nil
}

// ensureBuildID reads the build token, generating and storing one if the
// file has none yet. A rebuilt cache therefore gets a fresh token.
func ensureBuildID(ctx context.Context, db *sql.DB) (uuid.UUID, error) {
	id := uuid.New()
	_, err := db.ExecContext(ctx,
		"INSERT INTO db_info (name, value) VALUES ('build_id', ?) ON CONFLICT (name) DO NOTHING",
		id.String(),
	)
	if err != nil {
		return uuid.Nil, errors.NewStorageError(errors.CodeWriteFailed, "schema: failed to write build id", err)
	}
	var stored string
	if err := db.QueryRowContext(ctx,
		"SELECT value FROM db_info WHERE name = 'build_id'",
	).Scan(&stored); err != nil {
		return uuid.Nil, errors.NewStorageError(errors.CodeQueryFailed, "schema: failed to read build id", err)
	}
	parsed, err := uuid.Parse(stored)
	if err != nil {
		return uuid.Nil, errors.NewInternalError("schema: corrupt build id", err)
	}
	return parsed, nil
}
