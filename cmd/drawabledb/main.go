// Package main implements the drawabledb binary: a maintenance tool that
// opens (creating or upgrading) a case's private drawable cache and reports
// on it. The full cache API is driven by the host application; this tool
// covers the operational side: inspection, schema upgrades and metrics.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/joho/godotenv"
	_ "github.com/mattn/go-sqlite3"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/drawabledb/drawabledb/internal/cache"
	"github.com/drawabledb/drawabledb/internal/config"
	"github.com/drawabledb/drawabledb/internal/schema"
	"github.com/drawabledb/drawabledb/internal/sharedb"
	"github.com/drawabledb/drawabledb/pkg/types"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	var (
		configFile  string
		caseDir     string
		caseDBPath  string
		examinerID  int64
		metricsAddr string
		logLevel    string
		showVersion bool
	)

	flag.StringVar(&configFile, "config", "", "Path to configuration file (YAML or JSON)")
	flag.StringVar(&caseDir, "case-dir", "", "Case directory holding the private cache file")
	flag.StringVar(&caseDBPath, "case-db", "", "Path to the shared case database")
	flag.Int64Var(&examinerID, "examiner", 0, "Examiner id for seen-state rows")
	flag.StringVar(&metricsAddr, "metrics-addr", "", "Prometheus metrics listen address (empty disables)")
	flag.StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")
	flag.BoolVar(&showVersion, "version", false, "Show version information")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "drawabledb - drawable metadata cache maintenance\n\n")
		fmt.Fprintf(os.Stderr, "Usage: drawabledb [options] <command>\n\n")
		fmt.Fprintf(os.Stderr, "Commands:\n")
		fmt.Fprintf(os.Stderr, "  info     Open the cache (upgrading if needed) and print its state\n")
		fmt.Fprintf(os.Stderr, "  check    Verify schema versions without modifying anything\n")
		fmt.Fprintf(os.Stderr, "  rebuild  Delete the private cache file and recreate it empty\n")
		fmt.Fprintf(os.Stderr, "\nOptions:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  drawabledb --case-dir /cases/alpha info\n")
		fmt.Fprintf(os.Stderr, "  drawabledb --config /etc/drawabledb.yaml check\n")
		fmt.Fprintf(os.Stderr, "\nEnvironment Variables:\n")
		fmt.Fprintf(os.Stderr, "  DRAWABLEDB_CASE_DIR       Case directory\n")
		fmt.Fprintf(os.Stderr, "  DRAWABLEDB_CASE_DB_PATH   Shared case database path\n")
		fmt.Fprintf(os.Stderr, "  DRAWABLEDB_EXAMINER_ID    Examiner id\n")
		fmt.Fprintf(os.Stderr, "  DRAWABLEDB_LOG_LEVEL      Log level\n")
	}

	flag.Parse()

	if showVersion {
		fmt.Printf("drawabledb version %s (commit: %s)\n", version, commit)
		os.Exit(0)
	}

	command := flag.Arg(0)
	if command == "" {
		flag.Usage()
		os.Exit(2)
	}

	// A .env file is optional; absence is not an error.
	godotenv.Load()

	cfg, err := loadConfig(configFile, caseDir, caseDBPath, examinerID, metricsAddr, logLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "drawabledb: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	if cfg.MetricsAddr != "" {
		go serveMetrics(cfg.MetricsAddr, logger)
	}

	ctx := context.Background()
	var runErr error
	switch command {
	case "info":
		runErr = runInfo(ctx, cfg, logger)
	case "check":
		runErr = runCheck(ctx, cfg)
	case "rebuild":
		runErr = runRebuild(ctx, cfg, logger)
	default:
		fmt.Fprintf(os.Stderr, "drawabledb: unknown command %q\n", command)
		flag.Usage()
		os.Exit(2)
	}
	if runErr != nil {
		logger.Error("command failed", "command", command, "error", runErr)
		os.Exit(1)
	}
}

func loadConfig(configFile, caseDir, caseDBPath string, examinerID int64, metricsAddr, logLevel string) (*config.Config, error) {
	cfg := config.DefaultConfig()
	if configFile != "" {
		loaded, err := config.LoadFromFile(configFile)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	config.LoadFromEnv(cfg)

	// Flags win over file and environment.
	if caseDir != "" {
		cfg.CaseDir = caseDir
	}
	if caseDBPath != "" {
		cfg.CaseDBPath = caseDBPath
	}
	if examinerID != 0 {
		cfg.ExaminerID = examinerID
	}
	if metricsAddr != "" {
		cfg.MetricsAddr = metricsAddr
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}

	cfg.Resolve()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newLogger(level string) *slog.Logger {
	var l slog.Level
	switch level {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l}))
}

func serveMetrics(addr string, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	logger.Info("serving metrics", "addr", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Error("metrics server stopped", "error", err)
	}
}

func openShared(cfg *config.Config, logger *slog.Logger) (*sql.DB, *sharedb.DB, error) {
	raw, err := sql.Open("sqlite3", "file:"+cfg.CaseDBPath+"?_busy_timeout=5000")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open case database: %w", err)
	}
	return raw, sharedb.New(raw, logger), nil
}

// runInfo opens the cache, which creates or upgrades it as needed, and
// prints the resulting state.
func runInfo(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}
	raw, shared, err := openShared(cfg, logger)
	if err != nil {
		return err
	}
	defer raw.Close()

	c, err := cache.New(ctx, cache.Options{
		Path:           cfg.CachePath(),
		GroupCacheTTL:  cfg.Caches.GroupTTL,
		SeenCacheTTL:   cfg.Caches.SeenTTL,
		GroupCacheSize: cfg.Caches.GroupSize,
		SeenCacheSize:  cfg.Caches.SeenSize,
		VideoCacheSize: cfg.Caches.VideoSize,
	}, shared, emptySource{}, nil, logger)
	if err != nil {
		return err
	}
	defer c.Close()

	report := c.Report()
	fmt.Printf("cache:        %s\n", cfg.CachePath())
	fmt.Printf("case db:      %s\n", cfg.CaseDBPath)
	fmt.Printf("created:      %v\n", report.CreatedNew)
	fmt.Printf("rebuilt:      %v\n", report.Rebuilt)
	fmt.Printf("schema:       %s (from %s)\n", report.ToVersion, report.FromVersion)
	fmt.Printf("build id:     %s\n", report.BuildID)
	fmt.Printf("cached files: %d\n", c.CountAllFiles())
	return nil
}

// runRebuild deletes the private cache file and recreates it empty at the
// current schema version. The cache is an optimization layer; its contents
// come back through re-ingestion.
func runRebuild(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	path := cfg.CachePath()
	for _, p := range []string{path, path + "-wal", path + "-shm"} {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to delete %s: %w", p, err)
		}
	}
	logger.Info("deleted private cache file", "path", path)
	return runInfo(ctx, cfg, logger)
}

// runCheck reads versions from both stores without opening the cache, so a
// stale or half-upgraded pair can be detected before committing to anything.
func runCheck(ctx context.Context, cfg *config.Config) error {
	raw, shared, err := openShared(cfg, nil)
	if err != nil {
		return err
	}
	defer raw.Close()

	priv, err := sql.Open("sqlite3", "file:"+cfg.CachePath()+"?mode=ro")
	if err != nil {
		return fmt.Errorf("failed to open private cache: %w", err)
	}
	defer priv.Close()

	schemaV, creationV, err := schema.GetVersions(ctx, priv)
	if err != nil {
		return err
	}
	fmt.Printf("private schema:   %s\n", schemaV)
	fmt.Printf("private creation: %s\n", creationV)

	major, minor, ok, err := shared.GetVersion(ctx, "schema")
	if err != nil {
		return err
	}
	if !ok {
		fmt.Println("shared schema:    (pre-versioning)")
	} else {
		fmt.Printf("shared schema:    %s\n", schema.Version{Major: major, Minor: minor})
	}

	effective := schemaV
	if ok && (schema.Version{Major: major, Minor: minor}).Less(effective) {
		effective = schema.Version{Major: major, Minor: minor}
	}
	if effective.Less(schema.CurrentVersion) {
		fmt.Printf("upgrade needed:   %s -> %s\n", effective, schema.CurrentVersion)
	} else {
		fmt.Println("up to date")
	}
	return nil
}

// emptySource satisfies the case-source dependency for standalone
// inspection. The maintenance tool never resolves tags or hash hits.
type emptySource struct{}

func (emptySource) FileIDsWithTags(context.Context) ([]types.FileID, error)     { return nil, nil }
func (emptySource) FileIDsWithHashHits(context.Context) ([]types.FileID, error) { return nil, nil }
func (emptySource) FileIDsWithExif(context.Context) ([]types.FileID, error)     { return nil, nil }
func (emptySource) HashSetsForFile(context.Context, types.FileID) ([]string, error) {
	return nil, nil
}
func (emptySource) IDsWithTagValue(context.Context, string) ([]types.FileID, error) {
	return nil, nil
}
func (emptySource) IDsInCategory(context.Context, types.Category) ([]types.FileID, error) {
	return nil, nil
}
func (emptySource) IDsWithMimeType(context.Context, string) ([]types.FileID, error) {
	return nil, nil
}
