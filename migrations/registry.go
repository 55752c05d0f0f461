package migrations

import (
	"context"
	"fmt"
	"io/fs"
	"slices"
	"sort"
	"strings"

	collab "github.com/goliatone/go-collab"
)

const (
	DialectPostgres = "postgres"
	DialectSQLite   = "sqlite"

	// SourceLabel identifies the token store schema in a shared migration
	// history.
	SourceLabel = "go-collab"

	embeddedRoot = "data/sql/migrations"
)

// Migration pairs the up and down files of one schema version.
type Migration struct {
	Version string
	Name    string
	Up      string
	Down    string
}

// Set is the migration tree of one dialect.
type Set struct {
	Dialect    string
	Path       string
	FS         fs.FS
	Migrations []Migration
}

// Versions lists the set's versions in apply order.
func (s Set) Versions() []string {
	out := make([]string, 0, len(s.Migrations))
	for _, migration := range s.Migrations {
		out = append(out, migration.Version)
	}
	return out
}

type RegisterFunc func(ctx context.Context, dialect string, sourceLabel string, fsys fs.FS) error

// Sets resolves the postgres tree at the root of the migration directory
// and the sqlite tree under sqlite/. A nil source uses the embedded
// migrations. Both dialects must carry the same versions.
func Sets(source fs.FS) ([]Set, error) {
	if source == nil {
		source = collab.GetMigrationsFS()
	}
	base, basePath, err := migrationsRoot(source)
	if err != nil {
		return nil, err
	}
	sqliteFS, err := fs.Sub(base, "sqlite")
	if err != nil {
		return nil, fmt.Errorf("migrations: resolve sqlite tree: %w", err)
	}

	postgres, err := readSet(DialectPostgres, basePath, base)
	if err != nil {
		return nil, err
	}
	sqlite, err := readSet(DialectSQLite, pathJoin(basePath, "sqlite"), sqliteFS)
	if err != nil {
		return nil, err
	}
	if !slices.Equal(postgres.Versions(), sqlite.Versions()) {
		return nil, fmt.Errorf("migrations: postgres versions %v differ from sqlite versions %v",
			postgres.Versions(), sqlite.Versions())
	}
	return []Set{postgres, sqlite}, nil
}

// SetFor returns the embedded set of dialect.
func SetFor(dialect string) (Set, error) {
	dialect = normalizeDialect(dialect)
	sets, err := Sets(nil)
	if err != nil {
		return Set{}, err
	}
	for _, set := range sets {
		if set.Dialect == dialect {
			return set, nil
		}
	}
	return Set{}, fmt.Errorf("migrations: unsupported dialect %q", dialect)
}

// Register hands the embedded set of each requested dialect to registerFn.
// No dialects means every dialect.
func Register(ctx context.Context, registerFn RegisterFunc, dialects ...string) ([]Set, error) {
	if registerFn == nil {
		return nil, fmt.Errorf("migrations: register function is required")
	}
	sets, err := Sets(nil)
	if err != nil {
		return nil, err
	}
	wanted := map[string]bool{}
	for _, dialect := range dialects {
		if dialect = normalizeDialect(dialect); dialect != "" {
			wanted[dialect] = true
		}
	}

	registered := make([]Set, 0, len(sets))
	for _, set := range sets {
		if len(wanted) > 0 && !wanted[set.Dialect] {
			continue
		}
		if err := registerFn(ctx, set.Dialect, SourceLabel, set.FS); err != nil {
			return registered, fmt.Errorf("migrations: register %s (%s): %w", set.Dialect, set.Path, err)
		}
		registered = append(registered, set)
	}
	if len(registered) == 0 {
		return nil, fmt.Errorf("migrations: no set matches dialects %v", dialects)
	}
	return registered, nil
}

func readSet(dialect string, path string, fsys fs.FS) (Set, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return Set{}, fmt.Errorf("migrations: read %s tree %q: %w", dialect, path, err)
	}
	byVersion := map[string]*Migration{}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		version, name, direction, ok := parseFileName(entry.Name())
		if !ok {
			continue
		}
		migration := byVersion[version]
		if migration == nil {
			migration = &Migration{Version: version, Name: name}
			byVersion[version] = migration
		}
		if migration.Name != name {
			return Set{}, fmt.Errorf("migrations: %s version %s has files named %q and %q", dialect, version, migration.Name, name)
		}
		if direction == "up" {
			migration.Up = entry.Name()
		} else {
			migration.Down = entry.Name()
		}
	}
	if len(byVersion) == 0 {
		return Set{}, fmt.Errorf("migrations: %s tree %q has no *.up.sql files", dialect, path)
	}

	set := Set{Dialect: dialect, Path: path, FS: fsys}
	for _, migration := range byVersion {
		if migration.Up == "" || migration.Down == "" {
			return Set{}, fmt.Errorf("migrations: %s version %s needs both up and down files", dialect, migration.Version)
		}
		set.Migrations = append(set.Migrations, *migration)
	}
	sort.Slice(set.Migrations, func(i, j int) bool {
		return set.Migrations[i].Version < set.Migrations[j].Version
	})
	return set, nil
}

// parseFileName splits "<version>_<name>.<up|down>.sql".
func parseFileName(fileName string) (version string, name string, direction string, ok bool) {
	stem, found := strings.CutSuffix(fileName, ".sql")
	if !found {
		return "", "", "", false
	}
	switch {
	case strings.HasSuffix(stem, ".up"):
		direction = "up"
	case strings.HasSuffix(stem, ".down"):
		direction = "down"
	default:
		return "", "", "", false
	}
	stem = strings.TrimSuffix(stem, "."+direction)
	version, name, found = strings.Cut(stem, "_")
	if !found || version == "" || name == "" {
		return "", "", "", false
	}
	for _, r := range version {
		if r < '0' || r > '9' {
			return "", "", "", false
		}
	}
	return version, name, direction, true
}

func migrationsRoot(source fs.FS) (fs.FS, string, error) {
	if info, err := fs.Stat(source, embeddedRoot); err == nil && info.IsDir() {
		sub, subErr := fs.Sub(source, embeddedRoot)
		if subErr != nil {
			return nil, "", fmt.Errorf("migrations: resolve root: %w", subErr)
		}
		return sub, embeddedRoot, nil
	}
	if matches, err := fs.Glob(source, "*.up.sql"); err == nil && len(matches) > 0 {
		return source, ".", nil
	}
	return nil, "", fmt.Errorf("migrations: %s not found: %w", embeddedRoot, fs.ErrNotExist)
}

func normalizeDialect(dialect string) string {
	dialect = strings.TrimSpace(strings.ToLower(dialect))
	if dialect == "postgresql" || dialect == "pg" {
		return DialectPostgres
	}
	return dialect
}

func pathJoin(base string, suffix string) string {
	if base == "." {
		return suffix
	}
	return strings.TrimSuffix(base, "/") + "/" + strings.TrimPrefix(suffix, "/")
}
