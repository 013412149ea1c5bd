package migrate

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

var (
	nameSanitizeRe = regexp.MustCompile(`[^a-z0-9_]+`)
)

const migrationTemplate = `-- +goose Up
-- +goose StatementBegin
-- %s
-- +goose StatementEnd

-- +goose Down
-- +goose StatementBegin
-- rollback %s
-- +goose StatementEnd
`

// CreateSQLMigration writes a goose migration pair sharing one version:
//
//	<dir>/<YYYYMMDDHHMMSS>_<name>.sql
//	<dir>/sqlite/<YYYYMMDDHHMMSS>_<name>.sql
//
// It returns the postgres path first.
func CreateSQLMigration(dir string, name string) ([]string, error) {
	return createSQLMigration(dir, name, time.Now().UTC())
}

func createSQLMigration(dir, name string, now time.Time) ([]string, error) {
	if dir == "" {
		return nil, fmt.Errorf("dir is required")
	}
	if name == "" {
		return nil, fmt.Errorf("name is required")
	}

	safe := strings.ToLower(strings.TrimSpace(name))
	safe = strings.ReplaceAll(safe, " ", "_")
	safe = nameSanitizeRe.ReplaceAllString(safe, "_")
	safe = strings.Trim(safe, "_")
	if safe == "" {
		return nil, fmt.Errorf("name %q results in empty sanitized filename", name)
	}

	filename := fmt.Sprintf("%s_%s.sql", now.Format("20060102150405"), safe)
	paths := []string{
		filepath.Join(dir, filename),
		filepath.Join(dir, sqliteSubdir, filename),
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return nil, fmt.Errorf("migration already exists: %s", p)
		}
	}

	body := fmt.Sprintf(migrationTemplate, safe, safe)
	for _, p := range paths {
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			return nil, fmt.Errorf("mkdir %q: %w", filepath.Dir(p), err)
		}
		if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
			return nil, fmt.Errorf("write migration %q: %w", p, err)
		}
	}
	return paths, nil
}
