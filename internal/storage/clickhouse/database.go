package clickhouse

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// DefaultDatabase is used when neither the config nor the DSN names one.
const DefaultDatabase = "default"

var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ResolveDatabase picks the history database: an explicit name wins, then
// the DSN path, then DefaultDatabase. The name is interpolated into DDL,
// so only plain identifiers are accepted.
func ResolveDatabase(dsn, database string) (string, error) {
	name := database
	if name == "" {
		u, err := url.Parse(dsn)
		if err != nil {
			return "", fmt.Errorf("parse clickhouse dsn: %w", err)
		}
		name = strings.TrimPrefix(u.Path, "/")
	}
	if name == "" {
		name = DefaultDatabase
	}
	if !identPattern.MatchString(name) {
		return "", fmt.Errorf("clickhouse database %q is not a plain identifier", name)
	}
	return name, nil
}
