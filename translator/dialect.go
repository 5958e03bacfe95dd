package translator

import (
	"fmt"
	"strings"
)

// Dialect hides the SQL differences between the supported databases.
type Dialect interface {
	Name() string
	Placeholder(n int) string
	// DistinctFrom compares two expressions treating NULL as a value.
	DistinctFrom(left, right string) string
	// ContainsFold matches a LIKE pattern case insensitively.
	ContainsFold(left, right string) string
	Limit(first *int, offset int) string
	SupportsFunctions() bool
}

// DialectFor returns the dialect of a catalog.
func DialectFor(name string) (Dialect, error) {
	switch name {
	case "postgres":
		return Postgres{}, nil
	case "sqlite":
		return SQLite{}, nil
	}
	return nil, fmt.Errorf("unsupported dialect %q", name)
}

// Postgres numbers its parameters $1, $2...
type Postgres struct{}

func (Postgres) Name() string                    { return "postgres" }
func (Postgres) Placeholder(n int) string        { return fmt.Sprintf("$%d", n) }
func (Postgres) DistinctFrom(l, r string) string { return l + " IS DISTINCT FROM " + r }
func (Postgres) ContainsFold(l, r string) string { return l + " ILIKE " + r }
func (Postgres) SupportsFunctions() bool         { return true }

func (Postgres) Limit(first *int, offset int) string {
	var parts []string
	if first != nil {
		parts = append(parts, fmt.Sprintf("LIMIT %d", *first))
	}
	if offset > 0 {
		parts = append(parts, fmt.Sprintf("OFFSET %d", offset))
	}
	return strings.Join(parts, " ")
}

// SQLite uses ? parameters. Its LIKE already ignores ASCII case.
type SQLite struct{}

func (SQLite) Name() string                    { return "sqlite" }
func (SQLite) Placeholder(int) string          { return "?" }
func (SQLite) DistinctFrom(l, r string) string { return l + " IS NOT " + r }
func (SQLite) ContainsFold(l, r string) string { return l + ` LIKE ` + r + ` ESCAPE '\'` }
func (SQLite) SupportsFunctions() bool         { return false }

func (SQLite) Limit(first *int, offset int) string {
	switch {
	case first != nil && offset > 0:
		return fmt.Sprintf("LIMIT %d OFFSET %d", *first, offset)
	case first != nil:
		return fmt.Sprintf("LIMIT %d", *first)
	case offset > 0:
		return fmt.Sprintf("LIMIT -1 OFFSET %d", offset)
	}
	return ""
}

func quote(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

func qualified(schema, name string) string {
	return quote(schema) + "." + quote(name)
}

// escapeLike escapes the LIKE wildcards of s with a backslash.
func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
