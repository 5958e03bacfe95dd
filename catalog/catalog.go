// Package catalog reads the tables, columns, keys and functions of a database
// schema.
package catalog

import (
	"context"
	"errors"
	"strings"
)

// ErrSchemaNotFound is returned by Snapshot when the schema does not exist.
var ErrSchemaNotFound = errors.New("schema not found")

// Catalog reads a snapshot of one schema.
type Catalog interface {
	Snapshot(ctx context.Context, schema string) (*Snapshot, error)
	// Dialect names the SQL dialect of the database, "postgres" or "sqlite".
	Dialect() string
}

// Snapshot is the reflected content of a schema. Tables and functions are
// sorted by name, columns by position.
type Snapshot struct {
	Schema    string
	Tables    []*Table
	Functions []*Function
}

// Table returns the table with the given name or nil.
func (s *Snapshot) Table(name string) *Table {
	for _, t := range s.Tables {
		if t.Name == name {
			return t
		}
	}
	return nil
}

type Table struct {
	Name        string
	Comment     string
	Columns     []*Column
	PrimaryKey  []string
	ForeignKeys []*ForeignKey
}

// Column returns the column with the given name or nil.
func (t *Table) Column(name string) *Column {
	for _, c := range t.Columns {
		if c.Name == name {
			return c
		}
	}
	return nil
}

type Column struct {
	Name       string
	Type       string
	NotNull    bool
	HasDefault bool
	Comment    string
	Position   int
}

// ForeignKey references ForeignColumns of ForeignTable from Columns of the
// owning table.
type ForeignKey struct {
	Name           string
	Columns        []string
	ForeignTable   string
	ForeignColumns []string
}

// Volatility of a database function.
type Volatility string

const (
	Volatile  Volatility = "volatile"
	Stable    Volatility = "stable"
	Immutable Volatility = "immutable"
)

type Function struct {
	Name       string
	Comment    string
	Volatility Volatility
	Args       []*Argument
	// ReturnType is a column type name, or a table name when ReturnsTable is
	// set.
	ReturnType   string
	ReturnsTable bool
	ReturnsSet   bool
}

type Argument struct {
	Name string
	Type string
}

// normalizeType lowercases a declared column type and strips its modifiers,
// "VARCHAR(20)" becomes "varchar".
func normalizeType(t string) string {
	t = strings.ToLower(strings.TrimSpace(t))
	if i := strings.IndexByte(t, '('); i >= 0 {
		t = strings.TrimSpace(t[:i])
	}
	return t
}
