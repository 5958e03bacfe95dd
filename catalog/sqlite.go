package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
)

// SQLite reads the catalog of a SQLite database. The schema name is the
// attached database name, "main" for the primary one. SQLite has no stored
// functions, so snapshots never carry any.
type SQLite struct {
	DB *sql.DB
}

// NewSQLite returns a catalog reading from db.
func NewSQLite(db *sql.DB) *SQLite {
	return &SQLite{DB: db}
}

func (s *SQLite) Dialect() string { return "sqlite" }

func (s *SQLite) Snapshot(ctx context.Context, schema string) (*Snapshot, error) {
	if err := s.schemaExists(ctx, schema); err != nil {
		return nil, err
	}

	q := fmt.Sprintf(`SELECT name FROM %s.sqlite_master WHERE type IN ('table', 'view') AND name NOT LIKE 'sqlite_%%' ORDER BY name`, quoteIdent(schema))
	rows, err := s.DB.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("read tables: %w", err)
	}
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			return nil, err
		}
		names = append(names, name)
	}
	if err := closeRows(rows); err != nil {
		return nil, fmt.Errorf("read tables: %w", err)
	}

	snap := &Snapshot{Schema: schema}
	for _, name := range names {
		t := &Table{Name: name}
		if err := s.columns(ctx, schema, t); err != nil {
			return nil, err
		}
		if err := s.foreignKeys(ctx, schema, t); err != nil {
			return nil, err
		}
		snap.Tables = append(snap.Tables, t)
	}

	// Foreign keys may omit the referenced columns, meaning the primary key.
	for _, t := range snap.Tables {
		for _, fk := range t.ForeignKeys {
			if len(fk.ForeignColumns) > 0 && fk.ForeignColumns[0] != "" {
				continue
			}
			if target := snap.Table(fk.ForeignTable); target != nil {
				fk.ForeignColumns = append([]string(nil), target.PrimaryKey...)
			}
		}
	}
	return snap, nil
}

func (s *SQLite) schemaExists(ctx context.Context, schema string) error {
	rows, err := s.DB.QueryContext(ctx, `PRAGMA database_list`)
	if err != nil {
		return fmt.Errorf("list databases: %w", err)
	}
	found := false
	for rows.Next() {
		var seq int
		var name string
		var file sql.NullString
		if err := rows.Scan(&seq, &name, &file); err != nil {
			rows.Close()
			return err
		}
		if name == schema {
			found = true
		}
	}
	if err := closeRows(rows); err != nil {
		return fmt.Errorf("list databases: %w", err)
	}
	if !found {
		return ErrSchemaNotFound
	}
	return nil
}

func (s *SQLite) columns(ctx context.Context, schema string, t *Table) error {
	rows, err := s.DB.QueryContext(ctx, fmt.Sprintf(`PRAGMA %s.table_info(%s)`, quoteIdent(schema), quoteIdent(t.Name)))
	if err != nil {
		return fmt.Errorf("read columns of %s: %w", t.Name, err)
	}
	type pkColumn struct {
		name  string
		index int
	}
	var pk []pkColumn
	for rows.Next() {
		var cid, notNull, pkIndex int
		var name, typ string
		var dflt sql.NullString
		if err := rows.Scan(&cid, &name, &typ, &notNull, &dflt, &pkIndex); err != nil {
			rows.Close()
			return err
		}
		c := &Column{
			Name:       name,
			Type:       normalizeType(typ),
			NotNull:    notNull == 1,
			HasDefault: dflt.Valid,
			Position:   cid + 1,
		}
		if pkIndex > 0 {
			pk = append(pk, pkColumn{name: name, index: pkIndex})
			c.NotNull = true
		}
		t.Columns = append(t.Columns, c)
	}
	if err := closeRows(rows); err != nil {
		return fmt.Errorf("read columns of %s: %w", t.Name, err)
	}

	sort.Slice(pk, func(i, j int) bool { return pk[i].index < pk[j].index })
	for _, c := range pk {
		t.PrimaryKey = append(t.PrimaryKey, c.name)
	}
	// INTEGER PRIMARY KEY aliases the rowid and is filled in on insert.
	if len(pk) == 1 {
		if c := t.Column(pk[0].name); c.Type == "integer" {
			c.HasDefault = true
		}
	}
	return nil
}

func (s *SQLite) foreignKeys(ctx context.Context, schema string, t *Table) error {
	rows, err := s.DB.QueryContext(ctx, fmt.Sprintf(`PRAGMA %s.foreign_key_list(%s)`, quoteIdent(schema), quoteIdent(t.Name)))
	if err != nil {
		return fmt.Errorf("read foreign keys of %s: %w", t.Name, err)
	}
	byID := make(map[int]*ForeignKey)
	var ids []int
	for rows.Next() {
		var id, seq int
		var table, from string
		var to sql.NullString
		var onUpdate, onDelete, match string
		if err := rows.Scan(&id, &seq, &table, &from, &to, &onUpdate, &onDelete, &match); err != nil {
			rows.Close()
			return err
		}
		fk, ok := byID[id]
		if !ok {
			fk = &ForeignKey{ForeignTable: table}
			byID[id] = fk
			ids = append(ids, id)
		}
		fk.Columns = append(fk.Columns, from)
		fk.ForeignColumns = append(fk.ForeignColumns, to.String)
	}
	if err := closeRows(rows); err != nil {
		return fmt.Errorf("read foreign keys of %s: %w", t.Name, err)
	}

	sort.Ints(ids)
	for _, id := range ids {
		fk := byID[id]
		fk.Name = fmt.Sprintf("%s_%s_fkey", t.Name, strings.Join(fk.Columns, "_"))
		t.ForeignKeys = append(t.ForeignKeys, fk)
	}
	sort.Slice(t.ForeignKeys, func(i, j int) bool { return t.ForeignKeys[i].Name < t.ForeignKeys[j].Name })
	return nil
}

func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}
