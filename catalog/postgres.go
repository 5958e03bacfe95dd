package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"sort"

	"github.com/lib/pq"
)

// Postgres reads the catalog of a PostgreSQL database through
// information_schema and pg_catalog.
type Postgres struct {
	DB *sql.DB
}

// NewPostgres returns a catalog reading from db.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{DB: db}
}

func (p *Postgres) Dialect() string { return "postgres" }

const pgSchemaExists = `SELECT EXISTS (SELECT 1 FROM pg_namespace WHERE nspname = $1)`

const pgTables = `
SELECT c.relname, coalesce(obj_description(c.oid, 'pg_class'), '')
FROM pg_class c
JOIN pg_namespace n ON n.oid = c.relnamespace
WHERE n.nspname = $1 AND c.relkind IN ('r', 'v', 'm', 'p')
ORDER BY c.relname`

const pgColumns = `
SELECT c.relname, a.attname, t.typname, a.attnotnull, a.atthasdef,
       coalesce(col_description(c.oid, a.attnum), ''), a.attnum
FROM pg_attribute a
JOIN pg_class c ON c.oid = a.attrelid
JOIN pg_namespace n ON n.oid = c.relnamespace
JOIN pg_type t ON t.oid = a.atttypid
WHERE n.nspname = $1 AND c.relkind IN ('r', 'v', 'm', 'p') AND a.attnum > 0 AND NOT a.attisdropped
ORDER BY c.relname, a.attnum`

const pgPrimaryKeys = `
SELECT c.relname, a.attname
FROM pg_constraint con
JOIN pg_class c ON c.oid = con.conrelid
JOIN pg_namespace n ON n.oid = c.relnamespace
JOIN LATERAL unnest(con.conkey) WITH ORDINALITY AS k(att, ord) ON true
JOIN pg_attribute a ON a.attrelid = con.conrelid AND a.attnum = k.att
WHERE con.contype = 'p' AND n.nspname = $1
ORDER BY c.relname, k.ord`

const pgForeignKeys = `
SELECT con.conname, src.relname, tgt.relname, sa.attname, ta.attname
FROM pg_constraint con
JOIN pg_class src ON src.oid = con.conrelid
JOIN pg_class tgt ON tgt.oid = con.confrelid
JOIN pg_namespace n ON n.oid = src.relnamespace
JOIN pg_namespace tn ON tn.oid = tgt.relnamespace
JOIN LATERAL unnest(con.conkey, con.confkey) WITH ORDINALITY AS k(src_att, tgt_att, ord) ON true
JOIN pg_attribute sa ON sa.attrelid = con.conrelid AND sa.attnum = k.src_att
JOIN pg_attribute ta ON ta.attrelid = con.confrelid AND ta.attnum = k.tgt_att
WHERE con.contype = 'f' AND n.nspname = $1 AND tn.nspname = $1
ORDER BY src.relname, con.conname, k.ord`

const pgFunctions = `
SELECT p.proname, p.provolatile, p.proretset, rt.typname,
       coalesce(rc.relname, ''), coalesce(obj_description(p.oid, 'pg_proc'), ''),
       coalesce(p.proargnames[1:p.pronargs], '{}'),
       array(SELECT t.typname FROM unnest(p.proargtypes) WITH ORDINALITY AS a(oid, ord)
             JOIN pg_type t ON t.oid = a.oid ORDER BY a.ord)
FROM pg_proc p
JOIN pg_namespace n ON n.oid = p.pronamespace
JOIN pg_type rt ON rt.oid = p.prorettype
LEFT JOIN pg_class rc ON rc.oid = rt.typrelid AND rc.relnamespace = n.oid
WHERE n.nspname = $1 AND p.prokind = 'f' AND rt.typname NOT IN ('trigger', 'event_trigger', 'void')
  AND NOT EXISTS (SELECT 1 FROM pg_depend d WHERE d.objid = p.oid AND d.deptype = 'e')
ORDER BY p.proname`

func (p *Postgres) Snapshot(ctx context.Context, schema string) (*Snapshot, error) {
	var exists bool
	if err := p.DB.QueryRowContext(ctx, pgSchemaExists, schema).Scan(&exists); err != nil {
		return nil, fmt.Errorf("check schema: %w", err)
	}
	if !exists {
		return nil, ErrSchemaNotFound
	}

	snap := &Snapshot{Schema: schema}
	tables := make(map[string]*Table)

	rows, err := p.DB.QueryContext(ctx, pgTables, schema)
	if err != nil {
		return nil, fmt.Errorf("read tables: %w", err)
	}
	for rows.Next() {
		t := &Table{}
		if err := rows.Scan(&t.Name, &t.Comment); err != nil {
			rows.Close()
			return nil, err
		}
		tables[t.Name] = t
		snap.Tables = append(snap.Tables, t)
	}
	if err := closeRows(rows); err != nil {
		return nil, fmt.Errorf("read tables: %w", err)
	}

	rows, err = p.DB.QueryContext(ctx, pgColumns, schema)
	if err != nil {
		return nil, fmt.Errorf("read columns: %w", err)
	}
	for rows.Next() {
		var table string
		c := &Column{}
		if err := rows.Scan(&table, &c.Name, &c.Type, &c.NotNull, &c.HasDefault, &c.Comment, &c.Position); err != nil {
			rows.Close()
			return nil, err
		}
		c.Type = normalizeType(c.Type)
		if t, ok := tables[table]; ok {
			t.Columns = append(t.Columns, c)
		}
	}
	if err := closeRows(rows); err != nil {
		return nil, fmt.Errorf("read columns: %w", err)
	}

	rows, err = p.DB.QueryContext(ctx, pgPrimaryKeys, schema)
	if err != nil {
		return nil, fmt.Errorf("read primary keys: %w", err)
	}
	for rows.Next() {
		var table, column string
		if err := rows.Scan(&table, &column); err != nil {
			rows.Close()
			return nil, err
		}
		if t, ok := tables[table]; ok {
			t.PrimaryKey = append(t.PrimaryKey, column)
		}
	}
	if err := closeRows(rows); err != nil {
		return nil, fmt.Errorf("read primary keys: %w", err)
	}

	if err := p.foreignKeys(ctx, schema, tables); err != nil {
		return nil, err
	}

	if snap.Functions, err = p.functions(ctx, schema, tables); err != nil {
		return nil, err
	}
	return snap, nil
}

func (p *Postgres) foreignKeys(ctx context.Context, schema string, tables map[string]*Table) error {
	rows, err := p.DB.QueryContext(ctx, pgForeignKeys, schema)
	if err != nil {
		return fmt.Errorf("read foreign keys: %w", err)
	}
	var last *ForeignKey
	var lastTable string
	for rows.Next() {
		var name, src, tgt, srcCol, tgtCol string
		if err := rows.Scan(&name, &src, &tgt, &srcCol, &tgtCol); err != nil {
			rows.Close()
			return err
		}
		t, ok := tables[src]
		if !ok {
			continue
		}
		if last == nil || last.Name != name || lastTable != src {
			last = &ForeignKey{Name: name, ForeignTable: tgt}
			lastTable = src
			t.ForeignKeys = append(t.ForeignKeys, last)
		}
		last.Columns = append(last.Columns, srcCol)
		last.ForeignColumns = append(last.ForeignColumns, tgtCol)
	}
	if err := closeRows(rows); err != nil {
		return fmt.Errorf("read foreign keys: %w", err)
	}
	return nil
}

func (p *Postgres) functions(ctx context.Context, schema string, tables map[string]*Table) ([]*Function, error) {
	rows, err := p.DB.QueryContext(ctx, pgFunctions, schema)
	if err != nil {
		return nil, fmt.Errorf("read functions: %w", err)
	}
	var out []*Function
	seen := make(map[string]bool)
	for rows.Next() {
		var volatility, returnTable string
		var names, types []string
		f := &Function{}
		if err := rows.Scan(&f.Name, &volatility, &f.ReturnsSet, &f.ReturnType, &returnTable, &f.Comment,
			pq.Array(&names), pq.Array(&types)); err != nil {
			rows.Close()
			return nil, err
		}
		// Overloads cannot be told apart by a GraphQL field name.
		if seen[f.Name] {
			continue
		}
		seen[f.Name] = true

		switch volatility {
		case "i":
			f.Volatility = Immutable
		case "s":
			f.Volatility = Stable
		default:
			f.Volatility = Volatile
		}
		if _, ok := tables[returnTable]; ok {
			f.ReturnType = returnTable
			f.ReturnsTable = true
		} else {
			f.ReturnType = normalizeType(f.ReturnType)
		}
		for i, typ := range types {
			arg := &Argument{Type: normalizeType(typ), Name: fmt.Sprintf("arg%d", i+1)}
			if i < len(names) && names[i] != "" {
				arg.Name = names[i]
			}
			f.Args = append(f.Args, arg)
		}
		out = append(out, f)
	}
	if err := closeRows(rows); err != nil {
		return nil, fmt.Errorf("read functions: %w", err)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func closeRows(rows *sql.Rows) error {
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	return rows.Close()
}
