package translator

import (
	"context"
	"fmt"
	"strings"

	"go.appointy.com/capi/jerrors"
	"go.appointy.com/capi/schemagraph"
	"google.golang.org/grpc/codes"
)

var _ schemagraph.RowSource = (*Translator)(nil)

func (t *Translator) List(ctx context.Context, td *schemagraph.TypeDescriptor, q *schemagraph.ListQuery) ([]schemagraph.Row, error) {
	schema, err := t.schema(ctx)
	if err != nil {
		return nil, err
	}
	// Pages are cut after the access predicate when there is one.
	st := &statement{dialect: t.dialect}
	rows, err := t.query(ctx, st.selectRows(schema, td, q, td.Access == nil), st.args)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", td.Name, err)
	}
	if td.Access == nil {
		return rows, nil
	}
	return page(visible(ctx, td, rows), q), nil
}

func (t *Translator) Count(ctx context.Context, td *schemagraph.TypeDescriptor, q *schemagraph.ListQuery) (int, error) {
	schema, err := t.schema(ctx)
	if err != nil {
		return 0, err
	}
	st := &statement{dialect: t.dialect}
	if td.Access != nil {
		rows, err := t.query(ctx, st.selectRows(schema, td, q, false), st.args)
		if err != nil {
			return 0, fmt.Errorf("count %s: %w", td.Name, err)
		}
		return len(visible(ctx, td, rows)), nil
	}

	rows, err := t.query(ctx, st.count(schema, td, q), st.args)
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", td.Name, err)
	}
	if len(rows) != 1 {
		return 0, fmt.Errorf("count %s: got %d rows", td.Name, len(rows))
	}
	switch n := rows[0]["count"].(type) {
	case int64:
		return int(n), nil
	case string:
		var out int
		_, err := fmt.Sscan(n, &out)
		return out, err
	default:
		return 0, fmt.Errorf("count %s: unexpected %T", td.Name, n)
	}
}

func (t *Translator) Lookup(ctx context.Context, td *schemagraph.TypeDescriptor, key []interface{}) (schemagraph.Row, error) {
	schema, err := t.schema(ctx)
	if err != nil {
		return nil, err
	}
	text := t.cached("lookup:"+schema+"."+td.Table+":"+strings.Join(td.Columns(), ","), func() string {
		st := &statement{dialect: t.dialect}
		return st.lookup(schema, td, key)
	})
	rows, err := t.query(ctx, text, key)
	if err != nil {
		return nil, fmt.Errorf("lookup %s: %w", td.Name, err)
	}
	if len(rows) == 0 || !td.Visible(schemagraph.AccessFrom(ctx), rows[0]) {
		return nil, nil
	}
	return rows[0], nil
}

// Related loads the targets of all parents with one statement per chunk of
// distinct keys.
func (t *Translator) Related(ctx context.Context, rel *schemagraph.Relation, target *schemagraph.TypeDescriptor, parents []schemagraph.Row, q *schemagraph.ListQuery) ([][]schemagraph.Row, error) {
	schema, err := t.schema(ctx)
	if err != nil {
		return nil, err
	}

	var keys [][]interface{}
	seen := make(map[string]bool)
	for _, parent := range parents {
		key, ok := keyOf(parent, rel.SourceColumns)
		if !ok || seen[key] {
			continue
		}
		seen[key] = true
		values := make([]interface{}, len(rel.SourceColumns))
		for i, col := range rel.SourceColumns {
			values[i] = parent[col]
		}
		keys = append(keys, values)
	}

	paginate := rel.Kind == schemagraph.OneToMany && q.Paginated() && target.Access == nil
	groups := make(map[string][]schemagraph.Row)
	for start := 0; start < len(keys); start += t.chunkSize {
		end := start + t.chunkSize
		if end > len(keys) {
			end = len(keys)
		}
		st := &statement{dialect: t.dialect}
		rows, err := t.query(ctx, st.selectRelated(schema, target, rel.TargetColumns, keys[start:end], q, paginate), st.args)
		if err != nil {
			return nil, fmt.Errorf("load %s.%s: %w", rel.Source, rel.Name, err)
		}
		for _, row := range visible(ctx, target, rows) {
			key, _ := keyOf(row, rel.TargetColumns)
			groups[key] = append(groups[key], row)
		}
	}

	out := make([][]schemagraph.Row, len(parents))
	for i, parent := range parents {
		key, ok := keyOf(parent, rel.SourceColumns)
		if !ok {
			continue
		}
		rows := groups[key]
		if rel.Kind == schemagraph.OneToMany && !paginate {
			rows = page(rows, q)
		}
		out[i] = rows
	}
	return out, nil
}

func (t *Translator) Insert(ctx context.Context, td *schemagraph.TypeDescriptor, values []schemagraph.Assignment) (schemagraph.Row, error) {
	schema, err := t.schema(ctx)
	if err != nil {
		return nil, err
	}
	candidate := make(schemagraph.Row, len(values))
	for _, v := range values {
		candidate[v.Column] = v.Value
	}
	if !td.Visible(schemagraph.AccessFrom(ctx), candidate) {
		return nil, policyViolation(td)
	}

	st := &statement{dialect: t.dialect}
	rows, err := t.query(ctx, st.insert(schema, td, values), st.args)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", td.Name, err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

// Update changes a row the caller can see. Rows hidden from the caller are
// reported as missing.
func (t *Translator) Update(ctx context.Context, td *schemagraph.TypeDescriptor, key []interface{}, values []schemagraph.Assignment) (schemagraph.Row, error) {
	schema, err := t.schema(ctx)
	if err != nil {
		return nil, err
	}
	if td.Access != nil {
		existing, err := t.Lookup(ctx, td, key)
		if err != nil || existing == nil {
			return nil, err
		}
		for _, v := range values {
			existing[v.Column] = v.Value
		}
		if !td.Visible(schemagraph.AccessFrom(ctx), existing) {
			return nil, policyViolation(td)
		}
	}

	st := &statement{dialect: t.dialect}
	rows, err := t.query(ctx, st.update(schema, td, key, values), st.args)
	if err != nil {
		return nil, fmt.Errorf("update %s: %w", td.Name, err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

func (t *Translator) Delete(ctx context.Context, td *schemagraph.TypeDescriptor, key []interface{}) (schemagraph.Row, error) {
	schema, err := t.schema(ctx)
	if err != nil {
		return nil, err
	}
	if td.Access != nil {
		existing, err := t.Lookup(ctx, td, key)
		if err != nil || existing == nil {
			return nil, err
		}
	}

	st := &statement{dialect: t.dialect}
	rows, err := t.query(ctx, st.delete(schema, td, key), st.args)
	if err != nil {
		return nil, fmt.Errorf("delete %s: %w", td.Name, err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

// Call runs a database function. Scalar results are returned in the value
// column.
func (t *Translator) Call(ctx context.Context, fn *schemagraph.FunctionDescriptor, args []interface{}) ([]schemagraph.Row, error) {
	if !t.dialect.SupportsFunctions() {
		return nil, &jerrors.TranslationError{
			Err:  fmt.Errorf("%s does not support functions", t.dialect.Name()),
			Code: codes.Unimplemented,
		}
	}
	schema, err := t.schema(ctx)
	if err != nil {
		return nil, err
	}

	var td *schemagraph.TypeDescriptor
	var columns []string
	if fn.ReturnType != "" {
		if td, err = schemagraph.TypeFrom(ctx, fn.ReturnType); err != nil {
			return nil, err
		}
		columns = td.Columns()
	}

	st := &statement{dialect: t.dialect}
	rows, err := t.query(ctx, st.call(schema, fn, columns, args), st.args)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", fn.Name, err)
	}
	if td != nil {
		rows = visible(ctx, td, rows)
	}
	return rows, nil
}

func policyViolation(td *schemagraph.TypeDescriptor) error {
	return &jerrors.TranslationError{
		Err:  fmt.Errorf("row violates the access policy of %s", td.Name),
		Code: codes.PermissionDenied,
	}
}

func visible(ctx context.Context, td *schemagraph.TypeDescriptor, rows []schemagraph.Row) []schemagraph.Row {
	if td.Access == nil {
		return rows
	}
	ac := schemagraph.AccessFrom(ctx)
	out := rows[:0:0]
	for _, row := range rows {
		if td.Access(ac, row) {
			out = append(out, row)
		}
	}
	return out
}

// page applies first and offset of q to rows.
func page(rows []schemagraph.Row, q *schemagraph.ListQuery) []schemagraph.Row {
	if !q.Paginated() {
		return rows
	}
	if q.Offset >= len(rows) {
		return nil
	}
	rows = rows[q.Offset:]
	if q.First != nil && *q.First < len(rows) {
		rows = rows[:*q.First]
	}
	return rows
}

// keyOf joins the values of columns. Rows with a null key column relate to
// nothing.
func keyOf(row schemagraph.Row, columns []string) (string, bool) {
	parts := make([]string, len(columns))
	for i, col := range columns {
		v := row[col]
		if v == nil {
			return "", false
		}
		parts[i] = fmt.Sprint(v)
	}
	return strings.Join(parts, "\x1f"), true
}
