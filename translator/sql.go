package translator

import (
	"fmt"
	"strings"

	"go.appointy.com/capi/schemagraph"
)

// rowNumber is the window column of paginated relation loads.
const rowNumber = "__capi_row_number"

// statement accumulates SQL text and its parameters.
type statement struct {
	dialect Dialect
	args    []interface{}
}

func (s *statement) bind(v interface{}) string {
	s.args = append(s.args, v)
	return s.dialect.Placeholder(len(s.args))
}

func columnList(columns []string) string {
	quoted := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = quote(c)
	}
	return strings.Join(quoted, ", ")
}

func (s *statement) where(conds []string) string {
	if len(conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(conds, " AND ")
}

// predicates returns the condition and filter of q as SQL conditions.
func (s *statement) predicates(q *schemagraph.ListQuery) []string {
	if q == nil {
		return nil
	}
	var conds []string
	for _, c := range q.Condition {
		if c.Value == nil {
			conds = append(conds, quote(c.Column)+" IS NULL")
			continue
		}
		conds = append(conds, quote(c.Column)+" = "+s.bind(c.Value))
	}
	if q.Filter != nil {
		if f := s.filter(q.Filter); f != "" {
			conds = append(conds, f)
		}
	}
	return conds
}

func (s *statement) filter(f *schemagraph.Filter) string {
	var parts []string
	for _, c := range f.Comparisons {
		parts = append(parts, s.comparison(c))
	}
	for _, sub := range f.And {
		if p := s.filter(sub); p != "" {
			parts = append(parts, p)
		}
	}
	if len(f.Or) > 0 {
		var alts []string
		for _, sub := range f.Or {
			p := s.filter(sub)
			if p == "" {
				p = "1 = 1"
			}
			alts = append(alts, p)
		}
		parts = append(parts, "("+strings.Join(alts, " OR ")+")")
	}
	if f.Not != nil {
		if p := s.filter(f.Not); p != "" {
			parts = append(parts, "NOT "+p)
		} else {
			parts = append(parts, "1 = 0")
		}
	}
	if len(parts) == 0 {
		return ""
	}
	return "(" + strings.Join(parts, " AND ") + ")"
}

func (s *statement) comparison(c schemagraph.Comparison) string {
	col := quote(c.Column)
	switch c.Op {
	case schemagraph.OpEqual:
		return col + " = " + s.bind(c.Value)
	case schemagraph.OpNotEqual:
		return s.dialect.DistinctFrom(col, s.bind(c.Value))
	case schemagraph.OpLess:
		return col + " < " + s.bind(c.Value)
	case schemagraph.OpLessOrEqual:
		return col + " <= " + s.bind(c.Value)
	case schemagraph.OpGreater:
		return col + " > " + s.bind(c.Value)
	case schemagraph.OpGreaterOrEqual:
		return col + " >= " + s.bind(c.Value)
	case schemagraph.OpIn:
		values, _ := c.Value.([]interface{})
		if len(values) == 0 {
			return "1 = 0"
		}
		phs := make([]string, len(values))
		for i, v := range values {
			phs[i] = s.bind(v)
		}
		return col + " IN (" + strings.Join(phs, ", ") + ")"
	case schemagraph.OpIsNull:
		if isNull, _ := c.Value.(bool); isNull {
			return col + " IS NULL"
		}
		return col + " IS NOT NULL"
	case schemagraph.OpLike:
		return col + " LIKE " + s.bind(c.Value)
	case schemagraph.OpIncludesInsensitive:
		pattern, _ := c.Value.(string)
		return s.dialect.ContainsFold(col, s.bind("%"+escapeLike(pattern)+"%"))
	}
	panic(fmt.Sprintf("unknown operator %s", c.Op))
}

func orderBy(terms []schemagraph.OrderTerm) string {
	if len(terms) == 0 {
		return ""
	}
	parts := make([]string, len(terms))
	for i, t := range terms {
		parts[i] = quote(t.Column) + " ASC"
		if t.Desc {
			parts[i] = quote(t.Column) + " DESC"
		}
	}
	return strings.Join(parts, ", ")
}

// keyIn matches columns against a list of key tuples.
func (s *statement) keyIn(columns []string, keys [][]interface{}) string {
	tuples := make([]string, len(keys))
	for i, key := range keys {
		phs := make([]string, len(key))
		for j, v := range key {
			phs[j] = s.bind(v)
		}
		tuples[i] = strings.Join(phs, ", ")
		if len(columns) > 1 {
			tuples[i] = "(" + tuples[i] + ")"
		}
	}
	left := quote(columns[0])
	if len(columns) > 1 {
		left = "(" + columnList(columns) + ")"
	}
	return left + " IN (" + strings.Join(tuples, ", ") + ")"
}

// keyEquals matches columns against a single key.
func (s *statement) keyEquals(columns []string, key []interface{}) []string {
	conds := make([]string, len(columns))
	for i, col := range columns {
		conds[i] = quote(col) + " = " + s.bind(key[i])
	}
	return conds
}

// selectRows builds the statement of a list. Pagination is left out when
// paginate is false.
func (s *statement) selectRows(schema string, td *schemagraph.TypeDescriptor, q *schemagraph.ListQuery, paginate bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "SELECT %s FROM %s", columnList(td.Columns()), qualified(schema, td.Table))
	b.WriteString(s.where(s.predicates(q)))
	if q != nil {
		if order := orderBy(q.OrderBy); order != "" {
			b.WriteString(" ORDER BY " + order)
		}
		if paginate {
			if limit := s.dialect.Limit(q.First, q.Offset); limit != "" {
				b.WriteString(" " + limit)
			}
		}
	}
	return b.String()
}

// selectRelated builds the statement loading the rows of target whose
// columns match one of keys. With paginate set every key gets its own page.
func (s *statement) selectRelated(schema string, target *schemagraph.TypeDescriptor, columns []string, keys [][]interface{}, q *schemagraph.ListQuery, paginate bool) string {
	conds := append([]string{s.keyIn(columns, keys)}, s.predicates(q)...)
	var terms []schemagraph.OrderTerm
	if q != nil {
		terms = q.OrderBy
	}

	if !paginate {
		stmt := fmt.Sprintf("SELECT %s FROM %s%s", columnList(target.Columns()), qualified(schema, target.Table), s.where(conds))
		if order := orderBy(terms); order != "" {
			stmt += " ORDER BY " + order
		}
		return stmt
	}

	over := "PARTITION BY " + columnList(columns)
	if order := orderBy(terms); order != "" {
		over += " ORDER BY " + order
	}
	bounds := []string{fmt.Sprintf("%s > %d", quote(rowNumber), q.Offset)}
	if q.First != nil {
		bounds = append(bounds, fmt.Sprintf("%s <= %d", quote(rowNumber), q.Offset+*q.First))
	}
	return fmt.Sprintf("SELECT * FROM (SELECT %s, ROW_NUMBER() OVER (%s) AS %s FROM %s%s) AS paged WHERE %s ORDER BY %s",
		columnList(target.Columns()), over, quote(rowNumber), qualified(schema, target.Table), s.where(conds),
		strings.Join(bounds, " AND "), quote(rowNumber))
}

func (s *statement) count(schema string, td *schemagraph.TypeDescriptor, q *schemagraph.ListQuery) string {
	return fmt.Sprintf("SELECT count(*) AS count FROM %s%s", qualified(schema, td.Table), s.where(s.predicates(q)))
}

func (s *statement) lookup(schema string, td *schemagraph.TypeDescriptor, key []interface{}) string {
	return fmt.Sprintf("SELECT %s FROM %s%s", columnList(td.Columns()), qualified(schema, td.Table), s.where(s.keyEquals(td.PrimaryKey, key)))
}

func (s *statement) insert(schema string, td *schemagraph.TypeDescriptor, values []schemagraph.Assignment) string {
	if len(values) == 0 {
		return fmt.Sprintf("INSERT INTO %s DEFAULT VALUES RETURNING %s", qualified(schema, td.Table), columnList(td.Columns()))
	}
	cols := make([]string, len(values))
	phs := make([]string, len(values))
	for i, v := range values {
		cols[i] = v.Column
		phs[i] = s.bind(v.Value)
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) RETURNING %s",
		qualified(schema, td.Table), columnList(cols), strings.Join(phs, ", "), columnList(td.Columns()))
}

func (s *statement) update(schema string, td *schemagraph.TypeDescriptor, key []interface{}, values []schemagraph.Assignment) string {
	sets := make([]string, len(values))
	for i, v := range values {
		sets[i] = quote(v.Column) + " = " + s.bind(v.Value)
	}
	return fmt.Sprintf("UPDATE %s SET %s%s RETURNING %s",
		qualified(schema, td.Table), strings.Join(sets, ", "), s.where(s.keyEquals(td.PrimaryKey, key)), columnList(td.Columns()))
}

func (s *statement) delete(schema string, td *schemagraph.TypeDescriptor, key []interface{}) string {
	return fmt.Sprintf("DELETE FROM %s%s RETURNING %s",
		qualified(schema, td.Table), s.where(s.keyEquals(td.PrimaryKey, key)), columnList(td.Columns()))
}

func (s *statement) call(schema string, fn *schemagraph.FunctionDescriptor, columns []string, args []interface{}) string {
	phs := make([]string, len(args))
	for i, v := range args {
		phs[i] = s.bind(v)
	}
	call := fmt.Sprintf("%s(%s)", qualified(schema, fn.Name), strings.Join(phs, ", "))
	if columns == nil {
		return fmt.Sprintf("SELECT f.value FROM %s AS f(value)", call)
	}
	return fmt.Sprintf("SELECT %s FROM %s", columnList(columns), call)
}
