package schemagraph

import "context"

// RowSource loads and changes rows for the resolvers of a graph. It is
// responsible for applying the access predicate of every type it returns
// rows of.
type RowSource interface {
	List(ctx context.Context, td *TypeDescriptor, q *ListQuery) ([]Row, error)
	Count(ctx context.Context, td *TypeDescriptor, q *ListQuery) (int, error)
	Lookup(ctx context.Context, td *TypeDescriptor, key []interface{}) (Row, error)
	// Related loads the rows related to each parent in one batch. The result
	// has one entry per parent, in order.
	Related(ctx context.Context, rel *Relation, target *TypeDescriptor, parents []Row, q *ListQuery) ([][]Row, error)
	Insert(ctx context.Context, td *TypeDescriptor, values []Assignment) (Row, error)
	Update(ctx context.Context, td *TypeDescriptor, key []interface{}, values []Assignment) (Row, error)
	Delete(ctx context.Context, td *TypeDescriptor, key []interface{}) (Row, error)
	Call(ctx context.Context, fn *FunctionDescriptor, args []interface{}) ([]Row, error)
}

// ListQuery holds the arguments of a list field.
type ListQuery struct {
	First     *int
	Offset    int
	OrderBy   []OrderTerm
	Condition []Assignment
	Filter    *Filter
}

// Paginated reports whether q limits the rows returned.
func (q *ListQuery) Paginated() bool {
	return q != nil && (q.First != nil || q.Offset > 0)
}

// OrderTerm orders rows by a column.
type OrderTerm struct {
	Column string
	Desc   bool
}

// Assignment pairs a column with a value, for conditions and writes.
type Assignment struct {
	Column string
	Value  interface{}
}

// Op is a comparison of the filter argument.
type Op string

const (
	OpEqual               Op = "equalTo"
	OpNotEqual            Op = "notEqualTo"
	OpLess                Op = "lessThan"
	OpLessOrEqual         Op = "lessThanOrEqualTo"
	OpGreater             Op = "greaterThan"
	OpGreaterOrEqual      Op = "greaterThanOrEqualTo"
	OpIn                  Op = "in"
	OpIsNull              Op = "isNull"
	OpLike                Op = "like"
	OpIncludesInsensitive Op = "includesInsensitive"
)

// Comparison is one column comparison of a filter.
type Comparison struct {
	Column string
	Op     Op
	Value  interface{}
}

// Filter is the parsed filter argument. All comparisons and nested filters
// must hold.
type Filter struct {
	Comparisons []Comparison
	And         []*Filter
	Or          []*Filter
	Not         *Filter
}
