package graphql

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"go.appointy.com/capi/jerrors"
)

// Executor executes a query breadth first. All objects of one level are
// resolved together, so a field with a BatchResolver is called once per level
// instead of once per object.
type Executor struct{}

// ResolveErrors is returned by Execute together with partial data when some
// fields failed. Failed nullable fields are null in the data.
type ResolveErrors []error

func (e ResolveErrors) Error() string {
	msgs := make([]string, 0, len(e))
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

func (e ResolveErrors) Unwrap() []error { return e }

// Execute runs query against typ with source as the root value.
func (e *Executor) Execute(ctx context.Context, typ Type, source interface{}, query *Query) (interface{}, error) {
	if typ == nil {
		return nil, errors.New("operation not supported by this schema")
	}

	if source == nil {
		source = rootSource
	}

	ex := &execution{ctx: ctx}
	out := ex.complete(typ, []interface{}{source}, []*pathNode{nil}, query.SelectionSet)[0]
	if len(ex.errs) > 0 {
		return out, ResolveErrors(ex.errs)
	}
	return out, nil
}

// errored marks a value that failed and has already been reported. It turns
// into null at the nearest nullable position.
type erroredValue struct{}

var errored = erroredValue{}

// rootSource stands in for a nil root value so the root object is executed.
var rootSource = &struct{}{}

type pathNode struct {
	parent *pathNode
	key    string
}

func (p *pathNode) child(key string) *pathNode {
	return &pathNode{parent: p, key: key}
}

func (p *pathNode) wrap(err error) error {
	for n := p; n != nil; n = n.parent {
		err = jerrors.NestPathError(n.key, err)
	}
	return err
}

type execution struct {
	ctx  context.Context
	errs []error
}

func (ex *execution) fail(path *pathNode, err error) {
	ex.errs = append(ex.errs, path.wrap(err))
}

// complete converts resolved values of type typ into their output form.
func (ex *execution) complete(typ Type, values []interface{}, paths []*pathNode, selectionSet *SelectionSet) []interface{} {
	if nonNull, ok := typ.(*NonNull); ok {
		outs := ex.completeNullable(nonNull.Type, values, paths, selectionSet)
		for i, out := range outs {
			if out == nil {
				ex.fail(paths[i], fmt.Errorf("null value for non-null %s", nonNull))
				outs[i] = errored
			}
		}
		return outs
	}

	outs := ex.completeNullable(typ, values, paths, selectionSet)
	for i, out := range outs {
		if out == errored {
			outs[i] = nil
		}
	}
	return outs
}

func (ex *execution) completeNullable(typ Type, values []interface{}, paths []*pathNode, selectionSet *SelectionSet) []interface{} {
	outs := make([]interface{}, len(values))

	switch typ := typ.(type) {
	case *Scalar:
		for i, value := range values {
			if value == errored {
				outs[i] = errored
				continue
			}
			out, err := unwrapScalar(typ, value)
			if err != nil {
				ex.fail(paths[i], err)
				outs[i] = errored
				continue
			}
			outs[i] = out
		}

	case *Enum:
		for i, value := range values {
			if value == errored {
				outs[i] = errored
				continue
			}
			value = deref(value)
			if value == nil {
				continue
			}
			if name, ok := typ.ReverseMap[value]; ok {
				outs[i] = name
				continue
			}
			if s, ok := value.(string); ok && containsString(typ.Values, s) {
				outs[i] = s
				continue
			}
			ex.fail(paths[i], fmt.Errorf("enum %s has no value %v", typ.Type, value))
			outs[i] = errored
		}

	case *List:
		ex.completeList(typ, values, paths, selectionSet, outs)

	case *Object:
		ex.completeObject(typ, values, paths, selectionSet, outs)

	default:
		for i := range values {
			ex.fail(paths[i], fmt.Errorf("cannot output %T", typ))
			outs[i] = errored
		}
	}

	return outs
}

// completeList flattens the items of all lists into a single batch so the
// next level is still resolved once.
func (ex *execution) completeList(typ *List, values []interface{}, paths []*pathNode, selectionSet *SelectionSet, outs []interface{}) {
	var items []interface{}
	var itemPaths []*pathNode
	lengths := make([]int, len(values))

	for i, value := range values {
		if value == errored {
			outs[i] = errored
			lengths[i] = -1
			continue
		}
		if value == nil {
			lengths[i] = -1
			continue
		}
		rv := reflect.ValueOf(value)
		if rv.Kind() == reflect.Ptr {
			if rv.IsNil() {
				lengths[i] = -1
				continue
			}
			rv = rv.Elem()
		}
		if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
			ex.fail(paths[i], fmt.Errorf("expected list, got %T", value))
			outs[i] = errored
			lengths[i] = -1
			continue
		}
		lengths[i] = rv.Len()
		for j := 0; j < rv.Len(); j++ {
			items = append(items, rv.Index(j).Interface())
			itemPaths = append(itemPaths, paths[i].child(strconv.Itoa(j)))
		}
	}

	completed := ex.complete(typ.Type, items, itemPaths, selectionSet)

	offset := 0
	for i, n := range lengths {
		if n < 0 {
			continue
		}
		list := make([]interface{}, n)
		failed := false
		for j := 0; j < n; j++ {
			list[j] = completed[offset+j]
			if list[j] == errored {
				failed = true
			}
		}
		offset += n
		if failed {
			outs[i] = errored
			continue
		}
		outs[i] = list
	}
}

func (ex *execution) completeObject(obj *Object, values []interface{}, paths []*pathNode, selectionSet *SelectionSet, outs []interface{}) {
	var live []int
	for i, value := range values {
		if value == errored {
			outs[i] = errored
			continue
		}
		if isNil(value) {
			continue
		}
		outs[i] = make(map[string]interface{})
		live = append(live, i)
	}
	if len(live) == 0 {
		return
	}

	if err := ex.ctx.Err(); err != nil {
		for _, i := range live {
			ex.fail(paths[i], err)
			outs[i] = errored
		}
		return
	}

	for _, selection := range CollectSelections(selectionSet) {
		if selection.Name == "__typename" {
			for _, i := range live {
				if out, ok := outs[i].(map[string]interface{}); ok {
					out[selection.Alias] = obj.Name
				}
			}
			continue
		}

		field, ok := obj.Fields[selection.Name]
		if !ok {
			for _, i := range live {
				ex.fail(paths[i], fmt.Errorf("unknown field %s on %s", selection.Name, obj.Name))
				outs[i] = errored
			}
			continue
		}

		sources := make([]interface{}, len(live))
		fieldPaths := make([]*pathNode, len(live))
		for k, i := range live {
			sources[k] = values[i]
			fieldPaths[k] = paths[i].child(selection.Alias)
		}

		resolved := ex.resolve(field, sources, fieldPaths, selection)
		completed := ex.complete(field.Type, resolved, fieldPaths, selection.SelectionSet)

		for k, i := range live {
			if completed[k] == errored {
				outs[i] = errored
				continue
			}
			if out, ok := outs[i].(map[string]interface{}); ok {
				out[selection.Alias] = completed[k]
			}
		}
	}
}

// resolve computes the raw value of field for every source.
func (ex *execution) resolve(field *Field, sources []interface{}, paths []*pathNode, selection *Selection) []interface{} {
	values := make([]interface{}, len(sources))

	if field.Batch != nil {
		results, err := field.Batch(ex.ctx, sources, selection.Args, selection.SelectionSet)
		if err == nil && len(results) != len(sources) {
			err = fmt.Errorf("batch resolver returned %d values for %d sources", len(results), len(sources))
		}
		if err != nil {
			ex.fail(paths[0], err)
			for i := range values {
				values[i] = errored
			}
			return values
		}
		return results
	}

	if field.Resolve == nil {
		for i := range values {
			ex.fail(paths[i], errors.New("field has no resolver"))
			values[i] = errored
		}
		return values
	}

	for i, source := range sources {
		value, err := field.Resolve(ex.ctx, source, selection.Args, selection.SelectionSet)
		if err != nil {
			ex.fail(paths[i], err)
			values[i] = errored
			continue
		}
		values[i] = value
	}
	return values
}

// CollectSelections flattens fragments into a single list of selections and
// drops selections excluded by @skip or @include.
func CollectSelections(selectionSet *SelectionSet) []*Selection {
	if selectionSet == nil {
		return nil
	}
	var out []*Selection
	collectSelections(selectionSet, &out, make(map[*FragmentDefinition]bool))
	return out
}

func collectSelections(selectionSet *SelectionSet, out *[]*Selection, seen map[*FragmentDefinition]bool) {
	for _, selection := range selectionSet.Selections {
		if included(selection.Directives) {
			*out = append(*out, selection)
		}
	}
	for _, spread := range selectionSet.Fragments {
		if !included(spread.Directives) || seen[spread.Fragment] {
			continue
		}
		seen[spread.Fragment] = true
		collectSelections(spread.Fragment.SelectionSet, out, seen)
	}
}

func included(directives []*Directive) bool {
	for _, d := range directives {
		cond, _ := d.Args["if"].(bool)
		switch d.Name {
		case "skip":
			if cond {
				return false
			}
		case "include":
			if !cond {
				return false
			}
		}
	}
	return true
}

func unwrapScalar(typ *Scalar, value interface{}) (interface{}, error) {
	value = deref(value)
	if value == nil {
		return nil, nil
	}
	if typ.Unwrapper != nil {
		return typ.Unwrapper(value)
	}
	return value, nil
}

func deref(value interface{}) interface{} {
	if value == nil {
		return nil
	}
	rv := reflect.ValueOf(value)
	for rv.Kind() == reflect.Ptr {
		if rv.IsNil() {
			return nil
		}
		rv = rv.Elem()
	}
	return rv.Interface()
}

func isNil(value interface{}) bool {
	if value == nil {
		return true
	}
	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Map, reflect.Interface:
		return rv.IsNil()
	}
	return false
}

func containsString(values []string, s string) bool {
	for _, v := range values {
		if v == s {
			return true
		}
	}
	return false
}
