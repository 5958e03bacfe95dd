package schemagraph

import (
	"fmt"
	"math"
	"sort"

	"go.appointy.com/capi/jerrors"
)

// mutationArgs are the parsed arguments of create, update and delete fields.
type mutationArgs struct {
	Key    []interface{}
	Values []Assignment
}

func argMap(raw interface{}) (map[string]interface{}, error) {
	switch raw := raw.(type) {
	case nil:
		return map[string]interface{}{}, nil
	case map[string]interface{}:
		return raw, nil
	}
	return nil, jerrors.InvalidInput("expected an object, got %s", describe(raw))
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func parseCount(name string, v interface{}) (int, error) {
	f, ok := v.(float64)
	if !ok || f != math.Trunc(f) || f < 0 {
		return 0, jerrors.InvalidInput("%s must be a non-negative integer", name)
	}
	return int(f), nil
}

// listParser parses the arguments of list fields of the type.
func listParser(typeName string, orderTerms map[string][]OrderTerm, fields map[string]*FieldDescriptor, pk []string) func(interface{}) (interface{}, error) {
	return func(raw interface{}) (interface{}, error) {
		args, err := argMap(raw)
		if err != nil {
			return nil, err
		}

		q := &ListQuery{}
		ordered := false
		for _, name := range sortedKeys(args) {
			v := args[name]
			if v == nil {
				continue
			}
			switch name {
			case "first":
				n, err := parseCount(name, v)
				if err != nil {
					return nil, err
				}
				q.First = &n
			case "offset":
				if q.Offset, err = parseCount(name, v); err != nil {
					return nil, err
				}
			case "orderBy":
				values, ok := v.([]interface{})
				if !ok {
					values = []interface{}{v}
				}
				for _, value := range values {
					s, _ := value.(string)
					terms, ok := orderTerms[s]
					if !ok {
						return nil, jerrors.InvalidInput("unknown %sOrderBy value %v", typeName, value)
					}
					q.OrderBy = append(q.OrderBy, terms...)
				}
				ordered = true
			case "condition":
				if q.Condition, err = parseCondition(fields, v); err != nil {
					return nil, fmt.Errorf("condition: %w", err)
				}
			case "filter":
				if q.Filter, err = parseFilter(fields, v); err != nil {
					return nil, fmt.Errorf("filter: %w", err)
				}
			default:
				return nil, jerrors.InvalidInput("unknown argument %s", name)
			}
		}

		if !ordered {
			for _, col := range pk {
				q.OrderBy = append(q.OrderBy, OrderTerm{Column: col})
			}
		}
		return q, nil
	}
}

func parseCondition(fields map[string]*FieldDescriptor, raw interface{}) ([]Assignment, error) {
	m, err := argMap(raw)
	if err != nil {
		return nil, err
	}
	var out []Assignment
	for _, name := range sortedKeys(m) {
		fd, ok := fields[name]
		if !ok {
			return nil, jerrors.InvalidInput("unknown field %s", name)
		}
		v, err := coerceInput(fd.Scalar, m[name])
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		out = append(out, Assignment{Column: fd.Column, Value: v})
	}
	return out, nil
}

func parseFilter(fields map[string]*FieldDescriptor, raw interface{}) (*Filter, error) {
	m, err := argMap(raw)
	if err != nil {
		return nil, err
	}

	f := &Filter{}
	for _, name := range sortedKeys(m) {
		v := m[name]
		switch name {
		case "and", "or":
			list, ok := v.([]interface{})
			if !ok {
				list = []interface{}{v}
			}
			for _, item := range list {
				sub, err := parseFilter(fields, item)
				if err != nil {
					return nil, fmt.Errorf("%s: %w", name, err)
				}
				if name == "and" {
					f.And = append(f.And, sub)
				} else {
					f.Or = append(f.Or, sub)
				}
			}
		case "not":
			if f.Not, err = parseFilter(fields, v); err != nil {
				return nil, fmt.Errorf("not: %w", err)
			}
		default:
			fd, ok := fields[name]
			if !ok {
				return nil, jerrors.InvalidInput("unknown field %s", name)
			}
			comparisons, err := parseComparisons(fd, v)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", name, err)
			}
			f.Comparisons = append(f.Comparisons, comparisons...)
		}
	}
	return f, nil
}

func parseComparisons(fd *FieldDescriptor, raw interface{}) ([]Comparison, error) {
	m, err := argMap(raw)
	if err != nil {
		return nil, err
	}
	var out []Comparison
	for _, name := range sortedKeys(m) {
		op := Op(name)
		v := m[name]
		switch op {
		case OpEqual, OpNotEqual, OpLess, OpLessOrEqual, OpGreater, OpGreaterOrEqual:
			if v == nil {
				return nil, jerrors.InvalidInput("%s needs a value", op)
			}
			if v, err = coerceInput(fd.Scalar, v); err != nil {
				return nil, err
			}
		case OpIn:
			list, ok := v.([]interface{})
			if !ok {
				list = []interface{}{v}
			}
			values := make([]interface{}, len(list))
			for i, item := range list {
				if values[i], err = coerceInput(fd.Scalar, item); err != nil {
					return nil, err
				}
			}
			v = values
		case OpIsNull:
			if _, ok := v.(bool); !ok {
				return nil, jerrors.InvalidInput("isNull must be a boolean")
			}
		case OpLike, OpIncludesInsensitive:
			if fd.Scalar != String {
				return nil, jerrors.InvalidInput("%s is only supported on strings", op)
			}
			if _, ok := v.(string); !ok {
				return nil, jerrors.InvalidInput("%s must be a string", op)
			}
		default:
			return nil, jerrors.InvalidInput("unknown operator %s", name)
		}
		out = append(out, Comparison{Column: fd.Column, Op: op, Value: v})
	}
	return out, nil
}

// mutationParser parses the primary key arguments of a type when withKey is
// set, and the named input object when input is set.
func mutationParser(td *TypeDescriptor, withKey bool, input string, required bool) func(interface{}) (interface{}, error) {
	var keyFields []*FieldDescriptor
	if withKey {
		for _, col := range td.PrimaryKey {
			keyFields = append(keyFields, td.FieldByColumn(col))
		}
	}
	fields := td.Fields

	return func(raw interface{}) (interface{}, error) {
		args, err := argMap(raw)
		if err != nil {
			return nil, err
		}

		out := &mutationArgs{}
		seen := make(map[string]bool)
		for _, fd := range keyFields {
			v, ok := args[fd.Name]
			if !ok || v == nil {
				return nil, jerrors.InvalidInput("missing argument %s", fd.Name)
			}
			if v, err = coerceInput(fd.Scalar, v); err != nil {
				return nil, fmt.Errorf("%s: %w", fd.Name, err)
			}
			out.Key = append(out.Key, v)
			seen[fd.Name] = true
		}

		if input != "" {
			if out.Values, err = parseValues(fields, args[input], required); err != nil {
				return nil, fmt.Errorf("%s: %w", input, err)
			}
			seen[input] = true
		}

		for name := range args {
			if !seen[name] {
				return nil, jerrors.InvalidInput("unknown argument %s", name)
			}
		}
		return out, nil
	}
}

// parseValues parses a create input or an update patch. When required is
// set, non-null columns without a default must be given.
func parseValues(fields []*FieldDescriptor, raw interface{}, required bool) ([]Assignment, error) {
	m, err := argMap(raw)
	if err != nil {
		return nil, err
	}

	var out []Assignment
	known := 0
	for _, fd := range fields {
		v, ok := m[fd.Name]
		if !ok {
			if required && !fd.Nullable && !fd.HasDefault {
				return nil, jerrors.InvalidInput("missing field %s", fd.Name)
			}
			continue
		}
		known++
		if v == nil && !fd.Nullable {
			return nil, jerrors.InvalidInput("field %s cannot be null", fd.Name)
		}
		if v, err = coerceInput(fd.Scalar, v); err != nil {
			return nil, fmt.Errorf("%s: %w", fd.Name, err)
		}
		out = append(out, Assignment{Column: fd.Column, Value: v})
	}
	if known != len(m) {
		for _, name := range sortedKeys(m) {
			found := false
			for _, fd := range fields {
				found = found || fd.Name == name
			}
			if !found {
				return nil, jerrors.InvalidInput("unknown field %s", name)
			}
		}
	}
	if len(out) == 0 && !required {
		return nil, jerrors.InvalidInput("patch sets no fields")
	}
	return out, nil
}

// functionParser parses the arguments of a function field. Mutations take
// their arguments wrapped in an input object.
func functionParser(fn *FunctionDescriptor) func(interface{}) (interface{}, error) {
	return func(raw interface{}) (interface{}, error) {
		args, err := argMap(raw)
		if err != nil {
			return nil, err
		}
		if fn.Mutation {
			input, ok := args["input"]
			if !ok || input == nil {
				return nil, jerrors.InvalidInput("missing argument input")
			}
			if len(args) > 1 {
				return nil, jerrors.InvalidInput("%s takes only an input argument", fn.FieldName)
			}
			if args, err = argMap(input); err != nil {
				return nil, fmt.Errorf("input: %w", err)
			}
		}

		values := make([]interface{}, len(fn.Args))
		for i, arg := range fn.Args {
			if values[i], err = coerceInput(arg.Scalar, args[arg.FieldName]); err != nil {
				return nil, fmt.Errorf("%s: %w", arg.FieldName, err)
			}
		}
		for name := range args {
			found := false
			for _, arg := range fn.Args {
				found = found || arg.FieldName == name
			}
			if !found {
				return nil, jerrors.InvalidInput("unknown argument %s", name)
			}
		}
		return values, nil
	}
}
