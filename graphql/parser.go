package graphql

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/graphql-go/graphql/language/ast"
	"github.com/graphql-go/graphql/language/parser"
)

// Parse parses a document holding a single operation and substitutes vars
// into its arguments.
func Parse(source string, vars map[string]interface{}) (*Query, error) {
	return ParseOperation(source, vars, "")
}

// ParseOperation parses a document and selects the operation named
// operationName. An empty name requires the document to hold a single
// operation.
func ParseOperation(source string, vars map[string]interface{}, operationName string) (*Query, error) {
	if strings.TrimSpace(source) == "" {
		return nil, errors.New("must have a single query")
	}

	doc, err := parser.Parse(parser.ParseParams{Source: source})
	if err != nil {
		return nil, err
	}

	var operations []*ast.OperationDefinition
	definitions := make(map[string]*ast.FragmentDefinition)
	for _, def := range doc.Definitions {
		switch def := def.(type) {
		case *ast.OperationDefinition:
			operations = append(operations, def)
		case *ast.FragmentDefinition:
			name := def.Name.Value
			if _, ok := definitions[name]; ok {
				return nil, fmt.Errorf("duplicate fragment %s", name)
			}
			definitions[name] = def
		default:
			return nil, fmt.Errorf("unsupported definition %s", def.GetKind())
		}
	}

	op, err := pickOperation(operations, operationName)
	if err != nil {
		return nil, err
	}

	if vars == nil {
		vars = make(map[string]interface{})
	}
	p := &queryParser{
		vars:        vars,
		definitions: definitions,
		fragments:   make(map[string]*FragmentDefinition),
		visiting:    make(map[string]bool),
	}
	if err := p.applyVariableDefinitions(op.VariableDefinitions); err != nil {
		return nil, err
	}

	selectionSet, err := p.selectionSet(op.SelectionSet)
	if err != nil {
		return nil, err
	}

	name := ""
	if op.Name != nil {
		name = op.Name.Value
	}
	kind := op.Operation
	if kind == "" {
		kind = "query"
	}

	return &Query{
		Name:         name,
		Kind:         kind,
		SelectionSet: selectionSet,
	}, nil
}

func pickOperation(operations []*ast.OperationDefinition, name string) (*ast.OperationDefinition, error) {
	if name == "" {
		if len(operations) != 1 {
			return nil, errors.New("must have a single query")
		}
		return operations[0], nil
	}
	for _, op := range operations {
		if op.Name != nil && op.Name.Value == name {
			return op, nil
		}
	}
	return nil, fmt.Errorf("unknown operation %s", name)
}

type queryParser struct {
	vars        map[string]interface{}
	definitions map[string]*ast.FragmentDefinition
	fragments   map[string]*FragmentDefinition
	visiting    map[string]bool
}

func (p *queryParser) applyVariableDefinitions(defs []*ast.VariableDefinition) error {
	for _, def := range defs {
		name := def.Variable.Name.Value
		if v, ok := p.vars[name]; ok && v != nil {
			continue
		}
		if def.DefaultValue != nil {
			value, err := p.value(def.DefaultValue)
			if err != nil {
				return err
			}
			p.vars[name] = value
			continue
		}
		if _, ok := def.Type.(*ast.NonNull); ok {
			return fmt.Errorf("missing required variable $%s", name)
		}
	}
	return nil
}

func (p *queryParser) selectionSet(set *ast.SelectionSet) (*SelectionSet, error) {
	out := &SelectionSet{}
	if set == nil {
		return out, nil
	}

	for _, selection := range set.Selections {
		switch selection := selection.(type) {
		case *ast.Field:
			s, err := p.field(selection)
			if err != nil {
				return nil, err
			}
			out.Selections = append(out.Selections, s)

		case *ast.FragmentSpread:
			fragment, err := p.fragment(selection.Name.Value)
			if err != nil {
				return nil, err
			}
			directives, err := p.directives(selection.Directives)
			if err != nil {
				return nil, err
			}
			out.Fragments = append(out.Fragments, &FragmentSpread{Fragment: fragment, Directives: directives})

		case *ast.InlineFragment:
			on := ""
			if selection.TypeCondition != nil {
				on = selection.TypeCondition.Name.Value
			}
			inner, err := p.selectionSet(selection.SelectionSet)
			if err != nil {
				return nil, err
			}
			directives, err := p.directives(selection.Directives)
			if err != nil {
				return nil, err
			}
			out.Fragments = append(out.Fragments, &FragmentSpread{
				Fragment:   &FragmentDefinition{On: on, SelectionSet: inner},
				Directives: directives,
			})

		default:
			return nil, fmt.Errorf("unsupported selection %T", selection)
		}
	}

	return out, nil
}

func (p *queryParser) field(f *ast.Field) (*Selection, error) {
	s := &Selection{
		Name:  f.Name.Value,
		Alias: f.Name.Value,
	}
	if f.Alias != nil {
		s.Alias = f.Alias.Value
	}

	args := make(map[string]interface{}, len(f.Arguments))
	for _, arg := range f.Arguments {
		value, err := p.value(arg.Value)
		if err != nil {
			return nil, err
		}
		args[arg.Name.Value] = value
	}
	s.Args = args

	directives, err := p.directives(f.Directives)
	if err != nil {
		return nil, err
	}
	s.Directives = directives

	if f.SelectionSet != nil {
		inner, err := p.selectionSet(f.SelectionSet)
		if err != nil {
			return nil, err
		}
		s.SelectionSet = inner
	}
	return s, nil
}

// fragment converts a named fragment once, rejecting fragments that spread
// themselves.
func (p *queryParser) fragment(name string) (*FragmentDefinition, error) {
	if fragment, ok := p.fragments[name]; ok {
		return fragment, nil
	}
	def, ok := p.definitions[name]
	if !ok {
		return nil, fmt.Errorf("unknown fragment %s", name)
	}
	if p.visiting[name] {
		return nil, fmt.Errorf("fragment %s contains itself", name)
	}
	p.visiting[name] = true
	defer delete(p.visiting, name)

	inner, err := p.selectionSet(def.SelectionSet)
	if err != nil {
		return nil, err
	}
	on := ""
	if def.TypeCondition != nil {
		on = def.TypeCondition.Name.Value
	}
	fragment := &FragmentDefinition{Name: name, On: on, SelectionSet: inner}
	p.fragments[name] = fragment
	return fragment, nil
}

func (p *queryParser) directives(in []*ast.Directive) ([]*Directive, error) {
	var out []*Directive
	for _, d := range in {
		args := make(map[string]interface{}, len(d.Arguments))
		for _, arg := range d.Arguments {
			value, err := p.value(arg.Value)
			if err != nil {
				return nil, err
			}
			args[arg.Name.Value] = value
		}
		out = append(out, &Directive{Name: d.Name.Value, Args: args})
	}
	return out, nil
}

// value converts a literal into the same shapes encoding/json produces for
// variables, so argument parsers see one representation.
func (p *queryParser) value(v ast.Value) (interface{}, error) {
	switch v := v.(type) {
	case *ast.Variable:
		return p.vars[v.Name.Value], nil
	case *ast.IntValue:
		return strconv.ParseFloat(v.Value, 64)
	case *ast.FloatValue:
		return strconv.ParseFloat(v.Value, 64)
	case *ast.StringValue:
		return v.Value, nil
	case *ast.BooleanValue:
		return v.Value, nil
	case *ast.EnumValue:
		return v.Value, nil
	case *ast.ListValue:
		list := make([]interface{}, 0, len(v.Values))
		for _, item := range v.Values {
			value, err := p.value(item)
			if err != nil {
				return nil, err
			}
			list = append(list, value)
		}
		return list, nil
	case *ast.ObjectValue:
		object := make(map[string]interface{}, len(v.Fields))
		for _, field := range v.Fields {
			value, err := p.value(field.Value)
			if err != nil {
				return nil, err
			}
			object[field.Name.Value] = value
		}
		return object, nil
	default:
		return nil, fmt.Errorf("unsupported value %T", v)
	}
}
