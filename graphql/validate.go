package graphql

import (
	"context"
	"errors"
	"fmt"

	"go.appointy.com/capi/jerrors"
)

// ValidateQuery checks a selection set against typ and parses the arguments
// of every selection with its field's ParseArguments, in place.
func ValidateQuery(ctx context.Context, typ Type, selectionSet *SelectionSet) error {
	if typ == nil {
		return errors.New("operation not supported by this schema")
	}
	return prepare(typ, selectionSet)
}

func prepare(typ Type, selectionSet *SelectionSet) error {
	switch typ := typ.(type) {
	case *Scalar, *Enum:
		if selectionSet != nil {
			return fmt.Errorf("scalar field %s must have no selections", typ)
		}
		return nil

	case *Object:
		if selectionSet == nil {
			return fmt.Errorf("object field %s must have selections", typ.Name)
		}
		return prepareObject(typ, selectionSet, make(map[*FragmentDefinition]bool))

	case *List:
		return prepare(typ.Type, selectionSet)

	case *NonNull:
		return prepare(typ.Type, selectionSet)

	default:
		return fmt.Errorf("cannot select from %T", typ)
	}
}

func prepareObject(obj *Object, selectionSet *SelectionSet, seen map[*FragmentDefinition]bool) error {
	aliases := make(map[string]string)
	for _, selection := range selectionSet.Selections {
		if prev, ok := aliases[selection.Alias]; ok && prev != selection.Name {
			return fmt.Errorf("same alias %s with different fields %s and %s", selection.Alias, prev, selection.Name)
		}
		aliases[selection.Alias] = selection.Name

		if selection.Name == "__typename" {
			if selection.SelectionSet != nil {
				return jerrors.NestPathError(selection.Alias, errors.New("scalar field __typename must have no selections"))
			}
			continue
		}

		field, ok := obj.Fields[selection.Name]
		if !ok {
			return fmt.Errorf("unknown field %s on %s", selection.Name, obj.Name)
		}

		if !selection.parsed {
			if field.ParseArguments != nil {
				parsed, err := field.ParseArguments(selection.Args)
				if err != nil {
					return jerrors.NestPathError(selection.Alias, err)
				}
				selection.Args = parsed
			} else if args, ok := selection.Args.(map[string]interface{}); ok && len(args) > 0 {
				return jerrors.NestPathError(selection.Alias, fmt.Errorf("field %s takes no arguments", selection.Name))
			}
			selection.parsed = true
		}

		if err := prepare(field.Type, selection.SelectionSet); err != nil {
			return jerrors.NestPathError(selection.Alias, err)
		}
	}

	for _, spread := range selectionSet.Fragments {
		fragment := spread.Fragment
		if fragment.On != "" && fragment.On != obj.Name {
			return fmt.Errorf("fragment on %s cannot be spread on %s", fragment.On, obj.Name)
		}
		if seen[fragment] {
			continue
		}
		seen[fragment] = true
		if err := prepareObject(obj, fragment.SelectionSet, seen); err != nil {
			return err
		}
	}
	return nil
}
