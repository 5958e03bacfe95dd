package plugins

import (
	"strings"
	"unicode"

	"go.appointy.com/capi/extension"
	"go.appointy.com/capi/jerrors"
	"go.appointy.com/capi/schemagraph"
)

// NormalizeRegistration wraps Mutation.register so emails are stored
// lowercased and without whitespace. Graphs without the mutation are left
// alone.
func NormalizeRegistration() extension.Hook {
	wrap := extension.Wrap("normalize-registration", "Mutation", "register", extension.Wrapper{
		Args: func(args map[string]interface{}) (map[string]interface{}, error) {
			input, ok := args["input"].(map[string]interface{})
			if !ok {
				return args, nil
			}
			email, ok := input["email"].(string)
			if !ok {
				return args, nil
			}
			normalized := NormalizeEmail(email)
			if normalized == "" {
				return nil, jerrors.InvalidInput("email must not be blank")
			}

			copied := make(map[string]interface{}, len(input))
			for k, v := range input {
				copied[k] = v
			}
			copied["email"] = normalized
			out := make(map[string]interface{}, len(args))
			for k, v := range args {
				out[k] = v
			}
			out["input"] = copied
			return out, nil
		},
	})
	return extension.Func("normalize-registration", func(g *schemagraph.Graph) error {
		if obj, ok := g.Object("Mutation"); !ok || obj.Fields["register"] == nil {
			return nil
		}
		return wrap.Apply(g)
	})
}

// NormalizeEmail lowercases email and removes all whitespace from it.
func NormalizeEmail(email string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return unicode.ToLower(r)
	}, email)
}
