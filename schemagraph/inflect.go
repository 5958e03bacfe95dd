package schemagraph

import (
	"strings"

	"github.com/iancoleman/strcase"
)

var irregularPlurals = map[string]string{
	"person": "people",
	"child":  "children",
	"man":    "men",
	"woman":  "women",
}

var irregularSingulars = func() map[string]string {
	m := make(map[string]string, len(irregularPlurals))
	for s, p := range irregularPlurals {
		m[p] = s
	}
	return m
}()

// singularize returns the singular of the last word of a snake_case name.
func singularize(name string) string {
	head, word := splitLastWord(name)
	lower := strings.ToLower(word)
	if s, ok := irregularSingulars[lower]; ok {
		return head + s
	}
	switch {
	case strings.HasSuffix(lower, "ies") && len(lower) > 3:
		return head + word[:len(word)-3] + "y"
	case strings.HasSuffix(lower, "sses"), strings.HasSuffix(lower, "xes"),
		strings.HasSuffix(lower, "ches"), strings.HasSuffix(lower, "shes"), strings.HasSuffix(lower, "zes"):
		return head + word[:len(word)-2]
	case strings.HasSuffix(lower, "ss"), strings.HasSuffix(lower, "us"), strings.HasSuffix(lower, "is"):
		return name
	case strings.HasSuffix(lower, "s") && len(lower) > 1:
		return head + word[:len(word)-1]
	}
	return name
}

// pluralize returns the plural of the last word of a name.
func pluralize(name string) string {
	head, word := splitLastWord(name)
	lower := strings.ToLower(word)
	if p, ok := irregularPlurals[lower]; ok {
		if word != lower {
			p = strings.ToUpper(p[:1]) + p[1:]
		}
		return head + p
	}
	switch {
	case strings.HasSuffix(lower, "y") && len(lower) > 1 && !strings.ContainsRune("aeiou", rune(lower[len(lower)-2])):
		return head + word[:len(word)-1] + "ies"
	case strings.HasSuffix(lower, "s"), strings.HasSuffix(lower, "x"), strings.HasSuffix(lower, "z"),
		strings.HasSuffix(lower, "ch"), strings.HasSuffix(lower, "sh"):
		return name + "es"
	}
	return name + "s"
}

// splitLastWord splits snake_case or CamelCase names before their last word.
func splitLastWord(name string) (string, string) {
	if i := strings.LastIndexByte(name, '_'); i >= 0 {
		return name[:i+1], name[i+1:]
	}
	for i := len(name) - 1; i > 0; i-- {
		if name[i] >= 'A' && name[i] <= 'Z' {
			return name[:i], name[i:]
		}
	}
	return "", name
}

// typeName names the object type of a table: boats becomes Boat.
func typeName(table string) string {
	return strcase.ToCamel(singularize(table))
}

// pluralField names the list field of a type: Boat becomes boats.
func pluralField(typ string) string {
	return strcase.ToLowerCamel(pluralize(typ))
}

// singularField names the lookup field of a type: Boat becomes boat.
func singularField(typ string) string {
	return strcase.ToLowerCamel(typ)
}

// fieldName names the field of a column: owner_id becomes ownerId.
func fieldName(column string) string {
	return strcase.ToLowerCamel(column)
}

// byColumns is appended to relation names that need disambiguation:
// ByOwnerId, ByBoatIdAndSeq.
func byColumns(columns []string) string {
	return "By" + strcase.ToCamel(strings.Join(columns, "_and_"))
}

// forwardRelationName names a many-to-one relation. A single column foreign
// key such as owner_id is named after the column without its suffix.
func forwardRelationName(columns []string, target string) string {
	if len(columns) == 1 {
		for _, suffix := range []string{"_id", "_uuid"} {
			if trimmed := strings.TrimSuffix(columns[0], suffix); trimmed != columns[0] && trimmed != "" {
				return strcase.ToLowerCamel(trimmed)
			}
		}
	}
	return singularField(target) + byColumns(columns)
}

// backwardRelationName names a one-to-many relation, boats or
// boatsByOwnerId when source has several foreign keys to the same type.
func backwardRelationName(source string, columns []string, ambiguous bool) string {
	name := pluralField(source)
	if ambiguous {
		name += byColumns(columns)
	}
	return name
}

// orderValue names the orderBy enum value of a field: ownerId becomes
// OWNER_ID.
func orderValue(field string) string {
	return strcase.ToScreamingSnake(field)
}
