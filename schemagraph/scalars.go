package schemagraph

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.appointy.com/capi/graphql"
	"go.appointy.com/capi/jerrors"
)

// Scalar names used by reflected fields.
const (
	Int      = "Int"
	BigInt   = "BigInt"
	Float    = "Float"
	BigFloat = "BigFloat"
	Boolean  = "Boolean"
	String   = "String"
	UUID     = "UUID"
	Datetime = "Datetime"
	Date     = "Date"
	JSON     = "JSON"
)

// scalarFor maps a normalized column type to a scalar name. Unknown types are
// exposed as strings.
func scalarFor(dbType string) string {
	switch dbType {
	case "int2", "int4", "smallint", "integer", "int", "tinyint", "mediumint", "serial", "serial4":
		return Int
	case "int8", "bigint", "bigserial", "serial8":
		return BigInt
	case "float4", "float8", "real", "double", "double precision", "float":
		return Float
	case "numeric", "decimal", "money":
		return BigFloat
	case "bool", "boolean":
		return Boolean
	case "uuid":
		return UUID
	case "timestamp", "timestamptz", "datetime":
		return Datetime
	case "date":
		return Date
	case "json", "jsonb":
		return JSON
	}
	return String
}

var scalarDescriptions = map[string]string{
	BigInt:   "A signed eight-byte integer, serialized as a string.",
	BigFloat: "An arbitrary precision decimal, serialized as a string.",
	UUID:     "A universally unique identifier as defined by RFC 4122.",
	Datetime: "A point in time as described by ISO 8601.",
	Date:     "A calendar date in YYYY-MM-DD form.",
	JSON:     "A JSON value.",
}

// newScalars creates the scalar types of one graph.
func newScalars() map[string]*graphql.Scalar {
	scalars := map[string]*graphql.Scalar{
		Int:      {Unwrapper: unwrapInt},
		BigInt:   {Unwrapper: unwrapBigInt},
		Float:    {Unwrapper: unwrapFloat},
		BigFloat: {Unwrapper: unwrapBigFloat},
		Boolean:  {Unwrapper: unwrapBoolean},
		String:   {Unwrapper: unwrapString},
		UUID:     {Unwrapper: unwrapString, SpecifiedByURL: "https://tools.ietf.org/html/rfc4122"},
		Datetime: {Unwrapper: unwrapDatetime},
		Date:     {Unwrapper: unwrapDate},
		JSON:     {Unwrapper: unwrapJSON},
	}
	for name, s := range scalars {
		s.Type = name
		s.Description = scalarDescriptions[name]
	}
	return scalars
}

func unwrapInt(v interface{}) (interface{}, error) {
	switch v := v.(type) {
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case float64:
		return int64(v), nil
	case string:
		return strconv.ParseInt(v, 10, 64)
	}
	return nil, fmt.Errorf("cannot serialize %T as Int", v)
}

func unwrapBigInt(v interface{}) (interface{}, error) {
	switch v := v.(type) {
	case int64:
		return strconv.FormatInt(v, 10), nil
	case int:
		return strconv.Itoa(v), nil
	case string:
		return v, nil
	}
	return nil, fmt.Errorf("cannot serialize %T as BigInt", v)
}

func unwrapFloat(v interface{}) (interface{}, error) {
	switch v := v.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case string:
		return strconv.ParseFloat(v, 64)
	}
	return nil, fmt.Errorf("cannot serialize %T as Float", v)
}

func unwrapBigFloat(v interface{}) (interface{}, error) {
	switch v := v.(type) {
	case string:
		return v, nil
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	}
	return nil, fmt.Errorf("cannot serialize %T as BigFloat", v)
}

func unwrapBoolean(v interface{}) (interface{}, error) {
	switch v := v.(type) {
	case bool:
		return v, nil
	case int64:
		return v != 0, nil
	case string:
		return strconv.ParseBool(v)
	}
	return nil, fmt.Errorf("cannot serialize %T as Boolean", v)
}

func unwrapString(v interface{}) (interface{}, error) {
	switch v := v.(type) {
	case string:
		return v, nil
	case time.Time:
		return v.Format(time.RFC3339Nano), nil
	}
	return fmt.Sprint(v), nil
}

func unwrapDatetime(v interface{}) (interface{}, error) {
	switch v := v.(type) {
	case time.Time:
		return v.Format(time.RFC3339Nano), nil
	case string:
		return v, nil
	}
	return nil, fmt.Errorf("cannot serialize %T as Datetime", v)
}

func unwrapDate(v interface{}) (interface{}, error) {
	switch v := v.(type) {
	case time.Time:
		return v.Format("2006-01-02"), nil
	case string:
		return v, nil
	}
	return nil, fmt.Errorf("cannot serialize %T as Date", v)
}

func unwrapJSON(v interface{}) (interface{}, error) {
	if s, ok := v.(string); ok && json.Valid([]byte(s)) {
		return json.RawMessage(s), nil
	}
	return v, nil
}

// coerceInput converts an argument value to the value bound to a statement
// parameter for a column of the given scalar.
func coerceInput(scalar string, v interface{}) (interface{}, error) {
	if v == nil {
		return nil, nil
	}
	switch scalar {
	case Int, BigInt:
		switch v := v.(type) {
		case float64:
			if v != math.Trunc(v) {
				return nil, jerrors.InvalidInput("%v is not an integer", v)
			}
			return int64(v), nil
		case string:
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil || scalar == Int {
				return nil, jerrors.InvalidInput("%q is not an %s", v, scalar)
			}
			return n, nil
		}
	case Float:
		if f, ok := v.(float64); ok {
			return f, nil
		}
	case BigFloat:
		switch v := v.(type) {
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64), nil
		case string:
			if _, err := strconv.ParseFloat(v, 64); err != nil {
				return nil, jerrors.InvalidInput("%q is not a number", v)
			}
			return v, nil
		}
	case Boolean:
		if b, ok := v.(bool); ok {
			return b, nil
		}
	case String:
		if s, ok := v.(string); ok {
			return s, nil
		}
	case UUID:
		if s, ok := v.(string); ok {
			id, err := uuid.Parse(s)
			if err != nil {
				return nil, jerrors.InvalidInput("%q is not a UUID", s)
			}
			return id.String(), nil
		}
	case Datetime:
		if s, ok := v.(string); ok {
			t, err := time.Parse(time.RFC3339Nano, s)
			if err != nil {
				return nil, jerrors.InvalidInput("%q is not an ISO 8601 datetime", s)
			}
			return t.UTC(), nil
		}
	case Date:
		if s, ok := v.(string); ok {
			if _, err := time.Parse("2006-01-02", s); err != nil {
				return nil, jerrors.InvalidInput("%q is not a date", s)
			}
			return s, nil
		}
	case JSON:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, jerrors.InvalidInput("invalid JSON: %v", err)
		}
		return string(b), nil
	}
	return nil, jerrors.InvalidInput("expected %s, got %s", scalar, describe(v))
}

func describe(v interface{}) string {
	switch v.(type) {
	case string:
		return "string"
	case float64:
		return "number"
	case bool:
		return "boolean"
	case []interface{}:
		return "list"
	case map[string]interface{}:
		return "object"
	}
	return strings.TrimPrefix(fmt.Sprintf("%T", v), "*")
}
