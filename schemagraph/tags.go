package schemagraph

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"gopkg.in/yaml.v3"
)

// Tags adjust the reflected surface without changing the database. They are
// read from a YAML file:
//
//	tables:
//	  users:
//	    description: A registered user.
//	    owner: {column: id, claim: user_id, bypass: [capi_admin]}
//	    columns:
//	      email: {roles: [capi_admin, capi_user]}
//	      password_hash: {omit: true}
//	  audit_log: {omit: true}
type Tags struct {
	Tables map[string]*TableTags `yaml:"tables"`
}

// TableTags are the tags of one table.
type TableTags struct {
	Name        string                 `yaml:"name"`
	Description string                 `yaml:"description"`
	Omit        bool                   `yaml:"omit"`
	Owner       *OwnerTag              `yaml:"owner"`
	Columns     map[string]*ColumnTags `yaml:"columns"`
}

// OwnerTag limits the rows of a table to those whose Column equals the
// caller's Claim. Roles listed in Bypass see every row.
type OwnerTag struct {
	Column string   `yaml:"column"`
	Claim  string   `yaml:"claim"`
	Bypass []string `yaml:"bypass"`
}

// ColumnTags are the tags of one column.
type ColumnTags struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Omit        bool     `yaml:"omit"`
	Roles       []string `yaml:"roles"`
}

// LoadTags reads a tags file. A missing file yields empty tags.
func LoadTags(path string) (*Tags, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return &Tags{}, nil
	}
	if err != nil {
		return nil, err
	}
	return ParseTags(data)
}

// ParseTags parses the YAML form of Tags.
func ParseTags(data []byte) (*Tags, error) {
	tags := &Tags{}
	if err := yaml.Unmarshal(data, tags); err != nil {
		return nil, fmt.Errorf("parse tags: %w", err)
	}
	for table, t := range tags.Tables {
		if t == nil {
			tags.Tables[table] = &TableTags{}
			continue
		}
		if t.Owner != nil && (t.Owner.Column == "" || t.Owner.Claim == "") {
			return nil, fmt.Errorf("parse tags: owner of %s needs a column and a claim", table)
		}
	}
	return tags, nil
}

func (t *Tags) table(name string) *TableTags {
	if t == nil || t.Tables[name] == nil {
		return &TableTags{}
	}
	return t.Tables[name]
}

func (t *TableTags) column(name string) *ColumnTags {
	if t.Columns[name] == nil {
		return &ColumnTags{}
	}
	return t.Columns[name]
}

// predicate builds the row predicate of an owner tag.
func (o *OwnerTag) predicate() AccessPredicate {
	column, claim := o.Column, o.Claim
	bypass := append([]string(nil), o.Bypass...)
	return func(ac AccessContext, row Row) bool {
		for _, role := range bypass {
			if ac.Role == role {
				return true
			}
		}
		want, ok := ac.Claim(claim)
		if !ok {
			return false
		}
		v, ok := row[column]
		return ok && v != nil && fmt.Sprint(v) == want
	}
}
