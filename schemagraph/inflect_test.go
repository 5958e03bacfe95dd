package schemagraph

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInflector(t *testing.T) {
	cases := []struct {
		table, typ, plural, single string
	}{
		{"boats", "Boat", "boats", "boat"},
		{"users", "User", "users", "user"},
		{"audit_log", "AuditLog", "auditLogs", "auditLog"},
		{"harbor_categories", "HarborCategory", "harborCategories", "harborCategory"},
		{"addresses", "Address", "addresses", "address"},
		{"people", "Person", "people", "person"},
		{"status", "Status", "statuses", "status"},
		{"boxes", "Box", "boxes", "box"},
	}
	for _, c := range cases {
		typ := typeName(c.table)
		assert.Equal(t, c.typ, typ, c.table)
		assert.Equal(t, c.plural, pluralField(typ), c.table)
		assert.Equal(t, c.single, singularField(typ), c.table)
	}
}

func TestRelationNames(t *testing.T) {
	assert.Equal(t, "owner", forwardRelationName([]string{"owner_id"}, "User"))
	assert.Equal(t, "userByCreatedBy", forwardRelationName([]string{"created_by"}, "User"))
	assert.Equal(t, "berthByHarborIdAndSeq", forwardRelationName([]string{"harbor_id", "seq"}, "Berth"))

	assert.Equal(t, "boats", backwardRelationName("Boat", []string{"owner_id"}, false))
	assert.Equal(t, "tripsByCaptainId", backwardRelationName("Trip", []string{"captain_id"}, true))

	assert.Equal(t, "OWNER_ID", orderValue("ownerId"))
	assert.Equal(t, "ownerId", fieldName("owner_id"))
}
