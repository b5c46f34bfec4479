package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRolesKind(t *testing.T) {
	roles := Roles{Entry: "Triage Agent", Clarifier: "Clarifying Questions Agent", Researcher: "Research Agent"}

	assert.Equal(t, RoleKindClarifier, roles.Kind("Clarifying Questions Agent"))
	assert.Equal(t, RoleKindResearcher, roles.Kind("Research Agent"))
	assert.Equal(t, RoleKindPassThrough, roles.Kind("Triage Agent"))
	assert.Equal(t, RoleKindPassThrough, roles.Kind("research agent"), "matching is exact")
	assert.False(t, roles.SingleAgent())
}

func TestRolesSingleAgent(t *testing.T) {
	roles := Roles{Entry: "Research Agent", Researcher: "Research Agent"}
	assert.True(t, roles.SingleAgent())
	assert.Equal(t, RoleKindResearcher, roles.Kind("Research Agent"))

	// An empty researcher collapses onto the entry agent.
	roles = Roles{Entry: "Assistant"}
	assert.True(t, roles.SingleAgent())
	assert.Equal(t, RoleKindResearcher, roles.Kind("Assistant"))
	assert.Equal(t, RoleKindPassThrough, roles.Kind("Other"))
}

func TestRolesValidate(t *testing.T) {
	assert.Error(t, Roles{}.Validate())
	assert.Error(t, Roles{Entry: "a", Clarifier: "b", Researcher: "b"}.Validate())
	assert.NoError(t, Roles{Entry: "a", Clarifier: "b", Researcher: "c"}.Validate())
	assert.NoError(t, Roles{Entry: "a"}.Validate())
}
