package workflow_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cristian75IT/kronos-hrms-sub005/workflow"
)

// =============================================================================
// TEST SETUP
// =============================================================================

// stubDirectory maps role IDs to fixed approver lists. The empty key holds
// the "any role with approval permission" fallback.
type stubDirectory map[string][]string

func (d stubDirectory) ApproversForRoles(roleIDs []string) []string {
	if len(roleIDs) == 0 {
		return d[""]
	}
	var out []string
	seen := map[string]bool{}
	for _, r := range roleIDs {
		for _, u := range d[r] {
			if !seen[u] {
				seen[u] = true
				out = append(out, u)
			}
		}
	}
	return out
}

func newTestRegistry() *workflow.Registry {
	return workflow.NewRegistry(stubDirectory{
		"":           {"mgr-1", "hr-1"},
		"role-mgr":   {"mgr-1", "mgr-2"},
		"role-hr":    {"hr-1"},
		"role-empty": nil,
	})
}

var engineer = workflow.EmployeeContext{
	EmployeeID: "emp-1",
	RoleIDs:    []string{"role-dev"},
	Department: "engineering",
}

// =============================================================================
// RESOLUTION SPECIFICITY
// =============================================================================

func TestRegistry_Resolve_MostSpecificWins(t *testing.T) {
	// GIVEN: a global default, a department policy and a role policy all
	//        covering the same employee
	// WHEN: resolving for that employee
	// THEN: the role-scoped policy wins over department over global

	r := newTestRegistry()
	r.Register(workflow.Config{ID: "wf-global", Name: "default", Mode: workflow.ModeAny})
	r.Register(workflow.Config{
		ID: "wf-dept", Name: "engineering",
		Mode:                workflow.ModeAll,
		AppliesToDepartment: "engineering",
	})
	r.Register(workflow.Config{
		ID: "wf-role", Name: "developers",
		Mode:           workflow.ModeMajority,
		AppliesToRoles: []string{"role-dev"},
	})

	cfg, err := r.Resolve("vacation", engineer)
	require.NoError(t, err)
	assert.Equal(t, "wf-role", cfg.ID)

	// Without the role match the department policy takes over.
	other := engineer
	other.RoleIDs = []string{"role-ops"}
	cfg, err = r.Resolve("vacation", other)
	require.NoError(t, err)
	assert.Equal(t, "wf-dept", cfg.ID)

	// Outside the department the global default remains.
	other.Department = "sales"
	cfg, err = r.Resolve("vacation", other)
	require.NoError(t, err)
	assert.Equal(t, "wf-global", cfg.ID)
}

func TestRegistry_Resolve_LeaveTypeScope(t *testing.T) {
	r := newTestRegistry()
	r.Register(workflow.Config{ID: "wf-all-types", Name: "default", Mode: workflow.ModeAny})
	r.Register(workflow.Config{
		ID: "wf-rol", Name: "rol only",
		Mode:          workflow.ModeAll,
		LeaveTypeCode: "rol",
	})

	cfg, err := r.Resolve("rol", engineer)
	require.NoError(t, err)
	assert.Equal(t, "wf-rol", cfg.ID)

	cfg, err = r.Resolve("vacation", engineer)
	require.NoError(t, err)
	assert.Equal(t, "wf-all-types", cfg.ID)
}

func TestRegistry_Resolve_PriorityBreaksTies(t *testing.T) {
	r := newTestRegistry()
	r.Register(workflow.Config{ID: "wf-b", Name: "b", Mode: workflow.ModeAny, Priority: 20})
	r.Register(workflow.Config{ID: "wf-a", Name: "a", Mode: workflow.ModeAll, Priority: 10})

	cfg, err := r.Resolve("vacation", engineer)
	require.NoError(t, err)
	assert.Equal(t, "wf-a", cfg.ID, "lower priority value wins within the same specificity")
}

func TestRegistry_Resolve_NoPolicyIsMisconfiguration(t *testing.T) {
	// An employee no policy covers must fail loudly at submission, not sit
	// in a queue nobody owns.
	r := newTestRegistry()
	r.Register(workflow.Config{
		ID: "wf-hr-only", Name: "hr",
		Mode:                workflow.ModeAny,
		AppliesToDepartment: "hr",
	})

	_, err := r.Resolve("vacation", engineer)
	assert.ErrorIs(t, err, workflow.ErrMisconfigured)
}

// =============================================================================
// VERSIONING + SNAPSHOT IMMUTABILITY
// =============================================================================

func TestRegistry_Register_BumpsVersion(t *testing.T) {
	r := newTestRegistry()

	v1 := r.Register(workflow.Config{ID: "wf-1", Name: "policy", Mode: workflow.ModeAny})
	assert.Equal(t, 1, v1.Version)

	v2 := r.Register(workflow.Config{ID: "wf-1", Name: "policy", Mode: workflow.ModeAll})
	assert.Equal(t, 2, v2.Version)

	got, ok := r.Get("wf-1")
	require.True(t, ok)
	assert.Equal(t, workflow.ModeAll, got.Mode)
}

func TestRegistry_Snapshot_FrozenAgainstLaterEdits(t *testing.T) {
	// GIVEN: a snapshot taken from version 1 of a policy
	// WHEN: the policy is re-registered with a different mode
	// THEN: the snapshot keeps the version-1 semantics

	r := newTestRegistry()
	cfg := r.Register(workflow.Config{
		ID: "wf-1", Name: "policy",
		Mode:          workflow.ModeAny,
		TargetRoleIDs: []string{"role-mgr"},
	})

	snap, err := r.Snapshot(cfg)
	require.NoError(t, err)

	r.Register(workflow.Config{
		ID: "wf-1", Name: "policy",
		Mode:          workflow.ModeAll,
		TargetRoleIDs: []string{"role-hr"},
	})

	assert.Equal(t, workflow.ModeAny, snap.Mode)
	assert.Equal(t, []string{"mgr-1", "mgr-2"}, snap.Approvers)
	assert.Equal(t, 1, snap.Version)
}

func TestRegistry_Snapshot_NoApproversFailsFast(t *testing.T) {
	r := newTestRegistry()
	cfg := r.Register(workflow.Config{
		ID: "wf-1", Name: "orphan",
		Mode:          workflow.ModeAny,
		TargetRoleIDs: []string{"role-empty"},
	})

	_, err := r.Snapshot(cfg)
	assert.ErrorIs(t, err, workflow.ErrMisconfigured)
}

func TestRegistry_Snapshot_MinApproversExceedsPool(t *testing.T) {
	r := newTestRegistry()
	cfg := r.Register(workflow.Config{
		ID: "wf-1", Name: "too strict",
		Mode:          workflow.ModeMajority,
		MinApprovers:  5,
		TargetRoleIDs: []string{"role-hr"},
	})

	_, err := r.Snapshot(cfg)
	assert.ErrorIs(t, err, workflow.ErrMisconfigured)
}
