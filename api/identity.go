package api

import (
	"sync"

	"github.com/cristian75IT/kronos-hrms-sub005/workflow"
)

// StaticDirectory is an in-process identity source: it maps employee IDs to
// their roles and departments and resolves role IDs to approver user IDs.
// Implements both Identity (for handlers) and workflow.Directory (for the
// policy registry). A production deployment swaps this for the HR identity
// service.
type StaticDirectory struct {
	mu        sync.RWMutex
	employees map[string]workflow.EmployeeContext

	// roleMembers maps a role ID to the user IDs holding it. The "" key is
	// the fallback pool of everyone with approval permission.
	roleMembers map[string][]string
}

func NewStaticDirectory() *StaticDirectory {
	return &StaticDirectory{
		employees:   make(map[string]workflow.EmployeeContext),
		roleMembers: make(map[string][]string),
	}
}

// AddEmployee registers an employee with their roles and department.
func (d *StaticDirectory) AddEmployee(emp workflow.EmployeeContext) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.employees[emp.EmployeeID] = emp
}

// GrantRole adds a user to a role's member pool. An empty role ID grants the
// general approval permission.
func (d *StaticDirectory) GrantRole(roleID, userID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.roleMembers[roleID] = append(d.roleMembers[roleID], userID)
}

// EmployeeContext implements Identity.
func (d *StaticDirectory) EmployeeContext(employeeID string) (workflow.EmployeeContext, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	emp, ok := d.employees[employeeID]
	return emp, ok
}

// ApproversForRoles implements workflow.Directory. Deduplicates across roles
// while preserving first-seen order.
func (d *StaticDirectory) ApproversForRoles(roleIDs []string) []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if len(roleIDs) == 0 {
		return append([]string(nil), d.roleMembers[""]...)
	}

	seen := make(map[string]bool)
	var out []string
	for _, roleID := range roleIDs {
		for _, userID := range d.roleMembers[roleID] {
			if !seen[userID] {
				seen[userID] = true
				out = append(out, userID)
			}
		}
	}
	return out
}
