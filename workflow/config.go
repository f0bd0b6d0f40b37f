/*
Package workflow implements the configurable approval workflow.

PURPOSE:
  Two pieces live here:

  - Registry: named approval policies (mode, minimum approvers, target
    approver roles, expiration). Resolved once per leave request at
    submission and frozen into an immutable snapshot, so later edits to a
    named policy never change in-flight requests.

  - Engine: evaluates approve/reject/conditional-approve decisions against
    a bound snapshot and decides when the approval request reaches a
    terminal state (engine.go).

RESOLUTION ORDER:
  Most specific applicable policy wins:
    1. role-scoped    (applies_to_roles matches one of the employee's roles)
    2. department-scoped
    3. global default (no scope)
  Within the same specificity, lower Priority wins.

SEE ALSO:
  - engine.go: decision evaluation per approval mode
  - errors.go: misconfiguration and invalid-decision errors
*/
package workflow

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// APPROVAL MODE
// =============================================================================

type ApprovalMode string

const (
	ModeAny        ApprovalMode = "ANY"        // first approval satisfies
	ModeAll        ApprovalMode = "ALL"        // every eligible approver must approve
	ModeSequential ApprovalMode = "SEQUENTIAL" // approvers act in listed order
	ModeMajority   ApprovalMode = "MAJORITY"   // more than half of eligible approvers
)

// =============================================================================
// WORKFLOW CONFIG - A named approval policy
// =============================================================================

// Config is a named approval policy. Configs are versioned and never edited
// in place: changing a policy registers a new version, and requests keep the
// snapshot they were bound to.
type Config struct {
	ID   string
	Name string

	Mode ApprovalMode

	// MinApprovers is a floor on the number of approvals required. Under ANY
	// and MAJORITY it raises the mode's own threshold; under ALL and
	// SEQUENTIAL every eligible approver is required anyway.
	MinApprovers int

	// TargetRoleIDs restricts which roles may approve. Empty = any role with
	// approval permission.
	TargetRoleIDs []string

	// ExpirationHours bounds how long the approval may stay open. 0 = never
	// expires. Expiry is evaluated lazily on the next read/write.
	ExpirationHours int

	// Scope: which requests this policy applies to. The zero values make a
	// global default.
	LeaveTypeCode       string   // empty = all leave types
	AppliesToRoles      []string // employee-role scope
	AppliesToDepartment string   // department scope

	// Priority breaks ties within the same specificity; lower wins.
	Priority int

	Version   int
	CreatedAt time.Time
}

// =============================================================================
// SNAPSHOT - Config state frozen at binding time
// =============================================================================

// Snapshot is the immutable copy of a Config bound to one approval request,
// together with the concrete approver list resolved at binding time.
type Snapshot struct {
	ID       string
	ConfigID string
	Name     string
	Version  int

	Mode            ApprovalMode
	MinApprovers    int
	ExpirationHours int

	// Approvers is the resolved eligible approver list. For SEQUENTIAL mode
	// the order is the required acting order.
	Approvers []string

	TakenAt time.Time
}

// Expired reports whether the approval window has closed as of now.
func (s Snapshot) Expired(now time.Time) bool {
	if s.ExpirationHours <= 0 {
		return false
	}
	return now.After(s.TakenAt.Add(time.Duration(s.ExpirationHours) * time.Hour))
}

// =============================================================================
// EMPLOYEE CONTEXT + DIRECTORY COLLABORATOR
// =============================================================================

// EmployeeContext is the canonical identity input for resolution. Roles come
// from one source of truth (the identity collaborator), never from a
// client-supplied union.
type EmployeeContext struct {
	EmployeeID string
	RoleIDs    []string
	Department string
}

// Directory resolves role IDs to concrete approver user IDs. Implemented by
// the identity collaborator; not part of this core.
type Directory interface {
	// ApproversForRoles returns the user IDs holding any of the given roles.
	// An empty roles slice means "all users with approval permission".
	ApproversForRoles(roleIDs []string) []string
}

// =============================================================================
// REGISTRY
// =============================================================================

// Registry holds the named approval policies and resolves the applicable one
// for a request at submission time.
type Registry struct {
	mu        sync.RWMutex
	configs   map[string]Config
	directory Directory

	// Now is overridable for tests. Defaults to time.Now.
	Now func() time.Time
}

func NewRegistry(directory Directory) *Registry {
	return &Registry{
		configs:   make(map[string]Config),
		directory: directory,
		Now:       time.Now,
	}
}

// Register adds a config version. A config with the same ID replaces the
// previous version for future resolutions only; existing snapshots are
// untouched.
func (r *Registry) Register(cfg Config) Config {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cfg.ID == "" {
		cfg.ID = "wf-" + uuid.NewString()
	}
	if prev, ok := r.configs[cfg.ID]; ok {
		cfg.Version = prev.Version + 1
	} else if cfg.Version == 0 {
		cfg.Version = 1
	}
	if cfg.CreatedAt.IsZero() {
		cfg.CreatedAt = r.Now()
	}
	r.configs[cfg.ID] = cfg
	return cfg
}

// List returns all registered configs, stable by priority then name.
func (r *Registry) List() []Config {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Config, 0, len(r.configs))
	for _, c := range r.configs {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// Get returns a config by ID.
func (r *Registry) Get(id string) (Config, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.configs[id]
	return c, ok
}

// Resolve returns the most specific policy applicable to the employee and
// leave type: role-scoped over department-scoped over global default.
// Returns WorkflowMisconfigurationError if no policy applies or the resolved
// policy has no eligible approvers.
func (r *Registry) Resolve(leaveTypeCode string, emp EmployeeContext) (Config, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	best := Config{}
	bestRank := -1
	for _, cfg := range r.configs {
		if cfg.LeaveTypeCode != "" && cfg.LeaveTypeCode != leaveTypeCode {
			continue
		}
		rank, ok := specificity(cfg, emp)
		if !ok {
			continue
		}
		if rank > bestRank || (rank == bestRank && cfg.Priority < best.Priority) {
			best, bestRank = cfg, rank
		}
	}

	if bestRank < 0 {
		return Config{}, &MisconfigurationError{
			LeaveTypeCode: leaveTypeCode,
			Reason:        "no applicable workflow policy",
		}
	}
	return best, nil
}

// Snapshot freezes the config and its resolved approver list for binding to
// a request. Fails fast if the approver set cannot satisfy the policy - a
// request must never be left pending forever.
func (r *Registry) Snapshot(cfg Config) (Snapshot, error) {
	approvers := r.directory.ApproversForRoles(cfg.TargetRoleIDs)
	if len(approvers) == 0 {
		return Snapshot{}, &MisconfigurationError{
			ConfigID: cfg.ID,
			Reason:   "no eligible approvers for target roles",
		}
	}
	if cfg.MinApprovers > len(approvers) {
		return Snapshot{}, &MisconfigurationError{
			ConfigID: cfg.ID,
			Reason:   "min_approvers exceeds eligible approver count",
		}
	}

	return Snapshot{
		ID:              "wfs-" + uuid.NewString(),
		ConfigID:        cfg.ID,
		Name:            cfg.Name,
		Version:         cfg.Version,
		Mode:            cfg.Mode,
		MinApprovers:    cfg.MinApprovers,
		ExpirationHours: cfg.ExpirationHours,
		Approvers:       append([]string(nil), approvers...),
		TakenAt:         r.Now(),
	}, nil
}

// specificity ranks how specifically a config targets the employee:
// 2 = role match, 1 = department match, 0 = global. ok=false if the config
// is scoped and the employee does not match.
func specificity(cfg Config, emp EmployeeContext) (int, bool) {
	if len(cfg.AppliesToRoles) > 0 {
		for _, want := range cfg.AppliesToRoles {
			for _, have := range emp.RoleIDs {
				if want == have {
					return 2, true
				}
			}
		}
		return 0, false
	}
	if cfg.AppliesToDepartment != "" {
		if cfg.AppliesToDepartment == emp.Department {
			return 1, true
		}
		return 0, false
	}
	return 0, true
}
