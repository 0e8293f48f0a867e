package framework

// AgentRole describes what an agent contributes to a workflow. Prompt framing
// between steps and output-shape checks key off the role, not the agent ID.
type AgentRole string

const (
	RolePlan      AgentRole = "plan"
	RoleImplement AgentRole = "implement"
	RoleReview    AgentRole = "review"
	RoleAudit     AgentRole = "audit"
)

// ProducesFiles reports whether the role is expected to emit file blocks.
func (r AgentRole) ProducesFiles() bool {
	return r == RoleImplement
}

// Critiques reports whether the role emits findings rather than files.
func (r AgentRole) Critiques() bool {
	return r == RoleReview || r == RoleAudit
}

// Valid reports whether r is a known role.
func (r AgentRole) Valid() bool {
	switch r {
	case RolePlan, RoleImplement, RoleReview, RoleAudit:
		return true
	}
	return false
}
