package agents

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexcodex/codeforge/framework"
)

func TestFramePriorOutput(t *testing.T) {
	plan := framework.WorkflowStep{Agent: "planner", Role: framework.RolePlan, Output: "1. a\n2. b"}
	code := framework.WorkflowStep{Agent: "coder", Role: framework.RoleImplement, Output: "```ts\n// filepath: a.ts\n```"}
	review := framework.WorkflowStep{Agent: "reviewer", Role: framework.RoleReview, Output: "Issue: a.ts is empty"}

	tests := []struct {
		name string
		prev framework.WorkflowStep
		next framework.AgentRole
		want string
	}{
		{"plan to implement", plan, framework.RoleImplement, "Implementation plan from planner:"},
		{"implement to review", code, framework.RoleReview, "Code just written by coder:"},
		{"review to implement", review, framework.RoleImplement, "Review findings from reviewer:"},
		{"anything to audit", plan, framework.RoleAudit, "Output of the previous step (planner) to audit:"},
		{"review to audit", review, framework.RoleAudit, "to audit:"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FramePriorOutput(tt.prev, tt.next)
			assert.True(t, strings.HasPrefix(got, tt.want), got)
			assert.Contains(t, got, strings.TrimSpace(tt.prev.Output))
		})
	}

	assert.Empty(t, FramePriorOutput(framework.WorkflowStep{Agent: "planner", Role: framework.RolePlan, Output: "  \n"}, framework.RoleImplement))
}

func TestBuildConversation(t *testing.T) {
	spec := AgentSpec{ID: "coder", Instructions: "Write code.\n"}
	sel := framework.SelectContext([]framework.ArtifactFile{{Path: "app/page.tsx", Content: "export default function Page() {}", Language: "typescript"}}, "page", 1000)

	conv := BuildConversation(spec, sel, "Implementation plan from planner:\n\n1. x", "Add a page")
	require.Len(t, conv, 2)
	assert.Equal(t, framework.RoleSystem, conv[0].Role)
	assert.True(t, strings.HasPrefix(conv[0].Content, "Write code.\n\nCurrent project files:"))
	assert.Contains(t, conv[0].Content, "### app/page.tsx")
	assert.True(t, strings.HasSuffix(conv[0].Content, "1. x"))
	assert.Equal(t, framework.Message{Role: framework.RoleUser, Content: "Add a page"}, conv[1])

	bare := BuildConversation(spec, framework.ContextSelection{}, "", "Add a page")
	assert.Equal(t, "Write code.", bare[0].Content)
}
