package agents

import (
	"fmt"
	"strings"

	"github.com/lexcodex/codeforge/framework"
)

// strictFilesPrompt is the one re-prompt sent when an implementation step
// produced no file blocks.
const strictFilesPrompt = "Your previous answer did not contain any file blocks. " +
	"Respond again with every file as a complete fenced code block. " +
	"The first line inside each block must be a path comment such as `// filepath: app/page.tsx`. " +
	"Do not write prose outside the code blocks."

// FramePriorOutput introduces the previous step's output to the next agent.
// The framing depends on what the previous agent did, except that an audit
// always sees the output as material to audit.
func FramePriorOutput(prev framework.WorkflowStep, next framework.AgentRole) string {
	output := strings.TrimSpace(prev.Output)
	if output == "" {
		return ""
	}
	var intro, outro string
	switch {
	case next == framework.RoleAudit:
		intro = fmt.Sprintf("Output of the previous step (%s) to audit:", prev.Agent)
		outro = "Audit this output together with the current project files."
	case prev.Role == framework.RolePlan:
		intro = fmt.Sprintf("Implementation plan from %s:", prev.Agent)
		outro = "Implement every step of this plan."
	case prev.Role == framework.RoleImplement:
		intro = fmt.Sprintf("Code just written by %s:", prev.Agent)
		outro = "Review this code."
	case prev.Role == framework.RoleReview:
		intro = fmt.Sprintf("Review findings from %s:", prev.Agent)
		outro = "Revise the implementation so every finding is addressed, re-emitting each changed file in full."
	default:
		intro = fmt.Sprintf("Output of the previous step (%s):", prev.Agent)
	}
	var b strings.Builder
	b.WriteString(intro)
	b.WriteString("\n\n")
	b.WriteString(output)
	if outro != "" {
		b.WriteString("\n\n")
		b.WriteString(outro)
	}
	return b.String()
}

// BuildConversation assembles the turns for one step: a system turn with the
// agent instructions, the selected context and the framed prior output,
// followed by the user request.
func BuildConversation(spec AgentSpec, selection framework.ContextSelection, prior, request string) []framework.Message {
	parts := []string{strings.TrimSpace(spec.Instructions)}
	if ctx := selection.Render(); ctx != "" {
		parts = append(parts, strings.TrimSpace(ctx))
	}
	if prior != "" {
		parts = append(parts, prior)
	}
	return []framework.Message{
		{Role: framework.RoleSystem, Content: strings.Join(parts, "\n\n")},
		{Role: framework.RoleUser, Content: request},
	}
}
