package correction

import (
	"fmt"
	"strings"

	"github.com/lexcodex/codeforge/framework"
	"github.com/lexcodex/codeforge/framework/validation"
)

const reemitInstruction = "Re-emit the COMPLETE content of every affected file, each in its own fenced code block whose first line is a path comment such as `// filepath: app/page.tsx`. Do not send diffs, ellipses or partial files."

// CorrectionPrompt lists every finding of res verbatim.
func CorrectionPrompt(res validation.Result) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Your previous answer failed validation with score %d/100.\n", res.Score)
	if len(res.CriticalIssues) > 0 {
		b.WriteString("\nCritical issues (must be fixed):\n")
		for _, msg := range res.CriticalMessages() {
			b.WriteString("- " + msg + "\n")
		}
	}
	if len(res.Issues) > 0 {
		b.WriteString("\nAdvisory issues:\n")
		for _, msg := range res.AdvisoryMessages() {
			b.WriteString("- " + msg + "\n")
		}
	}
	b.WriteString("\nFix every issue above. ")
	b.WriteString(reemitInstruction)
	return b.String()
}

// RuntimePrompt asks for a fix of an externally reported failure. rejected is
// the reason the previous revision was not accepted, if any.
func RuntimePrompt(failure string, files []framework.ArtifactFile, rejected string) string {
	var b strings.Builder
	b.WriteString("The generated project fails at runtime with the following error:\n\n")
	b.WriteString(strings.TrimSpace(failure))
	b.WriteString("\n\n")
	if len(files) > 0 {
		b.WriteString("Current project files:\n")
		for _, f := range files {
			fmt.Fprintf(&b, "\n```%s\n// filepath: %s\n%s```\n", fenceTag(f), f.Path, ensureNewline(f.Content))
		}
		b.WriteString("\n")
	}
	if rejected != "" {
		b.WriteString("Your previous fix was rejected: " + rejected + "\n\n")
	}
	b.WriteString("Find the cause and fix it. ")
	b.WriteString(reemitInstruction)
	return b.String()
}

func fenceTag(f framework.ArtifactFile) string {
	if f.Language == "" || f.Language == "unknown" {
		return ""
	}
	return f.Language
}

func ensureNewline(s string) string {
	if strings.HasSuffix(s, "\n") {
		return s
	}
	return s + "\n"
}
