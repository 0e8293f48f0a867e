package validation

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/lexcodex/codeforge/framework"
)

// Finding is a rule-level observation about one file (or the whole output
// when File is empty).
type Finding struct {
	File    string
	Message string
}

// Rule is one row of the declarative rule table. A rule triggers when Check
// returns at least one finding; its Weight is subtracted from the score once
// per triggering, however many findings it produced.
type Rule struct {
	ID          string
	Category    Category
	Weight      int
	Description string
	Check       func(a *Analysis) []Finding
}

// Rule identifiers.
const (
	RuleDefaultImport    = "default-import-without-export"
	RuleNamedImport      = "named-import-not-exported"
	RuleMultipleDefaults = "multiple-default-exports"
	RuleUnresolvedImport = "unresolved-local-import"
	RuleLifecycle        = "lifecycle-directive"
	RuleCleanup          = "missing-cleanup"
	RuleDynamicEval      = "dynamic-evaluation"
	RuleSecret           = "hardcoded-secret"
	RuleOversized        = "oversized-file"
	RuleOutputShape      = "agent-output-shape"
)

// Size limits for the oversized-file rule.
const (
	MaxFileLines = 400
	MaxFileChars = 24000
)

// DefaultRules returns the canonical rule table.
func DefaultRules() []Rule {
	return []Rule{
		{ID: RuleDefaultImport, Category: Critical, Weight: 25, Description: "default import from a module without a default export", Check: checkDefaultImports},
		{ID: RuleNamedImport, Category: Critical, Weight: 25, Description: "named import missing from the target's exports", Check: checkNamedImports},
		{ID: RuleMultipleDefaults, Category: Critical, Weight: 25, Description: "more than one default export in a module", Check: checkMultipleDefaults},
		{ID: RuleUnresolvedImport, Category: Critical, Weight: 25, Description: "local import that resolves to no file", Check: checkUnresolved},
		{ID: RuleLifecycle, Category: Advisory, Weight: 10, Description: "component directive does not match the deployment mode", Check: checkLifecycleDirectives},
		{ID: RuleCleanup, Category: Advisory, Weight: 5, Description: "timer or listener registered without teardown", Check: checkCleanup},
		{ID: RuleDynamicEval, Category: Advisory, Weight: 10, Description: "dynamic code evaluation or raw HTML injection", Check: checkDynamicEval},
		{ID: RuleSecret, Category: Advisory, Weight: 15, Description: "secret-shaped literal in source", Check: checkSecrets},
		{ID: RuleOversized, Category: Advisory, Weight: 5, Description: "file exceeds the size guideline", Check: checkOversized},
		{ID: RuleOutputShape, Category: Advisory, Weight: 10, Description: "agent output lacks the expected structure", Check: checkOutputShape},
	}
}

func checkDefaultImports(a *Analysis) []Finding {
	var out []Finding
	for _, m := range a.scripts() {
		for _, imp := range m.Imports {
			if imp.Default == "" || imp.ReExport {
				continue
			}
			target, ok := a.scriptTarget(m.File.Path, imp.Source)
			if !ok || target.Exports.Defaults > 0 {
				continue
			}
			out = append(out, Finding{
				File:    m.File.Path,
				Message: fmt.Sprintf("imports default %s from %s, which has no default export", imp.Default, target.File.Path),
			})
		}
	}
	return out
}

func checkNamedImports(a *Analysis) []Finding {
	var out []Finding
	for _, m := range a.scripts() {
		for _, imp := range m.Imports {
			if len(imp.Named) == 0 {
				continue
			}
			target, ok := a.scriptTarget(m.File.Path, imp.Source)
			if !ok || target.Exports.Opaque {
				continue
			}
			for _, name := range imp.Named {
				if name == "default" {
					if target.Exports.Defaults == 0 {
						out = append(out, Finding{File: m.File.Path, Message: fmt.Sprintf("imports default from %s, which has no default export", target.File.Path)})
					}
					continue
				}
				if !target.Exports.Names[name] {
					out = append(out, Finding{
						File:    m.File.Path,
						Message: fmt.Sprintf("imports { %s } from %s, which does not export it", name, target.File.Path),
					})
				}
			}
		}
	}
	return out
}

func checkMultipleDefaults(a *Analysis) []Finding {
	var out []Finding
	for _, m := range a.scripts() {
		if m.Exports.Defaults > 1 {
			out = append(out, Finding{File: m.File.Path, Message: fmt.Sprintf("declares %d default exports", m.Exports.Defaults)})
		}
	}
	return out
}

func checkUnresolved(a *Analysis) []Finding {
	var out []Finding
	for _, m := range a.scripts() {
		seen := map[string]bool{}
		for _, imp := range m.Imports {
			if seen[imp.Source] {
				continue
			}
			seen[imp.Source] = true
			target, local := a.resolve(m.File.Path, imp.Source)
			if local && target == "" {
				out = append(out, Finding{File: m.File.Path, Message: fmt.Sprintf("imports %q, which matches no file in the project", imp.Source)})
			}
		}
	}
	return out
}

// scriptTarget resolves source to a script module with analysable exports.
func (a *Analysis) scriptTarget(importer, source string) (*module, bool) {
	target, local := a.resolve(importer, source)
	if !local || target == "" {
		return nil, false
	}
	m, ok := a.Modules[target]
	return m, ok
}

var (
	clientDirective  = regexp.MustCompile(`^\s*['"]use client['"];?\s*$`)
	serverDirective  = regexp.MustCompile(`(?m)^\s*['"]use server['"];?\s*$`)
	clientOnlyAPI    = regexp.MustCompile(`\buse(?:State|Effect|LayoutEffect|Reducer|Ref|Context|Transition)\s*\(|\bon(?:Click|Change|Submit|Input|KeyDown)\s*=\{|\bwindow\.|\bdocument\.|\blocalStorage\.`)
	metadataExport   = regexp.MustCompile(`(?m)^\s*export\s+(?:const\s+metadata\b|(?:async\s+)?function\s+generate(?:Metadata|StaticParams)\b)`)
	componentFile    = regexp.MustCompile(`\.(?:tsx|jsx)$`)
	intervalSet      = regexp.MustCompile(`\bsetInterval\s*\(`)
	intervalClear    = regexp.MustCompile(`\bclearInterval\s*\(`)
	listenerAdd      = regexp.MustCompile(`\baddEventListener\s*\(`)
	listenerRemove   = regexp.MustCompile(`\bremoveEventListener\s*\(`)
	dynamicEvalCalls = []struct {
		re   *regexp.Regexp
		what string
	}{
		{regexp.MustCompile(`\beval\s*\(`), "eval()"},
		{regexp.MustCompile(`\bnew\s+Function\s*\(`), "new Function()"},
		{regexp.MustCompile(`\bdangerouslySetInnerHTML\b`), "dangerouslySetInnerHTML"},
		{regexp.MustCompile(`\bdocument\.write\s*\(`), "document.write()"},
		{regexp.MustCompile(`\bset(?:Timeout|Interval)\s*\(\s*['"]`), "string-evaluated timer"},
	}
	secretPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\b(?:api[_-]?key|secret|token|password|passwd|auth)\w*\s*[:=]\s*['"][A-Za-z0-9_\-+/=.]{16,}['"]`),
		regexp.MustCompile(`\bsk-[A-Za-z0-9_\-]{20,}`),
		regexp.MustCompile(`\bAKIA[0-9A-Z]{16}\b`),
		regexp.MustCompile(`\bgh[pousr]_[A-Za-z0-9]{30,}`),
		regexp.MustCompile(`-----BEGIN (?:RSA |EC |OPENSSH )?PRIVATE KEY-----`),
	}
	enumeratedLine = regexp.MustCompile(`(?m)^\s*(?:\d+[.)]|[-*•]|#{1,4}\s*(?:Step|Phase)\s*\d+)\s+\S`)
	findingWords   = regexp.MustCompile(`(?i)\b(?:issue|finding|bug|problem|vulnerabilit|risk|concern|recommend|no (?:issues|problems|findings))`)
)

func checkLifecycleDirectives(a *Analysis) []Finding {
	var out []Finding
	for _, m := range a.scripts() {
		p := m.File.Path
		switch a.Input.Mode {
		case ModeServer:
			client := hasLeadingClientDirective(m.Code)
			if !client && componentFile.MatchString(p) && clientOnlyAPI.MatchString(m.Code) {
				out = append(out, Finding{File: p, Message: `uses client-only hooks or browser APIs without a leading "use client" directive`})
			}
			if client && metadataExport.MatchString(m.Code) {
				out = append(out, Finding{File: p, Message: `exports route metadata from a "use client" module`})
			}
		case ModeStatic:
			if serverDirective.MatchString(m.Code) {
				out = append(out, Finding{File: p, Message: `declares "use server" actions, which a static export cannot serve`})
			}
		}
	}
	return out
}

func hasLeadingClientDirective(code string) bool {
	for _, line := range strings.Split(code, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		return clientDirective.MatchString(line)
	}
	return false
}

func checkCleanup(a *Analysis) []Finding {
	var out []Finding
	for _, m := range a.scripts() {
		if intervalSet.MatchString(m.Code) && !intervalClear.MatchString(m.Code) {
			out = append(out, Finding{File: m.File.Path, Message: "starts an interval without clearInterval"})
		}
		if listenerAdd.MatchString(m.Code) && !listenerRemove.MatchString(m.Code) {
			out = append(out, Finding{File: m.File.Path, Message: "adds an event listener without removeEventListener"})
		}
	}
	return out
}

func checkDynamicEval(a *Analysis) []Finding {
	var out []Finding
	for _, m := range a.scripts() {
		for _, c := range dynamicEvalCalls {
			if c.re.MatchString(m.Code) {
				out = append(out, Finding{File: m.File.Path, Message: "uses " + c.what})
			}
		}
	}
	return out
}

func checkSecrets(a *Analysis) []Finding {
	var out []Finding
	for _, f := range a.focused() {
		if strings.HasSuffix(f.Path, ".env.example") || strings.HasSuffix(f.Path, ".md") {
			continue
		}
		for _, re := range secretPatterns {
			if re.MatchString(f.Content) {
				out = append(out, Finding{File: f.Path, Message: "contains a literal that looks like a credential; load it from the environment"})
				break
			}
		}
	}
	return out
}

func checkOversized(a *Analysis) []Finding {
	var out []Finding
	for _, f := range a.focused() {
		lines := strings.Count(f.Content, "\n") + 1
		if lines > MaxFileLines || len(f.Content) > MaxFileChars {
			out = append(out, Finding{File: f.Path, Message: fmt.Sprintf("is %d lines / %d chars; split it into smaller modules", lines, len(f.Content))})
		}
	}
	return out
}

func checkOutputShape(a *Analysis) []Finding {
	text := a.Input.Output
	switch a.Input.Role {
	case framework.RolePlan:
		if len(enumeratedLine.FindAllStringIndex(text, -1)) < 2 && !strings.Contains(text, `"steps"`) {
			return []Finding{{Message: "plan does not enumerate its steps"}}
		}
	case framework.RoleReview, framework.RoleAudit:
		structured := strings.Contains(text, `"issues"`) || strings.Contains(text, `"fixes"`)
		if !structured && !enumeratedLine.MatchString(text) && !findingWords.MatchString(text) {
			return []Finding{{Message: "critique does not list identifiable findings"}}
		}
	}
	return nil
}
