// Package suggest turns review and audit completions into structured change
// proposals.
package suggest

import (
	"encoding/json"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lexcodex/codeforge/framework"
)

// Extractor builds suggestions. NewID and Now default to random UUIDs and
// the wall clock.
type Extractor struct {
	NewID func() string
	Now   func() time.Time
}

var defaultExtractor = Extractor{}

// Extract runs the default extractor.
func Extract(text, agent string, currentFiles []framework.ArtifactFile) []framework.Suggestion {
	return defaultExtractor.Extract(text, agent, currentFiles)
}

// Extract tries, in order, a structured fixes payload, a structured issues
// payload and prose findings. Only the first strategy that yields anything is
// used.
func (e Extractor) Extract(text, agent string, currentFiles []framework.ArtifactFile) []framework.Suggestion {
	var drafts []framework.Suggestion
	p, ok := findPayload(text)
	if ok {
		drafts = fixSuggestions(p.Fixes, currentFiles)
		if len(drafts) == 0 {
			drafts = issueSuggestions(p.Issues)
		}
	}
	if len(drafts) == 0 {
		drafts = proseSuggestions(text, currentFiles)
	}
	return e.finish(drafts, agent)
}

func (e Extractor) finish(drafts []framework.Suggestion, agent string) []framework.Suggestion {
	newID := e.NewID
	if newID == nil {
		newID = uuid.NewString
	}
	now := e.Now
	if now == nil {
		now = time.Now
	}
	for i := range drafts {
		drafts[i].ID = newID()
		drafts[i].Agent = agent
		drafts[i].Status = framework.SuggestionPending
		drafts[i].CreatedAt = now().UTC()
	}
	return drafts
}

type payload struct {
	Fixes  []fixEntry   `json:"fixes"`
	Issues []issueEntry `json:"issues"`
}

type fixEntry struct {
	File         string `json:"file"`
	Path         string `json:"path"`
	Title        string `json:"title"`
	Issue        string `json:"issue"`
	Description  string `json:"description"`
	Content      string `json:"content"`
	FixedContent string `json:"fixed_content"`
	Code         string `json:"code"`
	Priority     string `json:"priority"`
	Severity     string `json:"severity"`
}

type issueEntry struct {
	File        string   `json:"file"`
	Path        string   `json:"path"`
	Files       []string `json:"files"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Suggestion  string   `json:"suggestion"`
	Severity    string   `json:"severity"`
	Priority    string   `json:"priority"`
}

var jsonFence = regexp.MustCompile("(?s)```(?:json|JSON)?[ \t]*\n(\\{.*?\\})\\s*\n```")

// findPayload decodes the first JSON object carrying fixes or issues, from a
// json fence or the outermost braces of the text.
func findPayload(text string) (payload, bool) {
	var candidates []string
	for _, m := range jsonFence.FindAllStringSubmatch(text, -1) {
		candidates = append(candidates, m[1])
	}
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		candidates = append(candidates, text[start:end+1])
	}
	for _, c := range candidates {
		var p payload
		if err := json.Unmarshal([]byte(c), &p); err != nil {
			continue
		}
		if len(p.Fixes) > 0 || len(p.Issues) > 0 {
			return p, true
		}
	}
	return payload{}, false
}

func fixSuggestions(fixes []fixEntry, current []framework.ArtifactFile) []framework.Suggestion {
	index := framework.FileIndex(current)
	var out []framework.Suggestion
	for _, f := range fixes {
		p := framework.NormalizePath(firstNonEmpty(f.File, f.Path))
		content := firstNonEmpty(f.Content, f.FixedContent, f.Code)
		if p == "" || strings.TrimSpace(content) == "" {
			continue
		}
		before := index[p].Content
		out = append(out, framework.Suggestion{
			Type:          framework.SuggestionFix,
			Title:         titleFrom(firstNonEmpty(f.Title, f.Issue, f.Description), "Update "+p),
			Description:   firstNonEmpty(f.Description, f.Issue),
			AffectedFiles: []string{p},
			SuggestedChanges: []framework.SuggestedChange{{
				Path:    p,
				Content: content,
				Diff:    LineDiff(p, before, content),
			}},
			Priority: priorityFrom(firstNonEmpty(f.Priority, f.Severity), framework.PriorityMedium),
		})
	}
	return out
}

func issueSuggestions(issues []issueEntry) []framework.Suggestion {
	var out []framework.Suggestion
	for _, is := range issues {
		desc := strings.TrimSpace(is.Description)
		if desc == "" && strings.TrimSpace(is.Title) == "" {
			continue
		}
		if s := strings.TrimSpace(is.Suggestion); s != "" {
			if desc != "" {
				desc += "\n\n"
			}
			desc += "Suggested fix: " + s
		}
		var files []string
		for _, f := range append([]string{is.File, is.Path}, is.Files...) {
			if p := framework.NormalizePath(f); p != "" && !contains(files, p) {
				files = append(files, p)
			}
		}
		out = append(out, framework.Suggestion{
			Type:          framework.SuggestionIssue,
			Title:         titleFrom(firstNonEmpty(is.Title, is.Description), "Issue"),
			Description:   desc,
			AffectedFiles: files,
			Priority:      priorityFrom(firstNonEmpty(is.Severity, is.Priority), framework.PriorityMedium),
		})
	}
	return out
}

var (
	labeledLine = regexp.MustCompile(`(?i)^\s*(?:[-*•]|\d+[.)])?\s*(?:\*\*)?(issue|finding|bug|security|vulnerability|problem|warning|risk|recommendation|suggestion|improvement)(?:\s*#?\d+)?(?:\*\*)?\s*[:\-]\s*(?:\*\*)?\s*(.+)$`)
	bulletLine  = regexp.MustCompile(`^\s*(?:[-*•]|\d+[.)])\s+(.+)$`)
	fenceLine   = regexp.MustCompile("^\\s*```")
)

// minBulletChars filters out bullets too short to describe a change.
const minBulletChars = 12

func proseSuggestions(text string, current []framework.ArtifactFile) []framework.Suggestion {
	var labeled, bullets []framework.Suggestion
	seen := map[string]bool{}
	inFence := false
	for _, line := range strings.Split(text, "\n") {
		if fenceLine.MatchString(line) {
			inFence = !inFence
			continue
		}
		if inFence {
			continue
		}
		if m := labeledLine.FindStringSubmatch(line); m != nil {
			body := cleanProse(m[2])
			if body == "" || seen[strings.ToLower(body)] {
				continue
			}
			seen[strings.ToLower(body)] = true
			labeled = append(labeled, improvement(body, current, labelPriority(m[1])))
			continue
		}
		if m := bulletLine.FindStringSubmatch(line); m != nil {
			body := cleanProse(m[1])
			if len(body) < minBulletChars || seen[strings.ToLower(body)] {
				continue
			}
			seen[strings.ToLower(body)] = true
			bullets = append(bullets, improvement(body, current, framework.PriorityLow))
		}
	}
	if len(labeled) > 0 {
		return labeled
	}
	return bullets
}

func improvement(body string, current []framework.ArtifactFile, priority framework.SuggestionPriority) framework.Suggestion {
	return framework.Suggestion{
		Type:          framework.SuggestionImprovement,
		Title:         titleFrom(body, "Improvement"),
		Description:   body,
		AffectedFiles: mentionedFiles(body, current),
		Priority:      priority,
	}
}

func labelPriority(label string) framework.SuggestionPriority {
	switch strings.ToLower(label) {
	case "security", "vulnerability", "bug":
		return framework.PriorityHigh
	case "issue", "problem", "finding", "warning", "risk":
		return framework.PriorityMedium
	}
	return framework.PriorityLow
}

func priorityFrom(severity string, fallback framework.SuggestionPriority) framework.SuggestionPriority {
	switch strings.ToLower(strings.TrimSpace(severity)) {
	case "critical", "blocker", "high", "error", "major":
		return framework.PriorityHigh
	case "medium", "moderate", "warning", "normal":
		return framework.PriorityMedium
	case "low", "minor", "info", "nit", "trivial":
		return framework.PriorityLow
	}
	return fallback
}

// mentionedFiles lists current files named in text by path or base name.
func mentionedFiles(text string, current []framework.ArtifactFile) []string {
	var out []string
	for _, f := range current {
		if strings.Contains(text, f.Path) || strings.Contains(text, path.Base(f.Path)) {
			out = append(out, f.Path)
		}
	}
	return out
}

func cleanProse(s string) string {
	s = strings.ReplaceAll(s, "**", "")
	s = strings.ReplaceAll(s, "__", "")
	return strings.TrimSpace(s)
}

const maxTitleChars = 80

func titleFrom(text, fallback string) string {
	text = strings.TrimSpace(text)
	if i := strings.IndexAny(text, "\n"); i >= 0 {
		text = text[:i]
	}
	if i := strings.Index(text, ". "); i > 0 {
		text = text[:i]
	}
	text = strings.TrimSuffix(text, ".")
	if text == "" {
		return fallback
	}
	if len(text) <= maxTitleChars {
		return text
	}
	cut := strings.LastIndex(text[:maxTitleChars], " ")
	if cut <= 0 {
		cut = maxTitleChars
	}
	return strings.TrimSpace(text[:cut]) + "..."
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
