package framework

import (
	"fmt"
	"path"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"
)

// Priority adjustments applied while ranking artifact files for a prompt.
const (
	BasePriority      = 50
	EntryPointBoost   = 30
	MentionBoost      = 25
	CrossCuttingBoost = 15
	ConfigPenalty     = 20
	LargeFilePenalty  = 10
	HugeFilePenalty   = 15

	LargeFileChars = 8000
	HugeFileChars  = 20000

	// MinTruncationChars is the smallest remaining budget worth filling with
	// a truncated file; below it the file is dropped instead.
	MinTruncationChars = 400
)

// TruncationMarker terminates a truncated file. It counts against the budget.
const TruncationMarker = "\n/* ... truncated ... */"

var (
	entryPointNames = map[string]bool{
		"page": true, "layout": true, "index": true, "main": true, "app": true, "server": true,
	}
	crossCuttingPattern = regexp.MustCompile(`createContext\(|\buseContext\(|\w+Provider\b|createStore\(|configureStore\(|defineStore\(|export\s+const\s+use\w+Store\b`)
	configExtensions    = map[string]bool{".json": true, ".yaml": true, ".yml": true, ".toml": true, ".ini": true, ".env": true, ".lock": true}
)

// SelectedFile is a file chosen for the prompt, possibly truncated.
type SelectedFile struct {
	File      ArtifactFile `json:"file"`
	Priority  int          `json:"priority"`
	Truncated bool         `json:"truncated"`
}

// ContextSelection is the budget-bounded subset of the artifact sent to a
// model. TotalChars never exceeds the budget it was built with.
type ContextSelection struct {
	Included   []SelectedFile `json:"included"`
	TotalChars int            `json:"total_chars"`
	Truncated  bool           `json:"truncated"`
	Dropped    []string       `json:"dropped,omitempty"`
}

// ScoreFile computes the relevance priority of f for request.
func ScoreFile(f ArtifactFile, request string) int {
	score := BasePriority
	base := path.Base(f.Path)
	stem := strings.TrimSuffix(base, path.Ext(base))
	if entryPointNames[strings.ToLower(stem)] {
		score += EntryPointBoost
	}
	if mentioned(f.Path, stem, request) {
		score += MentionBoost
	}
	if crossCuttingPattern.MatchString(f.Content) {
		score += CrossCuttingBoost
	}
	if isConfigLike(base) {
		score -= ConfigPenalty
	}
	if len(f.Content) > LargeFileChars {
		score -= LargeFilePenalty
	}
	if len(f.Content) > HugeFileChars {
		score -= HugeFilePenalty
	}
	return score
}

func mentioned(fullPath, stem, request string) bool {
	if request == "" {
		return false
	}
	lower := strings.ToLower(request)
	if strings.Contains(lower, strings.ToLower(fullPath)) {
		return true
	}
	if len(stem) < 3 {
		return false
	}
	return strings.Contains(lower, strings.ToLower(stem))
}

func isConfigLike(base string) bool {
	lower := strings.ToLower(base)
	if strings.Contains(lower, ".config.") || strings.HasPrefix(lower, ".") || strings.HasSuffix(lower, ".d.ts") {
		return true
	}
	return configExtensions[path.Ext(lower)]
}

// SelectContext ranks files by priority and packs them greedily into
// maxChars. Files that do not fit are truncated when the remaining budget
// exceeds MinTruncationChars, otherwise dropped.
func SelectContext(files []ArtifactFile, request string, maxChars int) ContextSelection {
	ranked := make([]SelectedFile, 0, len(files))
	for _, f := range files {
		ranked = append(ranked, SelectedFile{File: f, Priority: ScoreFile(f, request)})
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Priority > ranked[j].Priority
	})

	var sel ContextSelection
	for _, cand := range ranked {
		remaining := maxChars - sel.TotalChars
		size := len(cand.File.Content)
		switch {
		case size <= remaining:
			sel.Included = append(sel.Included, cand)
			sel.TotalChars += size
		case remaining > MinTruncationChars:
			cut := truncateContent(cand.File.Content, remaining-len(TruncationMarker))
			cand.File.Content = cut + TruncationMarker
			cand.Truncated = true
			sel.Included = append(sel.Included, cand)
			sel.TotalChars += len(cand.File.Content)
			sel.Truncated = true
		default:
			sel.Dropped = append(sel.Dropped, cand.File.Path)
		}
	}
	return sel
}

// truncateContent keeps at most limit bytes, preferring a line boundary in
// the back half and never splitting a UTF-8 sequence.
func truncateContent(content string, limit int) string {
	if limit <= 0 {
		return ""
	}
	if len(content) <= limit {
		return content
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(content[cut]) {
		cut--
	}
	kept := content[:cut]
	if nl := strings.LastIndexByte(kept, '\n'); nl > len(kept)/2 {
		kept = kept[:nl]
	}
	return kept
}

// Render formats the selection as a prompt block.
func (s ContextSelection) Render() string {
	if len(s.Included) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Current project files:\n")
	for _, item := range s.Included {
		note := ""
		if item.Truncated {
			note = " (truncated)"
		}
		fmt.Fprintf(&b, "\n### %s%s\n```%s\n%s\n```\n", item.File.Path, note, fenceTag(item.File), item.File.Content)
	}
	if len(s.Dropped) > 0 {
		fmt.Fprintf(&b, "\nOmitted for space: %s\n", strings.Join(s.Dropped, ", "))
	}
	return b.String()
}

// Paths returns the included file paths in selection order.
func (s ContextSelection) Paths() []string {
	out := make([]string, 0, len(s.Included))
	for _, item := range s.Included {
		out = append(out, item.File.Path)
	}
	return out
}

func fenceTag(f ArtifactFile) string {
	ext := strings.TrimPrefix(path.Ext(f.Path), ".")
	if ext != "" {
		return ext
	}
	return f.Language
}
