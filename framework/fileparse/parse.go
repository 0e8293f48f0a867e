// Package fileparse extracts generated files from free-form model output.
//
// Models are asked to emit each file as a fenced block whose first line is a
// path comment:
//
//	```tsx
//	// filepath: app/page.tsx
//	export default function Page() { ... }
//	```
//
// Real output drifts from that contract, so the parser also accepts a path
// label on the line before the fence, recognises well-known files by their
// content, falls back to inline "File:" markers when no fences are present,
// and finally treats a bare entry-point listing as a single file.
package fileparse

import (
	"fmt"
	"path"
	"regexp"
	"strings"

	"github.com/lexcodex/codeforge/framework"
)

// Path source names reported in diagnostics.
const (
	SourceAnnotation = "annotation"
	SourceLabel      = "label"
	SourceSniffed    = "sniffed"
	SourceGenerated  = "generated"
	SourceInline     = "inline_marker"
	SourceWholeText  = "whole_text"
)

// Result carries parsed files plus diagnostics about skipped blocks.
type Result struct {
	Files     []framework.ArtifactFile `json:"files"`
	Sources   map[string]string        `json:"sources,omitempty"`
	Discarded []Discarded              `json:"discarded,omitempty"`
}

// Discarded describes a fenced block that produced no file.
type Discarded struct {
	Index   int    `json:"index"`
	Reason  string `json:"reason"`
	Preview string `json:"preview"`
}

type block struct {
	index   int
	tag     string
	info    string
	label   string
	content string
}

var (
	annotationPattern = regexp.MustCompile(`(?i)^\s*(?://+|#+|--|;+|/\*+|<!--)\s*(?:(?:file\s*path|filepath|filename|file|path)\s*[:=]?\s*)?(\S+?)(?:\s+\([^)]*\))?\s*(?:\*+/|-->)?\s*$`)
	labelTokenPattern = regexp.MustCompile(`[@~]?[\w\-./\[\]()]*[\w\]\)]\.[A-Za-z][A-Za-z0-9]{0,7}\b|\b(?:Dockerfile|Makefile)\b`)
	inlineMarker      = regexp.MustCompile(`(?i)^\s*(?://+|#+|/\*+|<!--)?\s*(?:\*\*)?(?:file\s*path|filepath|filename|file|path)(?:\*\*)?\s*:\s*(\S+?)(?:\s+\([^)]*\))?\s*(?:\*+/|-->)?\s*$`)
	extPattern        = regexp.MustCompile(`^\.[A-Za-z][A-Za-z0-9]{0,7}$`)
	pathChars         = regexp.MustCompile(`^[\w\-./\[\]()@~+]+$`)
	annotationSuffix  = regexp.MustCompile(`\s+\([^)]*\)$`)
	frameworkNames    = map[string]bool{"next.js": true, "node.js": true, "vue.js": true, "react.js": true, "express.js": true, "nuxt.js": true, "three.js": true, "d3.js": true, "chart.js": true, "socket.io": true}
	shellTags         = map[string]bool{"bash": true, "sh": true, "shell": true, "console": true, "terminal": true, "zsh": true, "powershell": true, "cmd": true}
)

// Parse returns the files found in text, in order of first appearance, with
// unique normalized paths.
func Parse(text string) []framework.ArtifactFile {
	return ParseDetailed(text).Files
}

// ParseDetailed is Parse plus per-block diagnostics.
func ParseDetailed(text string) Result {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	res := Result{Sources: map[string]string{}}
	acc := newAccumulator()

	blocks := scanFences(text)
	if len(blocks) > 0 {
		generated := 0
		for _, b := range blocks {
			file, source, reason := resolveBlock(b, acc, &generated)
			if reason != "" {
				res.Discarded = append(res.Discarded, Discarded{Index: b.index, Reason: reason, Preview: preview(b.content)})
				continue
			}
			acc.add(file)
			res.Sources[file.Path] = source
		}
	} else if files := scanInlineMarkers(text); len(files) > 0 {
		for _, f := range files {
			acc.add(f)
			res.Sources[f.Path] = SourceInline
		}
	} else if f, ok := wholeText(text); ok {
		acc.add(f)
		res.Sources[f.Path] = SourceWholeText
	}
	res.Files = acc.files()
	return res
}

// scanFences splits text into fenced blocks. A block is closed only by a
// backtick-only line at least as long as its opener, so a longer outer fence
// can wrap inner ones. An unterminated final fence is closed at end of input
// since truncated responses are common.
func scanFences(text string) []block {
	lines := strings.Split(text, "\n")
	var (
		blocks    []block
		inBlock   bool
		fenceLen  int
		current   block
		body      []string
		lastProse string
	)
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if !inBlock {
			if n := backtickRun(trimmed); n >= 3 {
				inBlock = true
				fenceLen = n
				info := strings.TrimSpace(trimmed[n:])
				current = block{index: len(blocks), info: info, tag: fenceTag(info), label: lastProse}
				body = body[:0]
				lastProse = ""
				continue
			}
			if trimmed != "" {
				lastProse = trimmed
			}
			continue
		}
		if n := backtickRun(trimmed); n >= fenceLen && n == len(trimmed) {
			current.content = strings.Join(body, "\n")
			blocks = append(blocks, current)
			inBlock = false
			continue
		}
		body = append(body, line)
	}
	if inBlock {
		current.content = strings.Join(body, "\n")
		blocks = append(blocks, current)
	}
	return blocks
}

// backtickRun counts the leading backticks of s.
func backtickRun(s string) int {
	n := 0
	for n < len(s) && s[n] == '`' {
		n++
	}
	return n
}

func fenceTag(info string) string {
	if info == "" {
		return ""
	}
	tag := strings.Fields(info)[0]
	if i := strings.IndexAny(tag, ":{"); i >= 0 {
		tag = tag[:i]
	}
	return strings.ToLower(tag)
}

func resolveBlock(b block, acc *accumulator, generated *int) (framework.ArtifactFile, string, string) {
	content := b.content
	if strings.TrimSpace(content) == "" {
		return framework.ArtifactFile{}, "", "empty block"
	}

	var p, source string
	if annotated, rest, ok := stripAnnotation(content); ok {
		p, content, source = annotated, rest, SourceAnnotation
	} else if labelled := pathFromInfo(b.info); labelled != "" {
		p, source = labelled, SourceLabel
	} else if labelled := pathFromLabel(b.label); labelled != "" {
		p, source = labelled, SourceLabel
	}

	if p == "" && shellTags[b.tag] {
		return framework.ArtifactFile{}, "", "shell command block"
	}
	if p == "" {
		if sniffed := sniffPath(content, b.tag); sniffed != "" && !acc.has(sniffed) {
			p, source = sniffed, SourceSniffed
		}
	}

	lang := ""
	if p != "" {
		lang = framework.DetectLanguage(p)
	}
	if lang != "markdown" && lang != "plaintext" && looksLikeProse(content) {
		return framework.ArtifactFile{}, "", "prose"
	}
	if p == "" {
		*generated++
		p, source = fmt.Sprintf("generated/file-%d%s", *generated, framework.ExtensionForTag(b.tag)), SourceGenerated
		lang = framework.DetectLanguage(p)
	}
	if lang == "unknown" && b.tag != "" {
		lang = b.tag
	}
	return framework.ArtifactFile{Path: p, Content: finish(content), Language: lang}, source, ""
}

// stripAnnotation inspects the first non-blank line of a block for a path
// comment and returns the path and the remaining content.
func stripAnnotation(content string) (string, string, bool) {
	lines := strings.Split(content, "\n")
	for i, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		m := annotationPattern.FindStringSubmatch(line)
		if m == nil {
			return "", content, false
		}
		p := cleanPath(m[1])
		if p == "" {
			return "", content, false
		}
		return p, strings.Join(lines[i+1:], "\n"), true
	}
	return "", content, false
}

// pathFromInfo accepts fence info strings such as "tsx app/page.tsx" or
// "typescript:src/App.tsx".
func pathFromInfo(info string) string {
	fields := strings.Fields(info)
	var candidates []string
	if len(fields) > 1 {
		candidates = append(candidates, fields[1:]...)
	}
	if len(fields) > 0 {
		if i := strings.Index(fields[0], ":"); i >= 0 {
			candidates = append(candidates, fields[0][i+1:])
		}
	}
	for _, c := range candidates {
		c = strings.TrimPrefix(c, "title=")
		c = strings.TrimPrefix(c, "filename=")
		if p := cleanPath(c); p != "" && knownExtension(p) {
			return p
		}
	}
	return ""
}

// pathFromLabel pulls a file path out of the prose line preceding a fence.
// Tokens with a directory component win over bare filenames.
func pathFromLabel(label string) string {
	if label == "" || len(label) > 240 {
		return ""
	}
	var bare string
	for _, tok := range labelTokenPattern.FindAllString(label, -1) {
		p := cleanPath(tok)
		if p == "" || !knownExtension(p) {
			continue
		}
		if strings.Contains(p, "/") {
			return p
		}
		if bare == "" && !frameworkNames[strings.ToLower(p)] {
			bare = p
		}
	}
	return bare
}

// cleanPath strips aliases and trailing annotations, then normalizes. It
// returns "" for tokens that do not look like file paths.
func cleanPath(raw string) string {
	p := strings.ReplaceAll(strings.TrimSpace(raw), "\\", "/")
	p = annotationSuffix.ReplaceAllString(p, "")
	p = strings.Trim(p, "`*\"',:;")
	p = strings.TrimPrefix(p, "@/")
	p = strings.TrimPrefix(p, "~/")
	if p == "" || !pathChars.MatchString(p) {
		return ""
	}
	base := path.Base(p)
	if !extPattern.MatchString(path.Ext(base)) && !framework.KnownFilename(base) {
		return ""
	}
	return framework.NormalizePath(p)
}

func knownExtension(p string) bool {
	return framework.DetectLanguage(p) != "unknown"
}

// scanInlineMarkers handles unfenced output that separates files with
// "File: path" marker lines.
func scanInlineMarkers(text string) []framework.ArtifactFile {
	var (
		out     []framework.ArtifactFile
		current string
		body    []string
	)
	flush := func() {
		if current == "" {
			return
		}
		content := strings.TrimSpace(strings.Join(body, "\n"))
		if content != "" {
			out = append(out, framework.ArtifactFile{Path: current, Content: finish(content), Language: framework.DetectLanguage(current)})
		}
	}
	for _, line := range strings.Split(text, "\n") {
		if m := inlineMarker.FindStringSubmatch(line); m != nil {
			if p := cleanPath(m[1]); p != "" {
				flush()
				current, body = p, nil
				continue
			}
		}
		if current != "" {
			body = append(body, line)
		}
	}
	flush()
	return out
}

func wholeText(text string) (framework.ArtifactFile, bool) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" || !entryPointSyntax.MatchString(trimmed) {
		return framework.ArtifactFile{}, false
	}
	p := sniffPath(trimmed, "")
	if p == "" {
		p = "generated/file-1" + guessExtension(trimmed)
	}
	return framework.ArtifactFile{Path: p, Content: finish(trimmed), Language: framework.DetectLanguage(p)}, true
}

func finish(content string) string {
	content = strings.Trim(content, "\n")
	if content == "" {
		return ""
	}
	return content + "\n"
}

func preview(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > 80 {
		return s[:80] + "..."
	}
	return s
}

// accumulator keeps first-seen order while letting later blocks replace the
// content of an earlier block with the same path.
type accumulator struct {
	order []string
	byKey map[string]framework.ArtifactFile
}

func newAccumulator() *accumulator {
	return &accumulator{byKey: map[string]framework.ArtifactFile{}}
}

func (a *accumulator) has(p string) bool {
	_, ok := a.byKey[p]
	return ok
}

func (a *accumulator) add(f framework.ArtifactFile) {
	if !a.has(f.Path) {
		a.order = append(a.order, f.Path)
	}
	a.byKey[f.Path] = f
}

func (a *accumulator) files() []framework.ArtifactFile {
	out := make([]framework.ArtifactFile, 0, len(a.order))
	for _, p := range a.order {
		out = append(out, a.byKey[p])
	}
	return out
}
