package fileparse

import (
	"encoding/json"
	"regexp"
	"strings"
)

var (
	rootLayoutPattern = regexp.MustCompile(`export\s+default\s+(?:async\s+)?function\s+RootLayout\b`)
	pagePattern       = regexp.MustCompile(`export\s+default\s+(?:async\s+)?function\s+(?:Home|Page|\w+Page)\b`)
	appPattern        = regexp.MustCompile(`(?:export\s+default\s+function\s+App\b|function\s+App\s*\([\s\S]*export\s+default\s+App\b)`)
	goMainPattern     = regexp.MustCompile(`(?m)^package\s+main\b[\s\S]*^func\s+main\(\)`)
	pyMainPattern     = regexp.MustCompile(`if\s+__name__\s*==\s*['"]__main__['"]`)
	stylesheetPattern = regexp.MustCompile(`(?m)^\s*(?:@tailwind\s+\w+|@import\s+["']tailwindcss)`)
	entryPointSyntax  = regexp.MustCompile(`(?m)export\s+default\s+(?:async\s+)?(?:function|class)\b|^package\s+main\b|^def\s+main\(|if\s+__name__\s*==|function\s+App\s*\(`)
	codeLinePattern   = regexp.MustCompile(`[{};=<>\[\]]|^(?:import|export|const|let|var|function|def|class|package|return|func|public|private|from|#include|@\w+)\b`)
	jsxPattern        = regexp.MustCompile(`return\s*\(?\s*<\w`)
)

// sniffPath recognises well-known files from their content.
func sniffPath(content, tag string) string {
	trimmed := strings.TrimSpace(content)
	if strings.HasPrefix(trimmed, "{") && isPackageManifest(trimmed) {
		return "package.json"
	}
	if stylesheetPattern.MatchString(trimmed) {
		return "app/globals.css"
	}
	ext := componentExtension(tag)
	switch {
	case rootLayoutPattern.MatchString(trimmed):
		return "app/layout" + ext
	case pagePattern.MatchString(trimmed):
		return "app/page" + ext
	case appPattern.MatchString(trimmed):
		return "src/App" + ext
	case goMainPattern.MatchString(trimmed):
		return "main.go"
	case pyMainPattern.MatchString(trimmed):
		return "main.py"
	}
	return ""
}

func isPackageManifest(content string) bool {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal([]byte(content), &doc); err != nil {
		return false
	}
	if _, ok := doc["name"]; !ok {
		return false
	}
	for _, key := range []string{"dependencies", "devDependencies", "scripts"} {
		if _, ok := doc[key]; ok {
			return true
		}
	}
	return false
}

func componentExtension(tag string) string {
	switch tag {
	case "js", "javascript":
		return ".js"
	case "jsx":
		return ".jsx"
	case "ts", "typescript":
		return ".ts"
	}
	return ".tsx"
}

func guessExtension(content string) string {
	switch {
	case strings.Contains(content, "package main"):
		return ".go"
	case pyMainPattern.MatchString(content) || strings.Contains(content, "def main("):
		return ".py"
	case jsxPattern.MatchString(content):
		return ".tsx"
	}
	return ".js"
}

// looksLikeProse flags blocks that are explanation rather than source: long
// sentence-shaped lines with almost no code punctuation or keywords.
func looksLikeProse(content string) bool {
	var lines []string
	for _, l := range strings.Split(content, "\n") {
		if t := strings.TrimSpace(l); t != "" {
			lines = append(lines, t)
		}
	}
	if len(lines) == 0 {
		return true
	}
	var words, sentences, codeLines int
	for _, l := range lines {
		words += len(strings.Fields(l))
		if strings.HasSuffix(l, ".") || strings.HasSuffix(l, "!") || strings.HasSuffix(l, "?") || strings.HasSuffix(l, ":") {
			sentences++
		}
		if codeLinePattern.MatchString(l) {
			codeLines++
		}
	}
	if codeLines*5 >= len(lines) {
		return false
	}
	return words >= 6*len(lines) && sentences*2 >= len(lines)
}
