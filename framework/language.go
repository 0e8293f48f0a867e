package framework

import (
	"path"
	"strings"
)

var extensionLanguages = map[string]string{
	".go":      "go",
	".py":      "python",
	".js":      "javascript",
	".jsx":     "javascript",
	".mjs":     "javascript",
	".cjs":     "javascript",
	".ts":      "typescript",
	".tsx":     "typescript",
	".java":    "java",
	".c":       "c",
	".h":       "c",
	".cpp":     "cpp",
	".rs":      "rust",
	".rb":      "ruby",
	".php":     "php",
	".swift":   "swift",
	".kt":      "kotlin",
	".css":     "css",
	".scss":    "scss",
	".sass":    "sass",
	".less":    "less",
	".html":    "html",
	".htm":     "html",
	".vue":     "vue",
	".svelte":  "svelte",
	".md":      "markdown",
	".mdx":     "markdown",
	".txt":     "plaintext",
	".yaml":    "yaml",
	".yml":     "yaml",
	".json":    "json",
	".toml":    "toml",
	".xml":     "xml",
	".ini":     "ini",
	".env":     "dotenv",
	".sql":     "sql",
	".graphql": "graphql",
	".proto":   "protobuf",
	".sh":      "shell",
	".svg":     "svg",
}

var filenameLanguages = map[string]string{
	"Dockerfile": "docker",
	"Makefile":   "makefile",
	".gitignore": "ignore",
	".env":       "dotenv",
}

// languageExtensions maps fence tags to the extension used for fallback names.
var languageExtensions = map[string]string{
	"go":         ".go",
	"golang":     ".go",
	"python":     ".py",
	"py":         ".py",
	"javascript": ".js",
	"js":         ".js",
	"jsx":        ".jsx",
	"typescript": ".ts",
	"ts":         ".ts",
	"tsx":        ".tsx",
	"css":        ".css",
	"scss":       ".scss",
	"html":       ".html",
	"json":       ".json",
	"yaml":       ".yaml",
	"yml":        ".yaml",
	"toml":       ".toml",
	"markdown":   ".md",
	"md":         ".md",
	"sql":        ".sql",
	"bash":       ".sh",
	"sh":         ".sh",
	"shell":      ".sh",
	"rust":       ".rs",
	"java":       ".java",
	"vue":        ".vue",
	"svelte":     ".svelte",
}

// DetectLanguage returns the language identifier implied by a file path.
func DetectLanguage(p string) string {
	if p == "" {
		return "unknown"
	}
	base := path.Base(p)
	if lang, ok := filenameLanguages[base]; ok {
		return lang
	}
	if lang, ok := extensionLanguages[strings.ToLower(path.Ext(base))]; ok {
		return lang
	}
	return "unknown"
}

// ExtensionForTag maps a fenced-block language tag to a file extension.
func ExtensionForTag(tag string) string {
	tag = strings.ToLower(strings.TrimSpace(tag))
	if ext, ok := languageExtensions[tag]; ok {
		return ext
	}
	return ".txt"
}

// KnownFilename reports whether base is a recognised extensionless filename.
func KnownFilename(base string) bool {
	_, ok := filenameLanguages[base]
	return ok
}

// IsScriptLanguage reports whether the language participates in the
// JavaScript/TypeScript module graph.
func IsScriptLanguage(lang string) bool {
	return lang == "javascript" || lang == "typescript"
}
