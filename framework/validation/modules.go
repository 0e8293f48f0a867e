package validation

import (
	"path"
	"regexp"
	"sort"
	"strings"

	"github.com/lexcodex/codeforge/framework"
)

// importSpec is one import (or re-export) statement of a script file.
type importSpec struct {
	Source    string
	Default   string
	Named     []string
	Namespace bool
	ReExport  bool
}

// exportSet summarises what a script file exports.
type exportSet struct {
	Defaults int
	Names    map[string]bool
	// Opaque means names cannot be enumerated statically (export *,
	// module.exports, destructured exports) so named checks are skipped.
	Opaque bool
}

type module struct {
	File    framework.ArtifactFile
	Code    string
	Imports []importSpec
	Exports exportSet
}

// Analysis is the pre-computed view of an artifact that rules inspect.
type Analysis struct {
	Input   Input
	Paths   []string
	Files   map[string]framework.ArtifactFile
	Modules map[string]*module
}

var (
	blockComment   = regexp.MustCompile(`(?s)/\*.*?\*/`)
	lineComment    = regexp.MustCompile(`(?m)(^|[^:"'\\])//.*$`)
	importFrom     = regexp.MustCompile(`(?m)^\s*import\s+(type\s+)?([^'";]*?)\s*from\s*['"]([^'"]+)['"]`)
	importBare     = regexp.MustCompile(`(?m)^\s*import\s*['"]([^'"]+)['"]`)
	requireCall    = regexp.MustCompile(`\brequire\(\s*['"]([^'"]+)['"]\s*\)`)
	dynamicImport  = regexp.MustCompile(`\bimport\(\s*['"]([^'"]+)['"]\s*\)`)
	reExportFrom   = regexp.MustCompile(`(?m)^\s*export\s+(?:type\s+)?(\*(?:\s+as\s+\w+)?|\{[^}]*\})\s*from\s*['"]([^'"]+)['"]`)
	exportDefault  = regexp.MustCompile(`(?m)^\s*export\s+default\b`)
	exportDecl     = regexp.MustCompile(`(?m)^\s*export\s+(?:declare\s+)?(?:abstract\s+)?(?:async\s+)?(?:function\s*\*?|class|const|let|var|interface|type|enum)\s+([A-Za-z_$][\w$]*)`)
	exportDestruct = regexp.MustCompile(`(?m)^\s*export\s+(?:const|let|var)\s+[{\[]`)
	exportList     = regexp.MustCompile(`(?m)^\s*export\s+(?:type\s+)?\{([^}]*)\}`)
	commonDefault  = regexp.MustCompile(`(?m)\bmodule\.exports\s*=|^\s*export\s*=`)
	commonNamed    = regexp.MustCompile(`\b(?:module\.)?exports\.([A-Za-z_$][\w$]*)\s*=`)

	resolveExtensions = []string{".ts", ".tsx", ".js", ".jsx", ".mjs", ".cjs", ".json", ".css", ".scss"}
)

// Analyze builds the module graph for in.
func Analyze(in Input) *Analysis {
	a := &Analysis{
		Input:   in,
		Files:   make(map[string]framework.ArtifactFile, len(in.Files)),
		Modules: make(map[string]*module),
	}
	for _, f := range in.Files {
		p := framework.NormalizePath(f.Path)
		if p == "" {
			continue
		}
		f.Path = p
		if f.Language == "" {
			f.Language = framework.DetectLanguage(p)
		}
		a.Files[p] = f
	}
	for p := range a.Files {
		a.Paths = append(a.Paths, p)
	}
	sort.Strings(a.Paths)
	for _, p := range a.Paths {
		f := a.Files[p]
		if !isScript(p) {
			continue
		}
		code := stripComments(f.Content)
		a.Modules[p] = &module{
			File:    f,
			Code:    code,
			Imports: parseImports(code),
			Exports: parseExports(code),
		}
	}
	return a
}

// Reports whether findings for p should be surfaced.
func (a *Analysis) inFocus(p string) bool {
	if a.Input.Focus == nil {
		return true
	}
	for _, f := range a.Input.Focus {
		if framework.NormalizePath(f) == p {
			return true
		}
	}
	return false
}

// scripts returns focused script modules in path order.
func (a *Analysis) scripts() []*module {
	out := make([]*module, 0, len(a.Modules))
	for _, p := range a.Paths {
		if m, ok := a.Modules[p]; ok && a.inFocus(p) {
			out = append(out, m)
		}
	}
	return out
}

// focused returns every focused file in path order.
func (a *Analysis) focused() []framework.ArtifactFile {
	out := make([]framework.ArtifactFile, 0, len(a.Paths))
	for _, p := range a.Paths {
		if a.inFocus(p) {
			out = append(out, a.Files[p])
		}
	}
	return out
}

// resolve maps an import source to an artifact path. local is false for
// package imports, which are never checked.
func (a *Analysis) resolve(importer, source string) (target string, local bool) {
	var bases []string
	switch {
	case strings.HasPrefix(source, "@/"), strings.HasPrefix(source, "~/"):
		rest := source[2:]
		bases = []string{rest, "src/" + rest}
	case strings.HasPrefix(source, "./"), strings.HasPrefix(source, "../"), source == "." || source == "..":
		joined := path.Join(path.Dir(importer), source)
		if joined == ".." || strings.HasPrefix(joined, "../") {
			return "", true
		}
		bases = []string{joined}
	case strings.HasPrefix(source, "/"):
		bases = []string{strings.TrimPrefix(source, "/")}
	default:
		return "", false
	}
	for _, base := range bases {
		base = path.Clean(base)
		if _, ok := a.Files[base]; ok {
			return base, true
		}
		for _, ext := range resolveExtensions {
			if _, ok := a.Files[base+ext]; ok {
				return base + ext, true
			}
		}
		for _, ext := range resolveExtensions {
			if _, ok := a.Files[base+"/index"+ext]; ok {
				return base + "/index" + ext, true
			}
		}
	}
	return "", true
}

func isScript(p string) bool {
	switch strings.ToLower(path.Ext(p)) {
	case ".ts", ".tsx", ".js", ".jsx", ".mjs", ".cjs":
		return !strings.HasSuffix(p, ".d.ts")
	}
	return false
}

func stripComments(code string) string {
	code = blockComment.ReplaceAllString(code, "")
	return lineComment.ReplaceAllString(code, "$1")
}

func parseImports(code string) []importSpec {
	var out []importSpec
	for _, m := range importFrom.FindAllStringSubmatch(code, -1) {
		spec := parseClause(m[2])
		spec.Source = m[3]
		out = append(out, spec)
	}
	for _, m := range importBare.FindAllStringSubmatch(code, -1) {
		out = append(out, importSpec{Source: m[1]})
	}
	for _, m := range reExportFrom.FindAllStringSubmatch(code, -1) {
		spec := importSpec{Source: m[2], ReExport: true}
		if strings.HasPrefix(m[1], "{") {
			spec.Named = specNames(strings.Trim(m[1], "{}"), false)
		} else {
			spec.Namespace = true
		}
		out = append(out, spec)
	}
	for _, re := range []*regexp.Regexp{requireCall, dynamicImport} {
		for _, m := range re.FindAllStringSubmatch(code, -1) {
			out = append(out, importSpec{Source: m[1], Namespace: true})
		}
	}
	return out
}

// parseClause handles "Def", "{ a, b as c }", "Def, { a }" and "* as ns".
func parseClause(clause string) importSpec {
	clause = strings.TrimSpace(clause)
	var spec importSpec
	if strings.Contains(clause, "* as") {
		spec.Namespace = true
		before := strings.TrimSpace(clause[:strings.Index(clause, "*")])
		spec.Default = strings.TrimSpace(strings.TrimSuffix(before, ","))
		return spec
	}
	if open := strings.Index(clause, "{"); open >= 0 {
		end := strings.LastIndex(clause, "}")
		if end < open {
			end = len(clause)
		}
		spec.Named = specNames(clause[open+1:end], false)
		clause = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(clause[:open]), ","))
	}
	spec.Default = clause
	return spec
}

// specNames lists names from a brace list. With exported=false it returns the
// imported (left-hand) names, otherwise the exported (right-hand) names.
func specNames(list string, exported bool) []string {
	var out []string
	for _, part := range strings.Split(list, ",") {
		part = strings.TrimSpace(part)
		part = strings.TrimPrefix(part, "type ")
		if part == "" {
			continue
		}
		fields := strings.Fields(part)
		name := fields[0]
		if exported && len(fields) == 3 && fields[1] == "as" {
			name = fields[2]
		}
		out = append(out, name)
	}
	return out
}

func parseExports(code string) exportSet {
	set := exportSet{Names: map[string]bool{}}
	set.Defaults = len(exportDefault.FindAllStringIndex(code, -1))
	for _, m := range exportDecl.FindAllStringSubmatch(code, -1) {
		set.Names[m[1]] = true
	}
	for _, m := range exportList.FindAllStringSubmatch(code, -1) {
		for _, name := range specNames(m[1], true) {
			if name == "default" {
				set.Defaults++
				continue
			}
			set.Names[name] = true
		}
	}
	for _, m := range reExportFrom.FindAllStringSubmatch(code, -1) {
		if strings.HasPrefix(m[1], "*") {
			if strings.Contains(m[1], " as ") {
				fields := strings.Fields(m[1])
				set.Names[fields[len(fields)-1]] = true
			} else {
				set.Opaque = true
			}
		}
	}
	if exportDestruct.MatchString(code) {
		set.Opaque = true
	}
	if commonDefault.MatchString(code) {
		set.Defaults++
		set.Opaque = true
	}
	for _, m := range commonNamed.FindAllStringSubmatch(code, -1) {
		set.Names[m[1]] = true
	}
	return set
}
