package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

const (
	searchBox = "```tsx\n// filepath: components/SearchBox.tsx\nexport default function SearchBox() {\n  return <input />\n}\n```\n"

	brokenPage = "export function SearchBox() {\n  return <input />\n}\n"
	pageSource = "import SearchBox from '@/components/SearchBox'\n\nexport default function Page() {\n  return <SearchBox />\n}\n"
)

// execute runs the CLI against ws and returns stdout.
func execute(t *testing.T, ws string, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&bytes.Buffer{})
	root.SetArgs(append([]string{"--workspace", ws, "--log-level", "error"}, args...))
	err := root.Execute()
	return out.String(), err
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

// scriptedWorkspace configures ws to answer with replies and keep
// suggestions in memory.
func scriptedWorkspace(t *testing.T, replies ...string) string {
	t.Helper()
	ws := t.TempDir()
	script, err := yaml.Marshal(map[string]interface{}{"replies": replies})
	require.NoError(t, err)
	scriptPath := filepath.Join(ws, "script.yaml")
	writeFile(t, scriptPath, string(script))
	cfg, err := yaml.Marshal(map[string]interface{}{
		"model":    map[string]interface{}{"provider": "scripted", "name": "scripted", "script": scriptPath},
		"workflow": map[string]interface{}{"agents": []string{"coder"}},
		"storage":  map[string]interface{}{"suggestions": "memory"},
	})
	require.NoError(t, err)
	writeFile(t, filepath.Join(ws, "codeforge.yaml"), string(cfg))
	return ws
}

func TestValidateReportsCriticalIssues(t *testing.T) {
	ws := t.TempDir()
	dir := filepath.Join(ws, "site")
	writeFile(t, filepath.Join(dir, "components", "SearchBox.tsx"), brokenPage)
	writeFile(t, filepath.Join(dir, "app", "page.tsx"), pageSource)
	writeFile(t, filepath.Join(dir, "node_modules", "react", "index.js"), "module.exports = {}\n")

	out, err := execute(t, ws, "validate", dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "validation failed")
	assert.Contains(t, out, "2 file(s) · score 75 · invalid")
	assert.Contains(t, out, "critical")

	writeFile(t, filepath.Join(dir, "components", "SearchBox.tsx"), "export default function SearchBox() {\n  return <input />\n}\n")
	out, err = execute(t, ws, "validate", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "score 100 · valid")
}

func TestValidateRejectsFile(t *testing.T) {
	ws := t.TempDir()
	path := filepath.Join(ws, "a.ts")
	writeFile(t, path, "export const a = 1\n")
	_, err := execute(t, ws, "validate", path)
	require.Error(t, err)
}

func TestParseListsAndWritesFiles(t *testing.T) {
	ws := t.TempDir()
	response := filepath.Join(ws, "response.md")
	writeFile(t, response, "Here is the component:\n\n"+searchBox+"\n```bash\nnpm install\n```\n")
	out := filepath.Join(ws, "out")

	stdout, err := execute(t, ws, "parse", response, "--out", out)
	require.NoError(t, err)
	assert.Contains(t, stdout, "components/SearchBox.tsx (typescript")
	assert.Contains(t, stdout, "skipped block")

	data, err := os.ReadFile(filepath.Join(out, "components", "SearchBox.tsx"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "export default function SearchBox")
}

func TestParseReportsNoFiles(t *testing.T) {
	ws := t.TempDir()
	response := filepath.Join(ws, "response.md")
	writeFile(t, response, "I could not produce any code.")
	stdout, err := execute(t, ws, "parse", response)
	require.NoError(t, err)
	assert.Contains(t, stdout, "No files found.")
}

func TestRunAndInspectRuns(t *testing.T) {
	ws := scriptedWorkspace(t, searchBox)

	out, err := execute(t, ws, "run", "--id", "r1", "Add", "a", "search", "box")
	require.NoError(t, err)
	assert.Contains(t, out, "run r1 · completed · 1 step(s)")
	assert.Contains(t, out, "components/SearchBox.tsx")

	data, err := os.ReadFile(filepath.Join(ws, "generated", "components", "SearchBox.tsx"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "export default function SearchBox")

	out, err = execute(t, ws, "runs", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "r1 · completed")
	assert.Contains(t, out, "Add a search box")

	out, err = execute(t, ws, "runs", "show", "r1", "--transcript")
	require.NoError(t, err)
	assert.Contains(t, out, "request: Add a search box")
	assert.Contains(t, out, "[assistant]")

	out, err = execute(t, ws, "validate")
	require.NoError(t, err)
	assert.Contains(t, out, "score 100")

	_, err = execute(t, ws, "runs", "delete", "r1")
	require.NoError(t, err)
	_, err = execute(t, ws, "runs", "show", "r1")
	require.ErrorIs(t, err, errNoRun)
}

func TestRunFailureReturnsError(t *testing.T) {
	ws := scriptedWorkspace(t, "no code here", "still no code")
	out, err := execute(t, ws, "run", "Add a search box")
	require.Error(t, err)
	assert.Contains(t, out, "failed")
}

func TestSuggestionsListEmpty(t *testing.T) {
	ws := scriptedWorkspace(t, searchBox)
	out, err := execute(t, ws, "suggestions", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "No suggestions found.")

	_, err = execute(t, ws, "suggestions", "approve", "missing")
	require.Error(t, err)
}

func TestFixRequiresFailure(t *testing.T) {
	ws := scriptedWorkspace(t, searchBox)
	_, err := execute(t, ws, "fix")
	require.Error(t, err)
}

func TestAgentsList(t *testing.T) {
	out, err := execute(t, t.TempDir(), "agents", "list")
	require.NoError(t, err)
	for _, id := range []string{"planner", "coder", "reviewer"} {
		assert.Contains(t, out, id)
	}
	out, err = execute(t, t.TempDir(), "agents", "show", "coder")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "coder (implement)"))
}

func TestConfigInitSetGet(t *testing.T) {
	ws := t.TempDir()
	_, err := execute(t, ws, "config", "init")
	require.NoError(t, err)
	_, err = execute(t, ws, "config", "init")
	require.Error(t, err)

	_, err = execute(t, ws, "config", "set", "correction.max_attempts", "4")
	require.NoError(t, err)
	out, err := execute(t, ws, "config", "get", "correction.max_attempts")
	require.NoError(t, err)
	assert.Equal(t, "4\n", out)

	_, err = execute(t, ws, "config", "set", "validation.mode", "bogus")
	require.Error(t, err)
	out, err = execute(t, ws, "config", "get", "validation.mode")
	require.NoError(t, err)
	assert.Equal(t, "server\n", out)
}
