package validation

import (
	"fmt"
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexcodex/codeforge/framework"
)

func file(path, content string) framework.ArtifactFile {
	return framework.ArtifactFile{Path: path, Content: content, Language: framework.DetectLanguage(path)}
}

func TestValidateCleanProject(t *testing.T) {
	files := []framework.ArtifactFile{
		file("app/page.tsx", "import SearchBox from '@/components/SearchBox'\nimport { format } from '../lib/format'\nimport './globals.css'\n\nexport default function Page() {\n  return <SearchBox label={format('x')} />\n}\n"),
		file("components/SearchBox.tsx", "'use client'\nimport { useState } from 'react'\n\nexport default function SearchBox({ label }) {\n  const [q, setQ] = useState('')\n  return <input aria-label={label} value={q} onChange={e => setQ(e.target.value)} />\n}\n"),
		file("lib/format.ts", "export function format(s: string) { return s.trim() }\n"),
		file("app/globals.css", "body { margin: 0 }\n"),
	}
	res := Validate(files, ModeServer)
	assert.True(t, res.IsValid)
	assert.Equal(t, 100, res.Score)
	assert.Empty(t, res.CriticalIssues)
	assert.Empty(t, res.Issues)
}

func TestValidateMissingDefaultExportIsSingleCritical(t *testing.T) {
	files := []framework.ArtifactFile{
		file("app/page.tsx", "import SearchBox from '@/components/SearchBox'\n\nexport default function Page() {\n  return <SearchBox />\n}\n"),
		file("components/SearchBox.tsx", "function SearchBox() {\n  return <input />\n}\n"),
	}
	res := Validate(files, ModeServer)
	require.Len(t, res.CriticalIssues, 1)
	assert.Equal(t, RuleDefaultImport, res.CriticalIssues[0].Rule)
	assert.Equal(t, "app/page.tsx", res.CriticalIssues[0].File)
	assert.Contains(t, res.CriticalIssues[0].Message, "components/SearchBox.tsx")
	assert.False(t, res.IsValid)
	assert.Equal(t, 75, res.Score)
}

func TestValidateNamedImportsAndAliases(t *testing.T) {
	files := []framework.ArtifactFile{
		file("src/app.ts", "import { a, b as renamed, type T } from './lib'\nimport { thing } from './barrel'\nimport def, { helper } from '~/util/index'\n"),
		file("src/lib.ts", "export const a = 1\nexport interface T {}\n"),
		file("src/barrel.ts", "export * from './lib'\n"),
		file("util/index.js", "module.exports = { helper: 1 }\n"),
	}
	res := Validate(files, ModeServer)
	require.Len(t, res.CriticalIssues, 1)
	assert.Equal(t, RuleNamedImport, res.CriticalIssues[0].Rule)
	assert.Contains(t, res.CriticalIssues[0].Message, "{ b }")
}

func TestValidateUnresolvedAndMultipleDefaults(t *testing.T) {
	files := []framework.ArtifactFile{
		file("app/page.tsx", "import Missing from './Missing'\nimport React from 'react'\nexport default function Page() { return null }\nexport default Page\n"),
	}
	res := Validate(files, ModeServer)
	rules := map[string]bool{}
	for _, i := range res.CriticalIssues {
		rules[i.Rule] = true
	}
	assert.True(t, rules[RuleUnresolvedImport])
	assert.True(t, rules[RuleMultipleDefaults])
	assert.False(t, rules[RuleDefaultImport], "unresolved imports are not double-reported")
	assert.Equal(t, 50, res.Score)
	assert.False(t, res.IsValid)
}

func TestValidateIgnoresCommentedImports(t *testing.T) {
	files := []framework.ArtifactFile{
		file("app/page.tsx", "// import Gone from './Gone'\n/* import Other from './Other' */\nexport default function Page() { return null }\n"),
	}
	assert.Empty(t, Validate(files, ModeServer).CriticalIssues)
}

func TestLifecycleDirectiveDependsOnMode(t *testing.T) {
	interactive := file("components/Counter.tsx", "import { useState } from 'react'\nexport default function Counter() {\n  const [n, setN] = useState(0)\n  return <button onClick={() => setN(n + 1)}>{n}</button>\n}\n")
	action := file("app/actions.ts", "'use server'\nexport async function save() {}\n")

	server := Validate([]framework.ArtifactFile{interactive, action}, ModeServer)
	require.Len(t, server.Issues, 1)
	assert.Equal(t, RuleLifecycle, server.Issues[0].Rule)
	assert.Equal(t, "components/Counter.tsx", server.Issues[0].File)
	assert.True(t, server.IsValid, "advisory findings never block")
	assert.Equal(t, 90, server.Score)

	static := Validate([]framework.ArtifactFile{interactive, action}, ModeStatic)
	require.Len(t, static.Issues, 1)
	assert.Equal(t, "app/actions.ts", static.Issues[0].File)
}

func TestAdvisoryRules(t *testing.T) {
	files := []framework.ArtifactFile{
		file("lib/poll.ts", "export function poll() { setInterval(() => {}, 1000); window.addEventListener('resize', () => {}) }\n"),
		file("lib/danger.ts", "export const run = (s: string) => eval(s)\n"),
		file("lib/config.ts", "export const apiKey = \"abcd1234abcd1234abcd1234\"\n"),
		file("lib/huge.ts", strings.Repeat("export const x = 1\n", MaxFileLines+5)),
	}
	res := Validate(files, ModeServer)
	assert.Empty(t, res.CriticalIssues)
	got := map[string]int{}
	for _, i := range res.Issues {
		got[i.Rule]++
	}
	assert.Equal(t, 2, got[RuleCleanup])
	assert.Equal(t, 1, got[RuleDynamicEval])
	assert.Equal(t, 1, got[RuleSecret])
	assert.Equal(t, 1, got[RuleOversized])
	assert.Equal(t, 100-5-10-15-5, res.Score)
}

func TestOutputShapeByRole(t *testing.T) {
	v := New()
	plan := v.Check(Input{Role: framework.RolePlan, Output: "1. Create the page\n2. Add the search box\n"})
	assert.Empty(t, plan.Issues)

	vague := v.Check(Input{Role: framework.RolePlan, Output: "We should build something nice."})
	require.Len(t, vague.Issues, 1)
	assert.Equal(t, RuleOutputShape, vague.Issues[0].Rule)

	review := v.Check(Input{Role: framework.RoleReview, Output: "Looks great overall."})
	require.Len(t, review.Issues, 1)

	structured := v.Check(Input{Role: framework.RoleAudit, Output: `{"issues": []}`})
	assert.Empty(t, structured.Issues)
}

func TestFocusLimitsReportedFiles(t *testing.T) {
	files := []framework.ArtifactFile{
		file("app/page.tsx", "import X from './Missing'\nexport default function Page() { return null }\n"),
		file("lib/ok.ts", "export const ok = true\n"),
	}
	res := New().Check(Input{Files: files, Mode: ModeServer, Focus: []string{"lib/ok.ts"}})
	assert.Empty(t, res.CriticalIssues)
	assert.True(t, res.IsValid)
}

func TestOverridesDisableAndReweight(t *testing.T) {
	files := []framework.ArtifactFile{file("lib/danger.ts", "export const run = (s: string) => eval(s)\n")}
	zero := 0
	v := New(WithOverrides(map[string]Override{RuleDynamicEval: {Weight: &zero}}))
	res := v.Check(Input{Files: files})
	assert.Equal(t, 100, res.Score)
	require.Len(t, res.Issues, 1)

	v = New(WithOverrides(map[string]Override{RuleDynamicEval: {Disabled: true}}))
	assert.Empty(t, v.Check(Input{Files: files}).Issues)
	assert.Len(t, v.Rules(), len(DefaultRules())-1)
}

func TestScoreIsMonotonicAndClamped(t *testing.T) {
	always := func(id string, cat Category, weight int) Rule {
		return Rule{ID: id, Category: cat, Weight: weight, Check: func(*Analysis) []Finding { return []Finding{{Message: id}} }}
	}
	var rules []Rule
	prev := 101
	for i := 0; i < 8; i++ {
		rules = append(rules, always(string(rune('a'+i)), Advisory, 20))
		res := New(WithRules(rules...)).Check(Input{})
		assert.LessOrEqual(t, res.Score, prev)
		assert.GreaterOrEqual(t, res.Score, 0)
		assert.Equal(t, res.Score >= PassingScore, res.IsValid)
		prev = res.Score
	}
	assert.Equal(t, 0, prev)
}

func TestValidateIsDeterministic(t *testing.T) {
	files := []framework.ArtifactFile{
		file("b.ts", "import { x } from './a'\n"),
		file("a.ts", "export const y = 1\n"),
		file("c.ts", "import z from './nowhere'\n"),
	}
	first := Validate(files, ModeServer)
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, Validate(files, ModeServer))
	}
}

func TestScoreAndValidityOverRandomRuleSubsets(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for round := 0; round < 200; round++ {
		var (
			rules    []Rule
			penalty  int
			critical int
		)
		n := 1 + rng.Intn(8)
		for i := 0; i < n; i++ {
			cat := Advisory
			if rng.Intn(3) == 0 {
				cat = Critical
			}
			weight := rng.Intn(40)
			fires := rng.Intn(2) == 0
			if fires {
				penalty += weight
				if cat == Critical {
					critical++
				}
			}
			id := fmt.Sprintf("r%d", i)
			rules = append(rules, Rule{ID: id, Category: cat, Weight: weight, Check: func(*Analysis) []Finding {
				if !fires {
					return nil
				}
				return []Finding{{Message: id}}
			}})
		}

		res := New(WithRules(rules...)).Check(Input{})
		want := 100 - penalty
		if want < 0 {
			want = 0
		}
		require.Equal(t, want, res.Score, "round %d", round)
		require.Len(t, res.CriticalIssues, critical, "round %d", round)
		require.Equal(t, res.Score >= PassingScore && len(res.CriticalIssues) == 0, res.IsValid, "round %d", round)
	}
}
