package framework

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizePath(t *testing.T) {
	cases := map[string]string{
		"app/page.tsx":         "app/page.tsx",
		"/app/page.tsx":        "app/page.tsx",
		"./app//page.tsx":      "app/page.tsx",
		`src\components\A.tsx`: "src/components/A.tsx",
		"`lib/util.ts`":        "lib/util.ts",
		"../etc/passwd":        "",
		"a/../../b":            "",
		"   ":                  "",
	}
	for in, want := range cases {
		assert.Equal(t, want, NormalizePath(in), "input %q", in)
	}
}

func TestMemoryArtifactStoreUpsertAndList(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryArtifactStore()
	require.NoError(t, store.Upsert(ctx, "./app/page.tsx", "v1", ""))
	require.NoError(t, store.Upsert(ctx, "lib/a.ts", "a", "typescript"))
	require.NoError(t, store.Upsert(ctx, "app/page.tsx", "v2", ""))

	files, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, "app/page.tsx", files[0].Path)
	assert.Equal(t, "v2", files[0].Content)
	assert.Equal(t, "typescript", files[0].Language)

	var pathErr *InvalidPathError
	assert.True(t, errors.As(store.Upsert(ctx, "../x", "", ""), &pathErr))

	require.NoError(t, store.ClearAll(ctx))
	files, err = store.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestRemediationHint(t *testing.T) {
	assert.Contains(t, RemediationHint(&ProviderError{Provider: "ollama", Recoverable: true, Err: errors.New("503")}), "temporarily")
	assert.Contains(t, RemediationHint(&ProviderError{Provider: "openai", Err: errors.New("401")}), "credentials")
	assert.Contains(t, RemediationHint(fmt.Errorf("coder: %w", ErrParseFailure)), "file blocks")
	assert.Contains(t, RemediationHint(&CorrectionExhausted{Attempts: 2}), "max_attempts")
	assert.Contains(t, RemediationHint(context.Canceled), "cancelled")
	assert.Empty(t, RemediationHint(nil))
}

func TestIsRecoverableUnwraps(t *testing.T) {
	err := fmt.Errorf("call: %w", &ProviderError{Provider: "gemini", Recoverable: true, Err: errors.New("timeout")})
	assert.True(t, IsRecoverable(err))
	assert.False(t, IsRecoverable(errors.New("plain")))
}

func TestDetectLanguage(t *testing.T) {
	assert.Equal(t, "typescript", DetectLanguage("app/page.tsx"))
	assert.Equal(t, "css", DetectLanguage("app/globals.css"))
	assert.Equal(t, "docker", DetectLanguage("deploy/Dockerfile"))
	assert.Equal(t, "unknown", DetectLanguage("README"))
	assert.Equal(t, ".tsx", ExtensionForTag("TSX"))
	assert.Equal(t, ".txt", ExtensionForTag("brainfuck"))
}
