package prompts

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writePrompt(t *testing.T, root, sub, name, content string) {
	t.Helper()
	dir := filepath.Join(root, sub)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestResolveFromCandidates_CandidateOrder(t *testing.T) {
	root := t.TempDir()
	writePrompt(t, root, "generic", "weekly_analysis_v1.fr.txt", "Analyse la semaine.")
	writePrompt(t, root, "generic", "weekly_analysis_v1.txt", "Analyze the week.")

	repo := NewRepository(root)
	bundle, err := repo.ResolveFromCandidates(
		[]string{"weekly_analysis_v1.fr", "weekly_analysis_v1.en", "weekly_analysis_v1"}, nil, false)
	require.NoError(t, err)
	assert.Equal(t, "weekly_analysis_v1.fr", bundle.GenericKey)
	assert.Equal(t, "Analyse la semaine.", bundle.GenericText)

	bundle, err = repo.ResolveFromCandidates(
		[]string{"weekly_analysis_v1.de", "weekly_analysis_v1"}, nil, false)
	require.NoError(t, err)
	assert.Equal(t, "weekly_analysis_v1", bundle.GenericKey)
	assert.Equal(t, "Analyze the week.", bundle.GenericText)
}

func TestResolveFromCandidates_ExtensionOrder(t *testing.T) {
	root := t.TempDir()
	writePrompt(t, root, "generic", "base", "bare file wins")
	writePrompt(t, root, "generic", "base.txt", "txt variant")
	writePrompt(t, root, "generic", "other.md", "markdown variant")

	repo := NewRepository(root)
	bundle, err := repo.ResolveFromCandidates([]string{"base"}, nil, false)
	require.NoError(t, err)
	assert.Equal(t, "bare file wins", bundle.GenericText)

	bundle, err = repo.ResolveFromCandidates([]string{"other"}, nil, false)
	require.NoError(t, err)
	assert.Equal(t, "markdown variant", bundle.GenericText)
	assert.Equal(t, filepath.Join(root, "generic", "other.md"), bundle.GenericPath)
}

func TestResolveFromCandidates_MissingGeneric(t *testing.T) {
	repo := NewRepository(t.TempDir())
	_, err := repo.ResolveFromCandidates([]string{"nope"}, nil, false)
	assert.ErrorIs(t, err, ErrPromptNotFound)
}

func TestResolveFromCandidates_PrivateOptional(t *testing.T) {
	root := t.TempDir()
	writePrompt(t, root, "generic", "base.txt", "generic text")

	repo := NewRepository(root)

	// missing private is tolerated by default
	bundle, err := repo.ResolveFromCandidates([]string{"base"}, []string{"athlete_profile"}, false)
	require.NoError(t, err)
	assert.Empty(t, bundle.PrivateKey)
	assert.Empty(t, bundle.PrivateText)

	// but fails when explicitly required
	_, err = repo.ResolveFromCandidates([]string{"base"}, []string{"athlete_profile"}, true)
	assert.ErrorIs(t, err, ErrPromptNotFound)

	writePrompt(t, root, "private", "athlete_profile.txt", "Runner, 40s, base building.")
	bundle, err = repo.ResolveFromCandidates([]string{"base"}, []string{"athlete_profile"}, true)
	require.NoError(t, err)
	assert.Equal(t, "athlete_profile", bundle.PrivateKey)
	assert.Equal(t, "Runner, 40s, base building.", bundle.PrivateText)
}

func TestResolveFromCandidates_BlankCandidatesSkipped(t *testing.T) {
	root := t.TempDir()
	writePrompt(t, root, "generic", "base.txt", "generic text")

	repo := NewRepository(root)
	bundle, err := repo.ResolveFromCandidates([]string{"", "  ", "base"}, nil, false)
	require.NoError(t, err)
	assert.Equal(t, "base", bundle.GenericKey)
}

func TestStripFrontMatter(t *testing.T) {
	body, meta := stripFrontMatter("---\ntitle: Weekly\ndescription: Weekly review\n---\nThe prompt body.\n")
	assert.Equal(t, "The prompt body.\n", body)
	assert.Equal(t, "Weekly", meta.Title)
	assert.Equal(t, "Weekly review", meta.Description)

	// no front matter
	body, meta = stripFrontMatter("plain body")
	assert.Equal(t, "plain body", body)
	assert.Equal(t, Metadata{}, meta)

	// unterminated block left untouched
	content := "---\ntitle: broken\nno end marker"
	body, _ = stripFrontMatter(content)
	assert.Equal(t, content, body)

	// invalid yaml left untouched
	content = "---\n\t: [\n---\nbody"
	body, _ = stripFrontMatter(content)
	assert.Equal(t, content, body)
}

func TestResolveFromCandidates_StripsFrontMatter(t *testing.T) {
	root := t.TempDir()
	writePrompt(t, root, "generic", "base.md", "---\ntitle: Base\n---\nActual guidance.\n")

	repo := NewRepository(root)
	bundle, err := repo.ResolveFromCandidates([]string{"base"}, nil, false)
	require.NoError(t, err)
	assert.Equal(t, "Actual guidance.", bundle.GenericText)
}
