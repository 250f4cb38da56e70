package queue

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"docket-harvester/internal/domain"
)

func writeManifest(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "manifest.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadPreservesOrder(t *testing.T) {
	path := writeManifest(t, `# candidate filings
filing-000001.pdf,https://portal.example.gov/docs/1

filing-000002.pdf,https://portal.example.gov/docs/2
filing-000003.pdf,https://portal.example.gov/docs/3
`)

	items, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, []domain.WorkItem{
		{Filename: "filing-000001.pdf", SourceURL: "https://portal.example.gov/docs/1"},
		{Filename: "filing-000002.pdf", SourceURL: "https://portal.example.gov/docs/2"},
		{Filename: "filing-000003.pdf", SourceURL: "https://portal.example.gov/docs/3"},
	}, items)
}

func TestLoadTrimsWhitespace(t *testing.T) {
	path := writeManifest(t, "  filing.pdf ,  https://portal.example.gov/docs/9  \n")

	items, err := Load(path)
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, "filing.pdf", items[0].Filename)
	require.Equal(t, "https://portal.example.gov/docs/9", items[0].SourceURL)
}

func TestLoadRejectsMalformedLine(t *testing.T) {
	path := writeManifest(t, "filing-000001.pdf\n")
	_, err := Load(path)
	require.Error(t, err)
	require.Contains(t, err.Error(), "line 1")
}

func TestLoadRejectsEmptyFields(t *testing.T) {
	path := writeManifest(t, "filing.pdf,   \n")
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.csv"))
	require.Error(t, err)
}
