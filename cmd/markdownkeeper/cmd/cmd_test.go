package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chdirTemp switches the working directory to a fresh temp dir for the
// duration of the test and restores it on cleanup.
func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	old, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(old) })
	return dir
}

func runCmd(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func TestIndexCmd_IndexesMatchingFilesInTempDir(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "budget.md"), []byte("# Budget Planning\nbudget planning numbers"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ignore.txt"), []byte("not markdown"), 0o644))

	out, err := runCmd(t, "index")
	require.NoError(t, err)
	assert.Contains(t, out, "indexed 1 files: 1 created")
}

func TestIndexCmd_IgnoresNonMarkdownExtensions(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("plain text"), 0o644))

	out, err := runCmd(t, "index")
	require.NoError(t, err)
	assert.Contains(t, out, "indexed 0 files")
}

func TestSearchCmd_FindsLexicalMatchAfterIndexing(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "budget.md"), []byte("# Budget Planning\nbudget planning numbers"), 0o644))

	_, err := runCmd(t, "index")
	require.NoError(t, err)

	out, err := runCmd(t, "search", "budget", "--lexical")
	require.NoError(t, err)
	assert.Contains(t, out, "Budget Planning")
}

func TestSearchCmd_SemanticModeReturnsResults(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "budget.md"), []byte("# Budget Planning\nbudget planning numbers"), 0o644))

	_, err := runCmd(t, "index")
	require.NoError(t, err)

	out, err := runCmd(t, "search", "budget")
	require.NoError(t, err)
	assert.Contains(t, out, "Budget Planning")
}

func TestGetCmd_ReturnsDocumentFields(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "budget.md"), []byte("# Budget Planning\nbudget planning numbers"), 0o644))

	_, err := runCmd(t, "index")
	require.NoError(t, err)

	out, err := runCmd(t, "get", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "Title:    Budget Planning")
}

func TestGetCmd_ReturnsErrorWhenDocumentMissing(t *testing.T) {
	chdirTemp(t)

	_, err := runCmd(t, "get", "9999")
	assert.Error(t, err)
}

func TestStatsCmd_ReportsDocumentAndQueueCounts(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "budget.md"), []byte("# Budget Planning\nbudget planning numbers"), 0o644))

	_, err := runCmd(t, "index")
	require.NoError(t, err)

	out, err := runCmd(t, "stats")
	require.NoError(t, err)
	assert.Contains(t, out, "Documents:        1")
}

func TestDoctorCmd_ReportsNoBrokenLinksOnCleanCorpus(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "budget.md"), []byte("# Budget Planning\nbudget planning numbers"), 0o644))

	_, err := runCmd(t, "index")
	require.NoError(t, err)

	out, err := runCmd(t, "doctor")
	require.NoError(t, err)
	assert.Contains(t, out, "0 links checked, 0 broken")
}

func TestDoctorCmd_ReportsBrokenInternalLink(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "budget.md"), []byte("# Budget Planning\nsee [missing](./missing.md) for detail"), 0o644))

	_, err := runCmd(t, "index")
	require.NoError(t, err)

	out, err := runCmd(t, "doctor")
	assert.Error(t, err)
	assert.Contains(t, out, "BROKEN")
}

func TestRootCmd_ShowsHelp(t *testing.T) {
	out, err := runCmd(t, "--help")
	require.NoError(t, err)
	assert.Contains(t, out, "markdownkeeper")
	assert.Contains(t, out, "Usage:")
}

func TestRootCmd_ShowsVersion(t *testing.T) {
	out, err := runCmd(t, "--version")
	require.NoError(t, err)
	assert.Contains(t, out, "markdownkeeper version")
}
