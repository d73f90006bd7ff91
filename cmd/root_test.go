package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/kris-hansen/sheetsmith/utils/artifact"
	"github.com/kris-hansen/sheetsmith/utils/sheet"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testIdeal = "Agreement,Article DOI,Journal Title,APC\n"
	testRaw   = "Manuscript DOI,Journal Title Name,Retail Price\n10.1021/a,JACS,3500\n10.1021/b,Biochemistry,2999.999\n"
)

// workspace writes a config without a proposer plus the three inputs, and
// points SHEETSMITH_CONFIG at it
func workspace(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	conf := "proposer:\n  provider: none\nserver:\n  jobsDir: " + filepath.Join(dir, "jobs") + "\n"
	files := map[string]string{
		"config.yaml":  conf,
		"ideal.csv":    testIdeal,
		"jan.csv":      testRaw,
		"feb.csv":      testRaw,
		"notes.txt":    "Use the ACS agreement.",
		"corrupt.xlsx": "not a zip archive",
	}
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0644))
	}
	t.Setenv("SHEETSMITH_CONFIG", filepath.Join(dir, "config.yaml"))
	t.Setenv("SHEETSMITH_JOBS_DIR", "")
	t.Setenv("SHEETSMITH_PROVIDER", "")
	t.Setenv("SHEETSMITH_LOG_FILE", "")
	t.Setenv("NO_COLOR", "1")
	return dir
}

// run executes the root command with fresh flag state
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	configFile, verbose, debug = "", false, false
	transformIdeal, transformRaw, transformInstructions = "", nil, ""
	transformOut, transformJobsDir, transformForce = ".", "", false
	catalogueIdeal, catalogueRaw = "", ""

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true
	err := rootCmd.Execute()
	return out.String(), err
}

func TestTransformSingleFile(t *testing.T) {
	dir := workspace(t)
	out := filepath.Join(dir, "out")

	stdout, err := run(t, "transform",
		"--ideal", filepath.Join(dir, "ideal.csv"),
		"--raw", filepath.Join(dir, "jan.csv"),
		"--instructions", filepath.Join(dir, "notes.txt"),
		"--out", out)
	require.NoError(t, err)
	assert.Contains(t, stdout, "jan.csv")
	assert.Contains(t, stdout, "fallback")

	for _, k := range artifact.Kinds() {
		assert.FileExists(t, filepath.Join(out, k.FileName()))
	}
	s, err := sheet.Load(filepath.Join(out, artifact.KindIdeal.FileName()))
	require.NoError(t, err)
	assert.Equal(t, []string{"Agreement", "Article DOI", "Journal Title", "APC"}, s.Header)
	require.Len(t, s.Rows, 2)
	assert.Equal(t, "JACS", s.Rows[0][2])

	// a second run refuses to overwrite without --force
	_, err = run(t, "transform",
		"--ideal", filepath.Join(dir, "ideal.csv"),
		"--raw", filepath.Join(dir, "jan.csv"),
		"--instructions", filepath.Join(dir, "notes.txt"),
		"--out", out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 of 1 jobs failed")

	_, err = run(t, "transform",
		"--ideal", filepath.Join(dir, "ideal.csv"),
		"--raw", filepath.Join(dir, "jan.csv"),
		"--instructions", filepath.Join(dir, "notes.txt"),
		"--out", out, "--force")
	require.NoError(t, err)
}

func TestTransformSeveralFiles(t *testing.T) {
	dir := workspace(t)
	out := filepath.Join(dir, "out")

	stdout, err := run(t, "transform",
		"--ideal", filepath.Join(dir, "ideal.csv"),
		"--raw", filepath.Join(dir, "jan.csv"),
		"--raw", filepath.Join(dir, "feb.csv"),
		"--raw", filepath.Join(dir, "corrupt.xlsx"),
		"--instructions", filepath.Join(dir, "notes.txt"),
		"--out", out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 of 3 jobs failed")
	assert.Contains(t, stdout, "corrupt.xlsx")

	for _, name := range []string{"jan", "feb"} {
		assert.FileExists(t, filepath.Join(out, name, artifact.KindSummary.FileName()))
	}
	assert.NoDirExists(t, filepath.Join(out, "corrupt"))
}

func TestTransformMissingInput(t *testing.T) {
	dir := workspace(t)
	_, err := run(t, "transform",
		"--ideal", filepath.Join(dir, "ideal.csv"),
		"--raw", filepath.Join(dir, "missing.csv"),
		"--instructions", filepath.Join(dir, "notes.txt"),
		"--out", filepath.Join(dir, "out"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 of 1 jobs failed")
}

func TestCatalogue(t *testing.T) {
	dir := workspace(t)

	stdout, err := run(t, "catalogue")
	require.NoError(t, err)
	assert.NotEmpty(t, stdout)

	stdout, err = run(t, "catalogue",
		"--ideal", filepath.Join(dir, "ideal.csv"),
		"--raw", filepath.Join(dir, "jan.csv"))
	require.NoError(t, err)
	assert.Contains(t, stdout, "Journal Title")

	_, err = run(t, "catalogue", "--ideal", filepath.Join(dir, "ideal.csv"))
	assert.Error(t, err)
}

func TestCheckWithoutProposer(t *testing.T) {
	workspace(t)
	stdout, err := run(t, "check")
	require.NoError(t, err)
	assert.Contains(t, stdout, "proposer disabled")
}

func TestVersion(t *testing.T) {
	workspace(t)
	stdout, err := run(t, "version")
	require.NoError(t, err)
	assert.Contains(t, stdout, "sheetsmith version:")
}

func TestOutputDirs(t *testing.T) {
	tests := []struct {
		name string
		raws []string
		want []string
	}{
		{"single file uses base", []string{"data/jan.csv"}, []string{"out"}},
		{"several files get a subdirectory", []string{"data/jan.csv", "data/feb.csv"},
			[]string{filepath.Join("out", "jan"), filepath.Join("out", "feb")}},
		{"unsafe characters are replaced", []string{"data/raw export.xlsx", "jan.csv"},
			[]string{filepath.Join("out", "raw_export"), filepath.Join("out", "jan")}},
		{"repeated names are numbered", []string{"2023/export.csv", "2024/export.xlsx", "2025/Export.csv", "export-2.csv"},
			[]string{filepath.Join("out", "export"), filepath.Join("out", "export-2"), filepath.Join("out", "Export-3"), filepath.Join("out", "export-2-2")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, outputDirs("out", tt.raws))
		})
	}
}

func TestTransformSameNameInDifferentDirectories(t *testing.T) {
	dir := workspace(t)
	for _, sub := range []string{"2023", "2024"} {
		require.NoError(t, os.MkdirAll(filepath.Join(dir, sub), 0755))
		require.NoError(t, os.WriteFile(filepath.Join(dir, sub, "export.csv"), []byte(testRaw), 0644))
	}
	out := filepath.Join(dir, "out")

	_, err := run(t, "transform",
		"--ideal", filepath.Join(dir, "ideal.csv"),
		"--raw", filepath.Join(dir, "2023", "export.csv"),
		"--raw", filepath.Join(dir, "2024", "export.csv"),
		"--instructions", filepath.Join(dir, "notes.txt"),
		"--out", out)
	require.NoError(t, err)
	for _, name := range []string{"export", "export-2"} {
		assert.FileExists(t, filepath.Join(out, name, artifact.KindSummary.FileName()))
	}
}

func TestMaskToken(t *testing.T) {
	tests := []struct {
		token string
		want  string
	}{
		{"", ""},
		{"abc", "***"},
		{"abcdef", "******"},
		{"abcdefgh", "ab****gh"},
	}
	for _, tt := range tests {
		t.Run(tt.token, func(t *testing.T) {
			assert.Equal(t, tt.want, maskToken(tt.token))
		})
	}
}
