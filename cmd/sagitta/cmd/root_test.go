package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/llamaha/sagitta-sub001/internal/errors"
	"github.com/llamaha/sagitta-sub001/pkg/version"
)

// cli runs commands against an isolated data directory with the local store
// and the static embedder.
type cli struct {
	t       *testing.T
	dataDir string
	config  string
}

func newCLI(t *testing.T) *cli {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	dir := t.TempDir()
	cfg := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfg, []byte(`
store:
  backend: local
embedding:
  provider: static
  dimensions: 64
sync:
  workers: 2
`), 0o644))
	return &cli{t: t, dataDir: filepath.Join(dir, "data"), config: cfg}
}

func (c *cli) run(args ...string) (stdout, stderr string, err error) {
	c.t.Helper()
	cmd := NewRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(append([]string{"--config", c.config, "--data-dir", c.dataDir}, args...))
	err = cmd.ExecuteContext(context.Background())
	return out.String(), errOut.String(), err
}

// gitRepo creates a committed repository holding files.
func gitRepo(t *testing.T, files map[string]string) string {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	dir := t.TempDir()
	git := func(args ...string) {
		cmd := exec.Command("git", append([]string{"-C", dir, "-c", "user.name=test", "-c", "user.email=test@example.com", "-c", "commit.gpgsign=false"}, args...)...)
		out, err := cmd.CombinedOutput()
		require.NoError(t, err, string(out))
	}
	git("init", "-q", "-b", "main")
	for p, content := range files {
		full := filepath.Join(dir, filepath.FromSlash(p))
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
		require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
	}
	git("add", "-A")
	git("commit", "-q", "-m", "init")
	return dir
}

func TestRootCmd_RegistersCommands(t *testing.T) {
	cmd := NewRootCmd()

	var names []string
	for _, c := range cmd.Commands() {
		names = append(names, c.Name())
	}

	for _, want := range []string{"repo", "sync", "query", "repair", "status", "watch", "config", "version"} {
		assert.Contains(t, names, want)
	}
}

func TestVersionCmd(t *testing.T) {
	c := newCLI(t)

	out, _, err := c.run("version", "--short")
	require.NoError(t, err)
	assert.Equal(t, version.Short()+"\n", out)

	out, _, err = c.run("version", "--format", "json")
	require.NoError(t, err)
	var info version.BuildInfo
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	assert.Equal(t, version.Version, info.Version)
	assert.NotEmpty(t, info.Commit)

	out, _, err = c.run("version")
	require.NoError(t, err)
	assert.Contains(t, out, "sagitta "+version.Version+" (")

	_, _, err = c.run("version", "--format", "yaml")
	assert.True(t, errors.HasCode(err, errors.ErrCodeInvalidInput))
}

func TestEndToEnd_AddSyncQueryRemove(t *testing.T) {
	// Given: a committed repository and a fresh data directory
	dir := gitRepo(t, map[string]string{
		"main.rs":     "fn handler(req: Request) -> Response {\n    Response::ok()\n}\n",
		"src/util.go": "package util\n\nfunc Add(a, b int) int {\n\treturn a + b\n}\n",
	})
	c := newCLI(t)

	// When: registering and syncing it
	out, _, err := c.run("repo", "add", "demo", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "Registered demo")

	_, stderr, err := c.run("sync", "demo")
	require.NoError(t, err)
	assert.Contains(t, stderr, "demo: full sync")

	// Then: a second sync is a no-op
	_, stderr, err = c.run("sync", "demo")
	require.NoError(t, err)
	assert.Contains(t, stderr, "demo: noop sync")

	// And: the repository reports as up to date
	out, _, err = c.run("status")
	require.NoError(t, err)
	assert.Contains(t, out, "up to date")

	// And: queries find the handler
	out, _, err = c.run("query", "demo", "http", "handler", "--format", "json")
	require.NoError(t, err)
	var results []queryResultJSON
	require.NoError(t, json.Unmarshal([]byte(out), &results))
	require.NotEmpty(t, results)
	assert.Equal(t, "main.rs", results[0].Path)
	assert.Equal(t, 1, results[0].StartLine)

	out, _, err = c.run("query", "demo", "add", "--language", "go")
	require.NoError(t, err)
	assert.Contains(t, out, "src/util.go")
	assert.NotContains(t, out, "main.rs")

	// When: removing the repository
	_, _, err = c.run("repo", "remove", "demo")
	require.NoError(t, err)

	// Then: it is gone from the registry
	out, _, err = c.run("repo", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "No repositories registered")
}

func TestRepairCmd_RebuildsDeletedCollection(t *testing.T) {
	dir := gitRepo(t, map[string]string{"a.go": "package a\n\nfunc A() {}\n"})
	c := newCLI(t)
	_, _, err := c.run("repo", "add", "demo", dir)
	require.NoError(t, err)

	out, _, err := c.run("repair", "demo")

	require.NoError(t, err)
	assert.Contains(t, out, "demo: rebuilt (collection missing)")
}

func TestSyncCmd_FilenameBoostChangeNeedsRepair(t *testing.T) {
	// Given: a repository synced with the default filename boost
	dir := gitRepo(t, map[string]string{"a.go": "package a\n\nfunc A() {}\n"})
	c := newCLI(t)
	_, _, err := c.run("repo", "add", "demo", dir)
	require.NoError(t, err)
	_, _, err = c.run("sync", "demo")
	require.NoError(t, err)

	// When: the index-time boost changes
	cfg, err := os.ReadFile(c.config)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(c.config, append(cfg, []byte("tokenizer:\n  filename_boost: 3\n")...), 0o644))

	// Then: writing refuses to mix vectors built under both settings
	_, _, err = c.run("sync", "demo", "--force")
	assert.True(t, errors.HasCode(err, errors.ErrCodeTokenizerMismatch))

	// And: repair rebuilds under the new setting
	out, _, err := c.run("repair", "demo")
	require.NoError(t, err)
	assert.Contains(t, out, "demo: rebuilt (tokenizer configuration changed)")
	_, stderr, err := c.run("sync", "demo")
	require.NoError(t, err)
	assert.Contains(t, stderr, "demo: noop sync")
}

func TestRepoAdd_RejectsPathLikeNames(t *testing.T) {
	dir := gitRepo(t, map[string]string{"a.go": "package a\n"})
	c := newCLI(t)

	_, _, err := c.run("repo", "add", "../escape", dir)

	assert.True(t, errors.HasCode(err, errors.ErrCodeInvalidInput))
	_, statErr := os.Stat(filepath.Join(c.dataDir, "escape.lock"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestSyncCmd_ArgumentErrors(t *testing.T) {
	c := newCLI(t)

	_, _, err := c.run("sync")
	assert.True(t, errors.HasCode(err, errors.ErrCodeInvalidInput))

	_, _, err = c.run("sync", "demo", "--all")
	assert.True(t, errors.HasCode(err, errors.ErrCodeInvalidInput))

	_, _, err = c.run("sync", "missing")
	assert.True(t, errors.HasCode(err, errors.ErrCodeRepoNotFound))
}

func TestQueryCmd_UnknownProfile(t *testing.T) {
	c := newCLI(t)

	_, _, err := c.run("query", "demo", "x", "--profile", "bogus")

	assert.True(t, errors.HasCode(err, errors.ErrCodeInvalidInput))
}

func TestConfigShow_AppliesFlags(t *testing.T) {
	c := newCLI(t)

	out, _, err := c.run("config", "show")

	require.NoError(t, err)
	assert.Contains(t, out, "backend: local")
	assert.Contains(t, out, "data_dir: "+c.dataDir)
}

func TestConfigInit_RefusesOverwrite(t *testing.T) {
	c := newCLI(t)

	out, _, err := c.run("config", "init")
	require.NoError(t, err)
	assert.Contains(t, out, "Wrote")

	_, _, err = c.run("config", "init")
	assert.True(t, errors.HasCode(err, errors.ErrCodeInvalidInput))

	_, _, err = c.run("config", "init", "--force")
	assert.NoError(t, err)
}
