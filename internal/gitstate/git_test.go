package gitstate

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/llamaha/sagitta-sub001/internal/errors"
)

// testRepo is a throwaway git repository.
type testRepo struct {
	t   *testing.T
	dir string
}

func newTestRepo(t *testing.T) *testRepo {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	r := &testRepo{t: t, dir: t.TempDir()}
	r.git("init", "-q", "-b", "main")
	return r
}

func (r *testRepo) git(args ...string) {
	r.t.Helper()
	cmd := exec.Command("git", append([]string{"-C", r.dir, "-c", "user.name=test", "-c", "user.email=test@example.com", "-c", "commit.gpgsign=false"}, args...)...)
	out, err := cmd.CombinedOutput()
	require.NoError(r.t, err, string(out))
}

func (r *testRepo) write(path, content string) {
	r.t.Helper()
	full := filepath.Join(r.dir, path)
	require.NoError(r.t, os.MkdirAll(filepath.Dir(full), 0o755))
	require.NoError(r.t, os.WriteFile(full, []byte(content), 0o644))
}

func (r *testRepo) commit(msg string) {
	r.t.Helper()
	r.git("add", "-A")
	r.git("commit", "-q", "-m", msg)
}

func TestCLI_CommitDiffAndList(t *testing.T) {
	// Given: two commits touching add, modify, delete and rename
	r := newTestRepo(t)
	r.write("src/main.rs", "fn main() {}\n")
	r.write("src/old.rs", "fn old() {}\n")
	r.write("README.md", "# demo\n")
	r.commit("one")

	git, err := NewCLI()
	require.NoError(t, err)
	ctx := context.Background()
	first, err := git.CurrentCommit(ctx, r.dir)
	require.NoError(t, err)
	assert.Len(t, first, 40)

	r.write("src/main.rs", "fn main() { run(); }\n")
	r.write("src/lib.rs", "pub fn run() {}\n")
	r.git("mv", "src/old.rs", "src/renamed.rs")
	r.git("rm", "-q", "README.md")
	r.commit("two")
	second, err := git.CurrentCommit(ctx, r.dir)
	require.NoError(t, err)

	// When: diffing and listing
	diff, err := git.Diff(ctx, r.dir, first, second)
	require.NoError(t, err)
	files, err := git.ListFiles(ctx, r.dir)
	require.NoError(t, err)

	// Then: renames are a remove plus an add
	assert.ElementsMatch(t, []string{"src/lib.rs", "src/renamed.rs"}, diff.Added)
	assert.Equal(t, []string{"src/main.rs"}, diff.Modified)
	assert.ElementsMatch(t, []string{"README.md", "src/old.rs"}, diff.Removed)
	assert.Equal(t, []string{"README.md", "src/lib.rs", "src/main.rs", "src/old.rs", "src/renamed.rs"}, diff.Changed())
	assert.Equal(t, []string{"src/lib.rs", "src/main.rs", "src/renamed.rs"}, files)

	branch, err := git.CurrentBranch(ctx, r.dir)
	require.NoError(t, err)
	assert.Equal(t, "main", branch)
}

func TestCLI_UnknownCommit(t *testing.T) {
	r := newTestRepo(t)
	r.write("a.go", "package a\n")
	r.commit("one")
	git, err := NewCLI()
	require.NoError(t, err)

	_, err = git.Diff(context.Background(), r.dir, "0123456789abcdef0123456789abcdef01234567", "HEAD")

	assert.True(t, errors.HasCode(err, errors.ErrCodeGitFailed))
}

func TestCLI_NoCommits(t *testing.T) {
	r := newTestRepo(t)
	git, err := NewCLI()
	require.NoError(t, err)

	_, err = git.CurrentCommit(context.Background(), r.dir)

	assert.True(t, errors.HasCode(err, errors.ErrCodeGitFailed))
}

func TestParseNameStatus(t *testing.T) {
	d, err := parseNameStatus([]byte("M\x00a.go\x00A\x00dir/with space.go\x00D\x00gone.go\x00T\x00link\x00"))
	require.NoError(t, err)

	assert.Equal(t, []string{"dir/with space.go"}, d.Added)
	assert.Equal(t, []string{"a.go", "link"}, d.Modified)
	assert.Equal(t, []string{"gone.go"}, d.Removed)

	_, err = parseNameStatus([]byte("M\x00"))
	assert.Error(t, err)

	empty, err := parseNameStatus(nil)
	require.NoError(t, err)
	assert.Empty(t, empty.Changed())
}

func TestParseLsTree(t *testing.T) {
	out := "100644 blob aaa\tsrc/a.go\x00" +
		"160000 commit bbb\tvendor/sub\x00" +
		"120000 blob ccc\tlink\x00" +
		"100755 blob ddd\tscripts/run.sh\x00"

	assert.Equal(t, []string{"scripts/run.sh", "src/a.go"}, parseLsTree([]byte(out)))
}
