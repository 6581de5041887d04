package repostate

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/llamaha/sagitta-sub001/internal/errors"
)

func newRepo(name string) *Repository {
	return &Repository{
		Name:           name,
		Tenant:         "local",
		Path:           "/src/" + name,
		Branch:         "main",
		CollectionName: CollectionName("repo_", "local", name, "main"),
	}
}

func TestStore_AddGetList(t *testing.T) {
	ctx := context.Background()
	s, err := Open(ctx, "")
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Add(ctx, newRepo("beta")))
	require.NoError(t, s.Add(ctx, newRepo("alpha")))

	got, err := s.Get(ctx, "alpha")
	require.NoError(t, err)
	assert.Equal(t, "/src/alpha", got.Path)
	assert.Equal(t, "", got.LastSyncedCommit)
	assert.True(t, got.LastSyncedAt.IsZero())

	list, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "alpha", list[0].Name)
	assert.Equal(t, "beta", list[1].Name)
}

func TestStore_DuplicateName(t *testing.T) {
	ctx := context.Background()
	s, err := Open(ctx, "")
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.Add(ctx, newRepo("a")))

	err = s.Add(ctx, newRepo("a"))

	assert.True(t, errors.HasCode(err, errors.ErrCodeInvalidInput))
}

func TestStore_WatermarkPersists(t *testing.T) {
	// Given: a registry on disk with a watermark
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "repos.db")
	s, err := Open(ctx, path)
	require.NoError(t, err)
	require.NoError(t, s.Add(ctx, newRepo("a")))
	at := time.Unix(1700000000, 0)
	require.NoError(t, s.SetWatermark(ctx, "a", "c0ffee", at))
	require.NoError(t, s.SetRepairReason(ctx, "a", "collection missing"))
	require.NoError(t, s.Close())

	// When: reopening
	s, err = Open(ctx, path)
	require.NoError(t, err)
	defer s.Close()
	got, err := s.Get(ctx, "a")
	require.NoError(t, err)

	// Then: the watermark survived and can be cleared
	assert.Equal(t, "c0ffee", got.LastSyncedCommit)
	assert.True(t, at.Equal(got.LastSyncedAt))
	assert.Equal(t, "collection missing", got.LastRepairReason)

	require.NoError(t, s.ClearWatermark(ctx, "a"))
	got, err = s.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "", got.LastSyncedCommit)
}

func TestStore_UnknownRepository(t *testing.T) {
	ctx := context.Background()
	s, err := Open(ctx, "")
	require.NoError(t, err)
	defer s.Close()

	_, err = s.Get(ctx, "ghost")
	assert.True(t, errors.HasCode(err, errors.ErrCodeRepoNotFound))
	assert.True(t, errors.HasCode(s.SetWatermark(ctx, "ghost", "x", time.Now()), errors.ErrCodeRepoNotFound))
	assert.True(t, errors.HasCode(s.Remove(ctx, "ghost"), errors.ErrCodeRepoNotFound))
}

func TestStore_Remove(t *testing.T) {
	ctx := context.Background()
	s, err := Open(ctx, "")
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.Add(ctx, newRepo("a")))

	require.NoError(t, s.Remove(ctx, "a"))

	list, err := s.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestCollectionName(t *testing.T) {
	main := CollectionName("repo_", "acme", "My.Repo", "main")
	dev := CollectionName("repo_", "acme", "My.Repo", "feature/x")

	assert.Regexp(t, `^repo_acme_my_repo_br_[0-9a-f]{8}$`, main)
	assert.NotEqual(t, main, dev)
	assert.Equal(t, main, CollectionName("repo_", "acme", "My.Repo", "main"))
}

func TestStore_AddRejectsUnsafeNames(t *testing.T) {
	ctx := context.Background()
	s, err := Open(ctx, "")
	require.NoError(t, err)
	defer s.Close()

	tests := []struct {
		name string
		ok   bool
	}{
		{"demo-1", true},
		{"My_Repo", true},
		{"../evil", false},
		{"a/b", false},
		{"..", false},
		{`a\b`, false},
		{"has space", false},
		{"dotted.name", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// When: registering a repository under the name
			err := s.Add(ctx, newRepo(tt.name))

			// Then: only names that cannot leave the lock directory are accepted
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			assert.True(t, errors.HasCode(err, errors.ErrCodeInvalidInput))
			_, getErr := s.Get(ctx, tt.name)
			assert.True(t, errors.HasCode(getErr, errors.ErrCodeRepoNotFound))
		})
	}
}
