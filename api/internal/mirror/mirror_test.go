package mirror

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"creator-sync/api/internal/models"
	"creator-sync/shared/cachex"
)

func newMirror(t *testing.T) (*Mirror, *miniredis.Miniredis) {
	t.Helper()
	srv := miniredis.RunT(t)
	return New(cachex.Wrap(redis.NewClient(&redis.Options{Addr: srv.Addr()}))), srv
}

func TestKeyLayout(t *testing.T) {
	require.Equal(t, "user:u1", UserKey("u1"))
	require.Equal(t, "user:email:a@b.c", UserEmailKey("a@b.c"))
	require.Equal(t, "post:p1", PostKey("p1"))
	require.Equal(t, "posts:creator:c1", CreatorPostsKey("c1"))
	require.Equal(t, "media:m1", MediaKey("m1"))
	require.Equal(t, "failed-writes:user:u1:1700000000000", FailedWriteKey("user:u1:1700000000000"))
	require.Equal(t, "dlq:msg:abc", DeadLetterKey("abc"))
}

func TestPutUserWritesBlobAndEmailLookup(t *testing.T) {
	m, srv := newMirror(t)
	ctx := context.Background()
	require.NoError(t, m.PutUser(ctx, models.User{ID: "u1", Email: "a@b.com", Role: "fan"}))

	srv.CheckGet(t, UserEmailKey("a@b.com"), "u1")
	var blob map[string]any
	raw, err := srv.Get(UserKey("u1"))
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(raw), &blob))
	for _, k := range []string{"id", "email", "username", "displayName", "role", "avatarUrl", "bio", "isVerified", "createdAt", "updatedAt"} {
		require.Contains(t, blob, k)
	}
	require.Nil(t, blob["displayName"])

	require.NoError(t, m.EvictUser(ctx, "u1", "a@b.com"))
	require.False(t, srv.Exists(UserKey("u1")))
	require.False(t, srv.Exists(UserEmailKey("a@b.com")))
}

func TestPostViewFloorsCounters(t *testing.T) {
	v := NewPostView(models.Post{ID: "p1", LikeCount: -1, CommentCount: 3})
	require.Equal(t, int64(0), v.LikeCount)
	require.Equal(t, int64(3), v.CommentCount)
	require.NotNil(t, v.MediaIDs)
}

func TestIndexPostOnlyListsPublicPosts(t *testing.T) {
	m, srv := newMirror(t)
	ctx := context.Background()
	require.NoError(t, m.IndexPost(ctx, models.Post{ID: "p1", CreatorID: "c1", Visibility: "public"}))
	require.NoError(t, m.IndexPost(ctx, models.Post{ID: "p2", CreatorID: "c1", Visibility: "subscribers"}))

	public, err := srv.List(KeyPublicPosts)
	require.NoError(t, err)
	require.Equal(t, []string{"p1"}, public)
	byCreator, err := srv.List(CreatorPostsKey("c1"))
	require.NoError(t, err)
	require.Equal(t, []string{"p1", "p2"}, byCreator)
}

func TestGetPostRoundTrip(t *testing.T) {
	m, _ := newMirror(t)
	ctx := context.Background()
	_, ok, err := m.GetPost(ctx, "missing")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, m.PutPost(ctx, models.Post{ID: "p1", CreatorID: "c1", LikeCount: 4, Visibility: "public"}))
	v, ok, err := m.GetPost(ctx, "p1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(4), v.LikeCount)
	require.Equal(t, "c1", v.ToPost().CreatorID)
}
