package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"creator-sync/api/internal/consistency"
	"creator-sync/api/internal/mirror"
	"creator-sync/api/internal/models"
	"creator-sync/api/internal/repos/repotest"
	"creator-sync/shared/cachex"
	"creator-sync/shared/events"
	"creator-sync/shared/logx"
)

type recorded struct {
	entityType string
	entityID   string
	operation  string
}

type fakeRecorder struct {
	mu   sync.Mutex
	recs []recorded
}

func (f *fakeRecorder) RecordFailedWrite(_ context.Context, entityType string, entityID string, operation string, _ any, _ error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recs = append(f.recs, recorded{entityType: entityType, entityID: entityID, operation: operation})
}

// flakyCache fails every Set on keys with the given prefix.
type flakyCache struct {
	mirror.Cache
	failPrefix string
}

func (c flakyCache) Set(ctx context.Context, key string, value string) error {
	if c.failPrefix != "" && strings.HasPrefix(key, c.failPrefix) {
		return errors.New("redis: connection refused")
	}
	return c.Cache.Set(ctx, key, value)
}

type fixture struct {
	h     *Handlers
	mem   *repotest.Memory
	cache *cachex.Client
	srv   *miniredis.Miniredis
	rec   *fakeRecorder
}

func newFixture(t *testing.T, failPrefix string) fixture {
	t.Helper()
	srv := miniredis.RunT(t)
	cache := cachex.Wrap(redis.NewClient(&redis.Options{Addr: srv.Addr()}))
	t.Cleanup(func() { _ = cache.Close() })
	mem := repotest.NewMemory()
	rec := &fakeRecorder{}
	return fixture{
		h:     New(mem.Store(), flakyCache{Cache: cache, failPrefix: failPrefix}, rec, logx.Nop()),
		mem:   mem,
		cache: cache,
		srv:   srv,
		rec:   rec,
	}
}

func (f fixture) cachedPost(t *testing.T, id string) mirror.PostView {
	t.Helper()
	raw, ok, err := f.cache.Get(context.Background(), mirror.PostKey(id))
	require.NoError(t, err)
	require.True(t, ok, "post %s not cached", id)
	var v mirror.PostView
	require.NoError(t, json.Unmarshal([]byte(raw), &v))
	return v
}

func TestRoutesCoverEveryTopic(t *testing.T) {
	f := newFixture(t, "")
	seen := map[string]bool{}
	for _, r := range f.h.Routes() {
		require.NotNil(t, r.Handler, r.Topic)
		require.False(t, seen[r.Topic], "duplicate %s", r.Topic)
		seen[r.Topic] = true
	}
	require.Len(t, seen, 15)
}

func TestUserCreatedNormalizesEmail(t *testing.T) {
	f := newFixture(t, "")
	ctx := context.Background()
	err := f.h.UserCreated(ctx, []byte(`{"id":" u1 ","email":"  A@B.COM ","username":"ann"}`))
	require.NoError(t, err)

	u, ok := f.mem.User("u1")
	require.True(t, ok)
	require.Equal(t, "a@b.com", u.Email)
	require.Equal(t, "user", u.Role)

	f.srv.CheckGet(t, mirror.UserEmailKey("a@b.com"), "u1")
	raw, ok, err := f.cache.Get(ctx, mirror.UserKey("u1"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Contains(t, raw, `"email":"a@b.com"`)
}

func TestMissingRequiredFieldsIsNoop(t *testing.T) {
	f := newFixture(t, "")
	ctx := context.Background()
	cases := []struct {
		handler func(context.Context, []byte) error
		body    string
	}{
		{f.h.UserCreated, `{"id":"u1"}`},
		{f.h.PostCreated, `{"id":"p1"}`},
		{f.h.PostLiked, `{"postId":"p1"}`},
		{f.h.CommentCreated, `{}`},
		{f.h.MediaUploaded, `{"id":"m1","ownerId":"u1"}`},
		{f.h.TipSent, ``},
		{f.h.TierCreated, `{"id":"t1","creatorId":"  "}`},
	}
	for _, c := range cases {
		require.NoError(t, c.handler(ctx, []byte(c.body)))
	}
	require.Zero(t, f.mem.Writes)
	require.Empty(t, f.srv.Keys())
}

func TestMalformedJSONIsAnError(t *testing.T) {
	f := newFixture(t, "")
	err := f.h.UserCreated(context.Background(), []byte(`{"id":`))
	require.ErrorIs(t, err, events.ErrInvalidPayload)
}

func TestLikeUnlikeKeepCountersConsistent(t *testing.T) {
	f := newFixture(t, "")
	ctx := context.Background()
	f.mem.SetPost(models.Post{ID: "p1", CreatorID: "c1", Visibility: "public"})
	like := []byte(`{"postId":"p1","userId":"u1"}`)

	require.NoError(t, f.h.PostLiked(ctx, like))
	require.NoError(t, f.h.PostLiked(ctx, like))
	p, _ := f.mem.Post("p1")
	require.EqualValues(t, 1, p.LikeCount)
	require.EqualValues(t, 1, f.cachedPost(t, "p1").LikeCount)

	require.NoError(t, f.h.PostUnliked(ctx, like))
	require.NoError(t, f.h.PostUnliked(ctx, like))
	p, _ = f.mem.Post("p1")
	require.EqualValues(t, 0, p.LikeCount)
	require.EqualValues(t, 0, f.cachedPost(t, "p1").LikeCount)
	require.Empty(t, f.rec.recs)
}

func TestLikeOnMissingPostRevertsLikeRow(t *testing.T) {
	f := newFixture(t, "")
	ctx := context.Background()
	err := f.h.PostLiked(ctx, []byte(`{"postId":"ghost","userId":"u1"}`))
	require.Error(t, err)
	require.Zero(t, f.mem.Count("likes"))
}

func TestCommentCreatedCountsOnce(t *testing.T) {
	f := newFixture(t, "")
	ctx := context.Background()
	f.mem.SetPost(models.Post{ID: "p1", CreatorID: "c1", Visibility: "public"})
	body := []byte(`{"id":"k1","postId":"p1","userId":"u1","content":"hi"}`)

	require.NoError(t, f.h.CommentCreated(ctx, body))
	require.NoError(t, f.h.CommentCreated(ctx, body))

	p, _ := f.mem.Post("p1")
	require.EqualValues(t, 1, p.CommentCount)
	require.EqualValues(t, 1, f.cachedPost(t, "p1").CommentCount)
}

func TestPostCreatedIndexesPublicOnly(t *testing.T) {
	f := newFixture(t, "")
	ctx := context.Background()
	require.NoError(t, f.h.PostCreated(ctx, []byte(`{"id":"p1","creatorId":"c1"}`)))
	require.NoError(t, f.h.PostCreated(ctx, []byte(`{"id":"p2","creatorId":"c1","visibility":"subscribers"}`)))

	public, err := f.cache.ListRange(ctx, mirror.KeyPublicPosts, 0, -1)
	require.NoError(t, err)
	require.Equal(t, []string{"p1"}, public)
	creator, err := f.cache.ListRange(ctx, mirror.CreatorPostsKey("c1"), 0, -1)
	require.NoError(t, err)
	require.Equal(t, []string{"p1", "p2"}, creator)
	require.Equal(t, "public", f.cachedPost(t, "p1").Visibility)
}

func TestCacheFailureRecordsExactlyOneRetry(t *testing.T) {
	f := newFixture(t, "post:")
	ctx := context.Background()

	require.NoError(t, f.h.PostCreated(ctx, []byte(`{"id":"p1","creatorId":"c1"}`)))

	_, ok := f.mem.Post("p1")
	require.True(t, ok, "store write must stand")
	require.Equal(t, []recorded{{entityType: mirror.EntityPost, entityID: "p1", operation: consistency.OpSyncToCache}}, f.rec.recs)
	public, err := f.cache.ListRange(ctx, mirror.KeyPublicPosts, 0, -1)
	require.NoError(t, err)
	require.Equal(t, []string{"p1"}, public)
	creator, err := f.cache.ListRange(ctx, mirror.CreatorPostsKey("c1"), 0, -1)
	require.NoError(t, err)
	require.Equal(t, []string{"p1"}, creator)
}

func TestCommentCounterFailureReplaysCleanly(t *testing.T) {
	f := newFixture(t, "")
	ctx := context.Background()
	f.mem.SetPost(models.Post{ID: "p1", CreatorID: "c1", Visibility: "public"})
	body := []byte(`{"id":"k1","postId":"p1","userId":"u1","content":"hi"}`)

	f.mem.Fail["posts.IncrementCounter"] = errors.New("db down")
	require.Error(t, f.h.CommentCreated(ctx, body))
	require.Zero(t, f.mem.Count("comments"))

	delete(f.mem.Fail, "posts.IncrementCounter")
	require.NoError(t, f.h.CommentCreated(ctx, body))
	p, _ := f.mem.Post("p1")
	require.EqualValues(t, 1, p.CommentCount)
	require.Equal(t, 1, f.mem.Count("comments"))
	require.EqualValues(t, 1, f.cachedPost(t, "p1").CommentCount)
}

func TestRefreshReadFailureQueuesCacheSync(t *testing.T) {
	f := newFixture(t, "")
	ctx := context.Background()
	f.mem.SetPost(models.Post{ID: "p1", CreatorID: "c1", Visibility: "public"})
	f.mem.Fail["posts.FindByID"] = errors.New("db down")

	require.NoError(t, f.h.PostLiked(ctx, []byte(`{"postId":"p1","userId":"u1"}`)))

	p, _ := f.mem.Post("p1")
	require.EqualValues(t, 1, p.LikeCount)
	require.Equal(t, 1, f.mem.Count("likes"))
	require.Equal(t, []recorded{{entityType: mirror.EntityPost, entityID: "p1", operation: consistency.OpSyncToCache}}, f.rec.recs)
}

func TestStoreFailureSkipsCache(t *testing.T) {
	f := newFixture(t, "")
	f.mem.Fail["users.Insert"] = errors.New("db down")
	err := f.h.UserCreated(context.Background(), []byte(`{"id":"u1","email":"a@b.com"}`))
	require.Error(t, err)
	require.Empty(t, f.srv.Keys())
	require.Empty(t, f.rec.recs)
}

func TestUserUpdatedDropsOldEmailKey(t *testing.T) {
	f := newFixture(t, "")
	ctx := context.Background()
	require.NoError(t, f.h.UserCreated(ctx, []byte(`{"id":"u1","email":"old@x.io"}`)))
	require.NoError(t, f.h.UserUpdated(ctx, []byte(`{"id":"u1","email":"New@X.io"}`)))

	require.False(t, f.srv.Exists(mirror.UserEmailKey("old@x.io")))
	f.srv.CheckGet(t, mirror.UserEmailKey("new@x.io"), "u1")
}

func TestUserDeletedEvictsBothKeys(t *testing.T) {
	f := newFixture(t, "")
	ctx := context.Background()
	require.NoError(t, f.h.UserCreated(ctx, []byte(`{"id":"u1","email":"a@b.com"}`)))
	require.NoError(t, f.h.UserDeleted(ctx, []byte(`{"id":"u1"}`)))

	_, ok := f.mem.User("u1")
	require.False(t, ok)
	require.False(t, f.srv.Exists(mirror.UserKey("u1")))
	require.False(t, f.srv.Exists(mirror.UserEmailKey("a@b.com")))
}

func TestUserDeletedAlreadyGoneUsesCachedEmail(t *testing.T) {
	f := newFixture(t, "")
	ctx := context.Background()
	require.NoError(t, f.h.UserCreated(ctx, []byte(`{"id":"u1","email":"a@b.com"}`)))
	_, err := f.mem.Store().Users.Delete(ctx, "u1")
	require.NoError(t, err)

	require.NoError(t, f.h.UserDeleted(ctx, []byte(`{"id":"u1"}`)))
	require.False(t, f.srv.Exists(mirror.UserEmailKey("a@b.com")))
}

func TestStoreOnlyEvents(t *testing.T) {
	f := newFixture(t, "")
	ctx := context.Background()
	require.NoError(t, f.h.SubscriptionCreated(ctx, []byte(`{"id":"s1","subscriberId":"u1","creatorId":"c1","expiresAt":"2030-01-01T00:00:00Z"}`)))
	require.NoError(t, f.h.PaymentCompleted(ctx, []byte(`{"id":"pay1","userId":"u1","type":"tip","amount":5}`)))
	require.NoError(t, f.h.TipSent(ctx, []byte(`{"id":"tip1","senderId":"u1","creatorId":"c1","amount":5}`)))
	require.NoError(t, f.h.PurchaseCompleted(ctx, []byte(`{"id":"pur1","buyerId":"u1","postId":"p1","amount":9.5}`)))
	require.NoError(t, f.h.TierCreated(ctx, []byte(`{"id":"t1","creatorId":"c1","name":"Gold","price":10}`)))

	for _, table := range []string{"subscriptions", "payments", "tips", "purchases", "subscription_tiers"} {
		require.Equal(t, 1, f.mem.Count(table), table)
	}
	require.Empty(t, f.srv.Keys())
}

func TestSubscriptionWithBadExpiryIsSkipped(t *testing.T) {
	f := newFixture(t, "")
	err := f.h.SubscriptionCreated(context.Background(), []byte(`{"id":"s1","subscriberId":"u1","creatorId":"c1","expiresAt":"soon"}`))
	require.NoError(t, err)
	require.Zero(t, f.mem.Count("subscriptions"))
}
