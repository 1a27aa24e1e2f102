//go:build integration

package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"

	"creator-sync/api/internal/consistency"
	"creator-sync/api/internal/handlers"
	"creator-sync/api/internal/mirror"
	"creator-sync/api/internal/repos"
	"creator-sync/shared/cachex"
	"creator-sync/shared/logx"
)

func requireEnv(t *testing.T, key string) string {
	t.Helper()
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		t.Skip(key + " not set")
	}
	return v
}

func TestDependencies(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, requireEnv(t, "DATABASE_URL"))
	require.NoError(t, err)
	defer pool.Close()
	require.NoError(t, pool.Ping(ctx))

	brokers := strings.Split(requireEnv(t, "KAFKA_BROKERS"), ",")
	conn, err := kafka.Dial("tcp", strings.TrimSpace(brokers[0]))
	require.NoError(t, err)
	_ = conn.Close()

	rdb := redis.NewClient(&redis.Options{Addr: requireEnv(t, "REDIS_ADDR")})
	require.NoError(t, rdb.Ping(ctx).Err())
	_ = rdb.Close()

	if influxURL := os.Getenv("INFLUX_URL"); influxURL != "" {
		req, _ := http.NewRequestWithContext(ctx, http.MethodGet, influxURL+"/health", nil)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		_ = resp.Body.Close()
		require.True(t, resp.StatusCode >= 200 && resp.StatusCode < 300, "influx health status %d", resp.StatusCode)
	}

	if asynqRedis := os.Getenv("ASYNQ_REDIS_ADDR"); asynqRedis != "" {
		inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: asynqRedis})
		defer inspector.Close()
		_, err := inspector.GetQueueInfo("default")
		if err != nil && !strings.Contains(err.Error(), "not found") {
			t.Fatalf("asynq inspector failed: %v", err)
		}
	}
}

// TestDualWriteRoundTrip drives real Postgres and Redis through the handlers
// and the consistency audit.
func TestDualWriteRoundTrip(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, requireEnv(t, "DATABASE_URL"))
	require.NoError(t, err)
	defer pool.Close()
	require.NoError(t, repos.Migrate(ctx, pool))

	rdb := redis.NewClient(&redis.Options{Addr: requireEnv(t, "REDIS_ADDR")})
	cache := cachex.Wrap(rdb)
	defer func() { _ = cache.Close() }()

	store := repos.NewStore(pool)
	svc := consistency.NewService(store, cache, logx.Nop(), consistency.Options{SampleSize: 1000})
	h := handlers.New(store, cache, svc, logx.Nop())

	suffix := fmt.Sprintf("%d", time.Now().UnixNano())
	userID, postID := "it-u-"+suffix, "it-p-"+suffix
	t.Cleanup(func() {
		bg := context.Background()
		_, _ = pool.Exec(bg, `DELETE FROM likes WHERE post_id = $1`, postID)
		_, _ = pool.Exec(bg, `DELETE FROM posts WHERE id = $1`, postID)
		_, _ = pool.Exec(bg, `DELETE FROM users WHERE id = $1`, userID)
		_ = cache.Del(bg, mirror.PostKey(postID))
		_ = cache.Del(bg, mirror.UserKey(userID))
		_ = cache.Del(bg, mirror.CreatorPostsKey(userID))
		_ = cache.ListRemove(bg, mirror.KeyPublicPosts, postID)
	})

	email := "IT-" + suffix + "@Example.com"
	require.NoError(t, h.UserCreated(ctx, []byte(fmt.Sprintf(`{"id":%q,"email":%q}`, userID, "  "+email+" "))))
	require.NoError(t, h.PostCreated(ctx, []byte(fmt.Sprintf(`{"id":%q,"creatorId":%q}`, postID, userID))))
	like := []byte(fmt.Sprintf(`{"postId":%q,"userId":%q}`, postID, userID))
	require.NoError(t, h.PostLiked(ctx, like))
	require.NoError(t, h.PostLiked(ctx, like))

	post, err := store.Posts.FindByID(ctx, postID)
	require.NoError(t, err)
	require.EqualValues(t, 1, post.LikeCount)

	raw, ok, err := cache.Get(ctx, mirror.PostKey(postID))
	require.NoError(t, err)
	require.True(t, ok)
	var view mirror.PostView
	require.NoError(t, json.Unmarshal([]byte(raw), &view))
	require.EqualValues(t, 1, view.LikeCount)

	id, ok, err := cache.Get(ctx, mirror.UserEmailKey(strings.ToLower(email)))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, userID, id)

	require.NoError(t, cache.Set(ctx, mirror.PostKey(postID), `{"id":"`+postID+`","likeCount":99}`))
	report, err := svc.RunConsistencyCheck(ctx)
	require.NoError(t, err)
	require.NotZero(t, report.TotalInconsistencies)

	_, err = svc.AutoRepair(ctx)
	require.NoError(t, err)
	_, ok, err = cache.Get(ctx, mirror.PostKey(postID))
	require.NoError(t, err)
	require.True(t, ok)
}
