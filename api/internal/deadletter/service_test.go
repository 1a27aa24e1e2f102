package deadletter

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"creator-sync/api/internal/mirror"
	"creator-sync/shared/cachex"
	"creator-sync/shared/events"
	"creator-sync/shared/logx"
)

type published struct {
	topic string
	value string
}

type fakePublisher struct {
	mu   sync.Mutex
	sent []published
	fail error
}

func (p *fakePublisher) Publish(_ context.Context, topic string, _ []byte, value []byte, _ map[string]string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail != nil && topic != events.TopicDeadLetter && topic != events.TopicDeadLetterAlert {
		return p.fail
	}
	p.sent = append(p.sent, published{topic: topic, value: string(value)})
	return nil
}

func (p *fakePublisher) topics() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.sent))
	for _, s := range p.sent {
		out = append(out, s.topic)
	}
	return out
}

func newTestService(t *testing.T) (*Service, *cachex.Client, *fakePublisher) {
	t.Helper()
	srv := miniredis.RunT(t)
	c := cachex.Wrap(redis.NewClient(&redis.Options{Addr: srv.Addr()}))
	t.Cleanup(func() { _ = c.Close() })
	pub := &fakePublisher{}
	return NewService(c, pub, logx.Nop(), 100), c, pub
}

func seedBacklog(t *testing.T, c *cachex.Client, n int) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < n; i++ {
		require.NoError(t, c.ListPush(ctx, mirror.KeyDeadLetters, fmt.Sprintf("seed-%d", i)))
	}
}

func TestAddStoresAndAnnounces(t *testing.T) {
	s, c, pub := newTestService(t)
	ctx := context.Background()

	msg, err := s.Add(ctx, events.TopicPostLiked, []byte(`{"postId":"p1"}`), "boom", 1)
	require.NoError(t, err)
	require.NotEmpty(t, msg.ID)
	require.Equal(t, 1, msg.Attempts)
	require.JSONEq(t, `{"postId":"p1"}`, string(msg.Payload))

	ids, err := c.ListRange(ctx, mirror.KeyDeadLetters, 0, -1)
	require.NoError(t, err)
	require.Equal(t, []string{msg.ID}, ids)

	got, ok, err := s.Get(ctx, msg.ID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, events.TopicPostLiked, got.OriginalTopic)
	require.Equal(t, "boom", got.Error)

	require.Equal(t, []string{events.TopicDeadLetter}, pub.topics())
}

func TestAddKeepsUnparsablePayloadAsString(t *testing.T) {
	s, _, _ := newTestService(t)
	msg, err := s.Add(context.Background(), "user.created", []byte("not json"), "bad", 1)
	require.NoError(t, err)
	require.Equal(t, `"not json"`, string(msg.Payload))

	msg, err = s.Add(context.Background(), "user.created", nil, "bad", 1)
	require.NoError(t, err)
	require.Equal(t, `{}`, string(msg.Payload))
}

func TestAlertWhenBacklogAboveThreshold(t *testing.T) {
	s, c, pub := newTestService(t)
	seedBacklog(t, c, 101)

	_, err := s.Add(context.Background(), "tip.sent", []byte(`{}`), "x", 1)
	require.NoError(t, err)
	require.Equal(t, []string{events.TopicDeadLetter, events.TopicDeadLetterAlert}, pub.topics())
	require.Contains(t, pub.sent[1].value, `"size":102`)
	require.Contains(t, pub.sent[1].value, `"threshold":100`)
}

func TestNoAlertBelowThreshold(t *testing.T) {
	s, c, pub := newTestService(t)
	seedBacklog(t, c, 50)

	_, err := s.Add(context.Background(), "tip.sent", []byte(`{}`), "x", 1)
	require.NoError(t, err)
	require.Equal(t, []string{events.TopicDeadLetter}, pub.topics())
}

func TestRetrySuccessRemovesMessage(t *testing.T) {
	s, c, pub := newTestService(t)
	ctx := context.Background()
	msg, err := s.Add(ctx, events.TopicPostCreated, []byte(`{"id":"p1"}`), "boom", 1)
	require.NoError(t, err)

	ok, err := s.Retry(ctx, msg.ID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, events.TopicPostCreated, pub.sent[len(pub.sent)-1].topic)
	require.JSONEq(t, `{"id":"p1"}`, pub.sent[len(pub.sent)-1].value)

	_, found, err := s.Get(ctx, msg.ID)
	require.NoError(t, err)
	require.False(t, found)
	n, err := c.ListLen(ctx, mirror.KeyDeadLetters)
	require.NoError(t, err)
	require.Zero(t, n)

	ok, err = s.Retry(ctx, msg.ID)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestRetryFailureKeepsMessage(t *testing.T) {
	s, _, pub := newTestService(t)
	ctx := context.Background()
	msg, err := s.Add(ctx, events.TopicPostCreated, []byte(`{"id":"p1"}`), "boom", 1)
	require.NoError(t, err)

	later := msg.CreatedAt.Add(time.Minute)
	s.now = func() time.Time { return later }
	pub.fail = errors.New("broker down")

	ok, err := s.Retry(ctx, msg.ID)
	require.NoError(t, err)
	require.False(t, ok)

	got, found, err := s.Get(ctx, msg.ID)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, 2, got.Attempts)
	require.Equal(t, "broker down", got.Error)
	require.True(t, got.LastAttemptAt.Equal(later))
}

func TestRetryAllTallies(t *testing.T) {
	s, _, pub := newTestService(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := s.Add(ctx, "tier.created", []byte(`{}`), "x", 1)
		require.NoError(t, err)
	}
	pub.fail = errors.New("down")

	res, err := s.RetryAll(ctx)
	require.NoError(t, err)
	require.Equal(t, RetryAllResult{Total: 3, Succeeded: 0, Failed: 3}, res)

	pub.fail = nil
	res, err = s.RetryAll(ctx)
	require.NoError(t, err)
	require.Equal(t, RetryAllResult{Total: 3, Succeeded: 3, Failed: 0}, res)
}

func TestListStatsDeletePurge(t *testing.T) {
	s, _, _ := newTestService(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	var ids []string
	for i, topic := range []string{"post.liked", "post.liked", "user.created"} {
		at := base.Add(time.Duration(i) * time.Second)
		s.now = func() time.Time { return at }
		msg, err := s.Add(ctx, topic, []byte(`{}`), "x", 1)
		require.NoError(t, err)
		ids = append(ids, msg.ID)
	}

	page, err := s.List(ctx, 2, 1)
	require.NoError(t, err)
	require.Len(t, page, 2)
	require.Equal(t, ids[1], page[0].ID)
	require.Equal(t, ids[2], page[1].ID)

	st, err := s.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, 3, st.Total)
	require.Equal(t, map[string]int{"post.liked": 2, "user.created": 1}, st.ByTopic)
	require.True(t, st.OldestMessage.Equal(base))
	require.True(t, st.NewestMessage.Equal(base.Add(2*time.Second)))

	ok, err := s.Delete(ctx, ids[0])
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = s.Delete(ctx, ids[0])
	require.NoError(t, err)
	require.False(t, ok)

	n, err := s.Purge(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, n)
	st, err = s.Stats(ctx)
	require.NoError(t, err)
	require.Zero(t, st.Total)
	require.Nil(t, st.OldestMessage)
}

// lateWriter lands one more message right after the purge snapshot is taken.
type lateWriter struct {
	*cachex.Client
	once sync.Once
}

func (c *lateWriter) ListRange(ctx context.Context, key string, start int64, stop int64) ([]string, error) {
	ids, err := c.Client.ListRange(ctx, key, start, stop)
	c.once.Do(func() {
		_ = c.Client.Set(ctx, mirror.DeadLetterKey("late"), `{"id":"late","originalTopic":"post.liked","payload":{}}`)
		_ = c.Client.ListPush(ctx, mirror.KeyDeadLetters, "late")
	})
	return ids, err
}

func TestPurgeKeepsMessageAddedMidway(t *testing.T) {
	s, c, _ := newTestService(t)
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		_, err := s.Add(ctx, events.TopicPostLiked, []byte(`{}`), "x", 1)
		require.NoError(t, err)
	}
	s.cache = &lateWriter{Client: c}

	n, err := s.Purge(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	ids, err := c.ListRange(ctx, mirror.KeyDeadLetters, 0, -1)
	require.NoError(t, err)
	require.Equal(t, []string{"late"}, ids)
	msg, ok, err := s.Get(ctx, "late")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "post.liked", msg.OriginalTopic)
}
