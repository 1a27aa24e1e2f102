package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"creator-sync/api/internal/deadletter"
	"creator-sync/shared/logx"
	"creator-sync/shared/mqx"
)

type dlqEntry struct {
	topic    string
	payload  string
	errMsg   string
	attempts int
}

type fakeDLQ struct {
	mu      sync.Mutex
	entries []dlqEntry
	fail    error
}

func (f *fakeDLQ) Add(_ context.Context, topic string, payload []byte, errMsg string, attempts int) (deadletter.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return deadletter.Message{}, f.fail
	}
	f.entries = append(f.entries, dlqEntry{topic: topic, payload: string(payload), errMsg: errMsg, attempts: attempts})
	return deadletter.Message{ID: "d1", OriginalTopic: topic}, nil
}

type fakeBus struct {
	subscribed map[string]mqx.MessageHandler
	failOn     string
	ran        bool
}

func (b *fakeBus) Subscribe(topic string, h mqx.MessageHandler) error {
	if topic == b.failOn {
		return errors.New("rejected")
	}
	if b.subscribed == nil {
		b.subscribed = map[string]mqx.MessageHandler{}
	}
	b.subscribed[topic] = h
	return nil
}

func (b *fakeBus) Run(context.Context) error {
	b.ran = true
	return nil
}

func ok(context.Context, []byte) error { return nil }

func TestStartSubscribesEveryRoute(t *testing.T) {
	bus := &fakeBus{}
	d := New(bus, &fakeDLQ{}, logx.Nop(), []Route{{Topic: "a", Handler: ok}, {Topic: "b", Handler: ok}})
	require.NoError(t, d.Start(context.Background()))
	require.True(t, bus.ran)
	require.Len(t, bus.subscribed, 2)
}

func TestStartRejectsBadRoutes(t *testing.T) {
	cases := map[string][]Route{
		"empty":     nil,
		"nil":       {{Topic: "a"}},
		"duplicate": {{Topic: "a", Handler: ok}, {Topic: "a", Handler: ok}},
	}
	for name, routes := range cases {
		t.Run(name, func(t *testing.T) {
			bus := &fakeBus{}
			err := New(bus, &fakeDLQ{}, logx.Nop(), routes).Start(context.Background())
			require.Error(t, err)
			require.Empty(t, bus.subscribed)
			require.False(t, bus.ran)
		})
	}
}

func TestStartFailsWhenAnySubscriptionFails(t *testing.T) {
	bus := &fakeBus{failOn: "b"}
	d := New(bus, &fakeDLQ{}, logx.Nop(), []Route{{Topic: "a", Handler: ok}, {Topic: "b", Handler: ok}})
	require.Error(t, d.Start(context.Background()))
	require.False(t, bus.ran)
}

func TestHandleFailureGoesToDeadLetters(t *testing.T) {
	dlq := &fakeDLQ{}
	d := New(&fakeBus{}, dlq, logx.Nop(), nil)
	route := Route{Topic: "post.liked", Handler: func(context.Context, []byte) error {
		return errors.New("db down")
	}}

	d.Handle(context.Background(), route, mqx.Message{Topic: "post.liked", Value: []byte(`{"postId":"p1"}`)})

	require.Equal(t, []dlqEntry{{topic: "post.liked", payload: `{"postId":"p1"}`, errMsg: "db down", attempts: 1}}, dlq.entries)
}

func TestHandleReplayKeepsAttemptCount(t *testing.T) {
	dlq := &fakeDLQ{}
	d := New(&fakeBus{}, dlq, logx.Nop(), nil)
	fail := Route{Topic: "post.liked", Handler: func(context.Context, []byte) error {
		return errors.New("db down")
	}}

	for _, header := range []string{"5", "junk", "0"} {
		d.Handle(context.Background(), fail, mqx.Message{
			Topic:   "post.liked",
			Value:   []byte(`{"postId":"p1"}`),
			Headers: map[string]string{deadletter.HeaderAttempts: header},
		})
	}

	require.Len(t, dlq.entries, 3)
	require.Equal(t, 5, dlq.entries[0].attempts)
	require.Equal(t, 1, dlq.entries[1].attempts)
	require.Equal(t, 1, dlq.entries[2].attempts)
}

func TestHandleSuccessSkipsDeadLetters(t *testing.T) {
	dlq := &fakeDLQ{}
	d := New(&fakeBus{}, dlq, logx.Nop(), nil)
	d.Handle(context.Background(), Route{Topic: "a", Handler: ok}, mqx.Message{Value: []byte(`{}`)})
	require.Empty(t, dlq.entries)
}

func TestHandleEmptyBodyBecomesEmptyObject(t *testing.T) {
	var got string
	d := New(&fakeBus{}, &fakeDLQ{}, logx.Nop(), nil)
	d.Handle(context.Background(), Route{Topic: "a", Handler: func(_ context.Context, p []byte) error {
		got = string(p)
		return nil
	}}, mqx.Message{})
	require.Equal(t, "{}", got)
}

func TestHandleRecoversPanic(t *testing.T) {
	dlq := &fakeDLQ{}
	d := New(&fakeBus{}, dlq, logx.Nop(), nil)
	require.NotPanics(t, func() {
		d.Handle(context.Background(), Route{Topic: "a", Handler: func(context.Context, []byte) error {
			panic("nil map")
		}}, mqx.Message{Value: []byte(`{}`)})
	})
	require.Len(t, dlq.entries, 1)
	require.Equal(t, "handler panic: nil map", dlq.entries[0].errMsg)
}

func TestHandleSurvivesDeadLetterFailure(t *testing.T) {
	d := New(&fakeBus{}, &fakeDLQ{fail: errors.New("redis down")}, logx.Nop(), nil)
	require.NotPanics(t, func() {
		d.Handle(context.Background(), Route{Topic: "a", Handler: func(context.Context, []byte) error {
			return errors.New("x")
		}}, mqx.Message{})
	})
}

func TestOneTopicFailureDoesNotAffectAnother(t *testing.T) {
	bus := &fakeBus{}
	dlq := &fakeDLQ{}
	var handled []string
	d := New(bus, dlq, logx.Nop(), []Route{
		{Topic: "bad", Handler: func(context.Context, []byte) error { return errors.New("x") }},
		{Topic: "good", Handler: func(_ context.Context, p []byte) error {
			handled = append(handled, string(p))
			return nil
		}},
	})
	require.NoError(t, d.Start(context.Background()))

	ctx := context.Background()
	bus.subscribed["bad"](ctx, mqx.Message{Topic: "bad", Value: []byte(`{}`)})
	bus.subscribed["good"](ctx, mqx.Message{Topic: "good", Value: []byte(`{"n":1}`)})
	bus.subscribed["bad"](ctx, mqx.Message{Topic: "bad", Value: []byte(`{}`)})
	bus.subscribed["good"](ctx, mqx.Message{Topic: "good", Value: []byte(`{"n":2}`)})

	require.Equal(t, []string{`{"n":1}`, `{"n":2}`}, handled)
	require.Len(t, dlq.entries, 2)
}
