// Package deadletter keeps events whose handling failed so operators can
// inspect, replay or discard them.
package deadletter

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"

	"creator-sync/api/internal/mirror"
	"creator-sync/shared/events"
	"creator-sync/shared/logx"
	"creator-sync/shared/metricsx"
)

var ErrNotFound = errors.New("dead-letter message not found")

// Headers stamped on a replayed message.
const (
	HeaderID       = "dlq-id"
	HeaderAttempts = "dlq-attempts"
)

type Message struct {
	ID            string          `json:"id"`
	OriginalTopic string          `json:"originalTopic"`
	Payload       json.RawMessage `json:"payload"`
	Error         string          `json:"error"`
	Attempts      int             `json:"attempts"`
	CreatedAt     time.Time       `json:"createdAt"`
	LastAttemptAt time.Time       `json:"lastAttemptAt"`
}

type RetryAllResult struct {
	Total     int `json:"total"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

type Stats struct {
	Total         int            `json:"total"`
	ByTopic       map[string]int `json:"byTopic"`
	OldestMessage *time.Time     `json:"oldestMessage"`
	NewestMessage *time.Time     `json:"newestMessage"`
}

type Cache interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key string, value string) error
	Del(ctx context.Context, key string) error
	ListPush(ctx context.Context, key string, value string) error
	ListRange(ctx context.Context, key string, start int64, stop int64) ([]string, error)
	ListRemove(ctx context.Context, key string, value string) error
	ListLen(ctx context.Context, key string) (int64, error)
}

type Publisher interface {
	Publish(ctx context.Context, topic string, key []byte, value []byte, headers map[string]string) error
}

type Service struct {
	cache     Cache
	pub       Publisher
	logger    logx.Logger
	threshold int
	now       func() time.Time
}

func NewService(cache Cache, pub Publisher, logger logx.Logger, alertThreshold int) *Service {
	if alertThreshold <= 0 {
		alertThreshold = 100
	}
	return &Service{cache: cache, pub: pub, logger: logger, threshold: alertThreshold, now: time.Now}
}

// Add stores a failed event, announces it on the monitoring topic and raises
// an alert whenever the backlog is above threshold, on every insert.
func (s *Service) Add(ctx context.Context, topic string, payload []byte, errMsg string, attempts int) (Message, error) {
	now := s.now().UTC()
	msg := Message{
		ID:            uuid.NewString(),
		OriginalTopic: topic,
		Payload:       asJSON(payload),
		Error:         errMsg,
		Attempts:      attempts,
		CreatedAt:     now,
		LastAttemptAt: now,
	}
	if err := s.save(ctx, msg); err != nil {
		return Message{}, err
	}
	if err := s.cache.ListPush(ctx, mirror.KeyDeadLetters, msg.ID); err != nil {
		_ = s.cache.Del(ctx, mirror.DeadLetterKey(msg.ID))
		return Message{}, err
	}
	s.logger.Warn(ctx, "dead_letter_added", "event moved to dead-letter backlog",
		slog.String("dlq_id", msg.ID),
		slog.String("topic", topic),
		slog.Int("attempts", attempts),
		slog.String("error", errMsg),
	)

	if b, err := json.Marshal(msg); err == nil {
		if err := s.pub.Publish(ctx, events.TopicDeadLetter, []byte(msg.ID), b, nil); err != nil {
			s.logger.Warn(ctx, "dead_letter_publish_failed", "could not announce dead letter",
				slog.String("dlq_id", msg.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	size, err := s.cache.ListLen(ctx, mirror.KeyDeadLetters)
	if err != nil {
		return msg, nil
	}
	metricsx.SetDLQSize(size)
	if size > int64(s.threshold) {
		s.alert(ctx, size)
	}
	return msg, nil
}

func (s *Service) alert(ctx context.Context, size int64) {
	b, _ := json.Marshal(events.DeadLetterAlert{
		Size:      size,
		Threshold: s.threshold,
		Timestamp: s.now().UTC().Format(time.RFC3339Nano),
	})
	metricsx.IncDLQAlert()
	s.logger.Warn(ctx, "dead_letter_threshold", "dead-letter backlog above threshold",
		slog.Int64("size", size),
		slog.Int("threshold", s.threshold),
	)
	if err := s.pub.Publish(ctx, events.TopicDeadLetterAlert, nil, b, nil); err != nil {
		s.logger.Error(ctx, "dead_letter_alert_failed", "could not publish dead-letter alert",
			slog.String("error_code", "INTERNAL_ERROR"),
			slog.String("error", err.Error()),
		)
	}
}

// List pages over the backlog in insertion order, skipping ids whose detail is gone.
func (s *Service) List(ctx context.Context, limit int, offset int) ([]Message, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	ids, err := s.cache.ListRange(ctx, mirror.KeyDeadLetters, int64(offset), int64(offset+limit-1))
	if err != nil {
		return nil, err
	}
	out := make([]Message, 0, len(ids))
	for _, id := range ids {
		msg, ok, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, msg)
		}
	}
	return out, nil
}

func (s *Service) Get(ctx context.Context, id string) (Message, bool, error) {
	raw, ok, err := s.cache.Get(ctx, mirror.DeadLetterKey(id))
	if err != nil || !ok {
		return Message{}, false, err
	}
	var msg Message
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		s.logger.Warn(ctx, "dead_letter_corrupt", "skipping unreadable dead letter",
			slog.String("dlq_id", id),
			slog.String("error", err.Error()),
		)
		return Message{}, false, nil
	}
	return msg, true, nil
}

// Retry republishes the original payload to its original topic. A missing id
// is (false, nil) so repeating a retry is harmless.
func (s *Service) Retry(ctx context.Context, id string) (bool, error) {
	msg, ok, err := s.Get(ctx, id)
	if err != nil || !ok {
		return false, err
	}

	msg.Attempts++
	msg.LastAttemptAt = s.now().UTC()
	headers := map[string]string{
		HeaderID:       msg.ID,
		HeaderAttempts: strconv.Itoa(msg.Attempts),
	}
	if pubErr := s.pub.Publish(ctx, msg.OriginalTopic, nil, msg.Payload, headers); pubErr != nil {
		msg.Error = pubErr.Error()
		if err := s.save(ctx, msg); err != nil {
			return false, err
		}
		s.logger.Warn(ctx, "dead_letter_retry_failed", "dead-letter replay failed",
			slog.String("dlq_id", msg.ID),
			slog.String("topic", msg.OriginalTopic),
			slog.Int("attempts", msg.Attempts),
			slog.String("error", pubErr.Error()),
		)
		return false, nil
	}

	s.remove(ctx, id)
	s.logger.Info(ctx, "dead_letter_replayed", "dead letter replayed",
		slog.String("dlq_id", msg.ID),
		slog.String("topic", msg.OriginalTopic),
		slog.Int("attempts", msg.Attempts),
	)
	return true, nil
}

func (s *Service) RetryAll(ctx context.Context) (RetryAllResult, error) {
	ids, err := s.cache.ListRange(ctx, mirror.KeyDeadLetters, 0, -1)
	if err != nil {
		return RetryAllResult{}, err
	}
	res := RetryAllResult{Total: len(ids)}
	for _, id := range ids {
		ok, err := s.Retry(ctx, id)
		if err != nil || !ok {
			res.Failed++
			continue
		}
		res.Succeeded++
	}
	return res, nil
}

func (s *Service) Delete(ctx context.Context, id string) (bool, error) {
	_, ok, err := s.cache.Get(ctx, mirror.DeadLetterKey(id))
	if err != nil {
		return false, err
	}
	s.remove(ctx, id)
	return ok, nil
}

// Purge drops the messages present when it starts. Ids are removed one by one
// so a message added mid-purge keeps both its list entry and its detail.
func (s *Service) Purge(ctx context.Context) (int, error) {
	ids, err := s.cache.ListRange(ctx, mirror.KeyDeadLetters, 0, -1)
	if err != nil {
		return 0, err
	}
	for _, id := range ids {
		if err := s.cache.ListRemove(ctx, mirror.KeyDeadLetters, id); err != nil {
			return 0, err
		}
		if err := s.cache.Del(ctx, mirror.DeadLetterKey(id)); err != nil {
			return 0, err
		}
	}
	if size, err := s.cache.ListLen(ctx, mirror.KeyDeadLetters); err == nil {
		metricsx.SetDLQSize(size)
	}
	s.logger.Warn(ctx, "dead_letter_purged", "dead-letter backlog purged", slog.Int("count", len(ids)))
	return len(ids), nil
}

func (s *Service) Stats(ctx context.Context) (Stats, error) {
	ids, err := s.cache.ListRange(ctx, mirror.KeyDeadLetters, 0, -1)
	if err != nil {
		return Stats{}, err
	}
	st := Stats{ByTopic: map[string]int{}}
	for _, id := range ids {
		msg, ok, err := s.Get(ctx, id)
		if err != nil {
			return Stats{}, err
		}
		if !ok {
			continue
		}
		st.Total++
		st.ByTopic[msg.OriginalTopic]++
		created := msg.CreatedAt
		if st.OldestMessage == nil || created.Before(*st.OldestMessage) {
			st.OldestMessage = &created
		}
		if st.NewestMessage == nil || created.After(*st.NewestMessage) {
			st.NewestMessage = &created
		}
	}
	return st, nil
}

func (s *Service) save(ctx context.Context, msg Message) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return s.cache.Set(ctx, mirror.DeadLetterKey(msg.ID), string(b))
}

func (s *Service) remove(ctx context.Context, id string) {
	_ = s.cache.ListRemove(ctx, mirror.KeyDeadLetters, id)
	_ = s.cache.Del(ctx, mirror.DeadLetterKey(id))
	if n, err := s.cache.ListLen(ctx, mirror.KeyDeadLetters); err == nil {
		metricsx.SetDLQSize(n)
	}
}

// asJSON keeps valid JSON verbatim and stores anything else as a JSON string.
func asJSON(payload []byte) json.RawMessage {
	if len(payload) == 0 {
		return json.RawMessage("{}")
	}
	if json.Valid(payload) {
		return json.RawMessage(payload)
	}
	b, _ := json.Marshal(string(payload))
	return b
}
