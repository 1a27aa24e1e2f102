// Package consistency repairs partial dual writes and audits the cache mirror
// against the entity store.
package consistency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"creator-sync/api/internal/mirror"
	"creator-sync/api/internal/repos"
	"creator-sync/shared/logx"
	"creator-sync/shared/metricsx"
	"creator-sync/shared/workflow"
)

type Options struct {
	Interval   time.Duration
	MaxRetries int
	SampleSize int
	LockTTL    time.Duration
	// Locker and Sink are optional.
	Locker Locker
	Sink   ReportSink
	Now    func() time.Time
}

type Service struct {
	store  repos.Store
	cache  Cache
	mirror *mirror.Mirror
	logger logx.Logger
	opts   Options

	lastMillis atomic.Int64
	sweeping   atomic.Bool

	startOnce sync.Once
	stopOnce  sync.Once
	stop      chan struct{}
	done      chan struct{}
}

func NewService(store repos.Store, cache Cache, logger logx.Logger, opts Options) *Service {
	if opts.Interval <= 0 {
		opts.Interval = 30 * time.Second
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 10
	}
	if opts.SampleSize <= 0 {
		opts.SampleSize = 100
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = time.Minute
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Service{
		store:  store,
		cache:  cache,
		mirror: mirror.New(cache),
		logger: logger,
		opts:   opts,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// RecordFailedWrite queues a repair. It never fails the caller; a record that
// cannot be persisted is logged and dropped.
func (s *Service) RecordFailedWrite(ctx context.Context, entityType string, entityID string, operation string, payload any, cause error) {
	now := s.opts.Now().UTC()
	rec := FailedWrite{
		ID:         fmt.Sprintf("%s:%s:%d", entityType, entityID, s.nextMillis(now)),
		EntityType: entityType,
		EntityID:   entityID,
		Operation:  operation,
		RetryCount: 0,
		CreatedAt:  now,
	}
	if cause != nil {
		rec.Error = cause.Error()
	}
	if payload != nil {
		if b, err := json.Marshal(payload); err == nil {
			rec.Payload = b
		}
	}

	attrs := []slog.Attr{
		slog.String("failed_write_id", rec.ID),
		slog.String("entity_type", entityType),
		slog.String("entity_id", entityID),
		slog.String("operation", operation),
		slog.String("error", rec.Error),
	}
	if err := s.saveRecord(ctx, rec); err != nil {
		s.logger.Error(ctx, "failed_write_persist_failed", "could not queue failed write",
			append(attrs, slog.String("persist_error", err.Error()))...)
		return
	}
	if err := s.cache.ListPush(ctx, mirror.KeyFailedWrites, rec.ID); err != nil {
		s.logger.Error(ctx, "failed_write_persist_failed", "could not queue failed write",
			append(attrs, slog.String("persist_error", err.Error()))...)
		return
	}
	metricsx.IncFailedWriteRecorded(entityType, operation)
	s.logger.Warn(ctx, workflow.EventRecorded, "failed write queued for retry", attrs...)
}

// nextMillis keeps record ids unique when two failures land in the same millisecond.
func (s *Service) nextMillis(now time.Time) int64 {
	ms := now.UnixMilli()
	for {
		last := s.lastMillis.Load()
		next := max(ms, last+1)
		if s.lastMillis.CompareAndSwap(last, next) {
			return next
		}
	}
}

// RetryPendingWrites runs one sweep over the queue as it stands now; records
// queued during the sweep wait for the next one.
func (s *Service) RetryPendingWrites(ctx context.Context) (RetryResult, error) {
	ctx, span := otel.Tracer("consistency").Start(ctx, "consistency.sweep")
	defer span.End()

	var res RetryResult
	ids, err := s.cache.ListRange(ctx, mirror.KeyFailedWrites, 0, -1)
	if err != nil {
		return res, err
	}
	if len(ids) == 0 {
		metricsx.SetFailedWritesPending(0)
		return res, nil
	}

	for _, id := range ids {
		switch s.retryOne(ctx, id) {
		case workflow.StatusResolved:
			res.Succeeded++
		case workflow.StatusPending, workflow.StatusAbandoned:
			res.Failed++
		}
	}
	res.Retried = res.Succeeded + res.Failed
	span.SetAttributes(
		attribute.Int("failed_writes.retried", res.Retried),
		attribute.Int("failed_writes.succeeded", res.Succeeded),
	)
	metricsx.AddFailedWriteRetries(res.Succeeded, res.Failed)
	if n, err := s.cache.ListLen(ctx, mirror.KeyFailedWrites); err == nil {
		metricsx.SetFailedWritesPending(int(n))
	}
	if res.Retried > 0 {
		s.logger.Info(ctx, "failed_write_sweep", "failed-write sweep finished",
			slog.Int("retried", res.Retried),
			slog.Int("succeeded", res.Succeeded),
			slog.Int("failed", res.Failed),
		)
	}
	return res, nil
}

// retryOne returns the record's status after this sweep, or "" when the
// record had already vanished and should not be counted.
func (s *Service) retryOne(ctx context.Context, id string) string {
	raw, ok, err := s.cache.Get(ctx, mirror.FailedWriteKey(id))
	if err != nil {
		s.logger.Warn(ctx, "failed_write_read_failed", "could not read failed write",
			slog.String("failed_write_id", id),
			slog.String("error", err.Error()),
		)
		return workflow.StatusPending
	}
	if !ok {
		_ = s.cache.ListRemove(ctx, mirror.KeyFailedWrites, id)
		return ""
	}

	var rec FailedWrite
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		s.logger.Error(ctx, workflow.EventAbandoned, "abandoning unreadable failed write",
			slog.String("failed_write_id", id),
			slog.String("error", err.Error()),
		)
		s.forget(ctx, id)
		return workflow.StatusAbandoned
	}

	if workflow.BeforeAttempt(rec.RetryCount, s.opts.MaxRetries) == workflow.StatusAbandoned {
		s.logger.Error(ctx, workflow.EventAbandoned, "failed write abandoned at retry ceiling",
			slog.String("failed_write_id", rec.ID),
			slog.String("entity_type", rec.EntityType),
			slog.String("entity_id", rec.EntityID),
			slog.String("operation", rec.Operation),
			slog.Int("retry_count", rec.RetryCount),
			slog.String("error", rec.Error),
		)
		s.forget(ctx, id)
		return workflow.StatusAbandoned
	}

	opErr := s.execute(ctx, rec)
	if workflow.AfterAttempt(opErr == nil) == workflow.StatusResolved {
		s.forget(ctx, id)
		s.logger.Info(ctx, workflow.EventResolved, "failed write resolved",
			slog.String("failed_write_id", rec.ID),
			slog.Int("retry_count", rec.RetryCount),
		)
		return workflow.StatusResolved
	}

	now := s.opts.Now().UTC()
	rec.RetryCount++
	rec.LastRetryAt = &now
	rec.Error = opErr.Error()
	if err := s.saveRecord(ctx, rec); err != nil {
		s.logger.Warn(ctx, "failed_write_persist_failed", "could not update failed write",
			slog.String("failed_write_id", rec.ID),
			slog.String("error", err.Error()),
		)
	}
	s.logger.Warn(ctx, workflow.EventRetried, "failed write retry failed",
		slog.String("failed_write_id", rec.ID),
		slog.Int("retry_count", rec.RetryCount),
		slog.String("error", rec.Error),
	)
	return workflow.StatusPending
}

func (s *Service) execute(ctx context.Context, rec FailedWrite) error {
	switch rec.Operation {
	case OpSyncToCache:
		return s.syncToCache(ctx, rec.EntityType, rec.EntityID)
	case OpSyncToDB:
		return s.syncToDB(ctx, rec.EntityType, rec.EntityID)
	case OpEvictFromCache:
		return s.evict(ctx, rec)
	default:
		return fmt.Errorf("%w: %s", ErrUnknownOperation, rec.Operation)
	}
}

// syncToCache rewrites the cache blob from the current store row.
func (s *Service) syncToCache(ctx context.Context, entityType string, id string) error {
	switch entityType {
	case mirror.EntityUser:
		u, err := s.store.Users.FindByID(ctx, id)
		if err != nil {
			return storeErr(err, entityType, id)
		}
		return s.mirror.PutUser(ctx, u)
	case mirror.EntityPost:
		p, err := s.store.Posts.FindByID(ctx, id)
		if err != nil {
			return storeErr(err, entityType, id)
		}
		return s.mirror.PutPost(ctx, p)
	case mirror.EntityMedia:
		m, err := s.store.Media.FindByID(ctx, id)
		if err != nil {
			return storeErr(err, entityType, id)
		}
		return s.mirror.PutMedia(ctx, m)
	}
	return fmt.Errorf("%w: %s", ErrUnknownEntity, entityType)
}

// syncToDB upserts the cached blob into the store.
func (s *Service) syncToDB(ctx context.Context, entityType string, id string) error {
	notCached := fmt.Errorf("%w: %s %s not in cache", ErrEntityNotFound, entityType, id)
	switch entityType {
	case mirror.EntityUser:
		v, ok, err := s.mirror.GetUser(ctx, id)
		if err != nil {
			return err
		}
		if !ok {
			return notCached
		}
		return s.store.Users.Upsert(ctx, v.ToUser())
	case mirror.EntityPost:
		v, ok, err := s.mirror.GetPost(ctx, id)
		if err != nil {
			return err
		}
		if !ok {
			return notCached
		}
		return s.store.Posts.Upsert(ctx, v.ToPost())
	case mirror.EntityMedia:
		v, ok, err := s.mirror.GetMedia(ctx, id)
		if err != nil {
			return err
		}
		if !ok {
			return notCached
		}
		return s.store.Media.Upsert(ctx, v.ToMedia())
	}
	return fmt.Errorf("%w: %s", ErrUnknownEntity, entityType)
}

type evictPayload struct {
	Email string `json:"email"`
}

func (s *Service) evict(ctx context.Context, rec FailedWrite) error {
	switch rec.EntityType {
	case mirror.EntityUser:
		var p evictPayload
		if len(rec.Payload) > 0 {
			_ = json.Unmarshal(rec.Payload, &p)
		}
		return s.mirror.EvictUser(ctx, rec.EntityID, p.Email)
	case mirror.EntityPost:
		return s.mirror.EvictPost(ctx, rec.EntityID)
	case mirror.EntityMedia:
		return s.mirror.EvictMedia(ctx, rec.EntityID)
	}
	return fmt.Errorf("%w: %s", ErrUnknownEntity, rec.EntityType)
}

func storeErr(err error, entityType string, id string) error {
	if errors.Is(err, repos.ErrNotFound) {
		return fmt.Errorf("%w: %s %s not in store", ErrEntityNotFound, entityType, id)
	}
	return err
}

func (s *Service) saveRecord(ctx context.Context, rec FailedWrite) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.cache.Set(ctx, mirror.FailedWriteKey(rec.ID), string(b))
}

// forget removes a record from the queue and deletes its detail. Both steps
// are idempotent, so a concurrent sweep doing the same is harmless.
func (s *Service) forget(ctx context.Context, id string) {
	if err := s.cache.ListRemove(ctx, mirror.KeyFailedWrites, id); err != nil {
		s.logger.Warn(ctx, "failed_write_remove_failed", "could not dequeue failed write",
			slog.String("failed_write_id", id),
			slog.String("error", err.Error()),
		)
	}
	_ = s.cache.Del(ctx, mirror.FailedWriteKey(id))
}

func (s *Service) FailedWriteStats(ctx context.Context) (FailedWriteStats, error) {
	ids, err := s.cache.ListRange(ctx, mirror.KeyFailedWrites, 0, -1)
	if err != nil {
		return FailedWriteStats{}, err
	}
	stats := FailedWriteStats{PendingCount: len(ids), Records: make([]FailedWrite, 0, len(ids))}
	for _, id := range ids {
		raw, ok, err := s.cache.Get(ctx, mirror.FailedWriteKey(id))
		if err != nil || !ok {
			continue
		}
		var rec FailedWrite
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			s.logger.Warn(ctx, "failed_write_corrupt", "skipping unreadable failed write",
				slog.String("failed_write_id", id),
				slog.String("error", err.Error()),
			)
			continue
		}
		stats.Records = append(stats.Records, rec)
	}
	return stats, nil
}

func (s *Service) MonitoringMetrics(ctx context.Context) (MonitoringMetrics, error) {
	n, err := s.cache.ListLen(ctx, mirror.KeyFailedWrites)
	if err != nil {
		return MonitoringMetrics{}, err
	}
	out := MonitoringMetrics{FailedWrites: PendingCounts{Pending: n}}
	raw, ok, err := s.cache.Get(ctx, mirror.KeyConsistencyStats)
	if err != nil {
		return MonitoringMetrics{}, err
	}
	if ok {
		var sum Summary
		if err := json.Unmarshal([]byte(raw), &sum); err != nil {
			s.logger.Warn(ctx, "consistency_stats_corrupt", "skipping unreadable consistency summary",
				slog.String("error", err.Error()),
			)
		} else {
			out.LastConsistencyCheck = &sum
		}
	}
	return out, nil
}

// Start launches the periodic sweep. Calling it more than once is a no-op.
func (s *Service) Start(ctx context.Context) {
	s.startOnce.Do(func() {
		go s.loop(ctx)
	})
}

// Stop cancels the timer and waits for the loop to exit. A sweep already in
// flight runs to completion. Safe to call more than once.
func (s *Service) Stop() {
	s.stopOnce.Do(func() {
		close(s.stop)
	})
	// never started: nothing will close done, so close it here
	s.startOnce.Do(func() { close(s.done) })
	<-s.done
}

func (s *Service) loop(ctx context.Context) {
	defer close(s.done)
	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.scheduledSweep(context.WithoutCancel(ctx))
		}
	}
}

// scheduledSweep skips when a sweep is already running in this process or,
// with a Locker, on another replica.
func (s *Service) scheduledSweep(ctx context.Context) {
	if !s.sweeping.CompareAndSwap(false, true) {
		s.logger.Debug(ctx, "failed_write_sweep_skipped", "previous sweep still running")
		return
	}
	defer s.sweeping.Store(false)

	if s.opts.Locker != nil {
		release, ok, err := s.opts.Locker.TryLock(ctx, mirror.KeySweepLock, s.opts.LockTTL)
		if err != nil {
			s.logger.Warn(ctx, "failed_write_sweep_lock_failed", "could not take sweep lock",
				slog.String("error", err.Error()),
			)
			return
		}
		if !ok {
			s.logger.Debug(ctx, "failed_write_sweep_skipped", "sweep lock held elsewhere")
			return
		}
		defer func() { _ = release(ctx) }()
	}

	if _, err := s.RetryPendingWrites(ctx); err != nil {
		s.logger.Error(ctx, "failed_write_sweep_failed", "failed-write sweep failed",
			slog.String("error_code", "INTERNAL_ERROR"),
			slog.String("error", err.Error()),
		)
	}
}
