package consistency

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"strconv"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"creator-sync/api/internal/mirror"
	"creator-sync/shared/metricsx"
)

// Compared fields are the identity-defining and frequently mutated ones.
var (
	userFields = []string{"email", "displayName", "role"}
	postFields = []string{"creatorId", "likeCount", "commentCount", "visibility"}
)

// RunConsistencyCheck samples the most recently updated users and posts and
// compares each store row with its cache blob.
func (s *Service) RunConsistencyCheck(ctx context.Context) (Report, error) {
	ctx, span := otel.Tracer("consistency").Start(ctx, "consistency.check")
	defer span.End()

	report := Report{
		CheckedAt: s.opts.Now().UTC(),
		Users:     EntityReport{Mismatches: []Mismatch{}},
		Posts:     EntityReport{Mismatches: []Mismatch{}},
	}

	users, err := s.store.Users.FindRecent(ctx, s.opts.SampleSize)
	if err != nil {
		return Report{}, fmt.Errorf("sample users: %w", err)
	}
	for _, u := range users {
		report.Users.Checked++
		report.Users.Mismatches = append(report.Users.Mismatches,
			s.compare(ctx, u.ID, mirror.UserKey(u.ID), mirror.NewUserView(u), userFields)...)
	}

	posts, err := s.store.Posts.FindRecent(ctx, s.opts.SampleSize)
	if err != nil {
		return Report{}, fmt.Errorf("sample posts: %w", err)
	}
	for _, p := range posts {
		report.Posts.Checked++
		report.Posts.Mismatches = append(report.Posts.Mismatches,
			s.compare(ctx, p.ID, mirror.PostKey(p.ID), mirror.NewPostView(p), postFields)...)
	}

	report.TotalChecked = report.Users.Checked + report.Posts.Checked
	report.TotalInconsistencies = len(report.Users.Mismatches) + len(report.Posts.Mismatches)
	span.SetAttributes(
		attribute.Int("consistency.checked", report.TotalChecked),
		attribute.Int("consistency.inconsistencies", report.TotalInconsistencies),
	)

	metricsx.SetConsistencyMismatches(mirror.EntityUser, len(report.Users.Mismatches))
	metricsx.SetConsistencyMismatches(mirror.EntityPost, len(report.Posts.Mismatches))
	s.persistSummary(ctx, report)

	s.logger.Info(ctx, "consistency_check", "consistency check finished",
		slog.Int("total_checked", report.TotalChecked),
		slog.Int("total_inconsistencies", report.TotalInconsistencies),
	)
	return report, nil
}

func (s *Service) compare(ctx context.Context, id string, key string, want any, fields []string) []Mismatch {
	raw, ok, err := s.cache.Get(ctx, key)
	if err != nil {
		return []Mismatch{{EntityID: id, Issue: "cache read failed: " + err.Error()}}
	}
	if !ok {
		return []Mismatch{{EntityID: id, Issue: "missing in cache"}}
	}
	var cached map[string]any
	if err := json.Unmarshal([]byte(raw), &cached); err != nil {
		return []Mismatch{{EntityID: id, Issue: "cache entry is not valid JSON"}}
	}

	b, err := json.Marshal(want)
	if err != nil {
		return []Mismatch{{EntityID: id, Issue: "store row not serializable: " + err.Error()}}
	}
	var stored map[string]any
	_ = json.Unmarshal(b, &stored)

	var out []Mismatch
	for _, f := range fields {
		if !sameValue(stored[f], cached[f]) {
			out = append(out, Mismatch{
				EntityID: id,
				Issue:    fmt.Sprintf("%s mismatch: store=%v cache=%v", f, stored[f], cached[f]),
			})
		}
	}
	return out
}

// sameValue compares numbers numerically, so 10, 10.0 and "10" agree.
func sameValue(a any, b any) bool {
	if na, ok := asNumber(a); ok {
		if nb, ok := asNumber(b); ok {
			return math.Abs(na-nb) < 1e-9
		}
	}
	return fmt.Sprint(a) == fmt.Sprint(b)
}

func asNumber(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case string:
		f, err := strconv.ParseFloat(t, 64)
		return f, err == nil
	}
	return 0, false
}

func (s *Service) persistSummary(ctx context.Context, report Report) {
	sum := report.Summary()
	b, err := json.Marshal(sum)
	if err == nil {
		err = s.cache.Set(ctx, mirror.KeyConsistencyStats, string(b))
	}
	if err != nil {
		s.logger.Warn(ctx, "consistency_stats_persist_failed", "could not store consistency summary",
			slog.String("error", err.Error()),
		)
	}
	if s.opts.Sink == nil {
		return
	}
	for entity, counts := range map[string]EntityCounts{mirror.EntityUser: sum.Users, mirror.EntityPost: sum.Posts} {
		if err := s.opts.Sink.WriteCheck(ctx, entity, counts.Checked, counts.Mismatches, sum.CheckedAt); err != nil {
			s.logger.Warn(ctx, "consistency_history_write_failed", "could not record check history",
				slog.String("entity_type", entity),
				slog.String("error", err.Error()),
			)
		}
	}
}

// AutoRepair runs a check and rewrites the cache blob of every flagged entity
// from the store. Per-entity failures are collected, not fatal.
func (s *Service) AutoRepair(ctx context.Context) (RepairResult, error) {
	report, err := s.RunConsistencyCheck(ctx)
	if err != nil {
		return RepairResult{}, err
	}
	ctx, span := otel.Tracer("consistency").Start(ctx, "consistency.repair")
	defer span.End()

	res := RepairResult{Errors: []RepairError{}}
	repair := func(entityType string, mismatches []Mismatch) {
		seen := make(map[string]bool, len(mismatches))
		for _, m := range mismatches {
			if seen[m.EntityID] {
				continue
			}
			seen[m.EntityID] = true
			if err := s.syncToCache(ctx, entityType, m.EntityID); err != nil {
				res.Errors = append(res.Errors, RepairError{EntityID: m.EntityID, Error: err.Error()})
				continue
			}
			res.Repaired++
		}
	}
	repair(mirror.EntityUser, report.Users.Mismatches)
	repair(mirror.EntityPost, report.Posts.Mismatches)

	span.SetAttributes(attribute.Int("consistency.repaired", res.Repaired))
	metricsx.AddConsistencyRepairs(res.Repaired, len(res.Errors))
	if s.opts.Sink != nil {
		if err := s.opts.Sink.WriteRepair(ctx, res.Repaired, len(res.Errors), s.opts.Now().UTC()); err != nil {
			s.logger.Warn(ctx, "consistency_history_write_failed", "could not record repair history",
				slog.String("error", err.Error()),
			)
		}
	}
	s.logger.Info(ctx, "consistency_repair", "auto repair finished",
		slog.Int("repaired", res.Repaired),
		slog.Int("errors", len(res.Errors)),
	)
	return res, nil
}
