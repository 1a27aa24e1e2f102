// Package dispatch routes consumed events to their handlers and sends the
// ones that fail to the dead-letter backlog.
package dispatch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"creator-sync/api/internal/deadletter"
	"creator-sync/shared/logx"
	"creator-sync/shared/metricsx"
	"creator-sync/shared/mqx"
)

type HandlerFunc func(ctx context.Context, payload []byte) error

type Route struct {
	Topic   string
	Handler HandlerFunc
}

// Subscriber is the bus side: register every topic, then consume until ctx ends.
type Subscriber interface {
	Subscribe(topic string, handler mqx.MessageHandler) error
	Run(ctx context.Context) error
}

type DeadLetters interface {
	Add(ctx context.Context, topic string, payload []byte, errMsg string, attempts int) (deadletter.Message, error)
}

type Dispatcher struct {
	bus    Subscriber
	dlq    DeadLetters
	logger logx.Logger
	routes []Route
}

func New(bus Subscriber, dlq DeadLetters, logger logx.Logger, routes []Route) *Dispatcher {
	return &Dispatcher{bus: bus, dlq: dlq, logger: logger, routes: routes}
}

// Start subscribes every route before consuming anything; one bad route fails
// the whole startup. It blocks until ctx is cancelled.
func (d *Dispatcher) Start(ctx context.Context) error {
	if len(d.routes) == 0 {
		return errors.New("no routes configured")
	}
	seen := make(map[string]bool, len(d.routes))
	for _, r := range d.routes {
		if r.Handler == nil {
			return fmt.Errorf("route %q has no handler", r.Topic)
		}
		if seen[r.Topic] {
			return fmt.Errorf("route %q declared twice", r.Topic)
		}
		seen[r.Topic] = true
	}
	for _, r := range d.routes {
		route := r
		if err := d.bus.Subscribe(route.Topic, func(ctx context.Context, msg mqx.Message) {
			d.Handle(ctx, route, msg)
		}); err != nil {
			return fmt.Errorf("subscribe %s: %w", route.Topic, err)
		}
	}
	return d.bus.Run(ctx)
}

// Handle runs one message through its route. Failures are logged and
// dead-lettered; they never stop consumption and never block other topics.
func (d *Dispatcher) Handle(ctx context.Context, route Route, msg mqx.Message) {
	payload := msg.Value
	if len(bytes.TrimSpace(payload)) == 0 {
		payload = []byte("{}")
	}

	start := time.Now()
	err := invoke(ctx, route.Handler, payload)
	outcome := "ok"
	if err != nil {
		outcome = "failed"
	}
	metricsx.ObserveEvent(route.Topic, outcome, time.Since(start))
	if err == nil {
		return
	}

	d.logger.Error(ctx, "event_handle_failed", "event handler failed",
		slog.String("error_code", "HANDLER_FAILED"),
		slog.String("topic", route.Topic),
		slog.Int("partition", msg.Partition),
		slog.Int64("offset", msg.Offset),
		slog.String("error", err.Error()),
	)
	if d.dlq == nil {
		return
	}
	if _, dlqErr := d.dlq.Add(ctx, route.Topic, payload, err.Error(), attempts(msg)); dlqErr != nil {
		d.logger.Error(ctx, "dead_letter_failed", "event lost: dead-letter insert failed",
			slog.String("error_code", "INTERNAL_ERROR"),
			slog.String("topic", route.Topic),
			slog.Int64("offset", msg.Offset),
			slog.String("error", dlqErr.Error()),
		)
	}
}

// attempts carries the count of a dead-letter replay forward; a first
// delivery counts as one.
func attempts(msg mqx.Message) int {
	n, err := strconv.Atoi(msg.Headers[deadletter.HeaderAttempts])
	if err != nil || n < 1 {
		return 1
	}
	return n
}

// invoke turns a handler panic into an error.
func invoke(ctx context.Context, h HandlerFunc, payload []byte) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("handler panic: %v", rec)
		}
	}()
	return h(ctx, payload)
}
