package mqx

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"

	"creator-sync/shared/config"
	"creator-sync/shared/logx"
	"creator-sync/shared/metricsx"
)

type Producer struct {
	writer *kafka.Writer
}

func NewProducer(cfg config.Config) (*Producer, error) {
	if len(cfg.KafkaBrokers) == 0 {
		return nil, errors.New("KAFKA_BROKERS is required")
	}
	w := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.KafkaBrokers...),
		Balancer:               &kafka.LeastBytes{},
		RequiredAcks:           kafka.RequireAll,
		Async:                  false,
		AllowAutoTopicCreation: true,
		MaxAttempts:            maxInt(cfg.KafkaRetryMax, 1),
		WriteTimeout:           time.Duration(cfg.KafkaWriteMS) * time.Millisecond,
		Transport: &kafka.Transport{
			ClientID: cfg.KafkaClientID,
		},
	}
	return &Producer{writer: w}, nil
}

func (p *Producer) Publish(ctx context.Context, topic string, key []byte, value []byte, headers map[string]string) error {
	if p == nil || p.writer == nil {
		return errors.New("producer not initialized")
	}
	ctx, span := otel.Tracer("mqx").Start(ctx, "kafka.produce")
	span.SetAttributes(
		attribute.String("messaging.system", "kafka"),
		attribute.String("messaging.destination", topic),
	)
	defer span.End()

	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	msg := kafka.Message{
		Topic: topic,
		Key:   key,
		Value: value,
	}
	if len(headers)+len(carrier) > 0 {
		msg.Headers = make([]kafka.Header, 0, len(headers)+len(carrier))
		for k, v := range headers {
			msg.Headers = append(msg.Headers, kafka.Header{Key: k, Value: []byte(v)})
		}
		for k, v := range carrier {
			msg.Headers = append(msg.Headers, kafka.Header{Key: k, Value: []byte(v)})
		}
	}
	return p.writer.WriteMessages(ctx, msg)
}

func (p *Producer) Close() error {
	if p == nil || p.writer == nil {
		return nil
	}
	return p.writer.Close()
}

// Message is the transport-neutral view of a consumed record.
type Message struct {
	Topic     string
	Partition int
	Offset    int64
	Key       []byte
	Value     []byte
	Headers   map[string]string
}

type MessageHandler func(ctx context.Context, msg Message)

// Consumer runs one group reader per subscribed topic. Subscriptions are
// validated up front; Run starts nothing if any of them is invalid.
type Consumer struct {
	brokers []string
	groupID string
	logger  logx.Logger

	mu       sync.Mutex
	handlers map[string]MessageHandler
	order    []string
	started  bool

	newReader func(topic string) reader
}

type reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Stats() kafka.ReaderStats
	Close() error
}

func NewConsumer(cfg config.Config, logger logx.Logger) (*Consumer, error) {
	if len(cfg.KafkaBrokers) == 0 {
		return nil, errors.New("KAFKA_BROKERS is required")
	}
	if cfg.KafkaGroupID == "" {
		return nil, errors.New("KAFKA_CONSUMER_GROUP is required")
	}
	c := &Consumer{
		brokers:  cfg.KafkaBrokers,
		groupID:  cfg.KafkaGroupID,
		logger:   logger,
		handlers: make(map[string]MessageHandler),
	}
	c.newReader = func(topic string) reader {
		return kafka.NewReader(kafka.ReaderConfig{
			Brokers:  c.brokers,
			GroupID:  c.groupID,
			Topic:    topic,
			MinBytes: 1e3,
			MaxBytes: 10e6,
			MaxWait:  time.Second,
		})
	}
	return c, nil
}

func (c *Consumer) Subscribe(topic string, handler MessageHandler) error {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return errors.New("topic is required")
	}
	if handler == nil {
		return fmt.Errorf("handler for %s is nil", topic)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return errors.New("consumer already started")
	}
	if _, exists := c.handlers[topic]; exists {
		return fmt.Errorf("topic %s already subscribed", topic)
	}
	c.handlers[topic] = handler
	c.order = append(c.order, topic)
	return nil
}

// Run blocks until ctx is cancelled and every topic loop has returned.
func (c *Consumer) Run(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return errors.New("consumer already started")
	}
	if len(c.order) == 0 {
		c.mu.Unlock()
		return errors.New("no topics subscribed")
	}
	c.started = true
	topics := append([]string(nil), c.order...)
	c.mu.Unlock()

	var wg sync.WaitGroup
	for _, topic := range topics {
		r := c.newReader(topic)
		handler := c.handlers[topic]
		wg.Add(1)
		go func(topic string) {
			defer wg.Done()
			defer r.Close()
			c.loop(ctx, topic, r, handler)
		}(topic)
	}
	c.logger.Info(ctx, "consumer_start", "event consumer started",
		slog.Any("topics", topics),
		slog.String("group", c.groupID),
	)
	wg.Wait()
	return nil
}

func (c *Consumer) loop(ctx context.Context, topic string, r reader, handler MessageHandler) {
	for {
		msg, err := r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Error(ctx, "kafka_fetch_failed", "failed to fetch message",
				slog.String("error_code", "INTERNAL_ERROR"),
				slog.String("topic", topic),
				slog.String("error", err.Error()),
			)
			select {
			case <-ctx.Done():
				return
			case <-time.After(500 * time.Millisecond):
			}
			continue
		}

		headers := make(map[string]string, len(msg.Headers))
		for _, h := range msg.Headers {
			headers[h.Key] = string(h.Value)
		}
		spanCtx := otel.GetTextMapPropagator().Extract(ctx, propagation.MapCarrier(headers))
		spanCtx, span := otel.Tracer("mqx").Start(spanCtx, "kafka.consume")
		span.SetAttributes(
			attribute.String("messaging.system", "kafka"),
			attribute.String("messaging.destination", topic),
			attribute.Int("messaging.kafka.partition", msg.Partition),
			attribute.Int64("messaging.kafka.offset", msg.Offset),
		)
		handler(spanCtx, Message{
			Topic:     msg.Topic,
			Partition: msg.Partition,
			Offset:    msg.Offset,
			Key:       msg.Key,
			Value:     msg.Value,
			Headers:   headers,
		})
		span.End()

		if err := r.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			c.logger.Error(ctx, "kafka_commit_failed", "failed to commit message",
				slog.String("error_code", "INTERNAL_ERROR"),
				slog.String("topic", topic),
				slog.String("error", err.Error()),
			)
		}
		stats := r.Stats()
		metricsx.SetKafkaLag(topic, c.groupID, stats.Lag)
	}
}

func maxInt(a int, b int) int {
	if a > b {
		return a
	}
	return b
}
