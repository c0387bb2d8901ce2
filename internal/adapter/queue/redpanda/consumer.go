package redpanda

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/plugin/kotel"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/skillsift/evalengine/internal/domain"
)

// Handler processes one decoded evaluation task. A nil return marks the
// record consumed; any error leaves the whole fetched batch uncommitted so
// the group redelivers it.
type Handler func(ctx context.Context, payload domain.EvaluationTaskPayload) error

// Consumer reads evaluation tasks within a group transact session. Each
// fetched batch is processed by a bounded worker pool and its offsets are
// committed in one transaction, or aborted when any record fails.
type Consumer struct {
	session *kgo.GroupTransactSession
	handler Handler
	workers int
	groupID string
}

// NewConsumer joins the consumer group and ensures the evaluation topic
// exists. workers bounds how many tasks of one fetch run concurrently.
func NewConsumer(ctx context.Context, brokers []string, groupID, transactionalID string, workers int, handler Handler) (*Consumer, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("op=queue.consumer: no seed brokers")
	}
	if groupID == "" {
		return nil, fmt.Errorf("op=queue.consumer: group id is empty")
	}
	if handler == nil {
		return nil, fmt.Errorf("op=queue.consumer: handler is nil")
	}
	if workers <= 0 {
		workers = 1
	}

	kotelService := kotel.NewKotel(kotel.WithTracer(kotel.NewTracer(kotel.TracerProvider(otel.GetTracerProvider()))))
	session, err := kgo.NewGroupTransactSession(
		kgo.SeedBrokers(brokers...),
		kgo.TransactionalID(transactionalID),
		kgo.FetchIsolationLevel(kgo.ReadCommitted()),
		kgo.ConsumerGroup(groupID),
		kgo.ConsumeTopics(TopicEvaluations),
		kgo.RequireStableFetchOffsets(),
		kgo.WithHooks(kotelService.Hooks()...),
		kgo.DialTimeout(10*time.Second),
		kgo.SessionTimeout(45*time.Second),
		kgo.HeartbeatInterval(3*time.Second),
		kgo.RebalanceTimeout(60*time.Second),
		kgo.FetchMaxWait(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("op=queue.consumer: %w", err)
	}
	if err := createTopicIfNotExists(ctx, session.Client(), TopicEvaluations, defaultPartitions, defaultReplicationFactor); err != nil {
		session.Close()
		return nil, fmt.Errorf("op=queue.consumer: ensure topic: %w", err)
	}

	return &Consumer{
		session: session,
		handler: handler,
		workers: workers,
		groupID: groupID,
	}, nil
}

// Run polls and processes batches until ctx is cancelled or the session
// client closes.
func (c *Consumer) Run(ctx context.Context) error {
	slog.Info("queue consumer started",
		slog.String("topic", TopicEvaluations),
		slog.String("group_id", c.groupID),
		slog.Int("workers", c.workers))

	for {
		fetches := c.session.PollFetches(ctx)
		if fetches.IsClientClosed() {
			slog.Info("queue consumer stopping, client closed")
			return nil
		}
		if err := ctx.Err(); err != nil {
			slog.Info("queue consumer stopping", slog.Any("reason", err))
			return err
		}
		if fetchErrs := fetches.Errors(); len(fetchErrs) > 0 {
			for _, fe := range fetchErrs {
				if errors.Is(fe.Err, context.Canceled) {
					continue
				}
				slog.Error("fetch failed",
					slog.String("topic", fe.Topic),
					slog.Int("partition", int(fe.Partition)),
					slog.Any("error", fe.Err))
			}
			continue
		}

		records := fetches.Records()
		if len(records) == 0 {
			continue
		}

		if err := c.session.Begin(); err != nil {
			slog.Error("begin offset transaction failed", slog.Any("error", err))
			continue
		}
		try := kgo.TryCommit
		if ok := c.processBatch(ctx, records); !ok {
			try = kgo.TryAbort
		}
		committed, err := c.session.End(ctx, try)
		if err != nil {
			slog.Error("end offset transaction failed", slog.Any("error", err))
			continue
		}
		if !committed {
			slog.Warn("batch not committed, records will redeliver", slog.Int("records", len(records)))
		}
	}
}

// Close leaves the group and closes the underlying client, which unblocks Run.
func (c *Consumer) Close() {
	c.session.Close()
}

// processBatch fans records out to at most c.workers goroutines and reports
// whether every record processed cleanly.
func (c *Consumer) processBatch(ctx context.Context, records []*kgo.Record) bool {
	sem := make(chan struct{}, c.workers)
	var wg sync.WaitGroup
	var failed atomic.Bool
	for _, record := range records {
		wg.Add(1)
		sem <- struct{}{}
		go func(record *kgo.Record) {
			defer wg.Done()
			defer func() { <-sem }()
			if err := c.processRecord(ctx, record); err != nil {
				failed.Store(true)
			}
		}(record)
	}
	wg.Wait()
	return !failed.Load()
}

// processRecord decodes one task and hands it to the handler. Records that
// cannot decode are consumed without retry: redelivering them can never
// succeed.
func (c *Consumer) processRecord(ctx context.Context, record *kgo.Record) error {
	tracer := otel.Tracer("queue.consumer")
	ctx, span := tracer.Start(ctx, "ProcessEvaluationTask", trace.WithSpanKind(trace.SpanKindConsumer))
	defer span.End()
	span.SetAttributes(
		attribute.String("messaging.system", "kafka"),
		attribute.String("messaging.destination.name", record.Topic),
		attribute.Int("messaging.kafka.partition", int(record.Partition)),
		attribute.Int64("messaging.kafka.offset", record.Offset),
	)

	var payload domain.EvaluationTaskPayload
	if err := json.Unmarshal(record.Value, &payload); err != nil {
		span.RecordError(err)
		slog.Error("dropping undecodable task",
			slog.String("topic", record.Topic),
			slog.Int64("offset", record.Offset),
			slog.Any("error", err))
		return nil
	}
	span.SetAttributes(attribute.String("evaluation.id", payload.ID))

	if err := c.handler(ctx, payload); err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, "task failed")
		slog.Error("task failed, batch will redeliver",
			slog.String("id", payload.ID),
			slog.Any("error", err))
		return err
	}
	span.SetStatus(otelcodes.Ok, "")
	return nil
}
