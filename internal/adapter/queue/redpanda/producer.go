// Package redpanda implements the evaluation task queue on Redpanda/Kafka
// with franz-go. The producer publishes each task in its own transaction and
// the consumer reads committed records only, so a task is either fully
// enqueued or not visible at all.
package redpanda

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/plugin/kotel"
	"go.opentelemetry.io/otel"

	"github.com/skillsift/evalengine/internal/domain"
)

// TopicEvaluations carries async evaluation tasks.
const TopicEvaluations = "evaluation-jobs"

const (
	defaultPartitions        = 3
	defaultReplicationFactor = 1
)

// Producer publishes evaluation tasks transactionally. Transactions on a
// single transactional id must not interleave, so every publish serializes
// through transactionChan.
type Producer struct {
	client          *kgo.Client
	transactionChan chan struct{}
}

var _ domain.Queue = (*Producer)(nil)

// NewProducer connects to the brokers, ensures the evaluation topic exists
// and returns a transactional producer.
func NewProducer(ctx context.Context, brokers []string, transactionalID string) (*Producer, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("op=queue.producer: no seed brokers")
	}
	kotelService := kotel.NewKotel(kotel.WithTracer(kotel.NewTracer(kotel.TracerProvider(otel.GetTracerProvider()))))
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.TransactionalID(transactionalID),
		kgo.ProducerBatchCompression(kgo.SnappyCompression()),
		kgo.WithHooks(kotelService.Hooks()...),
	)
	if err != nil {
		return nil, fmt.Errorf("op=queue.producer: %w", err)
	}
	if err := createTopicIfNotExists(ctx, client, TopicEvaluations, defaultPartitions, defaultReplicationFactor); err != nil {
		client.Close()
		return nil, fmt.Errorf("op=queue.producer: ensure topic: %w", err)
	}

	ch := make(chan struct{}, 1)
	ch <- struct{}{}
	return &Producer{client: client, transactionChan: ch}, nil
}

// EnqueueEvaluation publishes one task keyed by evaluation id and returns
// that id once the transaction commits.
func (p *Producer) EnqueueEvaluation(ctx context.Context, payload domain.EvaluationTaskPayload) (string, error) {
	if payload.ID == "" {
		return "", fmt.Errorf("op=queue.enqueue: %w: payload id is empty", domain.ErrInvalidArgument)
	}
	record, err := newEvaluationRecord(payload)
	if err != nil {
		return "", fmt.Errorf("op=queue.enqueue: %w", err)
	}

	select {
	case <-p.transactionChan:
	case <-ctx.Done():
		return "", fmt.Errorf("op=queue.enqueue: %w", ctx.Err())
	}
	defer func() { p.transactionChan <- struct{}{} }()

	if err := p.client.BeginTransaction(); err != nil {
		return "", fmt.Errorf("op=queue.enqueue: begin transaction: %w", err)
	}

	promise := kgo.AbortingFirstErrPromise(p.client)
	p.client.Produce(ctx, record, promise.Promise())
	produceErr := promise.Err()

	try := kgo.TryCommit
	if produceErr != nil {
		try = kgo.TryAbort
	}
	if err := p.client.EndTransaction(ctx, try); err != nil {
		return "", fmt.Errorf("op=queue.enqueue: end transaction: %w", err)
	}
	if produceErr != nil {
		return "", fmt.Errorf("op=queue.enqueue: produce: %w", produceErr)
	}

	slog.Debug("evaluation task enqueued",
		slog.String("id", payload.ID),
		slog.String("topic", TopicEvaluations))
	return payload.ID, nil
}

// Ping reports broker reachability for readiness probes.
func (p *Producer) Ping(ctx context.Context) error {
	return p.client.Ping(ctx)
}

// Close waits for an in-flight transaction to finish, then closes the client.
func (p *Producer) Close() {
	select {
	case <-p.transactionChan:
	case <-time.After(5 * time.Second):
		slog.Warn("closing producer with a transaction still in flight")
	}
	p.client.Close()
}

func newEvaluationRecord(payload domain.EvaluationTaskPayload) (*kgo.Record, error) {
	value, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return &kgo.Record{
		Topic: TopicEvaluations,
		Key:   []byte(payload.ID),
		Value: value,
		Headers: []kgo.RecordHeader{
			{Key: "task_type", Value: []byte("evaluation")},
		},
	}, nil
}
