package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/comercio-backoffice/pkg/config"
	"github.com/angelmondragon/comercio-backoffice/pkg/db/models"
	"github.com/angelmondragon/comercio-backoffice/pkg/logger"
	"github.com/angelmondragon/comercio-backoffice/pkg/metrics"
	"github.com/angelmondragon/comercio-backoffice/pkg/outbox/registry"
	"github.com/angelmondragon/comercio-backoffice/pkg/pubsub"
)

const (
	defaultBatchSize   = 50
	defaultPollMs      = 500
	defaultMaxAttempts = 10
	publishTimeout     = 15 * time.Second
	maxBackoff         = 10 * time.Second
	jitterWindow       = 250 * time.Millisecond

	parkedUnroutable  = "non_retryable"
	parkedMaxAttempts = "max_attempts"
)

type dbClient interface {
	Ping(context.Context) error
	WithTx(context.Context, func(tx *gorm.DB) error) error
}

type pubSubClient interface {
	Ping(context.Context) error
	Send(ctx context.Context, topic string, msg *gcppubsub.Message) (string, error)
}

type outboxRepository interface {
	FetchUnpublishedForPublish(tx *gorm.DB, limit, maxAttempts int) ([]models.OutboxEvent, error)
	MarkPublishedTx(tx *gorm.DB, id uuid.UUID) error
	MarkFailedTx(tx *gorm.DB, id uuid.UUID, err error) error
	MarkTerminalTx(tx *gorm.DB, id uuid.UUID, err error, terminalAttempts int) error
	CountUnpublished(tx *gorm.DB, maxAttempts int) (int64, error)
}

type registryResolver interface {
	Resolve(models.OutboxEvent) (*registry.ResolvedEvent, error)
}

// tenantScoped payloads name the tenant whose subscription moved.
type tenantScoped interface {
	Tenant() uuid.UUID
}

type ServiceParams struct {
	Config     *config.Config
	Logger     *logger.Logger
	DB         dbClient
	PubSub     pubSubClient
	Repository outboxRepository
	Registry   registryResolver
	Metrics    *metrics.OutboxMetrics
}

// Service relays lifecycle events from outbox_events to the billing topic.
// Rows of one poll are claimed and settled inside a single transaction.
type Service struct {
	logg     *logger.Logger
	db       dbClient
	repo     outboxRepository
	pubsub   pubSubClient
	registry registryResolver
	metrics  *metrics.OutboxMetrics
	jitter   *rand.Rand

	batchSize    int
	maxAttempts  int
	pollInterval time.Duration
}

func NewService(p ServiceParams) (*Service, error) {
	switch {
	case p.Config == nil:
		return nil, errors.New("config is required")
	case p.Logger == nil:
		return nil, errors.New("logger is required")
	case p.DB == nil:
		return nil, errors.New("database client is required")
	case p.PubSub == nil:
		return nil, errors.New("pubsub client is required")
	case p.Repository == nil:
		return nil, errors.New("outbox repository is required")
	case p.Registry == nil:
		return nil, errors.New("event registry is required")
	}

	cfg := p.Config.Outbox
	return &Service{
		logg:         p.Logger,
		db:           p.DB,
		repo:         p.Repository,
		pubsub:       p.PubSub,
		registry:     p.Registry,
		metrics:      p.Metrics,
		jitter:       rand.New(rand.NewSource(time.Now().UnixNano())),
		batchSize:    positiveOr(cfg.BatchSize, defaultBatchSize),
		maxAttempts:  positiveOr(cfg.MaxAttempts, defaultMaxAttempts),
		pollInterval: time.Duration(positiveOr(cfg.PollIntervalMS, defaultPollMs)) * time.Millisecond,
	}, nil
}

func positiveOr(v, fallback int) int {
	if v > 0 {
		return v
	}
	return fallback
}

// Run polls until ctx is cancelled. An idle poll waits one interval; a failed
// one doubles the wait up to maxBackoff.
func (s *Service) Run(ctx context.Context) error {
	if err := s.db.Ping(ctx); err != nil {
		return fmt.Errorf("database ping: %w", err)
	}
	if err := s.pubsub.Ping(ctx); err != nil {
		return fmt.Errorf("pubsub ping: %w", err)
	}

	wait := s.pollInterval
	for {
		if err := ctx.Err(); err != nil {
			s.logg.Info(ctx, "outbox publisher context canceled")
			return err
		}

		busy, err := s.processBatch(ctx)
		switch {
		case err != nil:
			s.logg.Error(ctx, "outbox publisher batch error", err)
			wait = nextBackoff(wait, s.pollInterval, maxBackoff)
		case busy:
			wait = s.pollInterval
			continue
		default:
			wait = s.pollInterval
		}

		if err := s.sleep(ctx, wait+s.jitterDelay()); err != nil {
			return err
		}
	}
}

func (s *Service) processBatch(ctx context.Context) (bool, error) {
	claimed := 0
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		rows, err := s.repo.FetchUnpublishedForPublish(tx, s.batchSize, s.maxAttempts)
		if err != nil {
			return err
		}
		claimed = len(rows)
		s.metrics.SetBatchSize(claimed)
		for _, row := range rows {
			if err := s.settle(ctx, tx, row, s.attempt(ctx, row)); err != nil {
				return err
			}
		}
		return nil
	})
	if err == nil && claimed > 0 {
		s.recordBacklog(ctx)
	}
	return claimed > 0, err
}

// delivery is the outcome of one publish attempt. A non-empty parked reason
// means the row is not retried.
type delivery struct {
	topic  string
	err    error
	parked string
}

func (s *Service) attempt(ctx context.Context, row models.OutboxEvent) delivery {
	resolved, err := s.registry.Resolve(row)
	if err != nil {
		return delivery{err: err, parked: parkedUnroutable}
	}

	d := delivery{topic: resolved.Descriptor.Topic}
	sendCtx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	if _, err := s.pubsub.Send(sendCtx, d.topic, lifecycleMessage(row, resolved)); err != nil {
		d.err = err
	}

	var nonRetry registry.NonRetryableError
	switch {
	case d.err == nil:
	case errors.As(d.err, &nonRetry), errors.Is(d.err, pubsub.ErrTopicNotConfigured):
		d.parked = parkedUnroutable
	case row.AttemptCount+1 >= s.maxAttempts:
		d.err = fmt.Errorf("max publish attempts reached: %w", d.err)
		d.parked = parkedMaxAttempts
	}
	return d
}

// settle records the delivery on the row. Only bookkeeping failures are
// returned, which rolls back the whole batch.
func (s *Service) settle(ctx context.Context, tx *gorm.DB, row models.OutboxEvent, d delivery) error {
	logCtx := s.logg.WithFields(ctx, deliveryFields(row, d))
	if d.err != nil && d.topic != "" {
		s.metrics.IncFailed(string(row.EventType))
	}

	switch {
	case d.err == nil:
		if err := s.repo.MarkPublishedTx(tx, row.ID); err != nil {
			return fmt.Errorf("mark published %s: %w", row.ID, err)
		}
		s.metrics.IncPublished(string(row.EventType))
		s.logg.Info(logCtx, "outbox event published")
	case d.parked != "":
		s.metrics.IncParked(d.parked)
		s.logg.Warn(logCtx, "outbox event will not be retried")
		if err := s.repo.MarkTerminalTx(tx, row.ID, d.err, s.maxAttempts); err != nil {
			return fmt.Errorf("mark terminal %s: %w", row.ID, err)
		}
	default:
		s.logg.Warn(logCtx, "outbox publish failed")
		if err := s.repo.MarkFailedTx(tx, row.ID, d.err); err != nil {
			return fmt.Errorf("mark failure %s: %w", row.ID, err)
		}
	}
	return nil
}

// recordBacklog refreshes the backlog gauge; a failed count leaves it stale.
func (s *Service) recordBacklog(ctx context.Context) {
	if s.metrics == nil {
		return
	}
	var backlog int64
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		n, err := s.repo.CountUnpublished(tx, s.maxAttempts)
		backlog = n
		return err
	})
	if err != nil {
		s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "outbox backlog count failed")
		return
	}
	s.metrics.SetBacklog(backlog)
}

// lifecycleMessage carries the stored envelope untouched. Attributes let
// billing consumers filter by event type and tenant without decoding it.
func lifecycleMessage(row models.OutboxEvent, resolved *registry.ResolvedEvent) *gcppubsub.Message {
	attrs := map[string]string{
		"event_id":       resolved.Envelope.EventID,
		"event_type":     string(row.EventType),
		"aggregate_type": string(row.AggregateType),
		"aggregate_id":   row.AggregateID.String(),
		"occurred_at":    resolved.Envelope.OccurredAt.UTC().Format(time.RFC3339Nano),
	}
	if scoped, ok := resolved.Payload.(tenantScoped); ok {
		attrs["tenant_id"] = scoped.Tenant().String()
	}
	return &gcppubsub.Message{Data: row.Payload, Attributes: attrs}
}

func deliveryFields(row models.OutboxEvent, d delivery) map[string]any {
	fields := map[string]any{
		"outbox_id":    row.ID.String(),
		"event_type":   row.EventType,
		"aggregate_id": row.AggregateID.String(),
		"attempt":      row.AttemptCount + 1,
	}
	if d.topic != "" {
		fields["topic"] = d.topic
	}
	if d.parked != "" {
		fields["terminal_reason"] = d.parked
	}
	if d.err != nil {
		fields["error"] = d.err.Error()
	}
	return fields
}

func (s *Service) jitterDelay() time.Duration {
	return time.Duration(s.jitter.Int63n(int64(jitterWindow)))
}

func (s *Service) sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func nextBackoff(current, base, max time.Duration) time.Duration {
	if current <= 0 {
		current = base
	}
	if next := current * 2; next < max {
		return next
	}
	return max
}
