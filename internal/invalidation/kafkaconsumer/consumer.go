// Package kafkaconsumer applies feature change events from Kafka to the
// spatial query cache.
package kafkaconsumer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"github.com/paulmach/orb"
	"github.com/rs/zerolog"

	"github.com/mohammed-shakir/nearby-search/internal/core/model"
	obs "github.com/mohammed-shakir/nearby-search/internal/core/observability"
	"github.com/mohammed-shakir/nearby-search/internal/invalidation"
	mylog "github.com/mohammed-shakir/nearby-search/internal/logger"
)

type CellMapper interface {
	CellsForGeometry(g orb.Geometry, res int) (model.Cells, error)
}

// Invalidator drops cached query results by cell. datasource.QueryCache
// satisfies it.
type Invalidator interface {
	Resolution() int
	InvalidateCells(ctx context.Context, layer string, cells []string) (int, error)
}

type Option func(*Consumer)

// WithEventLog writes one structured line per applied event to zl.
func WithEventLog(zl *zerolog.Logger) Option {
	return func(c *Consumer) { c.zlog = zl }
}

type Consumer struct {
	cfg    Config
	logger *slog.Logger
	inv    Invalidator
	mapper CellMapper
	zlog   *zerolog.Logger
	ver    *versionDedupe

	mu    sync.RWMutex
	ready bool
	parts []int32
}

func New(cfg Config, logger *slog.Logger, inv Invalidator, mapper CellMapper, opts ...Option) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Consumer{
		cfg:    cfg,
		logger: logger,
		inv:    inv,
		mapper: mapper,
		ver:    newVersionDedupe(cfg.DedupeSize),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Readiness reports whether the consumer currently owns a group session and
// the partitions of the topic it was assigned.
func (c *Consumer) Readiness() (bool, []int32) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ready, append([]int32(nil), c.parts...)
}

func (c *Consumer) setClaims(claims map[string][]int32) {
	parts := append([]int32(nil), claims[c.cfg.Topic]...)
	sort.Slice(parts, func(i, j int) bool { return parts[i] < parts[j] })
	c.mu.Lock()
	c.ready, c.parts = true, parts
	c.mu.Unlock()
}

func (c *Consumer) clearClaims() {
	c.mu.Lock()
	c.ready, c.parts = false, nil
	c.mu.Unlock()
}

func (c *Consumer) handler() *groupHandler {
	return &groupHandler{process: c.ProcessOne, onSetup: c.setClaims, onClean: c.clearClaims}
}

// Start consumes change events until ctx is done.
func (c *Consumer) Start(ctx context.Context) error {
	if c.inv == nil || c.mapper == nil {
		return errors.New("kafkaconsumer: missing dependencies (invalidator/mapper)")
	}

	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_1_0_0
	cfg.Consumer.Group.Session.Timeout = c.cfg.SessionTimeout
	cfg.Consumer.Group.Heartbeat.Interval = c.cfg.Heartbeat
	cfg.Consumer.Group.Rebalance.Timeout = c.cfg.RebalanceTimeout
	if c.cfg.InitialOffsetOldest {
		cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	} else {
		cfg.Consumer.Offsets.Initial = sarama.OffsetNewest
	}
	cfg.Consumer.Offsets.AutoCommit.Enable = true

	group, err := sarama.NewConsumerGroup(c.cfg.Brokers, c.cfg.GroupID, cfg)
	if err != nil {
		return fmt.Errorf("create consumer group: %w", err)
	}
	defer func() { _ = group.Close() }()

	ctx = mylog.WithComponent(ctx, "kafka_consumer")
	h := c.handler()
	backoff := c.cfg.RetryBackoff
	if backoff <= 0 {
		backoff = 2 * time.Second
	}

	c.logger.InfoContext(ctx, "kafka invalidation consumer starting",
		"brokers", c.cfg.Brokers, "topic", c.cfg.Topic, "group", c.cfg.GroupID)

	for {
		if err := group.Consume(ctx, []string{c.cfg.Topic}, h); err != nil && ctx.Err() == nil {
			obs.IncKafkaConsumerError("consume")
			c.logger.ErrorContext(ctx, "consumer error", "err", err)
			select {
			case <-ctx.Done():
			case <-time.After(backoff):
			}
		}
		if ctx.Err() != nil {
			c.logger.InfoContext(ctx, "kafka invalidation consumer shutting down")
			return nil
		}
	}
}

// ProcessOne applies a single change event. Malformed events are counted and
// skipped; a cache failure is returned so the message is not marked.
func (c *Consumer) ProcessOne(ctx context.Context, msg *sarama.ConsumerMessage) error {
	start := time.Now()
	zl := mylog.FromContext(ctx, c.zlog)

	ev, err := invalidation.Decode(msg.Value)
	if err != nil {
		obs.IncKafkaConsumerError("decode")
		zl.Error().Err(err).
			Str("kind", "decode").
			Str("topic", msg.Topic).
			Int32("partition", msg.Partition).
			Int64("offset", msg.Offset).
			Msg("kafka error")
		c.logger.WarnContext(ctx, "skipping malformed change event", "offset", msg.Offset, "err", err)
		return nil
	}

	if !msg.Timestamp.IsZero() {
		obs.SetInvalidationLag(time.Since(msg.Timestamp).Seconds())
	}
	dkey, ver := dedupeKey(ev), ev.TS.UnixNano()
	if c.ver.stale(dkey, ver) {
		obs.ObserveInvalidation(ev.Op, nil)
		c.logger.DebugContext(ctx, "skipping superseded change event", "layer", ev.Layer, "feature_id", ev.FeatureID)
		return nil
	}

	cells, err := c.cellsForEvent(ev)
	if err != nil {
		obs.IncKafkaConsumerError("footprint")
		obs.ObserveInvalidation(ev.Op, err)
		c.logger.WarnContext(ctx, "skipping change event without usable footprint",
			"layer", ev.Layer, "op", ev.Op, "err", err)
		return nil
	}
	if len(cells) == 0 {
		obs.ObserveInvalidation(ev.Op, nil)
		c.logger.DebugContext(ctx, "no cells to invalidate (skipping)", "layer", ev.Layer, "op", ev.Op)
		return nil
	}

	n, err := c.inv.InvalidateCells(ctx, ev.Layer, []string(cells))
	obs.ObserveInvalidation(ev.Op, err)
	if err != nil {
		obs.IncKafkaConsumerError("invalidate")
		zl.Error().Err(err).
			Str("kind", "invalidate").
			Str("topic", msg.Topic).
			Int32("partition", msg.Partition).
			Int("cells", len(cells)).
			Msg("kafka error")
		return fmt.Errorf("invalidate: %w", err)
	}
	c.ver.applied(dkey, ver)

	c.logger.DebugContext(ctx, "invalidated queries",
		"layer", ev.Layer, "op", ev.Op, "cells", len(cells), "queries", n, "took", time.Since(start))
	zl.Info().
		Str("event", "invalidation").
		Str("op", ev.Op).Str("layer", ev.Layer).
		Int("cells", len(cells)).Int("queries", n).
		Msg("invalidated queries")
	return nil
}

func (c *Consumer) cellsForEvent(ev invalidation.Event) (model.Cells, error) {
	g, err := ev.Footprint()
	if err != nil {
		return nil, err
	}
	cells, err := c.mapper.CellsForGeometry(g, c.inv.Resolution())
	if err != nil {
		return nil, fmt.Errorf("cells for footprint: %w", err)
	}
	return cells, nil
}
