// Package layerupdates consumes layer-change events from Kafka and drops the
// affected layers from the dataset cache.
package layerupdates

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/IBM/sarama"
	"github.com/rs/zerolog"

	obs "github.com/mohammed-shakir/map-search/internal/core/observability"
	mylog "github.com/mohammed-shakir/map-search/internal/logger"
)

type Invalidator interface {
	Invalidate(layer string) bool
}

type Config struct {
	Brokers             []string
	Topic               string
	GroupID             string
	SessionTimeout      time.Duration
	Heartbeat           time.Duration
	RebalanceTimeout    time.Duration
	InitialOffsetOldest bool
	DedupeSize          int
}

type Consumer struct {
	cfg    Config
	logger *slog.Logger
	target Invalidator
	seen   *tsDedupe
	zlog   *zerolog.Logger
}

func New(cfg Config, logger *slog.Logger, target Invalidator) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.SessionTimeout <= 0 {
		cfg.SessionTimeout = 30 * time.Second
	}
	if cfg.Heartbeat <= 0 {
		cfg.Heartbeat = 3 * time.Second
	}
	if cfg.RebalanceTimeout <= 0 {
		cfg.RebalanceTimeout = 30 * time.Second
	}
	nop := zerolog.Nop()
	return &Consumer{
		cfg:    cfg,
		logger: logger,
		target: target,
		seen:   newTSDedupe(cfg.DedupeSize),
		zlog:   &nop,
	}
}

// Start consumes until ctx is done.
func (c *Consumer) Start(ctx context.Context) error {
	if c.target == nil {
		return errors.New("layerupdates: missing invalidation target")
	}
	if len(c.cfg.Brokers) == 0 || c.cfg.Topic == "" || c.cfg.GroupID == "" {
		return errors.New("layerupdates: brokers, topic and group id are required")
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

	zl := mylog.Build(mylog.Config{Level: zerolog.GlobalLevel().String(), Component: "layer_updates"}, nil)
	c.zlog = mylog.FromContext(mylog.WithComponent(context.Background(), "layer_updates"), &zl)

	handler := &groupHandler{process: c.ProcessOne}

	c.logger.Info("layer update consumer starting",
		"brokers", c.cfg.Brokers, "topic", c.cfg.Topic, "group", c.cfg.GroupID)

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("layer update consumer shutting down")
			return nil
		default:
			if err := group.Consume(ctx, []string{c.cfg.Topic}, handler); err != nil {
				c.logger.Error("consumer error", "err", err)
				c.zlog.Error().Err(err).
					Strs("brokers", c.cfg.Brokers).
					Str("topic", c.cfg.Topic).
					Msg("kafka consumer error")
				select {
				case <-ctx.Done():
				case <-time.After(2 * time.Second):
				}
			}
		}
	}
}

// ProcessOne applies a single event. Events that cannot be decoded or fail
// validation are logged and skipped; redelivering them would not help.
func (c *Consumer) ProcessOne(ctx context.Context, msg *sarama.ConsumerMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var ev Event
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		obs.ObserveLayerUpdate("unknown", err)
		c.zlog.Error().
			Str("kind", "decode").
			Str("topic", msg.Topic).
			Int32("partition", msg.Partition).
			Int64("offset", msg.Offset).
			Msg("skipping undecodable layer event")
		return nil
	}
	if err := ev.Validate(); err != nil {
		obs.ObserveLayerUpdate(ev.Op, err)
		c.logger.Warn("skipping invalid layer event",
			"layer", ev.Layer, "op", ev.Op, "offset", msg.Offset, "err", err)
		return nil
	}
	if !c.seen.shouldApply(ev.Layer, ev.TS) {
		c.logger.Debug("duplicate layer event", "layer", ev.Layer, "ts", ev.TS)
		return nil
	}

	evicted := c.target.Invalidate(ev.Layer)
	c.seen.applied(ev.Layer, ev.TS)
	obs.ObserveLayerUpdate(ev.Op, nil)

	c.zlog.Info().
		Str("event", "layer_update").
		Str("op", ev.Op).Str("layer", ev.Layer).
		Bool("evicted", evicted).
		Msg("layer invalidated")
	return nil
}
