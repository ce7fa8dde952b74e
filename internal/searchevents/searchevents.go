// Package searchevents publishes search notices to Kafka.
package searchevents

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/IBM/sarama"

	"github.com/mohammed-shakir/nearby-search/internal/search"
)

// Publisher is a search.Notifier. Notify never blocks: when the queue is full
// the notice is dropped.
type Publisher struct {
	topic  string
	logger *slog.Logger
	prod   sarama.AsyncProducer

	mu      sync.RWMutex
	closed  bool
	events  chan search.Notice
	stopped chan struct{}
	errDone chan struct{}
}

var _ search.Notifier = (*Publisher)(nil)

func NewPublisher(brokers []string, topic string, queueSize int, logger *slog.Logger) (*Publisher, error) {
	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_5_0_0
	cfg.Producer.Return.Errors = true
	cfg.Producer.Return.Successes = false

	prod, err := sarama.NewAsyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("searchevents: create async producer: %w", err)
	}
	return NewWithProducer(prod, topic, queueSize, logger), nil
}

// NewWithProducer takes ownership of prod.
func NewWithProducer(prod sarama.AsyncProducer, topic string, queueSize int, logger *slog.Logger) *Publisher {
	if queueSize <= 0 {
		queueSize = 1024
	}
	if logger == nil {
		logger = slog.Default()
	}
	p := &Publisher{
		topic:   topic,
		logger:  logger,
		prod:    prod,
		events:  make(chan search.Notice, queueSize),
		stopped: make(chan struct{}),
		errDone: make(chan struct{}),
	}

	go func() {
		defer close(p.stopped)
		for n := range p.events {
			b, err := json.Marshal(n)
			if err != nil {
				p.logger.Warn("searchevents marshal error", "err", err)
				continue
			}
			p.prod.Input() <- &sarama.ProducerMessage{
				Topic: p.topic,
				Key:   sarama.StringEncoder(n.SearchID),
				Value: sarama.ByteEncoder(b),
			}
		}
	}()

	go func() {
		defer close(p.errDone)
		for err := range p.prod.Errors() {
			if err != nil {
				p.logger.Warn("searchevents producer error", "err", err)
			}
		}
	}()

	return p
}

func (p *Publisher) Notify(_ context.Context, n search.Notice) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return
	}
	select {
	case p.events <- n:
	default:
		// queue full; never block a search on Kafka
	}
}

func (p *Publisher) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.events)
	p.mu.Unlock()

	<-p.stopped
	err := p.prod.Close()
	<-p.errDone
	if err != nil {
		return fmt.Errorf("searchevents: close producer: %w", err)
	}
	return nil
}
