// Package events publishes usage events (searches, suggestions, document
// adds) to Kafka when an event stream is configured. Publishing is
// buffered and fire-and-forget: a full buffer drops the event rather than
// delaying a query.
package events

import (
	"context"
	"log/slog"
	"time"

	"github.com/corpusnext/papersearch/pkg/kafka"
	"github.com/corpusnext/papersearch/pkg/logger"
)

// Type enumerates the published event kinds.
type Type string

const (
	TypeSearch      Type = "search"
	TypeSuggest     Type = "suggest"
	TypeAddDocument Type = "add_document"
)

// Event is one usage record.
type Event struct {
	Type      Type   `json:"type"`
	Query     string `json:"query,omitempty"`
	UID       string `json:"uid,omitempty"`
	Results   int    `json:"results,omitempty"`
	FromCache bool   `json:"from_cache,omitempty"`
	Timestamp string `json:"timestamp"`
}

// Collector drains a buffered channel into the Kafka producer.
type Collector struct {
	producer *kafka.Producer
	eventCh  chan Event
	done     chan struct{}
	logger   *slog.Logger
}

// NewCollector creates a Collector over the given producer.
func NewCollector(producer *kafka.Producer, bufferSize int) *Collector {
	if bufferSize <= 0 {
		bufferSize = 10000
	}
	return &Collector{
		producer: producer,
		eventCh:  make(chan Event, bufferSize),
		done:     make(chan struct{}),
		logger:   logger.WithComponent("events"),
	}
}

// Start launches the background drain loop.
func (c *Collector) Start(ctx context.Context) {
	go func() {
		defer close(c.done)
		for {
			select {
			case ev, ok := <-c.eventCh:
				if !ok {
					return
				}
				if err := c.producer.Publish(ctx, kafka.Event{Key: string(ev.Type), Value: ev}); err != nil {
					c.logger.Warn("event publish failed", "type", ev.Type, "error", err)
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Record enqueues an event without blocking; events are dropped when the
// buffer is full.
func (c *Collector) Record(ev Event) {
	if c == nil {
		return
	}
	ev.Timestamp = time.Now().UTC().Format(time.RFC3339)
	select {
	case c.eventCh <- ev:
	default:
		c.logger.Debug("event buffer full, dropping", "type", ev.Type)
	}
}

// Close stops the drain loop and waits for it to finish.
func (c *Collector) Close() {
	if c == nil {
		return
	}
	close(c.eventCh)
	<-c.done
}
