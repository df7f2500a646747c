/*
Package events publishes what happened to stock after it is committed.

PURPOSE:
  Settlement, job-card deletion, write-offs and invoice receipts are
  announced to downstream systems (accounting, reporting) once the
  database transaction has committed. Publishing is fire-and-report:
  a failed publish is logged by the caller and never undoes the write.

IMPLEMENTATIONS:
  - Nop:    Drops everything (default, single-process deployments)
  - Memory: Keeps events in memory (tests)
  - Kafka:  segmentio/kafka-go writer, one message per event

SEE ALSO:
  - jobcard/service.go: Publishes settled and deleted events
  - inventory/service.go: Publishes write-off and invoice events
*/
package events

import (
	"context"
	"sync"
	"time"
)

type Type string

const (
	JobCardSettled  Type = "jobcard.settled"
	JobCardDeleted  Type = "jobcard.deleted"
	StockWrittenOff Type = "stock.written_off"
	InvoiceReceived Type = "invoice.received"
)

// Event is one committed change. Key partitions the stream (usually the
// job card or stock item ID) and Payload is marshalled as JSON.
type Event struct {
	Type       Type      `json:"type"`
	Key        string    `json:"key"`
	OccurredAt time.Time `json:"occurred_at"`
	Payload    any       `json:"payload"`
}

type Publisher interface {
	Publish(ctx context.Context, events ...Event) error
	Close() error
}

// =============================================================================
// NOP PUBLISHER
// =============================================================================

type Nop struct{}

func (Nop) Publish(context.Context, ...Event) error { return nil }
func (Nop) Close() error                           { return nil }

// =============================================================================
// MEMORY PUBLISHER
// =============================================================================

// Memory records published events in order.
type Memory struct {
	mu     sync.Mutex
	events []Event
	// Err, when set, is returned from every Publish and nothing is recorded.
	Err error
}

func NewMemory() *Memory { return &Memory{} }

func (m *Memory) Publish(_ context.Context, events ...Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.events = append(m.events, events...)
	return nil
}

func (m *Memory) Close() error { return nil }

// Events returns a copy of everything published so far.
func (m *Memory) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Event(nil), m.events...)
}

// OfType filters the published events by type.
func (m *Memory) OfType(t Type) []Event {
	var out []Event
	for _, e := range m.Events() {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}
