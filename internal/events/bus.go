// Package events is the bounded in-memory progress feed read by the HTTP
// API, the tray and the CLI.
package events

import (
	"context"
	"sync"
	"time"
)

type Type string

const (
	TypeAnalysisProgress Type = "analysis.progress"
	TypeAnalysisSegment  Type = "analysis.segment"
	TypeAnalysisDone     Type = "analysis.done"
	TypeRenderProgress   Type = "render.progress"
	TypeExportItem       Type = "export.item"
	TypeExportDone       Type = "export.done"
	TypePlayerPaused     Type = "player.paused"
	TypeSession          Type = "session"
	TypeError            Type = "error"
)

// Event is a sequenced payload. Data carries a type-specific value that is
// serialised as-is.
type Event struct {
	Seq          int64     `json:"seq"`
	Timestamp    time.Time `json:"timestamp"`
	Type         Type      `json:"type"`
	SessionID    string    `json:"session_id,omitempty"`
	SegmentIndex *int      `json:"segment_index,omitempty"`
	Progress     int       `json:"progress,omitempty"`
	Message      string    `json:"message,omitempty"`
	Data         any       `json:"data,omitempty"`
}

// Segment returns a pointer suitable for Event.SegmentIndex.
func Segment(i int) *int {
	return &i
}

// Publisher is the write side of the bus.
type Publisher interface {
	Publish(event Event) Event
}

// Bus stores recent events and provides incremental reads.
type Bus struct {
	mu        sync.RWMutex
	nextSeq   int64
	maxEvents int
	events    []Event
	changed   chan struct{}
}

// NewBus creates a bounded in-memory event buffer.
func NewBus(maxEvents int) *Bus {
	if maxEvents <= 0 {
		maxEvents = 500
	}

	return &Bus{
		maxEvents: maxEvents,
		events:    make([]Event, 0, maxEvents),
		changed:   make(chan struct{}),
	}
}

// Publish appends one event and assigns sequence and timestamp.
func (b *Bus) Publish(event Event) Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextSeq++
	event.Seq = b.nextSeq
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	b.events = append(b.events, event)
	if len(b.events) > b.maxEvents {
		trim := len(b.events) - b.maxEvents
		b.events = append([]Event(nil), b.events[trim:]...)
	}

	close(b.changed)
	b.changed = make(chan struct{})
	return event
}

// Since returns events with sequence strictly greater than seq.
func (b *Bus) Since(seq int64) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.since(seq)
}

func (b *Bus) since(seq int64) []Event {
	if len(b.events) == 0 {
		return nil
	}

	out := make([]Event, 0, len(b.events))
	for _, event := range b.events {
		if event.Seq > seq {
			out = append(out, event)
		}
	}
	return out
}

// Wait is Since that blocks until at least one newer event exists or ctx is
// done. On ctx expiry it returns whatever is available, possibly nothing.
func (b *Bus) Wait(ctx context.Context, seq int64) []Event {
	for {
		b.mu.RLock()
		out := b.since(seq)
		changed := b.changed
		b.mu.RUnlock()

		if len(out) > 0 {
			return out
		}
		select {
		case <-ctx.Done():
			return nil
		case <-changed:
		}
	}
}

// Latest returns the sequence number of the newest event.
func (b *Bus) Latest() int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.nextSeq
}
