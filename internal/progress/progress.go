// Package progress carries run progress from the worker to live stream
// consumers. Publishing never blocks: each subscriber owns a bounded buffer
// that drops its oldest event when full, so a slow or vanished consumer
// cannot stall the worker.
package progress

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/kalambet/creativemri/internal/report"
)

// Stage names reported during a run.
const (
	StageStarting   = "starting"
	StageIngest     = "ingest"
	StageMedia      = "media"
	StageClassify   = "classify"
	StageAugment    = "augment"
	StageAggregate  = "aggregate"
	StageStatistics = "statistics"
	StageSynthesize = "synthesize"
	StageDone       = "done"
)

// Event is one progress tick or a terminal result. A terminal event has
// either Report set (Stage == StageDone) or Error set.
type Event struct {
	Stage   string
	Current int
	Total   int
	Message string
	Report  *report.Report
	Error   string
}

// Terminal reports whether e ends the stream.
func (e Event) Terminal() bool {
	return e.Stage == StageDone || e.Error != ""
}

// MarshalJSON renders the three wire shapes: {stage,current,total,message},
// {stage:"done",report} and {error}.
func (e Event) MarshalJSON() ([]byte, error) {
	switch {
	case e.Error != "":
		return json.Marshal(struct {
			Error string `json:"error"`
		}{e.Error})
	case e.Stage == StageDone:
		return json.Marshal(struct {
			Stage  string         `json:"stage"`
			Report *report.Report `json:"report"`
		}{e.Stage, e.Report})
	}
	return json.Marshal(struct {
		Stage   string `json:"stage"`
		Current int    `json:"current"`
		Total   int    `json:"total"`
		Message string `json:"message"`
	}{e.Stage, e.Current, e.Total, e.Message})
}

// UnmarshalJSON accepts any of the three wire shapes.
func (e *Event) UnmarshalJSON(b []byte) error {
	var raw struct {
		Stage   string         `json:"stage"`
		Current int            `json:"current"`
		Total   int            `json:"total"`
		Message string         `json:"message"`
		Report  *report.Report `json:"report"`
		Error   string         `json:"error"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	*e = Event{Stage: raw.Stage, Current: raw.Current, Total: raw.Total, Message: raw.Message, Report: raw.Report, Error: raw.Error}
	return nil
}

var (
	// ErrTimeout is returned by Next when no event arrived in time.
	ErrTimeout = errors.New("progress: poll timeout")
	// ErrClosed is returned by Next once the channel is closed and drained.
	ErrClosed = errors.New("progress: channel closed")
)

// Channel is a bounded, drop-oldest event queue with one consumer.
type Channel struct {
	mu      sync.Mutex
	ch      chan Event
	closed  bool
	dropped int
}

// NewChannel creates a channel holding up to size events.
func NewChannel(size int) *Channel {
	if size <= 0 {
		size = 64
	}
	return &Channel{ch: make(chan Event, size)}
}

// Publish enqueues ev without blocking, evicting the oldest queued event if
// the buffer is full. Publishing to a closed channel is a no-op.
func (c *Channel) Publish(ev Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	for {
		select {
		case c.ch <- ev:
			return
		default:
		}
		select {
		case <-c.ch:
			c.dropped++
		default:
		}
	}
}

// Close stops further publishing. Queued events remain readable.
func (c *Channel) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.ch)
	}
}

// Dropped returns how many events were evicted.
func (c *Channel) Dropped() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dropped
}

// Next waits up to timeout for the next event. It returns ErrTimeout when
// nothing arrived, ErrClosed when the channel is closed and empty, or the
// context error when ctx ends first.
func (c *Channel) Next(ctx context.Context, timeout time.Duration) (Event, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case ev, ok := <-c.ch:
		if !ok {
			return Event{}, ErrClosed
		}
		return ev, nil
	case <-timer.C:
		return Event{}, ErrTimeout
	case <-ctx.Done():
		return Event{}, ctx.Err()
	}
}
