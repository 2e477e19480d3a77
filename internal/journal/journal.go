// Package journal keeps an append-only log of proxied exchanges: one entry
// per inbound request, whether it was replayed, recorded or failed.
package journal

import (
	"context"
	"time"
)

// Outcome classifies how a proxied request was served.
type Outcome string

const (
	OutcomeHit   Outcome = "hit"
	OutcomeMiss  Outcome = "miss"
	OutcomeError Outcome = "error"
)

// Entry is one journaled exchange.
type Entry struct {
	ID         string        `json:"id"`
	Consumer   string        `json:"consumer,omitempty"`
	Provider   string        `json:"provider,omitempty"`
	Descriptor string        `json:"descriptor,omitempty"`
	Outcome    Outcome       `json:"outcome"`
	Status     int           `json:"status"`
	Attempts   int           `json:"attempts,omitempty"`
	Duration   time.Duration `json:"duration_ns"`
	Error      string        `json:"error,omitempty"`
	CreatedAt  time.Time     `json:"created_at"`
}

// Journal records exchanges and lists the most recent ones.
type Journal interface {
	Record(ctx context.Context, e *Entry) error
	Recent(ctx context.Context, limit int) ([]Entry, error)
	Close() error
}

// Nop discards every entry.
type Nop struct{}

var _ Journal = Nop{}

func (Nop) Record(context.Context, *Entry) error { return nil }

func (Nop) Recent(context.Context, int) ([]Entry, error) { return nil, nil }

func (Nop) Close() error { return nil }
