package task

import (
	"context"
	"sync"
	"time"
)

// Event is the journal entry for one transition.
type Event struct {
	TaskID       string    `json:"task_id"`
	Ticker       string    `json:"ticker"`
	From         State     `json:"from,omitempty"`
	To           State     `json:"to"`
	Retries      int       `json:"retries"`
	ReviewPasses int       `json:"review_passes"`
	Note         string    `json:"note,omitempty"`
	Error        string    `json:"error,omitempty"`
	At           time.Time `json:"at"`
}

// NewEvent builds the event for tr applied to rec.
func NewEvent(rec Record, tr Transition) Event {
	return Event{
		TaskID:       rec.ID,
		Ticker:       rec.Ticker,
		From:         tr.From,
		To:           tr.To,
		Retries:      rec.Retries,
		ReviewPasses: rec.ReviewPasses,
		Note:         tr.Note,
		Error:        rec.Err,
		At:           tr.At,
	}
}

// Journal records task transitions. Record is called with the task's lock
// held, so events for one task arrive in order.
type Journal interface {
	Record(ctx context.Context, rec Record, tr Transition) error
}

type nopJournal struct{}

func (nopJournal) Record(context.Context, Record, Transition) error { return nil }

// MemoryJournal keeps events in process.
type MemoryJournal struct {
	mu     sync.Mutex
	events []Event
}

// NewMemoryJournal returns an empty journal.
func NewMemoryJournal() *MemoryJournal {
	return &MemoryJournal{}
}

// Record implements Journal.
func (j *MemoryJournal) Record(_ context.Context, rec Record, tr Transition) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.events = append(j.events, NewEvent(rec, tr))
	return nil
}

// Events returns the events of taskID, or all events when taskID is empty.
func (j *MemoryJournal) Events(taskID string) []Event {
	j.mu.Lock()
	defer j.mu.Unlock()
	var out []Event
	for _, ev := range j.events {
		if taskID == "" || ev.TaskID == taskID {
			out = append(out, ev)
		}
	}
	return out
}
