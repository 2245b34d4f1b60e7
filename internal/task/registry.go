package task

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dyluth/cerebrum/internal/logger"
	"github.com/dyluth/cerebrum/pkg/protocol"
	"github.com/google/uuid"
)

// IDPrefix starts every task id.
const IDPrefix = "task_"

// Transition is one entry of a record's history.
type Transition struct {
	From State     `json:"from"`
	To   State     `json:"to"`
	At   time.Time `json:"at"`
	Note string    `json:"note,omitempty"`
}

// Record is the state of one task. Values returned by the Registry are
// snapshots; mutate only through Update.
type Record struct {
	ID           string          `json:"id"`
	Ticker       string          `json:"ticker"`
	Filter       protocol.Filter `json:"filter"`
	Interactive  bool            `json:"interactive"`
	State        State           `json:"state"`
	Retries      int             `json:"retries"`
	ReviewPasses int             `json:"review_passes"`
	History      []Transition    `json:"history,omitempty"`
	Err          string          `json:"error,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

func (r Record) clone() Record {
	r.History = append([]Transition(nil), r.History...)
	return r
}

type entry struct {
	mu  sync.Mutex
	rec Record
}

// Registry is a concurrency-safe map of task records.
type Registry struct {
	mu      sync.RWMutex
	tasks   map[string]*entry
	retries int
	journal Journal
	now     func() time.Time
}

// NewRegistry returns a registry whose tasks start with retries feedback
// rounds. A nil journal records nothing.
func NewRegistry(retries int, journal Journal) *Registry {
	if journal == nil {
		journal = nopJournal{}
	}
	return &Registry{
		tasks:   make(map[string]*entry),
		retries: retries,
		journal: journal,
		now:     time.Now,
	}
}

// Create registers a new task in StateCreated.
func (r *Registry) Create(ctx context.Context, ticker string, filter protocol.Filter, interactive bool) (Record, error) {
	now := r.now()
	rec := Record{
		ID:          IDPrefix + uuid.NewString(),
		Ticker:      ticker,
		Filter:      filter,
		Interactive: interactive,
		State:       StateCreated,
		Retries:     r.retries,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	e := &entry{rec: rec}
	e.mu.Lock()
	defer e.mu.Unlock()

	r.mu.Lock()
	if _, exists := r.tasks[rec.ID]; exists {
		r.mu.Unlock()
		return Record{}, fmt.Errorf("task id collision: %s", rec.ID)
	}
	r.tasks[rec.ID] = e
	r.mu.Unlock()

	r.record(ctx, e.rec, Transition{To: StateCreated, At: now})
	return e.rec.clone(), nil
}

// Get returns a snapshot of a task.
func (r *Registry) Get(id string) (Record, error) {
	e, err := r.entry(id)
	if err != nil {
		return Record{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rec.clone(), nil
}

// Update runs fn on the task under its lock. A state change made by fn is
// checked against the transition table and journaled. Retries may only
// decrease and ReviewPasses may only increase; an update breaking either
// rule, or returning an error, leaves the record untouched.
func (r *Registry) Update(ctx context.Context, id string, fn func(*Record) error) (Record, error) {
	return r.update(ctx, id, "", false, fn)
}

// Advance moves a task to state to. Self-transitions allowed by the table,
// such as another feedback round, are journaled like any other.
func (r *Registry) Advance(ctx context.Context, id string, to State, note string) (Record, error) {
	return r.AdvanceWith(ctx, id, note, func(*Record) (State, error) { return to, nil })
}

// AdvanceWith lets fn adjust the record and choose the next state in one
// locked step.
func (r *Registry) AdvanceWith(ctx context.Context, id, note string, fn func(*Record) (State, error)) (Record, error) {
	return r.update(ctx, id, note, true, func(rec *Record) error {
		to, err := fn(rec)
		if err != nil {
			return err
		}
		rec.State = to
		return nil
	})
}

func (r *Registry) update(ctx context.Context, id, note string, force bool, fn func(*Record) error) (Record, error) {
	e, err := r.entry(id)
	if err != nil {
		return Record{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	before := e.rec
	next := e.rec.clone()
	if err := fn(&next); err != nil {
		return before.clone(), err
	}

	next.ID, next.CreatedAt = before.ID, before.CreatedAt
	if next.Retries > before.Retries {
		return before.clone(), fmt.Errorf("%w: retries cannot increase (%d -> %d)", ErrInvalidUpdate, before.Retries, next.Retries)
	}
	if next.ReviewPasses < before.ReviewPasses {
		return before.clone(), fmt.Errorf("%w: review passes cannot decrease (%d -> %d)", ErrInvalidUpdate, before.ReviewPasses, next.ReviewPasses)
	}

	now := r.now()
	var tr *Transition
	if force || next.State != before.State {
		if err := checkTransition(before.State, next.State); err != nil {
			return before.clone(), err
		}
		tr = &Transition{From: before.State, To: next.State, At: now, Note: note}
		next.History = append(next.History, *tr)
	}
	next.UpdatedAt = now
	e.rec = next

	if tr != nil {
		r.record(ctx, e.rec, *tr)
	}
	return e.rec.clone(), nil
}

// Fail marks a task failed with cause. Failing a final task is a no-op.
func (r *Registry) Fail(ctx context.Context, id string, cause error) (Record, error) {
	return r.Update(ctx, id, func(rec *Record) error {
		if rec.State.Final() {
			return nil
		}
		rec.State = StateFailed
		if cause != nil {
			rec.Err = cause.Error()
		}
		return nil
	})
}

// Active returns snapshots of every task that is not final, oldest first.
func (r *Registry) Active() []Record {
	r.mu.RLock()
	entries := make([]*entry, 0, len(r.tasks))
	for _, e := range r.tasks {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	var out []Record
	for _, e := range entries {
		e.mu.Lock()
		if !e.rec.State.Final() {
			out = append(out, e.rec.clone())
		}
		e.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Len returns the number of tasks ever created.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tasks)
}

func (r *Registry) entry(id string) (*entry, error) {
	r.mu.RLock()
	e, ok := r.tasks[id]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTask, id)
	}
	return e, nil
}

func (r *Registry) record(ctx context.Context, rec Record, tr Transition) {
	if err := r.journal.Record(ctx, rec, tr); err != nil {
		logger.WarnCF("task", "Failed to journal transition", logger.Fields{
			"task_id": rec.ID,
			"from":    tr.From,
			"to":      tr.To,
			"error":   err.Error(),
		})
	}
}
