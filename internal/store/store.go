// Package store persists task records. Two drivers share one contract: a
// keyed collection with serialized read-modify-write mutations, durable
// before each call returns.
package store

import (
	"context"
	"errors"
	"time"

	"mailcron/internal/task"
)

var (
	ErrNotFound           = errors.New("task not found")
	ErrAlreadyExists      = errors.New("task already exists")
	ErrDuplicateRecipient = errors.New("recipient already exists")
	ErrLastRecipient      = errors.New("a task needs at least one recipient")
)

// Store is the persistence API used by the scheduler and the task service.
type Store interface {
	// List returns a snapshot of all tasks in insertion order. It never
	// fails: unreadable storage degrades to an empty slice.
	List(ctx context.Context) []*task.Task
	Get(ctx context.Context, id string) (*task.Task, error)
	Insert(ctx context.Context, t *task.Task) (*task.Task, error)
	// Update merges the patch into the stored record under the store's own
	// lock, so concurrent patches to disjoint fields never lose each other.
	Update(ctx context.Context, id string, p Patch) (*task.Task, error)
	Remove(ctx context.Context, id string) (*task.Task, error)
	Close() error
}

// Config selects and configures a driver.
//
// Driver values:
//   - "sqlite" (default): SQLite database file
//   - "file": JSON snapshot, written temp-then-rename per mutation
type Config struct {
	Driver string
	Path   string
}

// Patch is a partial update. Nil pointer fields are left untouched; the
// Clear* flags distinguish "set to null" from "absent".
type Patch struct {
	Name       *string
	Recipients []string

	// AddRecipient and RemoveRecipient are single-address deltas, merged
	// into the current recipient set under the store's lock so concurrent
	// edits to the same task never lose each other.
	AddRecipient    string
	RemoveRecipient string

	Subject    *string
	Body       *string
	SendTime   *time.Time

	NextRunAt    *time.Time
	ClearNextRun bool

	IsRecurring     *bool
	RecurrenceValue *int
	RecurrenceUnit  *task.Unit

	Timezone *string
	Status   *task.Status

	LastSentAt *time.Time

	LastError      *string
	ClearLastError bool

	Attempts      *int
	LastAttemptAt *time.Time

	SMTP       *task.SMTPConfig
	WebhookURL *string
}

// apply merges p into t and stamps UpdatedAt. Both drivers funnel their
// merges through here so the semantics cannot drift apart. An error leaves
// t in an undefined state; callers must discard it.
func (p Patch) apply(t *task.Task, now time.Time) error {
	if p.Name != nil {
		t.Name = *p.Name
	}
	if p.Recipients != nil {
		t.Recipients = append([]string(nil), p.Recipients...)
	}
	if p.AddRecipient != "" {
		for _, r := range t.Recipients {
			if r == p.AddRecipient {
				return ErrDuplicateRecipient
			}
		}
		t.Recipients = append(t.Recipients, p.AddRecipient)
	}
	if p.RemoveRecipient != "" {
		kept := make([]string, 0, len(t.Recipients))
		for _, r := range t.Recipients {
			if r != p.RemoveRecipient {
				kept = append(kept, r)
			}
		}
		if len(kept) == 0 {
			return ErrLastRecipient
		}
		t.Recipients = kept
	}
	if p.Subject != nil {
		t.Subject = *p.Subject
	}
	if p.Body != nil {
		t.Body = *p.Body
	}
	if p.SendTime != nil {
		t.SendTime = *p.SendTime
	}
	if p.ClearNextRun {
		t.NextRunAt = nil
	} else if p.NextRunAt != nil {
		v := *p.NextRunAt
		t.NextRunAt = &v
	}
	if p.IsRecurring != nil {
		t.IsRecurring = *p.IsRecurring
		if !t.IsRecurring {
			t.RecurrenceValue = nil
			t.RecurrenceUnit = nil
		}
	}
	if p.RecurrenceValue != nil {
		v := *p.RecurrenceValue
		t.RecurrenceValue = &v
	}
	if p.RecurrenceUnit != nil {
		v := *p.RecurrenceUnit
		t.RecurrenceUnit = &v
	}
	if p.Timezone != nil {
		t.Timezone = *p.Timezone
	}
	if p.Status != nil {
		t.Status = *p.Status
	}
	if p.LastSentAt != nil {
		v := *p.LastSentAt
		t.LastSentAt = &v
	}
	if p.ClearLastError {
		t.LastError = nil
	} else if p.LastError != nil {
		v := *p.LastError
		t.LastError = &v
	}
	if p.Attempts != nil {
		t.Attempts = *p.Attempts
	}
	if p.LastAttemptAt != nil {
		v := *p.LastAttemptAt
		t.LastAttemptAt = &v
	}
	if p.SMTP != nil {
		v := *p.SMTP
		t.SMTP = &v
	}
	if p.WebhookURL != nil {
		t.WebhookURL = *p.WebhookURL
	}
	t.UpdatedAt = now
	return nil
}
