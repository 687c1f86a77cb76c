package task

import "time"

// Status represents the lifecycle state of a task
type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusSent      Status = "sent"
	StatusError     Status = "error"
)

// Unit is the calendar granularity of a recurrence rule
type Unit string

const (
	UnitMinutes Unit = "minutes"
	UnitHours   Unit = "hours"
	UnitDays    Unit = "days"
	UnitWeeks   Unit = "weeks"
	UnitMonths  Unit = "months"
)

// Units lists the recognized recurrence units.
var Units = []Unit{UnitMinutes, UnitHours, UnitDays, UnitWeeks, UnitMonths}

// ValidUnit reports whether u is a recognized recurrence unit.
func ValidUnit(u Unit) bool {
	for _, known := range Units {
		if u == known {
			return true
		}
	}
	return false
}

// SMTPConfig holds the transport settings a task is dispatched through.
type SMTPConfig struct {
	Host   string `json:"host"`
	Port   int    `json:"port"`
	Secure bool   `json:"secure"`
	From   string `json:"from"`
	User   string `json:"user"`
	Pass   string `json:"pass"`
}

// Task represents a scheduled email job
type Task struct {
	ID              string      `json:"id"`
	Name            string      `json:"name"`
	Recipients      []string    `json:"recipients"`
	Subject         string      `json:"subject"`
	Body            string      `json:"body"`
	SendTime        time.Time   `json:"sendTime"`
	NextRunAt       *time.Time  `json:"nextRunAt"`
	IsRecurring     bool        `json:"isRecurring"`
	RecurrenceValue *int        `json:"recurrenceValue,omitempty"`
	RecurrenceUnit  *Unit       `json:"recurrenceUnit,omitempty"`
	Timezone        string      `json:"timezone,omitempty"`
	Status          Status      `json:"status"`
	LastSentAt      *time.Time  `json:"lastSentAt,omitempty"`
	LastError       *string     `json:"lastError,omitempty"`
	Attempts        int         `json:"attempts,omitempty"`
	LastAttemptAt   *time.Time  `json:"lastAttemptAt,omitempty"`
	SMTP            *SMTPConfig `json:"smtp,omitempty"`
	WebhookURL      string      `json:"webhookUrl,omitempty"`
	CreatedAt       time.Time   `json:"createdAt"`
	UpdatedAt       time.Time   `json:"updatedAt"`
}

// DueAt returns the instant the task is next due, preferring NextRunAt
// over the original SendTime. ok is false once a non-recurring task has
// terminated and carries no next instant.
func (t *Task) DueAt() (at time.Time, ok bool) {
	if t.NextRunAt != nil {
		return *t.NextRunAt, true
	}
	if !t.SendTime.IsZero() {
		return t.SendTime, true
	}
	return time.Time{}, false
}

// Terminal reports whether the task has finished for good. Error is never
// terminal; sent is terminal only for non-recurring tasks.
func (t *Task) Terminal() bool {
	return t.Status == StatusSent && !t.IsRecurring
}

// Clone returns a deep copy so callers can mutate snapshots freely.
func (t *Task) Clone() *Task {
	c := *t
	c.Recipients = append([]string(nil), t.Recipients...)
	if t.NextRunAt != nil {
		v := *t.NextRunAt
		c.NextRunAt = &v
	}
	if t.RecurrenceValue != nil {
		v := *t.RecurrenceValue
		c.RecurrenceValue = &v
	}
	if t.RecurrenceUnit != nil {
		v := *t.RecurrenceUnit
		c.RecurrenceUnit = &v
	}
	if t.LastSentAt != nil {
		v := *t.LastSentAt
		c.LastSentAt = &v
	}
	if t.LastError != nil {
		v := *t.LastError
		c.LastError = &v
	}
	if t.LastAttemptAt != nil {
		v := *t.LastAttemptAt
		c.LastAttemptAt = &v
	}
	if t.SMTP != nil {
		v := *t.SMTP
		c.SMTP = &v
	}
	return &c
}
