// Package tasks exposes the task operations consumed by the HTTP layer:
// create, update, delete, list and manual send.
package tasks

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"mailcron/internal/scheduler"
	"mailcron/internal/store"
	"mailcron/internal/task"
)

// ErrNoSMTP rejects a manual send for a task without transport settings.
var ErrNoSMTP = errors.New("task has no SMTP settings, cannot send")

const defaultName = "Email task"

// Service implements the task operations over the store and scheduler.
type Service struct {
	store store.Store
	sched *scheduler.Scheduler
	log   zerolog.Logger
	now   func() time.Time
}

func New(st store.Store, sched *scheduler.Scheduler, log zerolog.Logger) *Service {
	return &Service{store: st, sched: sched, log: log, now: time.Now}
}

// List returns a snapshot of all tasks.
func (s *Service) List(ctx context.Context) []*task.Task {
	return s.store.List(ctx)
}

// Get returns one task or store.ErrNotFound.
func (s *Service) Get(ctx context.Context, id string) (*task.Task, error) {
	return s.store.Get(ctx, id)
}

// Create validates the request and persists a new scheduled task. A
// ValidationErrors value is returned when any field is rejected; nothing is
// persisted in that case.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*task.Task, error) {
	var errs ValidationErrors
	now := s.now().UTC()

	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = defaultName
	}

	recipients := normalizeRecipients(req.Recipients)
	if len(recipients) == 0 {
		errs = append(errs, msgRecipientsRequired)
	}

	subject := strings.TrimSpace(req.Subject)
	if subject == "" {
		errs = append(errs, msgSubjectRequired)
	}
	body := strings.TrimSpace(req.Body)
	if body == "" {
		errs = append(errs, msgBodyRequired)
	}

	sendTime, ok := parseSendTime(req.SendTime)
	if !ok {
		errs = append(errs, msgSendTimeInvalid)
	} else if sendTime.Before(now.Add(-time.Minute)) {
		errs = append(errs, msgSendTimePast)
	}

	recurring, value, unit, recErrs := validateRecurrence(req.IsRecurring, req.RecurrenceValue, req.RecurrenceUnit)
	errs = append(errs, recErrs...)

	var smtp *task.SMTPConfig
	if req.smtp() == nil {
		errs = append(errs, msgSMTPHostRequired, msgSMTPAuthRequired)
	} else {
		var smtpErrs ValidationErrors
		smtp, smtpErrs = validateSMTP(req.smtp())
		errs = append(errs, smtpErrs...)
	}

	if len(errs) > 0 {
		return nil, errs
	}

	timezone := strings.TrimSpace(req.Timezone)
	if timezone == "" {
		timezone = time.Local.String()
	}

	nextRun := sendTime
	t := &task.Task{
		ID:         uuid.NewString(),
		Name:       name,
		Recipients: recipients,
		Subject:    subject,
		Body:       body,
		SendTime:   sendTime,
		NextRunAt:  &nextRun,
		Timezone:   timezone,
		Status:     task.StatusScheduled,
		SMTP:       smtp,
		WebhookURL: strings.TrimSpace(req.WebhookURL),
		CreatedAt:  now,
	}
	if recurring {
		t.IsRecurring = true
		t.RecurrenceValue = &value
		t.RecurrenceUnit = &unit
	}

	created, err := s.store.Insert(ctx, t)
	if err != nil {
		return nil, err
	}
	s.log.Info().Str("task", created.ID).Str("name", created.Name).Time("next_run", *created.NextRunAt).Msg("task created")
	return created, nil
}

// Update validates the supplied fields and merges them into the task.
// Updating sendTime resets nextRunAt to the new value.
func (s *Service) Update(ctx context.Context, id string, req UpdateRequest) (*task.Task, error) {
	current, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	var errs ValidationErrors
	var p store.Patch
	now := s.now().UTC()

	if req.Name != nil {
		if name := strings.TrimSpace(*req.Name); name != "" {
			p.Name = &name
		}
	}

	if req.Recipients != nil {
		recipients := normalizeRecipients(*req.Recipients)
		if len(recipients) == 0 {
			errs = append(errs, msgRecipientsRequired)
		} else {
			p.Recipients = recipients
		}
	}

	if req.Subject != nil {
		subject := strings.TrimSpace(*req.Subject)
		if subject == "" {
			errs = append(errs, msgSubjectRequired)
		} else {
			p.Subject = &subject
		}
	}

	if req.Body != nil {
		body := strings.TrimSpace(*req.Body)
		if body == "" {
			errs = append(errs, msgBodyRequired)
		} else {
			p.Body = &body
		}
	}

	if req.SendTime != nil {
		sendTime, ok := parseSendTime(*req.SendTime)
		switch {
		case !ok:
			errs = append(errs, msgSendTimeInvalid)
		case sendTime.Before(now.Add(-time.Minute)):
			errs = append(errs, msgSendTimePast)
		default:
			p.SendTime = &sendTime
			p.NextRunAt = &sendTime
		}
	}

	if req.IsRecurring != nil || req.RecurrenceValue != nil || req.RecurrenceUnit != nil {
		shouldLoop := current.IsRecurring
		if req.IsRecurring != nil {
			shouldLoop = *req.IsRecurring
		}
		value := 0
		if current.RecurrenceValue != nil {
			value = *current.RecurrenceValue
		}
		if req.RecurrenceValue != nil {
			value = *req.RecurrenceValue
		}
		unit := ""
		if current.RecurrenceUnit != nil {
			unit = string(*current.RecurrenceUnit)
		}
		if req.RecurrenceUnit != nil {
			unit = *req.RecurrenceUnit
		}

		recurring, v, u, recErrs := validateRecurrence(shouldLoop, value, unit)
		if len(recErrs) > 0 {
			errs = append(errs, recErrs...)
		} else {
			p.IsRecurring = &recurring
			if recurring {
				p.RecurrenceValue = &v
				p.RecurrenceUnit = &u
			}
		}
	}

	if req.Timezone != nil {
		if tz := strings.TrimSpace(*req.Timezone); tz != "" {
			p.Timezone = &tz
		}
	}

	if req.smtp() != nil {
		smtp, smtpErrs := validateSMTP(req.smtp())
		if len(smtpErrs) > 0 {
			errs = append(errs, smtpErrs...)
		} else {
			p.SMTP = smtp
		}
	}

	if req.WebhookURL != nil {
		url := strings.TrimSpace(*req.WebhookURL)
		p.WebhookURL = &url
	}

	if len(errs) > 0 {
		return nil, errs
	}

	return s.store.Update(ctx, id, p)
}

// Delete removes a task. The scheduler simply stops seeing it on the next
// scan; an in-flight dispatch for it completes and its final update fails
// with NotFound, which the tick tolerates.
func (s *Service) Delete(ctx context.Context, id string) error {
	_, err := s.store.Remove(ctx, id)
	if err == nil {
		s.log.Info().Str("task", id).Msg("task deleted")
	}
	return err
}

// ModifyRecipients adds or removes one recipient address. The merge into
// the current set happens inside the store, so two concurrent edits to the
// same task both land.
func (s *Service) ModifyRecipients(ctx context.Context, id, action, email string) (*task.Task, error) {
	email = strings.TrimSpace(email)
	if !validEmail(email) {
		return nil, ValidationErrors{msgEmailInvalid}
	}

	var p store.Patch
	switch action {
	case "add":
		p.AddRecipient = email
	case "remove":
		p.RemoveRecipient = email
	default:
		return nil, ValidationErrors{"action must be add or remove"}
	}

	updated, err := s.store.Update(ctx, id, p)
	if errors.Is(err, store.ErrDuplicateRecipient) || errors.Is(err, store.ErrLastRecipient) {
		return nil, ValidationErrors{err.Error()}
	}
	return updated, err
}

// SendNow triggers the manual transition path for one task. A transport
// failure is returned to the caller and is already recorded on the task.
func (s *Service) SendNow(ctx context.Context, id string) (*task.Task, error) {
	t, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if t.SMTP == nil {
		return nil, ErrNoSMTP
	}
	return s.sched.RunNow(ctx, id)
}
