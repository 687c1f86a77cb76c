package tasks

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"mailcron/internal/scheduler"
	"mailcron/internal/store"
	"mailcron/internal/task"
)

type noopDispatcher struct{}

func (noopDispatcher) Send(ctx context.Context, t *task.Task) error { return nil }

func newService(t *testing.T) (*Service, store.Store) {
	t.Helper()
	st, err := store.Open(store.Config{
		Driver: "file",
		Path:   filepath.Join(t.TempDir(), "tasks.json"),
	}, zerolog.Nop())
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	sched := scheduler.New(st, noopDispatcher{}, nil, scheduler.Config{}, zerolog.Nop())
	svc := New(st, sched, zerolog.Nop())
	svc.now = func() time.Time { return time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC) }
	return svc, st
}

func validCreate() CreateRequest {
	return CreateRequest{
		Name:       "Launch notice",
		Recipients: StringList{"a@example.com", "b@example.com"},
		Subject:    "Launch",
		Body:       "We ship today.",
		SendTime:   "2024-06-02T09:00:00Z",
		SMTP: &SMTPRequest{
			Host: "smtp.example.com",
			User: "mailer@example.com",
			Pass: "secret",
		},
	}
}

func TestCreate(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, validCreate())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if created.ID == "" {
		t.Fatal("Create did not assign an id")
	}
	if created.Status != task.StatusScheduled {
		t.Fatalf("status = %q, want scheduled", created.Status)
	}
	want := time.Date(2024, 6, 2, 9, 0, 0, 0, time.UTC)
	if !created.SendTime.Equal(want) {
		t.Fatalf("SendTime = %v, want %v", created.SendTime, want)
	}
	if created.NextRunAt == nil || !created.NextRunAt.Equal(want) {
		t.Fatalf("NextRunAt = %v, want %v", created.NextRunAt, want)
	}
	if created.SMTP == nil {
		t.Fatal("transport settings missing")
	}
	if created.SMTP.Port != 587 {
		t.Fatalf("smtp port = %d, want default 587", created.SMTP.Port)
	}
	if created.SMTP.From != "mailer@example.com" {
		t.Fatalf("smtp from = %q, want the username fallback", created.SMTP.From)
	}
	if created.Timezone == "" {
		t.Fatal("timezone not defaulted")
	}
}

func TestCreateDefaultsName(t *testing.T) {
	svc, _ := newService(t)

	req := validCreate()
	req.Name = "   "
	created, err := svc.Create(context.Background(), req)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if created.Name != "Email task" {
		t.Fatalf("name = %q, want the default", created.Name)
	}
}

func TestCreateRejectsInvalidRequests(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*CreateRequest)
		wantMsg string
	}{
		{
			name:    "no recipients",
			mutate:  func(r *CreateRequest) { r.Recipients = nil },
			wantMsg: msgRecipientsRequired,
		},
		{
			name:    "recipients without addresses",
			mutate:  func(r *CreateRequest) { r.Recipients = StringList{"  ", "not-an-address"} },
			wantMsg: msgRecipientsRequired,
		},
		{
			name:    "empty subject",
			mutate:  func(r *CreateRequest) { r.Subject = " " },
			wantMsg: msgSubjectRequired,
		},
		{
			name:    "empty body",
			mutate:  func(r *CreateRequest) { r.Body = "" },
			wantMsg: msgBodyRequired,
		},
		{
			name:    "garbage send time",
			mutate:  func(r *CreateRequest) { r.SendTime = "tomorrow-ish" },
			wantMsg: msgSendTimeInvalid,
		},
		{
			name:    "send time in the past",
			mutate:  func(r *CreateRequest) { r.SendTime = "2024-06-01T10:00:00Z" },
			wantMsg: msgSendTimePast,
		},
		{
			name: "recurring without value",
			mutate: func(r *CreateRequest) {
				r.IsRecurring = true
				r.RecurrenceUnit = "days"
			},
			wantMsg: msgRecurrenceIncomplete,
		},
		{
			name: "recurring with unknown unit",
			mutate: func(r *CreateRequest) {
				r.IsRecurring = true
				r.RecurrenceValue = 2
				r.RecurrenceUnit = "fortnights"
			},
			wantMsg: msgRecurrenceUnit,
		},
		{
			name:    "no transport",
			mutate:  func(r *CreateRequest) { r.SMTP = nil },
			wantMsg: msgSMTPHostRequired,
		},
		{
			name:    "transport without credentials",
			mutate:  func(r *CreateRequest) { r.SMTP.Pass = "" },
			wantMsg: msgSMTPAuthRequired,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, st := newService(t)
			req := validCreate()
			tt.mutate(&req)

			_, err := svc.Create(context.Background(), req)
			var verrs ValidationErrors
			if !errors.As(err, &verrs) {
				t.Fatalf("Create error = %v, want ValidationErrors", err)
			}
			if !strings.Contains(verrs.Error(), tt.wantMsg) {
				t.Fatalf("errors %q do not mention %q", verrs.Error(), tt.wantMsg)
			}
			if got := st.List(context.Background()); len(got) != 0 {
				t.Fatalf("rejected request persisted %d tasks", len(got))
			}
		})
	}
}

func TestCreateCollectsAllErrors(t *testing.T) {
	svc, _ := newService(t)

	req := validCreate()
	req.Recipients = nil
	req.Subject = ""
	req.Body = ""

	_, err := svc.Create(context.Background(), req)
	var verrs ValidationErrors
	if !errors.As(err, &verrs) {
		t.Fatalf("Create error = %v, want ValidationErrors", err)
	}
	if len(verrs) != 3 {
		t.Fatalf("got %d errors (%q), want all 3 reported at once", len(verrs), verrs.Error())
	}
}

func TestCreateLegacySMTPAlias(t *testing.T) {
	svc, _ := newService(t)

	req := validCreate()
	req.SMTPConfig = req.SMTP
	req.SMTP = nil

	created, err := svc.Create(context.Background(), req)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if created.SMTP == nil || created.SMTP.Host != "smtp.example.com" {
		t.Fatalf("legacy smtpConfig field ignored: %+v", created.SMTP)
	}
}

func TestUpdateSendTimeResetsNextRun(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, validCreate())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	newTime := "2024-06-03T15:00:00Z"
	updated, err := svc.Update(ctx, created.ID, UpdateRequest{SendTime: &newTime})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	want := time.Date(2024, 6, 3, 15, 0, 0, 0, time.UTC)
	if !updated.SendTime.Equal(want) {
		t.Fatalf("SendTime = %v, want %v", updated.SendTime, want)
	}
	if updated.NextRunAt == nil || !updated.NextRunAt.Equal(want) {
		t.Fatalf("NextRunAt = %v, want reset to %v", updated.NextRunAt, want)
	}
}

func TestUpdateMergesRecurrenceWithCurrent(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	req := validCreate()
	req.IsRecurring = true
	req.RecurrenceValue = 2
	req.RecurrenceUnit = "days"
	created, err := svc.Create(ctx, req)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	// Changing only the unit keeps the current value.
	unit := "weeks"
	updated, err := svc.Update(ctx, created.ID, UpdateRequest{RecurrenceUnit: &unit})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if !updated.IsRecurring || updated.RecurrenceValue == nil || *updated.RecurrenceValue != 2 {
		t.Fatalf("value not carried over: %+v", updated)
	}
	if updated.RecurrenceUnit == nil || *updated.RecurrenceUnit != task.UnitWeeks {
		t.Fatalf("unit = %v, want weeks", updated.RecurrenceUnit)
	}

	// Turning recurrence off drops the rule entirely.
	off := false
	updated, err = svc.Update(ctx, created.ID, UpdateRequest{IsRecurring: &off})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if updated.IsRecurring || updated.RecurrenceValue != nil || updated.RecurrenceUnit != nil {
		t.Fatalf("rule not dropped: %+v", updated)
	}
}

func TestUpdateRejectsEmptyFields(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, validCreate())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	empty := "  "
	_, err = svc.Update(ctx, created.ID, UpdateRequest{Subject: &empty})
	var verrs ValidationErrors
	if !errors.As(err, &verrs) {
		t.Fatalf("Update error = %v, want ValidationErrors", err)
	}

	got, err := svc.Get(ctx, created.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Subject != "Launch" {
		t.Fatalf("rejected update mutated subject: %q", got.Subject)
	}
}

func TestUpdateUnknownTask(t *testing.T) {
	svc, _ := newService(t)
	name := "x"
	if _, err := svc.Update(context.Background(), "nope", UpdateRequest{Name: &name}); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("Update error = %v, want ErrNotFound", err)
	}
}

func TestModifyRecipients(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, validCreate())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := svc.ModifyRecipients(ctx, created.ID, "add", "c@example.com")
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if len(got.Recipients) != 3 {
		t.Fatalf("recipients = %v, want 3 entries", got.Recipients)
	}

	if _, err := svc.ModifyRecipients(ctx, created.ID, "add", "c@example.com"); err == nil {
		t.Fatal("expected duplicate add to fail")
	}
	if _, err := svc.ModifyRecipients(ctx, created.ID, "add", "not-an-address"); err == nil {
		t.Fatal("expected invalid address to fail")
	}

	got, err = svc.ModifyRecipients(ctx, created.ID, "remove", "c@example.com")
	if err != nil {
		t.Fatalf("remove: %v", err)
	}
	if len(got.Recipients) != 2 {
		t.Fatalf("recipients = %v, want 2 entries", got.Recipients)
	}

	if _, err := svc.ModifyRecipients(ctx, created.ID, "remove", "a@example.com"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	// Removing the last recipient is refused.
	if _, err := svc.ModifyRecipients(ctx, created.ID, "remove", "b@example.com"); err == nil {
		t.Fatal("expected removing the last recipient to fail")
	}
}

func TestSendNowWithoutTransport(t *testing.T) {
	svc, st := newService(t)
	ctx := context.Background()

	when := time.Date(2024, 6, 2, 9, 0, 0, 0, time.UTC)
	bare := &task.Task{
		ID:         "bare",
		Name:       "No transport",
		Recipients: []string{"a@example.com"},
		Subject:    "s",
		Body:       "b",
		SendTime:   when,
		NextRunAt:  &when,
		Status:     task.StatusScheduled,
	}
	if _, err := st.Insert(ctx, bare); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	if _, err := svc.SendNow(ctx, "bare"); !errors.Is(err, ErrNoSMTP) {
		t.Fatalf("SendNow error = %v, want ErrNoSMTP", err)
	}
	if _, err := svc.SendNow(ctx, "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("SendNow error = %v, want ErrNotFound", err)
	}
}

func TestSendNowDispatches(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, validCreate())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := svc.SendNow(ctx, created.ID)
	if err != nil {
		t.Fatalf("SendNow: %v", err)
	}
	if got.Status != task.StatusSent || got.LastSentAt == nil {
		t.Fatalf("task not marked sent: %+v", got)
	}
}

func TestDelete(t *testing.T) {
	svc, st := newService(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, validCreate())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := svc.Delete(ctx, created.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := st.Get(ctx, created.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("Get after delete = %v, want ErrNotFound", err)
	}
	if err := svc.Delete(ctx, created.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("second Delete = %v, want ErrNotFound", err)
	}
}

func TestStringListUnmarshal(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want int
	}{
		{"array", `["a@example.com","b@example.com"]`, 2},
		{"comma string", `"a@example.com,b@example.com"`, 2},
		{"single string", `"a@example.com"`, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var l StringList
			if err := l.UnmarshalJSON([]byte(tt.in)); err != nil {
				t.Fatalf("UnmarshalJSON: %v", err)
			}
			if len(l) != tt.want {
				t.Fatalf("got %v, want %d entries", l, tt.want)
			}
		})
	}
}

func TestValidateSMTPNestedAuth(t *testing.T) {
	cfg, errs := validateSMTP(&SMTPRequest{
		Host: "smtp.example.com",
		Auth: &struct {
			User string `json:"user"`
			Pass string `json:"pass"`
		}{User: "u@example.com", Pass: "secret"},
	})
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	if cfg.User != "u@example.com" || cfg.Pass != "secret" {
		t.Fatalf("nested auth not lifted: %+v", cfg)
	}
	if cfg.From != "u@example.com" {
		t.Fatalf("from = %q, want the username fallback", cfg.From)
	}
}
