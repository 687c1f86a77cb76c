package tasks

import (
	"encoding/json"
	"regexp"
	"strings"
	"time"

	"mailcron/internal/task"
)

// ValidationErrors collects every problem with a request so the caller sees
// them all at once. Nothing is persisted while the list is non-empty.
type ValidationErrors []string

func (v ValidationErrors) Error() string { return strings.Join(v, "; ") }

const (
	msgRecipientsRequired   = "at least one valid recipient is required"
	msgSubjectRequired      = "subject must not be empty"
	msgBodyRequired         = "body must not be empty"
	msgSendTimeInvalid      = "send time is not a valid timestamp"
	msgSendTimePast         = "send time must be in the future"
	msgRecurrenceIncomplete = "recurrence settings are incomplete"
	msgRecurrenceUnit       = "recurrence unit is not supported"
	msgSMTPHostRequired     = "smtp host must not be empty"
	msgSMTPPortInvalid      = "smtp port is invalid"
	msgSMTPAuthRequired     = "smtp username and password are required"
	msgEmailInvalid         = "not a valid email address"
)

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// StringList accepts either a JSON array of strings or one comma-separated
// string, matching the original wire format.
type StringList []string

func (l *StringList) UnmarshalJSON(data []byte) error {
	var arr []string
	if err := json.Unmarshal(data, &arr); err == nil {
		*l = arr
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*l = strings.Split(s, ",")
	return nil
}

// SMTPRequest is the wire shape of transport settings. Credentials are
// accepted both flat and nested under "auth".
type SMTPRequest struct {
	Host   string `json:"host"`
	Port   int    `json:"port"`
	Secure bool   `json:"secure"`
	From   string `json:"from"`
	User   string `json:"user"`
	Pass   string `json:"pass"`
	Auth   *struct {
		User string `json:"user"`
		Pass string `json:"pass"`
	} `json:"auth"`
}

// CreateRequest carries the fields of a new task.
type CreateRequest struct {
	Name            string       `json:"name"`
	Recipients      StringList   `json:"recipients"`
	Subject         string       `json:"subject"`
	Body            string       `json:"body"`
	SendTime        string       `json:"sendTime"`
	IsRecurring     bool         `json:"isRecurring"`
	RecurrenceValue int          `json:"recurrenceValue"`
	RecurrenceUnit  string       `json:"recurrenceUnit"`
	Timezone        string       `json:"timezone"`
	SMTP            *SMTPRequest `json:"smtp"`
	SMTPConfig      *SMTPRequest `json:"smtpConfig"` // legacy alias for smtp
	WebhookURL      string       `json:"webhookUrl"`
}

// UpdateRequest is a partial update; nil fields are left untouched.
type UpdateRequest struct {
	Name            *string      `json:"name"`
	Recipients      *StringList  `json:"recipients"`
	Subject         *string      `json:"subject"`
	Body            *string      `json:"body"`
	SendTime        *string      `json:"sendTime"`
	IsRecurring     *bool        `json:"isRecurring"`
	RecurrenceValue *int         `json:"recurrenceValue"`
	RecurrenceUnit  *string      `json:"recurrenceUnit"`
	Timezone        *string      `json:"timezone"`
	SMTP            *SMTPRequest `json:"smtp"`
	SMTPConfig      *SMTPRequest `json:"smtpConfig"`
	WebhookURL      *string      `json:"webhookUrl"`
}

func (r *CreateRequest) smtp() *SMTPRequest {
	if r.SMTP != nil {
		return r.SMTP
	}
	return r.SMTPConfig
}

func (r *UpdateRequest) smtp() *SMTPRequest {
	if r.SMTP != nil {
		return r.SMTP
	}
	return r.SMTPConfig
}

// normalizeRecipients trims entries and drops anything that does not look
// like an address.
func normalizeRecipients(raw []string) []string {
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		r = strings.TrimSpace(r)
		if r != "" && strings.Contains(r, "@") {
			out = append(out, r)
		}
	}
	return out
}

func validEmail(s string) bool {
	return emailPattern.MatchString(s)
}

// parseSendTime parses an RFC 3339 instant and normalizes it to UTC.
func parseSendTime(v string) (time.Time, bool) {
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, false
	}
	return t.UTC(), true
}

// validateSMTP checks a transport config for completeness. The sender
// defaults to the username when absent.
func validateSMTP(req *SMTPRequest) (*task.SMTPConfig, ValidationErrors) {
	var errs ValidationErrors

	host := strings.TrimSpace(req.Host)
	port := req.Port
	if port == 0 {
		port = 587
	}
	user := strings.TrimSpace(req.User)
	pass := strings.TrimSpace(req.Pass)
	if req.Auth != nil {
		if user == "" {
			user = strings.TrimSpace(req.Auth.User)
		}
		if pass == "" {
			pass = strings.TrimSpace(req.Auth.Pass)
		}
	}
	from := strings.TrimSpace(req.From)
	if from == "" {
		from = user
	}

	if host == "" {
		errs = append(errs, msgSMTPHostRequired)
	}
	if port <= 0 {
		errs = append(errs, msgSMTPPortInvalid)
	}
	if user == "" || pass == "" {
		errs = append(errs, msgSMTPAuthRequired)
	}
	if len(errs) > 0 {
		return nil, errs
	}

	return &task.SMTPConfig{
		Host:   host,
		Port:   port,
		Secure: req.Secure,
		From:   from,
		User:   user,
		Pass:   pass,
	}, nil
}

// validateRecurrence applies the original's rule: a task is recurring only
// when the flag is set and the value is positive; a set flag with an
// incomplete rule is an error.
func validateRecurrence(shouldLoop bool, value int, unit string) (recurring bool, v int, u task.Unit, errs ValidationErrors) {
	if !shouldLoop {
		return false, 0, "", nil
	}
	if value <= 0 {
		return false, 0, "", ValidationErrors{msgRecurrenceIncomplete}
	}
	u = task.Unit(unit)
	if !task.ValidUnit(u) {
		return false, 0, "", ValidationErrors{msgRecurrenceUnit}
	}
	return true, value, u, nil
}
